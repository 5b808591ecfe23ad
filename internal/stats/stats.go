// Package stats summarises a decoded schedule.
package stats

import (
	"github.com/signalsfoundry/jobshop-planner/core"
	"github.com/signalsfoundry/jobshop-planner/model"
)

// MachineStats describes the load on one machine.
type MachineStats struct {
	MachineID   string  `json:"machine_id"`
	BusyMinutes int     `json:"busy_minutes"`
	Operations  int     `json:"operations"`
	Utilization float64 `json:"utilization"`
}

// UtilizationPercent returns Utilization scaled to 0..100.
func (m MachineStats) UtilizationPercent() float64 {
	return m.Utilization * 100
}

// JobStats describes one job's outcome.
type JobStats struct {
	JobID             string `json:"job_id"`
	Completion        int    `json:"completion"`
	Span              int    `json:"span"`
	Tardiness         int    `json:"tardiness"`
	WeightedTardiness int    `json:"weighted_tardiness"`
	Operations        int    `json:"operations"`
}

// Statistics is the full summary. Machines and Jobs follow domain order.
type Statistics struct {
	Makespan               int            `json:"makespan"`
	TotalJobs              int            `json:"total_jobs"`
	Machines               []MachineStats `json:"machines"`
	Jobs                   []JobStats     `json:"jobs"`
	TotalBusyMinutes       int            `json:"total_busy_minutes"`
	TotalTardiness         int            `json:"total_tardiness"`
	TotalWeightedTardiness int            `json:"total_weighted_tardiness"`
	LateJobs               int            `json:"late_jobs"`
}

// Machine looks up the entry for id.
func (s Statistics) Machine(id string) (MachineStats, bool) {
	for _, m := range s.Machines {
		if m.MachineID == id {
			return m, true
		}
	}
	return MachineStats{}, false
}

// Job looks up the entry for id.
func (s Statistics) Job(id string) (JobStats, bool) {
	for _, j := range s.Jobs {
		if j.JobID == id {
			return j, true
		}
	}
	return JobStats{}, false
}

// Calculate derives Statistics from a schedule. Utilization is busy time
// over makespan and is 0 for an empty schedule. Operations whose job or
// machine is not in the domain are ignored.
func Calculate(d *core.Domain, s *model.Schedule) Statistics {
	out := Statistics{
		Makespan:  s.Makespan(),
		TotalJobs: d.NumJobs(),
	}

	for _, m := range d.Machines() {
		ms := MachineStats{MachineID: m.ID}
		for _, op := range s.ForMachine(m.ID) {
			ms.BusyMinutes += op.Duration()
			ms.Operations++
		}
		if out.Makespan > 0 {
			ms.Utilization = float64(ms.BusyMinutes) / float64(out.Makespan)
		}
		out.TotalBusyMinutes += ms.BusyMinutes
		out.Machines = append(out.Machines, ms)
	}

	for _, j := range d.Jobs() {
		js := JobStats{JobID: j.ID}
		ops := s.ForJob(j.ID)
		if len(ops) > 0 {
			first := ops[0].Start
			for _, op := range ops {
				if op.End > js.Completion {
					js.Completion = op.End
				}
				if op.Start < first {
					first = op.Start
				}
			}
			js.Span = js.Completion - first
			js.Operations = len(ops)
			js.Tardiness = max(0, js.Completion-j.DueDate)
			js.WeightedTardiness = js.Tardiness * j.Priority
		}
		out.TotalTardiness += js.Tardiness
		out.TotalWeightedTardiness += js.WeightedTardiness
		if js.Tardiness > 0 {
			out.LateJobs++
		}
		out.Jobs = append(out.Jobs, js)
	}

	return out
}
