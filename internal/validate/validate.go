// Package validate re-derives every scheduling rule from the domain alone
// and checks a schedule against it. It does not look at the constraint
// model, so a builder defect shows up here instead of being trusted.
package validate

import (
	"fmt"
	"slices"

	"github.com/signalsfoundry/jobshop-planner/core"
	"github.com/signalsfoundry/jobshop-planner/model"
)

// Kind classifies an Issue.
type Kind string

const (
	KindUnknownJob         Kind = "unknown_job"
	KindMissingOperation   Kind = "missing_operation"
	KindDuplicateOperation Kind = "duplicate_operation"
	KindOperationMismatch  Kind = "operation_mismatch"
	KindPrecedence         Kind = "precedence"
	KindRelease            Kind = "release"
	KindInvalidInterval    Kind = "invalid_interval"
	KindUnknownMachine     Kind = "unknown_machine"
	KindCapability         Kind = "capability"
	KindDurationMismatch   Kind = "duration_mismatch"
	KindOverlap            Kind = "overlap"
	KindHorizon            Kind = "horizon"
)

// Kinds lists every issue kind in report order.
var Kinds = []Kind{
	KindUnknownJob, KindMissingOperation, KindDuplicateOperation, KindOperationMismatch,
	KindPrecedence, KindRelease,
	KindInvalidInterval, KindUnknownMachine, KindCapability, KindDurationMismatch,
	KindOverlap, KindHorizon,
}

// Issue is one violated rule.
type Issue struct {
	Kind      Kind   `json:"kind"`
	JobID     string `json:"job_id,omitempty"`
	Position  int    `json:"operation_index"`
	MachineID string `json:"machine_id,omitempty"`
	Message   string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Kind, i.Message)
}

type opKey struct {
	job string
	pos int
}

// Validate checks s against d and a horizon in minutes (0 disables the
// horizon check). It reports every issue it finds; the schedule is valid
// exactly when the returned slice is empty.
func Validate(d *core.Domain, s *model.Schedule, horizon int) (bool, []Issue) {
	var issues []Issue
	add := func(i Issue) { issues = append(issues, i) }

	var ops []model.ScheduledOperation
	if s != nil {
		ops = s.Operations()
	}

	// Structure: every domain operation appears once with the right type.
	var unknown, missing, dups, mismatched []Issue
	seen := make(map[opKey]model.ScheduledOperation, len(ops))
	for _, op := range ops {
		job, ok := d.Job(op.JobID)
		if !ok {
			unknown = append(unknown, Issue{Kind: KindUnknownJob, JobID: op.JobID, Position: op.OperationIndex,
				Message: fmt.Sprintf("job %q is not in the domain", op.JobID)})
			continue
		}
		k := opKey{op.JobID, op.OperationIndex}
		if _, dup := seen[k]; dup {
			dups = append(dups, Issue{Kind: KindDuplicateOperation, JobID: op.JobID, Position: op.OperationIndex,
				Message: fmt.Sprintf("job %q operation %d scheduled more than once", op.JobID, op.OperationIndex)})
			continue
		}
		if op.OperationIndex < 0 || op.OperationIndex >= len(job.Operations) {
			mismatched = append(mismatched, Issue{Kind: KindOperationMismatch, JobID: op.JobID, Position: op.OperationIndex,
				Message: fmt.Sprintf("job %q has no operation %d", op.JobID, op.OperationIndex)})
			continue
		}
		if want := job.Operations[op.OperationIndex]; op.Operation != want {
			mismatched = append(mismatched, Issue{Kind: KindOperationMismatch, JobID: op.JobID, Position: op.OperationIndex,
				Message: fmt.Sprintf("job %q operation %d is %s, scheduled as %s", op.JobID, op.OperationIndex, want, op.Operation)})
		}
		seen[k] = op
	}
	for _, job := range d.Jobs() {
		for pos := range job.Operations {
			if _, ok := seen[opKey{job.ID, pos}]; !ok {
				missing = append(missing, Issue{Kind: KindMissingOperation, JobID: job.ID, Position: pos,
					Message: fmt.Sprintf("job %q operation %d (%s) is not scheduled", job.ID, pos, job.Operations[pos])})
			}
		}
	}
	issues = append(issues, unknown...)
	issues = append(issues, missing...)
	issues = append(issues, dups...)
	issues = append(issues, mismatched...)

	// Per job: precedence between consecutive placed operations and release.
	for _, job := range d.Jobs() {
		first, hasFirst := seen[opKey{job.ID, 0}]
		if hasFirst && first.Start < job.ReleaseDate {
			add(Issue{Kind: KindRelease, JobID: job.ID, Position: 0, MachineID: first.MachineID,
				Message: fmt.Sprintf("job %q starts at %d before its release %d", job.ID, first.Start, job.ReleaseDate)})
		}
		for pos := 0; pos+1 < len(job.Operations); pos++ {
			cur, ok1 := seen[opKey{job.ID, pos}]
			next, ok2 := seen[opKey{job.ID, pos + 1}]
			if !ok1 || !ok2 {
				continue
			}
			if cur.End > next.Start {
				add(Issue{Kind: KindPrecedence, JobID: job.ID, Position: pos + 1, MachineID: next.MachineID,
					Message: fmt.Sprintf("job %q operation %d starts at %d before operation %d ends at %d",
						job.ID, pos+1, next.Start, pos, cur.End)})
			}
		}
	}

	// Per operation: interval sanity, machine existence, capability, duration.
	for _, op := range ops {
		if first, ok := seen[opKey{op.JobID, op.OperationIndex}]; !ok || first != op {
			continue
		}
		if op.Start < 0 || op.End < op.Start {
			add(Issue{Kind: KindInvalidInterval, JobID: op.JobID, Position: op.OperationIndex, MachineID: op.MachineID,
				Message: fmt.Sprintf("interval [%d,%d) is invalid", op.Start, op.End)})
		}
		m, ok := d.Machine(op.MachineID)
		if !ok {
			add(Issue{Kind: KindUnknownMachine, JobID: op.JobID, Position: op.OperationIndex, MachineID: op.MachineID,
				Message: fmt.Sprintf("machine %q is not in the domain", op.MachineID)})
			continue
		}
		if !m.CanPerform(op.Operation) {
			add(Issue{Kind: KindCapability, JobID: op.JobID, Position: op.OperationIndex, MachineID: op.MachineID,
				Message: fmt.Sprintf("machine %q cannot perform %s", op.MachineID, op.Operation)})
			continue
		}
		if want := d.EffectiveDuration(op.Operation, m); op.End-op.Start != want {
			add(Issue{Kind: KindDurationMismatch, JobID: op.JobID, Position: op.OperationIndex, MachineID: op.MachineID,
				Message: fmt.Sprintf("duration %d on %s, want %d", op.End-op.Start, op.MachineID, want)})
		}
	}

	// Per machine: every overlapping pair. Zero-length placements occupy
	// nothing.
	for _, m := range d.Machines() {
		var onMachine []model.ScheduledOperation
		for _, op := range ops {
			if op.MachineID == m.ID {
				onMachine = append(onMachine, op)
			}
		}
		slices.SortStableFunc(onMachine, func(a, b model.ScheduledOperation) int {
			if a.Start != b.Start {
				return a.Start - b.Start
			}
			return a.End - b.End
		})
		for i := range onMachine {
			for j := i + 1; j < len(onMachine); j++ {
				a, b := onMachine[i], onMachine[j]
				if b.Start >= a.End {
					break
				}
				if a.Start >= a.End || b.Start >= b.End {
					continue
				}
				add(Issue{Kind: KindOverlap, JobID: b.JobID, Position: b.OperationIndex, MachineID: m.ID,
					Message: fmt.Sprintf("%s[%d] [%d,%d) overlaps %s[%d] [%d,%d) on %s",
						a.JobID, a.OperationIndex, a.Start, a.End, b.JobID, b.OperationIndex, b.Start, b.End, m.ID)})
			}
		}
	}

	if horizon > 0 {
		for _, op := range ops {
			if op.End > horizon {
				add(Issue{Kind: KindHorizon, JobID: op.JobID, Position: op.OperationIndex, MachineID: op.MachineID,
					Message: fmt.Sprintf("ends at %d past horizon %d", op.End, horizon)})
			}
		}
	}

	return len(issues) == 0, issues
}

// CountByKind tallies issues per kind.
func CountByKind(issues []Issue) map[Kind]int {
	out := make(map[Kind]int)
	for _, i := range issues {
		out[i.Kind]++
	}
	return out
}
