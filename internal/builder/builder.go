// Package builder turns a core.Domain into a cpmodel.Model: one presence
// literal and one optional interval per (operation, candidate machine),
// followed by assignment, release, precedence and machine constraints and
// a makespan objective.
package builder

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/jobshop-planner/core"
	"github.com/signalsfoundry/jobshop-planner/internal/cpmodel"
	"github.com/signalsfoundry/jobshop-planner/internal/logging"
	"github.com/signalsfoundry/jobshop-planner/model"
)

// Candidate is one (operation, machine) alternative and its variables.
type Candidate struct {
	MachineID string
	Duration  int
	Presence  cpmodel.BoolVar
	Start     cpmodel.IntVar
	End       cpmodel.IntVar
	Interval  cpmodel.IntervalVar
}

// Task is one operation instance in job order then position order.
type Task struct {
	JobID      string
	Position   int
	Operation  model.OperationType
	Candidates []Candidate
}

// Built is a model together with the index the decoder needs to read an
// assignment back.
type Built struct {
	Model    *cpmodel.Model
	Config   Config
	Tasks    []Task
	Makespan cpmodel.IntVar
	// Tardiness holds one variable per job with positive priority when a
	// secondary objective is configured.
	Tardiness map[string]cpmodel.IntVar
}

// Builder constructs models. The zero value is usable.
type Builder struct {
	Log logging.Logger
}

// Build is shorthand for a Builder without logging.
func Build(d *core.Domain, cfg Config) (*Built, error) {
	return (&Builder{}).Build(context.Background(), d, cfg)
}

// Build validates the domain against cfg and emits the model. Input
// problems are reported before any variable is created.
func (b *Builder) Build(ctx context.Context, d *core.Domain, cfg Config) (*Built, error) {
	log := b.Log
	if log == nil {
		log = logging.Noop()
	}
	if d == nil || d.NumJobs() == 0 {
		return nil, core.ErrEmptyJobList
	}
	if d.NumMachines() == 0 {
		return nil, core.ErrEmptyMachineList
	}
	if err := d.CheckCapabilities(); err != nil {
		return nil, err
	}
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	if err := checkHorizon(d, cfg.Horizon); err != nil {
		return nil, err
	}

	insts, err := d.OperationInstances()
	if err != nil {
		return nil, err
	}

	h := int64(cfg.Horizon)
	m := cpmodel.New(fmt.Sprintf("jobshop/%dj/%dm/h%d", d.NumJobs(), d.NumMachines(), cfg.Horizon))
	out := &Built{Model: m, Config: cfg, Tasks: make([]Task, 0, len(insts))}

	// Variables and intervals.
	for _, inst := range insts {
		task := Task{JobID: inst.JobID, Position: inst.Position, Operation: inst.Operation}
		for _, mc := range inst.Candidates {
			dur := d.EffectiveDuration(inst.Operation, mc)
			tag := fmt.Sprintf("%s/%d/%s", inst.JobID, inst.Position, mc.ID)
			p := m.NewBool("x/" + tag)
			s := m.NewInt(0, h, "start/"+tag)
			e := m.NewInt(0, h, "end/"+tag)
			iv := m.NewOptionalInterval(s, int64(dur), e, p, "iv/"+tag)
			task.Candidates = append(task.Candidates, Candidate{
				MachineID: mc.ID,
				Duration:  dur,
				Presence:  p,
				Start:     s,
				End:       e,
				Interval:  iv,
			})
		}
		out.Tasks = append(out.Tasks, task)
	}

	// 1. assignment completeness
	for _, t := range out.Tasks {
		lits := make([]cpmodel.BoolVar, len(t.Candidates))
		for i, c := range t.Candidates {
			lits[i] = c.Presence
		}
		m.AddExactlyOne(cpmodel.KindAssignment, fmt.Sprintf("assign/%s/%d", t.JobID, t.Position), lits...)
	}

	// 2. interval consistency is carried by the optional intervals.

	// 3. release: start ≥ release on every candidate, guarded by presence.
	g := d.Granularity()
	for _, t := range out.Tasks {
		job, _ := d.Job(t.JobID)
		rel := int64(core.AlignUp(job.ReleaseDate, g))
		if rel == 0 {
			continue
		}
		for _, c := range t.Candidates {
			m.AddLinearLE(cpmodel.KindRelease,
				fmt.Sprintf("release/%s/%d/%s", t.JobID, t.Position, c.MachineID),
				[]cpmodel.Term{{Var: c.Start, Coef: -1}}, -rel, c.Presence)
		}
	}

	// 4. precedence across every pair of candidate machines.
	for i := 1; i < len(out.Tasks); i++ {
		prev, next := out.Tasks[i-1], out.Tasks[i]
		if prev.JobID != next.JobID {
			continue
		}
		for _, a := range prev.Candidates {
			for _, c := range next.Candidates {
				m.AddLinearLE(cpmodel.KindPrecedence,
					fmt.Sprintf("prec/%s/%d/%s->%s", prev.JobID, prev.Position, a.MachineID, c.MachineID),
					[]cpmodel.Term{{Var: a.End, Coef: 1}, {Var: c.Start, Coef: -1}}, 0,
					a.Presence, c.Presence)
			}
		}
	}

	// 5. machine non-overlap, machines in domain order.
	for _, mc := range d.Machines() {
		var ivs []cpmodel.IntervalVar
		for _, t := range out.Tasks {
			for _, c := range t.Candidates {
				if c.MachineID == mc.ID {
					ivs = append(ivs, c.Interval)
				}
			}
		}
		if len(ivs) > 0 {
			m.AddNoOverlap("machine/"+mc.ID, ivs...)
		}
	}

	// 6. horizon: every start and end domain is [0, horizon].

	addObjective(d, out, h)

	sum := m.Summary()
	log.Debug(ctx, "constraint model built",
		logging.String("model", m.Name),
		logging.Int("tasks", len(out.Tasks)),
		logging.Int("bools", sum.Bools),
		logging.Int("ints", sum.Ints),
		logging.Int("intervals", sum.Intervals),
		logging.Int("constraints", sum.Constraints),
		logging.String("secondary", string(cfg.Secondary)),
	)
	return out, nil
}

func addObjective(d *core.Domain, out *Built, h int64) {
	m := out.Model
	cfg := out.Config

	out.Makespan = m.NewInt(0, h, "makespan")
	for i, t := range out.Tasks {
		if i+1 < len(out.Tasks) && out.Tasks[i+1].JobID == t.JobID {
			continue
		}
		for _, c := range t.Candidates {
			m.AddLinearLE(cpmodel.KindObjective,
				fmt.Sprintf("makespan/%s/%s", t.JobID, c.MachineID),
				[]cpmodel.Term{{Var: c.End, Coef: 1}, {Var: out.Makespan, Coef: -1}}, 0,
				c.Presence)
		}
	}

	makespanTerm := cpmodel.Term{Var: out.Makespan, Coef: 1}
	if cfg.Secondary == SecondaryNone {
		m.AddObjectiveLevel(cpmodel.LinearExpr{Terms: []cpmodel.Term{makespanTerm}})
		return
	}

	out.Tardiness = make(map[string]cpmodel.IntVar)
	var weighted []cpmodel.Term
	for i, t := range out.Tasks {
		if i+1 < len(out.Tasks) && out.Tasks[i+1].JobID == t.JobID {
			continue
		}
		job, _ := d.Job(t.JobID)
		if job.Priority == 0 {
			continue
		}
		tv := m.NewInt(0, h, "tardiness/"+t.JobID)
		out.Tardiness[t.JobID] = tv
		for _, c := range t.Candidates {
			// end - T ≤ due  ⇔  T ≥ end - due
			m.AddLinearLE(cpmodel.KindTardiness,
				fmt.Sprintf("tardiness/%s/%s", t.JobID, c.MachineID),
				[]cpmodel.Term{{Var: c.End, Coef: 1}, {Var: tv, Coef: -1}}, int64(job.DueDate),
				c.Presence)
		}
		weighted = append(weighted, cpmodel.Term{Var: tv, Coef: int64(job.Priority)})
	}

	switch cfg.Secondary {
	case SecondaryLexicographic:
		m.AddObjectiveLevel(cpmodel.LinearExpr{Terms: []cpmodel.Term{makespanTerm}})
		m.AddObjectiveLevel(cpmodel.LinearExpr{Terms: weighted})
	case SecondaryBlended:
		terms := append([]cpmodel.Term{{Var: out.Makespan, Coef: cfg.MakespanWeight}}, weighted...)
		m.AddObjectiveLevel(cpmodel.LinearExpr{Terms: terms})
	}
}

// checkHorizon rejects any job whose fastest chain, starting at its
// granularity-aligned release, cannot finish inside the horizon.
func checkHorizon(d *core.Domain, horizon int) error {
	g := d.Granularity()
	for _, j := range d.Jobs() {
		bound := core.AlignUp(j.ReleaseDate, g)
		for _, op := range j.Operations {
			fastest, err := d.MinEffectiveDuration(op)
			if err != nil {
				return err
			}
			bound += fastest
		}
		if bound > horizon {
			return &core.HorizonTooSmallError{JobID: j.ID, Horizon: horizon, LowerBound: bound}
		}
	}
	return nil
}
