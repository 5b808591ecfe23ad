// Package decode turns a solver outcome back into a model.Schedule.
package decode

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/jobshop-planner/core"
	"github.com/signalsfoundry/jobshop-planner/internal/builder"
	"github.com/signalsfoundry/jobshop-planner/internal/solver"
	"github.com/signalsfoundry/jobshop-planner/model"
)

var (
	// ErrInfeasible means the solver proved there is no schedule.
	ErrInfeasible = errors.New("no feasible schedule")
	// ErrTimedOut means the time budget ran out before any schedule was found.
	ErrTimedOut = errors.New("solve timed out without a schedule")
	// ErrDecodeInconsistency signals a builder or solver defect: the
	// assignment does not describe exactly one placement per operation.
	ErrDecodeInconsistency = errors.New("decode inconsistency")
)

// NoScheduleError reports an outcome that carries nothing to decode.
type NoScheduleError struct {
	Status solver.Status
	cause  error
}

func (e *NoScheduleError) Error() string {
	return fmt.Sprintf("%s (solver status %s)", e.cause, e.Status)
}

func (e *NoScheduleError) Unwrap() error { return e.cause }

// InconsistencyError pinpoints the operation whose decode failed.
type InconsistencyError struct {
	JobID    string
	Position int
	Reason   string
}

func (e *InconsistencyError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("%s: %s", ErrDecodeInconsistency, e.Reason)
	}
	return fmt.Sprintf("%s: job %q operation %d: %s", ErrDecodeInconsistency, e.JobID, e.Position, e.Reason)
}

func (e *InconsistencyError) Unwrap() error { return ErrDecodeInconsistency }

// Decode reads the chosen machine and start of every operation from out
// and recomputes each end from the domain's effective duration. The result
// is ordered by job in domain order, then by position, so decoding the same
// outcome twice yields identical schedules.
func Decode(d *core.Domain, b *builder.Built, out solver.Outcome) (*model.Schedule, error) {
	switch {
	case out.Status == solver.StatusInfeasible:
		return nil, &NoScheduleError{Status: out.Status, cause: ErrInfeasible}
	case out.Status == solver.StatusTimedOut && out.Assignment == nil:
		return nil, &NoScheduleError{Status: out.Status, cause: ErrTimedOut}
	case !out.Usable():
		return nil, &InconsistencyError{Reason: fmt.Sprintf("solver status %s carries no assignment", out.Status)}
	}
	if d == nil || b == nil || b.Model == nil {
		return nil, &InconsistencyError{Reason: "missing domain or model"}
	}

	a := out.Assignment
	if len(a.Bools) != len(b.Model.Bools) || len(a.Ints) != len(b.Model.Ints) {
		return nil, &InconsistencyError{Reason: fmt.Sprintf(
			"assignment shape (%d bools, %d ints) does not match model (%d, %d)",
			len(a.Bools), len(a.Ints), len(b.Model.Bools), len(b.Model.Ints))}
	}

	ops := make([]model.ScheduledOperation, 0, len(b.Tasks))
	for _, t := range b.Tasks {
		chosen := -1
		count := 0
		for i, c := range t.Candidates {
			if a.Bools[c.Presence] {
				count++
				if chosen < 0 {
					chosen = i
				}
			}
		}
		if count != 1 {
			return nil, &InconsistencyError{
				JobID:    t.JobID,
				Position: t.Position,
				Reason:   fmt.Sprintf("%d machines selected, want exactly 1", count),
			}
		}

		c := t.Candidates[chosen]
		m, ok := d.Machine(c.MachineID)
		if !ok {
			return nil, &InconsistencyError{JobID: t.JobID, Position: t.Position, Reason: fmt.Sprintf("unknown machine %q", c.MachineID)}
		}
		start := int(a.Ints[c.Start])
		end := start + d.EffectiveDuration(t.Operation, m)
		if got := int(a.Ints[c.End]); got != end {
			return nil, &InconsistencyError{
				JobID:    t.JobID,
				Position: t.Position,
				Reason:   fmt.Sprintf("end %d on %s disagrees with start %d + duration %d", got, c.MachineID, start, end-start),
			}
		}

		ops = append(ops, model.ScheduledOperation{
			JobID:          t.JobID,
			OperationIndex: t.Position,
			Operation:      t.Operation,
			MachineID:      c.MachineID,
			Start:          start,
			End:            end,
		})
	}

	return model.NewSchedule(ops, qualityOf(out.Status)), nil
}

func qualityOf(s solver.Status) model.Quality {
	switch s {
	case solver.StatusOptimal:
		return model.QualityOptimal
	case solver.StatusFeasible:
		return model.QualityFeasible
	default:
		return model.QualityTimedOut
	}
}
