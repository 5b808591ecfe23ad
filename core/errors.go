package core

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/jobshop-planner/model"
)

var (
	// ErrEmptyJobList means there is nothing to schedule.
	ErrEmptyJobList = errors.New("empty job list")
	// ErrEmptyMachineList means there is nowhere to run anything.
	ErrEmptyMachineList = errors.New("empty machine list")
	// ErrNoCapableMachine means an operation type has no candidate machine.
	ErrNoCapableMachine = errors.New("no capable machine")
	// ErrHorizonTooSmall means the planning horizon cannot hold some job.
	ErrHorizonTooSmall = errors.New("horizon too small")
	// ErrInvalidJob indicates a job failed validation.
	ErrInvalidJob = errors.New("invalid job")
	// ErrInvalidMachine indicates a machine failed validation.
	ErrInvalidMachine = errors.New("invalid machine")
	// ErrInvalidDuration indicates a bad duration table entry, default or granularity.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrInvalidScenario indicates a scenario document failed to decode or validate.
	ErrInvalidScenario = errors.New("invalid scenario")
)

// NoCapableMachineError names the first place an uncoverable operation
// type is referenced so the caller can fix the machine configuration.
type NoCapableMachineError struct {
	Operation model.OperationType
	JobID     string
	Position  int
}

func (e *NoCapableMachineError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("%s for operation %q", ErrNoCapableMachine, e.Operation)
	}
	return fmt.Sprintf("%s for operation %q (job %q, position %d)", ErrNoCapableMachine, e.Operation, e.JobID, e.Position)
}

func (e *NoCapableMachineError) Unwrap() error { return ErrNoCapableMachine }

// HorizonTooSmallError reports a job whose fastest possible completion lies
// beyond the horizon.
type HorizonTooSmallError struct {
	JobID      string
	Horizon    int
	LowerBound int
}

func (e *HorizonTooSmallError) Error() string {
	return fmt.Sprintf("%s: job %q needs at least %d minutes, horizon is %d", ErrHorizonTooSmall, e.JobID, e.LowerBound, e.Horizon)
}

func (e *HorizonTooSmallError) Unwrap() error { return ErrHorizonTooSmall }
