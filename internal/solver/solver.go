// Package solver defines the boundary between the planner and whatever
// searches a cpmodel.Model: an in-process engine or a remote service.
package solver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/signalsfoundry/jobshop-planner/internal/cpmodel"
)

// Status is the result class of a solve.
type Status int

const (
	StatusUnknown Status = iota
	// StatusOptimal means the assignment is proven optimal.
	StatusOptimal
	// StatusFeasible means the search finished with an unproven assignment.
	StatusFeasible
	// StatusInfeasible means no assignment exists.
	StatusInfeasible
	// StatusTimedOut means the budget ran out; Assignment may hold the best
	// found so far or be nil.
	StatusTimedOut
)

var statusNames = map[Status]string{
	StatusUnknown:    "unknown",
	StatusOptimal:    "optimal",
	StatusFeasible:   "feasible",
	StatusInfeasible: "infeasible",
	StatusTimedOut:   "timed_out",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus is the inverse of String.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown solve status %q", name)
}

func (s Status) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Params carries per-call search limits. The horizon lives in the model.
type Params struct {
	TimeBudget time.Duration `json:"time_budget"`
}

// Stats are backend counters reported alongside an outcome.
type Stats struct {
	Iterations   int64  `json:"iterations"`
	Improvements int64  `json:"improvements"`
	Nodes        int64  `json:"nodes"`
	LowerBound   int64  `json:"lower_bound"`
	Backend      string `json:"backend"`
}

// Outcome is the result of one solve.
type Outcome struct {
	Status     Status              `json:"status"`
	Assignment *cpmodel.Assignment `json:"assignment,omitempty"`
	Objective  []int64             `json:"objective,omitempty"`
	WallTime   time.Duration       `json:"wall_time"`
	Stats      Stats               `json:"stats"`
}

// Usable reports whether the outcome carries an assignment the caller may
// decode.
func (o Outcome) Usable() bool {
	switch o.Status {
	case StatusOptimal, StatusFeasible:
		return o.Assignment != nil
	case StatusTimedOut:
		return o.Assignment != nil
	default:
		return false
	}
}

// Suboptimal reports a usable outcome that is not proven optimal.
func (o Outcome) Suboptimal() bool {
	return o.Usable() && o.Status != StatusOptimal
}

// Solver searches a model. Implementations must honour ctx cancellation
// and return search results as statuses; errors are reserved for transport
// failures and models the backend cannot handle.
type Solver interface {
	Solve(ctx context.Context, m *cpmodel.Model, p Params) (Outcome, error)
}

// Func adapts a function to the Solver interface.
type Func func(ctx context.Context, m *cpmodel.Model, p Params) (Outcome, error)

func (f Func) Solve(ctx context.Context, m *cpmodel.Model, p Params) (Outcome, error) {
	return f(ctx, m, p)
}

// WithBudget derives a context bounded by the time budget. A non-positive
// budget leaves ctx unbounded.
func WithBudget(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}
