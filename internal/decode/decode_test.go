package decode

import (
	"errors"
	"reflect"
	"testing"

	"github.com/signalsfoundry/jobshop-planner/core"
	"github.com/signalsfoundry/jobshop-planner/internal/builder"
	"github.com/signalsfoundry/jobshop-planner/internal/cpmodel"
	"github.com/signalsfoundry/jobshop-planner/internal/solver"
	"github.com/signalsfoundry/jobshop-planner/model"
)

func fixture(t *testing.T) (*core.Domain, *builder.Built) {
	t.Helper()
	d, err := core.NewDomain(
		[]model.Job{
			{ID: "J1", Operations: []model.OperationType{"cutting", "welding"}, DueDate: 200},
			{ID: "J2", Operations: []model.OperationType{"welding"}, DueDate: 200},
		},
		[]model.Machine{
			{ID: "M1", Capabilities: []model.OperationType{"cutting", "welding"}, EfficiencyFactor: 1},
			{ID: "M2", Capabilities: []model.OperationType{"welding"}, EfficiencyFactor: 2},
		},
	)
	if err != nil {
		t.Fatalf("NewDomain: %v", err)
	}
	b, err := builder.Build(d, builder.Config{Horizon: 480})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return d, b
}

// place marks candidate ci of task ti present at start.
func place(b *builder.Built, a *cpmodel.Assignment, ti, ci int, start int64) {
	c := b.Tasks[ti].Candidates[ci]
	a.Bools[c.Presence] = true
	a.Ints[c.Start] = start
	a.Ints[c.End] = start + int64(c.Duration)
}

func validOutcome(b *builder.Built, status solver.Status) solver.Outcome {
	a := &cpmodel.Assignment{Bools: make([]bool, len(b.Model.Bools)), Ints: make([]int64, len(b.Model.Ints))}
	place(b, a, 0, 0, 0)  // J1 cutting on M1 [0,45)
	place(b, a, 1, 1, 45) // J1 welding on M2 [45,75)
	place(b, a, 2, 0, 45) // J2 welding on M1 [45,105)
	a.Ints[b.Makespan] = 105
	return solver.Outcome{Status: status, Assignment: a, Objective: []int64{105}}
}

func TestDecode_Valid(t *testing.T) {
	d, b := fixture(t)
	sched, err := Decode(d, b, validOutcome(b, solver.StatusOptimal))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []model.ScheduledOperation{
		{JobID: "J1", OperationIndex: 0, Operation: "cutting", MachineID: "M1", Start: 0, End: 45},
		{JobID: "J1", OperationIndex: 1, Operation: "welding", MachineID: "M2", Start: 45, End: 75},
		{JobID: "J2", OperationIndex: 0, Operation: "welding", MachineID: "M1", Start: 45, End: 105},
	}
	if got := sched.Operations(); !reflect.DeepEqual(got, want) {
		t.Fatalf("operations = %+v\nwant %+v", got, want)
	}
	if sched.Quality() != model.QualityOptimal {
		t.Fatalf("quality = %s, want optimal", sched.Quality())
	}
}

func TestDecode_Idempotent(t *testing.T) {
	d, b := fixture(t)
	out := validOutcome(b, solver.StatusFeasible)
	first, err := Decode(d, b, out)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	second, err := Decode(d, b, out)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("decoding twice differs")
	}
	if first.Quality() != model.QualityFeasible || !first.Quality().Suboptimal() {
		t.Fatalf("quality = %s, want feasible and suboptimal", first.Quality())
	}
}

func TestDecode_NoSchedule(t *testing.T) {
	d, b := fixture(t)
	tests := []struct {
		name string
		out  solver.Outcome
		want error
	}{
		{"infeasible", solver.Outcome{Status: solver.StatusInfeasible}, ErrInfeasible},
		{"timed out empty", solver.Outcome{Status: solver.StatusTimedOut}, ErrTimedOut},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, err := Decode(d, b, tt.out)
			if sched != nil {
				t.Fatalf("schedule produced for %s", tt.name)
			}
			var nse *NoScheduleError
			if !errors.As(err, &nse) || !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want NoScheduleError wrapping %v", err, tt.want)
			}
		})
	}
}

func TestDecode_TimedOutWithBestIsUsable(t *testing.T) {
	d, b := fixture(t)
	sched, err := Decode(d, b, validOutcome(b, solver.StatusTimedOut))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if sched.Quality() != model.QualityTimedOut {
		t.Fatalf("quality = %s, want timed_out", sched.Quality())
	}
}

func TestDecode_Inconsistencies(t *testing.T) {
	d, b := fixture(t)

	tests := []struct {
		name   string
		mutate func(out *solver.Outcome)
		job    string
		pos    int
	}{
		{
			name: "no machine selected",
			mutate: func(out *solver.Outcome) {
				out.Assignment.Bools[b.Tasks[2].Candidates[0].Presence] = false
			},
			job: "J2", pos: 0,
		},
		{
			name: "two machines selected",
			mutate: func(out *solver.Outcome) {
				place(b, out.Assignment, 1, 0, 45)
			},
			job: "J1", pos: 1,
		},
		{
			name: "end disagrees with duration",
			mutate: func(out *solver.Outcome) {
				out.Assignment.Ints[b.Tasks[0].Candidates[0].End] = 50
			},
			job: "J1", pos: 0,
		},
		{
			name: "assignment shape",
			mutate: func(out *solver.Outcome) {
				out.Assignment.Ints = out.Assignment.Ints[:2]
			},
		},
		{
			name: "optimal without assignment",
			mutate: func(out *solver.Outcome) {
				out.Assignment = nil
				out.Status = solver.StatusOptimal
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := validOutcome(b, solver.StatusOptimal)
			tt.mutate(&out)
			sched, err := Decode(d, b, out)
			if sched != nil {
				t.Fatalf("schedule produced despite inconsistency")
			}
			var ie *InconsistencyError
			if !errors.As(err, &ie) || !errors.Is(err, ErrDecodeInconsistency) {
				t.Fatalf("err = %v, want InconsistencyError", err)
			}
			if ie.JobID != tt.job || (tt.job != "" && ie.Position != tt.pos) {
				t.Fatalf("reported %s[%d], want %s[%d]", ie.JobID, ie.Position, tt.job, tt.pos)
			}
		})
	}
}
