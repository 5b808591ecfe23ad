package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"testing"

	"github.com/signalsfoundry/jobshop-planner/core"
	"github.com/signalsfoundry/jobshop-planner/internal/builder"
	"github.com/signalsfoundry/jobshop-planner/internal/cpmodel"
	"github.com/signalsfoundry/jobshop-planner/internal/solver"
	"github.com/signalsfoundry/jobshop-planner/model"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func build(t *testing.T, jobs []model.Job, machines []model.Machine, cfg builder.Config) *builder.Built {
	t.Helper()
	d, err := core.NewDomain(jobs, machines)
	if err != nil {
		t.Fatalf("NewDomain: %v", err)
	}
	b, err := builder.Build(d, cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return b
}

func solve(t *testing.T, e *Engine, m *cpmodel.Model) solver.Outcome {
	t.Helper()
	out, err := e.Solve(context.Background(), m, solver.Params{})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	return out
}

func ops(names ...model.OperationType) []model.OperationType { return names }

func TestSolve_SingleMachineChainIsOptimal(t *testing.T) {
	b := build(t,
		[]model.Job{{ID: "J1", Operations: ops("cutting", "welding", "assembly"), DueDate: 1440}},
		[]model.Machine{{ID: "M1", Capabilities: ops("cutting", "welding", "assembly"), EfficiencyFactor: 1}},
		builder.Config{Horizon: 1440},
	)
	out := solve(t, newEngine(t), b.Model)
	if out.Status != solver.StatusOptimal {
		t.Fatalf("status = %s, want optimal", out.Status)
	}
	if got := out.Assignment.Ints[b.Makespan]; got != 195 {
		t.Fatalf("makespan = %d, want 195", got)
	}
	if out.Stats.LowerBound != 195 {
		t.Fatalf("lower bound = %d, want 195", out.Stats.LowerBound)
	}
}

func TestSolve_SharedMachineSerialises(t *testing.T) {
	b := build(t,
		[]model.Job{
			{ID: "J1", Operations: ops("welding")},
			{ID: "J2", Operations: ops("welding")},
		},
		[]model.Machine{{ID: "M1", Capabilities: ops("welding"), EfficiencyFactor: 1}},
		builder.Config{Horizon: 480},
	)
	out := solve(t, newEngine(t), b.Model)
	if out.Status != solver.StatusOptimal {
		t.Fatalf("status = %s, want optimal", out.Status)
	}
	if got := out.Objective[0]; got != 120 {
		t.Fatalf("makespan = %d, want 120", got)
	}
	if v := b.Model.Check(out.Assignment); len(v) != 0 {
		t.Fatalf("assignment violates model: %v", v)
	}
}

func TestSolve_ParallelMachinesBalanceLoad(t *testing.T) {
	b := build(t,
		[]model.Job{
			{ID: "J1", Operations: ops("cutting")},
			{ID: "J2", Operations: ops("cutting")},
		},
		[]model.Machine{
			{ID: "M1", Capabilities: ops("cutting"), EfficiencyFactor: 1},
			{ID: "M2", Capabilities: ops("cutting"), EfficiencyFactor: 1},
		},
		builder.Config{Horizon: 480},
	)
	out := solve(t, newEngine(t), b.Model)
	if out.Status != solver.StatusOptimal || out.Objective[0] != 45 {
		t.Fatalf("outcome = %s %v, want optimal [45]", out.Status, out.Objective)
	}
}

func TestSolve_LoadBeyondHorizonIsInfeasible(t *testing.T) {
	// Each job fits alone; together they cannot share M1 within 100 minutes.
	b := build(t,
		[]model.Job{
			{ID: "J1", Operations: ops("welding")},
			{ID: "J2", Operations: ops("welding")},
		},
		[]model.Machine{{ID: "M1", Capabilities: ops("welding"), EfficiencyFactor: 1}},
		builder.Config{Horizon: 100},
	)
	out := solve(t, newEngine(t), b.Model)
	if out.Status != solver.StatusInfeasible || out.Assignment != nil {
		t.Fatalf("outcome = %s (assignment %v), want infeasible without assignment", out.Status, out.Assignment != nil)
	}
}

func TestSolve_BooleanLayerProvesInfeasibility(t *testing.T) {
	m := cpmodel.New("no-fit")
	p := m.NewBool("p")
	s := m.NewInt(50, 100, "s")
	e := m.NewInt(0, 100, "e")
	m.NewOptionalInterval(s, 60, e, p, "iv")
	m.AddExactlyOne(cpmodel.KindAssignment, "assign", p)

	out := solve(t, newEngine(t), m)
	if out.Status != solver.StatusInfeasible {
		t.Fatalf("status = %s, want infeasible", out.Status)
	}
}

// weldingShop has n single-operation welding jobs and k interchangeable
// welders.
func weldingShop(t *testing.T, n, k, horizon int) *builder.Built {
	t.Helper()
	var jobs []model.Job
	for j := 0; j < n; j++ {
		jobs = append(jobs, model.Job{ID: fmt.Sprintf("J%d", j+1), Operations: ops("welding")})
	}
	var machines []model.Machine
	for m := 0; m < k; m++ {
		machines = append(machines, model.Machine{ID: fmt.Sprintf("M%d", m+1), Capabilities: ops("welding"), EfficiencyFactor: 1})
	}
	return build(t, jobs, machines, builder.Config{Horizon: horizon})
}

func TestSolve_OverloadedParallelMachinesAreInfeasible(t *testing.T) {
	// Work over two welders bounds the makespan at 90, under the horizon,
	// yet one welder must take two 60-minute jobs.
	b := weldingShop(t, 3, 2, 100)
	out := solve(t, newEngine(t), b.Model)
	if out.Status != solver.StatusInfeasible || out.Assignment != nil {
		t.Fatalf("outcome = %s (assignment %v), want infeasible without assignment", out.Status, out.Assignment != nil)
	}
	if out.Stats.LowerBound >= 100 {
		t.Fatalf("lower bound %d already exceeds the horizon", out.Stats.LowerBound)
	}
	if out.Stats.Nodes == 0 {
		t.Fatalf("infeasibility reported without an exhaustive search")
	}
}

func TestExactSearch(t *testing.T) {
	setup := func(t *testing.T, b *builder.Built) *problem {
		t.Helper()
		p, err := presolve(b.Model)
		if err != nil {
			t.Fatalf("presolve: %v", err)
		}
		p.markStatic()
		return p
	}

	t.Run("finds a fitting schedule", func(t *testing.T) {
		b := weldingShop(t, 3, 2, 120)
		p := setup(t, b)
		s, exhausted, nodes := p.exactSearch(context.Background(), p.allowedAlts())
		if s == nil || exhausted || nodes == 0 {
			t.Fatalf("found=%v exhausted=%v nodes=%d", s != nil, exhausted, nodes)
		}
		if v := b.Model.Check(s.assignment); len(v) != 0 {
			t.Fatalf("assignment violates model: %v", v)
		}
		if s.objective[0] != 120 {
			t.Fatalf("makespan = %d, want 120", s.objective[0])
		}
	})

	t.Run("exhausts an overloaded shop", func(t *testing.T) {
		p := setup(t, weldingShop(t, 3, 2, 100))
		s, exhausted, _ := p.exactSearch(context.Background(), p.allowedAlts())
		if s != nil || !exhausted {
			t.Fatalf("found=%v exhausted=%v, want nothing and exhausted", s != nil, exhausted)
		}
	})

	t.Run("cancellation is not a proof", func(t *testing.T) {
		p := setup(t, weldingShop(t, 9, 3, 179))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		s, exhausted, nodes := p.exactSearch(ctx, p.allowedAlts())
		if s != nil || exhausted {
			t.Fatalf("found=%v exhausted=%v after cancel", s != nil, exhausted)
		}
		if nodes > 256 {
			t.Fatalf("search ran %d nodes after cancel", nodes)
		}
	})
}

func TestSolve_UnsupportedModel(t *testing.T) {
	m := cpmodel.New("three-terms")
	x := m.NewInt(0, 10, "x")
	y := m.NewInt(0, 10, "y")
	z := m.NewInt(0, 10, "z")
	m.AddLinearLE(cpmodel.KindObjective, "sum", []cpmodel.Term{{Var: x, Coef: 1}, {Var: y, Coef: 1}, {Var: z, Coef: 1}}, 5)

	_, err := newEngine(t).Solve(context.Background(), m, solver.Params{})
	if !errors.Is(err, ErrUnsupportedModel) {
		t.Fatalf("err = %v, want ErrUnsupportedModel", err)
	}
}

func TestSolve_CancelledContextTimesOutEmpty(t *testing.T) {
	b := build(t,
		[]model.Job{{ID: "J1", Operations: ops("cutting")}},
		[]model.Machine{{ID: "M1", Capabilities: ops("cutting"), EfficiencyFactor: 1}},
		builder.Config{Horizon: 480},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := newEngine(t).Solve(ctx, b.Model, solver.Params{})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if out.Status != solver.StatusTimedOut || out.Usable() {
		t.Fatalf("outcome = %s usable=%v, want timed_out without assignment", out.Status, out.Usable())
	}
}

func TestSolve_LexicographicTardiness(t *testing.T) {
	b := build(t,
		[]model.Job{
			{ID: "J1", Operations: ops("cutting"), DueDate: 1000, Priority: 1},
			{ID: "J2", Operations: ops("cutting"), DueDate: 60, Priority: 5},
		},
		[]model.Machine{{ID: "M1", Capabilities: ops("cutting"), EfficiencyFactor: 1}},
		builder.Config{Horizon: 480, Secondary: builder.SecondaryLexicographic},
	)
	out := solve(t, newEngine(t), b.Model)
	if out.Status != solver.StatusOptimal {
		t.Fatalf("status = %s, want optimal", out.Status)
	}
	if !reflect.DeepEqual(out.Objective, []int64{90, 0}) {
		t.Fatalf("objective = %v, want [90 0]", out.Objective)
	}
}

func randomFlexibleShop(t *testing.T, seed int64) *builder.Built {
	rng := rand.New(rand.NewSource(seed))
	types := ops("cutting", "welding", "assembly", "testing")
	machines := []model.Machine{
		{ID: "M1", Capabilities: ops("cutting", "welding"), EfficiencyFactor: 1.0},
		{ID: "M2", Capabilities: ops("welding", "assembly"), EfficiencyFactor: 1.5},
		{ID: "M3", Capabilities: ops("assembly", "testing", "cutting"), EfficiencyFactor: 0.8},
	}
	var jobs []model.Job
	for j := 0; j < 5; j++ {
		n := 1 + rng.Intn(3)
		var seq []model.OperationType
		for k := 0; k < n; k++ {
			seq = append(seq, types[rng.Intn(len(types))])
		}
		jobs = append(jobs, model.Job{
			ID:          fmt.Sprintf("J%d", j),
			Operations:  seq,
			ReleaseDate: rng.Intn(60),
			DueDate:     200 + rng.Intn(400),
			Priority:    rng.Intn(4),
		})
	}
	return build(t, jobs, machines, builder.Config{Horizon: 1440, Secondary: builder.SecondaryBlended})
}

func TestSolve_RandomShopsYieldModelFeasibleAssignments(t *testing.T) {
	e := newEngine(t)
	for seed := int64(1); seed <= 10; seed++ {
		b := randomFlexibleShop(t, seed)
		out := solve(t, e, b.Model)
		if !out.Usable() {
			t.Fatalf("seed %d: outcome %s not usable", seed, out.Status)
		}
		if v := b.Model.Check(out.Assignment); len(v) != 0 {
			t.Fatalf("seed %d: assignment violates model: %v", seed, v)
		}
	}
}

func TestSolve_Deterministic(t *testing.T) {
	b := randomFlexibleShop(t, 7)
	e := newEngine(t)
	first := solve(t, e, b.Model)
	second := solve(t, e, b.Model)
	if !reflect.DeepEqual(first.Assignment, second.Assignment) {
		t.Fatalf("same seed produced different assignments")
	}
}

func TestEarliestFit(t *testing.T) {
	busy := []span{{0, 10}, {20, 30}, {35, 50}}
	tests := []struct {
		t, size, want int64
	}{
		{0, 5, 10},
		{10, 10, 10},
		{10, 11, 50},
		{12, 5, 12},
		{31, 4, 31},
		{31, 5, 50},
		{5, 0, 5},
	}
	for _, tt := range tests {
		if got := earliestFit(busy, tt.t, tt.size); got != tt.want {
			t.Errorf("earliestFit(t=%d, size=%d) = %d, want %d", tt.t, tt.size, got, tt.want)
		}
	}
}

func TestNeighborsPreservePermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	p := []int{0, 1, 2, 3, 4, 5}
	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			neighborSwap(p, rng)
		} else {
			neighborInsert(p, rng)
		}
		seen := make(map[int]bool)
		for _, v := range p {
			seen[v] = true
		}
		if len(seen) != 6 {
			t.Fatalf("permutation broken: %v", p)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Alpha = 1
	if _, err := New(cfg, nil); err == nil {
		t.Fatalf("expected Alpha=1 to be rejected")
	}
	cfg = DefaultConfig()
	cfg.FinalTemp = cfg.InitialTemp
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected FinalTemp >= InitialTemp to be rejected")
	}
}
