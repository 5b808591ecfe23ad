package planner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/jobshop-planner/core"
	"github.com/signalsfoundry/jobshop-planner/internal/builder"
	"github.com/signalsfoundry/jobshop-planner/internal/cpmodel"
	"github.com/signalsfoundry/jobshop-planner/internal/decode"
	"github.com/signalsfoundry/jobshop-planner/internal/logging"
	"github.com/signalsfoundry/jobshop-planner/internal/observability"
	"github.com/signalsfoundry/jobshop-planner/internal/solver"
	"github.com/signalsfoundry/jobshop-planner/internal/solver/engine"
	"github.com/signalsfoundry/jobshop-planner/model"
)

func ops(names ...model.OperationType) []model.OperationType { return names }

func newPlanner(t *testing.T) *Planner {
	t.Helper()
	e, err := engine.New(engine.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return New(e, nil)
}

func domain(t *testing.T, jobs []model.Job, machines []model.Machine) *core.Domain {
	t.Helper()
	d, err := core.NewDomain(jobs, machines)
	if err != nil {
		t.Fatalf("NewDomain: %v", err)
	}
	return d
}

func planOpts(horizon int) Options {
	return Options{Build: builder.Config{Horizon: horizon}, TimeBudget: 5 * time.Second}
}

// countingSolver records how often the wrapped solver is invoked.
type countingSolver struct {
	mu    sync.Mutex
	calls int
	next  solver.Solver
}

func (c *countingSolver) Solve(ctx context.Context, m *cpmodel.Model, p solver.Params) (solver.Outcome, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.next.Solve(ctx, m, p)
}

func TestScenarioA_SingleMachineChain(t *testing.T) {
	d := domain(t,
		[]model.Job{{ID: "J1", Operations: ops("cutting", "welding", "assembly"), DueDate: 1440}},
		[]model.Machine{{ID: "M1", Capabilities: ops("cutting", "welding", "assembly"), EfficiencyFactor: 1.0}},
	)
	res, err := newPlanner(t).Plan(context.Background(), d, planOpts(1440))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if res.Status != solver.StatusOptimal {
		t.Fatalf("status = %s, want optimal", res.Status)
	}
	if res.Statistics.Makespan != 195 {
		t.Fatalf("makespan = %d, want 195", res.Statistics.Makespan)
	}
	m1, _ := res.Statistics.Machine("M1")
	if m1.Utilization != 1 || m1.UtilizationPercent() != 100 {
		t.Fatalf("M1 utilization = %v, want 100%%", m1.Utilization)
	}
	if !res.Valid {
		t.Fatalf("issues: %v", res.Issues)
	}
	if res.RunID == "" {
		t.Fatalf("run id not minted")
	}
}

func TestScenarioB_SharedMachineSerialises(t *testing.T) {
	d := domain(t,
		[]model.Job{
			{ID: "J1", Operations: ops("welding"), DueDate: 1440},
			{ID: "J2", Operations: ops("welding"), DueDate: 1440},
		},
		[]model.Machine{
			{ID: "M1", Capabilities: ops("welding"), EfficiencyFactor: 1.0},
			{ID: "M2", Capabilities: ops("painting"), EfficiencyFactor: 1.0},
		},
	)
	res, err := newPlanner(t).Plan(context.Background(), d, planOpts(1440))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !res.Valid {
		t.Fatalf("issues: %v", res.Issues)
	}
	on := res.Schedule.ForMachine("M1")
	if len(on) != 2 {
		t.Fatalf("M1 has %d operations, want 2", len(on))
	}
	a, b := on[0], on[1]
	if a.Start < b.End && b.Start < a.End {
		t.Fatalf("operations overlap: %+v %+v", a, b)
	}
	if res.Statistics.Makespan < 120 {
		t.Fatalf("makespan = %d, want >= 120", res.Statistics.Makespan)
	}
}

func TestScenarioC_NoCapableMachineBeforeSolve(t *testing.T) {
	d := domain(t,
		[]model.Job{{ID: "J1", Operations: ops("cutting", "painting"), DueDate: 1440}},
		[]model.Machine{{ID: "M1", Capabilities: ops("cutting"), EfficiencyFactor: 1.0}},
	)
	cs := &countingSolver{next: newPlanner(t).Solver}
	res, err := New(cs, nil).Plan(context.Background(), d, planOpts(1440))
	if res != nil {
		t.Fatalf("result produced for uncoverable operation")
	}
	var ncm *core.NoCapableMachineError
	if !errors.As(err, &ncm) || !errors.Is(err, core.ErrNoCapableMachine) {
		t.Fatalf("err = %v, want NoCapableMachineError", err)
	}
	if ncm.Operation != "painting" || ncm.JobID != "J1" || ncm.Position != 1 {
		t.Fatalf("error context = %+v", ncm)
	}
	if cs.calls != 0 {
		t.Fatalf("solver called %d times", cs.calls)
	}
}

func TestScenarioD_HorizonTooSmall(t *testing.T) {
	t.Run("job chain exceeds horizon", func(t *testing.T) {
		d := domain(t,
			[]model.Job{{ID: "J1", Operations: ops("cutting", "welding", "assembly")}},
			[]model.Machine{{ID: "M1", Capabilities: ops("cutting", "welding", "assembly"), EfficiencyFactor: 1.0}},
		)
		res, err := newPlanner(t).Plan(context.Background(), d, planOpts(100))
		if res != nil {
			t.Fatalf("schedule produced")
		}
		var hts *core.HorizonTooSmallError
		if !errors.As(err, &hts) || hts.LowerBound != 195 {
			t.Fatalf("err = %v, want HorizonTooSmallError with bound 195", err)
		}
	})

	t.Run("machine load exceeds horizon", func(t *testing.T) {
		d := domain(t,
			[]model.Job{
				{ID: "J1", Operations: ops("welding")},
				{ID: "J2", Operations: ops("welding")},
			},
			[]model.Machine{{ID: "M1", Capabilities: ops("welding"), EfficiencyFactor: 1.0}},
		)
		res, err := newPlanner(t).Plan(context.Background(), d, planOpts(100))
		if res != nil {
			t.Fatalf("schedule produced")
		}
		var nse *decode.NoScheduleError
		if !errors.As(err, &nse) || !errors.Is(err, decode.ErrInfeasible) {
			t.Fatalf("err = %v, want infeasible NoScheduleError", err)
		}
	})

	t.Run("parallel machines cannot absorb the load", func(t *testing.T) {
		// Total work over both welders fits in 90 minutes, but three
		// 60-minute jobs put two on one welder.
		d := domain(t,
			[]model.Job{
				{ID: "J1", Operations: ops("welding")},
				{ID: "J2", Operations: ops("welding")},
				{ID: "J3", Operations: ops("welding")},
			},
			[]model.Machine{
				{ID: "M1", Capabilities: ops("welding"), EfficiencyFactor: 1.0},
				{ID: "M2", Capabilities: ops("welding"), EfficiencyFactor: 1.0},
			},
		)
		started := time.Now()
		res, err := newPlanner(t).Plan(context.Background(), d, planOpts(100))
		if res != nil {
			t.Fatalf("schedule produced")
		}
		if !errors.Is(err, decode.ErrInfeasible) {
			t.Fatalf("err = %v, want infeasible", err)
		}
		if elapsed := time.Since(started); elapsed >= 5*time.Second {
			t.Fatalf("infeasibility took the whole budget (%s)", elapsed)
		}
	})
}

func TestScenarioE_EfficiencyShortensDurations(t *testing.T) {
	d := domain(t,
		[]model.Job{
			{ID: "J1", Operations: ops("welding")},
			{ID: "J2", Operations: ops("cutting")},
		},
		[]model.Machine{
			{ID: "FAST", Capabilities: ops("welding"), EfficiencyFactor: 2.0},
			{ID: "SLOW", Capabilities: ops("cutting"), EfficiencyFactor: 0.7},
		},
	)
	res, err := newPlanner(t).Plan(context.Background(), d, planOpts(1440))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	weld := res.Schedule.ForJob("J1")[0]
	if weld.MachineID != "FAST" || weld.Duration() != 30 {
		t.Fatalf("welding = %+v, want 30 minutes on FAST", weld)
	}
	// 45 / 0.7 = 64.28..., rounded up.
	if cut := res.Schedule.ForJob("J2")[0]; cut.Duration() != 65 {
		t.Fatalf("cutting duration = %d, want 65", cut.Duration())
	}
}

func randomDomain(t *testing.T, seed int64) *core.Domain {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	types := ops("cutting", "welding", "assembly", "testing", "painting")
	machines := []model.Machine{
		{ID: "M1", Capabilities: ops("cutting", "welding"), EfficiencyFactor: 1.0},
		{ID: "M2", Capabilities: ops("welding", "assembly", "painting"), EfficiencyFactor: 1.5},
		{ID: "M3", Capabilities: ops("assembly", "testing", "cutting"), EfficiencyFactor: 0.8},
		{ID: "M4", Capabilities: ops("painting", "testing"), EfficiencyFactor: 1.2},
	}
	var jobs []model.Job
	for j := 0; j < 4+rng.Intn(3); j++ {
		var seq []model.OperationType
		for k := 0; k < 1+rng.Intn(4); k++ {
			seq = append(seq, types[rng.Intn(len(types))])
		}
		jobs = append(jobs, model.Job{
			ID:          fmt.Sprintf("J%d", j),
			Operations:  seq,
			ReleaseDate: rng.Intn(90),
			DueDate:     300 + rng.Intn(600),
			Priority:    rng.Intn(3),
		})
	}
	return domain(t, jobs, machines)
}

func TestPlan_RandomDomainsProduceValidSchedules(t *testing.T) {
	p := newPlanner(t)
	for seed := int64(1); seed <= 8; seed++ {
		d := randomDomain(t, seed)
		for _, sec := range []builder.Secondary{builder.SecondaryNone, builder.SecondaryLexicographic, builder.SecondaryBlended} {
			opts := planOpts(2880)
			opts.Build.Secondary = sec
			res, err := p.Plan(context.Background(), d, opts)
			if err != nil {
				t.Fatalf("seed %d %s: Plan: %v", seed, sec, err)
			}
			if !res.Valid {
				t.Fatalf("seed %d %s: issues %v", seed, sec, res.Issues)
			}
			if res.Statistics.Makespan != res.Schedule.Makespan() {
				t.Fatalf("seed %d: statistics makespan %d != schedule %d", seed, res.Statistics.Makespan, res.Schedule.Makespan())
			}

			for _, op := range res.Schedule.Operations() {
				m, ok := d.Machine(op.MachineID)
				if !ok || !m.CanPerform(op.Operation) {
					t.Fatalf("seed %d: %s[%d] on incapable machine %s", seed, op.JobID, op.OperationIndex, op.MachineID)
				}
			}
			for _, job := range d.Jobs() {
				seq := res.Schedule.ForJob(job.ID)
				if len(seq) != len(job.Operations) {
					t.Fatalf("seed %d: job %s has %d placements", seed, job.ID, len(seq))
				}
				if seq[0].Start < job.ReleaseDate {
					t.Fatalf("seed %d: job %s starts before release", seed, job.ID)
				}
				for i := 1; i < len(seq); i++ {
					if seq[i].Start < seq[i-1].End {
						t.Fatalf("seed %d: job %s out of sequence at %d", seed, job.ID, i)
					}
				}
			}
		}
	}
}

func TestPlan_SolveOutcomeErrors(t *testing.T) {
	d := domain(t,
		[]model.Job{{ID: "J1", Operations: ops("testing")}},
		[]model.Machine{{ID: "M1", Capabilities: ops("testing"), EfficiencyFactor: 1.0}},
	)
	boom := errors.New("backend unavailable")

	tests := []struct {
		name  string
		solve solver.Func
		check func(error) bool
	}{
		{
			name: "timed out empty",
			solve: func(context.Context, *cpmodel.Model, solver.Params) (solver.Outcome, error) {
				return solver.Outcome{Status: solver.StatusTimedOut}, nil
			},
			check: func(err error) bool { return errors.Is(err, decode.ErrTimedOut) },
		},
		{
			name: "backend error",
			solve: func(context.Context, *cpmodel.Model, solver.Params) (solver.Outcome, error) {
				return solver.Outcome{}, boom
			},
			check: func(err error) bool { return errors.Is(err, boom) },
		},
		{
			name: "no presence chosen",
			solve: func(_ context.Context, m *cpmodel.Model, _ solver.Params) (solver.Outcome, error) {
				a := &cpmodel.Assignment{Bools: make([]bool, len(m.Bools)), Ints: make([]int64, len(m.Ints))}
				return solver.Outcome{Status: solver.StatusFeasible, Assignment: a}, nil
			},
			check: func(err error) bool { return errors.Is(err, decode.ErrDecodeInconsistency) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := New(tt.solve, nil).Plan(context.Background(), d, planOpts(600))
			if res != nil || !tt.check(err) {
				t.Fatalf("res=%v err=%v", res, err)
			}
		})
	}

	if _, err := New(nil, nil).Plan(context.Background(), d, planOpts(600)); !errors.Is(err, ErrNoSolver) {
		t.Fatalf("nil solver err = %v", err)
	}
}

func TestPlan_PassesBudgetToSolver(t *testing.T) {
	d := domain(t,
		[]model.Job{{ID: "J1", Operations: ops("testing")}},
		[]model.Machine{{ID: "M1", Capabilities: ops("testing"), EfficiencyFactor: 1.0}},
	)
	var sawBudget time.Duration
	var sawDeadline bool
	s := solver.Func(func(ctx context.Context, m *cpmodel.Model, p solver.Params) (solver.Outcome, error) {
		sawBudget = p.TimeBudget
		_, sawDeadline = ctx.Deadline()
		return solver.Outcome{Status: solver.StatusInfeasible}, nil
	})
	opts := planOpts(600)
	opts.TimeBudget = 1500 * time.Millisecond
	_, err := New(s, nil).Plan(context.Background(), d, opts)
	if !errors.Is(err, decode.ErrInfeasible) {
		t.Fatalf("err = %v", err)
	}
	if sawBudget != 1500*time.Millisecond || !sawDeadline {
		t.Fatalf("budget %v deadline %v", sawBudget, sawDeadline)
	}
}

type recordingPublisher struct {
	mu   sync.Mutex
	runs map[string]int
	err  error
}

func (r *recordingPublisher) Publish(_ context.Context, runID string, s *model.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.runs == nil {
		r.runs = map[string]int{}
	}
	r.runs[runID] = s.Makespan()
	return nil
}

func TestPlan_MetricsLogsAndPublishing(t *testing.T) {
	d := domain(t,
		[]model.Job{{ID: "J1", Operations: ops("cutting", "welding")}},
		[]model.Machine{{ID: "M1", Capabilities: ops("cutting", "welding"), EfficiencyFactor: 1.0}},
	)

	reg := prometheus.NewRegistry()
	pc, err := observability.NewPlannerCollector(reg)
	if err != nil {
		t.Fatalf("NewPlannerCollector: %v", err)
	}
	sc, err := observability.NewSearchCollector(reg)
	if err != nil {
		t.Fatalf("NewSearchCollector: %v", err)
	}
	var buf bytes.Buffer
	pub := &recordingPublisher{}

	p := newPlanner(t)
	p.Log = logging.New(logging.Config{Level: "debug", Format: "json", Output: &buf})
	p.Metrics = pc
	p.Search = sc
	p.Publisher = pub

	opts := planOpts(1440)
	opts.RunID = "run-fixed"
	res, err := p.Plan(context.Background(), d, opts)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if res.RunID != "run-fixed" || !res.Published || pub.runs["run-fixed"] != 105 {
		t.Fatalf("run id %q published %v runs %v", res.RunID, res.Published, pub.runs)
	}
	if got := testutil.ToFloat64(pc.Runs.WithLabelValues("optimal")); got != 1 {
		t.Fatalf("optimal runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pc.Makespan); got != 105 {
		t.Fatalf("makespan gauge = %v, want 105", got)
	}
	if got := testutil.ToFloat64(pc.ModelSize.WithLabelValues("intervals")); got != 2 {
		t.Fatalf("model intervals = %v, want 2", got)
	}
	if got := testutil.ToFloat64(sc.ProvenOptimal); got != 1 {
		t.Fatalf("proven optimal = %v, want 1", got)
	}
	if !strings.Contains(buf.String(), `"run_id":"run-fixed"`) || !strings.Contains(buf.String(), "plan finished") {
		t.Fatalf("logs missing run id or completion:\n%s", buf.String())
	}

	// A failed run is counted under its status and publishing errors are
	// not fatal.
	pub.err = errors.New("redis down")
	res, err = p.Plan(context.Background(), d, planOpts(1440))
	if err != nil || res.Published {
		t.Fatalf("publish failure changed the run: res=%+v err=%v", res, err)
	}
	if _, err := p.Plan(context.Background(), d, planOpts(50)); err == nil {
		t.Fatalf("undersized horizon accepted")
	}
	if got := testutil.ToFloat64(pc.Runs.WithLabelValues("error")); got != 1 {
		t.Fatalf("error runs = %v, want 1", got)
	}
}

func TestSweep(t *testing.T) {
	d := domain(t,
		[]model.Job{
			{ID: "J1", Operations: ops("welding")},
			{ID: "J2", Operations: ops("welding")},
		},
		[]model.Machine{{ID: "M1", Capabilities: ops("welding"), EfficiencyFactor: 1.0}},
	)
	horizons := []int{60, 100, 120, 480}
	results := newPlanner(t).Sweep(context.Background(), d, planOpts(0), horizons, 2)
	if len(results) != len(horizons) {
		t.Fatalf("results = %d", len(results))
	}
	seen := map[string]bool{}
	for i, r := range results {
		if r.Horizon != horizons[i] {
			t.Fatalf("result %d horizon %d, want %d", i, r.Horizon, horizons[i])
		}
		if h := r.Horizon; h < 120 {
			if r.Err == nil {
				t.Fatalf("horizon %d: want an error", h)
			}
			continue
		}
		if r.Err != nil || !r.Result.Valid || r.Result.Statistics.Makespan != 120 {
			t.Fatalf("horizon %d: %+v", r.Horizon, r)
		}
		if seen[r.Result.RunID] {
			t.Fatalf("run id %s reused", r.Result.RunID)
		}
		seen[r.Result.RunID] = true
	}

	best := Best(results)
	if best == nil || best.Result.Statistics.Makespan != 120 {
		t.Fatalf("best = %+v", best)
	}
}

func TestSweepGivesEachRunItsOwnID(t *testing.T) {
	d := domain(t,
		[]model.Job{{ID: "J1", Operations: ops("welding")}},
		[]model.Machine{{ID: "M1", Capabilities: ops("welding"), EfficiencyFactor: 1.0}},
	)
	horizons := []int{480, 960, 480}

	tests := []struct {
		name string
		ctx  context.Context
		base Options
		want []string
	}{
		{
			name: "parent id in context",
			ctx:  logging.ContextWithRunID(context.Background(), "outer"),
			base: planOpts(0),
			want: []string{"outer.0", "outer.1", "outer.2"},
		},
		{
			name: "parent id in options",
			ctx:  context.Background(),
			base: Options{TimeBudget: 5 * time.Second, RunID: "nightly"},
			want: []string{"nightly.0", "nightly.1", "nightly.2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recordingPublisher{}
			p := newPlanner(t)
			p.Publisher = pub
			results := p.Sweep(tt.ctx, d, tt.base, horizons, 2)
			for i, r := range results {
				if r.Err != nil {
					t.Fatalf("horizon %d: %v", r.Horizon, r.Err)
				}
				if r.Result.RunID != tt.want[i] {
					t.Fatalf("result %d run id = %q, want %q", i, r.Result.RunID, tt.want[i])
				}
			}
			pub.mu.Lock()
			defer pub.mu.Unlock()
			if len(pub.runs) != len(horizons) {
				t.Fatalf("published runs = %v, want %d distinct ids", pub.runs, len(horizons))
			}
		})
	}

	t.Run("no parent id", func(t *testing.T) {
		results := newPlanner(t).Sweep(context.Background(), d, planOpts(0), horizons, 2)
		seen := map[string]bool{}
		for _, r := range results {
			if r.Err != nil || r.Result.RunID == "" || seen[r.Result.RunID] {
				t.Fatalf("horizon %d: err=%v run id %q", r.Horizon, r.Err, r.Result.RunID)
			}
			seen[r.Result.RunID] = true
		}
	})
}

func TestSweepCancelled(t *testing.T) {
	d := domain(t,
		[]model.Job{{ID: "J1", Operations: ops("welding")}},
		[]model.Machine{{ID: "M1", Capabilities: ops("welding"), EfficiencyFactor: 1.0}},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, r := range newPlanner(t).Sweep(ctx, d, planOpts(0), []int{480, 960}, 1) {
		if r.Err == nil {
			t.Fatalf("horizon %d planned under a cancelled context", r.Horizon)
		}
	}
	if Best(nil) != nil {
		t.Fatalf("Best(nil) != nil")
	}
}
