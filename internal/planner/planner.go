// Package planner runs the scheduling pipeline: build the constraint model,
// solve it within a time budget, decode the assignment, validate the
// schedule independently and compute statistics.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/jobshop-planner/core"
	"github.com/signalsfoundry/jobshop-planner/internal/builder"
	"github.com/signalsfoundry/jobshop-planner/internal/cpmodel"
	"github.com/signalsfoundry/jobshop-planner/internal/decode"
	"github.com/signalsfoundry/jobshop-planner/internal/logging"
	"github.com/signalsfoundry/jobshop-planner/internal/observability"
	"github.com/signalsfoundry/jobshop-planner/internal/solver"
	"github.com/signalsfoundry/jobshop-planner/internal/stats"
	"github.com/signalsfoundry/jobshop-planner/internal/validate"
	"github.com/signalsfoundry/jobshop-planner/model"
)

// ErrNoSolver is returned by Plan when the planner has no backend.
var ErrNoSolver = errors.New("planner has no solver")

// solveSlack is added to the time budget for the outer solve deadline.
// Backends enforce the budget themselves; the slack leaves room for a
// remote backend to return its best assignment after the budget expires.
const solveSlack = 5 * time.Second

// statusError labels runs that ended before the solver produced a status.
const statusError = "error"

// Publisher receives every decoded schedule. export.RedisPublisher
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, runID string, s *model.Schedule) error
}

// Options configures one run.
type Options struct {
	Build      builder.Config
	TimeBudget time.Duration
	// RunID tags logs, spans and published results. Minted when empty.
	RunID string
}

// Result is everything one run produced. Issues are data: a run whose
// schedule fails validation still returns a Result with Valid false.
type Result struct {
	RunID      string
	Status     solver.Status
	Schedule   *model.Schedule
	Statistics stats.Statistics
	Valid      bool
	Issues     []validate.Issue
	Model      cpmodel.Summary
	Solve      solver.Stats
	Objective  []int64
	SolveTime  time.Duration
	Elapsed    time.Duration
	Published  bool
}

// Planner wires a solver into the pipeline. Only Solver is required.
type Planner struct {
	Solver    solver.Solver
	Log       logging.Logger
	Metrics   *observability.PlannerCollector
	Search    *observability.SearchCollector
	Publisher Publisher
}

// New returns a Planner using s.
func New(s solver.Solver, log logging.Logger) *Planner {
	return &Planner{Solver: s, Log: log}
}

// Plan runs the pipeline once. Input errors (core and builder errors),
// solver errors, and solve outcomes without a schedule
// (*decode.NoScheduleError) or with a broken assignment
// (*decode.InconsistencyError) abort the run and return no Result.
func (p *Planner) Plan(ctx context.Context, d *core.Domain, opts Options) (*Result, error) {
	started := time.Now()
	base := p.Log
	if base == nil {
		base = logging.Noop()
	}
	if opts.RunID != "" {
		ctx = logging.ContextWithRunID(ctx, opts.RunID)
	}
	ctx, runID := logging.EnsureRunID(ctx)
	ctx, log := logging.WithRunLogger(ctx, base)

	ctx, span := observability.StartStage(ctx, "plan",
		attribute.Int("planner.horizon", opts.Build.Horizon),
		attribute.String("planner.secondary", string(opts.Build.Secondary)),
	)
	res, err := p.plan(ctx, log, d, opts)
	observability.EndStage(span, err)

	if err != nil {
		status := statusError
		var nse *decode.NoScheduleError
		if errors.As(err, &nse) {
			status = nse.Status.String()
		}
		p.Metrics.ObserveRun(status)
		log.Warn(ctx, "plan failed", logging.String("status", status), logging.Err(err))
		return nil, err
	}

	res.RunID = runID
	res.Elapsed = time.Since(started)
	p.Metrics.ObserveRun(res.Status.String())
	log.Info(ctx, "plan finished",
		logging.String("status", res.Status.String()),
		logging.Int("makespan", res.Statistics.Makespan),
		logging.Bool("valid", res.Valid),
		logging.Int("issues", len(res.Issues)),
		logging.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (p *Planner) plan(ctx context.Context, log logging.Logger, d *core.Domain, opts Options) (*Result, error) {
	if p.Solver == nil {
		return nil, ErrNoSolver
	}

	// build
	bctx, span := observability.StartStage(ctx, "build")
	built, err := (&builder.Builder{Log: log}).Build(bctx, d, opts.Build)
	observability.EndStage(span, err)
	if err != nil {
		return nil, err
	}
	summary := built.Model.Summary()
	p.Metrics.SetModelSize(summary.Bools, summary.Ints, summary.Intervals, summary.Constraints)

	// solve
	sctx, span := observability.StartStage(ctx, "solve",
		attribute.Int64("planner.time_budget_ms", opts.TimeBudget.Milliseconds()))
	var cancel context.CancelFunc
	if opts.TimeBudget > 0 {
		sctx, cancel = context.WithTimeout(sctx, opts.TimeBudget+solveSlack)
	} else {
		sctx, cancel = context.WithCancel(sctx)
	}
	solveStart := time.Now()
	out, err := p.Solver.Solve(sctx, built.Model, solver.Params{TimeBudget: opts.TimeBudget})
	solveTime := time.Since(solveStart)
	cancel()
	if err == nil {
		span.SetAttributes(attribute.String("planner.status", out.Status.String()))
	}
	observability.EndStage(span, err)
	if err != nil {
		return nil, fmt.Errorf("solve: %w", err)
	}
	p.Metrics.ObserveSolve(out.Stats.Backend, solveTime)
	p.Search.ObserveSearch(int(out.Stats.Iterations), int(out.Stats.Improvements))
	log.Debug(ctx, "solve finished",
		logging.String("status", out.Status.String()),
		logging.String("backend", out.Stats.Backend),
		logging.Int64("iterations", out.Stats.Iterations),
		logging.Duration("solve_time", solveTime),
	)

	// decode
	_, span = observability.StartStage(ctx, "decode")
	sched, err := decode.Decode(d, built, out)
	observability.EndStage(span, err)
	if err != nil {
		return nil, err
	}

	// validate
	_, span = observability.StartStage(ctx, "validate")
	valid, issues := validate.Validate(d, sched, built.Config.Horizon)
	span.SetAttributes(attribute.Int("planner.issues", len(issues)))
	observability.EndStage(span, nil)
	if !valid {
		byKind := make(map[string]int)
		for k, n := range validate.CountByKind(issues) {
			byKind[string(k)] = n
		}
		p.Metrics.AddValidationIssues(byKind)
		log.Error(ctx, "schedule failed validation",
			logging.Int("issues", len(issues)),
			logging.String("first", issues[0].String()),
		)
	}

	// statistics
	_, span = observability.StartStage(ctx, "statistics")
	st := stats.Calculate(d, sched)
	observability.EndStage(span, nil)
	p.Metrics.SetMakespan(st.Makespan)
	if out.Stats.LowerBound > 0 {
		p.Search.SetOptimalityGap(int64(st.Makespan), out.Stats.LowerBound)
	}
	if out.Status == solver.StatusOptimal {
		p.Search.IncProvenOptimal()
	}

	res := &Result{
		Status:     out.Status,
		Schedule:   sched,
		Statistics: st,
		Valid:      valid,
		Issues:     issues,
		Model:      summary,
		Solve:      out.Stats,
		Objective:  out.Objective,
		SolveTime:  solveTime,
	}

	if p.Publisher != nil {
		pctx, span := observability.StartStage(ctx, "publish")
		err := p.Publisher.Publish(pctx, logging.RunIDFromContext(ctx), sched)
		observability.EndStage(span, err)
		if err != nil {
			log.Warn(ctx, "publish failed", logging.Err(err))
		} else {
			res.Published = true
		}
	}
	return res, nil
}
