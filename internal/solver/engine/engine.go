// Package engine is the in-process solving backend. It reads the
// scheduling structure out of a cpmodel.Model, proves assignment-level
// infeasibility with a SAT solver, bounds the makespan from below and
// searches priority lists and machine choices with simulated annealing.
// When annealing finds nothing that fits the horizon, a depth-first search
// over the same placement scheme settles feasibility within the budget.
package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"time"

	"github.com/signalsfoundry/jobshop-planner/internal/cpmodel"
	"github.com/signalsfoundry/jobshop-planner/internal/logging"
	"github.com/signalsfoundry/jobshop-planner/internal/solver"
)

const backendName = "engine"

// Engine implements solver.Solver. It holds no per-solve state and is safe
// for concurrent use.
type Engine struct {
	Cfg Config
	Log logging.Logger
}

var _ solver.Solver = (*Engine)(nil)

// New returns an engine with a validated configuration.
func New(cfg Config, log logging.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Engine{Cfg: cfg, Log: log}, nil
}

// Solve searches m within the time budget.
func (e *Engine) Solve(ctx context.Context, m *cpmodel.Model, params solver.Params) (solver.Outcome, error) {
	started := time.Now()
	if err := e.Cfg.Validate(); err != nil {
		return solver.Outcome{}, err
	}
	log := e.Log
	if log == nil {
		log = logging.Noop()
	}

	p, err := presolve(m)
	if err != nil {
		return solver.Outcome{}, err
	}

	ctx, cancel := solver.WithBudget(ctx, params.TimeBudget)
	defer cancel()

	out := solver.Outcome{Stats: solver.Stats{Backend: backendName}}
	finish := func(o solver.Outcome) (solver.Outcome, error) {
		o.WallTime = time.Since(started)
		log.Debug(ctx, "engine finished",
			logging.String("status", o.Status.String()),
			logging.Int64("iterations", o.Stats.Iterations),
			logging.Int64("nodes", o.Stats.Nodes),
			logging.Int64("lower_bound", o.Stats.LowerBound),
			logging.Duration("wall_time", o.WallTime),
		)
		return o, nil
	}

	if len(p.tasks) == 0 {
		// nothing to place; the derived variables sit at their floors.
		d := newDecoder(p)
		s := d.decode(nil, nil, false, nil)
		if !s.feasible() {
			out.Status = solver.StatusInfeasible
			return finish(out)
		}
		out.Status = solver.StatusOptimal
		out.Assignment = s.assignment
		out.Objective = s.objective
		return finish(out)
	}

	p.markStatic()
	seedChoice, sat := p.satChoice()
	if !sat {
		out.Status = solver.StatusInfeasible
		return finish(out)
	}

	lb := p.lowerBound()
	if lb.valid {
		out.Stats.LowerBound = lb.value
		if lb.value > lb.hi {
			out.Status = solver.StatusInfeasible
			return finish(out)
		}
	}

	if ctx.Err() != nil {
		out.Status = solver.StatusTimedOut
		return finish(out)
	}

	best, iters, improvements, stopped := e.search(ctx, p, seedChoice, lb)
	out.Stats.Iterations = iters
	out.Stats.Improvements = improvements

	if best == nil || !best.feasible() {
		if stopped || ctx.Err() != nil {
			out.Status = solver.StatusTimedOut
			return finish(out)
		}
		// Annealing ran out of iterations, not time: settle feasibility
		// exhaustively within what is left of the budget.
		found, exhausted, nodes := p.exactSearch(ctx, p.allowedAlts())
		out.Stats.Nodes = nodes
		switch {
		case found != nil:
			best = found
			stopped = false
		case exhausted:
			out.Status = solver.StatusInfeasible
			return finish(out)
		default:
			out.Status = solver.StatusTimedOut
			return finish(out)
		}
	}
	if v := m.Check(best.assignment); len(v) > 0 {
		return solver.Outcome{}, fmt.Errorf("engine produced an assignment violating %s", v[0])
	}

	out.Assignment = best.assignment
	out.Objective = best.objective
	switch {
	case p.proven(best, lb):
		out.Status = solver.StatusOptimal
	case stopped:
		out.Status = solver.StatusTimedOut
	default:
		out.Status = solver.StatusFeasible
	}
	return finish(out)
}

// proven reports whether s meets the lower bound on the first level and
// every later level sits at its trivial floor.
func (p *problem) proven(s *schedule, lb bound) bool {
	if !lb.valid || !s.feasible() || len(s.objective) == 0 || s.objective[0] != lb.value {
		return false
	}
	for lvl := 1; lvl < len(s.objective); lvl++ {
		if !p.secondaryFloor(s.assignment, lvl) {
			return false
		}
	}
	return true
}

// search runs annealing with reheats until the iteration cap, the context
// deadline or a proven optimum. stopped reports a context stop.
func (e *Engine) search(ctx context.Context, p *problem, seedChoice []int, lb bound) (best *schedule, iters, improvements int64, stopped bool) {
	rng := rand.New(rand.NewSource(e.Cfg.Seed))
	allowed := p.allowedAlts()
	d := newDecoder(p)

	// Initial priority list: topological order sorted by release.
	order := append([]int(nil), p.topo...)
	slices.SortStableFunc(order, func(a, b int) int {
		ra, rb := p.taskRelease(a), p.taskRelease(b)
		switch {
		case ra < rb:
			return -1
		case ra > rb:
			return 1
		}
		return 0
	})

	greedy := d.decode(order, nil, true, allowed)
	seeded := d.decode(order, seedChoice, false, allowed)
	curr := greedy
	if seeded.better(greedy) {
		curr = seeded
	}
	best = curr
	if p.proven(best, lb) {
		return best, 0, 0, false
	}

	var flexible []int
	for t, alts := range allowed {
		if len(alts) > 1 {
			flexible = append(flexible, t)
		}
	}

	maxIter := e.Cfg.iterations(len(p.tasks))
	T := e.Cfg.InitialTemp
	candOrder := make([]int, len(order))
	candChoice := make([]int, len(order))

	for iter := 0; iter < maxIter; iter++ {
		if iter%64 == 0 && ctx.Err() != nil {
			return best, int64(iter), improvements, true
		}
		iters = int64(iter + 1)

		copy(candOrder, curr.order)
		copy(candChoice, curr.choice)
		moves := 2
		if len(flexible) > 0 {
			moves = 3
		}
		switch rng.Intn(moves) {
		case 0:
			neighborSwap(candOrder, rng)
		case 1:
			neighborInsert(candOrder, rng)
		default:
			t := flexible[rng.Intn(len(flexible))]
			alts := allowed[t]
			next := alts[rng.Intn(len(alts)-1)]
			if next == candChoice[t] {
				next = alts[len(alts)-1]
			}
			candChoice[t] = next
		}

		cand := d.decode(candOrder, candChoice, false, allowed)

		delta := (cand.energy - curr.energy) / math.Max(1, math.Abs(curr.energy))
		if delta <= 0 || rng.Float64() < math.Exp(-delta/T) {
			curr = cand
			if curr.better(best) {
				best = curr
				improvements++
				if p.proven(best, lb) {
					return best, iters, improvements, false
				}
			}
		}

		T *= e.Cfg.Alpha
		if T < e.Cfg.FinalTemp {
			// reheat from the incumbent
			T = e.Cfg.InitialTemp
			curr = best
		}
	}
	return best, iters, improvements, false
}

func (p *problem) taskRelease(t int) int64 {
	r := int64(math.MaxInt64)
	for _, a := range p.tasks[t].alts {
		if a.allowed {
			r = min(r, a.release)
		}
	}
	return r
}

// neighborSwap exchanges two random positions.
func neighborSwap(p []int, rng *rand.Rand) {
	if len(p) < 2 {
		return
	}
	i := rng.Intn(len(p))
	j := rng.Intn(len(p) - 1)
	if j >= i {
		j++
	}
	p[i], p[j] = p[j], p[i]
}

// neighborInsert moves the element at i to position j.
func neighborInsert(p []int, rng *rand.Rand) {
	n := len(p)
	if n < 2 {
		return
	}
	i := rng.Intn(n)
	j := rng.Intn(n - 1)
	if j >= i {
		j++
	}

	val := p[i]
	if i < j {
		copy(p[i:j], p[i+1:j+1])
		p[j] = val
	} else {
		copy(p[j+1:i+1], p[j:i])
		p[j] = val
	}
}
