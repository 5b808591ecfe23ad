package planner

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/signalsfoundry/jobshop-planner/core"
	"github.com/signalsfoundry/jobshop-planner/internal/logging"
)

// DefaultSweepParallelism bounds concurrent plans in Sweep.
const DefaultSweepParallelism = 4

// SweepResult is one horizon's outcome.
type SweepResult struct {
	Horizon int
	Result  *Result
	Err     error
}

// Sweep plans d once per horizon, concurrently, over the shared read-only
// domain. Results come back in horizon order. Each run gets its own run id:
// "<parent>.<index>" under a parent id from base or ctx, a fresh uuid
// otherwise. parallelism <= 0 uses DefaultSweepParallelism.
func (p *Planner) Sweep(ctx context.Context, d *core.Domain, base Options, horizons []int, parallelism int) []SweepResult {
	if parallelism <= 0 {
		parallelism = DefaultSweepParallelism
	}
	parent := base.RunID
	if parent == "" {
		parent = logging.RunIDFromContext(ctx)
	}
	results := make([]SweepResult, len(horizons))
	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup

	for i, h := range horizons {
		results[i].Horizon = h
		wg.Add(1)
		go func(i, h int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i].Err = ctx.Err()
				return
			}
			defer func() { <-sem }()

			opts := base
			opts.Build.Horizon = h
			opts.RunID = uuid.NewString()
			if parent != "" {
				opts.RunID = fmt.Sprintf("%s.%d", parent, i)
			}
			results[i].Result, results[i].Err = p.Plan(ctx, d, opts)
		}(i, h)
	}
	wg.Wait()
	return results
}

// Best returns the valid result with the smallest makespan, or nil.
func Best(results []SweepResult) *SweepResult {
	var best *SweepResult
	for i := range results {
		r := &results[i]
		if r.Err != nil || r.Result == nil || !r.Result.Valid {
			continue
		}
		if best == nil || r.Result.Statistics.Makespan < best.Result.Statistics.Makespan {
			best = r
		}
	}
	return best
}
