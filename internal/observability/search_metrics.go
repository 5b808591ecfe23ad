package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// SearchCollector exposes solver search metrics.
type SearchCollector struct {
	gatherer prometheus.Gatherer

	Iterations    prometheus.Histogram
	Improvements  prometheus.Counter
	ProvenOptimal prometheus.Counter
	OptimalityGap prometheus.Gauge
}

// NewSearchCollector registers search metrics against the provided registerer.
func NewSearchCollector(reg prometheus.Registerer) (*SearchCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	iterations := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "solver_search_iterations",
		Help:    "Local search iterations per solve.",
		Buckets: prometheus.ExponentialBuckets(100, 4, 8),
	})
	iterations, err := registerHistogram(reg, iterations, "solver_search_iterations")
	if err != nil {
		return nil, err
	}

	improvements := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "solver_search_improvements_total",
		Help: "Cumulative number of incumbent improvements found by the search.",
	})
	improvements, err = registerCounter(reg, improvements, "solver_search_improvements_total")
	if err != nil {
		return nil, err
	}

	proven := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "solver_proven_optimal_total",
		Help: "Solves whose result matched the lower bound.",
	})
	proven, err = registerCounter(reg, proven, "solver_proven_optimal_total")
	if err != nil {
		return nil, err
	}

	gap := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "solver_optimality_gap_ratio",
		Help: "Relative gap between the last makespan and its lower bound.",
	})
	gap, err = registerGauge(reg, gap, "solver_optimality_gap_ratio")
	if err != nil {
		return nil, err
	}

	return &SearchCollector{
		gatherer:      gatherer,
		Iterations:    iterations,
		Improvements:  improvements,
		ProvenOptimal: proven,
		OptimalityGap: gap,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SearchCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveSearch records one solve's iteration and improvement counts.
func (c *SearchCollector) ObserveSearch(iterations, improvements int) {
	if c == nil {
		return
	}
	if c.Iterations != nil {
		c.Iterations.Observe(float64(iterations))
	}
	if c.Improvements != nil && improvements > 0 {
		c.Improvements.Add(float64(improvements))
	}
}

// IncProvenOptimal counts a solve proven optimal.
func (c *SearchCollector) IncProvenOptimal() {
	if c == nil || c.ProvenOptimal == nil {
		return
	}
	c.ProvenOptimal.Inc()
}

// SetOptimalityGap sets (makespan - bound) / makespan, clamped to [0,1].
func (c *SearchCollector) SetOptimalityGap(makespan, bound int64) {
	if c == nil || c.OptimalityGap == nil {
		return
	}
	ratio := 0.0
	if makespan > 0 {
		ratio = float64(makespan-bound) / float64(makespan)
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	c.OptimalityGap.Set(ratio)
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
