package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/jobshop-planner/internal/logging"
)

// PlannerCollector bundles Prometheus metrics for planning runs and the
// solver service, and provides helpers to wire them into gRPC servers and
// HTTP handlers.
type PlannerCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	Runs             *prometheus.CounterVec
	SolveDurations   *prometheus.HistogramVec
	Makespan         prometheus.Gauge
	ValidationIssues *prometheus.CounterVec
	ModelSize        *prometheus.GaugeVec
}

// NewPlannerCollector registers planner metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Collectors already registered under the same name are reused.
func NewPlannerCollector(reg prometheus.Registerer) (*PlannerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_rpc_requests_total",
		Help: "Total number of handled solver RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"})
	requests, err := registerCounterVec(reg, requests, "solver_rpc_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "solver_rpc_duration_seconds",
		Help:    "Solver RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"service", "method"})
	durations, err = registerHistogramVec(reg, durations, "solver_rpc_duration_seconds")
	if err != nil {
		return nil, err
	}

	runs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_runs_total",
		Help: "Planning runs, labeled by solver status (or error for runs aborted before solving).",
	}, []string{"status"}), "planner_runs_total")
	if err != nil {
		return nil, err
	}

	solve, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "planner_solve_duration_seconds",
		Help:    "Wall time spent in the solver per run.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"backend"}), "planner_solve_duration_seconds")
	if err != nil {
		return nil, err
	}

	makespan, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "planner_last_makespan_minutes",
		Help: "Makespan of the most recent decoded schedule.",
	}), "planner_last_makespan_minutes")
	if err != nil {
		return nil, err
	}

	issues, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_validation_issues_total",
		Help: "Schedule validation issues, labeled by kind.",
	}, []string{"kind"}), "planner_validation_issues_total")
	if err != nil {
		return nil, err
	}

	size, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "planner_model_size",
		Help: "Size of the most recently built constraint model, labeled by element.",
	}, []string{"element"}), "planner_model_size")
	if err != nil {
		return nil, err
	}

	return &PlannerCollector{
		gatherer:         gatherer,
		RPCRequests:      requests,
		RPCDurations:     durations,
		Runs:             runs,
		SolveDurations:   solve,
		Makespan:         makespan,
		ValidationIssues: issues,
		ModelSize:        size,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *PlannerCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *PlannerCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ServeMetrics serves handler at /metrics on addr in the background. The
// caller shuts the returned server down.
func ServeMetrics(addr string, handler http.Handler, log logging.Logger) *http.Server {
	if log == nil {
		log = logging.Noop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

// ObserveRun counts one finished run.
func (c *PlannerCollector) ObserveRun(status string) {
	if c == nil || c.Runs == nil {
		return
	}
	c.Runs.WithLabelValues(status).Inc()
}

// ObserveSolve records solver wall time for backend.
func (c *PlannerCollector) ObserveSolve(backend string, d time.Duration) {
	if c == nil || c.SolveDurations == nil {
		return
	}
	if backend == "" {
		backend = "unknown"
	}
	c.SolveDurations.WithLabelValues(backend).Observe(d.Seconds())
}

// SetMakespan records the latest makespan in minutes.
func (c *PlannerCollector) SetMakespan(minutes int) {
	if c == nil || c.Makespan == nil {
		return
	}
	c.Makespan.Set(float64(minutes))
}

// AddValidationIssues adds per-kind issue counts.
func (c *PlannerCollector) AddValidationIssues(byKind map[string]int) {
	if c == nil || c.ValidationIssues == nil {
		return
	}
	for kind, n := range byKind {
		c.ValidationIssues.WithLabelValues(kind).Add(float64(n))
	}
}

// SetModelSize records the element counts of the latest model.
func (c *PlannerCollector) SetModelSize(bools, ints, intervals, constraints int) {
	if c == nil || c.ModelSize == nil {
		return
	}
	c.ModelSize.WithLabelValues("bools").Set(float64(bools))
	c.ModelSize.WithLabelValues("ints").Set(float64(ints))
	c.ModelSize.WithLabelValues("intervals").Set(float64(intervals))
	c.ModelSize.WithLabelValues("constraints").Set(float64(constraints))
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
