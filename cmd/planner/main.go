package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/signalsfoundry/jobshop-planner/core"
	"github.com/signalsfoundry/jobshop-planner/internal/builder"
	"github.com/signalsfoundry/jobshop-planner/internal/config"
	"github.com/signalsfoundry/jobshop-planner/internal/export"
	"github.com/signalsfoundry/jobshop-planner/internal/logging"
	"github.com/signalsfoundry/jobshop-planner/internal/observability"
	"github.com/signalsfoundry/jobshop-planner/internal/planner"
	"github.com/signalsfoundry/jobshop-planner/internal/solver"
	"github.com/signalsfoundry/jobshop-planner/internal/solver/engine"
	"github.com/signalsfoundry/jobshop-planner/internal/solver/remote"
	"github.com/signalsfoundry/jobshop-planner/kb"
	"github.com/signalsfoundry/jobshop-planner/model"
)

func main() {
	cfg, err := config.Load("planner")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg.Log.Output = os.Stderr
	log := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}

	err = run(ctx, cfg, log, os.Args[1:], os.Stdout)
	observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)
	if err != nil {
		log.Error(ctx, "planning failed", logging.Err(err))
		os.Exit(1)
	}
}

type flags struct {
	scenario  string
	horizon   int
	budget    time.Duration
	secondary string
	csvPath   string
	jsonPath  string
	sweep     string
	parallel  int
}

func parseFlags(cfg config.Config, args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("planner", flag.ContinueOnError)
	fs.StringVar(&f.scenario, "scenario", "configs/sample_scenario.json", "path to a JSON scenario")
	fs.IntVar(&f.horizon, "horizon", cfg.Planner.HorizonMinutes, "planning horizon in minutes")
	fs.DurationVar(&f.budget, "budget", cfg.Planner.TimeBudget, "solve time budget")
	fs.StringVar(&f.secondary, "secondary", string(cfg.Planner.Secondary), "secondary objective: none, lexicographic or blended")
	fs.StringVar(&f.csvPath, "csv", "", "write the schedule as CSV to this path (- for stdout)")
	fs.StringVar(&f.jsonPath, "json", "", "write the schedule as JSON to this path (- for stdout)")
	fs.StringVar(&f.sweep, "sweep", "", "comma-separated horizons to plan concurrently instead of -horizon")
	fs.IntVar(&f.parallel, "parallel", planner.DefaultSweepParallelism, "concurrent plans during a sweep")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	return f, nil
}

func run(ctx context.Context, cfg config.Config, log logging.Logger, args []string, stdout io.Writer) error {
	f, err := parseFlags(cfg, args)
	if err != nil {
		return err
	}
	cfg.Planner.HorizonMinutes = f.horizon
	cfg.Planner.TimeBudget = f.budget
	cfg.Planner.Secondary = builder.Secondary(f.secondary)
	if err := cfg.Validate(); err != nil {
		return err
	}

	d, epoch, err := loadDomain(ctx, cfg, log, f.scenario)
	if err != nil {
		return err
	}

	s, closeSolver, err := newSolver(cfg, log)
	if err != nil {
		return err
	}
	defer closeSolver()

	p := planner.New(s, log)
	if p.Metrics, err = observability.NewPlannerCollector(nil); err != nil {
		return err
	}
	if p.Search, err = observability.NewSearchCollector(nil); err != nil {
		return err
	}
	if cfg.Metrics.Enabled() {
		srv := observability.ServeMetrics(cfg.Metrics.Addr, p.Metrics.Handler(), log)
		defer shutdownHTTP(srv)
	}
	if cfg.Redis.Enabled() {
		rdb, err := export.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		p.Publisher = export.NewRedisPublisher(rdb, cfg.Redis.TTL)
	}

	opts := planner.Options{Build: cfg.BuilderConfig(), TimeBudget: cfg.Planner.TimeBudget}

	var res *planner.Result
	if f.sweep != "" {
		horizons, err := parseHorizons(f.sweep)
		if err != nil {
			return err
		}
		results := p.Sweep(ctx, d, opts, horizons, f.parallel)
		printSweep(stdout, results)
		best := planner.Best(results)
		if best == nil {
			return errors.New("no horizon produced a valid schedule")
		}
		res = best.Result
	} else {
		if res, err = p.Plan(ctx, d, opts); err != nil {
			return err
		}
	}

	printResult(stdout, res, epoch)
	if err := writeExport(stdout, f.csvPath, res, export.WriteCSV); err != nil {
		return err
	}
	if err := writeExport(stdout, f.jsonPath, res, export.WriteJSON); err != nil {
		return err
	}
	if !res.Valid {
		return fmt.Errorf("schedule failed validation with %d issues", len(res.Issues))
	}
	return nil
}

// loadDomain reads the scenario into a knowledge base and freezes it,
// returning the scenario epoch alongside. Configuration overrides follow
// the scenario's own settings.
func loadDomain(ctx context.Context, cfg config.Config, log logging.Logger, path string) (*core.Domain, time.Time, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer fh.Close()

	sc, err := core.LoadScenario(fh)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%s: %w", path, err)
	}

	store := kb.NewKnowledgeBase()
	unsubscribe := store.Subscribe(func(e kb.Event) {
		switch e.Type {
		case kb.EventJobAdded:
			log.Debug(ctx, "job registered", logging.String("job_id", e.Job.ID), logging.Int("operations", len(e.Job.Operations)))
		case kb.EventMachineAdded:
			log.Debug(ctx, "machine registered", logging.String("machine_id", e.Machine.ID))
		}
	})
	defer unsubscribe()

	for _, j := range sc.Jobs {
		if err := store.AddJob(j); err != nil {
			return nil, time.Time{}, err
		}
	}
	for _, m := range sc.Machines {
		if err := store.AddMachine(m); err != nil {
			return nil, time.Time{}, err
		}
	}

	d, err := store.Snapshot(append(sc.Options(), cfg.DomainOptions()...)...)
	if err != nil {
		return nil, time.Time{}, err
	}
	log.Info(ctx, "scenario loaded",
		logging.String("path", path),
		logging.Int("jobs", d.NumJobs()),
		logging.Int("machines", d.NumMachines()),
		logging.Int("granularity", d.Granularity()),
	)
	return d, sc.Epoch, nil
}

func newSolver(cfg config.Config, log logging.Logger) (solver.Solver, func(), error) {
	if cfg.Solver.Remote() {
		client, conn, err := remote.Dial(cfg.Solver.Endpoint)
		if err != nil {
			return nil, nil, fmt.Errorf("dial solver %s: %w", cfg.Solver.Endpoint, err)
		}
		log.Info(context.Background(), "using remote solver", logging.String("endpoint", cfg.Solver.Endpoint))
		return client, func() { _ = conn.Close() }, nil
	}
	eng, err := engine.New(cfg.EngineConfig(), log)
	if err != nil {
		return nil, nil, err
	}
	return eng, func() {}, nil
}

func parseHorizons(raw string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		h, err := strconv.Atoi(part)
		if err != nil || h <= 0 {
			return nil, fmt.Errorf("invalid sweep horizon %q", part)
		}
		out = append(out, h)
	}
	if len(out) == 0 {
		return nil, errors.New("empty sweep")
	}
	return out, nil
}

func printSweep(w io.Writer, results []planner.SweepResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HORIZON\tSTATUS\tMAKESPAN\tVALID\tDETAIL")
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(tw, "%d\terror\t-\t-\t%v\n", r.Horizon, r.Err)
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%v\t\n", r.Horizon, r.Result.Status, r.Result.Statistics.Makespan, r.Result.Valid)
	}
	tw.Flush()
}

// printResult writes the run summary. With a scenario epoch, completions
// are also shown as wall-clock times.
func printResult(w io.Writer, res *planner.Result, epoch time.Time) {
	st := res.Statistics
	fmt.Fprintf(w, "run %s: %s, makespan %d min, %d jobs, valid=%v\n",
		res.RunID, res.Status, st.Makespan, st.TotalJobs, res.Valid)
	if !epoch.IsZero() {
		fmt.Fprintf(w, "shop window %s to %s\n", wallClock(epoch, 0), wallClock(epoch, st.Makespan))
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MACHINE\tBUSY\tOPS\tUTILIZATION")
	for _, m := range st.Machines {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f%%\n", m.MachineID, m.BusyMinutes, m.Operations, m.UtilizationPercent())
	}
	fmt.Fprintln(tw, "JOB\tCOMPLETION\tSPAN\tTARDINESS\tFINISHES")
	for _, j := range st.Jobs {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", j.JobID, j.Completion, j.Span, j.Tardiness, wallClock(epoch, j.Completion))
	}
	tw.Flush()

	for _, is := range res.Issues {
		fmt.Fprintf(w, "issue: %s\n", is)
	}
}

func wallClock(epoch time.Time, minute int) string {
	if epoch.IsZero() {
		return "-"
	}
	return core.AtMinute(epoch, minute).Format(time.RFC3339)
}

func writeExport(stdout io.Writer, path string, res *planner.Result, write func(io.Writer, []model.ExportRow) error) error {
	if path == "" {
		return nil
	}
	if path == "-" {
		return write(stdout, res.Schedule.Export())
	}
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(fh, res.Schedule.Export()); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

func shutdownHTTP(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
