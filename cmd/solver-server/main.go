package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/signalsfoundry/jobshop-planner/internal/config"
	"github.com/signalsfoundry/jobshop-planner/internal/logging"
	"github.com/signalsfoundry/jobshop-planner/internal/observability"
	"github.com/signalsfoundry/jobshop-planner/internal/solver/engine"
	"github.com/signalsfoundry/jobshop-planner/internal/solver/remote"
)

func main() {
	cfg, err := config.Load("solver-server")
	if err != nil {
		logging.NewFromEnv().Error(context.Background(), "invalid configuration", logging.Err(err))
		os.Exit(1)
	}

	grpcAddr := flag.String("grpc-addr", cfg.Solver.ListenAddr, "TCP address the solver gRPC server listens on")
	metricsAddr := flag.String("metrics-addr", cfg.Metrics.Addr, "HTTP address for Prometheus /metrics (empty disables)")
	flag.Parse()
	cfg.Solver.ListenAddr = *grpcAddr
	cfg.Metrics.Addr = *metricsAddr

	log := logging.New(cfg.Log)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	lis, err := net.Listen("tcp", cfg.Solver.ListenAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Solver.ListenAddr), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "solver server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves the solver service on lis until ctx is cancelled.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	collector, err := observability.NewPlannerCollector(nil)
	if err != nil {
		return err
	}
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled() {
		metricsSrv = observability.ServeMetrics(cfg.Metrics.Addr, collector.Handler(), log)
	}

	eng, err := engine.New(cfg.EngineConfig(), log)
	if err != nil {
		return err
	}
	server := remote.NewGRPCServer(
		remote.NewServer(eng, log),
		remote.RunIDUnaryServerInterceptor(log),
		collector.UnaryServerInterceptor(),
	)

	log.Info(ctx, "starting solver gRPC server", logging.String("addr", lis.Addr().String()))
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info(context.Background(), "shutting down solver server")
	server.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}
