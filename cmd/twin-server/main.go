// Command twin-server loads an optical network topology and serves its
// control interface over gRPC, with Prometheus metrics on a side port.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mininet-Optical/mininet-optical-sub000/core"
	"github.com/Mininet-Optical/mininet-optical-sub000/internal/control"
	"github.com/Mininet-Optical/mininet-optical-sub000/internal/logging"
	"github.com/Mininet-Optical/mininet-optical-sub000/internal/observability"
	"github.com/Mininet-Optical/mininet-optical-sub000/internal/twin"
	"github.com/Mininet-Optical/mininet-optical-sub000/topology"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

// Config holds the process settings.
type Config struct {
	ListenAddress    string
	MetricsAddress   string
	LogLevel         string
	LogFormat        string
	TopologyPath     string
	MaxSwitchesPass  int
	ShutdownDeadline time.Duration
}

func parseFlags(args []string) (Config, error) {
	fs := flag.NewFlagSet("twin-server", flag.ContinueOnError)
	cfg := Config{}
	fs.StringVar(&cfg.ListenAddress, "grpc-addr", ":50051", "TCP address the control gRPC server listens on")
	fs.StringVar(&cfg.MetricsAddress, "metrics-addr", ":9090", "HTTP address for Prometheus /metrics (empty disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", envOr("LOG_FORMAT", "text"), "log format: text or json")
	fs.StringVar(&cfg.TopologyPath, "topology", "examples/topologies/linear.yaml", "topology file (.yaml, .yml or .json)")
	fs.IntVar(&cfg.MaxSwitchesPass, "max-switches", 0, "per-pass switch budget (0 uses the default)")
	fs.DurationVar(&cfg.ShutdownDeadline, "shutdown-timeout", 5*time.Second, "graceful shutdown deadline")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.TopologyPath == "" {
		return Config{}, errors.New("-topology is required")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, nil); err != nil {
		log.Error(context.Background(), "twin server failed", logging.Err(err))
		os.Exit(1)
	}
}

// run serves until ctx is cancelled. When lis is nil it listens on
// cfg.ListenAddress.
func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) error {
	if log == nil {
		log = logging.Noop()
	}

	reg := prometheus.NewRegistry()
	controlMetrics, err := observability.NewControlCollector(reg)
	if err != nil {
		return fmt.Errorf("control metrics: %w", err)
	}
	propMetrics, err := observability.NewPropagationCollector(reg)
	if err != nil {
		return fmt.Errorf("propagation metrics: %w", err)
	}

	desc, err := topology.LoadFile(cfg.TopologyPath)
	if err != nil {
		return err
	}

	tracingCfg := observability.TracingConfigFromEnv()
	tracingCfg.Topology = desc.Name
	if tracingCfg.Topology == "" {
		tracingCfg.Topology = cfg.TopologyPath
	}
	shutdownTracing, err := observability.InitTracing(ctx, tracingCfg, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	netOpts := []core.Option{core.WithObserver(propMetrics)}
	if cfg.MaxSwitchesPass > 0 {
		netOpts = append(netOpts, core.WithMaxSwitchesPerPass(cfg.MaxSwitchesPass))
	}
	tw, err := twin.FromDescription(ctx, desc, log, netOpts, twin.WithMetricsRecorder(controlMetrics))
	if err != nil {
		return fmt.Errorf("build topology %s: %w", cfg.TopologyPath, err)
	}
	log.Info(ctx, "topology loaded",
		logging.String("path", cfg.TopologyPath),
		logging.Int("nodes", len(desc.Terminals)+len(desc.Roadms)),
		logging.Int("links", len(desc.Links)),
		logging.Int("amplifiers", len(desc.Amplifiers)),
	)

	metricsSrv := serveMetrics(cfg.MetricsAddress, controlMetrics, log)

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			control.RequestIDUnaryServerInterceptor(log),
			control.TracingUnaryServerInterceptor(),
			control.AccessLogUnaryServerInterceptor(log),
			controlMetrics.UnaryServerInterceptor(),
		),
	)
	control.RegisterControlServer(server, control.NewServer(tw, log))

	if lis == nil {
		lis, err = net.Listen("tcp", cfg.ListenAddress)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.ListenAddress, err)
		}
	}

	log.Info(ctx, "starting control gRPC server", logging.String("addr", lis.Addr().String()))
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
	}

	log.Info(context.Background(), "shutting down control server")
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	deadline := cfg.ShutdownDeadline
	if deadline <= 0 {
		deadline = 5 * time.Second
	}
	select {
	case <-stopped:
	case <-time.After(deadline):
		server.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func serveMetrics(addr string, collector *observability.ControlCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
