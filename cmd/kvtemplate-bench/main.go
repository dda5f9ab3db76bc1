// Command kvtemplate-bench drives a workload through a Template backed by a
// pooled in-memory store and reports throughput.
//
// Configuration comes from defaults, an optional YAML file (--config), the
// KVTEMPLATE_* environment and flags, in increasing priority.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pior/kvtemplate"
	"github.com/pior/kvtemplate/codec"
	"github.com/pior/kvtemplate/memstore"
	"github.com/pior/kvtemplate/pool"
	"github.com/pior/kvtemplate/promstats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

// Build information, set via ldflags.
var Version = "dev"

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func app() *cli.App {
	return &cli.App{
		Name:    "kvtemplate-bench",
		Usage:   "Benchmark kvtemplate against an in-memory store",
		Version: Version,
		Commands: []*cli.Command{
			runCommand(),
			workloadsCommand(),
		},
	}
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"workload":     "workload",
	"duration":     "duration",
	"concurrency":  "concurrency",
	"rate":         "rate",
	"keys":         "keys",
	"pool-size":    "pool.size",
	"metrics-addr": "metrics.addr",
	"log-level":    "log.level",
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a workload and print a summary",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file"},
			&cli.StringFlag{Name: "workload", Aliases: []string{"w"}, Usage: "Workload: values, lists, hashes, pipeline, tx or mixed"},
			&cli.DurationFlag{Name: "duration", Aliases: []string{"d"}, Usage: "How long to run"},
			&cli.IntFlag{Name: "concurrency", Aliases: []string{"n"}, Usage: "Number of concurrent workers"},
			&cli.Float64Flag{Name: "rate", Usage: "Maximum operations per second, 0 is unlimited"},
			&cli.IntFlag{Name: "keys", Usage: "Size of the key space"},
			&cli.IntFlag{Name: "pool-size", Usage: "Maximum pooled connections"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on this address (e.g., :9090)"},
			&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error"},
		},
		Action: func(c *cli.Context) error {
			overrides := make(map[string]any)
			for flag, key := range flagKeys {
				if c.IsSet(flag) {
					overrides[key] = c.Value(flag)
				}
			}

			cfg, err := loadConfig(c.String("config"), overrides)
			if err != nil {
				return err
			}

			logger, err := newLogger(os.Stderr, cfg.Log.Level)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := bench(ctx, cfg, logger)
			if err != nil {
				return err
			}
			printResult(c.App.Writer, result)
			return nil
		},
	}
}

func workloadsCommand() *cli.Command {
	return &cli.Command{
		Name:  "workloads",
		Usage: "List the available workloads",
		Action: func(c *cli.Context) error {
			for _, name := range workloadNames() {
				fmt.Fprintln(c.App.Writer, name)
			}
			return nil
		},
	}
}

// bench wires the store, pool, template and metrics, then runs the workload.
func bench(ctx context.Context, cfg benchConfig, logger *slog.Logger) (benchResult, error) {
	store := memstore.New(memstore.Config{})

	poolConfig := pool.Config{
		Name:                "memstore",
		Dialer:              store.Dial,
		MaxSize:             cfg.Pool.Size,
		MaxConnLifetime:     cfg.Pool.Lifetime,
		MaxConnIdleTime:     cfg.Pool.Idle,
		HealthCheckInterval: cfg.Pool.HealthCheck,
		Logger:              logger,
	}
	if cfg.Pool.Breaker {
		poolConfig.NewCircuitBreaker = pool.NewCircuitBreakerConfig(1, time.Minute, 5*time.Second)
	}
	factory, err := pool.New(poolConfig)
	if err != nil {
		return benchResult{}, err
	}
	defer factory.Close()

	tpl, err := kvtemplate.New(kvtemplate.Config{
		Factory:                  factory,
		DefaultCodec:             codec.String,
		EnableTransactionSupport: true,
		Logger:                   logger,
	})
	if err != nil {
		return benchResult{}, err
	}

	if cfg.Metrics.Addr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(promstats.New("kvtemplate", tpl, factory))

		shutdown := serveMetrics(cfg.Metrics.Addr, registry, logger)
		defer shutdown()
	}

	logger.Info("starting benchmark",
		"workload", cfg.Workload,
		"duration", cfg.Duration,
		"concurrency", cfg.Concurrency,
		"rate", cfg.Rate)

	result, err := runBench(ctx, cfg, tpl, logger)
	if err != nil {
		return result, err
	}

	stats := tpl.Stats()
	poolStats := factory.Stats()
	logger.Info("benchmark done",
		"executions", stats.Executions,
		"pipelines", stats.Pipelines,
		"errors", stats.Errors,
		"connections_created", poolStats.CreatedConns,
		"connections_destroyed", poolStats.DestroyedConns,
		"store_dialed", store.Stats().Dialed)
	return result, nil
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) (shutdown func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

func printResult(w io.Writer, result benchResult) {
	fmt.Fprintf(w, "\n=== %s Benchmark Results ===\n", result.Workload)
	fmt.Fprintf(w, "Duration: %v\n", result.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Total Operations: %d\n", result.TotalOps)
	fmt.Fprintf(w, "Failures: %d\n", result.Failures)
	fmt.Fprintf(w, "Operations/sec: %.2f\n", result.OpsPerSecond)
	fmt.Fprintf(w, "Average Latency: %v\n", result.AvgLatency)
	if result.TotalOps > 0 {
		fmt.Fprintf(w, "Failure Rate: %.2f%%\n", float64(result.Failures)/float64(result.TotalOps)*100)
	}
}
