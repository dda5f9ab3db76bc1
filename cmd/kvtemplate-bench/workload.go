package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync/atomic"
	"time"

	"github.com/pior/kvtemplate"
	"github.com/pior/kvtemplate/driver"
	"github.com/pior/kvtemplate/txsync"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// workload runs one benchmark operation against a random key.
type workload func(ctx context.Context, tpl *kvtemplate.Template, key string, rng *rand.Rand) error

var workloads = map[string]workload{
	"values":   valuesWorkload,
	"lists":    listsWorkload,
	"hashes":   hashesWorkload,
	"pipeline": pipelineWorkload,
	"tx":       txWorkload,
	"mixed":    mixedWorkload,
}

func workloadNames() []string {
	names := make([]string, 0, len(workloads))
	for name := range workloads {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// valuesWorkload writes a value and reads it back.
func valuesWorkload(ctx context.Context, tpl *kvtemplate.Template, key string, rng *rand.Rand) error {
	value := fmt.Sprintf("value-%d", rng.IntN(1_000_000))
	if err := tpl.Values().Set(ctx, key, value); err != nil {
		return err
	}
	got, err := tpl.Values().Get(ctx, key)
	if err != nil {
		return err
	}
	if got == nil {
		return fmt.Errorf("key %s: value missing after set", key)
	}
	return nil
}

// listsWorkload pushes to a bounded list, trimming it from the left.
func listsWorkload(ctx context.Context, tpl *kvtemplate.Template, key string, rng *rand.Rand) error {
	key = "list:" + key
	size, err := tpl.Lists().RightPush(ctx, key, fmt.Sprint(rng.IntN(1000)))
	if err != nil {
		return err
	}
	if size > 16 {
		if _, err := tpl.Lists().LeftPop(ctx, key); err != nil {
			return err
		}
	}
	_, err = tpl.Lists().Range(ctx, key, 0, -1)
	return err
}

func hashesWorkload(ctx context.Context, tpl *kvtemplate.Template, key string, rng *rand.Rand) error {
	key = "hash:" + key
	field := fmt.Sprintf("f%d", rng.IntN(8))
	if err := tpl.Hashes().Put(ctx, key, field, fmt.Sprint(rng.IntN(1000))); err != nil {
		return err
	}
	_, err := tpl.Hashes().Entries(ctx, key)
	return err
}

// pipelineWorkload batches a write, a read and a counter in one round trip.
func pipelineWorkload(ctx context.Context, tpl *kvtemplate.Template, key string, rng *rand.Rand) error {
	results, err := tpl.ExecutePipelined(ctx, func(ctx context.Context, conn driver.Conn) (any, error) {
		if _, err := conn.Do(ctx, driver.Set([]byte(key), []byte("pipelined"), driver.SetOptions{})); err != nil {
			return nil, err
		}
		if _, err := conn.Do(ctx, driver.Get([]byte(key))); err != nil {
			return nil, err
		}
		if _, err := conn.Do(ctx, driver.IncrBy([]byte("counter:"+key), int64(rng.IntN(10)+1))); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	if len(results) != 3 {
		return fmt.Errorf("pipeline returned %d results, want 3", len(results))
	}
	return nil
}

// txWorkload increments a counter and appends to its audit list in one
// unit of work.
func txWorkload(ctx context.Context, tpl *kvtemplate.Template, key string, rng *rand.Rand) error {
	return txsync.Run(ctx, txsync.Options{Name: "bench"}, func(ctx context.Context) error {
		if _, err := tpl.Values().Increment(ctx, "counter:"+key, 1); err != nil {
			return err
		}
		_, err := tpl.Lists().RightPush(ctx, "audit:"+key, "incr")
		return err
	})
}

var mixed = []workload{valuesWorkload, listsWorkload, hashesWorkload, pipelineWorkload, txWorkload}

func mixedWorkload(ctx context.Context, tpl *kvtemplate.Template, key string, rng *rand.Rand) error {
	return mixed[rng.IntN(len(mixed))](ctx, tpl, key, rng)
}

type benchResult struct {
	Workload     string
	Duration     time.Duration
	TotalOps     uint64
	Failures     uint64
	AvgLatency   time.Duration
	OpsPerSecond float64
}

// runBench runs the configured workload from cfg.Concurrency workers until
// cfg.Duration elapses or ctx is done.
func runBench(ctx context.Context, cfg benchConfig, tpl *kvtemplate.Template, logger *slog.Logger) (benchResult, error) {
	run, ok := workloads[cfg.Workload]
	if !ok {
		return benchResult{}, fmt.Errorf("unknown workload %q", cfg.Workload)
	}

	limit := rate.Inf
	burst := 1
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
		burst = max(1, int(cfg.Rate)/10)
	}
	limiter := rate.NewLimiter(limit, burst)

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var totalOps, failures, totalLatency atomic.Uint64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for worker := range cfg.Concurrency {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(uint64(worker), uint64(start.UnixNano())))
			for {
				if err := limiter.Wait(gctx); err != nil {
					return nil
				}
				key := fmt.Sprintf("key:%d", rng.IntN(cfg.Keys))

				opStart := time.Now()
				err := run(gctx, tpl, key, rng)
				if gctx.Err() != nil {
					return nil
				}
				totalOps.Add(1)
				totalLatency.Add(uint64(time.Since(opStart)))

				if err != nil {
					if errors.Is(err, kvtemplate.ErrNotInitialized) {
						return err
					}
					failures.Add(1)
					logger.Debug("operation failed", "worker", worker, "key", key, "error", err)
				}
			}
		})
	}
	err := g.Wait()

	elapsed := time.Since(start)
	result := benchResult{
		Workload: cfg.Workload,
		Duration: elapsed,
		TotalOps: totalOps.Load(),
		Failures: failures.Load(),
	}
	if result.TotalOps > 0 {
		result.AvgLatency = time.Duration(totalLatency.Load() / result.TotalOps)
		result.OpsPerSecond = float64(result.TotalOps) / elapsed.Seconds()
	}
	return result, err
}
