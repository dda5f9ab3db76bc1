package main

import (
	"bytes"
	"context"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/pior/kvtemplate"
	"github.com/pior/kvtemplate/codec"
	"github.com/pior/kvtemplate/memstore"
	"github.com/pior/kvtemplate/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBenchTemplate(t *testing.T) *kvtemplate.Template {
	t.Helper()
	store := memstore.New(memstore.Config{})
	factory, err := pool.New(pool.Config{Dialer: store.Dial, MaxSize: 4})
	require.NoError(t, err)
	t.Cleanup(factory.Close)

	tpl, err := kvtemplate.New(kvtemplate.Config{
		Factory:                  factory,
		DefaultCodec:             codec.String,
		EnableTransactionSupport: true,
	})
	require.NoError(t, err)
	return tpl
}

func TestWorkloads(t *testing.T) {
	for _, name := range workloadNames() {
		t.Run(name, func(t *testing.T) {
			tpl := newBenchTemplate(t)
			rng := rand.New(rand.NewPCG(1, 2))
			ctx := context.Background()

			for range 20 {
				require.NoError(t, workloads[name](ctx, tpl, "key:1", rng))
			}
		})
	}
}

func TestTxWorkload_Commits(t *testing.T) {
	tpl := newBenchTemplate(t)
	rng := rand.New(rand.NewPCG(1, 2))
	ctx := context.Background()

	for range 3 {
		require.NoError(t, txWorkload(ctx, tpl, "k", rng))
	}

	got, err := tpl.Values().Get(ctx, "counter:k")
	require.NoError(t, err)
	assert.Equal(t, "3", got)

	size, err := tpl.Lists().Size(ctx, "audit:k")
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)
}

func TestRunBench(t *testing.T) {
	tpl := newBenchTemplate(t)
	cfg := benchConfig{
		Workload:    "mixed",
		Duration:    50 * time.Millisecond,
		Concurrency: 3,
		Rate:        500,
		Keys:        10,
	}

	result, err := runBench(context.Background(), cfg, tpl, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	assert.Equal(t, "mixed", result.Workload)
	assert.NotZero(t, result.TotalOps)
	assert.Zero(t, result.Failures)
	assert.Positive(t, result.OpsPerSecond)
	assert.NotZero(t, tpl.Stats().Executions)
}

func TestApp_Workloads(t *testing.T) {
	var out bytes.Buffer
	a := app()
	a.Writer = &out

	require.NoError(t, a.Run([]string{"kvtemplate-bench", "workloads"}))
	assert.Equal(t, "hashes\nlists\nmixed\npipeline\ntx\nvalues\n", out.String())
}

func TestApp_Run(t *testing.T) {
	var out bytes.Buffer
	a := app()
	a.Writer = &out

	err := a.Run([]string{
		"kvtemplate-bench", "run",
		"--workload", "values",
		"--duration", "30ms",
		"--concurrency", "2",
		"--log-level", "error",
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "=== values Benchmark Results ===")
	assert.Contains(t, out.String(), "Failures: 0")
}
