// Package promstats exposes template and pool statistics as Prometheus metrics.
//
// The collector reads the counters on every scrape, nothing is recorded in
// the hot path:
//
//	registry := prometheus.NewRegistry()
//	registry.MustRegister(promstats.New("kvtemplate", tpl, factory))
package promstats

import (
	"time"

	"github.com/pior/kvtemplate"
	"github.com/pior/kvtemplate/pool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
)

// TemplateStats is implemented by *kvtemplate.Template.
type TemplateStats interface {
	Stats() kvtemplate.Stats
}

// Collector is a prometheus.Collector over a template and its pools.
type Collector struct {
	template TemplateStats
	pools    []*pool.Factory

	operations      *prometheus.Desc
	errors          *prometheus.Desc
	poolConnections *prometheus.Desc
	poolCreated     *prometheus.Desc
	poolDestroyed   *prometheus.Desc
	poolAcquires    *prometheus.Desc
	poolErrors      *prometheus.Desc
	poolWait        *prometheus.Desc
	circuitState    *prometheus.Desc
	circuitFailures *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// New creates a collector. The template may be nil when only pools are
// exported.
func New(namespace string, template TemplateStats, pools ...*pool.Factory) *Collector {
	name := func(n string) string {
		return prometheus.BuildFQName(namespace, "", n)
	}

	return &Collector{
		template: template,
		pools:    pools,

		operations: prometheus.NewDesc(name("operations_total"),
			"Total number of template operations",
			[]string{"kind"}, nil), // execution, pipeline, session, exec, discard, scan, scan_page
		errors: prometheus.NewDesc(name("errors_total"),
			"Total number of failed template executions",
			nil, nil),
		poolConnections: prometheus.NewDesc(name("pool_connections"),
			"Connection pool statistics",
			[]string{"pool", "state"}, nil), // total, active, idle
		poolCreated: prometheus.NewDesc(name("pool_connections_created_total"),
			"Total connections created",
			[]string{"pool"}, nil),
		poolDestroyed: prometheus.NewDesc(name("pool_connections_destroyed_total"),
			"Total connections destroyed",
			[]string{"pool"}, nil),
		poolAcquires: prometheus.NewDesc(name("pool_acquires_total"),
			"Total connection acquisitions",
			[]string{"pool"}, nil),
		poolErrors: prometheus.NewDesc(name("pool_acquire_errors_total"),
			"Total connection acquire errors",
			[]string{"pool"}, nil),
		poolWait: prometheus.NewDesc(name("pool_acquire_wait_seconds_total"),
			"Total time spent waiting for a connection",
			[]string{"pool"}, nil),
		circuitState: prometheus.NewDesc(name("circuit_breaker_state"),
			"Circuit breaker state (0=closed, 1=half-open, 2=open)",
			[]string{"pool"}, nil),
		circuitFailures: prometheus.NewDesc(name("circuit_breaker_failures"),
			"Circuit breaker failure counts",
			[]string{"pool", "type"}, nil), // total, consecutive
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.operations
	ch <- c.errors
	ch <- c.poolConnections
	ch <- c.poolCreated
	ch <- c.poolDestroyed
	ch <- c.poolAcquires
	ch <- c.poolErrors
	ch <- c.poolWait
	ch <- c.circuitState
	ch <- c.circuitFailures
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.template != nil {
		c.collectTemplate(ch, c.template.Stats())
	}
	for _, p := range c.pools {
		c.collectPool(ch, p)
	}
}

func (c *Collector) collectTemplate(ch chan<- prometheus.Metric, stats kvtemplate.Stats) {
	ops := []struct {
		kind  string
		value uint64
	}{
		{"execution", stats.Executions},
		{"pipeline", stats.Pipelines},
		{"session", stats.Sessions},
		{"exec", stats.Execs},
		{"discard", stats.Discards},
		{"scan", stats.Scans},
		{"scan_page", stats.ScanPages},
	}
	for _, op := range ops {
		ch <- prometheus.MustNewConstMetric(c.operations, prometheus.CounterValue, float64(op.value), op.kind)
	}
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(stats.Errors))
}

func (c *Collector) collectPool(ch chan<- prometheus.Metric, p *pool.Factory) {
	name := p.Name()
	stats := p.Stats()

	ch <- prometheus.MustNewConstMetric(c.poolConnections, prometheus.GaugeValue, float64(stats.TotalConns), name, "total")
	ch <- prometheus.MustNewConstMetric(c.poolConnections, prometheus.GaugeValue, float64(stats.ActiveConns), name, "active")
	ch <- prometheus.MustNewConstMetric(c.poolConnections, prometheus.GaugeValue, float64(stats.IdleConns), name, "idle")
	ch <- prometheus.MustNewConstMetric(c.poolCreated, prometheus.CounterValue, float64(stats.CreatedConns), name)
	ch <- prometheus.MustNewConstMetric(c.poolDestroyed, prometheus.CounterValue, float64(stats.DestroyedConns), name)
	ch <- prometheus.MustNewConstMetric(c.poolAcquires, prometheus.CounterValue, float64(stats.AcquireCount), name)
	ch <- prometheus.MustNewConstMetric(c.poolErrors, prometheus.CounterValue, float64(stats.AcquireErrors), name)
	ch <- prometheus.MustNewConstMetric(c.poolWait, prometheus.CounterValue, time.Duration(stats.AcquireWaitTimeNs).Seconds(), name)

	breaker := p.Breaker()
	if breaker == nil {
		return
	}
	counts := breaker.Counts()
	ch <- prometheus.MustNewConstMetric(c.circuitState, prometheus.GaugeValue, stateValue(breaker.State()), name)
	ch <- prometheus.MustNewConstMetric(c.circuitFailures, prometheus.GaugeValue, float64(counts.TotalFailures), name, "total")
	ch <- prometheus.MustNewConstMetric(c.circuitFailures, prometheus.GaugeValue, float64(counts.ConsecutiveFailures), name, "consecutive")
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
