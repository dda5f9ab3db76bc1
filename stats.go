package kvtemplate

import "sync/atomic"

// Stats contains statistics about template operations.
// All fields are safe for concurrent access.
//
// For Prometheus integration, expose these as counters (see promstats).
type Stats struct {
	Executions uint64 // Callbacks run by ExecuteWith and ExecuteCluster
	Pipelines  uint64 // Pipelines opened by the template
	Sessions   uint64 // Sessions started by ExecuteSession
	Execs      uint64 // Successful Exec calls
	Discards   uint64 // Successful Discard calls
	Errors     uint64 // Executions that returned an error
	Scans      uint64 // Cursors opened
	ScanPages  uint64 // Pages fetched by cursors
}

// statsCollector provides internal methods for updating template stats.
type statsCollector struct {
	stats *Stats
}

func newStatsCollector() *statsCollector {
	return &statsCollector{
		stats: &Stats{},
	}
}

func (c *statsCollector) recordExecution() { atomic.AddUint64(&c.stats.Executions, 1) }
func (c *statsCollector) recordPipeline()  { atomic.AddUint64(&c.stats.Pipelines, 1) }
func (c *statsCollector) recordSession()   { atomic.AddUint64(&c.stats.Sessions, 1) }
func (c *statsCollector) recordExec()      { atomic.AddUint64(&c.stats.Execs, 1) }
func (c *statsCollector) recordDiscard()   { atomic.AddUint64(&c.stats.Discards, 1) }
func (c *statsCollector) recordError()     { atomic.AddUint64(&c.stats.Errors, 1) }
func (c *statsCollector) recordScan()      { atomic.AddUint64(&c.stats.Scans, 1) }
func (c *statsCollector) recordScanPage()  { atomic.AddUint64(&c.stats.ScanPages, 1) }

func (c *statsCollector) snapshot() Stats {
	return Stats{
		Executions: atomic.LoadUint64(&c.stats.Executions),
		Pipelines:  atomic.LoadUint64(&c.stats.Pipelines),
		Sessions:   atomic.LoadUint64(&c.stats.Sessions),
		Execs:      atomic.LoadUint64(&c.stats.Execs),
		Discards:   atomic.LoadUint64(&c.stats.Discards),
		Errors:     atomic.LoadUint64(&c.stats.Errors),
		Scans:      atomic.LoadUint64(&c.stats.Scans),
		ScanPages:  atomic.LoadUint64(&c.stats.ScanPages),
	}
}
