package pool

// Stats contains statistics about a connection pool.
//
// The promstats package exports them as gauges (TotalConns, IdleConns,
// ActiveConns) and counters (everything else).
type Stats struct {
	AcquireCount      uint64 // Total successful acquires
	AcquireWaitCount  uint64 // Acquires that had to wait for a connection
	CreatedConns      uint64 // Total connections created
	DestroyedConns    uint64 // Total connections destroyed
	AcquireErrors     uint64 // Failed acquire attempts
	AcquireWaitTimeNs uint64 // Total nanoseconds spent waiting

	TotalConns  int32 // Total connections in pool (active + idle)
	IdleConns   int32 // Idle connections available
	ActiveConns int32 // Connections currently in use
}

// Stats returns a snapshot of pool statistics.
func (f *Factory) Stats() Stats {
	s := f.pool.Stat()

	return Stats{
		TotalConns:        s.TotalResources(),
		IdleConns:         s.IdleResources(),
		ActiveConns:       s.AcquiredResources(),
		AcquireCount:      uint64(s.AcquireCount()),
		AcquireWaitCount:  uint64(s.EmptyAcquireCount()),
		CreatedConns:      f.createdConns.Load(),
		DestroyedConns:    f.destroyedConns.Load(),
		AcquireErrors:     f.acquireErrors.Load(),
		AcquireWaitTimeNs: uint64(s.EmptyAcquireWaitTime().Nanoseconds()),
	}
}
