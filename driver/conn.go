// Package driver defines the boundary between kvtemplate and a store driver:
// connection handles, connection factories, commands and raw replies.
//
// A driver owns the wire protocol. kvtemplate only borrows handles for a
// bounded scope and never interprets bytes beyond the tagged Reply union.
package driver

import "context"

// Conn is an open, stateful channel to the store.
//
// Commands issued on a single Conn are executed in issue order. While the
// connection is pipelined, Do queues the command and returns a nil reply; the
// replies are returned by ClosePipeline. While a transaction is open (after
// Multi), Do returns the Queued status and the replies are returned by Exec.
//
// A Conn is not safe for concurrent use.
type Conn interface {
	Do(ctx context.Context, cmd Command) (Reply, error)

	Close() error
	IsClosed() bool

	IsPipelined() bool
	OpenPipeline() error
	ClosePipeline(ctx context.Context) ([]Reply, error)

	IsQueueing() bool
	Multi(ctx context.Context) error
	Exec(ctx context.Context) ([]Reply, error)
	Discard(ctx context.Context) error
	Watch(ctx context.Context, keys ...[]byte) error
	Unwatch(ctx context.Context) error
}

// ClusterConn is a connection that can also describe the cluster topology.
type ClusterConn interface {
	Conn
	ClusterNodes(ctx context.Context) ([]string, error)
}

// Factory produces connections. Factories are used as map keys to find
// connections bound to an execution scope, so implementations must be
// comparable; pointer receivers are the usual choice.
type Factory interface {
	// Conn returns a usable, open connection or fails fast.
	Conn(ctx context.Context) (Conn, error)

	// ClusterConn returns a cluster-aware connection, or ErrClusterUnsupported.
	ClusterConn(ctx context.Context) (ClusterConn, error)

	// ConvertPipelineAndTxResults reports whether pipeline and transaction
	// results should be decoded into typed values.
	ConvertPipelineAndTxResults() bool
}

// Dialer opens a new connection. Pools and factories wrap a Dialer.
type Dialer func(ctx context.Context) (Conn, error)
