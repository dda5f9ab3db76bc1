// Package kvtemplate runs store operations through connections borrowed for
// a bounded scope. It keeps nested operations of one scope on one
// connection, ties connections to an externally driven unit of work,
// encodes keys and values with pluggable codecs, and decodes pipelined and
// transactional replies into typed values.
//
// Basic usage:
//
//	store := memstore.New(memstore.Config{})
//	t, err := kvtemplate.New(kvtemplate.Config{
//		Factory:      store,
//		DefaultCodec: codec.String,
//	})
//	if err != nil {
//		return err
//	}
//	err = t.Values().Set(ctx, "greeting", "hello")
//	v, err := t.Values().Get(ctx, "greeting")
package kvtemplate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pior/kvtemplate/codec"
	"github.com/pior/kvtemplate/driver"
	"github.com/pior/kvtemplate/txsync"
)

// Callback runs against a connection borrowed for the duration of the call.
type Callback func(ctx context.Context, conn driver.Conn) (any, error)

// SessionCallback runs with a connection bound to ctx. Every operation of
// the Template called with ctx uses that connection.
type SessionCallback func(ctx context.Context) (any, error)

// ClusterCallback runs against a cluster connection.
type ClusterCallback func(ctx context.Context, conn driver.ClusterConn) (any, error)

// Template is the execution engine. It is safe for concurrent use; each
// context carries its own bound connections.
type Template struct {
	factory    driver.Factory
	manager    *txsync.Manager
	codecs     *codec.Adapter
	txSupport  bool
	exposeConn bool
	logger     *slog.Logger
	stats      *statsCollector
}

// New returns a Template for config.
func New(config Config) (*Template, error) {
	if config.Factory == nil {
		return nil, ErrNoFactory
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	codecs := codec.Adapter{
		Key:       config.KeyCodec,
		Value:     config.ValueCodec,
		HashKey:   config.HashKeyCodec,
		HashValue: config.HashValueCodec,
		String:    config.StringCodec,
	}.WithDefaults(config.DefaultCodec)

	return &Template{
		factory: config.Factory,
		manager: txsync.NewManager(config.Factory, txsync.Config{
			ReleasePolicy: config.ReleasePolicy,
			Logger:        logger,
		}),
		codecs:     codecs,
		txSupport:  config.EnableTransactionSupport,
		exposeConn: config.ExposeConnection,
		logger:     logger,
		stats:      newStatsCollector(),
	}, nil
}

// Codecs returns the resolved codecs.
func (t *Template) Codecs() *codec.Adapter {
	return t.codecs
}

// Factory returns the connection factory.
func (t *Template) Factory() driver.Factory {
	return t.factory
}

func (t *Template) initialized() bool {
	return t != nil && t.manager != nil
}

// Execute runs fn with a connection of the scope of ctx.
func (t *Template) Execute(ctx context.Context, fn Callback) (any, error) {
	return t.ExecuteWith(ctx, fn, t.exposeConn, false)
}

// ExecutePipelined runs fn with a pipelined connection and returns the
// decoded replies of the commands it issued. fn must return a nil result.
func (t *Template) ExecutePipelined(ctx context.Context, fn Callback) ([]any, error) {
	res, err := t.ExecuteWith(ctx, fn, t.exposeConn, true)
	if err != nil {
		return nil, err
	}
	results, _ := res.([]any)
	return results, nil
}

// ExecuteWith acquires a connection, optionally opens a pipeline on it,
// runs fn and releases the connection.
//
// When pipeline is set and the connection is not pipelined yet, the
// pipeline is closed after fn and its replies are decoded and returned
// instead of the result of fn. A connection that is already pipelined is
// reused as is; its replies belong to the caller that opened it. Unless
// exposeConn is set, fn gets a wrapper whose Close does nothing.
func (t *Template) ExecuteWith(ctx context.Context, fn Callback, exposeConn, pipeline bool) (result any, err error) {
	if !t.initialized() {
		return nil, ErrNotInitialized
	}

	t.stats.recordExecution()
	defer func() {
		if err != nil {
			t.stats.recordError()
		}
	}()

	conn, err := t.manager.Acquire(ctx, txsync.AcquireOptions{Transactional: t.txSupport})
	if err != nil {
		return nil, err
	}
	defer func() {
		if relErr := t.manager.Release(ctx, conn); relErr != nil {
			t.logger.Debug("release failed", "error", relErr)
			err = errors.Join(err, fmt.Errorf("kvtemplate: release: %w", relErr))
		}
	}()

	opened := false
	if pipeline && !conn.IsPipelined() {
		if err := conn.OpenPipeline(); err != nil {
			return nil, fmt.Errorf("kvtemplate: open pipeline: %w", err)
		}
		opened = true
		t.stats.recordPipeline()
	}

	exposed := conn
	if !exposeConn {
		exposed = &closeSuppressingConn{Conn: conn}
	}

	result, err = fn(ctx, exposed)

	if !opened {
		return result, err
	}

	replies, closeErr := conn.ClosePipeline(ctx)
	switch {
	case err != nil:
		return nil, errors.Join(err, closeErr)
	case closeErr != nil:
		return nil, fmt.Errorf("kvtemplate: close pipeline: %w", closeErr)
	case result != nil:
		return nil, ErrPipelineResult
	}
	return t.demux(replies)
}

// ExecuteSession binds a connection to ctx for the duration of fn. All
// operations of fn using its context share that connection, which allows
// Multi, Exec and Watch to span several operations.
func (t *Template) ExecuteSession(ctx context.Context, fn SessionCallback) (any, error) {
	return t.executeSession(ctx, fn, false)
}

// ExecuteSessionPipelined is ExecuteSession with a pipeline opened on the
// bound connection. It returns the decoded replies of every command issued
// by fn. fn must return a nil result.
func (t *Template) ExecuteSessionPipelined(ctx context.Context, fn SessionCallback) ([]any, error) {
	res, err := t.executeSession(ctx, fn, true)
	if err != nil {
		return nil, err
	}
	results, _ := res.([]any)
	return results, nil
}

func (t *Template) executeSession(ctx context.Context, fn SessionCallback, pipeline bool) (result any, err error) {
	if !t.initialized() {
		return nil, ErrNotInitialized
	}

	t.stats.recordSession()

	ctx, err = t.manager.Bind(ctx, txsync.AcquireOptions{Transactional: t.txSupport})
	if err != nil {
		t.stats.recordError()
		return nil, err
	}
	defer func() {
		if unbindErr := t.manager.Unbind(ctx); unbindErr != nil {
			err = errors.Join(err, fmt.Errorf("kvtemplate: unbind: %w", unbindErr))
		}
	}()

	return t.ExecuteWith(ctx, func(ctx context.Context, _ driver.Conn) (any, error) {
		return fn(ctx)
	}, true, pipeline)
}

// ExecuteCluster runs fn against a cluster connection. Cluster connections
// are never bound to a scope.
func (t *Template) ExecuteCluster(ctx context.Context, fn ClusterCallback) (result any, err error) {
	if !t.initialized() {
		return nil, ErrNotInitialized
	}

	t.stats.recordExecution()

	conn, err := t.factory.ClusterConn(ctx)
	if err != nil {
		t.stats.recordError()
		return nil, fmt.Errorf("%w: %w", txsync.ErrAcquire, err)
	}
	defer func() {
		err = errors.Join(err, conn.Close())
	}()

	return fn(ctx, conn)
}

// Multi starts a store transaction on the bound connection.
func (t *Template) Multi(ctx context.Context) error {
	_, err := t.executeBound(ctx, func(ctx context.Context, conn driver.Conn) (any, error) {
		return nil, conn.Multi(ctx)
	})
	return err
}

// Exec executes the transaction of the bound connection and returns its
// decoded replies, or the raw driver.Reply values when the factory disables
// result conversion. A transaction aborted by a watched key fails with
// driver.ErrTxAborted.
func (t *Template) Exec(ctx context.Context) ([]any, error) {
	replies, err := t.ExecRaw(ctx)
	if err != nil {
		return nil, err
	}
	if !t.factory.ConvertPipelineAndTxResults() {
		out := make([]any, len(replies))
		for i, r := range replies {
			out[i] = r
		}
		return out, nil
	}
	return t.demux(replies)
}

// ExecRaw executes the transaction of the bound connection and returns the
// replies undecoded.
func (t *Template) ExecRaw(ctx context.Context) ([]driver.Reply, error) {
	res, err := t.executeBound(ctx, func(ctx context.Context, conn driver.Conn) (any, error) {
		return conn.Exec(ctx)
	})
	if err != nil {
		return nil, err
	}
	t.stats.recordExec()
	replies, _ := res.([]driver.Reply)
	return replies, nil
}

// Discard aborts the transaction of the bound connection.
func (t *Template) Discard(ctx context.Context) error {
	_, err := t.executeBound(ctx, func(ctx context.Context, conn driver.Conn) (any, error) {
		return nil, conn.Discard(ctx)
	})
	if err == nil {
		t.stats.recordDiscard()
	}
	return err
}

// Watch makes the next Exec of the bound connection fail if any of keys is
// modified in the meantime.
func (t *Template) Watch(ctx context.Context, keys ...any) error {
	raw, err := t.codecs.RawKeys(keys)
	if err != nil {
		return err
	}
	_, err = t.executeBound(ctx, func(ctx context.Context, conn driver.Conn) (any, error) {
		return nil, conn.Watch(ctx, raw...)
	})
	return err
}

// Unwatch clears the watched keys of the bound connection.
func (t *Template) Unwatch(ctx context.Context) error {
	_, err := t.executeBound(ctx, func(ctx context.Context, conn driver.Conn) (any, error) {
		return nil, conn.Unwatch(ctx)
	})
	return err
}

// executeBound runs fn on the connection bound to ctx and fails with
// ErrNotBound when there is none.
func (t *Template) executeBound(ctx context.Context, fn Callback) (any, error) {
	return t.ExecuteWith(ctx, func(ctx context.Context, conn driver.Conn) (any, error) {
		if !t.manager.Bound(ctx, conn) {
			return nil, ErrNotBound
		}
		return fn(ctx, conn)
	}, true, false)
}

func (t *Template) demux(replies []driver.Reply) ([]any, error) {
	return DemuxReplies(replies, t.codecs.Value, t.codecs.HashKey, t.codecs.HashValue)
}

// Stats returns a snapshot of the template statistics.
func (t *Template) Stats() Stats {
	if !t.initialized() {
		return Stats{}
	}
	return t.stats.snapshot()
}

// closeSuppressingConn hides Close from callbacks so they cannot close a
// connection owned by the scope.
type closeSuppressingConn struct {
	driver.Conn
}

func (c *closeSuppressingConn) Close() error { return nil }

func (c *closeSuppressingConn) Unwrap() driver.Conn { return c.Conn }
