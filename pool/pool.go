// Package pool is a driver.Factory keeping store connections in a puddle
// resource pool.
//
// Connections handed out by Factory.Conn go back to the pool when closed.
// A connection that is left pipelined, inside a transaction, closed by the
// driver or that saw a connection-level error is destroyed instead.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
	"github.com/pior/kvtemplate/driver"
	"github.com/sony/gobreaker/v2"
)

const defaultMaxSize = 10

// ErrClosed is returned by Conn after Close.
var ErrClosed = errors.New("pool: closed")

// Config holds the configuration of a Factory.
type Config struct {
	// Dialer opens new connections. Required.
	Dialer driver.Dialer

	// Name labels the pool in logs and is passed to NewCircuitBreaker.
	Name string

	// MaxSize is the maximum number of connections in the pool.
	// Default: 10.
	MaxSize int32

	// MaxConnLifetime is the maximum duration a connection can be reused.
	// Zero means no limit.
	MaxConnLifetime time.Duration

	// MaxConnIdleTime is the maximum duration a connection can be idle before being closed.
	// Zero means no limit.
	MaxConnIdleTime time.Duration

	// HealthCheckInterval is how often to check idle connections for health.
	// Zero disables health checks.
	HealthCheckInterval time.Duration

	// NewCircuitBreaker creates the circuit breaker guarding acquisitions.
	// If nil, no circuit breaker is used.
	NewCircuitBreaker func(name string) *gobreaker.CircuitBreaker[driver.Conn]

	// DisableResultConversion makes ConvertPipelineAndTxResults report false.
	DisableResultConversion bool

	// Logger receives debug records about destroyed connections.
	// Default: discard.
	Logger *slog.Logger
}

// Factory hands out pooled connections. It implements driver.Factory.
type Factory struct {
	config  Config
	pool    *puddle.Pool[driver.Conn]
	breaker *gobreaker.CircuitBreaker[driver.Conn] // nil if not configured
	logger  *slog.Logger

	createdConns   atomic.Uint64
	destroyedConns atomic.Uint64
	acquireErrors  atomic.Uint64

	stopHealthCheck chan struct{}
	closeOnce       sync.Once
	wg              sync.WaitGroup
}

var _ driver.Factory = (*Factory)(nil)

// New creates a pool. Connections are dialed lazily.
func New(config Config) (*Factory, error) {
	if config.Dialer == nil {
		return nil, errors.New("pool: dialer is required")
	}
	if config.MaxSize <= 0 {
		config.MaxSize = defaultMaxSize
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	f := &Factory{
		config:          config,
		logger:          logger,
		stopHealthCheck: make(chan struct{}),
	}

	p, err := puddle.NewPool(&puddle.Config[driver.Conn]{
		Constructor: func(ctx context.Context) (driver.Conn, error) {
			conn, err := config.Dialer(ctx)
			if err == nil {
				f.createdConns.Add(1)
			}
			return conn, err
		},
		Destructor: func(conn driver.Conn) {
			f.destroyedConns.Add(1)
			_ = conn.Close()
		},
		MaxSize: config.MaxSize,
	})
	if err != nil {
		return nil, err
	}
	f.pool = p

	if config.NewCircuitBreaker != nil {
		f.breaker = config.NewCircuitBreaker(config.Name)
	}

	if config.HealthCheckInterval > 0 {
		f.wg.Add(1)
		go f.healthCheckLoop()
	}

	return f, nil
}

// Conn acquires a connection from the pool. Closing it returns it to the pool.
func (f *Factory) Conn(ctx context.Context) (driver.Conn, error) {
	if f.breaker != nil {
		conn, err := f.breaker.Execute(func() (driver.Conn, error) {
			return f.acquire(ctx)
		})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return f.acquire(ctx)
}

func (f *Factory) acquire(ctx context.Context) (driver.Conn, error) {
	res, err := f.pool.Acquire(ctx)
	if err != nil {
		f.acquireErrors.Add(1)
		if errors.Is(err, puddle.ErrClosedPool) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("pool: acquire: %w", err)
	}
	return &pooledConn{Conn: res.Value(), res: res, factory: f}, nil
}

// Breaker returns the circuit breaker guarding acquisitions, or nil.
func (f *Factory) Breaker() *gobreaker.CircuitBreaker[driver.Conn] {
	return f.breaker
}

// Name returns the configured pool name.
func (f *Factory) Name() string {
	return f.config.Name
}

func (f *Factory) ClusterConn(ctx context.Context) (driver.ClusterConn, error) {
	return nil, driver.ErrClusterUnsupported
}

func (f *Factory) ConvertPipelineAndTxResults() bool {
	return !f.config.DisableResultConversion
}

// Close stops the health checks and destroys every connection. Acquired
// connections are destroyed when they are closed.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		close(f.stopHealthCheck)
		f.wg.Wait()
		f.pool.Close()
	})
}

// healthCheckLoop periodically checks idle connections for health and lifecycle limits.
func (f *Factory) healthCheckLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopHealthCheck:
			return
		case <-ticker.C:
			f.checkIdleConnections(context.Background())
		}
	}
}

// checkIdleConnections destroys the idle connections that are stale or unhealthy.
func (f *Factory) checkIdleConnections(ctx context.Context) {
	now := time.Now()

	for _, res := range f.pool.AcquireAllIdle() {
		if f.config.MaxConnLifetime > 0 && now.Sub(res.CreationTime()) > f.config.MaxConnLifetime {
			f.destroy(res, "max lifetime")
			continue
		}

		if f.config.MaxConnIdleTime > 0 && res.IdleDuration() > f.config.MaxConnIdleTime {
			f.destroy(res, "max idle time")
			continue
		}

		if err := healthCheck(ctx, res.Value()); err != nil {
			f.destroy(res, err.Error())
			continue
		}

		res.ReleaseUnused()
	}
}

func (f *Factory) destroy(res *puddle.Resource[driver.Conn], reason string) {
	f.logger.Debug("destroying pooled connection", "pool", f.config.Name, "reason", reason)
	res.Destroy()
}

// healthCheck pings the store on conn.
func healthCheck(ctx context.Context, conn driver.Conn) error {
	if conn.IsClosed() {
		return driver.ErrConnClosed
	}
	reply, err := conn.Do(ctx, driver.Ping())
	if err != nil {
		return err
	}
	if reply.Kind != driver.KindStatus {
		return fmt.Errorf("health check failed: %s", reply)
	}
	return nil
}

// pooledConn returns its connection to the pool on Close.
type pooledConn struct {
	driver.Conn
	res     *puddle.Resource[driver.Conn]
	factory *Factory

	broken bool
	closed bool
}

func (c *pooledConn) Do(ctx context.Context, cmd driver.Command) (driver.Reply, error) {
	if c.closed {
		return driver.Reply{}, driver.ErrConnClosed
	}
	reply, err := c.Conn.Do(ctx, cmd)
	if driver.ShouldCloseConnection(err) {
		c.broken = true
	}
	return reply, err
}

// Close releases the connection to the pool, or destroys it when its state
// cannot be reused.
func (c *pooledConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	if c.broken || c.Conn.IsClosed() || c.Conn.IsPipelined() || c.Conn.IsQueueing() {
		c.factory.destroy(c.res, "dirty connection")
		return nil
	}
	// Watched keys must not leak to the next user.
	if err := c.Conn.Unwatch(context.Background()); err != nil {
		c.factory.destroy(c.res, err.Error())
		return nil
	}
	c.res.Release()
	return nil
}

func (c *pooledConn) IsClosed() bool {
	return c.closed || c.Conn.IsClosed()
}
