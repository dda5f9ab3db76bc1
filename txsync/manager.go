// Package txsync binds store connections to an execution scope so nested
// operations reuse one connection, and ties bound connections to an
// externally driven unit of work.
//
// The scope travels in a context.Context. Acquire finds or creates the
// holder for a factory in that scope and counts references; Release closes
// the connection once the last reference is gone and no unit of work is
// pending. When a unit of work completes, its store transaction is executed
// or discarded, the connection is closed and the holder is unbound.
package txsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pior/kvtemplate/driver"
)

// ReleasePolicy decides what happens to a holder when its last reference
// is released outside a unit of work.
type ReleasePolicy int

const (
	// ReleaseClose unbinds the holder and closes the connection.
	ReleaseClose ReleasePolicy = iota

	// ReleaseSuspend closes the connection but keeps the holder bound; the
	// next acquisition in the same scope reopens a connection lazily.
	ReleaseSuspend
)

func (p ReleasePolicy) String() string {
	switch p {
	case ReleaseClose:
		return "close"
	case ReleaseSuspend:
		return "suspend"
	default:
		return fmt.Sprintf("ReleasePolicy(%d)", int(p))
	}
}

// Config configures a Manager.
type Config struct {
	// ReleasePolicy applies when the last reference to a bound connection
	// is released. Default: ReleaseClose.
	ReleasePolicy ReleasePolicy

	// Logger receives debug records about completions and split reads.
	// Default: discard.
	Logger *slog.Logger
}

// Manager acquires and releases connections of one factory.
type Manager struct {
	factory driver.Factory
	policy  ReleasePolicy
	logger  *slog.Logger
}

// NewManager returns a manager for factory.
func NewManager(factory driver.Factory, config Config) *Manager {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		factory: factory,
		policy:  config.ReleasePolicy,
		logger:  logger,
	}
}

// Factory returns the managed factory.
func (m *Manager) Factory() driver.Factory {
	return m.factory
}

// AcquireOptions controls how a connection is acquired.
type AcquireOptions struct {
	// Bind binds a newly opened connection to the scope of the context.
	Bind bool

	// Transactional enlists the connection in the active unit of work, if
	// any. Inside a unit of work that is not read-only, the connection
	// starts a store transaction and reads are routed to a separate
	// connection.
	Transactional bool
}

// Acquire returns a connection for the scope of ctx.
//
// A connection already bound to the scope is reused and its reference count
// incremented; a suspended holder gets a new connection. Otherwise a new
// connection is opened and, when requested or when enlisting in a unit of
// work, bound to the scope. A connection that cannot be bound or enlisted
// is closed before the error is returned.
func (m *Manager) Acquire(ctx context.Context, opts AcquireOptions) (driver.Conn, error) {
	scope := ScopeFrom(ctx)
	uow := Current(ctx)
	enlist := opts.Transactional && uow != nil

	if scope == nil {
		if opts.Bind || enlist {
			return nil, ErrNoScope
		}
		return m.open(ctx)
	}

	scope.mu.Lock()
	defer scope.mu.Unlock()

	if h := scope.holders[m.factory]; h != nil && h.reusable() {
		return m.reuse(ctx, scope, h, uow, enlist)
	}

	conn, err := m.open(ctx)
	if err != nil {
		return nil, err
	}
	if !opts.Bind && !enlist {
		return conn, nil
	}

	h := &Holder{conn: conn}
	h.requested()
	scope.bind(m.factory, h)

	if enlist {
		if err := m.enlist(ctx, scope, h, uow); err != nil {
			scope.unbind(m.factory, h)
			h.reset()
			return nil, errors.Join(err, conn.Close())
		}
		return m.decorate(h, uow), nil
	}
	return conn, nil
}

func (m *Manager) open(ctx context.Context) (driver.Conn, error) {
	conn, err := m.factory.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	return conn, nil
}

// reuse hands out the connection of an existing holder. Requires scope.mu.
func (m *Manager) reuse(ctx context.Context, scope *Scope, h *Holder, uow *UnitOfWork, enlist bool) (driver.Conn, error) {
	if h.uow != nil && h.uow != uow {
		return nil, ErrForeignUnitOfWork
	}

	h.requested()

	if h.conn == nil {
		conn, err := m.open(ctx)
		if err != nil {
			h.released()
			return nil, err
		}
		h.conn = conn
		h.suspended = false
	}

	if enlist && !h.synced {
		if err := m.enlist(ctx, scope, h, uow); err != nil {
			h.released()
			return nil, err
		}
	}

	return m.decorate(h, uow), nil
}

// enlist registers h with uow and, unless uow is read-only, starts a store
// transaction on its connection. Requires scope.mu.
func (m *Manager) enlist(ctx context.Context, scope *Scope, h *Holder, uow *UnitOfWork) error {
	if !uow.ReadOnly() {
		if err := h.conn.Multi(ctx); err != nil {
			return fmt.Errorf("txsync: start transaction: %w", err)
		}
	}

	s := &synchronizer{manager: m, scope: scope, holder: h, uow: uow}
	if err := uow.Register(s); err != nil {
		if !uow.ReadOnly() {
			err = errors.Join(err, h.conn.Discard(ctx))
		}
		return err
	}

	h.uow = uow
	h.txActive = true
	h.synced = true
	// The unit of work holds its own reference until completion.
	h.requested()
	return nil
}

func (m *Manager) decorate(h *Holder, uow *UnitOfWork) driver.Conn {
	if h.txActive && uow != nil && !uow.ReadOnly() {
		if h.split == nil {
			h.split = &splitPipeline{}
		}
		return &splittingConn{Conn: h.conn, factory: m.factory, logger: m.logger, pipeline: h.split}
	}
	return h.conn
}

// Release gives back a connection obtained from Acquire.
//
// A connection enlisted in a unit of work only loses a reference; it is
// closed on completion. A bound connection is closed when its last
// reference is released, following the release policy. Connections that
// were never bound are closed immediately.
func (m *Manager) Release(ctx context.Context, conn driver.Conn) error {
	conn = Unwrap(conn)

	scope := ScopeFrom(ctx)
	if scope == nil {
		return conn.Close()
	}

	scope.mu.Lock()
	defer scope.mu.Unlock()

	h := scope.holders[m.factory]
	if h == nil || h.conn != conn {
		return conn.Close()
	}

	h.released()
	if h.txActive || h.refs > 0 {
		return nil
	}

	switch m.policy {
	case ReleaseSuspend:
		h.conn = nil
		h.suspended = true
	default:
		scope.unbind(m.factory, h)
		h.reset()
	}
	return conn.Close()
}

// Bind binds a connection to the scope of ctx for a session, attaching a
// new scope if needed. Every Bind must be paired with Unbind on the
// returned context.
func (m *Manager) Bind(ctx context.Context, opts AcquireOptions) (context.Context, error) {
	ctx, _ = EnsureScope(ctx)
	opts.Bind = true
	if _, err := m.Acquire(ctx, opts); err != nil {
		return ctx, err
	}
	return ctx, nil
}

// Unbind ends a session started with Bind. The holder is evicted and its
// connection closed once no reference and no unit of work remain, whatever
// the release policy.
func (m *Manager) Unbind(ctx context.Context) error {
	scope := ScopeFrom(ctx)
	if scope == nil {
		return nil
	}

	scope.mu.Lock()
	defer scope.mu.Unlock()

	h := scope.holders[m.factory]
	if h == nil {
		return nil
	}

	h.released()
	if h.txActive || h.refs > 0 {
		return nil
	}

	conn := h.conn
	scope.unbind(m.factory, h)
	h.reset()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// synchronizer completes the store transaction of a holder.
type synchronizer struct {
	manager *Manager
	scope   *Scope
	holder  *Holder
	uow     *UnitOfWork
}

// AfterCompletion executes the queued transaction on commit and discards
// it otherwise, then closes the connection and unbinds the holder.
func (s *synchronizer) AfterCompletion(ctx context.Context, status Status) error {
	s.scope.mu.Lock()
	defer s.scope.mu.Unlock()

	h := s.holder
	conn := h.conn

	var errs []error
	if conn != nil && !s.uow.ReadOnly() && conn.IsQueueing() {
		if status == Committed {
			replies, err := conn.Exec(ctx)
			if err != nil {
				errs = append(errs, fmt.Errorf("txsync: exec: %w", err))
			}
			s.manager.logger.Debug("unit of work transaction executed",
				"uow", s.uow.ID().String(), "replies", len(replies))
		} else if err := conn.Discard(ctx); err != nil {
			errs = append(errs, fmt.Errorf("txsync: discard: %w", err))
		}
	}

	if conn != nil {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.scope.unbind(s.manager.factory, h)
	h.reset()

	s.manager.logger.Debug("unit of work completed",
		"uow", s.uow.ID().String(),
		"name", s.uow.Name(),
		"status", status.String(),
		"elapsed", s.uow.Elapsed())

	return errors.Join(errs...)
}

// Bound reports whether conn is the connection bound to the scope of ctx.
func (m *Manager) Bound(ctx context.Context, conn driver.Conn) bool {
	scope := ScopeFrom(ctx)
	if scope == nil {
		return false
	}

	scope.mu.Lock()
	defer scope.mu.Unlock()

	h := scope.holders[m.factory]
	return h != nil && h.conn != nil && h.conn == Unwrap(conn)
}
