package txsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pior/kvtemplate/internal/coarsetime"
)

// Status is the outcome of a unit of work.
type Status int

const (
	Committed Status = iota
	RolledBack
	Unknown
)

func (s Status) String() string {
	switch s {
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled back"
	default:
		return "unknown"
	}
}

// Synchronization is notified once when a unit of work completes.
type Synchronization interface {
	AfterCompletion(ctx context.Context, status Status) error
}

// SynchronizationFunc adapts a function to Synchronization.
type SynchronizationFunc func(ctx context.Context, status Status) error

func (f SynchronizationFunc) AfterCompletion(ctx context.Context, status Status) error {
	return f(ctx, status)
}

// Options configures a unit of work.
type Options struct {
	// ReadOnly units of work never queue commands in a store transaction.
	ReadOnly bool

	// Name labels the unit of work in logs.
	Name string
}

// UnitOfWork is an externally driven transaction boundary. Connections
// acquired for it are bound to its scope until Complete runs.
type UnitOfWork struct {
	id       ulid.ULID
	name     string
	readOnly bool
	started  time.Time

	mu        sync.Mutex
	syncs     []Synchronization
	completed bool
	status    Status
}

// Begin starts a unit of work and returns a context carrying a fresh scope
// owned by it. Connections bound in the parent scope are not visible to it.
func Begin(ctx context.Context, opts Options) (context.Context, *UnitOfWork) {
	u := &UnitOfWork{
		id:       ulid.Make(),
		name:     opts.Name,
		readOnly: opts.ReadOnly,
		started:  coarsetime.Now(),
	}
	scope := NewScope()
	scope.uow = u
	return WithScope(ctx, scope), u
}

// Current returns the active unit of work of ctx, or nil.
func Current(ctx context.Context) *UnitOfWork {
	s := ScopeFrom(ctx)
	if s == nil || s.uow == nil || !s.uow.Active() {
		return nil
	}
	return s.uow
}

// Run executes fn inside a new unit of work. It commits when fn returns nil
// and rolls back otherwise. A panic completes with Unknown and is re-raised.
func Run(ctx context.Context, opts Options, fn func(ctx context.Context) error) error {
	ctx, u := Begin(ctx, opts)

	completed := false
	defer func() {
		if !completed {
			_ = u.Complete(ctx, Unknown)
		}
	}()

	fnErr := fn(ctx)
	completed = true
	if fnErr != nil {
		return errors.Join(fnErr, u.Complete(ctx, RolledBack))
	}
	return u.Complete(ctx, Committed)
}

func (u *UnitOfWork) ID() ulid.ULID      { return u.id }
func (u *UnitOfWork) Name() string       { return u.name }
func (u *UnitOfWork) ReadOnly() bool     { return u.readOnly }
func (u *UnitOfWork) Started() time.Time { return u.started }

// Active reports whether the unit of work has not completed yet.
func (u *UnitOfWork) Active() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return !u.completed
}

// Status returns the completion status. It is only meaningful once
// Active returns false.
func (u *UnitOfWork) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

// Register adds a synchronization notified on completion, in registration
// order.
func (u *UnitOfWork) Register(s Synchronization) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.completed {
		return fmt.Errorf("%w: %s", ErrCompleted, u.id)
	}
	u.syncs = append(u.syncs, s)
	return nil
}

// Complete notifies every registered synchronization with status. Only the
// first call has an effect; later calls return ErrCompleted.
func (u *UnitOfWork) Complete(ctx context.Context, status Status) error {
	u.mu.Lock()
	if u.completed {
		u.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCompleted, u.id)
	}
	u.completed = true
	u.status = status
	syncs := u.syncs
	u.syncs = nil
	u.mu.Unlock()

	var errs []error
	for _, s := range syncs {
		if err := s.AfterCompletion(ctx, status); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Commit completes the unit of work with Committed.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	return u.Complete(ctx, Committed)
}

// Rollback completes the unit of work with RolledBack.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	return u.Complete(ctx, RolledBack)
}

// Elapsed returns the coarse time since the unit of work began.
func (u *UnitOfWork) Elapsed() time.Duration {
	return coarsetime.Since(u.started)
}
