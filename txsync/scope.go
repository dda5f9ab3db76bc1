package txsync

import (
	"context"
	"sync"

	"github.com/pior/kvtemplate/driver"
)

type scopeKey struct{}

// Scope is the execution context connections are bound to. It maps a
// factory to the holder of the connection bound for that factory, at most
// one per factory.
//
// A Scope belongs to one logical call tree. Sharing it between goroutines
// that use connections concurrently is not supported.
type Scope struct {
	mu      sync.Mutex
	holders map[driver.Factory]*Holder
	uow     *UnitOfWork
}

// NewScope returns an empty scope.
func NewScope() *Scope {
	return &Scope{holders: make(map[driver.Factory]*Holder)}
}

// WithScope returns a copy of ctx carrying s.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope carried by ctx, or nil.
func ScopeFrom(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// EnsureScope returns ctx and its scope, attaching a new scope when ctx
// has none.
func EnsureScope(ctx context.Context) (context.Context, *Scope) {
	if s := ScopeFrom(ctx); s != nil {
		return ctx, s
	}
	s := NewScope()
	return WithScope(ctx, s), s
}

// Holder returns the holder bound for factory, or nil.
func (s *Scope) Holder(factory driver.Factory) *Holder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holders[factory]
}

// Len returns the number of bound holders.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.holders)
}

// UnitOfWork returns the unit of work that created the scope, or nil.
func (s *Scope) UnitOfWork() *UnitOfWork {
	return s.uow
}

// Requires s.mu.
func (s *Scope) bind(factory driver.Factory, h *Holder) {
	s.holders[factory] = h
}

// unbind removes h if it is still the holder bound for factory.
// Requires s.mu.
func (s *Scope) unbind(factory driver.Factory, h *Holder) {
	if s.holders[factory] == h {
		delete(s.holders, factory)
	}
}
