package txsync

import "github.com/pior/kvtemplate/driver"

// Holder tracks the connection bound to a scope for one factory.
//
// A holder with no references and no active unit of work is evicted from
// its scope. Under the suspend policy the holder stays bound with its
// connection closed, and the next acquisition reopens it.
type Holder struct {
	conn      driver.Conn
	refs      int
	txActive  bool
	synced    bool
	suspended bool
	uow       *UnitOfWork
	split     *splitPipeline
}

// Conn returns the bound connection, nil while suspended.
func (h *Holder) Conn() driver.Conn { return h.conn }

// Refs returns the number of outstanding acquisitions.
func (h *Holder) Refs() int { return h.refs }

// TransactionActive reports whether the holder takes part in a unit of work.
func (h *Holder) TransactionActive() bool { return h.txActive }

// Synchronized reports whether the holder is registered for completion.
func (h *Holder) Synchronized() bool { return h.synced }

// Suspended reports whether the connection was closed while the holder
// stayed bound.
func (h *Holder) Suspended() bool { return h.suspended }

// reusable reports whether a new acquisition should go through this holder.
func (h *Holder) reusable() bool {
	return h.conn != nil || h.synced || h.suspended
}

func (h *Holder) requested() { h.refs++ }

func (h *Holder) released() {
	if h.refs > 0 {
		h.refs--
	}
}

func (h *Holder) reset() {
	*h = Holder{}
}
