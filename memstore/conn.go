package memstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pior/kvtemplate/driver"
)

// Conn is a connection to a Store. Commands run against the store as soon
// as they are issued; a pipeline only defers the replies.
type Conn struct {
	store *Store

	closed bool

	pipelined bool
	replies   []driver.Reply

	queueing bool
	queue    []driver.Command
	watched  map[string]uint64
}

var _ driver.Conn = (*Conn)(nil)

// Do runs cmd. Error replies are returned as a *driver.StoreError alongside
// the reply. While pipelined the reply is deferred and Do returns a nil
// reply; inside MULTI the command is queued and Do returns driver.Queued.
func (c *Conn) Do(ctx context.Context, cmd driver.Command) (driver.Reply, error) {
	if c.closed {
		return driver.Reply{}, driver.ErrConnClosed
	}

	if c.queueing {
		c.queue = append(c.queue, cmd)
		if c.pipelined {
			return driver.NilReply(), nil
		}
		return driver.Queued, nil
	}

	var reply driver.Reply
	if cmd.Name == driver.CmdBLPop {
		var err error
		reply, err = c.blockingPop(ctx, cmd.Args)
		if err != nil {
			return driver.Reply{}, err
		}
	} else {
		reply = c.store.do(cmd)
	}

	return c.reply(reply)
}

func (c *Conn) reply(r driver.Reply) (driver.Reply, error) {
	if c.pipelined {
		c.replies = append(c.replies, r)
		return driver.NilReply(), nil
	}
	return r, r.Err()
}

func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.queueing = false
	c.queue = nil
	c.watched = nil
	c.pipelined = false
	c.replies = nil
	c.store.closed.Add(1)
	return nil
}

func (c *Conn) IsClosed() bool { return c.closed }

func (c *Conn) IsPipelined() bool { return c.pipelined }

func (c *Conn) OpenPipeline() error {
	if c.closed {
		return driver.ErrConnClosed
	}
	if c.pipelined {
		return driver.ErrPipelineOpen
	}
	c.pipelined = true
	c.replies = nil
	return nil
}

// ClosePipeline returns the deferred replies in issue order. MULTI and the
// commands it queues add no reply; EXEC adds one array reply, or a nil
// reply when the transaction was aborted by a watched key.
func (c *Conn) ClosePipeline(ctx context.Context) ([]driver.Reply, error) {
	if c.closed {
		return nil, driver.ErrConnClosed
	}
	if !c.pipelined {
		return nil, driver.ErrNotPipelined
	}
	replies := c.replies
	c.pipelined = false
	c.replies = nil
	return replies, nil
}

func (c *Conn) IsQueueing() bool { return c.queueing }

func (c *Conn) Multi(ctx context.Context) error {
	if c.closed {
		return driver.ErrConnClosed
	}
	if c.queueing {
		return driver.ErrAlreadyQueueing
	}
	c.queueing = true
	c.queue = nil
	return nil
}

// Exec runs the queued commands atomically in issue order. When a watched
// key changed since WATCH, nothing runs and Exec fails with
// driver.ErrTxAborted.
func (c *Conn) Exec(ctx context.Context) ([]driver.Reply, error) {
	if c.closed {
		return nil, driver.ErrConnClosed
	}
	if !c.queueing {
		return nil, driver.ErrNotQueueing
	}

	queue, watched := c.queue, c.watched
	c.queueing = false
	c.queue = nil
	c.watched = nil

	replies, ok := c.store.exec(queue, watched)

	if c.pipelined {
		if ok {
			c.replies = append(c.replies, driver.ArrayReply(replies...))
		} else {
			c.replies = append(c.replies, driver.NilReply())
		}
		return nil, nil
	}

	if !ok {
		return nil, driver.ErrTxAborted
	}
	return replies, nil
}

func (c *Conn) Discard(ctx context.Context) error {
	if c.closed {
		return driver.ErrConnClosed
	}
	if !c.queueing {
		return driver.ErrNotQueueing
	}
	c.queueing = false
	c.queue = nil
	c.watched = nil
	return nil
}

func (c *Conn) Watch(ctx context.Context, keys ...[]byte) error {
	if c.closed {
		return driver.ErrConnClosed
	}
	if c.queueing {
		return &driver.StoreError{Message: "ERR WATCH inside MULTI is not allowed"}
	}

	if c.watched == nil {
		c.watched = make(map[string]uint64, len(keys))
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	for _, key := range keys {
		k := string(key)
		if _, ok := c.watched[k]; !ok {
			c.watched[k] = c.store.version(k)
		}
	}
	return nil
}

func (c *Conn) Unwatch(ctx context.Context) error {
	if c.closed {
		return driver.ErrConnClosed
	}
	c.watched = nil
	return nil
}

// exec applies queue under a single lock unless a watched key moved.
func (s *Store) exec(queue []driver.Command, watched map[string]uint64) ([]driver.Reply, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, v := range watched {
		if s.version(key) != v {
			return nil, false
		}
	}

	replies := make([]driver.Reply, len(queue))
	for i, cmd := range queue {
		replies[i] = s.apply(cmd)
	}
	return replies, true
}

// blockingPop pops from the first non-empty list, waiting up to the timeout
// (the last argument, in seconds) for a push. A zero timeout waits until ctx
// is done. A timeout yields a nil reply.
func (c *Conn) blockingPop(ctx context.Context, args [][]byte) (driver.Reply, error) {
	if len(args) < 2 {
		return wrongArgs(driver.CmdBLPop), nil
	}
	secs, err := strconv.ParseFloat(string(args[len(args)-1]), 64)
	if err != nil || secs < 0 {
		return driver.ErrorReply("ERR timeout is not a float or out of range"), nil
	}
	keys := args[:len(args)-1]

	var expired <-chan time.Time
	if secs > 0 {
		timer := time.NewTimer(time.Duration(secs * float64(time.Second)))
		defer timer.Stop()
		expired = timer.C
	}

	s := c.store
	for {
		s.mu.Lock()
		reply, ok := s.popFirst(keys)
		pushed := s.pushed
		s.mu.Unlock()

		if ok {
			return reply, nil
		}

		select {
		case <-pushed:
		case <-expired:
			return driver.NilReply(), nil
		case <-ctx.Done():
			return driver.Reply{}, fmt.Errorf("memstore: blocking pop: %w", ctx.Err())
		}
	}
}
