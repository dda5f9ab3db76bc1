// Package testutils provides scripted driver connections for tests that need
// to observe or inject failures into the connection lifecycle.
package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/pior/kvtemplate/driver"
)

// Handler answers one command.
type Handler func(cmd driver.Command) (driver.Reply, error)

// ScriptedConn records every call and answers commands with a Handler.
// Without a handler every command is answered with driver.OK.
type ScriptedConn struct {
	ID      int
	Handler Handler

	// CloseErr is returned by the first Close.
	CloseErr error

	// ExecErr is returned by Exec.
	ExecErr error

	mu        sync.Mutex
	commands  []driver.Command
	closes    int
	pipelined bool
	pending   []driver.Reply
	queueing  bool
	queue     []driver.Reply
	multis    int
	execs     int
	discards  int
	watched   [][]byte
}

var _ driver.Conn = (*ScriptedConn)(nil)

// NewScriptedConn returns a connection answering with handler.
func NewScriptedConn(handler Handler) *ScriptedConn {
	return &ScriptedConn{Handler: handler}
}

func (c *ScriptedConn) Do(ctx context.Context, cmd driver.Command) (driver.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closes > 0 {
		return driver.Reply{}, driver.ErrConnClosed
	}
	c.commands = append(c.commands, cmd)

	reply := driver.OK
	if c.Handler != nil {
		var err error
		if reply, err = c.Handler(cmd); err != nil {
			return driver.Reply{}, err
		}
	}

	switch {
	case c.queueing:
		c.queue = append(c.queue, reply)
		if c.pipelined {
			return driver.NilReply(), nil
		}
		return driver.Queued, nil
	case c.pipelined:
		c.pending = append(c.pending, reply)
		return driver.NilReply(), nil
	default:
		return reply, reply.Err()
	}
}

func (c *ScriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closes++
	if c.closes == 1 {
		return c.CloseErr
	}
	return nil
}

func (c *ScriptedConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes > 0
}

func (c *ScriptedConn) IsPipelined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pipelined
}

func (c *ScriptedConn) OpenPipeline() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pipelined {
		return driver.ErrPipelineOpen
	}
	c.pipelined = true
	return nil
}

func (c *ScriptedConn) ClosePipeline(ctx context.Context) ([]driver.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.pipelined {
		return nil, driver.ErrNotPipelined
	}
	replies := c.pending
	c.pending = nil
	c.pipelined = false
	return replies, nil
}

func (c *ScriptedConn) IsQueueing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queueing
}

func (c *ScriptedConn) Multi(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.queueing {
		return driver.ErrAlreadyQueueing
	}
	c.multis++
	c.queueing = true
	return nil
}

func (c *ScriptedConn) Exec(ctx context.Context) ([]driver.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.queueing {
		return nil, driver.ErrNotQueueing
	}
	c.execs++
	replies := c.queue
	c.queue = nil
	c.queueing = false
	c.watched = nil
	if c.ExecErr != nil {
		return nil, c.ExecErr
	}
	if c.pipelined {
		c.pending = append(c.pending, driver.ArrayReply(replies...))
		return nil, nil
	}
	return replies, nil
}

func (c *ScriptedConn) Discard(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.queueing {
		return driver.ErrNotQueueing
	}
	c.discards++
	c.queue = nil
	c.queueing = false
	c.watched = nil
	return nil
}

func (c *ScriptedConn) Watch(ctx context.Context, keys ...[]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watched = append(c.watched, keys...)
	return nil
}

func (c *ScriptedConn) Unwatch(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watched = nil
	return nil
}

// Commands returns the commands received so far.
func (c *ScriptedConn) Commands() []driver.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]driver.Command(nil), c.commands...)
}

// Closes returns how many times Close was called.
func (c *ScriptedConn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// TxCounts returns the number of Multi, Exec and Discard calls.
func (c *ScriptedConn) TxCounts() (multis, execs, discards int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.multis, c.execs, c.discards
}

// Watched returns the keys currently watched.
func (c *ScriptedConn) Watched() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.watched...)
}

// ErrDial is returned by a ScriptedFactory configured to fail.
var ErrDial = errors.New("testutils: dial failed")

// ScriptedFactory hands out ScriptedConns and remembers each of them.
type ScriptedFactory struct {
	Handler Handler

	// Fail makes Conn return ErrDial.
	Fail bool

	// DisableConversion makes ConvertPipelineAndTxResults report false.
	DisableConversion bool

	mu    sync.Mutex
	conns []*ScriptedConn
}

var _ driver.Factory = (*ScriptedFactory)(nil)

func (f *ScriptedFactory) Conn(ctx context.Context) (driver.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Fail {
		return nil, ErrDial
	}
	conn := NewScriptedConn(f.Handler)
	conn.ID = len(f.conns) + 1
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *ScriptedFactory) ClusterConn(ctx context.Context) (driver.ClusterConn, error) {
	return nil, driver.ErrClusterUnsupported
}

func (f *ScriptedFactory) ConvertPipelineAndTxResults() bool {
	return !f.DisableConversion
}

// Conns returns every connection opened so far, in order.
func (f *ScriptedFactory) Conns() []*ScriptedConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*ScriptedConn(nil), f.conns...)
}

// Opened returns the number of connections opened.
func (f *ScriptedFactory) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// Closed returns the total number of Close calls across all connections.
func (f *ScriptedFactory) Closed() int {
	total := 0
	for _, c := range f.Conns() {
		total += c.Closes()
	}
	return total
}
