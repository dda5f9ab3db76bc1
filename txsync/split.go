package txsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pior/kvtemplate/driver"
)

// splittingConn routes read-only commands to a fresh connection so they do
// not get queued in the store transaction of the bound connection. Every
// other call goes to the bound connection.
//
// While the bound connection is pipelined, the replies of split reads are
// held in pipeline and merged with the pipelined replies, in issue order,
// by ClosePipeline.
type splittingConn struct {
	driver.Conn
	factory  driver.Factory
	logger   *slog.Logger
	pipeline *splitPipeline
}

func (c *splittingConn) Do(ctx context.Context, cmd driver.Command) (driver.Reply, error) {
	pipelined := c.Conn.IsPipelined()

	if !cmd.ReadOnly() {
		repliesLater := pipelined && !c.Conn.IsQueueing()
		reply, err := c.Conn.Do(ctx, cmd)
		if err == nil && repliesLater {
			c.pipeline.addBound()
		}
		return reply, err
	}

	reply, err := c.read(ctx, cmd)
	if !pipelined {
		return reply, err
	}

	// Error replies are deferred like any other reply.
	if err != nil && reply.Kind != driver.KindError {
		return driver.Reply{}, err
	}
	c.pipeline.add(reply)
	return driver.NilReply(), nil
}

func (c *splittingConn) read(ctx context.Context, cmd driver.Command) (driver.Reply, error) {
	conn, err := c.factory.Conn(ctx)
	if err != nil {
		return driver.Reply{}, fmt.Errorf("%w: %w", ErrAcquire, err)
	}

	c.logger.Debug("read routed outside transaction", "command", cmd.Name)

	reply, err := conn.Do(ctx, cmd)
	if closeErr := conn.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return reply, err
}

func (c *splittingConn) OpenPipeline() error {
	if err := c.Conn.OpenPipeline(); err != nil {
		return err
	}
	c.pipeline.reset()
	return nil
}

func (c *splittingConn) ClosePipeline(ctx context.Context) ([]driver.Reply, error) {
	replies, err := c.Conn.ClosePipeline(ctx)
	if err != nil {
		c.pipeline.reset()
		return nil, err
	}
	return c.pipeline.merge(replies), nil
}

// Exec adds one deferred reply while pipelined.
func (c *splittingConn) Exec(ctx context.Context) ([]driver.Reply, error) {
	pipelined := c.Conn.IsPipelined()
	replies, err := c.Conn.Exec(ctx)
	if err == nil && pipelined {
		c.pipeline.addBound()
	}
	return replies, err
}

func (c *splittingConn) Unwrap() driver.Conn {
	return c.Conn
}

// splitPipeline records the issue order of the deferred replies of a bound
// connection and of the replies of reads split away from it. It is shared
// by every decorator of the same holder.
type splitPipeline struct {
	slots []splitSlot
}

// splitSlot is either a split read reply or a placeholder for the next
// deferred reply of the bound connection.
type splitSlot struct {
	reply driver.Reply
	bound bool
}

func (p *splitPipeline) add(r driver.Reply) {
	p.slots = append(p.slots, splitSlot{reply: r})
}

func (p *splitPipeline) addBound() {
	p.slots = append(p.slots, splitSlot{bound: true})
}

func (p *splitPipeline) reset() {
	p.slots = nil
}

// merge interleaves the deferred replies of the bound connection with the
// split reads and resets p.
func (p *splitPipeline) merge(bound []driver.Reply) []driver.Reply {
	slots := p.slots
	p.slots = nil
	if len(slots) == 0 {
		return bound
	}

	out := make([]driver.Reply, 0, len(slots)+len(bound))
	next := 0
	for _, s := range slots {
		switch {
		case !s.bound:
			out = append(out, s.reply)
		case next < len(bound):
			out = append(out, bound[next])
			next++
		}
	}
	return append(out, bound[next:]...)
}

// Unwrap strips connection decorators and returns the underlying
// connection. Decorators expose the wrapped connection with an
// Unwrap() driver.Conn method.
func Unwrap(conn driver.Conn) driver.Conn {
	for {
		w, ok := conn.(interface{ Unwrap() driver.Conn })
		if !ok {
			return conn
		}
		conn = w.Unwrap()
	}
}
