// Package cursor implements a resumable iterator over a store-side
// incremental scan. The store hands back an opaque 64-bit token with every
// page; token zero marks the end of the iteration.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

var (
	ErrInvalidState   = errors.New("cursor: invalid state")
	ErrNoMoreElements = errors.New("cursor: no more elements")
)

// State is the lifecycle state of a Cursor.
type State uint8

const (
	Ready State = iota
	Open
	Finished
	Closed
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Open:
		return "OPEN"
	case Finished:
		return "FINISHED"
	case Closed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Page is one page returned by the store.
type Page[T any] struct {
	Cursor uint64
	Items  []T
}

// FetchFunc fetches the page starting at cursorID.
type FetchFunc[T any] func(ctx context.Context, cursorID uint64, opts Options) (Page[T], error)

// KeyFetchFunc fetches a page of the collection stored at key.
type KeyFetchFunc[T any] func(ctx context.Context, key []byte, cursorID uint64, opts Options) (Page[T], error)

// Cursor iterates over all pages of a scan, buffering one page at a time.
//
// Transitions: Ready -> Open (Open) -> Open while pages remain -> Finished
// once the store returns token zero. Close moves any state to Closed, which
// is terminal. A Cursor is not safe for concurrent use.
type Cursor[T any] struct {
	fetch   FetchFunc[T]
	opts    Options
	key     []byte
	onClose func() error

	state    State
	cursorID uint64
	page     []T
	idx      int
	position int64
}

// New returns a cursor over the whole key space. onClose, if not nil, runs
// once when the cursor closes and typically releases the connection.
func New[T any](fetch FetchFunc[T], opts Options, onClose func() error) *Cursor[T] {
	return &Cursor[T]{
		fetch:   fetch,
		opts:    opts,
		onClose: onClose,
	}
}

// NewKeyBound returns a cursor over the members of the collection at key.
// The key is passed to every page fetch.
func NewKeyBound[T any](key []byte, fetch KeyFetchFunc[T], opts Options, onClose func() error) *Cursor[T] {
	key = append([]byte(nil), key...)
	c := New(func(ctx context.Context, cursorID uint64, opts Options) (Page[T], error) {
		return fetch(ctx, key, cursorID, opts)
	}, opts, onClose)
	c.key = key
	return c
}

// Open fetches the first page. It is only legal on a Ready cursor.
func (c *Cursor[T]) Open(ctx context.Context) error {
	if c.state != Ready {
		return fmt.Errorf("%w: cannot open cursor in state %s", ErrInvalidState, c.state)
	}

	c.state = Open
	return c.scan(ctx, c.cursorID)
}

// HasNext reports whether Next will return an item, fetching further pages
// as needed. Empty pages with a non-zero token are skipped.
func (c *Cursor[T]) HasNext(ctx context.Context) (bool, error) {
	if err := c.assertOpen(); err != nil {
		return false, err
	}

	for c.idx >= len(c.page) && c.state != Finished {
		if err := c.scan(ctx, c.cursorID); err != nil {
			return false, err
		}
	}

	if c.idx < len(c.page) {
		return true, nil
	}
	return c.cursorID != 0, nil
}

// Next returns the next item or ErrNoMoreElements.
func (c *Cursor[T]) Next(ctx context.Context) (T, error) {
	var zero T

	ok, err := c.HasNext(ctx)
	if err != nil {
		return zero, err
	}
	if !ok || c.idx >= len(c.page) {
		return zero, ErrNoMoreElements
	}

	item := c.page[c.idx]
	c.idx++
	c.position++
	return item, nil
}

// Close releases the cursor's resources. It always leaves the cursor Closed
// and is safe to call more than once; onClose only runs the first time.
func (c *Cursor[T]) Close() error {
	if c.state == Closed {
		return nil
	}

	c.state = Closed
	c.page = nil
	c.idx = 0

	if c.onClose == nil {
		return nil
	}
	fn := c.onClose
	c.onClose = nil
	return fn()
}

// State returns the lifecycle state.
func (c *Cursor[T]) State() State { return c.state }

// CursorID returns the last token received from the store.
func (c *Cursor[T]) CursorID() uint64 { return c.cursorID }

// Position returns the number of items returned by Next so far.
func (c *Cursor[T]) Position() int64 { return c.position }

// Key returns a copy of the key of a key-bound cursor, nil otherwise.
func (c *Cursor[T]) Key() []byte { return slices.Clone(c.key) }

// Options returns the options used for every page.
func (c *Cursor[T]) Options() Options { return c.opts }

func (c *Cursor[T]) assertOpen() error {
	if c.state == Ready || c.state == Closed {
		return fmt.Errorf("%w: cursor is %s, did you forget to call Open?", ErrInvalidState, c.state)
	}
	return nil
}

func (c *Cursor[T]) scan(ctx context.Context, cursorID uint64) error {
	page, err := c.fetch(ctx, cursorID, c.opts)
	if err != nil {
		if closeErr := c.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		return err
	}

	c.cursorID = page.Cursor
	if page.Cursor == 0 {
		c.state = Finished
	}
	c.page = page.Items
	c.idx = 0
	return nil
}

// Collect opens c if needed, drains it and closes it.
func Collect[T any](ctx context.Context, c *Cursor[T]) (items []T, err error) {
	defer func() {
		if closeErr := c.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if c.State() == Ready {
		if err := c.Open(ctx); err != nil {
			return nil, err
		}
	}

	for {
		ok, err := c.HasNext(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return items, nil
		}

		item, err := c.Next(ctx)
		if errors.Is(err, ErrNoMoreElements) {
			return items, nil
		}
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
}
