package kvtemplate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pior/kvtemplate/cursor"
	"github.com/pior/kvtemplate/driver"
	"github.com/pior/kvtemplate/txsync"
)

// run executes cmd and converts its reply. A reply deferred by a pipeline
// or a store transaction is not converted and yields the zero value.
func run[T any](ctx context.Context, t *Template, cmd driver.Command, convert func(driver.Reply) (T, error)) (T, error) {
	var zero T

	res, err := t.Execute(ctx, func(ctx context.Context, conn driver.Conn) (any, error) {
		reply, err := conn.Do(ctx, cmd)
		if err != nil {
			return nil, err
		}
		if deferred(conn, reply) {
			return nil, nil
		}
		v, err := convert(reply)
		if err != nil {
			return nil, fmt.Errorf("kvtemplate: %s: %w", cmd.Name, err)
		}
		return v, nil
	})
	if err != nil || res == nil {
		return zero, err
	}
	return res.(T), nil
}

func deferred(conn driver.Conn, r driver.Reply) bool {
	return conn.IsPipelined() || (r.Kind == driver.KindStatus && r.Str == driver.Queued.Str)
}

func (t *Template) demuxer() demuxer {
	return demuxer{codecs: t.codecs}
}

func (t *Template) decodeValue(r driver.Reply) (any, error) {
	if r.IsNil() {
		return nil, nil
	}
	return t.codecs.DecodeValue(r.Bytes)
}

func (t *Template) decodeValues(r driver.Reply) ([]any, error) {
	v, err := t.demuxer().convert(r)
	if err != nil {
		return nil, err
	}
	values, _ := v.([]any)
	return values, nil
}

func toInt(r driver.Reply) (int64, error)  { return r.Int64() }
func toBool(r driver.Reply) (bool, error)  { return r.Truth() }
func toStatus(r driver.Reply) (any, error) { return nil, r.Err() }

// scanPage splits a SCAN family reply into the next cursor and the page.
func scanPage(r driver.Reply) (uint64, driver.Reply, error) {
	if r.Kind != driver.KindArray || len(r.Elems) != 2 {
		return 0, driver.Reply{}, fmt.Errorf("kvtemplate: unexpected scan reply %s", r)
	}
	next, err := r.Elems[0].Uint64()
	if err != nil {
		return 0, driver.Reply{}, fmt.Errorf("kvtemplate: scan cursor: %w", err)
	}
	return next, r.Elems[1], nil
}

// scanCommand builds the command fetching one page. key is nil for key
// space scans.
type scanCommand func(key []byte, cursorID uint64, extra ...[]byte) driver.Command

// openCursor acquires a connection, binds it to a new cursor and opens the
// cursor. The connection is released when the cursor is closed, including
// when a page fetch fails.
func openCursor[T any](ctx context.Context, t *Template, key []byte, opts cursor.Options, command scanCommand, items func(page driver.Reply) ([]T, error)) (*cursor.Cursor[T], error) {
	if !t.initialized() {
		return nil, ErrNotInitialized
	}

	conn, err := t.manager.Acquire(ctx, txsync.AcquireOptions{Transactional: t.txSupport})
	if err != nil {
		return nil, err
	}
	if conn.IsPipelined() {
		return nil, errors.Join(ErrPipelinedCursor, t.manager.Release(ctx, conn))
	}

	fetch := func(ctx context.Context, key []byte, cursorID uint64, opts cursor.Options) (cursor.Page[T], error) {
		reply, err := conn.Do(ctx, command(key, cursorID, opts.Args()...))
		if err != nil {
			return cursor.Page[T]{}, err
		}
		next, page, err := scanPage(reply)
		if err != nil {
			return cursor.Page[T]{}, err
		}
		elems, err := items(page)
		if err != nil {
			return cursor.Page[T]{}, err
		}
		t.stats.recordScanPage()
		return cursor.Page[T]{Cursor: next, Items: elems}, nil
	}
	release := func() error {
		return t.manager.Release(ctx, conn)
	}

	var c *cursor.Cursor[T]
	if key == nil {
		c = cursor.New(func(ctx context.Context, cursorID uint64, opts cursor.Options) (cursor.Page[T], error) {
			return fetch(ctx, nil, cursorID, opts)
		}, opts, release)
	} else {
		c = cursor.NewKeyBound(key, fetch, opts, release)
	}

	t.stats.recordScan()
	if err := c.Open(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes keys and returns how many existed.
func (t *Template) Delete(ctx context.Context, keys ...any) (int64, error) {
	raw, err := t.codecs.RawKeys(keys)
	if err != nil {
		return 0, err
	}
	return run(ctx, t, driver.Del(raw...), toInt)
}

// HasKey reports whether key exists.
func (t *Template) HasKey(ctx context.Context, key any) (bool, error) {
	raw, err := t.codecs.RawKey(key)
	if err != nil {
		return false, err
	}
	return run(ctx, t, driver.Exists(raw), toBool)
}

// Type returns the type of the value at key, "none" when it is missing.
func (t *Template) Type(ctx context.Context, key any) (string, error) {
	raw, err := t.codecs.RawKey(key)
	if err != nil {
		return "", err
	}
	return run(ctx, t, driver.Type(raw), func(r driver.Reply) (string, error) {
		if r.Kind != driver.KindStatus {
			return "", fmt.Errorf("unexpected %s reply", r.Kind)
		}
		return r.Str, nil
	})
}

// TTL returns the remaining time to live of key. ok is false when the key
// is missing or does not expire.
func (t *Template) TTL(ctx context.Context, key any) (ttl time.Duration, ok bool, err error) {
	raw, err := t.codecs.RawKey(key)
	if err != nil {
		return 0, false, err
	}
	ms, err := run(ctx, t, driver.PTTL(raw), toInt)
	if err != nil || ms < 0 {
		return 0, false, err
	}
	return time.Duration(ms) * time.Millisecond, true, nil
}

// Ping checks that a connection can reach the store.
func (t *Template) Ping(ctx context.Context) error {
	_, err := run(ctx, t, driver.Ping(), toStatus)
	return err
}

// Scan returns an open cursor over the keys of the store, decoded with the
// key codec. The cursor holds a connection until it is closed.
func (t *Template) Scan(ctx context.Context, opts cursor.Options) (*cursor.Cursor[any], error) {
	return openCursor(ctx, t, nil, opts,
		func(_ []byte, cursorID uint64, extra ...[]byte) driver.Command {
			return driver.Scan(cursorID, extra...)
		},
		func(page driver.Reply) ([]any, error) {
			keys := make([]any, len(page.Elems))
			for i, e := range page.Elems {
				k, err := t.codecs.DecodeKey(e.Bytes)
				if err != nil {
					return nil, err
				}
				keys[i] = k
			}
			return keys, nil
		})
}
