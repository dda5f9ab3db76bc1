package kvtemplate

import (
	"context"
	"time"

	"github.com/pior/kvtemplate/driver"
)

// ValueOps runs string commands. Keys use the key codec and values the
// value codec.
type ValueOps struct {
	t *Template
}

// Values returns the string operations of t.
func (t *Template) Values() ValueOps {
	return ValueOps{t: t}
}

// Get returns the value at key, or nil when it is missing.
func (o ValueOps) Get(ctx context.Context, key any) (any, error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return nil, err
	}
	return run(ctx, o.t, driver.Get(k), o.t.decodeValue)
}

// Set stores value at key.
func (o ValueOps) Set(ctx context.Context, key, value any) error {
	return o.set(ctx, key, value, driver.SetOptions{})
}

// SetWithTTL stores value at key for ttl.
func (o ValueOps) SetWithTTL(ctx context.Context, key, value any, ttl time.Duration) error {
	return o.set(ctx, key, value, driver.SetOptions{TTL: ttl})
}

func (o ValueOps) set(ctx context.Context, key, value any, opts driver.SetOptions) error {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return err
	}
	v, err := o.t.codecs.RawValue(value)
	if err != nil {
		return err
	}
	_, err = run(ctx, o.t, driver.Set(k, v, opts), toStatus)
	return err
}

// SetIfAbsent stores value at key unless the key exists. A zero ttl means
// no expiration. It reports whether the value was stored.
func (o ValueOps) SetIfAbsent(ctx context.Context, key, value any, ttl time.Duration) (bool, error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return false, err
	}
	v, err := o.t.codecs.RawValue(value)
	if err != nil {
		return false, err
	}
	cmd := driver.Set(k, v, driver.SetOptions{TTL: ttl, OnlyIfAbsent: true})
	return run(ctx, o.t, cmd, func(r driver.Reply) (bool, error) {
		if err := r.Err(); err != nil {
			return false, err
		}
		return !r.IsNil(), nil
	})
}

// Increment adds delta to the integer at key and returns the new value.
func (o ValueOps) Increment(ctx context.Context, key any, delta int64) (int64, error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return 0, err
	}
	return run(ctx, o.t, driver.IncrBy(k, delta), toInt)
}
