package kvtemplate

import (
	"context"
	"fmt"
	"time"

	"github.com/pior/kvtemplate/driver"
)

// ListOps runs list commands.
type ListOps struct {
	t *Template
}

// Lists returns the list operations of t.
func (t *Template) Lists() ListOps {
	return ListOps{t: t}
}

// LeftPush prepends values to the list at key and returns its length.
func (o ListOps) LeftPush(ctx context.Context, key any, values ...any) (int64, error) {
	return o.push(ctx, driver.LPush, key, values)
}

// RightPush appends values to the list at key and returns its length.
func (o ListOps) RightPush(ctx context.Context, key any, values ...any) (int64, error) {
	return o.push(ctx, driver.RPush, key, values)
}

func (o ListOps) push(ctx context.Context, build func([]byte, ...[]byte) driver.Command, key any, values []any) (int64, error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return 0, err
	}
	vs, err := o.t.codecs.RawValues(values)
	if err != nil {
		return 0, err
	}
	return run(ctx, o.t, build(k, vs...), toInt)
}

// LeftPop removes and returns the first element, or nil.
func (o ListOps) LeftPop(ctx context.Context, key any) (any, error) {
	return o.pop(ctx, driver.LPop, key)
}

// RightPop removes and returns the last element, or nil.
func (o ListOps) RightPop(ctx context.Context, key any) (any, error) {
	return o.pop(ctx, driver.RPop, key)
}

func (o ListOps) pop(ctx context.Context, build func([]byte) driver.Command, key any) (any, error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return nil, err
	}
	return run(ctx, o.t, build(k), o.t.decodeValue)
}

// BlockingLeftPop removes and returns the first element of the list at key,
// waiting up to timeout for one to be pushed. It returns nil on timeout. A
// zero timeout waits until ctx is done.
func (o ListOps) BlockingLeftPop(ctx context.Context, key any, timeout time.Duration) (any, error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return nil, err
	}
	return run(ctx, o.t, driver.BLPop(timeout, k), func(r driver.Reply) (any, error) {
		if r.IsNil() {
			return nil, nil
		}
		if r.Kind != driver.KindArray || len(r.Elems) != 2 {
			return nil, fmt.Errorf("unexpected %s reply", r.Kind)
		}
		return o.t.decodeValue(r.Elems[1])
	})
}

// Range returns the elements between start and stop, both inclusive.
// Negative indexes count from the end.
func (o ListOps) Range(ctx context.Context, key any, start, stop int64) ([]any, error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return nil, err
	}
	return run(ctx, o.t, driver.LRange(k, start, stop), o.t.decodeValues)
}

// Size returns the length of the list at key.
func (o ListOps) Size(ctx context.Context, key any) (int64, error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return 0, err
	}
	return run(ctx, o.t, driver.LLen(k), toInt)
}
