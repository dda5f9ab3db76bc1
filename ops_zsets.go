package kvtemplate

import (
	"context"
	"fmt"

	"github.com/pior/kvtemplate/cursor"
	"github.com/pior/kvtemplate/driver"
)

// ZSetOps runs sorted set commands. Members use the value codec.
type ZSetOps struct {
	t *Template
}

// ZSets returns the sorted set operations of t.
func (t *Template) ZSets() ZSetOps {
	return ZSetOps{t: t}
}

// Add adds value with score to the sorted set at key, or updates its score.
// It reports whether the member is new.
func (o ZSetOps) Add(ctx context.Context, key, value any, score float64) (bool, error) {
	n, err := o.AddAll(ctx, key, ScoredValue{Value: value, Score: score})
	return n == 1, err
}

// AddAll adds members to the sorted set at key and returns how many were new.
func (o ZSetOps) AddAll(ctx context.Context, key any, members ...ScoredValue) (int64, error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return 0, err
	}
	zs := make([]driver.ZMember, len(members))
	for i, m := range members {
		v, err := o.t.codecs.RawValue(m.Value)
		if err != nil {
			return 0, err
		}
		zs[i] = driver.ZMember{Member: v, Score: m.Score}
	}
	return run(ctx, o.t, driver.ZAdd(k, zs...), toInt)
}

// Range returns the members ranked between start and stop, both inclusive.
func (o ZSetOps) Range(ctx context.Context, key any, start, stop int64) ([]any, error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return nil, err
	}
	return run(ctx, o.t, driver.ZRange(k, start, stop, false), o.t.decodeValues)
}

// RangeWithScores is Range with the score of each member.
func (o ZSetOps) RangeWithScores(ctx context.Context, key any, start, stop int64) ([]ScoredValue, error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return nil, err
	}
	return run(ctx, o.t, driver.ZRange(k, start, stop, true), o.t.decodeScored)
}

// Score returns the score of value in the sorted set at key. ok is false
// when the member is missing.
func (o ZSetOps) Score(ctx context.Context, key, value any) (score float64, ok bool, err error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return 0, false, err
	}
	v, err := o.t.codecs.RawValue(value)
	if err != nil {
		return 0, false, err
	}
	res, err := run(ctx, o.t, driver.ZScore(k, v), func(r driver.Reply) (any, error) {
		if r.IsNil() {
			return nil, nil
		}
		return r.Float64()
	})
	if err != nil || res == nil {
		return 0, false, err
	}
	return res.(float64), true, nil
}

// Scan returns an open cursor over the members and scores of the sorted
// set at key.
func (o ZSetOps) Scan(ctx context.Context, key any, opts cursor.Options) (*cursor.Cursor[ScoredValue], error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return nil, err
	}
	return openCursor(ctx, o.t, k, opts, keyScan(driver.CmdZScan), o.t.decodeScored)
}

func (t *Template) decodeScored(r driver.Reply) ([]ScoredValue, error) {
	values, err := t.decodeValues(r)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredValue, len(values))
	for i, v := range values {
		sv, ok := v.(ScoredValue)
		if !ok {
			return nil, fmt.Errorf("unexpected element %T, want scored member", v)
		}
		out[i] = sv
	}
	return out, nil
}
