package kvtemplate

import (
	"fmt"

	"github.com/pior/kvtemplate/codec"
	"github.com/pior/kvtemplate/driver"
)

// ScoredValue is a sorted set member with its score.
type ScoredValue struct {
	Value any
	Score float64
}

// Entry is one field of a hash.
type Entry struct {
	Key   any
	Value any
}

// Demux converts the driver.Reply elements of values into typed values:
//
//   - bytes are decoded with the value codec, or kept as []byte without one
//   - arrays are converted recursively into []any
//   - sets become []any; bytes members are decoded with the value codec and
//     scored members become ScoredValue
//   - maps become []Entry; when the values are bytes the keys are decoded
//     with the hash key codec and the values with the hash value codec
//   - status replies become string, integers int64, doubles float64,
//     booleans bool, nil replies nil and error replies *driver.StoreError
//
// Elements that are not a driver.Reply are kept as is, so Demux is
// idempotent. Empty containers convert to empty slices.
func Demux(values []any, value, hashKey, hashValue codec.Codec) ([]any, error) {
	d := demuxer{codecs: &codec.Adapter{Value: value, HashKey: hashKey, HashValue: hashValue}}

	out := make([]any, len(values))
	for i, v := range values {
		r, ok := v.(driver.Reply)
		if !ok {
			out[i] = v
			continue
		}
		typed, err := d.convert(r)
		if err != nil {
			return nil, fmt.Errorf("kvtemplate: reply %d: %w", i, err)
		}
		out[i] = typed
	}
	return out, nil
}

// DemuxReplies is Demux for a list of raw replies.
func DemuxReplies(replies []driver.Reply, value, hashKey, hashValue codec.Codec) ([]any, error) {
	values := make([]any, len(replies))
	for i, r := range replies {
		values[i] = r
	}
	return Demux(values, value, hashKey, hashValue)
}

type demuxer struct {
	codecs *codec.Adapter
}

func (d demuxer) convert(r driver.Reply) (any, error) {
	switch r.Kind {
	case driver.KindBytes:
		return d.codecs.DecodeValue(r.Bytes)

	case driver.KindArray, driver.KindSet:
		out := make([]any, len(r.Elems))
		for i, e := range r.Elems {
			v, err := d.convert(e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case driver.KindScored:
		v, err := d.codecs.DecodeValue(r.Bytes)
		if err != nil {
			return nil, err
		}
		return ScoredValue{Value: v, Score: r.Float}, nil

	case driver.KindMap:
		return d.entries(r.Pairs)

	case driver.KindStatus:
		return r.Str, nil
	case driver.KindInt:
		return r.Int, nil
	case driver.KindFloat:
		return r.Float, nil
	case driver.KindBool:
		return r.Bool, nil
	case driver.KindNil:
		return nil, nil
	case driver.KindError:
		return r.Err(), nil
	default:
		return r, nil
	}
}

// entries decodes map pairs. A map whose first value is a bulk string is a
// hash: keys use the hash key codec and bulk values the hash value codec.
// Any other value is converted on its own.
func (d demuxer) entries(pairs []driver.Pair) ([]Entry, error) {
	out := make([]Entry, len(pairs))
	if len(pairs) == 0 {
		return out, nil
	}

	hash := pairs[0].Value.Kind == driver.KindBytes
	for i, p := range pairs {
		var (
			k, v any
			err  error
		)
		if hash {
			k, err = d.codecs.DecodeHashKey(p.Key.Bytes)
		} else {
			k, err = d.convert(p.Key)
		}
		if err != nil {
			return nil, err
		}

		if hash && p.Value.Kind == driver.KindBytes {
			v, err = d.codecs.DecodeHashValue(p.Value.Bytes)
		} else {
			v, err = d.convert(p.Value)
		}
		if err != nil {
			return nil, err
		}
		out[i] = Entry{Key: k, Value: v}
	}
	return out, nil
}
