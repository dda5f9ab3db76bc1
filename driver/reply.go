package driver

import (
	"fmt"
	"strconv"
)

// Kind identifies the shape of a Reply.
type Kind uint8

const (
	KindNil    Kind = iota // no value (missing key, nil bulk)
	KindStatus             // simple status string ("OK", "QUEUED")
	KindError              // store-reported error for a single command
	KindInt                // integer reply
	KindFloat              // double reply
	KindBool               // boolean reply
	KindBytes              // bulk string
	KindArray              // ordered sequence of replies
	KindSet                // unordered collection of replies
	KindMap                // key/value pairs
	KindScored             // member with a score (sorted set element)
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindStatus:
		return "status"
	case KindError:
		return "error"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindSet:
		return "set"
	case KindMap:
		return "map"
	case KindScored:
		return "scored"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Reply is a raw, untyped store reply. Only the fields matching Kind are set.
type Reply struct {
	Kind  Kind
	Str   string  // KindStatus, KindError
	Int   int64   // KindInt
	Float float64 // KindFloat, KindScored (score)
	Bool  bool    // KindBool
	Bytes []byte  // KindBytes, KindScored (member)
	Elems []Reply // KindArray, KindSet
	Pairs []Pair  // KindMap
}

// Pair is one entry of a KindMap reply.
type Pair struct {
	Key   Reply
	Value Reply
}

func NilReply() Reply                 { return Reply{Kind: KindNil} }
func StatusReply(s string) Reply      { return Reply{Kind: KindStatus, Str: s} }
func ErrorReply(msg string) Reply     { return Reply{Kind: KindError, Str: msg} }
func IntReply(n int64) Reply          { return Reply{Kind: KindInt, Int: n} }
func FloatReply(f float64) Reply      { return Reply{Kind: KindFloat, Float: f} }
func BoolReply(b bool) Reply          { return Reply{Kind: KindBool, Bool: b} }
func BytesReply(b []byte) Reply       { return Reply{Kind: KindBytes, Bytes: b} }
func ArrayReply(elems ...Reply) Reply { return Reply{Kind: KindArray, Elems: elems} }
func SetReply(elems ...Reply) Reply   { return Reply{Kind: KindSet, Elems: elems} }
func MapReply(pairs ...Pair) Reply    { return Reply{Kind: KindMap, Pairs: pairs} }

// ScoredReply builds a sorted set element.
func ScoredReply(member []byte, score float64) Reply {
	return Reply{Kind: KindScored, Bytes: member, Float: score}
}

// OK is the status reply returned by successful writes.
var OK = StatusReply("OK")

// Queued is the status reply returned for commands queued inside MULTI.
var Queued = StatusReply("QUEUED")

// IsNil reports whether the reply carries no value.
func (r Reply) IsNil() bool {
	return r.Kind == KindNil
}

// Err returns a *StoreError for KindError replies and nil otherwise.
func (r Reply) Err() error {
	if r.Kind != KindError {
		return nil
	}
	return &StoreError{Message: r.Str}
}

// Int64 interprets the reply as an integer.
func (r Reply) Int64() (int64, error) {
	switch r.Kind {
	case KindInt:
		return r.Int, nil
	case KindBytes:
		n, err := strconv.ParseInt(string(r.Bytes), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("driver: reply is not an integer: %w", err)
		}
		return n, nil
	case KindError:
		return 0, r.Err()
	default:
		return 0, fmt.Errorf("driver: unexpected %s reply, want int", r.Kind)
	}
}

// Uint64 interprets the reply as an unsigned integer, as used by scan cursors.
func (r Reply) Uint64() (uint64, error) {
	switch r.Kind {
	case KindInt:
		return uint64(r.Int), nil
	case KindBytes:
		n, err := strconv.ParseUint(string(r.Bytes), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("driver: reply is not an unsigned integer: %w", err)
		}
		return n, nil
	case KindError:
		return 0, r.Err()
	default:
		return 0, fmt.Errorf("driver: unexpected %s reply, want uint", r.Kind)
	}
}

// Float64 interprets the reply as a floating point number.
func (r Reply) Float64() (float64, error) {
	switch r.Kind {
	case KindFloat, KindScored:
		return r.Float, nil
	case KindInt:
		return float64(r.Int), nil
	case KindBytes:
		f, err := strconv.ParseFloat(string(r.Bytes), 64)
		if err != nil {
			return 0, fmt.Errorf("driver: reply is not a float: %w", err)
		}
		return f, nil
	case KindError:
		return 0, r.Err()
	default:
		return 0, fmt.Errorf("driver: unexpected %s reply, want float", r.Kind)
	}
}

// Truth interprets integer and boolean replies as a boolean.
func (r Reply) Truth() (bool, error) {
	switch r.Kind {
	case KindBool:
		return r.Bool, nil
	case KindInt:
		return r.Int != 0, nil
	case KindError:
		return false, r.Err()
	default:
		return false, fmt.Errorf("driver: unexpected %s reply, want bool", r.Kind)
	}
}

func (r Reply) String() string {
	switch r.Kind {
	case KindNil:
		return "(nil)"
	case KindStatus:
		return r.Str
	case KindError:
		return "(error) " + r.Str
	case KindInt:
		return strconv.FormatInt(r.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(r.Float, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(r.Bool)
	case KindBytes:
		return strconv.Quote(string(r.Bytes))
	case KindScored:
		return fmt.Sprintf("%q(%g)", r.Bytes, r.Float)
	case KindArray, KindSet:
		return fmt.Sprintf("%s[%d]", r.Kind, len(r.Elems))
	case KindMap:
		return fmt.Sprintf("map[%d]", len(r.Pairs))
	default:
		return r.Kind.String()
	}
}
