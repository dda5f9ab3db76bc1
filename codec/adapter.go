package codec

import "fmt"

// Adapter converts keys, values and hash fields using one codec per role.
// A nil role codec passes []byte through unchanged.
type Adapter struct {
	Key       Codec
	Value     Codec
	HashKey   Codec
	HashValue Codec
	String    Codec
}

// NewAdapter returns an adapter using c for every role except String,
// which always uses the String codec.
func NewAdapter(c Codec) *Adapter {
	return &Adapter{
		Key:       c,
		Value:     c,
		HashKey:   c,
		HashValue: c,
		String:    String,
	}
}

// WithDefaults returns a copy where every nil role is set to def.
// String falls back to the String codec.
func (a Adapter) WithDefaults(def Codec) *Adapter {
	if a.Key == nil {
		a.Key = def
	}
	if a.Value == nil {
		a.Value = def
	}
	if a.HashKey == nil {
		a.HashKey = def
	}
	if a.HashValue == nil {
		a.HashValue = def
	}
	if a.String == nil {
		a.String = String
	}
	return &a
}

func (a *Adapter) RawKey(key any) ([]byte, error)         { return encode(a.Key, "key", key) }
func (a *Adapter) RawValue(value any) ([]byte, error)     { return encode(a.Value, "value", value) }
func (a *Adapter) RawHashKey(field any) ([]byte, error)   { return encode(a.HashKey, "hash key", field) }
func (a *Adapter) RawHashValue(value any) ([]byte, error) { return encode(a.HashValue, "hash value", value) }
func (a *Adapter) RawString(s any) ([]byte, error)        { return encode(a.String, "string", s) }

func (a *Adapter) DecodeKey(b []byte) (any, error)       { return decode(a.Key, "key", b) }
func (a *Adapter) DecodeValue(b []byte) (any, error)     { return decode(a.Value, "value", b) }
func (a *Adapter) DecodeHashKey(b []byte) (any, error)   { return decode(a.HashKey, "hash key", b) }
func (a *Adapter) DecodeHashValue(b []byte) (any, error) { return decode(a.HashValue, "hash value", b) }
func (a *Adapter) DecodeString(b []byte) (any, error)    { return decode(a.String, "string", b) }

// RawKeys encodes several keys at once.
func (a *Adapter) RawKeys(keys []any) ([][]byte, error) {
	return a.rawAll(a.RawKey, keys)
}

// RawValues encodes several values at once.
func (a *Adapter) RawValues(values []any) ([][]byte, error) {
	return a.rawAll(a.RawValue, values)
}

func (a *Adapter) rawAll(fn func(any) ([]byte, error), in []any) ([][]byte, error) {
	out := make([][]byte, len(in))
	for i, v := range in {
		b, err := fn(v)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// DecodeValues decodes several values at once.
func (a *Adapter) DecodeValues(raw [][]byte) ([]any, error) {
	out := make([]any, len(raw))
	for i, b := range raw {
		v, err := a.DecodeValue(b)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func encode(c Codec, role string, v any) ([]byte, error) {
	if c == nil {
		switch v := v.(type) {
		case nil:
			return nil, nil
		case []byte:
			return v, nil
		default:
			return nil, fmt.Errorf("%w: %s of type %T", ErrNoCodec, role, v)
		}
	}

	b, err := c.Serialize(v)
	if err != nil {
		return nil, fmt.Errorf("serialize %s: %w", role, err)
	}
	return b, nil
}

func decode(c Codec, role string, b []byte) (any, error) {
	if c == nil {
		if b == nil {
			return nil, nil
		}
		return b, nil
	}

	v, err := c.Deserialize(b)
	if err != nil {
		return nil, fmt.Errorf("deserialize %s: %w", role, err)
	}
	return v, nil
}
