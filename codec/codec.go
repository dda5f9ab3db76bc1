// Package codec converts typed keys, values and hash fields to bytes and back.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"google.golang.org/protobuf/proto"
)

var (
	ErrNoCodec         = errors.New("codec: no codec configured for non-byte value")
	ErrUnsupportedType = errors.New("codec: unsupported type")
)

// Codec serializes values of one target type.
// Serialize(nil) returns nil bytes and Deserialize(nil) returns nil.
type Codec interface {
	Serialize(v any) ([]byte, error)
	Deserialize(b []byte) (any, error)
	CanSerialize(t reflect.Type) bool
	TargetType() reflect.Type
}

var (
	bytesType  = reflect.TypeFor[[]byte]()
	stringType = reflect.TypeFor[string]()
	int64Type  = reflect.TypeFor[int64]()
)

// Bytes passes byte slices through unchanged.
var Bytes Codec = bytesCodec{}

type bytesCodec struct{}

func (bytesCodec) Serialize(v any) ([]byte, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %T is not []byte", ErrUnsupportedType, v)
	}
}

func (bytesCodec) Deserialize(b []byte) (any, error) {
	if b == nil {
		return nil, nil
	}
	return b, nil
}

func (bytesCodec) CanSerialize(t reflect.Type) bool { return t == bytesType }
func (bytesCodec) TargetType() reflect.Type         { return bytesType }

// String encodes strings as UTF-8 bytes.
var String Codec = stringCodec{}

type stringCodec struct{}

func (stringCodec) Serialize(v any) ([]byte, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	default:
		return nil, fmt.Errorf("%w: %T is not a string", ErrUnsupportedType, v)
	}
}

func (stringCodec) Deserialize(b []byte) (any, error) {
	if b == nil {
		return nil, nil
	}
	return string(b), nil
}

func (stringCodec) CanSerialize(t reflect.Type) bool { return t == stringType }
func (stringCodec) TargetType() reflect.Type         { return stringType }

// Int64 encodes int64 values in decimal, the form counters use in the
// store. Other integer types are rejected since they would decode as int64.
var Int64 Codec = int64Codec{}

type int64Codec struct{}

func (int64Codec) Serialize(v any) ([]byte, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case int64:
		return strconv.AppendInt(nil, v, 10), nil
	default:
		return nil, fmt.Errorf("%w: %T is not an int64", ErrUnsupportedType, v)
	}
}

func (int64Codec) Deserialize(b []byte) (any, error) {
	if b == nil {
		return nil, nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("codec: decode int64: %w", err)
	}
	return n, nil
}

func (int64Codec) CanSerialize(t reflect.Type) bool { return t == int64Type }

func (int64Codec) TargetType() reflect.Type { return int64Type }

// JSON encodes values of type T as JSON documents.
// Deserialize returns a T, never a map[string]any.
type JSON[T any] struct{}

func (JSON[T]) Serialize(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	switch v.(type) {
	case T, *T:
	default:
		return nil, fmt.Errorf("%w: %T is not %s", ErrUnsupportedType, v, reflect.TypeFor[T]())
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: encode json: %w", err)
	}
	return b, nil
}

func (JSON[T]) Deserialize(b []byte) (any, error) {
	if b == nil {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("codec: decode json: %w", err)
	}
	return v, nil
}

func (JSON[T]) CanSerialize(t reflect.Type) bool {
	target := reflect.TypeFor[T]()
	return t == target || t == reflect.PointerTo(target)
}

func (JSON[T]) TargetType() reflect.Type { return reflect.TypeFor[T]() }

// Proto encodes protobuf messages in their binary wire format.
// T is the message pointer type, e.g. Proto[*wrapperspb.StringValue].
type Proto[T proto.Message] struct{}

func (Proto[T]) Serialize(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	msg, ok := v.(T)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not %s", ErrUnsupportedType, v, reflect.TypeFor[T]())
	}
	b, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("codec: encode proto: %w", err)
	}
	return b, nil
}

func (Proto[T]) Deserialize(b []byte) (any, error) {
	if b == nil {
		return nil, nil
	}
	var zero T
	msg := zero.ProtoReflect().New().Interface()
	if err := proto.Unmarshal(b, msg); err != nil {
		return nil, fmt.Errorf("codec: decode proto: %w", err)
	}
	return msg.(T), nil
}

func (Proto[T]) CanSerialize(t reflect.Type) bool { return t == reflect.TypeFor[T]() }
func (Proto[T]) TargetType() reflect.Type         { return reflect.TypeFor[T]() }
