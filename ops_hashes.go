package kvtemplate

import (
	"context"
	"fmt"

	"github.com/pior/kvtemplate/cursor"
	"github.com/pior/kvtemplate/driver"
)

// HashOps runs hash commands. Fields use the hash key codec and values the
// hash value codec.
type HashOps struct {
	t *Template
}

// Hashes returns the hash operations of t.
func (t *Template) Hashes() HashOps {
	return HashOps{t: t}
}

// Put sets field to value in the hash at key.
func (o HashOps) Put(ctx context.Context, key, field, value any) error {
	_, err := o.PutAll(ctx, key, Entry{Key: field, Value: value})
	return err
}

// PutAll sets every entry in the hash at key and returns how many fields
// were added.
func (o HashOps) PutAll(ctx context.Context, key any, entries ...Entry) (int64, error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return 0, err
	}
	args := make([][]byte, 0, 2*len(entries))
	for _, e := range entries {
		f, err := o.t.codecs.RawHashKey(e.Key)
		if err != nil {
			return 0, err
		}
		v, err := o.t.codecs.RawHashValue(e.Value)
		if err != nil {
			return 0, err
		}
		args = append(args, f, v)
	}
	return run(ctx, o.t, driver.HSet(k, args...), toInt)
}

// Get returns the value of field in the hash at key, or nil.
func (o HashOps) Get(ctx context.Context, key, field any) (any, error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return nil, err
	}
	f, err := o.t.codecs.RawHashKey(field)
	if err != nil {
		return nil, err
	}
	return run(ctx, o.t, driver.HGet(k, f), func(r driver.Reply) (any, error) {
		if r.IsNil() {
			return nil, nil
		}
		return o.t.codecs.DecodeHashValue(r.Bytes)
	})
}

// Entries returns every field of the hash at key.
func (o HashOps) Entries(ctx context.Context, key any) ([]Entry, error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return nil, err
	}
	return run(ctx, o.t, driver.HGetAll(k), o.t.decodeEntries)
}

// Delete removes fields from the hash at key and returns how many existed.
func (o HashOps) Delete(ctx context.Context, key any, fields ...any) (int64, error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return 0, err
	}
	fs := make([][]byte, len(fields))
	for i, field := range fields {
		if fs[i], err = o.t.codecs.RawHashKey(field); err != nil {
			return 0, err
		}
	}
	return run(ctx, o.t, driver.HDel(k, fs...), toInt)
}

// Scan returns an open cursor over the fields of the hash at key.
func (o HashOps) Scan(ctx context.Context, key any, opts cursor.Options) (*cursor.Cursor[Entry], error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return nil, err
	}
	return openCursor(ctx, o.t, k, opts, keyScan(driver.CmdHScan), o.t.decodeEntries)
}

func (t *Template) decodeEntries(r driver.Reply) ([]Entry, error) {
	if r.Kind != driver.KindMap {
		return nil, fmt.Errorf("unexpected %s reply, want map", r.Kind)
	}
	return t.demuxer().entries(r.Pairs)
}
