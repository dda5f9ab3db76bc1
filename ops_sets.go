package kvtemplate

import (
	"context"

	"github.com/pior/kvtemplate/cursor"
	"github.com/pior/kvtemplate/driver"
)

// SetOps runs set commands. Members use the value codec.
type SetOps struct {
	t *Template
}

// Sets returns the set operations of t.
func (t *Template) Sets() SetOps {
	return SetOps{t: t}
}

// Add adds members to the set at key and returns how many were new.
func (o SetOps) Add(ctx context.Context, key any, members ...any) (int64, error) {
	return o.update(ctx, driver.SAdd, key, members)
}

// Remove removes members from the set at key and returns how many existed.
func (o SetOps) Remove(ctx context.Context, key any, members ...any) (int64, error) {
	return o.update(ctx, driver.SRem, key, members)
}

func (o SetOps) update(ctx context.Context, build func([]byte, ...[]byte) driver.Command, key any, members []any) (int64, error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return 0, err
	}
	ms, err := o.t.codecs.RawValues(members)
	if err != nil {
		return 0, err
	}
	return run(ctx, o.t, build(k, ms...), toInt)
}

// Members returns every member of the set at key, in no particular order.
func (o SetOps) Members(ctx context.Context, key any) ([]any, error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return nil, err
	}
	return run(ctx, o.t, driver.SMembers(k), o.t.decodeValues)
}

// IsMember reports whether member belongs to the set at key.
func (o SetOps) IsMember(ctx context.Context, key, member any) (bool, error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return false, err
	}
	m, err := o.t.codecs.RawValue(member)
	if err != nil {
		return false, err
	}
	return run(ctx, o.t, driver.SIsMember(k, m), toBool)
}

// Size returns the cardinality of the set at key.
func (o SetOps) Size(ctx context.Context, key any) (int64, error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return 0, err
	}
	return run(ctx, o.t, driver.SCard(k), toInt)
}

// Scan returns an open cursor over the members of the set at key.
func (o SetOps) Scan(ctx context.Context, key any, opts cursor.Options) (*cursor.Cursor[any], error) {
	k, err := o.t.codecs.RawKey(key)
	if err != nil {
		return nil, err
	}
	return openCursor(ctx, o.t, k, opts, keyScan(driver.CmdSScan), o.t.decodeValues)
}

func keyScan(name string) scanCommand {
	return func(key []byte, cursorID uint64, extra ...[]byte) driver.Command {
		return driver.KeyScan(name, key, cursorID, extra...)
	}
}
