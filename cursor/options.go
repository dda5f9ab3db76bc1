package cursor

import (
	"slices"
	"strconv"
)

// Options configures every page fetch of one scan. Build it once with
// ScanOptions and reuse it; the zero value scans without filters.
type Options struct {
	count    int64
	hasCount bool
	match    []byte
	typ      string
}

// Count returns the page-size hint and whether one was set.
func (o Options) Count() (int64, bool) { return o.count, o.hasCount }

// Match returns a copy of the key pattern, nil when unset.
func (o Options) Match() []byte { return slices.Clone(o.match) }

// Type returns the type filter, empty when unset.
func (o Options) Type() string { return o.typ }

// Args renders the options as scan arguments: [MATCH p] [COUNT n] [TYPE t].
func (o Options) Args() [][]byte {
	var args [][]byte
	if o.match != nil {
		args = append(args, []byte("MATCH"), o.Match())
	}
	if o.hasCount {
		args = append(args, []byte("COUNT"), strconv.AppendInt(nil, o.count, 10))
	}
	if o.typ != "" {
		args = append(args, []byte("TYPE"), []byte(o.typ))
	}
	return args
}

// Builder assembles Options.
type Builder struct {
	opts Options
}

// ScanOptions starts a new options builder.
func ScanOptions() *Builder {
	return &Builder{}
}

// Count sets the page-size hint. The store may return more or fewer items.
func (b *Builder) Count(n int64) *Builder {
	b.opts.count = n
	b.opts.hasCount = true
	return b
}

// Match sets a glob-style key pattern.
func (b *Builder) Match(pattern string) *Builder {
	b.opts.match = []byte(pattern)
	return b
}

// MatchBytes sets a binary key pattern.
func (b *Builder) MatchBytes(pattern []byte) *Builder {
	b.opts.match = append([]byte(nil), pattern...)
	return b
}

// Type restricts the scan to keys holding the given type ("string", "list", ...).
func (b *Builder) Type(t string) *Builder {
	b.opts.typ = t
	return b
}

// Build returns the options. The builder can keep being modified without
// affecting options already built.
func (b *Builder) Build() Options {
	opts := b.opts
	if opts.match != nil {
		opts.match = append([]byte(nil), opts.match...)
	}
	return opts
}
