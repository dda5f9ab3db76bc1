package cursor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedSource serves items in pages of size count; the cursor token is the
// offset of the next page.
type pagedSource struct {
	items   []string
	fetches int
	failAt  int // fail the nth fetch (1-based), 0 disables
	empty   map[uint64]bool
}

func (s *pagedSource) fetch(_ context.Context, cursorID uint64, opts Options) (Page[string], error) {
	s.fetches++
	if s.failAt > 0 && s.fetches == s.failAt {
		return Page[string]{}, errors.New("connection reset")
	}

	if s.empty[cursorID] {
		return Page[string]{Cursor: cursorID + 1000}, nil
	}
	if cursorID >= 1000 {
		cursorID -= 1000
	}

	count, ok := opts.Count()
	if !ok {
		count = 10
	}

	start := int(cursorID)
	end := min(start+int(count), len(s.items))
	next := uint64(end)
	if end == len(s.items) {
		next = 0
	}
	return Page[string]{Cursor: next, Items: s.items[start:end]}, nil
}

func TestCursor_ScansAllPages(t *testing.T) {
	ctx := context.Background()
	src := &pagedSource{items: []string{"a", "b", "c", "d", "e"}}
	opts := ScanOptions().Count(2).Build()

	c := New(src.fetch, opts, nil)
	require.Equal(t, Ready, c.State())
	require.NoError(t, c.Open(ctx))

	var got []string
	for {
		ok, err := c.HasNext(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		item, err := c.Next(ctx)
		require.NoError(t, err)
		got = append(got, item)
	}

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, got)
	assert.Equal(t, 3, src.fetches)
	assert.Equal(t, Finished, c.State())
	assert.Equal(t, int64(5), c.Position())
	assert.Equal(t, uint64(0), c.CursorID())

	_, err := c.Next(ctx)
	assert.ErrorIs(t, err, ErrNoMoreElements)
}

func TestCursor_SkipsEmptyPages(t *testing.T) {
	ctx := context.Background()
	src := &pagedSource{
		items: []string{"a", "b", "c"},
		empty: map[uint64]bool{0: true},
	}

	items, err := Collect(ctx, New(src.fetch, ScanOptions().Count(2).Build(), nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, items)
	assert.Equal(t, 3, src.fetches)
}

func TestCursor_EmptyKeySpace(t *testing.T) {
	ctx := context.Background()
	src := &pagedSource{}

	c := New(src.fetch, Options{}, nil)
	require.NoError(t, c.Open(ctx))
	assert.Equal(t, Finished, c.State())

	ok, err := c.HasNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, src.fetches)
}

func TestCursor_FetchFailureClosesCursor(t *testing.T) {
	ctx := context.Background()
	src := &pagedSource{items: []string{"a", "b", "c", "d", "e"}, failAt: 2}

	closed := 0
	c := New(src.fetch, ScanOptions().Count(2).Build(), func() error {
		closed++
		return nil
	})
	require.NoError(t, c.Open(ctx))

	for range 2 {
		_, err := c.Next(ctx)
		require.NoError(t, err)
	}

	_, err := c.Next(ctx)
	require.EqualError(t, err, "connection reset")
	assert.Equal(t, Closed, c.State())
	assert.Equal(t, 1, closed)

	_, err = c.HasNext(ctx)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCursor_FetchFailureJoinsCloseError(t *testing.T) {
	ctx := context.Background()
	src := &pagedSource{items: []string{"a"}, failAt: 1}
	closeErr := errors.New("release failed")

	c := New(src.fetch, Options{}, func() error { return closeErr })
	err := c.Open(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, closeErr)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestCursor_UsageErrors(t *testing.T) {
	ctx := context.Background()
	src := &pagedSource{items: []string{"a"}}

	t.Run("not opened", func(t *testing.T) {
		c := New(src.fetch, Options{}, nil)
		_, err := c.HasNext(ctx)
		assert.ErrorIs(t, err, ErrInvalidState)
		_, err = c.Next(ctx)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("opened twice", func(t *testing.T) {
		c := New(src.fetch, Options{}, nil)
		require.NoError(t, c.Open(ctx))
		assert.ErrorIs(t, c.Open(ctx), ErrInvalidState)
	})

	t.Run("closed is terminal", func(t *testing.T) {
		c := New(src.fetch, Options{}, nil)
		require.NoError(t, c.Close())
		assert.Equal(t, Closed, c.State())
		assert.ErrorIs(t, c.Open(ctx), ErrInvalidState)
	})
}

func TestCursor_CloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	src := &pagedSource{items: []string{"a", "b", "c"}}

	closed := 0
	c := New(src.fetch, ScanOptions().Count(1).Build(), func() error {
		closed++
		return nil
	})
	require.NoError(t, c.Open(ctx))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, Closed, c.State())
	assert.Equal(t, 1, closed)
}

func TestNewKeyBound(t *testing.T) {
	ctx := context.Background()

	key := []byte("myset")
	var seen [][]byte
	fetch := func(_ context.Context, k []byte, cursorID uint64, _ Options) (Page[int], error) {
		seen = append(seen, k)
		if cursorID == 0 {
			return Page[int]{Cursor: 7, Items: []int{1, 2}}, nil
		}
		return Page[int]{Cursor: 0, Items: []int{3}}, nil
	}

	c := NewKeyBound(key, fetch, Options{}, nil)
	key[0] = 'X'

	items, err := Collect(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, items)
	assert.Equal(t, []byte("myset"), c.Key())
	assert.Equal(t, [][]byte{[]byte("myset"), []byte("myset")}, seen)
	assert.Equal(t, Closed, c.State())
}

func TestOptions_Args(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{"empty", Options{}, nil},
		{"count", ScanOptions().Count(50).Build(), []string{"COUNT", "50"}},
		{"match", ScanOptions().Match("user:*").Build(), []string{"MATCH", "user:*"}},
		{"all", ScanOptions().Type("hash").MatchBytes([]byte{0x01, '*'}).Count(5).Build(), []string{"MATCH", "\x01*", "COUNT", "5", "TYPE", "hash"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, arg := range tt.opts.Args() {
				got = append(got, string(arg))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuilder_BuildIsImmutable(t *testing.T) {
	b := ScanOptions().Match("a*")
	first := b.Build()
	b.Match("b*").Count(3)

	assert.Equal(t, []byte("a*"), first.Match())
	_, ok := first.Count()
	assert.False(t, ok)
}

func TestCursor_AccessorsReturnCopies(t *testing.T) {
	fetch := func(context.Context, []byte, uint64, Options) (Page[int], error) {
		return Page[int]{}, nil
	}
	c := NewKeyBound([]byte("myset"), fetch, ScanOptions().Match("a*").Build(), nil)

	c.Key()[0] = 'X'
	assert.Equal(t, []byte("myset"), c.Key())

	c.Options().Match()[0] = 'z'
	assert.Equal(t, []byte("a*"), c.Options().Match())

	c.Options().Args()[1][0] = 'z'
	assert.Equal(t, [][]byte{[]byte("MATCH"), []byte("a*")}, c.Options().Args())

	assert.Nil(t, New[int](nil, Options{}, nil).Key())
}
