package driver

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func argStrings(cmd Command) []string {
	out := make([]string, len(cmd.Args))
	for i, a := range cmd.Args {
		out[i] = string(a)
	}
	return out
}

func TestCommandBuilders(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want []string
	}{
		{"get", Get([]byte("k")), []string{"k"}},
		{"set plain", Set([]byte("k"), []byte("v"), SetOptions{}), []string{"k", "v"}},
		{"set ttl nx", Set([]byte("k"), []byte("v"), SetOptions{TTL: 1500 * time.Millisecond, OnlyIfAbsent: true}), []string{"k", "v", "PX", "1500", "NX"}},
		{"incrby", IncrBy([]byte("n"), -3), []string{"n", "-3"}},
		{"lrange", LRange([]byte("l"), 0, -1), []string{"l", "0", "-1"}},
		{"blpop", BLPop(250*time.Millisecond, []byte("a"), []byte("b")), []string{"a", "b", "0.250"}},
		{"hset", HSet([]byte("h"), []byte("f"), []byte("v")), []string{"h", "f", "v"}},
		{"zadd", ZAdd([]byte("z"), ZMember{Member: []byte("m"), Score: 1.5}), []string{"z", "1.5", "m"}},
		{"zrange scores", ZRange([]byte("z"), 0, 10, true), []string{"z", "0", "10", "WITHSCORES"}},
		{"scan", Scan(42, []byte("COUNT"), []byte("2")), []string{"42", "COUNT", "2"}},
		{"sscan", KeyScan(CmdSScan, []byte("s"), 0), []string{"s", "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, argStrings(tt.cmd))
		})
	}
}

func TestIsReadOnly(t *testing.T) {
	assert.True(t, Get(nil).ReadOnly())
	assert.True(t, IsReadOnly("zscan"))
	assert.True(t, Scan(0).ReadOnly())
	assert.False(t, Set(nil, nil, SetOptions{}).ReadOnly())
	assert.False(t, BLPop(0, nil).ReadOnly())
	assert.False(t, IsReadOnly("FLUSHALL"))
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, `GET "key"`, Get([]byte("key")).String())
}

func TestReply_Accessors(t *testing.T) {
	n, err := IntReply(7).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	n, err = BytesReply([]byte("12")).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	u, err := BytesReply([]byte("18446744073709551615")).Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), u)

	f, err := ScoredReply([]byte("m"), 2.5).Float64()
	require.NoError(t, err)
	assert.Equal(t, 2.5, f)

	ok, err := IntReply(1).Truth()
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = StatusReply("OK").Int64()
	assert.Error(t, err)

	assert.True(t, NilReply().IsNil())
	assert.Nil(t, OK.Err())
}

func TestReply_ErrorKind(t *testing.T) {
	r := ErrorReply(WrongTypeError)

	_, err := r.Int64()
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, WrongTypeError, storeErr.Message)
	assert.Equal(t, "(error) "+WrongTypeError, r.String())
}

func TestShouldCloseConnection(t *testing.T) {
	assert.False(t, ShouldCloseConnection(nil))
	assert.False(t, ShouldCloseConnection(&StoreError{Message: "ERR"}))
	assert.False(t, ShouldCloseConnection(fmt.Errorf("wrapped: %w", &StoreError{Message: "ERR"})))
	assert.True(t, ShouldCloseConnection(errors.New("broken pipe")))
	assert.True(t, ShouldCloseConnection(ErrConnClosed))
}
