package driver

import (
	"strconv"
	"strings"
	"time"
)

// Command names.
const (
	// Key space
	CmdPing     = "PING"
	CmdDel      = "DEL"
	CmdExists   = "EXISTS"
	CmdType     = "TYPE"
	CmdPTTL     = "PTTL"
	CmdScan     = "SCAN"
	CmdDBSize   = "DBSIZE"
	CmdFlushAll = "FLUSHALL"

	// Strings
	CmdGet    = "GET"
	CmdSet    = "SET"
	CmdIncrBy = "INCRBY"

	// Lists
	CmdLPush  = "LPUSH"
	CmdRPush  = "RPUSH"
	CmdLPop   = "LPOP"
	CmdRPop   = "RPOP"
	CmdLRange = "LRANGE"
	CmdLLen   = "LLEN"
	CmdBLPop  = "BLPOP"

	// Sets
	CmdSAdd      = "SADD"
	CmdSRem      = "SREM"
	CmdSMembers  = "SMEMBERS"
	CmdSIsMember = "SISMEMBER"
	CmdSCard     = "SCARD"
	CmdSScan     = "SSCAN"

	// Hashes
	CmdHSet    = "HSET"
	CmdHGet    = "HGET"
	CmdHGetAll = "HGETALL"
	CmdHDel    = "HDEL"
	CmdHScan   = "HSCAN"

	// Sorted sets
	CmdZAdd   = "ZADD"
	CmdZRange = "ZRANGE"
	CmdZScore = "ZSCORE"
	CmdZScan  = "ZSCAN"
)

// readOnly lists the commands that never modify the store.
// Reads may be routed away from a transactional connection.
var readOnly = map[string]bool{
	CmdPing:      true,
	CmdExists:    true,
	CmdType:      true,
	CmdPTTL:      true,
	CmdScan:      true,
	CmdDBSize:    true,
	CmdGet:       true,
	CmdLRange:    true,
	CmdLLen:      true,
	CmdSMembers:  true,
	CmdSIsMember: true,
	CmdSCard:     true,
	CmdSScan:     true,
	CmdHGet:      true,
	CmdHGetAll:   true,
	CmdHScan:     true,
	CmdZRange:    true,
	CmdZScore:    true,
	CmdZScan:     true,
}

// IsReadOnly reports whether the named command is a pure read.
func IsReadOnly(name string) bool {
	return readOnly[strings.ToUpper(name)]
}

// Command is a store command with raw arguments.
type Command struct {
	Name string
	Args [][]byte
}

// NewCommand builds a command from raw arguments.
func NewCommand(name string, args ...[]byte) Command {
	return Command{Name: name, Args: args}
}

// ReadOnly reports whether the command is a pure read.
func (c Command) ReadOnly() bool {
	return IsReadOnly(c.Name)
}

func (c Command) String() string {
	var b strings.Builder
	b.WriteString(c.Name)
	for _, arg := range c.Args {
		b.WriteByte(' ')
		b.WriteString(strconv.Quote(string(arg)))
	}
	return b.String()
}

func Ping() Command                     { return NewCommand(CmdPing) }
func Get(key []byte) Command            { return NewCommand(CmdGet, key) }
func Exists(keys ...[]byte) Command     { return NewCommand(CmdExists, keys...) }
func Del(keys ...[]byte) Command        { return NewCommand(CmdDel, keys...) }
func Type(key []byte) Command           { return NewCommand(CmdType, key) }
func PTTL(key []byte) Command           { return NewCommand(CmdPTTL, key) }
func DBSize() Command                   { return NewCommand(CmdDBSize) }
func FlushAll() Command                 { return NewCommand(CmdFlushAll) }
func LLen(key []byte) Command           { return NewCommand(CmdLLen, key) }
func LPop(key []byte) Command           { return NewCommand(CmdLPop, key) }
func RPop(key []byte) Command           { return NewCommand(CmdRPop, key) }
func SMembers(key []byte) Command       { return NewCommand(CmdSMembers, key) }
func SCard(key []byte) Command          { return NewCommand(CmdSCard, key) }
func HGetAll(key []byte) Command        { return NewCommand(CmdHGetAll, key) }
func HGet(key, field []byte) Command    { return NewCommand(CmdHGet, key, field) }
func ZScore(key, member []byte) Command { return NewCommand(CmdZScore, key, member) }

// SetOptions modifies SET.
type SetOptions struct {
	TTL          time.Duration // PX, zero means no expiration
	OnlyIfAbsent bool          // NX
}

// Set builds SET key value [PX ms] [NX].
func Set(key, value []byte, opts SetOptions) Command {
	args := [][]byte{key, value}
	if opts.TTL > 0 {
		args = append(args, []byte("PX"), formatInt(opts.TTL.Milliseconds()))
	}
	if opts.OnlyIfAbsent {
		args = append(args, []byte("NX"))
	}
	return NewCommand(CmdSet, args...)
}

// IncrBy builds INCRBY key delta.
func IncrBy(key []byte, delta int64) Command {
	return NewCommand(CmdIncrBy, key, formatInt(delta))
}

func LPush(key []byte, values ...[]byte) Command {
	return NewCommand(CmdLPush, prepend(key, values)...)
}

func RPush(key []byte, values ...[]byte) Command {
	return NewCommand(CmdRPush, prepend(key, values)...)
}

// LRange builds LRANGE key start stop; negative indexes count from the tail.
func LRange(key []byte, start, stop int64) Command {
	return NewCommand(CmdLRange, key, formatInt(start), formatInt(stop))
}

// BLPop builds BLPOP key [key ...] timeout. A zero timeout blocks
// indefinitely. The timeout is sent in seconds with millisecond precision.
func BLPop(timeout time.Duration, keys ...[]byte) Command {
	secs := strconv.FormatFloat(timeout.Seconds(), 'f', 3, 64)
	args := append(append([][]byte{}, keys...), []byte(secs))
	return NewCommand(CmdBLPop, args...)
}

func SAdd(key []byte, members ...[]byte) Command {
	return NewCommand(CmdSAdd, prepend(key, members)...)
}

func SRem(key []byte, members ...[]byte) Command {
	return NewCommand(CmdSRem, prepend(key, members)...)
}

func SIsMember(key, member []byte) Command {
	return NewCommand(CmdSIsMember, key, member)
}

// HSet builds HSET key field value [field value ...] from alternating pairs.
func HSet(key []byte, fieldValues ...[]byte) Command {
	return NewCommand(CmdHSet, prepend(key, fieldValues)...)
}

func HDel(key []byte, fields ...[]byte) Command {
	return NewCommand(CmdHDel, prepend(key, fields)...)
}

// ZMember is a sorted set member with its score.
type ZMember struct {
	Member []byte
	Score  float64
}

func ZAdd(key []byte, members ...ZMember) Command {
	args := make([][]byte, 0, 1+2*len(members))
	args = append(args, key)
	for _, m := range members {
		args = append(args, formatFloat(m.Score), m.Member)
	}
	return NewCommand(CmdZAdd, args...)
}

// ZRange builds ZRANGE key start stop [WITHSCORES].
func ZRange(key []byte, start, stop int64, withScores bool) Command {
	args := [][]byte{key, formatInt(start), formatInt(stop)}
	if withScores {
		args = append(args, []byte("WITHSCORES"))
	}
	return NewCommand(CmdZRange, args...)
}

// Scan builds SCAN cursor [extra ...]. extra carries MATCH/COUNT/TYPE arguments.
func Scan(cursor uint64, extra ...[]byte) Command {
	return NewCommand(CmdScan, prepend(formatUint(cursor), extra)...)
}

// KeyScan builds SSCAN/HSCAN/ZSCAN key cursor [extra ...].
func KeyScan(name string, key []byte, cursor uint64, extra ...[]byte) Command {
	args := make([][]byte, 0, 2+len(extra))
	args = append(args, key, formatUint(cursor))
	args = append(args, extra...)
	return NewCommand(name, args...)
}

func prepend(first []byte, rest [][]byte) [][]byte {
	args := make([][]byte, 0, 1+len(rest))
	args = append(args, first)
	return append(args, rest...)
}

func formatInt(n int64) []byte     { return strconv.AppendInt(nil, n, 10) }
func formatUint(n uint64) []byte   { return strconv.AppendUint(nil, n, 10) }
func formatFloat(f float64) []byte { return strconv.AppendFloat(nil, f, 'g', -1, 64) }
