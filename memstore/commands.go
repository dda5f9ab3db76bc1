package memstore

import (
	"bytes"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pior/kvtemplate/driver"
)

type handler func(s *Store, args [][]byte) driver.Reply

type command struct {
	minArgs int
	run     handler
}

var commands = map[string]command{
	driver.CmdPing:     {0, cmdPing},
	driver.CmdDel:      {1, cmdDel},
	driver.CmdExists:   {1, cmdExists},
	driver.CmdType:     {1, cmdType},
	driver.CmdPTTL:     {1, cmdPTTL},
	driver.CmdScan:     {1, cmdScan},
	driver.CmdDBSize:   {0, cmdDBSize},
	driver.CmdFlushAll: {0, cmdFlushAll},

	driver.CmdGet:    {1, cmdGet},
	driver.CmdSet:    {2, cmdSet},
	driver.CmdIncrBy: {2, cmdIncrBy},

	driver.CmdLPush:  {2, cmdLPush},
	driver.CmdRPush:  {2, cmdRPush},
	driver.CmdLPop:   {1, cmdLPop},
	driver.CmdRPop:   {1, cmdRPop},
	driver.CmdLRange: {3, cmdLRange},
	driver.CmdLLen:   {1, cmdLLen},
	driver.CmdBLPop:  {2, cmdBLPop},

	driver.CmdSAdd:      {2, cmdSAdd},
	driver.CmdSRem:      {2, cmdSRem},
	driver.CmdSMembers:  {1, cmdSMembers},
	driver.CmdSIsMember: {2, cmdSIsMember},
	driver.CmdSCard:     {1, cmdSCard},
	driver.CmdSScan:     {2, cmdSScan},

	driver.CmdHSet:    {3, cmdHSet},
	driver.CmdHGet:    {2, cmdHGet},
	driver.CmdHGetAll: {1, cmdHGetAll},
	driver.CmdHDel:    {2, cmdHDel},
	driver.CmdHScan:   {2, cmdHScan},

	driver.CmdZAdd:   {3, cmdZAdd},
	driver.CmdZRange: {3, cmdZRange},
	driver.CmdZScore: {2, cmdZScore},
	driver.CmdZScan:  {2, cmdZScan},
}

// apply runs one command. Requires s.mu.
func (s *Store) apply(cmd driver.Command) driver.Reply {
	name := strings.ToUpper(cmd.Name)
	c, ok := commands[name]
	if !ok {
		return driver.ErrorReply("ERR unknown command '" + cmd.Name + "'")
	}
	if len(cmd.Args) < c.minArgs {
		return wrongArgs(name)
	}
	return c.run(s, cmd.Args)
}

func wrongArgs(name string) driver.Reply {
	return driver.ErrorReply("ERR wrong number of arguments for '" + strings.ToLower(name) + "' command")
}

var (
	errWrongType = driver.ErrorReply(driver.WrongTypeError)
	errSyntax    = driver.ErrorReply("ERR syntax error")
	errNotInt    = driver.ErrorReply("ERR value is not an integer or out of range")
	errNotFloat  = driver.ErrorReply("ERR value is not a valid float")
)

// typed returns the entry at key when it holds k. A missing key returns
// (nil, true); a key holding another type returns (nil, false).
func (s *Store) typed(key []byte, k kind) (*entry, bool) {
	e := s.lookup(string(key))
	if e == nil {
		return nil, true
	}
	if e.kind != k {
		return nil, false
	}
	return e, true
}

// create returns the entry at key, creating an empty one of kind k.
func (s *Store) create(key []byte, k kind) (*entry, bool) {
	e, ok := s.typed(key, k)
	if !ok {
		return nil, false
	}
	if e == nil {
		e = &entry{kind: k}
		switch k {
		case kindSet:
			e.set = make(map[string]struct{})
		case kindHash:
			e.hash = make(map[string][]byte)
		case kindZSet:
			e.zset = make(map[string]float64)
		}
		s.data[string(key)] = e
	}
	return e, true
}

// modified bumps the version of key and drops it once empty.
func (s *Store) modified(key []byte, e *entry) {
	s.touch(string(key))
	if e != nil && e.empty() {
		delete(s.data, string(key))
	}
}

func parseInt(b []byte) (int64, bool) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	return n, err == nil
}

func parseFloat(b []byte) (float64, bool) {
	f, err := strconv.ParseFloat(string(b), 64)
	return f, err == nil && !math.IsNaN(f)
}

func boolInt(b bool) driver.Reply {
	if b {
		return driver.IntReply(1)
	}
	return driver.IntReply(0)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Key space

func cmdPing(s *Store, args [][]byte) driver.Reply {
	if len(args) > 0 {
		return driver.BytesReply(args[0])
	}
	return driver.StatusReply("PONG")
}

func cmdDel(s *Store, args [][]byte) driver.Reply {
	var n int64
	for _, key := range args {
		if s.lookup(string(key)) != nil {
			delete(s.data, string(key))
			s.touch(string(key))
			n++
		}
	}
	return driver.IntReply(n)
}

func cmdExists(s *Store, args [][]byte) driver.Reply {
	var n int64
	for _, key := range args {
		if s.lookup(string(key)) != nil {
			n++
		}
	}
	return driver.IntReply(n)
}

func cmdType(s *Store, args [][]byte) driver.Reply {
	e := s.lookup(string(args[0]))
	if e == nil {
		return driver.StatusReply("none")
	}
	return driver.StatusReply(e.kind.String())
}

func cmdPTTL(s *Store, args [][]byte) driver.Reply {
	e := s.lookup(string(args[0]))
	switch {
	case e == nil:
		return driver.IntReply(-2)
	case e.expireAt.IsZero():
		return driver.IntReply(-1)
	default:
		return driver.IntReply(e.expireAt.Sub(s.config.Now()).Milliseconds())
	}
}

func cmdDBSize(s *Store, args [][]byte) driver.Reply {
	s.expireAll()
	return driver.IntReply(int64(len(s.data)))
}

func cmdFlushAll(s *Store, args [][]byte) driver.Reply {
	for key := range s.data {
		s.touch(key)
	}
	clear(s.data)
	return driver.OK
}

// Strings

func cmdGet(s *Store, args [][]byte) driver.Reply {
	e, ok := s.typed(args[0], kindString)
	if !ok {
		return errWrongType
	}
	if e == nil {
		return driver.NilReply()
	}
	return driver.BytesReply(e.str)
}

func cmdSet(s *Store, args [][]byte) driver.Reply {
	key, value := args[0], args[1]

	var ttl time.Duration
	var nx bool
	for i := 2; i < len(args); i++ {
		switch strings.ToUpper(string(args[i])) {
		case "PX":
			if i+1 >= len(args) {
				return errSyntax
			}
			ms, ok := parseInt(args[i+1])
			if !ok || ms <= 0 {
				return driver.ErrorReply("ERR invalid expire time in 'set' command")
			}
			ttl = time.Duration(ms) * time.Millisecond
			i++
		case "NX":
			nx = true
		default:
			return errSyntax
		}
	}

	if nx && s.lookup(string(key)) != nil {
		return driver.NilReply()
	}

	e := &entry{kind: kindString, str: bytes.Clone(value)}
	if ttl > 0 {
		e.expireAt = s.config.Now().Add(ttl)
	}
	s.data[string(key)] = e
	s.touch(string(key))
	return driver.OK
}

func cmdIncrBy(s *Store, args [][]byte) driver.Reply {
	delta, ok := parseInt(args[1])
	if !ok {
		return errNotInt
	}

	e, ok := s.typed(args[0], kindString)
	if !ok {
		return errWrongType
	}

	var current int64
	if e != nil {
		if current, ok = parseInt(e.str); !ok {
			return errNotInt
		}
	} else {
		e = &entry{kind: kindString}
		s.data[string(args[0])] = e
	}

	if (delta > 0 && current > math.MaxInt64-delta) || (delta < 0 && current < math.MinInt64-delta) {
		return driver.ErrorReply("ERR increment or decrement would overflow")
	}
	current += delta
	e.str = strconv.AppendInt(nil, current, 10)
	s.touch(string(args[0]))
	return driver.IntReply(current)
}

// Lists

func push(s *Store, args [][]byte, left bool) driver.Reply {
	e, ok := s.create(args[0], kindList)
	if !ok {
		return errWrongType
	}
	for _, v := range args[1:] {
		v = bytes.Clone(v)
		if left {
			e.list = slices.Insert(e.list, 0, v)
		} else {
			e.list = append(e.list, v)
		}
	}
	s.touch(string(args[0]))
	s.notifyPush()
	return driver.IntReply(int64(len(e.list)))
}

func cmdLPush(s *Store, args [][]byte) driver.Reply { return push(s, args, true) }
func cmdRPush(s *Store, args [][]byte) driver.Reply { return push(s, args, false) }

func pop(s *Store, key []byte, left bool) driver.Reply {
	e, ok := s.typed(key, kindList)
	if !ok {
		return errWrongType
	}
	if e == nil {
		return driver.NilReply()
	}

	var v []byte
	if left {
		v, e.list = e.list[0], e.list[1:]
	} else {
		last := len(e.list) - 1
		v, e.list = e.list[last], e.list[:last]
	}
	s.modified(key, e)
	return driver.BytesReply(v)
}

func cmdLPop(s *Store, args [][]byte) driver.Reply { return pop(s, args[0], true) }
func cmdRPop(s *Store, args [][]byte) driver.Reply { return pop(s, args[0], false) }

func cmdLLen(s *Store, args [][]byte) driver.Reply {
	e, ok := s.typed(args[0], kindList)
	if !ok {
		return errWrongType
	}
	if e == nil {
		return driver.IntReply(0)
	}
	return driver.IntReply(int64(len(e.list)))
}

func cmdLRange(s *Store, args [][]byte) driver.Reply {
	start, ok1 := parseInt(args[1])
	stop, ok2 := parseInt(args[2])
	if !ok1 || !ok2 {
		return errNotInt
	}

	e, ok := s.typed(args[0], kindList)
	if !ok {
		return errWrongType
	}
	if e == nil {
		return driver.ArrayReply()
	}

	lo, hi, ok := normalizeRange(start, stop, len(e.list))
	if !ok {
		return driver.ArrayReply()
	}
	elems := make([]driver.Reply, 0, hi-lo+1)
	for _, v := range e.list[lo : hi+1] {
		elems = append(elems, driver.BytesReply(v))
	}
	return driver.ArrayReply(elems...)
}

// cmdBLPop is the non-blocking form used inside MULTI.
func cmdBLPop(s *Store, args [][]byte) driver.Reply {
	reply, ok := s.popFirst(args[:len(args)-1])
	if !ok {
		return driver.NilReply()
	}
	return reply
}

// popFirst pops the head of the first non-empty list among keys and returns
// [key, value]. Requires s.mu.
func (s *Store) popFirst(keys [][]byte) (driver.Reply, bool) {
	for _, key := range keys {
		e, ok := s.typed(key, kindList)
		if !ok {
			return errWrongType, true
		}
		if e == nil {
			continue
		}
		v := pop(s, key, true)
		return driver.ArrayReply(driver.BytesReply(bytes.Clone(key)), v), true
	}
	return driver.Reply{}, false
}

// normalizeRange resolves inclusive, possibly negative, indexes against n.
func normalizeRange(start, stop int64, n int) (int, int, bool) {
	size := int64(n)
	if start < 0 {
		start = max(size+start, 0)
	}
	if stop < 0 {
		stop = size + stop
	}
	if stop >= size {
		stop = size - 1
	}
	if start > stop || start >= size {
		return 0, 0, false
	}
	return int(start), int(stop), true
}

// Sets

func cmdSAdd(s *Store, args [][]byte) driver.Reply {
	e, ok := s.create(args[0], kindSet)
	if !ok {
		return errWrongType
	}
	var n int64
	for _, m := range args[1:] {
		if _, exists := e.set[string(m)]; !exists {
			e.set[string(m)] = struct{}{}
			n++
		}
	}
	s.touch(string(args[0]))
	return driver.IntReply(n)
}

func cmdSRem(s *Store, args [][]byte) driver.Reply {
	e, ok := s.typed(args[0], kindSet)
	if !ok {
		return errWrongType
	}
	if e == nil {
		return driver.IntReply(0)
	}
	var n int64
	for _, m := range args[1:] {
		if _, exists := e.set[string(m)]; exists {
			delete(e.set, string(m))
			n++
		}
	}
	if n > 0 {
		s.modified(args[0], e)
	}
	return driver.IntReply(n)
}

func cmdSMembers(s *Store, args [][]byte) driver.Reply {
	e, ok := s.typed(args[0], kindSet)
	if !ok {
		return errWrongType
	}
	if e == nil {
		return driver.SetReply()
	}
	return driver.SetReply(bytesReplies(sortedKeys(e.set))...)
}

func cmdSIsMember(s *Store, args [][]byte) driver.Reply {
	e, ok := s.typed(args[0], kindSet)
	if !ok {
		return errWrongType
	}
	if e == nil {
		return boolInt(false)
	}
	_, exists := e.set[string(args[1])]
	return boolInt(exists)
}

func cmdSCard(s *Store, args [][]byte) driver.Reply {
	e, ok := s.typed(args[0], kindSet)
	if !ok {
		return errWrongType
	}
	if e == nil {
		return driver.IntReply(0)
	}
	return driver.IntReply(int64(len(e.set)))
}

func bytesReplies(values []string) []driver.Reply {
	out := make([]driver.Reply, len(values))
	for i, v := range values {
		out[i] = driver.BytesReply([]byte(v))
	}
	return out
}

// Hashes

func cmdHSet(s *Store, args [][]byte) driver.Reply {
	if len(args)%2 == 0 {
		return wrongArgs(driver.CmdHSet)
	}
	e, ok := s.create(args[0], kindHash)
	if !ok {
		return errWrongType
	}
	var n int64
	for i := 1; i < len(args); i += 2 {
		field := string(args[i])
		if _, exists := e.hash[field]; !exists {
			n++
		}
		e.hash[field] = bytes.Clone(args[i+1])
	}
	s.touch(string(args[0]))
	return driver.IntReply(n)
}

func cmdHGet(s *Store, args [][]byte) driver.Reply {
	e, ok := s.typed(args[0], kindHash)
	if !ok {
		return errWrongType
	}
	if e == nil {
		return driver.NilReply()
	}
	v, exists := e.hash[string(args[1])]
	if !exists {
		return driver.NilReply()
	}
	return driver.BytesReply(v)
}

func cmdHGetAll(s *Store, args [][]byte) driver.Reply {
	e, ok := s.typed(args[0], kindHash)
	if !ok {
		return errWrongType
	}
	if e == nil {
		return driver.MapReply()
	}
	return driver.MapReply(hashPairs(e.hash, sortedKeys(e.hash))...)
}

func hashPairs(h map[string][]byte, fields []string) []driver.Pair {
	pairs := make([]driver.Pair, len(fields))
	for i, f := range fields {
		pairs[i] = driver.Pair{Key: driver.BytesReply([]byte(f)), Value: driver.BytesReply(h[f])}
	}
	return pairs
}

func cmdHDel(s *Store, args [][]byte) driver.Reply {
	e, ok := s.typed(args[0], kindHash)
	if !ok {
		return errWrongType
	}
	if e == nil {
		return driver.IntReply(0)
	}
	var n int64
	for _, f := range args[1:] {
		if _, exists := e.hash[string(f)]; exists {
			delete(e.hash, string(f))
			n++
		}
	}
	if n > 0 {
		s.modified(args[0], e)
	}
	return driver.IntReply(n)
}

// Sorted sets

func cmdZAdd(s *Store, args [][]byte) driver.Reply {
	if len(args)%2 == 0 {
		return wrongArgs(driver.CmdZAdd)
	}
	scores := make([]float64, 0, len(args)/2)
	for i := 1; i < len(args); i += 2 {
		score, ok := parseFloat(args[i])
		if !ok {
			return errNotFloat
		}
		scores = append(scores, score)
	}

	e, ok := s.create(args[0], kindZSet)
	if !ok {
		return errWrongType
	}
	var n int64
	for i, score := range scores {
		member := string(args[2+2*i])
		if _, exists := e.zset[member]; !exists {
			n++
		}
		e.zset[member] = score
	}
	s.touch(string(args[0]))
	return driver.IntReply(n)
}

// zsorted returns members ordered by score, then lexicographically.
func zsorted(z map[string]float64) []string {
	members := sortedKeys(z)
	slices.SortStableFunc(members, func(a, b string) int {
		switch {
		case z[a] < z[b]:
			return -1
		case z[a] > z[b]:
			return 1
		default:
			return 0
		}
	})
	return members
}

func cmdZRange(s *Store, args [][]byte) driver.Reply {
	start, ok1 := parseInt(args[1])
	stop, ok2 := parseInt(args[2])
	if !ok1 || !ok2 {
		return errNotInt
	}
	withScores := false
	if len(args) > 3 {
		if len(args) > 4 || !strings.EqualFold(string(args[3]), "WITHSCORES") {
			return errSyntax
		}
		withScores = true
	}

	e, ok := s.typed(args[0], kindZSet)
	if !ok {
		return errWrongType
	}
	if e == nil {
		return driver.ArrayReply()
	}

	members := zsorted(e.zset)
	lo, hi, ok := normalizeRange(start, stop, len(members))
	if !ok {
		return driver.ArrayReply()
	}
	members = members[lo : hi+1]

	if withScores {
		return driver.SetReply(scoredReplies(e.zset, members)...)
	}
	return driver.ArrayReply(bytesReplies(members)...)
}

func scoredReplies(z map[string]float64, members []string) []driver.Reply {
	out := make([]driver.Reply, len(members))
	for i, m := range members {
		out[i] = driver.ScoredReply([]byte(m), z[m])
	}
	return out
}

func cmdZScore(s *Store, args [][]byte) driver.Reply {
	e, ok := s.typed(args[0], kindZSet)
	if !ok {
		return errWrongType
	}
	if e == nil {
		return driver.NilReply()
	}
	score, exists := e.zset[string(args[1])]
	if !exists {
		return driver.NilReply()
	}
	return driver.FloatReply(score)
}
