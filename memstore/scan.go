package memstore

import (
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/pior/kvtemplate/driver"
	"github.com/pior/kvtemplate/internal/hashing"
)

const defaultScanCount = 10

type scanArgs struct {
	cursor uint64
	count  int
	match  string
	typ    string
	hasPat bool
}

// parseScan reads "cursor [MATCH p] [COUNT n] [TYPE t]".
func parseScan(args [][]byte, allowType bool) (scanArgs, *driver.Reply) {
	cursor, err := strconv.ParseUint(string(args[0]), 10, 64)
	if err != nil {
		r := driver.ErrorReply("ERR invalid cursor")
		return scanArgs{}, &r
	}

	sa := scanArgs{cursor: cursor, count: defaultScanCount}
	for i := 1; i < len(args); i += 2 {
		if i+1 >= len(args) {
			return scanArgs{}, &errSyntax
		}
		value := args[i+1]
		switch strings.ToUpper(string(args[i])) {
		case "MATCH":
			sa.match = string(value)
			sa.hasPat = true
		case "COUNT":
			n, ok := parseInt(value)
			if !ok || n < 1 {
				return scanArgs{}, &errSyntax
			}
			sa.count = int(n)
		case "TYPE":
			if !allowType {
				return scanArgs{}, &errSyntax
			}
			sa.typ = strings.ToLower(string(value))
		default:
			return scanArgs{}, &errSyntax
		}
	}
	return sa, nil
}

func (sa scanArgs) matches(name string) bool {
	if !sa.hasPat {
		return true
	}
	ok, err := path.Match(sa.match, name)
	return err == nil && ok
}

// window returns the slice of items visited by one call and the next cursor.
// The cursor is the offset of the next item; zero once the end is reached.
// Filters apply after the window is taken, so a page may come back empty
// while the cursor is still non-zero.
func window[T any](items []T, sa scanArgs) ([]T, uint64) {
	start := min(sa.cursor, uint64(len(items)))
	end := min(start+uint64(sa.count), uint64(len(items)))
	next := end
	if end == uint64(len(items)) {
		next = 0
	}
	return items[start:end], next
}

func scanReply(next uint64, page driver.Reply) driver.Reply {
	return driver.ArrayReply(driver.BytesReply(strconv.AppendUint(nil, next, 10)), page)
}

// scanOrder returns live keys ordered by hash bucket, then by key.
func (s *Store) scanOrder() []string {
	s.expireAll()

	type bucketed struct {
		bucket int
		key    string
	}
	keys := make([]bucketed, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, bucketed{hashing.Bucket([]byte(key), s.config.Buckets), key})
	}
	slices.SortFunc(keys, func(a, b bucketed) int {
		if a.bucket != b.bucket {
			return a.bucket - b.bucket
		}
		return strings.Compare(a.key, b.key)
	})

	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.key
	}
	return out
}

func cmdScan(s *Store, args [][]byte) driver.Reply {
	sa, errReply := parseScan(args, true)
	if errReply != nil {
		return *errReply
	}

	visited, next := window(s.scanOrder(), sa)
	page := make([]driver.Reply, 0, len(visited))
	for _, key := range visited {
		if !sa.matches(key) {
			continue
		}
		if sa.typ != "" && s.data[key].kind.String() != sa.typ {
			continue
		}
		page = append(page, driver.BytesReply([]byte(key)))
	}
	return scanReply(next, driver.ArrayReply(page...))
}

func cmdSScan(s *Store, args [][]byte) driver.Reply {
	sa, errReply := parseScan(args[1:], false)
	if errReply != nil {
		return *errReply
	}
	e, ok := s.typed(args[0], kindSet)
	if !ok {
		return errWrongType
	}
	if e == nil {
		return scanReply(0, driver.ArrayReply())
	}

	visited, next := window(sortedKeys(e.set), sa)
	page := make([]driver.Reply, 0, len(visited))
	for _, m := range visited {
		if sa.matches(m) {
			page = append(page, driver.BytesReply([]byte(m)))
		}
	}
	return scanReply(next, driver.ArrayReply(page...))
}

func cmdHScan(s *Store, args [][]byte) driver.Reply {
	sa, errReply := parseScan(args[1:], false)
	if errReply != nil {
		return *errReply
	}
	e, ok := s.typed(args[0], kindHash)
	if !ok {
		return errWrongType
	}
	if e == nil {
		return scanReply(0, driver.MapReply())
	}

	visited, next := window(sortedKeys(e.hash), sa)
	fields := slices.DeleteFunc(slices.Clone(visited), func(f string) bool { return !sa.matches(f) })
	return scanReply(next, driver.MapReply(hashPairs(e.hash, fields)...))
}

func cmdZScan(s *Store, args [][]byte) driver.Reply {
	sa, errReply := parseScan(args[1:], false)
	if errReply != nil {
		return *errReply
	}
	e, ok := s.typed(args[0], kindZSet)
	if !ok {
		return errWrongType
	}
	if e == nil {
		return scanReply(0, driver.SetReply())
	}

	visited, next := window(sortedKeys(e.zset), sa)
	members := slices.DeleteFunc(slices.Clone(visited), func(m string) bool { return !sa.matches(m) })
	return scanReply(next, driver.SetReply(scoredReplies(e.zset, members)...))
}
