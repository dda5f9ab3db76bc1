// Package memstore is an in-process key-value store implementing the driver
// contracts. It supports strings, lists, sets, hashes and sorted sets along
// with pipelines, MULTI/EXEC transactions and WATCH guards.
//
// It is meant for tests and local tools; data lives in memory only.
package memstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pior/kvtemplate/driver"
)

const defaultBuckets = 16

// Config configures a Store.
type Config struct {
	// Buckets is the number of hash buckets used to order keys during scans.
	// Default: 16.
	Buckets int

	// DisableResultConversion makes ConvertPipelineAndTxResults report false,
	// so callers receive raw replies from pipelines and transactions.
	DisableResultConversion bool

	// Now returns the current time, used for key expiration. Default: time.Now.
	Now func() time.Time
}

// Stats counts connections opened and closed on a Store.
type Stats struct {
	Dialed uint64
	Closed uint64
}

// Store holds the data set. It implements driver.Factory.
type Store struct {
	config Config

	mu       sync.Mutex
	data     map[string]*entry
	versions map[string]uint64
	pushed   chan struct{} // closed and replaced whenever a list grows

	dialed atomic.Uint64
	closed atomic.Uint64
}

var _ driver.Factory = (*Store)(nil)

// New creates an empty store.
func New(config Config) *Store {
	if config.Buckets <= 0 {
		config.Buckets = defaultBuckets
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Store{
		config:   config,
		data:     make(map[string]*entry),
		versions: make(map[string]uint64),
		pushed:   make(chan struct{}),
	}
}

// Dial opens a new connection. It has the driver.Dialer signature.
func (s *Store) Dial(ctx context.Context) (driver.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.dialed.Add(1)
	return &Conn{store: s}, nil
}

// Conn implements driver.Factory.
func (s *Store) Conn(ctx context.Context) (driver.Conn, error) {
	return s.Dial(ctx)
}

// ClusterConn implements driver.Factory. A Store is never clustered.
func (s *Store) ClusterConn(ctx context.Context) (driver.ClusterConn, error) {
	return nil, driver.ErrClusterUnsupported
}

// ConvertPipelineAndTxResults implements driver.Factory.
func (s *Store) ConvertPipelineAndTxResults() bool {
	return !s.config.DisableResultConversion
}

// Stats returns connection counters.
func (s *Store) Stats() Stats {
	return Stats{
		Dialed: s.dialed.Load(),
		Closed: s.closed.Load(),
	}
}

// Len returns the number of live keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireAll()
	return len(s.data)
}

// do runs one command atomically.
func (s *Store) do(cmd driver.Command) driver.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(cmd)
}

// version returns the modification counter of key. Requires s.mu.
func (s *Store) version(key string) uint64 {
	s.lookup(key)
	return s.versions[key]
}

// touch marks key as modified. Requires s.mu.
func (s *Store) touch(key string) {
	s.versions[key]++
}

// lookup returns the live entry at key, dropping it if expired. Requires s.mu.
func (s *Store) lookup(key string) *entry {
	e, ok := s.data[key]
	if !ok {
		return nil
	}
	if e.expired(s.config.Now()) {
		delete(s.data, key)
		s.touch(key)
		return nil
	}
	return e
}

func (s *Store) expireAll() {
	now := s.config.Now()
	for key, e := range s.data {
		if e.expired(now) {
			delete(s.data, key)
			s.touch(key)
		}
	}
}

// notifyPush wakes up blocked list pops. Requires s.mu.
func (s *Store) notifyPush() {
	close(s.pushed)
	s.pushed = make(chan struct{})
}

type kind uint8

const (
	kindString kind = iota + 1
	kindList
	kindSet
	kindHash
	kindZSet
)

func (k kind) String() string {
	switch k {
	case kindString:
		return "string"
	case kindList:
		return "list"
	case kindSet:
		return "set"
	case kindHash:
		return "hash"
	case kindZSet:
		return "zset"
	default:
		return "none"
	}
}

type entry struct {
	kind     kind
	str      []byte
	list     [][]byte
	set      map[string]struct{}
	hash     map[string][]byte
	zset     map[string]float64
	expireAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

func (e *entry) empty() bool {
	switch e.kind {
	case kindList:
		return len(e.list) == 0
	case kindSet:
		return len(e.set) == 0
	case kindHash:
		return len(e.hash) == 0
	case kindZSet:
		return len(e.zset) == 0
	default:
		return false
	}
}
