package txsync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/pior/kvtemplate/driver"
	"github.com/pior/kvtemplate/internal/testutils"
	"github.com/pior/kvtemplate/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func scoped() context.Context {
	return WithScope(context.Background(), NewScope())
}

func TestManager_NestedAcquireRelease(t *testing.T) {
	factory := &testutils.ScriptedFactory{}
	m := NewManager(factory, Config{})
	ctx := scoped()

	outer, err := m.Acquire(ctx, AcquireOptions{Bind: true})
	require.NoError(t, err)
	inner, err := m.Acquire(ctx, AcquireOptions{Bind: true})
	require.NoError(t, err)
	assert.Same(t, outer, inner)
	assert.Equal(t, 2, ScopeFrom(ctx).Holder(factory).Refs())

	require.NoError(t, m.Release(ctx, inner))
	assert.Equal(t, 0, factory.Closed())

	require.NoError(t, m.Release(ctx, outer))
	assert.Equal(t, 1, factory.Opened())
	assert.Equal(t, 1, factory.Closed())
	assert.Equal(t, 0, ScopeFrom(ctx).Len())
}

func TestManager_CloseExactlyOnce(t *testing.T) {
	for depth := 1; depth <= 5; depth++ {
		t.Run(fmt.Sprintf("depth %d", depth), func(t *testing.T) {
			factory := &testutils.ScriptedFactory{}
			m := NewManager(factory, Config{})
			ctx := scoped()

			conns := make([]driver.Conn, depth)
			for i := range conns {
				conn, err := m.Acquire(ctx, AcquireOptions{Bind: true})
				require.NoError(t, err)
				conns[i] = conn
			}

			for i := len(conns) - 1; i >= 0; i-- {
				assert.Equal(t, 0, factory.Closed())
				require.NoError(t, m.Release(ctx, conns[i]))
			}

			assert.Equal(t, 1, factory.Opened())
			assert.Equal(t, 1, factory.Closed())
		})
	}
}

func TestManager_UnboundAcquire(t *testing.T) {
	factory := &testutils.ScriptedFactory{}
	m := NewManager(factory, Config{})
	ctx := scoped()

	a, err := m.Acquire(ctx, AcquireOptions{})
	require.NoError(t, err)
	b, err := m.Acquire(ctx, AcquireOptions{})
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, 0, ScopeFrom(ctx).Len())

	require.NoError(t, m.Release(ctx, a))
	require.NoError(t, m.Release(context.Background(), b))
	assert.Equal(t, 2, factory.Closed())
}

func TestManager_BindWithoutScope(t *testing.T) {
	factory := &testutils.ScriptedFactory{}
	m := NewManager(factory, Config{})

	_, err := m.Acquire(context.Background(), AcquireOptions{Bind: true})
	assert.ErrorIs(t, err, ErrNoScope)
	assert.Equal(t, 0, factory.Opened())
}

func TestManager_AcquireFailure(t *testing.T) {
	factory := &testutils.ScriptedFactory{Fail: true}
	m := NewManager(factory, Config{})
	ctx, _ := Begin(context.Background(), Options{})

	_, err := m.Acquire(ctx, AcquireOptions{Bind: true, Transactional: true})
	assert.ErrorIs(t, err, ErrAcquire)
	assert.ErrorIs(t, err, testutils.ErrDial)
	assert.Equal(t, 0, ScopeFrom(ctx).Len())
}

type multiFailingFactory struct {
	*testutils.ScriptedFactory
}

func (f multiFailingFactory) Conn(ctx context.Context) (driver.Conn, error) {
	conn, err := f.ScriptedFactory.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return multiFailingConn{conn}, nil
}

type multiFailingConn struct {
	driver.Conn
}

func (multiFailingConn) Multi(context.Context) error {
	return errors.New("MULTI rejected")
}

func TestManager_FailedEnlistmentClosesConnection(t *testing.T) {
	factory := multiFailingFactory{&testutils.ScriptedFactory{}}
	m := NewManager(factory, Config{})
	ctx, uow := Begin(context.Background(), Options{})

	_, err := m.Acquire(ctx, AcquireOptions{Transactional: true})
	require.ErrorContains(t, err, "MULTI rejected")
	assert.Equal(t, 1, factory.Opened())
	assert.Equal(t, 1, factory.Closed())
	assert.Nil(t, ScopeFrom(ctx).Holder(factory))

	require.NoError(t, uow.Commit(ctx))
}

func TestManager_UnitOfWorkCommit(t *testing.T) {
	factory := &testutils.ScriptedFactory{}
	m := NewManager(factory, Config{})
	ctx, uow := Begin(context.Background(), Options{Name: "transfer"})

	first, err := m.Acquire(ctx, AcquireOptions{Transactional: true})
	require.NoError(t, err)
	second, err := m.Acquire(ctx, AcquireOptions{Transactional: true})
	require.NoError(t, err)
	assert.Same(t, Unwrap(first), Unwrap(second))

	reply, err := first.Do(ctx, driver.Set([]byte("a"), []byte("1"), driver.SetOptions{}))
	require.NoError(t, err)
	assert.Equal(t, driver.Queued, reply)

	require.NoError(t, m.Release(ctx, second))
	require.NoError(t, m.Release(ctx, first))
	assert.Equal(t, 0, factory.Closed(), "connection must stay open until completion")

	h := ScopeFrom(ctx).Holder(factory)
	require.NotNil(t, h)
	assert.True(t, h.TransactionActive())
	assert.True(t, h.Synchronized())

	require.NoError(t, uow.Commit(ctx))

	conn := factory.Conns()[0]
	multis, execs, discards := conn.TxCounts()
	assert.Equal(t, 1, multis)
	assert.Equal(t, 1, execs)
	assert.Equal(t, 0, discards)
	assert.Equal(t, 1, conn.Closes())
	assert.Equal(t, 0, ScopeFrom(ctx).Len())
	assert.Nil(t, Current(ctx))

	assert.ErrorIs(t, uow.Commit(ctx), ErrCompleted)
	_, execs, _ = conn.TxCounts()
	assert.Equal(t, 1, execs)
	assert.Equal(t, 1, conn.Closes())
}

func TestManager_UnitOfWorkRollback(t *testing.T) {
	factory := &testutils.ScriptedFactory{}
	m := NewManager(factory, Config{})
	ctx, uow := Begin(context.Background(), Options{})

	conn, err := m.Acquire(ctx, AcquireOptions{Transactional: true})
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, conn))

	require.NoError(t, uow.Complete(ctx, Unknown))

	multis, execs, discards := factory.Conns()[0].TxCounts()
	assert.Equal(t, []int{1, 0, 1}, []int{multis, execs, discards})
	assert.Equal(t, 1, factory.Closed())
}

func TestManager_ReadOnlyUnitOfWork(t *testing.T) {
	factory := &testutils.ScriptedFactory{}
	m := NewManager(factory, Config{})
	ctx, uow := Begin(context.Background(), Options{ReadOnly: true})

	conn, err := m.Acquire(ctx, AcquireOptions{Transactional: true})
	require.NoError(t, err)
	_, err = conn.Do(ctx, driver.Get([]byte("k")))
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, conn))
	assert.Equal(t, 0, factory.Closed())

	require.NoError(t, uow.Commit(ctx))

	multis, execs, discards := factory.Conns()[0].TxCounts()
	assert.Equal(t, []int{0, 0, 0}, []int{multis, execs, discards})
	assert.Equal(t, 1, factory.Opened())
	assert.Equal(t, 1, factory.Closed())
}

func TestManager_SplitsReads(t *testing.T) {
	factory := &testutils.ScriptedFactory{}
	m := NewManager(factory, Config{})
	ctx, uow := Begin(context.Background(), Options{})

	conn, err := m.Acquire(ctx, AcquireOptions{Transactional: true})
	require.NoError(t, err)

	_, err = conn.Do(ctx, driver.Set([]byte("k"), []byte("v"), driver.SetOptions{}))
	require.NoError(t, err)
	reply, err := conn.Do(ctx, driver.Get([]byte("k")))
	require.NoError(t, err)
	assert.Equal(t, driver.OK, reply, "read must not be queued")

	conns := factory.Conns()
	require.Len(t, conns, 2)
	assert.Equal(t, []driver.Command{driver.Set([]byte("k"), []byte("v"), driver.SetOptions{})}, conns[0].Commands())
	assert.Equal(t, []driver.Command{driver.Get([]byte("k"))}, conns[1].Commands())
	assert.Equal(t, 1, conns[1].Closes())

	require.NoError(t, m.Release(ctx, conn))
	require.NoError(t, uow.Commit(ctx))
	assert.Equal(t, 1, conns[0].Closes())
}

func TestManager_SplitReadsKeepPipelineOrder(t *testing.T) {
	factory := &testutils.ScriptedFactory{
		Handler: func(cmd driver.Command) (driver.Reply, error) {
			if cmd.Name == driver.CmdGet {
				return driver.BytesReply(cmd.Args[0]), nil
			}
			return driver.OK, nil
		},
	}
	m := NewManager(factory, Config{})
	ctx, uow := Begin(context.Background(), Options{})

	outer, err := m.Acquire(ctx, AcquireOptions{Transactional: true})
	require.NoError(t, err)
	require.NoError(t, outer.OpenPipeline())

	_, err = outer.Do(ctx, driver.Get([]byte("a")))
	require.NoError(t, err)
	_, err = outer.Do(ctx, driver.Set([]byte("k"), []byte("v"), driver.SetOptions{}))
	require.NoError(t, err)

	inner, err := m.Acquire(ctx, AcquireOptions{Transactional: true})
	require.NoError(t, err)
	_, err = inner.Do(ctx, driver.Get([]byte("b")))
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, inner))

	replies, err := outer.ClosePipeline(ctx)
	require.NoError(t, err)
	assert.Equal(t, []driver.Reply{driver.BytesReply([]byte("a")), driver.BytesReply([]byte("b"))}, replies)

	require.NoError(t, m.Release(ctx, outer))
	require.NoError(t, uow.Commit(ctx))

	bound := factory.Conns()[0]
	assert.Equal(t, []driver.Command{driver.Set([]byte("k"), []byte("v"), driver.SetOptions{})}, bound.Commands())
	_, execs, _ := bound.TxCounts()
	assert.Equal(t, 1, execs)
	assert.Equal(t, factory.Opened(), factory.Closed())
}

func TestSplitPipeline_Merge(t *testing.T) {
	read := func(s string) driver.Reply { return driver.BytesReply([]byte(s)) }

	var p splitPipeline
	assert.Equal(t, []driver.Reply{read("x")}, p.merge([]driver.Reply{read("x")}))

	p.add(read("r1"))
	p.addBound()
	p.add(read("r2"))
	got := p.merge([]driver.Reply{driver.ArrayReply(), read("extra")})
	assert.Equal(t, []driver.Reply{read("r1"), driver.ArrayReply(), read("r2"), read("extra")}, got)
	assert.Empty(t, p.slots)
}

func TestManager_SuspendPolicy(t *testing.T) {
	factory := &testutils.ScriptedFactory{}
	m := NewManager(factory, Config{ReleasePolicy: ReleaseSuspend})
	ctx := scoped()

	conn, err := m.Acquire(ctx, AcquireOptions{Bind: true})
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, conn))

	h := ScopeFrom(ctx).Holder(factory)
	require.NotNil(t, h)
	assert.True(t, h.Suspended())
	assert.Nil(t, h.Conn())
	assert.Equal(t, 1, factory.Closed())

	// A plain acquisition goes through the suspended holder and reopens it.
	reopened, err := m.Acquire(ctx, AcquireOptions{})
	require.NoError(t, err)
	assert.NotSame(t, conn, reopened)
	assert.False(t, h.Suspended())
	assert.Equal(t, 2, factory.Opened())

	require.NoError(t, m.Release(ctx, reopened))
	assert.Equal(t, 2, factory.Closed())

	require.NoError(t, m.Unbind(ctx))
	assert.Equal(t, 0, ScopeFrom(ctx).Len())
	assert.Equal(t, 2, factory.Closed())
}

func TestManager_Session(t *testing.T) {
	factory := &testutils.ScriptedFactory{}
	m := NewManager(factory, Config{})

	ctx, err := m.Bind(context.Background(), AcquireOptions{})
	require.NoError(t, err)

	for range 3 {
		conn, err := m.Acquire(ctx, AcquireOptions{})
		require.NoError(t, err)
		require.NoError(t, m.Release(ctx, conn))
	}
	assert.Equal(t, 1, factory.Opened())
	assert.Equal(t, 0, factory.Closed())

	require.NoError(t, m.Unbind(ctx))
	assert.Equal(t, 1, factory.Closed())
	assert.Equal(t, 0, ScopeFrom(ctx).Len())
}

func TestManager_ConcurrentScopes(t *testing.T) {
	factory := &testutils.ScriptedFactory{}
	m := NewManager(factory, Config{})

	var g errgroup.Group
	for range 20 {
		g.Go(func() error {
			ctx := scoped()
			outer, err := m.Acquire(ctx, AcquireOptions{Bind: true})
			if err != nil {
				return err
			}
			inner, err := m.Acquire(ctx, AcquireOptions{Bind: true})
			if err != nil {
				return err
			}
			if err := m.Release(ctx, inner); err != nil {
				return err
			}
			return m.Release(ctx, outer)
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 20, factory.Opened())
	for _, conn := range factory.Conns() {
		assert.Equal(t, 1, conn.Closes())
	}
}

func TestScenario_TransactionAppliesAtomically(t *testing.T) {
	for _, tc := range []struct {
		status Status
		want   []string
	}{
		{Committed, []string{"1", "2", "3"}},
		{RolledBack, nil},
	} {
		t.Run(tc.status.String(), func(t *testing.T) {
			store := memstore.New(memstore.Config{})
			m := NewManager(store, Config{})
			ctx, uow := Begin(context.Background(), Options{})

			for _, v := range []string{"1", "2", "3"} {
				conn, err := m.Acquire(ctx, AcquireOptions{Transactional: true})
				require.NoError(t, err)
				_, err = conn.Do(ctx, driver.RPush([]byte("log"), []byte(v)))
				require.NoError(t, err)
				require.NoError(t, m.Release(ctx, conn))
			}
			assert.Equal(t, 0, store.Len(), "nothing applied before completion")

			require.NoError(t, uow.Complete(ctx, tc.status))

			reader, err := store.Conn(context.Background())
			require.NoError(t, err)
			defer reader.Close()
			reply, err := reader.Do(context.Background(), driver.LRange([]byte("log"), 0, -1))
			require.NoError(t, err)

			var got []string
			for _, e := range reply.Elems {
				got = append(got, string(e.Bytes))
			}
			assert.Equal(t, tc.want, got)
			assert.Equal(t, memstore.Stats{Dialed: 2, Closed: 1}, store.Stats())
		})
	}
}

func TestRun(t *testing.T) {
	factory := &testutils.ScriptedFactory{}
	m := NewManager(factory, Config{})
	boom := errors.New("boom")

	err := Run(context.Background(), Options{}, func(ctx context.Context) error {
		conn, err := m.Acquire(ctx, AcquireOptions{Transactional: true})
		if err != nil {
			return err
		}
		defer m.Release(ctx, conn)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, execs, discards := factory.Conns()[0].TxCounts()
	assert.Equal(t, 0, execs)
	assert.Equal(t, 1, discards)
	assert.Equal(t, 1, factory.Closed())
}

func TestUnitOfWork_Synchronizations(t *testing.T) {
	ctx, uow := Begin(context.Background(), Options{})
	assert.Same(t, uow, Current(ctx))
	assert.Nil(t, Current(context.Background()))
	assert.NotEmpty(t, uow.ID().String())

	var calls []string
	require.NoError(t, uow.Register(SynchronizationFunc(func(_ context.Context, s Status) error {
		calls = append(calls, "first:"+s.String())
		return nil
	})))
	require.NoError(t, uow.Register(SynchronizationFunc(func(_ context.Context, s Status) error {
		calls = append(calls, "second:"+s.String())
		return errors.New("second failed")
	})))

	err := uow.Rollback(ctx)
	require.EqualError(t, err, "second failed")
	assert.Equal(t, []string{"first:rolled back", "second:rolled back"}, calls)
	assert.Equal(t, RolledBack, uow.Status())
	assert.False(t, uow.Active())

	assert.ErrorIs(t, uow.Register(SynchronizationFunc(nil)), ErrCompleted)
}
