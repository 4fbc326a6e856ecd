package xjobstore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xjobstore/pkg/distributed/xdlock"
	"github.com/omeyang/xjobstore/pkg/scheduling/xjob"
	"github.com/omeyang/xjobstore/pkg/storage/xkv"
)

// =============================================================================
// 锁租约异常
// =============================================================================

// flakyLocker 包装内存锁，可让续期或释放报告所有权已丢失。
type flakyLocker struct {
	xdlock.Locker
	loseOnExtend atomic.Bool
	failUnlock   atomic.Bool
}

func (l *flakyLocker) TryLock(ctx context.Context, key string, lease time.Duration) (xdlock.LockHandle, error) {
	h, err := l.Locker.TryLock(ctx, key, lease)
	if err != nil || h == nil {
		return h, err
	}
	return &flakyHandle{LockHandle: h, l: l}, nil
}

type flakyHandle struct {
	xdlock.LockHandle
	l *flakyLocker
}

func (h *flakyHandle) Extend(ctx context.Context) error {
	if h.l.loseOnExtend.Load() {
		return xdlock.ErrNotLocked
	}
	return h.LockHandle.Extend(ctx)
}

func (h *flakyHandle) Unlock(ctx context.Context) error {
	err := h.LockHandle.Unlock(ctx)
	if err == nil && h.l.failUnlock.Load() {
		return xdlock.ErrNotLocked
	}
	return err
}

// slowKV 下一次扫描触发器时停顿，让续期循环在临界区内运行。
type slowKV struct {
	xkv.Store
	pause atomic.Int64
}

func (k *slowKV) Map(name string) xkv.Map {
	m := k.Store.Map(name)
	if name != mapTriggers {
		return m
	}
	return &slowMap{Map: m, kv: k}
}

type slowMap struct {
	xkv.Map
	kv *slowKV
}

func (m *slowMap) Scan(ctx context.Context, prefix string) (map[string][]byte, error) {
	if d := time.Duration(m.kv.pause.Swap(0)); d > 0 {
		time.Sleep(d)
	}
	return m.Map.Scan(ctx, prefix)
}

// flakyNode 使用短租约的已启动节点，续期在真实时钟上每 30ms 进行一次。
func (e *testEnv) flakyNode(t *testing.T, id string, kv xkv.Store) (*Store, *flakyLocker) {
	t.Helper()
	inner, err := xdlock.NewMemoryLocker(e.reg, id)
	require.NoError(t, err)
	locker := &flakyLocker{Locker: inner}
	s, err := New(kv, locker,
		WithNodeID(id),
		WithClock(e.clock),
		WithLockLease(90*time.Millisecond),
		WithAcquireTimeout(2*time.Second),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx, nil, nil))
	require.NoError(t, s.SchedulerStarted(ctx))
	return s, locker
}

func TestAcquire_LeaseLostRollsBack(t *testing.T) {
	env := newEnv()
	kv := &slowKV{Store: env.kv}
	s, locker := env.flakyNode(t, "node-a", kv)
	ctx := context.Background()

	job := testJob("j")
	tr := testTrigger("t", job.Key, base)
	mustStoreJobAndTrigger(t, s, job, tr)

	locker.loseOnExtend.Store(true)
	kv.pause.Store(int64(300 * time.Millisecond))
	got, err := s.AcquireNextTriggers(ctx, base, 1, 0)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, xdlock.ErrLeaseLost)
	assert.Empty(t, got)
	requireState(t, s, tr.Key, xjob.StateWaiting)

	locker.loseOnExtend.Store(false)
	got, err = s.AcquireNextTriggers(ctx, base, 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	requireState(t, s, tr.Key, xjob.StateAcquired)
}

func TestAcquire_ReleaseFailureKeepsCommittedResult(t *testing.T) {
	env := newEnv()
	s, locker := env.flakyNode(t, "node-a", env.kv)
	ctx := context.Background()

	job := testJob("j")
	tr := testTrigger("t", job.Key, base)
	mustStoreJobAndTrigger(t, s, job, tr)

	locker.failUnlock.Store(true)
	got, err := s.AcquireNextTriggers(ctx, base, 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	requireState(t, s, tr.Key, xjob.StateAcquired)

	locker.failUnlock.Store(false)
	results, err := s.TriggersFired(ctx, got)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotNil(t, results[0].Bundle)
}

// =============================================================================
// 领取匹配
// =============================================================================

func TestAcquisition_RequiresFireInstanceID(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	job := testJob("j")
	tr := testTrigger("t", job.Key, base)
	mustStoreJobAndTrigger(t, s, job, tr)

	acquired, err := s.AcquireNextTriggers(ctx, base, 1, 0)
	require.NoError(t, err)
	require.Len(t, acquired, 1)

	handMade := acquired[0].Clone()
	handMade.FireInstanceID = ""

	require.NoError(t, s.ReleaseAcquiredTrigger(ctx, handMade))
	requireState(t, s, tr.Key, xjob.StateAcquired)

	results, err := s.TriggersFired(ctx, []*xjob.Trigger{handMade})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Bundle)
	requireState(t, s, tr.Key, xjob.StateAcquired)

	results, err = s.TriggersFired(ctx, acquired)
	require.NoError(t, err)
	assert.NotNil(t, results[0].Bundle)
}

// =============================================================================
// 节点离开后的作业阻塞
// =============================================================================

// fireExclusive 在 s 上领取并触发不允许并发的作业，返回触发结果。
func fireExclusive(t *testing.T, s *Store, at time.Time) (*xjob.Job, *FiredBundle, *xjob.Trigger, *xjob.Trigger) {
	t.Helper()
	ctx := context.Background()
	job := testJob("exclusive")
	job.DisallowConcurrent = true
	t1 := testTrigger("t1", job.Key, at)
	t2 := testTrigger("t2", job.Key, at.Add(time.Second))
	mustStoreJobAndTrigger(t, s, job, t1, t2)

	acquired, err := s.AcquireNextTriggers(ctx, at.Add(time.Second), 10, 0)
	require.NoError(t, err)
	require.Equal(t, []xjob.TriggerKey{t1.Key}, keysOf(acquired))
	results, err := s.TriggersFired(ctx, acquired)
	require.NoError(t, err)
	require.NotNil(t, results[0].Bundle)
	requireState(t, s, t1.Key, xjob.StateBlocked)
	requireState(t, s, t2.Key, xjob.StateBlocked)
	return job, results[0].Bundle, t1, t2
}

func TestBlockedJob_ReleasedAfterOwnerStops(t *testing.T) {
	env := newEnv()
	ctx := context.Background()
	a := env.node(t, "node-a")
	b := env.node(t, "node-b", WithAcquiredTriggerTimeout(30*time.Second), WithMisfireThreshold(24*time.Hour))

	_, _, t1, t2 := fireExclusive(t, a, base)
	require.NoError(t, a.Shutdown(ctx))

	env.clock.Advance(6 * time.Hour)
	got, err := b.AcquireNextTriggers(ctx, env.clock.Now(), 10, 0)
	require.NoError(t, err)
	require.Equal(t, []xjob.TriggerKey{t2.Key}, keysOf(got))
	requireState(t, b, t1.Key, xjob.StateWaiting)
}

func TestBlockedJob_ReleasedWhenOwnerStopsCheckingIn(t *testing.T) {
	env := newEnv()
	ctx := context.Background()
	opts := []Option{WithAcquiredTriggerTimeout(30 * time.Second), WithMisfireThreshold(time.Hour)}
	a := env.node(t, "node-a", opts...)
	b := env.node(t, "node-b", opts...)

	job, bundle, t1, t2 := fireExclusive(t, a, base)

	// 持有节点仍在登记，阻塞保留
	env.clock.Advance(time.Minute)
	require.NoError(t, a.CheckIn(ctx))
	got, err := b.AcquireNextTriggers(ctx, env.clock.Now(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	requireState(t, b, t2.Key, xjob.StateBlocked)

	env.clock.Advance(time.Minute)
	got, err = b.AcquireNextTriggers(ctx, env.clock.Now(), 10, 0)
	require.NoError(t, err)
	require.Equal(t, []xjob.TriggerKey{t2.Key}, keysOf(got))
	requireState(t, b, t1.Key, xjob.StateWaiting)

	// 原节点迟到的完成不解除 node-b 持有的阻塞
	require.NoError(t, a.TriggeredJobComplete(ctx, bundle.Trigger, job, InstructionNoop))
	requireState(t, b, t2.Key, xjob.StateAcquired)
	results, err := b.TriggersFired(ctx, got)
	require.NoError(t, err)
	require.NotNil(t, results[0].Bundle)
	requireState(t, b, t1.Key, xjob.StateBlocked)
}

func TestBlockedJob_TimeoutDisabledKeepsLiveOwner(t *testing.T) {
	env := newEnv()
	ctx := context.Background()
	a := env.node(t, "node-a", WithAcquiredTriggerTimeout(0))
	b := env.node(t, "node-b", WithAcquiredTriggerTimeout(0))

	_, _, _, t2 := fireExclusive(t, a, base)

	env.clock.Advance(time.Hour)
	got, err := b.AcquireNextTriggers(ctx, env.clock.Now(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	requireState(t, b, t2.Key, xjob.StateBlocked)
}

func TestSchedulerStarted_ReleasesStateOfPreviousRun(t *testing.T) {
	env := newEnv()
	ctx := context.Background()
	crashed := env.node(t, "node-a")

	_, _, t1, t2 := fireExclusive(t, crashed, base)
	other := testJob("other")
	pending := testTrigger("pending", other.Key, base)
	mustStoreJobAndTrigger(t, crashed, other, pending)
	acquired, err := crashed.AcquireNextTriggers(ctx, base, 10, 0)
	require.NoError(t, err)
	require.Equal(t, []xjob.TriggerKey{pending.Key}, keysOf(acquired))

	// 同一节点标识重新启动，不等待超时
	restarted := env.node(t, "node-a")
	requireState(t, restarted, t1.Key, xjob.StateWaiting)
	requireState(t, restarted, t2.Key, xjob.StateWaiting)
	requireState(t, restarted, pending.Key, xjob.StateWaiting)

	// 其他节点的领取不受影响
	peer := env.node(t, "node-b")
	got, err := peer.AcquireNextTriggers(ctx, base, 1, 0)
	require.NoError(t, err)
	require.Equal(t, []xjob.TriggerKey{pending.Key}, keysOf(got))
	requireState(t, restarted, pending.Key, xjob.StateAcquired)
}

func TestCheckIn(t *testing.T) {
	env := newEnv()
	ctx := context.Background()

	raw := env.raw(t, "node-a")
	require.NoError(t, raw.Initialize(ctx, nil, nil))
	assert.ErrorIs(t, raw.CheckIn(ctx), ErrNotStarted)

	s := env.node(t, "node-b")
	require.NoError(t, s.SchedulerPaused(ctx))
	env.clock.Advance(time.Minute)
	require.NoError(t, s.CheckIn(ctx))

	nodes, err := s.ClusterNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, SchedulerStatePaused, nodes[0].State)
	assert.True(t, env.clock.Now().Equal(nodes[0].UpdatedAt))
}

func TestAcquire_ChecksInPeriodically(t *testing.T) {
	env := newEnv()
	ctx := context.Background()
	s := env.node(t, "node-a", WithAcquiredTriggerTimeout(time.Minute))

	env.clock.Advance(10 * time.Second)
	_, err := s.AcquireNextTriggers(ctx, env.clock.Now(), 1, 0)
	require.NoError(t, err)
	nodes, err := s.ClusterNodes(ctx)
	require.NoError(t, err)
	assert.True(t, base.Equal(nodes[0].UpdatedAt), "within a quarter of the timeout")

	env.clock.Advance(10 * time.Second)
	_, err = s.AcquireNextTriggers(ctx, env.clock.Now(), 1, 0)
	require.NoError(t, err)
	nodes, err = s.ClusterNodes(ctx)
	require.NoError(t, err)
	assert.True(t, env.clock.Now().Equal(nodes[0].UpdatedAt))
}
