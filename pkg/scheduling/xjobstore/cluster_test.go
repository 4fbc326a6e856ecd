package xjobstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xjobstore/pkg/distributed/xdlock"
	"github.com/omeyang/xjobstore/pkg/scheduling/xjob"
)

func TestCluster_NoDuplicateAcquisition(t *testing.T) {
	env := newEnv()
	nodes := []*Store{
		env.node(t, "node-a"),
		env.node(t, "node-b"),
		env.node(t, "node-c"),
	}
	ctx := context.Background()

	const total = 20
	job := testJob("shared")
	require.NoError(t, nodes[0].StoreJob(ctx, job, false))
	for i := range total {
		tr := testTrigger(fmt.Sprintf("t%02d", i), job.Key, base)
		require.NoError(t, nodes[i%len(nodes)].StoreTrigger(ctx, tr, false))
	}

	var (
		mu  sync.Mutex
		got = map[xjob.TriggerKey]string{}
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range nodes {
		g.Go(func() error {
			for {
				trs, err := n.AcquireNextTriggers(gctx, base, 3, 0)
				if err != nil {
					return err
				}
				if len(trs) == 0 {
					return nil
				}
				mu.Lock()
				for _, tr := range trs {
					if prev, dup := got[tr.Key]; dup {
						mu.Unlock()
						return fmt.Errorf("%s acquired by %s and %s", tr.Key, prev, n.NodeID())
					}
					got[tr.Key] = n.NodeID()
				}
				mu.Unlock()
			}
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, got, total)

	keys, err := nodes[1].TriggerKeys(ctx, "")
	require.NoError(t, err)
	for _, k := range keys {
		requireState(t, nodes[2], k, xjob.StateAcquired)
	}
}

func TestCluster_SharedPauseState(t *testing.T) {
	env := newEnv()
	a, b := env.node(t, "node-a"), env.node(t, "node-b")
	ctx := context.Background()

	job := testJob("j")
	tr := testTrigger("t", job.Key, base)
	mustStoreJobAndTrigger(t, a, job, tr)

	require.NoError(t, b.PauseTriggerGroup(ctx, "triggers"))
	got, err := a.AcquireNextTriggers(ctx, base, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, a.ResumeTriggerGroup(ctx, "triggers"))
	got, err = b.AcquireNextTriggers(ctx, base, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)

	results, err := b.TriggersFired(ctx, got)
	require.NoError(t, err)
	require.NotNil(t, results[0].Bundle)
	require.NoError(t, a.TriggeredJobComplete(ctx, results[0].Bundle.Trigger, job, InstructionSetTriggerComplete))
	requireState(t, b, tr.Key, xjob.StateComplete)
}

func TestCluster_LockHeldByOtherNode(t *testing.T) {
	env := newEnv()
	a := env.node(t, "node-a", WithAcquireTimeout(100*time.Millisecond))
	ctx := context.Background()

	// 另一节点持有锁且不释放
	intruder, err := xdlock.NewMemoryLocker(env.reg, "intruder")
	require.NoError(t, err)
	h, err := intruder.TryLock(ctx, xdlock.TriggerAccess, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, h)

	err = a.StoreTrigger(ctx, testTrigger("t", testJob("j").Key, base), false)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, xdlock.ErrAcquireTimeout)

	require.NoError(t, h.Unlock(ctx))
	mustStoreJobAndTrigger(t, a, testJob("j"), testTrigger("t", testJob("j").Key, base))
}
