package xjobstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/omeyang/xjobstore/pkg/scheduling/xjob"
	"github.com/omeyang/xjobstore/pkg/scheduling/xschedule"
)

func keysOf(trs []*xjob.Trigger) []xjob.TriggerKey {
	keys := make([]xjob.TriggerKey, len(trs))
	for i, tr := range trs {
		keys[i] = tr.Key
	}
	return keys
}

func TestAcquireNextTriggers_TimeWindow(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	job := testJob("j")
	tr := testTrigger("t", job.Key, base.Add(200*time.Second))
	mustStoreJobAndTrigger(t, s, job, tr)

	got, err := s.AcquireNextTriggers(ctx, base, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.AcquireNextTriggers(ctx, base.Add(210*time.Second), 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, tr.Key, got[0].Key)
	assert.NotEmpty(t, got[0].FireInstanceID)
	requireState(t, s, tr.Key, xjob.StateAcquired)

	got, err = s.AcquireNextTriggers(ctx, base.Add(210*time.Second), 1, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAcquireNextTriggers_WindowExtendsHorizon(t *testing.T) {
	s, _ := newTestStore(t)
	job := testJob("j")
	tr := testTrigger("t", job.Key, base.Add(30*time.Second))
	mustStoreJobAndTrigger(t, s, job, tr)

	got, err := s.AcquireNextTriggers(context.Background(), base, 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []xjob.TriggerKey{tr.Key}, keysOf(got))
}

func TestAcquireNextTriggers_Ordering(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	job := testJob("j")
	later := testTrigger("later", job.Key, base.Add(time.Minute))
	low := testTrigger("low", job.Key, base)
	low.Priority = 1
	high := testTrigger("high", job.Key, base)
	high.Priority = 9
	mustStoreJobAndTrigger(t, s, job, later, low, high)

	got, err := s.AcquireNextTriggers(ctx, base.Add(time.Hour), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []xjob.TriggerKey{high.Key, low.Key}, keysOf(got))

	got, err = s.AcquireNextTriggers(ctx, base.Add(time.Hour), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	requireState(t, s, later.Key, xjob.StateWaiting)
}

func TestAcquireNextTriggers_SkipsPaused(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	job := testJob("j")
	tr := testTrigger("t", job.Key, base)
	mustStoreJobAndTrigger(t, s, job, tr)
	require.NoError(t, s.PauseTrigger(ctx, tr.Key))

	got, err := s.AcquireNextTriggers(ctx, base, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReleaseAcquiredTrigger(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	job := testJob("j")
	tr := testTrigger("t", job.Key, base)
	mustStoreJobAndTrigger(t, s, job, tr)

	got, err := s.AcquireNextTriggers(ctx, base, 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, s.ReleaseAcquiredTrigger(ctx, got[0]))
	requireState(t, s, tr.Key, xjob.StateWaiting)

	// 已释放后再次释放什么也不做
	require.NoError(t, s.ReleaseAcquiredTrigger(ctx, got[0]))

	again, err := s.AcquireNextTriggers(ctx, base, 1, 0)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.NotEqual(t, got[0].FireInstanceID, again[0].FireInstanceID)
}

func TestTriggersFired(t *testing.T) {
	s, env := newTestStore(t)
	ctx := context.Background()
	job := testJob("j")
	tr := testTrigger("t", job.Key, base)
	mustStoreJobAndTrigger(t, s, job, tr)

	acquired, err := s.AcquireNextTriggers(ctx, base, 1, 0)
	require.NoError(t, err)
	require.Len(t, acquired, 1)

	env.clock.Advance(time.Second)
	results, err := s.TriggersFired(ctx, []*xjob.Trigger{acquired[0], testTrigger("unknown", job.Key, base)})
	require.NoError(t, err)
	require.Len(t, results, 2)

	b := results[0].Bundle
	require.NoError(t, results[0].Err)
	require.NotNil(t, b)
	assert.Equal(t, job.Key, b.Job.Key)
	assert.Equal(t, "handler.j", b.Handler)
	assert.True(t, base.Equal(b.ScheduledFireTime))
	assert.True(t, base.Add(time.Second).Equal(b.FireTime))
	assert.Nil(t, b.PrevFireTime)
	requireTime(t, base.Add(time.Minute), b.NextFireTime)
	requireTime(t, base, b.Trigger.PreviousFireTime)
	assert.Equal(t, 1, b.Trigger.Schedule.Simple.TimesTriggered)

	assert.Nil(t, results[1].Bundle)
	assert.NoError(t, results[1].Err)

	requireState(t, s, tr.Key, xjob.StateWaiting)
	stored, err := s.RetrieveTrigger(ctx, tr.Key)
	require.NoError(t, err)
	requireTime(t, base.Add(time.Minute), stored.NextFireTime)

	// 同一次领取不能触发两次
	results, err = s.TriggersFired(ctx, acquired)
	require.NoError(t, err)
	assert.Nil(t, results[0].Bundle)
}

func TestTriggersFired_MissingCalendar(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	job := testJob("j")
	require.NoError(t, s.StoreCalendar(ctx, "c", &xjob.Calendar{}, false, false))
	tr := testTrigger("t", job.Key, base)
	tr.CalendarName = "c"
	mustStoreJobAndTrigger(t, s, job, tr)

	acquired, err := s.AcquireNextTriggers(ctx, base, 1, 0)
	require.NoError(t, err)
	require.Len(t, acquired, 1)

	// 日历不能直接删除，绕过 Store 模拟外部删除
	_, err = s.calendars.Delete(ctx, "c")
	require.NoError(t, err)

	results, err := s.TriggersFired(ctx, acquired)
	require.NoError(t, err)
	assert.Nil(t, results[0].Bundle)
	assert.NoError(t, results[0].Err)
	requireState(t, s, tr.Key, xjob.StateAcquired)
}

func TestTriggersFired_UnresolvableJobSetsError(t *testing.T) {
	env := newEnv()
	resolved := map[string]int{}
	loader := JobLoaderFunc(func(_ context.Context, d string) (any, error) {
		resolved[d]++
		if d == "handler.j" && resolved[d] > 1 {
			return nil, assert.AnError
		}
		return d, nil
	})
	s := env.nodeWith(t, "node-a", loader, nil, WithLoaderCacheSize(1))
	ctx := context.Background()
	job := testJob("j")
	tr := testTrigger("t", job.Key, base)
	mustStoreJobAndTrigger(t, s, job, tr)
	// 挤出缓存，触发时重新解析
	require.NoError(t, s.StoreJob(ctx, &xjob.Job{Key: xjob.NewJobKey("evict", "jobs"), Descriptor: "other"}, false))

	acquired, err := s.AcquireNextTriggers(ctx, base, 1, 0)
	require.NoError(t, err)
	require.Len(t, acquired, 1)

	results, err := s.TriggersFired(ctx, acquired)
	require.NoError(t, err)
	assert.Nil(t, results[0].Bundle)
	assert.ErrorIs(t, results[0].Err, ErrUnresolvableJob)
	requireState(t, s, tr.Key, xjob.StateError)
}

func TestNonConcurrentJob_BlocksSiblings(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	job := testJob("exclusive")
	job.DisallowConcurrent = true
	t1 := testTrigger("t1", job.Key, base)
	t2 := testTrigger("t2", job.Key, base)
	mustStoreJobAndTrigger(t, s, job, t1, t2)

	acquired, err := s.AcquireNextTriggers(ctx, base, 10, 0)
	require.NoError(t, err)
	require.Equal(t, []xjob.TriggerKey{t1.Key}, keysOf(acquired), "one trigger per non-concurrent job")

	// 作业已被占用，其他触发器不能被领取
	more, err := s.AcquireNextTriggers(ctx, base, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, more)

	results, err := s.TriggersFired(ctx, acquired)
	require.NoError(t, err)
	require.NotNil(t, results[0].Bundle)
	requireState(t, s, t1.Key, xjob.StateBlocked)
	requireState(t, s, t2.Key, xjob.StateBlocked)

	// 阻塞期间暂停得到 PAUSED_BLOCKED
	require.NoError(t, s.PauseTrigger(ctx, t2.Key))
	requireState(t, s, t2.Key, xjob.StatePausedBlocked)

	// 阻塞期间新加入的触发器也是 BLOCKED
	t3 := testTrigger("t3", job.Key, base)
	require.NoError(t, s.StoreTrigger(ctx, t3, false))
	requireState(t, s, t3.Key, xjob.StateBlocked)

	require.NoError(t, s.TriggeredJobComplete(ctx, results[0].Bundle.Trigger, job, InstructionNoop))
	requireState(t, s, t1.Key, xjob.StateWaiting)
	requireState(t, s, t2.Key, xjob.StatePaused)
	requireState(t, s, t3.Key, xjob.StateWaiting)

	next, err := s.AcquireNextTriggers(ctx, base.Add(time.Hour), 10, 0)
	require.NoError(t, err)
	assert.Len(t, next, 1)
}

func TestNonConcurrentJob_ReleaseUnblocks(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	job := testJob("exclusive")
	job.DisallowConcurrent = true
	t1, t2 := testTrigger("t1", job.Key, base), testTrigger("t2", job.Key, base)
	mustStoreJobAndTrigger(t, s, job, t1, t2)

	acquired, err := s.AcquireNextTriggers(ctx, base, 10, 0)
	require.NoError(t, err)
	require.Len(t, acquired, 1)
	require.NoError(t, s.ReleaseAcquiredTrigger(ctx, acquired[0]))

	again, err := s.AcquireNextTriggers(ctx, base, 10, 0)
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestAcquire_MisfireSmartFiresNow(t *testing.T) {
	env := newEnv()
	ctrl := gomock.NewController(t)
	sig := NewMockSignaler(ctrl)
	sig.EXPECT().NotifySchedulingChange(gomock.Any(), gomock.Any()).AnyTimes()
	sig.EXPECT().NotifyTriggerMisfired(gomock.Any(), gomock.Any()).Times(1)
	s := env.nodeWith(t, "node-a", nil, sig)
	ctx := context.Background()

	job := testJob("j")
	tr := testTrigger("t", job.Key, base)
	mustStoreJobAndTrigger(t, s, job, tr)

	env.clock.Advance(10 * time.Minute)
	now := env.clock.Now()
	got, err := s.AcquireNextTriggers(ctx, now, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	requireTime(t, now, got[0].NextFireTime)
}

func TestAcquire_MisfireFinalizesOneShot(t *testing.T) {
	env := newEnv()
	ctrl := gomock.NewController(t)
	sig := NewMockSignaler(ctrl)
	sig.EXPECT().NotifySchedulingChange(gomock.Any(), gomock.Any()).AnyTimes()
	misfired := sig.EXPECT().NotifyTriggerMisfired(gomock.Any(), gomock.Any())
	sig.EXPECT().NotifyTriggerFinalized(gomock.Any(), gomock.Any()).After(misfired)
	s := env.nodeWith(t, "node-a", nil, sig)
	ctx := context.Background()

	job := testJob("j")
	tr := testTrigger("once", job.Key, base)
	tr.Schedule = xjob.NewSimpleSchedule(0, 0)
	tr.MisfireInstruction = xschedule.MisfireDoNothing
	mustStoreJobAndTrigger(t, s, job, tr)

	env.clock.Advance(10 * time.Minute)
	got, err := s.AcquireNextTriggers(ctx, env.clock.Now(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	requireState(t, s, tr.Key, xjob.StateComplete)
}

func TestAcquire_IgnoreMisfirePolicy(t *testing.T) {
	s, env := newTestStore(t)
	ctx := context.Background()
	job := testJob("j")
	tr := testTrigger("t", job.Key, base)
	tr.MisfireInstruction = xjob.MisfireIgnorePolicy
	mustStoreJobAndTrigger(t, s, job, tr)

	env.clock.Advance(time.Hour)
	got, err := s.AcquireNextTriggers(ctx, env.clock.Now(), 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	requireTime(t, base, got[0].NextFireTime)
}

func TestAcquire_RecoversOrphanedTriggers(t *testing.T) {
	env := newEnv()
	ctx := context.Background()
	opts := []Option{WithAcquiredTriggerTimeout(30 * time.Second), WithMisfireThreshold(time.Hour)}
	a := env.node(t, "node-a", opts...)
	b := env.node(t, "node-b", opts...)

	job := testJob("j")
	tr := testTrigger("t", job.Key, base)
	mustStoreJobAndTrigger(t, a, job, tr)

	first, err := a.AcquireNextTriggers(ctx, base, 1, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	got, err := b.AcquireNextTriggers(ctx, base, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, got, "not yet orphaned")

	env.clock.Advance(time.Minute)
	got, err = b.AcquireNextTriggers(ctx, base, 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEqual(t, first[0].FireInstanceID, got[0].FireInstanceID)

	// 原领取已失效，释放与触发都不生效
	require.NoError(t, a.ReleaseAcquiredTrigger(ctx, first[0]))
	requireState(t, a, tr.Key, xjob.StateAcquired)
	results, err := a.TriggersFired(ctx, first)
	require.NoError(t, err)
	assert.Nil(t, results[0].Bundle)
}

func TestTriggeredJobComplete_DeleteTrigger(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	job := testJob("once")
	job.Durable = false
	tr := testTrigger("t", job.Key, base)
	tr.Schedule = xjob.NewSimpleSchedule(0, 0)
	mustStoreJobAndTrigger(t, s, job, tr)

	acquired, err := s.AcquireNextTriggers(ctx, base, 1, 0)
	require.NoError(t, err)
	results, err := s.TriggersFired(ctx, acquired)
	require.NoError(t, err)
	fired := results[0].Bundle.Trigger
	assert.Nil(t, fired.NextFireTime)

	require.NoError(t, s.TriggeredJobComplete(ctx, fired, job, InstructionDeleteTrigger))
	requireState(t, s, tr.Key, xjob.StateNone)
	ok, err := s.CheckJobExists(ctx, job.Key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTriggeredJobComplete_DeleteSkipsRescheduled(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	job := testJob("j")
	tr := testTrigger("t", job.Key, base)
	mustStoreJobAndTrigger(t, s, job, tr)

	// 执行期间被重新调度：存储中仍有下次触发时间
	done := tr.Clone()
	done.NextFireTime = nil
	require.NoError(t, s.TriggeredJobComplete(ctx, done, job, InstructionDeleteTrigger))
	requireState(t, s, tr.Key, xjob.StateWaiting)
}

func TestTriggeredJobComplete_PersistsJobData(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	job := testJob("stateful")
	job.PersistDataAfterExecution = true
	job.Data = map[string]string{"runs": "0"}
	tr := testTrigger("t", job.Key, base)
	mustStoreJobAndTrigger(t, s, job, tr)

	executed := job.Clone()
	executed.Data["runs"] = "1"
	require.NoError(t, s.TriggeredJobComplete(ctx, tr, executed, InstructionNoop))

	got, err := s.RetrieveJob(ctx, job.Key)
	require.NoError(t, err)
	assert.Equal(t, "1", got.Data["runs"])
}

func TestTriggeredJobComplete_AllJobTriggers(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	job := testJob("j")
	t1, t2 := testTrigger("t1", job.Key, base), testTrigger("t2", job.Key, base)
	mustStoreJobAndTrigger(t, s, job, t1, t2)

	require.NoError(t, s.TriggeredJobComplete(ctx, t1, job, InstructionSetAllJobTriggersComplete))
	requireState(t, s, t1.Key, xjob.StateComplete)
	requireState(t, s, t2.Key, xjob.StateComplete)

	require.NoError(t, s.TriggeredJobComplete(ctx, t1, job, InstructionSetAllJobTriggersError))
	requireState(t, s, t1.Key, xjob.StateError)
	requireState(t, s, t2.Key, xjob.StateError)
}

func TestCompletedExecutionInstruction_String(t *testing.T) {
	assert.Equal(t, "DELETE_TRIGGER", InstructionDeleteTrigger.String())
	assert.Equal(t, "SET_ALL_JOB_TRIGGERS_ERROR", InstructionSetAllJobTriggersError.String())
	assert.Equal(t, "INSTRUCTION(42)", CompletedExecutionInstruction(42).String())
}
