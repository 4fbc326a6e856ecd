package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xjobstore/pkg/config/xconf"
	"github.com/omeyang/xjobstore/pkg/distributed/xdlock"
	"github.com/omeyang/xjobstore/pkg/scheduling/xjob"
	"github.com/omeyang/xjobstore/pkg/scheduling/xjobstore"
	"github.com/omeyang/xjobstore/pkg/storage/xkv"
)

// seedStore 以命令行默认前缀写入一个作业和两个触发器，返回调度节点。
func seedStore(t *testing.T, mr *miniredis.Miniredis) *xjobstore.Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	prefix := xconf.DefaultStoreConfig().KeyPrefix
	kv, err := xkv.NewRedis(client, xkv.WithRedisKeyPrefix(prefix))
	require.NoError(t, err)
	locker, err := xdlock.NewRedisLocker([]redis.UniversalClient{client}, xdlock.WithRedisKeyPrefix(prefix+"lock:"))
	require.NoError(t, err)
	s, err := xjobstore.New(kv, locker, xjobstore.WithNodeID("scheduler-1"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx, nil, nil))
	require.NoError(t, s.SchedulerStarted(ctx))

	next := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	job := &xjob.Job{Key: xjob.NewJobKey("report", "etl"), Descriptor: "etl.report", Durable: true}
	require.NoError(t, s.StoreJob(ctx, job, false))
	for _, name := range []string{"daily", "hourly"} {
		require.NoError(t, s.StoreTrigger(ctx, &xjob.Trigger{
			Key:          xjob.NewTriggerKey(name, "etl"),
			JobKey:       job.Key,
			Priority:     xjob.DefaultPriority,
			StartTime:    next,
			NextFireTime: xjob.TimePtr(next),
			Schedule:     xjob.NewSimpleSchedule(time.Hour, xjob.RepeatIndefinitely),
		}, false))
	}
	return s
}

func runCLI(t *testing.T, mr *miniredis.Miniredis, args ...string) (string, error) {
	t.Helper()
	app := createApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &out
	full := append([]string{"xjobstorectl", "-b", "redis", "--redis", mr.Addr(), "--timeout", "5s"}, args...)
	err := app.Run(context.Background(), full)
	return out.String(), err
}

func TestTriggersAndJobs(t *testing.T) {
	mr := miniredis.RunT(t)
	seedStore(t, mr)

	out, err := runCLI(t, mr, "triggers")
	require.NoError(t, err)
	assert.Contains(t, out, "etl.daily")
	assert.Contains(t, out, "etl.hourly")
	assert.Contains(t, out, string(xjob.StateWaiting))
	assert.Contains(t, out, "2026-03-02T09:00:00Z")

	out, err = runCLI(t, mr, "jobs", "--group", "etl")
	require.NoError(t, err)
	assert.Regexp(t, `etl\.report\s+etl\.report\s+true`, out)

	out, err = runCLI(t, mr, "stats")
	require.NoError(t, err)
	assert.Regexp(t, `triggers\s+2`, out)
}

func TestPauseResume(t *testing.T) {
	mr := miniredis.RunT(t)
	s := seedStore(t, mr)
	ctx := context.Background()
	key := xjob.NewTriggerKey("daily", "etl")

	_, err := runCLI(t, mr, "pause", "--group", "etl")
	require.NoError(t, err)
	state, err := s.TriggerState(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, xjob.StatePaused, state)

	_, err = runCLI(t, mr, "resume", "--all")
	require.NoError(t, err)
	state, err = s.TriggerState(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, xjob.StateWaiting, state)

	_, err = runCLI(t, mr, "pause")
	var ue *usageError
	assert.ErrorAs(t, err, &ue)
}

func TestReset(t *testing.T) {
	mr := miniredis.RunT(t)
	s := seedStore(t, mr)
	ctx := context.Background()
	key := xjob.NewTriggerKey("daily", "etl")
	tr, err := s.RetrieveTrigger(ctx, key)
	require.NoError(t, err)
	job, err := s.RetrieveJob(ctx, tr.JobKey)
	require.NoError(t, err)
	require.NoError(t, s.TriggeredJobComplete(ctx, tr, job, xjobstore.InstructionSetTriggerError))

	out, err := runCLI(t, mr, "reset", "etl", "daily")
	require.NoError(t, err)
	assert.Contains(t, out, "ERROR -> WAITING")

	_, err = runCLI(t, mr, "reset", "etl", "missing")
	require.Error(t, err)

	_, err = runCLI(t, mr, "reset", "etl")
	var ue *usageError
	assert.ErrorAs(t, err, &ue)
}

func TestNodesDoesNotRegisterCLI(t *testing.T) {
	mr := miniredis.RunT(t)
	seedStore(t, mr)

	out, err := runCLI(t, mr, "nodes")
	require.NoError(t, err)
	assert.Contains(t, out, "scheduler-1")
	assert.Contains(t, out, "STARTED")

	out, err = runCLI(t, mr, "nodes")
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count([]byte(out), []byte("\n")), "header and one node:\n%s", out)
}

func TestClear(t *testing.T) {
	mr := miniredis.RunT(t)
	s := seedStore(t, mr)

	_, err := runCLI(t, mr, "clear")
	var ue *usageError
	require.ErrorAs(t, err, &ue)

	_, err = runCLI(t, mr, "clear", "--yes")
	require.NoError(t, err)
	n, err := s.NumberOfTriggers(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoadConfigOverrides(t *testing.T) {
	mr := miniredis.RunT(t)
	seedStore(t, mr)

	path := filepath.Join(t.TempDir(), "store.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: etcd\netcd:\n  endpoints: [\"127.0.0.1:1\"]\n"), 0o600))

	// 命令行覆盖配置文件中的基座
	app := createApp()
	var out bytes.Buffer
	app.Writer = &out
	err := app.Run(context.Background(), []string{
		"xjobstorectl", "-c", path, "-b", "redis", "--redis", mr.Addr(), "stats",
	})
	require.NoError(t, err)
	assert.Regexp(t, `jobs\s+1`, out.String())
}

func TestInvalidConfig(t *testing.T) {
	app := createApp()
	err := app.Run(context.Background(), []string{"xjobstorectl", "-b", "mysql", "stats"})
	var ue *usageError
	require.ErrorAs(t, err, &ue)
	assert.Contains(t, ue.Error(), "mysql")
}
