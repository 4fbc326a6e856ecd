package xjobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/omeyang/xjobstore/pkg/distributed/xdlock"
	"github.com/omeyang/xjobstore/pkg/observability/xlog"
	"github.com/omeyang/xjobstore/pkg/storage/xkv"
)

// 操作名，用于观测与错误上下文。
const (
	opInitialize             = "initialize"
	opSchedulerStarted       = "scheduler_started"
	opSchedulerPaused        = "scheduler_paused"
	opSchedulerResumed       = "scheduler_resumed"
	opShutdown               = "shutdown"
	opCheckIn                = "check_in"
	opClusterNodes           = "cluster_nodes"
	opStoreJob               = "store_job"
	opRetrieveJob            = "retrieve_job"
	opRemoveJob              = "remove_job"
	opRemoveJobs             = "remove_jobs"
	opCheckExists            = "check_exists"
	opStoreTrigger           = "store_trigger"
	opRetrieveTrigger        = "retrieve_trigger"
	opRemoveTrigger          = "remove_trigger"
	opRemoveTriggers         = "remove_triggers"
	opReplaceTrigger         = "replace_trigger"
	opStoreJobAndTrigger     = "store_job_and_trigger"
	opStoreJobsAndTriggers   = "store_jobs_and_triggers"
	opStoreCalendar          = "store_calendar"
	opRetrieveCalendar       = "retrieve_calendar"
	opRemoveCalendar         = "remove_calendar"
	opQuery                  = "query"
	opPause                  = "pause"
	opResume                 = "resume"
	opResetFromError         = "reset_trigger_from_error_state"
	opClearAll               = "clear_all_scheduling_data"
	opAcquireNextTriggers    = "acquire_next_triggers"
	opReleaseAcquiredTrigger = "release_acquired_trigger"
	opTriggersFired          = "triggers_fired"
	opTriggeredJobComplete   = "triggered_job_complete"
)

var (
	// 只修改触发器状态
	triggerLocks = []string{xdlock.TriggerAccess}
	// 跨实体的结构性修改，顺序固定
	structureLocks = []string{xdlock.StateAccess, xdlock.TriggerAccess}
)

// withLocks 按顺序获取 names，在临界区内执行 fn。
//
// fn 通过 unit 写入；fn 返回错误时已写入的内容按逆序恢复，
// 调用方看到的要么是完整的修改，要么没有修改。
// fn 执行期间任一租约丢失同样回滚，修改可能已与其他节点交错。
// 提交之后释放锁失败只记录日志，已提交的结果照常返回。
// 存在性等约束必须在 fn 内部（持锁后）检查。
func (s *Store) withLocks(ctx context.Context, op string, names []string, fn func(ctx context.Context, u *unit) error) error {
	lctx := ctx
	guards := make([]*xdlock.Guard, 0, len(names))
	defer func() {
		for i := len(guards) - 1; i >= 0; i-- {
			if rerr := guards[i].Release(ctx); rerr != nil {
				s.log.Warn(ctx, "lock release failed",
					xlog.Lock(guards[i].Name()), xlog.Operation(op), xlog.Err(rerr))
			}
		}
	}()

	for _, name := range names {
		c, g, aerr := s.locks.Acquire(lctx, name)
		if aerr != nil {
			s.log.Warn(ctx, "lock acquire failed",
				xlog.Lock(name), xlog.Operation(op), xlog.Err(aerr))
			return persistErr(op, fmt.Errorf("acquire %s: %w", name, aerr))
		}
		lctx = c
		guards = append(guards, g)
	}

	u := &unit{}
	if err := fn(lctx, u); err != nil {
		s.abort(ctx, op, u)
		return persistErr(op, err)
	}
	for _, g := range guards {
		if g.Lost() {
			s.log.Warn(ctx, "lock lease lost inside critical section, rolling back",
				xlog.Lock(g.Name()), xlog.Operation(op))
			s.abort(ctx, op, u)
			return persistErr(op, fmt.Errorf("%w: %s", xdlock.ErrLeaseLost, g.Name()))
		}
	}
	for _, f := range u.committed {
		f()
	}
	return nil
}

// abort 回滚 u 的写入，失败时通知 Signaler。
func (s *Store) abort(ctx context.Context, op string, u *unit) {
	if err := u.rollback(context.WithoutCancel(ctx)); err != nil {
		s.log.Error(ctx, "rollback failed", xlog.Operation(op), xlog.Err(err))
		_, signaler := s.collaborators()
		signaler.NotifyStoreError(ctx, "rollback of "+op+" failed", err)
	}
}

// unit 一个加锁操作内的写入集合。每次写入前记录旧值，rollback 时逆序恢复。
type unit struct {
	undo      []func(ctx context.Context) error
	committed []func()
}

// onCommit 登记提交后执行的动作（通知等），回滚时丢弃。
func (u *unit) onCommit(f func()) {
	u.committed = append(u.committed, f)
}

func (u *unit) snapshot(ctx context.Context, m xkv.Map, key string) ([]byte, bool, error) {
	prev, err := m.Get(ctx, key)
	switch {
	case err == nil:
		return prev, true, nil
	case errors.Is(err, xkv.ErrNotFound):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

func (u *unit) remember(m xkv.Map, key string, prev []byte, had bool) {
	u.undo = append(u.undo, func(ctx context.Context) error {
		if had {
			return m.Put(ctx, key, prev)
		}
		_, err := m.Delete(ctx, key)
		return err
	})
}

// put 写入 v 的编码。
func (u *unit) put(ctx context.Context, m xkv.Map, key string, v any) error {
	b, err := encode(v)
	if err != nil {
		return err
	}
	prev, had, err := u.snapshot(ctx, m, key)
	if err != nil {
		return err
	}
	if err := m.Put(ctx, key, b); err != nil {
		return err
	}
	u.remember(m, key, prev, had)
	return nil
}

// putIfAbsent key 不存在时写入，返回是否写入。
func (u *unit) putIfAbsent(ctx context.Context, m xkv.Map, key string, v any) (bool, error) {
	b, err := encode(v)
	if err != nil {
		return false, err
	}
	ok, err := m.PutIfAbsent(ctx, key, b)
	if err != nil || !ok {
		return false, err
	}
	u.remember(m, key, nil, false)
	return true, nil
}

// del 删除 key，返回删除前是否存在。
func (u *unit) del(ctx context.Context, m xkv.Map, key string) (bool, error) {
	prev, had, err := u.snapshot(ctx, m, key)
	if err != nil || !had {
		return false, err
	}
	if _, err := m.Delete(ctx, key); err != nil {
		return false, err
	}
	u.remember(m, key, prev, true)
	return true, nil
}

// clear 清空映射。
func (u *unit) clear(ctx context.Context, m xkv.Map) error {
	all, err := m.Scan(ctx, "")
	if err != nil {
		return err
	}
	if err := m.Clear(ctx); err != nil {
		return err
	}
	u.undo = append(u.undo, func(ctx context.Context) error {
		var errs []error
		for k, v := range all {
			errs = append(errs, m.Put(ctx, k, v))
		}
		return errors.Join(errs...)
	})
	return nil
}

func (u *unit) rollback(ctx context.Context) error {
	var errs []error
	for i := len(u.undo) - 1; i >= 0; i-- {
		if err := u.undo[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	u.undo = nil
	return errors.Join(errs...)
}
