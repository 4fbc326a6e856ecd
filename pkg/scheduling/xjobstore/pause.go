package xjobstore

import (
	"context"
	"log/slog"
	"slices"

	"github.com/omeyang/xjobstore/pkg/observability/xlog"
	"github.com/omeyang/xjobstore/pkg/observability/xmetrics"
	"github.com/omeyang/xjobstore/pkg/scheduling/xjob"
)

// =============================================================================
// 暂停
// =============================================================================

// PauseTrigger 暂停触发器。COMPLETE 的触发器不受影响，不存在时什么也不做。
func (s *Store) PauseTrigger(ctx context.Context, key xjob.TriggerKey) (err error) {
	ctx, span, err := s.begin(ctx, opPause)
	if err != nil {
		return err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	return s.withLocks(ctx, opPause, triggerLocks, func(ctx context.Context, u *unit) error {
		return s.pauseLocked(ctx, u, key)
	})
}

// PauseTriggerGroup 暂停组内全部触发器，之后加入该组的触发器同样处于暂停状态。
func (s *Store) PauseTriggerGroup(ctx context.Context, group string) (err error) {
	ctx, span, err := s.begin(ctx, opPause)
	if err != nil {
		return err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	return s.withLocks(ctx, opPause, triggerLocks, func(ctx context.Context, u *unit) error {
		return s.pauseTriggerGroupLocked(ctx, u, group)
	})
}

func (s *Store) pauseTriggerGroupLocked(ctx context.Context, u *unit, group string) error {
	if err := u.put(ctx, s.pausedTriggerGroups, group, true); err != nil {
		return err
	}
	recs, err := loadAll[triggerRecord](ctx, s.triggers, xjob.GroupPrefix(group))
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := s.pauseLocked(ctx, u, rec.Trigger.Key); err != nil {
			return err
		}
	}
	s.log.Debug(ctx, "trigger group paused", slog.String("group", group), xlog.Count(len(recs)))
	return nil
}

// PauseJob 暂停作业的全部触发器。
func (s *Store) PauseJob(ctx context.Context, key xjob.JobKey) (err error) {
	ctx, span, err := s.begin(ctx, opPause)
	if err != nil {
		return err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	return s.withLocks(ctx, opPause, triggerLocks, func(ctx context.Context, u *unit) error {
		return s.pauseJobLocked(ctx, u, key)
	})
}

func (s *Store) pauseJobLocked(ctx context.Context, u *unit, key xjob.JobKey) error {
	recs, err := s.recordsForJob(ctx, key)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := s.pauseLocked(ctx, u, rec.Trigger.Key); err != nil {
			return err
		}
	}
	return nil
}

// PauseJobGroup 暂停组内全部作业的触发器，之后为该组作业存储的触发器同样处于暂停状态。
func (s *Store) PauseJobGroup(ctx context.Context, group string) (err error) {
	ctx, span, err := s.begin(ctx, opPause)
	if err != nil {
		return err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	return s.withLocks(ctx, opPause, triggerLocks, func(ctx context.Context, u *unit) error {
		if err := u.put(ctx, s.pausedJobGroups, group, true); err != nil {
			return err
		}
		jobs, err := decodeKeys(ctx, s.jobs, group)
		if err != nil {
			return err
		}
		for _, k := range jobs {
			if err := s.pauseJobLocked(ctx, u, xjob.JobKey{Key: k}); err != nil {
				return err
			}
		}
		s.log.Debug(ctx, "job group paused", slog.String("group", group), xlog.Count(len(jobs)))
		return nil
	})
}

// PauseAll 暂停全部触发器组。
func (s *Store) PauseAll(ctx context.Context) (err error) {
	ctx, span, err := s.begin(ctx, opPause)
	if err != nil {
		return err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	return s.withLocks(ctx, opPause, triggerLocks, func(ctx context.Context, u *unit) error {
		groups, err := groupNames(ctx, s.triggers)
		if err != nil {
			return err
		}
		for _, g := range groups {
			if err := s.pauseTriggerGroupLocked(ctx, u, g); err != nil {
				return err
			}
		}
		return nil
	})
}

// pauseLocked BLOCKED 转为 PAUSED_BLOCKED，其余非终态转为 PAUSED。
// 已获取但未触发的触发器放弃领取，由它造成的作业阻塞一并解除。
// 解除阻塞会改写兄弟触发器，因此按 key 重新读取。
func (s *Store) pauseLocked(ctx context.Context, u *unit, key xjob.TriggerKey) error {
	rec, err := s.loadTrigger(ctx, key)
	if err != nil || rec == nil {
		return err
	}
	switch rec.State {
	case xjob.StateComplete, xjob.StatePaused, xjob.StatePausedBlocked:
		return nil
	case xjob.StateAcquired:
		if err := s.releaseBlockLocked(ctx, u, rec.Trigger.JobKey, &key); err != nil {
			return err
		}
		rec.clearAcquisition()
	}
	rec.State = pausedOf(rec.State)
	return s.saveTriggerLocked(ctx, u, rec)
}

// =============================================================================
// 恢复
// =============================================================================

// ResumeTrigger 恢复被暂停的触发器，错过的触发按误触发指令处理。
func (s *Store) ResumeTrigger(ctx context.Context, key xjob.TriggerKey) (err error) {
	ctx, span, err := s.begin(ctx, opResume)
	if err != nil {
		return err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	return s.withLocks(ctx, opResume, triggerLocks, func(ctx context.Context, u *unit) error {
		rec, err := s.loadTrigger(ctx, key)
		if err != nil || rec == nil {
			return err
		}
		return s.resumeLocked(ctx, u, rec)
	})
}

// ResumeTriggerGroup 恢复组内触发器。所属作业组仍被暂停的触发器保持暂停。
func (s *Store) ResumeTriggerGroup(ctx context.Context, group string) (err error) {
	ctx, span, err := s.begin(ctx, opResume)
	if err != nil {
		return err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	return s.withLocks(ctx, opResume, triggerLocks, func(ctx context.Context, u *unit) error {
		return s.resumeTriggerGroupLocked(ctx, u, group)
	})
}

func (s *Store) resumeTriggerGroupLocked(ctx context.Context, u *unit, group string) error {
	if _, err := u.del(ctx, s.pausedTriggerGroups, group); err != nil {
		return err
	}
	recs, err := loadAll[triggerRecord](ctx, s.triggers, xjob.GroupPrefix(group))
	if err != nil {
		return err
	}
	for _, rec := range recs {
		jobPaused, err := exists(ctx, s.pausedJobGroups, rec.Trigger.JobKey.Group)
		if err != nil {
			return err
		}
		if jobPaused {
			continue
		}
		if err := s.resumeLocked(ctx, u, rec); err != nil {
			return err
		}
	}
	s.log.Debug(ctx, "trigger group resumed", slog.String("group", group), xlog.Count(len(recs)))
	return nil
}

// ResumeJob 恢复作业的全部触发器。
func (s *Store) ResumeJob(ctx context.Context, key xjob.JobKey) (err error) {
	ctx, span, err := s.begin(ctx, opResume)
	if err != nil {
		return err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	return s.withLocks(ctx, opResume, triggerLocks, func(ctx context.Context, u *unit) error {
		return s.resumeJobLocked(ctx, u, key)
	})
}

func (s *Store) resumeJobLocked(ctx context.Context, u *unit, key xjob.JobKey) error {
	recs, err := s.recordsForJob(ctx, key)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := s.resumeLocked(ctx, u, rec); err != nil {
			return err
		}
	}
	return nil
}

// ResumeJobGroup 恢复组内全部作业的触发器。
func (s *Store) ResumeJobGroup(ctx context.Context, group string) (err error) {
	ctx, span, err := s.begin(ctx, opResume)
	if err != nil {
		return err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	return s.withLocks(ctx, opResume, triggerLocks, func(ctx context.Context, u *unit) error {
		if _, err := u.del(ctx, s.pausedJobGroups, group); err != nil {
			return err
		}
		jobs, err := decodeKeys(ctx, s.jobs, group)
		if err != nil {
			return err
		}
		for _, k := range jobs {
			if err := s.resumeJobLocked(ctx, u, xjob.JobKey{Key: k}); err != nil {
				return err
			}
		}
		return nil
	})
}

// ResumeAll 清除全部暂停标记并恢复全部触发器组。
func (s *Store) ResumeAll(ctx context.Context) (err error) {
	ctx, span, err := s.begin(ctx, opResume)
	if err != nil {
		return err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	return s.withLocks(ctx, opResume, triggerLocks, func(ctx context.Context, u *unit) error {
		if err := u.clear(ctx, s.pausedJobGroups); err != nil {
			return err
		}
		groups, err := groupNames(ctx, s.triggers)
		if err != nil {
			return err
		}
		paused, err := s.pausedTriggerGroups.Keys(ctx, "")
		if err != nil {
			return err
		}
		for _, g := range paused {
			if !slices.Contains(groups, g) {
				groups = append(groups, g)
			}
		}
		for _, g := range groups {
			if err := s.resumeTriggerGroupLocked(ctx, u, g); err != nil {
				return err
			}
		}
		return nil
	})
}

// resumeLocked PAUSED 转为 WAITING，PAUSED_BLOCKED 转为 BLOCKED，然后检查误触发。
func (s *Store) resumeLocked(ctx context.Context, u *unit, rec *triggerRecord) error {
	switch rec.State {
	case xjob.StatePaused:
		rec.State = xjob.StateWaiting
	case xjob.StatePausedBlocked:
		rec.State = xjob.StateBlocked
	default:
		return nil
	}
	if rec.State == xjob.StateWaiting {
		if _, err := s.applyMisfireLocked(ctx, u, rec, s.opts.clock.Now()); err != nil {
			return err
		}
	}
	return s.saveTriggerLocked(ctx, u, rec)
}

// =============================================================================
// 错误恢复与清理
// =============================================================================

// ResetTriggerFromErrorState 将 ERROR 状态的触发器恢复为可调度状态，
// 所在组被暂停时恢复为 PAUSED。其他状态不受影响。
func (s *Store) ResetTriggerFromErrorState(ctx context.Context, key xjob.TriggerKey) (err error) {
	ctx, span, err := s.begin(ctx, opResetFromError)
	if err != nil {
		return err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	return s.withLocks(ctx, opResetFromError, triggerLocks, func(ctx context.Context, u *unit) error {
		rec, err := s.loadTrigger(ctx, key)
		if err != nil || rec == nil || rec.State != xjob.StateError {
			return err
		}
		state, err := s.initialState(ctx, rec.Trigger)
		if err != nil {
			return err
		}
		rec.State = state
		rec.clearAcquisition()
		s.log.Info(ctx, "trigger reset from error state", xlog.Trigger(key.String()), xlog.State(string(state)))
		return s.saveTriggerLocked(ctx, u, rec)
	})
}

// ClearAllSchedulingData 删除全部作业、触发器、日历与暂停、阻塞标记。集群节点登记保留。
func (s *Store) ClearAllSchedulingData(ctx context.Context) (err error) {
	ctx, span, err := s.begin(ctx, opClearAll)
	if err != nil {
		return err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	err = s.withLocks(ctx, opClearAll, structureLocks, func(ctx context.Context, u *unit) error {
		for _, m := range s.dataMaps() {
			if err := u.clear(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info(ctx, "all scheduling data cleared")
	return nil
}
