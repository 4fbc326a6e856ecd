package xjobstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/omeyang/xjobstore/pkg/observability/xlog"
	"github.com/omeyang/xjobstore/pkg/scheduling/xjob"
)

// 本文件中的 *Locked 方法只能在 withLocks 的临界区内调用。

func (s *Store) loadJob(ctx context.Context, key xjob.JobKey) (*xjob.Job, error) {
	return load[xjob.Job](ctx, s.jobs, key.Encode())
}

func (s *Store) loadTrigger(ctx context.Context, key xjob.TriggerKey) (*triggerRecord, error) {
	return load[triggerRecord](ctx, s.triggers, key.Encode())
}

func (s *Store) loadCalendar(ctx context.Context, name string) (*xjob.Calendar, error) {
	if name == "" {
		return nil, nil
	}
	return load[xjob.Calendar](ctx, s.calendars, name)
}

// triggerKeysForJob 通过作业索引列出触发器标识。
func (s *Store) triggerKeysForJob(ctx context.Context, job xjob.JobKey) ([]xjob.TriggerKey, error) {
	prefix := jobTriggerPrefix(job)
	raw, err := s.jobTriggers.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]xjob.TriggerKey, 0, len(raw))
	for _, k := range raw {
		tk, err := xjob.DecodeTriggerKey(strings.TrimPrefix(k, prefix))
		if err != nil {
			return nil, err
		}
		keys = append(keys, tk)
	}
	return keys, nil
}

// recordsForJob 返回作业的全部触发器记录。索引存在但记录缺失的条目被忽略。
func (s *Store) recordsForJob(ctx context.Context, job xjob.JobKey) ([]*triggerRecord, error) {
	keys, err := s.triggerKeysForJob(ctx, job)
	if err != nil {
		return nil, err
	}
	recs := make([]*triggerRecord, 0, len(keys))
	for _, k := range keys {
		rec, err := s.loadTrigger(ctx, k)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// isPausedGroup 触发器组或作业组被暂停。
func (s *Store) isPausedGroup(ctx context.Context, t *xjob.Trigger) (bool, error) {
	paused, err := exists(ctx, s.pausedTriggerGroups, t.Key.Group)
	if err != nil || paused {
		return paused, err
	}
	return exists(ctx, s.pausedJobGroups, t.JobKey.Group)
}

func (s *Store) isJobBlocked(ctx context.Context, job xjob.JobKey) (bool, error) {
	return exists(ctx, s.blockedJobs, job.Encode())
}

// initialState 新存储或恢复的触发器应处于的状态。
func (s *Store) initialState(ctx context.Context, t *xjob.Trigger) (xjob.TriggerState, error) {
	paused, err := s.isPausedGroup(ctx, t)
	if err != nil {
		return "", err
	}
	blocked, err := s.isJobBlocked(ctx, t.JobKey)
	if err != nil {
		return "", err
	}
	return deriveState(paused, blocked), nil
}

func deriveState(paused, blocked bool) xjob.TriggerState {
	switch {
	case paused && blocked:
		return xjob.StatePausedBlocked
	case paused:
		return xjob.StatePaused
	case blocked:
		return xjob.StateBlocked
	default:
		return xjob.StateWaiting
	}
}

// pausedOf 暂停后的对应状态。
func pausedOf(state xjob.TriggerState) xjob.TriggerState {
	switch state {
	case xjob.StateBlocked, xjob.StatePausedBlocked:
		return xjob.StatePausedBlocked
	case xjob.StateComplete:
		return xjob.StateComplete
	default:
		return xjob.StatePaused
	}
}

func (s *Store) saveTriggerLocked(ctx context.Context, u *unit, rec *triggerRecord) error {
	return u.put(ctx, s.triggers, rec.key(), rec)
}

// storeTriggerLocked 校验引用并写入触发器与作业索引，返回写入的记录。
func (s *Store) storeTriggerLocked(ctx context.Context, u *unit, t *xjob.Trigger, replace bool) (*triggerRecord, error) {
	job, err := s.loadJob(ctx, t.JobKey)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, t.JobKey)
	}
	if t.CalendarName != "" {
		ok, err := exists(ctx, s.calendars, t.CalendarName)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrCalendarNotFound, t.CalendarName)
		}
	}

	old, err := s.loadTrigger(ctx, t.Key)
	if err != nil {
		return nil, err
	}
	if old != nil {
		if !replace {
			return nil, alreadyExists(KindTrigger, t.Key.String())
		}
		if old.Trigger.JobKey != t.JobKey {
			if _, err := u.del(ctx, s.jobTriggers, jobTriggerKey(old.Trigger.JobKey, t.Key)); err != nil {
				return nil, err
			}
		}
	}

	state, err := s.initialState(ctx, t)
	if err != nil {
		return nil, err
	}
	rec := &triggerRecord{Trigger: t.Clone(), State: state}
	if err := s.saveTriggerLocked(ctx, u, rec); err != nil {
		return nil, err
	}
	if err := u.put(ctx, s.jobTriggers, jobTriggerKey(t.JobKey, t.Key), true); err != nil {
		return nil, err
	}
	return rec, nil
}

// removeTriggerLocked 删除触发器。removeOrphanJob 为 true 时，
// 非持久作业失去最后一个触发器后一并删除。
func (s *Store) removeTriggerLocked(ctx context.Context, u *unit, key xjob.TriggerKey, removeOrphanJob bool) (bool, error) {
	rec, err := s.loadTrigger(ctx, key)
	if err != nil || rec == nil {
		return false, err
	}
	jobKey := rec.Trigger.JobKey
	if _, err := u.del(ctx, s.triggers, key.Encode()); err != nil {
		return false, err
	}
	if _, err := u.del(ctx, s.jobTriggers, jobTriggerKey(jobKey, key)); err != nil {
		return false, err
	}
	if err := s.releaseBlockLocked(ctx, u, jobKey, &key); err != nil {
		return false, err
	}

	if !removeOrphanJob {
		return true, nil
	}
	job, err := s.loadJob(ctx, jobKey)
	if err != nil {
		return false, err
	}
	if job == nil || job.Durable {
		return true, nil
	}
	remaining, err := s.triggerKeysForJob(ctx, jobKey)
	if err != nil {
		return false, err
	}
	if len(remaining) == 0 {
		if _, err := u.del(ctx, s.jobs, jobKey.Encode()); err != nil {
			return false, err
		}
		s.log.Debug(ctx, "non-durable job removed with its last trigger", xlog.Job(jobKey.String()))
	}
	return true, nil
}

// removeJobLocked 删除作业及其全部触发器。
func (s *Store) removeJobLocked(ctx context.Context, u *unit, key xjob.JobKey) (bool, error) {
	ok, err := exists(ctx, s.jobs, key.Encode())
	if err != nil || !ok {
		return false, err
	}
	tks, err := s.triggerKeysForJob(ctx, key)
	if err != nil {
		return false, err
	}
	for _, tk := range tks {
		if _, err := s.removeTriggerLocked(ctx, u, tk, false); err != nil {
			return false, err
		}
	}
	if _, err := u.del(ctx, s.blockedJobs, key.Encode()); err != nil {
		return false, err
	}
	if _, err := u.del(ctx, s.jobs, key.Encode()); err != nil {
		return false, err
	}
	return true, nil
}

// blockJobLocked 标记不允许并发的作业被 trigger 占用。
func (s *Store) blockJobLocked(ctx context.Context, u *unit, job xjob.JobKey, trigger xjob.TriggerKey) error {
	return u.put(ctx, s.blockedJobs, job.Encode(), blockRecord{
		Trigger: trigger,
		Node:    s.opts.nodeID,
		Since:   s.opts.clock.Now(),
	})
}

// releaseBlockLocked 解除作业阻塞并恢复兄弟触发器。
// by 非 nil 时只在阻塞由该触发器造成时解除。
func (s *Store) releaseBlockLocked(ctx context.Context, u *unit, job xjob.JobKey, by *xjob.TriggerKey) error {
	blk, err := load[blockRecord](ctx, s.blockedJobs, job.Encode())
	if err != nil || blk == nil {
		return err
	}
	if by != nil && blk.Trigger != *by {
		return nil
	}
	if _, err := u.del(ctx, s.blockedJobs, job.Encode()); err != nil {
		return err
	}
	recs, err := s.recordsForJob(ctx, job)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		switch rec.State {
		case xjob.StateBlocked:
			rec.State = xjob.StateWaiting
		case xjob.StatePausedBlocked:
			rec.State = xjob.StatePaused
		default:
			continue
		}
		if err := s.saveTriggerLocked(ctx, u, rec); err != nil {
			return err
		}
	}
	return nil
}
