package xjobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/omeyang/xjobstore/pkg/observability/xlog"
	"github.com/omeyang/xjobstore/pkg/observability/xmetrics"
	"github.com/omeyang/xjobstore/pkg/scheduling/xjob"
)

// JobBundle 批量存储的一项：作业及其触发器。
type JobBundle struct {
	Job      *xjob.Job
	Triggers []*xjob.Trigger
}

// =============================================================================
// Job
// =============================================================================

// StoreJob 存储作业。replace 为 false 且作业已存在时返回 [AlreadyExistsError]。
// 作业不引用其他实体，写入是单 key 的原子操作，不需要集群锁。
func (s *Store) StoreJob(ctx context.Context, job *xjob.Job, replace bool) (err error) {
	ctx, span, err := s.begin(ctx, opStoreJob)
	if err != nil {
		return err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	if err := job.Validate(); err != nil {
		return persistErr(opStoreJob, err)
	}
	if _, err := s.resolve(ctx, job.Descriptor); err != nil {
		return persistErr(opStoreJob, err)
	}
	b, err := encode(job)
	if err != nil {
		return persistErr(opStoreJob, err)
	}
	if replace {
		return persistErr(opStoreJob, s.jobs.Put(ctx, job.Key.Encode(), b))
	}
	ok, err := s.jobs.PutIfAbsent(ctx, job.Key.Encode(), b)
	if err != nil {
		return persistErr(opStoreJob, err)
	}
	if !ok {
		return alreadyExists(KindJob, job.Key.String())
	}
	return nil
}

// RetrieveJob 返回作业副本，不存在时返回 nil。
func (s *Store) RetrieveJob(ctx context.Context, key xjob.JobKey) (job *xjob.Job, err error) {
	ctx, span, err := s.begin(ctx, opRetrieveJob)
	if err != nil {
		return nil, err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	job, err = s.loadJob(ctx, key)
	return job, persistErr(opRetrieveJob, err)
}

// RemoveJob 删除作业及其全部触发器，返回作业是否存在。
func (s *Store) RemoveJob(ctx context.Context, key xjob.JobKey) (removed bool, err error) {
	ctx, span, err := s.begin(ctx, opRemoveJob)
	if err != nil {
		return false, err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	err = s.withLocks(ctx, opRemoveJob, structureLocks, func(ctx context.Context, u *unit) error {
		var err error
		removed, err = s.removeJobLocked(ctx, u, key)
		return err
	})
	if err != nil {
		return false, err
	}
	if removed {
		s.log.Debug(ctx, "job removed", xlog.Job(key.String()))
	}
	return removed, nil
}

// RemoveJobs 全部存在时删除并返回 true；任一不存在时不做修改并返回 false。
func (s *Store) RemoveJobs(ctx context.Context, keys []xjob.JobKey) (removed bool, err error) {
	ctx, span, err := s.begin(ctx, opRemoveJobs)
	if err != nil {
		return false, err
	}
	defer func() { span.End(xmetrics.Result{Err: err, Items: len(keys)}) }()

	err = s.withLocks(ctx, opRemoveJobs, structureLocks, func(ctx context.Context, u *unit) error {
		for _, k := range keys {
			ok, err := exists(ctx, s.jobs, k.Encode())
			if err != nil || !ok {
				return err
			}
		}
		seen := make(map[xjob.JobKey]struct{}, len(keys))
		for _, k := range keys {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			if _, err := s.removeJobLocked(ctx, u, k); err != nil {
				return err
			}
		}
		removed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// CheckJobExists 作业是否存在。
func (s *Store) CheckJobExists(ctx context.Context, key xjob.JobKey) (ok bool, err error) {
	ctx, span, err := s.begin(ctx, opCheckExists)
	if err != nil {
		return false, err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	ok, err = exists(ctx, s.jobs, key.Encode())
	return ok, persistErr(opCheckExists, err)
}

// =============================================================================
// Trigger
// =============================================================================

// StoreTrigger 存储触发器。引用的作业必须存在，CalendarName 非空时日历也必须存在。
// 初始状态由所在组是否暂停、作业是否被阻塞决定。
func (s *Store) StoreTrigger(ctx context.Context, t *xjob.Trigger, replace bool) (err error) {
	ctx, span, err := s.begin(ctx, opStoreTrigger)
	if err != nil {
		return err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	if err := t.Validate(); err != nil {
		return persistErr(opStoreTrigger, err)
	}
	err = s.withLocks(ctx, opStoreTrigger, triggerLocks, func(ctx context.Context, u *unit) error {
		_, err := s.storeTriggerLocked(ctx, u, t, replace)
		return err
	})
	if err != nil {
		return err
	}
	s.signalChange(ctx, t.NextFireTime)
	return nil
}

// RetrieveTrigger 返回触发器副本，不存在时返回 nil。
func (s *Store) RetrieveTrigger(ctx context.Context, key xjob.TriggerKey) (t *xjob.Trigger, err error) {
	ctx, span, err := s.begin(ctx, opRetrieveTrigger)
	if err != nil {
		return nil, err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	rec, err := s.loadTrigger(ctx, key)
	if err != nil || rec == nil {
		return nil, persistErr(opRetrieveTrigger, err)
	}
	return rec.Trigger, nil
}

// RemoveTrigger 删除触发器，返回是否存在。
// 非持久作业失去最后一个触发器时一并删除。
func (s *Store) RemoveTrigger(ctx context.Context, key xjob.TriggerKey) (removed bool, err error) {
	ctx, span, err := s.begin(ctx, opRemoveTrigger)
	if err != nil {
		return false, err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	err = s.withLocks(ctx, opRemoveTrigger, structureLocks, func(ctx context.Context, u *unit) error {
		var err error
		removed, err = s.removeTriggerLocked(ctx, u, key, true)
		return err
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// RemoveTriggers 全部存在时删除并返回 true；任一不存在时不做修改并返回 false。
func (s *Store) RemoveTriggers(ctx context.Context, keys []xjob.TriggerKey) (removed bool, err error) {
	ctx, span, err := s.begin(ctx, opRemoveTriggers)
	if err != nil {
		return false, err
	}
	defer func() { span.End(xmetrics.Result{Err: err, Items: len(keys)}) }()

	err = s.withLocks(ctx, opRemoveTriggers, structureLocks, func(ctx context.Context, u *unit) error {
		for _, k := range keys {
			ok, err := exists(ctx, s.triggers, k.Encode())
			if err != nil || !ok {
				return err
			}
		}
		for _, k := range keys {
			if _, err := s.removeTriggerLocked(ctx, u, k, true); err != nil {
				return err
			}
		}
		removed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// ReplaceTrigger 用 newTrigger 替换 key 处的触发器，返回旧触发器是否存在。
//
// newTrigger 的 Key 被强制为 key，JobKey 必须与旧触发器一致，否则返回 [ErrJobMismatch]。
// 旧触发器处于暂停状态时新触发器保持暂停。
func (s *Store) ReplaceTrigger(ctx context.Context, key xjob.TriggerKey, newTrigger *xjob.Trigger) (replaced bool, err error) {
	ctx, span, err := s.begin(ctx, opReplaceTrigger)
	if err != nil {
		return false, err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	if newTrigger == nil {
		return false, persistErr(opReplaceTrigger, xjob.ErrNilTrigger)
	}
	t := newTrigger.Clone()
	t.Key = key
	if err := t.Validate(); err != nil {
		return false, persistErr(opReplaceTrigger, err)
	}

	err = s.withLocks(ctx, opReplaceTrigger, structureLocks, func(ctx context.Context, u *unit) error {
		old, err := s.loadTrigger(ctx, key)
		if err != nil || old == nil {
			return err
		}
		if old.Trigger.JobKey != t.JobKey {
			return fmt.Errorf("%w: %s belongs to %s, not %s", ErrJobMismatch, key, old.Trigger.JobKey, t.JobKey)
		}
		if err := s.releaseBlockLocked(ctx, u, old.Trigger.JobKey, &key); err != nil {
			return err
		}
		rec, err := s.storeTriggerLocked(ctx, u, t, true)
		if err != nil {
			return err
		}
		if old.State.IsPaused() && !rec.State.IsPaused() {
			rec.State = pausedOf(rec.State)
			if err := s.saveTriggerLocked(ctx, u, rec); err != nil {
				return err
			}
		}
		replaced = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if replaced {
		s.signalChange(ctx, t.NextFireTime)
	}
	return replaced, nil
}

// CheckTriggerExists 触发器是否存在。
func (s *Store) CheckTriggerExists(ctx context.Context, key xjob.TriggerKey) (ok bool, err error) {
	ctx, span, err := s.begin(ctx, opCheckExists)
	if err != nil {
		return false, err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	ok, err = exists(ctx, s.triggers, key.Encode())
	return ok, persistErr(opCheckExists, err)
}

// =============================================================================
// 组合存储
// =============================================================================

// StoreJobAndTrigger 原子地存储一个新作业和它的一个触发器。
// 作业或触发器已存在时返回 [AlreadyExistsError]，不做任何修改。
func (s *Store) StoreJobAndTrigger(ctx context.Context, job *xjob.Job, t *xjob.Trigger) (err error) {
	ctx, span, err := s.begin(ctx, opStoreJobAndTrigger)
	if err != nil {
		return err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	if err := s.validateBundle(ctx, JobBundle{Job: job, Triggers: []*xjob.Trigger{t}}); err != nil {
		return persistErr(opStoreJobAndTrigger, err)
	}
	err = s.withLocks(ctx, opStoreJobAndTrigger, structureLocks, func(ctx context.Context, u *unit) error {
		ok, err := u.putIfAbsent(ctx, s.jobs, job.Key.Encode(), job)
		if err != nil {
			return err
		}
		if !ok {
			return alreadyExists(KindJob, job.Key.String())
		}
		_, err = s.storeTriggerLocked(ctx, u, t, false)
		return err
	})
	if err != nil {
		return err
	}
	s.signalChange(ctx, t.NextFireTime)
	return nil
}

// StoreJobsAndTriggers 原子地存储多个作业及其触发器。
// replace 为 false 时任一实体已存在则返回 [AlreadyExistsError]，不做任何修改。
func (s *Store) StoreJobsAndTriggers(ctx context.Context, bundles []JobBundle, replace bool) (err error) {
	ctx, span, err := s.begin(ctx, opStoreJobsAndTriggers)
	if err != nil {
		return err
	}
	defer func() { span.End(xmetrics.Result{Err: err, Items: len(bundles)}) }()

	jobSeen := make(map[xjob.JobKey]struct{}, len(bundles))
	triggerSeen := make(map[xjob.TriggerKey]struct{})
	for _, b := range bundles {
		if err := s.validateBundle(ctx, b); err != nil {
			return persistErr(opStoreJobsAndTriggers, err)
		}
		if _, dup := jobSeen[b.Job.Key]; dup {
			return persistErr(opStoreJobsAndTriggers, fmt.Errorf("%w: job %s", ErrDuplicateInBatch, b.Job.Key))
		}
		jobSeen[b.Job.Key] = struct{}{}
		for _, t := range b.Triggers {
			if _, dup := triggerSeen[t.Key]; dup {
				return persistErr(opStoreJobsAndTriggers, fmt.Errorf("%w: trigger %s", ErrDuplicateInBatch, t.Key))
			}
			triggerSeen[t.Key] = struct{}{}
		}
	}

	var earliest *xjob.Trigger
	err = s.withLocks(ctx, opStoreJobsAndTriggers, structureLocks, func(ctx context.Context, u *unit) error {
		for _, b := range bundles {
			if replace {
				if err := u.put(ctx, s.jobs, b.Job.Key.Encode(), b.Job); err != nil {
					return err
				}
			} else {
				ok, err := u.putIfAbsent(ctx, s.jobs, b.Job.Key.Encode(), b.Job)
				if err != nil {
					return err
				}
				if !ok {
					return alreadyExists(KindJob, b.Job.Key.String())
				}
			}
			for _, t := range b.Triggers {
				if _, err := s.storeTriggerLocked(ctx, u, t, replace); err != nil {
					return err
				}
				if earliest == nil || xjob.Less(t, earliest) {
					earliest = t
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if earliest != nil {
		s.signalChange(ctx, earliest.NextFireTime)
	}
	return nil
}

// validateBundle 校验作业与触发器，并确认触发器都引用该作业。
func (s *Store) validateBundle(ctx context.Context, b JobBundle) error {
	if err := b.Job.Validate(); err != nil {
		return err
	}
	for _, t := range b.Triggers {
		if err := t.Validate(); err != nil {
			return err
		}
		if t.JobKey != b.Job.Key {
			return fmt.Errorf("%w: trigger %s references %s, not %s", ErrJobMismatch, t.Key, t.JobKey, b.Job.Key)
		}
	}
	_, err := s.resolve(ctx, b.Job.Descriptor)
	return err
}

// =============================================================================
// Calendar
// =============================================================================

// StoreCalendar 以 name 存储日历。updateTriggers 为 true 时，
// 重新计算所有引用该日历的触发器的下次触发时间。
func (s *Store) StoreCalendar(ctx context.Context, name string, cal *xjob.Calendar, replace, updateTriggers bool) (err error) {
	ctx, span, err := s.begin(ctx, opStoreCalendar)
	if err != nil {
		return err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	if cal == nil {
		return persistErr(opStoreCalendar, xjob.ErrNilCalendar)
	}
	c := cal.Clone()
	c.Name = name
	if err := c.Validate(); err != nil {
		return persistErr(opStoreCalendar, err)
	}

	var updated int
	err = s.withLocks(ctx, opStoreCalendar, structureLocks, func(ctx context.Context, u *unit) error {
		if !replace {
			ok, err := exists(ctx, s.calendars, name)
			if err != nil {
				return err
			}
			if ok {
				return alreadyExists(KindCalendar, name)
			}
		}
		if err := u.put(ctx, s.calendars, name, c); err != nil {
			return err
		}
		if !updateTriggers {
			return nil
		}
		recs, err := loadAll[triggerRecord](ctx, s.triggers, "")
		if err != nil {
			return err
		}
		now := s.opts.clock.Now()
		for _, rec := range recs {
			if rec.Trigger.CalendarName != name {
				continue
			}
			if err := s.opts.calculator.UpdateWithNewCalendar(rec.Trigger, c, now); err != nil {
				return fmt.Errorf("trigger %s: %w", rec.Trigger.Key, err)
			}
			if err := s.saveTriggerLocked(ctx, u, rec); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if updated > 0 {
		s.log.Debug(ctx, "triggers updated with new calendar", xlog.Calendar(name), xlog.Count(updated))
		s.signalChange(ctx, nil)
	}
	return nil
}

// RetrieveCalendar 返回日历副本，不存在时返回 nil。
func (s *Store) RetrieveCalendar(ctx context.Context, name string) (cal *xjob.Calendar, err error) {
	ctx, span, err := s.begin(ctx, opRetrieveCalendar)
	if err != nil {
		return nil, err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	cal, err = s.loadCalendar(ctx, name)
	return cal, persistErr(opRetrieveCalendar, err)
}

// RemoveCalendar 删除日历，返回是否存在。仍被触发器引用时返回 [ErrCalendarInUse]。
func (s *Store) RemoveCalendar(ctx context.Context, name string) (removed bool, err error) {
	ctx, span, err := s.begin(ctx, opRemoveCalendar)
	if err != nil {
		return false, err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	err = s.withLocks(ctx, opRemoveCalendar, structureLocks, func(ctx context.Context, u *unit) error {
		ok, err := exists(ctx, s.calendars, name)
		if err != nil || !ok {
			return err
		}
		recs, err := loadAll[triggerRecord](ctx, s.triggers, "")
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if rec.Trigger.CalendarName == name {
				return fmt.Errorf("%w: %q referenced by %s", ErrCalendarInUse, name, rec.Trigger.Key)
			}
		}
		removed, err = u.del(ctx, s.calendars, name)
		return err
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// CheckCalendarExists 日历是否存在。
func (s *Store) CheckCalendarExists(ctx context.Context, name string) (ok bool, err error) {
	ctx, span, err := s.begin(ctx, opCheckExists)
	if err != nil {
		return false, err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	ok, err = exists(ctx, s.calendars, name)
	return ok, persistErr(opCheckExists, err)
}

// signalChange 通知调度器数据已变化。
func (s *Store) signalChange(ctx context.Context, candidate *time.Time) {
	_, signaler := s.collaborators()
	signaler.NotifySchedulingChange(ctx, candidate)
}
