package xjobstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/omeyang/xjobstore/pkg/observability/xlog"
	"github.com/omeyang/xjobstore/pkg/observability/xmetrics"
	"github.com/omeyang/xjobstore/pkg/scheduling/xjob"
)

// CompletedExecutionInstruction 作业执行完成后对触发器的处理指令。
type CompletedExecutionInstruction int

const (
	InstructionNoop CompletedExecutionInstruction = iota
	InstructionDeleteTrigger
	InstructionSetTriggerComplete
	InstructionSetTriggerError
	InstructionSetAllJobTriggersComplete
	InstructionSetAllJobTriggersError
)

func (i CompletedExecutionInstruction) String() string {
	switch i {
	case InstructionNoop:
		return "NOOP"
	case InstructionDeleteTrigger:
		return "DELETE_TRIGGER"
	case InstructionSetTriggerComplete:
		return "SET_TRIGGER_COMPLETE"
	case InstructionSetTriggerError:
		return "SET_TRIGGER_ERROR"
	case InstructionSetAllJobTriggersComplete:
		return "SET_ALL_JOB_TRIGGERS_COMPLETE"
	case InstructionSetAllJobTriggersError:
		return "SET_ALL_JOB_TRIGGERS_ERROR"
	default:
		return fmt.Sprintf("INSTRUCTION(%d)", int(i))
	}
}

// FiredBundle 一次确认触发的执行上下文。
type FiredBundle struct {
	Job      *xjob.Job
	Trigger  *xjob.Trigger
	Calendar *xjob.Calendar
	// Handler JobLoader 对 Job.Descriptor 的解析结果。
	Handler any

	FireTime          time.Time
	ScheduledFireTime time.Time
	PrevFireTime      *time.Time
	NextFireTime      *time.Time
}

// FiredResult 与 TriggersFired 的输入一一对应。
// Bundle 为 nil 且 Err 为 nil 表示该触发器不再属于本次领取（已释放、暂停、删除，或日历缺失）。
type FiredResult struct {
	Bundle *FiredBundle
	Err    error
}

// =============================================================================
// 领取
// =============================================================================

// AcquireNextTriggers 领取最多 maxCount 个下次触发时间不晚于 noLaterThan+timeWindow 的触发器。
//
// 按下次触发时间、优先级、标识排序。领取前先处理误触发；
// 不允许并发的作业每批最多领取一个触发器，且作业被阻塞时跳过。
// 被领取的触发器状态变为 ACQUIRED，并分配新的 FireInstanceID。
// 节点必须已调用 [Store.SchedulerStarted]。
func (s *Store) AcquireNextTriggers(ctx context.Context, noLaterThan time.Time, maxCount int, timeWindow time.Duration) (acquired []*xjob.Trigger, err error) {
	ctx, span, err := s.begin(ctx, opAcquireNextTriggers)
	if err != nil {
		return nil, err
	}
	defer func() { span.End(xmetrics.Result{Err: err, Items: len(acquired)}) }()

	if !s.started.Load() {
		return nil, ErrNotStarted
	}
	if maxCount <= 0 {
		return nil, nil
	}
	s.checkInIfDue(ctx, s.opts.clock.Now())

	err = s.withLocks(ctx, opAcquireNextTriggers, triggerLocks, func(ctx context.Context, u *unit) error {
		acquired = nil
		now := s.opts.clock.Now()
		if err := s.recoverOrphansLocked(ctx, u, now); err != nil {
			return err
		}
		candidates, err := s.candidatesLocked(ctx, u, now)
		if err != nil {
			return err
		}

		limit := noLaterThan.Add(timeWindow)
		batchBlocked := make(map[xjob.JobKey]struct{})
		for _, rec := range candidates {
			if len(acquired) >= maxCount || rec.Trigger.NextFireTime.After(limit) {
				break
			}
			ok, err := s.acquireLocked(ctx, u, rec, now, batchBlocked)
			if err != nil {
				return err
			}
			if ok {
				acquired = append(acquired, rec.Trigger.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(acquired) > 0 {
		s.log.Debug(ctx, "triggers acquired", xlog.Count(len(acquired)))
	}
	return acquired, nil
}

// recoverOrphansLocked 领取时间超过 AcquiredTriggerTimeout 的触发器视为领取节点已失效，
// 恢复为可领取状态；随后解除已离开节点遗留的作业阻塞。
func (s *Store) recoverOrphansLocked(ctx context.Context, u *unit, now time.Time) error {
	timeout := s.opts.acquiredTriggerTimeout
	if timeout > 0 {
		recs, err := loadAll[triggerRecord](ctx, s.triggers, "")
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if rec.State != xjob.StateAcquired || rec.AcquiredAt == nil || now.Sub(*rec.AcquiredAt) <= timeout {
				continue
			}
			s.log.Warn(ctx, "recovering orphaned acquired trigger",
				xlog.Trigger(rec.Trigger.Key.String()), xlog.Node(rec.AcquiredBy), xlog.Duration(now.Sub(*rec.AcquiredAt)))
			if err := s.releaseAcquisitionLocked(ctx, u, rec.Trigger.Key); err != nil {
				return err
			}
		}
	}
	return s.releaseAbandonedBlocksLocked(ctx, u, now, timeout)
}

// releaseAbandonedBlocksLocked 解除持有节点已离开的作业阻塞。
// 执行中的作业完成前节点崩溃，TriggeredJobComplete 永远不会到来。
func (s *Store) releaseAbandonedBlocksLocked(ctx context.Context, u *unit, now time.Time, timeout time.Duration) error {
	blocks, err := loadAll[blockRecord](ctx, s.blockedJobs, "")
	if err != nil || len(blocks) == 0 {
		return err
	}
	nodes, err := loadAll[NodeStatus](ctx, s.schedulerState, "")
	if err != nil {
		return err
	}
	for encoded, blk := range blocks {
		if blk.Node == s.opts.nodeID || !blockAbandoned(blk, nodes[blk.Node], now, timeout) {
			continue
		}
		job, err := xjob.DecodeJobKey(encoded)
		if err != nil {
			return err
		}
		s.log.Warn(ctx, "releasing job block left by departed node",
			xlog.Job(job.String()), xlog.Node(blk.Node), xlog.Duration(now.Sub(blk.Since)))
		if err := s.releaseBlockLocked(ctx, u, job, nil); err != nil {
			return err
		}
	}
	return nil
}

// blockAbandoned 持有节点已停止或从未登记时立即成立；
// 否则要求阻塞与节点最近一次登记都早于 now-timeout。
func blockAbandoned(blk *blockRecord, owner *NodeStatus, now time.Time, timeout time.Duration) bool {
	if owner == nil || owner.State == SchedulerStateStopped {
		return true
	}
	return timeout > 0 && now.Sub(blk.Since) > timeout && now.Sub(owner.UpdatedAt) > timeout
}

// candidatesLocked 处理误触发后返回全部 WAITING 且有下次触发时间的触发器，按领取顺序排序。
func (s *Store) candidatesLocked(ctx context.Context, u *unit, now time.Time) ([]*triggerRecord, error) {
	recs, err := loadAll[triggerRecord](ctx, s.triggers, "")
	if err != nil {
		return nil, err
	}
	candidates := make([]*triggerRecord, 0, len(recs))
	for _, rec := range recs {
		if rec.State != xjob.StateWaiting || rec.Trigger.NextFireTime == nil {
			continue
		}
		misfired, err := s.applyMisfireLocked(ctx, u, rec, now)
		if err != nil {
			return nil, err
		}
		if misfired {
			if err := s.saveTriggerLocked(ctx, u, rec); err != nil {
				return nil, err
			}
			if rec.State != xjob.StateWaiting || rec.Trigger.NextFireTime == nil {
				continue
			}
		}
		candidates = append(candidates, rec)
	}
	slices.SortFunc(candidates, func(a, b *triggerRecord) int {
		return xjob.Compare(a.Trigger, b.Trigger)
	})
	return candidates, nil
}

// acquireLocked 尝试领取 rec，返回是否领取成功。
func (s *Store) acquireLocked(ctx context.Context, u *unit, rec *triggerRecord, now time.Time, batchBlocked map[xjob.JobKey]struct{}) (bool, error) {
	jobKey := rec.Trigger.JobKey
	job, err := s.loadJob(ctx, jobKey)
	if err != nil {
		return false, err
	}
	if job == nil {
		s.log.Warn(ctx, "trigger references missing job, set to error",
			xlog.Trigger(rec.Trigger.Key.String()), xlog.Job(jobKey.String()))
		rec.State = xjob.StateError
		return false, s.saveTriggerLocked(ctx, u, rec)
	}

	if job.DisallowConcurrent {
		if _, ok := batchBlocked[jobKey]; ok {
			return false, nil
		}
		blocked, err := s.isJobBlocked(ctx, jobKey)
		if err != nil || blocked {
			return false, err
		}
		if err := s.blockJobLocked(ctx, u, jobKey, rec.Trigger.Key); err != nil {
			return false, err
		}
		batchBlocked[jobKey] = struct{}{}
	}

	id, err := s.nextFireInstanceID()
	if err != nil {
		return false, err
	}
	rec.State = xjob.StateAcquired
	rec.AcquiredBy = s.opts.nodeID
	rec.AcquiredAt = xjob.TimePtr(now)
	rec.Trigger.FireInstanceID = id
	return true, s.saveTriggerLocked(ctx, u, rec)
}

// applyMisfireLocked 下次触发时间早于 now-MisfireThreshold 时按误触发指令调整 rec（不写入），
// 返回是否发生了误触发。调整后没有下次触发时间的触发器变为 COMPLETE。
func (s *Store) applyMisfireLocked(ctx context.Context, u *unit, rec *triggerRecord, now time.Time) (bool, error) {
	t := rec.Trigger
	if t.MisfireInstruction == xjob.MisfireIgnorePolicy || t.NextFireTime == nil {
		return false, nil
	}
	if t.NextFireTime.After(now.Add(-s.opts.misfireThreshold)) {
		return false, nil
	}

	cal, err := s.loadCalendar(ctx, t.CalendarName)
	if err != nil {
		return false, err
	}
	missed := *t.NextFireTime
	if err := s.opts.calculator.UpdateAfterMisfire(t, cal, now); err != nil {
		return false, fmt.Errorf("misfire %s: %w", t.Key, err)
	}
	s.log.Info(ctx, "trigger misfired",
		xlog.Trigger(t.Key.String()), xlog.Duration(now.Sub(missed)))

	_, signaler := s.collaborators()
	snapshot := t.Clone()
	u.onCommit(func() { signaler.NotifyTriggerMisfired(ctx, snapshot) })
	if t.NextFireTime == nil {
		rec.State = xjob.StateComplete
		rec.clearAcquisition()
		u.onCommit(func() { signaler.NotifyTriggerFinalized(ctx, snapshot) })
	}
	return true, nil
}

// ReleaseAcquiredTrigger 放弃对 t 的领取：ACQUIRED 恢复为可领取状态，
// 由它造成的作业阻塞一并解除。t 不再处于本次领取时什么也不做。
func (s *Store) ReleaseAcquiredTrigger(ctx context.Context, t *xjob.Trigger) (err error) {
	ctx, span, err := s.begin(ctx, opReleaseAcquiredTrigger)
	if err != nil {
		return err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	if t == nil {
		return persistErr(opReleaseAcquiredTrigger, xjob.ErrNilTrigger)
	}
	return s.withLocks(ctx, opReleaseAcquiredTrigger, triggerLocks, func(ctx context.Context, u *unit) error {
		rec, err := s.loadTrigger(ctx, t.Key)
		if err != nil || !sameAcquisition(rec, t) {
			return err
		}
		return s.releaseAcquisitionLocked(ctx, u, t.Key)
	})
}

// releaseAcquisitionLocked 将 ACQUIRED 的触发器恢复为 WAITING（或组暂停时的 PAUSED）。
func (s *Store) releaseAcquisitionLocked(ctx context.Context, u *unit, key xjob.TriggerKey) error {
	rec, err := s.loadTrigger(ctx, key)
	if err != nil || rec == nil || rec.State != xjob.StateAcquired {
		return err
	}
	if err := s.releaseBlockLocked(ctx, u, rec.Trigger.JobKey, &key); err != nil {
		return err
	}
	state, err := s.initialState(ctx, rec.Trigger)
	if err != nil {
		return err
	}
	rec.State = state
	rec.clearAcquisition()
	rec.Trigger.FireInstanceID = ""
	return s.saveTriggerLocked(ctx, u, rec)
}

// sameAcquisition rec 仍处于 t 所代表的那次领取。
// t 必须带有领取时分配的 FireInstanceID，手工构造或过期的触发器不匹配。
func sameAcquisition(rec *triggerRecord, t *xjob.Trigger) bool {
	if rec == nil || rec.State != xjob.StateAcquired || t.FireInstanceID == "" {
		return false
	}
	return rec.Trigger.FireInstanceID == t.FireInstanceID
}

// =============================================================================
// 触发
// =============================================================================

// TriggersFired 确认触发已领取的触发器，推进其下次触发时间并返回执行上下文。
//
// 结果与输入按下标对应。单个触发器的问题（作业缺失、描述符无法解析、计算失败）
// 记录在对应的 FiredResult.Err 中并把触发器置为 ERROR；存储基座错误使整批回滚。
// 不允许并发的作业被触发后，其全部触发器进入 BLOCKED / PAUSED_BLOCKED。
func (s *Store) TriggersFired(ctx context.Context, triggers []*xjob.Trigger) (results []FiredResult, err error) {
	ctx, span, err := s.begin(ctx, opTriggersFired)
	if err != nil {
		return nil, err
	}
	defer func() { span.End(xmetrics.Result{Err: err, Items: len(triggers)}) }()

	err = s.withLocks(ctx, opTriggersFired, triggerLocks, func(ctx context.Context, u *unit) error {
		results = make([]FiredResult, len(triggers))
		now := s.opts.clock.Now()
		for i, t := range triggers {
			if t == nil {
				results[i].Err = xjob.ErrNilTrigger
				continue
			}
			bundle, err := s.fireLocked(ctx, u, t, now)
			var fe *fireError
			if errors.As(err, &fe) {
				results[i].Err = fe.err
				continue
			}
			if err != nil {
				return err
			}
			results[i].Bundle = bundle
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// fireError 只影响单个触发器的错误。
type fireError struct {
	err error
}

func (e *fireError) Error() string { return e.err.Error() }

func (s *Store) fireLocked(ctx context.Context, u *unit, t *xjob.Trigger, now time.Time) (*FiredBundle, error) {
	rec, err := s.loadTrigger(ctx, t.Key)
	if err != nil || !sameAcquisition(rec, t) {
		return nil, err
	}
	var cal *xjob.Calendar
	if name := rec.Trigger.CalendarName; name != "" {
		cal, err = s.loadCalendar(ctx, name)
		if err != nil || cal == nil {
			return nil, err
		}
	}

	job, err := s.loadJob(ctx, rec.Trigger.JobKey)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, s.failFireLocked(ctx, u, rec, fmt.Errorf("%w: %s", ErrJobNotFound, rec.Trigger.JobKey))
	}
	handler, err := s.resolve(ctx, job.Descriptor)
	if err != nil {
		return nil, s.failFireLocked(ctx, u, rec, err)
	}

	prev := rec.Trigger.PreviousFireTime
	scheduled := now
	if rec.Trigger.NextFireTime != nil {
		scheduled = *rec.Trigger.NextFireTime
	}
	if err := s.opts.calculator.Triggered(rec.Trigger, cal); err != nil {
		return nil, s.failFireLocked(ctx, u, rec, err)
	}
	rec.clearAcquisition()
	rec.State = xjob.StateWaiting

	if job.DisallowConcurrent {
		if err := s.blockJobLocked(ctx, u, job.Key, rec.Trigger.Key); err != nil {
			return nil, err
		}
		if err := s.blockSiblingsLocked(ctx, u, job.Key, rec.Trigger.Key); err != nil {
			return nil, err
		}
		rec.State = xjob.StateBlocked
	}
	if err := s.saveTriggerLocked(ctx, u, rec); err != nil {
		return nil, err
	}
	s.log.Debug(ctx, "trigger fired",
		xlog.Trigger(rec.Trigger.Key.String()), xlog.FireID(rec.Trigger.FireInstanceID))

	return &FiredBundle{
		Job:               job,
		Trigger:           rec.Trigger.Clone(),
		Calendar:          cal,
		Handler:           handler,
		FireTime:          now,
		ScheduledFireTime: scheduled,
		PrevFireTime:      prev,
		NextFireTime:      rec.Trigger.Clone().NextFireTime,
	}, nil
}

// failFireLocked 把触发器置为 ERROR，返回只影响该触发器的错误。
func (s *Store) failFireLocked(ctx context.Context, u *unit, rec *triggerRecord, cause error) error {
	s.log.Warn(ctx, "trigger fire failed, set to error",
		xlog.Trigger(rec.Trigger.Key.String()), xlog.Err(cause))
	key := rec.Trigger.Key
	if err := s.releaseBlockLocked(ctx, u, rec.Trigger.JobKey, &key); err != nil {
		return err
	}
	rec.State = xjob.StateError
	rec.clearAcquisition()
	if err := s.saveTriggerLocked(ctx, u, rec); err != nil {
		return err
	}
	return &fireError{err: cause}
}

// blockSiblingsLocked 作业的其他触发器 WAITING 转为 BLOCKED，PAUSED 转为 PAUSED_BLOCKED。
func (s *Store) blockSiblingsLocked(ctx context.Context, u *unit, job xjob.JobKey, except xjob.TriggerKey) error {
	recs, err := s.recordsForJob(ctx, job)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.Trigger.Key == except {
			continue
		}
		switch rec.State {
		case xjob.StateWaiting:
			rec.State = xjob.StateBlocked
		case xjob.StatePaused:
			rec.State = xjob.StatePausedBlocked
		default:
			continue
		}
		if err := s.saveTriggerLocked(ctx, u, rec); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// 完成
// =============================================================================

// TriggeredJobComplete 作业执行完成。按需回写作业数据，解除不允许并发作业的阻塞，
// 然后按 instruction 处理触发器。
func (s *Store) TriggeredJobComplete(ctx context.Context, t *xjob.Trigger, job *xjob.Job, instruction CompletedExecutionInstruction) (err error) {
	ctx, span, err := s.begin(ctx, opTriggeredJobComplete)
	if err != nil {
		return err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	if t == nil {
		return persistErr(opTriggeredJobComplete, xjob.ErrNilTrigger)
	}
	if job == nil {
		return persistErr(opTriggeredJobComplete, xjob.ErrNilJob)
	}

	return s.withLocks(ctx, opTriggeredJobComplete, structureLocks, func(ctx context.Context, u *unit) error {
		if job.PersistDataAfterExecution {
			stored, err := s.loadJob(ctx, job.Key)
			if err != nil {
				return err
			}
			if stored != nil {
				stored.Data = maps.Clone(job.Data)
				if err := u.put(ctx, s.jobs, job.Key.Encode(), stored); err != nil {
					return err
				}
			}
		}
		if job.DisallowConcurrent {
			blk, err := load[blockRecord](ctx, s.blockedJobs, job.Key.Encode())
			if err != nil {
				return err
			}
			// 阻塞已被恢复并由其他节点重新持有时，迟到的完成不解除它。
			if blk != nil && (blk.Trigger == t.Key || blk.Node == s.opts.nodeID) {
				if err := s.releaseBlockLocked(ctx, u, job.Key, nil); err != nil {
					return err
				}
			}
			u.onCommit(func() { s.signalChange(ctx, nil) })
		}
		return s.completeLocked(ctx, u, t, job.Key, instruction)
	})
}

func (s *Store) completeLocked(ctx context.Context, u *unit, t *xjob.Trigger, jobKey xjob.JobKey, instruction CompletedExecutionInstruction) error {
	switch instruction {
	case InstructionSetAllJobTriggersComplete:
		return s.setJobTriggersLocked(ctx, u, jobKey, xjob.StateComplete)
	case InstructionSetAllJobTriggersError:
		return s.setJobTriggersLocked(ctx, u, jobKey, xjob.StateError)
	}

	rec, err := s.loadTrigger(ctx, t.Key)
	if err != nil || rec == nil {
		return err
	}
	switch instruction {
	case InstructionDeleteTrigger:
		// 执行期间触发器可能被重新调度，存储中也没有下次触发时间才删除。
		if t.NextFireTime == nil && rec.Trigger.NextFireTime != nil {
			return nil
		}
		if _, err := s.removeTriggerLocked(ctx, u, t.Key, true); err != nil {
			return err
		}
		_, signaler := s.collaborators()
		snapshot := rec.Trigger.Clone()
		u.onCommit(func() { signaler.NotifyTriggerFinalized(ctx, snapshot) })
	case InstructionSetTriggerComplete:
		rec.State = xjob.StateComplete
	case InstructionSetTriggerError:
		s.log.Warn(ctx, "trigger set to error by job completion", xlog.Trigger(t.Key.String()))
		rec.State = xjob.StateError
	default:
		return nil
	}
	if instruction != InstructionDeleteTrigger {
		rec.clearAcquisition()
		if err := s.saveTriggerLocked(ctx, u, rec); err != nil {
			return err
		}
	}
	u.onCommit(func() { s.signalChange(ctx, nil) })
	return nil
}

func (s *Store) setJobTriggersLocked(ctx context.Context, u *unit, jobKey xjob.JobKey, state xjob.TriggerState) error {
	recs, err := s.recordsForJob(ctx, jobKey)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		rec.State = state
		rec.clearAcquisition()
		if err := s.saveTriggerLocked(ctx, u, rec); err != nil {
			return err
		}
	}
	if state == xjob.StateError {
		s.log.Warn(ctx, "all job triggers set to error", xlog.Job(jobKey.String()), xlog.Count(len(recs)))
	}
	u.onCommit(func() { s.signalChange(ctx, nil) })
	return nil
}
