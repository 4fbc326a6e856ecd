package xjobstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/sonyflake/v2"

	"github.com/omeyang/xjobstore/pkg/distributed/xdlock"
	"github.com/omeyang/xjobstore/pkg/observability/xlog"
	"github.com/omeyang/xjobstore/pkg/observability/xmetrics"
	"github.com/omeyang/xjobstore/pkg/scheduling/xjob"
	"github.com/omeyang/xjobstore/pkg/storage/xkv"
)

const componentName = "xjobstore"

// Store 集群化的作业存储，所有方法并发安全。
//
// 必须先调用 [Store.Initialize]；领取触发器前还需调用 [Store.SchedulerStarted]。
type Store struct {
	kv     xkv.Store
	locker xdlock.Locker
	locks  *xdlock.Manager
	opts   *options
	log    xlog.Logger

	jobs                xkv.Map
	triggers            xkv.Map
	jobTriggers         xkv.Map
	calendars           xkv.Map
	pausedTriggerGroups xkv.Map
	pausedJobGroups     xkv.Map
	blockedJobs         xkv.Map
	schedulerState      xkv.Map

	ids         *sonyflake.Sonyflake
	descriptors *lru.Cache[string, any]

	mu       sync.RWMutex
	loader   JobLoader
	signaler Signaler

	initialized atomic.Bool
	started     atomic.Bool
	shutdown    atomic.Bool
	// registered 本节点已在集群状态中登记过。
	registered  atomic.Bool
	// recovered 已清理同名节点上一次运行遗留的领取与阻塞。
	recovered   atomic.Bool
	// nodeState 最近一次登记的状态，lastCheckIn 为其时间（UnixNano）。
	nodeState   atomic.Value
	lastCheckIn atomic.Int64
}

// New 创建 Store。kv 与 locker 由所有节点共享；locker 的所有权转移给 Store，
// 在 [Store.Shutdown] 时关闭。
func New(kv xkv.Store, locker xdlock.Locker, opts ...Option) (*Store, error) {
	if kv == nil {
		return nil, ErrNilStore
	}
	if locker == nil {
		return nil, xdlock.ErrNilLocker
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	log := o.logger.With(xlog.Component(componentName), xlog.Node(o.nodeID))
	locks, err := xdlock.NewManager(locker,
		xdlock.WithLease(o.lockLease),
		xdlock.WithAcquireTimeout(o.acquireTimeout),
		xdlock.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	nodeID := o.nodeID
	ids, err := sonyflake.New(sonyflake.Settings{
		MachineID: func() (int, error) {
			return int(uint16(xxhash.Sum64String(nodeID))), nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("xjobstore: fire id generator: %w", err)
	}
	descriptors, err := lru.New[string, any](o.loaderCacheSize)
	if err != nil {
		return nil, fmt.Errorf("xjobstore: descriptor cache: %w", err)
	}

	return &Store{
		kv:                  kv,
		locker:              locker,
		locks:               locks,
		opts:                o,
		log:                 log,
		jobs:                kv.Map(mapJobs),
		triggers:            kv.Map(mapTriggers),
		jobTriggers:         kv.Map(mapJobTriggers),
		calendars:           kv.Map(mapCalendars),
		pausedTriggerGroups: kv.Map(mapPausedTriggerGroups),
		pausedJobGroups:     kv.Map(mapPausedJobGroups),
		blockedJobs:         kv.Map(mapBlockedJobs),
		schedulerState:      kv.Map(mapSchedulerState),
		ids:                 ids,
		descriptors:         descriptors,
		loader:              acceptAll{},
		signaler:            nopSignaler{},
	}, nil
}

// NodeID 返回本节点标识。
func (s *Store) NodeID() string {
	return s.opts.nodeID
}

// =============================================================================
// 生命周期
// =============================================================================

// Initialize 绑定协作者，必须先于其他操作调用。loader、signaler 可为 nil。
func (s *Store) Initialize(ctx context.Context, loader JobLoader, signaler Signaler) error {
	if s.shutdown.Load() {
		return ErrShutdown
	}
	if err := s.kv.Health(ctx); err != nil {
		return persistErr(opInitialize, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized.Load() {
		return ErrAlreadyInitialized
	}
	if loader != nil {
		s.loader = loader
	}
	if signaler != nil {
		s.signaler = signaler
	}
	s.initialized.Store(true)
	s.log.Info(ctx, "store initialized")
	return nil
}

// SchedulerStarted 标记本节点可以领取触发器，并在集群状态中登记。幂等。
// 首次调用时释放同一节点标识在上一次运行中遗留的 ACQUIRED 触发器与作业阻塞，
// 那些执行已随旧进程一起终止。
func (s *Store) SchedulerStarted(ctx context.Context) error {
	if err := s.recordSchedulerState(ctx, opSchedulerStarted, SchedulerStateStarted); err != nil {
		return err
	}
	if !s.recovered.Load() {
		if err := s.recoverOwnState(ctx); err != nil {
			return err
		}
		s.recovered.Store(true)
	}
	if !s.started.Swap(true) {
		s.log.Info(ctx, "scheduler started")
	}
	return nil
}

// SchedulerPaused 在集群状态中登记暂停。领取不受影响，由调度器自行停止轮询。
func (s *Store) SchedulerPaused(ctx context.Context) error {
	return s.recordSchedulerState(ctx, opSchedulerPaused, SchedulerStatePaused)
}

// SchedulerResumed 在集群状态中登记恢复。
func (s *Store) SchedulerResumed(ctx context.Context) error {
	return s.recordSchedulerState(ctx, opSchedulerResumed, SchedulerStateStarted)
}

func (s *Store) recordSchedulerState(ctx context.Context, op string, state SchedulerState) (err error) {
	ctx, span, err := s.begin(ctx, op)
	if err != nil {
		return err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	now := s.opts.clock.Now()
	b, err := encode(NodeStatus{Node: s.opts.nodeID, State: state, UpdatedAt: now})
	if err != nil {
		return persistErr(op, err)
	}
	if err := s.schedulerState.Put(ctx, s.opts.nodeID, b); err != nil {
		return persistErr(op, err)
	}
	s.registered.Store(true)
	s.nodeState.Store(state)
	s.lastCheckIn.Store(now.UnixNano())
	return nil
}

// CheckIn 以当前状态刷新本节点的登记时间。
// 超过 AcquiredTriggerTimeout 未登记的节点视为已失联，其持有的作业阻塞会被其他节点解除；
// 长时间不领取触发器的节点需定期调用。
func (s *Store) CheckIn(ctx context.Context) error {
	if !s.registered.Load() {
		return ErrNotStarted
	}
	state, _ := s.nodeState.Load().(SchedulerState)
	return s.recordSchedulerState(ctx, opCheckIn, state)
}

// checkInIfDue 距上次登记超过 timeout/4 时登记一次，失败只记录日志。
func (s *Store) checkInIfDue(ctx context.Context, now time.Time) {
	interval := s.opts.acquiredTriggerTimeout / 4
	if interval <= 0 || now.Sub(time.Unix(0, s.lastCheckIn.Load())) < interval {
		return
	}
	if err := s.CheckIn(ctx); err != nil {
		s.log.Warn(ctx, "node check-in failed", xlog.Node(s.opts.nodeID), xlog.Err(err))
	}
}

// recoverOwnState 释放以本节点标识领取或阻塞、但不属于当前进程的记录。
func (s *Store) recoverOwnState(ctx context.Context) error {
	return s.withLocks(ctx, opSchedulerStarted, triggerLocks, func(ctx context.Context, u *unit) error {
		recs, err := loadAll[triggerRecord](ctx, s.triggers, "")
		if err != nil {
			return err
		}
		released := 0
		for _, rec := range recs {
			if rec.State != xjob.StateAcquired || rec.AcquiredBy != s.opts.nodeID {
				continue
			}
			if err := s.releaseAcquisitionLocked(ctx, u, rec.Trigger.Key); err != nil {
				return err
			}
			released++
		}
		blocks, err := loadAll[blockRecord](ctx, s.blockedJobs, "")
		if err != nil {
			return err
		}
		for encoded, blk := range blocks {
			if blk.Node != s.opts.nodeID {
				continue
			}
			job, err := xjob.DecodeJobKey(encoded)
			if err != nil {
				return err
			}
			if err := s.releaseBlockLocked(ctx, u, job, nil); err != nil {
				return err
			}
			released++
		}
		if released > 0 {
			s.log.Warn(ctx, "released state left by previous run of this node",
				xlog.Node(s.opts.nodeID), xlog.Count(released))
		}
		return nil
	})
}

// ClusterNodes 返回集群中登记过的节点（按节点标识排序）。
func (s *Store) ClusterNodes(ctx context.Context) (nodes []NodeStatus, err error) {
	ctx, span, err := s.begin(ctx, opClusterNodes)
	if err != nil {
		return nil, err
	}
	defer func() { span.End(xmetrics.Result{Err: err, Items: len(nodes)}) }()

	all, err := loadAll[NodeStatus](ctx, s.schedulerState, "")
	if err != nil {
		return nil, persistErr(opClusterNodes, err)
	}
	for _, n := range all {
		nodes = append(nodes, *n)
	}
	slices.SortFunc(nodes, func(a, b NodeStatus) int {
		return strings.Compare(a.Node, b.Node)
	})
	return nodes, nil
}

// Shutdown 释放本节点持有的全部锁，登记过的节点改登记为 STOPPED。数据保留在存储基座中。
// 之后的调用返回 [ErrShutdown]。kv 不会被关闭。
func (s *Store) Shutdown(ctx context.Context) error {
	if s.shutdown.Load() {
		return nil
	}
	var errs []error
	if s.initialized.Load() && s.registered.Load() {
		if err := s.recordSchedulerState(ctx, opShutdown, SchedulerStateStopped); err != nil {
			errs = append(errs, err)
		}
	}
	s.shutdown.Store(true)
	s.started.Store(false)

	if err := s.locks.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.locker.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	s.descriptors.Purge()
	s.log.Info(ctx, "store shut down")
	return errors.Join(errs...)
}

// dataMaps 调度数据所在的映射，不含集群节点登记。
func (s *Store) dataMaps() []xkv.Map {
	return []xkv.Map{
		s.jobs, s.triggers, s.jobTriggers, s.calendars,
		s.pausedTriggerGroups, s.pausedJobGroups, s.blockedJobs,
	}
}

// checkReady 检查生命周期。
func (s *Store) checkReady() error {
	if s.shutdown.Load() {
		return ErrShutdown
	}
	if !s.initialized.Load() {
		return ErrNotInitialized
	}
	return nil
}

// begin 检查生命周期并开始一次观测。
func (s *Store) begin(ctx context.Context, op string) (context.Context, xmetrics.Span, error) {
	ctx, span := xmetrics.Start(ctx, s.opts.observer, xmetrics.SpanOptions{
		Component: componentName,
		Operation: op,
	})
	if err := s.checkReady(); err != nil {
		span.End(xmetrics.Result{Err: err})
		return ctx, xmetrics.NoopSpan{}, err
	}
	return ctx, span, nil
}

func (s *Store) collaborators() (JobLoader, Signaler) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loader, s.signaler
}

// resolve 通过 JobLoader 解析描述符，结果缓存。
func (s *Store) resolve(ctx context.Context, descriptor string) (any, error) {
	if v, ok := s.descriptors.Get(descriptor); ok {
		return v, nil
	}
	loader, _ := s.collaborators()
	v, err := loader.Resolve(ctx, descriptor)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrUnresolvableJob, descriptor, err)
	}
	s.descriptors.Add(descriptor, v)
	return v, nil
}

func (s *Store) nextFireInstanceID() (string, error) {
	id, err := s.ids.NextID()
	if err != nil {
		return "", fmt.Errorf("fire instance id: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}
