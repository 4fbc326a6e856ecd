package xjobstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/omeyang/xjobstore/pkg/observability/xlog"
	"github.com/omeyang/xjobstore/pkg/observability/xmetrics"
	"github.com/omeyang/xjobstore/pkg/scheduling/xschedule"
)

// Option Store 选项。
type Option func(*options)

type options struct {
	nodeID                 string
	lockLease              time.Duration
	acquireTimeout         time.Duration
	misfireThreshold       time.Duration
	acquiredTriggerTimeout time.Duration
	loaderCacheSize        int
	logger                 xlog.Logger
	observer               xmetrics.Observer
	calculator             FireTimeCalculator
	clock                  clockwork.Clock
}

func defaultOptions() *options {
	return &options{
		nodeID:           uuid.NewString(),
		lockLease:        30 * time.Second,
		acquireTimeout:   10 * time.Second,
		misfireThreshold: time.Minute,
		loaderCacheSize:  128,

		acquiredTriggerTimeout: 5 * time.Minute,
		logger:                 xlog.Nop(),
		observer:               xmetrics.NoopObserver{},
		calculator:             xschedule.New(),
		clock:                  clockwork.NewRealClock(),
	}
}

// WithNodeID 设置节点标识，默认随机 UUID。领取记录与集群状态使用此标识。
func WithNodeID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.nodeID = id
		}
	}
}

// WithLockLease 设置命名锁租约，默认 30s。持锁节点崩溃后锁最迟在租约到期后释放。
func WithLockLease(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockLease = d
		}
	}
}

// WithAcquireTimeout 设置等待命名锁的最长时间，默认 10s。
func WithAcquireTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.acquireTimeout = d
		}
	}
}

// WithMisfireThreshold 设置误触发阈值，默认 1 分钟。
// NextFireTime 早于 now-threshold 的 WAITING 触发器在领取时按误触发处理。
func WithMisfireThreshold(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.misfireThreshold = d
		}
	}
}

// WithAcquiredTriggerTimeout 设置节点失联判定时长，默认 5 分钟，0 表示禁用按时长恢复。
// 领取时间早于 now-timeout 仍处于 ACQUIRED 的触发器（领取节点崩溃遗留）
// 会在下一次 AcquireNextTriggers 时恢复为可领取。
// 作业阻塞的持有节点超过 timeout 未登记时，阻塞同样被解除。
// 节点在 AcquireNextTriggers 中按 timeout/4 的间隔自动登记，空闲节点应自行调用 [Store.CheckIn]。
func WithAcquiredTriggerTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.acquiredTriggerTimeout = d
		}
	}
}

// WithLoaderCacheSize 设置描述符解析结果的 LRU 缓存容量，默认 128。
func WithLoaderCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.loaderCacheSize = n
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l xlog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver 设置观测器，默认不观测。
func WithObserver(obs xmetrics.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithCalculator 设置触发时间计算器，默认 xschedule.New()。
func WithCalculator(c FireTimeCalculator) Option {
	return func(o *options) {
		if c != nil {
			o.calculator = c
		}
	}
}

// WithClock 设置时钟，测试中可注入 clockwork.FakeClock。
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}
