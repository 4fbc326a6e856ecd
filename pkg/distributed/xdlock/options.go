package xdlock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/omeyang/xjobstore/pkg/observability/xlog"
)

// defaultIdentity 返回 hostname:pid 形式的实例标识。
func defaultIdentity() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s:%d", hostname, os.Getpid())
}

// =============================================================================
// Redis 选项
// =============================================================================

// RedisOption Redis 锁选项。
type RedisOption func(*redisOptions)

type redisOptions struct {
	keyPrefix     string
	driftFactor   float64
	timeoutFactor float64
	shufflePools  bool
}

func defaultRedisOptions() *redisOptions {
	return &redisOptions{
		keyPrefix:     "xjobstore:lock:",
		driftFactor:   0.01,
		timeoutFactor: 0.05,
	}
}

// WithRedisKeyPrefix 设置锁 key 前缀，默认 "xjobstore:lock:"。
func WithRedisKeyPrefix(prefix string) RedisOption {
	return func(o *redisOptions) {
		o.keyPrefix = prefix
	}
}

// WithDriftFactor 设置 Redlock 时钟漂移因子，默认 0.01。值必须 > 0。
func WithDriftFactor(f float64) RedisOption {
	return func(o *redisOptions) {
		if f > 0 {
			o.driftFactor = f
		}
	}
}

// WithTimeoutFactor 设置单节点超时因子，默认 0.05。值必须 > 0。
func WithTimeoutFactor(f float64) RedisOption {
	return func(o *redisOptions) {
		if f > 0 {
			o.timeoutFactor = f
		}
	}
}

// WithShufflePools 每次获取时打乱 Redis 节点顺序。
func WithShufflePools(b bool) RedisOption {
	return func(o *redisOptions) {
		o.shufflePools = b
	}
}

// =============================================================================
// etcd 选项
// =============================================================================

// EtcdOption etcd 锁选项。
type EtcdOption func(*etcdOptions)

type etcdOptions struct {
	ttl       int
	ctx       context.Context
	keyPrefix string
}

func defaultEtcdOptions() *etcdOptions {
	return &etcdOptions{
		ttl:       30,
		ctx:       context.Background(),
		keyPrefix: "/xjobstore/locks/",
	}
}

// WithEtcdTTL 设置 Session TTL（秒），默认 30。
// 节点失联后其持有的锁最迟在 TTL 到期后释放；TryLock 的 lease 参数对 etcd 不生效。
func WithEtcdTTL(ttl int) EtcdOption {
	return func(o *etcdOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithEtcdContext 设置 Session 的上下文，取消后 Session 关闭、所有锁失效。
func WithEtcdContext(ctx context.Context) EtcdOption {
	return func(o *etcdOptions) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}

// WithEtcdKeyPrefix 设置锁 key 前缀，默认 "/xjobstore/locks/"。
func WithEtcdKeyPrefix(prefix string) EtcdOption {
	return func(o *etcdOptions) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}

// =============================================================================
// Manager 选项
// =============================================================================

// ManagerOption Manager 选项。
type ManagerOption func(*managerOptions)

type managerOptions struct {
	lease          time.Duration
	acquireTimeout time.Duration
	retryDelay     time.Duration
	maxRetryDelay  time.Duration
	clock          clockwork.Clock
	logger         xlog.Logger
}

func defaultManagerOptions() *managerOptions {
	return &managerOptions{
		lease:          30 * time.Second,
		acquireTimeout: 10 * time.Second,
		retryDelay:     5 * time.Millisecond,
		maxRetryDelay:  200 * time.Millisecond,
		clock:          clockwork.NewRealClock(),
		logger:         xlog.Nop(),
	}
}

// WithLease 设置锁租约时长，默认 30s。持有期间每 lease/3 续期一次。
func WithLease(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if d > 0 {
			o.lease = d
		}
	}
}

// WithAcquireTimeout 设置阻塞获取的最长等待时间，默认 10s。
func WithAcquireTimeout(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if d > 0 {
			o.acquireTimeout = d
		}
	}
}

// WithRetryDelay 设置获取重试的初始间隔与最大间隔（指数退避）。
func WithRetryDelay(initial, maxDelay time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if initial > 0 {
			o.retryDelay = initial
		}
		if maxDelay >= o.retryDelay {
			o.maxRetryDelay = maxDelay
		}
	}
}

// WithClock 设置续期计时使用的时钟，测试中可注入 clockwork.FakeClock。
func WithClock(c clockwork.Clock) ManagerOption {
	return func(o *managerOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l xlog.Logger) ManagerOption {
	return func(o *managerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}
