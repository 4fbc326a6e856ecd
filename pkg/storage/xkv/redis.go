package xkv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
)

// ErrUnavailable 熔断器打开，后端暂时不可用。
var ErrUnavailable = errors.New("xkv: backend unavailable")

// Redis 基于 Redis Hash 的存储基座。
//
// 每个映射对应一个 Hash，单 key 操作（HGET/HSET/HSETNX/HDEL）天然原子。
// 按前缀扫描使用 HSCAN MATCH。
type Redis struct {
	client redis.UniversalClient
	opts   *redisOptions
	cb     *gobreaker.CircuitBreaker[any]
}

var _ Store = (*Redis)(nil)

// NewRedis 创建 Redis 存储基座。client 由调用方管理生命周期。
func NewRedis(client redis.UniversalClient, opts ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	o := defaultRedisOptions()
	for _, opt := range opts {
		opt(o)
	}

	r := &Redis{client: client, opts: o}
	if o.breakerEnabled {
		r.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        "xkv-redis",
			MaxRequests: 1,
			Timeout:     o.breakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= o.breakerMaxFailures
			},
			IsSuccessful: isBackendHealthy,
		})
	}
	return r, nil
}

// isBackendHealthy key 不存在与调用方取消都不计入熔断失败。
func isBackendHealthy(err error) bool {
	return err == nil ||
		errors.Is(err, redis.Nil) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Map 返回命名映射。
func (r *Redis) Map(name string) Map {
	return &redisMap{r: r, name: name, hash: r.opts.keyPrefix + name}
}

// Health 执行 PING。
func (r *Redis) Health(ctx context.Context) error {
	return r.do(ctx, func() error {
		return r.client.Ping(ctx).Err()
	})
}

// Close 无操作，client 由调用方关闭。
func (r *Redis) Close(context.Context) error {
	return nil
}

// do 在熔断器保护下执行 fn。
func (r *Redis) do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.cb == nil {
		return fn()
	}
	_, err := r.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

type redisMap struct {
	r    *Redis
	name string
	hash string
}

func (m *redisMap) Name() string { return m.name }

func (m *redisMap) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := m.r.do(ctx, func() error {
		v, err := m.r.client.HGet(ctx, m.hash, key).Bytes()
		out = v
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("xkv: redis hget %s %q: %w", m.name, key, err)
	}
	return out, nil
}

func (m *redisMap) Put(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := m.r.do(ctx, func() error {
		return m.r.client.HSet(ctx, m.hash, key, value).Err()
	})
	if err != nil {
		return fmt.Errorf("xkv: redis hset %s %q: %w", m.name, key, err)
	}
	return nil
}

func (m *redisMap) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	var ok bool
	err := m.r.do(ctx, func() error {
		v, err := m.r.client.HSetNX(ctx, m.hash, key, value).Result()
		ok = v
		return err
	})
	if err != nil {
		return false, fmt.Errorf("xkv: redis hsetnx %s %q: %w", m.name, key, err)
	}
	return ok, nil
}

func (m *redisMap) Delete(ctx context.Context, key string) (bool, error) {
	var n int64
	err := m.r.do(ctx, func() error {
		v, err := m.r.client.HDel(ctx, m.hash, key).Result()
		n = v
		return err
	})
	if err != nil {
		return false, fmt.Errorf("xkv: redis hdel %s %q: %w", m.name, key, err)
	}
	return n > 0, nil
}

func (m *redisMap) Scan(ctx context.Context, prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	if prefix == "" {
		err := m.r.do(ctx, func() error {
			all, err := m.r.client.HGetAll(ctx, m.hash).Result()
			for k, v := range all {
				out[k] = []byte(v)
			}
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("xkv: redis hgetall %s: %w", m.name, err)
		}
		return out, nil
	}

	err := m.hscan(ctx, prefix, func(field, value string) {
		out[field] = []byte(value)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *redisMap) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := m.hscan(ctx, prefix, func(field, _ string) {
		keys = append(keys, field)
	})
	if err != nil {
		return nil, err
	}
	return sortedUnique(keys), nil
}

// hscan 遍历 HSCAN 结果。HSCAN 可能重复返回同一字段，visit 需要幂等。
func (m *redisMap) hscan(ctx context.Context, prefix string, visit func(field, value string)) error {
	match := globEscape(prefix) + "*"
	var cursor uint64
	for {
		var page []string
		var next uint64
		err := m.r.do(ctx, func() error {
			var err error
			page, next, err = m.r.client.HScan(ctx, m.hash, cursor, match, m.r.opts.scanCount).Result()
			return err
		})
		if err != nil {
			return fmt.Errorf("xkv: redis hscan %s %q: %w", m.name, prefix, err)
		}
		for i := 0; i+1 < len(page); i += 2 {
			if hasPrefix(page[i], prefix) {
				visit(page[i], page[i+1])
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (m *redisMap) Len(ctx context.Context) (int, error) {
	var n int64
	err := m.r.do(ctx, func() error {
		v, err := m.r.client.HLen(ctx, m.hash).Result()
		n = v
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("xkv: redis hlen %s: %w", m.name, err)
	}
	return int(n), nil
}

func (m *redisMap) Clear(ctx context.Context) error {
	err := m.r.do(ctx, func() error {
		return m.r.client.Del(ctx, m.hash).Err()
	})
	if err != nil {
		return fmt.Errorf("xkv: redis del %s: %w", m.name, err)
	}
	return nil
}

// globEscape 转义 Redis glob 元字符。
func globEscape(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
