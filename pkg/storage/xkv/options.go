package xkv

import "time"

// DefaultKeyPrefix 后端 key 的默认命名空间前缀。
const DefaultKeyPrefix = "xjobstore:"

// =============================================================================
// Redis 选项
// =============================================================================

// RedisOption Redis 后端选项。
type RedisOption func(*redisOptions)

type redisOptions struct {
	keyPrefix string
	scanCount int64

	breakerEnabled     bool
	breakerMaxFailures uint32
	breakerTimeout     time.Duration
}

func defaultRedisOptions() *redisOptions {
	return &redisOptions{
		keyPrefix:          DefaultKeyPrefix,
		scanCount:          256,
		breakerEnabled:     true,
		breakerMaxFailures: 5,
		breakerTimeout:     30 * time.Second,
	}
}

// WithRedisKeyPrefix 设置 Hash key 前缀，映射 name 对应的 Hash 为 prefix+name。
func WithRedisKeyPrefix(prefix string) RedisOption {
	return func(o *redisOptions) {
		o.keyPrefix = prefix
	}
}

// WithRedisScanCount 设置 HSCAN 每批的 COUNT 提示，默认 256。
func WithRedisScanCount(n int64) RedisOption {
	return func(o *redisOptions) {
		if n > 0 {
			o.scanCount = n
		}
	}
}

// WithRedisBreaker 配置熔断器：连续失败 maxFailures 次后打开，timeout 后半开探测。
// maxFailures 为 0 时禁用熔断。
func WithRedisBreaker(maxFailures uint32, timeout time.Duration) RedisOption {
	return func(o *redisOptions) {
		o.breakerEnabled = maxFailures > 0
		o.breakerMaxFailures = maxFailures
		if timeout > 0 {
			o.breakerTimeout = timeout
		}
	}
}

// =============================================================================
// etcd 选项
// =============================================================================

// EtcdOption etcd 后端选项。
type EtcdOption func(*etcdOptions)

type etcdOptions struct {
	keyPrefix string
}

func defaultEtcdOptions() *etcdOptions {
	return &etcdOptions{keyPrefix: "/xjobstore/"}
}

// WithEtcdKeyPrefix 设置 key 前缀，映射 name 下的 key 为 prefix+name+"/"+key。
func WithEtcdKeyPrefix(prefix string) EtcdOption {
	return func(o *etcdOptions) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}

// =============================================================================
// MongoDB 选项
// =============================================================================

// MongoOption MongoDB 后端选项。
type MongoOption func(*mongoOptions)

type mongoOptions struct {
	database         string
	collectionPrefix string
}

func defaultMongoOptions() *mongoOptions {
	return &mongoOptions{database: "xjobstore"}
}

// WithMongoDatabase 设置数据库名，默认 "xjobstore"。
func WithMongoDatabase(name string) MongoOption {
	return func(o *mongoOptions) {
		if name != "" {
			o.database = name
		}
	}
}

// WithMongoCollectionPrefix 设置集合名前缀，映射 name 对应的集合为 prefix+name。
func WithMongoCollectionPrefix(prefix string) MongoOption {
	return func(o *mongoOptions) {
		o.collectionPrefix = prefix
	}
}
