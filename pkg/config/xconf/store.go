package xconf

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/omeyang/xjobstore/pkg/observability/xlog"
)

// 存储基座。
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendEtcd   = "etcd"
	BackendMongo  = "mongo"
	BackendK8s    = "k8s"
)

// StoreConfig 作业存储节点配置。
type StoreConfig struct {
	// NodeID 为空时由存储生成。
	NodeID string `koanf:"node_id"`

	// Backend 数据基座：memory、redis、etcd 或 mongo。
	Backend string `koanf:"backend"`

	// KeyPrefix 数据与锁 key 的公共前缀。
	KeyPrefix string `koanf:"key_prefix"`

	MisfireThreshold       time.Duration `koanf:"misfire_threshold"`
	AcquiredTriggerTimeout time.Duration `koanf:"acquired_trigger_timeout"`
	LoaderCacheSize        int           `koanf:"loader_cache_size"`

	Lock  LockConfig  `koanf:"lock"`
	Redis RedisConfig `koanf:"redis"`
	Etcd  EtcdConfig  `koanf:"etcd"`
	Mongo MongoConfig `koanf:"mongo"`
	K8s   K8sConfig   `koanf:"k8s"`
	Log   LogConfig   `koanf:"log"`
}

// LockConfig 命名锁配置。
type LockConfig struct {
	// Backend 为空时与数据基座相同；另可选 k8s。mongo 基座必须显式指定。
	Backend        string        `koanf:"backend"`
	Lease          time.Duration `koanf:"lease"`
	AcquireTimeout time.Duration `koanf:"acquire_timeout"`
}

// RedisConfig 多个地址时按集群或哨兵模式连接。
type RedisConfig struct {
	Addrs      []string `koanf:"addrs"`
	Username   string   `koanf:"username"`
	Password   string   `koanf:"password"`
	DB         int      `koanf:"db"`
	MasterName string   `koanf:"master_name"`
}

// EtcdConfig etcd 连接配置。
type EtcdConfig struct {
	Endpoints   []string      `koanf:"endpoints"`
	Username    string        `koanf:"username"`
	Password    string        `koanf:"password"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
	// SessionTTL 锁会话 TTL，单位秒。
	SessionTTL int `koanf:"session_ttl"`
}

// MongoConfig MongoDB 连接配置，集合名为 key_prefix 加映射名。
type MongoConfig struct {
	URI         string        `koanf:"uri"`
	Database    string        `koanf:"database"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
}

// K8sConfig Lease 锁配置，字段为空时按 Pod 环境变量推断。
type K8sConfig struct {
	Namespace string `koanf:"namespace"`
	Identity  string `koanf:"identity"`
}

// LogConfig 日志配置。File 非空时写入文件并按大小滚动。
type LogConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

// DefaultStoreConfig 返回默认配置。
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend:                BackendMemory,
		KeyPrefix:              "xjobstore:",
		MisfireThreshold:       time.Minute,
		AcquiredTriggerTimeout: 5 * time.Minute,
		LoaderCacheSize:        128,
		Lock: LockConfig{
			Lease:          30 * time.Second,
			AcquireTimeout: 10 * time.Second,
		},
		Etcd: EtcdConfig{
			DialTimeout: 5 * time.Second,
			SessionTTL:  30,
		},
		Mongo: MongoConfig{
			Database:    "xjobstore",
			DialTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 7,
		},
	}
}

// LockBackend 实际使用的锁后端。
func (c *StoreConfig) LockBackend() string {
	if c.Lock.Backend != "" {
		return c.Lock.Backend
	}
	return c.Backend
}

// Validate 校验配置。
func (c *StoreConfig) Validate() error {
	var errs []error
	if !slices.Contains([]string{BackendMemory, BackendRedis, BackendEtcd, BackendMongo}, c.Backend) {
		errs = append(errs, fmt.Errorf("backend %q", c.Backend))
	}
	switch {
	case c.Backend == BackendMongo && c.Lock.Backend == "":
		errs = append(errs, errors.New("mongo backend requires lock.backend"))
	case !slices.Contains([]string{BackendMemory, BackendRedis, BackendEtcd, BackendK8s}, c.LockBackend()):
		errs = append(errs, fmt.Errorf("lock.backend %q", c.LockBackend()))
	}
	if (c.LockBackend() == BackendMemory) != (c.Backend == BackendMemory) {
		errs = append(errs, errors.New("memory locks require the memory backend"))
	}
	if c.usesRedis() && len(c.Redis.Addrs) == 0 {
		errs = append(errs, errors.New("redis.addrs is empty"))
	}
	if c.usesEtcd() && len(c.Etcd.Endpoints) == 0 {
		errs = append(errs, errors.New("etcd.endpoints is empty"))
	}
	if c.Backend == BackendMongo && c.Mongo.URI == "" {
		errs = append(errs, errors.New("mongo.uri is empty"))
	}
	if c.Lock.Lease <= 0 {
		errs = append(errs, fmt.Errorf("lock.lease %s", c.Lock.Lease))
	}
	if c.Lock.AcquireTimeout <= 0 {
		errs = append(errs, fmt.Errorf("lock.acquire_timeout %s", c.Lock.AcquireTimeout))
	}
	if c.MisfireThreshold < 0 {
		errs = append(errs, fmt.Errorf("misfire_threshold %s", c.MisfireThreshold))
	}
	if c.AcquiredTriggerTimeout < 0 {
		errs = append(errs, fmt.Errorf("acquired_trigger_timeout %s", c.AcquiredTriggerTimeout))
	}
	if _, err := xlog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c *StoreConfig) usesRedis() bool {
	return c.Backend == BackendRedis || c.LockBackend() == BackendRedis
}

func (c *StoreConfig) usesEtcd() bool {
	return c.Backend == BackendEtcd || c.LockBackend() == BackendEtcd
}

// LoadStore 从文件加载 StoreConfig。
func LoadStore(path string, opts ...Option) (*StoreConfig, error) {
	cfg, err := New(path, opts...)
	if err != nil {
		return nil, err
	}
	return StoreFrom(cfg, "")
}

// LoadStoreBytes 从字节数据加载 StoreConfig。
func LoadStoreBytes(data []byte, format Format, opts ...Option) (*StoreConfig, error) {
	cfg, err := NewFromBytes(data, format, opts...)
	if err != nil {
		return nil, err
	}
	return StoreFrom(cfg, "")
}

// StoreFrom 从 cfg 的 path 段解出 StoreConfig，缺省字段取默认值。
func StoreFrom(cfg Config, path string) (*StoreConfig, error) {
	sc := DefaultStoreConfig()
	if err := cfg.Unmarshal(path, &sc); err != nil {
		return nil, err
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}
