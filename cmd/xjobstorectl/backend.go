package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/omeyang/xjobstore/pkg/config/xconf"
	"github.com/omeyang/xjobstore/pkg/distributed/xdlock"
	"github.com/omeyang/xjobstore/pkg/observability/xlog"
	"github.com/omeyang/xjobstore/pkg/observability/xmetrics"
	"github.com/omeyang/xjobstore/pkg/scheduling/xjobstore"
	"github.com/omeyang/xjobstore/pkg/storage/xkv"
)

// loadConfig 读取配置文件并叠加命令行覆盖项。
func loadConfig(cmd *cli.Command) (*xconf.StoreConfig, error) {
	var (
		cfg *xconf.StoreConfig
		err error
	)
	if path := cmd.String("config"); path != "" {
		cfg, err = xconf.LoadStore(path)
		if err != nil {
			return nil, err
		}
	} else {
		def := xconf.DefaultStoreConfig()
		cfg = &def
	}

	if b := cmd.String("backend"); b != "" {
		cfg.Backend = b
	}
	if addrs := cmd.StringSlice("redis"); len(addrs) > 0 {
		cfg.Redis.Addrs = addrs
	}
	if eps := cmd.StringSlice("etcd"); len(eps) > 0 {
		cfg.Etcd.Endpoints = eps
	}
	if uri := cmd.String("mongo"); uri != "" {
		cfg.Mongo.URI = uri
	}
	if p := cmd.String("prefix"); p != "" {
		cfg.KeyPrefix = p
	}
	if err := cfg.Validate(); err != nil {
		return nil, &usageError{msg: err.Error()}
	}
	return cfg, nil
}

// session 一次命令使用的存储连接。
type session struct {
	store   *xjobstore.Store
	closers []func() error
}

func (s *session) Close(ctx context.Context) error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Shutdown(ctx))
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// openSession 按配置连接存储基座与锁后端，并初始化 Store。
func openSession(ctx context.Context, cfg *xconf.StoreConfig) (_ *session, err error) {
	sess := &session{}
	defer func() {
		if err != nil {
			_ = sess.Close(context.WithoutCancel(ctx))
		}
	}()

	logger, closeLog, err := buildLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	sess.closers = append(sess.closers, closeLog)

	var (
		redisClient redis.UniversalClient
		etcdClient  *clientv3.Client
		mongoClient *mongo.Client
	)
	if cfg.Backend == xconf.BackendRedis || cfg.LockBackend() == xconf.BackendRedis {
		redisClient = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:      cfg.Redis.Addrs,
			Username:   cfg.Redis.Username,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MasterName: cfg.Redis.MasterName,
		})
		sess.closers = append(sess.closers, redisClient.Close)
	}
	if cfg.Backend == xconf.BackendEtcd || cfg.LockBackend() == xconf.BackendEtcd {
		etcdClient, err = clientv3.New(clientv3.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			DialTimeout: cfg.Etcd.DialTimeout,
			Username:    cfg.Etcd.Username,
			Password:    cfg.Etcd.Password,
			Context:     ctx,
		})
		if err != nil {
			return nil, fmt.Errorf("connect etcd: %w", err)
		}
		sess.closers = append(sess.closers, etcdClient.Close)
	}
	if cfg.Backend == xconf.BackendMongo {
		mongoClient, err = mongo.Connect(options.Client().
			ApplyURI(cfg.Mongo.URI).
			SetConnectTimeout(cfg.Mongo.DialTimeout))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		sess.closers = append(sess.closers, func() error {
			return mongoClient.Disconnect(context.WithoutCancel(ctx))
		})
	}

	kv, err := openKV(cfg, redisClient, etcdClient, mongoClient)
	if err != nil {
		return nil, err
	}
	locker, err := openLocker(ctx, cfg, redisClient, etcdClient)
	if err != nil {
		return nil, err
	}
	obs, err := xmetrics.NewOTelObserver(xmetrics.WithInstrumentationName("xjobstorectl"))
	if err != nil {
		_ = locker.Close(ctx)
		return nil, err
	}

	opts := []xjobstore.Option{
		xjobstore.WithLogger(logger),
		xjobstore.WithObserver(obs),
		xjobstore.WithLockLease(cfg.Lock.Lease),
		xjobstore.WithAcquireTimeout(cfg.Lock.AcquireTimeout),
		xjobstore.WithMisfireThreshold(cfg.MisfireThreshold),
		xjobstore.WithAcquiredTriggerTimeout(cfg.AcquiredTriggerTimeout),
		xjobstore.WithLoaderCacheSize(cfg.LoaderCacheSize),
	}
	if cfg.NodeID != "" {
		opts = append(opts, xjobstore.WithNodeID(cfg.NodeID))
	}
	store, err := xjobstore.New(kv, locker, opts...)
	if err != nil {
		_ = locker.Close(ctx)
		return nil, err
	}
	sess.store = store
	// 只读维护不需要解析作业描述符。
	if err := store.Initialize(ctx, nil, nil); err != nil {
		return nil, err
	}
	return sess, nil
}

func openKV(cfg *xconf.StoreConfig, rc redis.UniversalClient, ec *clientv3.Client, mc *mongo.Client) (xkv.Store, error) {
	switch cfg.Backend {
	case xconf.BackendRedis:
		return xkv.NewRedis(rc, xkv.WithRedisKeyPrefix(cfg.KeyPrefix))
	case xconf.BackendEtcd:
		return xkv.NewEtcd(ec, xkv.WithEtcdKeyPrefix(cfg.KeyPrefix))
	case xconf.BackendMongo:
		return xkv.NewMongo(mc,
			xkv.WithMongoDatabase(cfg.Mongo.Database),
			xkv.WithMongoCollectionPrefix(cfg.KeyPrefix),
		)
	default:
		return xkv.NewMemory(), nil
	}
}

func openLocker(ctx context.Context, cfg *xconf.StoreConfig, rc redis.UniversalClient, ec *clientv3.Client) (xdlock.Locker, error) {
	switch cfg.LockBackend() {
	case xconf.BackendRedis:
		return xdlock.NewRedisLocker([]redis.UniversalClient{rc}, xdlock.WithRedisKeyPrefix(cfg.KeyPrefix+"lock:"))
	case xconf.BackendEtcd:
		return xdlock.NewEtcdLocker(ec,
			xdlock.WithEtcdTTL(cfg.Etcd.SessionTTL),
			xdlock.WithEtcdContext(ctx),
			xdlock.WithEtcdKeyPrefix(cfg.KeyPrefix+"locks/"),
		)
	case xconf.BackendK8s:
		return xdlock.NewK8sLocker(xdlock.K8sOptions{
			Namespace: cfg.K8s.Namespace,
			Identity:  cfg.K8s.Identity,
		})
	default:
		return xdlock.NewMemoryLocker(xdlock.NewRegistry(nil), cfg.NodeID)
	}
}

func buildLogger(cfg xconf.LogConfig) (xlog.Logger, func() error, error) {
	b := xlog.New().
		SetOutput(os.Stderr).
		SetLevelString(cfg.Level).
		SetFormat(cfg.Format).
		SetAttrs(xlog.Component("xjobstorectl"))
	if cfg.File != "" {
		b = b.SetRotation(cfg.File, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays, cfg.Compress)
	}
	logger, cleanup, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	return logger, cleanup, nil
}
