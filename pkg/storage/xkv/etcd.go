package xkv

import (
	"context"
	"fmt"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// etcdKV etcd 后端依赖的最小接口，*clientv3.Client 满足此接口。
type etcdKV interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
	Txn(ctx context.Context) clientv3.Txn
}

var _ etcdKV = (*clientv3.Client)(nil)

// Etcd 基于 etcd 的存储基座。
//
// 映射 name 下的 key 存放在 prefix+name+"/" 之下，按组扫描即前缀 Get。
// PutIfAbsent 使用 Txn(CreateRevision(key) == 0)。
type Etcd struct {
	kv   etcdKV
	opts *etcdOptions
}

var _ Store = (*Etcd)(nil)

// NewEtcd 创建 etcd 存储基座。client 由调用方管理生命周期。
func NewEtcd(client *clientv3.Client, opts ...EtcdOption) (*Etcd, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return newEtcd(client, opts...), nil
}

func newEtcd(kv etcdKV, opts ...EtcdOption) *Etcd {
	o := defaultEtcdOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Etcd{kv: kv, opts: o}
}

// Map 返回命名映射。
func (e *Etcd) Map(name string) Map {
	return &etcdMap{kv: e.kv, name: name, root: e.opts.keyPrefix + name + "/"}
}

// Health 读取一次前缀下的计数以确认连通。
func (e *Etcd) Health(ctx context.Context) error {
	if _, err := e.kv.Get(ctx, e.opts.keyPrefix, clientv3.WithPrefix(), clientv3.WithCountOnly()); err != nil {
		return fmt.Errorf("xkv: etcd health: %w", err)
	}
	return nil
}

// Close 无操作，client 由调用方关闭。
func (e *Etcd) Close(context.Context) error {
	return nil
}

type etcdMap struct {
	kv   etcdKV
	name string
	root string
}

func (m *etcdMap) Name() string { return m.name }

func (m *etcdMap) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	resp, err := m.kv.Get(ctx, m.root+key)
	if err != nil {
		return nil, fmt.Errorf("xkv: etcd get %s %q: %w", m.name, key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	return resp.Kvs[0].Value, nil
}

func (m *etcdMap) Put(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if _, err := m.kv.Put(ctx, m.root+key, string(value)); err != nil {
		return fmt.Errorf("xkv: etcd put %s %q: %w", m.name, key, err)
	}
	return nil
}

func (m *etcdMap) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	full := m.root + key
	resp, err := m.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(full), "=", 0)).
		Then(clientv3.OpPut(full, string(value))).
		Commit()
	if err != nil {
		return false, fmt.Errorf("xkv: etcd txn %s %q: %w", m.name, key, err)
	}
	return resp.Succeeded, nil
}

func (m *etcdMap) Delete(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	resp, err := m.kv.Delete(ctx, m.root+key)
	if err != nil {
		return false, fmt.Errorf("xkv: etcd delete %s %q: %w", m.name, key, err)
	}
	return resp.Deleted > 0, nil
}

func (m *etcdMap) Scan(ctx context.Context, prefix string) (map[string][]byte, error) {
	resp, err := m.kv.Get(ctx, m.root+prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("xkv: etcd scan %s %q: %w", m.name, prefix, err)
	}
	out := make(map[string][]byte, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out[strings.TrimPrefix(string(kv.Key), m.root)] = kv.Value
	}
	return out, nil
}

func (m *etcdMap) Keys(ctx context.Context, prefix string) ([]string, error) {
	resp, err := m.kv.Get(ctx, m.root+prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("xkv: etcd keys %s %q: %w", m.name, prefix, err)
	}
	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keys = append(keys, strings.TrimPrefix(string(kv.Key), m.root))
	}
	return sortedUnique(keys), nil
}

func (m *etcdMap) Len(ctx context.Context) (int, error) {
	resp, err := m.kv.Get(ctx, m.root, clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return 0, fmt.Errorf("xkv: etcd count %s: %w", m.name, err)
	}
	return int(resp.Count), nil
}

func (m *etcdMap) Clear(ctx context.Context) error {
	if _, err := m.kv.Delete(ctx, m.root, clientv3.WithPrefix()); err != nil {
		return fmt.Errorf("xkv: etcd clear %s: %w", m.name, err)
	}
	return nil
}
