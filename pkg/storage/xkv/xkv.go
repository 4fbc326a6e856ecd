package xkv

import (
	"context"
	"slices"
	"strings"
)

// Map 命名键值映射，所有方法都是并发安全的，且对单个 key 线性一致。
type Map interface {
	// Name 返回映射名。
	Name() string

	// Get 读取 key 对应的值。key 不存在时返回 [ErrNotFound]。
	Get(ctx context.Context, key string) ([]byte, error)

	// Put 无条件写入。
	Put(ctx context.Context, key string, value []byte) error

	// PutIfAbsent 仅当 key 不存在时写入，返回是否写入成功。
	// 这是"检查存在再插入"的原子版本。
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)

	// Delete 删除 key，返回删除前 key 是否存在。
	Delete(ctx context.Context, key string) (bool, error)

	// Scan 返回以 prefix 开头的所有键值，prefix 为空时返回全部。
	// 一次性加载到内存，适用于作业存储这类中小规模数据集。
	Scan(ctx context.Context, prefix string) (map[string][]byte, error)

	// Keys 返回以 prefix 开头的所有 key。
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Len 返回 key 数量。
	Len(ctx context.Context) (int, error)

	// Clear 删除映射中的全部 key。
	Clear(ctx context.Context) error
}

// Store 映射的集合，对应一个共享的存储基座。
type Store interface {
	// Map 返回命名映射。同名映射在所有共享该基座的节点间是同一份数据。
	Map(name string) Map

	// Health 检查底层连接。
	Health(ctx context.Context) error

	// Close 释放本节点持有的连接资源，不删除数据。
	// 外部传入的客户端由调用方管理，不会被关闭。
	Close(ctx context.Context) error
}

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}

func hasPrefix(key, prefix string) bool {
	return prefix == "" || strings.HasPrefix(key, prefix)
}

func sortedUnique(keys []string) []string {
	slices.Sort(keys)
	return slices.Compact(keys)
}
