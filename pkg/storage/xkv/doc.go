// Package xkv 提供集群节点共享的键值分组映射（group map）抽象。
//
// 作业存储把 Job、Trigger、Calendar 等记录放在若干命名映射中，
// 每个映射只需要单 key 原子操作：Get、Put、PutIfAbsent、Delete，
// 以及按前缀扫描（用于按组查询）。跨 key 的原子性由 xdlock 的命名锁保证，
// 不在本包范围内。
//
// # 后端
//
//   - [NewMemory]: 进程内实现，多个节点共享同一个 *Memory 即可模拟集群
//   - [NewRedis]: 每个映射是一个 Redis Hash，PutIfAbsent 使用 HSETNX，
//     可选 gobreaker 熔断保护
//   - [NewEtcd]: 每个映射是一个 key 前缀，PutIfAbsent 使用
//     Txn(CreateRevision == 0) 比较并写入
//   - [NewMongo]: 每个映射是一个集合，PutIfAbsent 依赖 _id 唯一约束
//
// # 错误
//
// Get 对不存在的 key 返回 [ErrNotFound]；Delete 对不存在的 key 返回
// (false, nil)，重复删除是安全的。
package xkv
