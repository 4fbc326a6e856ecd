// Package storage 提供数据存储相关的子包。
//
// 子包列表：
//   - xkv: 集群共享的命名键值映射，支持内存、Redis、etcd、MongoDB 后端
//
// 设计原则：
//   - 只提供单 key 原子操作，跨 key 一致性交给 xdlock
//   - 客户端由调用方创建和关闭
package storage
