// Package distributed 提供分布式协调相关的子包。
//
// 子包列表：
//   - xdlock: 命名分布式锁与按固定顺序加锁的管理器，支持内存、Redis、etcd、K8s 后端
//
// 设计原则：
//   - 统一的锁接口，作业存储只依赖 Locker
//   - 锁带租约，持有者崩溃后自动过期
package distributed
