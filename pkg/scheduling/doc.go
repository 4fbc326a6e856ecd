// Package scheduling 提供调度器持久化相关的子包。
//
// 子包列表：
//   - xjob: 作业、触发器、日历的领域模型与状态
//   - xschedule: 下次触发时间计算与日历排除
//   - xjobstore: 集群作业存储，负责触发器获取、触发与完成
package scheduling
