// Package xjob 定义集群作业存储共享的标识与数据模型。
//
// # 核心类型
//
//   - [JobKey] / [TriggerKey]: name + group 二元组，按实体种类唯一
//   - [Job]: 作业定义，执行描述符对存储层不透明
//   - [Trigger]: 绑定到单个 Job 的触发规则，调度参数用 [Schedule] 标签变体表示
//   - [Calendar]: 按名称引用的排除规则，内容不透明
//   - [TriggerState]: 触发器在存储中的可变状态
//
// # 排序
//
// 获取触发器时使用 [Less] 定义的全序：nextFireTime 升序（nil 最后），
// 优先级降序，最后按 key 字典序，保证结果确定。
//
// # 存储编码
//
// [Key.Encode] 输出 escape(group) + "/" + escape(name)，组名即前缀，
// 后端可以用前缀扫描完成按组查询，无需额外索引结构。
package xjob
