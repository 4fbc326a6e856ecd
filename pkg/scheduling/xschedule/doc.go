// Package xschedule 提供默认的触发时间计算器。
//
// 作业存储只关心 Trigger 的 NextFireTime，调度参数的解释集中在这里：
//   - simple: StartTime + k*RepeatInterval，k 不超过 RepeatCount（-1 表示无限）
//   - cron: 由 robfig/cron/v3 解析，支持可选的秒字段与 @every/@daily 等描述符
//
// 日历（[xjob.Calendar]）按 Kind 解释：
//
//	| Kind     | Data                                   | 排除规则           |
//	|----------|----------------------------------------|--------------------|
//	| ""       | -                                      | 不排除             |
//	| "dates"  | "2026-01-01": "", timeZone: "Asia/..." | 列出的整天         |
//	| "weekly" | days: "sat,sun", timeZone: "..."       | 每周的指定星期几   |
//
// 误触发指令（Trigger.MisfireInstruction）：
//   - [MisfireSmart] / [MisfireFireNow]: 下次触发时间设为当前时间，立即补触发一次
//   - [MisfireDoNothing]: 跳过错过的触发，取当前时间之后的下一次
//   - [xjob.MisfireIgnorePolicy]: 不做处理
//
// 使用示例：
//
//	calc := xschedule.New()
//	next, err := calc.FirstFireTime(trigger, nil)
//	trigger.NextFireTime = next
package xschedule
