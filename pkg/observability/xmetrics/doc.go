// Package xmetrics 提供作业存储的观测接口（tracing + metrics）。
//
// 存储只依赖 Observer/Span；默认实现基于 OpenTelemetry，
// 未配置时使用 [NoopObserver]。
//
// 使用示例：
//
//	obs, _ := xmetrics.NewOTelObserver(xmetrics.WithMeterProvider(mp))
//	ctx, span := xmetrics.Start(ctx, obs, xmetrics.SpanOptions{
//		Component: "xjobstore",
//		Operation: "acquire_next_triggers",
//	})
//	defer func() { span.End(xmetrics.Result{Err: err, Items: len(acquired)}) }()
//
// 指标：
//   - xjobstore.operation.total     次数，属性 component/operation/status
//   - xjobstore.operation.duration  耗时（秒）
//   - xjobstore.operation.items     操作涉及的条目数（Result.Items > 0 时记录）
package xmetrics
