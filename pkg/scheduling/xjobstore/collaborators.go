package xjobstore

import (
	"context"
	"time"

	"github.com/omeyang/xjobstore/pkg/scheduling/xjob"
)

//go:generate mockgen -source=collaborators.go -destination=mock_collaborators_test.go -package=xjobstore

// JobLoader 解析 Job 的执行描述符。
//
// 描述符对 Store 不透明。StoreJob 时用它校验描述符可解析，
// TriggersFired 时把解析结果随 [FiredBundle] 交给调度器。
type JobLoader interface {
	Resolve(ctx context.Context, descriptor string) (any, error)
}

// JobLoaderFunc 函数形式的 JobLoader。
type JobLoaderFunc func(ctx context.Context, descriptor string) (any, error)

// Resolve 实现 JobLoader。
func (f JobLoaderFunc) Resolve(ctx context.Context, descriptor string) (any, error) {
	return f(ctx, descriptor)
}

// Signaler 接收 Store 产生的调度事件。调用是即发即弃的，Store 不关心结果。
type Signaler interface {
	// NotifyTriggerMisfired Trigger 错过触发时间，已按误触发指令调整。
	NotifyTriggerMisfired(ctx context.Context, trigger *xjob.Trigger)
	// NotifyTriggerFinalized Trigger 不会再触发。
	NotifyTriggerFinalized(ctx context.Context, trigger *xjob.Trigger)
	// NotifySchedulingChange 调度数据变化，candidate 为可能更早的下次触发时间（可为 nil）。
	NotifySchedulingChange(ctx context.Context, candidate *time.Time)
	// NotifyStoreError Store 在后台处理中遇到错误。
	NotifyStoreError(ctx context.Context, msg string, err error)
}

// FireTimeCalculator 解释 Trigger 的调度参数，计算下次触发时间。
// 默认实现见 xschedule.Calculator。
type FireTimeCalculator interface {
	// Triggered 推进已触发的 Trigger。
	Triggered(t *xjob.Trigger, cal *xjob.Calendar) error
	// UpdateAfterMisfire 按误触发指令调整 Trigger。
	UpdateAfterMisfire(t *xjob.Trigger, cal *xjob.Calendar, now time.Time) error
	// UpdateWithNewCalendar 日历变更后重新计算。
	UpdateWithNewCalendar(t *xjob.Trigger, cal *xjob.Calendar, now time.Time) error
}

// acceptAll 未提供 JobLoader 时使用：描述符原样作为解析结果。
type acceptAll struct{}

func (acceptAll) Resolve(_ context.Context, descriptor string) (any, error) {
	return descriptor, nil
}

// nopSignaler 未提供 Signaler 时使用。
type nopSignaler struct{}

func (nopSignaler) NotifyTriggerMisfired(context.Context, *xjob.Trigger) {}
func (nopSignaler) NotifyTriggerFinalized(context.Context, *xjob.Trigger) {}
func (nopSignaler) NotifySchedulingChange(context.Context, *time.Time) {}
func (nopSignaler) NotifyStoreError(context.Context, string, error) {}
