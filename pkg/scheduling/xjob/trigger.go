package xjob

import (
	"fmt"
	"maps"
	"time"
)

// DefaultPriority 未指定优先级时的默认值。
const DefaultPriority = 5

// MisfireIgnorePolicy 误触发指令：忽略误触发，存储层不会对其做误触发检测。
// 其余指令值对存储层不透明，原样交给外部计算器解释。
const MisfireIgnorePolicy = -1

// ScheduleKind 调度类型标签。
type ScheduleKind string

const (
	// KindSimple 固定间隔重复。
	KindSimple ScheduleKind = "simple"
	// KindCron cron 表达式。
	KindCron ScheduleKind = "cron"
)

// RepeatIndefinitely SimpleSchedule.RepeatCount 取此值表示无限重复。
const RepeatIndefinitely = -1

// SimpleSchedule 固定间隔调度参数。
type SimpleSchedule struct {
	RepeatInterval time.Duration `json:"repeatInterval"`
	RepeatCount    int           `json:"repeatCount"`
	TimesTriggered int           `json:"timesTriggered,omitempty"`
}

// CronSchedule cron 调度参数。
type CronSchedule struct {
	Expression string `json:"expression"`
	TimeZone   string `json:"timeZone,omitempty"`
}

// Schedule 调度参数的标签变体，Kind 决定哪个字段有效。
// 获取引擎只关心 Trigger 的 NextFireTime、Priority 与 Key，
// Schedule 的解释交给外部的触发时间计算器。
type Schedule struct {
	Kind   ScheduleKind    `json:"kind"`
	Simple *SimpleSchedule `json:"simple,omitempty"`
	Cron   *CronSchedule   `json:"cron,omitempty"`
}

// NewSimpleSchedule 创建固定间隔调度。
func NewSimpleSchedule(interval time.Duration, repeatCount int) Schedule {
	return Schedule{
		Kind:   KindSimple,
		Simple: &SimpleSchedule{RepeatInterval: interval, RepeatCount: repeatCount},
	}
}

// NewCronSchedule 创建 cron 调度。
func NewCronSchedule(expression, timeZone string) Schedule {
	return Schedule{
		Kind: KindCron,
		Cron: &CronSchedule{Expression: expression, TimeZone: timeZone},
	}
}

// Validate 检查标签与参数是否匹配。
func (s Schedule) Validate() error {
	switch s.Kind {
	case KindSimple:
		if s.Simple == nil {
			return fmt.Errorf("%w: simple schedule without parameters", ErrInvalidSchedule)
		}
		if s.Simple.RepeatCount < RepeatIndefinitely {
			return fmt.Errorf("%w: repeat count %d", ErrInvalidSchedule, s.Simple.RepeatCount)
		}
		if s.Simple.RepeatCount != 0 && s.Simple.RepeatInterval <= 0 {
			return fmt.Errorf("%w: repeating schedule needs a positive interval", ErrInvalidSchedule)
		}
	case KindCron:
		if s.Cron == nil || s.Cron.Expression == "" {
			return fmt.Errorf("%w: cron schedule without expression", ErrInvalidSchedule)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}
	return nil
}

func (s Schedule) clone() Schedule {
	c := s
	if s.Simple != nil {
		v := *s.Simple
		c.Simple = &v
	}
	if s.Cron != nil {
		v := *s.Cron
		c.Cron = &v
	}
	return c
}

// Trigger 触发规则，必须引用一个存在的 Job。
//
// 状态（WAITING、ACQUIRED 等）由存储层维护，不在 Trigger 上。
// FireInstanceID 在被获取时由存储层分配。
type Trigger struct {
	Key                TriggerKey `json:"key"`
	JobKey             JobKey     `json:"jobKey"`
	Description        string     `json:"description,omitempty"`
	CalendarName       string     `json:"calendarName,omitempty"`
	Priority           int        `json:"priority"`
	MisfireInstruction int        `json:"misfireInstruction,omitempty"`

	StartTime        time.Time  `json:"startTime"`
	EndTime          *time.Time `json:"endTime,omitempty"`
	NextFireTime     *time.Time `json:"nextFireTime,omitempty"`
	PreviousFireTime *time.Time `json:"previousFireTime,omitempty"`

	FireInstanceID string            `json:"fireInstanceId,omitempty"`
	Data           map[string]string `json:"data,omitempty"`
	Schedule       Schedule          `json:"schedule"`
}

// Validate 检查必填字段与调度参数。
func (t *Trigger) Validate() error {
	if t == nil {
		return ErrNilTrigger
	}
	if err := t.Key.Validate(); err != nil {
		return fmt.Errorf("trigger key: %w", err)
	}
	if err := t.JobKey.Validate(); err != nil {
		return fmt.Errorf("job key: %w", err)
	}
	if t.EndTime != nil && t.EndTime.Before(t.StartTime) {
		return fmt.Errorf("%w: end time before start time", ErrInvalidSchedule)
	}
	return t.Schedule.Validate()
}

// Clone 返回深拷贝。
func (t *Trigger) Clone() *Trigger {
	if t == nil {
		return nil
	}
	c := *t
	c.EndTime = cloneTime(t.EndTime)
	c.NextFireTime = cloneTime(t.NextFireTime)
	c.PreviousFireTime = cloneTime(t.PreviousFireTime)
	c.Data = maps.Clone(t.Data)
	c.Schedule = t.Schedule.clone()
	return &c
}

// MayFireAgain 是否还有下一次触发。
func (t *Trigger) MayFireAgain() bool {
	return t.NextFireTime != nil
}

// Less 获取顺序：NextFireTime 升序（nil 最后），Priority 降序，Key 升序。
func Less(a, b *Trigger) bool {
	return Compare(a, b) < 0
}

// Compare 返回 [Less] 所定义顺序下的比较结果。
func Compare(a, b *Trigger) int {
	switch {
	case a.NextFireTime == nil && b.NextFireTime != nil:
		return 1
	case a.NextFireTime != nil && b.NextFireTime == nil:
		return -1
	case a.NextFireTime != nil && b.NextFireTime != nil:
		if c := a.NextFireTime.Compare(*b.NextFireTime); c != 0 {
			return c
		}
	}
	if a.Priority != b.Priority {
		if a.Priority > b.Priority {
			return -1
		}
		return 1
	}
	return a.Key.Compare(b.Key.Key)
}

// TimePtr 返回 t 的指针，便于构造可空时间字段。
func TimePtr(t time.Time) *time.Time {
	return &t
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
