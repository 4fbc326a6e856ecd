package xschedule

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/robfig/cron/v3"

	"github.com/omeyang/xjobstore/pkg/scheduling/xjob"
)

// 误触发指令。-1 为 [xjob.MisfireIgnorePolicy]。
const (
	MisfireSmart     = 0
	MisfireFireNow   = 1
	MisfireDoNothing = 2
)

// Calculator 默认的触发时间计算器，并发安全。
type Calculator struct {
	opts  *options
	cache *lru.Cache[string, cron.Schedule]
}

// New 创建计算器。
func New(opts ...Option) *Calculator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	// 仅在 size <= 0 时返回错误，options 已保证为正
	cache, _ := lru.New[string, cron.Schedule](o.cacheSize)
	return &Calculator{opts: o, cache: cache}
}

// Validate 检查 Trigger 的调度参数能否被解释。
func (c *Calculator) Validate(t *xjob.Trigger) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.Schedule.Kind == xjob.KindCron {
		if _, _, err := c.cronSchedule(t.Schedule.Cron); err != nil {
			return err
		}
	}
	return nil
}

// FirstFireTime 返回不早于 StartTime 且未被日历排除的第一次触发时间。
func (c *Calculator) FirstFireTime(t *xjob.Trigger, cal *xjob.Calendar) (*time.Time, error) {
	return c.next(t, t.StartTime, true, cal)
}

// FireTimeAfter 返回严格晚于 after 的下一次触发时间，不考虑日历。
func (c *Calculator) FireTimeAfter(t *xjob.Trigger, after time.Time) (*time.Time, error) {
	return c.next(t, after, false, nil)
}

// Triggered Trigger 被触发后推进：PreviousFireTime 取本次时间，NextFireTime 取下一次。
func (c *Calculator) Triggered(t *xjob.Trigger, cal *xjob.Calendar) error {
	fired := t.NextFireTime
	if fired == nil {
		return nil
	}
	if t.Schedule.Simple != nil {
		t.Schedule.Simple.TimesTriggered++
	}
	next, err := c.next(t, *fired, false, cal)
	if err != nil {
		return err
	}
	t.PreviousFireTime = xjob.TimePtr(*fired)
	t.NextFireTime = next
	return nil
}

// UpdateAfterMisfire 按 MisfireInstruction 调整错过的 NextFireTime。
func (c *Calculator) UpdateAfterMisfire(t *xjob.Trigger, cal *xjob.Calendar, now time.Time) error {
	switch t.MisfireInstruction {
	case xjob.MisfireIgnorePolicy:
		return nil
	case MisfireDoNothing:
		next, err := c.next(t, now, false, cal)
		if err != nil {
			return err
		}
		t.NextFireTime = next
	default:
		if t.EndTime != nil && now.After(*t.EndTime) {
			t.NextFireTime = nil
			return nil
		}
		t.NextFireTime = xjob.TimePtr(now)
	}
	return nil
}

// UpdateWithNewCalendar 日历变更后重新计算 NextFireTime。
// 从上次触发（或 StartTime）起重新推算，结果早于 now 时从 now 起推算。
func (c *Calculator) UpdateWithNewCalendar(t *xjob.Trigger, cal *xjob.Calendar, now time.Time) error {
	var (
		next *time.Time
		err  error
	)
	if t.PreviousFireTime != nil {
		next, err = c.next(t, *t.PreviousFireTime, false, cal)
	} else {
		next, err = c.next(t, t.StartTime, true, cal)
	}
	if err != nil {
		return err
	}
	if next != nil && next.Before(now) {
		next, err = c.next(t, now, true, cal)
		if err != nil {
			return err
		}
	}
	t.NextFireTime = next
	return nil
}

// next 返回 after 之后（inclusive 时含 after）第一个未被排除的触发时间，没有时返回 nil。
func (c *Calculator) next(t *xjob.Trigger, after time.Time, inclusive bool, cal *xjob.Calendar) (*time.Time, error) {
	ex, err := parseCalendar(cal)
	if err != nil {
		return nil, err
	}

	cand, err := c.raw(t, after, inclusive)
	for i := 0; err == nil && cand != nil && ex.excludes(*cand); i++ {
		if i >= c.opts.maxIterations {
			return nil, nil
		}
		cand, err = c.raw(t, *cand, false)
	}
	return cand, err
}

func (c *Calculator) raw(t *xjob.Trigger, after time.Time, inclusive bool) (*time.Time, error) {
	if after.Before(t.StartTime) {
		after, inclusive = t.StartTime, true
	}

	var (
		cand *time.Time
		err  error
	)
	switch t.Schedule.Kind {
	case xjob.KindSimple:
		cand = simpleNext(t, after, inclusive)
	case xjob.KindCron:
		cand, err = c.cronNext(t, after, inclusive)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSchedule, t.Schedule.Kind)
	}
	if err != nil || cand == nil {
		return nil, err
	}
	if t.EndTime != nil && cand.After(*t.EndTime) {
		return nil, nil
	}
	return cand, nil
}

// simpleNext 在 StartTime + k*interval 网格上取下一个点，after 不早于 StartTime。
func simpleNext(t *xjob.Trigger, after time.Time, inclusive bool) *time.Time {
	s := t.Schedule.Simple
	if s == nil {
		return nil
	}
	elapsed := after.Sub(t.StartTime)
	if elapsed == 0 && inclusive {
		return xjob.TimePtr(t.StartTime)
	}
	if s.RepeatCount == 0 || s.RepeatInterval <= 0 {
		return nil
	}

	k := int64(elapsed/s.RepeatInterval) + 1
	if inclusive && elapsed%s.RepeatInterval == 0 {
		k--
	}
	if s.RepeatCount != xjob.RepeatIndefinitely && k > int64(s.RepeatCount) {
		return nil
	}
	return xjob.TimePtr(t.StartTime.Add(time.Duration(k) * s.RepeatInterval))
}

func (c *Calculator) cronNext(t *xjob.Trigger, after time.Time, inclusive bool) (*time.Time, error) {
	sched, loc, err := c.cronSchedule(t.Schedule.Cron)
	if err != nil {
		return nil, err
	}
	if inclusive {
		after = after.Add(-time.Nanosecond)
	}
	next := sched.Next(after.In(loc))
	if next.IsZero() {
		return nil, nil
	}
	return &next, nil
}

func (c *Calculator) cronSchedule(s *xjob.CronSchedule) (cron.Schedule, *time.Location, error) {
	if s == nil || s.Expression == "" {
		return nil, nil, fmt.Errorf("%w: empty", ErrInvalidExpression)
	}
	loc := time.UTC
	if s.TimeZone != "" {
		l, err := time.LoadLocation(s.TimeZone)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %q: %w", ErrInvalidTimeZone, s.TimeZone, err)
		}
		loc = l
	}

	if sched, ok := c.cache.Get(s.Expression); ok {
		return sched, loc, nil
	}
	sched, err := c.opts.parser.Parse(s.Expression)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %q: %w", ErrInvalidExpression, s.Expression, err)
	}
	c.cache.Add(s.Expression, sched)
	return sched, loc, nil
}
