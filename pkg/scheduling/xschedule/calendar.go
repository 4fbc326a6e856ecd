package xschedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/omeyang/xjobstore/pkg/scheduling/xjob"
)

// 日历类型。
const (
	CalendarDates  = "dates"
	CalendarWeekly = "weekly"
)

// 日历 Data 中的保留键。
const (
	CalendarKeyTimeZone = "timeZone"
	CalendarKeyDays     = "days"
)

const dateLayout = "2006-01-02"

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// exclusion 已解析的日历。
type exclusion struct {
	loc   *time.Location
	dates map[string]struct{}
	days  [7]bool
}

// parseCalendar 解析日历，nil 或空 Kind 返回 nil（不排除任何时间）。
func parseCalendar(cal *xjob.Calendar) (*exclusion, error) {
	if cal == nil || cal.Kind == "" {
		return nil, nil
	}

	loc := time.UTC
	if tz := cal.Data[CalendarKeyTimeZone]; tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%w: calendar %s: %w", ErrInvalidTimeZone, cal.Name, err)
		}
		loc = l
	}
	ex := &exclusion{loc: loc}

	switch cal.Kind {
	case CalendarDates:
		ex.dates = make(map[string]struct{}, len(cal.Data))
		for k := range cal.Data {
			if k == CalendarKeyTimeZone {
				continue
			}
			if _, err := time.Parse(dateLayout, k); err != nil {
				return nil, fmt.Errorf("%w: calendar %s: date %q", ErrUnsupportedCalendar, cal.Name, k)
			}
			ex.dates[k] = struct{}{}
		}
	case CalendarWeekly:
		for _, d := range strings.Split(cal.Data[CalendarKeyDays], ",") {
			d = strings.ToLower(strings.TrimSpace(d))
			if d == "" {
				continue
			}
			wd, ok := weekdays[d]
			if !ok {
				return nil, fmt.Errorf("%w: calendar %s: weekday %q", ErrUnsupportedCalendar, cal.Name, d)
			}
			ex.days[wd] = true
		}
	default:
		return nil, fmt.Errorf("%w: calendar %s: kind %q", ErrUnsupportedCalendar, cal.Name, cal.Kind)
	}
	return ex, nil
}

func (e *exclusion) excludes(t time.Time) bool {
	if e == nil {
		return false
	}
	local := t.In(e.loc)
	if e.days[local.Weekday()] {
		return true
	}
	_, ok := e.dates[local.Format(dateLayout)]
	return ok
}

// Excludes 判断 t 是否被日历排除。
func Excludes(cal *xjob.Calendar, t time.Time) (bool, error) {
	ex, err := parseCalendar(cal)
	if err != nil {
		return false, err
	}
	return ex.excludes(t), nil
}

// ValidateCalendar 检查日历能否被本计算器解释。
func ValidateCalendar(cal *xjob.Calendar) error {
	_, err := parseCalendar(cal)
	return err
}
