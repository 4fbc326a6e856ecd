package xschedule

import "errors"

var (
	// ErrInvalidExpression cron 表达式无法解析。
	ErrInvalidExpression = errors.New("xschedule: invalid cron expression")

	// ErrInvalidTimeZone 时区名称无法加载。
	ErrInvalidTimeZone = errors.New("xschedule: invalid time zone")

	// ErrUnsupportedCalendar 日历 Kind 无法识别或 Data 格式错误。
	ErrUnsupportedCalendar = errors.New("xschedule: unsupported calendar")

	// ErrUnsupportedSchedule 调度类型无法识别。
	ErrUnsupportedSchedule = errors.New("xschedule: unsupported schedule kind")
)
