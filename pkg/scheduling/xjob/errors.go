package xjob

import "errors"

var (
	// ErrEmptyName 标识的 name 为空或仅含空白。
	ErrEmptyName = errors.New("xjob: name must not be empty")

	// ErrEmptyGroup 标识的 group 为空。通过 NewKey 创建的 Key 不会触发此错误。
	ErrEmptyGroup = errors.New("xjob: group must not be empty")

	// ErrMalformedKey 编码后的 key 无法解析。
	ErrMalformedKey = errors.New("xjob: malformed key")

	// ErrNilJob 传入的 Job 为 nil。
	ErrNilJob = errors.New("xjob: job is nil")

	// ErrNilTrigger 传入的 Trigger 为 nil。
	ErrNilTrigger = errors.New("xjob: trigger is nil")

	// ErrNilCalendar 传入的 Calendar 为 nil。
	ErrNilCalendar = errors.New("xjob: calendar is nil")

	// ErrInvalidSchedule 调度参数不合法（未知类型、缺少参数、结束时间早于开始时间等）。
	ErrInvalidSchedule = errors.New("xjob: invalid schedule")
)
