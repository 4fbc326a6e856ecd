package xjobstore

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyExists 目标标识已存在且未要求替换，由 [*AlreadyExistsError] 包装。
	ErrAlreadyExists = errors.New("xjobstore: already exists")

	// ErrPersistence 约束违反或存储层故障，由 [*PersistenceError] 包装。
	ErrPersistence = errors.New("xjobstore: persistence error")

	// ErrNotInitialized 尚未调用 Initialize。
	ErrNotInitialized = errors.New("xjobstore: store not initialized")

	// ErrAlreadyInitialized 重复调用 Initialize。
	ErrAlreadyInitialized = errors.New("xjobstore: store already initialized")

	// ErrNotStarted 尚未调用 SchedulerStarted，不能领取触发器。
	ErrNotStarted = errors.New("xjobstore: scheduler not started")

	// ErrShutdown Store 已关闭。
	ErrShutdown = errors.New("xjobstore: store is shut down")

	// ErrNilStore 存储基座为 nil。
	ErrNilStore = errors.New("xjobstore: kv store is nil")

	// ErrJobNotFound Trigger 引用的 Job 不存在。
	ErrJobNotFound = errors.New("xjobstore: referenced job does not exist")

	// ErrCalendarNotFound Trigger 引用的 Calendar 不存在。
	ErrCalendarNotFound = errors.New("xjobstore: referenced calendar does not exist")

	// ErrCalendarInUse Calendar 仍被 Trigger 引用，不能删除。
	ErrCalendarInUse = errors.New("xjobstore: calendar is referenced by triggers")

	// ErrJobMismatch 新 Trigger 与原 Trigger（或与同时存储的 Job）不属于同一个 Job。
	ErrJobMismatch = errors.New("xjobstore: trigger belongs to a different job")

	// ErrUnresolvableJob JobLoader 无法解析执行描述符。
	ErrUnresolvableJob = errors.New("xjobstore: job descriptor cannot be resolved")

	// ErrDuplicateInBatch 批量存储中出现重复标识。
	ErrDuplicateInBatch = errors.New("xjobstore: duplicate key in batch")

	// ErrCorruptRecord 存储中的记录无法解码。
	ErrCorruptRecord = errors.New("xjobstore: corrupt record")
)

// EntityKind 实体类型，用于指明冲突的实体。
type EntityKind string

const (
	KindJob      EntityKind = "job"
	KindTrigger  EntityKind = "trigger"
	KindCalendar EntityKind = "calendar"
)

// AlreadyExistsError 存储的目标已存在。
type AlreadyExistsError struct {
	Kind EntityKind
	Key  string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("xjobstore: %s %q already exists", e.Kind, e.Key)
}

// Is 使 errors.Is(err, ErrAlreadyExists) 成立。
func (e *AlreadyExistsError) Is(target error) bool {
	return target == ErrAlreadyExists
}

func alreadyExists(kind EntityKind, key string) error {
	return &AlreadyExistsError{Kind: kind, Key: key}
}

// PersistenceError 操作 Op 因 Err 失败。
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("xjobstore: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is 使 errors.Is(err, ErrPersistence) 成立。
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// persistErr 包装为 PersistenceError。AlreadyExists 与生命周期错误原样返回。
func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	var ae *AlreadyExistsError
	switch {
	case errors.As(err, &pe), errors.As(err, &ae),
		errors.Is(err, ErrNotInitialized), errors.Is(err, ErrNotStarted), errors.Is(err, ErrShutdown):
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
