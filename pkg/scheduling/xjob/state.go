package xjob

// TriggerState 触发器在存储中的状态。
type TriggerState string

const (
	// StateNone 触发器不存在（仅作为查询结果）。
	StateNone TriggerState = "NONE"
	// StateWaiting 等待触发，可被获取。
	StateWaiting TriggerState = "WAITING"
	// StateAcquired 已被某个节点获取，等待触发或释放。
	StateAcquired TriggerState = "ACQUIRED"
	// StatePaused 已暂停。
	StatePaused TriggerState = "PAUSED"
	// StatePausedBlocked 已暂停，且所属作业正在执行且不允许并发。
	StatePausedBlocked TriggerState = "PAUSED_BLOCKED"
	// StateBlocked 所属作业正在执行且不允许并发。
	StateBlocked TriggerState = "BLOCKED"
	// StateComplete 不会再触发。
	StateComplete TriggerState = "COMPLETE"
	// StateError 触发过程中出错，需人工恢复。
	StateError TriggerState = "ERROR"
)

// IsValid 检查是否为已知状态（不含 StateNone）。
func (s TriggerState) IsValid() bool {
	switch s {
	case StateWaiting, StateAcquired, StatePaused, StatePausedBlocked,
		StateBlocked, StateComplete, StateError:
		return true
	default:
		return false
	}
}

// IsPaused 是否处于暂停类状态。
func (s TriggerState) IsPaused() bool {
	return s == StatePaused || s == StatePausedBlocked
}

// String 实现 fmt.Stringer。
func (s TriggerState) String() string {
	return string(s)
}
