package xlog

import (
	"log/slog"
	"time"
)

// 标准字段名
const (
	KeyError     = "error"
	KeyStack     = "stack"
	KeyDuration  = "duration"
	KeyCount     = "count"
	KeyComponent = "component"
	KeyOperation = "operation"

	KeyNode        = "node"
	KeyLock        = "lock"
	KeyJob         = "job"
	KeyTrigger     = "trigger"
	KeyCalendar    = "calendar"
	KeyState       = "state"
	KeyFireID      = "fire_instance_id"
	KeyInstruction = "instruction"

)

// Err 创建错误属性，err 为 nil 时返回空属性（会被 slog 忽略）。
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Duration 创建耗时属性
func Duration(d time.Duration) slog.Attr {
	return slog.String(KeyDuration, d.String())
}

// Count 创建计数属性
func Count(n int) slog.Attr {
	return slog.Int(KeyCount, n)
}

// Component 创建组件名属性
func Component(name string) slog.Attr {
	return slog.String(KeyComponent, name)
}

// Operation 创建操作名属性
func Operation(name string) slog.Attr {
	return slog.String(KeyOperation, name)
}

// Node 创建节点 ID 属性
func Node(id string) slog.Attr {
	return slog.String(KeyNode, id)
}

// Lock 创建锁名属性
func Lock(name string) slog.Attr {
	return slog.String(KeyLock, name)
}

// Job 创建作业标识属性，key 通常是 "group.name"
func Job(key string) slog.Attr {
	return slog.String(KeyJob, key)
}

// Trigger 创建触发器标识属性
func Trigger(key string) slog.Attr {
	return slog.String(KeyTrigger, key)
}

// Calendar 创建日历名属性
func Calendar(name string) slog.Attr {
	return slog.String(KeyCalendar, name)
}

// State 创建触发器状态属性
func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}

// FireID 创建触发实例 ID 属性
func FireID(id string) slog.Attr {
	return slog.String(KeyFireID, id)
}
