package xjob

import "maps"

// Job 作业定义。
//
// Descriptor 是执行描述符（类名、处理器名等），对存储层不透明，
// 由外部注入的 JobLoader 解析。Job 被 Trigger 引用但不拥有 Trigger。
type Job struct {
	Key         JobKey `json:"key"`
	Description string `json:"description,omitempty"`
	Descriptor  string `json:"descriptor"`

	// Durable 为 false 时，最后一个 Trigger 被删除后作业随之删除。
	Durable bool `json:"durable,omitempty"`
	// DisallowConcurrent 同一作业同一时刻最多一个 Trigger 处于获取/执行中。
	DisallowConcurrent bool `json:"disallowConcurrent,omitempty"`
	// PersistDataAfterExecution 执行完成后回写 Data。
	PersistDataAfterExecution bool `json:"persistDataAfterExecution,omitempty"`
	// RequestsRecovery 节点崩溃后是否需要重新执行，对存储层仅是数据。
	RequestsRecovery bool `json:"requestsRecovery,omitempty"`

	Data map[string]string `json:"data,omitempty"`
}

// Validate 检查必填字段。
func (j *Job) Validate() error {
	if j == nil {
		return ErrNilJob
	}
	return j.Key.Validate()
}

// Clone 返回深拷贝。
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Data = maps.Clone(j.Data)
	return &c
}
