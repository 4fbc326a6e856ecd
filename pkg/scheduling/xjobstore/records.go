package xjobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/omeyang/xjobstore/pkg/scheduling/xjob"
	"github.com/omeyang/xjobstore/pkg/storage/xkv"
)

// 存储基座中的映射名。
const (
	mapJobs                = "jobs"
	mapTriggers            = "triggers"
	mapJobTriggers         = "job-triggers"
	mapCalendars           = "calendars"
	mapPausedTriggerGroups = "paused-trigger-groups"
	mapPausedJobGroups     = "paused-job-groups"
	mapBlockedJobs         = "blocked-jobs"
	mapSchedulerState      = "scheduler-state"
)

// triggerRecord 触发器在存储中的形态：Trigger 本身加上状态簿记。
type triggerRecord struct {
	Trigger    *xjob.Trigger     `json:"trigger"`
	State      xjob.TriggerState `json:"state"`
	AcquiredBy string            `json:"acquiredBy,omitempty"`
	AcquiredAt *time.Time        `json:"acquiredAt,omitempty"`
}

func (r *triggerRecord) key() string {
	return r.Trigger.Key.Encode()
}

func (r *triggerRecord) clearAcquisition() {
	r.AcquiredBy = ""
	r.AcquiredAt = nil
}

// blockRecord 不允许并发的 Job 当前被哪个触发器占用。
type blockRecord struct {
	Trigger xjob.TriggerKey `json:"trigger"`
	Node    string          `json:"node"`
	Since   time.Time       `json:"since"`
}

// SchedulerState 节点在集群中登记的调度器状态。
type SchedulerState string

const (
	SchedulerStateStarted SchedulerState = "STARTED"
	SchedulerStatePaused  SchedulerState = "PAUSED"
	SchedulerStateStopped SchedulerState = "STOPPED"
)

// NodeStatus 集群中一个节点的登记信息。
type NodeStatus struct {
	Node      string         `json:"node"`
	State     SchedulerState `json:"state"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// jobTriggerKey 作业到触发器的索引 key，同一作业的触发器共享前缀 jobTriggerPrefix(job)。
func jobTriggerKey(job xjob.JobKey, trigger xjob.TriggerKey) string {
	return jobTriggerPrefix(job) + trigger.Encode()
}

func jobTriggerPrefix(job xjob.JobKey) string {
	return job.Encode() + "/"
}

// =============================================================================
// 编解码
// =============================================================================

func encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return b, nil
}

func decode[T any](key string, b []byte) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(b, v); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptRecord, key, err)
	}
	return v, nil
}

// load 读取并解码，key 不存在时返回 (nil, nil)。
func load[T any](ctx context.Context, m xkv.Map, key string) (*T, error) {
	b, err := m.Get(ctx, key)
	if errors.Is(err, xkv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode[T](m.Name()+"/"+key, b)
}

// loadAll 读取前缀下的全部记录。
func loadAll[T any](ctx context.Context, m xkv.Map, prefix string) (map[string]*T, error) {
	raw, err := m.Scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*T, len(raw))
	for k, b := range raw {
		v, err := decode[T](m.Name()+"/"+k, b)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func exists(ctx context.Context, m xkv.Map, key string) (bool, error) {
	_, err := m.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, xkv.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
