package xjobstore

import (
	"context"
	"slices"

	"github.com/omeyang/xjobstore/pkg/observability/xmetrics"
	"github.com/omeyang/xjobstore/pkg/scheduling/xjob"
	"github.com/omeyang/xjobstore/pkg/storage/xkv"
)

// 查询均不加锁，返回调用时刻的快照。

// JobKeys 返回 group 中的作业标识，group 为空时返回全部。按组、名称排序。
func (s *Store) JobKeys(ctx context.Context, group string) (keys []xjob.JobKey, err error) {
	ctx, span, err := s.begin(ctx, opQuery)
	if err != nil {
		return nil, err
	}
	defer func() { span.End(xmetrics.Result{Err: err, Items: len(keys)}) }()

	raw, err := decodeKeys(ctx, s.jobs, group)
	if err != nil {
		return nil, persistErr(opQuery, err)
	}
	keys = make([]xjob.JobKey, len(raw))
	for i, k := range raw {
		keys[i] = xjob.JobKey{Key: k}
	}
	return keys, nil
}

// TriggerKeys 返回 group 中的触发器标识，group 为空时返回全部。按组、名称排序。
func (s *Store) TriggerKeys(ctx context.Context, group string) (keys []xjob.TriggerKey, err error) {
	ctx, span, err := s.begin(ctx, opQuery)
	if err != nil {
		return nil, err
	}
	defer func() { span.End(xmetrics.Result{Err: err, Items: len(keys)}) }()

	raw, err := decodeKeys(ctx, s.triggers, group)
	if err != nil {
		return nil, persistErr(opQuery, err)
	}
	keys = make([]xjob.TriggerKey, len(raw))
	for i, k := range raw {
		keys[i] = xjob.TriggerKey{Key: k}
	}
	return keys, nil
}

// JobGroupNames 返回存在作业的组名（已排序）。
func (s *Store) JobGroupNames(ctx context.Context) (groups []string, err error) {
	ctx, span, err := s.begin(ctx, opQuery)
	if err != nil {
		return nil, err
	}
	defer func() { span.End(xmetrics.Result{Err: err, Items: len(groups)}) }()

	groups, err = groupNames(ctx, s.jobs)
	return groups, persistErr(opQuery, err)
}

// TriggerGroupNames 返回存在触发器的组名（已排序）。
func (s *Store) TriggerGroupNames(ctx context.Context) (groups []string, err error) {
	ctx, span, err := s.begin(ctx, opQuery)
	if err != nil {
		return nil, err
	}
	defer func() { span.End(xmetrics.Result{Err: err, Items: len(groups)}) }()

	groups, err = groupNames(ctx, s.triggers)
	return groups, persistErr(opQuery, err)
}

// CalendarNames 返回全部日历名（已排序）。
func (s *Store) CalendarNames(ctx context.Context) (names []string, err error) {
	ctx, span, err := s.begin(ctx, opQuery)
	if err != nil {
		return nil, err
	}
	defer func() { span.End(xmetrics.Result{Err: err, Items: len(names)}) }()

	names, err = s.calendars.Keys(ctx, "")
	return names, persistErr(opQuery, err)
}

// TriggersForJob 返回引用该作业的触发器副本，按获取顺序排序。
func (s *Store) TriggersForJob(ctx context.Context, key xjob.JobKey) (triggers []*xjob.Trigger, err error) {
	ctx, span, err := s.begin(ctx, opQuery)
	if err != nil {
		return nil, err
	}
	defer func() { span.End(xmetrics.Result{Err: err, Items: len(triggers)}) }()

	recs, err := s.recordsForJob(ctx, key)
	if err != nil {
		return nil, persistErr(opQuery, err)
	}
	triggers = make([]*xjob.Trigger, len(recs))
	for i, rec := range recs {
		triggers[i] = rec.Trigger
	}
	slices.SortFunc(triggers, xjob.Compare)
	return triggers, nil
}

// TriggerState 返回触发器状态，不存在时返回 [xjob.StateNone]。
func (s *Store) TriggerState(ctx context.Context, key xjob.TriggerKey) (state xjob.TriggerState, err error) {
	ctx, span, err := s.begin(ctx, opQuery)
	if err != nil {
		return xjob.StateNone, err
	}
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	rec, err := s.loadTrigger(ctx, key)
	if err != nil {
		return xjob.StateNone, persistErr(opQuery, err)
	}
	if rec == nil {
		return xjob.StateNone, nil
	}
	return rec.State, nil
}

// PausedTriggerGroups 返回被暂停的触发器组（已排序）。
func (s *Store) PausedTriggerGroups(ctx context.Context) (groups []string, err error) {
	ctx, span, err := s.begin(ctx, opQuery)
	if err != nil {
		return nil, err
	}
	defer func() { span.End(xmetrics.Result{Err: err, Items: len(groups)}) }()

	groups, err = s.pausedTriggerGroups.Keys(ctx, "")
	return groups, persistErr(opQuery, err)
}

// NumberOfJobs 作业数。
func (s *Store) NumberOfJobs(ctx context.Context) (int, error) {
	return s.count(ctx, s.jobs)
}

// NumberOfTriggers 触发器数。
func (s *Store) NumberOfTriggers(ctx context.Context) (int, error) {
	return s.count(ctx, s.triggers)
}

// NumberOfCalendars 日历数。
func (s *Store) NumberOfCalendars(ctx context.Context) (int, error) {
	return s.count(ctx, s.calendars)
}

func (s *Store) count(ctx context.Context, m xkv.Map) (n int, err error) {
	ctx, span, err := s.begin(ctx, opQuery)
	if err != nil {
		return 0, err
	}
	defer func() { span.End(xmetrics.Result{Err: err, Items: n}) }()

	n, err = m.Len(ctx)
	return n, persistErr(opQuery, err)
}

// decodeKeys 列出 group 下（空表示全部）的标识。
func decodeKeys(ctx context.Context, m xkv.Map, group string) ([]xjob.Key, error) {
	prefix := ""
	if group != "" {
		prefix = xjob.GroupPrefix(group)
	}
	raw, err := m.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]xjob.Key, 0, len(raw))
	for _, r := range raw {
		k, err := xjob.DecodeKey(r)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	slices.SortFunc(keys, xjob.Key.Compare)
	return keys, nil
}

func groupNames(ctx context.Context, m xkv.Map) ([]string, error) {
	keys, err := decodeKeys(ctx, m, "")
	if err != nil {
		return nil, err
	}
	groups := make([]string, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, k.Group)
	}
	return slices.Compact(groups), nil
}
