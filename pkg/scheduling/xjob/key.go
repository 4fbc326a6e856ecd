package xjob

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultGroup 未指定 group 时使用的组名。
const DefaultGroup = "DEFAULT"

// keySeparator 编码后 group 与 name 之间的分隔符。
// url.PathEscape 会转义 '/'，因此分隔符在编码结果中唯一。
const keySeparator = "/"

// Key 实体标识：name + group。
// 相等性同时比较两个字段。
type Key struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

// NewKey 创建 Key，group 为空时使用 [DefaultGroup]。
func NewKey(name, group string) Key {
	if group == "" {
		group = DefaultGroup
	}
	return Key{Name: name, Group: group}
}

// String 返回 "group.name" 形式，用于日志。
func (k Key) String() string {
	return k.Group + "." + k.Name
}

// Validate 检查 name 非空。
func (k Key) Validate() error {
	if strings.TrimSpace(k.Name) == "" {
		return ErrEmptyName
	}
	if k.Group == "" {
		return ErrEmptyGroup
	}
	return nil
}

// Compare 按 group、name 字典序比较。
func (k Key) Compare(other Key) int {
	if c := strings.Compare(k.Group, other.Group); c != 0 {
		return c
	}
	return strings.Compare(k.Name, other.Name)
}

// Encode 返回存储层使用的 key。
func (k Key) Encode() string {
	return GroupPrefix(k.Group) + url.PathEscape(k.Name)
}

// GroupPrefix 返回组内所有 key 共享的编码前缀。
func GroupPrefix(group string) string {
	return url.PathEscape(group) + keySeparator
}

// DecodeKey 解析 [Key.Encode] 的输出。
func DecodeKey(encoded string) (Key, error) {
	group, name, ok := strings.Cut(encoded, keySeparator)
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrMalformedKey, encoded)
	}
	g, err := url.PathUnescape(group)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: %w", ErrMalformedKey, encoded, err)
	}
	n, err := url.PathUnescape(name)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: %w", ErrMalformedKey, encoded, err)
	}
	return Key{Name: n, Group: g}, nil
}

// JobKey 作业标识。
type JobKey struct {
	Key
}

// NewJobKey 创建作业标识。
func NewJobKey(name, group string) JobKey {
	return JobKey{Key: NewKey(name, group)}
}

// TriggerKey 触发器标识。
type TriggerKey struct {
	Key
}

// NewTriggerKey 创建触发器标识。
func NewTriggerKey(name, group string) TriggerKey {
	return TriggerKey{Key: NewKey(name, group)}
}

// DecodeJobKey 解析编码后的作业标识。
func DecodeJobKey(encoded string) (JobKey, error) {
	k, err := DecodeKey(encoded)
	return JobKey{Key: k}, err
}

// DecodeTriggerKey 解析编码后的触发器标识。
func DecodeTriggerKey(encoded string) (TriggerKey, error) {
	k, err := DecodeKey(encoded)
	return TriggerKey{Key: k}, err
}
