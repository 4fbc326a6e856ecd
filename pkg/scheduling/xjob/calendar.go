package xjob

import (
	"maps"
	"strings"
)

// Calendar 按名称引用的排除规则。
//
// Kind 与 Data 对存储层不透明，由外部的触发时间计算器解释。
type Calendar struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Kind        string            `json:"kind,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
}

// Validate 检查名称非空。
func (c *Calendar) Validate() error {
	if c == nil {
		return ErrNilCalendar
	}
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	return nil
}

// Clone 返回深拷贝。
func (c *Calendar) Clone() *Calendar {
	if c == nil {
		return nil
	}
	v := *c
	v.Data = maps.Clone(c.Data)
	return &v
}
