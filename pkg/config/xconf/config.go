package xconf

import "github.com/knadh/koanf/v2"

// Format 配置格式。
type Format string

// 支持的配置格式。
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Config 已加载的配置。
type Config interface {
	// Client 返回底层 koanf 实例。Reload 后旧实例仍可读，但内容已过期。
	Client() *koanf.Koanf

	// Unmarshal 将 path 处的配置解到 target，path 为空时解整个配置。
	// target 中已有的值在配置缺省对应字段时保留。
	Unmarshal(path string, target any) error

	// Reload 重新读取配置文件。从字节数据创建的 Config 返回 [ErrNotReloadable]。
	Reload() error

	// Path 配置文件路径，从字节数据创建时为空。
	Path() string

	// Format 配置格式。
	Format() Format
}
