package xlog

import (
	"fmt"
	"log/slog"
	"strings"
)

// Level 日志级别，数值与 slog.Level 一致，可直接用于 slog.HandlerOptions。
type Level slog.Level

const (
	// LevelTrace 比 debug 更细，用于逐条记录锁续期与领取扫描。
	LevelTrace = Level(slog.LevelDebug - 4)
	LevelDebug = Level(slog.LevelDebug)
	LevelInfo  = Level(slog.LevelInfo)
	LevelWarn  = Level(slog.LevelWarn)
	LevelError = Level(slog.LevelError)
)

// levelAliases 配置文件中接受的名称，小写。
var levelAliases = map[string]Level{
	"trace":   LevelTrace,
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
	"err":     LevelError,
}

// LevelNames 返回规范的级别名称，从低到高。
func LevelNames() []string {
	return []string{"trace", "debug", "info", "warn", "error"}
}

func (l Level) String() string {
	if l == LevelTrace {
		return "TRACE"
	}
	return slog.Level(l).String()
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText 使配置可以直接写级别名称。
func (l *Level) UnmarshalText(data []byte) error {
	parsed, err := ParseLevel(string(data))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel 解析级别名称或别名（warning、err），大小写不敏感。
// 也接受 slog 的偏移写法，如 "info+2"、"debug-4"。
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if l, ok := levelAliases[name]; ok {
		return l, nil
	}
	var sl slog.Level
	if name == "" || sl.UnmarshalText([]byte(name)) != nil {
		return LevelInfo, fmt.Errorf("xlog: unknown level %q, want one of %s",
			s, strings.Join(LevelNames(), ", "))
	}
	return Level(sl), nil
}
