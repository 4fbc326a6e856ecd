package xschedule

import "github.com/robfig/cron/v3"

// Option 计算器选项。
type Option func(*options)

type options struct {
	parser        cron.Parser
	cacheSize     int
	maxIterations int
}

func defaultOptions() *options {
	return &options{
		parser: cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
		cacheSize:     256,
		maxIterations: 10000,
	}
}

// WithParser 自定义 cron 解析器，默认支持可选秒字段与描述符。
func WithParser(p cron.Parser) Option {
	return func(o *options) {
		o.parser = p
	}
}

// WithCacheSize 设置已解析 cron 表达式的缓存容量，默认 256。
func WithCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.cacheSize = n
		}
	}
}

// WithMaxIterations 设置跳过日历排除时间的最大尝试次数，默认 10000。
// 超过后视为没有下一次触发。
func WithMaxIterations(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}
