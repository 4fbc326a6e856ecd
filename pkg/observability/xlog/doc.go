// Package xlog 提供基于 log/slog 的结构化日志。
//
// 所有日志方法都接收 context.Context，只接受 slog.Attr。
// 通过 [WithAttrs] 放入 context 的属性（如节点 ID、操作名）
// 会被 [EnrichHandler] 自动追加到每条日志。
//
// 构建：
//
//	logger, cleanup, err := xlog.New().
//	    SetLevelString("debug").
//	    SetFormat("json").
//	    SetRotation("/var/log/xjobstore.log", 100, 7, 30, true).
//	    Build()
//	if err != nil {
//	    return err
//	}
//	defer cleanup()
//
// 库代码默认使用 [Nop]，由调用方注入真正的 Logger。
package xlog
