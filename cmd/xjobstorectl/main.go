// xjobstorectl 查看和维护集群作业存储中的数据。
//
// 用法:
//
//	xjobstorectl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-c, --config   存储配置文件（yaml/json），缺省时使用默认配置
//	-b, --backend  覆盖配置中的存储基座（memory/redis/etcd/mongo）
//	    --redis    覆盖 Redis 地址，可重复
//	    --etcd     覆盖 etcd 地址，可重复
//	    --mongo    覆盖 MongoDB URI
//	    --prefix   覆盖 key 前缀
//	-t, --timeout  单条命令超时 (默认: 30s)
//
// 命令:
//
//	nodes                     列出集群节点与调度器状态
//	stats                     作业、触发器、日历数量
//	jobs [--group g]          列出作业
//	triggers [--group g]      列出触发器及其状态、下次触发时间
//	calendars                 列出日历
//	pause  --group g | --all  暂停触发器组
//	resume --group g | --all  恢复触发器组
//	reset <group> <name>      将 ERROR 状态的触发器恢复为可调度
//	clear --yes               删除全部调度数据
//
// 退出码:
//
//	0: 成功
//	1: 执行失败
//	2: 参数错误
//
// 示例:
//
//	xjobstorectl -c /etc/xjobstore/store.yaml triggers --group reports
//	xjobstorectl -b redis --redis 127.0.0.1:6379 nodes
//	xjobstorectl -c store.yaml pause --group reports
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
)

const defaultTimeout = 30 * time.Second

// 版本信息，通过 -ldflags "-X main.Version=..." 注入。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run(os.Args))
}

func createApp() *cli.Command {
	return &cli.Command{
		Name:    "xjobstorectl",
		Usage:   "集群作业存储维护工具",
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "存储配置文件（yaml/json）",
			},
			&cli.StringFlag{
				Name:    "backend",
				Aliases: []string{"b"},
				Usage:   "存储基座：memory、redis、etcd 或 mongo",
			},
			&cli.StringSliceFlag{
				Name:  "redis",
				Usage: "Redis 地址",
			},
			&cli.StringSliceFlag{
				Name:  "etcd",
				Usage: "etcd 地址",
			},
			&cli.StringFlag{
				Name:  "mongo",
				Usage: "MongoDB URI",
			},
			&cli.StringFlag{
				Name:  "prefix",
				Usage: "key 前缀",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "单条命令超时",
				Value:   defaultTimeout,
			},
		},
		Commands:       createCommands(),
		DefaultCommand: "help",
		// 退出码统一由 run 映射。
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(os.Stderr, err)
			}
		},
	}
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := createApp().Run(ctx, args); err != nil {
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(os.Stderr, "参数错误: %v\n", usageErr)
			return 2
		}
		if _, ok := err.(cli.ExitCoder); ok {
			return 2
		}
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		return 1
	}
	return 0
}

// usageError 参数错误，退出码 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}
