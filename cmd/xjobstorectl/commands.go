package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xjobstore/pkg/scheduling/xjob"
	"github.com/omeyang/xjobstore/pkg/scheduling/xjobstore"
)

func createCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:   "nodes",
			Usage:  "列出集群节点与调度器状态",
			Action: withStore(cmdNodes),
		},
		{
			Name:   "stats",
			Usage:  "作业、触发器、日历数量",
			Action: withStore(cmdStats),
		},
		{
			Name:   "jobs",
			Usage:  "列出作业",
			Flags:  []cli.Flag{groupFlag()},
			Action: withStore(cmdJobs),
		},
		{
			Name:   "triggers",
			Usage:  "列出触发器",
			Flags:  []cli.Flag{groupFlag()},
			Action: withStore(cmdTriggers),
		},
		{
			Name:   "calendars",
			Usage:  "列出日历",
			Action: withStore(cmdCalendars),
		},
		{
			Name:  "pause",
			Usage: "暂停触发器组",
			Flags: []cli.Flag{
				groupFlag(),
				&cli.BoolFlag{Name: "all", Usage: "暂停全部触发器组"},
			},
			Action: withStore(cmdPause),
		},
		{
			Name:  "resume",
			Usage: "恢复触发器组",
			Flags: []cli.Flag{
				groupFlag(),
				&cli.BoolFlag{Name: "all", Usage: "恢复全部组并清除暂停标记"},
			},
			Action: withStore(cmdResume),
		},
		{
			Name:      "reset",
			Usage:     "将 ERROR 状态的触发器恢复为可调度",
			ArgsUsage: "<group> <name>",
			Action:    withStore(cmdReset),
		},
		{
			Name:   "clear",
			Usage:  "删除全部调度数据（节点登记保留）",
			Flags:  []cli.Flag{&cli.BoolFlag{Name: "yes", Usage: "确认删除"}},
			Action: withStore(cmdClear),
		},
	}
}

func groupFlag() cli.Flag {
	return &cli.StringFlag{Name: "group", Aliases: []string{"g"}, Usage: "触发器组或作业组"}
}

type storeAction func(ctx context.Context, cmd *cli.Command, w io.Writer, s *xjobstore.Store) error

// withStore 为每条命令打开一次存储会话，命令结束后关闭。
func withStore(fn storeAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) (err error) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
		defer cancel()

		sess, err := openSession(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := sess.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
				err = cerr
			}
		}()

		tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
		if err := fn(ctx, cmd, tw, sess.store); err != nil {
			return err
		}
		return tw.Flush()
	}
}

func cmdNodes(ctx context.Context, _ *cli.Command, w io.Writer, s *xjobstore.Store) error {
	nodes, err := s.ClusterNodes(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "NODE\tSTATE\tUPDATED")
	for _, n := range nodes {
		fmt.Fprintf(w, "%s\t%s\t%s\n", n.Node, n.State, n.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func cmdStats(ctx context.Context, _ *cli.Command, w io.Writer, s *xjobstore.Store) error {
	for _, c := range []struct {
		name  string
		count func(context.Context) (int, error)
	}{
		{"jobs", s.NumberOfJobs},
		{"triggers", s.NumberOfTriggers},
		{"calendars", s.NumberOfCalendars},
	} {
		n, err := c.count(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\n", c.name, n)
	}
	paused, err := s.PausedTriggerGroups(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "paused groups\t%d\n", len(paused))
	return nil
}

func cmdJobs(ctx context.Context, cmd *cli.Command, w io.Writer, s *xjobstore.Store) error {
	keys, err := s.JobKeys(ctx, cmd.String("group"))
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "JOB\tDESCRIPTOR\tDURABLE\tCONCURRENT\tTRIGGERS")
	for _, k := range keys {
		job, err := s.RetrieveJob(ctx, k)
		if err != nil {
			return err
		}
		if job == nil {
			continue
		}
		trs, err := s.TriggersForJob(ctx, k)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%d\n", k, job.Descriptor, job.Durable, !job.DisallowConcurrent, len(trs))
	}
	return nil
}

func cmdTriggers(ctx context.Context, cmd *cli.Command, w io.Writer, s *xjobstore.Store) error {
	keys, err := s.TriggerKeys(ctx, cmd.String("group"))
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "TRIGGER\tJOB\tSTATE\tNEXT FIRE\tPRIORITY")
	for _, k := range keys {
		tr, err := s.RetrieveTrigger(ctx, k)
		if err != nil {
			return err
		}
		if tr == nil {
			continue
		}
		state, err := s.TriggerState(ctx, k)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", k, tr.JobKey, state, formatTime(tr.NextFireTime), tr.Priority)
	}
	return nil
}

func cmdCalendars(ctx context.Context, _ *cli.Command, w io.Writer, s *xjobstore.Store) error {
	names, err := s.CalendarNames(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "CALENDAR\tKIND")
	for _, name := range names {
		cal, err := s.RetrieveCalendar(ctx, name)
		if err != nil {
			return err
		}
		if cal != nil {
			fmt.Fprintf(w, "%s\t%s\n", name, cal.Kind)
		}
	}
	return nil
}

func cmdPause(ctx context.Context, cmd *cli.Command, w io.Writer, s *xjobstore.Store) error {
	group, all, err := groupOrAll(cmd)
	if err != nil {
		return err
	}
	if all {
		err = s.PauseAll(ctx)
	} else {
		err = s.PauseTriggerGroup(ctx, group)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "paused")
	return nil
}

func cmdResume(ctx context.Context, cmd *cli.Command, w io.Writer, s *xjobstore.Store) error {
	group, all, err := groupOrAll(cmd)
	if err != nil {
		return err
	}
	if all {
		err = s.ResumeAll(ctx)
	} else {
		err = s.ResumeTriggerGroup(ctx, group)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "resumed")
	return nil
}

func groupOrAll(cmd *cli.Command) (string, bool, error) {
	group, all := cmd.String("group"), cmd.Bool("all")
	if (group == "") == !all {
		return "", false, usagef("需要 --group 或 --all 之一")
	}
	return group, all, nil
}

func cmdReset(ctx context.Context, cmd *cli.Command, w io.Writer, s *xjobstore.Store) error {
	if cmd.Args().Len() != 2 {
		return usagef("用法: reset <group> <name>")
	}
	key := xjob.NewTriggerKey(cmd.Args().Get(1), cmd.Args().Get(0))
	before, err := s.TriggerState(ctx, key)
	if err != nil {
		return err
	}
	if before == xjob.StateNone {
		return fmt.Errorf("trigger %s not found", key)
	}
	if err := s.ResetTriggerFromErrorState(ctx, key); err != nil {
		return err
	}
	after, err := s.TriggerState(ctx, key)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\t%s -> %s\n", key, before, after)
	return nil
}

func cmdClear(ctx context.Context, cmd *cli.Command, w io.Writer, s *xjobstore.Store) error {
	if !cmd.Bool("yes") {
		return usagef("clear 会删除全部作业、触发器与日历，确认请加 --yes")
	}
	if err := s.ClearAllSchedulingData(ctx); err != nil {
		return err
	}
	fmt.Fprintln(w, "cleared")
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
