package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/logistics-bridge/cli/pkg/output"
	"github.com/telhawk-systems/logistics-bridge/common/bootstrap"
	"github.com/telhawk-systems/logistics-bridge/common/deadline"
)

func newDeadlineCmd(e *env) *cobra.Command {
	dl := &cobra.Command{
		Use:   "deadline",
		Short: "Evaluate SLA targets with the configured business calendar",
	}
	dl.AddCommand(newDeadlineTargetCmd(e), newDeadlineStatusCmd(e))
	return dl
}

func (e *env) engine() (*deadline.Engine, error) {
	if e.infra != nil {
		return e.infra.Engine, nil
	}
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	return bootstrap.NewEngine(cfg.Deadline)
}

func parseTime(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (want RFC3339): %w", s, err)
	}
	return t, nil
}

type deadlineFlags struct {
	entity   string
	priority string
	created  string
}

func (f *deadlineFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.entity, "entity", "delivery_task", "entity type for SLA overrides")
	cmd.Flags().StringVarP(&f.priority, "priority", "p", string(deadline.PriorityMedium), "critical, high, medium or low")
	cmd.Flags().StringVar(&f.created, "created", "", "creation time, RFC3339 (default: now)")
}

func newDeadlineTargetCmd(e *env) *cobra.Command {
	var f deadlineFlags
	cmd := &cobra.Command{
		Use:   "target",
		Short: "Compute the SLA target for an entity created at a given time",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := e.engine()
			if err != nil {
				return err
			}
			p, err := deadline.ParsePriority(f.priority)
			if err != nil {
				return err
			}
			created, err := parseTime(f.created, time.Now())
			if err != nil {
				return err
			}
			target, err := engine.ComputeTarget(f.entity, p, created)
			if err != nil {
				return err
			}
			return e.out.Print(target, func() *output.Table {
				t := output.NewTable("CREATED", "PRIORITY", "SLA MINUTES", "TARGET")
				t.AddRow(created.Format(time.RFC3339), string(p), strconv.Itoa(target.SLAMinutes), target.TargetAt.Format(time.RFC3339))
				return t
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func newDeadlineStatusCmd(e *env) *cobra.Command {
	var f deadlineFlags
	var at, completed string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Evaluate deadline status of an entity at a given time",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := e.engine()
			if err != nil {
				return err
			}
			p, err := deadline.ParsePriority(f.priority)
			if err != nil {
				return err
			}
			now := time.Now()
			created, err := parseTime(f.created, now)
			if err != nil {
				return err
			}
			when, err := parseTime(at, now)
			if err != nil {
				return err
			}
			subject := deadline.Subject{EntityType: f.entity, Priority: p, CreatedAt: created}
			if completed != "" {
				c, err := parseTime(completed, now)
				if err != nil {
					return err
				}
				subject.CompletedAt = &c
			}

			st, err := engine.Status(subject, when)
			if err != nil {
				return err
			}
			return e.out.Print(st, func() *output.Table {
				t := output.NewTable("TARGET", "USED %", "REMAINING MIN", "STATE")
				state := "on track"
				switch {
				case st.IsBreached:
					state = "breached"
				case st.IsAtRisk:
					state = "at risk"
				}
				t.AddRow(st.TargetAt.Format(time.RFC3339), fmt.Sprintf("%.1f", st.PercentageUsed),
					fmt.Sprintf("%.0f", st.TimeRemainingMinutes), state)
				return t
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&at, "at", "", "evaluation time, RFC3339 (default: now)")
	cmd.Flags().StringVar(&completed, "completed", "", "completion time, RFC3339")
	return cmd
}
