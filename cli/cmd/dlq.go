package cmd

import (
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/logistics-bridge/cli/pkg/output"
)

func newDLQCmd(e *env) *cobra.Command {
	dlq := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered events",
	}
	dlq.AddCommand(newDLQListCmd(e), newDLQStatsCmd(e), newDLQReplayCmd(e))
	return dlq
}

func newDLQListCmd(e *env) *cobra.Command {
	var count int
	var after string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List dead letters, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := in.DLQ.List(cmd.Context(), count, after)
			if err != nil {
				return err
			}
			return e.out.Print(entries, func() *output.Table {
				t := output.NewTable("ID", "TOPIC", "GROUP", "REASON", "AT", "ERROR")
				for _, en := range entries {
					ev := en.Event
					t.AddRow(en.ID, ev.Topic, ev.Group, ev.Reason, ev.Timestamp.Format(time.RFC3339), truncate(ev.Error, 60))
				}
				return t
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 50, "maximum entries to list")
	cmd.Flags().StringVar(&after, "after", "", "list entries after this ID")
	return cmd
}

func newDLQStatsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise dead letters by reason and topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := in.DLQ.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return e.out.Print(stats, func() *output.Table {
				t := output.NewTable("KIND", "KEY", "COUNT")
				t.AddRow("total", "", strconv.FormatInt(stats.Length, 10))
				for _, k := range sortedKeys(stats.ByReason) {
					t.AddRow("reason", k, strconv.Itoa(stats.ByReason[k]))
				}
				for _, k := range sortedKeys(stats.ByTopic) {
					t.AddRow("topic", k, strconv.Itoa(stats.ByTopic[k]))
				}
				return t
			})
		},
	}
}

func newDLQReplayCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <id>...",
		Short: "Re-publish dead letters to their original topics",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range args {
				newID, err := in.DLQ.Replay(cmd.Context(), id)
				if err != nil {
					return err
				}
				e.out.Success("replayed %s as %s", id, newID)
			}
			return nil
		},
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
