package cmd

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/logistics-bridge/cli/pkg/output"
	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/common/stream"
)

func newTopicsCmd(e *env) *cobra.Command {
	topics := &cobra.Command{
		Use:   "topics",
		Short: "Inspect event topics and consumer cursors",
	}
	topics.AddCommand(newTopicsListCmd(e), newTopicsReadCmd(e), newTopicsCursorCmd(e), newTopicsResetCmd(e))
	return topics
}

func newTopicsListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List every bridge topic with its retained length",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			infos := make([]stream.TopicInfo, 0, len(events.AllTopics()))
			for _, topic := range events.AllTopics() {
				info, err := in.Bus.TopicInfo(cmd.Context(), topic)
				if err != nil {
					return err
				}
				infos = append(infos, info)
			}
			return e.out.Print(infos, func() *output.Table {
				t := output.NewTable("TOPIC", "LENGTH", "LAST ID")
				for _, info := range infos {
					t.AddRow(info.Topic, strconv.FormatInt(info.Length, 10), info.LastID)
				}
				return t
			})
		},
	}
}

// entryView is one topic entry as shown by topics read.
type entryView struct {
	ID        string           `json:"id"`
	EventType string           `json:"event_type,omitempty"`
	EventID   string           `json:"event_id,omitempty"`
	Timestamp *time.Time       `json:"timestamp,omitempty"`
	Error     string           `json:"error,omitempty"`
	Envelope  *events.Envelope `json:"envelope,omitempty"`
}

func newTopicsReadCmd(e *env) *cobra.Command {
	var count int
	var after string
	cmd := &cobra.Command{
		Use:   "read <topic>",
		Short: "Read retained entries from a topic without moving any cursor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			msgs, err := in.Bus.Read(cmd.Context(), args[0], count, after)
			if err != nil {
				return err
			}

			views := make([]entryView, 0, len(msgs))
			for _, m := range msgs {
				v := entryView{ID: m.ID}
				env, _, err := events.Decode(m.Data)
				if err != nil {
					v.Error = err.Error()
				} else {
					ts := env.Timestamp
					v.EventType, v.EventID, v.Timestamp, v.Envelope = env.EventType, env.EventID, &ts, &env
				}
				views = append(views, v)
			}
			return e.out.Print(views, func() *output.Table {
				t := output.NewTable("ID", "EVENT TYPE", "EVENT ID", "TIMESTAMP", "ERROR")
				for _, v := range views {
					ts := ""
					if v.Timestamp != nil {
						ts = v.Timestamp.Format(time.RFC3339)
					}
					t.AddRow(v.ID, v.EventType, v.EventID, ts, v.Error)
				}
				return t
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 20, "maximum entries to read")
	cmd.Flags().StringVar(&after, "after", "", "read entries after this ID")
	return cmd
}

type cursorFlags struct {
	group    string
	consumer string
}

func (f *cursorFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.group, "group", "g", "", "consumer group")
	cmd.Flags().StringVarP(&f.consumer, "consumer", "c", "", "consumer name within the group")
	_ = cmd.MarkFlagRequired("group")
	_ = cmd.MarkFlagRequired("consumer")
}

func newTopicsCursorCmd(e *env) *cobra.Command {
	var f cursorFlags
	cmd := &cobra.Command{
		Use:   "cursor <topic>",
		Short: "Show the committed position of a consumer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			id, err := in.Bus.Cursor(cmd.Context(), args[0], f.group, f.consumer)
			if err != nil {
				return err
			}
			if id == "" {
				e.out.Info("%s %s/%s has not committed anything", args[0], f.group, f.consumer)
				return nil
			}
			e.out.Info("%s %s/%s at %s", args[0], f.group, f.consumer, id)
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

func newTopicsResetCmd(e *env) *cobra.Command {
	var f cursorFlags
	cmd := &cobra.Command{
		Use:   "reset-cursor <topic>",
		Short: "Make a consumer replay the retained log from the start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			if err := in.Bus.ResetCursor(cmd.Context(), args[0], f.group, f.consumer); err != nil {
				return err
			}
			e.out.Success("cursor reset for %s %s/%s", args[0], f.group, f.consumer)
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}
