package main

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/logistics-bridge/cli/pkg/output"
	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/capture"
)

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "driver",
		Short:         "Capture delivery confirmations and sync them to logistics",
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			p, err := output.New(e.format)
			if err != nil {
				return err
			}
			p.Out, p.Err = cmd.OutOrStdout(), cmd.ErrOrStderr()
			e.out = p
			return nil
		},
	}
	root.PersistentFlags().StringVar(&e.cfgFile, "config", "", "config file (environment: DRIVER_*)")
	root.PersistentFlags().StringVarP(&e.format, "output", "o", output.FormatTable, "output format: table, json, yaml")

	root.AddCommand(newCaptureCmd(e), newPendingCmd(e), newSyncCmd(e), newWatchCmd(e), newPurgeCmd(e))
	return root
}

func readAttachment(path string) (capture.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return capture.Attachment{}, fmt.Errorf("failed to read attachment: %w", err)
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return capture.Attachment{Name: filepath.Base(path), ContentType: ct, Data: data}, nil
}

func newCaptureCmd(e *env) *cobra.Command {
	var receivedBy, notes, signature string
	var photos []string
	var lat, lon float64
	var syncNow bool

	cmd := &cobra.Command{
		Use:   "capture <task-id>",
		Short: "Record a delivery confirmation on this device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if receivedBy == "" {
				return fmt.Errorf("--received-by is required")
			}
			store, err := e.openStore()
			if err != nil {
				return err
			}

			p := capture.Payload{ReceivedBy: receivedBy, DeliveredAt: time.Now().UTC(), Notes: notes}
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
				p.Location = &events.GeoPoint{Lat: lat, Lon: lon}
			}
			for _, path := range photos {
				a, err := readAttachment(path)
				if err != nil {
					return err
				}
				p.Photos = append(p.Photos, a)
			}
			if signature != "" {
				a, err := readAttachment(signature)
				if err != nil {
					return err
				}
				p.Signature = &a
			}

			localID, err := store.Queue(cmd.Context(), args[0], p)
			if err != nil {
				return err
			}
			e.out.Success("captured %s for task %s", localID, args[0])

			if syncNow {
				return runSync(cmd, e)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&receivedBy, "received-by", "", "name of the person who received the goods")
	cmd.Flags().StringVar(&notes, "notes", "", "delivery notes")
	cmd.Flags().StringArrayVar(&photos, "photo", nil, "photo file (repeatable)")
	cmd.Flags().StringVar(&signature, "signature", "", "signature image file")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude of the delivery point")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude of the delivery point")
	cmd.Flags().BoolVar(&syncNow, "sync", false, "try to upload immediately")
	return cmd
}

type pendingView struct {
	LocalID    string    `json:"local_id"`
	TaskID     string    `json:"task_id"`
	ReceivedBy string    `json:"received_by"`
	CapturedAt time.Time `json:"captured_at"`
	Photos     int       `json:"photos"`
	Attempts   int       `json:"attempts,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

func newPendingCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List confirmations waiting to be uploaded",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := e.openStore()
			if err != nil {
				return err
			}
			failures := make(map[string]capture.Failure)
			for _, f := range store.Failures() {
				failures[f.LocalID] = f
			}

			recs := store.Unsynced()
			views := make([]pendingView, 0, len(recs))
			for _, r := range recs {
				f := failures[r.LocalID]
				views = append(views, pendingView{
					LocalID:    r.LocalID,
					TaskID:     r.TargetEntityID,
					ReceivedBy: r.Payload.ReceivedBy,
					CapturedAt: r.CapturedAt,
					Photos:     len(r.Payload.Photos),
					Attempts:   f.Attempts,
					LastError:  f.Error,
				})
			}
			return e.out.Print(views, func() *output.Table {
				t := output.NewTable("LOCAL ID", "TASK", "RECEIVED BY", "CAPTURED", "PHOTOS", "LAST ERROR")
				for _, v := range views {
					t.AddRow(v.LocalID, v.TaskID, v.ReceivedBy, v.CapturedAt.Format(time.RFC3339), strconv.Itoa(v.Photos), v.LastError)
				}
				return t
			})
		},
	}
}

func newSyncCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Upload every pending confirmation now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, e)
		},
	}
}

func runSync(cmd *cobra.Command, e *env) error {
	progress := func(f float64) {
		if e.out.Format == output.FormatTable {
			e.out.Info("%3.0f%%", f*100)
		}
	}
	c, err := e.coordinator(progress)
	if err != nil {
		return err
	}
	res, err := c.SyncAll(cmd.Context())
	if err != nil {
		return err
	}
	if e.out.Format != output.FormatTable {
		return e.out.Print(res, nil)
	}
	if res.Offline {
		e.out.Warn("offline: confirmations stay queued")
		return nil
	}
	for _, re := range res.Errors {
		e.out.Error("%s (task %s): %s", re.LocalID, re.TaskID, re.Message)
	}
	e.out.Success("synced %d, failed %d", res.Synced, res.Failed)
	return nil
}

func newWatchCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep syncing in the background until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.coordinator(nil)
			if err != nil {
				return err
			}
			e.out.Info("watching %s, syncing every %s", e.store.Dir(), e.cfg.Capture.SyncInterval)
			return c.Run(cmd.Context())
		},
	}
}

func newPurgeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <local-id>...",
		Short: "Discard queued confirmations without uploading them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := e.openStore()
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := store.Purge(id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				e.out.Success("purged %s", id)
			}
			return nil
		},
	}
}
