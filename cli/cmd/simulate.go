package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/logistics-bridge/cli/internal/simulate"
	"github.com/telhawk-systems/logistics-bridge/common/integration"
)

func newSimulateCmd(e *env) *cobra.Command {
	var count int
	var seed int64
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Publish generated ready-for-collection events",
		Long: `simulate publishes material requests released for collection, as the
materials service would, so logistics creates delivery tasks for them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			gen := simulate.NewGenerator(seed)
			pub := integration.NewPublisher(in.Bus, in.Logger)

			for i := 0; i < count; i++ {
				if i > 0 && interval > 0 {
					select {
					case <-cmd.Context().Done():
						return cmd.Context().Err()
					case <-time.After(interval):
					}
				}
				p := gen.Ready()
				env, err := pub.Emit(cmd.Context(), p)
				if err != nil {
					return err
				}
				e.out.Success("%s %s %s -> %s (%s)", env.EventID, p.RequestNumber, p.PickupLocation, p.DeliveryLocation, p.Priority)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 10, "number of events")
	cmd.Flags().Int64Var(&seed, "seed", 0, "generator seed (0: random)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "pause between events")
	return cmd
}
