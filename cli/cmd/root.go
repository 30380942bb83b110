// Package cmd implements the bridgectl commands.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/logistics-bridge/cli/pkg/output"
	"github.com/telhawk-systems/logistics-bridge/common/bootstrap"
	"github.com/telhawk-systems/logistics-bridge/common/config"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
)

// env is the state shared by one bridgectl invocation.
type env struct {
	cfgFile string
	format  string

	cfg   *config.Config
	infra *bootstrap.Infra
	owned bool
	out   *output.Printer
}

func (e *env) config() (*config.Config, error) {
	if e.cfg != nil {
		return e.cfg, nil
	}
	cfg, err := config.LoadCLI(e.cfgFile)
	if err != nil {
		return nil, err
	}
	e.cfg = cfg
	return cfg, nil
}

// open connects to the deployment's stream and stores on first use.
func (e *env) open(ctx context.Context) (*bootstrap.Infra, error) {
	if e.infra != nil {
		return e.infra, nil
	}
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	cfg.OpenSearch.Enabled = false
	level := logging.ParseLevel(cfg.Logging.Level)
	if level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	logger := logging.NewWithWriter(os.Stderr, level, "text")

	in, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	e.infra, e.owned = in, true
	return in, nil
}

func (e *env) close() {
	if e.owned && e.infra != nil {
		e.infra.Close()
		e.infra = nil
	}
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:   "bridgectl",
		Short: "Logistics bridge operator CLI",
		Long: `bridgectl inspects and operates a logistics bridge deployment.

Inspect topics and consumer cursors, list and replay dead letters, evaluate
SLA deadlines and publish simulated material requests.`,
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
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			e.close()
		},
	}

	root.PersistentFlags().StringVar(&e.cfgFile, "config", "", "config file (default: $BRIDGE_CONFIG or $HOME/.bridgectl/config.yaml)")
	root.PersistentFlags().StringVarP(&e.format, "output", "o", output.FormatTable, "output format: table, json, yaml")

	root.AddCommand(
		newTopicsCmd(e),
		newDLQCmd(e),
		newDeadlineCmd(e),
		newSimulateCmd(e),
	)
	return root
}

func Execute() error {
	e := &env{}
	root := newRootCmd(e)
	err := root.Execute()
	if err != nil {
		e.close()
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
	}
	return err
}
