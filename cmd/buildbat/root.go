package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/patrickspencer/buildbat/internal/config"
	"github.com/patrickspencer/buildbat/internal/logging"
)

// commandContext is shared by all subcommands. The config is loaded once
// before any subcommand runs.
type commandContext struct {
	configPath string
	cfg        *config.Config
	logCloser  io.Closer
}

func (c *commandContext) load() error {
	cfg, err := config.LoadOrDefault(c.configPath)
	if err != nil {
		return err
	}
	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logCloser = closer
	return nil
}

func (c *commandContext) close() {
	if c.logCloser != nil {
		_ = c.logCloser.Close()
		c.logCloser = nil
	}
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "buildbat",
		Short:         "Run build jobs and notify Spark rooms",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["config"] == "skip" {
				return nil
			}
			return ctx.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", "buildbat.yaml", "Configuration file path")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newWrapCommand(ctx))
	rootCmd.AddCommand(newProvisionCommand(ctx))
	rootCmd.AddCommand(newCredentialsCommand(ctx))
	rootCmd.AddCommand(newDeliveriesCommand(ctx))
	rootCmd.AddCommand(newRoomsCommand())
	return rootCmd
}
