// Package cli wires Cobra subcommands to application dependencies; it is a thin controller with no business logic.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neoclaw-ai/msgbridge/internal/bootstrap"
	"github.com/neoclaw-ai/msgbridge/internal/config"
	"github.com/neoclaw-ai/msgbridge/internal/logging"
)

// state carries the loaded configuration from the root pre-run hook to subcommands.
type state struct {
	cfg *config.Config
}

// NewRootCmd creates the root command and registers all subcommands.
func NewRootCmd() *cobra.Command {
	var (
		verbose   bool
		logFormat string
		st        = &state{}
	)

	root := &cobra.Command{
		Use:   "msgbridge",
		Short: "In-app message delegate bridge",
		// Let main handle fatal error rendering through structured logs.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// config and version only print and should not bootstrap the home dir.
			switch cmd.Name() {
			case "config", "version":
				return nil
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			level := cfg.Log.Level
			if verbose {
				level = "debug"
			}
			format := cfg.Log.Format
			if logFormat != "" {
				format = logFormat
			}
			if err := logging.Configure(format, level, cmd.ErrOrStderr()); err != nil {
				return fmt.Errorf("configure logging: %w", err)
			}

			firstRun := false
			if _, err := os.Stat(cfg.ConfigPath()); errors.Is(err, os.ErrNotExist) {
				firstRun = true
			} else if err != nil {
				return fmt.Errorf("stat msgbridge config file %q: %w", cfg.ConfigPath(), err)
			}
			if err := bootstrap.Initialize(cfg); err != nil {
				return err
			}
			if firstRun {
				logging.Logger().Info("first run setup complete", "config", cfg.ConfigPath(), "messages", cfg.MessagesPath())
			}

			st.cfg = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default to `msgbridge serve` when no subcommand is provided.
			serveCmd, _, err := cmd.Find([]string{"serve"})
			if err != nil {
				return err
			}
			serveCmd.SetContext(cmd.Context())
			return serveCmd.RunE(serveCmd, args)
		},
	}

	root.AddCommand(newServeCmd(st))
	root.AddCommand(newConsoleCmd(st))
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging (debug level)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "Override log format (text or json)")

	return root
}
