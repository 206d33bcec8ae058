package cli

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neoclaw-ai/msgbridge/internal/config"
	"github.com/neoclaw-ai/msgbridge/internal/console"
)

func newConsoleCmd(st *state) *cobra.Command {
	var (
		url        string
		savePolicy string
		showPolicy string
	)
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Act as the embedded runtime against a running bridge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := st.cfg
			if url != "" {
				cfg.Channel.URL = url
			}
			if savePolicy != "" {
				cfg.Console.SavePolicy = savePolicy
			}
			if showPolicy != "" {
				cfg.Console.ShowPolicy = showPolicy
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			save, _ := config.ParsePolicy(cfg.Console.SavePolicy)
			show, _ := config.ParsePolicy(cfg.Console.ShowPolicy)

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := console.New(console.Options{
				URL:          cfg.Channel.URL,
				SavePolicy:   save,
				ShowPolicy:   show,
				ReconnectMax: cfg.Console.ReconnectMax,
				QueueSize:    cfg.Channel.QueueSize,
				WriteTimeout: cfg.Channel.WriteTimeout,
				HistoryFile:  filepath.Join(cfg.HomeDir, ".console_history"),
			}, cmd.OutOrStdout())
			return c.Run(runCtx, cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Bridge channel URL (overrides channel.url)")
	cmd.Flags().StringVar(&savePolicy, "save", "", "Answer policy for shouldSaveMessage: yes, no, silent, unimplemented")
	cmd.Flags().StringVar(&showPolicy, "show", "", "Answer policy for shouldShowMessage: yes, no, silent, unimplemented")
	return cmd
}
