package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/zhubert/msviz-core/logger"
	"github.com/zhubert/msviz-core/tui"
)

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:     "msviz [file]",
		Short:   "Open and convert mass spectrometry datasets",
		Long:    "msviz opens datasets in its native format, converts other formats on open, and exposes the open dataset over a local HTTP API.",
		Version: version,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			return runInteractive(cmd.Context(), flags, path)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file path (default ~/.msviz/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flags.addr, "addr", "", "data server address (overrides server.addr)")

	rootCmd.AddCommand(newServeCmd(flags))
	rootCmd.AddCommand(newConvertCmd(flags))
	rootCmd.AddCommand(newInfoCmd(flags))
	rootCmd.AddCommand(newClearLogsCmd())

	return rootCmd
}

// runInteractive runs the TUI as the foreground until the user quits.
func runInteractive(ctx context.Context, flags *globalFlags, path string) (err error) {
	cfg, err := flags.loadConfig()
	if err != nil {
		return err
	}
	defer logger.Close()

	surface := tui.NewSurface()
	a, err := newApp(cfg, surface, cfg.GetServerConfig().Enabled)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := a.shutdown(sctx); serr != nil && err == nil {
			err = serr
		}
	}()

	if a.server != nil {
		l, err := a.listen()
		if err != nil {
			return err
		}
		go func() {
			if err := a.server.Serve(l); err != nil {
				logger.WithComponent("server").Error("data server stopped", "error", err)
			}
		}()
	}

	if path != "" {
		a.ctrl.Open(path)
	}

	p := tea.NewProgram(tui.New(a.loop, a.ctrl, surface), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}
