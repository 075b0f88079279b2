package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhubert/msviz-core/config"
	"github.com/zhubert/msviz-core/logger"
	"github.com/zhubert/msviz-core/paths"
	"github.com/zhubert/msviz-core/session"
)

func newInfoCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show directories, importable formats and recent files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			defer logger.Close()
			return writeInfo(cmd.OutOrStdout(), cfg)
		},
	}
}

func writeInfo(w io.Writer, cfg *config.Config) error {
	layout, err := paths.Current()
	if err != nil {
		return fmt.Errorf("resolve layout: %w", err)
	}

	dirs := []struct {
		name string
		fn   func() (string, error)
	}{
		{"config", paths.ConfigDir},
		{"data", paths.DataDir},
		{"state", paths.StateDir},
		{"converted", paths.ConvertedDir},
	}

	fmt.Fprintf(w, "Layout:     %s\n", layout.Source)
	for _, d := range dirs {
		dir, err := d.fn()
		if err != nil {
			return fmt.Errorf("resolve %s dir: %w", d.name, err)
		}
		fmt.Fprintf(w, "%-11s %s\n", strings.ToUpper(d.name[:1])+d.name[1:]+":", dir)
	}
	fmt.Fprintf(w, "Log file:   %s\n", logger.Path())
	if cfg.FilePath() != "" {
		fmt.Fprintf(w, "Config:     %s\n", cfg.FilePath())
	}

	ic := cfg.GetImportConfig()
	importable := session.DefaultRegistry(ic.BatchSize).Extensions()
	fmt.Fprintf(w, "Native:     %s\n", ic.NativeExtension)
	fmt.Fprintf(w, "Importable: %s\n", strings.Join(importable, " "))

	srv := cfg.GetServerConfig()
	if srv.Enabled {
		fmt.Fprintf(w, "Server:     http://%s\n", srv.Addr)
	} else {
		fmt.Fprintln(w, "Server:     disabled")
	}

	recent := cfg.GetRecentFiles()
	if len(recent) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nRecent files:")
	for _, f := range recent {
		fmt.Fprintf(w, "  %s\n", f)
	}
	return nil
}

func newClearLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-logs",
		Short: "Delete msviz log files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := logger.ClearLogs()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d log file(s)\n", n)
			return nil
		},
	}
}
