package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zhubert/msviz-core/logger"
)

const shutdownTimeout = 10 * time.Second

func newConvertCmd(flags *globalFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert a dataset to the native format and print its path",
		Example: `  msviz convert run.csv
  msviz convert run.csv -o /data/run.mzMD`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			defer logger.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			surface := newHeadlessSurface(output, cmd.ErrOrStderr())
			a, err := newApp(cfg, surface, false)
			if err != nil {
				return err
			}
			path, err := runToFirstLoad(ctx, a, surface, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "destination for the converted dataset (default: next to the source)")
	return cmd
}

// runToFirstLoad runs the foreground until path has loaded or failed, then
// shuts the app down.
func runToFirstLoad(ctx context.Context, a *app, surface *headlessSurface, path string) (string, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(a.loop.Run(gctx))
	})

	a.ctrl.Open(path)

	var res loadResult
	select {
	case res = <-surface.Result():
	case <-gctx.Done():
		res = loadResult{err: fmt.Errorf("interrupted: %w", context.Cause(gctx))}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := a.shutdown(sctx)
	if err := g.Wait(); err != nil && res.err == nil {
		res.err = err
	}
	if res.err != nil {
		return "", res.err
	}
	return res.path, shutdownErr
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
