package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zhubert/msviz-core/logger"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "serve <file>",
		Short: "Open a dataset without a UI and serve it over HTTP",
		Example: `  msviz serve run.mzMD
  msviz serve run.csv --addr 127.0.0.1:9000 -o /data/run.mzMD`,
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
			a, err := newApp(cfg, surface, true)
			if err != nil {
				return err
			}
			return serveDataset(ctx, a, surface, args[0])
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "destination when the dataset needs converting (default: next to the source)")
	return cmd
}

// serveDataset serves until ctx is cancelled. A failed load ends it early.
func serveDataset(ctx context.Context, a *app, surface *headlessSurface, path string) error {
	log := logger.WithComponent("serve")

	l, err := a.listen()
	if err != nil {
		a.loop.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(a.loop.Run(gctx))
	})
	g.Go(func() error {
		return a.server.Serve(l)
	})
	g.Go(func() error {
		select {
		case res := <-surface.Result():
			if res.err != nil {
				return fmt.Errorf("open %s: %w", path, res.err)
			}
			log.Info("serving dataset", "path", res.path, "addr", l.Addr().String())
			return nil
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.shutdown(sctx)
	})

	a.ctrl.Open(path)
	return g.Wait()
}
