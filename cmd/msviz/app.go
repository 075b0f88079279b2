package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/zhubert/msviz-core/config"
	"github.com/zhubert/msviz-core/dispatch"
	"github.com/zhubert/msviz-core/logger"
	"github.com/zhubert/msviz-core/manager"
	"github.com/zhubert/msviz-core/metrics"
	"github.com/zhubert/msviz-core/server"
	"github.com/zhubert/msviz-core/status"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	debug      bool
	addr       string
}

// loadConfig reads the config and applies flag overrides, then starts the
// file logger.
func (f *globalFlags) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.configPath != "" {
		cfg, err = config.LoadFrom(f.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if f.debug {
		cfg.Debug = true
	}
	if f.addr != "" {
		cfg.Server.Addr = f.addr
		cfg.Server.Enabled = true
	}

	logPath, err := logger.DefaultLogPath()
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logPath); err != nil {
		return nil, err
	}
	logger.SetDebug(cfg.IsDebug())
	return cfg, nil
}

// app is one wired process: foreground loop, controller and optional data
// server sharing a status channel.
type app struct {
	cfg     *config.Config
	loop    *dispatch.Loop
	metrics *metrics.Metrics
	status  *status.Channel
	server  *server.DataServer
	ctrl    *manager.Controller
}

func newApp(cfg *config.Config, surface manager.Surface, withServer bool) (*app, error) {
	a := &app{
		cfg:     cfg,
		loop:    dispatch.NewLoop(),
		metrics: metrics.New(),
	}
	a.status = status.New(a.loop)

	opts := manager.Options{
		Dispatcher: a.loop,
		Surface:    surface,
		Config:     cfg,
		Metrics:    a.metrics,
		Status:     a.status,
	}
	if withServer {
		a.server = server.New(server.Options{
			Addr:    cfg.GetServerConfig().Addr,
			Status:  a.status,
			Metrics: a.metrics,
		})
		opts.Exposer = a.server
	}

	ctrl, err := manager.New(opts)
	if err != nil {
		a.loop.Close()
		return nil, err
	}
	a.ctrl = ctrl
	return a, nil
}

// listen binds the data server's address so bind errors surface before the
// UI starts.
func (a *app) listen() (net.Listener, error) {
	addr := a.cfg.GetServerConfig().Addr
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return l, nil
}

// shutdown stops the controller, the loop and the server, in that order.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.ctrl.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("controller: %w", err))
	}
	a.loop.Close()
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
