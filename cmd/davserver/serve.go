package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyp0633/libdav/internal/config"
	"github.com/pkg/errors"
)

type ServeCmd struct {
	Config string `short:"c" type:"path" help:"Configuration file (YAML or TOML)" env:"LIBDAV_CONFIG"`
}

func (c *ServeCmd) Run(ctx context.Context) error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	logger, logCloser, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to release resources", "error", err)
		}
	}()

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: a.handler}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "base_uri", cfg.Server.BaseURI)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "server stopped")
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

type CheckConfigCmd struct {
	Config string `short:"c" type:"path" required:"" help:"Configuration file (YAML or TOML)"`
}

func (c *CheckConfigCmd) Run() error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	fmt.Printf("configuration OK: backend=%s properties=%s base_uri=%s\n",
		cfg.Backend.Type, cfg.Properties.Type, cfg.Server.BaseURI)
	return nil
}
