package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/labkit/instrumental/internal/api"
	"github.com/labkit/instrumental/internal/driver"
	"github.com/labkit/instrumental/internal/paramset"
	"github.com/labkit/instrumental/internal/remote"
	"github.com/labkit/instrumental/internal/resolver"
)

// healthInterval is how often serve re-checks its connections.
const healthInterval = time.Minute

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Answer remote listing requests and, if enabled, serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

func serve(ctx context.Context, opts *globalOptions) error {
	a, err := loadApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.log.Error("shutdown error", "error", err)
		}
	}()
	log := a.log
	a.source = "serve"
	log.Info("starting instrumental", "version", version, "commit", commit, "build_date", date)

	var (
		hub       *api.Hub
		listeners []driver.Listener
	)
	if a.cfg.API.Enabled {
		hub = api.NewHub(a.cfg.API.WebSocket, log.Component("websocket"))
		listeners = append(listeners, hub)
	}
	if err := a.startInstruments(ctx, true, listeners...); err != nil {
		return err
	}

	remoteSrv, err := remote.New(remote.Deps{
		Addr: a.cfg.Remote.Listen,
		List: func(ctx context.Context, module string) ([]paramset.ParamSet, error) {
			return a.resolver.ListInstruments(ctx, resolver.ListOptions{Module: module})
		},
		Logger: log.Component("remote"),
	})
	if err != nil {
		return fmt.Errorf("creating remote server: %w", err)
	}
	if err := remoteSrv.Start(ctx); err != nil {
		return fmt.Errorf("starting remote server: %w", err)
	}
	a.onClose(remoteSrv.Close)

	if a.cfg.API.Enabled {
		apiSrv, err := api.New(api.Deps{
			Config:   a.cfg.API,
			Logger:   log.Component("api"),
			Resolver: a.resolver,
			Aliases:  a.aliases,
			Audit:    a.audit,
			Hub:      hub,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiSrv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		a.onClose(apiSrv.Close)
	}

	if err := a.healthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return nil
		case <-ticker.C:
			if err := a.healthCheck(ctx); err != nil {
				log.Warn("health check failed", "error", err)
			}
		}
	}
}
