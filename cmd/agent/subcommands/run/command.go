// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

// Package run implements the agent's main loop: broker to pipeline to
// stores and live observers.
package run

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tundzai001/land-slide-web/cmd/agent/command"
	"github.com/tundzai001/land-slide-web/pkg/analyzer"
	"github.com/tundzai001/land-slide-web/pkg/api"
	"github.com/tundzai001/land-slide-web/pkg/broker"
	"github.com/tundzai001/land-slide-web/pkg/config"
	"github.com/tundzai001/land-slide-web/pkg/hub"
	"github.com/tundzai001/land-slide-web/pkg/message"
	"github.com/tundzai001/land-slide-web/pkg/pipeline"
	"github.com/tundzai001/land-slide-web/pkg/registry"
	"github.com/tundzai001/land-slide-web/pkg/store"
	"github.com/tundzai001/land-slide-web/pkg/util/log"
	"github.com/tundzai001/land-slide-web/pkg/version"
	"github.com/tundzai001/land-slide-web/pkg/wire"
)

// systemPasswordKey is the global config row the portal reads to verify
// privileged operations.
const systemPasswordKey = "system_password"

// Command builds the run subcommand.
func Command(globalParams *command.GlobalParams) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent in the foreground",
		RunE: func(*cobra.Command, []string) error {
			return run(globalParams)
		},
	}
}

func run(globalParams *command.GlobalParams) error {
	settings, err := config.Load(globalParams.ConfFilePath)
	if err != nil {
		return err
	}

	logger, err := log.BuildLogger(settings.LogLevel, settings.LogFormat, settings.LogFile)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	log.SetupLogger(logger, settings.LogLevel)
	defer log.Flush()

	log.Infof("landslide agent %s starting", version.Full())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := store.Open(ctx, settings.Stores)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := stores.Close(); cerr != nil {
			log.Warnf("closing stores: %v", cerr)
		}
	}()

	if err := bootstrap(ctx, settings, stores); err != nil {
		return err
	}

	codec, err := wire.NewCodec(settings.AESKey, settings.AESIV)
	if err != nil {
		return fmt.Errorf("payload codec: %w", err)
	}
	if codec.Enabled() {
		log.Info("payload decryption enabled")
	}

	clk := clock.New()
	h := hub.New(clk)

	// The consumer callback late-binds the pipeline: frames only flow
	// after consumer.Run connects, well past construction.
	var pl *pipeline.Pipeline
	consumer := broker.New(settings.Broker, func(f message.Frame) { pl.Dispatch(f) }, clk)

	reg := registry.New(stores.Config, stores.Config, consumer, settings.TopicReloadInterval, clk)

	pl = pipeline.New(reg, codec, analyzer.New(), h, stores.Config, stores.Data, clk, pipeline.Options{
		SaveIntervals:       settings.SaveIntervals,
		SaveIntervalDefault: settings.SaveIntervalDefault,
	})

	srv := api.New(settings.HTTP, api.Deps{
		Hub:      h,
		Stations: stores.Config,
		Data:     stores.Data,
		Registry: reg,
		Broker:   consumer,
		Stores: map[string]api.Pinger{
			"auth":   stores.Auth,
			"config": stores.Config,
			"data":   stores.Data,
		},
		Clock: clk,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return reg.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })

	log.Info("agent up, waiting for frames")
	err = g.Wait()

	// The broker and registry are already down here, so no new frames can
	// arrive: drain the workers, then drop the observers.
	pl.Stop()
	h.Close()
	log.Info("agent stopped")
	return err
}

// bootstrap seeds the first admin account and the shared system password.
func bootstrap(ctx context.Context, settings *config.Settings, stores *store.Stores) error {
	if err := stores.Auth.EnsureDefaultAdmin(ctx, settings.DefaultAdminUsername, settings.DefaultAdminPassword); err != nil {
		return fmt.Errorf("bootstrapping admin account: %w", err)
	}
	if settings.SystemPassword != "" {
		if err := stores.Config.SetGlobalConfig(ctx, systemPasswordKey, settings.SystemPassword); err != nil {
			return fmt.Errorf("storing system password: %w", err)
		}
	}
	return nil
}
