// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package main

import (
	"fmt"
	"os"

	"github.com/rapidaai/recorder/config"
	internal_app "github.com/rapidaai/recorder/internal/app"
	internal_cli "github.com/rapidaai/recorder/internal/cli"
	internal_state "github.com/rapidaai/recorder/internal/state"
	"github.com/rapidaai/recorder/pkg/commons"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "recorder:", err)
		os.Exit(1)
	}
}

func run() error {
	v, err := config.InitConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg, err := config.GetApplicationConfig(v)
	if err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger, err := commons.NewApplicationLogger(
		commons.Name(cfg.Name),
		commons.Path(cfg.LogPath),
		commons.Level(cfg.LogLevel),
	)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	store, err := internal_state.NewStore(logger, cfg.StateDBPath)
	if err != nil {
		return fmt.Errorf("opening state db: %w", err)
	}

	// The voice transport is provided by the embedding deployment; the stock
	// binary runs the control plane only.
	recorder := internal_app.NewRecorder(logger, cfg, store, nil)

	deps := &internal_cli.Dependencies{
		Logger:   logger,
		Config:   cfg,
		Recorder: recorder,
	}
	return internal_cli.NewRootCmd(deps).Execute()
}
