// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_cli

import (
	"github.com/spf13/cobra"

	"github.com/rapidaai/recorder/config"
	internal_app "github.com/rapidaai/recorder/internal/app"
	"github.com/rapidaai/recorder/pkg/commons"
)

// Dependencies carries everything the commands share; built once in main.
type Dependencies struct {
	Logger   commons.Logger
	Config   *config.AppConfig
	Recorder *internal_app.Recorder
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "recorder",
		Short: "Synchronized multi-track voice recording",
		Long:  "Records each participant of a voice session to their own time-aligned audio file: silence fills absences so every track shares one timeline.",
	}

	rootCmd.Version = deps.Config.Version
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(NewStartCmd(deps))
	rootCmd.AddCommand(NewStopCmd(deps))
	rootCmd.AddCommand(NewStatusCmd(deps))

	return rootCmd
}
