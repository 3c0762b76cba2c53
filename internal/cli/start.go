// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func NewStartCmd(deps *Dependencies) *cobra.Command {
	var channel string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a recording session",
		Long:  "Start recording in the foreground. The session runs until interrupted (Ctrl+C), a stop marker appears in the session directory, or 'recorder stop' is invoked from another process.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return deps.Recorder.Start(ctx, channel)
		},
	}

	cmd.Flags().StringVarP(&channel, "channel", "c", "", "Channel or room label recorded into the session descriptor")

	return cmd
}
