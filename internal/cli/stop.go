// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_cli

import (
	"github.com/spf13/cobra"
)

func NewStopCmd(deps *Dependencies) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop an in-progress recording session",
		Long:  "Request a stop via the session's marker file, wait for the owning process to finish its teardown, and kill it if it does not react within the grace windows.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.Recorder.Stop(cmd.Context(), sessionID)
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id (defaults to the single active session)")

	return cmd
}
