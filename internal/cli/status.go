// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func NewStatusCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active recording session",
		RunE: func(cmd *cobra.Command, args []string) error {
			active, err := deps.Recorder.Status(cmd.Context())
			if err != nil {
				return err
			}
			if len(active) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no recording in progress")
				return nil
			}
			for _, sd := range active {
				fmt.Fprintf(cmd.OutOrStdout(), "session %s\n", sd.SessionID)
				fmt.Fprintf(cmd.OutOrStdout(), "  channel:  %s\n", sd.Channel)
				fmt.Fprintf(cmd.OutOrStdout(), "  status:   %s\n", sd.Status)
				fmt.Fprintf(cmd.OutOrStdout(), "  elapsed:  %s\n", sd.Elapsed().Round(time.Second))
				fmt.Fprintf(cmd.OutOrStdout(), "  output:   %s\n", sd.OutputDir)
				fmt.Fprintf(cmd.OutOrStdout(), "  owner:    pid %d\n", sd.OwnerPID)
			}
			return nil
		},
	}
}
