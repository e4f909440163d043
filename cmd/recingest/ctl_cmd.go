// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ManuGH/recingest/internal/config"
	"github.com/ManuGH/recingest/internal/control"
	"github.com/spf13/cobra"
)

func newCtlCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:       "ctl [ping|pause|resume|stats|errors]",
		Short:     "Send a command to the running daemon",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{control.CmdPing, control.CmdPause, control.CmdResume, control.CmdStats, control.CmdErrors},
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.Client{Addr: addr, Timeout: timeout}
			rep, err := client.Do(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(rep.Data) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			}
			var out bytes.Buffer
			if err := json.Indent(&out, rep.Data, "", "  "); err != nil {
				return fmt.Errorf("format reply: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", config.DefaultControlAddr, "control endpoint address")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}
