// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ManuGH/recingest/internal/alert"
	"github.com/ManuGH/recingest/internal/config"
	"github.com/spf13/cobra"
)

func newDeadLetterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect alerts awaiting re-delivery",
	}

	var dir string
	list := &cobra.Command{
		Use:   "list",
		Short: "List pending dead-letter entries, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				dir = filepath.Join(config.Defaults().DataDir, "deadletter")
			}
			store, err := alert.OpenDeadLetterStore(dir)
			if err != nil {
				return err
			}
			entries, err := store.List()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no pending alerts")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tSEVERITY\tKIND\tATTEMPTS\tSUBJECT")
			for _, e := range entries {
				a := e.Alert
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					a.CreatedAt.Format(time.RFC3339), a.Severity, a.Kind, a.DeliveryAttempts, firstLine(a.Subject))
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&dir, "dir", "", "dead-letter directory (default <dataDir>/deadletter)")
	cmd.AddCommand(list)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return errors.New("missing subcommand: list")
	}
	return cmd
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
