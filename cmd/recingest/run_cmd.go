// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"os"
	"strings"

	"github.com/ManuGH/recingest/internal/config"
	"github.com/ManuGH/recingest/internal/daemon"
	xglog "github.com/ManuGH/recingest/internal/log"
	"github.com/ManuGH/recingest/internal/version"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ingest daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Configure logger with safe defaults until config is loaded
			xglog.Configure(xglog.Config{Level: "info", Version: version.Version})

			if configPath == "" {
				configPath = strings.TrimSpace(os.Getenv("RECINGEST_CONFIG"))
			}
			cfg, err := config.NewLoader(configPath, version.Version).Load()
			if err != nil {
				return err
			}
			xglog.Configure(xglog.Config{
				Level:   cfg.LogLevel,
				Service: cfg.LogService,
				Version: version.Version,
			})

			ctx, stop := daemon.WaitForShutdown()
			defer stop()
			return daemon.Run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML); defaults to $RECINGEST_CONFIG")
	return cmd
}
