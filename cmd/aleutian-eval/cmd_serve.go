// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianEval/pkg/logging"
	"github.com/AleutianAI/AleutianEval/services/gateway"
	"github.com/AleutianAI/AleutianEval/services/gateway/config"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the eval gateway HTTP server",
		Long: `Run the eval gateway. Settings come from built-in defaults, the
--config file and the environment, in that order. The config file is
watched; the default API key and log level reload without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(g, port)
			if err != nil {
				return err
			}

			logger := newLogger(settings)
			defer logger.Close()
			slog.SetDefault(logger.Slog())

			svc, err := gateway.New(gateway.Config{
				Settings:   settings,
				ConfigPath: g.configPath,
				Logger:     logger,
			}, nil)
			if err != nil {
				return fmt.Errorf("failed to initialize the gateway: %w", err)
			}
			return svc.Run()
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Listen port override")
	return cmd
}

// loadSettings resolves the gateway configuration and applies flag
// overrides on top.
func loadSettings(g *globalFlags, port int) (config.Config, error) {
	settings, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if g.logLevel != "" {
		settings.Logging.Level = g.logLevel
	}
	if port != 0 {
		settings.Port = port
		if err := settings.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return settings, nil
}

func newLogger(settings config.Config) *logging.Logger {
	return logging.New(loggerConfig(settings))
}

// loggerConfig maps validated settings onto the logger. Level and format
// were checked by config.Validate, so parse errors fall back to defaults.
func loggerConfig(settings config.Config) logging.Config {
	level, err := logging.ParseLevel(settings.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	format, err := logging.ParseFormat(settings.Logging.Format)
	if err != nil {
		format = logging.FormatAuto
	}
	return logging.Config{
		Level:   level,
		LogDir:  settings.Logging.Dir,
		Service: settings.Telemetry.ServiceName,
		Format:  format,
	}
}
