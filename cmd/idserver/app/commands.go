// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the commands of the idserver CLI.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/idserver/pkg/config"
	"github.com/stacklok/idserver/pkg/logger"
)

const configFlag = "config"

// NewRootCmd creates the root command of the idserver CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "idserver",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "idserver inspects and prepares an OpenID Connect and UMA 2.0 identity server",
		Long: `idserver is the operator tool of the identity server engine. It validates
configuration files, manages the server keys and prints the public documents
(JWK Set and provider metadata) the configuration produces.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				logger.Errorw("error displaying help", "error", err)
			}
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	rootCmd.PersistentFlags().StringP(configFlag, "c", "", "Path to the server configuration file")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorw("error binding debug flag", "error", err)
	}

	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newKeysCmd())
	rootCmd.AddCommand(newJWKSCmd())
	rootCmd.AddCommand(newDiscoveryCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// loadConfig reads the file named by --config. Without the flag the
// defaults and IDSERVER_* environment variables make up the configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString(configFlag)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}
