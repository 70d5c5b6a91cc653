// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/idserver/pkg/discovery"
	"github.com/stacklok/idserver/pkg/server"
)

func newDiscoveryCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "discovery",
		Short: "Print the provider metadata document",
		Long: `Print the OpenID Provider metadata, with the UMA 2.0 fields, that the
configuration publishes at ` + discovery.WellKnownPath + `.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := server.NewKeyStore(cfg.Keys)
			if err != nil {
				return err
			}
			metadata := discovery.Build(cfg.Issuer, cfg.ScopesSupported, store.PublicKeys())
			if err := metadata.Validate(); err != nil {
				return err
			}

			switch format {
			case "json":
				return printJSON(cmd.OutOrStdout(), metadata)
			case "yaml":
				return printYAML(cmd.OutOrStdout(), metadata)
			default:
				return fmt.Errorf("unsupported format %q, must be json or yaml", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or yaml")

	return cmd
}

// printYAML renders v with its JSON field names.
func printYAML(w io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
