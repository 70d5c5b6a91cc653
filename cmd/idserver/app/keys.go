// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stacklok/idserver/pkg/jwks"
	"github.com/stacklok/idserver/pkg/server"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the server key pairs",
	}
	cmd.AddCommand(newKeysGenerateCmd())
	return cmd
}

func newKeysGenerateCmd() *cobra.Command {
	var (
		use    string
		alg    string
		output string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a key pair and write it as a PKCS8 PEM file",
		Long: `Generate a signing or encryption key pair. The file can be referenced from
keys.signingKeyPath or keys.encryptionKeyPath in the server configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			usage := jwks.Usage(use)
			if usage != jwks.UsageSignature && usage != jwks.UsageEncryption {
				return fmt.Errorf("invalid key use %q, must be %q or %q", use, jwks.UsageSignature, jwks.UsageEncryption)
			}
			if alg == "" {
				alg = "RS256"
				if usage == jwks.UsageEncryption {
					alg = "RSA-OAEP"
				}
			}

			key, err := jwks.Generate(usage, alg)
			if err != nil {
				return err
			}
			pemBytes, err := jwks.EncodePEM(key)
			if err != nil {
				return err
			}

			flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
			if force {
				flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			}
			f, err := os.OpenFile(output, flags, 0600) // #nosec G304 - path is given by the operator
			if err != nil {
				return fmt.Errorf("failed to create key file: %w", err)
			}
			if _, err := f.Write(pemBytes); err != nil {
				_ = f.Close()
				return fmt.Errorf("failed to write key file: %w", err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("failed to write key file: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s key %s (%s) to %s\n", usage, key.Kid, key.Alg, output)
			return nil
		},
	}

	cmd.Flags().StringVar(&use, "use", string(jwks.UsageSignature), "Key use: sig or enc")
	cmd.Flags().StringVar(&alg, "alg", "", "JWS or JWE algorithm (default RS256 for sig, RSA-OAEP for enc)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Path of the PEM file to write")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func newJWKSCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jwks",
		Short: "Print the public JWK Set of the configured keys",
		Long: `Print the JWK Set published at the jwks endpoint. Only public material is
included. Keys without a configured file are generated and change on every run.`,
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
			doc, err := jwks.Document(store.PublicKeys())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(doc))
			return err
		},
	}
}
