// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the idserver CLI.
package main

import (
	"os"

	"github.com/stacklok/idserver/cmd/idserver/app"
	"github.com/stacklok/idserver/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
