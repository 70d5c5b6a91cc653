// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"
)

var (
	// ErrNotFound is returned when a token or code does not exist.
	ErrNotFound = httperr.WithCode(
		errors.New("not found"),
		http.StatusNotFound,
	)

	// ErrAlreadyExists is returned when a token or code collides with an
	// existing entry.
	ErrAlreadyExists = httperr.WithCode(
		errors.New("already exists"),
		http.StatusConflict,
	)
)
