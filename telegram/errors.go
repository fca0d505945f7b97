// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

package telegram

import (
	"errors"
	"fmt"
	"time"
)

// APIError represents a structured error response from the Bot API.
// Callers can use errors.As to extract the structured information:
//
//	var apiErr *telegram.APIError
//	if errors.As(err, &apiErr) {
//	    if apiErr.Code == http.StatusTooManyRequests { ... }
//	}
type APIError struct {
	// Code is the Bot API error code. It usually matches the HTTP
	// status code (400, 401, 429, ...).
	Code int

	// Description is the human-readable error text from the server.
	Description string

	// RetryAfter is the flood-control wait the server requested, zero
	// when the response carried no retry hint.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram: %d: %s (retry after %s)", e.Code, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram: %d: %s", e.Code, e.Description)
}

// RetryDelay returns the server-requested flood-control wait from err,
// or zero if err is not an APIError carrying one.
func RetryDelay(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
