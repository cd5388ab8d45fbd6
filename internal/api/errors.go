// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// Sentinel errors for common API failures. Wrapped errors carry the
// response detail; match with errors.Is.
var (
	// ErrNotConfigured indicates no token could be resolved.
	ErrNotConfigured = errors.New("api token not configured")

	// ErrAuthFailed indicates the token was rejected (401).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNotFound indicates the resource does not exist on the server
	// (404). Callers treat this as a stale local cache, not a failure.
	ErrNotFound = errors.New("resource not found")

	// ErrRateLimited indicates too many requests (429).
	ErrRateLimited = errors.New("rate limited")

	// ErrServer indicates a server-side failure (5xx).
	ErrServer = errors.New("server error")
)

// APIError is a structured error response from the backend.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// ErrorFromResponse maps a non-2xx response onto the error taxonomy.
// The backend sends {"code": ..., "message": ...} on errors; anything
// else becomes a bare APIError with the status text.
func ErrorFromResponse(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err == nil && len(data) > 0 {
		json.Unmarshal(data, apiErr)
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// Is maps the HTTP status onto the sentinel errors so callers can match
// either the sentinel or the concrete type.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAuthFailed:
		return e.Status == 401 || e.Status == 403
	case ErrNotFound:
		return e.Status == 404
	case ErrRateLimited:
		return e.Status == 429
	case ErrServer:
		return e.Status >= 500
	}
	return false
}
