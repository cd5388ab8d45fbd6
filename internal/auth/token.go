// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"errors"
	"os"
	"strings"

	"github.com/morganforge/converse-tui/internal/util"
)

// ErrNoToken is returned when no source in the chain yields a token.
var ErrNoToken = errors.New("no API token configured")

// TokenSource yields the bearer token attached to every request.
type TokenSource interface {
	Token() (string, error)
}

// =============================================================================
// SOURCES
// =============================================================================

// Static wraps a fixed token value.
type Static string

func (s Static) Token() (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// Env reads the token from an environment variable.
type Env string

func (e Env) Token() (string, error) {
	v := strings.TrimSpace(os.Getenv(string(e)))
	if v == "" {
		return "", ErrNoToken
	}
	return v, nil
}

// File reads the token from a file, trimming surrounding whitespace.
// The file is re-read on every call so a rotated token is picked up
// without a restart.
type File string

func (f File) Token() (string, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", err
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", ErrNoToken
	}
	return v, nil
}

// Chain tries each source in order and returns the first token found.
type Chain []TokenSource

func (c Chain) Token() (string, error) {
	for _, src := range c {
		tok, err := src.Token()
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, ErrNoToken) {
			return "", err
		}
	}
	return "", ErrNoToken
}

// =============================================================================
// HELPERS
// =============================================================================

// SaveTokenFile writes a token file with owner-only permissions.
func SaveTokenFile(path, token string) error {
	return util.AtomicWriteFile(path, []byte(token+"\n"), 0600)
}

// FromConfig builds the standard lookup chain: explicit config value,
// then the CONVERSE_TOKEN environment variable, then the token file.
func FromConfig(configToken, tokenFile string) TokenSource {
	chain := Chain{Static(configToken), Env("CONVERSE_TOKEN")}
	if tokenFile != "" {
		chain = append(chain, File(tokenFile))
	}
	return chain
}
