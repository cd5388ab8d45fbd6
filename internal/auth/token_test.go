// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStatic(t *testing.T) {
	tok, err := Static("abc").Token()
	if err != nil || tok != "abc" {
		t.Errorf("Static.Token() = %q, %v", tok, err)
	}
	if _, err := Static("").Token(); !errors.Is(err, ErrNoToken) {
		t.Errorf("empty Static error = %v, want ErrNoToken", err)
	}
}

func TestEnv(t *testing.T) {
	t.Setenv("CONVERSE_TEST_TOKEN", "  tok-env \n")
	tok, err := Env("CONVERSE_TEST_TOKEN").Token()
	if err != nil || tok != "tok-env" {
		t.Errorf("Env.Token() = %q, %v", tok, err)
	}

	t.Setenv("CONVERSE_TEST_TOKEN", "")
	if _, err := Env("CONVERSE_TEST_TOKEN").Token(); !errors.Is(err, ErrNoToken) {
		t.Errorf("unset Env error = %v, want ErrNoToken", err)
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")

	if _, err := File(path).Token(); !errors.Is(err, ErrNoToken) {
		t.Errorf("missing file error = %v, want ErrNoToken", err)
	}

	if err := SaveTokenFile(path, "tok-file"); err != nil {
		t.Fatalf("SaveTokenFile() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("token file mode = %o, want 0600", info.Mode().Perm())
	}

	tok, err := File(path).Token()
	if err != nil || tok != "tok-file" {
		t.Errorf("File.Token() = %q, %v", tok, err)
	}
}

func TestChainOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	SaveTokenFile(path, "from-file")

	chain := Chain{Static(""), Env("CONVERSE_UNSET_VAR"), File(path)}
	tok, err := chain.Token()
	if err != nil || tok != "from-file" {
		t.Errorf("Chain.Token() = %q, %v", tok, err)
	}

	chain = Chain{Static("explicit"), File(path)}
	tok, _ = chain.Token()
	if tok != "explicit" {
		t.Errorf("Chain must prefer earlier sources, got %q", tok)
	}

	if _, err := (Chain{Static("")}).Token(); !errors.Is(err, ErrNoToken) {
		t.Errorf("exhausted chain error = %v, want ErrNoToken", err)
	}
}
