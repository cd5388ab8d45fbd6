// converse - a terminal client for streaming chat backends.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/morganforge/converse-tui/internal/api"
	"github.com/morganforge/converse-tui/internal/auth"
	"github.com/morganforge/converse-tui/internal/config"
	"github.com/morganforge/converse-tui/internal/model"
	"github.com/morganforge/converse-tui/internal/storage"
	"github.com/morganforge/converse-tui/internal/store"
	"github.com/morganforge/converse-tui/internal/stream"
	"github.com/morganforge/converse-tui/internal/ui/chat"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			printVersion()
			return
		case "config":
			handleConfig(os.Args[2:])
			return
		case "help", "--help", "-h":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "converse: unknown command %q\n\n", os.Args[1])
			printUsage()
			os.Exit(2)
		}
	}

	if err := runTUI(); err != nil {
		fmt.Fprintf(os.Stderr, "converse: %v\n", err)
		os.Exit(1)
	}
}

func runTUI() error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("stdout is not a terminal")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	config.SetGlobal(cfg)

	logger, closeLogs, err := openLogger(cfg)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer closeLogs()

	logger.Info("starting converse",
		zap.String("version", Version),
		zap.String("baseURL", cfg.Server.BaseURL))

	tokens := auth.FromConfig(cfg.Server.Token, cfg.Server.TokenFile)
	client := api.NewClient(cfg.Server.BaseURL, tokens, logger).
		WithTimeout(cfg.RequestTimeout())
	transport := stream.NewTransport(client, cfg.IdleTimeout(), logger)

	historyDir, err := cfg.HistoryDir()
	if err != nil {
		return fmt.Errorf("resolve history dir: %w", err)
	}
	history := storage.NewStore(historyDir, cfg.History.MaxConversations, logger)

	st := store.New(store.Options{
		Client:   client,
		Streamer: transport,
		History:  history,
		Logger:   logger,
		DefaultModel: model.ModelRef{
			Provider: cfg.Chat.Provider,
			Name:     cfg.Chat.Model,
		},
		SystemPrompt: cfg.Chat.SystemPrompt,
	})

	// Cached conversations are visible immediately, before the first
	// server round trip.
	st.Restore()

	watcher := watchConfig(logger)
	if watcher != nil {
		defer watcher.Close()
	}

	p := tea.NewProgram(
		chat.New(st, cfg, logger),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}

// watchConfig hot-reloads the global config on file changes. Failures
// are logged and ignored: a broken watcher never blocks startup.
func watchConfig(logger *zap.Logger) *config.Watcher {
	path, err := config.Path()
	if err != nil {
		return nil
	}
	watcher, err := config.NewWatcher(path, 500*time.Millisecond, func(next *config.Config) {
		config.SetGlobal(next)
		logger.Info("config reloaded", zap.String("path", path))
	})
	if err != nil {
		logger.Warn("config watcher unavailable", zap.Error(err))
		return nil
	}
	if err := watcher.Watch(); err != nil {
		logger.Warn("config watcher unavailable", zap.Error(err))
		watcher.Close()
		return nil
	}
	return watcher
}

// openLogger writes structured logs to ~/.converse/logs/converse.log.
// Stdout and stderr belong to the TUI.
func openLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, nil, err
	}
	logDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return nil, nil, err
	}

	file, err := os.OpenFile(filepath.Join(logDir, "converse.log"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}

	level := zapcore.InfoLevel
	if parsed, parseErr := zapcore.ParseLevel(cfg.UI.LogLevel); parseErr == nil {
		level = parsed
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.AddSync(file),
		level,
	)
	logger := zap.New(core)

	closeLogs := func() {
		_ = logger.Sync()
		_ = file.Close()
	}
	return logger, closeLogs, nil
}

func handleConfig(args []string) {
	if len(args) > 0 && args[0] == "path" {
		path, err := config.Path()
		if err != nil {
			fmt.Fprintf(os.Stderr, "converse: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(path)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "converse: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("server.base_url = %s\n", cfg.Server.BaseURL)
	fmt.Printf("chat.provider   = %s\n", cfg.Chat.Provider)
	fmt.Printf("chat.model      = %s\n", cfg.Chat.Model)
	fmt.Printf("ui.theme        = %s\n", cfg.UI.Theme)
	fmt.Printf("ui.markdown     = %v\n", cfg.UI.Markdown)
	fmt.Printf("history.max     = %d\n", cfg.History.MaxConversations)
}

func printVersion() {
	fmt.Printf("converse %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
}

func printUsage() {
	fmt.Println(`converse - terminal client for streaming chat backends

Usage:
  converse              launch the chat interface
  converse config       print the effective configuration
  converse config path  print the config file location
  converse version      print version information
  converse help         show this help

Configuration lives at ~/.converse/config.toml. Environment overrides:
  CONVERSE_BASE_URL, CONVERSE_TOKEN, CONVERSE_MODEL, CONVERSE_LOG_LEVEL`)
}
