package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rickgao/remote-input/internal/config"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	baseURL    string
	logLevel   string
	forceHTTP  bool
}

func (o *rootOptions) bind(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVarP(&o.configPath, "config", "c", "", "Path to YAML config file (defaults only when empty)")
	flags.StringVar(&o.baseURL, "base-url", "", "Remote service URL, overrides remote.base_url")
	flags.StringVar(&o.logLevel, "log-level", "", "Log level, overrides log.level")
	flags.BoolVar(&o.forceHTTP, "http", false, "Use HTTP only and never open the websocket")
}

// load reads the config file and applies flag overrides before validating.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.LoadWithDefaults(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.baseURL != "" {
		cfg.Remote.BaseURL = o.baseURL
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.forceHTTP {
		cfg.Remote.ForceHTTP = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the text logger used by every command.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, err := cfg.LogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
