package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alumnet/syncengine"
	"github.com/dustin/go-humanize"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// mustConfig loads the config and exits when no token is set.
func mustConfig() *Config {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'syncctl init <token>' or 'syncctl login verify' first.")
		os.Exit(1)
	}
	return cfg
}

func apiOptions(cfg *Config) []syncengine.APIOption {
	var opts []syncengine.APIOption
	if cfg.Default.ChatURL != "" {
		opts = append(opts, syncengine.WithChatURL(cfg.Default.ChatURL))
	}
	if cfg.Default.NotificationURL != "" {
		opts = append(opts, syncengine.WithNotificationURL(cfg.Default.NotificationURL))
	}
	if cfg.Default.APIURL != "" {
		opts = append(opts, syncengine.WithAPIURL(cfg.Default.APIURL))
	}
	return opts
}

// getAPIClient creates a REST client authenticated with the stored token.
func getAPIClient() *syncengine.APIClient {
	cfg := mustConfig()
	return syncengine.NewAPIClient(cfg.Auth.Token, apiOptions(cfg)...)
}

func newLogger(cfg *Config) *zap.Logger {
	logger, err := syncengine.NewLogger(cfg.Default.LogLevel, cfg.Default.LogJSON, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid logging config, using defaults: %v\n", err)
		logger, _ = syncengine.NewLogger("", false, os.Stderr)
	}
	return logger
}

// openSession connects a full engine session.
func openSession(ctx context.Context, disableNotifications bool) (*syncengine.Session, *zap.Logger, error) {
	cfg := mustConfig()
	logger := newLogger(cfg)
	s, err := syncengine.NewSession(ctx, syncengine.Config{
		Token:                cfg.Auth.Token,
		ViewerID:             cfg.Auth.UserID,
		ChatURL:              cfg.Default.ChatURL,
		NotificationURL:      cfg.Default.NotificationURL,
		APIURL:               cfg.Default.APIURL,
		DisableNotifications: disableNotifications,
		Backend:              getAPIClient(),
		Logger:               logger,
	})
	if err != nil {
		logger.Sync()
		return nil, nil, err
	}
	return s, logger, nil
}

// storeToken saves a credential along with what its claims reveal.
func storeToken(cfg *Config, token string) {
	cfg.Auth.Token = token
	if id, err := syncengine.ViewerFromToken(token); err == nil {
		cfg.Auth.UserID = id
	}
	if exp, ok, err := syncengine.TokenExpiry(token); err == nil && ok {
		cfg.Auth.TokenExpires = exp.UTC().Format(time.RFC3339)
	} else {
		cfg.Auth.TokenExpires = ""
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// relTime renders t relative to now, or "never" for the zero time.
func relTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

// maskToken shows the first 8 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 16 {
		return "****"
	}
	return token[:8] + "..." + token[len(token)-4:]
}
