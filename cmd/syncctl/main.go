package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.syncengine/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Auth    ConfigAuth    `toml:"auth"`
}

// ConfigDefault holds service endpoints and logging settings.
type ConfigDefault struct {
	ChatURL         string `toml:"chat_url"`
	NotificationURL string `toml:"notification_url"`
	APIURL          string `toml:"api_url"`
	LogLevel        string `toml:"log_level"`
	LogJSON         bool   `toml:"log_json"`
}

// ConfigAuth holds the session credential.
type ConfigAuth struct {
	Token        string `toml:"token"`
	UserID       string `toml:"user_id"`
	Email        string `toml:"email"`
	TokenExpires string `toml:"token_expires"`
}

// envPrefix namespaces environment overrides, e.g. SYNCENGINE_TOKEN.
const envPrefix = "SYNCENGINE_"

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.syncengine, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".syncengine")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads the config file and applies environment overrides.
// A missing file yields a zero-value Config.
func loadConfig() (*Config, error) {
	cfg, err := loadConfigFile()
	if err != nil {
		return nil, err
	}
	// .env in the working directory is optional.
	_ = godotenv.Load()
	if _, err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadConfigFile reads the file only, for commands that write it back.
func loadConfigFile() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// configKeys maps dot-notation keys to their environment variable suffix.
var configKeys = []struct{ key, env string }{
	{"default.chat_url", "CHAT_URL"},
	{"default.notification_url", "NOTIFICATION_URL"},
	{"default.api_url", "API_URL"},
	{"default.log_level", "LOG_LEVEL"},
	{"default.log_json", "LOG_JSON"},
	{"auth.token", "TOKEN"},
	{"auth.user_id", "USER_ID"},
	{"auth.email", "EMAIL"},
}

// applyEnv overlays SYNCENGINE_* variables onto cfg and returns the keys it
// overrode. A token from the environment brings its own identity: user_id and
// token_expires are re-derived from its claims unless set explicitly.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) (map[string]bool, error) {
	overridden := make(map[string]bool)
	for _, k := range configKeys {
		if v, ok := lookup(envPrefix + k.env); ok && v != "" {
			if err := setConfigValue(cfg, k.key, v); err != nil {
				return nil, fmt.Errorf("%s%s: %w", envPrefix, k.env, err)
			}
			overridden[k.key] = true
		}
	}
	if overridden["auth.token"] {
		userID := cfg.Auth.UserID
		cfg.Auth.UserID = ""
		storeToken(cfg, cfg.Auth.Token)
		if overridden["auth.user_id"] {
			cfg.Auth.UserID = userID
		}
	}
	return overridden, nil
}

// setConfigValue sets a config field using dot notation (e.g. "auth.token").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.chat_url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "chat_url":
			cfg.Default.ChatURL = value
		case "notification_url":
			cfg.Default.NotificationURL = value
		case "api_url":
			cfg.Default.APIURL = value
		case "log_level":
			cfg.Default.LogLevel = value
		case "log_json":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("log_json must be true or false")
			}
			cfg.Default.LogJSON = b
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "token":
			cfg.Auth.Token = value
		case "user_id":
			cfg.Auth.UserID = value
		case "email":
			cfg.Auth.Email = value
		case "token_expires":
			cfg.Auth.TokenExpires = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, auth)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "syncctl",
	Short: "alumnet sync engine CLI",
	Long:  "Command-line client for the alumnet chat and notification services.\nManage configuration, watch live events, send messages and manage notifications.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
