package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/alumnet/syncengine"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)

	configShowCmd.Flags().BoolVar(&configShowFile, "file", false, "print the configuration file as stored")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage syncctl configuration",
	Long:  "View or modify the configuration stored in ~/.syncengine/config.toml.\nSYNCENGINE_* environment variables (and a local .env file) override it.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  "Print every setting after environment overrides, with where each value came from.\nUse --file to print the configuration file as stored.",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		if configShowFile {
			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("No configuration file found. Run 'syncctl init <token>' to create one.")
					return nil
				}
				return fmt.Errorf("cannot read config file: %w", err)
			}
			fmt.Print(string(data))
			return nil
		}

		file, err := loadConfigFile()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		// .env in the working directory is optional.
		_ = godotenv.Load()
		entries, err := effectiveConfig(file, os.LookupEnv)
		if err != nil {
			return err
		}

		fmt.Printf("# %s\n", path)
		for _, e := range entries {
			fmt.Printf("%-26s %-44s (%s)\n", e.Key, e.Value, e.Source)
		}
		return nil
	},
}

var configShowFile bool

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: syncctl config set default.chat_url http://localhost:4000",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfigFile()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}

// configEntry is one line of 'config show'.
type configEntry struct {
	Key    string
	Value  string
	Source string // env, file, token, default or unset
}

// effectiveConfig resolves every setting the way loadConfig does and records
// where each value came from. The token is masked.
func effectiveConfig(file *Config, lookup func(string) (string, bool)) ([]configEntry, error) {
	eff := *file
	overridden, err := applyEnv(&eff, lookup)
	if err != nil {
		return nil, err
	}

	defaults := map[string]string{
		"default.chat_url":         syncengine.DefaultChatURL,
		"default.notification_url": syncengine.DefaultNotificationURL,
		"default.api_url":          syncengine.DefaultAPIURL,
		"default.log_level":        "info",
	}
	keys := make([]string, 0, len(configKeys)+1)
	for _, k := range configKeys {
		keys = append(keys, k.key)
	}
	keys = append(keys, "auth.token_expires")

	entries := make([]configEntry, 0, len(keys))
	for _, key := range keys {
		e := configEntry{Key: key, Value: configValue(&eff, key)}
		switch {
		case overridden[key]:
			e.Source = "env"
		case overridden["auth.token"] && (key == "auth.user_id" || key == "auth.token_expires"):
			e.Source = "token"
		case e.Value != "" && e.Value != configValue(&Config{}, key):
			e.Source = "file"
		case defaults[key] != "":
			e.Value, e.Source = defaults[key], "default"
		case key == "default.log_json":
			e.Source = "default"
		default:
			e.Source = "unset"
		}
		if key == "auth.token" && e.Value != "" {
			e.Value = maskToken(e.Value)
		}
		if e.Value == "" {
			e.Value = "-"
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// configValue reads a config field using dot notation.
func configValue(cfg *Config, key string) string {
	switch key {
	case "default.chat_url":
		return cfg.Default.ChatURL
	case "default.notification_url":
		return cfg.Default.NotificationURL
	case "default.api_url":
		return cfg.Default.APIURL
	case "default.log_level":
		return cfg.Default.LogLevel
	case "default.log_json":
		return strconv.FormatBool(cfg.Default.LogJSON)
	case "auth.token":
		return cfg.Auth.Token
	case "auth.user_id":
		return cfg.Auth.UserID
	case "auth.email":
		return cfg.Auth.Email
	case "auth.token_expires":
		return cfg.Auth.TokenExpires
	}
	return ""
}
