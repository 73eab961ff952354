package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <token>",
	Short: "Store a session token in ~/.syncengine/config.toml",
	Long:  "Initialize syncctl by storing your bearer token. The user id and expiry are read from its claims.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigFile()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		storeToken(cfg, args[0])
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Token saved to %s\n", path)
		if cfg.Auth.UserID == "" {
			fmt.Println("Warning: no user id found in token claims; set auth.user_id manually.")
		}
		return nil
	},
}
