package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alumnet/syncengine"
	"github.com/spf13/cobra"
)

var loginJSON bool

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "One-time code login",
}

var loginVerifyCmd = &cobra.Command{
	Use:   "verify <email> <otp>",
	Short: "Verify a 6-digit one-time code",
	Long:  "Verify the one-time code sent to your email. A returned token is stored in the config.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, code := args[0], args[1]
		if err := syncengine.ValidateOTP(code); err != nil {
			return err
		}

		cfg, err := loadConfigFile()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		env, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client := syncengine.NewAPIClient("", apiOptions(env)...)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.VerifyOTP(ctx, email, code)
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		if loginJSON {
			return printJSON(result)
		}

		cfg.Auth.Email = email
		if result.Token != "" {
			storeToken(cfg, result.Token)
		}
		if cfg.Auth.UserID == "" {
			cfg.Auth.UserID = result.User.ID
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Verified %s", email)
		if name := result.User.DisplayName(); name != "" {
			fmt.Printf(" (%s)", name)
		}
		fmt.Println()
		if result.Token == "" {
			fmt.Println("No token returned; log in and run 'syncctl init <token>'.")
		}
		return nil
	},
}

var loginResendCmd = &cobra.Command{
	Use:   "resend <email>",
	Short: "Request a new one-time code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client := syncengine.NewAPIClient("", apiOptions(cfg)...)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.ResendOTP(ctx, args[0]); err != nil {
			return fmt.Errorf("resend failed: %w", err)
		}
		fmt.Println("OTP resent successfully!")
		return nil
	},
}

func init() {
	loginVerifyCmd.Flags().BoolVar(&loginJSON, "json", false, "Output raw JSON")
	loginCmd.AddCommand(loginVerifyCmd, loginResendCmd)
	rootCmd.AddCommand(loginCmd)
}
