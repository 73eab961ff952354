package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alumnet/syncengine"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration, check whether the token is expired, and fetch live unread counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Chat service:         %s\n", valueOrDefault(cfg.Default.ChatURL, syncengine.DefaultChatURL))
		fmt.Printf("  Notification service: %s\n", valueOrDefault(cfg.Default.NotificationURL, syncengine.DefaultNotificationURL))
		fmt.Printf("  API:                  %s\n", valueOrDefault(cfg.Default.APIURL, syncengine.DefaultAPIURL))

		fmt.Println()
		fmt.Println("Auth:")
		fmt.Printf("  User ID: %s\n", valueOrDefault(cfg.Auth.UserID, "(unknown)"))
		if cfg.Auth.Email != "" {
			fmt.Printf("  Email:   %s\n", cfg.Auth.Email)
		}

		tokenStatus := "none"
		if cfg.Auth.Token != "" {
			tokenStatus = tokenState(cfg.Auth.Token)
			fmt.Printf("  Token:   %s\n", maskToken(cfg.Auth.Token))
		}
		fmt.Printf("  Status:  %s\n", tokenStatus)

		if cfg.Auth.Token == "" {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")
		client := syncengine.NewAPIClient(cfg.Auth.Token, apiOptions(cfg)...)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		convs, err := client.ListConversations(ctx)
		if err != nil {
			fmt.Printf("  Error fetching conversations: %v\n", err)
		} else {
			unread := 0
			for _, c := range convs {
				unread += c.UnreadCount
			}
			fmt.Printf("  Conversations:        %d (%d unread messages)\n", len(convs), unread)
		}

		page, err := client.ListNotifications(ctx)
		if err != nil {
			fmt.Printf("  Error fetching notifications: %v\n", err)
		} else {
			fmt.Printf("  Notifications:        %d (%d unread)\n", len(page.Notifications), page.UnreadCount)
		}
		return nil
	},
}

func tokenState(token string) string {
	exp, ok, err := syncengine.TokenExpiry(token)
	switch {
	case err != nil:
		return fmt.Sprintf("present (unparseable: %v)", err)
	case !ok:
		return "present (no expiry set)"
	case time.Now().Before(exp):
		return fmt.Sprintf("valid (expires %s)", humanize.Time(exp))
	default:
		return fmt.Sprintf("EXPIRED (expired %s)", humanize.Time(exp))
	}
}
