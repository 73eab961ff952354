package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alumnet/syncengine"
	"github.com/spf13/cobra"
)

var (
	notificationsJSON   bool
	notificationsUnread bool
)

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notif"},
	Short:   "Notification feed commands",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getAPIClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		page, err := client.ListNotifications(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		items := page.Notifications
		if notificationsUnread {
			filtered := items[:0]
			for _, n := range items {
				if !n.Read {
					filtered = append(filtered, n)
				}
			}
			items = filtered
		}

		if notificationsJSON {
			return printJSON(items)
		}
		if len(items) == 0 {
			fmt.Println("No notifications.")
			return nil
		}
		fmt.Printf("%d unread\n", page.UnreadCount)
		for _, n := range items {
			marker := " "
			if !n.Read {
				marker = "*"
			}
			target := syncengine.TargetOf(n).Path()
			fmt.Printf("%s %s  %-14s %-12s %s", marker, n.ID, n.Type, relTime(n.CreatedAt), n.Message)
			if target != "" {
				fmt.Printf("  -> %s", target)
			}
			fmt.Println()
		}
		return nil
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read <notification-id>",
	Short: "Mark a notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getAPIClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.MarkNotificationRead(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Printf("Notification %s marked as read\n", args[0])
		return nil
	},
}

var notificationsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every notification as read",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getAPIClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.MarkAllNotificationsRead(ctx); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Println("All notifications marked as read")
		return nil
	},
}

var notificationsDeleteCmd = &cobra.Command{
	Use:   "delete <notification-id>",
	Short: "Delete a notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getAPIClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.DeleteNotification(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Printf("Notification %s deleted\n", args[0])
		return nil
	},
}

func init() {
	notificationsListCmd.Flags().BoolVar(&notificationsJSON, "json", false, "Output raw JSON")
	notificationsListCmd.Flags().BoolVar(&notificationsUnread, "unread", false, "Only unread notifications")

	notificationsCmd.AddCommand(notificationsListCmd, notificationsReadCmd, notificationsReadAllCmd, notificationsDeleteCmd)
	rootCmd.AddCommand(notificationsCmd)
}
