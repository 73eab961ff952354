package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alumnet/syncengine"
	"github.com/spf13/cobra"
)

var prefsJSON bool

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Notification preferences",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show notification preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getAPIClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		p, err := client.GetPreferences(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if prefsJSON {
			return printJSON(p)
		}
		printPreferences(*p)
		return nil
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <type|email|push|quiet> <on|off>",
	Short: "Enable or disable a notification setting",
	Long: "Enable or disable one notification type (like, message, friend-request, profile-view, friend-post),\n" +
		"email or push delivery, or quiet hours.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, err := parseOnOff(args[1])
		if err != nil {
			return err
		}
		client := getAPIClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		current, err := client.GetPreferences(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		var patch syncengine.PreferencesPatch
		switch args[0] {
		case "email":
			patch.EmailNotifications = &enabled
		case "push":
			patch.PushNotifications = &enabled
		case "quiet":
			q := current.QuietHours
			q.Enabled = enabled
			patch.QuietHours = &q
		default:
			t := syncengine.NotificationType(args[0])
			if !t.Valid() {
				return fmt.Errorf("unknown setting %q", args[0])
			}
			patch = current.Toggle(t, enabled)
		}

		updated, err := client.UpdatePreferences(ctx, patch)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if prefsJSON {
			return printJSON(updated)
		}
		printPreferences(*updated)
		return nil
	},
}

func printPreferences(p syncengine.Preferences) {
	fmt.Println("Notification types:")
	for _, t := range syncengine.NotificationTypes {
		fmt.Printf("  %-15s %s\n", t, onOff(p.Allows(t)))
	}
	fmt.Println()
	fmt.Printf("Email:       %s\n", onOff(p.EmailNotifications))
	fmt.Printf("Push:        %s\n", onOff(p.PushNotifications))
	if p.QuietHours.Enabled {
		fmt.Printf("Quiet hours: on (%s - %s)\n", p.QuietHours.Start, p.QuietHours.End)
	} else {
		fmt.Println("Quiet hours: off")
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
	return b, nil
}

func init() {
	prefsCmd.PersistentFlags().BoolVar(&prefsJSON, "json", false, "Output raw JSON")
	prefsCmd.AddCommand(prefsShowCmd, prefsSetCmd)
	rootCmd.AddCommand(prefsCmd)
}
