package main

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alumnet/syncengine"
	"github.com/spf13/cobra"
)

var searchJSON bool

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search users by name",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.TrimSpace(strings.Join(args, " "))
		if utf8.RuneCountInString(query) < syncengine.MinSearchLength {
			return syncengine.ErrQueryTooShort
		}

		cfg := mustConfig()
		client := syncengine.NewAPIClient(cfg.Auth.Token, apiOptions(cfg)...)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		users, err := client.SearchUsers(ctx, query)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		results := users[:0]
		for _, u := range users {
			if u.ID != cfg.Auth.UserID {
				results = append(results, u)
			}
		}

		if searchJSON {
			return printJSON(results)
		}
		if len(results) == 0 {
			fmt.Println("No users found.")
			return nil
		}
		for _, u := range results {
			fmt.Printf("%s  %-24s %s\n", u.ID, u.DisplayName(), u.Occupation)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Output raw JSON")
	rootCmd.AddCommand(searchCmd)
}
