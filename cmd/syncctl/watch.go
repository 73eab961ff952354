package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alumnet/syncengine"
	"github.com/spf13/cobra"
)

var watchNoNotifications bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live chat and notification activity",
	Long:  "Open a session and print state changes until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, logger, err := openSession(ctx, watchNoNotifications)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer s.Close()

		changes := make(chan syncengine.Change, 256)
		unsubscribe := s.Events().Subscribe(func(c syncengine.Change) {
			select {
			case changes <- c:
			default:
			}
		})
		defer unsubscribe()

		fmt.Printf("Watching as %s (chat: %s, notifications: %s). Press Ctrl+C to stop.\n",
			s.ViewerID(), s.ChatState(), s.NotificationState())
		fmt.Printf("%d conversations, %d unread notifications\n", len(s.Conversations()), s.UnreadNotifications())

		seenToasts := make(map[string]struct{})
		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nStopped.")
				return nil
			case c := <-changes:
				printChange(s, c, seenToasts)
			}
		}
	},
}

func printChange(s *syncengine.Session, c syncengine.Change, seenToasts map[string]struct{}) {
	switch c.Kind {
	case syncengine.ChangeConnection:
		fmt.Printf("[connection] chat=%s notifications=%s\n", s.ChatState(), s.NotificationState())
	case syncengine.ChangePresence:
		fmt.Printf("[presence] %d online\n", len(s.Online()))
	case syncengine.ChangeConversations:
		if c.ConversationID == "" {
			fmt.Printf("[conversations] %d total, %d unread\n", len(s.Conversations()), s.UnreadMessages())
			return
		}
		for _, conv := range s.Conversations() {
			if conv.ID == c.ConversationID && conv.LastMessage != nil {
				fmt.Printf("[message] %s: %s (%d unread)\n", conv.Participant.ID, truncate(conv.LastMessage.Content, 60), conv.UnreadCount)
			}
		}
	case syncengine.ChangeTyping:
		if p, ok := s.TypingIn(c.ConversationID); ok {
			fmt.Printf("[typing] %s is typing...\n", valueOrDefault(p.DisplayName(), p.ID))
		}
	case syncengine.ChangeToasts:
		for _, t := range s.Toasts() {
			if _, ok := seenToasts[t.ID]; ok {
				continue
			}
			seenToasts[t.ID] = struct{}{}
			n := t.Notification
			fmt.Printf("[notification] %s %s %s\n", n.Type, n.Message, syncengine.TargetOf(n).Path())
		}
	}
}

func init() {
	watchCmd.Flags().BoolVar(&watchNoNotifications, "no-notifications", false, "Do not open the notification channel")
	rootCmd.AddCommand(watchCmd)
}
