package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alumnet/syncengine"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	chatConversationsJSON   bool
	chatConversationsUnread bool

	chatMessagesLimit int
	chatMessagesJSON  bool

	chatSendTo      string
	chatSendTimeout time.Duration
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat commands",
	Long:  "List conversations and messages, and send messages over the real-time channel.",
}

// ============================================================================
// chat conversations
// ============================================================================

var chatConversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getAPIClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		list, err := client.ListConversations(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		// Reuse the store so ordering matches the engine.
		store := syncengine.NewConversations()
		store.Replace(list)
		convs := store.List()
		if chatConversationsUnread {
			filtered := convs[:0]
			for _, c := range convs {
				if c.UnreadCount > 0 {
					filtered = append(filtered, c)
				}
			}
			convs = filtered
		}

		if chatConversationsJSON {
			return printJSON(convs)
		}
		if len(convs) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		for _, c := range convs {
			name := valueOrDefault(c.Participant.DisplayName(), c.Participant.ID)
			last := ""
			if c.LastMessage != nil {
				last = truncate(c.LastMessage.Content, 50)
			}
			unread := ""
			if c.UnreadCount > 0 {
				unread = fmt.Sprintf(" [%d unread]", c.UnreadCount)
			}
			fmt.Printf("%s  %-24s %-12s %s%s\n", c.ID, name, relTime(c.LastActivity), last, unread)
		}
		return nil
	},
}

// ============================================================================
// chat messages
// ============================================================================

var chatMessagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show a conversation's history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getAPIClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		page, err := client.ListMessages(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		timelines := syncengine.NewTimelines()
		timelines.Replace(args[0], page.Messages)
		msgs := timelines.Messages(args[0])
		if chatMessagesLimit > 0 && len(msgs) > chatMessagesLimit {
			msgs = msgs[len(msgs)-chatMessagesLimit:]
		}

		if chatMessagesJSON {
			return printJSON(msgs)
		}
		if len(msgs) == 0 {
			fmt.Println("No messages found.")
			return nil
		}
		for _, m := range msgs {
			fmt.Printf("[%s] %s: %s\n", relTime(m.CreatedAt), m.Sender.DisplayName(), m.Content)
		}
		return nil
	},
}

// ============================================================================
// chat send
// ============================================================================

var chatSendCmd = &cobra.Command{
	Use:   "send [conversation-id] <message>",
	Short: "Send a message over the real-time channel",
	Long:  "Send a message to an existing conversation, or start one with --to <user-id>.\nThe command waits for the server echo before exiting.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var conversationID, body string
		switch {
		case chatSendTo != "" && len(args) == 1:
			body = args[0]
		case chatSendTo == "" && len(args) == 2:
			conversationID, body = args[0], args[1]
		default:
			return errors.New("pass either <conversation-id> <message> or --to <user-id> <message>")
		}
		if err := syncengine.ValidateMessageBody(body); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), chatSendTimeout)
		defer cancel()

		s, logger, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer s.Close()

		if err := waitConnected(ctx, s); err != nil {
			return err
		}

		if chatSendTo != "" {
			conv, err := s.StartConversation(syncengine.Profile{ID: chatSendTo})
			if err != nil {
				return err
			}
			conversationID = conv.ID
		}

		echoed := make(chan struct{}, 1)
		unsubscribe := s.Events().Subscribe(func(c syncengine.Change) {
			if c.Kind == syncengine.ChangeConversations && c.ConversationID != "" {
				select {
				case echoed <- struct{}{}:
				default:
				}
			}
		})
		defer unsubscribe()

		if err := s.SendMessage(conversationID, body); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		select {
		case <-echoed:
			fmt.Println("Message delivered.")
		case <-ctx.Done():
			fmt.Println("Message sent (no echo received before timeout).")
		}
		if chatSendTo != "" {
			if conv, ok := s.ActiveConversation(); ok && !conv.IsPlaceholder() {
				fmt.Printf("Conversation: %s\n", conv.ID)
			}
		}
		return nil
	},
}

// waitConnected blocks until the chat channel is up.
func waitConnected(ctx context.Context, s *syncengine.Session) error {
	if s.ChatState() == syncengine.StateConnected {
		return nil
	}
	ready := make(chan struct{}, 1)
	unsubscribe := s.Events().Subscribe(func(c syncengine.Change) {
		if c.Kind == syncengine.ChangeConnection {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	for s.ChatState() != syncengine.StateConnected {
		select {
		case <-ready:
		case <-ctx.Done():
			return fmt.Errorf("chat channel not connected: %w", syncengine.ErrNotConnected)
		}
	}
	return nil
}

func init() {
	chatConversationsCmd.Flags().BoolVar(&chatConversationsJSON, "json", false, "Output raw JSON")
	chatConversationsCmd.Flags().BoolVar(&chatConversationsUnread, "unread", false, "Only conversations with unread messages")

	chatMessagesCmd.Flags().IntVarP(&chatMessagesLimit, "limit", "n", 0, "Show only the last N messages")
	chatMessagesCmd.Flags().BoolVar(&chatMessagesJSON, "json", false, "Output raw JSON")

	chatSendCmd.Flags().StringVar(&chatSendTo, "to", "", "Start or reuse the conversation with this user id")
	chatSendCmd.Flags().DurationVar(&chatSendTimeout, "timeout", 15*time.Second, "How long to wait for connection and echo")

	chatCmd.AddCommand(chatConversationsCmd, chatMessagesCmd, chatSendCmd)
	rootCmd.AddCommand(chatCmd)
}
