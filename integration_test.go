//go:build integration

package syncengine_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/alumnet/syncengine"
)

// helpers ---------------------------------------------------------------

func testToken(t *testing.T) string {
	t.Helper()
	token := os.Getenv("SYNCENGINE_TOKEN_TEST")
	if token == "" {
		t.Fatal("SYNCENGINE_TOKEN_TEST environment variable is required")
	}
	return token
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func testConfig(t *testing.T) syncengine.Config {
	t.Helper()
	return syncengine.Config{
		Token:           testToken(t),
		ChatURL:         envOr("SYNCENGINE_CHAT_URL_TEST", syncengine.DefaultChatURL),
		NotificationURL: envOr("SYNCENGINE_NOTIFICATION_URL_TEST", syncengine.DefaultNotificationURL),
		APIURL:          envOr("SYNCENGINE_API_URL_TEST", syncengine.DefaultAPIURL),
	}
}

func newClient(t *testing.T) *syncengine.APIClient {
	t.Helper()
	cfg := testConfig(t)
	return syncengine.NewAPIClient(cfg.Token,
		syncengine.WithChatURL(cfg.ChatURL),
		syncengine.WithNotificationURL(cfg.NotificationURL),
		syncengine.WithAPIURL(cfg.APIURL),
		syncengine.WithTimeout(15*time.Second),
	)
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// =======================================================================
// Group 1: REST snapshots
// =======================================================================

func TestIntegration_Snapshots(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()

	t.Run("ListConversations", func(t *testing.T) {
		convs, err := client.ListConversations(ctx)
		if err != nil {
			t.Fatalf("ListConversations error: %v", err)
		}
		t.Logf("%d conversations", len(convs))
		if len(convs) == 0 {
			return
		}
		page, err := client.ListMessages(ctx, convs[0].ID)
		if err != nil {
			t.Fatalf("ListMessages error: %v", err)
		}
		t.Logf("conversation %s: %d messages", convs[0].ID, len(page.Messages))
	})

	t.Run("ListNotifications", func(t *testing.T) {
		page, err := client.ListNotifications(ctx)
		if err != nil {
			t.Fatalf("ListNotifications error: %v", err)
		}
		for _, n := range page.Notifications {
			if !n.Type.Valid() {
				t.Errorf("notification %s has unknown type %q", n.ID, n.Type)
			}
		}
	})

	t.Run("Preferences", func(t *testing.T) {
		p, err := client.GetPreferences(ctx)
		if err != nil {
			t.Fatalf("GetPreferences error: %v", err)
		}
		// Write back the same map so the account is left unchanged.
		updated, err := client.UpdatePreferences(ctx, p.Toggle(syncengine.NotificationLike, p.Allows(syncengine.NotificationLike)))
		if err != nil {
			t.Fatalf("UpdatePreferences error: %v", err)
		}
		if updated.Allows(syncengine.NotificationLike) != p.Allows(syncengine.NotificationLike) {
			t.Errorf("like preference changed on a no-op update")
		}
	})

	t.Run("SearchUsers", func(t *testing.T) {
		users, err := client.SearchUsers(ctx, envOr("SYNCENGINE_SEARCH_TEST", "al"))
		if err != nil {
			t.Fatalf("SearchUsers error: %v", err)
		}
		t.Logf("%d users", len(users))
	})
}

// =======================================================================
// Group 2: Live session
// =======================================================================

func TestIntegration_Session(t *testing.T) {
	ctx := context.Background()
	s, err := syncengine.NewSession(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("NewSession error: %v", err)
	}
	defer s.Close()

	waitUntil(t, "chat channel", func() bool { return s.ChatState() == syncengine.StateConnected })
	waitUntil(t, "notification channel", func() bool { return s.NotificationState() == syncengine.StateConnected })
	t.Logf("viewer %s: %d conversations, %d notifications, %d online",
		s.ViewerID(), len(s.Conversations()), len(s.Notifications()), len(s.Online()))

	peer := os.Getenv("SYNCENGINE_PEER_TEST")
	if peer == "" {
		t.Log("SYNCENGINE_PEER_TEST not set, skipping send")
		return
	}

	conv, err := s.StartConversation(syncengine.Profile{ID: peer})
	if err != nil {
		t.Fatalf("StartConversation error: %v", err)
	}
	body := fmt.Sprintf("integration %d", time.Now().UnixNano())
	if err := s.SendMessage(conv.ID, body); err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}

	waitUntil(t, "message echo", func() bool {
		active, ok := s.ActiveConversation()
		if !ok {
			return false
		}
		for _, m := range s.Messages(active.ID) {
			if m.Content == body {
				return true
			}
		}
		return false
	})
}
