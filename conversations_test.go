package syncengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Conversations
// ============================================================================

func TestConversationsReplace(t *testing.T) {
	t.Run("orders by last activity, missing activity last", func(t *testing.T) {
		s := NewConversations()
		s.Replace([]Conversation{
			{ID: "old", Participant: Profile{ID: "a"}, LastActivity: at(10)},
			{ID: "empty", Participant: Profile{ID: "b"}},
			{ID: "new", Participant: Profile{ID: "c"}, LastActivity: at(20)},
		})
		assert.Equal(t, []string{"new", "old", "empty"}, conversationIDs(s.List()))
	})

	t.Run("placeholders survive unless superseded", func(t *testing.T) {
		s := NewConversations()
		s.Start(Profile{ID: "a"})
		s.Start(Profile{ID: "b"})

		s.Replace([]Conversation{{ID: "c1", Participant: Profile{ID: "a"}, LastActivity: at(5)}})
		assert.ElementsMatch(t, []string{"c1", "temp-b"}, conversationIDs(s.List()))
	})

	t.Run("one conversation per participant", func(t *testing.T) {
		s := NewConversations()
		s.Replace([]Conversation{
			{ID: "c1", Participant: Profile{ID: "a"}},
			{ID: "c2", Participant: Profile{ID: "a"}},
		})
		assert.Equal(t, []string{"c1"}, conversationIDs(s.List()))
	})

	t.Run("negative unread is clamped", func(t *testing.T) {
		s := NewConversations()
		s.Replace([]Conversation{{ID: "c1", Participant: Profile{ID: "a"}, UnreadCount: -2}})
		c, _ := s.Get("c1")
		assert.Equal(t, 0, c.UnreadCount)
	})

	t.Run("newer local summary wins over an older snapshot", func(t *testing.T) {
		s := NewConversations()
		s.Replace([]Conversation{{ID: "c1", Participant: Profile{ID: "a"}, LastActivity: at(1)}})
		s.RecordMessage("c1", msg("m9", "c1", "a", testViewer, 50), Profile{ID: "a"}, false)

		s.Replace([]Conversation{{ID: "c1", Participant: Profile{ID: "a"}, LastActivity: at(10)}})
		c, _ := s.Get("c1")
		assert.Equal(t, at(50), c.LastActivity)
		assert.Equal(t, 1, c.UnreadCount)
	})

	t.Run("conversations created by live messages survive", func(t *testing.T) {
		s := NewConversations()
		s.RecordMessage("c9", msg("m1", "c9", "z", testViewer, 5), Profile{ID: "z"}, false)
		s.Replace([]Conversation{{ID: "c1", Participant: Profile{ID: "a"}, LastActivity: at(1)}})
		assert.Equal(t, []string{"c9", "c1"}, conversationIDs(s.List()))
	})
}

func TestConversationsStart(t *testing.T) {
	s := NewConversations()
	conv, existed := s.Start(Profile{ID: "p", FirstName: "Pat"})
	assert.False(t, existed)
	assert.Equal(t, "temp-p", conv.ID)
	assert.True(t, conv.IsPlaceholder())
	assert.Equal(t, 0, conv.UnreadCount)
	assert.Nil(t, conv.LastMessage)

	again, existed := s.Start(Profile{ID: "p"})
	assert.True(t, existed)
	assert.Equal(t, conv.ID, again.ID)
	assert.Equal(t, 1, s.Len())
}

func TestConversationsRecordMessage(t *testing.T) {
	t.Run("unread increments when not open and resets when open", func(t *testing.T) {
		s := NewConversations()
		s.Replace([]Conversation{{ID: "c1", Participant: Profile{ID: "a"}}})

		s.RecordMessage("c1", msg("m1", "c1", "a", testViewer, 1), Profile{ID: "a"}, false)
		s.RecordMessage("c1", msg("m2", "c1", "a", testViewer, 2), Profile{ID: "a"}, false)
		c, _ := s.Get("c1")
		assert.Equal(t, 2, c.UnreadCount)
		assert.Equal(t, "m2", c.LastMessage.ID)

		s.RecordMessage("c1", msg("m3", "c1", "a", testViewer, 3), Profile{ID: "a"}, true)
		c, _ = s.Get("c1")
		assert.Equal(t, 0, c.UnreadCount)
		assert.Equal(t, 0, s.TotalUnread())
	})

	t.Run("moves the conversation to the front", func(t *testing.T) {
		s := NewConversations()
		s.Replace([]Conversation{
			{ID: "c1", Participant: Profile{ID: "a"}, LastActivity: at(10)},
			{ID: "c2", Participant: Profile{ID: "b"}, LastActivity: at(5)},
		})
		s.RecordMessage("c2", msg("m1", "c2", "b", testViewer, 20), Profile{ID: "b"}, false)
		assert.Equal(t, []string{"c2", "c1"}, conversationIDs(s.List()))
	})

	t.Run("promotes a placeholder in place", func(t *testing.T) {
		s := NewConversations()
		s.Start(Profile{ID: "p", FirstName: "Pat"})

		conv, promoted := s.RecordMessage("c7", msg("m1", "c7", testViewer, "p", 1), Profile{ID: "p"}, true)
		assert.Equal(t, "temp-p", promoted)
		assert.Equal(t, "c7", conv.ID)
		assert.Equal(t, "Pat", conv.Participant.FirstName)
		assert.Equal(t, 1, s.Len())
		_, ok := s.Get("temp-p")
		assert.False(t, ok)
	})

	t.Run("creates an unknown conversation", func(t *testing.T) {
		s := NewConversations()
		conv, promoted := s.RecordMessage("c1", msg("m1", "c1", "a", testViewer, 1), Profile{ID: "a"}, false)
		assert.Empty(t, promoted)
		assert.Equal(t, "a", conv.Participant.ID)
		assert.Equal(t, 1, conv.UnreadCount)
	})

	t.Run("own messages are never unread", func(t *testing.T) {
		s := NewConversations()
		s.Replace([]Conversation{{ID: "c1", Participant: Profile{ID: "a"}, UnreadCount: 1}})
		conv, _ := s.RecordMessage("c1", msg("m1", "c1", testViewer, "", 1), Profile{ID: "a"}, false)
		assert.Equal(t, 1, conv.UnreadCount)
		assert.Equal(t, "m1", conv.LastMessage.ID)
	})

	t.Run("ties keep their relative order", func(t *testing.T) {
		s := NewConversations()
		s.Replace([]Conversation{
			{ID: "c1", Participant: Profile{ID: "a"}, LastActivity: at(10)},
			{ID: "c2", Participant: Profile{ID: "b"}, LastActivity: at(10)},
		})
		s.RecordMessage("c3", msg("m1", "c3", "c", testViewer, 10), Profile{ID: "c"}, false)
		assert.Equal(t, []string{"c1", "c2", "c3"}, conversationIDs(s.List()))
	})
}

// ============================================================================
// Timelines
// ============================================================================

func TestTimelines(t *testing.T) {
	t.Run("append deduplicates by id", func(t *testing.T) {
		tl := NewTimelines()
		require.True(t, tl.Append("c1", msg("m1", "c1", "a", "b", 1)))
		require.False(t, tl.Append("c1", msg("m1", "c1", "a", "b", 1)))
		assert.Equal(t, 1, tl.Len("c1"))
	})

	t.Run("replace drops duplicates inside the snapshot", func(t *testing.T) {
		tl := NewTimelines()
		tl.Append("c1", msg("old", "c1", "a", "b", 0))
		tl.Replace("c1", []Message{
			msg("m1", "c1", "a", "b", 1),
			msg("m1", "c1", "a", "b", 1),
			msg("m2", "c1", "a", "b", 2),
		})
		assert.Equal(t, []string{"m1", "m2"}, messageIDs(tl.Messages("c1")))
		assert.False(t, tl.Has("c1", "old"))
	})

	t.Run("rename moves the timeline", func(t *testing.T) {
		tl := NewTimelines()
		tl.Append("temp-p", msg("m1", "temp-p", "a", "b", 1))
		tl.Rename("temp-p", "c1")
		assert.True(t, tl.Has("c1", "m1"))
		assert.Nil(t, tl.Messages("temp-p"))
	})

	t.Run("messages returns a copy", func(t *testing.T) {
		tl := NewTimelines()
		tl.Append("c1", msg("m1", "c1", "a", "b", 1))
		got := tl.Messages("c1")
		got[0].Content = "changed"
		assert.Equal(t, "content m1", tl.Messages("c1")[0].Content)
	})
}
