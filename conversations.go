package syncengine

import (
	"sort"
	"strings"
	"time"
)

// PlaceholderPrefix marks a conversation not yet persisted by the server.
const PlaceholderPrefix = "temp-"

// PlaceholderID returns the local identifier used for a pending conversation
// with peerID.
func PlaceholderID(peerID string) string { return PlaceholderPrefix + peerID }

// Conversation is the summary of one direct conversation.
type Conversation struct {
	ID           string    `json:"_id"`
	Participant  Profile   `json:"participant"`
	LastMessage  *Message  `json:"lastMessage,omitempty"`
	LastActivity time.Time `json:"lastMessageAt"`
	UnreadCount  int       `json:"unreadCount"`
}

// IsPlaceholder reports whether the conversation has no durable identifier.
func (c Conversation) IsPlaceholder() bool {
	return c.ID == "" || strings.HasPrefix(c.ID, PlaceholderPrefix)
}

// Conversations is the recency-ordered conversation list. At most one
// conversation per participant is live at a time.
type Conversations struct {
	list []*Conversation
}

// NewConversations returns an empty store.
func NewConversations() *Conversations {
	return &Conversations{}
}

// Replace installs a REST snapshot. A local summary that saw a newer message
// than the snapshot keeps its fields. Placeholders, and durable conversations
// created by live messages, survive when their peer is absent from the
// snapshot.
func (s *Conversations) Replace(snapshot []Conversation) {
	list := make([]*Conversation, 0, len(snapshot))
	seen := make(map[string]struct{}, len(snapshot))
	ids := make(map[string]struct{}, len(snapshot))
	for _, c := range snapshot {
		if c.ID == "" {
			continue
		}
		if _, dup := seen[c.Participant.ID]; dup && c.Participant.ID != "" {
			continue
		}
		seen[c.Participant.ID] = struct{}{}
		ids[c.ID] = struct{}{}
		c := c
		if local := s.byID(c.ID); local != nil && local.LastActivity.After(c.LastActivity) {
			c.LastMessage = local.LastMessage
			c.LastActivity = local.LastActivity
			c.UnreadCount = local.UnreadCount
		}
		if c.UnreadCount < 0 {
			c.UnreadCount = 0
		}
		list = append(list, &c)
	}
	for _, c := range s.list {
		if _, ok := ids[c.ID]; ok {
			continue
		}
		if !c.IsPlaceholder() && c.LastMessage == nil {
			continue
		}
		if _, ok := seen[c.Participant.ID]; !ok {
			list = append(list, c)
		}
	}
	s.list = list
	s.sort()
}

// Start returns the live conversation with peer, creating a placeholder when
// none exists. existed reports whether one was already live.
func (s *Conversations) Start(peer Profile) (conv Conversation, existed bool) {
	if c := s.byParticipant(peer.ID); c != nil {
		return *c, true
	}
	c := &Conversation{ID: PlaceholderID(peer.ID), Participant: peer}
	s.list = append(s.list, c)
	s.sort()
	return *c, false
}

// Get looks a conversation up by id.
func (s *Conversations) Get(id string) (Conversation, bool) {
	if c := s.byID(id); c != nil {
		return *c, true
	}
	return Conversation{}, false
}

// ByParticipant looks the live conversation with peerID up.
func (s *Conversations) ByParticipant(peerID string) (Conversation, bool) {
	if c := s.byParticipant(peerID); c != nil {
		return *c, true
	}
	return Conversation{}, false
}

// List returns a copy of the ordered list.
func (s *Conversations) List() []Conversation {
	out := make([]Conversation, len(s.list))
	for i, c := range s.list {
		out[i] = *c
	}
	return out
}

// Len returns the number of live conversations.
func (s *Conversations) Len() int { return len(s.list) }

// RecordMessage updates the summary of conversationID with msg. When the
// conversation is unknown, a placeholder for peer is promoted in place, or a
// new entry is created. open marks the conversation currently viewed, which
// keeps its unread count at zero; otherwise only messages from the peer count
// as unread. promotedFrom is the replaced placeholder id.
func (s *Conversations) RecordMessage(conversationID string, msg Message, peer Profile, open bool) (conv Conversation, promotedFrom string) {
	c := s.byID(conversationID)
	if c == nil {
		if p := s.byParticipant(peer.ID); p != nil && p.IsPlaceholder() {
			promotedFrom = p.ID
			p.ID = conversationID
			c = p
		} else {
			c = &Conversation{ID: conversationID, Participant: peer}
			s.list = append(s.list, c)
		}
	}

	m := msg
	c.LastMessage = &m
	c.LastActivity = msg.CreatedAt
	switch {
	case open:
		c.UnreadCount = 0
	case msg.Sender.ID == c.Participant.ID:
		c.UnreadCount++
	}
	s.sort()
	return *c, promotedFrom
}

// ZeroUnread clears a conversation's unread count.
func (s *Conversations) ZeroUnread(id string) {
	if c := s.byID(id); c != nil {
		c.UnreadCount = 0
	}
}

// TotalUnread sums unread counts across conversations.
func (s *Conversations) TotalUnread() int {
	n := 0
	for _, c := range s.list {
		n += c.UnreadCount
	}
	return n
}

func (s *Conversations) byID(id string) *Conversation {
	for _, c := range s.list {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *Conversations) byParticipant(peerID string) *Conversation {
	if peerID == "" {
		return nil
	}
	for _, c := range s.list {
		if c.Participant.ID == peerID {
			return c
		}
	}
	return nil
}

// sort orders by last activity descending. Conversations without messages
// carry the zero time and sink; ties keep their relative order.
func (s *Conversations) sort() {
	sort.SliceStable(s.list, func(i, j int) bool {
		return s.list[i].LastActivity.After(s.list[j].LastActivity)
	})
}
