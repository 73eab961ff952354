package syncengine

// timeline is one conversation's ordered, deduplicated message sequence.
type timeline struct {
	messages []Message
	ids      map[string]struct{}
}

// Timelines holds the message timeline of every known conversation.
// Insertion order is chronological order; identifiers are unique per timeline.
type Timelines struct {
	byConversation map[string]*timeline
}

// NewTimelines returns an empty set of timelines.
func NewTimelines() *Timelines {
	return &Timelines{byConversation: make(map[string]*timeline)}
}

func (t *Timelines) get(conversationID string) *timeline {
	tl, ok := t.byConversation[conversationID]
	if !ok {
		tl = &timeline{ids: make(map[string]struct{})}
		t.byConversation[conversationID] = tl
	}
	return tl
}

// Append adds msg to its conversation's timeline unless a message with the
// same identifier is already present. It reports whether msg was appended.
func (t *Timelines) Append(conversationID string, msg Message) bool {
	tl := t.get(conversationID)
	if _, dup := tl.ids[msg.ID]; dup {
		return false
	}
	tl.ids[msg.ID] = struct{}{}
	tl.messages = append(tl.messages, msg)
	return true
}

// Replace swaps a conversation's timeline for a snapshot. Duplicate ids inside
// the snapshot keep their first occurrence.
func (t *Timelines) Replace(conversationID string, msgs []Message) {
	tl := &timeline{
		messages: make([]Message, 0, len(msgs)),
		ids:      make(map[string]struct{}, len(msgs)),
	}
	for _, m := range msgs {
		if _, dup := tl.ids[m.ID]; dup {
			continue
		}
		tl.ids[m.ID] = struct{}{}
		tl.messages = append(tl.messages, m)
	}
	t.byConversation[conversationID] = tl
}

// Rename moves a timeline to a new conversation id.
func (t *Timelines) Rename(from, to string) {
	tl, ok := t.byConversation[from]
	if !ok {
		return
	}
	delete(t.byConversation, from)
	if _, exists := t.byConversation[to]; !exists {
		t.byConversation[to] = tl
	}
}

// Messages returns a copy of a conversation's timeline.
func (t *Timelines) Messages(conversationID string) []Message {
	tl, ok := t.byConversation[conversationID]
	if !ok {
		return nil
	}
	return append([]Message(nil), tl.messages...)
}

// Has reports whether a message id is present in a conversation's timeline.
func (t *Timelines) Has(conversationID, messageID string) bool {
	tl, ok := t.byConversation[conversationID]
	if !ok {
		return false
	}
	_, found := tl.ids[messageID]
	return found
}

// Len returns the number of messages in a conversation's timeline.
func (t *Timelines) Len(conversationID string) int {
	if tl, ok := t.byConversation[conversationID]; ok {
		return len(tl.messages)
	}
	return 0
}
