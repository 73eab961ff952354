package syncengine

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Emitter is the outbound half of a channel.
type Emitter interface {
	Emit(ev OutboundEvent) error
	Connected() bool
}

// ChatAPI fetches chat snapshots over REST.
type ChatAPI interface {
	ListConversations(ctx context.Context) ([]Conversation, error)
	ListMessages(ctx context.Context, conversationID string) (*MessagePage, error)
}

// ChatOptions wires a Chat engine.
type ChatOptions struct {
	ViewerID      string
	Emitter       Emitter
	API           ChatAPI
	Runner        Runner
	Scheduler     Scheduler
	TypingTimeout time.Duration
	Logger        *zap.Logger
	Metrics       *Metrics
	Changes       *Broadcast[Change]
}

// activation is one selection of a conversation. Live messages for it are
// buffered until its REST snapshot has been applied.
type activation struct {
	seq            uint64
	conversationID string
	loaded         bool
	pending        []Message
}

// Chat keeps the conversation list, the timelines and the typing state
// consistent with live events and REST snapshots. All methods must run on the
// session loop.
type Chat struct {
	viewerID string
	emitter  Emitter
	api      ChatAPI
	runner   Runner
	logger   *zap.Logger
	metrics  *Metrics
	changes  *Broadcast[Change]

	conversations *Conversations
	timelines     *Timelines
	typing        *Typing

	active    *activation
	seq       uint64
	seen      map[string]struct{}
	awaiting  []string // peers of placeholders with an unacknowledged send
	serverSet bool
	serverSum int
}

// NewChat creates a chat engine.
func NewChat(opts ChatOptions) *Chat {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Changes == nil {
		opts.Changes = NewBroadcast[Change]("changes", opts.Logger)
	}
	c := &Chat{
		viewerID:      opts.ViewerID,
		emitter:       opts.Emitter,
		api:           opts.API,
		runner:        opts.Runner,
		logger:        opts.Logger.Named("chat"),
		metrics:       opts.Metrics,
		changes:       opts.Changes,
		conversations: NewConversations(),
		timelines:     NewTimelines(),
		seen:          make(map[string]struct{}),
	}
	c.typing = NewTyping(opts.Emitter, opts.Scheduler, opts.TypingTimeout, c.logger, func(id string) {
		c.changes.Publish(Change{Kind: ChangeTyping, ConversationID: id})
	})
	return c
}

// ============================================================================
// Read model
// ============================================================================

// ViewerID returns the identity of the local user.
func (c *Chat) ViewerID() string { return c.viewerID }

// Conversations returns the ordered conversation list.
func (c *Chat) Conversations() []Conversation { return c.conversations.List() }

// Conversation looks a conversation up by id.
func (c *Chat) Conversation(id string) (Conversation, bool) { return c.conversations.Get(id) }

// Messages returns the timeline of a conversation.
func (c *Chat) Messages(conversationID string) []Message { return c.timelines.Messages(conversationID) }

// ActiveConversationID returns the selected conversation, or "".
func (c *Chat) ActiveConversationID() string {
	if c.active == nil {
		return ""
	}
	return c.active.conversationID
}

// TypingIn returns the peer currently typing in a conversation.
func (c *Chat) TypingIn(conversationID string) (Profile, bool) { return c.typing.Who(conversationID) }

// UnreadTotal returns the server-reported total once one has arrived, and the
// sum of conversation unread counts before that.
func (c *Chat) UnreadTotal() int {
	if c.serverSet {
		return c.serverSum
	}
	return c.conversations.TotalUnread()
}

// ============================================================================
// Snapshots
// ============================================================================

// RefreshConversations fetches the conversation list snapshot.
func (c *Chat) RefreshConversations() {
	c.runner.Go(func(ctx context.Context) func() {
		list, err := c.api.ListConversations(ctx)
		return func() { c.applyConversations(list, err) }
	})
}

func (c *Chat) applyConversations(list []Conversation, err error) {
	if err != nil {
		c.snapshotFailed("conversations", err)
		return
	}
	c.conversations.Replace(list)
	c.changes.Publish(Change{Kind: ChangeConversations})
}

// FetchMessages fetches a conversation's timeline snapshot. Placeholders have
// no server timeline and are skipped.
func (c *Chat) FetchMessages(conversationID string) {
	if isPlaceholderID(conversationID) {
		return
	}
	var seq uint64
	if a := c.active; a != nil && a.conversationID == conversationID {
		seq = a.seq
	}
	c.fetch(conversationID, seq)
}

func (c *Chat) fetch(conversationID string, seq uint64) {
	c.runner.Go(func(ctx context.Context) func() {
		page, err := c.api.ListMessages(ctx, conversationID)
		return func() { c.applyMessages(conversationID, seq, page, err) }
	})
}

// applyMessages installs a timeline snapshot. The active conversation only
// takes the snapshot its own activation requested, at most once; results of
// fetches issued by earlier activations are stale and dropped. Inactive
// conversations take the last snapshot that arrives.
func (c *Chat) applyMessages(conversationID string, seq uint64, page *MessagePage, err error) {
	a := c.active
	current := a != nil && a.conversationID == conversationID
	if current && (seq != a.seq || a.loaded) {
		c.logger.Debug("dropping stale timeline snapshot",
			zap.String("conversation_id", conversationID),
			zap.Uint64("fetch_seq", seq),
			zap.Uint64("activation_seq", a.seq),
			zap.Bool("loaded", a.loaded))
		if err != nil {
			c.snapshotFailed("messages", err)
		}
		return
	}

	if err != nil {
		c.snapshotFailed("messages", err)
		if current {
			c.completeActivation(a)
		}
		return
	}

	var msgs []Message
	if page != nil {
		msgs = page.Messages
	}
	c.timelines.Replace(conversationID, msgs)
	for _, m := range msgs {
		c.seen[m.ID] = struct{}{}
	}
	if current {
		c.completeActivation(a)
		c.markRead(conversationID)
	}
	c.changes.Publish(Change{Kind: ChangeTimeline, ConversationID: conversationID})
}

func (c *Chat) completeActivation(a *activation) {
	a.loaded = true
	for _, m := range a.pending {
		c.timelines.Append(a.conversationID, m)
	}
	a.pending = nil
}

func (c *Chat) snapshotFailed(resource string, err error) {
	c.metrics.snapshotFailed(resource)
	c.logger.Warn("snapshot fetch failed, keeping previous state",
		zap.Error(&SnapshotFetchError{Resource: resource, Err: err}))
}

// ============================================================================
// Navigation
// ============================================================================

// StartConversation opens the live conversation with peer, creating a
// placeholder when none exists.
func (c *Chat) StartConversation(peer Profile) (Conversation, error) {
	if peer.ID == "" {
		return Conversation{}, &ValidationError{Field: "peer", Reason: "missing identifier"}
	}
	if peer.ID == c.viewerID {
		return Conversation{}, &ValidationError{Field: "peer", Reason: "cannot start a conversation with yourself"}
	}
	conv, existed := c.conversations.Start(peer)
	if !existed {
		c.changes.Publish(Change{Kind: ChangeConversations, ConversationID: conv.ID})
	}
	if err := c.SelectConversation(conv.ID); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

// SelectConversation makes conversationID the active one. It leaves the
// previous room, joins the new one and fetches its timeline.
func (c *Chat) SelectConversation(conversationID string) error {
	if _, ok := c.conversations.Get(conversationID); !ok {
		return ErrUnknownConversation
	}
	if c.ActiveConversationID() == conversationID {
		return nil
	}
	c.leaveActive()

	c.seq++
	a := &activation{seq: c.seq, conversationID: conversationID}
	c.active = a
	if isPlaceholderID(conversationID) {
		a.loaded = true
	} else {
		c.emit(JoinConversation{ConversationID: conversationID})
		c.fetch(conversationID, a.seq)
	}
	c.changes.Publish(Change{Kind: ChangeTimeline, ConversationID: conversationID})
	return nil
}

// CloseConversation navigates away from the active conversation.
func (c *Chat) CloseConversation() {
	if c.active == nil {
		return
	}
	id := c.active.conversationID
	c.leaveActive()
	c.changes.Publish(Change{Kind: ChangeTimeline, ConversationID: id})
}

func (c *Chat) leaveActive() {
	a := c.active
	if a == nil {
		return
	}
	c.active = nil
	c.typing.Stop(a.conversationID)
	c.typing.Clear(a.conversationID)
	if !isPlaceholderID(a.conversationID) {
		c.emit(LeaveConversation{ConversationID: a.conversationID})
	}
}

// ============================================================================
// Outbound
// ============================================================================

// SendMessage emits a message to the conversation's peer. Nothing is appended
// locally; the server echoes the message back as a live event.
func (c *Chat) SendMessage(conversationID, body string) error {
	body = strings.TrimSpace(body)
	if err := ValidateMessageBody(body); err != nil {
		return err
	}
	conv, ok := c.conversations.Get(conversationID)
	if !ok {
		return ErrUnknownConversation
	}
	if !c.emitter.Connected() {
		return ErrNotConnected
	}
	err := c.emitter.Emit(SendMessage{RecipientID: conv.Participant.ID, Content: body})
	if err == nil && conv.IsPlaceholder() {
		c.awaiting = append(c.awaiting, conv.Participant.ID)
	}
	c.typing.Stop(conversationID)
	return err
}

// Keystroke records viewer input in a conversation.
func (c *Chat) Keystroke(conversationID string) {
	c.typing.Keystroke(conversationID)
}

func (c *Chat) markRead(conversationID string) {
	c.conversations.ZeroUnread(conversationID)
	c.emit(MarkMessagesRead{ConversationID: conversationID})
	c.changes.Publish(Change{Kind: ChangeConversations, ConversationID: conversationID})
}

func (c *Chat) emit(ev OutboundEvent) {
	if err := c.emitter.Emit(ev); err != nil {
		c.logger.Debug("emit dropped", zap.String("event", string(ev.EventName())), zap.Error(err))
	}
}

// ============================================================================
// Inbound
// ============================================================================

// Handle applies a live chat event.
func (c *Chat) Handle(ev InboundEvent) {
	switch e := ev.(type) {
	case MessageNew:
		c.ApplyMessage(e.Message, e.ConversationID)
	case TypingStarted:
		c.typing.ApplyStart(e, c.viewerID, c.ActiveConversationID())
	case TypingStopped:
		c.typing.ApplyStop(e.ConversationID)
	case UnreadTotal:
		c.serverSet = true
		c.serverSum = max(e.Count, 0)
		c.changes.Publish(Change{Kind: ChangeConversations})
	}
}

// ApplyMessage applies a live message. The conversation summary is always
// updated; the timeline only when the conversation is active. A message whose
// identifier is already known is dropped.
func (c *Chat) ApplyMessage(msg Message, conversationID string) {
	if conversationID == "" {
		conversationID = msg.ConversationID
	}
	if conversationID == "" || msg.ID == "" {
		c.metrics.eventDropped("malformed")
		c.logger.Warn("dropping message without identifiers", zap.String("message_id", msg.ID))
		return
	}
	if _, dup := c.seen[msg.ID]; dup || c.timelines.Has(conversationID, msg.ID) {
		c.metrics.eventDropped("duplicate")
		c.logger.Debug("dropping duplicate message", zap.String("message_id", msg.ID))
		return
	}
	peer, ok := c.peerOf(conversationID, msg)
	if !ok {
		c.metrics.eventDropped("unresolved")
		c.logger.Warn("dropping own message for an unknown conversation",
			zap.String("message_id", msg.ID), zap.String("conversation_id", conversationID))
		return
	}
	c.seen[msg.ID] = struct{}{}
	msg.ConversationID = conversationID
	open := c.isOpen(conversationID, peer.ID)

	_, promotedFrom := c.conversations.RecordMessage(conversationID, msg, peer, open)
	if promotedFrom != "" {
		c.timelines.Rename(promotedFrom, conversationID)
		if a := c.active; a != nil && a.conversationID == promotedFrom {
			a.conversationID = conversationID
			c.emit(JoinConversation{ConversationID: conversationID})
		}
		c.logger.Debug("placeholder promoted",
			zap.String("placeholder_id", promotedFrom),
			zap.String("conversation_id", conversationID))
	}

	if a := c.active; a != nil && a.conversationID == conversationID {
		if a.loaded {
			c.timelines.Append(conversationID, msg)
		} else {
			a.pending = append(a.pending, msg)
		}
		c.changes.Publish(Change{Kind: ChangeTimeline, ConversationID: conversationID})
	}
	c.changes.Publish(Change{Kind: ChangeConversations, ConversationID: conversationID})
}

// peerOf resolves the other participant of a message. Echoes of the viewer's
// own messages may not name a recipient; for an unknown conversation those are
// matched to the placeholders the viewer sent from, oldest first.
func (c *Chat) peerOf(conversationID string, msg Message) (Profile, bool) {
	if msg.Sender.ID != c.viewerID {
		return msg.Sender, msg.Sender.ID != ""
	}
	if conv, ok := c.conversations.Get(conversationID); ok {
		return conv.Participant, true
	}
	if msg.Recipient != nil && msg.Recipient.ID != "" {
		return *msg.Recipient, true
	}
	for len(c.awaiting) > 0 {
		peerID := c.awaiting[0]
		c.awaiting = c.awaiting[1:]
		if conv, ok := c.conversations.ByParticipant(peerID); ok && conv.IsPlaceholder() {
			return conv.Participant, true
		}
	}
	if a := c.active; a != nil && isPlaceholderID(a.conversationID) {
		if conv, ok := c.conversations.Get(a.conversationID); ok {
			return conv.Participant, true
		}
	}
	return Profile{}, false
}

// isOpen reports whether a message for conversationID lands in the viewed
// conversation, including a viewed placeholder with the same peer.
func (c *Chat) isOpen(conversationID, peerID string) bool {
	a := c.active
	if a == nil {
		return false
	}
	if a.conversationID == conversationID {
		return true
	}
	if !isPlaceholderID(a.conversationID) {
		return false
	}
	if _, known := c.conversations.Get(conversationID); known {
		return false
	}
	cur, ok := c.conversations.Get(a.conversationID)
	return ok && cur.Participant.ID == peerID
}

// Close stops pending typing timers.
func (c *Chat) Close() {
	c.typing.Close()
}

func isPlaceholderID(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}
