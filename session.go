// Package syncengine keeps a client's view of chat and notifications in sync
// with the alumnet servers.
//
// A Session owns two real-time channels (chat and notifications), seeds its
// stores from REST snapshots and then applies live events on a single loop
// goroutine, so no two state changes ever interleave.
//
// Example:
//
//	s, err := syncengine.NewSession(ctx, syncengine.Config{Token: token})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	conv, _ := s.StartConversation(syncengine.Profile{ID: peerID})
//	s.SendMessage(conv.ID, "hello")
package syncengine

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Backend is every REST collaborator the session needs.
type Backend interface {
	ChatAPI
	NotificationAPI
	PreferencesAPI
	UserSearchAPI
}

// Config configures a Session. Only Token is required.
type Config struct {
	Token    string
	ViewerID string // derived from the token claims when empty

	ChatURL         string
	NotificationURL string
	APIURL          string
	SocketPath      string

	DisableNotifications bool
	DisableReconnect     bool
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	HeartbeatInterval    time.Duration

	TypingTimeout  time.Duration
	ToastTTL       time.Duration
	SearchDebounce time.Duration

	HTTPClient *http.Client
	Backend    Backend
	Logger     *zap.Logger
	Registerer prometheus.Registerer
	Clock      Clock
}

func (c *Config) defaults() {
	if c.ChatURL == "" {
		c.ChatURL = DefaultChatURL
	}
	if c.NotificationURL == "" {
		c.NotificationURL = DefaultNotificationURL
	}
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.TypingTimeout == 0 {
		c.TypingTimeout = DefaultTypingTimeout
	}
	if c.ToastTTL == 0 {
		c.ToastTTL = DefaultToastTTL
	}
	if c.SearchDebounce == 0 {
		c.SearchDebounce = DefaultSearchDebounce
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Clock == nil {
		c.Clock = RealClock()
	}
	if c.Backend == nil {
		opts := []APIOption{
			WithChatURL(c.ChatURL),
			WithNotificationURL(c.NotificationURL),
			WithAPIURL(c.APIURL),
		}
		if c.HTTPClient != nil {
			opts = append(opts, WithHTTPClient(c.HTTPClient))
		}
		c.Backend = NewAPIClient(c.Token, opts...)
	}
}

// ============================================================================
// Session
// ============================================================================

// Session is the engine facade. Its methods are safe for concurrent use; they
// hop onto the loop and wait for the result.
type Session struct {
	cfg     Config
	viewer  string
	logger  *zap.Logger
	metrics *Metrics
	loop    *Loop

	chatCh  *Channel
	notifCh *Channel

	chat     *Chat
	presence *Presence
	feed     *Feed
	prefs    *PreferenceStore
	toasts   *ToastDispatcher
	search   *UserSearch
	changes  *Broadcast[Change]

	closeOnce sync.Once
}

// NewSession connects both channels and hydrates every store. Connect and
// snapshot failures are logged and retried in the background; only invalid
// configuration fails the call.
func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Token == "" {
		return nil, &ValidationError{Field: "token", Reason: "required"}
	}
	cfg.defaults()

	viewer := cfg.ViewerID
	if viewer == "" {
		id, err := ViewerFromToken(cfg.Token)
		if err != nil {
			return nil, err
		}
		viewer = id
	}

	logger := cfg.Logger.With(zap.String("viewer_id", viewer))
	metrics := NewMetrics(cfg.Registerer)
	loop := NewLoop(cfg.Clock, logger)
	changes := NewBroadcast[Change]("changes", logger)

	s := &Session{
		cfg:      cfg,
		viewer:   viewer,
		logger:   logger,
		metrics:  metrics,
		loop:     loop,
		presence: NewPresence(),
		changes:  changes,
	}

	s.chatCh = NewChannel(s.channelConfig("chat", cfg.ChatURL))
	s.chat = NewChat(ChatOptions{
		ViewerID:      viewer,
		Emitter:       s.chatCh,
		API:           cfg.Backend,
		Runner:        loop,
		Scheduler:     loop,
		TypingTimeout: cfg.TypingTimeout,
		Logger:        logger,
		Metrics:       metrics,
		Changes:       changes,
	})
	s.prefs = NewPreferenceStore(cfg.Backend, loop, logger, metrics, changes)
	s.feed = NewFeed(cfg.Backend, s.prefs, loop, logger, metrics, changes)
	s.toasts = NewToastDispatcher(loop, cfg.ToastTTL, logger, changes)
	s.toasts.Attach(s.feed.Pushed(), nil)
	s.search = NewUserSearch(cfg.Backend, loop, loop, viewer, cfg.SearchDebounce, logger, changes)

	s.wireChat()
	if !cfg.DisableNotifications {
		s.notifCh = NewChannel(s.channelConfig("notifications", cfg.NotificationURL))
		s.wireNotifications()
	}

	s.connect(ctx)
	s.hydrate(ctx)
	return s, nil
}

func (s *Session) channelConfig(name, baseURL string) ChannelConfig {
	return ChannelConfig{
		Name:                 name,
		URL:                  baseURL,
		Path:                 s.cfg.SocketPath,
		Token:                s.cfg.Token,
		DisableReconnect:     s.cfg.DisableReconnect,
		MaxReconnectAttempts: s.cfg.MaxReconnectAttempts,
		ReconnectDelay:       s.cfg.ReconnectDelay,
		HeartbeatInterval:    s.cfg.HeartbeatInterval,
		HTTPClient:           s.cfg.HTTPClient,
		Logger:               s.logger.Named(name).With(zap.String("channel", name)),
		Metrics:              s.metrics,
		Executor:             func(f func()) { s.loop.Post(f) },
	}
}

func (s *Session) wireChat() {
	onPresence := func(ev InboundEvent) {
		s.presence.Handle(ev)
		s.changes.Publish(Change{Kind: ChangePresence})
	}
	s.chatCh.On(EventFriendsOnline, onPresence)
	s.chatCh.On(EventUserOnline, onPresence)
	s.chatCh.On(EventUserOffline, onPresence)

	for _, name := range []EventName{EventMessageNew, EventTypingStart, EventTypingStop, EventUnreadTotal} {
		s.chatCh.On(name, s.chat.Handle)
	}
	s.chatCh.OnState(func(ConnState) {
		s.changes.Publish(Change{Kind: ChangeConnection})
	})
}

func (s *Session) wireNotifications() {
	s.notifCh.On(EventNotificationNew, func(ev InboundEvent) {
		if n, ok := ev.(NotificationNew); ok {
			s.feed.ApplyPush(n.Notification)
		}
	})
	s.notifCh.OnState(func(ConnState) {
		s.changes.Publish(Change{Kind: ChangeConnection})
	})
}

// connect opens both channels in parallel. A failed dial falls back to the
// reconnect schedule and is surfaced as connection state only.
func (s *Session) connect(ctx context.Context) {
	var g errgroup.Group
	for _, ch := range []*Channel{s.chatCh, s.notifCh} {
		if ch == nil {
			continue
		}
		ch := ch
		g.Go(func() error {
			if err := ch.Start(ctx); err != nil {
				s.logger.Warn("initial connect failed", zap.String("channel", ch.cfg.Name), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// hydrate fetches the three REST snapshots concurrently and applies them on
// the loop. Failures keep the empty initial state.
func (s *Session) hydrate(ctx context.Context) {
	var since uint64
	_ = s.loop.Call(func() { since = s.feed.seq })

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := s.cfg.Backend.ListConversations(gctx)
		s.loop.Post(func() { s.chat.applyConversations(list, err) })
		return nil
	})
	g.Go(func() error {
		page, err := s.cfg.Backend.ListNotifications(gctx)
		s.loop.Post(func() { s.feed.applySnapshot(page, err, since) })
		return nil
	})
	g.Go(func() error {
		p, err := s.cfg.Backend.GetPreferences(gctx)
		s.loop.Post(func() { s.prefs.apply(p, err) })
		return nil
	})
	_ = g.Wait()
	_ = s.loop.Call(func() {})
}

// Close disconnects both channels, cancels every timer and stops the loop.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if cerr := s.chatCh.Close(); cerr != nil {
			err = cerr
		}
		if s.notifCh != nil {
			if cerr := s.notifCh.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		_ = s.loop.Call(func() {
			s.chat.Close()
			s.toasts.Close()
			s.search.Close()
			s.feed.Close()
		})
		s.loop.Close()
		s.changes.Reset()
		s.logger.Info("session closed")
	})
	return err
}

// ============================================================================
// Loop access
// ============================================================================

func (s *Session) do(f func() error) error {
	var err error
	if cerr := s.loop.Call(func() { err = f() }); cerr != nil {
		return cerr
	}
	return err
}

func read[T any](s *Session, f func() T) T {
	var out T
	_ = s.loop.Call(func() { out = f() })
	return out
}

// Events is the change feed. Subscribers run on the loop goroutine and must
// not call Session methods synchronously.
func (s *Session) Events() *Broadcast[Change] { return s.changes }

// ViewerID returns the local user's id.
func (s *Session) ViewerID() string { return s.viewer }

// ChatState returns the chat channel's connection state.
func (s *Session) ChatState() ConnState { return s.chatCh.State() }

// NotificationState returns the notification channel's connection state.
func (s *Session) NotificationState() ConnState {
	if s.notifCh == nil {
		return StateDisconnected
	}
	return s.notifCh.State()
}

// ============================================================================
// Chat
// ============================================================================

// Conversations returns the conversation list, most recent activity first.
func (s *Session) Conversations() []Conversation {
	return read(s, s.chat.Conversations)
}

// Messages returns the loaded timeline of a conversation, oldest first.
func (s *Session) Messages(conversationID string) []Message {
	return read(s, func() []Message { return s.chat.Messages(conversationID) })
}

// ActiveConversation returns the selected conversation.
func (s *Session) ActiveConversation() (Conversation, bool) {
	type result struct {
		conv Conversation
		ok   bool
	}
	r := read(s, func() result {
		c, ok := s.chat.Conversation(s.chat.ActiveConversationID())
		return result{c, ok}
	})
	return r.conv, r.ok
}

// StartConversation opens the conversation with peer. When none exists yet a
// placeholder is created and promoted once the first message is echoed back.
func (s *Session) StartConversation(peer Profile) (Conversation, error) {
	var conv Conversation
	err := s.do(func() error {
		var err error
		conv, err = s.chat.StartConversation(peer)
		return err
	})
	return conv, err
}

// SelectConversation makes a conversation active, joins its room and fetches
// its timeline. Live messages are buffered until the timeline arrives.
func (s *Session) SelectConversation(conversationID string) error {
	return s.do(func() error { return s.chat.SelectConversation(conversationID) })
}

// CloseConversation leaves the active conversation, if any.
func (s *Session) CloseConversation() error {
	return s.do(func() error {
		s.chat.CloseConversation()
		return nil
	})
}

// SendMessage sends body to a conversation. The message appears in the
// timeline when the server echoes it back.
func (s *Session) SendMessage(conversationID, body string) error {
	return s.do(func() error { return s.chat.SendMessage(conversationID, body) })
}

// Keystroke reports local typing. The first keystroke after idle emits a
// start event and a stop event follows after a quiet period.
func (s *Session) Keystroke(conversationID string) error {
	return s.do(func() error {
		s.chat.Keystroke(conversationID)
		return nil
	})
}

// FetchMessages refetches a conversation's timeline.
func (s *Session) FetchMessages(conversationID string) error {
	return s.do(func() error {
		s.chat.FetchMessages(conversationID)
		return nil
	})
}

// RefreshConversations refetches the conversation list.
func (s *Session) RefreshConversations() error {
	return s.do(func() error {
		s.chat.RefreshConversations()
		return nil
	})
}

// TypingIn returns the peer typing in a conversation.
func (s *Session) TypingIn(conversationID string) (Profile, bool) {
	type result struct {
		p  Profile
		ok bool
	}
	r := read(s, func() result {
		p, ok := s.chat.TypingIn(conversationID)
		return result{p, ok}
	})
	return r.p, r.ok
}

// UnreadMessages returns the unread message count across conversations.
func (s *Session) UnreadMessages() int { return read(s, s.chat.UnreadTotal) }

// ============================================================================
// Presence
// ============================================================================

// Online returns the ids of users currently online, sorted.
func (s *Session) Online() []string { return read(s, s.presence.Online) }

// IsOnline reports whether a user is online.
func (s *Session) IsOnline(userID string) bool {
	return read(s, func() bool { return s.presence.IsOnline(userID) })
}

// ============================================================================
// Notifications
// ============================================================================

// Notifications returns the feed, most recent first.
func (s *Session) Notifications() []Notification { return read(s, s.feed.List) }

// UnreadNotifications returns the number of unread notifications.
func (s *Session) UnreadNotifications() int { return read(s, s.feed.UnreadCount) }

// RefreshNotifications refetches the notification feed. Local reads and
// deletes survive the refetch.
func (s *Session) RefreshNotifications() error {
	return s.do(func() error {
		s.feed.Hydrate()
		return nil
	})
}

// MarkNotificationRead marks one notification read. It reports false for an
// unknown id.
func (s *Session) MarkNotificationRead(id string) bool {
	return read(s, func() bool { return s.feed.MarkAsRead(id) })
}

// MarkAllNotificationsRead marks the whole feed read.
func (s *Session) MarkAllNotificationsRead() error {
	return s.do(func() error {
		s.feed.MarkAllAsRead()
		return nil
	})
}

// DeleteNotification removes a notification. It reports false for an
// unknown id.
func (s *Session) DeleteNotification(id string) bool {
	return read(s, func() bool { return s.feed.Delete(id) })
}

// Preferences returns a copy of the current notification preferences.
func (s *Session) Preferences() Preferences { return read(s, s.prefs.Current) }

// UpdatePreferences applies patch and waits for the server's answer.
func (s *Session) UpdatePreferences(ctx context.Context, patch PreferencesPatch) error {
	done := make(chan error, 1)
	if err := s.loop.Call(func() {
		s.prefs.Update(patch, func(err error) { done <- err })
	}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.loop.Context().Done():
		return ErrSessionClosed
	}
}

// SetNotificationType enables or disables one notification type.
func (s *Session) SetNotificationType(ctx context.Context, t NotificationType, enabled bool) error {
	if !t.Valid() {
		return &ValidationError{Field: "type", Reason: "unknown notification type " + string(t)}
	}
	return s.UpdatePreferences(ctx, s.Preferences().Toggle(t, enabled))
}

// Toasts returns the toasts currently on screen, oldest first.
func (s *Session) Toasts() []Toast { return read(s, s.toasts.Active) }

// DismissToast removes a toast before it expires.
func (s *Session) DismissToast(id string) bool {
	return read(s, func() bool { return s.toasts.Dismiss(id) })
}

// ============================================================================
// Search
// ============================================================================

// Search schedules a user search for query. Rapid calls are debounced and
// only the latest query's results are kept.
func (s *Session) Search(query string) error {
	return s.do(func() error {
		s.search.Search(query)
		return nil
	})
}

// SearchState returns the current search query, results and status.
func (s *Session) SearchState() SearchState { return read(s, s.search.State) }
