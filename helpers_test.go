package syncengine

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ============================================================================
// Manual scheduler
// ============================================================================

type fakeTimer struct {
	at      time.Duration
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// manualLoop implements Scheduler and Runner without goroutines. Timers fire
// on Advance; runner work is held until RunPending or RunAt.
type manualLoop struct {
	now     time.Duration
	seq     int
	timers  []*fakeTimer
	pending []func(ctx context.Context) func()
}

func newManualLoop() *manualLoop { return &manualLoop{} }

func (l *manualLoop) AfterFunc(d time.Duration, f func()) Timer {
	l.seq++
	t := &fakeTimer{at: l.now + d, seq: l.seq, f: f}
	l.timers = append(l.timers, t)
	return t
}

func (l *manualLoop) Go(work func(ctx context.Context) func()) {
	l.pending = append(l.pending, work)
}

// Advance moves time forward, firing due timers in deadline order.
func (l *manualLoop) Advance(d time.Duration) {
	target := l.now + d
	for {
		due := l.due(target)
		if due == nil {
			break
		}
		l.now = due.at
		due.fired = true
		due.f()
	}
	l.now = target
}

func (l *manualLoop) due(target time.Duration) *fakeTimer {
	var live []*fakeTimer
	for _, t := range l.timers {
		if !t.stopped && !t.fired && t.at <= target {
			live = append(live, t)
		}
	}
	if len(live) == 0 {
		return nil
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].at != live[j].at {
			return live[i].at < live[j].at
		}
		return live[i].seq < live[j].seq
	})
	return live[0]
}

// ActiveTimers counts timers that have neither fired nor been stopped.
func (l *manualLoop) ActiveTimers() int {
	n := 0
	for _, t := range l.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// RunPending completes every queued work item in FIFO order.
func (l *manualLoop) RunPending() {
	for len(l.pending) > 0 {
		l.RunAt(0)
	}
}

// RunAt completes the i-th queued work item, leaving the others queued.
func (l *manualLoop) RunAt(i int) {
	work := l.pending[i]
	l.pending = append(l.pending[:i:i], l.pending[i+1:]...)
	if cont := work(context.Background()); cont != nil {
		cont()
	}
}

// ============================================================================
// Fake emitter
// ============================================================================

type fakeEmitter struct {
	connected bool
	sent      []OutboundEvent
}

func newFakeEmitter() *fakeEmitter { return &fakeEmitter{connected: true} }

func (e *fakeEmitter) Emit(ev OutboundEvent) error {
	if !e.connected {
		return ErrNotConnected
	}
	e.sent = append(e.sent, ev)
	return nil
}

func (e *fakeEmitter) Connected() bool { return e.connected }

func (e *fakeEmitter) names() []EventName {
	out := make([]EventName, len(e.sent))
	for i, ev := range e.sent {
		out[i] = ev.EventName()
	}
	return out
}

func (e *fakeEmitter) count(name EventName) int {
	n := 0
	for _, ev := range e.sent {
		if ev.EventName() == name {
			n++
		}
	}
	return n
}

func (e *fakeEmitter) reset() { e.sent = nil }

// ============================================================================
// Fake backend
// ============================================================================

type fakeBackend struct {
	mu sync.Mutex

	conversations []Conversation
	convErr       error
	messages      map[string][]Message
	msgErr        error
	notifications []Notification
	notifErr      error
	prefs         *Preferences
	prefsErr      error
	updateErr     error
	users         []Profile
	searchErr     error
	remoteErr     error

	calls   []string
	queries []string
	patches []PreferencesPatch
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{messages: make(map[string][]Message)}
}

func (b *fakeBackend) record(call string) {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	b.mu.Unlock()
}

func (b *fakeBackend) callCount(call string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (b *fakeBackend) ListConversations(ctx context.Context) ([]Conversation, error) {
	b.record("conversations")
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.convErr != nil {
		return nil, b.convErr
	}
	return append([]Conversation(nil), b.conversations...), nil
}

func (b *fakeBackend) ListMessages(ctx context.Context, conversationID string) (*MessagePage, error) {
	b.record("messages:" + conversationID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.msgErr != nil {
		return nil, b.msgErr
	}
	return &MessagePage{Messages: append([]Message(nil), b.messages[conversationID]...)}, nil
}

func (b *fakeBackend) ListNotifications(ctx context.Context) (*NotificationPage, error) {
	b.record("notifications")
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.notifErr != nil {
		return nil, b.notifErr
	}
	return &NotificationPage{Notifications: append([]Notification(nil), b.notifications...)}, nil
}

func (b *fakeBackend) MarkNotificationRead(ctx context.Context, id string) error {
	b.record("read:" + id)
	return b.remoteErr
}

func (b *fakeBackend) MarkAllNotificationsRead(ctx context.Context) error {
	b.record("read-all")
	return b.remoteErr
}

func (b *fakeBackend) DeleteNotification(ctx context.Context, id string) error {
	b.record("delete:" + id)
	return b.remoteErr
}

func (b *fakeBackend) GetPreferences(ctx context.Context) (*Preferences, error) {
	b.record("preferences")
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.prefsErr != nil {
		return nil, b.prefsErr
	}
	if b.prefs == nil {
		p := DefaultPreferences()
		return &p, nil
	}
	p := b.prefs.clone()
	return &p, nil
}

func (b *fakeBackend) UpdatePreferences(ctx context.Context, patch PreferencesPatch) (*Preferences, error) {
	b.record("update-preferences")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.patches = append(b.patches, patch)
	if b.updateErr != nil {
		return nil, b.updateErr
	}
	p := DefaultPreferences()
	if b.prefs != nil {
		p = b.prefs.clone()
	}
	for k, v := range patch.Notifications {
		p.Notifications[k] = v
	}
	if patch.EmailNotifications != nil {
		p.EmailNotifications = *patch.EmailNotifications
	}
	if patch.PushNotifications != nil {
		p.PushNotifications = *patch.PushNotifications
	}
	if patch.QuietHours != nil {
		p.QuietHours = *patch.QuietHours
	}
	b.prefs = &p
	out := p.clone()
	return &out, nil
}

func (b *fakeBackend) SearchUsers(ctx context.Context, query string) ([]Profile, error) {
	b.record("search")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries = append(b.queries, query)
	if b.searchErr != nil {
		return nil, b.searchErr
	}
	return append([]Profile(nil), b.users...), nil
}

// ============================================================================
// Fixtures
// ============================================================================

const testViewer = "me"

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func msg(id, conversationID, sender, recipient string, sec int) Message {
	m := Message{
		ID:             id,
		ConversationID: conversationID,
		Sender:         Profile{ID: sender},
		Content:        "content " + id,
		CreatedAt:      at(sec),
	}
	if recipient != "" {
		m.Recipient = &Profile{ID: recipient}
	}
	return m
}

func notification(id string, typ NotificationType, sec int) Notification {
	return Notification{
		ID:        id,
		Type:      typ,
		ActorID:   "actor-" + id,
		Message:   "notification " + id,
		RelatedID: "related-" + id,
		CreatedAt: at(sec),
	}
}

func messageIDs(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func conversationIDs(convs []Conversation) []string {
	out := make([]string, len(convs))
	for i, c := range convs {
		out[i] = c.ID
	}
	return out
}

func notificationIDs(ns []Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}
