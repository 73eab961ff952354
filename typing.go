package syncengine

import (
	"time"

	"go.uber.org/zap"
)

// DefaultTypingTimeout is the inactivity window after the last keystroke.
const DefaultTypingTimeout = 3 * time.Second

type typingEntry struct {
	user  Profile
	timer Timer
}

// Typing tracks the viewer's outgoing typing state and the ephemeral "who is
// typing" entry of each conversation. At most one entry exists per
// conversation; the last writer wins.
type Typing struct {
	emitter  Emitter
	sched    Scheduler
	timeout  time.Duration
	logger   *zap.Logger
	onChange func(conversationID string)

	local  map[string]Timer
	remote map[string]*typingEntry
}

// NewTyping creates a tracker. onChange may be nil.
func NewTyping(emitter Emitter, sched Scheduler, timeout time.Duration, logger *zap.Logger, onChange func(string)) *Typing {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if onChange == nil {
		onChange = func(string) {}
	}
	return &Typing{
		emitter:  emitter,
		sched:    sched,
		timeout:  timeout,
		logger:   logger,
		onChange: onChange,
		local:    make(map[string]Timer),
		remote:   make(map[string]*typingEntry),
	}
}

// Keystroke records viewer input. The first keystroke after idle emits a
// start event; every keystroke re-arms the inactivity timer.
func (t *Typing) Keystroke(conversationID string) {
	if conversationID == "" || isPlaceholderID(conversationID) {
		return
	}
	if timer, active := t.local[conversationID]; active {
		timer.Stop()
	} else {
		t.emit(StartTyping{ConversationID: conversationID})
	}
	t.local[conversationID] = t.sched.AfterFunc(t.timeout, func() {
		t.Stop(conversationID)
	})
}

// Stop ends the viewer's typing in a conversation, emitting a stop event when
// the tracker was active.
func (t *Typing) Stop(conversationID string) {
	timer, active := t.local[conversationID]
	if !active {
		return
	}
	timer.Stop()
	delete(t.local, conversationID)
	t.emit(StopTyping{ConversationID: conversationID})
}

// Active reports whether the viewer is typing in a conversation.
func (t *Typing) Active(conversationID string) bool {
	_, ok := t.local[conversationID]
	return ok
}

// ApplyStart sets the entry for a remote start event. Events from the viewer
// or for a conversation other than the open one are ignored.
func (t *Typing) ApplyStart(ev TypingStarted, viewerID, openConversationID string) bool {
	if ev.UserID == viewerID || openConversationID == "" || ev.ConversationID != openConversationID {
		return false
	}
	user := ev.User
	if user.ID == "" {
		user.ID = ev.UserID
	}

	if prev, ok := t.remote[ev.ConversationID]; ok {
		prev.timer.Stop()
	}
	entry := &typingEntry{user: user}
	conversationID := ev.ConversationID
	entry.timer = t.sched.AfterFunc(t.timeout, func() {
		if t.remote[conversationID] == entry {
			delete(t.remote, conversationID)
			t.onChange(conversationID)
		}
	})
	t.remote[conversationID] = entry
	t.onChange(conversationID)
	return true
}

// ApplyStop clears a conversation's entry unconditionally.
func (t *Typing) ApplyStop(conversationID string) {
	t.Clear(conversationID)
}

// Clear removes a conversation's entry, e.g. when the viewer navigates away.
func (t *Typing) Clear(conversationID string) {
	entry, ok := t.remote[conversationID]
	if !ok {
		return
	}
	entry.timer.Stop()
	delete(t.remote, conversationID)
	t.onChange(conversationID)
}

// Who returns the peer typing in a conversation.
func (t *Typing) Who(conversationID string) (Profile, bool) {
	if entry, ok := t.remote[conversationID]; ok {
		return entry.user, true
	}
	return Profile{}, false
}

// Close stops every timer without emitting.
func (t *Typing) Close() {
	for id, timer := range t.local {
		timer.Stop()
		delete(t.local, id)
	}
	for id, entry := range t.remote {
		entry.timer.Stop()
		delete(t.remote, id)
	}
}

func (t *Typing) emit(ev OutboundEvent) {
	if err := t.emitter.Emit(ev); err != nil {
		t.logger.Debug("typing emit dropped", zap.String("event", string(ev.EventName())), zap.Error(err))
	}
}
