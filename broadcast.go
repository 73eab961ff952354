package syncengine

import (
	"sync"

	"go.uber.org/zap"
)

// ChangeKind names the read model that changed.
type ChangeKind string

const (
	ChangeConnection    ChangeKind = "connection"
	ChangeConversations ChangeKind = "conversations"
	ChangeTimeline      ChangeKind = "timeline"
	ChangePresence      ChangeKind = "presence"
	ChangeTyping        ChangeKind = "typing"
	ChangeNotifications ChangeKind = "notifications"
	ChangePreferences   ChangeKind = "preferences"
	ChangeToasts        ChangeKind = "toasts"
	ChangeSearch        ChangeKind = "search"
)

// Change is published after every state mutation so views can re-render.
type Change struct {
	Kind           ChangeKind
	ConversationID string
}

type broadcastSub[T any] struct {
	id uint64
	fn func(T)
}

// Broadcast is a process-local signal with any number of independent
// subscribers. A panicking subscriber is recovered and does not affect the
// others.
type Broadcast[T any] struct {
	name   string
	logger *zap.Logger

	mu   sync.Mutex
	next uint64
	subs []broadcastSub[T]
}

// NewBroadcast creates a signal. name labels panics in logs.
func NewBroadcast[T any](name string, logger *zap.Logger) *Broadcast[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcast[T]{name: name, logger: logger}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Broadcast[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs = append(b.subs, broadcastSub[T]{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers v to every subscriber in subscription order.
func (b *Broadcast[T]) Publish(v T) {
	if b == nil {
		return
	}
	b.mu.Lock()
	subs := append([]broadcastSub[T](nil), b.subs...)
	b.mu.Unlock()

	for _, s := range subs {
		b.deliver(s.fn, v)
	}
}

func (b *Broadcast[T]) deliver(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("broadcast subscriber panicked", zap.String("signal", b.name), zap.Any("panic", r))
		}
	}()
	fn(v)
}

// Len returns the number of subscribers.
func (b *Broadcast[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Reset removes every subscriber.
func (b *Broadcast[T]) Reset() {
	b.mu.Lock()
	b.subs = nil
	b.mu.Unlock()
}
