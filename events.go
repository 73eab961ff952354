package syncengine

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// ============================================================================
// Event Names
// ============================================================================

// EventName is the wire name of a channel event.
type EventName string

const (
	EventFriendsOnline     EventName = "friends:online"
	EventUserOnline        EventName = "user:online"
	EventUserOffline       EventName = "user:offline"
	EventMessageNew        EventName = "message:new"
	EventTypingStart       EventName = "typing:start"
	EventTypingStop        EventName = "typing:stop"
	EventUnreadTotal       EventName = "unread:total"
	EventNotificationNew   EventName = "notification:new"
	EventMessageSend       EventName = "message:send"
	EventConversationJoin  EventName = "conversation:join"
	EventConversationLeave EventName = "conversation:leave"
	EventMessagesRead      EventName = "messages:read"
)

// InboundEventNames lists every event the engine consumes.
var InboundEventNames = []EventName{
	EventFriendsOnline,
	EventUserOnline,
	EventUserOffline,
	EventMessageNew,
	EventTypingStart,
	EventTypingStop,
	EventUnreadTotal,
	EventNotificationNew,
}

// Envelope is the wire format of every channel frame.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ============================================================================
// Inbound Events
// ============================================================================

// InboundEvent is a server-pushed event. The set of implementations is closed.
type InboundEvent interface {
	EventName() EventName
	inbound()
}

// FriendsOnline is the bulk presence snapshot.
type FriendsOnline struct {
	UserIDs []string `json:"userIds"`
}

// UserOnline reports a single peer coming online.
type UserOnline struct {
	UserID string `json:"userId"`
}

// UserOffline reports a single peer going offline.
type UserOffline struct {
	UserID string `json:"userId"`
}

// MessageNew delivers a server-acknowledged message.
type MessageNew struct {
	Message        Message `json:"message"`
	ConversationID string  `json:"conversationId"`
}

// TypingStarted reports a peer typing in a conversation.
type TypingStarted struct {
	ConversationID string  `json:"conversationId"`
	UserID         string  `json:"userId"`
	User           Profile `json:"user"`
}

// TypingStopped reports a peer no longer typing.
type TypingStopped struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// UnreadTotal is the server's count of unread messages across conversations.
type UnreadTotal struct {
	Count int `json:"count"`
}

// NotificationNew is a live notification push.
type NotificationNew struct {
	Notification Notification `json:"notification"`
}

func (FriendsOnline) EventName() EventName   { return EventFriendsOnline }
func (UserOnline) EventName() EventName      { return EventUserOnline }
func (UserOffline) EventName() EventName     { return EventUserOffline }
func (MessageNew) EventName() EventName      { return EventMessageNew }
func (TypingStarted) EventName() EventName   { return EventTypingStart }
func (TypingStopped) EventName() EventName   { return EventTypingStop }
func (UnreadTotal) EventName() EventName     { return EventUnreadTotal }
func (NotificationNew) EventName() EventName { return EventNotificationNew }

func (FriendsOnline) inbound()   {}
func (UserOnline) inbound()      {}
func (UserOffline) inbound()     {}
func (MessageNew) inbound()      {}
func (TypingStarted) inbound()   {}
func (TypingStopped) inbound()   {}
func (UnreadTotal) inbound()     {}
func (NotificationNew) inbound() {}

// ============================================================================
// Outbound Events
// ============================================================================

// OutboundEvent is a client-emitted event. The set of implementations is closed.
type OutboundEvent interface {
	EventName() EventName
	outbound()
}

// SendMessage asks the server to persist and deliver a message.
type SendMessage struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
}

// StartTyping announces the viewer typing.
type StartTyping struct {
	ConversationID string `json:"conversationId"`
}

// StopTyping announces the viewer stopped typing.
type StopTyping struct {
	ConversationID string `json:"conversationId"`
}

// JoinConversation subscribes the connection to a conversation room.
type JoinConversation struct {
	ConversationID string `json:"conversationId"`
}

// LeaveConversation unsubscribes the connection from a conversation room.
type LeaveConversation struct {
	ConversationID string `json:"conversationId"`
}

// MarkMessagesRead asks the server to zero a conversation's unread count.
type MarkMessagesRead struct {
	ConversationID string `json:"conversationId"`
}

func (SendMessage) EventName() EventName       { return EventMessageSend }
func (StartTyping) EventName() EventName       { return EventTypingStart }
func (StopTyping) EventName() EventName        { return EventTypingStop }
func (JoinConversation) EventName() EventName  { return EventConversationJoin }
func (LeaveConversation) EventName() EventName { return EventConversationLeave }
func (MarkMessagesRead) EventName() EventName  { return EventMessagesRead }

func (SendMessage) outbound()       {}
func (StartTyping) outbound()       {}
func (StopTyping) outbound()        {}
func (JoinConversation) outbound()  {}
func (LeaveConversation) outbound() {}
func (MarkMessagesRead) outbound()  {}

// ============================================================================
// Codec
// ============================================================================

// DecodeInbound parses one wire frame into its typed event.
func DecodeInbound(frame []byte) (InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Event {
	case EventFriendsOnline:
		return decodeAs[FriendsOnline](env)
	case EventUserOnline:
		return decodeAs[UserOnline](env)
	case EventUserOffline:
		return decodeAs[UserOffline](env)
	case EventMessageNew:
		ev, err := decodePayload[MessageNew](env)
		if err != nil {
			return nil, err
		}
		if ev.ConversationID == "" {
			ev.ConversationID = ev.Message.ConversationID
		}
		if ev.Message.ConversationID == "" {
			ev.Message.ConversationID = ev.ConversationID
		}
		return ev, nil
	case EventTypingStart:
		return decodeAs[TypingStarted](env)
	case EventTypingStop:
		return decodeAs[TypingStopped](env)
	case EventUnreadTotal:
		return decodeAs[UnreadTotal](env)
	case EventNotificationNew:
		return decodeAs[NotificationNew](env)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

// EncodeOutbound serializes an outbound event into a wire frame.
func EncodeOutbound(ev OutboundEvent) ([]byte, error) {
	return encodeEnvelope(ev.EventName(), ev)
}

func encodeEnvelope(name EventName, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return json.Marshal(Envelope{Event: name, Data: data})
}

func decodeAs[T InboundEvent](env Envelope) (InboundEvent, error) {
	p, err := decodePayload[T](env)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func decodePayload[T InboundEvent](env Envelope) (T, error) {
	var p T
	if len(env.Data) == 0 {
		return p, fmt.Errorf("decode %s: empty payload", env.Event)
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return p, fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return p, nil
}
