package syncengine

import (
	"bytes"
	"time"

	json "github.com/goccy/go-json"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error response from one of the REST collaborators.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Profile is the identity and display snapshot of a peer.
type Profile struct {
	ID          string `json:"_id"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	PicturePath string `json:"picturePath,omitempty"`
	Occupation  string `json:"occupation,omitempty"`
}

// UnmarshalJSON accepts both a populated profile object and a bare user id,
// since the servers send either form depending on the endpoint.
func (p *Profile) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*p = Profile{ID: id}
		return nil
	}
	type plain Profile
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Profile(v)
	return nil
}

// DisplayName joins first and last name, falling back to the id.
func (p Profile) DisplayName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	case p.LastName != "":
		return p.LastName
	}
	return p.ID
}

// ============================================================================
// Chat Types
// ============================================================================

// Message is a server-acknowledged chat message. Identifiers and timestamps
// are always assigned by the server.
type Message struct {
	ID             string    `json:"_id"`
	ConversationID string    `json:"conversationId"`
	Sender         Profile   `json:"sender"`
	Recipient      *Profile  `json:"recipient,omitempty"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// MessagePage is the REST snapshot of a conversation's history.
type MessagePage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore,omitempty"`
}

// ============================================================================
// Notification Types
// ============================================================================

// NotificationType is the closed set of notification kinds.
type NotificationType string

const (
	NotificationLike          NotificationType = "like"
	NotificationMessage       NotificationType = "message"
	NotificationFriendRequest NotificationType = "friend-request"
	NotificationProfileView   NotificationType = "profile-view"
	NotificationFriendPost    NotificationType = "friend-post"
)

// NotificationTypes lists every valid notification type in display order.
var NotificationTypes = []NotificationType{
	NotificationLike,
	NotificationMessage,
	NotificationFriendRequest,
	NotificationProfileView,
	NotificationFriendPost,
}

// Valid reports whether t belongs to the closed set.
func (t NotificationType) Valid() bool {
	for _, v := range NotificationTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Notification is a single notification record.
type Notification struct {
	ID           string           `json:"_id"`
	Type         NotificationType `json:"type"`
	ActorID      string           `json:"actorId"`
	ActorName    string           `json:"actorName,omitempty"`
	ActorPicture string           `json:"actorPicture,omitempty"`
	Message      string           `json:"message"`
	RelatedID    string           `json:"relatedId,omitempty"`
	Read         bool             `json:"read"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// NotificationPage is the REST snapshot of the notification feed.
type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unreadCount"`
}
