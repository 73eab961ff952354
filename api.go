package syncengine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// ============================================================================
// Environment
// ============================================================================

const (
	DefaultChatURL         = "http://localhost:4000"
	DefaultNotificationURL = "http://localhost:4001"
	DefaultAPIURL          = "http://localhost:3001"
	DefaultTimeout         = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// APIClient talks to the chat service, the notification service and the main
// API over REST.
type APIClient struct {
	token           string
	chatURL         string
	notificationURL string
	apiURL          string
	httpClient      *http.Client
}

type APIOption func(*APIClient)

func WithChatURL(u string) APIOption {
	return func(c *APIClient) { c.chatURL = strings.TrimRight(u, "/") }
}

func WithNotificationURL(u string) APIOption {
	return func(c *APIClient) { c.notificationURL = strings.TrimRight(u, "/") }
}

func WithAPIURL(u string) APIOption {
	return func(c *APIClient) { c.apiURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) APIOption {
	return func(c *APIClient) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) APIOption {
	return func(c *APIClient) { c.httpClient = client }
}

// NewAPIClient creates a REST client. token may be empty for the OTP calls,
// which are unauthenticated.
func NewAPIClient(token string, opts ...APIOption) *APIClient {
	c := &APIClient{
		token:           token,
		chatURL:         DefaultChatURL,
		notificationURL: DefaultNotificationURL,
		apiURL:          DefaultAPIURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer credential, e.g. after OTP verification.
func (c *APIClient) SetToken(token string) {
	c.token = token
}

var (
	_ ChatAPI         = (*APIClient)(nil)
	_ NotificationAPI = (*APIClient)(nil)
	_ PreferencesAPI  = (*APIClient)(nil)
	_ UserSearchAPI   = (*APIClient)(nil)
)

// ============================================================================
// Internal request helper
// ============================================================================

func (c *APIClient) doRequest(ctx context.Context, method, base, path string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, data)
	}
	return data, nil
}

func newAPIError(status int, data []byte) *APIError {
	apiErr := &APIError{}
	if len(data) > 0 {
		_ = json.Unmarshal(data, apiErr)
	}
	apiErr.Status = status
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if len(bytes.TrimSpace(data)) == 0 {
		return &result, nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func request[T any](ctx context.Context, c *APIClient, method, base, path string, body interface{}) (*T, error) {
	data, err := c.doRequest(ctx, method, base, path, body)
	if err != nil {
		return nil, err
	}
	return decodeJSON[T](data)
}

// ============================================================================
// Chat Service
// ============================================================================

// ListConversations returns the viewer's conversation summaries.
func (c *APIClient) ListConversations(ctx context.Context) ([]Conversation, error) {
	list, err := request[[]Conversation](ctx, c, http.MethodGet, c.chatURL, "/api/chat/conversations", nil)
	if err != nil {
		return nil, err
	}
	return *list, nil
}

// ListMessages returns a conversation's history.
func (c *APIClient) ListMessages(ctx context.Context, conversationID string) (*MessagePage, error) {
	return request[MessagePage](ctx, c, http.MethodGet, c.chatURL,
		"/api/chat/conversations/"+url.PathEscape(conversationID)+"/messages", nil)
}

// ============================================================================
// Notification Service
// ============================================================================

func (c *APIClient) ListNotifications(ctx context.Context) (*NotificationPage, error) {
	return request[NotificationPage](ctx, c, http.MethodGet, c.notificationURL, "/api/notifications", nil)
}

func (c *APIClient) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := c.doRequest(ctx, http.MethodPatch, c.notificationURL, "/api/notifications/"+url.PathEscape(id)+"/read", nil)
	return err
}

func (c *APIClient) MarkAllNotificationsRead(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodPatch, c.notificationURL, "/api/notifications/read-all", nil)
	return err
}

func (c *APIClient) DeleteNotification(ctx context.Context, id string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, c.notificationURL, "/api/notifications/"+url.PathEscape(id), nil)
	return err
}

// GetPreferences returns the stored preferences object.
func (c *APIClient) GetPreferences(ctx context.Context) (*Preferences, error) {
	return request[Preferences](ctx, c, http.MethodGet, c.notificationURL, "/api/notifications/preferences", nil)
}

// UpdatePreferences applies patch and returns the resulting preferences.
func (c *APIClient) UpdatePreferences(ctx context.Context, patch PreferencesPatch) (*Preferences, error) {
	resp, err := request[struct {
		Preferences Preferences `json:"preferences"`
	}](ctx, c, http.MethodPatch, c.notificationURL, "/api/notifications/preferences", patch)
	if err != nil {
		return nil, err
	}
	return &resp.Preferences, nil
}

// ============================================================================
// Main API
// ============================================================================

// SearchUsers finds users whose name matches query.
func (c *APIClient) SearchUsers(ctx context.Context, query string) ([]Profile, error) {
	data, err := c.doRequest(ctx, http.MethodPost, c.apiURL, "/users/search", map[string]string{"query": query})
	if err != nil {
		return nil, err
	}
	return decodeProfiles(data)
}

// decodeProfiles accepts both a bare array and {"users": [...]}.
func decodeProfiles(data []byte) ([]Profile, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var users []Profile
		if err := json.Unmarshal(trimmed, &users); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		return users, nil
	}
	var wrapped struct {
		Users []Profile `json:"users"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return wrapped.Users, nil
}

// OTPResult is the answer to a successful verification.
type OTPResult struct {
	Message string  `json:"message,omitempty"`
	Token   string  `json:"token,omitempty"`
	User    Profile `json:"user"`
}

// VerifyOTP submits a one-time code. Malformed input is rejected without a
// network call.
func (c *APIClient) VerifyOTP(ctx context.Context, email, code string) (*OTPResult, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidateOTP(code); err != nil {
		return nil, err
	}
	return request[OTPResult](ctx, c, http.MethodPost, c.apiURL, "/otp/verify",
		map[string]string{"email": email, "otp": code})
}

// ResendOTP asks the server to send a fresh code.
func (c *APIClient) ResendOTP(ctx context.Context, email string) error {
	if err := ValidateEmail(email); err != nil {
		return err
	}
	_, err := c.doRequest(ctx, http.MethodPost, c.apiURL, "/otp/resend", map[string]string{"email": email})
	return err
}
