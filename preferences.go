package syncengine

import (
	"context"

	"go.uber.org/zap"
)

// QuietHours is a daily window during which notifications are muted.
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start,omitempty"`
	End     string `json:"end,omitempty"`
}

// Preferences are the viewer's notification settings.
type Preferences struct {
	Notifications      map[NotificationType]bool `json:"notifications"`
	EmailNotifications bool                      `json:"emailNotifications"`
	PushNotifications  bool                      `json:"pushNotifications"`
	QuietHours         QuietHours                `json:"quietHours"`
}

// DefaultPreferences allows every notification type.
func DefaultPreferences() Preferences {
	p := Preferences{
		Notifications:      make(map[NotificationType]bool, len(NotificationTypes)),
		EmailNotifications: true,
		PushNotifications:  true,
	}
	for _, t := range NotificationTypes {
		p.Notifications[t] = true
	}
	return p
}

// Allows reports whether notifications of type t are delivered. A type with
// no entry is allowed.
func (p Preferences) Allows(t NotificationType) bool {
	enabled, ok := p.Notifications[t]
	return !ok || enabled
}

func (p Preferences) clone() Preferences {
	out := p
	if p.Notifications != nil {
		out.Notifications = make(map[NotificationType]bool, len(p.Notifications))
		for k, v := range p.Notifications {
			out.Notifications[k] = v
		}
	}
	return out
}

// PreferencesPatch is a partial update. Nil fields are left unchanged.
type PreferencesPatch struct {
	Notifications      map[NotificationType]bool `json:"notifications,omitempty"`
	EmailNotifications *bool                     `json:"emailNotifications,omitempty"`
	PushNotifications  *bool                     `json:"pushNotifications,omitempty"`
	QuietHours         *QuietHours               `json:"quietHours,omitempty"`
}

// Toggle builds a patch flipping one type, carrying the full type map the way
// the server expects it.
func (p Preferences) Toggle(t NotificationType, enabled bool) PreferencesPatch {
	m := make(map[NotificationType]bool, len(NotificationTypes))
	for _, nt := range NotificationTypes {
		m[nt] = p.Allows(nt)
	}
	m[t] = enabled
	return PreferencesPatch{Notifications: m}
}

// PreferencesAPI reads and writes preferences over REST.
type PreferencesAPI interface {
	GetPreferences(ctx context.Context) (*Preferences, error)
	UpdatePreferences(ctx context.Context, patch PreferencesPatch) (*Preferences, error)
}

// PreferenceStore holds the last known preferences. Until a snapshot arrives
// every type is allowed.
type PreferenceStore struct {
	api     PreferencesAPI
	runner  Runner
	logger  *zap.Logger
	metrics *Metrics
	changes *Broadcast[Change]

	current Preferences
	loaded  bool
}

// NewPreferenceStore creates a store seeded with DefaultPreferences.
func NewPreferenceStore(api PreferencesAPI, runner Runner, logger *zap.Logger, metrics *Metrics, changes *Broadcast[Change]) *PreferenceStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PreferenceStore{
		api:     api,
		runner:  runner,
		logger:  logger.Named("preferences"),
		metrics: metrics,
		changes: changes,
		current: DefaultPreferences(),
	}
}

// Current returns a copy of the preferences.
func (s *PreferenceStore) Current() Preferences { return s.current.clone() }

// Loaded reports whether a server snapshot has been applied.
func (s *PreferenceStore) Loaded() bool { return s.loaded }

// Allows reports whether notifications of type t are delivered.
func (s *PreferenceStore) Allows(t NotificationType) bool { return s.current.Allows(t) }

// Load fetches the preferences snapshot.
func (s *PreferenceStore) Load() {
	s.runner.Go(func(ctx context.Context) func() {
		p, err := s.api.GetPreferences(ctx)
		return func() { s.apply(p, err) }
	})
}

// Update sends patch and installs the server's answer. done, when non-nil,
// runs on the loop with the outcome.
func (s *PreferenceStore) Update(patch PreferencesPatch, done func(error)) {
	s.runner.Go(func(ctx context.Context) func() {
		p, err := s.api.UpdatePreferences(ctx, patch)
		return func() {
			if err != nil {
				s.logger.Warn("preferences update failed", zap.Error(err))
			} else {
				s.apply(p, nil)
			}
			if done != nil {
				done(err)
			}
		}
	})
}

func (s *PreferenceStore) apply(p *Preferences, err error) {
	if err != nil {
		s.metrics.snapshotFailed("preferences")
		s.logger.Warn("snapshot fetch failed, keeping previous state",
			zap.Error(&SnapshotFetchError{Resource: "preferences", Err: err}))
		return
	}
	if p == nil {
		return
	}
	s.current = p.clone()
	s.loaded = true
	s.changes.Publish(Change{Kind: ChangePreferences})
}
