package syncengine

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// NotificationAPI is the REST surface of the notification service.
type NotificationAPI interface {
	ListNotifications(ctx context.Context) (*NotificationPage, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id string) error
}

type feedEntry struct {
	n   Notification
	seq uint64
}

// Feed is the most-recent-first list of notifications. Accepted pushes are
// re-published on Pushed for independent consumers such as toasts.
type Feed struct {
	api     NotificationAPI
	prefs   *PreferenceStore
	runner  Runner
	logger  *zap.Logger
	metrics *Metrics
	changes *Broadcast[Change]
	pushed  *Broadcast[Notification]

	items []feedEntry
	known   map[string]struct{}
	read    map[string]struct{}
	deleted map[string]struct{}
	seq     uint64
}

// NewFeed creates an empty feed. prefs may be nil, which allows every type.
func NewFeed(api NotificationAPI, prefs *PreferenceStore, runner Runner, logger *zap.Logger, metrics *Metrics, changes *Broadcast[Change]) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		api:     api,
		prefs:   prefs,
		runner:  runner,
		logger:  logger.Named("notifications"),
		metrics: metrics,
		changes: changes,
		pushed:  NewBroadcast[Notification]("notification-pushed", logger),
		known:   make(map[string]struct{}),
		read:    make(map[string]struct{}),
		deleted: make(map[string]struct{}),
	}
}

// Pushed is signalled once per accepted live notification.
func (f *Feed) Pushed() *Broadcast[Notification] { return f.pushed }

// List returns the feed, most recent first.
func (f *Feed) List() []Notification {
	out := make([]Notification, len(f.items))
	for i, e := range f.items {
		out[i] = e.n
	}
	return out
}

// Get looks a notification up by id.
func (f *Feed) Get(id string) (Notification, bool) {
	if i := f.index(id); i >= 0 {
		return f.items[i].n, true
	}
	return Notification{}, false
}

// UnreadCount returns the number of unread notifications.
func (f *Feed) UnreadCount() int {
	n := 0
	for _, e := range f.items {
		if !e.n.Read {
			n++
		}
	}
	return n
}

// Hydrate fetches the feed snapshot.
func (f *Feed) Hydrate() {
	since := f.seq
	f.runner.Go(func(ctx context.Context) func() {
		page, err := f.api.ListNotifications(ctx)
		return func() { f.applySnapshot(page, err, since) }
	})
}

// applySnapshot replaces the feed. Records read locally stay read, records
// deleted locally stay deleted, and pushes accepted after the request was
// issued are kept.
func (f *Feed) applySnapshot(page *NotificationPage, err error, since uint64) {
	if err != nil {
		f.metrics.snapshotFailed("notifications")
		f.logger.Warn("snapshot fetch failed, keeping previous state",
			zap.Error(&SnapshotFetchError{Resource: "notifications", Err: err}))
		return
	}
	var snapshot []Notification
	if page != nil {
		snapshot = page.Notifications
	}

	items := make([]feedEntry, 0, len(snapshot))
	inSnapshot := make(map[string]struct{}, len(snapshot))
	for _, n := range snapshot {
		if n.ID == "" {
			continue
		}
		if _, dup := inSnapshot[n.ID]; dup {
			continue
		}
		inSnapshot[n.ID] = struct{}{}
		if _, gone := f.deleted[n.ID]; gone {
			continue
		}
		if _, ok := f.read[n.ID]; ok {
			n.Read = true
		}
		f.known[n.ID] = struct{}{}
		items = append(items, feedEntry{n: n})
	}
	for _, e := range f.items {
		if _, ok := inSnapshot[e.n.ID]; !ok && e.seq > since {
			items = append(items, e)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].n.CreatedAt.After(items[j].n.CreatedAt)
	})
	f.items = items
	f.changes.Publish(Change{Kind: ChangeNotifications})
}

// ApplyPush inserts a live notification. Duplicates, unknown types and types
// disabled in preferences are dropped. It reports whether n was accepted.
func (f *Feed) ApplyPush(n Notification) bool {
	switch {
	case n.ID == "":
		f.metrics.eventDropped("malformed")
		f.logger.Warn("dropping notification without id")
		return false
	case !n.Type.Valid():
		f.metrics.eventDropped("unknown_type")
		f.logger.Warn("dropping notification of unknown type", zap.String("type", string(n.Type)))
		return false
	}
	if _, dup := f.known[n.ID]; dup {
		f.metrics.eventDropped("duplicate")
		f.logger.Debug("dropping duplicate notification", zap.String("notification_id", n.ID))
		return false
	}
	if f.prefs != nil && !f.prefs.Allows(n.Type) {
		f.metrics.eventDropped("filtered")
		f.logger.Debug("notification type disabled", zap.String("type", string(n.Type)))
		return false
	}

	f.known[n.ID] = struct{}{}
	f.seq++
	at := sort.Search(len(f.items), func(i int) bool {
		return !f.items[i].n.CreatedAt.After(n.CreatedAt)
	})
	f.items = append(f.items, feedEntry{})
	copy(f.items[at+1:], f.items[at:])
	f.items[at] = feedEntry{n: n, seq: f.seq}

	f.changes.Publish(Change{Kind: ChangeNotifications})
	f.pushed.Publish(n)
	return true
}

// MarkAsRead marks one notification read locally, then tells the server. A
// failed remote call is logged and not rolled back.
func (f *Feed) MarkAsRead(id string) bool {
	i := f.index(id)
	if i < 0 {
		return false
	}
	f.read[id] = struct{}{}
	if f.items[i].n.Read {
		return true
	}
	f.items[i].n.Read = true
	f.changes.Publish(Change{Kind: ChangeNotifications})
	f.remote("mark read", func(ctx context.Context) error { return f.api.MarkNotificationRead(ctx, id) })
	return true
}

// MarkAllAsRead marks every notification read.
func (f *Feed) MarkAllAsRead() {
	changed := false
	for i := range f.items {
		f.read[f.items[i].n.ID] = struct{}{}
		if !f.items[i].n.Read {
			f.items[i].n.Read = true
			changed = true
		}
	}
	if !changed {
		return
	}
	f.changes.Publish(Change{Kind: ChangeNotifications})
	f.remote("mark all read", f.api.MarkAllNotificationsRead)
}

// Delete removes a notification locally, then tells the server.
func (f *Feed) Delete(id string) bool {
	i := f.index(id)
	if i < 0 {
		return false
	}
	f.deleted[id] = struct{}{}
	f.items = append(f.items[:i], f.items[i+1:]...)
	f.changes.Publish(Change{Kind: ChangeNotifications})
	f.remote("delete", func(ctx context.Context) error { return f.api.DeleteNotification(ctx, id) })
	return true
}

func (f *Feed) remote(op string, call func(ctx context.Context) error) {
	f.runner.Go(func(ctx context.Context) func() {
		if err := call(ctx); err != nil {
			return func() {
				f.logger.Warn("notification update failed", zap.String("op", op), zap.Error(err))
			}
		}
		return nil
	})
}

func (f *Feed) index(id string) int {
	for i, e := range f.items {
		if e.n.ID == id {
			return i
		}
	}
	return -1
}

// Close drops every pushed-signal subscriber.
func (f *Feed) Close() {
	f.pushed.Reset()
}

// ============================================================================
// Navigation
// ============================================================================

// TargetKind is the screen a notification leads to.
type TargetKind string

const (
	TargetNone         TargetKind = ""
	TargetPost         TargetKind = "post"
	TargetConversation TargetKind = "conversation"
	TargetProfile      TargetKind = "profile"
)

// Target is where activating a notification navigates.
type Target struct {
	Kind TargetKind
	ID   string
}

// Path renders the target as an application route.
func (t Target) Path() string {
	switch t.Kind {
	case TargetPost:
		return "/post/" + t.ID
	case TargetConversation:
		return "/messages/" + t.ID
	case TargetProfile:
		return "/profile/" + t.ID
	}
	return ""
}

// TargetOf maps a notification to its navigation target.
func TargetOf(n Notification) Target {
	switch n.Type {
	case NotificationLike, NotificationFriendPost:
		if n.RelatedID != "" {
			return Target{Kind: TargetPost, ID: n.RelatedID}
		}
	case NotificationMessage:
		if n.RelatedID != "" {
			return Target{Kind: TargetConversation, ID: n.RelatedID}
		}
	case NotificationFriendRequest, NotificationProfileView:
		return Target{Kind: TargetProfile, ID: n.ActorID}
	}
	return Target{}
}
