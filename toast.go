package syncengine

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultToastTTL is how long a toast stays visible.
const DefaultToastTTL = 5 * time.Second

// Toast is a transient popup for one pushed notification.
type Toast struct {
	ID           string
	Notification Notification
	CreatedAt    time.Time
}

type toastEntry struct {
	toast Toast
	timer Timer
}

// ToastDispatcher turns pushed notifications into self-expiring toasts. It
// does not touch the feed's read state.
type ToastDispatcher struct {
	sched   Scheduler
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
	changes *Broadcast[Change]

	toasts      []*toastEntry
	unsubscribe func()
}

// NewToastDispatcher creates a dispatcher. ttl <= 0 uses DefaultToastTTL.
func NewToastDispatcher(sched Scheduler, ttl time.Duration, logger *zap.Logger, changes *Broadcast[Change]) *ToastDispatcher {
	if ttl <= 0 {
		ttl = DefaultToastTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToastDispatcher{
		sched:   sched,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.Named("toast"),
		changes: changes,
	}
}

// Attach subscribes to a pushed-notification signal. exec, when non-nil,
// moves delivery onto the loop.
func (d *ToastDispatcher) Attach(pushed *Broadcast[Notification], exec func(func())) {
	d.Detach()
	d.unsubscribe = pushed.Subscribe(func(n Notification) {
		if exec != nil {
			exec(func() { d.Enqueue(n) })
			return
		}
		d.Enqueue(n)
	})
}

// Detach stops receiving pushes.
func (d *ToastDispatcher) Detach() {
	if d.unsubscribe != nil {
		d.unsubscribe()
		d.unsubscribe = nil
	}
}

// Enqueue shows a toast for n.
func (d *ToastDispatcher) Enqueue(n Notification) Toast {
	t := Toast{ID: uuid.NewString(), Notification: n, CreatedAt: d.now()}
	entry := &toastEntry{toast: t}
	entry.timer = d.sched.AfterFunc(d.ttl, func() {
		if d.remove(t.ID) {
			d.logger.Debug("toast expired", zap.String("toast_id", t.ID))
		}
	})
	d.toasts = append(d.toasts, entry)
	d.changes.Publish(Change{Kind: ChangeToasts})
	return t
}

// Dismiss removes a toast before it expires.
func (d *ToastDispatcher) Dismiss(id string) bool {
	for _, e := range d.toasts {
		if e.toast.ID == id {
			e.timer.Stop()
			return d.remove(id)
		}
	}
	return false
}

// Active returns the visible toasts, oldest first.
func (d *ToastDispatcher) Active() []Toast {
	out := make([]Toast, len(d.toasts))
	for i, e := range d.toasts {
		out[i] = e.toast
	}
	return out
}

// Close detaches and cancels every pending expiry.
func (d *ToastDispatcher) Close() {
	d.Detach()
	for _, e := range d.toasts {
		e.timer.Stop()
	}
	d.toasts = nil
}

func (d *ToastDispatcher) remove(id string) bool {
	for i, e := range d.toasts {
		if e.toast.ID == id {
			d.toasts = append(d.toasts[:i], d.toasts[i+1:]...)
			d.changes.Publish(Change{Kind: ChangeToasts})
			return true
		}
	}
	return false
}
