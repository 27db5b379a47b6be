package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/hospital-transfers/internal/apperr"
	"github.com/hackgods/hospital-transfers/internal/metrics"
	"github.com/hackgods/hospital-transfers/internal/store"
)

// Publisher forwards a stored notification to an external channel.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

type Dispatcher struct {
	store     store.Store
	log       *zap.Logger
	metrics   *metrics.Metrics
	publisher Publisher
	now       func() time.Time
}

type Option func(*Dispatcher)

func WithPublisher(p Publisher) Option { return func(d *Dispatcher) { d.publisher = p } }

func WithMetrics(m *metrics.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

func NewDispatcher(st store.Store, log *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{store: st, log: log, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify appends an unread notification to inbox and returns its id.
func (d *Dispatcher) Notify(ctx context.Context, inbox string, msg Message) (string, error) {
	if err := apperr.Required("inbox", inbox, "title", msg.Title, "message", msg.Message); err != nil {
		return "", err
	}

	n := Notification{
		Inbox:      inbox,
		Title:      msg.Title,
		Message:    msg.Message,
		Timestamp:  d.now().UTC(),
		Read:       false,
		TransferID: msg.TransferID,
		RoomID:     msg.RoomID,
	}

	id, err := d.store.Append(ctx, store.InboxPath(inbox), n)
	if err != nil {
		return "", err
	}
	n.ID = id
	d.metrics.IncNotification(Kind(inbox))

	if d.publisher != nil {
		if err := d.publisher.Publish(ctx, n); err != nil {
			// The inbox write is authoritative; the external copy is best effort.
			d.log.Warn("notification publish failed",
				zap.String("inbox", inbox),
				zap.String("notification_id", id),
				zap.Error(err),
			)
		}
	}

	return id, nil
}

func (d *Dispatcher) MarkRead(ctx context.Context, inbox, id string) error {
	if err := apperr.Required("inbox", inbox, "notification id", id); err != nil {
		return err
	}
	path := store.NotificationPath(inbox, id)
	snap, err := d.store.Read(ctx, path)
	if err != nil {
		return err
	}
	if !snap.IsRecord() {
		return apperr.NotFound("notification %s in %s", id, inbox)
	}
	return d.store.Merge(ctx, path, map[string]any{"read": true})
}

// ClearAll deletes every notification in inbox.
func (d *Dispatcher) ClearAll(ctx context.Context, inbox string) error {
	if inbox == "" {
		return apperr.Validation("inbox is required")
	}
	return d.store.Delete(ctx, store.InboxPath(inbox))
}

// List returns the merged feed of the given inboxes.
func (d *Dispatcher) List(ctx context.Context, inboxes ...string) (Feed, error) {
	sources := make(map[string][]Notification)
	for _, inbox := range unique(inboxes) {
		snap, err := d.store.Read(ctx, store.InboxPath(inbox))
		if err != nil {
			return Feed{}, err
		}
		items, err := decodeInbox(inbox, snap)
		if err != nil {
			return Feed{}, err
		}
		sources[inbox] = items
	}
	return merge(sources), nil
}

// Subscribe delivers the merged feed of inboxes once all sources are
// attached, then again whenever any of them changes. Deliveries are
// serialized.
func (d *Dispatcher) Subscribe(ctx context.Context, inboxes []string, fn func(Feed)) (store.Subscription, error) {
	inboxes = unique(inboxes)
	if len(inboxes) == 0 {
		return nil, apperr.Validation("at least one inbox is required")
	}

	m := &merger{sources: make(map[string][]Notification), fn: fn}
	subs := make(multiSubscription, 0, len(inboxes))

	for _, inbox := range inboxes {
		sub, err := d.store.Subscribe(ctx, store.InboxPath(inbox), func(snap store.Snapshot) {
			items, err := decodeInbox(inbox, snap)
			if err != nil {
				d.log.Warn("dropping undecodable inbox snapshot", zap.String("inbox", inbox), zap.Error(err))
				return
			}
			m.update(inbox, items)
		})
		if err != nil {
			subs.Close()
			return nil, err
		}
		subs = append(subs, sub)
	}

	m.start()
	return subs, nil
}

func decodeInbox(inbox string, snap store.Snapshot) ([]Notification, error) {
	items := make([]Notification, 0, snap.Len())
	err := store.DecodeAll(snap, func(key string, n Notification) {
		n.ID = key
		n.Inbox = inbox
		items = append(items, n)
	})
	return items, err
}

func merge(sources map[string][]Notification) Feed {
	var feed Feed
	for _, items := range sources {
		feed.Items = append(feed.Items, items...)
	}
	sort.Slice(feed.Items, func(i, j int) bool {
		a, b := feed.Items[i], feed.Items[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID > b.ID
	})
	for _, n := range feed.Items {
		if !n.Read {
			feed.Unread++
		}
	}
	return feed
}

type merger struct {
	mu      sync.Mutex
	sources map[string][]Notification
	ready   bool
	fn      func(Feed)
}

func (m *merger) update(inbox string, items []Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[inbox] = items
	if m.ready {
		m.fn(merge(m.sources))
	}
}

func (m *merger) start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = true
	m.fn(merge(m.sources))
}

type multiSubscription []store.Subscription

func (s multiSubscription) Close() {
	for _, sub := range s {
		sub.Close()
	}
}

func unique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
