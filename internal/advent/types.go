package advent

import "context"

// Entry is the content for one calendar day. Description may contain
// Telegram Markdown.
type Entry struct {
	Date        Date
	Title       string
	Description string
}

// Subscriber is a chat that receives daily entries while Subscribed.
// A zero LastDelivered means nothing was delivered yet.
type Subscriber struct {
	ID            int64
	Subscribed    bool
	LastDelivered Date
}

// ContentStore persists entries keyed by date.
type ContentStore interface {
	SetEntry(ctx context.Context, d Date, title, description string) (Entry, error)
	GetEntry(ctx context.Context, d Date) (Entry, bool, error)
	// ListEntries returns all entries in ascending date order.
	ListEntries(ctx context.Context) ([]Entry, error)
	DeleteEntry(ctx context.Context, d Date) (bool, error)
}

// SubscriberStore persists subscribers keyed by chat id.
type SubscriberStore interface {
	// Upsert loads or creates (subscribed) the record for id and, when
	// subscribed is non-nil, overwrites its flag.
	Upsert(ctx context.Context, id int64, subscribed *bool) (Subscriber, error)
	MarkDelivered(ctx context.Context, id int64, d Date) error
	ListSubscribed(ctx context.Context) ([]Subscriber, error)
	GetSubscriber(ctx context.Context, id int64) (Subscriber, bool, error)
	CountSubscribers(ctx context.Context) (total, subscribed int, err error)
}
