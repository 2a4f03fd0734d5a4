package notifier

import (
	"context"
	"time"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	HistorySize     int
	// SendTimeout bounds a single sink call.
	SendTimeout time.Duration
}

// Notification is a short operator-facing message.
type Notification struct {
	Title    string
	Text     string
	Priority int
}

// Sink delivers a notification to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

type HistoryItem struct {
	ID    string    `json:"id"`
	At    time.Time `json:"at"`
	Sink  string    `json:"sink"`
	Title string    `json:"title"`
	Text  string    `json:"text"`
	Error string    `json:"error,omitempty"`
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type NotificationEvent struct {
	ID    string    `json:"id"`
	Sink  string    `json:"sink,omitempty"`
	Title string    `json:"title"`
	Key   string    `json:"key"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}
