package transport

import (
	"context"
	"time"
)

// Event is one delivered chat message. It is owned by the pipeline
// invocation that receives it and never persisted.
type Event struct {
	// ID identifies the delivery for dedup. Empty means absent.
	ID         string
	Channel    string
	Text       string
	User       string
	IsBot      bool
	Subtype    string
	ReceivedAt time.Time
}

type Channel struct {
	ID   string
	Name string
}

// ChannelPage is one page of a channel listing. An empty NextCursor ends it.
type ChannelPage struct {
	Channels   []Channel
	NextCursor string
}

// Command is an inbound slash command.
type Command struct {
	Name      string // "/buzzer-stats"
	Text      string
	ChannelID string
	UserID    string
	UserName  string
}

// CommandHandler answers a slash command with plain text.
type CommandHandler func(ctx context.Context, cmd Command) string

// ChannelLister pages through the channels visible to the bot identity.
type ChannelLister interface {
	ListChannels(ctx context.Context, cursor string) (ChannelPage, error)
}

// Poster posts a plain text message to a channel.
type Poster interface {
	PostMessage(ctx context.Context, channel, text string) error
}

type Adapter interface {
	ChannelLister
	Poster

	// Start connects and forwards message events to out without blocking.
	Start(ctx context.Context, out chan<- Event) error
	Stop(ctx context.Context) error

	SetCommandHandler(h CommandHandler)
}
