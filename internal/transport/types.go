// Package transport defines the chat transport contract. Channel ids are
// opaque strings; each adapter documents its own format.
package transport

import (
	"context"
	"time"
)

type Message struct {
	ID        string
	ChannelID string
	FromID    int64 // 0 when the transport has no user identity
	FromName  string
	Text      string
	At        time.Time
}

type MessageRef struct {
	ChannelID string
	MessageID string
}

type Adapter interface {
	Name() string
	// Start begins delivering inbound messages to out. It returns once the
	// adapter's own goroutines are running.
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error
	SendText(ctx context.Context, channelID, text string) (MessageRef, error)
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters with a platform command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
