package router

import (
	"context"
	"time"

	"deskmate/internal/transport"
	logx "deskmate/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

// Observer sees every inbound message, commands included, before routing.
type Observer func(ctx context.Context, msg transport.Message)

type Command struct {
	Name        string   // without the leading slash
	Aliases     []string // extra names routed to the same handler
	Description string
	Usage       string
	Plugin      string
	Timeout     time.Duration // 0 means the manager default
	Handle      HandlerFunc
}

// Replier sends text to a channel. The notifier implements it.
type Replier interface {
	Send(ctx context.Context, channelID, text string) error
}

type Request struct {
	Message   transport.Message
	ChannelID string
	FromID    int64
	Command   string
	// Args are the quote-aware tokens after the command; ArgText is the raw
	// remainder of the line for handlers that parse it themselves.
	Args    []string
	ArgText string
	ReqID   string
	Logger  logx.Logger

	replier Replier
}

// Reply sends text back to the channel the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	if r.replier == nil {
		return nil
	}
	return r.replier.Send(ctx, r.ChannelID, text)
}

// NewRequest parses msg as a command line. The dispatcher adds the logger;
// callers outside it (tests, the CLI) may set one themselves.
func NewRequest(msg transport.Message, replier Replier) *Request {
	word, rest, _ := splitCommand(msg.Text)
	return &Request{
		Message:   msg,
		ChannelID: msg.ChannelID,
		FromID:    msg.FromID,
		Command:   word,
		Args:      tokenize(rest),
		ArgText:   rest,
		ReqID:     newReqID(),
		replier:   replier,
	}
}
