// Package console is a line-based transport over stdin and stdout. Every
// input line arrives on one fixed channel; outbound text is printed with its
// channel id.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"deskmate/internal/transport"
	logx "deskmate/pkg/logx"
)

const DefaultChannelID = "console"

type Adapter struct {
	channelID string
	in        io.Reader
	out       io.Writer
	log       logx.Logger

	writeMu sync.Mutex
	seq     atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Adapter)

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(a *Adapter) { a.in, a.out = in, out }
}

func New(channelID string, log logx.Logger, opts ...Option) *Adapter {
	if channelID == "" {
		channelID = DefaultChannelID
	}
	a := &Adapter{channelID: channelID, in: os.Stdin, out: os.Stdout, log: log}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Name() string { return "console" }

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	lines := make(chan string)
	// The scanner goroutine may stay blocked on a read after Stop; stdin
	// cannot be interrupted portably.
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			a.log.Warn("console read failed", logx.Err(err))
		}
	}()

	go func() {
		defer close(a.done)
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-lines:
				if !ok {
					return
				}
				if line == "" {
					continue
				}
				msg := transport.Message{
					ID:        strconv.FormatUint(a.seq.Add(1), 10),
					ChannelID: a.channelID,
					FromName:  "console",
					Text:      line,
					At:        time.Now(),
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) SendText(ctx context.Context, channelID, text string) (transport.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return transport.MessageRef{}, err
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if _, err := fmt.Fprintf(a.out, "[%s] %s\n", channelID, text); err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChannelID: channelID, MessageID: strconv.FormatUint(a.seq.Add(1), 10)}, nil
}
