package comm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/provider"
	"github.com/google/uuid"
)

// Loopback keeps delivered messages in memory and serves injected
// messages to Fetch. It backs the CLI and tests.
type Loopback struct {
	name  string
	inbox *inbox

	mu        sync.Mutex
	delivered []provider.OutboundMessage
	listeners []func(provider.OutboundMessage)
}

var _ provider.Communication = (*Loopback)(nil)

// NewLoopback creates a loopback provider. name defaults to "loopback".
func NewLoopback(name string) *Loopback {
	if name == "" {
		name = "loopback"
	}
	return &Loopback{name: name, inbox: newInbox(DefaultBacklog)}
}

func (l *Loopback) Name() string { return l.name }

// OnDeliver registers fn to be called with every delivered message.
func (l *Loopback) OnDeliver(fn func(provider.OutboundMessage)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

func (l *Loopback) Deliver(ctx context.Context, msg provider.OutboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.Channel == "" {
		return errors.New("channel is required")
	}
	l.mu.Lock()
	l.delivered = append(l.delivered, msg)
	listeners := append(([]func(provider.OutboundMessage))(nil), l.listeners...)
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(msg)
	}
	return nil
}

func (l *Loopback) Fetch(ctx context.Context, channel string, limit int) ([]provider.InboundMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.inbox.recent(channel, limit), nil
}

// Inject adds an inbound message to channel.
func (l *Loopback) Inject(channel, author, content string) provider.InboundMessage {
	m := provider.InboundMessage{
		ID:      uuid.NewString(),
		Channel: channel,
		Author:  author,
		Content: content,
		Time:    time.Now().UTC(),
	}
	l.inbox.add(m)
	return m
}

// Delivered returns every message delivered so far.
func (l *Loopback) Delivered() []provider.OutboundMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]provider.OutboundMessage(nil), l.delivered...)
}
