package comm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/logging"
	"github.com/fyrsmithlabs/reasond/internal/provider"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS delivers messages by publishing to <prefix>.channels.<channel>.out
// and buffers messages published to <prefix>.channels.<channel>.in for
// Fetch.
type NATS struct {
	name   string
	nc     *nats.Conn
	prefix string
	inbox  *inbox
	sub    *nats.Subscription
	logger *logging.Logger
}

var _ provider.Communication = (*NATS)(nil)

// NATSOptions configures the NATS provider.
type NATSOptions struct {
	// Name defaults to "nats".
	Name string
	// Prefix defaults to "reasond".
	Prefix  string
	Backlog int
}

// NewNATS subscribes to inbound channel subjects on nc.
func NewNATS(nc *nats.Conn, opts NATSOptions, logger *logging.Logger) (*NATS, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if opts.Name == "" {
		opts.Name = "nats"
	}
	if opts.Prefix == "" {
		opts.Prefix = "reasond"
	}
	n := &NATS{
		name:   opts.Name,
		nc:     nc,
		prefix: opts.Prefix,
		inbox:  newInbox(opts.Backlog),
		logger: logging.OrNop(logger).Named("comm.nats"),
	}
	sub, err := nc.Subscribe(opts.Prefix+".channels.*.in", n.receive)
	if err != nil {
		return nil, fmt.Errorf("subscribing to inbound channels: %w", err)
	}
	n.sub = sub
	return n, nil
}

func (n *NATS) Name() string { return n.name }

// OutSubject returns the subject messages for channel are published to.
func (n *NATS) OutSubject(channel string) string {
	return fmt.Sprintf("%s.channels.%s.out", n.prefix, subjectToken(channel))
}

// InSubject returns the subject inbound messages for channel arrive on.
func (n *NATS) InSubject(channel string) string {
	return fmt.Sprintf("%s.channels.%s.in", n.prefix, subjectToken(channel))
}

func (n *NATS) Deliver(ctx context.Context, msg provider.OutboundMessage) error {
	if msg.Channel == "" {
		return errors.New("channel is required")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := n.nc.Publish(n.OutSubject(msg.Channel), data); err != nil {
		return fmt.Errorf("publish to %s: %w", msg.Channel, err)
	}
	// Flush so a delivery failure surfaces to the bus rather than being
	// buffered past the call.
	if err := n.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

func (n *NATS) Fetch(ctx context.Context, channel string, limit int) ([]provider.InboundMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return n.inbox.recent(subjectToken(channel), limit), nil
}

// Close stops buffering inbound messages.
func (n *NATS) Close() error {
	return n.sub.Unsubscribe()
}

// inboundPayload is the JSON form of an inbound message. Non-JSON payloads
// are taken as plain content.
type inboundPayload struct {
	ID      string    `json:"id"`
	Author  string    `json:"author"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

func (n *NATS) receive(m *nats.Msg) {
	parts := strings.Split(m.Subject, ".")
	if len(parts) < 3 {
		return
	}
	channel := parts[len(parts)-2]

	var p inboundPayload
	if err := json.Unmarshal(m.Data, &p); err != nil || p.Content == "" {
		p = inboundPayload{Content: string(m.Data)}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Time.IsZero() {
		p.Time = time.Now().UTC()
	}
	n.inbox.add(provider.InboundMessage{
		ID:      p.ID,
		Channel: channel,
		Author:  p.Author,
		Content: p.Content,
		Time:    p.Time,
	})
	n.logger.Debug(context.Background(), "buffered inbound message", zap.String("channel", channel))
}

// subjectToken makes s safe as a single NATS subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, s)
}
