package guidance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/provider"
	"github.com/nats-io/nats.go"
)

// NATS sends guidance requests to <prefix>.guidance.request and waits for
// a JSON GuidanceResponse reply.
type NATS struct {
	name    string
	nc      *nats.Conn
	subject string
	timeout time.Duration
}

var _ provider.Guidance = (*NATS)(nil)

// NewNATS creates the provider. prefix defaults to "reasond", timeout to 10s.
func NewNATS(name string, nc *nats.Conn, prefix string, timeout time.Duration) (*NATS, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if name == "" {
		name = "nats"
	}
	if prefix == "" {
		prefix = "reasond"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NATS{name: name, nc: nc, subject: prefix + ".guidance.request", timeout: timeout}, nil
}

func (n *NATS) Name() string { return n.name }

// Subject returns the request subject.
func (n *NATS) Subject() string { return n.subject }

func (n *NATS) RequestGuidance(ctx context.Context, req provider.GuidanceRequest) (provider.GuidanceResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return provider.GuidanceResponse{}, fmt.Errorf("marshal guidance request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	msg, err := n.nc.RequestWithContext(ctx, n.subject, data)
	if err != nil {
		return provider.GuidanceResponse{}, fmt.Errorf("guidance request: %w", err)
	}
	var resp provider.GuidanceResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return provider.GuidanceResponse{}, fmt.Errorf("decode guidance response: %w", err)
	}
	if !resp.Acknowledged && resp.Guidance == "" {
		return provider.GuidanceResponse{}, errors.New("guidance authority declined the request")
	}
	return resp, nil
}
