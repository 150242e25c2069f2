package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes events as JSON to
// <prefix>.audit.<task_id>.<stage|kind>.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSSink creates a sink publishing on nc.
func NewNATSSink(nc *nats.Conn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = "reasond"
	}
	return &NATSSink{nc: nc, prefix: prefix}
}

// Subject returns the subject an event is published to.
func (s *NATSSink) Subject(e Event) string {
	leaf := strings.ToLower(e.Stage)
	if leaf == "" {
		leaf = string(e.Kind)
	}
	return fmt.Sprintf("%s.audit.%s.%s", s.prefix, token(e.TaskID), token(leaf))
}

func (s *NATSSink) Record(_ context.Context, e Event) error {
	e = Stamp(e)
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if err := s.nc.Publish(s.Subject(e), data); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

// token makes s safe as a single NATS subject token.
func token(s string) string {
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
