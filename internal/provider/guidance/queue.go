// Package guidance provides providers that accept deferred thoughts: a NATS
// request-reply client for an external authority and an in-memory queue.
package guidance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/provider"
	"github.com/google/uuid"
)

// ErrUnknownTicket is returned for a ticket the queue does not hold.
var ErrUnknownTicket = errors.New("unknown guidance ticket")

// Deferral is one queued guidance request.
type Deferral struct {
	Ticket     string                   `json:"ticket"`
	Request    provider.GuidanceRequest `json:"request"`
	CreatedAt  time.Time                `json:"created_at"`
	Guidance   string                   `json:"guidance,omitempty"`
	ResolvedAt *time.Time               `json:"resolved_at,omitempty"`
}

// Queue acknowledges every request and holds it until resolved.
type Queue struct {
	name string

	mu    sync.Mutex
	items map[string]*Deferral
}

var _ provider.Guidance = (*Queue)(nil)

// NewQueue creates an empty queue. name defaults to "queue".
func NewQueue(name string) *Queue {
	if name == "" {
		name = "queue"
	}
	return &Queue{name: name, items: make(map[string]*Deferral)}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) RequestGuidance(ctx context.Context, req provider.GuidanceRequest) (provider.GuidanceResponse, error) {
	if err := ctx.Err(); err != nil {
		return provider.GuidanceResponse{}, err
	}
	d := &Deferral{Ticket: uuid.NewString(), Request: req, CreatedAt: time.Now().UTC()}
	q.mu.Lock()
	q.items[d.Ticket] = d
	q.mu.Unlock()
	return provider.GuidanceResponse{Acknowledged: true, Ticket: d.Ticket}, nil
}

// Pending returns unresolved deferrals, oldest first.
func (q *Queue) Pending() []Deferral {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Deferral
	for _, d := range q.items {
		if d.ResolvedAt == nil {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Lookup returns the deferral for ticket.
func (q *Queue) Lookup(ticket string) (Deferral, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.items[ticket]
	if !ok {
		return Deferral{}, ErrUnknownTicket
	}
	return *d, nil
}

// Resolve records guidance for ticket.
func (q *Queue) Resolve(ticket, guidance string) (Deferral, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.items[ticket]
	if !ok {
		return Deferral{}, ErrUnknownTicket
	}
	now := time.Now().UTC()
	d.Guidance = guidance
	d.ResolvedAt = &now
	return *d, nil
}
