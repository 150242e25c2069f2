// Package comm provides communication providers: a NATS transport and an
// in-process loopback.
package comm

import (
	"sync"

	"github.com/fyrsmithlabs/reasond/internal/provider"
)

// DefaultBacklog is the number of inbound messages kept per channel.
const DefaultBacklog = 256

// inbox keeps the most recent inbound messages of every channel.
type inbox struct {
	mu      sync.Mutex
	backlog int
	msgs    map[string][]provider.InboundMessage
}

func newInbox(backlog int) *inbox {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &inbox{backlog: backlog, msgs: make(map[string][]provider.InboundMessage)}
}

func (b *inbox) add(m provider.InboundMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := append(b.msgs[m.Channel], m)
	if len(list) > b.backlog {
		list = list[len(list)-b.backlog:]
	}
	b.msgs[m.Channel] = list
}

// recent returns up to limit of the newest messages, oldest first.
func (b *inbox) recent(channel string, limit int) []provider.InboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.msgs[channel]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return append([]provider.InboundMessage(nil), list...)
}
