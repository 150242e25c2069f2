package runtime

import (
	"context"
	"sync"
)

// queue is a FIFO of round jobs. Submissions are bounded; follow-up
// rounds of admitted tasks are always accepted so an admitted task can
// never be starved out of its next round.
type queue struct {
	mu     sync.Mutex
	items  []*job
	limit  int
	notify chan struct{}
}

func newQueue(limit int) *queue {
	return &queue{limit: limit, notify: make(chan struct{}, 1)}
}

// offer enqueues j unless the queue already holds limit jobs.
func (q *queue) offer(j *job) bool {
	q.mu.Lock()
	if q.limit > 0 && len(q.items) >= q.limit {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, j)
	q.mu.Unlock()
	q.signal()
	return true
}

// push enqueues j regardless of the limit.
func (q *queue) push(j *job) {
	q.mu.Lock()
	q.items = append(q.items, j)
	q.mu.Unlock()
	q.signal()
}

// pop blocks until a job is available or ctx ends.
func (q *queue) pop(ctx context.Context) (*job, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			j := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return j, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.notify:
		}
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
