// Package audit records one event per pipeline stage transition and per
// dispatched action.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind distinguishes stage transitions from dispatches.
type Kind string

const (
	KindStage    Kind = "stage"
	KindDispatch Kind = "dispatch"
	KindTask     Kind = "task"
)

// Event is one audit record.
type Event struct {
	ID        string            `json:"id"`
	Time      time.Time         `json:"time"`
	Kind      Kind              `json:"kind"`
	TaskID    string            `json:"task_id"`
	ThoughtID string            `json:"thought_id,omitempty"`
	Round     int               `json:"round,omitempty"`
	Stage     string            `json:"stage,omitempty"`
	Action    string            `json:"action,omitempty"`
	Outcome   string            `json:"outcome,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Sink receives audit events.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

// Stamp fills ID and Time when unset.
func Stamp(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	return e
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e Event) error {
	e = Stamp(e)
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(context.Context, Event) error { return nil }

// LogSink writes events to a logger at debug level, dispatches at info.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{logger: logging.OrNop(logger).Named("audit")}
}

func (s *LogSink) Record(ctx context.Context, e Event) error {
	fields := []zap.Field{
		zap.String("event_id", e.ID),
		zap.String("kind", string(e.Kind)),
		zap.String("task_id", e.TaskID),
	}
	if e.Stage != "" {
		fields = append(fields, zap.String("stage", e.Stage))
	}
	if e.Action != "" {
		fields = append(fields, zap.String("action", e.Action))
	}
	if e.Outcome != "" {
		fields = append(fields, zap.String("outcome", e.Outcome))
	}
	if len(e.Detail) > 0 {
		fields = append(fields, zap.Any("detail", e.Detail))
	}
	if e.Kind == KindStage {
		s.logger.Debug(ctx, "audit", fields...)
	} else {
		s.logger.Info(ctx, "audit", fields...)
	}
	return nil
}

// Recorder keeps events in memory, bounded per task.
type Recorder struct {
	mu      sync.RWMutex
	perTask int
	events  map[string][]Event
	order   []string
}

// NewRecorder creates a Recorder keeping at most perTask events per task
// and dropping the oldest task once 1024 tasks are held. perTask <= 0
// keeps everything.
func NewRecorder(perTask int) *Recorder {
	return &Recorder{perTask: perTask, events: make(map[string][]Event)}
}

const maxRecordedTasks = 1024

func (r *Recorder) Record(_ context.Context, e Event) error {
	e = Stamp(e)
	r.mu.Lock()
	defer r.mu.Unlock()
	list, ok := r.events[e.TaskID]
	if !ok {
		r.order = append(r.order, e.TaskID)
		if len(r.order) > maxRecordedTasks {
			delete(r.events, r.order[0])
			r.order = r.order[1:]
		}
	}
	list = append(list, e)
	if r.perTask > 0 && len(list) > r.perTask {
		list = list[len(list)-r.perTask:]
	}
	r.events[e.TaskID] = list
	return nil
}

// Events returns a copy of the events recorded for taskID.
func (r *Recorder) Events(taskID string) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Event(nil), r.events[taskID]...)
}

// Stages returns the stage names recorded for a thought, in order.
func (r *Recorder) Stages(taskID, thoughtID string) []string {
	var out []string
	for _, e := range r.Events(taskID) {
		if e.Kind == KindStage && e.ThoughtID == thoughtID {
			out = append(out, e.Stage)
		}
	}
	return out
}
