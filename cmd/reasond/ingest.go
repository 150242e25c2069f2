package main

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/logging"
	"github.com/fyrsmithlabs/reasond/internal/task"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const ingestQueueGroup = "reasond"

// submitter accepts new tasks.
type submitter interface {
	Submit(ctx context.Context, description, channel string) (*task.Task, error)
}

// IngestRequest is the JSON body published to <prefix>.tasks.submit. A
// body that is not JSON is taken as the description.
type IngestRequest struct {
	Description string `json:"description"`
	Channel     string `json:"channel,omitempty"`
}

// IngestReply answers requests that carry a reply subject.
type IngestReply struct {
	TaskID string `json:"task_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

func ingestSubject(prefix string) string {
	return prefix + ".tasks.submit"
}

// subscribeIngest submits a task for every message on the ingest subject.
// Instances share the subject through a queue group.
func subscribeIngest(nc *nats.Conn, prefix string, tasks submitter, logger *logging.Logger) (*nats.Subscription, error) {
	logger = logging.OrNop(logger).Named("ingest")
	return nc.QueueSubscribe(ingestSubject(prefix), ingestQueueGroup, func(m *nats.Msg) {
		req := decodeIngest(m.Data)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var reply IngestReply
		t, err := tasks.Submit(ctx, req.Description, req.Channel)
		if err != nil {
			logger.Warn(ctx, "task ingest rejected", zap.Error(err))
			reply.Error = err.Error()
		} else {
			reply.TaskID = t.ID
		}
		if m.Reply == "" {
			return
		}
		data, err := json.Marshal(reply)
		if err != nil {
			return
		}
		if err := m.Respond(data); err != nil {
			logger.Warn(ctx, "failed to answer ingest request", zap.Error(err))
		}
	})
}

func decodeIngest(data []byte) IngestRequest {
	var req IngestRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return IngestRequest{Description: strings.TrimSpace(string(data))}
	}
	req.Description = strings.TrimSpace(req.Description)
	return req
}
