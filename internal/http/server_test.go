package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/audit"
	"github.com/fyrsmithlabs/reasond/internal/provider"
	"github.com/fyrsmithlabs/reasond/internal/provider/guidance"
	"github.com/fyrsmithlabs/reasond/internal/registry"
	"github.com/fyrsmithlabs/reasond/internal/runtime"
	"github.com/fyrsmithlabs/reasond/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTasks struct {
	store    task.Store
	full     bool
	canceled map[string]string
}

func (f *fakeTasks) Submit(ctx context.Context, description, channel string) (*task.Task, error) {
	if strings.TrimSpace(description) == "" {
		return nil, runtime.ErrEmptyTask
	}
	if f.full {
		return nil, runtime.ErrQueueFull
	}
	now := time.Now().UTC()
	t := &task.Task{ID: "t-" + description, Description: description, Channel: channel,
		Status: task.StatusPending, CreatedAt: now, UpdatedAt: now}
	return t, f.store.CreateTask(ctx, t)
}

func (f *fakeTasks) Cancel(ctx context.Context, taskID, reason string) error {
	if err := f.store.MarkStatus(ctx, taskID, task.StatusFailed, reason); err != nil {
		return err
	}
	f.canceled[taskID] = reason
	return nil
}

func (f *fakeTasks) QueueDepth() int { return 3 }

type fixture struct {
	server   *Server
	tasks    *fakeTasks
	store    *task.MemoryStore
	recorder *audit.Recorder
	queue    *guidance.Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := task.NewMemoryStore()
	tasks := &fakeTasks{store: store, canceled: map[string]string{}}
	regs := provider.NewRegistries(registry.Options{})
	require.NoError(t, regs.Guidance.Register("queue", guidance.NewQueue(""), registry.Fallback, provider.CapGuidance))
	recorder := audit.NewRecorder(0)
	queue := guidance.NewQueue("")

	s, err := NewServer(Deps{
		Tasks:     tasks,
		Store:     store,
		Providers: regs,
		Events:    recorder,
		Deferrals: queue,
		Gatherer:  prometheus.NewRegistry(),
	}, nil, nil)
	require.NoError(t, err)
	return &fixture{server: s, tasks: tasks, store: store, recorder: recorder, queue: queue}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer_RequiresDeps(t *testing.T) {
	_, err := NewServer(Deps{}, nil, nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.QueueDepth)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProviders(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap map[string][]struct {
		Name     string `json:"name"`
		Priority string `json:"priority"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap["guidance"], 1)
	assert.Equal(t, "queue", snap["guidance"][0].Name)
	assert.Equal(t, "fallback", snap["guidance"][0].Priority)
}

func TestSubmitAndGetTask(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tasks", SubmitRequest{Description: "greet", Channel: "cli"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "greet", created.Description)

	require.NoError(t, f.store.AppendThought(context.Background(), task.NewThought("th-1", &created)))

	rec = f.do(t, http.MethodGet, "/api/v1/tasks/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created.ID, got.Task.ID)
	require.Len(t, got.Thoughts, 1)
	assert.Equal(t, "th-1", got.Thoughts[0].ID)

	rec = f.do(t, http.MethodGet, "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestSubmit_Errors(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tasks", SubmitRequest{Description: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.tasks.full = true
	rec = f.do(t, http.MethodPost, "/api/v1/tasks", SubmitRequest{Description: "x"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/tasks?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTask_NotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/tasks", SubmitRequest{Description: "long"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/tasks/t-long/cancel", CancelRequest{Reason: "operator"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "operator", f.tasks.canceled["t-long"])

	rec = f.do(t, http.MethodPost, "/api/v1/tasks/t-long/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/tasks/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvents(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.recorder.Record(context.Background(), audit.Event{Kind: audit.KindStage, TaskID: "t1", Stage: "START_ROUND"}))

	rec := f.do(t, http.MethodGet, "/api/v1/tasks/t1/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []audit.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "START_ROUND", events[0].Stage)

	rec = f.do(t, http.MethodGet, "/api/v1/tasks/none/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestDeferrals(t *testing.T) {
	f := newFixture(t)
	resp, err := f.queue.RequestGuidance(context.Background(), provider.GuidanceRequest{TaskID: "t1", Reason: "unsure"})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/v1/deferrals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []guidance.Deferral
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, resp.Ticket, pending[0].Ticket)

	rec = f.do(t, http.MethodPost, "/api/v1/deferrals/"+resp.Ticket+"/resolve", ResolveRequest{Guidance: "proceed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.queue.Pending())

	rec = f.do(t, http.MethodPost, "/api/v1/deferrals/unknown/resolve", ResolveRequest{Guidance: "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/deferrals/"+resp.Ticket+"/resolve", ResolveRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
