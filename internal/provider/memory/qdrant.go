package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/reasond/internal/logging"
	"github.com/fyrsmithlabs/reasond/internal/provider"
	"github.com/fyrsmithlabs/reasond/internal/qdrant"
	"github.com/fyrsmithlabs/reasond/internal/sanitize"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// VectorStore is the subset of the Qdrant client the provider uses.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dims uint64) error
	Upsert(ctx context.Context, collection string, points []qdrant.Point) error
	Search(ctx context.Context, collection string, vector []float32, limit uint64, filter *qdrant.Filter) ([]qdrant.ScoredPoint, error)
	DeleteMatching(ctx context.Context, collection string, filter *qdrant.Filter) error
}

// Qdrant is a memory provider over a Qdrant collection. The collection is
// created on first use with the embedder's vector size.
type Qdrant struct {
	name       string
	collection string
	store      VectorStore
	embedder   Embedder
	logger     *logging.Logger

	mu      sync.Mutex
	ensured bool
}

var _ provider.Memory = (*Qdrant)(nil)

// NewQdrant creates the provider. name defaults to "qdrant".
func NewQdrant(name, collection string, store VectorStore, embedder Embedder, logger *logging.Logger) (*Qdrant, error) {
	if store == nil || embedder == nil {
		return nil, errors.New("store and embedder are required")
	}
	if collection == "" {
		return nil, errors.New("collection name is required")
	}
	if name == "" {
		name = "qdrant"
	}
	return &Qdrant{
		name:       name,
		collection: sanitize.Identifier(collection),
		store:      store,
		embedder:   embedder,
		logger:     logging.OrNop(logger).Named("memory.qdrant"),
	}, nil
}

func (q *Qdrant) Name() string { return q.name }

func (q *Qdrant) ensure(ctx context.Context, dims int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ensured {
		return nil
	}
	if err := q.store.EnsureCollection(ctx, q.collection, uint64(dims)); err != nil {
		return fmt.Errorf("ensuring collection %s: %w", q.collection, err)
	}
	q.ensured = true
	return nil
}

// Recall searches for facts similar to mq.Text.
func (q *Qdrant) Recall(ctx context.Context, mq provider.MemoryQuery) (provider.MemorySnapshot, error) {
	ctx, span := tracer.Start(ctx, "Qdrant.Recall")
	defer span.End()

	snap := provider.MemorySnapshot{Query: mq.Text}
	if strings.TrimSpace(mq.Text) == "" {
		return snap, nil
	}
	vec, err := q.embedder.EmbedQuery(ctx, mq.Text)
	if err != nil {
		return snap, fmt.Errorf("embedding query: %w", err)
	}
	if err := q.ensure(ctx, len(vec)); err != nil {
		return snap, err
	}

	var filter *qdrant.Filter
	if mq.Scope != "" {
		filter = &qdrant.Filter{Must: map[string]string{fieldScope: mq.Scope}}
	}
	hits, err := q.store.Search(ctx, q.collection, vec, uint64(recallLimit(mq.Limit)), filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return snap, fmt.Errorf("searching %s: %w", q.collection, err)
	}
	snap.Facts = make([]provider.Fact, len(hits))
	for i, h := range hits {
		snap.Facts[i] = decodeFact(h.ID, h.Payload[fieldContent], h.Payload, h.Score)
	}
	span.SetAttributes(attribute.Int("results_count", len(snap.Facts)))
	return snap, nil
}

// Memorize stores f. A fact with a key replaces earlier facts with the
// same key.
func (q *Qdrant) Memorize(ctx context.Context, f provider.Fact) (string, error) {
	ctx, span := tracer.Start(ctx, "Qdrant.Memorize")
	defer span.End()

	if strings.TrimSpace(f.Content) == "" {
		return "", errors.New("fact content is empty")
	}
	f = prepare(f)

	vecs, err := q.embedder.EmbedDocuments(ctx, []string{f.Content})
	if err != nil {
		return "", fmt.Errorf("embedding fact: %w", err)
	}
	if len(vecs) != 1 {
		return "", fmt.Errorf("embedder returned %d vectors for 1 text", len(vecs))
	}
	if err := q.ensure(ctx, len(vecs[0])); err != nil {
		return "", err
	}
	if f.Key != "" {
		if err := q.store.DeleteMatching(ctx, q.collection, &qdrant.Filter{Must: map[string]string{fieldKey: f.Key}}); err != nil {
			return "", fmt.Errorf("replacing key %s: %w", f.Key, err)
		}
	}

	payload := encodeFact(f)
	payload[fieldContent] = f.Content
	err = q.store.Upsert(ctx, q.collection, []qdrant.Point{{
		ID:      pointID(f.ID),
		Vector:  vecs[0],
		Payload: payload,
	}})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("upserting fact: %w", err)
	}
	q.logger.Debug(ctx, "memorized fact", zap.String("fact_id", f.ID), zap.String("key", f.Key))
	return f.ID, nil
}

// Forget removes the unkeyed fact with ID id, or the facts whose key is id.
func (q *Qdrant) Forget(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("fact id is empty")
	}
	for _, must := range forgetFilters(id) {
		err := q.store.DeleteMatching(ctx, q.collection, &qdrant.Filter{Must: must})
		if status.Code(err) == grpccodes.NotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("deleting %s: %w", id, err)
		}
	}
	return nil
}

// pointID maps a fact ID onto the UUID space Qdrant requires.
func pointID(factID string) string {
	if u, err := uuid.Parse(factID); err == nil {
		return u.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(factID)).String()
}
