package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/reasond/internal/logging"
	"github.com/fyrsmithlabs/reasond/internal/provider"
	"github.com/fyrsmithlabs/reasond/internal/sanitize"
	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/reasond/internal/provider/memory")

// ChromemConfig configures the embedded store.
type ChromemConfig struct {
	// Name is the provider name. Default: "chromem".
	Name string
	// Path is the persistence directory. Empty keeps everything in memory.
	Path       string
	Compress   bool
	Collection string
}

// Chromem is a memory provider over an embedded chromem-go database.
type Chromem struct {
	name   string
	db     *chromem.DB
	coll   *chromem.Collection
	logger *logging.Logger

	// mu serializes key replacement with inserts.
	mu sync.Mutex
}

var _ provider.Memory = (*Chromem)(nil)

// NewChromem opens or creates the collection cfg names.
func NewChromem(cfg ChromemConfig, embedder Embedder, logger *logging.Logger) (*Chromem, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if cfg.Name == "" {
		cfg.Name = "chromem"
	}
	if cfg.Collection == "" {
		return nil, errors.New("collection name is required")
	}
	cfg.Collection = sanitize.Identifier(cfg.Collection)
	logger = logging.OrNop(logger).Named("memory.chromem")

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		cfg.Path = path
	}

	coll, err := db.GetOrCreateCollection(cfg.Collection, nil, embedder.EmbedQuery)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", cfg.Collection, err)
	}

	logger.Info(context.Background(), "chromem memory ready",
		zap.String("path", cfg.Path),
		zap.String("collection", cfg.Collection),
		zap.Int("facts", coll.Count()),
	)
	return &Chromem{name: cfg.Name, db: db, coll: coll, logger: logger}, nil
}

func (c *Chromem) Name() string { return c.name }

// Count returns the number of stored facts.
func (c *Chromem) Count() int { return c.coll.Count() }

// Recall returns the facts most similar to q.Text.
func (c *Chromem) Recall(ctx context.Context, q provider.MemoryQuery) (provider.MemorySnapshot, error) {
	ctx, span := tracer.Start(ctx, "Chromem.Recall")
	defer span.End()

	snap := provider.MemorySnapshot{Query: q.Text}
	if strings.TrimSpace(q.Text) == "" {
		return snap, nil
	}
	count := c.coll.Count()
	if count == 0 {
		return snap, nil
	}
	// chromem requires nResults <= document count.
	k := min(recallLimit(q.Limit), count)

	var where map[string]string
	if q.Scope != "" {
		where = map[string]string{fieldScope: q.Scope}
	}
	results, err := c.coll.Query(ctx, q.Text, k, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return snap, fmt.Errorf("querying chromem: %w", err)
	}
	snap.Facts = make([]provider.Fact, len(results))
	for i, r := range results {
		snap.Facts[i] = decodeFact(r.ID, r.Content, r.Metadata, r.Similarity)
	}
	span.SetAttributes(attribute.Int("results_count", len(snap.Facts)))

	c.logger.Debug(ctx, "recalled facts", zap.Int("k", k), zap.Int("results", len(snap.Facts)))
	return snap, nil
}

// Memorize stores f. A fact with a key replaces earlier facts with the
// same key.
func (c *Chromem) Memorize(ctx context.Context, f provider.Fact) (string, error) {
	ctx, span := tracer.Start(ctx, "Chromem.Memorize")
	defer span.End()

	if strings.TrimSpace(f.Content) == "" {
		return "", errors.New("fact content is empty")
	}
	f = prepare(f)

	c.mu.Lock()
	defer c.mu.Unlock()
	if f.Key != "" {
		if err := c.coll.Delete(ctx, map[string]string{fieldKey: f.Key}, nil); err != nil {
			return "", fmt.Errorf("replacing key %s: %w", f.Key, err)
		}
	}
	err := c.coll.AddDocument(ctx, chromem.Document{
		ID:       f.ID,
		Content:  f.Content,
		Metadata: encodeFact(f),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("adding fact: %w", err)
	}
	c.logger.Debug(ctx, "memorized fact", zap.String("fact_id", f.ID), zap.String("key", f.Key))
	return f.ID, nil
}

// Forget removes the unkeyed fact with ID id, or the fact whose key is id.
// Forgetting an unknown fact is not an error.
func (c *Chromem) Forget(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("fact id is empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, where := range forgetFilters(id) {
		if err := c.coll.Delete(ctx, where, nil); err != nil {
			return fmt.Errorf("deleting fact %s: %w", id, err)
		}
	}
	return nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
