// Package qdrant is a thin gRPC client for storing memory points in a
// Qdrant collection.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/logging"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// ErrEmptyVector is returned when a point or query has no vector.
var ErrEmptyVector = errors.New("vector is empty")

// Config configures the client.
type Config struct {
	// Host is the Qdrant server hostname. Default: "localhost".
	Host string

	// Port is the gRPC port, not the REST port. Default: 6334.
	Port int

	UseTLS bool
	APIKey string

	// MaxMessageSize bounds gRPC messages in both directions. Default: 16MB.
	MaxMessageSize int

	// DialTimeout bounds the health check made by New. Default: 5s.
	DialTimeout time.Duration

	// RequestTimeout bounds every request. Default: 10s.
	RequestTimeout time.Duration

	// RetryAttempts is the number of retries for transient failures. Default: 3.
	RetryAttempts int

	// RetryBackoff is the first retry delay; it doubles per attempt. Default: 500ms.
	RetryBackoff time.Duration

	// Distance is the metric for collections created by EnsureCollection.
	// Default: Cosine.
	Distance qdrant.Distance
}

// DefaultConfig returns defaults for a local Qdrant.
func DefaultConfig() *Config {
	return &Config{
		Host:           "localhost",
		Port:           6334,
		MaxMessageSize: 16 * 1024 * 1024,
		DialTimeout:    5 * time.Second,
		RequestTimeout: 10 * time.Second,
		RetryAttempts:  3,
		RetryBackoff:   500 * time.Millisecond,
		Distance:       qdrant.Distance_Cosine,
	}
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.Distance == qdrant.Distance_UnknownDistance {
		c.Distance = d.Distance
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("invalid max message size: %d (must be > 0)", c.MaxMessageSize)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("invalid retry attempts: %d", c.RetryAttempts)
	}
	return nil
}

// Point is one stored vector with a string payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]string
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	Point
	Score float32
}

// Filter matches payload fields by exact keyword. Must conditions are
// combined with AND, Should conditions with OR.
type Filter struct {
	Must   map[string]string
	Should map[string]string
}

// Client talks to Qdrant over gRPC.
type Client struct {
	client *qdrant.Client
	config *Config
	logger *logging.Logger
}

// New connects to Qdrant and verifies the connection with a health check.
func New(config *Config, logger *logging.Logger) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger = logging.OrNop(logger).Named("qdrant")

	qcfg := &qdrant.Config{
		Host:                   config.Host,
		Port:                   config.Port,
		UseTLS:                 config.UseTLS,
		APIKey:                 config.APIKey,
		SkipCompatibilityCheck: true,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	}
	if !config.UseTLS {
		qcfg.GrpcOptions = append(qcfg.GrpcOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}
	c := &Client{client: client, config: config, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := c.Health(ctx); err != nil {
		_ = client.Close()
		logger.Error(ctx, "qdrant health check failed",
			zap.String("host", config.Host),
			zap.Int("port", config.Port),
			zap.Error(err),
		)
		return nil, err
	}
	logger.Info(ctx, "qdrant connection established", zap.String("host", config.Host), zap.Int("port", config.Port))
	return c, nil
}

// Health performs a health check.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()
	if _, err := c.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// EnsureCollection creates the collection with vectors of size dims if it
// does not exist yet.
func (c *Client) EnsureCollection(ctx context.Context, name string, dims uint64) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	return c.retryOperation(ctx, func() error {
		exists, err := c.client.CollectionExists(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		err = c.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     dims,
				Distance: c.config.Distance,
			}),
		})
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		if err == nil {
			c.logger.Info(ctx, "created collection", zap.String("collection", name), zap.Uint64("dims", dims))
		}
		return err
	})
}

// Upsert inserts or replaces points.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	qpoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		if len(p.Vector) == 0 {
			return fmt.Errorf("point %s: %w", p.ID, ErrEmptyVector)
		}
		qpoints[i] = toQdrantPoint(p)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()
	return c.retryOperation(ctx, func() error {
		_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         qpoints,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
}

// Search returns up to limit points nearest to vector.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, limit uint64, filter *Filter) ([]ScoredPoint, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyVector
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	var hits []*qdrant.ScoredPoint
	err := c.retryOperation(ctx, func() error {
		res, err := c.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(limit),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         toQdrantFilter(filter),
		})
		if err != nil {
			return err
		}
		hits = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]ScoredPoint, len(hits))
	for i, h := range hits {
		out[i] = fromScoredPoint(h)
	}
	return out, nil
}

// Delete removes points by ID.
func (c *Client) Delete(ctx context.Context, collection string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}
	return c.deletePoints(ctx, collection, qdrant.NewPointsSelector(pointIDs...))
}

// DeleteMatching removes every point whose payload matches filter.
func (c *Client) DeleteMatching(ctx context.Context, collection string, filter *Filter) error {
	f := toQdrantFilter(filter)
	if f == nil {
		return errors.New("delete requires a non-empty filter")
	}
	return c.deletePoints(ctx, collection, qdrant.NewPointsSelectorFilter(f))
}

func (c *Client) deletePoints(ctx context.Context, collection string, sel *qdrant.PointsSelector) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()
	return c.retryOperation(ctx, func() error {
		_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points:         sel,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// retryOperation retries transient failures with exponential backoff.
func (c *Client) retryOperation(ctx context.Context, operation func() error) error {
	var lastErr error
	backoff := c.config.RetryBackoff
	start := time.Now()

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 0 {
				c.logger.Info(ctx, "operation recovered after retries",
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(start)),
				)
			}
			return nil
		}
		lastErr = err
		if !isTransientError(err) {
			return err
		}
		if attempt == c.config.RetryAttempts {
			break
		}

		c.logger.Debug(ctx, "retrying operation after transient error",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.config.RetryAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	c.logger.Warn(ctx, "operation failed after all retries exhausted",
		zap.Int("total_attempts", c.config.RetryAttempts+1),
		zap.Duration("total_time", time.Since(start)),
		zap.Error(lastErr),
	)
	return fmt.Errorf("operation failed after %d retries: %w", c.config.RetryAttempts, lastErr)
}

// isTransientError reports whether err is worth retrying.
func isTransientError(err error) bool {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}
