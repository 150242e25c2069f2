package qdrant

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/logging"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
		check  func(t *testing.T, cfg *Config)
	}{
		{
			name:   "empty config gets all defaults",
			config: &Config{},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "localhost", cfg.Host)
				assert.Equal(t, 6334, cfg.Port)
				assert.False(t, cfg.UseTLS)
				assert.Equal(t, 16*1024*1024, cfg.MaxMessageSize)
				assert.Equal(t, 5*time.Second, cfg.DialTimeout)
				assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
				assert.Equal(t, 3, cfg.RetryAttempts)
				assert.Equal(t, qdrant.Distance_Cosine, cfg.Distance)
			},
		},
		{
			name:   "set values are preserved",
			config: &Config{Host: "qdrant.internal", Port: 6335, Distance: qdrant.Distance_Dot},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "qdrant.internal", cfg.Host)
				assert.Equal(t, 6335, cfg.Port)
				assert.Equal(t, qdrant.Distance_Dot, cfg.Distance)
				assert.Equal(t, 500*time.Millisecond, cfg.RetryBackoff)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.ApplyDefaults()
			tt.check(t, tt.config)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{name: "valid", config: *DefaultConfig()},
		{name: "missing host", config: Config{Port: 6334, MaxMessageSize: 1}, wantErr: "host is required"},
		{name: "port out of range", config: Config{Host: "h", Port: 70000, MaxMessageSize: 1}, wantErr: "invalid port"},
		{name: "zero message size", config: Config{Host: "h", Port: 6334}, wantErr: "invalid max message size"},
		{name: "negative retries", config: Config{Host: "h", Port: 6334, MaxMessageSize: 1, RetryAttempts: -1}, wantErr: "invalid retry attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestToQdrantPoint(t *testing.T) {
	p := toQdrantPoint(Point{
		ID:      "6f1c2a9e-3f0a-4c1e-9a53-0c6a0f4b1d11",
		Vector:  []float32{0.1, 0.2},
		Payload: map[string]string{"key": "user.name", "content": "Ada"},
	})

	assert.Equal(t, "6f1c2a9e-3f0a-4c1e-9a53-0c6a0f4b1d11", p.GetId().GetUuid())
	assert.Equal(t, "user.name", p.GetPayload()["key"].GetStringValue())
	assert.Equal(t, "Ada", p.GetPayload()["content"].GetStringValue())
}

func TestFromScoredPoint(t *testing.T) {
	hit := &qdrant.ScoredPoint{
		Id:    qdrant.NewIDNum(42),
		Score: 0.87,
		Payload: map[string]*qdrant.Value{
			"content": qdrant.NewValueString("Ada"),
			"rank":    qdrant.NewValueInt(3),
			"ratio":   qdrant.NewValueDouble(0.5),
			"pinned":  qdrant.NewValueBool(true),
		},
	}

	got := fromScoredPoint(hit)
	assert.Equal(t, "42", got.ID)
	assert.InDelta(t, 0.87, got.Score, 1e-6)
	assert.Equal(t, map[string]string{
		"content": "Ada",
		"rank":    "3",
		"ratio":   "0.5",
		"pinned":  "true",
	}, got.Payload)
}

func TestToQdrantFilter(t *testing.T) {
	assert.Nil(t, toQdrantFilter(nil))
	assert.Nil(t, toQdrantFilter(&Filter{}))

	f := toQdrantFilter(&Filter{
		Must:   map[string]string{"scope": "task", "kind": "fact"},
		Should: map[string]string{"fact_id": "x"},
	})
	require.Len(t, f.GetMust(), 2)
	assert.Equal(t, "kind", f.GetMust()[0].GetField().GetKey(), "conditions are ordered by key")
	assert.Equal(t, "scope", f.GetMust()[1].GetField().GetKey())
	assert.Equal(t, "task", f.GetMust()[1].GetField().GetMatch().GetKeyword())
	require.Len(t, f.GetShould(), 1)
	assert.Equal(t, "fact_id", f.GetShould()[0].GetField().GetKey())
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", status.Error(codes.Unavailable, "down"), true},
		{"deadline", status.Error(codes.DeadlineExceeded, "slow"), true},
		{"aborted", status.Error(codes.Aborted, "aborted"), true},
		{"resource exhausted", status.Error(codes.ResourceExhausted, "busy"), true},
		{"not found", status.Error(codes.NotFound, "missing"), false},
		{"invalid argument", status.Error(codes.InvalidArgument, "bad"), false},
		{"plain error", assert.AnError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransientError(tt.err))
		})
	}
}

func TestRetryOperation(t *testing.T) {
	newClient := func(retries int) (*Client, *logging.TestLogger) {
		tl := logging.NewTestLogger()
		return &Client{
			config: &Config{RetryAttempts: retries, RetryBackoff: time.Millisecond},
			logger: tl.Logger,
		}, tl
	}

	t.Run("transient then success", func(t *testing.T) {
		c, tl := newClient(3)
		calls := 0
		err := c.retryOperation(context.Background(), func() error {
			calls++
			if calls == 1 {
				return status.Error(codes.Unavailable, "down")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		tl.AssertLogged(t, zapcore.DebugLevel, "retrying operation after transient error")
		tl.AssertLogged(t, zapcore.InfoLevel, "operation recovered after retries")
	})

	t.Run("retries exhausted", func(t *testing.T) {
		c, tl := newClient(2)
		calls := 0
		err := c.retryOperation(context.Background(), func() error {
			calls++
			return status.Error(codes.Unavailable, "down")
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, codes.Unavailable, status.Code(unwrapAll(err)))
		tl.AssertLogged(t, zapcore.WarnLevel, "operation failed after all retries exhausted")
	})

	t.Run("permanent error is not retried", func(t *testing.T) {
		c, tl := newClient(3)
		calls := 0
		err := c.retryOperation(context.Background(), func() error {
			calls++
			return status.Error(codes.InvalidArgument, "bad")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		tl.AssertNotLogged(t, zapcore.DebugLevel, "retrying")
	})

	t.Run("canceled context stops backoff", func(t *testing.T) {
		c, _ := newClient(3)
		c.config.RetryBackoff = time.Hour
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := c.retryOperation(ctx, func() error {
			return status.Error(codes.Unavailable, "down")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestUpsert_RejectsEmptyVector(t *testing.T) {
	c := &Client{config: DefaultConfig(), logger: logging.NewNop()}
	err := c.Upsert(context.Background(), "facts", []Point{{ID: "a"}})
	assert.ErrorIs(t, err, ErrEmptyVector)

	_, err = c.Search(context.Background(), "facts", nil, 5, nil)
	assert.ErrorIs(t, err, ErrEmptyVector)
}

func TestNew_UnreachableServer(t *testing.T) {
	_, err := New(&Config{Host: "127.0.0.1", Port: 1, DialTimeout: 2 * time.Second, RequestTimeout: time.Second}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")
}

func unwrapAll(err error) error {
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}
