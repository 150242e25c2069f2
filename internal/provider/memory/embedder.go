// Package memory provides the memory providers: an embedded chromem-go
// store and a remote Qdrant store, both keyed by text embeddings.
package memory

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates an invalid embedder configuration.
	ErrInvalidConfig = errors.New("invalid embedder configuration")
)

// Embedder turns text into vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// EmbedderConfig selects and configures an embedder. An empty BaseURL
// selects the local hashing embedder.
type EmbedderConfig struct {
	BaseURL    string
	Model      string
	APIKey     string
	Dimensions int
}

// NewEmbedder builds the embedder cfg describes.
func NewEmbedder(cfg EmbedderConfig) (Embedder, error) {
	if cfg.BaseURL == "" {
		return NewHashEmbedder(cfg.Dimensions)
	}
	return NewLangChainEmbedder(cfg)
}

// NewLangChainEmbedder creates an embedder backed by an OpenAI-compatible
// embeddings endpoint (OpenAI, TEI, Ollama).
func NewLangChainEmbedder(cfg EmbedderConfig) (*embeddings.EmbedderImpl, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	token := cfg.APIKey
	if token == "" {
		// langchaingo refuses an empty token; local servers ignore it.
		token = "placeholder"
	}
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return NewClientEmbedder(llm)
}

// NewClientEmbedder wraps any langchaingo embedder client.
func NewClientEmbedder(client embeddings.EmbedderClient) (*embeddings.EmbedderImpl, error) {
	e, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return e, nil
}

// HashEmbedder projects lowercased word tokens into a fixed number of
// buckets with FNV-1a and L2-normalizes the result. It needs no model and
// matches texts by shared vocabulary only.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a HashEmbedder with dims buckets.
func NewHashEmbedder(dims int) (*HashEmbedder, error) {
	if dims < 8 {
		return nil, fmt.Errorf("%w: dimensions must be >= 8, got %d", ErrInvalidConfig, dims)
	}
	return &HashEmbedder{dims: dims}, nil
}

// Dimensions returns the vector size.
func (h *HashEmbedder) Dimensions() int { return h.dims }

func (h *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.embed(text), nil
}

func (h *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, h.dims)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(tokens) == 0 {
		// chromem rejects zero vectors when normalizing.
		vec[0] = 1
		return vec
	}
	for _, tok := range tokens {
		f := fnv.New32a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[int(sum>>1)%h.dims] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
