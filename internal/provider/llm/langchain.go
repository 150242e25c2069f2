package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/reasond/internal/provider"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// LangChain is a reasoning provider driving a langchaingo model in JSON
// mode.
type LangChain struct {
	name    string
	model   llms.Model
	cfg     Config
	limiter *rate.Limiter
}

// NewLangChain creates a provider for an OpenAI-compatible endpoint
// through langchaingo.
func NewLangChain(cfg Config) (*LangChain, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	token := cfg.APIKey
	if token == "" {
		// langchaingo requires a token; local servers ignore it.
		token = "placeholder"
	}
	model, err := openai.New(
		openai.WithBaseURL(cfg.Endpoint),
		openai.WithModel(cfg.Model),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return NewLangChainModel(cfg, model), nil
}

// NewLangChainModel wraps an existing langchaingo model.
func NewLangChainModel(cfg Config, model llms.Model) *LangChain {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &LangChain{name: cfg.Name, model: model, cfg: cfg, limiter: cfg.limiter()}
}

// Name implements provider.Provider.
func (l *LangChain) Name() string { return l.name }

// Evaluate implements provider.Reasoning.
func (l *LangChain) Evaluate(ctx context.Context, req provider.EvaluationRequest) (json.RawMessage, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var msgs []llms.MessageContent
	for _, m := range withInstruction(req) {
		msgs = append(msgs, llms.TextParts(chatRole(m.Role), m.Content))
	}
	maxTokens := l.cfg.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	temperature := l.cfg.Temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}

	resp, err := l.model.GenerateContent(ctx, msgs,
		llms.WithJSONMode(),
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(temperature),
	)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	return extractJSON(resp.Choices[0].Content), nil
}

func chatRole(role string) llms.ChatMessageType {
	switch role {
	case "system":
		return llms.ChatMessageTypeSystem
	case "assistant":
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

var _ provider.Reasoning = (*LangChain)(nil)
