package bus

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fyrsmithlabs/reasond/internal/logging"
	"github.com/fyrsmithlabs/reasond/internal/provider"
	"github.com/fyrsmithlabs/reasond/internal/registry"
	"go.uber.org/zap"
)

// malformedRetries is how many times a schema violation is retried before
// it surfaces as a MalformedOutputError.
const malformedRetries = 1

// ReasoningBus routes structured evaluation requests and validates every
// result against the request's JSON schema.
type ReasoningBus struct {
	*Bus[provider.Reasoning]
	schemas *schemaCache
}

// NewReasoningBus creates the reasoning bus.
func NewReasoningBus(reg *registry.Registry[provider.Reasoning], cfg Config, logger *logging.Logger) *ReasoningBus {
	return &ReasoningBus{Bus: New(reg, cfg, logger), schemas: newSchemaCache()}
}

// Evaluate returns a schema-conformant result. A schema violation is
// retried once; a second violation returns *MalformedOutputError.
func (b *ReasoningBus) Evaluate(ctx context.Context, req provider.EvaluationRequest) (json.RawMessage, error) {
	if len(req.Schema) > 0 {
		// Surface a broken schema as a programming error, not a provider failure.
		if _, err := b.schemas.get(req.SchemaName, req.Schema); err != nil {
			return nil, err
		}
	}

	var lastMalformed *MalformedOutputError
	for i := 0; i <= malformedRetries; i++ {
		out, err := Do(ctx, b.Bus, "evaluate", []string{provider.CapStructuredOutput},
			func(ctx context.Context, p provider.Reasoning) (json.RawMessage, error) {
				raw, err := p.Evaluate(ctx, req)
				if err != nil {
					return nil, err
				}
				if len(req.Schema) == 0 {
					return raw, nil
				}
				if verr := b.schemas.validate(req.SchemaName, req.Schema, raw); verr != nil {
					return nil, Halt(&MalformedOutputError{Schema: req.SchemaName, Provider: p.Name(), Err: verr})
				}
				return raw, nil
			})
		if err == nil {
			return out, nil
		}
		if !errors.As(err, &lastMalformed) {
			return nil, err
		}
		malformedTotal.WithLabelValues(req.SchemaName).Inc()
		b.logger.Warn(ctx, "malformed structured output",
			zap.String("schema", req.SchemaName),
			zap.Int("attempt", i+1),
			zap.Error(lastMalformed.Err),
		)
	}
	return nil, lastMalformed
}
