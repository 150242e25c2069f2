// Package bus routes calls to the providers of one capability domain.
//
// A call walks the registry's eligible providers in priority order. Each
// provider gets a fixed number of retries, every attempt is bounded by the
// call timeout, and a provider that exhausts its retries is charged one
// breaker failure before the bus fails over to the next. When the list runs
// out the caller receives an *ExhaustedError.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/logging"
	"github.com/fyrsmithlabs/reasond/internal/provider"
	"github.com/fyrsmithlabs/reasond/internal/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/reasond/internal/bus"

// Config controls retries and timeouts.
type Config struct {
	// RetryAttempts is the number of retries against the same provider
	// after its first attempt fails.
	RetryAttempts int
	// CallTimeout bounds every single provider attempt.
	CallTimeout time.Duration
	// RetryBackoff is multiplied by the retry number between attempts.
	RetryBackoff time.Duration
}

// DefaultConfig returns 2 retries, a 30s call timeout and 200ms backoff.
func DefaultConfig() Config {
	return Config{
		RetryAttempts: 2,
		CallTimeout:   30 * time.Second,
		RetryBackoff:  200 * time.Millisecond,
	}
}

// Bus serves one capability domain.
type Bus[P provider.Provider] struct {
	reg    *registry.Registry[P]
	cfg    Config
	logger *logging.Logger
	tracer trace.Tracer
}

// New creates a bus over reg.
func New[P provider.Provider](reg *registry.Registry[P], cfg Config, logger *logging.Logger) *Bus[P] {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	return &Bus[P]{
		reg:    reg,
		cfg:    cfg,
		logger: logging.OrNop(logger).Named("bus." + string(reg.Domain())),
		tracer: otel.Tracer(instrumentationName),
	}
}

// Registry returns the registry this bus reads.
func (b *Bus[P]) Registry() *registry.Registry[P] { return b.reg }

// Call runs fn against the eligible providers for caps until one succeeds.
func (b *Bus[P]) Call(ctx context.Context, op string, caps []string, fn func(ctx context.Context, p P) error) error {
	_, err := Do(ctx, b, op, caps, func(ctx context.Context, p P) (struct{}, error) {
		return struct{}{}, fn(ctx, p)
	})
	return err
}

type result[R any] struct {
	val R
	err error
}

// Do runs fn against the eligible providers for caps and returns the first
// successful result.
//
// Cancellation of ctx aborts the walk and returns ctx.Err() without
// charging the provider in flight.
func Do[P provider.Provider, R any](ctx context.Context, b *Bus[P], op string, caps []string, fn func(ctx context.Context, p P) (R, error)) (R, error) {
	domain := string(b.reg.Domain())
	ctx, span := b.tracer.Start(ctx, "bus."+domain+"."+op,
		trace.WithAttributes(attribute.String("bus.domain", domain), attribute.String("bus.op", op)))
	defer span.End()

	var zero R
	candidates := b.reg.Candidates(caps...)
	if len(candidates) == 0 {
		err := &ExhaustedError{Domain: b.reg.Domain(), Op: op, LastErr: ErrNoEligibleProvider}
		exhaustedTotal.WithLabelValues(domain, op).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "no eligible provider")
		return zero, err
	}

	var (
		lastErr  error
		attempts int
		tried    int
	)
	for _, rec := range candidates {
		// The breaker may have opened since Candidates was computed.
		if !rec.Breaker.Allow() {
			continue
		}
		if tried > 0 {
			failoversTotal.WithLabelValues(domain, op).Inc()
		}
		tried++

		pctx := logging.WithProvider(ctx, rec.Name)
		val, n, err := attempt(pctx, b, rec, op, fn)
		attempts += n
		if err == nil {
			rec.Breaker.RecordSuccess()
			span.SetAttributes(attribute.String("bus.provider", rec.Name), attribute.Int("bus.attempts", attempts))
			return val, nil
		}

		var halt *haltError
		if errors.As(err, &halt) {
			rec.Breaker.RecordSuccess()
			span.RecordError(halt.err)
			span.SetStatus(codes.Error, "halted")
			return zero, halt.err
		}
		if ctx.Err() != nil {
			rec.Breaker.Release()
			span.SetStatus(codes.Error, "canceled")
			return zero, ctx.Err()
		}
		var skip *skipError
		if errors.As(err, &skip) {
			rec.Breaker.Release()
			tried--
			if lastErr == nil {
				lastErr = skip.err
			}
			continue
		}

		rec.Breaker.RecordFailure()
		lastErr = err
		b.logger.Warn(pctx, "provider failed, failing over",
			zap.String("op", op),
			zap.Int("attempts", n),
			zap.Error(err),
		)
	}

	if lastErr == nil {
		lastErr = ErrNoEligibleProvider
	}
	err := &ExhaustedError{Domain: b.reg.Domain(), Op: op, Providers: tried, Attempts: attempts, LastErr: lastErr}
	exhaustedTotal.WithLabelValues(domain, op).Inc()
	b.logger.Error(ctx, "all providers exhausted", zap.String("op", op), zap.Int("providers", tried), zap.Error(lastErr))
	span.RecordError(err)
	span.SetStatus(codes.Error, "exhausted")
	return zero, err
}

// attempt calls one provider up to RetryAttempts+1 times. It returns the
// number of attempts made.
func attempt[P provider.Provider, R any](ctx context.Context, b *Bus[P], rec *registry.Record[P], op string, fn func(ctx context.Context, p P) (R, error)) (R, int, error) {
	domain := string(b.reg.Domain())
	var (
		zero R
		err  error
	)
	for i := 0; i <= b.cfg.RetryAttempts; i++ {
		if i > 0 && b.cfg.RetryBackoff > 0 {
			select {
			case <-ctx.Done():
				return zero, i, ctx.Err()
			case <-time.After(b.cfg.RetryBackoff * time.Duration(i)):
			}
		}

		start := time.Now()
		var val R
		val, err = callWithTimeout(ctx, b.cfg.CallTimeout, rec.Provider, fn)
		callDuration.WithLabelValues(domain, op).Observe(time.Since(start).Seconds())

		if err == nil {
			callsTotal.WithLabelValues(domain, op, rec.Name, "success").Inc()
			return val, i + 1, nil
		}
		var halt *haltError
		if errors.As(err, &halt) {
			callsTotal.WithLabelValues(domain, op, rec.Name, "halted").Inc()
			return zero, i + 1, err
		}
		var skip *skipError
		if errors.As(err, &skip) {
			return zero, 0, err
		}
		if ctx.Err() != nil {
			return zero, i + 1, ctx.Err()
		}
		if errors.Is(err, ErrCallTimeout) {
			callsTotal.WithLabelValues(domain, op, rec.Name, "timeout").Inc()
		} else {
			callsTotal.WithLabelValues(domain, op, rec.Name, "failure").Inc()
		}
		b.logger.Debug(ctx, "provider attempt failed", zap.String("op", op), zap.Int("attempt", i+1), zap.Error(err))
	}
	return zero, b.cfg.RetryAttempts + 1, err
}

// callWithTimeout runs fn under a deadline. A provider that ignores its
// context is abandoned at the deadline; its late result is discarded.
func callWithTimeout[P provider.Provider, R any](ctx context.Context, timeout time.Duration, p P, fn func(ctx context.Context, p P) (R, error)) (R, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result[R], 1)
	go func() {
		v, err := fn(callCtx, p)
		done <- result[R]{val: v, err: err}
	}()

	var zero R
	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s: %w", ErrCallTimeout, timeout, r.err)
		}
		return r.val, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", ErrCallTimeout, timeout)
	}
}
