package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/audit"
	"github.com/fyrsmithlabs/reasond/internal/breaker"
	"github.com/fyrsmithlabs/reasond/internal/bus"
	"github.com/fyrsmithlabs/reasond/internal/config"
	"github.com/fyrsmithlabs/reasond/internal/conscience"
	"github.com/fyrsmithlabs/reasond/internal/dispatch"
	"github.com/fyrsmithlabs/reasond/internal/dma"
	"github.com/fyrsmithlabs/reasond/internal/logging"
	"github.com/fyrsmithlabs/reasond/internal/pipeline"
	"github.com/fyrsmithlabs/reasond/internal/provider"
	"github.com/fyrsmithlabs/reasond/internal/provider/comm"
	"github.com/fyrsmithlabs/reasond/internal/provider/guidance"
	"github.com/fyrsmithlabs/reasond/internal/provider/llm"
	"github.com/fyrsmithlabs/reasond/internal/provider/memory"
	"github.com/fyrsmithlabs/reasond/internal/provider/tool"
	"github.com/fyrsmithlabs/reasond/internal/qdrant"
	"github.com/fyrsmithlabs/reasond/internal/registry"
	"github.com/fyrsmithlabs/reasond/internal/runtime"
	"github.com/fyrsmithlabs/reasond/internal/secrets"
	"github.com/fyrsmithlabs/reasond/internal/task"
	"github.com/fyrsmithlabs/reasond/internal/task/sqlite"
	"github.com/fyrsmithlabs/reasond/internal/telemetry"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// appOptions selects the optional parts of an app.
type appOptions struct {
	// NATS connects to cfg.NATS.URL when it is set.
	NATS bool
	// Remote enables remote memory backends.
	Remote bool
}

// app holds every wired component of one reasond process.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
	nc     *nats.Conn

	store     task.Store
	regs      *provider.Registries
	buses     *bus.Set
	rules     *conscience.RuleWatcher
	recorder  *audit.Recorder
	loopback  *comm.Loopback
	deferrals *guidance.Queue
	runtime   *runtime.Runtime

	closers []func() error
}

// newApp wires the runtime described by cfg. On error every resource
// opened so far is released.
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logging.OrNop(logger)}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.tel, err = telemetry.New(ctx, telemetry.NewConfigFrom(cfg.Observability, version), a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error { return a.tel.Shutdown(context.Background()) })

	if a.store, err = a.openStore(ctx); err != nil {
		return nil, err
	}

	if opts.NATS && cfg.NATS.URL != "" {
		a.nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name("reasond"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		a.closers = append(a.closers, func() error { a.nc.Close(); return nil })
		a.logger.Info(ctx, "connected to NATS", zap.String("url", cfg.NATS.URL))
	}

	strategy, err := registry.ParseStrategy(cfg.Bus.Strategy)
	if err != nil {
		return nil, err
	}
	breakerLog := a.logger.Named("breaker")
	a.regs = provider.NewRegistries(registry.Options{
		Strategy: strategy,
		Breaker: breaker.Config{
			Threshold:    cfg.Breaker.Threshold,
			Window:       cfg.Breaker.Window.Duration(),
			ResetTimeout: cfg.Breaker.ResetTimeout.Duration(),
		},
		BreakerOptions: []breaker.Option{
			breaker.WithStateListener(func(name string, from, to breaker.State) {
				breakerLog.Warn(context.Background(), "circuit breaker state changed",
					zap.String("provider", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			}),
		},
	})

	if err := a.registerReasoning(); err != nil {
		return nil, err
	}
	if err := a.registerMemory(ctx, opts.Remote); err != nil {
		return nil, err
	}
	if err := a.registerCommunication(); err != nil {
		return nil, err
	}
	if err := a.registerTools(); err != nil {
		return nil, err
	}
	if err := a.registerGuidance(); err != nil {
		return nil, err
	}
	a.regs.Seal()

	a.buses = bus.NewSet(a.regs, bus.Config{
		RetryAttempts: cfg.Bus.RetryAttempts,
		CallTimeout:   cfg.Bus.CallTimeout.Duration(),
		RetryBackoff:  cfg.Bus.RetryBackoff.Duration(),
	}, a.logger)

	rulesPath, err := expandPath(cfg.Conscience.RulesPath)
	if err != nil {
		return nil, err
	}
	if a.rules, err = conscience.NewRuleWatcher(rulesPath, a.logger); err != nil {
		return nil, fmt.Errorf("failed to load protected-value rules: %w", err)
	}
	a.closers = append(a.closers, func() error { a.rules.Stop(); return nil })

	sink := a.auditSink()
	ctrl, err := a.newController(sink)
	if err != nil {
		return nil, err
	}
	a.runtime = runtime.New(runtime.Config{
		Workers:   cfg.Runtime.Workers,
		QueueSize: cfg.Runtime.QueueSize,
		MaxRounds: cfg.Runtime.MaxRounds,
	}, a.store, ctrl, sink, a.logger)
	return a, nil
}

func (a *app) openStore(ctx context.Context) (task.Store, error) {
	switch a.cfg.Store.Driver {
	case "sqlite":
		path, err := expandPath(a.cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		s, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to open task store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		a.logger.Info(ctx, "task store opened", zap.String("driver", "sqlite"), zap.String("path", path))
		return s, nil
	default:
		return task.NewMemoryStore(), nil
	}
}

func (a *app) registerReasoning() error {
	for _, rc := range a.cfg.Reasoning {
		prio, err := registry.ParsePriority(rc.Priority)
		if err != nil {
			return fmt.Errorf("reasoning provider %s: %w", rc.Name, err)
		}
		caps := rc.Capabilities
		if len(caps) == 0 {
			caps = []string{provider.CapStructuredOutput}
		}
		lc := llm.Config{
			Name:        rc.Name,
			Endpoint:    rc.Endpoint,
			Model:       rc.Model,
			APIKey:      rc.APIKey.Value(),
			RateLimit:   rc.RateLimit,
			Timeout:     rc.Timeout.Duration(),
			MaxTokens:   rc.MaxTokens,
			Temperature: rc.Temperature,
		}
		var p provider.Reasoning
		switch rc.Kind {
		case "langchain":
			p, err = llm.NewLangChain(lc)
		default:
			p, err = llm.NewHTTP(lc)
		}
		if err != nil {
			return fmt.Errorf("reasoning provider %s: %w", rc.Name, err)
		}
		if err := a.regs.Reasoning.Register(rc.Name, p, prio, caps...); err != nil {
			return err
		}
	}
	if len(a.cfg.Reasoning) == 0 {
		a.logger.Warn(context.Background(), "no reasoning providers configured; every round will defer")
	}
	return nil
}

func (a *app) registerMemory(ctx context.Context, remote bool) error {
	mc := a.cfg.Memory
	embedder, err := memory.NewEmbedder(memory.EmbedderConfig{
		BaseURL:    mc.Embeddings.BaseURL,
		Model:      mc.Embeddings.Model,
		APIKey:     mc.Embeddings.APIKey.Value(),
		Dimensions: mc.Embeddings.Dimensions,
	})
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	caps := []string{provider.CapRecall, provider.CapMemorize, provider.CapForget}

	local, err := memory.NewChromem(memory.ChromemConfig{
		Path:       mc.Chromem.Path,
		Compress:   mc.Chromem.Compress,
		Collection: mc.Collection,
	}, embedder, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open embedded memory: %w", err)
	}
	if err := a.regs.Memory.Register(local.Name(), local, registry.Fallback, caps...); err != nil {
		return err
	}

	if !remote || !mc.Qdrant.Enabled {
		return nil
	}
	qcfg := qdrant.DefaultConfig()
	qcfg.Host = mc.Qdrant.Host
	qcfg.Port = mc.Qdrant.Port
	qcfg.UseTLS = mc.Qdrant.UseTLS
	qcfg.APIKey = mc.Qdrant.APIKey.Value()
	client, err := qdrant.New(qcfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	vec, err := memory.NewQdrant("", mc.Collection, client, embedder, a.logger)
	if err != nil {
		return err
	}
	a.logger.Info(ctx, "remote memory enabled",
		zap.String("host", qcfg.Host),
		zap.Int("port", qcfg.Port),
		zap.String("collection", mc.Collection))
	return a.regs.Memory.Register(vec.Name(), vec, registry.High, caps...)
}

func (a *app) registerCommunication() error {
	a.loopback = comm.NewLoopback("")
	if err := a.regs.Communication.Register(a.loopback.Name(), a.loopback, registry.Fallback,
		provider.CapDeliver, provider.CapFetch); err != nil {
		return err
	}
	if a.nc == nil {
		return nil
	}
	n, err := comm.NewNATS(a.nc, comm.NATSOptions{Prefix: a.cfg.NATS.SubjectPrefix}, a.logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, n.Close)
	return a.regs.Communication.Register(n.Name(), n, registry.Normal, provider.CapDeliver, provider.CapFetch)
}

func (a *app) registerTools() error {
	b := tool.NewBuiltin("")
	return a.regs.Tool.Register(b.Name(), b, registry.Normal, provider.CapInvoke)
}

func (a *app) registerGuidance() error {
	a.deferrals = guidance.NewQueue("")
	if err := a.regs.Guidance.Register(a.deferrals.Name(), a.deferrals, registry.Fallback, provider.CapGuidance); err != nil {
		return err
	}
	if a.nc == nil {
		return nil
	}
	g, err := guidance.NewNATS("", a.nc, a.cfg.NATS.SubjectPrefix, a.cfg.NATS.RequestTimeout.Duration())
	if err != nil {
		return err
	}
	return a.regs.Guidance.Register(g.Name(), g, registry.High, provider.CapGuidance)
}

// auditSink fans events out to the recorder, the log and NATS.
func (a *app) auditSink() audit.Sink {
	a.recorder = audit.NewRecorder(a.cfg.Audit.Retain)
	sinks := audit.Multi{a.recorder}
	if a.cfg.Audit.LogEvents {
		sinks = append(sinks, audit.NewLogSink(a.logger))
	}
	if a.cfg.Audit.Publish && a.nc != nil {
		sinks = append(sinks, audit.NewNATSSink(a.nc, a.cfg.NATS.SubjectPrefix))
	}
	return sinks
}

func (a *app) newController(sink audit.Sink) (*pipeline.Controller, error) {
	cfg := a.cfg
	reasoner := a.buses.Reasoning

	dmaMetrics, err := dma.NewMetrics(a.tel.Meter(dma.InstrumentationName))
	if err != nil {
		return nil, fmt.Errorf("failed to create dma metrics: %w", err)
	}
	evaluators := []dma.Evaluator{
		dma.NewEthical(reasoner),
		dma.NewCommonSense(reasoner),
		dma.NewDomain(reasoner, cfg.Runtime.Domain),
	}
	if cfg.Runtime.Intuition {
		evaluators = append(evaluators, dma.NewIntuition(reasoner))
	}
	set, err := dma.NewSet(cfg.Runtime.DMATimeout.Duration(), a.logger, dmaMetrics, evaluators...)
	if err != nil {
		return nil, err
	}

	chain := conscience.NewChain(a.logger, conscience.Standard(reasoner, a.rules, conscience.Thresholds{
		Entropy:               cfg.Conscience.EntropyThreshold,
		Coherence:             cfg.Conscience.CoherenceThreshold,
		OptimizationVetoRatio: cfg.Conscience.OptimizationVetoRatio,
	})...)

	deps := dispatch.Deps{
		Comm:           a.buses.Communication,
		Memory:         a.buses.Memory,
		Tools:          a.buses.Tool,
		Guidance:       a.buses.Guidance,
		DefaultChannel: cfg.Runtime.DefaultChannel,
	}
	if cfg.Redaction.Enabled {
		redactor, err := secrets.New(secrets.Config{
			Replacement: cfg.Redaction.Replacement,
			AllowList:   cfg.Redaction.AllowList,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build redactor: %w", err)
		}
		deps.Redactor = redactor
	}
	disp := dispatch.New(a.store, deps, a.logger)

	roundMetrics, err := pipeline.NewMetrics(a.tel.Meter(pipeline.InstrumentationName))
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}
	return pipeline.New(pipeline.Deps{
		Store:      a.store,
		Evaluators: set,
		Selector:   dma.NewSelector(reasoner, a.logger, dmaMetrics),
		Conscience: chain,
		Dispatcher: disp,
		Tools:      a.buses.Tool,
	}, pipeline.Config{
		MaxRounds: cfg.Runtime.MaxRounds,
		Domain:    cfg.Runtime.Domain,
	}, a.logger,
		pipeline.WithAudit(sink),
		pipeline.WithTracer(a.tel.Tracer(pipeline.InstrumentationName)),
		pipeline.WithMetrics(roundMetrics),
	)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug(ctx, "logger sync failed", zap.Error(err))
	}
	return errors.Join(errs...)
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	expanded, err := config.ExpandHome(path)
	if err != nil {
		return "", fmt.Errorf("failed to expand %s: %w", path, err)
	}
	return expanded, nil
}
