// Package config provides configuration loading for reasond.
//
// Configuration is read from a YAML file and overlaid with REASOND_-prefixed
// environment variables. Every section has working defaults, so an empty
// file yields a runnable single-node configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete reasond configuration.
type Config struct {
	Runtime       RuntimeConfig       `koanf:"runtime"`
	Bus           BusConfig           `koanf:"bus"`
	Breaker       BreakerConfig       `koanf:"breaker"`
	Conscience    ConscienceConfig    `koanf:"conscience"`
	Reasoning     []ReasoningConfig   `koanf:"reasoning"`
	Memory        MemoryConfig        `koanf:"memory"`
	Store         StoreConfig         `koanf:"store"`
	NATS          NATSConfig          `koanf:"nats"`
	Audit         AuditConfig         `koanf:"audit"`
	Redaction     RedactionConfig     `koanf:"redaction"`
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// RuntimeConfig bounds task processing.
type RuntimeConfig struct {
	MaxRounds  int      `koanf:"max_rounds"`
	Workers    int      `koanf:"workers"`
	QueueSize  int      `koanf:"queue_size"`
	DMATimeout Duration `koanf:"dma_timeout"`
	Domain     string   `koanf:"domain"`

	// Intuition adds the informational intuition evaluator to every round.
	Intuition bool `koanf:"intuition"`
	// DefaultChannel receives SPEAK output when the task names no channel.
	DefaultChannel string `koanf:"default_channel"`
}

// BusConfig controls per-provider retry and call timeouts.
type BusConfig struct {
	RetryAttempts int      `koanf:"retry_attempts"`
	CallTimeout   Duration `koanf:"call_timeout"`
	RetryBackoff  Duration `koanf:"retry_backoff"`
	Strategy      string   `koanf:"strategy"` // fallback | round_robin
}

// BreakerConfig configures the per-provider circuit breakers.
type BreakerConfig struct {
	Threshold    int      `koanf:"threshold"`
	Window       Duration `koanf:"window"`
	ResetTimeout Duration `koanf:"reset_timeout"`
}

// ConscienceConfig tunes the conscience validators.
type ConscienceConfig struct {
	EntropyThreshold      float64 `koanf:"entropy_threshold"`
	CoherenceThreshold    float64 `koanf:"coherence_threshold"`
	OptimizationVetoRatio float64 `koanf:"optimization_veto_ratio"`
	RulesPath             string  `koanf:"rules_path"`
	WatchRules            bool    `koanf:"watch_rules"`
}

// ReasoningConfig describes one reasoning provider.
type ReasoningConfig struct {
	Name         string   `koanf:"name"`
	Kind         string   `koanf:"kind"` // http | langchain
	Endpoint     string   `koanf:"endpoint"`
	Model        string   `koanf:"model"`
	APIKey       Secret   `koanf:"api_key"`
	Priority     string   `koanf:"priority"`
	Capabilities []string `koanf:"capabilities"`
	RateLimit    float64  `koanf:"rate_limit"` // requests per second, 0 = unlimited
	Timeout      Duration `koanf:"timeout"`
	MaxTokens    int      `koanf:"max_tokens"`
	Temperature  float64  `koanf:"temperature"`
}

// MemoryConfig configures the memory providers and their embedder.
type MemoryConfig struct {
	Collection string           `koanf:"collection"`
	Chromem    ChromemConfig    `koanf:"chromem"`
	Qdrant     QdrantConfig     `koanf:"qdrant"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
}

// ChromemConfig configures the embedded vector memory.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig configures the remote vector memory.
type QdrantConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
	APIKey  Secret `koanf:"api_key"`
	UseTLS  bool   `koanf:"use_tls"`
}

// EmbeddingsConfig selects the embedder. An empty BaseURL selects the
// local hashing embedder.
type EmbeddingsConfig struct {
	BaseURL    string `koanf:"base_url"`
	Model      string `koanf:"model"`
	APIKey     Secret `koanf:"api_key"`
	Dimensions int    `koanf:"dimensions"`
}

// StoreConfig selects the task/thought store.
type StoreConfig struct {
	Driver string `koanf:"driver"` // memory | sqlite
	Path   string `koanf:"path"`
}

// NATSConfig configures the message bus connection shared by audit,
// communication, guidance and task ingest.
type NATSConfig struct {
	URL            string   `koanf:"url"`
	SubjectPrefix  string   `koanf:"subject_prefix"`
	RequestTimeout Duration `koanf:"request_timeout"`
}

// AuditConfig controls audit event sinks.
type AuditConfig struct {
	LogEvents bool `koanf:"log_events"`
	Publish   bool `koanf:"publish"`
	Retain    int  `koanf:"retain"`
}

// RedactionConfig controls secret redaction of SPEAK and MEMORIZE content.
type RedactionConfig struct {
	Enabled     bool     `koanf:"enabled"`
	Replacement string   `koanf:"replacement"`
	AllowList   []string `koanf:"allow_list"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds the logging settings exposed in the config file.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"` // json | console
	Output   string `koanf:"output"` // stdout | stderr
	Sampling bool   `koanf:"sampling"`
}

// ObservabilityConfig holds OpenTelemetry export settings.
type ObservabilityConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			MaxRounds:  7,
			Workers:    4,
			QueueSize:  64,
			DMATimeout: Duration(30 * time.Second),
			Domain:     "general",

			DefaultChannel: "cli",
		},
		Bus: BusConfig{
			RetryAttempts: 2,
			CallTimeout:   Duration(30 * time.Second),
			RetryBackoff:  Duration(200 * time.Millisecond),
			Strategy:      "fallback",
		},
		Breaker: BreakerConfig{
			Threshold:    5,
			Window:       Duration(5 * time.Minute),
			ResetTimeout: Duration(60 * time.Second),
		},
		Conscience: ConscienceConfig{
			EntropyThreshold:      0.40,
			CoherenceThreshold:    0.60,
			OptimizationVetoRatio: 10,
			WatchRules:            true,
		},
		Memory: MemoryConfig{
			Collection: "reasond_memory",
			Chromem: ChromemConfig{
				Path: "~/.config/reasond/memory",
			},
			Qdrant: QdrantConfig{
				Host: "localhost",
				Port: 6334,
			},
			Embeddings: EmbeddingsConfig{
				Dimensions: 256,
			},
		},
		Store: StoreConfig{
			Driver: "memory",
			Path:   "~/.config/reasond/reasond.db",
		},
		NATS: NATSConfig{
			SubjectPrefix:  "reasond",
			RequestTimeout: Duration(10 * time.Second),
		},
		Audit: AuditConfig{
			LogEvents: true,
			Retain:    1000,
		},
		Redaction: RedactionConfig{
			Enabled: true,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "stderr",
			Sampling: true,
		},
		Observability: ObservabilityConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			ServiceName: "reasond",
			SampleRate:  1.0,
		},
	}
}

// applyDefaults fills per-entry defaults that cannot live in Default()
// because list entries are replaced wholesale by the loader.
func applyDefaults(cfg *Config) {
	for i := range cfg.Reasoning {
		r := &cfg.Reasoning[i]
		if r.Kind == "" {
			r.Kind = "http"
		}
		if r.Priority == "" {
			r.Priority = "normal"
		}
		if r.Timeout == 0 {
			r.Timeout = cfg.Bus.CallTimeout
		}
		if r.MaxTokens == 0 {
			r.MaxTokens = 1024
		}
	}
}

// Validate validates the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Runtime.MaxRounds < 1 {
		errs = append(errs, fmt.Errorf("runtime.max_rounds must be >= 1, got %d", c.Runtime.MaxRounds))
	}
	if c.Runtime.Workers < 1 {
		errs = append(errs, fmt.Errorf("runtime.workers must be >= 1, got %d", c.Runtime.Workers))
	}
	if c.Runtime.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("runtime.queue_size must be >= 1, got %d", c.Runtime.QueueSize))
	}
	if c.Bus.RetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("bus.retry_attempts must be >= 0, got %d", c.Bus.RetryAttempts))
	}
	if c.Bus.CallTimeout <= 0 {
		errs = append(errs, errors.New("bus.call_timeout must be positive"))
	}
	switch c.Bus.Strategy {
	case "fallback", "round_robin":
	default:
		errs = append(errs, fmt.Errorf("bus.strategy must be fallback or round_robin, got %q", c.Bus.Strategy))
	}
	if c.Breaker.Threshold < 1 {
		errs = append(errs, fmt.Errorf("breaker.threshold must be >= 1, got %d", c.Breaker.Threshold))
	}
	if c.Breaker.ResetTimeout <= 0 {
		errs = append(errs, errors.New("breaker.reset_timeout must be positive"))
	}
	if t := c.Conscience.EntropyThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("conscience.entropy_threshold must be in [0,1], got %v", t))
	}
	if t := c.Conscience.CoherenceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("conscience.coherence_threshold must be in [0,1], got %v", t))
	}

	seen := make(map[string]bool, len(c.Reasoning))
	for i, r := range c.Reasoning {
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("reasoning[%d].name is required", i))
		} else if seen[r.Name] {
			errs = append(errs, fmt.Errorf("reasoning[%d].name %q is duplicated", i, r.Name))
		}
		seen[r.Name] = true
		if r.Kind != "http" && r.Kind != "langchain" {
			errs = append(errs, fmt.Errorf("reasoning[%d].kind must be http or langchain, got %q", i, r.Kind))
		}
		if r.Endpoint == "" {
			errs = append(errs, fmt.Errorf("reasoning[%d].endpoint is required", i))
		}
		if r.Model == "" {
			errs = append(errs, fmt.Errorf("reasoning[%d].model is required", i))
		}
		if r.RateLimit < 0 {
			errs = append(errs, fmt.Errorf("reasoning[%d].rate_limit must be >= 0", i))
		}
	}

	if c.Memory.Qdrant.Enabled && (c.Memory.Qdrant.Port <= 0 || c.Memory.Qdrant.Port > 65535) {
		errs = append(errs, fmt.Errorf("memory.qdrant.port invalid: %d", c.Memory.Qdrant.Port))
	}
	if c.Memory.Embeddings.BaseURL == "" && c.Memory.Embeddings.Dimensions < 8 {
		errs = append(errs, fmt.Errorf("memory.embeddings.dimensions must be >= 8, got %d", c.Memory.Embeddings.Dimensions))
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver must be memory or sqlite, got %q", c.Store.Driver))
	}
	if c.Audit.Publish && c.NATS.URL == "" {
		errs = append(errs, errors.New("audit.publish requires nats.url"))
	}
	if strings.ContainsAny(c.NATS.SubjectPrefix, " *>") {
		errs = append(errs, fmt.Errorf("nats.subject_prefix contains illegal characters: %q", c.NATS.SubjectPrefix))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	if c.Observability.Enabled && c.Observability.ServiceName == "" {
		errs = append(errs, errors.New("service name required when telemetry is enabled"))
	}

	return errors.Join(errs...)
}
