package atlas

import (
	"context"
	"fmt"
	"time"

	"github.com/aidant64/atlas/policy"
	"github.com/aidant64/atlas/service/engine"
	"github.com/aidant64/atlas/service/messaging"
	"github.com/aidant64/atlas/service/meta"
	"github.com/aidant64/atlas/tracing"
)

// Store vendors.
const (
	StoreMemory = "memory"
	StoreFS     = "fs"
	StoreRedis  = "redis"
)

// Assessor providers.
const (
	ProviderSimulated = "simulated"
	ProviderInference = "inference"
	ProviderLLM       = "llm"
)

// Config is a serialisable representation of the gateway configuration. It
// is usually loaded from YAML; durations are strings such as "72h".
type Config struct {
	ListenAddr string           `json:"listenAddr" yaml:"listen_addr"`
	APIKey     string           `json:"apiKey" yaml:"api_key"`
	Policy     policy.Config    `json:"policy" yaml:"policy"`
	Engine     EngineConfig     `json:"engine" yaml:"engine"`
	Gatekeeper GatekeeperConfig `json:"gatekeeper" yaml:"gatekeeper"`
	Store      StoreConfig      `json:"store" yaml:"store"`
	Bus        BusConfig        `json:"bus" yaml:"bus"`
	Audit      AuditConfig      `json:"audit" yaml:"audit"`
	Assessor   AssessorConfig   `json:"assessor" yaml:"assessor"`
	Tracing    tracing.Config   `json:"tracing" yaml:"tracing"`
}

type EngineConfig struct {
	Workers        int    `json:"workers" yaml:"workers"`
	ReaperInterval string `json:"reaperInterval" yaml:"reaper_interval"`
	ClaimTTL       string `json:"claimTTL" yaml:"claim_ttl"`
}

type GatekeeperConfig struct {
	GraceWindow  string `json:"graceWindow" yaml:"grace_window"`
	PollInterval string `json:"pollInterval" yaml:"poll_interval"`
}

// StoreConfig selects where runs and bookmarks are persisted.
type StoreConfig struct {
	Vendor   string `json:"vendor" yaml:"vendor"`
	Path     string `json:"path" yaml:"path"`
	RedisURL string `json:"redisURL" yaml:"redis_url"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

// BusConfig selects the event queue vendor.
type BusConfig struct {
	Vendor string `json:"vendor" yaml:"vendor"`
	Path   string `json:"path" yaml:"path"`
}

// AuditConfig locates the JSON lines audit file. An empty path keeps entries
// in memory.
type AuditConfig struct {
	Path string `json:"path" yaml:"path"`
}

// AssessorConfig selects the risk scoring backend.
type AssessorConfig struct {
	Provider    string  `json:"provider" yaml:"provider"`
	URL         string  `json:"url" yaml:"url"`
	Model       string  `json:"model" yaml:"model"`
	APIKey      string  `json:"apiKey" yaml:"api_key"`
	BaseURL     string  `json:"baseURL" yaml:"base_url"`
	Timeout     string  `json:"timeout" yaml:"timeout"`
	MaxTokens   int     `json:"maxTokens" yaml:"max_tokens"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

// DefaultConfig returns a Config populated with the built-in defaults.
// Callers may modify the returned struct before passing it to New.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":8000",
		Policy:     *policy.ToConfig(policy.Default()),
		Engine: EngineConfig{
			Workers:        4,
			ReaperInterval: "1m",
			ClaimTTL:       "1m",
		},
		Gatekeeper: GatekeeperConfig{
			GraceWindow:  "2s",
			PollInterval: "50ms",
		},
		Store:    StoreConfig{Vendor: StoreMemory, Prefix: "atlas"},
		Bus:      BusConfig{Vendor: string(messaging.VendorMemory)},
		Audit:    AuditConfig{Path: "atlas_audit.jsonl"},
		Assessor: AssessorConfig{Provider: ProviderSimulated, Timeout: "10s", MaxTokens: 256, Temperature: 0.1},
		Tracing:  tracing.Config{Service: "atlas-gateway", Version: "1.0.0"},
	}
}

// LoadConfig reads a YAML (or .json) document over the defaults. ${ENV}
// references are expanded before decoding.
func LoadConfig(ctx context.Context, URL string) (*Config, error) {
	ret := DefaultConfig()
	if err := meta.New(nil).Load(ctx, URL, ret); err != nil {
		return nil, err
	}
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}

// Validate returns an error describing the first invalid setting or nil.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config was nil")
	}
	if _, err := policy.FromConfig(&c.Policy); err != nil {
		return err
	}
	if _, err := c.Engine.engineConfig(); err != nil {
		return err
	}
	if _, _, err := c.Gatekeeper.durations(); err != nil {
		return err
	}
	switch c.Store.Vendor {
	case StoreMemory:
	case StoreFS:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the fs store")
		}
	case StoreRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for the redis store")
		}
	default:
		return fmt.Errorf("unsupported store vendor: %q", c.Store.Vendor)
	}
	switch messaging.Vendor(c.Bus.Vendor) {
	case messaging.VendorMemory:
	case messaging.VendorFS:
		if c.Bus.Path == "" {
			return fmt.Errorf("bus.path is required for the fs bus")
		}
	default:
		return fmt.Errorf("unsupported bus vendor: %q", c.Bus.Vendor)
	}
	if _, err := duration("assessor.timeout", c.Assessor.Timeout, 0); err != nil {
		return err
	}
	switch c.Assessor.Provider {
	case ProviderSimulated:
	case ProviderInference:
		if c.Assessor.URL == "" {
			return fmt.Errorf("assessor.url is required for the inference provider")
		}
	case ProviderLLM:
		if c.Assessor.Model == "" {
			return fmt.Errorf("assessor.model is required for the llm provider")
		}
	default:
		return fmt.Errorf("unsupported assessor provider: %q", c.Assessor.Provider)
	}
	return nil
}

func (c EngineConfig) engineConfig() (engine.Config, error) {
	ret := engine.DefaultConfig()
	if c.Workers != 0 {
		ret.Workers = c.Workers
	}
	var err error
	if ret.ReaperInterval, err = duration("engine.reaper_interval", c.ReaperInterval, ret.ReaperInterval); err != nil {
		return ret, err
	}
	if ret.ClaimTTL, err = duration("engine.claim_ttl", c.ClaimTTL, ret.ClaimTTL); err != nil {
		return ret, err
	}
	return ret, ret.Validate()
}

func (c GatekeeperConfig) durations() (grace, poll time.Duration, err error) {
	if grace, err = duration("gatekeeper.grace_window", c.GraceWindow, 2*time.Second); err != nil {
		return 0, 0, err
	}
	if poll, err = duration("gatekeeper.poll_interval", c.PollInterval, 50*time.Millisecond); err != nil {
		return 0, 0, err
	}
	return grace, poll, nil
}

func duration(field, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	ret, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	if ret < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return ret, nil
}
