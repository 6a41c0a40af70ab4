// Package config loads the orchestrator configuration from YAML with
// environment variable overrides. The parsed Config is an immutable
// snapshot; hot reload replaces the whole snapshot atomically rather than
// mutating fields in place.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/toolscout/genflow"
	"github.com/toolscout/genflow/rate"
)

// TierConfig holds the two rate ceilings of one caller tier.
type TierConfig struct {
	RequestsPerHour int `yaml:"requests_per_hour"`
	BurstPerMinute  int `yaml:"burst_per_minute"`
}

// ProviderConfig describes one generation provider.
type ProviderConfig struct {
	// Stable provider id, e.g. "openai-gpt4o-mini".
	ID string `yaml:"id"`

	// Adapter kind: "openai", "claude", or "mock".
	Kind string `yaml:"kind"`

	// Model name passed to the adapter.
	Model string `yaml:"model"`

	// Base URL for openai-kind adapters; any OpenAI-compatible endpoint.
	BaseURL string `yaml:"base_url"`

	// Name of the environment variable holding the API key. Keys never live
	// in the YAML file itself.
	APIKeyEnv string `yaml:"api_key_env"`

	// Cost in USD per 1K tokens.
	CostPer1KTokens float64 `yaml:"cost_per_1k_tokens"`

	// Quality rank, higher is better.
	QualityRank int `yaml:"quality_rank"`

	// Spend ceiling per cost window in USD. Zero means unbounded.
	WindowBudget float64 `yaml:"window_budget"`
}

// Config is the full configuration snapshot. Duration fields use Go duration
// strings in YAML ("30s", "24h") and are accessed through the parsed
// getters.
type Config struct {
	// Port to listen for incoming requests.
	Port int `yaml:"port"`

	// Valkey endpoint for the shared response cache, e.g. localhost:6379.
	// Empty selects the in-process store.
	ValkeyEndpoint string `yaml:"valkey_endpoint"`

	// Maximum entries in the in-process store.
	CacheMaxEntries int `yaml:"cache_max_entries"`

	// Rate ceilings per caller tier.
	Tiers map[string]TierConfig `yaml:"tiers"`

	// Providers in declaration order; order is the routing tie-break.
	Providers []ProviderConfig `yaml:"providers"`

	// Cache TTL per content kind, e.g. {comparison: 6h, explanation: 168h}.
	CacheTTL map[string]string `yaml:"cache_ttl"`

	// Fallback TTL for kinds without an override. E.g., 24h
	DefaultCacheTTL string `yaml:"default_cache_ttl"`

	// Timeout for a single provider attempt. E.g., 30s
	AttemptTimeout string `yaml:"attempt_timeout"`

	// Backoff before retrying a transient provider failure. E.g., 500ms
	RetryBackoff string `yaml:"retry_backoff"`

	// Overall deadline for one generate call. E.g., 2m
	OverallTimeout string `yaml:"overall_timeout"`

	// Cost-window length; daily is typical. E.g., 24h
	CostWindow string `yaml:"cost_window"`

	// Interval between provider health probes. E.g., 5m
	ProbeInterval string `yaml:"probe_interval"`

	// Interval between cache sweeps. E.g., 10m
	SweepInterval string `yaml:"sweep_interval"`
}

// Load reads the YAML file at path, applies defaults, and then applies
// environment overrides, which take precedence over the file.
func Load(path string, logger *zap.SugaredLogger) (*Config, error) {
	config := Config{
		Port:            8080,
		CacheMaxEntries: 10000,
		DefaultCacheTTL: "24h",
		AttemptTimeout:  "30s",
		RetryBackoff:    "500ms",
		OverallTimeout:  "2m",
		CostWindow:      "24h",
		ProbeInterval:   "5m",
		SweepInterval:   "10m",
		Tiers: map[string]TierConfig{
			string(genflow.TierAnonymous):     {RequestsPerHour: 20, BurstPerMinute: 5},
			string(genflow.TierAuthenticated): {RequestsPerHour: 100, BurstPerMinute: 20},
			string(genflow.TierPremium):       {RequestsPerHour: 500, BurstPerMinute: 60},
			string(genflow.TierStaff):         {RequestsPerHour: 5000, BurstPerMinute: 300},
		},
	}

	if path != "" {
		logger.Infow("Loading config", "path", path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %v", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %v", err)
		}
	}

	// Environment variables precede the values from the YAML file.
	config.Port = envInt("GENFLOW_PORT", config.Port)
	config.ValkeyEndpoint = envString("VALKEY_ENDPOINT", config.ValkeyEndpoint)
	config.OverallTimeout = envString("GENFLOW_OVERALL_TIMEOUT", config.OverallTimeout)
	config.AttemptTimeout = envString("GENFLOW_ATTEMPT_TIMEOUT", config.AttemptTimeout)
	config.CostWindow = envString("GENFLOW_COST_WINDOW", config.CostWindow)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the snapshot for configuration mistakes that would only
// surface mid-request otherwise.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider id must not be empty")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
		switch p.Kind {
		case "openai", "claude", "mock":
		default:
			return fmt.Errorf("provider %q has unsupported kind %q", p.ID, p.Kind)
		}
	}
	for tier := range c.Tiers {
		if !genflow.Tier(tier).Valid() {
			return fmt.Errorf("unknown tier %q", tier)
		}
	}
	for _, field := range []string{
		c.DefaultCacheTTL, c.AttemptTimeout, c.RetryBackoff,
		c.OverallTimeout, c.CostWindow, c.ProbeInterval, c.SweepInterval,
	} {
		if _, err := time.ParseDuration(field); err != nil {
			return fmt.Errorf("invalid duration %q: %v", field, err)
		}
	}
	for kind, ttl := range c.CacheTTL {
		if !genflow.ContentKind(kind).Valid() {
			return fmt.Errorf("unknown content kind %q in cache_ttl", kind)
		}
		if _, err := time.ParseDuration(ttl); err != nil {
			return fmt.Errorf("invalid cache_ttl for %q: %v", kind, err)
		}
	}
	return nil
}

// TierLimits converts the tier table into the limiter's form.
func (c *Config) TierLimits() map[genflow.Tier]rate.TierLimits {
	limits := make(map[genflow.Tier]rate.TierLimits, len(c.Tiers))
	for tier, tc := range c.Tiers {
		limits[genflow.Tier(tier)] = rate.TierLimits{
			RequestsPerHour: tc.RequestsPerHour,
			BurstPerMinute:  tc.BurstPerMinute,
		}
	}
	return limits
}

// TTLByKind converts the cache TTL table into durations. Validate has
// already rejected unparsable entries.
func (c *Config) TTLByKind() map[genflow.ContentKind]time.Duration {
	ttls := make(map[genflow.ContentKind]time.Duration, len(c.CacheTTL))
	for kind, raw := range c.CacheTTL {
		if d, err := time.ParseDuration(raw); err == nil {
			ttls[genflow.ContentKind(kind)] = d
		}
	}
	return ttls
}

// Budgets returns the per-provider spend ceilings.
func (c *Config) Budgets() map[string]float64 {
	budgets := make(map[string]float64, len(c.Providers))
	for _, p := range c.Providers {
		budgets[p.ID] = p.WindowBudget
	}
	return budgets
}

func (c *Config) ParsedDefaultCacheTTL() time.Duration { return mustDuration(c.DefaultCacheTTL, 24*time.Hour) }
func (c *Config) ParsedAttemptTimeout() time.Duration  { return mustDuration(c.AttemptTimeout, 30*time.Second) }
func (c *Config) ParsedRetryBackoff() time.Duration    { return mustDuration(c.RetryBackoff, 500*time.Millisecond) }
func (c *Config) ParsedOverallTimeout() time.Duration  { return mustDuration(c.OverallTimeout, 2*time.Minute) }
func (c *Config) ParsedCostWindow() time.Duration      { return mustDuration(c.CostWindow, 24*time.Hour) }
func (c *Config) ParsedProbeInterval() time.Duration   { return mustDuration(c.ProbeInterval, 5*time.Minute) }
func (c *Config) ParsedSweepInterval() time.Duration   { return mustDuration(c.SweepInterval, 10*time.Minute) }

func mustDuration(raw string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

func envString(name string, defaultValue string) string {
	if value, ok := os.LookupEnv(name); ok {
		return value
	}
	return defaultValue
}

func envInt(name string, defaultValue int) int {
	value, ok := os.LookupEnv(name)
	if !ok {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
