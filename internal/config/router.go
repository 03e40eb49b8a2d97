package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// RouterConfig is a single named router's full pipeline configuration
// (spec.md §3/§4.2): which balancing strategy to run, its targets and
// weights, rate-limit and cache overrides, and retry policy.
type RouterConfig struct {
	// LoadBalance selects the strategy: "peak-ewma-p2c" (default),
	// "weighted-provider", "weighted-model", or "model-latency".
	LoadBalance string `mapstructure:"load_balance"`

	// Providers lists upstream providers this router may dispatch to, in
	// priority order for unweighted strategies.
	Providers []string `mapstructure:"providers"`

	// Weights maps a provider or model name (depending on LoadBalance) to
	// its decimal traffic share. Must sum to exactly 1 when LoadBalance is
	// one of the weighted strategies.
	Weights map[string]string `mapstructure:"weights"`

	// MaxInflight bounds the router pipeline's Buffer stage. 0 means the
	// package default (256).
	MaxInflight int `mapstructure:"max_inflight"`

	RateLimit RouterRateLimitConfig `mapstructure:"rate_limit"`
	Cache     RouterCacheConfig     `mapstructure:"cache"`
	Retry     RetryConfig           `mapstructure:"retry"`

	// ModelMappings overrides the global model_mappings table for this
	// router only: sourceModel -> targetProviderName -> mappedModel. Tried
	// before the global table in the dispatcher's model-mapper precedence
	// chain (spec.md §4.4).
	ModelMappings map[string]map[string]string `mapstructure:"model_mappings"`
}

// RouterRateLimitConfig configures the GCRA limiter for one router.
type RouterRateLimitConfig struct {
	// Capacity is the number of requests allowed in an immediate burst;
	// after that, one request is admitted per Period.
	Capacity int64 `mapstructure:"capacity"`
	// Period is the refill period for one cell. Default: 1s.
	Period time.Duration `mapstructure:"period"`
	// KeyExtractor selects what the limiter keys on: "global", "api_key",
	// or "ip". Default: "api_key".
	KeyExtractor string `mapstructure:"key_extractor"`
}

// RouterCacheConfig configures the bucketed semantic cache for one router.
type RouterCacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Buckets is the number of N-way cache slots per fingerprint. Must be
	// between 1 and 64. Default: 1.
	Buckets int `mapstructure:"buckets"`
	// TTL is how long a fresh entry is served without revalidation.
	TTL time.Duration `mapstructure:"ttl"`
	// ExcludeModelGlobs are doublestar glob patterns matched against the
	// model name; matching requests are never cached.
	ExcludeModelGlobs []string `mapstructure:"exclude_model_globs"`
}

// RetryConfig configures the dispatcher's pre-stream retry policy.
type RetryConfig struct {
	// Policy is "exponential" (default) or "constant".
	Policy string `mapstructure:"policy"`
	// MaxAttempts is the total number of dispatch attempts, including the
	// first. Default: 3.
	MaxAttempts int `mapstructure:"max_attempts"`
	// BaseDelay is the first retry's delay (exponential) or every retry's
	// delay (constant). Default: 200ms.
	BaseDelay time.Duration `mapstructure:"base_delay"`
	// MaxDelay caps exponential backoff growth. Default: 5s.
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

func (r RetryConfig) withDefaults() RetryConfig {
	if r.Policy == "" {
		r.Policy = "exponential"
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 3
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = 200 * time.Millisecond
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = 5 * time.Second
	}
	return r
}

// Routers is the full named-router table, loaded from the
// "routers" YAML section (or AI_GATEWAY__ROUTERS__<id>__<field> env vars).
type Routers map[string]RouterConfig

// reloadRouters re-reads configPath and parses its "routers" section,
// mirroring the nested-env viper instance Load builds — used by Watcher to
// re-parse router tuning after the file changes on disk.
func reloadRouters(configPath string) (Routers, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reload: %w", err)
	}
	v.SetEnvPrefix("AI_GATEWAY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	return LoadRouters(v)
}

// LoadRouters reads the "routers" section into a Routers map and validates
// every entry's weight configuration.
func LoadRouters(v *viper.Viper) (Routers, error) {
	raw := v.Sub("routers")
	if raw == nil {
		return Routers{}, nil
	}

	out := make(Routers)
	if err := raw.Unmarshal(&out); err != nil {
		return nil, fmt.Errorf("config: failed to parse routers: %w", err)
	}

	for id, rc := range out {
		rc.Retry = rc.Retry.withDefaults()
		if rc.RateLimit.KeyExtractor == "" {
			rc.RateLimit.KeyExtractor = "api_key"
		}
		if rc.RateLimit.Period <= 0 {
			rc.RateLimit.Period = time.Second
		}
		if rc.Cache.Buckets <= 0 {
			rc.Cache.Buckets = 1
		}
		if err := ValidateWeights(rc); err != nil {
			return nil, fmt.Errorf("config: router %q: %w", id, err)
		}
		if rc.Cache.Buckets > 64 {
			return nil, fmt.Errorf("config: router %q: cache buckets must be <= 64, got %d", id, rc.Cache.Buckets)
		}
		out[id] = rc
	}
	return out, nil
}

// ValidateWeights enforces the weighted-strategy invariant that configured
// weights sum to exactly 1, using exact decimal arithmetic so floating
// point drift can never pass or fail the check incorrectly.
func ValidateWeights(rc RouterConfig) error {
	strategy := strings.ToLower(rc.LoadBalance)
	if strategy != "weighted-provider" && strategy != "weighted-model" {
		return nil
	}
	if len(rc.Weights) == 0 {
		return fmt.Errorf("load_balance %q requires a non-empty weights map", rc.LoadBalance)
	}

	sum := decimal.Zero
	for name, raw := range rc.Weights {
		w, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("invalid weight %q for %q: %w", raw, name, err)
		}
		if w.IsNegative() {
			return fmt.Errorf("weight for %q must be non-negative, got %s", name, raw)
		}
		sum = sum.Add(w)
	}
	if !sum.Equal(decimal.NewFromInt(1)) {
		return fmt.Errorf("weights must sum to exactly 1, got %s", sum.String())
	}
	return nil
}
