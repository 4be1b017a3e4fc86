package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigurationError describes a config value rejected at load time.
// Startup fails fast on these rather than deferring to first use.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "config: " + e.Field + ": " + e.Reason
}

// Config holds the full warden service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Oversight OversightConfig `yaml:"oversight"`
}

type ServerConfig struct {
	HTTPPort      string `yaml:"http_port"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
	AuthCacheTTLs int    `yaml:"auth_cache_ttl_s"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

type ScannerConfig struct {
	// PatternsFile is an optional YAML file of detection patterns that
	// supplements the built-in set and can be hot-reloaded.
	PatternsFile string `yaml:"patterns_file"`

	// EnableLLMGuard gates the Layer 3 semantic classifier.
	EnableLLMGuard      bool   `yaml:"enable_llm_guard"`
	ClassifierEndpoint  string `yaml:"classifier_endpoint"`
	ClassifierTimeoutMs int    `yaml:"classifier_timeout_ms"`

	// FailOpen controls classifier failure handling. Default true:
	// an unreachable classifier degrades to the pattern/structural
	// verdict instead of rejecting all traffic. Deployments that
	// prefer to block on classifier outage set this to false.
	FailOpen *bool `yaml:"fail_open"`

	MaxInputLength int `yaml:"max_input_length"` // bytes
}

type OversightConfig struct {
	DefaultTier          string   `yaml:"default_tier"`
	ConfidenceThreshold  float64  `yaml:"confidence_threshold"`
	AmountThreshold      float64  `yaml:"amount_threshold"`
	Tier1Actions         []string `yaml:"tier_1_actions"`
	HighRiskDisputeTypes []string `yaml:"high_risk_dispute_types"`
	SampleRateTier2      float64  `yaml:"sample_rate_tier_2"`
}

// Load reads configuration from a YAML file, applies defaults and
// environment overrides, and validates the result. A missing file is
// not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigurationError{Field: path, Reason: err.Error()}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig is the single source of defaults. The YAML file is
// unmarshaled on top of it, so an explicit zero in the file (for
// example sample_rate_tier_2: 0 to disable Tier-2 sampling) stands.
func defaultConfig() *Config {
	failOpen := true
	return &Config{
		Server: ServerConfig{
			HTTPPort:      "8080",
			AuthCacheTTLs: 30,
		},
		Logging: LoggingConfig{Level: "info"},
		Scanner: ScannerConfig{
			ClassifierTimeoutMs: 500,
			FailOpen:            &failOpen,
			MaxInputLength:      10 * 1024,
		},
		Oversight: OversightConfig{
			DefaultTier:          "tier_3_low",
			ConfidenceThreshold:  0.85,
			AmountThreshold:      10_000,
			Tier1Actions:         []string{"sar_filing", "payment_block", "account_close"},
			HighRiskDisputeTypes: []string{"fraud", "identity_theft", "money_laundering"},
			SampleRateTier2:      0.10,
		},
	}
}

// applyEnv overrides file values from WARDEN_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("WARDEN_HTTP_PORT"); v != "" {
		cfg.Server.HTTPPort = v
	}
	if v := os.Getenv("WARDEN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Server.PostgresDSN = v
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		cfg.Server.ClickHouseDSN = v
	}
	if v := os.Getenv("WARDEN_PATTERNS_FILE"); v != "" {
		cfg.Scanner.PatternsFile = v
	}
	if v := os.Getenv("WARDEN_CLASSIFIER_ENDPOINT"); v != "" {
		cfg.Scanner.ClassifierEndpoint = v
		cfg.Scanner.EnableLLMGuard = true
	}
	if v := os.Getenv("WARDEN_MAX_INPUT_LENGTH"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Scanner.MaxInputLength = i
		}
	}
	if v := os.Getenv("WARDEN_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Oversight.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("WARDEN_AMOUNT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Oversight.AmountThreshold = f
		}
	}
	if v := os.Getenv("WARDEN_SAMPLE_RATE_TIER_2"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Oversight.SampleRateTier2 = f
		}
	}
}

// Validate checks every field eagerly so bad configuration is caught
// at startup, not at first use.
func (c *Config) Validate() error {
	if c.Server.HTTPPort == "" {
		return &ConfigurationError{Field: "server.http_port", Reason: "must not be empty"}
	}
	if c.Scanner.MaxInputLength <= 0 {
		return &ConfigurationError{Field: "scanner.max_input_length", Reason: "must be positive"}
	}
	if c.Scanner.ClassifierTimeoutMs <= 0 {
		return &ConfigurationError{Field: "scanner.classifier_timeout_ms", Reason: "must be positive"}
	}
	if c.Scanner.EnableLLMGuard && c.Scanner.ClassifierEndpoint == "" {
		return &ConfigurationError{Field: "scanner.classifier_endpoint", Reason: "required when enable_llm_guard is true"}
	}
	if c.Oversight.ConfidenceThreshold < 0 || c.Oversight.ConfidenceThreshold > 1 {
		return &ConfigurationError{Field: "oversight.confidence_threshold", Reason: "must be in [0,1]"}
	}
	if c.Oversight.AmountThreshold < 0 {
		return &ConfigurationError{Field: "oversight.amount_threshold", Reason: "must be non-negative"}
	}
	if c.Oversight.SampleRateTier2 < 0 || c.Oversight.SampleRateTier2 > 1 {
		return &ConfigurationError{Field: "oversight.sample_rate_tier_2", Reason: "must be in [0,1]"}
	}
	switch c.Oversight.DefaultTier {
	case "tier_1_high", "tier_2_medium", "tier_3_low":
	default:
		return &ConfigurationError{Field: "oversight.default_tier", Reason: "unknown tier " + c.Oversight.DefaultTier}
	}
	return nil
}

// AuthCacheTTL returns the auth cache TTL as a duration.
func (c *Config) AuthCacheTTL() time.Duration {
	return time.Duration(c.Server.AuthCacheTTLs) * time.Second
}

// ClassifierTimeout returns the Layer 3 classifier timeout as a duration.
func (c *Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.Scanner.ClassifierTimeoutMs) * time.Millisecond
}
