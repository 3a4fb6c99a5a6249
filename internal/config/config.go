// Package config loads the run configuration from YAML and fills in
// defaults. The engine receives this as an immutable value at
// construction; nothing reads configuration globally.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/polis/internal/arbiter"
	"github.com/talgya/polis/internal/coord"
)

// Epsilon holds the negligible-change thresholds.
type Epsilon struct {
	Absolute float64 `yaml:"absolute"`
	Relative float64 `yaml:"relative"`
}

// Provider configures the generative decision provider boundary.
type Provider struct {
	Model              string `yaml:"model"`
	APIKeyEnv          string `yaml:"api_key_env"`
	MaxConcurrent      int    `yaml:"max_concurrent"`
	CallTimeoutSeconds int    `yaml:"call_timeout_seconds"`
	MaxPerMinute       int    `yaml:"max_per_minute"`
	AbortAfterFailures int    `yaml:"abort_after_failures"`
}

// CallTimeout returns the per-call deadline.
func (p Provider) CallTimeout() time.Duration {
	return time.Duration(p.CallTimeoutSeconds) * time.Second
}

// Config is the full configuration surface of a run.
type Config struct {
	Ticks           int                `yaml:"ticks"`
	Seed            int64              `yaml:"seed"`
	RunDir          string             `yaml:"run_dir"`
	DBPath          string             `yaml:"db_path"`
	MessageQuota    int                `yaml:"message_quota"`
	AgreementPolicy string             `yaml:"agreement_policy"`
	Epsilon         Epsilon            `yaml:"epsilon"`
	Guardrails      []arbiter.Guardrail `yaml:"guardrails"`
	Provider        Provider           `yaml:"provider"`
}

// Default returns the built-in configuration, matching a small
// twelve-tick run.
func Default() Config {
	return Config{
		Ticks:           12,
		Seed:            42,
		RunDir:          "runs",
		DBPath:          "data/polis.db",
		MessageQuota:    2,
		AgreementPolicy: string(coord.PolicyPerAcceptor),
		Epsilon:         Epsilon{Absolute: 1e-4, Relative: 1e-3},
		Guardrails: []arbiter.Guardrail{
			{Name: "min_stability", Variable: "State.stability", Floor: 0.30},
			{Name: "min_legitimacy", Variable: "State.legitimacy", Floor: 0.30},
			{Name: "min_food", Variable: "Resources.food", Floor: 50},
		},
		Provider: Provider{
			Model:              "claude-haiku-4-5-20251001",
			APIKeyEnv:          "ANTHROPIC_API_KEY",
			MaxConcurrent:      4,
			CallTimeoutSeconds: 30,
			MaxPerMinute:       20,
			AbortAfterFailures: 3,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Policy returns the typed agreement resolution policy.
func (c Config) Policy() coord.Policy { return coord.Policy(c.AgreementPolicy) }

func (c Config) Validate() error {
	if c.Ticks <= 0 {
		return fmt.Errorf("ticks must be positive, got %d", c.Ticks)
	}
	if c.MessageQuota < 0 {
		return fmt.Errorf("message_quota must be non-negative, got %d", c.MessageQuota)
	}
	switch coord.Policy(c.AgreementPolicy) {
	case coord.PolicyPerAcceptor, coord.PolicyUnanimous:
	default:
		return fmt.Errorf("agreement_policy must be %q or %q, got %q",
			coord.PolicyPerAcceptor, coord.PolicyUnanimous, c.AgreementPolicy)
	}
	if c.Epsilon.Absolute < 0 || c.Epsilon.Relative < 0 {
		return fmt.Errorf("epsilon thresholds must be non-negative")
	}
	for _, g := range c.Guardrails {
		if g.Name == "" || g.Variable == "" {
			return fmt.Errorf("guardrail needs both name and variable: %+v", g)
		}
	}
	if c.Provider.MaxConcurrent <= 0 {
		return fmt.Errorf("provider.max_concurrent must be positive")
	}
	if c.Provider.CallTimeoutSeconds <= 0 {
		return fmt.Errorf("provider.call_timeout_seconds must be positive")
	}
	if c.Provider.AbortAfterFailures <= 0 {
		return fmt.Errorf("provider.abort_after_failures must be positive")
	}
	return nil
}
