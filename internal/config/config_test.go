package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ticks != 12 || cfg.MessageQuota != 2 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if len(cfg.Guardrails) != 3 {
		t.Fatalf("guardrails = %+v", cfg.Guardrails)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polis.yaml")
	doc := `
ticks: 30
seed: 7
agreement_policy: unanimous
guardrails:
  - name: min_stability
    variable: State.stability
    floor: 0.25
provider:
  max_concurrent: 2
  abort_after_failures: 5
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ticks != 30 || cfg.Seed != 7 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if string(cfg.Policy()) != "unanimous" {
		t.Fatalf("policy = %q", cfg.Policy())
	}
	if len(cfg.Guardrails) != 1 || cfg.Guardrails[0].Floor != 0.25 {
		t.Fatalf("guardrails = %+v", cfg.Guardrails)
	}
	if cfg.Provider.MaxConcurrent != 2 || cfg.Provider.AbortAfterFailures != 5 {
		t.Fatalf("provider = %+v", cfg.Provider)
	}
	// Unset provider fields keep their defaults.
	if cfg.Provider.CallTimeoutSeconds != 30 {
		t.Fatalf("call_timeout_seconds = %d", cfg.Provider.CallTimeoutSeconds)
	}
}

func TestLoad_RejectsBadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polis.yaml")
	if err := os.WriteFile(path, []byte("agreement_policy: majority\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unknown policy")
	}
}

func TestValidate_RejectsZeroTicks(t *testing.T) {
	cfg := Default()
	cfg.Ticks = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero ticks")
	}
}
