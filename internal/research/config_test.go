package research

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	for _, name := range []string{"test", "fast", "accurate", "distributed"} {
		if _, err := cfg.Profile(name); err != nil {
			t.Fatalf("expected built-in profile %q: %v", name, err)
		}
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.DefaultProfile != "fast" {
		t.Fatalf("default profile = %q, want fast", cfg.DefaultProfile)
	}
	if cfg.Research.MaxContextWindow != 128000 {
		t.Fatalf("max context window = %d, want 128000", cfg.Research.MaxContextWindow)
	}
}

func TestLoadConfigOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
default_profile: test
research:
  max_iterations: 2
  evidence_target: 4
`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DefaultProfile != "test" {
		t.Fatalf("default profile = %q, want test", cfg.DefaultProfile)
	}
	if cfg.Research.MaxIterations != 2 {
		t.Fatalf("max iterations = %d, want 2", cfg.Research.MaxIterations)
	}
	if cfg.Research.EvidenceTarget != 4 {
		t.Fatalf("evidence target = %d, want 4", cfg.Research.EvidenceTarget)
	}
	// Untouched knobs keep their defaults.
	if cfg.Research.MaxDraftAttempts != 3 {
		t.Fatalf("max draft attempts = %d, want default 3", cfg.Research.MaxDraftAttempts)
	}
}

func TestLoadConfigClampsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
research:
  max_iterations: -1
  spawn:
    budget_fraction: 2.5
`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Research.MaxIterations != 5 {
		t.Fatalf("max iterations = %d, want clamped default 5", cfg.Research.MaxIterations)
	}
	if cfg.Research.Spawn.BudgetFraction != 0.5 {
		t.Fatalf("budget fraction = %v, want clamped default 0.5", cfg.Research.Spawn.BudgetFraction)
	}
}

func TestUnknownProfileIsConfigError(t *testing.T) {
	cfg := DefaultConfig()
	_, err := cfg.Profile("nope")
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("unknown profile err = %v, want ConfigError", err)
	}
	if _, err := cfg.BuildGateway("nope", zerolog.Nop()); !errors.As(err, &ce) {
		t.Fatalf("BuildGateway with unknown profile err = %v, want ConfigError", err)
	}
}

func TestUnknownBackendKindFailsValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles["bad"] = Profile{Backend: "quantum", Gate: defaultGate()}
	var ce *ConfigError
	if err := cfg.validate(); !errors.As(err, &ce) {
		t.Fatalf("unknown backend kind should fail validation, got %v", err)
	}
}

func TestRemoteBackendRequiresEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles["headless"] = Profile{Backend: BackendRemote, Gate: defaultGate()}
	var ce *ConfigError
	if err := cfg.validate(); !errors.As(err, &ce) {
		t.Fatalf("remote profile without endpoint should fail, got %v", err)
	}
}

func TestFallbackMustExistAndNotChain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles["p1"] = Profile{Backend: BackendMock, Fallback: "ghost", Gate: defaultGate()}
	var ce *ConfigError
	if err := cfg.validate(); !errors.As(err, &ce) {
		t.Fatalf("fallback to undefined profile should fail, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.Profiles["p1"] = Profile{Backend: BackendMock, Fallback: "p2", Gate: defaultGate()}
	cfg.Profiles["p2"] = Profile{Backend: BackendMock, Fallback: "test", Gate: defaultGate()}
	if err := cfg.validate(); !errors.As(err, &ce) {
		t.Fatalf("chained fallbacks should fail, got %v", err)
	}
}

func TestGatePolicyRejectsOutOfRangeThresholds(t *testing.T) {
	cfg := DefaultConfig()
	p := cfg.Profiles["fast"]
	p.Gate.EntailThreshold = 1.5
	cfg.Profiles["fast"] = p
	var ce *ConfigError
	if err := cfg.validate(); !errors.As(err, &ce) {
		t.Fatalf("threshold 1.5 should fail validation, got %v", err)
	}
}

func TestWeightedThresholdMustBeInRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles["fused"] = Profile{
		Backend: BackendMock,
		Gate: GateConfig{
			Combine:           CombineWeighted,
			EntailThreshold:   0.6,
			SpanRiskThreshold: 0.8,
			EntailWeight:      0.7,
			SpanWeight:        0.3,
			WeightedThreshold: 7,
		},
	}
	var ce *ConfigError
	if err := cfg.validate(); !errors.As(err, &ce) {
		t.Fatalf("weighted_threshold 7 should fail validation, got %v", err)
	}
}

func TestBuildGatewayWiresFallback(t *testing.T) {
	cfg := DefaultConfig()
	gw, err := cfg.BuildGateway("distributed", zerolog.Nop())
	if err != nil {
		t.Fatalf("build gateway: %v", err)
	}
	if gw.primary.Name() != "remote" {
		t.Fatalf("primary = %q, want remote", gw.primary.Name())
	}
	if gw.fallback == nil || gw.fallback.Name() != "direct" {
		t.Fatalf("distributed profile should carry the fast/direct fallback")
	}
}
