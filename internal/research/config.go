package research

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type BackendKind string

const (
	BackendMock   BackendKind = "mock"
	BackendDirect BackendKind = "direct"
	BackendRemote BackendKind = "remote"
)

// Profile selects a scoring backend kind and its connection parameters plus
// the gate thresholds active for a run.
type Profile struct {
	Backend BackendKind `yaml:"backend"`

	// Remote connection parameters.
	Endpoint    string `yaml:"endpoint,omitempty"`
	TimeoutMS   int    `yaml:"timeout_ms,omitempty"`
	MaxAttempts int    `yaml:"max_attempts,omitempty"`
	BackoffMS   int    `yaml:"backoff_ms,omitempty"`
	CredsEnv    string `yaml:"creds_env,omitempty"`

	// Fallback names another profile to consult when this backend fails
	// transiently after its retries.
	Fallback string `yaml:"fallback,omitempty"`

	Gate GateConfig `yaml:"gate"`
}

type GateConfig struct {
	Combine           CombineRule `yaml:"combine"`
	EntailThreshold   float64     `yaml:"entail_threshold"`
	SpanRiskThreshold float64     `yaml:"span_risk_threshold"`
	EntailWeight      float64     `yaml:"entail_weight,omitempty"`
	SpanWeight        float64     `yaml:"span_weight,omitempty"`
	WeightedThreshold float64     `yaml:"weighted_threshold,omitempty"`
}

// SpawnConfig holds the explicit spawn-policy constants: how many accepted
// summaries trigger a hypothesis child, and what fraction of the parent's
// remaining budget the child receives (the parent keeps the rest).
type SpawnConfig struct {
	MinSummaries   int     `yaml:"min_summaries"`
	BudgetFraction float64 `yaml:"budget_fraction"`
}

type ResearchConfig struct {
	MaxContextWindow    int         `yaml:"max_context_window"`
	MaxIterations       int         `yaml:"max_iterations"`
	MaxDraftAttempts    int         `yaml:"max_draft_attempts"`
	PapersPerIteration  int         `yaml:"papers_per_iteration"`
	EvidenceTarget      int         `yaml:"evidence_target"`
	HypothesesPerBatch  int         `yaml:"hypotheses_per_batch"`
	StopOnHypotheses    int         `yaml:"stop_on_hypotheses"`
	MinHypConfidence    float64     `yaml:"min_hypothesis_confidence"`
	Spawn               SpawnConfig `yaml:"spawn"`
}

type Config struct {
	DefaultProfile string             `yaml:"default_profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
	Research       ResearchConfig     `yaml:"research"`
}

func defaultGate() GateConfig {
	return GateConfig{
		Combine:           CombineStrictAnd,
		EntailThreshold:   0.6,
		SpanRiskThreshold: 0.8,
	}
}

func DefaultConfig() Config {
	return Config{
		DefaultProfile: "fast",
		Profiles: map[string]Profile{
			"test": {Backend: BackendMock, Gate: defaultGate()},
			"fast": {Backend: BackendDirect, Gate: defaultGate()},
			"accurate": {
				Backend: BackendDirect,
				Gate: GateConfig{
					Combine:           CombineStrictAnd,
					EntailThreshold:   0.75,
					SpanRiskThreshold: 0.6,
				},
			},
			"distributed": {
				Backend:     BackendRemote,
				Endpoint:    "http://127.0.0.1:8791/validate",
				TimeoutMS:   30000,
				MaxAttempts: 3,
				BackoffMS:   1000,
				Fallback:    "fast",
				Gate:        defaultGate(),
			},
		},
		Research: ResearchConfig{
			MaxContextWindow:   128000,
			MaxIterations:      5,
			MaxDraftAttempts:   3,
			PapersPerIteration: 5,
			EvidenceTarget:     5,
			HypothesesPerBatch: 3,
			MinHypConfidence:   0.3,
			Spawn:              SpawnConfig{MinSummaries: 3, BudgetFraction: 0.5},
		},
	}
}

// LoadConfig overlays a YAML file onto the defaults. A missing file is fine;
// a malformed file or an invalid resulting configuration is not.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, cfg.validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.validate()
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.clamp()
	return cfg, cfg.validate()
}

func (c *Config) clamp() {
	r := &c.Research
	if r.MaxContextWindow <= 0 {
		r.MaxContextWindow = 128000
	}
	if r.MaxIterations <= 0 {
		r.MaxIterations = 5
	}
	if r.MaxDraftAttempts <= 0 {
		r.MaxDraftAttempts = 3
	}
	if r.PapersPerIteration <= 0 {
		r.PapersPerIteration = 5
	}
	if r.HypothesesPerBatch <= 0 {
		r.HypothesesPerBatch = 3
	}
	if r.Spawn.MinSummaries <= 0 {
		r.Spawn.MinSummaries = 3
	}
	if r.Spawn.BudgetFraction <= 0 || r.Spawn.BudgetFraction >= 1 {
		r.Spawn.BudgetFraction = 0.5
	}
}

func (c *Config) validate() error {
	if len(c.Profiles) == 0 {
		return &ConfigError{Field: "profiles", Reason: "no profiles configured"}
	}
	if _, ok := c.Profiles[c.DefaultProfile]; !ok {
		return &ConfigError{Field: "default_profile", Reason: fmt.Sprintf("profile %q not defined", c.DefaultProfile)}
	}
	for name, p := range c.Profiles {
		switch p.Backend {
		case BackendMock, BackendDirect:
		case BackendRemote:
			if p.Endpoint == "" {
				return &ConfigError{Field: "profiles." + name + ".endpoint", Reason: "remote backend requires endpoint"}
			}
		default:
			return &ConfigError{Field: "profiles." + name + ".backend", Reason: fmt.Sprintf("unknown backend kind %q", p.Backend)}
		}
		if p.Fallback != "" {
			fb, ok := c.Profiles[p.Fallback]
			if !ok {
				return &ConfigError{Field: "profiles." + name + ".fallback", Reason: fmt.Sprintf("profile %q not defined", p.Fallback)}
			}
			if fb.Fallback != "" {
				return &ConfigError{Field: "profiles." + name + ".fallback", Reason: "fallback profiles cannot chain"}
			}
		}
		if err := p.Gate.policy().check(); err != nil {
			return err
		}
	}
	return nil
}

func (g GateConfig) policy() GatePolicy {
	combine := g.Combine
	if combine == "" {
		combine = CombineStrictAnd
	}
	return GatePolicy{
		Combine:           combine,
		EntailThreshold:   g.EntailThreshold,
		SpanRiskThreshold: g.SpanRiskThreshold,
		EntailWeight:      g.EntailWeight,
		SpanWeight:        g.SpanWeight,
		WeightedThreshold: g.WeightedThreshold,
	}
}

// Profile resolves a named profile; an unknown name is a configuration
// error, raised before any branch runs.
func (c Config) Profile(name string) (Profile, error) {
	if name == "" {
		name = c.DefaultProfile
	}
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, &ConfigError{Field: "profile", Reason: fmt.Sprintf("profile %q not defined", name)}
	}
	return p, nil
}

// BuildGateway instantiates the scorer stack for a named profile. Backends
// are constructed once at startup; the orchestrator only ever sees the
// Gateway interface surface.
func (c Config) BuildGateway(name string, log zerolog.Logger) (*Gateway, error) {
	p, err := c.Profile(name)
	if err != nil {
		return nil, err
	}
	primary, err := buildScorer(p, log)
	if err != nil {
		return nil, err
	}
	var fallback Scorer
	if p.Fallback != "" {
		fp, err := c.Profile(p.Fallback)
		if err != nil {
			return nil, err
		}
		fallback, err = buildScorer(fp, log)
		if err != nil {
			return nil, err
		}
	}
	return NewGateway(primary, fallback, p.Gate.policy(), log), nil
}

func buildScorer(p Profile, log zerolog.Logger) (Scorer, error) {
	switch p.Backend {
	case BackendMock:
		return &MockScorer{}, nil
	case BackendDirect:
		return NewDirectScorer(), nil
	case BackendRemote:
		return NewRemoteScorer(
			p.Endpoint,
			time.Duration(p.TimeoutMS)*time.Millisecond,
			p.MaxAttempts,
			time.Duration(p.BackoffMS)*time.Millisecond,
			log,
		), nil
	default:
		return nil, &ConfigError{Field: "backend", Reason: fmt.Sprintf("unknown backend kind %q", p.Backend)}
	}
}
