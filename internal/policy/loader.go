package policy

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// LoadFile loads a policy configuration from a YAML file, stamping every
// policy that does not declare its own layer with defaultLayer.
func LoadFile(path string, defaultLayer Layer) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Load(data, defaultLayer)
}

// Load parses policy configuration from YAML data. Environment variables
// of the form $VAR or ${VAR} are expanded before parsing, so a tenant's
// bundle can reference secrets without embedding them.
func Load(data []byte, defaultLayer Layer) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse policy YAML: %w", err)
	}

	for i := range cfg.Policies {
		if cfg.Policies[i].Layer == "" {
			cfg.Policies[i].Layer = defaultLayer
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate policy: %w", err)
	}

	sort.Slice(cfg.Policies, func(i, j int) bool {
		return cfg.Policies[i].Priority > cfg.Policies[j].Priority
	})

	return &cfg, nil
}

// validate checks the policy configuration for errors.
func validate(cfg *Config) error {
	if cfg.Version == "" {
		cfg.Version = "1"
	}

	seenNames := make(map[string]bool)
	for i, p := range cfg.Policies {
		if p.Name == "" {
			return fmt.Errorf("policy %d: name is required", i)
		}
		if seenNames[p.Name] {
			return fmt.Errorf("policy %d: duplicate name %q", i, p.Name)
		}
		seenNames[p.Name] = true

		if len(p.Resources) == 0 {
			return fmt.Errorf("policy %q: at least one resource is required", p.Name)
		}
		if len(p.Rules) == 0 {
			return fmt.Errorf("policy %q: at least one rule is required", p.Name)
		}

		for j, r := range p.Rules {
			if len(r.Action) == 0 {
				return fmt.Errorf("policy %q rule %d: action is required", p.Name, j)
			}
			if r.Effect == "" {
				return fmt.Errorf("policy %q rule %d: effect is required", p.Name, j)
			}
			if r.Effect != EffectAllow && r.Effect != EffectDeny && r.Effect != EffectRequireApproval {
				return fmt.Errorf("policy %q rule %d: invalid effect %q", p.Name, j, r.Effect)
			}
		}
	}

	return nil
}

// DefaultPlatformConfig returns the non-negotiable L0 platform safety
// policies carried by every tenant regardless of their own configuration:
// destructive actions always require approval, and nothing is ever
// allowed outright by this layer (it can only tighten).
func DefaultPlatformConfig() *Config {
	return &Config{
		Version: "1",
		Policies: []Policy{
			{
				Name:        "platform-destructive-requires-approval",
				Description: "Destructive actions always require approval, platform-wide",
				Layer:       LayerPlatform,
				Priority:    100,
				Resources:   []Resource{{Type: "skill"}, {Type: "tool"}},
				Rules: []Rule{
					{
						Action:     ActionMatcher{ActionDestructive},
						Effect:     EffectRequireApproval,
						Conditions: &Conditions{RequireApproval: true, ApprovalQuorum: 1},
						Message:    "destructive actions require approval under platform policy",
					},
				},
			},
		},
	}
}

// DefaultTenantConfig returns a minimal starter L1 policy configuration for
// a tenant that has not yet configured its own bundle.
func DefaultTenantConfig() *Config {
	return &Config{
		Version: "1",
		Policies: []Policy{
			{
				Name:        "default-allow-read",
				Description: "Allow all read operations by default",
				Layer:       LayerTenant,
				Resources:   []Resource{{Type: "skill"}, {Type: "tool"}},
				Rules: []Rule{
					{Action: ActionMatcher{ActionRead}, Effect: EffectAllow},
					{Action: ActionMatcher{ActionWrite}, Effect: EffectRequireApproval, Message: "write operations require approval"},
					{Action: ActionMatcher{ActionDestructive}, Effect: EffectDeny, Message: "destructive operations are not allowed by default tenant policy"},
				},
			},
		},
	}
}
