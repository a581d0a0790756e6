package certification

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Bundle is a seed catalog of skills, job roles, and agent types loaded
// from YAML at startup, following the same os.ExpandEnv + yaml.v3
// convention used to load policy bundles.
type Bundle struct {
	Skills     []Skill               `yaml:"skills"`
	JobRoles   []JobRole             `yaml:"job_roles"`
	AgentTypes []AgentTypeDefinition `yaml:"agent_types"`
}

// LoadBundleFile loads a certification seed bundle from a YAML file.
func LoadBundleFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read certification bundle: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var b Bundle
	if err := yaml.Unmarshal([]byte(expanded), &b); err != nil {
		return nil, fmt.Errorf("parse certification bundle: %w", err)
	}
	return &b, nil
}

// Seed registers every definition in the bundle in dependency order
// (skills, then job roles, then agent types) so forward references to a
// not-yet-registered skill or role fail fast with a clear error.
func (r *Registry) Seed(ctx context.Context, b *Bundle) error {
	for _, s := range b.Skills {
		if _, err := r.RegisterSkill(ctx, s); err != nil {
			return fmt.Errorf("seed skill %q: %w", s.Name, err)
		}
	}
	for _, jr := range b.JobRoles {
		if _, err := r.RegisterJobRole(ctx, jr); err != nil {
			return fmt.Errorf("seed job role %q: %w", jr.Name, err)
		}
	}
	for _, atd := range b.AgentTypes {
		if _, err := r.RegisterAgentType(ctx, atd); err != nil {
			return fmt.Errorf("seed agent type %q: %w", atd.Name, err)
		}
	}
	return nil
}
