// Package toolregistry loads the inventory of skill-executor agents a
// ToolAdapter may dispatch Act-phase calls to: for each skill_key, the
// A2A agent-card endpoint that serves it and the tags used for basic
// routing/filtering decisions.
package toolregistry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Endpoint is one registered skill-executor agent.
type Endpoint struct {
	SkillKey string   `json:"skill_key"`
	BaseURL  string   `json:"base_url"`
	Tags     []string `json:"tags,omitempty"`
}

// Config holds the full skill-executor inventory.
type Config struct {
	Endpoints map[string]Endpoint `json:"endpoints"` // keyed by skill_key
}

// Load reads a tool registry inventory from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool registry config file: %v", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse tool registry config: %v", err)
	}

	return &cfg, nil
}

// BaseURLs flattens the registry into the skill_key -> base_url map
// execution.NewA2AToolAdapter consumes.
func (c *Config) BaseURLs() map[string]string {
	if c == nil {
		return nil
	}
	out := make(map[string]string, len(c.Endpoints))
	for key, ep := range c.Endpoints {
		out[key] = ep.BaseURL
	}
	return out
}

// WithTag returns the skill keys whose endpoint carries the given tag, e.g.
// "read-only" to restrict a low-trust agent type to non-mutating skills.
func (c *Config) WithTag(tag string) []string {
	if c == nil {
		return nil
	}
	var keys []string
	for key, ep := range c.Endpoints {
		for _, t := range ep.Tags {
			if t == tag {
				keys = append(keys, key)
				break
			}
		}
	}
	return keys
}

// Summary returns a human-readable description of the registered endpoints.
func (c *Config) Summary() string {
	if c == nil || len(c.Endpoints) == 0 {
		return "No skill-executor endpoints registered."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Tool registry: %d endpoint(s)\n", len(c.Endpoints)))
	for key, ep := range c.Endpoints {
		sb.WriteString(fmt.Sprintf("  - %s -> %s (tags: %s)\n", key, ep.BaseURL, strings.Join(ep.Tags, ", ")))
	}
	return sb.String()
}
