package certification

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// configSchema is the minimal JSON Schema subset a hired instance's config
// is validated against: the object's required properties and each
// property's declared type. Agent Type Definitions in this platform don't
// need arbitrary nested schemas — config is a flat settings bag — so this
// covers every schema the certification bundles actually declare instead of
// pulling in a general-purpose validator for a shape nothing here uses.
type configSchema struct {
	Required   []string                  `json:"required"`
	Properties map[string]schemaProperty `json:"properties"`
}

type schemaProperty struct {
	Type string `json:"type"` // "string", "number", "boolean", "array"
}

// ValidateConfig checks a candidate config document (a JSON object) against
// an Agent Type Definition's config_schema. An empty schema accepts any
// object. Violations are returned in full rather than stopping at the
// first one, matching the §6 contract's violations[] array.
func ValidateConfig(schema, config string) []string {
	if strings.TrimSpace(schema) == "" {
		return nil
	}

	var sch configSchema
	if err := json.Unmarshal([]byte(schema), &sch); err != nil {
		return []string{fmt.Sprintf("config_schema is not valid JSON: %v", err)}
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(config), &doc); err != nil {
		return []string{fmt.Sprintf("config is not a JSON object: %v", err)}
	}

	var violations []string
	for _, key := range sch.Required {
		if _, ok := doc[key]; !ok {
			violations = append(violations, fmt.Sprintf("missing required config field %q", key))
		}
	}

	propNames := make([]string, 0, len(sch.Properties))
	for name := range sch.Properties {
		propNames = append(propNames, name)
	}
	sort.Strings(propNames)
	for _, name := range propNames {
		val, ok := doc[name]
		if !ok {
			continue
		}
		if !matchesType(val, sch.Properties[name].Type) {
			violations = append(violations, fmt.Sprintf("config field %q must be of type %q", name, sch.Properties[name].Type))
		}
	}

	return violations
}

func matchesType(v any, want string) bool {
	switch want {
	case "", "any":
		return true
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}
