// Package certification implements the certification registry: the
// catalog of Skills, Job Roles, and Agent Type Definitions an agent
// instance must be certified against before it can be hired. Every
// definition gets an immutable ID on first registration; re-registering the
// same name is classified as identical, different, or improved relative to
// the latest version on file.
package certification

import "time"

// SkillStatus is a skill's certification lifecycle state.
type SkillStatus string

const (
	SkillCertified  SkillStatus = "certified"
	SkillDeprecated SkillStatus = "deprecated"
)

// Skill is the smallest certifiable unit of capability: a single
// tool/operation an agent instance may be authorized to invoke.
type Skill struct {
	ID          string            `json:"id" yaml:"-"`
	Name        string            `json:"name" yaml:"name"`
	Version     int               `json:"version" yaml:"-"`
	Description string            `json:"description" yaml:"description"`
	InputSchema string            `json:"input_schema,omitempty" yaml:"input_schema,omitempty"` // JSON Schema, stored as text
	Tags        []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Status starts CERTIFIED and flips to DEPRECATED when a later
	// version of the same name is registered as an improvement.
	// Supersedes names the predecessor ID that introduced this version (set
	// on the improving skill, not the deprecated one); DeprecationGraceUntil
	// is the 30-day window after which a deprecated skill's supersede can no
	// longer be referenced by a new hire.
	Status                 SkillStatus `json:"status" yaml:"-"`
	Supersedes             string      `json:"supersedes,omitempty" yaml:"-"`
	DeprecationGraceUntil  time.Time   `json:"deprecation_grace_until,omitempty" yaml:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// IsCertifiedAt reports whether the skill is usable at time now: CERTIFIED,
// or DEPRECATED but still inside its 30-day grace window.
func (s *Skill) IsCertifiedAt(now time.Time) bool {
	if s.Status == SkillCertified {
		return true
	}
	return s.Status == SkillDeprecated && !s.DeprecationGraceUntil.IsZero() && now.Before(s.DeprecationGraceUntil)
}

// JobRole bundles skills into a role an agent instance can be certified
// for, e.g. "database-read-operator".
type JobRole struct {
	ID          string    `json:"id" yaml:"-"`
	Name        string    `json:"name" yaml:"name"`
	Version     int       `json:"version" yaml:"-"`
	Description string    `json:"description" yaml:"description"`
	SkillNames  []string  `json:"skill_names" yaml:"skills"` // resolved to SkillIDs at registration time
	SkillIDs    []string  `json:"skill_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

// AgentTypeStatus tracks whether an agent type definition is safe to hire
// against right now.
type AgentTypeStatus string

const (
	AgentTypeCertified        AgentTypeStatus = "certified"
	AgentTypeMigrationRequired AgentTypeStatus = "migration_required"
)

// EnforcementDefaults are the governance defaults a new instance of this
// agent type inherits unless its own config overrides them.
type EnforcementDefaults struct {
	ApprovalRequired bool `json:"approval_required" yaml:"approval_required"`
	Deterministic    bool `json:"deterministic" yaml:"deterministic"`
}

// AgentTypeDefinition names a concrete, instantiable agent configuration:
// which job roles/skills it is certified for, which model backs its Think
// phase, and the config schema/goal templates a hired instance must satisfy.
type AgentTypeDefinition struct {
	ID           string   `json:"id" yaml:"-"`
	Name         string   `json:"name" yaml:"name"`
	Version      int      `json:"version" yaml:"-"`
	Description  string   `json:"description" yaml:"description"`
	JobRoleNames []string `json:"job_role_names" yaml:"job_roles"`
	JobRoleIDs   []string `json:"job_role_ids"`

	// RequiredSkillKeys are skill names that must resolve to a CERTIFIED
	// skill at publish time (I5); distinct from JobRoleNames, which bundle
	// skills indirectly through a Job Role.
	RequiredSkillKeys []string `json:"required_skill_keys" yaml:"required_skill_keys"`
	// ConfigSchema is a JSON Schema (stored as text) a hired instance's
	// config must validate against before it can leave draft.
	ConfigSchema string `json:"config_schema,omitempty" yaml:"config_schema,omitempty"`
	// GoalTemplates names the goal templates instances of this type may be
	// posted against.
	GoalTemplates       []string            `json:"goal_templates,omitempty" yaml:"goal_templates,omitempty"`
	EnforcementDefaults EnforcementDefaults `json:"enforcement_defaults" yaml:"enforcement_defaults"`

	ModelVendor string `json:"model_vendor" yaml:"model_vendor"` // anthropic, google
	ModelName   string `json:"model_name" yaml:"model_name"`

	// Status flips to MIGRATION_REQUIRED when a skill this definition
	// requires is deprecated; new hires against a migration-required
	// definition are refused until it is republished against a certified
	// replacement.
	Status AgentTypeStatus `json:"status" yaml:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// ComparisonResult classifies how a re-registered definition relates to the
// latest version already on file under the same name.
type ComparisonResult string

const (
	// ComparisonIdentical means the submitted definition matches the latest
	// version on the fields the classifier compares (a skill's description,
	// input schema and tag set; a job role's description and skill set; an
	// agent type's model vendor, model name and job-role set): no new
	// version is created, the existing ID is returned.
	ComparisonIdentical ComparisonResult = "identical"
	// ComparisonImproved means the submission is a strict superset of the
	// previous version's capabilities (e.g. all prior tags/skills retained,
	// plus new ones added): a new version is created automatically.
	ComparisonImproved ComparisonResult = "improved"
	// ComparisonDifferent means the submission changes or removes existing
	// capabilities under the same name: registration is rejected, the
	// caller must either version explicitly or pick a new name.
	ComparisonDifferent ComparisonResult = "different"
	// ComparisonNew means no prior definition existed under this name.
	ComparisonNew ComparisonResult = "new"
)

// RegistrationResult reports the outcome of a Register* call.
type RegistrationResult struct {
	ID         string
	Version    int
	Comparison ComparisonResult
}
