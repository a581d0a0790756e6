package certification

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RegisterJobRole registers a job role, resolving SkillNames to SkillIDs
// against the current registry. Unknown skill names are rejected outright
// — a job role can never certify a skill that doesn't exist yet.
func (r *Registry) RegisterJobRole(ctx context.Context, jr JobRole) (RegistrationResult, error) {
	ids := make([]string, 0, len(jr.SkillNames))
	for _, name := range jr.SkillNames {
		skills, err := r.latestSkillsByName(ctx, name)
		if err != nil {
			return RegistrationResult{}, err
		}
		if len(skills) == 0 {
			return RegistrationResult{}, fmt.Errorf("job role %q references unknown skill %q", jr.Name, name)
		}
		ids = append(ids, skills[len(skills)-1].ID)
	}
	jr.SkillIDs = ids

	existing, err := r.latestJobRolesByName(ctx, jr.Name)
	if err != nil {
		return RegistrationResult{}, err
	}
	cmp := classifyJobRole(existing, jr)
	switch cmp {
	case ComparisonIdentical:
		latest := existing[len(existing)-1]
		return RegistrationResult{ID: latest.ID, Version: latest.Version, Comparison: cmp}, nil
	case ComparisonDifferent:
		return RegistrationResult{}, fmt.Errorf("job role %q already exists with incompatible skill set: register under a new name or bump version explicitly", jr.Name)
	}

	jr.ID = "role_" + uuid.New().String()[:8]
	jr.Version = 1
	if len(existing) > 0 {
		jr.Version = existing[len(existing)-1].Version + 1
	}
	jr.CreatedAt = time.Now().UTC()

	defJSON, _ := json.Marshal(jr)
	skillIDsJSON, _ := json.Marshal(jr.SkillIDs)

	_, err = r.db.ExecContext(ctx, rebind(r.isPostgres, `
		INSERT INTO job_roles (id, name, version, description, skill_ids, definition_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), jr.ID, jr.Name, jr.Version, jr.Description, string(skillIDsJSON), string(defJSON), jr.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return RegistrationResult{}, fmt.Errorf("insert job role: %w", err)
	}

	return RegistrationResult{ID: jr.ID, Version: jr.Version, Comparison: cmp}, nil
}

func classifyJobRole(existing []JobRole, candidate JobRole) ComparisonResult {
	if len(existing) == 0 {
		return ComparisonNew
	}
	latest := existing[len(existing)-1]
	if latest.Description == candidate.Description && sameStringSet(latest.SkillIDs, candidate.SkillIDs) {
		return ComparisonIdentical
	}
	if isSuperset(candidate.SkillIDs, latest.SkillIDs) && len(candidate.SkillIDs) > len(latest.SkillIDs) {
		return ComparisonImproved
	}
	return ComparisonDifferent
}

func (r *Registry) latestJobRolesByName(ctx context.Context, name string) ([]JobRole, error) {
	rows, err := r.db.QueryContext(ctx, rebind(r.isPostgres, `
		SELECT definition_json FROM job_roles WHERE name = ? ORDER BY version ASC
	`), name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRole
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var jr JobRole
		if err := json.Unmarshal([]byte(raw), &jr); err != nil {
			return nil, err
		}
		out = append(out, jr)
	}
	return out, rows.Err()
}

// GetJobRole retrieves a job role by its immutable ID.
func (r *Registry) GetJobRole(ctx context.Context, id string) (*JobRole, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, rebind(r.isPostgres, `SELECT definition_json FROM job_roles WHERE id = ?`), id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job role %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	var jr JobRole
	if err := json.Unmarshal([]byte(raw), &jr); err != nil {
		return nil, err
	}
	return &jr, nil
}

// RegisterAgentType registers an agent type definition, resolving
// JobRoleNames to JobRoleIDs.
func (r *Registry) RegisterAgentType(ctx context.Context, atd AgentTypeDefinition) (RegistrationResult, error) {
	ids := make([]string, 0, len(atd.JobRoleNames))
	for _, name := range atd.JobRoleNames {
		roles, err := r.latestJobRolesByName(ctx, name)
		if err != nil {
			return RegistrationResult{}, err
		}
		if len(roles) == 0 {
			return RegistrationResult{}, fmt.Errorf("agent type %q references unknown job role %q", atd.Name, name)
		}
		ids = append(ids, roles[len(roles)-1].ID)
	}
	atd.JobRoleIDs = ids

	// I5: every required_skill_key must resolve to a CERTIFIED (non-expired,
	// non-deprecated-past-grace) skill at publish time.
	if err := r.validateRequiredSkillKeys(ctx, atd.Name, atd.RequiredSkillKeys); err != nil {
		return RegistrationResult{}, err
	}

	existing, err := r.latestAgentTypesByName(ctx, atd.Name)
	if err != nil {
		return RegistrationResult{}, err
	}
	cmp := classifyAgentType(existing, atd)
	switch cmp {
	case ComparisonIdentical:
		latest := existing[len(existing)-1]
		return RegistrationResult{ID: latest.ID, Version: latest.Version, Comparison: cmp}, nil
	case ComparisonDifferent:
		return RegistrationResult{}, fmt.Errorf("agent type %q already exists with incompatible definition: register under a new name or bump version explicitly", atd.Name)
	}

	atd.ID = "atd_" + uuid.New().String()[:8]
	atd.Version = 1
	atd.Status = AgentTypeCertified
	if len(existing) > 0 {
		atd.Version = existing[len(existing)-1].Version + 1
	}
	atd.CreatedAt = time.Now().UTC()

	defJSON, _ := json.Marshal(atd)
	roleIDsJSON, _ := json.Marshal(atd.JobRoleIDs)

	_, err = r.db.ExecContext(ctx, rebind(r.isPostgres, `
		INSERT INTO agent_type_definitions (id, name, version, description, job_role_ids, model_vendor, model_name, status, definition_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), atd.ID, atd.Name, atd.Version, atd.Description, string(roleIDsJSON), atd.ModelVendor, atd.ModelName, string(atd.Status), string(defJSON), atd.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return RegistrationResult{}, fmt.Errorf("insert agent type definition: %w", err)
	}

	return RegistrationResult{ID: atd.ID, Version: atd.Version, Comparison: cmp}, nil
}

func classifyAgentType(existing []AgentTypeDefinition, candidate AgentTypeDefinition) ComparisonResult {
	if len(existing) == 0 {
		return ComparisonNew
	}
	latest := existing[len(existing)-1]
	if latest.ModelVendor == candidate.ModelVendor && latest.ModelName == candidate.ModelName && sameStringSet(latest.JobRoleIDs, candidate.JobRoleIDs) {
		return ComparisonIdentical
	}
	if isSuperset(candidate.JobRoleIDs, latest.JobRoleIDs) && len(candidate.JobRoleIDs) > len(latest.JobRoleIDs) {
		return ComparisonImproved
	}
	return ComparisonDifferent
}

func (r *Registry) latestAgentTypesByName(ctx context.Context, name string) ([]AgentTypeDefinition, error) {
	rows, err := r.db.QueryContext(ctx, rebind(r.isPostgres, `
		SELECT definition_json FROM agent_type_definitions WHERE name = ? ORDER BY version ASC
	`), name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AgentTypeDefinition
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var atd AgentTypeDefinition
		if err := json.Unmarshal([]byte(raw), &atd); err != nil {
			return nil, err
		}
		out = append(out, atd)
	}
	return out, rows.Err()
}

// validateRequiredSkillKeys enforces I5: every key must resolve to a skill
// that is certified (or deprecated but still inside its grace window) as of
// now. atdName is used only to produce a readable error.
func (r *Registry) validateRequiredSkillKeys(ctx context.Context, atdName string, keys []string) error {
	now := time.Now().UTC()
	for _, key := range keys {
		skills, err := r.latestSkillsByName(ctx, key)
		if err != nil {
			return err
		}
		if len(skills) == 0 {
			return fmt.Errorf("agent type %q requires unknown skill %q", atdName, key)
		}
		latest := skills[len(skills)-1]
		if !latest.IsCertifiedAt(now) {
			return fmt.Errorf("agent type %q requires skill %q which is deprecated past its grace period", atdName, key)
		}
	}
	return nil
}

// CheckHireEligible reports whether an agent type definition may still be
// hired against: it must exist and must not be MIGRATION_REQUIRED (§4.3 —
// "new hires are refused" once a required skill is deprecated; the flag is
// set as soon as the skill is superseded, not when its grace window ends).
func (r *Registry) CheckHireEligible(ctx context.Context, agentTypeID string) (*AgentTypeDefinition, error) {
	atd, err := r.GetAgentType(ctx, agentTypeID)
	if err != nil {
		return nil, err
	}
	if atd.Status == AgentTypeMigrationRequired {
		return atd, fmt.Errorf("agent type %s requires migration: a required skill was deprecated, republish against a certified replacement before hiring", agentTypeID)
	}
	return atd, nil
}

// allLatestAgentTypes returns the latest version of every agent type
// definition on file, regardless of name, for deprecation-propagation scans.
func (r *Registry) allLatestAgentTypes(ctx context.Context) ([]AgentTypeDefinition, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT definition_json FROM agent_type_definitions ORDER BY name, version ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byName := map[string]AgentTypeDefinition{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var atd AgentTypeDefinition
		if err := json.Unmarshal([]byte(raw), &atd); err != nil {
			return nil, err
		}
		byName[atd.Name] = atd // rows arrive version-ascending, so the last write per name is the latest
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]AgentTypeDefinition, 0, len(byName))
	for _, atd := range byName {
		out = append(out, atd)
	}
	return out, nil
}

// GetAgentType retrieves an agent type definition by its immutable ID, the
// authoritative identifier used to resolve naming ambiguity between an
// agent type's display name and its certified identity.
func (r *Registry) GetAgentType(ctx context.Context, id string) (*AgentTypeDefinition, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, rebind(r.isPostgres, `SELECT definition_json FROM agent_type_definitions WHERE id = ?`), id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent type %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	var atd AgentTypeDefinition
	if err := json.Unmarshal([]byte(raw), &atd); err != nil {
		return nil, err
	}
	return &atd, nil
}
