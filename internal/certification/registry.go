package certification

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Registry persists Skills, Job Roles, and Agent Type Definitions. It
// shares the dual sqlite/postgres convention used by the audit store: ?
// placeholders are rewritten to $N when isPostgres is set.
type Registry struct {
	db         *sql.DB
	isPostgres bool
}

// NewRegistry creates a Registry using an already-open database connection.
func NewRegistry(db *sql.DB, isPostgres bool) (*Registry, error) {
	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("create certification tables: %w", err)
	}
	return &Registry{db: db, isPostgres: isPostgres}, nil
}

func rebind(isPostgres bool, query string) string {
	if !isPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS skills (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version INTEGER NOT NULL,
		description TEXT,
		input_schema TEXT,
		tags TEXT,
		metadata TEXT,
		status TEXT NOT NULL DEFAULT 'certified',
		definition_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_skills_name ON skills(name);

	CREATE TABLE IF NOT EXISTS job_roles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version INTEGER NOT NULL,
		description TEXT,
		skill_ids TEXT,
		definition_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_job_roles_name ON job_roles(name);

	CREATE TABLE IF NOT EXISTS agent_type_definitions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version INTEGER NOT NULL,
		description TEXT,
		job_role_ids TEXT,
		model_vendor TEXT,
		model_name TEXT,
		status TEXT NOT NULL DEFAULT 'certified',
		definition_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_atd_name ON agent_type_definitions(name);
	`
	_, err := db.Exec(schema)
	return err
}

// RegisterSkill registers a skill, classifying it against the latest
// version already on file under the same name.
func (r *Registry) RegisterSkill(ctx context.Context, s Skill) (RegistrationResult, error) {
	existing, err := r.latestSkillsByName(ctx, s.Name)
	if err != nil {
		return RegistrationResult{}, err
	}

	cmp := classifySkill(existing, s)
	switch cmp {
	case ComparisonIdentical:
		latest := existing[len(existing)-1]
		return RegistrationResult{ID: latest.ID, Version: latest.Version, Comparison: cmp}, nil
	case ComparisonDifferent:
		return RegistrationResult{}, fmt.Errorf("skill %q already exists with incompatible capabilities: register under a new name or bump version explicitly", s.Name)
	}

	s.ID = "skl_" + uuid.New().String()[:8]
	s.Version = 1
	s.Status = SkillCertified
	if len(existing) > 0 {
		latest := existing[len(existing)-1]
		s.Version = latest.Version + 1
		if cmp == ComparisonImproved {
			s.Supersedes = latest.ID
		}
	}
	s.CreatedAt = time.Now().UTC()

	defJSON, _ := json.Marshal(s)
	tagsJSON, _ := json.Marshal(s.Tags)
	metaJSON, _ := json.Marshal(s.Metadata)

	_, err = r.db.ExecContext(ctx, rebind(r.isPostgres, `
		INSERT INTO skills (id, name, version, description, input_schema, tags, metadata, status, definition_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), s.ID, s.Name, s.Version, s.Description, s.InputSchema, string(tagsJSON), string(metaJSON), string(s.Status), string(defJSON), s.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return RegistrationResult{}, fmt.Errorf("insert skill: %w", err)
	}

	// Improvement: retire the predecessor with a 30-day grace window and
	// mark every published agent type that names this skill as requiring
	// migration (§4.3 "deprecation propagates").
	if cmp == ComparisonImproved {
		latest := existing[len(existing)-1]
		if err := r.deprecateSkill(ctx, &latest, 30*24*time.Hour); err != nil {
			return RegistrationResult{}, fmt.Errorf("deprecate superseded skill: %w", err)
		}
		if err := r.markMigrationRequired(ctx, latest.Name); err != nil {
			return RegistrationResult{}, fmt.Errorf("propagate deprecation: %w", err)
		}
	}

	return RegistrationResult{ID: s.ID, Version: s.Version, Comparison: cmp}, nil
}

// deprecateSkill flips an existing skill's row to DEPRECATED, granting a
// grace window during which it is still considered certified for I5
// purposes.
func (r *Registry) deprecateSkill(ctx context.Context, s *Skill, grace time.Duration) error {
	s.Status = SkillDeprecated
	s.DeprecationGraceUntil = time.Now().UTC().Add(grace)
	defJSON, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, rebind(r.isPostgres, `
		UPDATE skills SET status = ?, definition_json = ? WHERE id = ?
	`), string(SkillDeprecated), string(defJSON), s.ID)
	return err
}

// markMigrationRequired flags every CERTIFIED agent type definition whose
// RequiredSkillKeys names skillName as MIGRATION_REQUIRED, so new hires
// against it are refused until it is republished against a certified
// replacement skill.
func (r *Registry) markMigrationRequired(ctx context.Context, skillName string) error {
	atds, err := r.allLatestAgentTypes(ctx)
	if err != nil {
		return err
	}
	for _, atd := range atds {
		if atd.Status == AgentTypeMigrationRequired {
			continue
		}
		for _, key := range atd.RequiredSkillKeys {
			if key != skillName {
				continue
			}
			atd.Status = AgentTypeMigrationRequired
			defJSON, err := json.Marshal(atd)
			if err != nil {
				return err
			}
			if _, err := r.db.ExecContext(ctx, rebind(r.isPostgres, `
				UPDATE agent_type_definitions SET status = ?, definition_json = ? WHERE id = ?
			`), string(AgentTypeMigrationRequired), string(defJSON), atd.ID); err != nil {
				return err
			}
			break
		}
	}
	return nil
}

// classifySkill compares a candidate against all prior versions under the
// same name and returns how it relates to the latest one.
func classifySkill(existing []Skill, candidate Skill) ComparisonResult {
	if len(existing) == 0 {
		return ComparisonNew
	}
	latest := existing[len(existing)-1]

	if latest.Description == candidate.Description && latest.InputSchema == candidate.InputSchema && sameStringSet(latest.Tags, candidate.Tags) {
		return ComparisonIdentical
	}
	// Improved: retains every tag of the prior version and adds at least one,
	// description/schema may be refined but not contradicted by a removed tag.
	if isSuperset(candidate.Tags, latest.Tags) && len(candidate.Tags) > len(latest.Tags) {
		return ComparisonImproved
	}
	return ComparisonDifferent
}

func (r *Registry) latestSkillsByName(ctx context.Context, name string) ([]Skill, error) {
	rows, err := r.db.QueryContext(ctx, rebind(r.isPostgres, `
		SELECT definition_json FROM skills WHERE name = ? ORDER BY version ASC
	`), name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Skill
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var s Skill
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSkill retrieves a skill by its immutable ID.
func (r *Registry) GetSkill(ctx context.Context, id string) (*Skill, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, rebind(r.isPostgres, `SELECT definition_json FROM skills WHERE id = ?`), id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("skill %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	var s Skill
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSkills returns every skill, latest version per name, unless
// includeAllVersions is set.
func (r *Registry) ListSkills(ctx context.Context, includeAllVersions bool) ([]Skill, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT definition_json FROM skills ORDER BY name, version ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byName := map[string][]Skill{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var s Skill
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, err
		}
		byName[s.Name] = append(byName[s.Name], s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []Skill
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		versions := byName[n]
		if includeAllVersions {
			out = append(out, versions...)
		} else {
			out = append(out, versions[len(versions)-1])
		}
	}
	return out, nil
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	return isSuperset(a, b) && isSuperset(b, a)
}

func isSuperset(superset, subset []string) bool {
	set := make(map[string]bool, len(superset))
	for _, s := range superset {
		set[s] = true
	}
	for _, s := range subset {
		if !set[s] {
			return false
		}
	}
	return true
}
