package certification

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "certification_test")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	db, err := sql.Open("sqlite", filepath.Join(tmpDir, "certification.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg, err := NewRegistry(db, false)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

func TestRegisterSkill_NewThenIdentical(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	s := Skill{Name: "research-healthcare-topics", Description: "survey recent publications for a topic", Tags: []string{"research", "read"}}
	res, err := reg.RegisterSkill(ctx, s)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.Comparison != ComparisonNew || res.Version != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	res2, err := reg.RegisterSkill(ctx, s)
	if err != nil {
		t.Fatalf("re-register identical: %v", err)
	}
	if res2.Comparison != ComparisonIdentical || res2.ID != res.ID {
		t.Fatalf("expected identical classification reusing ID, got %+v", res2)
	}
}

func TestRegisterSkill_ImprovedBumpsVersion(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	base := Skill{Name: "research-healthcare-topics", Description: "survey recent publications for a topic", Tags: []string{"research"}}
	if _, err := reg.RegisterSkill(ctx, base); err != nil {
		t.Fatalf("register base: %v", err)
	}

	improved := Skill{Name: "research-healthcare-topics", Description: "survey recent publications for a topic", Tags: []string{"research", "read"}}
	res, err := reg.RegisterSkill(ctx, improved)
	if err != nil {
		t.Fatalf("register improved: %v", err)
	}
	if res.Comparison != ComparisonImproved || res.Version != 2 {
		t.Fatalf("expected improved v2, got %+v", res)
	}
}

func TestRegisterSkill_DifferentRejected(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	base := Skill{Name: "research-healthcare-topics", Description: "survey recent publications for a topic", Tags: []string{"research", "read"}}
	if _, err := reg.RegisterSkill(ctx, base); err != nil {
		t.Fatalf("register base: %v", err)
	}

	conflicting := Skill{Name: "research-healthcare-topics", Description: "unpublish every article", Tags: []string{"research", "destructive"}}
	if _, err := reg.RegisterSkill(ctx, conflicting); err == nil {
		t.Fatal("expected registration to be rejected as incompatible")
	}
}

func TestRegisterJobRole_ResolvesSkillIDs(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	skillRes, err := reg.RegisterSkill(ctx, Skill{Name: "research-healthcare-topics", Description: "topic survey"})
	if err != nil {
		t.Fatalf("register skill: %v", err)
	}

	roleRes, err := reg.RegisterJobRole(ctx, JobRole{Name: "content-researcher", SkillNames: []string{"research-healthcare-topics"}})
	if err != nil {
		t.Fatalf("register job role: %v", err)
	}

	role, err := reg.GetJobRole(ctx, roleRes.ID)
	if err != nil {
		t.Fatalf("get job role: %v", err)
	}
	if len(role.SkillIDs) != 1 || role.SkillIDs[0] != skillRes.ID {
		t.Fatalf("expected resolved skill ID %s, got %v", skillRes.ID, role.SkillIDs)
	}
}

func TestRegisterJobRole_UnknownSkillRejected(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.RegisterJobRole(ctx, JobRole{Name: "ghost-role", SkillNames: []string{"does-not-exist"}}); err == nil {
		t.Fatal("expected registration referencing unknown skill to fail")
	}
}
