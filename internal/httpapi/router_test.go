package httpapi

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"govcore/internal/approval"
	"govcore/internal/audit"
	"govcore/internal/certification"
	"govcore/internal/subscription"

	_ "modernc.org/sqlite"
)

func newTestMux(t *testing.T) http.Handler {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "httpapi_test")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	auditStore, err := audit.NewStore(audit.StoreConfig{DBPath: filepath.Join(tmpDir, "audit.db")})
	if err != nil {
		t.Fatalf("new audit store: %v", err)
	}
	t.Cleanup(func() { auditStore.Close() })

	approvalStore, err := approval.NewStore(auditStore.DB(), auditStore)
	if err != nil {
		t.Fatalf("new approval store: %v", err)
	}

	certDB, err := sql.Open("sqlite", filepath.Join(tmpDir, "cert.db"))
	if err != nil {
		t.Fatalf("open cert db: %v", err)
	}
	t.Cleanup(func() { certDB.Close() })
	certRegistry, err := certification.NewRegistry(certDB, false)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	subDB, err := sql.Open("sqlite", filepath.Join(tmpDir, "sub.db"))
	if err != nil {
		t.Fatalf("open sub db: %v", err)
	}
	t.Cleanup(func() { subDB.Close() })
	subStore, err := subscription.NewStore(subDB, false)
	if err != nil {
		t.Fatalf("new subscription store: %v", err)
	}

	return NewMux(Deps{
		Audit:         auditStore,
		AuditServer:   &AuditServer{Store: auditStore},
		Approvals:     &ApprovalServer{Store: approvalStore},
		Certification: &CertificationServer{Registry: certRegistry},
		Subscriptions: &SubscriptionServer{Store: subStore},
	})
}

func TestHealth(t *testing.T) {
	mux := newTestMux(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRegisterSkillThenList(t *testing.T) {
	mux := newTestMux(t)

	body, _ := json.Marshal(map[string]any{"name": "research-healthcare-topics", "description": "topic survey"})
	req := httptest.NewRequest(http.MethodPost, "/v1/skills", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/skills", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCreateApproval_ValidationError(t *testing.T) {
	mux := newTestMux(t)

	body, _ := json.Marshal(map[string]any{})
	req := httptest.NewRequest(http.MethodPost, "/v1/approvals", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("expected problem+json content type, got %s", ct)
	}
}

func TestAuditVerify_EmptyChainIsValid(t *testing.T) {
	mux := newTestMux(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/audit/verify", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var status map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if valid, _ := status["valid"].(bool); !valid {
		t.Fatalf("expected an empty chain to verify as valid, got %v", status)
	}
}

func TestHireInstanceThenTransition(t *testing.T) {
	mux := newTestMux(t)

	body, _ := json.Marshal(map[string]any{
		"tenant_id": "tenant-a", "agent_type_id": "atd_123", "agent_type_name": "content-researcher", "hired_by": "alice",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/instances", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var inst map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &inst); err != nil {
		t.Fatalf("decode: %v", err)
	}
	instanceID, _ := inst["ID"].(string)
	if instanceID == "" {
		t.Fatalf("expected instance ID in response, got %v", inst)
	}

	tbody, _ := json.Marshal(map[string]any{"state": "provisioned"})
	treq := httptest.NewRequest(http.MethodPost, "/v1/instances/"+instanceID+"/transition", bytes.NewReader(tbody))
	trec := httptest.NewRecorder()
	mux.ServeHTTP(trec, treq)
	if trec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", trec.Code, trec.Body.String())
	}
}

func TestQuarantinedChainRefusesMutations(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "httpapi_quarantine_test")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	auditStore, err := audit.NewStore(audit.StoreConfig{DBPath: filepath.Join(tmpDir, "audit.db")})
	if err != nil {
		t.Fatalf("new audit store: %v", err)
	}
	t.Cleanup(func() { auditStore.Close() })
	approvalStore, err := approval.NewStore(auditStore.DB(), auditStore)
	if err != nil {
		t.Fatalf("new approval store: %v", err)
	}

	mux := NewMux(Deps{
		Audit:       auditStore,
		AuditServer: &AuditServer{Store: auditStore},
		Approvals:   &ApprovalServer{Store: approvalStore},
	})

	// Build a small chain through the gateway, then tamper with it out-of-band.
	req := httptest.NewRequest(http.MethodGet, "/v1/approvals", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("seed request: expected 200, got %d", rec.Code)
	}
	if _, err := auditStore.DB().Exec(
		`UPDATE audit_events SET raw_json = replace(raw_json, 'GET /v1/approvals', 'GET /v1/forged')`); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/audit/verify", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d", rec.Code)
	}
	var status audit.ChainStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if status.Valid {
		t.Fatal("expected tampered chain to fail verification")
	}

	// Business traffic is refused with reason=integrity while quarantined.
	req = httptest.NewRequest(http.MethodGet, "/v1/approvals", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while quarantined, got %d", rec.Code)
	}
	var problem struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &problem); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if problem.Reason != "integrity" {
		t.Fatalf("reason = %q, want integrity", problem.Reason)
	}

	// The operator acknowledgement lifts the quarantine.
	req = httptest.NewRequest(http.MethodPost, "/v1/audit/quarantine/ack", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("ack: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/approvals", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after acknowledgement, got %d", rec.Code)
	}
}
