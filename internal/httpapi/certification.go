package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"govcore/internal/audit"
	"govcore/internal/certification"
	"govcore/internal/problemdetail"
)

// CertificationServer exposes the Certification Registry (C3) over HTTP.
type CertificationServer struct {
	Registry *certification.Registry
}

func (s *CertificationServer) HandleRegisterSkill(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())

	var skill certification.Skill
	if err := readJSON(r, &skill); err != nil {
		problemdetail.ValidationError(w, traceID, err.Error())
		return
	}
	if skill.Name == "" {
		problemdetail.ValidationError(w, traceID, "name is required")
		return
	}

	res, err := s.Registry.RegisterSkill(r.Context(), skill)
	if err != nil {
		problemdetail.Conflict(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *CertificationServer) HandleGetSkill(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	skill, err := s.Registry.GetSkill(r.Context(), r.PathValue("skillID"))
	if err != nil {
		problemdetail.NotFound(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, skill)
}

// HandleCertifySkill confirms a skill's certification status. Registration
// already certifies a skill immediately (§4.3's collision/versioning
// classification runs at POST time), so this is an idempotent read-back
// rather than a second write phase: it exists to satisfy callers that poll
// the contractual certify endpoint before proceeding, and 404s the same way
// HandleGetSkill does for an unknown id.
func (s *CertificationServer) HandleCertifySkill(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	skill, err := s.Registry.GetSkill(r.Context(), r.PathValue("skillID"))
	if err != nil {
		problemdetail.NotFound(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, skill)
}

func (s *CertificationServer) HandleListSkills(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	all := r.URL.Query().Get("all_versions") == "true"
	skills, err := s.Registry.ListSkills(r.Context(), all)
	if err != nil {
		slog.Error("list skills failed", "err", err, "trace_id", traceID)
		problemdetail.Internal(w, traceID, "failed to list skills")
		return
	}
	writeJSON(w, http.StatusOK, skills)
}

func (s *CertificationServer) HandleRegisterJobRole(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())

	var jr certification.JobRole
	if err := readJSON(r, &jr); err != nil {
		problemdetail.ValidationError(w, traceID, err.Error())
		return
	}
	if jr.Name == "" {
		problemdetail.ValidationError(w, traceID, "name is required")
		return
	}

	res, err := s.Registry.RegisterJobRole(r.Context(), jr)
	if err != nil {
		problemdetail.Conflict(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleCertifyJobRole is the job-role counterpart to HandleCertifySkill:
// an idempotent confirmation read, since RegisterJobRole already certifies
// the role (resolving every skill name it bundles) at registration time.
func (s *CertificationServer) HandleCertifyJobRole(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	jr, err := s.Registry.GetJobRole(r.Context(), r.PathValue("jobRoleID"))
	if err != nil {
		problemdetail.NotFound(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jr)
}

func (s *CertificationServer) HandleRegisterAgentType(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())

	var atd certification.AgentTypeDefinition
	if err := readJSON(r, &atd); err != nil {
		problemdetail.ValidationError(w, traceID, err.Error())
		return
	}
	if atd.Name == "" {
		problemdetail.ValidationError(w, traceID, "name is required")
		return
	}

	res, err := s.Registry.RegisterAgentType(r.Context(), atd)
	if err != nil {
		problemdetail.Conflict(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *CertificationServer) HandleGetAgentType(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	atd, err := s.Registry.GetAgentType(r.Context(), r.PathValue("agentTypeID"))
	if err != nil {
		problemdetail.NotFound(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, atd)
}

func readJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
