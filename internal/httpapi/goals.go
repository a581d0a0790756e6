package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"govcore/internal/audit"
	"govcore/internal/problemdetail"
)

// GoalServer accepts goal submissions and hands them off to a skill worker
// over its dispatch socket — the gateway itself runs no goal cycles and
// holds no state beyond short-lived request context.
type GoalServer struct {
	// DispatchSocket is the skillworker's unix dispatch socket path. Empty
	// disables goal submission (the gateway still serves every other route).
	DispatchSocket string
}

type goalSubmission struct {
	InstanceID  string `json:"instance_id"`
	TenantID    string `json:"tenant_id"`
	AgentTypeID string `json:"agent_type_id"`
}

type goalAccepted struct {
	GoalID     string `json:"goal_id"`
	TraceID    string `json:"trace_id"`
	InstanceID string `json:"instance_id"`
}

func (g *GoalServer) HandlePost(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())

	var req goalSubmission
	if err := readJSON(r, &req); err != nil {
		problemdetail.ValidationError(w, traceID, err.Error())
		return
	}
	if req.InstanceID == "" || req.AgentTypeID == "" {
		problemdetail.ValidationError(w, traceID, "instance_id and agent_type_id are required")
		return
	}
	if g.DispatchSocket == "" {
		problemdetail.Internal(w, traceID, "no skill worker dispatch socket configured")
		return
	}

	goalID := "goal_" + uuid.NewString()
	dispatch := map[string]string{
		"instance_id":   req.InstanceID,
		"tenant_id":     req.TenantID,
		"trace_id":      traceID,
		"goal_id":       goalID,
		"agent_type_id": req.AgentTypeID,
	}

	conn, err := net.DialTimeout("unix", g.DispatchSocket, 2*time.Second)
	if err != nil {
		problemdetail.Internal(w, traceID, "skill worker unreachable: "+err.Error())
		return
	}
	defer conn.Close()

	line, _ := json.Marshal(dispatch)
	line = append(line, '\n')
	if _, err := conn.Write(line); err != nil {
		problemdetail.Internal(w, traceID, "failed to dispatch goal: "+err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, goalAccepted{GoalID: goalID, TraceID: traceID, InstanceID: req.InstanceID})
}
