package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"

	"govcore/internal/execution"
)

// goalRequest is one line of newline-delimited JSON read from the dispatch
// socket: the governor (or any other submitter) writes one of these per
// goal it wants this worker to run.
type goalRequest struct {
	InstanceID  string `json:"instance_id"`
	TenantID    string `json:"tenant_id"`
	TraceID     string `json:"trace_id"`
	GoalID      string `json:"goal_id"`
	AgentTypeID string `json:"agent_type_id"`
}

// runDispatchLoop accepts connections on socketPath and runs one goal cycle
// per newline-delimited JSON request, mirroring the audit store's
// accept-loop-per-connection shape but as a consumer rather than a
// broadcaster.
func runDispatchLoop(ctx context.Context, socketPath string, planner execution.Planner, engine *execution.Engine) {
	if socketPath == "" {
		return
	}
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		slog.Error("failed to start dispatch socket", "path", socketPath, "err", err)
		return
	}
	go func() {
		<-ctx.Done()
		listener.Close()
		os.Remove(socketPath)
	}()

	slog.Info("dispatch socket listening", "path", socketPath)
	for {
		conn, err := listener.Accept()
		if err != nil {
			return // listener closed
		}
		go handleDispatchConn(ctx, conn, planner, engine)
	}
}

func handleDispatchConn(ctx context.Context, conn net.Conn, planner execution.Planner, engine *execution.Engine) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req goalRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			slog.Error("malformed goal request", "err", err)
			continue
		}
		dispatchGoal(ctx, req, planner, engine)
	}
}

func dispatchGoal(ctx context.Context, req goalRequest, planner execution.Planner, engine *execution.Engine) {
	ec := execution.ExecContext{
		InstanceID:  req.InstanceID,
		TenantID:    req.TenantID,
		TraceID:     req.TraceID,
		GoalID:      req.GoalID,
		AgentTypeID: req.AgentTypeID,
	}

	plan, err := planner.Plan(ctx, ec, req.AgentTypeID)
	if err != nil {
		slog.Error("failed to resolve plan", "instance_id", req.InstanceID, "agent_type_id", req.AgentTypeID, "err", err)
		return
	}

	result, err := engine.RunGoal(ctx, ec, plan)
	if err != nil {
		slog.Error("goal cycle did not complete", "goal_id", req.GoalID, "err", err)
		return
	}
	slog.Info("goal cycle finished", "goal_id", req.GoalID, "completed", result.Completed, "steps", len(result.Outcomes))
}
