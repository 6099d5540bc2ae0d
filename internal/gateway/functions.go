package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/atlassonic/atlas/internal/dashboard"
	"github.com/atlassonic/atlas/internal/domain"
	"github.com/atlassonic/atlas/internal/generator"
	"github.com/atlassonic/atlas/internal/orchestration"
)

// Edge function bodies are {"action": ..., ...params}. The action picks the
// params type the body is decoded into.

type actionEnvelope struct {
	Action string `json:"action"`
}

type taskParams struct {
	TaskID  string `json:"task_id" validate:"required"`
	AgentID string `json:"agent_id"`
}

type coordinateParams struct {
	TaskIDs []string `json:"task_ids" validate:"omitempty,dive,required"`
}

type swarmIDParams struct {
	SwarmID string `json:"swarm_id" validate:"required"`
}

type completeParams struct {
	TaskID  string `json:"task_id" validate:"required"`
	Success *bool  `json:"success" validate:"required"`
}

type agentIDParams struct {
	AgentID string `json:"agent_id" validate:"required"`
}

type dashboardIDParams struct {
	DashboardID string `json:"dashboard_id" validate:"required"`
}

type dashboardUpdateParams struct {
	DashboardID string `json:"dashboard_id" validate:"required"`
	dashboard.UpdateRequest
}

type memberParams struct {
	DashboardID string            `json:"dashboard_id" validate:"required"`
	UserID      string            `json:"user_id" validate:"required"`
	Role        domain.MemberRole `json:"role"`
}

type businessPlanParams struct {
	generator.PlanRequest
	Stream bool `json:"stream"`
}

type widgetParams struct {
	Prompt string `json:"prompt" validate:"required,max=2000"`
}

// readAction reads the body and returns its action with the raw bytes for
// a second, action-specific decode.
func (s *Server) readAction(r *http.Request) (string, []byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return "", nil, badRequest("reading body: %v", err)
	}
	if len(body) > maxBodyBytes {
		return "", nil, &FunctionError{Status: http.StatusRequestEntityTooLarge, Message: "request body too large"}
	}
	var env actionEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", nil, badRequest("invalid JSON: %v", err)
	}
	if env.Action == "" {
		return "", nil, badRequest("action is required")
	}
	return env.Action, body, nil
}

func ok(payload map[string]any) map[string]any {
	payload["success"] = true
	return payload
}

// handleOrchestration serves the agent-orchestration function.
func (s *Server) handleOrchestration(w http.ResponseWriter, r *http.Request) {
	action, body, err := s.readAction(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.runOrchestration(r, action, body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) runOrchestration(r *http.Request, action string, body []byte) (map[string]any, error) {
	ctx, tenant := r.Context(), s.tenantID(r)
	svc := s.svc.Orchestration

	switch action {
	case "assign_task":
		var p taskParams
		if err := s.decodeBytes(body, &p); err != nil {
			return nil, err
		}
		var a *domain.Assignment
		var err error
		if p.AgentID != "" {
			a, err = svc.AssignTaskTo(ctx, tenant, p.TaskID, p.AgentID)
		} else {
			a, err = svc.AssignTask(ctx, tenant, p.TaskID)
		}
		if err != nil {
			return nil, err
		}
		return ok(map[string]any{"assignment": a}), nil

	case "coordinate_tasks":
		var p coordinateParams
		if err := s.decodeBytes(body, &p); err != nil {
			return nil, err
		}
		plan, err := svc.CoordinateTasks(ctx, tenant, p.TaskIDs)
		if err != nil {
			return nil, err
		}
		return ok(map[string]any{"plan": plan}), nil

	case "form_swarm":
		var p orchestration.SwarmRequest
		if err := s.decodeBytes(body, &p); err != nil {
			return nil, err
		}
		sw, err := svc.FormSwarm(ctx, tenant, p)
		if err != nil {
			return nil, err
		}
		return ok(map[string]any{"swarm": sw}), nil

	case "disband_swarm":
		var p swarmIDParams
		if err := s.decodeBytes(body, &p); err != nil {
			return nil, err
		}
		sw, err := svc.DisbandSwarm(ctx, tenant, p.SwarmID)
		if err != nil {
			return nil, err
		}
		return ok(map[string]any{"swarm": sw}), nil

	case "complete_task":
		var p completeParams
		if err := s.decodeBytes(body, &p); err != nil {
			return nil, err
		}
		t, err := svc.CompleteTask(ctx, tenant, p.TaskID, *p.Success)
		if err != nil {
			return nil, err
		}
		return ok(map[string]any{"task": t}), nil

	case "pause_agent", "resume_agent":
		var p agentIDParams
		if err := s.decodeBytes(body, &p); err != nil {
			return nil, err
		}
		var a *domain.Agent
		var err error
		if action == "pause_agent" {
			a, err = svc.PauseAgent(ctx, tenant, p.AgentID)
		} else {
			a, err = svc.ResumeAgent(ctx, tenant, p.AgentID)
		}
		if err != nil {
			return nil, err
		}
		return ok(map[string]any{"agent": a}), nil

	case "get_status":
		st, err := svc.Status(ctx, tenant)
		if err != nil {
			return nil, err
		}
		return ok(map[string]any{"status": st}), nil

	case "execute_command":
		var p commandParams
		if err := s.decodeBytes(body, &p); err != nil {
			return nil, err
		}
		res, err := svc.Execute(ctx, tenant, p.Text)
		if err != nil {
			return nil, err
		}
		return ok(map[string]any{"command": res.Command, "result": res.Result}), nil
	}
	return nil, badRequest("unknown action %q", action)
}

// handleSharedDashboard serves the shared-dashboard function. The caller
// is identified by X-User-ID.
func (s *Server) handleSharedDashboard(w http.ResponseWriter, r *http.Request) {
	action, body, err := s.readAction(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.runDashboard(r, action, body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) runDashboard(r *http.Request, action string, body []byte) (map[string]any, error) {
	ctx, tenant, user := r.Context(), s.tenantID(r), userID(r)
	svc := s.svc.Dashboards

	switch action {
	case "create":
		var p dashboard.CreateRequest
		if err := s.decodeBytes(body, &p); err != nil {
			return nil, err
		}
		d, err := svc.Create(ctx, tenant, user, p)
		if err != nil {
			return nil, err
		}
		return ok(map[string]any{"dashboard": d}), nil

	case "list":
		list, err := svc.List(ctx, tenant, user)
		if err != nil {
			return nil, err
		}
		return ok(map[string]any{"dashboards": list}), nil

	case "get":
		var p dashboardIDParams
		if err := s.decodeBytes(body, &p); err != nil {
			return nil, err
		}
		d, err := svc.Get(ctx, tenant, user, p.DashboardID)
		if err != nil {
			return nil, err
		}
		return ok(map[string]any{"dashboard": d}), nil

	case "update":
		var p dashboardUpdateParams
		if err := s.decodeBytes(body, &p); err != nil {
			return nil, err
		}
		d, err := svc.Update(ctx, tenant, user, p.DashboardID, p.UpdateRequest)
		if err != nil {
			return nil, err
		}
		return ok(map[string]any{"dashboard": d}), nil

	case "delete":
		var p dashboardIDParams
		if err := s.decodeBytes(body, &p); err != nil {
			return nil, err
		}
		if err := svc.Delete(ctx, tenant, user, p.DashboardID); err != nil {
			return nil, err
		}
		return ok(map[string]any{}), nil

	case "add_member":
		var p memberParams
		if err := s.decodeBytes(body, &p); err != nil {
			return nil, err
		}
		m, err := svc.AddMember(ctx, tenant, user, p.DashboardID, p.UserID, p.Role)
		if err != nil {
			return nil, err
		}
		return ok(map[string]any{"member": m}), nil

	case "remove_member":
		var p memberParams
		if err := s.decodeBytes(body, &p); err != nil {
			return nil, err
		}
		if err := svc.RemoveMember(ctx, tenant, user, p.DashboardID, p.UserID); err != nil {
			return nil, err
		}
		return ok(map[string]any{}), nil

	case "metrics":
		m, err := svc.Metrics(ctx, tenant)
		if err != nil {
			return nil, err
		}
		return ok(map[string]any{"metrics": m}), nil
	}
	return nil, badRequest("unknown action %q", action)
}

var errAIDisabled = &FunctionError{Status: http.StatusServiceUnavailable, Message: "AI generation is not configured"}

// handleBusinessPlan serves generate-business-plan. With "stream": true the
// plan is sent as server-sent events ending in "data: [DONE]".
func (s *Server) handleBusinessPlan(w http.ResponseWriter, r *http.Request) {
	if s.generator == nil {
		s.writeError(w, r, errAIDisabled)
		return
	}
	var p businessPlanParams
	if err := s.decodeJSON(r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}

	if !p.Stream {
		plan, err := s.generator.BusinessPlan(r.Context(), p.PlanRequest)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ok(map[string]any{"plan": plan}))
		return
	}

	events, err := s.generator.StreamBusinessPlan(r.Context(), p.PlanRequest)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

// handleWidget serves generate-widget.
func (s *Server) handleWidget(w http.ResponseWriter, r *http.Request) {
	if s.generator == nil {
		s.writeError(w, r, errAIDisabled)
		return
	}
	var p widgetParams
	if err := s.decodeJSON(r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	spec, err := s.generator.WidgetSpec(r.Context(), p.Prompt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(map[string]any{"widget": spec}))
}
