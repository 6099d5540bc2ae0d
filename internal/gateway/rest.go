package gateway

import (
	"net/http"
	"strings"

	"github.com/atlassonic/atlas/internal/domain"
	"github.com/atlassonic/atlas/internal/hubs"
	"github.com/atlassonic/atlas/internal/store"
)

// Table endpoints under /rest/v1. Mutations publish a change so realtime
// subscribers see REST edits the same way they see orchestration writes.

type agentInput struct {
	Name             string   `json:"name" validate:"required,max=200"`
	Sector           string   `json:"sector" validate:"required,max=100"`
	Capabilities     []string `json:"capabilities" validate:"max=50,dive,required,max=100"`
	MaxConcurrent    int      `json:"max_concurrent" validate:"gte=0,lte=1000"`
	PerformanceScore *float64 `json:"performance_score" validate:"omitempty,gte=0,lte=100"`
	SuccessRate      *float64 `json:"success_rate" validate:"omitempty,gte=0,lte=1"`
}

type agentPatch struct {
	Name             *string             `json:"name" validate:"omitempty,min=1,max=200"`
	Sector           *string             `json:"sector" validate:"omitempty,min=1,max=100"`
	Status           *domain.AgentStatus `json:"status" validate:"omitempty,oneof=idle active busy paused offline error"`
	Capabilities     []string            `json:"capabilities" validate:"omitempty,max=50,dive,required,max=100"`
	MaxConcurrent    *int                `json:"max_concurrent" validate:"omitempty,gte=1,lte=1000"`
	PerformanceScore *float64            `json:"performance_score" validate:"omitempty,gte=0,lte=100"`
	SuccessRate      *float64            `json:"success_rate" validate:"omitempty,gte=0,lte=1"`
}

type taskInput struct {
	Title                string          `json:"title" validate:"required,max=500"`
	Description          string          `json:"description" validate:"max=10000"`
	Type                 string          `json:"type" validate:"max=100"`
	Sector               string          `json:"sector" validate:"max=100"`
	Priority             domain.Priority `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	RequiredCapabilities []string        `json:"required_capabilities" validate:"max=50,dive,required,max=100"`
	DependsOn            []string        `json:"depends_on" validate:"max=100,dive,required"`
	EstimatedMinutes     int             `json:"estimated_minutes" validate:"gte=0"`
}

type taskPatch struct {
	Title                *string            `json:"title" validate:"omitempty,min=1,max=500"`
	Description          *string            `json:"description" validate:"omitempty,max=10000"`
	Type                 *string            `json:"type" validate:"omitempty,max=100"`
	Sector               *string            `json:"sector" validate:"omitempty,max=100"`
	Priority             *domain.Priority   `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	Status               *domain.TaskStatus `json:"status" validate:"omitempty,oneof=pending assigned in_progress completed failed canceled"`
	RequiredCapabilities []string           `json:"required_capabilities" validate:"omitempty,max=50,dive,required,max=100"`
	DependsOn            []string           `json:"depends_on" validate:"omitempty,max=100,dive,required"`
	EstimatedMinutes     *int               `json:"estimated_minutes" validate:"omitempty,gte=0"`
}

type claimInput struct {
	AgentID string `json:"agent_id" validate:"required"`
	Limit   int    `json:"limit" validate:"gte=0,lte=100"`
}

type failInput struct {
	Reason string `json:"reason" validate:"max=2000"`
}

type scaleInput struct {
	Sector string `json:"sector" validate:"required"`
	Target *int   `json:"target" validate:"required"`
}

func normalizeList(in []string) domain.StringList {
	out := make(domain.StringList, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Agents

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	limit, err := s.queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f := store.AgentFilter{Sector: strings.ToLower(r.URL.Query().Get("sector")), Limit: limit}
	if v := r.URL.Query().Get("status"); v != "" {
		st := domain.AgentStatus(v)
		if !st.Valid() {
			s.writeError(w, r, badRequest("unknown agent status %q", v))
			return
		}
		f.Statuses = []domain.AgentStatus{st}
	}
	agents, err := s.svc.DB.Agents().List(r.Context(), s.tenantID(r), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) createAgent(w http.ResponseWriter, r *http.Request) {
	var in agentInput
	if err := s.decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	a := &domain.Agent{
		TenantID:      s.tenantID(r),
		Name:          strings.TrimSpace(in.Name),
		Sector:        strings.ToLower(strings.TrimSpace(in.Sector)),
		Status:        domain.AgentIdle,
		Capabilities:  normalizeList(in.Capabilities),
		MaxConcurrent: in.MaxConcurrent,
		SuccessRate:   1,
	}
	if a.MaxConcurrent == 0 {
		a.MaxConcurrent = s.cfg.Orchestration.DefaultMaxConcurrent
	}
	if in.PerformanceScore != nil {
		a.PerformanceScore = *in.PerformanceScore
	}
	if in.SuccessRate != nil {
		a.SuccessRate = *in.SuccessRate
	}
	if err := s.svc.DB.Agents().Create(r.Context(), a); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.publish(a.TenantID, domain.TableAgents, domain.OpInsert, a.ID)
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.DB.Agents().Get(r.Context(), s.tenantID(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) patchAgent(w http.ResponseWriter, r *http.Request) {
	var p agentPatch
	if err := s.decodeJSON(r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	tenant, id := s.tenantID(r), r.PathValue("id")

	var updated *domain.Agent
	err := s.svc.DB.InTx(r.Context(), func(tx *store.Tx) error {
		a, err := tx.Agents().Get(r.Context(), tenant, id)
		if err != nil {
			return err
		}
		if p.Name != nil {
			a.Name = strings.TrimSpace(*p.Name)
		}
		if p.Sector != nil {
			a.Sector = strings.ToLower(strings.TrimSpace(*p.Sector))
		}
		if p.Status != nil {
			a.Status = *p.Status
		}
		if p.Capabilities != nil {
			a.Capabilities = normalizeList(p.Capabilities)
		}
		if p.MaxConcurrent != nil {
			a.MaxConcurrent = *p.MaxConcurrent
		}
		if p.PerformanceScore != nil {
			a.PerformanceScore = *p.PerformanceScore
		}
		if p.SuccessRate != nil {
			a.SuccessRate = *p.SuccessRate
		}
		updated = a
		return tx.Agents().Update(r.Context(), a)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.publish(tenant, domain.TableAgents, domain.OpUpdate, id)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteAgent(w http.ResponseWriter, r *http.Request) {
	tenant, id := s.tenantID(r), r.PathValue("id")
	if err := s.svc.DB.Agents().Delete(r.Context(), tenant, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.publish(tenant, domain.TableAgents, domain.OpDelete, id)
	w.WriteHeader(http.StatusNoContent)
}

// Tasks

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	limit, err := s.queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	f := store.TaskFilter{AgentID: q.Get("agent_id"), Limit: limit}
	if v := q.Get("status"); v != "" {
		f.Status = domain.TaskStatus(v)
		if !f.Status.Valid() {
			s.writeError(w, r, badRequest("unknown task status %q", v))
			return
		}
	}
	tasks, err := s.svc.DB.Tasks().List(r.Context(), s.tenantID(r), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var in taskInput
	if err := s.decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	t := &domain.Task{
		TenantID:             s.tenantID(r),
		Title:                strings.TrimSpace(in.Title),
		Description:          in.Description,
		Type:                 in.Type,
		Sector:               strings.ToLower(strings.TrimSpace(in.Sector)),
		Priority:             in.Priority,
		Status:               domain.TaskPending,
		RequiredCapabilities: normalizeList(in.RequiredCapabilities),
		DependsOn:            domain.StringList(in.DependsOn),
		EstimatedMinutes:     in.EstimatedMinutes,
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	if err := s.svc.DB.Tasks().Create(r.Context(), t); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.publish(t.TenantID, domain.TableTasks, domain.OpInsert, t.ID)
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.DB.Tasks().Get(r.Context(), s.tenantID(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) patchTask(w http.ResponseWriter, r *http.Request) {
	var p taskPatch
	if err := s.decodeJSON(r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	tenant, id := s.tenantID(r), r.PathValue("id")

	var updated *domain.Task
	err := s.svc.DB.InTx(r.Context(), func(tx *store.Tx) error {
		t, err := tx.Tasks().Get(r.Context(), tenant, id)
		if err != nil {
			return err
		}
		if p.Title != nil {
			t.Title = strings.TrimSpace(*p.Title)
		}
		if p.Description != nil {
			t.Description = *p.Description
		}
		if p.Type != nil {
			t.Type = *p.Type
		}
		if p.Sector != nil {
			t.Sector = strings.ToLower(strings.TrimSpace(*p.Sector))
		}
		if p.Priority != nil {
			t.Priority = *p.Priority
		}
		if p.Status != nil {
			t.Status = *p.Status
		}
		if p.RequiredCapabilities != nil {
			t.RequiredCapabilities = normalizeList(p.RequiredCapabilities)
		}
		if p.DependsOn != nil {
			t.DependsOn = domain.StringList(p.DependsOn)
		}
		if p.EstimatedMinutes != nil {
			t.EstimatedMinutes = *p.EstimatedMinutes
		}
		updated = t
		return tx.Tasks().Update(r.Context(), t)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.publish(tenant, domain.TableTasks, domain.OpUpdate, id)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	tenant, id := s.tenantID(r), r.PathValue("id")
	if err := s.svc.DB.Tasks().Delete(r.Context(), tenant, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.publish(tenant, domain.TableTasks, domain.OpDelete, id)
	w.WriteHeader(http.StatusNoContent)
}

// Queue

func (s *Server) listQueue(w http.ResponseWriter, r *http.Request) {
	limit, err := s.queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := domain.QueueStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		s.writeError(w, r, badRequest("unknown queue status %q", status))
		return
	}
	entries, err := s.svc.DB.Queue().List(r.Context(), s.tenantID(r), status, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.DB.Queue().Stats(r.Context(), s.tenantID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"by_status": stats, "depth": stats.Depth()})
}

func (s *Server) claimQueue(w http.ResponseWriter, r *http.Request) {
	var in claimInput
	if err := s.decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if in.Limit == 0 {
		in.Limit = 1
	}
	tenant := s.tenantID(r)
	claimed, err := s.svc.DB.Queue().Claim(r.Context(), tenant, in.AgentID, in.Limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	for _, e := range claimed {
		s.publish(tenant, domain.TableQueue, domain.OpUpdate, e.ID)
	}
	writeJSON(w, http.StatusOK, claimed)
}

func (s *Server) completeQueueEntry(w http.ResponseWriter, r *http.Request) {
	tenant, id := s.tenantID(r), r.PathValue("id")
	if err := s.svc.DB.Queue().Complete(r.Context(), tenant, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.publish(tenant, domain.TableQueue, domain.OpUpdate, id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": domain.QueueCompleted})
}

func (s *Server) failQueueEntry(w http.ResponseWriter, r *http.Request) {
	var in failInput
	if err := s.decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	tenant, id := s.tenantID(r), r.PathValue("id")
	status, err := s.svc.DB.Queue().Fail(r.Context(), tenant, id, in.Reason, s.cfg.Orchestration.MaxAttempts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.publish(tenant, domain.TableQueue, domain.OpUpdate, id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
}

// Swarms

func (s *Server) listSwarms(w http.ResponseWriter, r *http.Request) {
	limit, err := s.queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := domain.SwarmStatus(r.URL.Query().Get("status"))
	swarms, err := s.svc.DB.Swarms().List(r.Context(), s.tenantID(r), status, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, swarms)
}

func (s *Server) getSwarm(w http.ResponseWriter, r *http.Request) {
	sw, err := s.svc.DB.Swarms().Get(r.Context(), s.tenantID(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sw)
}

// Hubs

func (s *Server) listHubs(w http.ResponseWriter, r *http.Request) {
	conns, err := s.svc.Hubs.List(r.Context(), s.tenantID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conns)
}

func (s *Server) connectHubs(w http.ResponseWriter, r *http.Request) {
	var in hubs.Link
	if err := s.decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := s.svc.Hubs.Connect(r.Context(), s.tenantID(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) hubTopology(w http.ResponseWriter, r *http.Request) {
	topo, err := s.svc.Hubs.Topology(r.Context(), s.tenantID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topo)
}

func (s *Server) disconnectHubs(w http.ResponseWriter, r *http.Request) {
	err := s.svc.Hubs.Disconnect(r.Context(), s.tenantID(r), r.PathValue("source"), r.PathValue("target"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Fleet

func (s *Server) fleetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Fleet.Status(r.Context(), s.tenantID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) scaleFleet(w http.ResponseWriter, r *http.Request) {
	var in scaleInput
	if err := s.decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.svc.Fleet.Scale(r.Context(), s.tenantID(r), in.Sector, *in.Target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
