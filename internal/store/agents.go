package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/atlassonic/atlas/internal/domain"
)

const agentColumns = `id, tenant_id, name, sector, status, capabilities, max_concurrent,
	current_tasks, performance_score, success_rate, tasks_completed, created_at, updated_at`

// AgentStore persists agent rows.
type AgentStore struct {
	q   sqlx.ExtContext
	now func() time.Time
}

// AgentFilter narrows List results. Zero values mean "any".
type AgentFilter struct {
	Statuses []domain.AgentStatus
	Sector   string
	Limit    int
}

// Create inserts a new agent, assigning an id and timestamps when missing.
func (s *AgentStore) Create(ctx context.Context, a *domain.Agent) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = domain.AgentIdle
	}
	if a.MaxConcurrent < 1 {
		a.MaxConcurrent = 1
	}
	if a.Capabilities == nil {
		a.Capabilities = domain.StringList{}
	}
	now := s.now()
	a.CreatedAt, a.UpdatedAt = now, now

	_, err := s.q.ExecContext(ctx, s.q.Rebind(`
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.TenantID, a.Name, a.Sector, a.Status, a.Capabilities, a.MaxConcurrent,
		a.CurrentTasks, a.PerformanceScore, a.SuccessRate, a.TasksCompleted, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting agent: %w", err)
	}
	return nil
}

// Get returns one agent.
func (s *AgentStore) Get(ctx context.Context, tenantID, id string) (*domain.Agent, error) {
	var a domain.Agent
	err := sqlx.GetContext(ctx, s.q, &a, s.q.Rebind(
		`SELECT `+agentColumns+` FROM agents WHERE tenant_id = ? AND id = ?`), tenantID, id)
	if err != nil {
		return nil, notFound(err, "agent "+id)
	}
	return &a, nil
}

// List returns agents ordered by name.
func (s *AgentStore) List(ctx context.Context, tenantID string, f AgentFilter) ([]domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE tenant_id = ?`
	args := []any{tenantID}
	if len(f.Statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(", ?", len(f.Statuses)-1) + `)`
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}
	if f.Sector != "" {
		query += ` AND LOWER(sector) = LOWER(?)`
		args = append(args, f.Sector)
	}
	query += ` ORDER BY name, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	agents := []domain.Agent{}
	if err := sqlx.SelectContext(ctx, s.q, &agents, s.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	return agents, nil
}

// ListAssignable returns agents that may take new work: not paused, offline
// or errored, and below their concurrency limit. Best performers come first
// so the LIMIT keeps the strongest candidates.
func (s *AgentStore) ListAssignable(ctx context.Context, tenantID string, limit int) ([]domain.Agent, error) {
	agents := []domain.Agent{}
	err := sqlx.SelectContext(ctx, s.q, &agents, s.q.Rebind(`
		SELECT `+agentColumns+` FROM agents
		WHERE tenant_id = ?
		  AND status NOT IN (?, ?, ?)
		  AND current_tasks < max_concurrent
		ORDER BY performance_score DESC, id
		LIMIT ?`),
		tenantID, domain.AgentPaused, domain.AgentOffline, domain.AgentError, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing assignable agents: %w", err)
	}
	return agents, nil
}

// Update writes the mutable profile fields of an agent.
func (s *AgentStore) Update(ctx context.Context, a *domain.Agent) error {
	a.UpdatedAt = s.now()
	res, err := s.q.ExecContext(ctx, s.q.Rebind(`
		UPDATE agents SET name = ?, sector = ?, status = ?, capabilities = ?, max_concurrent = ?,
			performance_score = ?, success_rate = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`),
		a.Name, a.Sector, a.Status, a.Capabilities, a.MaxConcurrent,
		a.PerformanceScore, a.SuccessRate, a.UpdatedAt, a.TenantID, a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating agent: %w", err)
	}
	return mustAffect(res, "agent "+a.ID)
}

// SaveRuntime writes the counters the orchestrator maintains: load, status,
// completions and success rate.
func (s *AgentStore) SaveRuntime(ctx context.Context, a *domain.Agent) error {
	a.UpdatedAt = s.now()
	res, err := s.q.ExecContext(ctx, s.q.Rebind(`
		UPDATE agents SET status = ?, current_tasks = ?, tasks_completed = ?, success_rate = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`),
		a.Status, a.CurrentTasks, a.TasksCompleted, a.SuccessRate, a.UpdatedAt, a.TenantID, a.ID,
	)
	if err != nil {
		return fmt.Errorf("saving agent runtime: %w", err)
	}
	return mustAffect(res, "agent "+a.ID)
}

// SetStatus changes only the status of an agent.
func (s *AgentStore) SetStatus(ctx context.Context, tenantID, id string, status domain.AgentStatus) error {
	res, err := s.q.ExecContext(ctx, s.q.Rebind(
		`UPDATE agents SET status = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`),
		status, s.now(), tenantID, id)
	if err != nil {
		return fmt.Errorf("setting agent status: %w", err)
	}
	return mustAffect(res, "agent "+id)
}

// Delete removes an agent.
func (s *AgentStore) Delete(ctx context.Context, tenantID, id string) error {
	res, err := s.q.ExecContext(ctx, s.q.Rebind(`DELETE FROM agents WHERE tenant_id = ? AND id = ?`), tenantID, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	return mustAffect(res, "agent "+id)
}

// CountByStatus returns the number of agents per status.
func (s *AgentStore) CountByStatus(ctx context.Context, tenantID string) (map[domain.AgentStatus]int, error) {
	var rows []struct {
		Status domain.AgentStatus `db:"status"`
		N      int                `db:"n"`
	}
	err := sqlx.SelectContext(ctx, s.q, &rows, s.q.Rebind(
		`SELECT status, COUNT(*) AS n FROM agents WHERE tenant_id = ? GROUP BY status`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("counting agents: %w", err)
	}
	out := make(map[domain.AgentStatus]int, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// SectorCount is one (sector, status) bucket.
type SectorCount struct {
	Sector string             `db:"sector"`
	Status domain.AgentStatus `db:"status"`
	N      int                `db:"n"`
}

// CountBySector returns agent counts grouped by sector and status.
func (s *AgentStore) CountBySector(ctx context.Context, tenantID string) ([]SectorCount, error) {
	rows := []SectorCount{}
	err := sqlx.SelectContext(ctx, s.q, &rows, s.q.Rebind(`
		SELECT LOWER(sector) AS sector, status, COUNT(*) AS n
		FROM agents WHERE tenant_id = ?
		GROUP BY LOWER(sector), status
		ORDER BY sector, status`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("counting agents by sector: %w", err)
	}
	return rows, nil
}
