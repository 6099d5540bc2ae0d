package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/atlassonic/atlas/internal/domain"
)

const taskColumns = `id, tenant_id, title, description, type, sector, priority, status,
	required_capabilities, depends_on, estimated_minutes, assigned_agent_id, created_at, updated_at`

// TaskStore persists task rows.
type TaskStore struct {
	q   sqlx.ExtContext
	now func() time.Time
}

// TaskFilter narrows List results.
type TaskFilter struct {
	Status  domain.TaskStatus
	AgentID string
	Limit   int
}

// Create inserts a new task.
func (s *TaskStore) Create(ctx context.Context, t *domain.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = domain.TaskPending
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	if t.EstimatedMinutes <= 0 {
		t.EstimatedMinutes = domain.DefaultEstimatedMinutes
	}
	if t.RequiredCapabilities == nil {
		t.RequiredCapabilities = domain.StringList{}
	}
	if t.DependsOn == nil {
		t.DependsOn = domain.StringList{}
	}
	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := s.q.ExecContext(ctx, s.q.Rebind(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.TenantID, t.Title, t.Description, t.Type, t.Sector, t.Priority, t.Status,
		t.RequiredCapabilities, t.DependsOn, t.EstimatedMinutes, t.AssignedAgentID, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

// Get returns one task.
func (s *TaskStore) Get(ctx context.Context, tenantID, id string) (*domain.Task, error) {
	var t domain.Task
	err := sqlx.GetContext(ctx, s.q, &t, s.q.Rebind(
		`SELECT `+taskColumns+` FROM tasks WHERE tenant_id = ? AND id = ?`), tenantID, id)
	if err != nil {
		return nil, notFound(err, "task "+id)
	}
	return &t, nil
}

// List returns tasks, newest first.
func (s *TaskStore) List(ctx context.Context, tenantID string, f TaskFilter) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE tenant_id = ?`
	args := []any{tenantID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.AgentID != "" {
		query += ` AND assigned_agent_id = ?`
		args = append(args, f.AgentID)
	}
	query += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	tasks := []domain.Task{}
	if err := sqlx.SelectContext(ctx, s.q, &tasks, s.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, nil
}

// ListPending returns the oldest pending tasks.
func (s *TaskStore) ListPending(ctx context.Context, tenantID string, limit int) ([]domain.Task, error) {
	tasks := []domain.Task{}
	err := sqlx.SelectContext(ctx, s.q, &tasks, s.q.Rebind(`
		SELECT `+taskColumns+` FROM tasks
		WHERE tenant_id = ? AND status = ?
		ORDER BY created_at, id
		LIMIT ?`), tenantID, domain.TaskPending, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending tasks: %w", err)
	}
	return tasks, nil
}

// ListByIDs returns the tasks with the given ids. Unknown ids are skipped.
func (s *TaskStore) ListByIDs(ctx context.Context, tenantID string, ids []string) ([]domain.Task, error) {
	tasks := []domain.Task{}
	if len(ids) == 0 {
		return tasks, nil
	}
	query, args, err := sqlx.In(`SELECT `+taskColumns+` FROM tasks WHERE tenant_id = ? AND id IN (?) ORDER BY created_at, id`, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("building task query: %w", err)
	}
	if err := sqlx.SelectContext(ctx, s.q, &tasks, s.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing tasks by id: %w", err)
	}
	return tasks, nil
}

// Assign moves a pending task to assigned. Returns ErrConflict when the
// task is no longer pending.
func (s *TaskStore) Assign(ctx context.Context, tenantID, id, agentID string) error {
	res, err := s.q.ExecContext(ctx, s.q.Rebind(`
		UPDATE tasks SET status = ?, assigned_agent_id = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND status = ?`),
		domain.TaskAssigned, agentID, s.now(), tenantID, id, domain.TaskPending)
	if err != nil {
		return fmt.Errorf("assigning task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %s is not pending: %w", id, ErrConflict)
	}
	return nil
}

// SetStatus changes the status of a task.
func (s *TaskStore) SetStatus(ctx context.Context, tenantID, id string, status domain.TaskStatus) error {
	res, err := s.q.ExecContext(ctx, s.q.Rebind(
		`UPDATE tasks SET status = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`),
		status, s.now(), tenantID, id)
	if err != nil {
		return fmt.Errorf("setting task status: %w", err)
	}
	return mustAffect(res, "task "+id)
}

// Update writes the editable fields of a task.
func (s *TaskStore) Update(ctx context.Context, t *domain.Task) error {
	t.UpdatedAt = s.now()
	res, err := s.q.ExecContext(ctx, s.q.Rebind(`
		UPDATE tasks SET title = ?, description = ?, type = ?, sector = ?, priority = ?, status = ?,
			required_capabilities = ?, depends_on = ?, estimated_minutes = ?, assigned_agent_id = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`),
		t.Title, t.Description, t.Type, t.Sector, t.Priority, t.Status,
		t.RequiredCapabilities, t.DependsOn, t.EstimatedMinutes, t.AssignedAgentID, t.UpdatedAt,
		t.TenantID, t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return mustAffect(res, "task "+t.ID)
}

// Delete removes a task.
func (s *TaskStore) Delete(ctx context.Context, tenantID, id string) error {
	res, err := s.q.ExecContext(ctx, s.q.Rebind(`DELETE FROM tasks WHERE tenant_id = ? AND id = ?`), tenantID, id)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	return mustAffect(res, "task "+id)
}

// CountByStatus returns the number of tasks per status.
func (s *TaskStore) CountByStatus(ctx context.Context, tenantID string) (map[domain.TaskStatus]int, error) {
	var rows []struct {
		Status domain.TaskStatus `db:"status"`
		N      int               `db:"n"`
	}
	err := sqlx.SelectContext(ctx, s.q, &rows, s.q.Rebind(
		`SELECT status, COUNT(*) AS n FROM tasks WHERE tenant_id = ? GROUP BY status`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}
	out := make(map[domain.TaskStatus]int, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
