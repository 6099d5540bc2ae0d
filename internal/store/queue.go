package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/atlassonic/atlas/internal/domain"
)

const queueColumns = `id, tenant_id, plan_id, task_id, agent_id, status, priority, parallel_group,
	score, attempts, last_error, created_at, updated_at`

// QueueStore persists the orchestration_queue table.
type QueueStore struct {
	q   sqlx.ExtContext
	now func() time.Time
}

// Enqueue inserts entries as queued. Run it inside InTx to make a batch atomic.
func (s *QueueStore) Enqueue(ctx context.Context, entries []domain.QueueEntry) error {
	now := s.now()
	for i := range entries {
		e := &entries[i]
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		e.Status = domain.QueueQueued
		e.Attempts = 0
		e.CreatedAt, e.UpdatedAt = now, now

		_, err := s.q.ExecContext(ctx, s.q.Rebind(`
			INSERT INTO orchestration_queue (`+queueColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			e.ID, e.TenantID, e.PlanID, e.TaskID, e.AgentID, e.Status, e.Priority, e.ParallelGroup,
			e.Score, e.Attempts, e.LastError, e.CreatedAt, e.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("enqueueing task %s: %w", e.TaskID, err)
		}
	}
	return nil
}

// Get returns one queue entry.
func (s *QueueStore) Get(ctx context.Context, tenantID, id string) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	err := sqlx.GetContext(ctx, s.q, &e, s.q.Rebind(
		`SELECT `+queueColumns+` FROM orchestration_queue WHERE tenant_id = ? AND id = ?`), tenantID, id)
	if err != nil {
		return nil, notFound(err, "queue entry "+id)
	}
	return &e, nil
}

// List returns entries in dispatch order: priority, group, age.
func (s *QueueStore) List(ctx context.Context, tenantID string, status domain.QueueStatus, limit int) ([]domain.QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM orchestration_queue WHERE tenant_id = ?`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY priority DESC, parallel_group, created_at, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	entries := []domain.QueueEntry{}
	if err := sqlx.SelectContext(ctx, s.q, &entries, s.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing queue: %w", err)
	}
	return entries, nil
}

// Claim marks up to limit queued entries for the agent as claimed and
// returns them. Rows claimed concurrently by someone else are skipped.
func (s *QueueStore) Claim(ctx context.Context, tenantID, agentID string, limit int) ([]domain.QueueEntry, error) {
	candidates := []domain.QueueEntry{}
	err := sqlx.SelectContext(ctx, s.q, &candidates, s.q.Rebind(`
		SELECT `+queueColumns+` FROM orchestration_queue
		WHERE tenant_id = ? AND agent_id = ? AND status = ?
		ORDER BY priority DESC, parallel_group, created_at, id
		LIMIT ?`), tenantID, agentID, domain.QueueQueued, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting claimable entries: %w", err)
	}

	claimed := make([]domain.QueueEntry, 0, len(candidates))
	now := s.now()
	for _, e := range candidates {
		ok, err := s.transition(ctx, tenantID, e.ID, domain.QueueQueued, domain.QueueClaimed, now)
		if err != nil {
			return nil, err
		}
		if ok {
			e.Status = domain.QueueClaimed
			e.UpdatedAt = now
			claimed = append(claimed, e)
		}
	}
	return claimed, nil
}

// Complete marks an entry completed.
func (s *QueueStore) Complete(ctx context.Context, tenantID, id string) error {
	res, err := s.q.ExecContext(ctx, s.q.Rebind(`
		UPDATE orchestration_queue SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND status IN (?, ?)`),
		domain.QueueCompleted, s.now(), tenantID, id, domain.QueueQueued, domain.QueueClaimed)
	if err != nil {
		return fmt.Errorf("completing queue entry: %w", err)
	}
	return mustAffect(res, "open queue entry "+id)
}

// Fail records a failed attempt. The entry goes back to queued while
// attempts remain, otherwise it is marked failed. Returns the new status.
func (s *QueueStore) Fail(ctx context.Context, tenantID, id, reason string, maxAttempts int) (domain.QueueStatus, error) {
	e, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return "", err
	}
	if e.Status != domain.QueueQueued && e.Status != domain.QueueClaimed {
		return e.Status, fmt.Errorf("queue entry %s is %s: %w", id, e.Status, ErrConflict)
	}

	attempts := e.Attempts + 1
	next := domain.QueueQueued
	if attempts >= maxAttempts {
		next = domain.QueueFailed
	}
	_, err = s.q.ExecContext(ctx, s.q.Rebind(`
		UPDATE orchestration_queue SET status = ?, attempts = ?, last_error = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`),
		next, attempts, reason, s.now(), tenantID, id)
	if err != nil {
		return "", fmt.Errorf("failing queue entry: %w", err)
	}
	return next, nil
}

// FinishTask closes every open entry for a task with the given status.
func (s *QueueStore) FinishTask(ctx context.Context, tenantID, taskID string, status domain.QueueStatus) (int64, error) {
	res, err := s.q.ExecContext(ctx, s.q.Rebind(`
		UPDATE orchestration_queue SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND task_id = ? AND status IN (?, ?)`),
		status, s.now(), tenantID, taskID, domain.QueueQueued, domain.QueueClaimed)
	if err != nil {
		return 0, fmt.Errorf("finishing queue entries: %w", err)
	}
	return res.RowsAffected()
}

// Stats counts entries per status.
func (s *QueueStore) Stats(ctx context.Context, tenantID string) (domain.QueueStats, error) {
	var rows []struct {
		Status domain.QueueStatus `db:"status"`
		N      int                `db:"n"`
	}
	err := sqlx.SelectContext(ctx, s.q, &rows, s.q.Rebind(
		`SELECT status, COUNT(*) AS n FROM orchestration_queue WHERE tenant_id = ? GROUP BY status`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	stats := domain.QueueStats{}
	for _, r := range rows {
		stats[r.Status] = r.N
	}
	return stats, nil
}

func (s *QueueStore) transition(ctx context.Context, tenantID, id string, from, to domain.QueueStatus, at time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx, s.q.Rebind(`
		UPDATE orchestration_queue SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND status = ?`), to, at, tenantID, id, from)
	if err != nil {
		return false, fmt.Errorf("updating queue entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
