package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/atlassonic/atlas/internal/domain"
)

const swarmColumns = `id, tenant_id, objective, formation, leader_id, status, requested_size, partial, created_at, updated_at`

// SwarmStore persists swarms and their members.
type SwarmStore struct {
	q   sqlx.ExtContext
	now func() time.Time
}

// Create inserts the swarm and its members. Use it inside InTx.
func (s *SwarmStore) Create(ctx context.Context, sw *domain.Swarm) error {
	if sw.ID == "" {
		sw.ID = uuid.NewString()
	}
	if sw.Status == "" {
		sw.Status = domain.SwarmActive
	}
	now := s.now()
	sw.CreatedAt, sw.UpdatedAt = now, now

	_, err := s.q.ExecContext(ctx, s.q.Rebind(`
		INSERT INTO swarms (`+swarmColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sw.ID, sw.TenantID, sw.Objective, sw.Formation, sw.LeaderID, sw.Status,
		sw.Requested, sw.Partial, sw.CreatedAt, sw.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting swarm: %w", err)
	}

	for i := range sw.Members {
		m := &sw.Members[i]
		m.SwarmID = sw.ID
		_, err := s.q.ExecContext(ctx, s.q.Rebind(`
			INSERT INTO swarm_members (swarm_id, agent_id, name, sector, role, score)
			VALUES (?, ?, ?, ?, ?, ?)`),
			m.SwarmID, m.AgentID, m.Name, m.Sector, m.Role, m.Score,
		)
		if err != nil {
			return fmt.Errorf("inserting swarm member %s: %w", m.AgentID, err)
		}
	}
	return nil
}

// Get returns a swarm with its members, leader first.
func (s *SwarmStore) Get(ctx context.Context, tenantID, id string) (*domain.Swarm, error) {
	var sw domain.Swarm
	err := sqlx.GetContext(ctx, s.q, &sw, s.q.Rebind(
		`SELECT `+swarmColumns+` FROM swarms WHERE tenant_id = ? AND id = ?`), tenantID, id)
	if err != nil {
		return nil, notFound(err, "swarm "+id)
	}
	if sw.Members, err = s.members(ctx, sw.ID); err != nil {
		return nil, err
	}
	return &sw, nil
}

// List returns swarms, newest first, with members loaded.
func (s *SwarmStore) List(ctx context.Context, tenantID string, status domain.SwarmStatus, limit int) ([]domain.Swarm, error) {
	query := `SELECT ` + swarmColumns + ` FROM swarms WHERE tenant_id = ?`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	swarms := []domain.Swarm{}
	if err := sqlx.SelectContext(ctx, s.q, &swarms, s.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing swarms: %w", err)
	}
	for i := range swarms {
		members, err := s.members(ctx, swarms[i].ID)
		if err != nil {
			return nil, err
		}
		swarms[i].Members = members
	}
	return swarms, nil
}

// SetStatus changes a swarm's status.
func (s *SwarmStore) SetStatus(ctx context.Context, tenantID, id string, status domain.SwarmStatus) error {
	res, err := s.q.ExecContext(ctx, s.q.Rebind(
		`UPDATE swarms SET status = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`),
		status, s.now(), tenantID, id)
	if err != nil {
		return fmt.Errorf("setting swarm status: %w", err)
	}
	return mustAffect(res, "swarm "+id)
}

func (s *SwarmStore) members(ctx context.Context, swarmID string) ([]domain.SwarmMember, error) {
	members := []domain.SwarmMember{}
	err := sqlx.SelectContext(ctx, s.q, &members, s.q.Rebind(`
		SELECT swarm_id, agent_id, name, sector, role, score FROM swarm_members
		WHERE swarm_id = ?
		ORDER BY CASE role WHEN 'leader' THEN 0 ELSE 1 END, score DESC, agent_id`), swarmID)
	if err != nil {
		return nil, fmt.Errorf("listing swarm members: %w", err)
	}
	return members, nil
}
