package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/atlassonic/atlas/internal/domain"
)

const dashboardColumns = `id, tenant_id, owner_id, name, description, kind, layout, is_public, created_at, updated_at`

// DashboardStore persists shared dashboards and their membership.
type DashboardStore struct {
	q   sqlx.ExtContext
	now func() time.Time
}

// Create inserts a dashboard and records its owner as a member.
func (s *DashboardStore) Create(ctx context.Context, d *domain.Dashboard) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := s.now()
	d.CreatedAt, d.UpdatedAt = now, now

	_, err := s.q.ExecContext(ctx, s.q.Rebind(`
		INSERT INTO dashboards (`+dashboardColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		d.ID, d.TenantID, d.OwnerID, d.Name, d.Description, d.Kind, d.Layout, d.IsPublic, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting dashboard: %w", err)
	}
	return s.AddMember(ctx, &domain.DashboardMember{DashboardID: d.ID, UserID: d.OwnerID, Role: domain.MemberOwner})
}

// Get returns a dashboard without members.
func (s *DashboardStore) Get(ctx context.Context, tenantID, id string) (*domain.Dashboard, error) {
	var d domain.Dashboard
	err := sqlx.GetContext(ctx, s.q, &d, s.q.Rebind(
		`SELECT `+dashboardColumns+` FROM dashboards WHERE tenant_id = ? AND id = ?`), tenantID, id)
	if err != nil {
		return nil, notFound(err, "dashboard "+id)
	}
	return &d, nil
}

// ListForUser returns dashboards the user belongs to plus public ones, most
// recently updated first.
func (s *DashboardStore) ListForUser(ctx context.Context, tenantID, userID string, limit int) ([]domain.Dashboard, error) {
	dashboards := []domain.Dashboard{}
	err := sqlx.SelectContext(ctx, s.q, &dashboards, s.q.Rebind(`
		SELECT `+dashboardColumns+` FROM dashboards
		WHERE tenant_id = ?
		  AND (is_public = ? OR id IN (SELECT dashboard_id FROM dashboard_members WHERE user_id = ?))
		ORDER BY updated_at DESC, id
		LIMIT ?`), tenantID, true, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing dashboards: %w", err)
	}
	return dashboards, nil
}

// Update writes the editable fields of a dashboard.
func (s *DashboardStore) Update(ctx context.Context, d *domain.Dashboard) error {
	d.UpdatedAt = s.now()
	res, err := s.q.ExecContext(ctx, s.q.Rebind(`
		UPDATE dashboards SET name = ?, description = ?, kind = ?, layout = ?, is_public = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`),
		d.Name, d.Description, d.Kind, d.Layout, d.IsPublic, d.UpdatedAt, d.TenantID, d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating dashboard: %w", err)
	}
	return mustAffect(res, "dashboard "+d.ID)
}

// Delete removes a dashboard; members go with it.
func (s *DashboardStore) Delete(ctx context.Context, tenantID, id string) error {
	if _, err := s.q.ExecContext(ctx, s.q.Rebind(`DELETE FROM dashboard_members WHERE dashboard_id = ?`), id); err != nil {
		return fmt.Errorf("deleting dashboard members: %w", err)
	}
	res, err := s.q.ExecContext(ctx, s.q.Rebind(`DELETE FROM dashboards WHERE tenant_id = ? AND id = ?`), tenantID, id)
	if err != nil {
		return fmt.Errorf("deleting dashboard: %w", err)
	}
	return mustAffect(res, "dashboard "+id)
}

// Members lists a dashboard's members, owner first.
func (s *DashboardStore) Members(ctx context.Context, dashboardID string) ([]domain.DashboardMember, error) {
	members := []domain.DashboardMember{}
	err := sqlx.SelectContext(ctx, s.q, &members, s.q.Rebind(`
		SELECT dashboard_id, user_id, role, added_at FROM dashboard_members
		WHERE dashboard_id = ?
		ORDER BY CASE role WHEN 'owner' THEN 0 WHEN 'editor' THEN 1 ELSE 2 END, added_at, user_id`), dashboardID)
	if err != nil {
		return nil, fmt.Errorf("listing dashboard members: %w", err)
	}
	return members, nil
}

// Role returns the user's role on a dashboard, or ErrNotFound.
func (s *DashboardStore) Role(ctx context.Context, dashboardID, userID string) (domain.MemberRole, error) {
	var role domain.MemberRole
	err := sqlx.GetContext(ctx, s.q, &role, s.q.Rebind(
		`SELECT role FROM dashboard_members WHERE dashboard_id = ? AND user_id = ?`), dashboardID, userID)
	if err != nil {
		return "", notFound(err, "member "+userID)
	}
	return role, nil
}

// AddMember inserts or re-roles a member.
func (s *DashboardStore) AddMember(ctx context.Context, m *domain.DashboardMember) error {
	m.AddedAt = s.now()
	_, err := s.q.ExecContext(ctx, s.q.Rebind(`
		INSERT INTO dashboard_members (dashboard_id, user_id, role, added_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (dashboard_id, user_id) DO UPDATE SET role = excluded.role`),
		m.DashboardID, m.UserID, m.Role, m.AddedAt)
	if err != nil {
		return fmt.Errorf("adding dashboard member: %w", err)
	}
	return nil
}

// RemoveMember deletes a membership.
func (s *DashboardStore) RemoveMember(ctx context.Context, dashboardID, userID string) error {
	res, err := s.q.ExecContext(ctx, s.q.Rebind(
		`DELETE FROM dashboard_members WHERE dashboard_id = ? AND user_id = ?`), dashboardID, userID)
	if err != nil {
		return fmt.Errorf("removing dashboard member: %w", err)
	}
	return mustAffect(res, "member "+userID)
}
