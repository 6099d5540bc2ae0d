package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/atlassonic/atlas/internal/domain"
)

// FleetStore persists operator-set sector targets.
type FleetStore struct {
	q   sqlx.ExtContext
	now func() time.Time
}

// SetTarget records the desired capacity for a sector.
func (s *FleetStore) SetTarget(ctx context.Context, t *domain.FleetTarget) error {
	t.Sector = strings.ToLower(t.Sector)
	t.UpdatedAt = s.now()
	_, err := s.q.ExecContext(ctx, s.q.Rebind(`
		INSERT INTO fleet_targets (tenant_id, sector, target, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, sector) DO UPDATE SET target = excluded.target, updated_at = excluded.updated_at`),
		t.TenantID, t.Sector, t.Target, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("setting fleet target: %w", err)
	}
	return nil
}

// Targets returns sector -> target for the tenant.
func (s *FleetStore) Targets(ctx context.Context, tenantID string) (map[string]int, error) {
	rows := []domain.FleetTarget{}
	err := sqlx.SelectContext(ctx, s.q, &rows, s.q.Rebind(
		`SELECT tenant_id, sector, target, updated_at FROM fleet_targets WHERE tenant_id = ?`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing fleet targets: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Sector] = r.Target
	}
	return out, nil
}
