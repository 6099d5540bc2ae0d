package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/atlassonic/atlas/internal/domain"
)

// HubStore persists hub-to-hub links.
type HubStore struct {
	q   sqlx.ExtContext
	now func() time.Time
}

// Upsert creates or refreshes the link for the (normalized) hub pair.
func (s *HubStore) Upsert(ctx context.Context, c *domain.HubConnection) error {
	c.SourceHub, c.TargetHub = domain.HubPair(c.SourceHub, c.TargetHub)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.UpdatedAt = s.now()

	_, err := s.q.ExecContext(ctx, s.q.Rebind(`
		INSERT INTO hub_connections (id, tenant_id, source_hub, target_hub, status, latency_ms, bandwidth_mbps, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, source_hub, target_hub) DO UPDATE SET
			status = excluded.status,
			latency_ms = excluded.latency_ms,
			bandwidth_mbps = excluded.bandwidth_mbps,
			updated_at = excluded.updated_at`),
		c.ID, c.TenantID, c.SourceHub, c.TargetHub, c.Status, c.LatencyMs, c.BandwidthMbps, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting hub connection: %w", err)
	}

	// The row may predate this call; report its real id.
	return sqlx.GetContext(ctx, s.q, &c.ID, s.q.Rebind(
		`SELECT id FROM hub_connections WHERE tenant_id = ? AND source_hub = ? AND target_hub = ?`),
		c.TenantID, c.SourceHub, c.TargetHub)
}

// Get returns the link between two hubs in either order.
func (s *HubStore) Get(ctx context.Context, tenantID, a, b string) (*domain.HubConnection, error) {
	a, b = domain.HubPair(a, b)
	var c domain.HubConnection
	err := sqlx.GetContext(ctx, s.q, &c, s.q.Rebind(`
		SELECT id, tenant_id, source_hub, target_hub, status, latency_ms, bandwidth_mbps, updated_at
		FROM hub_connections WHERE tenant_id = ? AND source_hub = ? AND target_hub = ?`), tenantID, a, b)
	if err != nil {
		return nil, notFound(err, "hub link "+a+"-"+b)
	}
	return &c, nil
}

// Delete removes the link between two hubs.
func (s *HubStore) Delete(ctx context.Context, tenantID, a, b string) error {
	a, b = domain.HubPair(a, b)
	res, err := s.q.ExecContext(ctx, s.q.Rebind(
		`DELETE FROM hub_connections WHERE tenant_id = ? AND source_hub = ? AND target_hub = ?`), tenantID, a, b)
	if err != nil {
		return fmt.Errorf("deleting hub connection: %w", err)
	}
	return mustAffect(res, "hub link "+a+"-"+b)
}

// List returns every link for the tenant.
func (s *HubStore) List(ctx context.Context, tenantID string) ([]domain.HubConnection, error) {
	conns := []domain.HubConnection{}
	err := sqlx.SelectContext(ctx, s.q, &conns, s.q.Rebind(`
		SELECT id, tenant_id, source_hub, target_hub, status, latency_ms, bandwidth_mbps, updated_at
		FROM hub_connections WHERE tenant_id = ?
		ORDER BY source_hub, target_hub`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing hub connections: %w", err)
	}
	return conns, nil
}
