// Package hubs manages links between hubs and summarizes the resulting
// topology.
package hubs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/atlassonic/atlas/internal/domain"
	"github.com/atlassonic/atlas/internal/logging"
	"github.com/atlassonic/atlas/internal/store"
)

// ErrInvalidLink is returned for self links, blank hub names and negative
// measurements.
var ErrInvalidLink = errors.New("invalid hub link")

// Latency thresholds for the derived link status.
const (
	ConnectedMaxLatencyMs = 150
	DegradedMaxLatencyMs  = 500
)

// Publisher receives committed row changes.
type Publisher interface {
	Publish(domain.Change)
}

// Link describes a link to create or refresh. An empty Status is derived
// from LatencyMs.
type Link struct {
	SourceHub     string           `json:"source_hub" validate:"required,max=100"`
	TargetHub     string           `json:"target_hub" validate:"required,max=100"`
	LatencyMs     int              `json:"latency_ms" validate:"gte=0"`
	BandwidthMbps float64          `json:"bandwidth_mbps" validate:"gte=0"`
	Status        domain.HubStatus `json:"status,omitempty" validate:"omitempty,oneof=connected degraded disconnected"`
}

// Topology is the tenant's hub graph with health counters.
type Topology struct {
	Hubs             []string                 `json:"hubs"`
	Edges            []domain.HubConnection   `json:"edges"`
	ByStatus         map[domain.HubStatus]int `json:"by_status"`
	AverageLatencyMs float64                  `json:"average_latency_ms"`
	Healthy          bool                     `json:"healthy"`
}

// Manager persists hub links.
type Manager struct {
	db  *store.DB
	pub Publisher
	log *logging.Logger
	now func() time.Time
}

// New creates a hub manager. pub may be nil.
func New(db *store.DB, pub Publisher, log *logging.Logger) *Manager {
	return &Manager{db: db, pub: pub, log: log.Sub("hubs"), now: func() time.Time { return time.Now().UTC() }}
}

// StatusForLatency maps a latency measurement to a link status.
func StatusForLatency(ms int) domain.HubStatus {
	switch {
	case ms <= ConnectedMaxLatencyMs:
		return domain.HubConnected
	case ms <= DegradedMaxLatencyMs:
		return domain.HubDegraded
	default:
		return domain.HubDisconnected
	}
}

// Connect creates or refreshes the link between two hubs.
func (m *Manager) Connect(ctx context.Context, tenantID string, l Link) (*domain.HubConnection, error) {
	a, b := strings.TrimSpace(l.SourceHub), strings.TrimSpace(l.TargetHub)
	switch {
	case a == "" || b == "":
		return nil, fmt.Errorf("%w: hub names are required", ErrInvalidLink)
	case a == b:
		return nil, fmt.Errorf("%w: %s cannot link to itself", ErrInvalidLink, a)
	case l.LatencyMs < 0 || l.BandwidthMbps < 0:
		return nil, fmt.Errorf("%w: negative measurement", ErrInvalidLink)
	}

	status := l.Status
	if status == "" {
		status = StatusForLatency(l.LatencyMs)
	}
	c := &domain.HubConnection{
		TenantID:      tenantID,
		SourceHub:     a,
		TargetHub:     b,
		Status:        status,
		LatencyMs:     l.LatencyMs,
		BandwidthMbps: l.BandwidthMbps,
	}
	if err := m.db.Hubs().Upsert(ctx, c); err != nil {
		return nil, err
	}
	m.publish(tenantID, domain.OpUpdate, c.ID)
	m.log.Debug().Str("tenant", tenantID).Str("link", c.SourceHub+"-"+c.TargetHub).Str("status", string(c.Status)).Msg("hub link updated")
	return c, nil
}

// Disconnect removes the link between two hubs.
func (m *Manager) Disconnect(ctx context.Context, tenantID, a, b string) error {
	c, err := m.db.Hubs().Get(ctx, tenantID, a, b)
	if err != nil {
		return err
	}
	if err := m.db.Hubs().Delete(ctx, tenantID, a, b); err != nil {
		return err
	}
	m.publish(tenantID, domain.OpDelete, c.ID)
	return nil
}

// List returns every link of the tenant.
func (m *Manager) List(ctx context.Context, tenantID string) ([]domain.HubConnection, error) {
	return m.db.Hubs().List(ctx, tenantID)
}

// Topology summarizes the tenant's links.
func (m *Manager) Topology(ctx context.Context, tenantID string) (*Topology, error) {
	conns, err := m.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return BuildTopology(conns), nil
}

// BuildTopology computes the summary for a set of links. The average
// latency only covers links that are not disconnected.
func BuildTopology(conns []domain.HubConnection) *Topology {
	t := &Topology{
		Hubs:     []string{},
		Edges:    conns,
		ByStatus: map[domain.HubStatus]int{},
		Healthy:  true,
	}
	seen := map[string]bool{}
	latency, live := 0, 0
	for _, c := range conns {
		for _, h := range []string{c.SourceHub, c.TargetHub} {
			if !seen[h] {
				seen[h] = true
				t.Hubs = append(t.Hubs, h)
			}
		}
		t.ByStatus[c.Status]++
		if c.Status == domain.HubDisconnected {
			t.Healthy = false
			continue
		}
		latency += c.LatencyMs
		live++
	}
	sort.Strings(t.Hubs)
	if live > 0 {
		t.AverageLatencyMs = math.Round(float64(latency)/float64(live)*100) / 100
	}
	return t
}

func (m *Manager) publish(tenantID string, op domain.ChangeOp, id string) {
	if m.pub == nil {
		return
	}
	m.pub.Publish(domain.Change{Table: domain.TableHubs, Op: op, TenantID: tenantID, RecordID: id, At: m.now()})
}
