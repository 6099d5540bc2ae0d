// Package fleet reports agent fleet capacity per sector and records the
// operator's desired capacity for each sector.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/atlassonic/atlas/internal/config"
	"github.com/atlassonic/atlas/internal/domain"
	"github.com/atlassonic/atlas/internal/hooks"
	"github.com/atlassonic/atlas/internal/logging"
	"github.com/atlassonic/atlas/internal/store"
)

var (
	ErrUnknownSector = errors.New("unknown sector")
	ErrInvalidTarget = errors.New("target out of range")
)

// Publisher receives committed row changes.
type Publisher interface {
	Publish(domain.Change)
}

// Manager aggregates fleet status from the store.
type Manager struct {
	db      *store.DB
	total   int
	sectors []config.SectorEntry

	log   *logging.Logger
	hooks *hooks.Manager
	pub   Publisher
	now   func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l *logging.Logger) Option { return func(m *Manager) { m.log = l.Sub("fleet") } }
func WithHooks(h *hooks.Manager) Option  { return func(m *Manager) { m.hooks = h } }
func WithPublisher(p Publisher) Option   { return func(m *Manager) { m.pub = p } }

// New creates a fleet manager. Sectors default to config.DefaultSectors.
func New(db *store.DB, cfg config.FleetConfig, opts ...Option) *Manager {
	m := &Manager{
		db:      db,
		total:   cfg.TotalCapacity,
		sectors: cfg.Sectors,
		log:     logging.New(nil, "silent"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	if m.total <= 0 {
		m.total = config.DefaultFleetCapacity
	}
	if len(m.sectors) == 0 {
		m.sectors = config.DefaultSectors()
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Capacity returns the configured capacity of a sector.
func (m *Manager) Capacity(sector string) (int, bool) {
	sector = strings.ToLower(strings.TrimSpace(sector))
	for _, s := range m.sectors {
		if strings.ToLower(s.Name) == sector {
			return int(math.Round(float64(m.total) * s.Share)), true
		}
	}
	return 0, false
}

// Status rolls up stored agents by sector and status. Configured sectors
// come first in configuration order; sectors that only exist on agents
// follow alphabetically with zero capacity. Offline agents are not counted
// as deployed.
func (m *Manager) Status(ctx context.Context, tenantID string) (*domain.FleetStatus, error) {
	counts, err := m.db.Agents().CountBySector(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	targets, err := m.db.Fleet().Targets(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	bySector := make(map[string]*domain.SectorStatus)
	var order []string
	for _, s := range m.sectors {
		name := strings.ToLower(s.Name)
		capacity, _ := m.Capacity(name)
		bySector[name] = &domain.SectorStatus{Sector: name, Capacity: capacity, ByStatus: map[domain.AgentStatus]int{}}
		order = append(order, name)
	}
	var extra []string
	for _, c := range counts {
		sec, ok := bySector[c.Sector]
		if !ok {
			sec = &domain.SectorStatus{Sector: c.Sector, ByStatus: map[domain.AgentStatus]int{}}
			bySector[c.Sector] = sec
			extra = append(extra, c.Sector)
		}
		sec.ByStatus[c.Status] += c.N
	}
	sort.Strings(extra)
	order = append(order, extra...)

	out := &domain.FleetStatus{
		TotalCapacity: m.total,
		ByStatus:      map[domain.AgentStatus]int{},
		Sectors:       make([]domain.SectorStatus, 0, len(order)),
	}
	busy := 0
	for _, name := range order {
		sec := bySector[name]
		sec.Target = sec.Capacity
		if t, ok := targets[name]; ok {
			sec.Target = t
		}
		for st, n := range sec.ByStatus {
			out.ByStatus[st] += n
			if st != domain.AgentOffline {
				sec.Deployed += n
			}
		}
		sec.Utilization = utilization(sec.ByStatus[domain.AgentBusy], sec.Deployed)
		out.Deployed += sec.Deployed
		busy += sec.ByStatus[domain.AgentBusy]
		out.Sectors = append(out.Sectors, *sec)
	}
	out.Utilization = utilization(busy, out.Deployed)
	return out, nil
}

func utilization(busy, deployed int) float64 {
	if deployed == 0 {
		return 0
	}
	return math.Round(float64(busy)/float64(deployed)*10000) / 10000
}

// Scale records the desired capacity for a configured sector.
func (m *Manager) Scale(ctx context.Context, tenantID, sector string, target int) (*domain.FleetTarget, error) {
	sector = strings.ToLower(strings.TrimSpace(sector))
	capacity, ok := m.Capacity(sector)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSector, sector)
	}
	if target < 0 || target > capacity {
		return nil, fmt.Errorf("%w: %d not in [0, %d] for %s", ErrInvalidTarget, target, capacity, sector)
	}

	t := &domain.FleetTarget{TenantID: tenantID, Sector: sector, Target: target}
	if err := m.db.Fleet().SetTarget(ctx, t); err != nil {
		return nil, err
	}

	if m.pub != nil {
		m.pub.Publish(domain.Change{Table: domain.TableFleet, Op: domain.OpUpdate, TenantID: tenantID, RecordID: sector, At: m.now()})
	}
	m.hooks.Emit(ctx, hooks.EventFleetScaled, tenantID, map[string]any{"sector": sector, "target": target})
	m.log.Info().Str("tenant", tenantID).Str("sector", sector).Int("target", target).Msg("sector scaled")
	return t, nil
}
