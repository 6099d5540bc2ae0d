// Package dashboard implements shared dashboards: persisted widget layouts
// with per-user roles, plus the tenant metrics those widgets display.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atlassonic/atlas/internal/cache"
	"github.com/atlassonic/atlas/internal/domain"
	"github.com/atlassonic/atlas/internal/logging"
	"github.com/atlassonic/atlas/internal/store"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidInput  = errors.New("invalid dashboard input")
	ErrInvalidMember = errors.New("invalid member")
)

// DefaultListLimit bounds List results.
const DefaultListLimit = 100

// Publisher receives committed row changes.
type Publisher interface {
	Publish(domain.Change)
}

// FleetStatuser supplies fleet utilization for Metrics.
type FleetStatuser interface {
	Status(ctx context.Context, tenantID string) (*domain.FleetStatus, error)
}

// CreateRequest holds the fields of a new dashboard.
type CreateRequest struct {
	Name        string               `json:"name" validate:"required,max=200"`
	Description string               `json:"description" validate:"max=2000"`
	Kind        domain.DashboardKind `json:"kind" validate:"omitempty,oneof=executive business workspace"`
	Layout      domain.JSONDoc       `json:"layout"`
	IsPublic    bool                 `json:"is_public"`
}

// UpdateRequest changes the non-nil fields of a dashboard.
type UpdateRequest struct {
	Name        *string               `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string               `json:"description" validate:"omitempty,max=2000"`
	Kind        *domain.DashboardKind `json:"kind" validate:"omitempty,oneof=executive business workspace"`
	Layout      domain.JSONDoc        `json:"layout"`
	IsPublic    *bool                 `json:"is_public"`
}

// Metrics is the tenant rollup dashboards display.
type Metrics struct {
	Agents           map[domain.AgentStatus]int `json:"agents"`
	Tasks            map[domain.TaskStatus]int  `json:"tasks"`
	Queue            domain.QueueStats          `json:"queue"`
	QueueDepth       int                        `json:"queue_depth"`
	FleetUtilization float64                    `json:"fleet_utilization"`
	GeneratedAt      time.Time                  `json:"generated_at"`
}

// Service implements the shared dashboard actions.
type Service struct {
	db    *store.DB
	cache cache.Cache
	fleet FleetStatuser
	pub   Publisher
	log   *logging.Logger
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCache caches Metrics results.
func WithCache(c cache.Cache) Option { return func(s *Service) { s.cache = c } }

// WithFleet adds fleet utilization to Metrics.
func WithFleet(f FleetStatuser) Option { return func(s *Service) { s.fleet = f } }

// WithPublisher announces dashboard changes.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.pub = p } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(s *Service) { s.log = l.Sub("dashboard") } }

// New creates a dashboard service.
func New(db *store.DB, opts ...Option) *Service {
	s := &Service{
		db:  db,
		log: logging.New(nil, "silent"),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create stores a new dashboard owned by userID.
func (s *Service) Create(ctx context.Context, tenantID, userID string, req CreateRequest) (*domain.Dashboard, error) {
	if userID == "" {
		return nil, ErrForbidden
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	kind := req.Kind
	if kind == "" {
		kind = domain.DashboardWorkspace
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidInput, kind)
	}
	if err := checkLayout(req.Layout); err != nil {
		return nil, err
	}

	d := &domain.Dashboard{
		TenantID:    tenantID,
		OwnerID:     userID,
		Name:        name,
		Description: req.Description,
		Kind:        kind,
		Layout:      req.Layout,
		IsPublic:    req.IsPublic,
	}
	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		return tx.Dashboards().Create(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	d.Members, err = s.db.Dashboards().Members(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	s.publish(tenantID, domain.OpInsert, d.ID)
	s.log.Info().Str("tenant", tenantID).Str("dashboard", d.ID).Str("owner", userID).Msg("dashboard created")
	return d, nil
}

// List returns the dashboards the user belongs to plus public ones.
func (s *Service) List(ctx context.Context, tenantID, userID string) ([]domain.Dashboard, error) {
	return s.db.Dashboards().ListForUser(ctx, tenantID, userID, DefaultListLimit)
}

// Get returns a dashboard with its members. Private dashboards are only
// visible to members.
func (s *Service) Get(ctx context.Context, tenantID, userID, id string) (*domain.Dashboard, error) {
	d, err := s.db.Dashboards().Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !d.IsPublic {
		if _, err := s.role(ctx, d.ID, userID); err != nil {
			return nil, err
		}
	}
	d.Members, err = s.db.Dashboards().Members(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Update changes a dashboard. Owners and editors may update.
func (s *Service) Update(ctx context.Context, tenantID, userID, id string, req UpdateRequest) (*domain.Dashboard, error) {
	d, err := s.db.Dashboards().Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	role, err := s.role(ctx, d.ID, userID)
	if err != nil {
		return nil, err
	}
	if !role.CanEdit() {
		return nil, fmt.Errorf("%w: %s cannot edit", ErrForbidden, role)
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
		}
		d.Name = name
	}
	if req.Description != nil {
		d.Description = *req.Description
	}
	if req.Kind != nil {
		if !req.Kind.Valid() {
			return nil, fmt.Errorf("%w: kind %q", ErrInvalidInput, *req.Kind)
		}
		d.Kind = *req.Kind
	}
	if req.Layout != nil {
		if err := checkLayout(req.Layout); err != nil {
			return nil, err
		}
		d.Layout = req.Layout
	}
	if req.IsPublic != nil {
		if role != domain.MemberOwner && *req.IsPublic != d.IsPublic {
			return nil, fmt.Errorf("%w: only the owner changes visibility", ErrForbidden)
		}
		d.IsPublic = *req.IsPublic
	}

	if err := s.db.Dashboards().Update(ctx, d); err != nil {
		return nil, err
	}
	s.publish(tenantID, domain.OpUpdate, d.ID)
	return d, nil
}

// Delete removes a dashboard. Only the owner may delete.
func (s *Service) Delete(ctx context.Context, tenantID, userID, id string) error {
	if err := s.requireOwner(ctx, tenantID, userID, id); err != nil {
		return err
	}
	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		return tx.Dashboards().Delete(ctx, tenantID, id)
	})
	if err != nil {
		return err
	}
	s.publish(tenantID, domain.OpDelete, id)
	s.log.Info().Str("tenant", tenantID).Str("dashboard", id).Msg("dashboard deleted")
	return nil
}

// AddMember grants memberID an editor or viewer role. Only the owner may
// share.
func (s *Service) AddMember(ctx context.Context, tenantID, userID, id, memberID string, role domain.MemberRole) (*domain.DashboardMember, error) {
	if err := s.requireOwner(ctx, tenantID, userID, id); err != nil {
		return nil, err
	}
	memberID = strings.TrimSpace(memberID)
	switch {
	case memberID == "":
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidMember)
	case memberID == userID:
		return nil, fmt.Errorf("%w: owner role cannot change", ErrInvalidMember)
	case role != domain.MemberEditor && role != domain.MemberViewer:
		return nil, fmt.Errorf("%w: role must be editor or viewer, got %q", ErrInvalidMember, role)
	}

	m := &domain.DashboardMember{DashboardID: id, UserID: memberID, Role: role}
	if err := s.db.Dashboards().AddMember(ctx, m); err != nil {
		return nil, err
	}
	s.publish(tenantID, domain.OpUpdate, id)
	return m, nil
}

// RemoveMember revokes a membership. Only the owner manages members and the
// owner cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, tenantID, userID, id, memberID string) error {
	if err := s.requireOwner(ctx, tenantID, userID, id); err != nil {
		return err
	}
	memberID = strings.TrimSpace(memberID)
	switch {
	case memberID == "":
		return fmt.Errorf("%w: user id is required", ErrInvalidMember)
	case memberID == userID:
		return fmt.Errorf("%w: the owner cannot be removed", ErrInvalidMember)
	}
	if err := s.db.Dashboards().RemoveMember(ctx, id, memberID); err != nil {
		return err
	}
	s.publish(tenantID, domain.OpUpdate, id)
	return nil
}

// Metrics returns the tenant rollup, served from cache while fresh.
func (s *Service) Metrics(ctx context.Context, tenantID string) (*Metrics, error) {
	if s.cache == nil {
		return s.loadMetrics(ctx, tenantID)
	}
	return cache.Load(ctx, s.cache, "dashboard:metrics:"+tenantID, func(ctx context.Context) (*Metrics, error) {
		return s.loadMetrics(ctx, tenantID)
	})
}

func (s *Service) loadMetrics(ctx context.Context, tenantID string) (*Metrics, error) {
	out := &Metrics{GeneratedAt: s.now()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.Agents, err = s.db.Agents().CountByStatus(gctx, tenantID)
		return err
	})
	g.Go(func() error {
		var err error
		out.Tasks, err = s.db.Tasks().CountByStatus(gctx, tenantID)
		return err
	})
	g.Go(func() error {
		var err error
		out.Queue, err = s.db.Queue().Stats(gctx, tenantID)
		return err
	})
	if s.fleet != nil {
		g.Go(func() error {
			st, err := s.fleet.Status(gctx, tenantID)
			if err != nil {
				return err
			}
			out.FleetUtilization = st.Utilization
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("loading dashboard metrics: %w", err)
	}
	out.QueueDepth = out.Queue.Depth()
	return out, nil
}

func (s *Service) requireOwner(ctx context.Context, tenantID, userID, id string) error {
	d, err := s.db.Dashboards().Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if d.OwnerID != userID {
		return fmt.Errorf("%w: only the owner may do this", ErrForbidden)
	}
	return nil
}

// role maps a missing membership to ErrForbidden.
func (s *Service) role(ctx context.Context, dashboardID, userID string) (domain.MemberRole, error) {
	if userID == "" {
		return "", ErrForbidden
	}
	role, err := s.db.Dashboards().Role(ctx, dashboardID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: not a member", ErrForbidden)
	}
	return role, err
}

func checkLayout(layout domain.JSONDoc) error {
	if len(layout) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(layout, &v); err != nil {
		return fmt.Errorf("%w: layout is not JSON: %v", ErrInvalidInput, err)
	}
	switch v.(type) {
	case map[string]any, []any:
		return nil
	}
	return fmt.Errorf("%w: layout must be an object or array", ErrInvalidInput)
}

func (s *Service) publish(tenantID string, op domain.ChangeOp, id string) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(domain.Change{Table: domain.TableDashboards, Op: op, TenantID: tenantID, RecordID: id, At: s.now()})
}
