package domain

import "time"

// DashboardKind distinguishes the dashboard families.
type DashboardKind string

const (
	DashboardExecutive DashboardKind = "executive"
	DashboardBusiness  DashboardKind = "business"
	DashboardWorkspace DashboardKind = "workspace"
)

// Valid reports whether k is a known dashboard kind.
func (k DashboardKind) Valid() bool {
	switch k {
	case DashboardExecutive, DashboardBusiness, DashboardWorkspace:
		return true
	}
	return false
}

// MemberRole is a user's permission level on a shared dashboard.
type MemberRole string

const (
	MemberOwner  MemberRole = "owner"
	MemberEditor MemberRole = "editor"
	MemberViewer MemberRole = "viewer"
)

// CanEdit reports whether the role may change the dashboard.
func (r MemberRole) CanEdit() bool { return r == MemberOwner || r == MemberEditor }

// Dashboard is a shared, persisted widget layout.
type Dashboard struct {
	ID          string            `json:"id" db:"id"`
	TenantID    string            `json:"tenant_id" db:"tenant_id"`
	OwnerID     string            `json:"owner_id" db:"owner_id"`
	Name        string            `json:"name" db:"name"`
	Description string            `json:"description" db:"description"`
	Kind        DashboardKind     `json:"kind" db:"kind"`
	Layout      JSONDoc           `json:"layout" db:"layout"`
	IsPublic    bool              `json:"is_public" db:"is_public"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
	Members     []DashboardMember `json:"members,omitempty" db:"-"`
}

// DashboardMember grants a user a role on a dashboard.
type DashboardMember struct {
	DashboardID string     `json:"dashboard_id" db:"dashboard_id"`
	UserID      string     `json:"user_id" db:"user_id"`
	Role        MemberRole `json:"role" db:"role"`
	AddedAt     time.Time  `json:"added_at" db:"added_at"`
}
