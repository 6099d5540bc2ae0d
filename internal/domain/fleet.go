package domain

import "time"

// FleetTarget is the desired capacity an operator set for one sector.
type FleetTarget struct {
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	Sector    string    `json:"sector" db:"sector"`
	Target    int       `json:"target" db:"target"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SectorStatus summarizes the deployed agents in one sector.
type SectorStatus struct {
	Sector      string              `json:"sector"`
	Capacity    int                 `json:"capacity"`
	Target      int                 `json:"target"`
	Deployed    int                 `json:"deployed"`
	ByStatus    map[AgentStatus]int `json:"by_status"`
	Utilization float64             `json:"utilization"`
}

// FleetStatus is the fleet-wide rollup.
type FleetStatus struct {
	TotalCapacity int                 `json:"total_capacity"`
	Deployed      int                 `json:"deployed"`
	ByStatus      map[AgentStatus]int `json:"by_status"`
	Utilization   float64             `json:"utilization"`
	Sectors       []SectorStatus      `json:"sectors"`
}
