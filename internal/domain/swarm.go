package domain

import "time"

// Formation is the communication topology of a swarm.
type Formation string

const (
	FormationHierarchical Formation = "hierarchical"
	FormationMesh         Formation = "mesh"
	FormationRing         Formation = "ring"
	FormationStar         Formation = "star"
)

// Valid reports whether f is a known formation.
func (f Formation) Valid() bool {
	switch f {
	case FormationHierarchical, FormationMesh, FormationRing, FormationStar:
		return true
	}
	return false
}

// SwarmStatus is the lifecycle state of a swarm.
type SwarmStatus string

const (
	SwarmForming   SwarmStatus = "forming"
	SwarmActive    SwarmStatus = "active"
	SwarmDisbanded SwarmStatus = "disbanded"
)

// Swarm roles.
const (
	RoleLeader = "leader"
	RoleMember = "member"
)

// SwarmMember is one agent's seat in a swarm.
type SwarmMember struct {
	SwarmID string  `json:"swarm_id" db:"swarm_id"`
	AgentID string  `json:"agent_id" db:"agent_id"`
	Name    string  `json:"name" db:"name"`
	Sector  string  `json:"sector" db:"sector"`
	Role    string  `json:"role" db:"role"`
	Score   float64 `json:"score" db:"score"`
}

// SwarmLink is a directed communication edge between two members.
type SwarmLink struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Swarm is a group of agents formed around one objective.
type Swarm struct {
	ID        string        `json:"id" db:"id"`
	TenantID  string        `json:"tenant_id" db:"tenant_id"`
	Objective string        `json:"objective" db:"objective"`
	Formation Formation     `json:"formation" db:"formation"`
	LeaderID  string        `json:"leader_id" db:"leader_id"`
	Status    SwarmStatus   `json:"status" db:"status"`
	Requested int           `json:"requested_size" db:"requested_size"`
	Partial   bool          `json:"partial" db:"partial"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
	Members   []SwarmMember `json:"members" db:"-"`
	Links     []SwarmLink   `json:"links" db:"-"`
}
