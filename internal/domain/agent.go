package domain

import "time"

// AgentStatus is the lifecycle state of an agent row.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentActive  AgentStatus = "active"
	AgentBusy    AgentStatus = "busy"
	AgentPaused  AgentStatus = "paused"
	AgentOffline AgentStatus = "offline"
	AgentError   AgentStatus = "error"
)

// Valid reports whether s is a known agent status.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentIdle, AgentActive, AgentBusy, AgentPaused, AgentOffline, AgentError:
		return true
	}
	return false
}

// Assignable reports whether agents in this status may receive new work.
func (s AgentStatus) Assignable() bool {
	switch s {
	case AgentPaused, AgentOffline, AgentError:
		return false
	}
	return true
}

// Agent is a simulated worker. It has no execution semantics of its own;
// the orchestrator only reads its attributes and bumps its load counters.
type Agent struct {
	ID               string      `json:"id" db:"id"`
	TenantID         string      `json:"tenant_id" db:"tenant_id"`
	Name             string      `json:"name" db:"name"`
	Sector           string      `json:"sector" db:"sector"`
	Status           AgentStatus `json:"status" db:"status"`
	Capabilities     StringList  `json:"capabilities" db:"capabilities"`
	MaxConcurrent    int         `json:"max_concurrent" db:"max_concurrent"`
	CurrentTasks     int         `json:"current_tasks" db:"current_tasks"`
	PerformanceScore float64     `json:"performance_score" db:"performance_score"`
	SuccessRate      float64     `json:"success_rate" db:"success_rate"`
	TasksCompleted   int         `json:"tasks_completed" db:"tasks_completed"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
}

// Load is the fraction of the agent's concurrency slots in use.
func (a Agent) Load() float64 {
	if a.MaxConcurrent <= 0 {
		return 1
	}
	l := float64(a.CurrentTasks) / float64(a.MaxConcurrent)
	if l > 1 {
		return 1
	}
	if l < 0 {
		return 0
	}
	return l
}

// HasCapacity reports whether the agent can take one more task.
func (a Agent) HasCapacity() bool {
	return a.CurrentTasks < a.MaxConcurrent
}
