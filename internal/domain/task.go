package domain

import "time"

// Priority orders tasks for the coordinator.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank maps a priority onto 1..4; unknown priorities rank as medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	default:
		return 2
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a task row.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCanceled   TaskStatus = "canceled"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskAssigned, TaskInProgress, TaskCompleted, TaskFailed, TaskCanceled:
		return true
	}
	return false
}

// DefaultEstimatedMinutes applies when a task carries no estimate.
const DefaultEstimatedMinutes = 30

// Task is a unit of work waiting to be matched with an agent.
type Task struct {
	ID                   string     `json:"id" db:"id"`
	TenantID             string     `json:"tenant_id" db:"tenant_id"`
	Title                string     `json:"title" db:"title"`
	Description          string     `json:"description" db:"description"`
	Type                 string     `json:"type" db:"type"`
	Sector               string     `json:"sector" db:"sector"`
	Priority             Priority   `json:"priority" db:"priority"`
	Status               TaskStatus `json:"status" db:"status"`
	RequiredCapabilities StringList `json:"required_capabilities" db:"required_capabilities"`
	DependsOn            StringList `json:"depends_on" db:"depends_on"`
	EstimatedMinutes     int        `json:"estimated_minutes" db:"estimated_minutes"`
	AssignedAgentID      string     `json:"assigned_agent_id" db:"assigned_agent_id"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

// Estimate returns the task's estimated duration in minutes.
func (t Task) Estimate() int {
	if t.EstimatedMinutes <= 0 {
		return DefaultEstimatedMinutes
	}
	return t.EstimatedMinutes
}

// ScoreBreakdown is the weighted contribution of each factor to a score.
type ScoreBreakdown struct {
	Sector       float64 `json:"sector"`
	Capability   float64 `json:"capability"`
	Performance  float64 `json:"performance"`
	Availability float64 `json:"availability"`
	Reliability  float64 `json:"reliability"`
}

// Assignment pairs a task with the agent chosen for it.
type Assignment struct {
	TaskID        string         `json:"task_id"`
	TaskTitle     string         `json:"task_title,omitempty"`
	AgentID       string         `json:"agent_id"`
	AgentName     string         `json:"agent_name"`
	Score         float64        `json:"score"`
	Breakdown     ScoreBreakdown `json:"breakdown"`
	ParallelGroup int            `json:"parallel_group"`
	Reasoning     string         `json:"reasoning"`
}

// Unassigned records a task the coordinator could not place.
type Unassigned struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}
