package domain

import "time"

// QueueStatus is the state of an orchestration_queue row.
type QueueStatus string

const (
	QueueQueued    QueueStatus = "queued"
	QueueClaimed   QueueStatus = "claimed"
	QueueCompleted QueueStatus = "completed"
	QueueFailed    QueueStatus = "failed"
	QueueCanceled  QueueStatus = "canceled"
)

// Valid reports whether s is a known queue status.
func (s QueueStatus) Valid() bool {
	switch s {
	case QueueQueued, QueueClaimed, QueueCompleted, QueueFailed, QueueCanceled:
		return true
	}
	return false
}

// QueueEntry is one planned assignment waiting to be picked up.
type QueueEntry struct {
	ID            string      `json:"id" db:"id"`
	TenantID      string      `json:"tenant_id" db:"tenant_id"`
	PlanID        string      `json:"plan_id" db:"plan_id"`
	TaskID        string      `json:"task_id" db:"task_id"`
	AgentID       string      `json:"agent_id" db:"agent_id"`
	Status        QueueStatus `json:"status" db:"status"`
	Priority      int         `json:"priority" db:"priority"`
	ParallelGroup int         `json:"parallel_group" db:"parallel_group"`
	Score         float64     `json:"score" db:"score"`
	Attempts      int         `json:"attempts" db:"attempts"`
	LastError     string      `json:"last_error" db:"last_error"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// QueueStats counts queue rows per status.
type QueueStats map[QueueStatus]int

// Depth is the number of rows not yet finished.
func (s QueueStats) Depth() int {
	return s[QueueQueued] + s[QueueClaimed]
}
