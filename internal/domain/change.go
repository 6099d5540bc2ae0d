package domain

import "time"

// ChangeOp is the kind of row mutation a Change reports.
type ChangeOp string

const (
	OpInsert ChangeOp = "INSERT"
	OpUpdate ChangeOp = "UPDATE"
	OpDelete ChangeOp = "DELETE"
)

// Table names carried by Change.
const (
	TableAgents     = "agents"
	TableTasks      = "tasks"
	TableQueue      = "orchestration_queue"
	TableSwarms     = "swarms"
	TableDashboards = "dashboards"
	TableHubs       = "hub_connections"
	TableFleet      = "fleet_targets"
)

// Tables lists every table a realtime client may subscribe to.
var Tables = []string{TableAgents, TableTasks, TableQueue, TableSwarms, TableDashboards, TableHubs, TableFleet}

// Change is a committed mutation of one row.
type Change struct {
	Table    string    `json:"table"`
	Op       ChangeOp  `json:"op"`
	TenantID string    `json:"tenant_id"`
	RecordID string    `json:"record_id"`
	At       time.Time `json:"at"`
}

// Topic is the realtime topic a change is delivered on.
func (c Change) Topic() string {
	return Topic(c.TenantID, c.Table)
}

// Topic joins a tenant and a table into a realtime topic key.
func Topic(tenant, table string) string {
	return tenant + ":" + table
}
