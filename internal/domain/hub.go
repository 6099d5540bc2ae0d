package domain

import "time"

// HubStatus is the health of a hub-to-hub link.
type HubStatus string

const (
	HubConnected    HubStatus = "connected"
	HubDegraded     HubStatus = "degraded"
	HubDisconnected HubStatus = "disconnected"
)

// HubConnection is an unordered link between two hubs. SourceHub always
// sorts before TargetHub so a pair has exactly one row.
type HubConnection struct {
	ID            string    `json:"id" db:"id"`
	TenantID      string    `json:"tenant_id" db:"tenant_id"`
	SourceHub     string    `json:"source_hub" db:"source_hub"`
	TargetHub     string    `json:"target_hub" db:"target_hub"`
	Status        HubStatus `json:"status" db:"status"`
	LatencyMs     int       `json:"latency_ms" db:"latency_ms"`
	BandwidthMbps float64   `json:"bandwidth_mbps" db:"bandwidth_mbps"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// HubPair normalizes two hub names into (low, high) order.
func HubPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
