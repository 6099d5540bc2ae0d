package realtime

import (
	"sync"
	"time"

	"github.com/atlassonic/atlas/internal/domain"
)

// CoalescerConfig controls when buffered changes are delivered.
type CoalescerConfig struct {
	// MaxPending delivers immediately once this many changes are buffered.
	// Default: 100.
	MaxPending int

	// IdleTimeout delivers when no new change arrives within this duration.
	// Default: 250ms.
	IdleTimeout time.Duration
}

// Batch is a burst of changes on one topic, delivered together so that
// subscribers refetch once.
type Batch struct {
	Topic     string          `json:"topic"`
	TenantID  string          `json:"tenant_id"`
	Table     string          `json:"table"`
	RecordIDs []string        `json:"record_ids"`
	Changes   []domain.Change `json:"changes"`
}

// Coalescer buffers the changes of one topic and hands them to deliver as a
// Batch after an idle window or once MaxPending is reached.
type Coalescer struct {
	cfg     CoalescerConfig
	topic   string
	deliver func(Batch)

	mu      sync.Mutex
	pending []domain.Change
	timer   *time.Timer
	batches int
}

// NewCoalescer creates a coalescer for one topic.
func NewCoalescer(cfg CoalescerConfig, topic string, deliver func(Batch)) *Coalescer {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 100
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 250 * time.Millisecond
	}
	return &Coalescer{cfg: cfg, topic: topic, deliver: deliver}
}

// Add buffers a change and restarts the idle window.
func (c *Coalescer) Add(ch domain.Change) {
	c.mu.Lock()
	c.pending = append(c.pending, ch)

	if c.timer != nil {
		c.timer.Stop()
	}
	if len(c.pending) >= c.cfg.MaxPending {
		b, ok := c.takeLocked()
		c.mu.Unlock()
		if ok {
			c.deliver(b)
		}
		return
	}
	c.timer = time.AfterFunc(c.cfg.IdleTimeout, c.Flush)
	c.mu.Unlock()
}

// Flush delivers whatever is buffered now.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	b, ok := c.takeLocked()
	c.mu.Unlock()
	if ok {
		c.deliver(b)
	}
}

// Batches returns how many batches have been delivered.
func (c *Coalescer) Batches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches
}

// takeLocked empties the buffer into a Batch. deliver runs outside the lock
// so a slow subscriber cannot stall Add.
func (c *Coalescer) takeLocked() (Batch, bool) {
	if len(c.pending) == 0 {
		return Batch{}, false
	}
	first := c.pending[0]
	b := Batch{
		Topic:    c.topic,
		TenantID: first.TenantID,
		Table:    first.Table,
		Changes:  c.pending,
	}
	seen := make(map[string]bool, len(c.pending))
	for _, ch := range c.pending {
		if !seen[ch.RecordID] {
			seen[ch.RecordID] = true
			b.RecordIDs = append(b.RecordIDs, ch.RecordID)
		}
	}
	c.pending = nil
	c.batches++
	return b, true
}
