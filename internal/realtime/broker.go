// Package realtime fans committed row changes out to subscribers. Changes
// are grouped per tenant and table, debounced into batches and optionally
// bridged between gateway instances over redis pub/sub.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atlassonic/atlas/internal/config"
	"github.com/atlassonic/atlas/internal/domain"
	"github.com/atlassonic/atlas/internal/logging"
	"github.com/atlassonic/atlas/internal/metrics"
)

var (
	ErrUnknownTable = errors.New("unknown table")
	ErrClosed       = errors.New("broker closed")
)

// subscriptionBuffer is how many batches a slow subscriber may lag behind
// before batches are dropped for it.
const subscriptionBuffer = 32

// Forwarder carries locally published changes to other instances.
type Forwarder interface {
	Forward(ctx context.Context, c domain.Change) error
}

// Subscription receives batches for a set of topics until closed.
type Subscription struct {
	ID     string
	Topics []string
	C      <-chan Batch

	ch     chan Batch
	broker *Broker
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() { s.broker.Unsubscribe(s.ID) }

// Broker routes changes to subscriptions by topic.
type Broker struct {
	cfg     CoalescerConfig
	origin  string
	log     *logging.Logger
	metrics *metrics.Metrics

	mu         sync.RWMutex
	subs       map[string]*Subscription
	byTopic    map[string]map[string]*Subscription
	coalescers map[string]*Coalescer
	fwd        Forwarder
	closed     bool
}

// NewBroker creates a broker configured from the realtime section.
func NewBroker(cfg config.RealtimeConfig, log *logging.Logger, m *metrics.Metrics) *Broker {
	return &Broker{
		cfg: CoalescerConfig{
			MaxPending:  cfg.MaxPending,
			IdleTimeout: time.Duration(cfg.DebounceMs) * time.Millisecond,
		},
		origin:     uuid.NewString(),
		log:        log.Sub("realtime"),
		metrics:    m,
		subs:       make(map[string]*Subscription),
		byTopic:    make(map[string]map[string]*Subscription),
		coalescers: make(map[string]*Coalescer),
	}
}

// Origin identifies this broker on the bridge.
func (b *Broker) Origin() string { return b.origin }

// SetForwarder installs the cross-instance forwarder.
func (b *Broker) SetForwarder(f Forwarder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fwd = f
}

// Publish delivers a local change to local subscribers and forwards it to
// other instances.
func (b *Broker) Publish(c domain.Change) {
	b.Receive(c)

	b.mu.RLock()
	fwd := b.fwd
	b.mu.RUnlock()
	if fwd == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fwd.Forward(ctx, c); err != nil {
		b.log.Warn().Err(err).Str("topic", c.Topic()).Msg("forwarding change failed")
	}
}

// Receive delivers a change to local subscribers only. The bridge calls it
// for changes published elsewhere.
func (b *Broker) Receive(c domain.Change) {
	topic := c.Topic()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	co, ok := b.coalescers[topic]
	if !ok {
		co = NewCoalescer(b.cfg, topic, b.deliver)
		b.coalescers[topic] = co
	}
	b.mu.Unlock()

	co.Add(c)
}

func (b *Broker) deliver(batch Batch) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.byTopic[batch.Topic] {
		select {
		case s.ch <- batch:
		default:
			b.log.Warn().Str("subscription", s.ID).Str("topic", batch.Topic).Msg("subscriber lagging, batch dropped")
		}
	}
	b.metrics.BatchDelivered()
}

// Subscribe opens a subscription on the given tables of one tenant.
func (b *Broker) Subscribe(tenantID string, tables []string) (*Subscription, error) {
	if len(tables) == 0 {
		tables = domain.Tables
	}
	topics := make([]string, 0, len(tables))
	for _, t := range tables {
		if !slices.Contains(domain.Tables, t) {
			return nil, fmt.Errorf("%q: %w", t, ErrUnknownTable)
		}
		topic := domain.Topic(tenantID, t)
		if !slices.Contains(topics, topic) {
			topics = append(topics, topic)
		}
	}

	ch := make(chan Batch, subscriptionBuffer)
	s := &Subscription{ID: uuid.NewString(), Topics: topics, C: ch, ch: ch, broker: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.subs[s.ID] = s
	for _, topic := range topics {
		if b.byTopic[topic] == nil {
			b.byTopic[topic] = make(map[string]*Subscription)
		}
		b.byTopic[topic][s.ID] = s
	}
	b.metrics.SubscriberDelta(1)
	b.log.Debug().Str("subscription", s.ID).Strs("topics", topics).Msg("subscribed")
	return s, nil
}

// Unsubscribe closes a subscription by id. Unknown ids are ignored.
func (b *Broker) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(id)
}

func (b *Broker) removeLocked(id string) bool {
	s, ok := b.subs[id]
	if !ok {
		return false
	}
	delete(b.subs, id)
	for _, topic := range s.Topics {
		delete(b.byTopic[topic], id)
		if len(b.byTopic[topic]) == 0 {
			delete(b.byTopic, topic)
		}
	}
	close(s.ch)
	b.metrics.SubscriberDelta(-1)
	return true
}

// Subscribers returns the number of open subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close flushes pending batches and closes every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	cos := make([]*Coalescer, 0, len(b.coalescers))
	for _, co := range b.coalescers {
		cos = append(cos, co)
	}
	b.mu.Unlock()

	for _, co := range cos {
		co.Flush()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id := range b.subs {
		b.removeLocked(id)
	}
}
