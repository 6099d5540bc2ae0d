package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/atlassonic/atlas/internal/config"
	"github.com/atlassonic/atlas/internal/domain"
	"github.com/atlassonic/atlas/internal/logging"
)

// DefaultChannel is the redis channel used when none is configured.
const DefaultChannel = "atlas:changes"

// envelope is the wire form of a bridged change.
type envelope struct {
	Origin string        `json:"origin"`
	Change domain.Change `json:"change"`
}

// RedisBridge shares changes between brokers over one redis pub/sub channel.
// Messages carry the publishing broker's origin so a broker never receives
// its own changes twice.
type RedisBridge struct {
	rdb     redis.UniversalClient
	channel string
	broker  *Broker
	log     *logging.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisClient connects to redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// NewRedisBridge wires a broker to a redis channel. Call Start to begin.
func NewRedisBridge(rdb redis.UniversalClient, channel string, b *Broker, log *logging.Logger) *RedisBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBridge{
		rdb:     rdb,
		channel: channel,
		broker:  b,
		log:     log.Sub("realtime-bridge"),
	}
}

// Start subscribes to the channel and installs the bridge as the broker's
// forwarder. It returns once the subscription is confirmed.
func (r *RedisBridge) Start(ctx context.Context) error {
	ps := r.rdb.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}

	r.mu.Lock()
	r.pubsub = ps
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.loop(ps.Channel(), r.done)
	r.broker.SetForwarder(r)
	r.log.Info().Str("channel", r.channel).Str("origin", r.broker.Origin()).Msg("realtime bridge started")
	return nil
}

func (r *RedisBridge) loop(msgs <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for msg := range msgs {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			r.log.Warn().Err(err).Msg("dropping malformed bridge message")
			continue
		}
		if env.Origin == r.broker.Origin() {
			continue
		}
		r.broker.Receive(env.Change)
	}
}

// Forward publishes a local change for the other instances.
func (r *RedisBridge) Forward(ctx context.Context, c domain.Change) error {
	payload, err := json.Marshal(envelope{Origin: r.broker.Origin(), Change: c})
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, payload).Err()
}

// Close unsubscribes and waits for the receive loop to exit.
func (r *RedisBridge) Close() error {
	r.mu.Lock()
	ps, done := r.pubsub, r.done
	r.pubsub = nil
	r.mu.Unlock()
	if ps == nil {
		return nil
	}
	r.broker.SetForwarder(nil)
	err := ps.Close()
	<-done
	return err
}
