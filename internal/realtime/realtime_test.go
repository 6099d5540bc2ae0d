package realtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlassonic/atlas/internal/config"
	"github.com/atlassonic/atlas/internal/domain"
	"github.com/atlassonic/atlas/internal/logging"
	"github.com/atlassonic/atlas/internal/metrics"
)

func change(table, id string) domain.Change {
	return domain.Change{Table: table, Op: domain.OpUpdate, TenantID: "acme", RecordID: id, At: time.Now()}
}

func testBroker(debounce time.Duration) *Broker {
	return NewBroker(config.RealtimeConfig{DebounceMs: int(debounce.Milliseconds()), MaxPending: 100},
		logging.New(nil, "silent"), metrics.New())
}

func recv(t *testing.T, c <-chan Batch) Batch {
	t.Helper()
	select {
	case b, ok := <-c:
		require.True(t, ok, "subscription closed")
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("no batch received")
	}
	return Batch{}
}

func assertQuiet(t *testing.T, c <-chan Batch, d time.Duration) {
	t.Helper()
	select {
	case b := <-c:
		t.Fatalf("unexpected batch %+v", b)
	case <-time.After(d):
	}
}

func TestCoalescer_IdleFlush(t *testing.T) {
	var mu sync.Mutex
	var got []Batch
	c := NewCoalescer(CoalescerConfig{IdleTimeout: 20 * time.Millisecond}, "acme:tasks", func(b Batch) {
		mu.Lock()
		got = append(got, b)
		mu.Unlock()
	})

	c.Add(change(domain.TableTasks, "t1"))
	c.Add(change(domain.TableTasks, "t2"))
	c.Add(change(domain.TableTasks, "t1"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "acme:tasks", got[0].Topic)
	assert.Equal(t, domain.TableTasks, got[0].Table)
	assert.Equal(t, []string{"t1", "t2"}, got[0].RecordIDs)
	assert.Len(t, got[0].Changes, 3)
}

func TestCoalescer_MaxPending(t *testing.T) {
	var got []Batch
	c := NewCoalescer(CoalescerConfig{MaxPending: 3, IdleTimeout: time.Hour}, "acme:agents", func(b Batch) {
		got = append(got, b)
	})

	for i := 0; i < 7; i++ {
		c.Add(change(domain.TableAgents, fmt.Sprintf("a%d", i)))
	}
	require.Len(t, got, 2, "flushed synchronously at the limit")
	assert.Len(t, got[0].Changes, 3)

	c.Flush()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a6"}, got[2].RecordIDs)
	assert.Equal(t, 3, c.Batches())

	c.Flush()
	assert.Len(t, got, 3, "empty flush delivers nothing")
}

func TestBroker_SubscribeAndDeliver(t *testing.T) {
	b := testBroker(10 * time.Millisecond)
	defer b.Close()

	tasks, err := b.Subscribe("acme", []string{domain.TableTasks})
	require.NoError(t, err)
	all, err := b.Subscribe("acme", nil)
	require.NoError(t, err)
	other, err := b.Subscribe("globex", []string{domain.TableTasks})
	require.NoError(t, err)
	assert.Equal(t, 3, b.Subscribers())

	b.Publish(change(domain.TableTasks, "t1"))
	b.Publish(change(domain.TableTasks, "t2"))

	got := recv(t, tasks.C)
	assert.Equal(t, []string{"t1", "t2"}, got.RecordIDs)
	assert.Equal(t, "acme", got.TenantID)
	assert.Equal(t, got.RecordIDs, recv(t, all.C).RecordIDs)
	assertQuiet(t, other.C, 50*time.Millisecond)

	b.Publish(change(domain.TableAgents, "a1"))
	assert.Equal(t, domain.TableAgents, recv(t, all.C).Table)
	assertQuiet(t, tasks.C, 50*time.Millisecond)
}

func TestBroker_Unsubscribe(t *testing.T) {
	b := testBroker(10 * time.Millisecond)
	defer b.Close()

	s, err := b.Subscribe("acme", []string{domain.TableQueue})
	require.NoError(t, err)

	s.Close()
	s.Close()
	assert.Zero(t, b.Subscribers())
	_, ok := <-s.C
	assert.False(t, ok)

	b.Publish(change(domain.TableQueue, "q1"))
	assert.False(t, b.Unsubscribe("missing"))
}

func TestBroker_UnknownTable(t *testing.T) {
	b := testBroker(10 * time.Millisecond)
	defer b.Close()

	_, err := b.Subscribe("acme", []string{"users"})
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestBroker_CloseFlushes(t *testing.T) {
	b := testBroker(time.Hour)
	s, err := b.Subscribe("acme", []string{domain.TableSwarms})
	require.NoError(t, err)

	b.Publish(change(domain.TableSwarms, "s1"))
	b.Close()

	got, ok := <-s.C
	require.True(t, ok)
	assert.Equal(t, []string{"s1"}, got.RecordIDs)
	_, ok = <-s.C
	assert.False(t, ok)

	_, err = b.Subscribe("acme", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRedisBridge(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	newNode := func() (*Broker, *RedisBridge) {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
		b := testBroker(10 * time.Millisecond)
		br := NewRedisBridge(rdb, "", b, logging.New(nil, "silent"))
		require.NoError(t, br.Start(ctx))
		t.Cleanup(func() {
			br.Close()
			b.Close()
		})
		return b, br
	}

	a, _ := newNode()
	b, _ := newNode()

	subA, err := a.Subscribe("acme", []string{domain.TableTasks})
	require.NoError(t, err)
	subB, err := b.Subscribe("acme", []string{domain.TableTasks})
	require.NoError(t, err)

	a.Publish(change(domain.TableTasks, "t1"))

	assert.Equal(t, []string{"t1"}, recv(t, subB.C).RecordIDs)
	gotA := recv(t, subA.C)
	assert.Len(t, gotA.Changes, 1, "no echo from the bridge")
	assertQuiet(t, subA.C, 100*time.Millisecond)
}

func TestRedisBridge_CloseBeforeStart(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	br := NewRedisBridge(rdb, "x", testBroker(time.Millisecond), logging.New(nil, "silent"))
	assert.NoError(t, br.Close())
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := NewRedisClient(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	rdb.Close()

	mr.Close()
	_, err = NewRedisClient(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	assert.Error(t, err)
}
