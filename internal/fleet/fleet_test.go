package fleet

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlassonic/atlas/internal/config"
	"github.com/atlassonic/atlas/internal/domain"
	"github.com/atlassonic/atlas/internal/hooks"
	"github.com/atlassonic/atlas/internal/logging"
	"github.com/atlassonic/atlas/internal/store"
)

const tenant = "acme"

type recorder struct {
	mu      sync.Mutex
	changes []domain.Change
}

func (r *recorder) Publish(c domain.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func setup(t *testing.T) (*Manager, *store.DB, *recorder, *hooks.Manager) {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pub := &recorder{}
	hm := hooks.NewManager(log)
	m := New(db, config.FleetConfig{
		TotalCapacity: 1000,
		Sectors:       []config.SectorEntry{{Name: "finance", Share: 0.6}, {Name: "retail", Share: 0.4}},
	}, WithLogger(log), WithHooks(hm), WithPublisher(pub))
	return m, db, pub, hm
}

func addAgent(t *testing.T, db *store.DB, id, sector string, status domain.AgentStatus) {
	t.Helper()
	require.NoError(t, db.Agents().Create(context.Background(), &domain.Agent{
		ID: id, TenantID: tenant, Name: id, Sector: sector, Status: status,
	}))
}

func TestDefaults(t *testing.T) {
	m := New(nil, config.FleetConfig{})
	c, ok := m.Capacity("Technology")
	require.True(t, ok)
	assert.Equal(t, 36000, c)
	_, ok = m.Capacity("mining")
	assert.False(t, ok)
}

func TestStatus(t *testing.T) {
	m, db, _, _ := setup(t)
	addAgent(t, db, "f1", "finance", domain.AgentBusy)
	addAgent(t, db, "f2", "finance", domain.AgentIdle)
	addAgent(t, db, "f3", "Finance", domain.AgentOffline)
	addAgent(t, db, "r1", "retail", domain.AgentIdle)
	addAgent(t, db, "x1", "space", domain.AgentBusy)
	require.NoError(t, db.Agents().Create(context.Background(), &domain.Agent{
		ID: "other", TenantID: "elsewhere", Name: "other", Sector: "finance", Status: domain.AgentBusy,
	}))

	st, err := m.Status(context.Background(), tenant)
	require.NoError(t, err)

	assert.Equal(t, 1000, st.TotalCapacity)
	assert.Equal(t, 4, st.Deployed)
	assert.Equal(t, 0.5, st.Utilization)
	assert.Equal(t, map[domain.AgentStatus]int{domain.AgentBusy: 2, domain.AgentIdle: 2, domain.AgentOffline: 1}, st.ByStatus)

	require.Len(t, st.Sectors, 3)
	fin := st.Sectors[0]
	assert.Equal(t, "finance", fin.Sector)
	assert.Equal(t, 600, fin.Capacity)
	assert.Equal(t, 600, fin.Target)
	assert.Equal(t, 2, fin.Deployed)
	assert.Equal(t, 0.5, fin.Utilization)

	assert.Equal(t, "retail", st.Sectors[1].Sector)
	assert.Equal(t, 0.0, st.Sectors[1].Utilization)

	space := st.Sectors[2]
	assert.Equal(t, "space", space.Sector)
	assert.Zero(t, space.Capacity)
	assert.Equal(t, 1.0, space.Utilization)
}

func TestStatusEmpty(t *testing.T) {
	m, _, _, _ := setup(t)
	st, err := m.Status(context.Background(), tenant)
	require.NoError(t, err)
	assert.Zero(t, st.Deployed)
	assert.Zero(t, st.Utilization)
	assert.Len(t, st.Sectors, 2)
}

func TestScale(t *testing.T) {
	m, _, pub, hm := setup(t)
	var got hooks.Payload
	hm.On(hooks.EventFleetScaled, "test", func(_ context.Context, p hooks.Payload) error {
		got = p
		return nil
	})

	target, err := m.Scale(context.Background(), tenant, " Finance ", 250)
	require.NoError(t, err)
	assert.Equal(t, "finance", target.Sector)
	assert.Equal(t, 250, target.Target)

	st, err := m.Status(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, 250, st.Sectors[0].Target)
	assert.Equal(t, 400, st.Sectors[1].Target)

	require.Len(t, pub.changes, 1)
	assert.Equal(t, domain.TableFleet, pub.changes[0].Table)
	assert.Equal(t, "finance", pub.changes[0].RecordID)
	assert.Equal(t, 250, got.Data["target"])
}

func TestScaleRejects(t *testing.T) {
	m, _, pub, _ := setup(t)
	ctx := context.Background()

	_, err := m.Scale(ctx, tenant, "mining", 1)
	assert.ErrorIs(t, err, ErrUnknownSector)
	_, err = m.Scale(ctx, tenant, "finance", 601)
	assert.ErrorIs(t, err, ErrInvalidTarget)
	_, err = m.Scale(ctx, tenant, "retail", -1)
	assert.ErrorIs(t, err, ErrInvalidTarget)
	_, err = m.Scale(ctx, tenant, "retail", 0)
	assert.NoError(t, err)
	assert.Len(t, pub.changes, 1)
}
