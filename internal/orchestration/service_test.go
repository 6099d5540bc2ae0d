package orchestration

import (
	"context"
	"sync"
	"testing"

	"github.com/atlassonic/atlas/internal/config"
	"github.com/atlassonic/atlas/internal/domain"
	"github.com/atlassonic/atlas/internal/hooks"
	"github.com/atlassonic/atlas/internal/logging"
	"github.com/atlassonic/atlas/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func (r *recorder) tables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.changes {
		out = append(out, c.Table)
	}
	return out
}

type fakeFleet struct {
	scaled map[string]int
}

func (f *fakeFleet) Status(context.Context, string) (*domain.FleetStatus, error) {
	return &domain.FleetStatus{TotalCapacity: 10}, nil
}

func (f *fakeFleet) Scale(_ context.Context, tenantID, sector string, target int) (*domain.FleetTarget, error) {
	f.scaled[sector] = target
	return &domain.FleetTarget{TenantID: tenantID, Sector: sector, Target: target}, nil
}

type fixture struct {
	db    *store.DB
	svc   *Service
	pub   *recorder
	hooks *hooks.Manager
	fleet *fakeFleet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db, pub: &recorder{}, hooks: hooks.NewManager(log), fleet: &fakeFleet{scaled: map[string]int{}}}
	f.svc = NewService(db, config.Defaults().Orchestration, 100,
		WithLogger(log), WithHooks(f.hooks), WithPublisher(f.pub), WithFleet(f.fleet))
	return f
}

func (f *fixture) agent(t *testing.T, id, sector string, perf float64, max int) {
	t.Helper()
	require.NoError(t, f.db.Agents().Create(context.Background(), &domain.Agent{
		ID: id, TenantID: tenant, Name: "agent-" + id, Sector: sector,
		MaxConcurrent: max, PerformanceScore: perf, SuccessRate: 0.9,
	}))
}

func (f *fixture) task(t *testing.T, id, sector string, p domain.Priority, deps ...string) {
	t.Helper()
	require.NoError(t, f.db.Tasks().Create(context.Background(), &domain.Task{
		ID: id, TenantID: tenant, Title: "task " + id, Sector: sector, Priority: p,
		DependsOn: domain.StringList(deps),
	}))
}

func (f *fixture) getAgent(t *testing.T, id string) *domain.Agent {
	t.Helper()
	a, err := f.db.Agents().Get(context.Background(), tenant, id)
	require.NoError(t, err)
	return a
}

func (f *fixture) getTask(t *testing.T, id string) *domain.Task {
	t.Helper()
	tk, err := f.db.Tasks().Get(context.Background(), tenant, id)
	require.NoError(t, err)
	return tk
}

func TestService_AssignTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.agent(t, "fin", "finance", 90, 1)
	f.agent(t, "ret", "retail", 50, 2)
	f.task(t, "t1", "finance", domain.PriorityHigh)

	var hooked hooks.Payload
	f.hooks.On(hooks.EventTaskAssigned, "test", func(_ context.Context, p hooks.Payload) error {
		hooked = p
		return nil
	})

	a, err := f.svc.AssignTask(ctx, tenant, "t1")
	require.NoError(t, err)
	assert.Equal(t, "fin", a.AgentID)
	assert.NotEmpty(t, a.Reasoning)

	tk := f.getTask(t, "t1")
	assert.Equal(t, domain.TaskAssigned, tk.Status)
	assert.Equal(t, "fin", tk.AssignedAgentID)

	ag := f.getAgent(t, "fin")
	assert.Equal(t, 1, ag.CurrentTasks)
	assert.Equal(t, domain.AgentBusy, ag.Status, "at capacity")

	entries, err := f.db.Queue().List(ctx, tenant, domain.QueueQueued, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "t1", entries[0].TaskID)
	assert.Equal(t, 3, entries[0].Priority)

	assert.ElementsMatch(t, []string{domain.TableTasks, domain.TableAgents, domain.TableQueue}, f.pub.tables())
	assert.Equal(t, hooks.EventTaskAssigned, hooked.Event)
	assert.Equal(t, tenant, hooked.TenantID)

	_, err = f.svc.AssignTask(ctx, tenant, "t1")
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = f.svc.AssignTask(ctx, tenant, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_AssignTask_NoAgentsRollsBack(t *testing.T) {
	f := newFixture(t)
	f.task(t, "t1", "finance", domain.PriorityHigh)

	_, err := f.svc.AssignTask(context.Background(), tenant, "t1")
	assert.ErrorIs(t, err, ErrNoEligibleAgents)
	assert.Equal(t, domain.TaskPending, f.getTask(t, "t1").Status)
	assert.Empty(t, f.pub.tables())
}

func TestService_AssignTaskTo(t *testing.T) {
	f := newFixture(t)
	f.agent(t, "fin", "finance", 90, 1)
	f.agent(t, "ret", "retail", 50, 2)
	f.task(t, "t1", "finance", domain.PriorityHigh)

	a, err := f.svc.AssignTaskTo(context.Background(), tenant, "t1", "ret")
	require.NoError(t, err)
	assert.Equal(t, "ret", a.AgentID)

	ag := f.getAgent(t, "ret")
	assert.Equal(t, 1, ag.CurrentTasks)
	assert.Equal(t, domain.AgentActive, ag.Status)
}

func TestService_CoordinateTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.agent(t, "a1", "finance", 90, 2)
	f.agent(t, "a2", "retail", 60, 2)
	f.task(t, "t1", "finance", domain.PriorityHigh)
	f.task(t, "t2", "retail", domain.PriorityLow, "t1")
	f.task(t, "done", "finance", domain.PriorityHigh)
	require.NoError(t, f.db.Tasks().SetStatus(ctx, tenant, "done", domain.TaskCompleted))

	var hooked bool
	f.hooks.On(hooks.EventPlanCreated, "test", func(context.Context, hooks.Payload) error {
		hooked = true
		return nil
	})

	plan, err := f.svc.CoordinateTasks(ctx, tenant, []string{"t2", "t1", "done", "ghost"})
	require.NoError(t, err)
	assert.True(t, hooked)

	require.Len(t, plan.Assignments, 2)
	assert.Equal(t, "t1", plan.Assignments[0].TaskID)
	assert.Equal(t, "a1", plan.Assignments[0].AgentID)
	assert.Equal(t, "t2", plan.Assignments[1].TaskID)
	assert.Equal(t, "a2", plan.Assignments[1].AgentID)
	assert.Equal(t, 1, plan.Assignments[1].ParallelGroup)

	require.Len(t, plan.Unassigned, 2)
	assert.Equal(t, domain.Unassigned{TaskID: "done", Reason: "task is completed"}, plan.Unassigned[0])
	assert.Equal(t, domain.Unassigned{TaskID: "ghost", Reason: "task not found"}, plan.Unassigned[1])

	entries, err := f.db.Queue().List(ctx, tenant, domain.QueueQueued, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, plan.ID, e.PlanID)
	}
	assert.Equal(t, 1, f.getAgent(t, "a1").CurrentTasks)
	assert.Equal(t, domain.AgentActive, f.getAgent(t, "a2").Status)
}

func TestService_CoordinateTasks_PendingAndLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.agent(t, "a1", "finance", 90, 5)
	f.task(t, "t1", "finance", domain.PriorityMedium)
	f.task(t, "t2", "finance", domain.PriorityMedium)

	plan, err := f.svc.CoordinateTasks(ctx, tenant, nil)
	require.NoError(t, err)
	assert.Len(t, plan.Assignments, 2)
	assert.Empty(t, plan.Unassigned)
	assert.Equal(t, 2, f.getAgent(t, "a1").CurrentTasks)

	ids := make([]string, config.Defaults().Orchestration.MaxBatch+1)
	for i := range ids {
		ids[i] = "x"
	}
	_, err = f.svc.CoordinateTasks(ctx, tenant, ids)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_CompleteTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.agent(t, "a1", "finance", 90, 1)
	f.task(t, "t1", "finance", domain.PriorityHigh)
	f.task(t, "t2", "finance", domain.PriorityHigh)

	_, err := f.svc.CompleteTask(ctx, tenant, "t1", true)
	assert.ErrorIs(t, err, store.ErrConflict, "pending tasks cannot complete")

	_, err = f.svc.AssignTask(ctx, tenant, "t1")
	require.NoError(t, err)
	require.Equal(t, domain.AgentBusy, f.getAgent(t, "a1").Status)

	tk, err := f.svc.CompleteTask(ctx, tenant, "t1", false)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, tk.Status)

	ag := f.getAgent(t, "a1")
	assert.Equal(t, 0, ag.CurrentTasks)
	assert.Equal(t, 1, ag.TasksCompleted)
	assert.InDelta(t, 0.0, ag.SuccessRate, 1e-9, "first outcome replaces the seed rate")
	assert.Equal(t, domain.AgentIdle, ag.Status)

	stats, err := f.db.Queue().Stats(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[domain.QueueFailed])

	_, err = f.svc.AssignTask(ctx, tenant, "t2")
	require.NoError(t, err)
	_, err = f.svc.CompleteTask(ctx, tenant, "t2", true)
	require.NoError(t, err)

	ag = f.getAgent(t, "a1")
	assert.Equal(t, 2, ag.TasksCompleted)
	assert.InDelta(t, 0.5, ag.SuccessRate, 1e-9)
}

func TestRelease(t *testing.T) {
	a := &domain.Agent{Status: domain.AgentBusy, CurrentTasks: 3, MaxConcurrent: 3, TasksCompleted: 3, SuccessRate: 1}
	release(a, false)
	assert.Equal(t, domain.AgentActive, a.Status)
	assert.Equal(t, 2, a.CurrentTasks)
	assert.InDelta(t, 0.75, a.SuccessRate, 1e-9)

	paused := &domain.Agent{Status: domain.AgentPaused, CurrentTasks: 1, MaxConcurrent: 1}
	release(paused, true)
	assert.Equal(t, domain.AgentPaused, paused.Status)
	assert.Zero(t, paused.CurrentTasks)
}

func TestService_Swarms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.agent(t, "f1", "finance", 90, 2)
	f.agent(t, "r1", "retail", 80, 2)
	f.agent(t, "t1", "technology", 70, 2)

	sw, err := f.svc.FormSwarm(ctx, tenant, SwarmRequest{Objective: "expansion", Size: 2, Sectors: []string{"finance", "retail"}})
	require.NoError(t, err)
	assert.Equal(t, tenant, sw.TenantID)
	assert.Equal(t, "f1", sw.LeaderID)

	stored, err := f.db.Swarms().Get(ctx, tenant, sw.ID)
	require.NoError(t, err)
	require.Len(t, stored.Members, 2)
	assert.Equal(t, "f1", stored.Members[0].AgentID)

	defaulted, err := f.svc.FormSwarm(ctx, tenant, SwarmRequest{Objective: "everyone"})
	require.NoError(t, err)
	assert.Len(t, defaulted.Members, 3)
	assert.True(t, defaulted.Partial, "default size exceeds the fleet")

	_, err = f.svc.FormSwarm(ctx, tenant, SwarmRequest{Objective: "huge", Size: 1000})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	out, err := f.svc.DisbandSwarm(ctx, tenant, sw.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SwarmDisbanded, out.Status)

	_, err = f.svc.DisbandSwarm(ctx, tenant, sw.ID)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestService_Status(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.agent(t, "a1", "finance", 90, 2)
	f.task(t, "t1", "finance", domain.PriorityHigh)
	f.task(t, "t2", "finance", domain.PriorityHigh)
	_, err := f.svc.AssignTask(ctx, tenant, "t1")
	require.NoError(t, err)

	st, err := f.svc.Status(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, st.PendingTasks)
	assert.Equal(t, 1, st.QueueDepth)
	assert.Equal(t, 1, st.Agents[domain.AgentActive])
	assert.Equal(t, 1, st.Tasks[domain.TaskAssigned])
}

func TestService_Execute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.agent(t, "a1", "finance", 90, 2)
	f.agent(t, "a2", "finance", 40, 2)
	f.task(t, "t1", "finance", domain.PriorityHigh)

	res, err := f.svc.Execute(ctx, tenant, "assign task t1 to agent a2")
	require.NoError(t, err)
	a, ok := res.Result.(*domain.Assignment)
	require.True(t, ok)
	assert.Equal(t, "a2", a.AgentID)

	res, err = f.svc.Execute(ctx, tenant, "pause agent a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentPaused, res.Result.(*domain.Agent).Status)

	res, err = f.svc.Execute(ctx, tenant, "resume agent a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentIdle, res.Result.(*domain.Agent).Status)

	res, err = f.svc.Execute(ctx, tenant, "scale finance to 2000")
	require.NoError(t, err)
	assert.Equal(t, 2000, f.fleet.scaled["finance"])
	assert.Equal(t, 2000, res.Result.(*domain.FleetTarget).Target)

	res, err = f.svc.Execute(ctx, tenant, "show queue")
	require.NoError(t, err)
	assert.IsType(t, &Status{}, res.Result)

	_, err = f.svc.Execute(ctx, tenant, "make me a sandwich")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	bare := NewService(f.db, config.Defaults().Orchestration, 10)
	_, err = bare.Execute(ctx, tenant, "fleet status")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
