package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atlassonic/atlas/internal/command"
	"github.com/atlassonic/atlas/internal/config"
	"github.com/atlassonic/atlas/internal/domain"
	"github.com/atlassonic/atlas/internal/hooks"
	"github.com/atlassonic/atlas/internal/logging"
	"github.com/atlassonic/atlas/internal/metrics"
	"github.com/atlassonic/atlas/internal/store"
)

// ErrNotConfigured is returned by commands whose backing component is absent.
var ErrNotConfigured = errors.New("not configured")

// Publisher receives committed row changes, typically the realtime broker.
type Publisher interface {
	Publish(domain.Change)
}

// FleetController is the part of fleet management reachable from operator
// commands.
type FleetController interface {
	Status(ctx context.Context, tenantID string) (*domain.FleetStatus, error)
	Scale(ctx context.Context, tenantID, sector string, target int) (*domain.FleetTarget, error)
}

// Service runs orchestration actions against the store. Every action that
// mutates rows does so in a single transaction and announces the changed
// rows only after commit.
type Service struct {
	db         *store.DB
	scorer     *Scorer
	cfg        config.OrchestrationConfig
	fetchLimit int

	log     *logging.Logger
	hooks   *hooks.Manager
	pub     Publisher
	metrics *metrics.Metrics
	fleet   FleetController
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.log = l.Sub("orchestration") }
}

// WithHooks sets the hook manager that receives lifecycle events.
func WithHooks(h *hooks.Manager) Option {
	return func(s *Service) { s.hooks = h }
}

// WithPublisher sets where committed changes are published.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithFleet enables the fleet commands.
func WithFleet(f FleetController) Option {
	return func(s *Service) { s.fleet = f }
}

// NewService creates an orchestration service. fetchLimit bounds how many
// agents are considered per action.
func NewService(db *store.DB, cfg config.OrchestrationConfig, fetchLimit int, opts ...Option) *Service {
	s := &Service{
		db:         db,
		scorer:     NewScorer(cfg.Weights, cfg.MinScore),
		cfg:        cfg,
		fetchLimit: fetchLimit,
		log:        logging.New(nil, "silent"),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	if s.fetchLimit <= 0 {
		s.fetchLimit = 100
	}
	return s
}

// Scorer exposes the scorer the service matches with.
func (s *Service) Scorer() *Scorer { return s.scorer }

// changeSet collects the rows an action touched.
type changeSet struct {
	tenant  string
	changes []domain.Change
}

func (c *changeSet) add(table string, op domain.ChangeOp, id string) {
	for _, ch := range c.changes {
		if ch.Table == table && ch.RecordID == id && ch.Op == op {
			return
		}
	}
	c.changes = append(c.changes, domain.Change{Table: table, Op: op, TenantID: c.tenant, RecordID: id})
}

func (s *Service) publish(cs *changeSet) {
	if s.pub == nil {
		return
	}
	at := s.now()
	for _, ch := range cs.changes {
		ch.At = at
		s.pub.Publish(ch)
	}
}

// AssignTask matches one pending task with the best available agent.
func (s *Service) AssignTask(ctx context.Context, tenantID, taskID string) (*domain.Assignment, error) {
	return s.assign(ctx, tenantID, taskID, "")
}

// AssignTaskTo assigns a pending task to a named agent, provided the agent
// can take it.
func (s *Service) AssignTaskTo(ctx context.Context, tenantID, taskID, agentID string) (*domain.Assignment, error) {
	return s.assign(ctx, tenantID, taskID, agentID)
}

func (s *Service) assign(ctx context.Context, tenantID, taskID, agentID string) (*domain.Assignment, error) {
	cs := &changeSet{tenant: tenantID}
	var out domain.Assignment

	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		t, err := tx.Tasks().Get(ctx, tenantID, taskID)
		if err != nil {
			return err
		}
		if t.Status != domain.TaskPending {
			return fmt.Errorf("task %s is %s: %w", t.ID, t.Status, store.ErrConflict)
		}

		var agent domain.Agent
		if agentID != "" {
			a, err := tx.Agents().Get(ctx, tenantID, agentID)
			if err != nil {
				return err
			}
			if out, err = s.scorer.Evaluate(*t, *a); err != nil {
				return err
			}
			agent = *a
		} else {
			agents, err := tx.Agents().ListAssignable(ctx, tenantID, s.fetchLimit)
			if err != nil {
				return err
			}
			if out, err = s.scorer.FindBestAgent(*t, agents); err != nil {
				return err
			}
			for _, a := range agents {
				if a.ID == out.AgentID {
					agent = a
				}
			}
		}

		if err := s.apply(ctx, tx, cs, *t, &agent, out, ""); err != nil {
			return err
		}
		return tx.Agents().SaveRuntime(ctx, &agent)
	})
	if err != nil {
		s.metrics.CountAssignments(metrics.OutcomeRejected, 1)
		return nil, err
	}

	s.publish(cs)
	s.metrics.ObserveAssignment(out.Score)
	s.hooks.Emit(ctx, hooks.EventTaskAssigned, tenantID, map[string]any{
		"task_id":  out.TaskID,
		"agent_id": out.AgentID,
		"score":    out.Score,
	})
	s.log.Info().Str("tenant", tenantID).Str("task", out.TaskID).Str("agent", out.AgentID).
		Float64("score", out.Score).Msg("task assigned")
	return &out, nil
}

// apply persists one assignment: the task moves to assigned, the agent's
// in-memory load grows and a queue row is written. The caller saves the agent.
func (s *Service) apply(ctx context.Context, tx *store.Tx, cs *changeSet, t domain.Task, agent *domain.Agent, a domain.Assignment, planID string) error {
	if err := tx.Tasks().Assign(ctx, t.TenantID, t.ID, agent.ID); err != nil {
		return err
	}

	agent.CurrentTasks++
	switch {
	case !agent.HasCapacity():
		agent.Status = domain.AgentBusy
	case agent.Status == domain.AgentIdle:
		agent.Status = domain.AgentActive
	}

	entry := []domain.QueueEntry{{
		TenantID:      t.TenantID,
		PlanID:        planID,
		TaskID:        t.ID,
		AgentID:       agent.ID,
		Priority:      t.Priority.Rank(),
		ParallelGroup: a.ParallelGroup,
		Score:         a.Score,
	}}
	if err := tx.Queue().Enqueue(ctx, entry); err != nil {
		return err
	}

	cs.add(domain.TableTasks, domain.OpUpdate, t.ID)
	cs.add(domain.TableAgents, domain.OpUpdate, agent.ID)
	cs.add(domain.TableQueue, domain.OpInsert, entry[0].ID)
	return nil
}

// CoordinateTasks plans and persists a batch. With no ids the oldest
// pending tasks are taken, up to the batch limit. Ids that are missing or
// no longer pending come back as unassigned.
func (s *Service) CoordinateTasks(ctx context.Context, tenantID string, taskIDs []string) (*Plan, error) {
	if len(taskIDs) > s.cfg.MaxBatch {
		return nil, fmt.Errorf("%d tasks exceeds the batch limit of %d: %w", len(taskIDs), s.cfg.MaxBatch, ErrInvalidRequest)
	}

	cs := &changeSet{tenant: tenantID}
	var plan *Plan

	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		var (
			tasks []domain.Task
			skip  []domain.Unassigned
			err   error
		)
		if len(taskIDs) == 0 {
			tasks, err = tx.Tasks().ListPending(ctx, tenantID, s.cfg.MaxBatch)
		} else {
			tasks, skip, err = pendingByID(ctx, tx, tenantID, taskIDs)
		}
		if err != nil {
			return err
		}

		agents, err := tx.Agents().ListAssignable(ctx, tenantID, s.fetchLimit)
		if err != nil {
			return err
		}
		plan, err = s.scorer.Coordinate(tasks, agents)
		if err != nil {
			return err
		}
		if len(skip) > 0 {
			plan.Unassigned = append(skip, plan.Unassigned...)
		}

		taskByID := make(map[string]domain.Task, len(tasks))
		for _, t := range tasks {
			taskByID[t.ID] = t
		}
		agentByID := make(map[string]*domain.Agent, len(agents))
		for i := range agents {
			agentByID[agents[i].ID] = &agents[i]
		}

		touched := map[string]bool{}
		for _, a := range plan.Assignments {
			agent := agentByID[a.AgentID]
			if err := s.apply(ctx, tx, cs, taskByID[a.TaskID], agent, a, plan.ID); err != nil {
				return err
			}
			touched[agent.ID] = true
		}
		for id := range touched {
			if err := tx.Agents().SaveRuntime(ctx, agentByID[id]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(cs)
	s.metrics.ObserveBatch(len(plan.Assignments) + len(plan.Unassigned))
	for _, a := range plan.Assignments {
		s.metrics.ObserveAssignment(a.Score)
	}
	s.metrics.CountAssignments(metrics.OutcomeUnassigned, len(plan.Unassigned))
	s.hooks.Emit(ctx, hooks.EventPlanCreated, tenantID, map[string]any{
		"plan_id":    plan.ID,
		"assigned":   len(plan.Assignments),
		"unassigned": len(plan.Unassigned),
		"groups":     len(plan.Groups),
	})
	s.log.Info().Str("tenant", tenantID).Str("plan", plan.ID).
		Int("assigned", len(plan.Assignments)).Int("unassigned", len(plan.Unassigned)).
		Int("groups", len(plan.Groups)).Msg("tasks coordinated")
	return plan, nil
}

// pendingByID loads the named tasks, keeping request order and splitting
// off the ones that cannot be planned.
func pendingByID(ctx context.Context, tx *store.Tx, tenantID string, ids []string) ([]domain.Task, []domain.Unassigned, error) {
	found, err := tx.Tasks().ListByIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[string]domain.Task, len(found))
	for _, t := range found {
		byID[t.ID] = t
	}

	var (
		tasks []domain.Task
		skip  = []domain.Unassigned{}
		seen  = map[string]bool{}
	)
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		t, ok := byID[id]
		switch {
		case !ok:
			skip = append(skip, domain.Unassigned{TaskID: id, Reason: "task not found"})
		case t.Status != domain.TaskPending:
			skip = append(skip, domain.Unassigned{TaskID: id, Reason: "task is " + string(t.Status)})
		default:
			tasks = append(tasks, t)
		}
	}
	return tasks, skip, nil
}

// FormSwarm assembles and stores a swarm.
func (s *Service) FormSwarm(ctx context.Context, tenantID string, req SwarmRequest) (*domain.Swarm, error) {
	if req.Size == 0 {
		req.Size = s.cfg.DefaultSwarmSize
	}
	if s.cfg.MaxSwarmSize > 0 && req.Size > s.cfg.MaxSwarmSize {
		return nil, fmt.Errorf("size %d exceeds the maximum of %d: %w", req.Size, s.cfg.MaxSwarmSize, ErrInvalidRequest)
	}

	agents, err := s.db.Agents().ListAssignable(ctx, tenantID, s.fetchLimit)
	if err != nil {
		return nil, err
	}
	sw, err := s.scorer.FormSwarm(req, agents)
	if err != nil {
		return nil, err
	}
	sw.TenantID = tenantID

	if err := s.db.InTx(ctx, func(tx *store.Tx) error {
		return tx.Swarms().Create(ctx, sw)
	}); err != nil {
		return nil, err
	}

	s.publish(&changeSet{tenant: tenantID, changes: []domain.Change{
		{Table: domain.TableSwarms, Op: domain.OpInsert, TenantID: tenantID, RecordID: sw.ID},
	}})
	s.metrics.SwarmFormed()
	s.hooks.Emit(ctx, hooks.EventSwarmFormed, tenantID, map[string]any{
		"swarm_id": sw.ID,
		"leader":   sw.LeaderID,
		"members":  len(sw.Members),
		"partial":  sw.Partial,
	})
	s.log.Info().Str("tenant", tenantID).Str("swarm", sw.ID).Int("members", len(sw.Members)).
		Bool("partial", sw.Partial).Msg("swarm formed")
	return sw, nil
}

// DisbandSwarm marks a swarm disbanded.
func (s *Service) DisbandSwarm(ctx context.Context, tenantID, swarmID string) (*domain.Swarm, error) {
	sw, err := s.db.Swarms().Get(ctx, tenantID, swarmID)
	if err != nil {
		return nil, err
	}
	if sw.Status == domain.SwarmDisbanded {
		return nil, fmt.Errorf("swarm %s already disbanded: %w", swarmID, store.ErrConflict)
	}
	if err := s.db.Swarms().SetStatus(ctx, tenantID, swarmID, domain.SwarmDisbanded); err != nil {
		return nil, err
	}
	sw.Status = domain.SwarmDisbanded

	s.publish(&changeSet{tenant: tenantID, changes: []domain.Change{
		{Table: domain.TableSwarms, Op: domain.OpUpdate, TenantID: tenantID, RecordID: sw.ID},
	}})
	s.hooks.Emit(ctx, hooks.EventSwarmDisbanded, tenantID, map[string]any{"swarm_id": sw.ID})
	s.log.Info().Str("tenant", tenantID).Str("swarm", sw.ID).Msg("swarm disbanded")
	return sw, nil
}

// CompleteTask closes an assigned task, releases the agent's slot and
// folds the outcome into its success rate.
func (s *Service) CompleteTask(ctx context.Context, tenantID, taskID string, success bool) (*domain.Task, error) {
	cs := &changeSet{tenant: tenantID}
	var task *domain.Task

	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		t, err := tx.Tasks().Get(ctx, tenantID, taskID)
		if err != nil {
			return err
		}
		if t.Status != domain.TaskAssigned && t.Status != domain.TaskInProgress {
			return fmt.Errorf("task %s is %s: %w", t.ID, t.Status, store.ErrConflict)
		}

		t.Status = domain.TaskCompleted
		qs := domain.QueueCompleted
		if !success {
			t.Status = domain.TaskFailed
			qs = domain.QueueFailed
		}
		if err := tx.Tasks().SetStatus(ctx, tenantID, t.ID, t.Status); err != nil {
			return err
		}
		cs.add(domain.TableTasks, domain.OpUpdate, t.ID)

		if t.AssignedAgentID != "" {
			a, err := tx.Agents().Get(ctx, tenantID, t.AssignedAgentID)
			switch {
			case errors.Is(err, store.ErrNotFound):
				// agent deleted while the task ran
			case err != nil:
				return err
			default:
				release(a, success)
				if err := tx.Agents().SaveRuntime(ctx, a); err != nil {
					return err
				}
				cs.add(domain.TableAgents, domain.OpUpdate, a.ID)
			}
		}

		n, err := tx.Queue().FinishTask(ctx, tenantID, t.ID, qs)
		if err != nil {
			return err
		}
		if n > 0 {
			// queue rows are announced by task id; clients refetch the task's entries
			cs.add(domain.TableQueue, domain.OpUpdate, t.ID)
		}
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(cs)
	s.hooks.Emit(ctx, hooks.EventTaskCompleted, tenantID, map[string]any{
		"task_id":  task.ID,
		"agent_id": task.AssignedAgentID,
		"success":  success,
	})
	s.log.Info().Str("tenant", tenantID).Str("task", task.ID).Bool("success", success).Msg("task completed")
	return task, nil
}

// release frees one slot and updates the agent's running success rate.
func release(a *domain.Agent, success bool) {
	if a.CurrentTasks > 0 {
		a.CurrentTasks--
	}
	a.TasksCompleted++
	outcome := 0.0
	if success {
		outcome = 1
	}
	n := float64(a.TasksCompleted)
	a.SuccessRate = (a.SuccessRate*(n-1) + outcome) / n

	switch {
	case a.Status == domain.AgentBusy && a.CurrentTasks == 0:
		a.Status = domain.AgentIdle
	case a.Status == domain.AgentBusy && a.HasCapacity():
		a.Status = domain.AgentActive
	case a.Status == domain.AgentActive && a.CurrentTasks == 0:
		a.Status = domain.AgentIdle
	}
}

// Status is the orchestration overview returned by get_status.
type Status struct {
	Queue        domain.QueueStats          `json:"queue"`
	QueueDepth   int                        `json:"queue_depth"`
	Agents       map[domain.AgentStatus]int `json:"agents"`
	Tasks        map[domain.TaskStatus]int  `json:"tasks"`
	PendingTasks int                        `json:"pending_tasks"`
}

// Status reports queue, agent and task counts.
func (s *Service) Status(ctx context.Context, tenantID string) (*Status, error) {
	q, err := s.db.Queue().Stats(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	agents, err := s.db.Agents().CountByStatus(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.db.Tasks().CountByStatus(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	depth := make(map[string]int, len(q))
	for st, n := range q {
		depth[string(st)] = n
	}
	s.metrics.SetQueueDepth(depth)

	return &Status{
		Queue:        q,
		QueueDepth:   q.Depth(),
		Agents:       agents,
		Tasks:        tasks,
		PendingTasks: tasks[domain.TaskPending],
	}, nil
}

// PauseAgent takes an agent out of matching. Tasks it already holds stay assigned.
func (s *Service) PauseAgent(ctx context.Context, tenantID, agentID string) (*domain.Agent, error) {
	return s.setAgentStatus(ctx, tenantID, agentID, func(*domain.Agent) domain.AgentStatus {
		return domain.AgentPaused
	})
}

// ResumeAgent returns a paused agent to matching, idle or active by its load.
func (s *Service) ResumeAgent(ctx context.Context, tenantID, agentID string) (*domain.Agent, error) {
	return s.setAgentStatus(ctx, tenantID, agentID, func(a *domain.Agent) domain.AgentStatus {
		switch {
		case a.CurrentTasks == 0:
			return domain.AgentIdle
		case a.HasCapacity():
			return domain.AgentActive
		default:
			return domain.AgentBusy
		}
	})
}

func (s *Service) setAgentStatus(ctx context.Context, tenantID, agentID string, next func(*domain.Agent) domain.AgentStatus) (*domain.Agent, error) {
	a, err := s.db.Agents().Get(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}
	a.Status = next(a)
	if err := s.db.Agents().SetStatus(ctx, tenantID, a.ID, a.Status); err != nil {
		return nil, err
	}
	s.publish(&changeSet{tenant: tenantID, changes: []domain.Change{
		{Table: domain.TableAgents, Op: domain.OpUpdate, TenantID: tenantID, RecordID: a.ID},
	}})
	s.log.Info().Str("tenant", tenantID).Str("agent", a.ID).Str("status", string(a.Status)).Msg("agent status changed")
	return a, nil
}

// CommandResult is a parsed command together with the outcome of running it.
type CommandResult struct {
	Command command.Command `json:"command"`
	Result  any             `json:"result"`
}

// Execute parses an operator phrase and runs the matching action.
func (s *Service) Execute(ctx context.Context, tenantID, text string) (*CommandResult, error) {
	cmd, err := command.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	s.log.Debug().Str("tenant", tenantID).Str("intent", string(cmd.Intent)).Msg("executing command")

	var result any
	switch cmd.Intent {
	case command.IntentAssignTask:
		result, err = s.assign(ctx, tenantID, cmd.Args[command.ArgTask], cmd.Args[command.ArgAgent])
	case command.IntentCoordinateTasks:
		result, err = s.CoordinateTasks(ctx, tenantID, nil)
	case command.IntentFormSwarm:
		size, _ := cmd.Int(command.ArgSize)
		result, err = s.FormSwarm(ctx, tenantID, SwarmRequest{
			Objective: cmd.Args[command.ArgObjective],
			Size:      size,
			Sectors:   cmd.List(command.ArgSectors),
		})
	case command.IntentDisbandSwarm:
		result, err = s.DisbandSwarm(ctx, tenantID, cmd.Args[command.ArgSwarm])
	case command.IntentFleetStatus:
		if s.fleet == nil {
			return nil, fmt.Errorf("fleet management: %w", ErrNotConfigured)
		}
		result, err = s.fleet.Status(ctx, tenantID)
	case command.IntentScaleSector:
		if s.fleet == nil {
			return nil, fmt.Errorf("fleet management: %w", ErrNotConfigured)
		}
		target, _ := cmd.Int(command.ArgTarget)
		result, err = s.fleet.Scale(ctx, tenantID, cmd.Args[command.ArgSector], target)
	case command.IntentPauseAgent:
		result, err = s.PauseAgent(ctx, tenantID, cmd.Args[command.ArgAgent])
	case command.IntentResumeAgent:
		result, err = s.ResumeAgent(ctx, tenantID, cmd.Args[command.ArgAgent])
	case command.IntentQueueStatus:
		result, err = s.Status(ctx, tenantID)
	default:
		return nil, fmt.Errorf("intent %s: %w", cmd.Intent, command.ErrUnknownCommand)
	}
	if err != nil {
		return nil, err
	}
	return &CommandResult{Command: cmd, Result: result}, nil
}
