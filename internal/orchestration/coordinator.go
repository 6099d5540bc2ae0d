package orchestration

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/atlassonic/atlas/internal/domain"
)

// Group is a set of assignments that can run side by side: no two share an
// agent and none depends on another.
type Group struct {
	Index            int                 `json:"index"`
	Assignments      []domain.Assignment `json:"assignments"`
	EstimatedMinutes int                 `json:"estimated_minutes"`
}

// Plan is the result of coordinating a batch of tasks.
type Plan struct {
	ID               string              `json:"id"`
	Assignments      []domain.Assignment `json:"assignments"`
	Groups           []Group             `json:"parallel_groups"`
	Unassigned       []domain.Unassigned `json:"unassigned"`
	EstimatedMinutes int                 `json:"estimated_minutes"`
	AverageScore     float64             `json:"average_score"`
}

// Coordinate assigns a batch of tasks greedily. Agents are picked in
// priority order (then age, then id): each task takes the best agent that
// still has a free slot in a private copy of the agent list. Inputs are not
// modified. Any dependency cycle in the batch, a task depending on itself
// included, fails the whole batch.
//
// Parallel groups are then numbered in dependency order: a task lands in
// the first group after both its agent's previous task and all of its
// in-batch dependencies. Dependencies outside the batch count as done. A
// task whose in-batch dependency ended up unassigned is unassigned as well
// and does not occupy a group on its agent. Assignments are listed in that
// dependency order.
func (s *Scorer) Coordinate(tasks []domain.Task, agents []domain.Agent) (*Plan, error) {
	plan := &Plan{
		ID:          uuid.NewString(),
		Assignments: []domain.Assignment{},
		Groups:      []Group{},
		Unassigned:  []domain.Unassigned{},
	}

	ordered := make([]domain.Task, len(tasks))
	copy(ordered, tasks)
	sort.SliceStable(ordered, func(i, j int) bool { return taskBefore(ordered[i], ordered[j]) })

	deps := batchDeps(ordered)
	topo, err := topoOrder(ordered, deps)
	if err != nil {
		return nil, err
	}

	pool := make([]domain.Agent, len(agents))
	copy(pool, agents)
	poolIdx := make(map[string]int, len(pool))
	for i, a := range pool {
		poolIdx[a.ID] = i
	}

	picked := make(map[string]domain.Assignment, len(ordered))
	failed := make(map[string]bool)
	for _, t := range ordered {
		if dep, ok := firstIn(deps[t.ID], failed); ok {
			failed[t.ID] = true
			plan.Unassigned = append(plan.Unassigned, blockedBy(t.ID, dep))
			continue
		}
		a, err := s.FindBestAgent(t, pool)
		if err != nil {
			failed[t.ID] = true
			plan.Unassigned = append(plan.Unassigned, domain.Unassigned{TaskID: t.ID, Reason: unassignedReason(err)})
			continue
		}
		pool[poolIdx[a.AgentID]].CurrentTasks++
		picked[t.ID] = a
	}

	var (
		taskGroup = make(map[string]int, len(picked)) // surviving assignments only
		lastGroup = make(map[string]int)              // agent id -> last group used
		estimates = map[int]int{}
	)
	for _, t := range topo {
		a, ok := picked[t.ID]
		if !ok {
			continue
		}
		group := 0
		blocked := ""
		for _, dep := range deps[t.ID] {
			g, assigned := taskGroup[dep]
			if !assigned {
				blocked = dep
				break
			}
			group = max(group, g+1)
		}
		if blocked != "" {
			plan.Unassigned = append(plan.Unassigned, blockedBy(t.ID, blocked))
			continue
		}

		if g, used := lastGroup[a.AgentID]; used {
			group = max(group, g+1)
		}
		lastGroup[a.AgentID] = group
		taskGroup[t.ID] = group
		a.ParallelGroup = group

		plan.Assignments = append(plan.Assignments, a)
		estimates[group] = max(estimates[group], t.Estimate())
	}

	plan.Groups = groupAssignments(plan.Assignments, estimates)
	var total float64
	for _, a := range plan.Assignments {
		total += a.Score
	}
	for _, g := range plan.Groups {
		plan.EstimatedMinutes += g.EstimatedMinutes
	}
	if n := len(plan.Assignments); n > 0 {
		plan.AverageScore = math.Round(total/float64(n)*100) / 100
	}
	return plan, nil
}

// taskBefore is the coordinator's picking order.
func taskBefore(a, b domain.Task) bool {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra > rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// batchDeps keeps each task's distinct dependencies that are part of the batch.
func batchDeps(tasks []domain.Task) map[string][]string {
	inBatch := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		inBatch[t.ID] = true
	}
	out := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		seen := map[string]bool{}
		for _, dep := range t.DependsOn {
			if inBatch[dep] && !seen[dep] {
				seen[dep] = true
				out[t.ID] = append(out[t.ID], dep)
			}
		}
	}
	return out
}

// topoOrder is Kahn's algorithm over the in-batch dependencies, breaking
// ties by the order of tasks.
func topoOrder(tasks []domain.Task, deps map[string][]string) ([]domain.Task, error) {
	done := make(map[string]bool, len(tasks))
	out := make([]domain.Task, 0, len(tasks))
	for len(out) < len(tasks) {
		next := -1
		for i, t := range tasks {
			if done[t.ID] {
				continue
			}
			if _, waiting := firstNotIn(deps[t.ID], done); !waiting {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, fmt.Errorf("%w among %d tasks", ErrDependencyCycle, len(tasks)-len(out))
		}
		done[tasks[next].ID] = true
		out = append(out, tasks[next])
	}
	return out, nil
}

func firstIn(ids []string, set map[string]bool) (string, bool) {
	for _, id := range ids {
		if set[id] {
			return id, true
		}
	}
	return "", false
}

func firstNotIn(ids []string, set map[string]bool) (string, bool) {
	for _, id := range ids {
		if !set[id] {
			return id, true
		}
	}
	return "", false
}

func blockedBy(taskID, dep string) domain.Unassigned {
	return domain.Unassigned{TaskID: taskID, Reason: "dependency " + dep + " unassigned"}
}

func groupAssignments(assignments []domain.Assignment, estimates map[int]int) []Group {
	byIndex := map[int]*Group{}
	var indexes []int
	for _, a := range assignments {
		g, ok := byIndex[a.ParallelGroup]
		if !ok {
			g = &Group{Index: a.ParallelGroup, EstimatedMinutes: estimates[a.ParallelGroup]}
			byIndex[a.ParallelGroup] = g
			indexes = append(indexes, a.ParallelGroup)
		}
		g.Assignments = append(g.Assignments, a)
	}
	sort.Ints(indexes)
	out := make([]Group, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, *byIndex[i])
	}
	return out
}

func unassignedReason(err error) string {
	if errors.Is(err, ErrBelowThreshold) {
		return "best candidate below minimum score"
	}
	return "no eligible agent with free capacity"
}
