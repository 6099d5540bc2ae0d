package orchestration

import (
	"fmt"

	"github.com/atlassonic/atlas/internal/domain"
)

// FindBestAgent picks the highest-scoring eligible agent for a task.
func (s *Scorer) FindBestAgent(t domain.Task, agents []domain.Agent) (domain.Assignment, error) {
	ranked := s.rank(agents, taskTarget(t))
	if len(ranked) == 0 {
		return domain.Assignment{}, fmt.Errorf("task %s: %w", t.ID, ErrNoEligibleAgents)
	}
	best := ranked[0]
	if best.result.Total < s.minScore {
		return domain.Assignment{}, fmt.Errorf("task %s: %.1f < %.1f: %w", t.ID, best.result.Total, s.minScore, ErrBelowThreshold)
	}
	return assignment(t, best), nil
}

// Evaluate scores one specific agent for a task and returns the assignment
// it would produce. Used when an operator names the agent.
func (s *Scorer) Evaluate(t domain.Task, a domain.Agent) (domain.Assignment, error) {
	r := s.Score(a, t)
	if !r.Eligible {
		return domain.Assignment{}, fmt.Errorf("agent %s: %s: %w", a.ID, r.Reason, ErrNoEligibleAgents)
	}
	return assignment(t, candidate{agent: a, result: r}), nil
}

func assignment(t domain.Task, c candidate) domain.Assignment {
	return domain.Assignment{
		TaskID:    t.ID,
		TaskTitle: t.Title,
		AgentID:   c.agent.ID,
		AgentName: c.agent.Name,
		Score:     c.result.Total,
		Breakdown: c.result.Breakdown,
		Reasoning: reasoning(c.agent, t, c.result),
	}
}
