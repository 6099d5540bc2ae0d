package orchestration

import (
	"testing"
	"time"

	"github.com/atlassonic/atlas/internal/config"
	"github.com/atlassonic/atlas/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScorer() *Scorer {
	return NewScorer(config.DefaultWeights(), 0)
}

func agent(id, sector string, perf float64, load, max int) domain.Agent {
	return domain.Agent{
		ID:               id,
		Name:             "agent-" + id,
		Sector:           sector,
		Status:           domain.AgentIdle,
		MaxConcurrent:    max,
		CurrentTasks:     load,
		PerformanceScore: perf,
		SuccessRate:      0.9,
	}
}

func task(id, sector string, p domain.Priority) domain.Task {
	return domain.Task{
		ID:        id,
		Title:     "task " + id,
		Sector:    sector,
		Priority:  p,
		Status:    domain.TaskPending,
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestScore_WeightedSum(t *testing.T) {
	s := testScorer()
	a := agent("a", "Finance", 80, 1, 4)
	a.Capabilities = domain.StringList{"nlp", "vision"}
	tk := task("t", "finance", domain.PriorityHigh)
	tk.RequiredCapabilities = domain.StringList{"NLP", "audio"}

	r := s.Score(a, tk)
	require.True(t, r.Eligible)
	assert.InDelta(t, 30, r.Breakdown.Sector, 1e-9)
	assert.InDelta(t, 12.5, r.Breakdown.Capability, 1e-9)
	assert.InDelta(t, 16, r.Breakdown.Performance, 1e-9)
	assert.InDelta(t, 11.25, r.Breakdown.Availability, 1e-9)
	assert.InDelta(t, 9, r.Breakdown.Reliability, 1e-9)
	assert.InDelta(t, 78.75, r.Total, 1e-9)
}

func TestScore_Factors(t *testing.T) {
	s := testScorer()

	noSector := s.Score(agent("a", "retail", 0, 0, 1), task("t", "", domain.PriorityLow))
	assert.InDelta(t, 15, noSector.Breakdown.Sector, 1e-9, "no task sector counts half")
	assert.InDelta(t, 25, noSector.Breakdown.Capability, 1e-9, "no requirements is full coverage")

	mismatch := s.Score(agent("a", "retail", 0, 0, 1), task("t", "finance", domain.PriorityLow))
	assert.Zero(t, mismatch.Breakdown.Sector)

	busy := agent("a", "finance", 0, 1, 2)
	busy.Status = domain.AgentBusy
	r := s.Score(busy, task("t", "finance", domain.PriorityLow))
	assert.InDelta(t, 3.75, r.Breakdown.Availability, 1e-9, "busy halves availability")

	over := agent("a", "finance", 150, 0, 1)
	over.SuccessRate = 2
	r = s.Score(over, task("t", "finance", domain.PriorityLow))
	assert.InDelta(t, 20, r.Breakdown.Performance, 1e-9)
	assert.InDelta(t, 10, r.Breakdown.Reliability, 1e-9)
	assert.InDelta(t, 100, r.Total, 1e-9)
}

func TestScore_Ineligible(t *testing.T) {
	s := testScorer()
	tk := task("t", "finance", domain.PriorityLow)

	for _, st := range []domain.AgentStatus{domain.AgentPaused, domain.AgentOffline, domain.AgentError} {
		a := agent("a", "finance", 90, 0, 2)
		a.Status = st
		r := s.Score(a, tk)
		assert.False(t, r.Eligible, st)
		assert.Zero(t, r.Total)
		assert.Contains(t, r.Reason, string(st))
	}

	full := s.Score(agent("a", "finance", 90, 2, 2), tk)
	assert.False(t, full.Eligible)
	assert.Contains(t, full.Reason, "capacity")
}

func TestFindBestAgent(t *testing.T) {
	s := testScorer()
	tk := task("t", "finance", domain.PriorityHigh)

	a, err := s.FindBestAgent(tk, []domain.Agent{
		agent("retail-star", "retail", 100, 0, 2),
		agent("fin", "finance", 70, 0, 2),
	})
	require.NoError(t, err)
	assert.Equal(t, "fin", a.AgentID)
	assert.Equal(t, "t", a.TaskID)
	assert.Contains(t, a.Reasoning, "sector match")
	assert.Greater(t, a.Score, 0.0)
}

func TestFindBestAgent_TieBreaks(t *testing.T) {
	s := testScorer()
	tk := task("t", "finance", domain.PriorityHigh)

	// Equal totals: the idle agent's availability offsets the other's performance.
	idle := agent("z-idle", "finance", 70, 0, 3)
	loaded := agent("a-loaded", "finance", 95, 1, 3)
	require.Equal(t, s.Score(idle, tk).Total, s.Score(loaded, tk).Total)

	a, err := s.FindBestAgent(tk, []domain.Agent{loaded, idle})
	require.NoError(t, err)
	assert.Equal(t, "z-idle", a.AgentID, "lower load wins a tie")

	a, err = s.FindBestAgent(tk, []domain.Agent{agent("b", "finance", 80, 0, 2), agent("a", "finance", 80, 0, 2)})
	require.NoError(t, err)
	assert.Equal(t, "a", a.AgentID, "smaller id wins a full tie")
}

func TestFindBestAgent_Errors(t *testing.T) {
	tk := task("t", "finance", domain.PriorityHigh)

	_, err := testScorer().FindBestAgent(tk, nil)
	assert.ErrorIs(t, err, ErrNoEligibleAgents)

	off := agent("a", "finance", 90, 0, 1)
	off.Status = domain.AgentOffline
	_, err = testScorer().FindBestAgent(tk, []domain.Agent{off})
	assert.ErrorIs(t, err, ErrNoEligibleAgents)

	strict := NewScorer(config.DefaultWeights(), 99)
	_, err = strict.FindBestAgent(tk, []domain.Agent{agent("a", "retail", 50, 0, 1)})
	assert.ErrorIs(t, err, ErrBelowThreshold)
}

func TestEvaluate(t *testing.T) {
	s := testScorer()
	tk := task("t", "finance", domain.PriorityHigh)

	a, err := s.Evaluate(tk, agent("x", "retail", 50, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, "x", a.AgentID)
	assert.Contains(t, a.Reasoning, "cross-sector")

	_, err = s.Evaluate(tk, agent("x", "retail", 50, 1, 1))
	assert.ErrorIs(t, err, ErrNoEligibleAgents)
}
