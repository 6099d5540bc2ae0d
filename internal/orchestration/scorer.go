// Package orchestration matches tasks to agents. Scoring is a weighted sum
// of five factors; single-task matching, multi-task coordination and swarm
// formation are greedy passes over the scored candidates.
package orchestration

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/atlassonic/atlas/internal/config"
	"github.com/atlassonic/atlas/internal/domain"
)

// Scorer ranks agents against work. It is stateless and safe for concurrent use.
type Scorer struct {
	w        config.ScoringWeights
	minScore float64
}

// NewScorer builds a scorer. minScore (0..100) is the lowest total a match
// may have.
func NewScorer(w config.ScoringWeights, minScore float64) *Scorer {
	return &Scorer{w: w, minScore: minScore}
}

// ScoreResult is the outcome of scoring one agent.
type ScoreResult struct {
	Total     float64               `json:"total"`
	Breakdown domain.ScoreBreakdown `json:"breakdown"`
	Eligible  bool                  `json:"eligible"`
	Reason    string                `json:"reason,omitempty"`
}

// target is what an agent is scored against: a task or a swarm request.
type target struct {
	sectors      []string
	capabilities []string
}

func taskTarget(t domain.Task) target {
	tg := target{capabilities: t.RequiredCapabilities}
	if t.Sector != "" {
		tg.sectors = []string{t.Sector}
	}
	return tg
}

// Score rates an agent for a task.
func (s *Scorer) Score(a domain.Agent, t domain.Task) ScoreResult {
	return s.score(a, taskTarget(t))
}

func (s *Scorer) score(a domain.Agent, tg target) ScoreResult {
	if !a.Status.Assignable() {
		return ScoreResult{Reason: fmt.Sprintf("agent is %s", a.Status)}
	}
	if !a.HasCapacity() {
		return ScoreResult{Reason: fmt.Sprintf("agent at capacity (%d/%d)", a.CurrentTasks, a.MaxConcurrent)}
	}

	b := domain.ScoreBreakdown{
		Sector:       s.w.Sector * sectorFactor(a.Sector, tg.sectors),
		Capability:   s.w.Capability * capabilityFactor(a.Capabilities, tg.capabilities),
		Performance:  s.w.Performance * clamp01(a.PerformanceScore/100),
		Availability: s.w.Availability * availabilityFactor(a),
		Reliability:  s.w.Reliability * clamp01(a.SuccessRate),
	}
	b.Sector = round2(b.Sector * 100)
	b.Capability = round2(b.Capability * 100)
	b.Performance = round2(b.Performance * 100)
	b.Availability = round2(b.Availability * 100)
	b.Reliability = round2(b.Reliability * 100)

	total := round2(b.Sector + b.Capability + b.Performance + b.Availability + b.Reliability)
	return ScoreResult{Total: total, Breakdown: b, Eligible: true}
}

func sectorFactor(sector string, wanted []string) float64 {
	if len(wanted) == 0 {
		return 0.5
	}
	for _, w := range wanted {
		if strings.EqualFold(sector, w) {
			return 1
		}
	}
	return 0
}

func capabilityFactor(have domain.StringList, need []string) float64 {
	if len(need) == 0 {
		return 1
	}
	matched := 0
	for _, c := range need {
		if have.Contains(c) {
			matched++
		}
	}
	return float64(matched) / float64(len(need))
}

func availabilityFactor(a domain.Agent) float64 {
	f := 1 - a.Load()
	if a.Status == domain.AgentBusy {
		f /= 2
	}
	return clamp01(f)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// candidate is an eligible agent with its score.
type candidate struct {
	agent  domain.Agent
	result ScoreResult
}

// better orders candidates: higher total, then lower load, then smaller id.
func better(a, b candidate) bool {
	if a.result.Total != b.result.Total {
		return a.result.Total > b.result.Total
	}
	if la, lb := a.agent.Load(), b.agent.Load(); la != lb {
		return la < lb
	}
	return a.agent.ID < b.agent.ID
}

// rank scores agents and returns the eligible ones, best first.
func (s *Scorer) rank(agents []domain.Agent, tg target) []candidate {
	out := make([]candidate, 0, len(agents))
	for _, a := range agents {
		r := s.score(a, tg)
		if r.Eligible {
			out = append(out, candidate{agent: a, result: r})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return better(out[i], out[j]) })
	return out
}

// reasoning explains a match in one line.
func reasoning(a domain.Agent, t domain.Task, r ScoreResult) string {
	sector := "no sector preference"
	switch {
	case t.Sector == "":
	case strings.EqualFold(a.Sector, t.Sector):
		sector = "sector match (" + a.Sector + ")"
	default:
		sector = "cross-sector (" + a.Sector + ")"
	}
	caps := "no capabilities required"
	if n := len(t.RequiredCapabilities); n > 0 {
		matched := 0
		for _, c := range t.RequiredCapabilities {
			if a.Capabilities.Contains(c) {
				matched++
			}
		}
		caps = fmt.Sprintf("%d/%d capabilities", matched, n)
	}
	return fmt.Sprintf("%s scored %.1f: %s, %s, load %d/%d, performance %.0f",
		a.Name, r.Total, sector, caps, a.CurrentTasks, a.MaxConcurrent, a.PerformanceScore)
}
