package orchestration

import (
	"fmt"
	"sort"
	"strings"

	"github.com/atlassonic/atlas/internal/domain"
)

// SwarmRequest describes the swarm to assemble.
type SwarmRequest struct {
	Objective    string           `json:"objective" validate:"required,max=500"`
	Size         int              `json:"size" validate:"omitempty,min=1"`
	Sectors      []string         `json:"sectors" validate:"omitempty,dive,required"`
	Capabilities []string         `json:"capabilities"`
	Formation    domain.Formation `json:"formation" validate:"omitempty,oneof=hierarchical mesh ring star"`
}

// FormSwarm picks up to req.Size agents for an objective. With sectors, seats
// are filled round-robin across the requested sectors (best remaining agent
// of each sector per round) and then from the best agents elsewhere. The
// highest-scoring member leads. Agents are not modified.
func (s *Scorer) FormSwarm(req SwarmRequest, agents []domain.Agent) (*domain.Swarm, error) {
	if strings.TrimSpace(req.Objective) == "" {
		return nil, fmt.Errorf("objective is required: %w", ErrInvalidRequest)
	}
	if req.Size < 1 {
		return nil, fmt.Errorf("size must be at least 1: %w", ErrInvalidRequest)
	}
	if req.Formation == "" {
		req.Formation = domain.FormationHierarchical
	}
	if !req.Formation.Valid() {
		return nil, fmt.Errorf("unknown formation %q: %w", req.Formation, ErrInvalidRequest)
	}

	sectors := dedupeLower(req.Sectors)
	ranked := s.rank(agents, target{sectors: sectors, capabilities: req.Capabilities})
	if len(ranked) == 0 {
		return nil, fmt.Errorf("swarm %q: %w", req.Objective, ErrNoEligibleAgents)
	}

	picked := pickDiverse(ranked, sectors, req.Size)
	sort.SliceStable(picked, func(i, j int) bool { return better(picked[i], picked[j]) })

	sw := &domain.Swarm{
		Objective: strings.TrimSpace(req.Objective),
		Formation: req.Formation,
		Status:    domain.SwarmActive,
		Requested: req.Size,
		Partial:   len(picked) < req.Size,
		Members:   make([]domain.SwarmMember, 0, len(picked)),
	}
	for i, c := range picked {
		role := domain.RoleMember
		if i == 0 {
			role = domain.RoleLeader
			sw.LeaderID = c.agent.ID
		}
		sw.Members = append(sw.Members, domain.SwarmMember{
			AgentID: c.agent.ID,
			Name:    c.agent.Name,
			Sector:  c.agent.Sector,
			Role:    role,
			Score:   c.result.Total,
		})
	}
	sw.Links = Links(sw.Formation, sw.Members)
	return sw, nil
}

func pickDiverse(ranked []candidate, sectors []string, size int) []candidate {
	if len(sectors) == 0 {
		if len(ranked) > size {
			ranked = ranked[:size]
		}
		return append([]candidate(nil), ranked...)
	}

	queues := make(map[string][]candidate, len(sectors))
	var rest []candidate
	for _, c := range ranked {
		sec := strings.ToLower(c.agent.Sector)
		if _, wanted := indexOf(sectors, sec); wanted {
			queues[sec] = append(queues[sec], c)
		} else {
			rest = append(rest, c)
		}
	}

	picked := make([]candidate, 0, size)
	for len(picked) < size {
		progressed := false
		for _, sec := range sectors {
			if len(picked) == size {
				break
			}
			if q := queues[sec]; len(q) > 0 {
				picked = append(picked, q[0])
				queues[sec] = q[1:]
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	for _, c := range rest {
		if len(picked) == size {
			break
		}
		picked = append(picked, c)
	}
	return picked
}

// Links derives the communication edges of a formation. members[0] is the leader.
func Links(f domain.Formation, members []domain.SwarmMember) []domain.SwarmLink {
	links := []domain.SwarmLink{}
	n := len(members)
	if n < 2 {
		return links
	}
	switch f {
	case domain.FormationMesh:
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				links = append(links, domain.SwarmLink{From: members[i].AgentID, To: members[j].AgentID})
			}
		}
	case domain.FormationRing:
		for i := 0; i < n; i++ {
			if n == 2 && i == 1 {
				break
			}
			links = append(links, domain.SwarmLink{From: members[i].AgentID, To: members[(i+1)%n].AgentID})
		}
	default: // hierarchical, star
		for _, m := range members[1:] {
			links = append(links, domain.SwarmLink{From: members[0].AgentID, To: m.AgentID})
		}
	}
	return links
}

func dedupeLower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := indexOf(out, s); !dup {
			out = append(out, s)
		}
	}
	return out
}

func indexOf(list []string, s string) (int, bool) {
	for i, v := range list {
		if v == s {
			return i, true
		}
	}
	return -1, false
}
