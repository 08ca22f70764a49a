package conflict

import (
	"context"
	"fmt"
	"sort"

	"github.com/hupe1980/meshcoord/core"
)

// mediate runs tier 2. It reports whether the conflict was resolved; every
// path records at least one tier-2 attempt so escalation never skips it.
func (r *Resolver) mediate(ctx context.Context, c *core.Conflict) bool {
	var mediators []*core.Agent
	if r.agents != nil {
		mediators = r.agents.Mediators(r.parties(c))
	}
	if len(mediators) == 0 {
		c.History = append(c.History, core.TierAttempt{Tier: 2, Strategy: StrategyMediation, Detail: "no mediators available"})
		return false
	}

	start := r.clock.Now()
	steps := []strategy{{StrategyContextualAnalysis, func(ctx context.Context, c *core.Conflict) outcome {
		return r.contextualAnalysis(c, mediators)
	}}}
	if len(involvedAgents(c)) > 1 {
		steps = append(steps, strategy{StrategyMediatorVoting, func(ctx context.Context, c *core.Conflict) outcome {
			return r.mediatorVoting(c, mediators)
		}})
	}

	for _, s := range steps {
		if r.clock.Now().Sub(start) > r.th.MaxMediation {
			c.History = append(c.History, core.TierAttempt{Tier: 2, Strategy: s.name, Detail: "mediation time exceeded"})
			return false
		}
		out := s.run(ctx, c)
		if out.success && r.clock.Now().Sub(start) > r.th.MaxMediation {
			out = outcome{detail: "mediation time exceeded"}
		}
		c.History = append(c.History, core.TierAttempt{Tier: 2, Strategy: s.name, Success: out.success, Detail: out.detail})
		if out.success {
			r.resolve(c, s.name, out)
			return true
		}
	}
	return false
}

// involvedAgents are the agent ids taking part in a conflict: the involved
// ids themselves for agent conflicts, otherwise metadata["agents"].
func involvedAgents(c *core.Conflict) []string {
	if c.Kind == core.ConflictAgent {
		return c.InvolvedIDs
	}
	switch v := c.Metadata["agents"].(type) {
	case []string:
		return core.UniqueStrings(v)
	case []any:
		ids := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				ids = append(ids, s)
			}
		}
		return core.UniqueStrings(ids)
	}
	return nil
}

// parties are excluded from mediating their own conflict.
func (r *Resolver) parties(c *core.Conflict) []string {
	out := append([]string(nil), c.InvolvedIDs...)
	return append(out, involvedAgents(c)...)
}

// contextualAnalysis scores each mediator by relevance × reliability.
func (r *Resolver) contextualAnalysis(c *core.Conflict, mediators []*core.Agent) outcome {
	domain, _ := c.Metadata["domain"].(string)

	var best *core.Agent
	bestScore := -1.0
	for _, m := range mediators {
		relevance := 0.5
		if m.HasSpecialization(string(c.Kind)) || (domain != "" && m.HasSpecialization(domain)) {
			relevance = 1
		}
		score := relevance * m.Performance.Reliability()
		if score > bestScore {
			best, bestScore = m, score
		}
	}
	if bestScore <= r.th.Contextual {
		return outcome{detail: fmt.Sprintf("best confidence %.2f not above %.2f", bestScore, r.th.Contextual)}
	}
	return outcome{
		success: true,
		detail:  fmt.Sprintf("mediator %s confidence %.2f", best.ID, bestScore),
		resolution: map[string]any{
			"mediator":   best.ID,
			"confidence": bestScore,
		},
		credit: []string{best.ID},
	}
}

// mediatorVoting lets each mediator vote for the involved agent it shares the
// most specializations with.
func (r *Resolver) mediatorVoting(c *core.Conflict, mediators []*core.Agent) outcome {
	var candidates []*core.Agent
	for _, id := range involvedAgents(c) {
		if a, ok := r.agents.Peek(id); ok {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return outcome{detail: "no registered agents to vote for"}
	}

	votes := make(map[string][]string)
	for _, m := range mediators {
		choice := vote(m, candidates)
		votes[choice] = append(votes[choice], m.ID)
	}

	tally := make([]string, 0, len(votes))
	for id := range votes {
		tally = append(tally, id)
	}
	sort.Slice(tally, func(i, j int) bool {
		if len(votes[tally[i]]) != len(votes[tally[j]]) {
			return len(votes[tally[i]]) > len(votes[tally[j]])
		}
		return tally[i] < tally[j]
	})

	winner := tally[0]
	share := float64(len(votes[winner])) / float64(len(mediators))
	if len(tally) > 1 && len(votes[tally[1]]) == len(votes[winner]) {
		return outcome{detail: "split vote"}
	}
	if share <= r.th.Voting {
		return outcome{detail: fmt.Sprintf("consensus %.2f not above %.2f", share, r.th.Voting)}
	}

	voters := append([]string(nil), votes[winner]...)
	return outcome{
		success: true,
		winner:  winner,
		detail:  fmt.Sprintf("%d of %d votes", len(voters), len(mediators)),
		resolution: map[string]any{
			"votes":     len(voters),
			"mediators": len(mediators),
			"consensus": share,
			"voters":    voters,
		},
		credit: voters,
	}
}

// vote picks the candidate sharing the most specializations with m; ties go
// to the higher success rate, then the lower id.
func vote(m *core.Agent, candidates []*core.Agent) string {
	best := candidates[0]
	bestShared := m.SharedSpecializations(best)
	for _, cand := range candidates[1:] {
		shared := m.SharedSpecializations(cand)
		switch {
		case shared > bestShared:
		case shared < bestShared:
			continue
		case cand.Performance.SuccessRate > best.Performance.SuccessRate:
		case cand.Performance.SuccessRate < best.Performance.SuccessRate:
			continue
		case cand.ID < best.ID:
		default:
			continue
		}
		best, bestShared = cand, shared
	}
	return best.ID
}
