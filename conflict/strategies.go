package conflict

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hupe1980/meshcoord/core"
)

// tierOne returns the automatic strategies applicable to kind, in order.
func (r *Resolver) tierOne(kind core.ConflictKind) []strategy {
	switch kind {
	case core.ConflictMemory:
		return []strategy{{StrategySimilarityDedup, r.similarityDedup}}
	case core.ConflictSession:
		return []strategy{{StrategyTemporalRecency, r.temporalRecency}}
	case core.ConflictAgent:
		return []strategy{{StrategyAgentPrecedence, r.agentPrecedence}}
	case core.ConflictPattern:
		return []strategy{{StrategyPriorityOrdering, r.priorityOrdering}}
	}
	return nil
}

// similarityDedup treats the first id as canonical and resolves when every
// other record is a near duplicate of it.
func (r *Resolver) similarityDedup(ctx context.Context, c *core.Conflict) outcome {
	if len(c.InvolvedIDs) < 2 {
		return outcome{detail: "needs at least two records"}
	}
	texts := make([]string, len(c.InvolvedIDs))
	for i, id := range c.InvolvedIDs {
		text, ok, err := r.content(ctx, c.Metadata, id)
		if err != nil {
			return outcome{detail: fmt.Sprintf("content of %s: %v", id, err)}
		}
		if !ok {
			return outcome{detail: "content unavailable for " + id}
		}
		texts[i] = text
	}

	threshold := r.effectiveSimilarity(c.Severity)
	minSim := 1.0
	for _, text := range texts[1:] {
		if sim := jaccard(texts[0], text); sim < minSim {
			minSim = sim
		}
	}
	if minSim < threshold {
		return outcome{detail: fmt.Sprintf("similarity %.2f below %.2f", minSim, threshold)}
	}

	canonical := c.InvolvedIDs[0]
	duplicates := append([]string(nil), c.InvolvedIDs[1:]...)
	return outcome{
		success: true,
		winner:  canonical,
		detail:  fmt.Sprintf("similarity %.2f", minSim),
		resolution: map[string]any{
			"canonical":  canonical,
			"duplicates": duplicates,
			"similarity": minSim,
			"threshold":  threshold,
		},
	}
}

// content looks up record text in metadata["contents"] first and falls back
// to the memory reader, bounded by the lookup timeout.
func (r *Resolver) content(ctx context.Context, meta map[string]any, id string) (string, bool, error) {
	switch contents := meta["contents"].(type) {
	case map[string]any:
		if v, ok := contents[id]; ok {
			s, isString := v.(string)
			return s, isString, nil
		}
	case map[string]string:
		if v, ok := contents[id]; ok {
			return v, true, nil
		}
	}
	if r.memory == nil {
		return "", false, nil
	}
	if r.lookup > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.lookup)
		defer cancel()
	}
	return r.memory.Content(ctx, id)
}

// temporalRecency picks the most recently accessed live session. Every
// involved session must be known; inactive or stale ones compete and lose.
func (r *Resolver) temporalRecency(_ context.Context, c *core.Conflict) outcome {
	if r.sessions == nil {
		return outcome{detail: "no session source"}
	}
	if len(c.InvolvedIDs) < 2 {
		return outcome{detail: "needs at least two sessions"}
	}
	now := r.clock.Now()
	var candidates []*core.Session
	for _, id := range c.InvolvedIDs {
		s, ok := r.sessions.Peek(id)
		if !ok {
			return outcome{detail: "unknown session " + id}
		}
		if !s.Active || s.Expired(now) {
			continue
		}
		if now.Sub(s.LastAccessAt) > r.th.RecencyWindow {
			continue
		}
		candidates = append(candidates, s)
	}
	if len(candidates) == 0 {
		return outcome{detail: "no live session accessed within " + r.th.RecencyWindow.String()}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].LastAccessAt.After(candidates[j].LastAccessAt)
	})
	if len(candidates) > 1 && candidates[0].LastAccessAt.Equal(candidates[1].LastAccessAt) {
		return outcome{detail: "tie on last access"}
	}

	winner := candidates[0]
	return outcome{
		success: true,
		winner:  winner.ID,
		detail:  "most recent access " + winner.LastAccessAt.Format(time.RFC3339Nano),
		resolution: map[string]any{
			"lastAccessAt": winner.LastAccessAt,
			"candidates":   len(candidates),
		},
	}
}

// agentPrecedence ranks agents by role precedence, then success rate. Every
// involved agent must be registered.
func (r *Resolver) agentPrecedence(_ context.Context, c *core.Conflict) outcome {
	if r.agents == nil {
		return outcome{detail: "no agent source"}
	}
	if len(c.InvolvedIDs) < 2 {
		return outcome{detail: "needs at least two agents"}
	}
	ranked := make([]*core.Agent, 0, len(c.InvolvedIDs))
	for _, id := range c.InvolvedIDs {
		a, ok := r.agents.Peek(id)
		if !ok {
			return outcome{detail: "unknown agent " + id}
		}
		ranked = append(ranked, a)
	}
	less := func(a, b *core.Agent) bool {
		if pa, pb := a.Role.Precedence(), b.Role.Precedence(); pa != pb {
			return pa > pb
		}
		return a.Performance.SuccessRate > b.Performance.SuccessRate
	}
	sort.SliceStable(ranked, func(i, j int) bool { return less(ranked[i], ranked[j]) })
	if !less(ranked[0], ranked[1]) {
		return outcome{detail: "tie between " + ranked[0].ID + " and " + ranked[1].ID}
	}

	top := ranked[0]
	return outcome{
		success: true,
		winner:  top.ID,
		detail:  "precedence " + string(top.Role),
		resolution: map[string]any{
			"role":        string(top.Role),
			"successRate": top.Performance.SuccessRate,
		},
	}
}

// priorityOrdering ranks patterns by confidence, then success rate, and
// requires the top pattern to be confident enough.
func (r *Resolver) priorityOrdering(_ context.Context, c *core.Conflict) outcome {
	if r.patterns == nil {
		return outcome{detail: "no pattern source"}
	}
	if len(c.InvolvedIDs) < 2 {
		return outcome{detail: "needs at least two patterns"}
	}
	ranked := make([]*core.Pattern, 0, len(c.InvolvedIDs))
	for _, id := range c.InvolvedIDs {
		p, ok := r.patterns.Peek(id)
		if !ok {
			return outcome{detail: "unknown pattern " + id}
		}
		ranked = append(ranked, p)
	}
	less := func(a, b *core.Pattern) bool {
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.SuccessRate > b.SuccessRate
	}
	sort.SliceStable(ranked, func(i, j int) bool { return less(ranked[i], ranked[j]) })
	if !less(ranked[0], ranked[1]) {
		return outcome{detail: "tie between " + ranked[0].ID + " and " + ranked[1].ID}
	}
	top := ranked[0]
	if top.Confidence < r.th.Confidence {
		return outcome{detail: fmt.Sprintf("top confidence %.2f below %.2f", top.Confidence, r.th.Confidence)}
	}

	return outcome{
		success: true,
		winner:  top.ID,
		detail:  fmt.Sprintf("confidence %.2f", top.Confidence),
		resolution: map[string]any{
			"confidence":  top.Confidence,
			"successRate": top.SuccessRate,
		},
	}
}
