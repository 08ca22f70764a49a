// Package conflict implements the tiered conflict resolver.
//
// A conflict moves through at most three tiers in one synchronous call:
//
//	pending → tier 1 (automatic) → tier 2 (mediation) → tier 3 (escalation)
//
// Tier 1 runs the deterministic strategy registered for the conflict kind.
// Tier 2 asks mediator agents (coordinators and orchestrators that are not
// parties to the conflict) for a contextual verdict and, when several agents
// are involved, for a vote. Tier 3 always terminates the call: the conflict is
// marked escalated and queued for human review.
package conflict
