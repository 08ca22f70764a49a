// Package agent implements the agent registry: registration of coordination
// participants, their running performance counters, and mediator selection
// for tier-2 conflict resolution.
package agent
