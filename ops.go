package meshcoord

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/hupe1980/meshcoord/core"
	"github.com/hupe1980/meshcoord/internal/util"
	"github.com/hupe1980/meshcoord/logging"
)

// CreateSessionRequest is the input of create_session.
type CreateSessionRequest struct {
	Role         string         `json:"role" enum:"orchestrator,specialist,coordinator,validator" description:"Role of the session owner"`
	ParentID     string         `json:"parentId,omitempty" description:"Parent session id for a child session"`
	InitialState map[string]any `json:"initialState,omitempty"`
	TTLSeconds   int            `json:"ttlSeconds,omitempty" description:"Lifetime in seconds; 0 selects the default"`
}

// GetSessionRequest is the input of get_session.
type GetSessionRequest struct {
	SessionID        string `json:"sessionId"`
	IncludeHierarchy bool   `json:"includeHierarchy,omitempty" description:"Merge ancestor state root to leaf"`
}

// UpdateSessionStateRequest is the input of update_session_state.
type UpdateSessionStateRequest struct {
	SessionID string         `json:"sessionId"`
	State     map[string]any `json:"state"`
}

// AttachMemoryRequest is the input of attach_memory.
type AttachMemoryRequest struct {
	SessionID string `json:"sessionId"`
	RecordID  string `json:"recordId"`
}

// RegisterAgentRequest is the input of register_agent.
type RegisterAgentRequest struct {
	AgentID         string   `json:"agentId"`
	Role            string   `json:"role" enum:"orchestrator,specialist,coordinator,validator"`
	Specializations []string `json:"specializations"`
}

// ReportOutcomeRequest is the input of report_outcome.
type ReportOutcomeRequest struct {
	AgentID        string  `json:"agentId"`
	Success        bool    `json:"success"`
	ResponseTimeMs float64 `json:"responseTimeMs"`
}

// JoinSessionRequest is the input of join_session.
type JoinSessionRequest struct {
	AgentID   string `json:"agentId"`
	SessionID string `json:"sessionId"`
}

// ResolveConflictRequest is the input of resolve_conflict.
type ResolveConflictRequest struct {
	Kind        string         `json:"kind" enum:"memory,session,agent,pattern"`
	InvolvedIDs []string       `json:"involvedIds"`
	Severity    string         `json:"severity" enum:"low,medium,high,critical"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ListConflictsRequest is the input of list_conflicts.
type ListConflictsRequest struct {
	Status     string `json:"status,omitempty" enum:"pending,in_progress,resolved,escalated"`
	ActiveOnly bool   `json:"activeOnly,omitempty" description:"Only escalated conflicts awaiting review"`
}

// AcknowledgeConflictRequest is the input of acknowledge_conflict.
type AcknowledgeConflictRequest struct {
	ConflictID string `json:"conflictId"`
}

// LearnPatternRequest is the input of learn_pattern.
type LearnPatternRequest struct {
	Kind               string         `json:"kind" enum:"workflow,resolution,optimization,prediction"`
	Conditions         map[string]any `json:"conditions"`
	Actions            map[string]any `json:"actions"`
	ApplicableContexts []string       `json:"applicableContexts,omitempty" description:"Glob patterns of scopes the pattern applies to"`
	ContributedBy      string         `json:"contributedBy,omitempty" description:"Agent credited with the pattern"`
}

// ApplyPatternRequest is the input of apply_pattern.
type ApplyPatternRequest struct {
	PatternID string         `json:"patternId"`
	Context   map[string]any `json:"context"`
	Scope     string         `json:"scope,omitempty" description:"Scope matched against applicableContexts"`
}

// Operation is a named coordination action with a derived parameter schema.
type Operation struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`

	call func(ctx context.Context, args map[string]any) (any, error)
}

// op builds an Operation whose arguments decode into Req.
func op[Req any](name, description string, fn func(ctx context.Context, req Req) (any, error)) *Operation {
	var zero Req
	return &Operation{
		Name:        name,
		Description: description,
		Parameters:  util.CreateSchema(zero),
		call: func(ctx context.Context, args map[string]any) (any, error) {
			var req Req
			if err := decodeArgs(args, &req); err != nil {
				return nil, err
			}
			return fn(ctx, req)
		},
	}
}

func (c *Coordinator) operations() map[string]*Operation {
	list := []*Operation{
		op("create_session", "Create a root or child session", func(_ context.Context, r CreateSessionRequest) (any, error) {
			return c.CreateSession(r)
		}),
		op("get_session", "Fetch a session, optionally with merged hierarchy state", func(_ context.Context, r GetSessionRequest) (any, error) {
			return c.GetSession(r)
		}),
		op("update_session_state", "Merge keys into a session's state", func(_ context.Context, r UpdateSessionStateRequest) (any, error) {
			return c.UpdateSessionState(r)
		}),
		op("attach_memory", "Attach an external memory record to a session", func(_ context.Context, r AttachMemoryRequest) (any, error) {
			return c.AttachMemory(r)
		}),
		op("register_agent", "Register a new agent", func(_ context.Context, r RegisterAgentRequest) (any, error) {
			return c.RegisterAgent(r)
		}),
		op("report_outcome", "Report a task outcome for an agent", func(_ context.Context, r ReportOutcomeRequest) (any, error) {
			return c.ReportOutcome(r)
		}),
		op("join_session", "Record that an agent works in a session", func(_ context.Context, r JoinSessionRequest) (any, error) {
			return c.JoinSession(r)
		}),
		op("resolve_conflict", "Resolve a conflict through the tiers", func(ctx context.Context, r ResolveConflictRequest) (any, error) {
			return c.ResolveConflict(ctx, r)
		}),
		op("list_conflicts", "List conflicts by status", func(_ context.Context, r ListConflictsRequest) (any, error) {
			return c.ListConflicts(r), nil
		}),
		op("acknowledge_conflict", "Remove an escalated conflict from the review list", func(_ context.Context, r AcknowledgeConflictRequest) (any, error) {
			return c.AcknowledgeConflict(r)
		}),
		op("learn_pattern", "Store a new condition to action pattern", func(_ context.Context, r LearnPatternRequest) (any, error) {
			return c.LearnPattern(r)
		}),
		op("apply_pattern", "Apply a pattern to a context", func(ctx context.Context, r ApplyPatternRequest) (any, error) {
			return c.ApplyPattern(ctx, r), nil
		}),
		op("status", "Aggregate counts over all stores", func(_ context.Context, _ struct{}) (any, error) {
			return c.Status(), nil
		}),
	}

	ops := make(map[string]*Operation, len(list))
	for _, o := range list {
		ops[o.Name] = o
	}
	return ops
}

// Operations lists the named operations sorted by name.
func (c *Coordinator) Operations() []*Operation {
	out := make([]*Operation, 0, len(c.ops))
	for _, o := range c.ops {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute validates args against the operation's schema and dispatches it.
// Schema failures are *core.ValidationError and happen before any mutation.
func (c *Coordinator) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	o, ok := c.ops[name]
	if !ok {
		return nil, core.NewValidationError("op", "unknown operation "+name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if cl, ok := c.logger.(*logging.CoordLogger); ok {
		defer cl.StartTimer(name)()
	}
	if err := util.ValidateParameters(args, o.Parameters); err != nil {
		c.logger.Warn("operation.validation_failed", "op", name, "error", err.Error())
		return nil, err
	}
	res, err := o.call(ctx, args)
	if err != nil {
		c.logger.Debug("operation.failed", "op", name, "error", err.Error())
		return nil, err
	}
	return res, nil
}

// decodeArgs converts validated arguments into a typed request.
func decodeArgs(args map[string]any, out any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return core.NewValidationError("args", err.Error())
	}
	if err := json.Unmarshal(data, out); err != nil {
		return core.NewValidationError("args", err.Error())
	}
	return nil
}
