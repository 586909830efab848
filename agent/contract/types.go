package contract

import (
	"time"

	statex "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/state"
)

// Protocol flags and identifier names used by the journey tool descriptors.
// Flags are set by tool effects or an explicit consent event, never by the
// orchestrator itself. Identifiers are accepted verbatim from tool results.
const (
	FlagConsentGiven       = "consent_given"
	FlagOnboarded          = "onboarded"
	FlagSpecialistSelected = "specialist_selected"
	FlagAppointmentBooked  = "appointment_booked"
	FlagLastSummaryTurn    = "last_summary_turn_index"

	IdentCustomerID    = "customer_id"
	IdentSpecialistID  = "specialist_id"
	IdentAppointmentID = "appointment_id"
)

// ToolCall is a tool invocation proposed by the model.
type ToolCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

type ActionKind string

const (
	ActionReply          ActionKind = "reply"
	ActionToolCall       ActionKind = "tool_call"
	ActionConsentRequest ActionKind = "consent_request"
)

// Action is the model's proposal for a single turn: plain reply text, one
// tool call, or an explicit consent request. No correctness guarantee is
// assumed; protocol enforcement is independent of the model output.
type Action struct {
	Kind          ActionKind `json:"kind"`
	Reply         string     `json:"reply,omitempty"`
	ToolCall      *ToolCall  `json:"tool_call,omitempty"`
	ConsentPrompt string     `json:"consent_prompt,omitempty"`
}

type ProposeRequest struct {
	SessionID          string              `json:"session_id"`
	Turns              []statex.TurnRecord `json:"turns"`
	Flags              map[string]any      `json:"flags,omitempty"`
	Identifiers        map[string]string   `json:"identifiers,omitempty"`
	PendingConsentTool string              `json:"pending_consent_tool,omitempty"`
	// Notes carry corrective protocol feedback from denied or malformed tool
	// calls. They are fed to the model as system context, never to the user.
	Notes []string  `json:"notes,omitempty"`
	Now   time.Time `json:"now"`
}

type SummarizeRequest struct {
	SessionID   string              `json:"session_id"`
	Turns       []statex.TurnRecord `json:"turns"`
	Identifiers map[string]string   `json:"identifiers,omitempty"`
	Now         time.Time           `json:"now"`
}

type Verdict string

const (
	VerdictAllow                Verdict = "allow"
	VerdictDeny                 Verdict = "deny"
	VerdictRequiresConfirmation Verdict = "requires_confirmation"
)

type DenyReason string

const (
	DenyUnknownTool        DenyReason = "unknown_tool"
	DenyPrecondition       DenyReason = "precondition_failed"
	DenyIdentifierConflict DenyReason = "identifier_conflict"
)

// Decision is the Protocol Guard verdict for a proposed tool call.
// Evaluation is side-effect free; Missing lists the unsatisfied
// preconditions on a deny.
type Decision struct {
	Verdict       Verdict    `json:"verdict"`
	Reason        DenyReason `json:"reason,omitempty"`
	Missing       []string   `json:"missing,omitempty"`
	ConsentPrompt string     `json:"consent_prompt,omitempty"`
}

type IdempotencyClass string

const (
	// IdempotentSafe tools may be retried transparently on transient
	// failures.
	IdempotentSafe IdempotencyClass = "safe"
	// AtMostOnce tools are retried at most once, carrying a deduplication
	// token derived from session id and turn index.
	AtMostOnce IdempotencyClass = "at_most_once"
)

type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
)

type ParamInfo struct {
	Type     ParamType `json:"type"`
	Desc     string    `json:"desc"`
	Required bool      `json:"required"`
}

// ToolDescriptor declares a tool's contract: the flags that must hold before
// it may run, and the flags/identifiers its output is allowed to write.
// Effects outside the declared sets are dropped by the registry.
type ToolDescriptor struct {
	Name   string               `json:"name"`
	Desc   string               `json:"desc"`
	Params map[string]ParamInfo `json:"params,omitempty"`

	Preconditions []string `json:"preconditions,omitempty"`
	ConsentGated  bool     `json:"consent_gated,omitempty"`

	EffectFlags       []string `json:"effect_flags,omitempty"`
	EffectIdentifiers []string `json:"effect_identifiers,omitempty"`

	Idempotency IdempotencyClass `json:"idempotency"`
}

// ToolOutput is the raw result of a tool execution. Content is what the
// model sees in the transcript; Flags and Identifiers are candidate effects,
// filtered against the descriptor before they become a delta. Summary is set
// only by the summarizer tool and is stored silently on the session.
type ToolOutput struct {
	Content     any                `json:"content,omitempty"`
	Flags       map[string]any     `json:"flags,omitempty"`
	Identifiers map[string]string  `json:"identifiers,omitempty"`
	Summary     *statex.LeadSummary `json:"summary,omitempty"`
}

// Invocation pairs a tool's output with the effect delta the orchestrator
// must apply atomically. The registry never mutates the session itself.
type Invocation struct {
	Output ToolOutput
	Delta  statex.EffectDelta
}

// Hit is one retrieval result; higher score means better match.
type Hit struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}
