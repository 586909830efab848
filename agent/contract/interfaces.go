package contract

import (
	"context"

	statex "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/state"
)

// Proposer is the language-model capability: best-effort text generation
// producing one Action per call. Implementations apply a single bounded
// retry on transport failure and nothing more.
type Proposer interface {
	Propose(ctx context.Context, req ProposeRequest) (Action, error)
}

// Summarizer distills a conversation into a structured lead summary.
type Summarizer interface {
	Summarize(ctx context.Context, req SummarizeRequest) (statex.LeadSummary, error)
}

// ProtocolGuard decides whether a proposed tool call may execute against the
// given session snapshot. Evaluate must not mutate the session.
type ProtocolGuard interface {
	Evaluate(sess *statex.Session, call ToolCall) Decision
}

// ToolRegistry maps tool names to callable capabilities. Invoke re-validates
// through the guard before executing and returns the effect delta for the
// orchestrator to apply; it never writes the session.
type ToolRegistry interface {
	Descriptor(name string) (ToolDescriptor, bool)
	Descriptors() []ToolDescriptor
	Invoke(ctx context.Context, sess *statex.Session, turnIndex int, call ToolCall) (Invocation, error)
}

// Retriever is the read-only vector-similarity capability behind the case
// study and testimonial tools. It has no session-state effect.
type Retriever interface {
	Search(ctx context.Context, query, corpus string, k int) ([]Hit, error)
}
