// Package guard holds the pure protocol decision logic: given a session
// snapshot and a proposed tool call, approve, deny or defer it. Evaluation
// never mutates session state; all mutation happens later in the
// orchestrator's effect-applying step.
package guard

import (
	"sort"
	"strings"

	contractx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/contract"
	statex "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/state"
)

// DescriptorSource resolves tool names to descriptors. The tool registry
// satisfies this.
type DescriptorSource interface {
	Descriptor(name string) (contractx.ToolDescriptor, bool)
}

type Guard struct {
	descriptors DescriptorSource
}

func New(descriptors DescriptorSource) *Guard {
	return &Guard{descriptors: descriptors}
}

// Evaluate checks a proposed tool call against the session's protocol
// flags. The session snapshot is assumed stable for the duration of the
// call; the orchestrator's per-session lock guarantees that.
func (g *Guard) Evaluate(sess *statex.Session, call contractx.ToolCall) contractx.Decision {
	name := strings.TrimSpace(call.Tool)
	desc, ok := g.descriptors.Descriptor(name)
	if !ok {
		return contractx.Decision{
			Verdict: contractx.VerdictDeny,
			Reason:  contractx.DenyUnknownTool,
		}
	}

	// Consent gating comes first: a consent-gated tool with consent unset
	// must surface a confirmation request, not a silent deny.
	if desc.ConsentGated && !sess.FlagSet(contractx.FlagConsentGiven) {
		return contractx.Decision{
			Verdict: contractx.VerdictRequiresConfirmation,
		}
	}

	if missing := missingPreconditions(sess, desc); len(missing) > 0 {
		return contractx.Decision{
			Verdict: contractx.VerdictDeny,
			Reason:  contractx.DenyPrecondition,
			Missing: missing,
		}
	}

	// A declared identifier effect against an already-recorded identifier
	// would overwrite an immutable value.
	for _, ident := range desc.EffectIdentifiers {
		if _, exists := sess.Identifier(ident); exists {
			return contractx.Decision{
				Verdict: contractx.VerdictDeny,
				Reason:  contractx.DenyIdentifierConflict,
				Missing: []string{ident},
			}
		}
	}

	return contractx.Decision{Verdict: contractx.VerdictAllow}
}

// missingPreconditions returns, sorted, every precondition that does not
// hold. A precondition name is satisfied by a truthy flag or a recorded
// identifier of that name.
func missingPreconditions(sess *statex.Session, desc contractx.ToolDescriptor) []string {
	var missing []string
	for _, name := range desc.Preconditions {
		if sess.FlagSet(name) {
			continue
		}
		if _, ok := sess.Identifier(name); ok {
			continue
		}
		missing = append(missing, name)
	}
	sort.Strings(missing)
	return missing
}
