package journeynode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/contract"
	statex "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/state"
	toolx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/tool"
)

// ResolveConfig carries the loop bound and the canned replies the resolver
// falls back to when the model or a tool cannot produce one.
type ResolveConfig struct {
	MaxModelCycles int
	ApologyReply   string
	FallbackReply  string
	ConsentPrompt  string
}

// ResolveAction runs the bounded propose/validate/execute loop for one turn.
// Each cycle asks the proposer for an action; tool calls pass through the
// guard, execute through the registry, and their effects land on the session
// with a durable checkpoint before the loop continues. Denied or malformed
// calls come back to the model as corrective notes, never to the customer.
func ResolveAction(
	ctx context.Context,
	in *GraphState,
	proposer contractx.Proposer,
	guard contractx.ProtocolGuard,
	registry contractx.ToolRegistry,
	store statex.Store,
	cfg ResolveConfig,
	events EventSink,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	sess := in.Session

	var notes []string
	for cycle := 0; cycle < cfg.MaxModelCycles; cycle++ {
		action, err := proposer.Propose(ctx, contractx.ProposeRequest{
			SessionID:          sess.SessionID,
			Turns:              sess.Turns,
			Flags:              sess.Flags,
			Identifiers:        sess.Identifiers,
			PendingConsentTool: sess.PendingTool,
			Notes:              notes,
			Now:                in.Now,
		})
		if errors.Is(err, contractx.ErrSchemaViolation) {
			notes = append(notes, "your previous response was malformed; answer with one plain reply or exactly one tool call")
			continue
		}
		if err != nil {
			log.Error().Str("session_id", sess.SessionID).Err(err).Msg("proposer failed")
			in.Reply = cfg.ApologyReply
			return in, nil
		}

		switch action.Kind {
		case contractx.ActionReply:
			in.Reply = action.Reply
			return in, nil

		case contractx.ActionConsentRequest:
			sess.SetPendingConsent(action.ToolCall.Tool, nil, in.Now)
			events.Emit("consent_requested", map[string]any{
				"session_id": sess.SessionID,
				"tool":       action.ToolCall.Tool,
			})
			in.Reply = action.ConsentPrompt
			return in, nil

		case contractx.ActionToolCall:
			call := *action.ToolCall
			done, err := resolveToolCall(ctx, in, call, guard, registry, store, cfg, events, &notes)
			if err != nil {
				return nil, err
			}
			if done {
				return in, nil
			}

		default:
			notes = append(notes, fmt.Sprintf("action kind %q is not supported", action.Kind))
		}
	}

	log.Warn().
		Str("session_id", sess.SessionID).
		Int("cycles", cfg.MaxModelCycles).
		Msg("model cycle budget exhausted without a reply")
	in.Reply = cfg.FallbackReply
	return in, nil
}

// resolveToolCall handles one proposed call. It reports done=true when the
// turn has a reply, done=false when the loop should give the model another
// cycle with updated notes.
func resolveToolCall(
	ctx context.Context,
	in *GraphState,
	call contractx.ToolCall,
	guard contractx.ProtocolGuard,
	registry contractx.ToolRegistry,
	store statex.Store,
	cfg ResolveConfig,
	events EventSink,
	notes *[]string,
) (bool, error) {
	sess := in.Session

	decision := guard.Evaluate(sess, call)
	switch decision.Verdict {
	case contractx.VerdictRequiresConfirmation:
		// Halt the gated call and hold it until an explicit consent event.
		sess.SetPendingConsent(call.Tool, call.Args, in.Now)
		events.Emit("consent_requested", map[string]any{
			"session_id": sess.SessionID,
			"tool":       call.Tool,
		})
		in.Reply = cfg.ConsentPrompt
		return true, nil

	case contractx.VerdictDeny:
		events.Emit("tool_denied", map[string]any{
			"session_id": sess.SessionID,
			"tool":       call.Tool,
			"reason":     string(decision.Reason),
			"missing":    decision.Missing,
		})
		*notes = append(*notes, denyNote(call, decision))
		return false, nil
	}

	inv, err := registry.Invoke(ctx, sess, in.TurnIndex, call)
	switch {
	case err == nil:
	case errors.Is(err, contractx.ErrInvalidArguments),
		errors.Is(err, contractx.ErrPreconditionFailed),
		errors.Is(err, contractx.ErrIdentifierConflict),
		errors.Is(err, contractx.ErrUnknownTool):
		*notes = append(*notes, fmt.Sprintf("tool %s was rejected: %v", call.Tool, err))
		return false, nil
	case errors.Is(err, contractx.ErrExternalService):
		log.Error().Str("session_id", sess.SessionID).Str("tool", call.Tool).Err(err).Msg("tool failed after retry")
		in.Reply = cfg.ApologyReply
		return true, nil
	default:
		return false, err
	}

	if err := sess.ApplyDelta(inv.Delta, in.Now); err != nil {
		*notes = append(*notes, fmt.Sprintf("tool %s effects were rejected: %v", call.Tool, err))
		return false, nil
	}
	if inv.Output.Summary != nil {
		sess.Summaries = append(sess.Summaries, *inv.Output.Summary)
	}
	sess.AppendTurn(statex.RoleTool, ToolContent(inv.Output), call.Tool, in.Now)
	if call.Tool == toolx.ToolBookAppointment {
		in.BookingApplied = true
	}

	// Applied effects are checkpointed before the model runs again, so a
	// crash mid-turn cannot lose a booking the customer was told about.
	if !inv.Delta.Empty() || inv.Output.Summary != nil {
		if err := store.Save(ctx, sess); err != nil {
			return false, err
		}
	}

	events.Emit("tool_succeeded", map[string]any{
		"session_id": sess.SessionID,
		"tool":       call.Tool,
	})
	return false, nil
}

func denyNote(call contractx.ToolCall, decision contractx.Decision) string {
	switch decision.Reason {
	case contractx.DenyUnknownTool:
		return fmt.Sprintf("tool %s does not exist; use only the tools you were given", call.Tool)
	case contractx.DenyIdentifierConflict:
		return fmt.Sprintf("tool %s was denied: %v are already recorded and cannot change", call.Tool, decision.Missing)
	default:
		return fmt.Sprintf("tool %s was denied: requires %v first", call.Tool, decision.Missing)
	}
}

// ToolContent renders a tool output for the transcript.
func ToolContent(out contractx.ToolOutput) string {
	if out.Content == nil {
		return ""
	}
	if s, ok := out.Content.(string); ok {
		return s
	}
	raw, err := json.Marshal(out.Content)
	if err != nil {
		return fmt.Sprint(out.Content)
	}
	return string(raw)
}
