package journeynode

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/contract"
	toolx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/tool"
)

// SummarizationCheck fires the silent summarizer when a milestone was
// reached this turn: an appointment landed, or the customer asked for a
// wrap-up. Each milestone fires exactly once per session; a failed
// summarization is logged and dropped, never surfaced.
func SummarizationCheck(
	ctx context.Context,
	in *GraphState,
	registry contractx.ToolRegistry,
	keywords []string,
	events EventSink,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	sess := in.Session

	var milestone string
	switch {
	case in.BookingApplied:
		if id, ok := sess.Identifier(contractx.IdentAppointmentID); ok {
			milestone = "booking:" + id
		}
	default:
		if last, ok := sess.LastUserTurn(); ok && containsKeyword(last.Content, keywords) {
			milestone = fmt.Sprintf("keyword:%d", in.TurnIndex)
		}
	}
	if milestone == "" || sess.MilestoneFired(milestone) {
		return in, nil
	}

	inv, err := registry.Invoke(ctx, sess, in.TurnIndex, contractx.ToolCall{Tool: toolx.ToolSummarize})
	if err != nil {
		log.Warn().Str("session_id", sess.SessionID).Err(err).Msg("milestone summarization failed")
		return in, nil
	}

	if inv.Output.Summary != nil {
		sess.Summaries = append(sess.Summaries, *inv.Output.Summary)
	}
	if err := sess.ApplyDelta(inv.Delta, in.Now); err != nil {
		log.Warn().Str("session_id", sess.SessionID).Err(err).Msg("summary effects rejected")
		return in, nil
	}
	sess.MarkMilestone(milestone, in.Now)

	events.Emit("summary_captured", map[string]any{
		"session_id": sess.SessionID,
		"milestone":  milestone,
	})
	return in, nil
}

func containsKeyword(text string, keywords []string) bool {
	lowered := strings.ToLower(text)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}
