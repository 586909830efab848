package tool

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/contract"
	statex "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/state"
)

// execSummarize produces a structured lead record from the transcript. The
// output carries no Content: nothing about the summary ever appears in the
// visible conversation.
func (r *Registry) execSummarize(ctx context.Context, sess *statex.Session, turnIndex int) (contractx.ToolOutput, error) {
	summary, err := r.summarizer.Summarize(ctx, contractx.SummarizeRequest{
		SessionID:   sess.SessionID,
		Turns:       sess.Turns,
		Identifiers: sess.Identifiers,
		Now:         r.now().UTC(),
	})
	if err != nil {
		return contractx.ToolOutput{}, fmt.Errorf("%w: summarize conversation: %v", contractx.ErrExternalService, err)
	}
	summary.CapturedAt = r.now().UTC()

	return contractx.ToolOutput{
		Summary: &summary,
		Flags: map[string]any{
			contractx.FlagLastSummaryTurn: turnIndex,
		},
	}, nil
}
