package journeynode

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/contract"
	statex "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/state"
)

// Checkpoint records the assistant reply on the transcript and persists the
// final state of the turn.
func Checkpoint(ctx context.Context, in *GraphState, store statex.Store) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	reply := strings.TrimSpace(in.Reply)
	if reply == "" {
		return nil, fmt.Errorf("%w: resolver produced an empty reply", contractx.ErrValidation)
	}
	in.Reply = reply

	in.Session.AppendTurn(statex.RoleAssistant, reply, "", in.Now)
	if err := in.Session.Validate(); err != nil {
		return nil, fmt.Errorf("session validation failed: %w", err)
	}
	if err := store.Save(ctx, in.Session); err != nil {
		return nil, err
	}
	return in, nil
}

// FinalizeReply builds the graph output, prefixing the reset notice when an
// expired session was replaced this turn.
func FinalizeReply(in *GraphState, resetNotice string) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	reply := strings.TrimSpace(in.Reply)
	if reply == "" {
		return GraphOutput{}, fmt.Errorf("%w: reply is empty", contractx.ErrValidation)
	}
	if in.Reset && strings.TrimSpace(resetNotice) != "" {
		reply = strings.TrimSpace(resetNotice) + "\n\n" + reply
	}
	return GraphOutput{Reply: reply}, nil
}
