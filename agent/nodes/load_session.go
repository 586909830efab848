package journeynode

import (
	"context"
	"errors"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/contract"
	statex "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/state"
)

// LoadSession restores the session checkpoint, or starts a fresh session
// when none exists. A checkpoint older than the TTL is treated as expired:
// the old state is discarded and the customer starts over, with Reset set so
// the reply can say so.
func LoadSession(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
	sessionTTL time.Duration,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	sess, err := store.Load(ctx, in.SessionID)
	switch {
	case errors.Is(err, statex.ErrStateNotFound):
		sess = statex.NewSession(in.SessionID, in.Now)
	case err != nil:
		return nil, err
	case sessionTTL > 0 && in.Now.Sub(sess.UpdatedAt) > sessionTTL:
		if err := store.Delete(ctx, in.SessionID); err != nil {
			return nil, fmt.Errorf("drop expired session: %w", err)
		}
		sess = statex.NewSession(in.SessionID, in.Now)
		in.Reset = true
	}

	sess.EnsureMaps()
	sess.Lifecycle = statex.LifecycleActive
	in.Session = sess
	return in, nil
}

// AppendUserTurn records the inbound message on the transcript and pins the
// turn index used for dedup tokens and milestone keys.
func AppendUserTurn(in *GraphState) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	in.Session.AppendTurn(statex.RoleUser, in.Text, "", in.Now)
	in.TurnIndex = len(in.Session.Turns) - 1
	return in, nil
}
