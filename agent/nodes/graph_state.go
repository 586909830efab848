// Package journeynode holds the per-turn pipeline steps that the
// orchestrator graph composes: request validation, session loading, the
// propose/validate/execute loop, milestone summarization and the final
// checkpoint.
package journeynode

import (
	"errors"
	"strings"
	"time"

	statex "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/state"
)

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrInvalidSession = errors.New("session id is empty")
)

type GraphInput struct {
	SessionID string
	Text      string
}

type GraphOutput struct {
	Reply string
}

// EventSink receives structural notifications for the gateway event stream.
// Implementations must not block.
type EventSink func(name string, payload map[string]any)

// Emit is nil-safe.
func (e EventSink) Emit(name string, payload map[string]any) {
	if e != nil {
		e(name, payload)
	}
}

type GraphState struct {
	SessionID string
	Text      string
	Now       time.Time

	Session *statex.Session
	// TurnIndex is the index of this turn's user message in the transcript.
	TurnIndex int
	// Reset marks that an expired session was replaced and the reply should
	// say so.
	Reset bool
	// BookingApplied marks that an appointment effect landed during this
	// turn, which is a summarization milestone.
	BookingApplied bool

	Reply string
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrInvalidMessage
	}

	return &GraphState{
		SessionID: sessionID,
		Text:      text,
		Now:       nowFn().UTC(),
	}, nil
}
