// Package orchestrator serializes turns per session and drives the turn
// pipeline: load checkpoint, run the propose/validate/execute loop, fire
// milestone summarization and persist the result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/contract"
	journeynode "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/nodes"
	statex "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/state"
)

var (
	ErrInvalidMessage = journeynode.ErrInvalidMessage
	ErrInvalidSession = journeynode.ErrInvalidSession
	ErrSessionBusy    = contractx.ErrSessionBusy
)

type Config struct {
	MaxModelCycles         int
	SessionTTL             time.Duration
	SummaryTriggerKeywords []string

	ApologyReply         string
	FallbackReply        string
	ConsentPrompt        string
	ConsentDeclinedReply string
	ResetNotice          string
}

func (c Config) withDefaults() Config {
	if c.MaxModelCycles <= 0 {
		c.MaxModelCycles = 4
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 24 * time.Hour
	}
	if len(c.SummaryTriggerKeywords) == 0 {
		c.SummaryTriggerKeywords = []string{"summary", "summarize", "recap", "wrap up"}
	}
	if strings.TrimSpace(c.ApologyReply) == "" {
		c.ApologyReply = "I'm sorry, something went wrong on our side. Could you try that again in a moment?"
	}
	if strings.TrimSpace(c.FallbackReply) == "" {
		c.FallbackReply = "I want to make sure I get this right. Could you tell me a bit more about what you need?"
	}
	if strings.TrimSpace(c.ConsentPrompt) == "" {
		c.ConsentPrompt = "Before I save your contact details, do I have your permission to store them?"
	}
	if strings.TrimSpace(c.ConsentDeclinedReply) == "" {
		c.ConsentDeclinedReply = "Understood, I won't store your details. We can keep talking, and you can change your mind anytime."
	}
	if strings.TrimSpace(c.ResetNotice) == "" {
		c.ResetNotice = "It's been a while since we last spoke, so I've started a fresh conversation."
	}
	return c
}

type Orchestrator struct {
	store    statex.Store
	proposer contractx.Proposer
	guard    contractx.ProtocolGuard
	registry contractx.ToolRegistry

	graphRunner compose.Runnable[journeynode.GraphInput, journeynode.GraphOutput]

	cfg    Config
	events journeynode.EventSink
	locks  sessionLocks
	now    func() time.Time
}

type Option func(*Orchestrator)

// WithClock overrides the orchestrator clock in tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithEventSink registers a callback for structural turn events; the
// gateway uses it to push agent_event frames.
func WithEventSink(sink journeynode.EventSink) Option {
	return func(o *Orchestrator) {
		o.events = sink
	}
}

func New(
	store statex.Store,
	proposer contractx.Proposer,
	guard contractx.ProtocolGuard,
	registry contractx.ToolRegistry,
	cfg Config,
	opts ...Option,
) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if proposer == nil {
		return nil, errors.New("proposer is required")
	}
	if guard == nil {
		return nil, errors.New("protocol guard is required")
	}
	if registry == nil {
		return nil, errors.New("tool registry is required")
	}

	o := &Orchestrator{
		store:    store,
		proposer: proposer,
		guard:    guard,
		registry: registry,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	graphRunner, err := o.compileTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner
	return o, nil
}

// HandleMessage processes one inbound customer message. Turns for the same
// session never interleave: a second message while one is in flight is
// rejected with ErrSessionBusy instead of being queued.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID, text string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", ErrInvalidSession
	}

	release, ok := o.locks.tryAcquire(sessionID)
	if !ok {
		return "", fmt.Errorf("%w: session_id=%s", ErrSessionBusy, sessionID)
	}
	defer release()

	out, err := o.graphRunner.Invoke(ctx, journeynode.GraphInput{
		SessionID: sessionID,
		Text:      text,
	})
	if err != nil {
		return "", err
	}
	return out.Reply, nil
}

// HandleConsent processes an explicit consent event from the gateway. With
// no pending consent-gated tool the event is a no-op; conversational
// phrases like "I agree" never grant consent on their own.
func (o *Orchestrator) HandleConsent(ctx context.Context, sessionID string, granted bool) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", ErrInvalidSession
	}

	release, ok := o.locks.tryAcquire(sessionID)
	if !ok {
		return "", fmt.Errorf("%w: session_id=%s", ErrSessionBusy, sessionID)
	}
	defer release()

	now := o.now().UTC()

	sess, err := o.store.Load(ctx, sessionID)
	if errors.Is(err, statex.ErrStateNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	sess.EnsureMaps()
	if sess.PendingTool == "" {
		return "", nil
	}

	pending := contractx.ToolCall{Tool: sess.PendingTool, Args: sess.PendingArgs}

	if !granted {
		sess.AppendTurn(statex.RoleSystem, "customer declined consent for "+pending.Tool, "", now)
		sess.ClearPendingConsent(now)
		sess.AppendTurn(statex.RoleAssistant, o.cfg.ConsentDeclinedReply, "", now)
		if err := o.store.Save(ctx, sess); err != nil {
			return "", err
		}
		o.events.Emit("consent_declined", map[string]any{"session_id": sessionID, "tool": pending.Tool})
		return o.cfg.ConsentDeclinedReply, nil
	}

	// Consent is a structural event; this is the only place the flag is set.
	sess.Flags[contractx.FlagConsentGiven] = true
	sess.ClearPendingConsent(now)
	sess.AppendTurn(statex.RoleSystem, "customer granted consent for "+pending.Tool, "", now)
	o.events.Emit("consent_granted", map[string]any{"session_id": sessionID, "tool": pending.Tool})

	state := &journeynode.GraphState{
		SessionID: sessionID,
		Now:       now,
		Session:   sess,
		TurnIndex: len(sess.Turns) - 1,
	}

	if len(pending.Args) > 0 {
		if done, reply, err := o.runPendingCall(ctx, state, pending); err != nil {
			return "", err
		} else if done {
			return reply, nil
		}
	}

	return o.finishTurn(ctx, state)
}

// runPendingCall executes the halted consent-gated call with its original
// arguments. done=true means the turn already has its final reply.
func (o *Orchestrator) runPendingCall(
	ctx context.Context,
	state *journeynode.GraphState,
	pending contractx.ToolCall,
) (bool, string, error) {
	sess := state.Session

	inv, err := o.registry.Invoke(ctx, sess, state.TurnIndex, pending)
	switch {
	case err == nil:
	case errors.Is(err, contractx.ErrExternalService):
		sess.AppendTurn(statex.RoleAssistant, o.cfg.ApologyReply, "", state.Now)
		if saveErr := o.store.Save(ctx, sess); saveErr != nil {
			return false, "", saveErr
		}
		return true, o.cfg.ApologyReply, nil
	default:
		// Arguments collected before consent may no longer validate; the
		// proposer gets the turn back and recovers conversationally.
		log.Warn().Str("session_id", sess.SessionID).Str("tool", pending.Tool).Err(err).Msg("pending consent call rejected")
		return false, "", nil
	}

	if err := sess.ApplyDelta(inv.Delta, state.Now); err != nil {
		log.Warn().Str("session_id", sess.SessionID).Str("tool", pending.Tool).Err(err).Msg("pending call effects rejected")
		return false, "", nil
	}
	if inv.Output.Summary != nil {
		sess.Summaries = append(sess.Summaries, *inv.Output.Summary)
	}
	sess.AppendTurn(statex.RoleTool, journeynode.ToolContent(inv.Output), pending.Tool, state.Now)
	if err := o.store.Save(ctx, sess); err != nil {
		return false, "", err
	}
	o.events.Emit("tool_succeeded", map[string]any{"session_id": sess.SessionID, "tool": pending.Tool})
	return false, "", nil
}

// finishTurn runs the tail of the pipeline for consent-driven turns.
func (o *Orchestrator) finishTurn(ctx context.Context, state *journeynode.GraphState) (string, error) {
	state, err := journeynode.ResolveAction(ctx, state, o.proposer, o.guard, o.registry, o.store, o.resolveConfig(), o.events)
	if err != nil {
		return "", err
	}
	state, err = journeynode.SummarizationCheck(ctx, state, o.registry, o.cfg.SummaryTriggerKeywords, o.events)
	if err != nil {
		return "", err
	}
	state, err = journeynode.Checkpoint(ctx, state, o.store)
	if err != nil {
		return "", err
	}
	out, err := journeynode.FinalizeReply(state, o.cfg.ResetNotice)
	if err != nil {
		return "", err
	}
	return out.Reply, nil
}

func (o *Orchestrator) resolveConfig() journeynode.ResolveConfig {
	return journeynode.ResolveConfig{
		MaxModelCycles: o.cfg.MaxModelCycles,
		ApologyReply:   o.cfg.ApologyReply,
		FallbackReply:  o.cfg.FallbackReply,
		ConsentPrompt:  o.cfg.ConsentPrompt,
	}
}

// sessionLocks hands out at most one in-flight turn per session id.
type sessionLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *sessionLocks) tryAcquire(sessionID string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[sessionID] {
		return nil, false
	}
	l.held[sessionID] = true
	return func() {
		l.mu.Lock()
		delete(l.held, sessionID)
		l.mu.Unlock()
	}, true
}
