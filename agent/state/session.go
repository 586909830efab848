package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidSession      = errors.New("session id is empty")
	ErrNilSession          = errors.New("session is nil")
	ErrIdentifierImmutable = errors.New("identifier is immutable once recorded")
	ErrEmptyIdentifier     = errors.New("identifier name or value is empty")
)

type Lifecycle string

const (
	LifecycleActive       Lifecycle = "active"
	LifecycleCheckpointed Lifecycle = "checkpointed"
	LifecycleExpired      Lifecycle = "expired"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// TurnRecord is immutable once appended; the slice order is the
// conversation's total order.
type TurnRecord struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Tool      string    `json:"tool,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LeadSummary is the structured output of the silent summarizer. It is
// persisted on the session and never surfaced in user-visible replies.
type LeadSummary struct {
	Summary    string            `json:"summary"`
	Customer   map[string]string `json:"customer_info,omitempty"`
	Specialist map[string]string `json:"specialist_info,omitempty"`
	Sentiment  string            `json:"customer_sentiment,omitempty"`
	Minutes    string            `json:"minutes_of_meeting,omitempty"`
	LeadKey    string            `json:"lead_key,omitempty"`
	CapturedAt time.Time         `json:"captured_at"`
}

// EffectDelta is the set of flag and identifier changes produced by one
// successful tool invocation, applied atomically by the orchestrator.
type EffectDelta struct {
	Flags       map[string]any    `json:"flags,omitempty"`
	Identifiers map[string]string `json:"identifiers,omitempty"`
}

func (d EffectDelta) Empty() bool {
	return len(d.Flags) == 0 && len(d.Identifiers) == 0
}

// Session is the persistent per-conversation record: ordered turn history,
// protocol flags, immutable identifiers, consent bookkeeping and the
// checkpoint version used to detect stale overwrites.
type Session struct {
	SessionID string `json:"session_id"`

	Turns       []TurnRecord      `json:"turns,omitempty"`
	Flags       map[string]any    `json:"flags,omitempty"`
	Identifiers map[string]string `json:"identifiers,omitempty"`

	// PendingTool/PendingArgs hold a consent-gated tool call that is halted
	// until an explicit consent event arrives from the gateway.
	PendingTool string         `json:"pending_tool,omitempty"`
	PendingArgs map[string]any `json:"pending_args,omitempty"`

	Summaries []LeadSummary `json:"summaries,omitempty"`
	// Milestones records which summarization milestones already fired, so a
	// milestone never triggers the summarizer twice.
	Milestones map[string]bool `json:"milestones,omitempty"`

	Lifecycle Lifecycle `json:"lifecycle"`
	Version   int64     `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewSession(sessionID string, now time.Time) *Session {
	return &Session{
		SessionID:   strings.TrimSpace(sessionID),
		Flags:       make(map[string]any, 8),
		Identifiers: make(map[string]string, 4),
		Milestones:  make(map[string]bool, 2),
		Lifecycle:   LifecycleActive,
		Version:     1,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
}

func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

// EnsureMaps makes sure the map fields survive a JSON round-trip of an
// empty session.
func (s *Session) EnsureMaps() {
	if s.Flags == nil {
		s.Flags = make(map[string]any, 8)
	}
	if s.Identifiers == nil {
		s.Identifiers = make(map[string]string, 4)
	}
	if s.Milestones == nil {
		s.Milestones = make(map[string]bool, 2)
	}
}

func (s *Session) AppendTurn(role Role, content, tool string, now time.Time) {
	s.Turns = append(s.Turns, TurnRecord{
		Role:      role,
		Content:   content,
		Tool:      tool,
		Timestamp: now.UTC(),
	})
	s.Touch(now)
}

// FlagSet reports whether a protocol flag holds a truthy value.
func (s *Session) FlagSet(name string) bool {
	if s == nil || s.Flags == nil {
		return false
	}
	v, ok := s.Flags[name]
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.TrimSpace(t) != ""
	case nil:
		return false
	default:
		return true
	}
}

// Identifier returns a recorded identifier value.
func (s *Session) Identifier(name string) (string, bool) {
	if s == nil || s.Identifiers == nil {
		return "", false
	}
	v, ok := s.Identifiers[name]
	return v, ok
}

// RecordIdentifier accepts a tool-emitted identifier verbatim. Once set, an
// identifier never changes; re-recording the same value is a no-op so that
// idempotent tools can repeat their effect safely.
func (s *Session) RecordIdentifier(name, value string) error {
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	if name == "" || value == "" {
		return ErrEmptyIdentifier
	}
	s.EnsureMaps()
	if existing, ok := s.Identifiers[name]; ok {
		if existing == value {
			return nil
		}
		return fmt.Errorf("%w: %s=%s", ErrIdentifierImmutable, name, existing)
	}
	s.Identifiers[name] = value
	return nil
}

// ApplyDelta merges a tool's effect delta into the session, all or nothing.
// Identifier writes are validated before anything mutates, so a conflicting
// delta leaves the session untouched.
func (s *Session) ApplyDelta(delta EffectDelta, now time.Time) error {
	if s == nil {
		return ErrNilSession
	}
	s.EnsureMaps()

	for name, value := range delta.Identifiers {
		trimmedName := strings.TrimSpace(name)
		trimmedValue := strings.TrimSpace(value)
		if trimmedName == "" || trimmedValue == "" {
			return ErrEmptyIdentifier
		}
		if existing, ok := s.Identifiers[trimmedName]; ok && existing != trimmedValue {
			return fmt.Errorf("%w: %s=%s", ErrIdentifierImmutable, trimmedName, existing)
		}
	}

	for name, value := range delta.Identifiers {
		s.Identifiers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	for name, value := range delta.Flags {
		s.Flags[name] = value
	}
	s.Touch(now)
	return nil
}

func (s *Session) SetPendingConsent(tool string, args map[string]any, now time.Time) {
	s.PendingTool = tool
	s.PendingArgs = args
	s.Touch(now)
}

func (s *Session) ClearPendingConsent(now time.Time) {
	s.PendingTool = ""
	s.PendingArgs = nil
	s.Touch(now)
}

// MilestoneFired marks a summarization milestone and reports whether it had
// fired before.
func (s *Session) MilestoneFired(key string) bool {
	if s == nil || s.Milestones == nil {
		return false
	}
	return s.Milestones[key]
}

func (s *Session) MarkMilestone(key string, now time.Time) {
	s.EnsureMaps()
	s.Milestones[key] = true
	s.Touch(now)
}

// LastUserTurn returns the most recent user turn, if any.
func (s *Session) LastUserTurn() (TurnRecord, bool) {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == RoleUser {
			return s.Turns[i], true
		}
	}
	return TurnRecord{}, false
}

func (s *Session) Validate() error {
	if strings.TrimSpace(s.SessionID) == "" {
		return ErrInvalidSession
	}
	if s.Version <= 0 {
		return fmt.Errorf("invalid checkpoint version %d", s.Version)
	}
	for name, value := range s.Identifiers {
		if strings.TrimSpace(name) == "" || strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: %q=%q", ErrEmptyIdentifier, name, value)
		}
	}
	if s.PendingTool == "" && len(s.PendingArgs) > 0 {
		return errors.New("pending args without pending tool")
	}
	return nil
}

// Clone deep-copies the session so a snapshot handed to the guard or a test
// cannot be mutated behind the store's back.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Turns = append([]TurnRecord(nil), s.Turns...)
	out.Summaries = append([]LeadSummary(nil), s.Summaries...)
	out.Flags = make(map[string]any, len(s.Flags))
	for k, v := range s.Flags {
		out.Flags[k] = v
	}
	out.Identifiers = make(map[string]string, len(s.Identifiers))
	for k, v := range s.Identifiers {
		out.Identifiers[k] = v
	}
	out.Milestones = make(map[string]bool, len(s.Milestones))
	for k, v := range s.Milestones {
		out.Milestones[k] = v
	}
	if s.PendingArgs != nil {
		out.PendingArgs = make(map[string]any, len(s.PendingArgs))
		for k, v := range s.PendingArgs {
			out.PendingArgs[k] = v
		}
	}
	return &out
}
