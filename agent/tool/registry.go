// Package tool implements the journey tool registry: the catalog of tool
// descriptors, argument validation, guarded execution with bounded retries,
// and the effect deltas handed back to the orchestrator.
package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/contract"
	guardx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/guard"
	statex "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/state"
)

const defaultInvokeTimeout = 15 * time.Second

type Registry struct {
	catalog map[string]contractx.ToolDescriptor
	order   []string

	guard      *guardx.Guard
	backend    Backend
	directory  *Directory
	retriever  contractx.Retriever
	summarizer contractx.Summarizer

	timeout time.Duration
	now     func() time.Time
}

type RegistryOption func(*Registry)

func WithInvokeTimeout(timeout time.Duration) RegistryOption {
	return func(r *Registry) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithClock overrides the registry clock in tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRegistry(
	backend Backend,
	directory *Directory,
	retriever contractx.Retriever,
	summarizer contractx.Summarizer,
	opts ...RegistryOption,
) *Registry {
	r := &Registry{
		catalog:    make(map[string]contractx.ToolDescriptor),
		backend:    backend,
		directory:  directory,
		retriever:  retriever,
		summarizer: summarizer,
		timeout:    defaultInvokeTimeout,
		now:        time.Now,
	}
	for _, desc := range Catalog() {
		r.catalog[desc.Name] = desc
		r.order = append(r.order, desc.Name)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.guard = guardx.New(r)
	return r
}

// Guard exposes the registry's protocol guard so the orchestrator can
// evaluate proposed calls before committing to execution.
func (r *Registry) Guard() contractx.ProtocolGuard {
	return r.guard
}

func (r *Registry) Descriptor(name string) (contractx.ToolDescriptor, bool) {
	desc, ok := r.catalog[strings.TrimSpace(name)]
	return desc, ok
}

func (r *Registry) Descriptors() []contractx.ToolDescriptor {
	out := make([]contractx.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.catalog[name])
	}
	return out
}

// Invoke runs one tool call against the session snapshot. The guard verdict
// is re-checked here so execution stays safe even if a caller skipped
// evaluation. The returned delta contains only effects the descriptor
// declares; the session itself is never mutated.
func (r *Registry) Invoke(ctx context.Context, sess *statex.Session, turnIndex int, call contractx.ToolCall) (contractx.Invocation, error) {
	desc, ok := r.Descriptor(call.Tool)
	if !ok {
		return contractx.Invocation{}, fmt.Errorf("%w: %s", contractx.ErrUnknownTool, call.Tool)
	}

	decision := r.guard.Evaluate(sess, call)
	switch decision.Verdict {
	case contractx.VerdictAllow:
	case contractx.VerdictRequiresConfirmation:
		return contractx.Invocation{}, fmt.Errorf("%w: %s requires customer consent", contractx.ErrPreconditionFailed, desc.Name)
	default:
		return contractx.Invocation{}, denyError(desc.Name, decision)
	}

	out, err := r.attempt(ctx, sess, turnIndex, desc, call.Args)
	if errors.Is(err, contractx.ErrExternalService) && ctx.Err() == nil {
		// One retry for transient failures. At-most-once tools carry the same
		// dedup token on the retry, so a booking that actually landed is
		// replayed instead of duplicated.
		log.Warn().
			Str("tool", desc.Name).
			Str("session_id", sess.SessionID).
			Err(err).
			Msg("tool invocation failed, retrying once")
		out, err = r.attempt(ctx, sess, turnIndex, desc, call.Args)
	}
	if err != nil {
		return contractx.Invocation{}, err
	}

	return contractx.Invocation{Output: out, Delta: r.effectDelta(desc, out)}, nil
}

func (r *Registry) attempt(
	ctx context.Context,
	sess *statex.Session,
	turnIndex int,
	desc contractx.ToolDescriptor,
	args map[string]any,
) (contractx.ToolOutput, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.execute(attemptCtx, sess, turnIndex, desc, args)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return contractx.ToolOutput{}, err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return contractx.ToolOutput{}, fmt.Errorf("%w: %s timed out after %s", contractx.ErrExternalService, desc.Name, r.timeout)
	}
	return contractx.ToolOutput{}, err
}

func (r *Registry) execute(
	ctx context.Context,
	sess *statex.Session,
	turnIndex int,
	desc contractx.ToolDescriptor,
	args map[string]any,
) (contractx.ToolOutput, error) {
	switch desc.Name {
	case ToolOnboardCustomer:
		return r.execOnboard(ctx, args)
	case ToolMatchSpecialist:
		return r.execMatch(ctx, args)
	case ToolCheckAvailability:
		return r.execCheckAvailability(ctx, sess, args)
	case ToolBookAppointment:
		return r.execBook(ctx, sess, turnIndex, args)
	case ToolSearchCaseStudies:
		return r.execSearch(ctx, CorpusCaseStudies, defaultCaseStudyHits, args)
	case ToolSearchTestimonials:
		return r.execSearch(ctx, CorpusTestimonials, defaultTestimonialHits, args)
	case ToolSummarize:
		return r.execSummarize(ctx, sess, turnIndex)
	default:
		return contractx.ToolOutput{}, fmt.Errorf("%w: %s", contractx.ErrUnknownTool, desc.Name)
	}
}

// effectDelta filters a tool's candidate effects down to the sets its
// descriptor declares. Anything undeclared is dropped and logged.
func (r *Registry) effectDelta(desc contractx.ToolDescriptor, out contractx.ToolOutput) statex.EffectDelta {
	var delta statex.EffectDelta

	declaredFlags := make(map[string]bool, len(desc.EffectFlags))
	for _, name := range desc.EffectFlags {
		declaredFlags[name] = true
	}
	for name, value := range out.Flags {
		if !declaredFlags[name] {
			log.Warn().Str("tool", desc.Name).Str("flag", name).Msg("dropping undeclared flag effect")
			continue
		}
		if delta.Flags == nil {
			delta.Flags = make(map[string]any, len(desc.EffectFlags))
		}
		delta.Flags[name] = value
	}

	declaredIdents := make(map[string]bool, len(desc.EffectIdentifiers))
	for _, name := range desc.EffectIdentifiers {
		declaredIdents[name] = true
	}
	for name, value := range out.Identifiers {
		if !declaredIdents[name] {
			log.Warn().Str("tool", desc.Name).Str("identifier", name).Msg("dropping undeclared identifier effect")
			continue
		}
		if delta.Identifiers == nil {
			delta.Identifiers = make(map[string]string, len(desc.EffectIdentifiers))
		}
		delta.Identifiers[name] = value
	}

	return delta
}

func denyError(tool string, decision contractx.Decision) error {
	switch decision.Reason {
	case contractx.DenyUnknownTool:
		return fmt.Errorf("%w: %s", contractx.ErrUnknownTool, tool)
	case contractx.DenyIdentifierConflict:
		return fmt.Errorf("%w: %s would overwrite %s", contractx.ErrIdentifierConflict, tool, strings.Join(decision.Missing, ", "))
	default:
		return fmt.Errorf("%w: %s requires %s", contractx.ErrPreconditionFailed, tool, strings.Join(decision.Missing, ", "))
	}
}

// dedupToken is stable per session turn, so retries and crash-replays of the
// same logical booking collapse into one appointment.
func dedupToken(sessionID string, turnIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%d", sessionID, turnIndex))).String()
}

func stringArg(args map[string]any, name string, required bool) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("%w: missing required argument %q", contractx.ErrInvalidArguments, name)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: argument %q must be a string", contractx.ErrInvalidArguments, name)
	}
	s = strings.TrimSpace(s)
	if required && s == "" {
		return "", fmt.Errorf("%w: missing required argument %q", contractx.ErrInvalidArguments, name)
	}
	return s, nil
}

func intArg(args map[string]any, name string, fallback int) (int, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return fallback, nil
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t != float64(int(t)) {
			return 0, fmt.Errorf("%w: argument %q must be an integer", contractx.ErrInvalidArguments, name)
		}
		return int(t), nil
	default:
		return 0, fmt.Errorf("%w: argument %q must be an integer", contractx.ErrInvalidArguments, name)
	}
}
