package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	contractx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/contract"
	guardx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/guard"
	statex "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/state"
	toolx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/tool"
)

func testNow() time.Time {
	return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
}

type proposeStep struct {
	action contractx.Action
	err    error
}

type fakeProposer struct {
	steps []proposeStep
	reqs  []contractx.ProposeRequest
}

func (f *fakeProposer) Propose(ctx context.Context, req contractx.ProposeRequest) (contractx.Action, error) {
	f.reqs = append(f.reqs, req)
	if len(f.steps) == 0 {
		return contractx.Action{}, errors.New("proposer script exhausted")
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	return step.action, step.err
}

type invokeStep struct {
	inv contractx.Invocation
	err error
}

// fakeRegistry serves the real tool catalog but scripts Invoke results, so
// guard decisions stay realistic without touching any backend.
type fakeRegistry struct {
	catalog map[string]contractx.ToolDescriptor
	order   []string
	steps   []invokeStep
	calls   []contractx.ToolCall
	turns   []int
}

func newFakeRegistry(steps ...invokeStep) *fakeRegistry {
	r := &fakeRegistry{catalog: make(map[string]contractx.ToolDescriptor), steps: steps}
	for _, desc := range toolx.Catalog() {
		r.catalog[desc.Name] = desc
		r.order = append(r.order, desc.Name)
	}
	return r
}

func (f *fakeRegistry) Descriptor(name string) (contractx.ToolDescriptor, bool) {
	desc, ok := f.catalog[name]
	return desc, ok
}

func (f *fakeRegistry) Descriptors() []contractx.ToolDescriptor {
	out := make([]contractx.ToolDescriptor, 0, len(f.order))
	for _, name := range f.order {
		out = append(out, f.catalog[name])
	}
	return out
}

func (f *fakeRegistry) Invoke(ctx context.Context, sess *statex.Session, turnIndex int, call contractx.ToolCall) (contractx.Invocation, error) {
	f.calls = append(f.calls, call)
	f.turns = append(f.turns, turnIndex)
	if len(f.steps) == 0 {
		return contractx.Invocation{}, errors.New("registry script exhausted")
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	return step.inv, step.err
}

type eventRecorder struct {
	names []string
}

func (e *eventRecorder) sink(name string, payload map[string]any) {
	e.names = append(e.names, name)
}

func (e *eventRecorder) has(name string) bool {
	for _, n := range e.names {
		if n == name {
			return true
		}
	}
	return false
}

func replyAction(text string) proposeStep {
	return proposeStep{action: contractx.Action{Kind: contractx.ActionReply, Reply: text}}
}

func toolAction(tool string, args map[string]any) proposeStep {
	return proposeStep{action: contractx.Action{
		Kind:     contractx.ActionToolCall,
		ToolCall: &contractx.ToolCall{Tool: tool, Args: args},
	}}
}

func matchInvocation() invokeStep {
	return invokeStep{inv: contractx.Invocation{
		Output: contractx.ToolOutput{Content: "matched"},
		Delta: statex.EffectDelta{
			Flags:       map[string]any{contractx.FlagSpecialistSelected: true},
			Identifiers: map[string]string{contractx.IdentSpecialistID: "ps-301"},
		},
	}}
}

func onboardInvocation() invokeStep {
	return invokeStep{inv: contractx.Invocation{
		Output: contractx.ToolOutput{Content: "onboarded"},
		Delta: statex.EffectDelta{
			Flags:       map[string]any{contractx.FlagOnboarded: true},
			Identifiers: map[string]string{contractx.IdentCustomerID: "CUST-001"},
		},
	}}
}

func bookInvocation(appointmentID string) invokeStep {
	return invokeStep{inv: contractx.Invocation{
		Output: contractx.ToolOutput{Content: "booked"},
		Delta: statex.EffectDelta{
			Flags:       map[string]any{contractx.FlagAppointmentBooked: true},
			Identifiers: map[string]string{contractx.IdentAppointmentID: appointmentID},
		},
	}}
}

func summaryInvocation(turnIndex int) invokeStep {
	return invokeStep{inv: contractx.Invocation{
		Output: contractx.ToolOutput{Summary: &statex.LeadSummary{Summary: "structured lead summary"}},
		Delta:  statex.EffectDelta{Flags: map[string]any{contractx.FlagLastSummaryTurn: turnIndex}},
	}}
}

func newTestOrchestrator(
	t *testing.T,
	proposer *fakeProposer,
	registry *fakeRegistry,
	opts ...Option,
) (*Orchestrator, *statex.MemoryStore, *eventRecorder) {
	t.Helper()
	store := statex.NewMemoryStore()
	events := &eventRecorder{}
	opts = append([]Option{WithClock(testNow), WithEventSink(events.sink)}, opts...)
	o, err := New(store, proposer, guardx.New(registry), registry, Config{}, opts...)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o, store, events
}

func seedSession(t *testing.T, store *statex.MemoryStore, mutate func(*statex.Session)) {
	t.Helper()
	sess := statex.NewSession("sess-1", testNow())
	if mutate != nil {
		mutate(sess)
	}
	if err := store.Save(context.Background(), sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func TestHandleMessagePlainReply(t *testing.T) {
	t.Parallel()

	proposer := &fakeProposer{steps: []proposeStep{replyAction("Hello! How can I help?")}}
	o, store, _ := newTestOrchestrator(t, proposer, newFakeRegistry())

	reply, err := o.HandleMessage(context.Background(), "sess-1", "hi")
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if reply != "Hello! How can I help?" {
		t.Fatalf("reply = %q", reply)
	}

	sess, err := store.Load(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("load after turn: %v", err)
	}
	if len(sess.Turns) != 2 {
		t.Fatalf("turns = %d, want user+assistant", len(sess.Turns))
	}
	if sess.Turns[0].Role != statex.RoleUser || sess.Turns[1].Role != statex.RoleAssistant {
		t.Fatalf("unexpected transcript roles: %+v", sess.Turns)
	}
	if sess.Lifecycle != statex.LifecycleCheckpointed {
		t.Fatalf("lifecycle = %s", sess.Lifecycle)
	}
}

func TestHandleMessageRejectsEmptySessionID(t *testing.T) {
	t.Parallel()

	proposer := &fakeProposer{}
	o, _, _ := newTestOrchestrator(t, proposer, newFakeRegistry())

	if _, err := o.HandleMessage(context.Background(), "  ", "hi"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
	if _, err := o.HandleMessage(context.Background(), "sess-1", "   "); err == nil {
		t.Fatal("expected error for empty message")
	}
}

func TestHandleMessageSessionBusy(t *testing.T) {
	t.Parallel()

	proposer := &fakeProposer{steps: []proposeStep{replyAction("ok")}}
	o, _, _ := newTestOrchestrator(t, proposer, newFakeRegistry())

	release, ok := o.locks.tryAcquire("sess-1")
	if !ok {
		t.Fatal("could not acquire session lock")
	}
	defer release()

	if _, err := o.HandleMessage(context.Background(), "sess-1", "hi"); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}

	// A different session is unaffected.
	if _, err := o.HandleMessage(context.Background(), "sess-2", "hi"); err != nil {
		t.Fatalf("unrelated session blocked: %v", err)
	}
}

func TestHandleMessageToolFlow(t *testing.T) {
	t.Parallel()

	proposer := &fakeProposer{steps: []proposeStep{
		toolAction(toolx.ToolMatchSpecialist, map[string]any{"query": "cloud migration"}),
		replyAction("I'd suggest Arisa, our cloud migration architect."),
	}}
	registry := newFakeRegistry(matchInvocation())
	o, store, events := newTestOrchestrator(t, proposer, registry)

	reply, err := o.HandleMessage(context.Background(), "sess-1", "we need help moving to the cloud")
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if !strings.Contains(reply, "Arisa") {
		t.Fatalf("reply = %q", reply)
	}
	if len(registry.calls) != 1 || registry.calls[0].Tool != toolx.ToolMatchSpecialist {
		t.Fatalf("registry calls = %+v", registry.calls)
	}

	sess, err := store.Load(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if v, _ := sess.Identifier(contractx.IdentSpecialistID); v != "ps-301" {
		t.Fatalf("specialist identifier = %q", v)
	}
	if !sess.FlagSet(contractx.FlagSpecialistSelected) {
		t.Fatal("specialist_selected flag not applied")
	}
	// user, tool, assistant.
	if len(sess.Turns) != 3 || sess.Turns[1].Role != statex.RoleTool {
		t.Fatalf("unexpected transcript: %+v", sess.Turns)
	}
	// Effects checkpoint plus final checkpoint.
	if sess.Version != 3 {
		t.Fatalf("version = %d, want 3", sess.Version)
	}
	if !events.has("tool_succeeded") {
		t.Fatalf("events = %v", events.names)
	}
}

func TestHandleMessageDenyBecomesCorrectiveNote(t *testing.T) {
	t.Parallel()

	proposer := &fakeProposer{steps: []proposeStep{
		toolAction(toolx.ToolBookAppointment, map[string]any{"slot_datetime": "2026-03-02 11:00:00", "reason": "call"}),
		replyAction("First, let me find the right specialist for you."),
	}}
	registry := newFakeRegistry()
	o, _, events := newTestOrchestrator(t, proposer, registry)

	reply, err := o.HandleMessage(context.Background(), "sess-1", "book me a slot")
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if !strings.Contains(reply, "specialist") {
		t.Fatalf("reply = %q", reply)
	}
	// The guard denied the call before the registry was reached.
	if len(registry.calls) != 0 {
		t.Fatalf("registry calls = %+v", registry.calls)
	}
	if len(proposer.reqs) != 2 {
		t.Fatalf("propose calls = %d, want 2", len(proposer.reqs))
	}
	if len(proposer.reqs[1].Notes) == 0 || !strings.Contains(proposer.reqs[1].Notes[0], "denied") {
		t.Fatalf("second propose lacked a corrective note: %v", proposer.reqs[1].Notes)
	}
	if !events.has("tool_denied") {
		t.Fatalf("events = %v", events.names)
	}
}

func TestHandleMessageSchemaViolationGetsRetried(t *testing.T) {
	t.Parallel()

	proposer := &fakeProposer{steps: []proposeStep{
		{err: contractx.ErrSchemaViolation},
		replyAction("Got it, how can I help?"),
	}}
	o, _, _ := newTestOrchestrator(t, proposer, newFakeRegistry())

	reply, err := o.HandleMessage(context.Background(), "sess-1", "hi")
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if reply != "Got it, how can I help?" {
		t.Fatalf("reply = %q", reply)
	}
	if len(proposer.reqs) != 2 || len(proposer.reqs[1].Notes) == 0 {
		t.Fatalf("malformed response not fed back: %d calls", len(proposer.reqs))
	}
}

func TestHandleMessageFallbackAfterCycleBudget(t *testing.T) {
	t.Parallel()

	// Every cycle proposes a tool that does not exist; the guard denies each
	// one until the budget runs out.
	proposer := &fakeProposer{steps: []proposeStep{
		toolAction("mystery.tool", nil),
		toolAction("mystery.tool", nil),
		toolAction("mystery.tool", nil),
		toolAction("mystery.tool", nil),
	}}
	o, _, _ := newTestOrchestrator(t, proposer, newFakeRegistry())

	reply, err := o.HandleMessage(context.Background(), "sess-1", "hi")
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if reply != o.cfg.FallbackReply {
		t.Fatalf("reply = %q, want fallback", reply)
	}
	if len(proposer.reqs) != o.cfg.MaxModelCycles {
		t.Fatalf("propose calls = %d, want %d", len(proposer.reqs), o.cfg.MaxModelCycles)
	}
}

func TestHandleMessageExternalFailureApologizes(t *testing.T) {
	t.Parallel()

	proposer := &fakeProposer{steps: []proposeStep{
		toolAction(toolx.ToolMatchSpecialist, map[string]any{"query": "erp"}),
	}}
	registry := newFakeRegistry(invokeStep{err: contractx.ErrExternalService})
	o, store, _ := newTestOrchestrator(t, proposer, registry)

	reply, err := o.HandleMessage(context.Background(), "sess-1", "we need erp help")
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if reply != o.cfg.ApologyReply {
		t.Fatalf("reply = %q, want apology", reply)
	}
	// The failed turn is still checkpointed.
	if _, err := store.Load(context.Background(), "sess-1"); err != nil {
		t.Fatalf("turn not persisted: %v", err)
	}
}

func TestHandleMessageConsentGateHaltsCall(t *testing.T) {
	t.Parallel()

	args := map[string]any{"company_name": "Acme", "name": "A", "email": "a@acme.co"}
	proposer := &fakeProposer{steps: []proposeStep{
		toolAction(toolx.ToolOnboardCustomer, args),
	}}
	registry := newFakeRegistry()
	o, store, events := newTestOrchestrator(t, proposer, registry)

	reply, err := o.HandleMessage(context.Background(), "sess-1", "my email is a@acme.co")
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if reply != o.cfg.ConsentPrompt {
		t.Fatalf("reply = %q, want consent prompt", reply)
	}
	if len(registry.calls) != 0 {
		t.Fatal("gated tool executed without consent")
	}

	sess, err := store.Load(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sess.PendingTool != toolx.ToolOnboardCustomer {
		t.Fatalf("pending tool = %q", sess.PendingTool)
	}
	if sess.PendingArgs["email"] != "a@acme.co" {
		t.Fatalf("pending args not held: %v", sess.PendingArgs)
	}
	if sess.FlagSet(contractx.FlagConsentGiven) {
		t.Fatal("consent flag set without an explicit consent event")
	}
	if !events.has("consent_requested") {
		t.Fatalf("events = %v", events.names)
	}
}

func TestHandleMessageConsentRequestAction(t *testing.T) {
	t.Parallel()

	proposer := &fakeProposer{steps: []proposeStep{
		{action: contractx.Action{
			Kind:          contractx.ActionConsentRequest,
			ConsentPrompt: "May I store your contact details?",
			ToolCall:      &contractx.ToolCall{Tool: toolx.ToolOnboardCustomer},
		}},
	}}
	o, store, _ := newTestOrchestrator(t, proposer, newFakeRegistry())

	reply, err := o.HandleMessage(context.Background(), "sess-1", "sure, here are my details")
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if reply != "May I store your contact details?" {
		t.Fatalf("reply = %q", reply)
	}

	sess, err := store.Load(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sess.PendingTool != toolx.ToolOnboardCustomer || len(sess.PendingArgs) != 0 {
		t.Fatalf("pending state = %q %v", sess.PendingTool, sess.PendingArgs)
	}
}

func TestHandleConsentWithoutPendingToolIsNoOp(t *testing.T) {
	t.Parallel()

	proposer := &fakeProposer{}
	o, store, _ := newTestOrchestrator(t, proposer, newFakeRegistry())

	// No session at all.
	reply, err := o.HandleConsent(context.Background(), "sess-1", true)
	if err != nil || reply != "" {
		t.Fatalf("consent for missing session: %q %v", reply, err)
	}

	// Session without a pending tool.
	seedSession(t, store, nil)
	reply, err = o.HandleConsent(context.Background(), "sess-1", true)
	if err != nil || reply != "" {
		t.Fatalf("consent with nothing pending: %q %v", reply, err)
	}
	if len(proposer.reqs) != 0 {
		t.Fatal("no-op consent ran the proposer")
	}
}

func TestHandleConsentDeclined(t *testing.T) {
	t.Parallel()

	proposer := &fakeProposer{}
	o, store, events := newTestOrchestrator(t, proposer, newFakeRegistry())
	seedSession(t, store, func(sess *statex.Session) {
		sess.SetPendingConsent(toolx.ToolOnboardCustomer, map[string]any{"email": "a@acme.co"}, testNow())
	})

	reply, err := o.HandleConsent(context.Background(), "sess-1", false)
	if err != nil {
		t.Fatalf("handle consent: %v", err)
	}
	if reply != o.cfg.ConsentDeclinedReply {
		t.Fatalf("reply = %q", reply)
	}

	sess, err := store.Load(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sess.PendingTool != "" || sess.PendingArgs != nil {
		t.Fatalf("pending call not cleared: %q %v", sess.PendingTool, sess.PendingArgs)
	}
	if sess.FlagSet(contractx.FlagConsentGiven) {
		t.Fatal("decline set the consent flag")
	}
	if !events.has("consent_declined") {
		t.Fatalf("events = %v", events.names)
	}
}

func TestHandleConsentGrantedRunsPendingCall(t *testing.T) {
	t.Parallel()

	args := map[string]any{"company_name": "Acme", "name": "A", "email": "a@acme.co"}
	proposer := &fakeProposer{steps: []proposeStep{
		replyAction("You're all set, CUST-001. Shall we pick a specialist?"),
	}}
	registry := newFakeRegistry(onboardInvocation())
	o, store, events := newTestOrchestrator(t, proposer, registry)
	seedSession(t, store, func(sess *statex.Session) {
		sess.AppendTurn(statex.RoleUser, "my email is a@acme.co", "", testNow())
		sess.SetPendingConsent(toolx.ToolOnboardCustomer, args, testNow())
	})

	reply, err := o.HandleConsent(context.Background(), "sess-1", true)
	if err != nil {
		t.Fatalf("handle consent: %v", err)
	}
	if !strings.Contains(reply, "CUST-001") {
		t.Fatalf("reply = %q", reply)
	}

	if len(registry.calls) != 1 || registry.calls[0].Tool != toolx.ToolOnboardCustomer {
		t.Fatalf("registry calls = %+v", registry.calls)
	}
	if registry.calls[0].Args["email"] != "a@acme.co" {
		t.Fatalf("pending args lost: %v", registry.calls[0].Args)
	}

	sess, err := store.Load(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !sess.FlagSet(contractx.FlagConsentGiven) {
		t.Fatal("consent flag not set on grant")
	}
	if v, _ := sess.Identifier(contractx.IdentCustomerID); v != "CUST-001" {
		t.Fatalf("customer identifier = %q", v)
	}
	if sess.PendingTool != "" {
		t.Fatalf("pending tool not cleared: %q", sess.PendingTool)
	}
	if !events.has("consent_granted") || !events.has("tool_succeeded") {
		t.Fatalf("events = %v", events.names)
	}
}

func TestHandleConsentGrantedWithoutArgsDefersToProposer(t *testing.T) {
	t.Parallel()

	proposer := &fakeProposer{steps: []proposeStep{
		toolAction(toolx.ToolOnboardCustomer, map[string]any{"company_name": "Acme", "name": "A", "email": "a@acme.co"}),
		replyAction("All stored. What would you like to do next?"),
	}}
	registry := newFakeRegistry(onboardInvocation())
	o, store, _ := newTestOrchestrator(t, proposer, registry)
	seedSession(t, store, func(sess *statex.Session) {
		sess.AppendTurn(statex.RoleUser, "go ahead", "", testNow())
		sess.SetPendingConsent(toolx.ToolOnboardCustomer, nil, testNow())
	})

	reply, err := o.HandleConsent(context.Background(), "sess-1", true)
	if err != nil {
		t.Fatalf("handle consent: %v", err)
	}
	if !strings.Contains(reply, "stored") {
		t.Fatalf("reply = %q", reply)
	}
	if len(registry.calls) != 1 {
		t.Fatalf("registry calls = %+v", registry.calls)
	}

	sess, err := store.Load(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if v, _ := sess.Identifier(contractx.IdentCustomerID); v != "CUST-001" {
		t.Fatalf("customer identifier = %q", v)
	}
}

func TestBookingMilestoneFiresSilentSummary(t *testing.T) {
	t.Parallel()

	proposer := &fakeProposer{steps: []proposeStep{
		toolAction(toolx.ToolBookAppointment, map[string]any{"slot_datetime": "2026-03-02 11:00:00", "reason": "kickoff"}),
		replyAction("Booked! You'll meet Arisa on Monday at 11:00."),
	}}
	registry := newFakeRegistry(bookInvocation("APT-1001"), summaryInvocation(2))
	o, store, events := newTestOrchestrator(t, proposer, registry)
	seedSession(t, store, func(sess *statex.Session) {
		sess.Flags[contractx.FlagConsentGiven] = true
		_ = sess.RecordIdentifier(contractx.IdentCustomerID, "CUST-001")
		_ = sess.RecordIdentifier(contractx.IdentSpecialistID, "ps-301")
	})

	reply, err := o.HandleMessage(context.Background(), "sess-1", "book the 11am monday slot")
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if strings.Contains(reply, "structured lead summary") {
		t.Fatalf("summary leaked into the reply: %q", reply)
	}

	if len(registry.calls) != 2 || registry.calls[1].Tool != toolx.ToolSummarize {
		t.Fatalf("registry calls = %+v", registry.calls)
	}

	sess, err := store.Load(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(sess.Summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(sess.Summaries))
	}
	if !sess.MilestoneFired("booking:APT-1001") {
		t.Fatal("booking milestone not marked")
	}
	if !events.has("summary_captured") {
		t.Fatalf("events = %v", events.names)
	}

	// The same booking never summarizes twice.
	proposer.steps = []proposeStep{replyAction("Anything else I can help with?")}
	if _, err := o.HandleMessage(context.Background(), "sess-1", "thanks!"); err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if len(registry.calls) != 2 {
		t.Fatalf("summarizer fired again: %+v", registry.calls)
	}
}

func TestKeywordMilestoneFiresSilentSummary(t *testing.T) {
	t.Parallel()

	proposer := &fakeProposer{steps: []proposeStep{
		replyAction("Here's where we are: you asked about cloud migration."),
	}}
	registry := newFakeRegistry(summaryInvocation(0))
	o, store, _ := newTestOrchestrator(t, proposer, registry)

	if _, err := o.HandleMessage(context.Background(), "sess-1", "can you give me a recap?"); err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if len(registry.calls) != 1 || registry.calls[0].Tool != toolx.ToolSummarize {
		t.Fatalf("registry calls = %+v", registry.calls)
	}

	sess, err := store.Load(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(sess.Summaries) != 1 {
		t.Fatalf("summaries = %d", len(sess.Summaries))
	}
	if !sess.MilestoneFired("keyword:0") {
		t.Fatal("keyword milestone not marked")
	}
}

func TestSummarizationFailureNeverSurfaces(t *testing.T) {
	t.Parallel()

	proposer := &fakeProposer{steps: []proposeStep{
		replyAction("Sure, here's a quick recap of what we discussed."),
	}}
	registry := newFakeRegistry(invokeStep{err: contractx.ErrExternalService})
	o, store, events := newTestOrchestrator(t, proposer, registry)

	reply, err := o.HandleMessage(context.Background(), "sess-1", "give me a summary please")
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if !strings.Contains(reply, "recap") {
		t.Fatalf("reply = %q", reply)
	}

	sess, err := store.Load(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(sess.Summaries) != 0 {
		t.Fatal("failed summarization stored a summary")
	}
	// Not marked, so the next wrap-up request can try again.
	if sess.MilestoneFired("keyword:0") {
		t.Fatal("failed summarization marked the milestone")
	}
	if events.has("summary_captured") {
		t.Fatalf("events = %v", events.names)
	}
}

func TestExpiredSessionRestartsWithNotice(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	events := &eventRecorder{}
	proposer := &fakeProposer{steps: []proposeStep{replyAction("Welcome back! How can I help?")}}
	registry := newFakeRegistry()

	// The store stamps UpdatedAt at save time, so an expired checkpoint is
	// simulated by running the clock past the TTL.
	future := func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }
	o, err := New(store, proposer, guardx.New(registry), registry, Config{},
		WithClock(future), WithEventSink(events.sink))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	stale := statex.NewSession("sess-1", time.Now().UTC())
	stale.AppendTurn(statex.RoleUser, "old conversation", "", time.Now().UTC())
	_ = stale.RecordIdentifier(contractx.IdentCustomerID, "CUST-001")
	if err := store.Save(context.Background(), stale); err != nil {
		t.Fatalf("seed stale session: %v", err)
	}

	reply, err := o.HandleMessage(context.Background(), "sess-1", "hello again")
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if !strings.HasPrefix(reply, o.cfg.ResetNotice) {
		t.Fatalf("reply lacks reset notice: %q", reply)
	}

	sess, err := store.Load(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := sess.Identifier(contractx.IdentCustomerID); ok {
		t.Fatal("expired session state survived the reset")
	}
	if len(sess.Turns) != 2 {
		t.Fatalf("fresh session turns = %d", len(sess.Turns))
	}
}
