package guard

import (
	"testing"
	"time"

	contractx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/contract"
	statex "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/state"
)

type fakeDescriptors map[string]contractx.ToolDescriptor

func (f fakeDescriptors) Descriptor(name string) (contractx.ToolDescriptor, bool) {
	desc, ok := f[name]
	return desc, ok
}

func testDescriptors() fakeDescriptors {
	return fakeDescriptors{
		"customer.onboard": {
			Name:              "customer.onboard",
			ConsentGated:      true,
			EffectFlags:       []string{contractx.FlagOnboarded},
			EffectIdentifiers: []string{contractx.IdentCustomerID},
		},
		"appointment.book": {
			Name:              "appointment.book",
			Preconditions:     []string{contractx.IdentCustomerID, contractx.IdentSpecialistID},
			EffectFlags:       []string{contractx.FlagAppointmentBooked},
			EffectIdentifiers: []string{contractx.IdentAppointmentID},
		},
		"casestudy.search": {
			Name: "casestudy.search",
		},
	}
}

func testSession(t *testing.T) *statex.Session {
	t.Helper()
	return statex.NewSession("sess-1", time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
}

func TestEvaluateUnknownTool(t *testing.T) {
	t.Parallel()

	g := New(testDescriptors())
	dec := g.Evaluate(testSession(t), contractx.ToolCall{Tool: "mystery.tool"})
	if dec.Verdict != contractx.VerdictDeny {
		t.Fatalf("verdict = %s, want deny", dec.Verdict)
	}
	if dec.Reason != contractx.DenyUnknownTool {
		t.Fatalf("reason = %s, want unknown_tool", dec.Reason)
	}
}

func TestEvaluateConsentGate(t *testing.T) {
	t.Parallel()

	g := New(testDescriptors())
	sess := testSession(t)

	dec := g.Evaluate(sess, contractx.ToolCall{Tool: "customer.onboard"})
	if dec.Verdict != contractx.VerdictRequiresConfirmation {
		t.Fatalf("verdict = %s, want requires_confirmation", dec.Verdict)
	}

	sess.Flags[contractx.FlagConsentGiven] = true
	dec = g.Evaluate(sess, contractx.ToolCall{Tool: "customer.onboard"})
	if dec.Verdict != contractx.VerdictAllow {
		t.Fatalf("verdict with consent = %s, want allow", dec.Verdict)
	}
}

func TestEvaluateConsentGateIgnoresConversationalAgreement(t *testing.T) {
	t.Parallel()

	// Only a truthy consent flag opens the gate; transcript content is
	// irrelevant to the verdict.
	g := New(testDescriptors())
	sess := testSession(t)
	sess.AppendTurn(statex.RoleUser, "I agree", "", sess.CreatedAt)

	dec := g.Evaluate(sess, contractx.ToolCall{Tool: "customer.onboard"})
	if dec.Verdict != contractx.VerdictRequiresConfirmation {
		t.Fatalf("verdict = %s, want requires_confirmation", dec.Verdict)
	}
}

func TestEvaluateMissingPreconditions(t *testing.T) {
	t.Parallel()

	g := New(testDescriptors())
	sess := testSession(t)

	dec := g.Evaluate(sess, contractx.ToolCall{Tool: "appointment.book"})
	if dec.Verdict != contractx.VerdictDeny || dec.Reason != contractx.DenyPrecondition {
		t.Fatalf("unexpected decision: %+v", dec)
	}
	if len(dec.Missing) != 2 {
		t.Fatalf("missing = %v, want both preconditions", dec.Missing)
	}
	if dec.Missing[0] != contractx.IdentCustomerID || dec.Missing[1] != contractx.IdentSpecialistID {
		t.Fatalf("missing not sorted: %v", dec.Missing)
	}

	if err := sess.RecordIdentifier(contractx.IdentCustomerID, "CUST-001"); err != nil {
		t.Fatalf("record identifier: %v", err)
	}
	dec = g.Evaluate(sess, contractx.ToolCall{Tool: "appointment.book"})
	if len(dec.Missing) != 1 || dec.Missing[0] != contractx.IdentSpecialistID {
		t.Fatalf("missing after partial setup = %v", dec.Missing)
	}

	if err := sess.RecordIdentifier(contractx.IdentSpecialistID, "ps-301"); err != nil {
		t.Fatalf("record identifier: %v", err)
	}
	dec = g.Evaluate(sess, contractx.ToolCall{Tool: "appointment.book"})
	if dec.Verdict != contractx.VerdictAllow {
		t.Fatalf("verdict with all preconditions = %s, want allow", dec.Verdict)
	}
}

func TestEvaluateIdentifierConflict(t *testing.T) {
	t.Parallel()

	g := New(testDescriptors())
	sess := testSession(t)
	_ = sess.RecordIdentifier(contractx.IdentCustomerID, "CUST-001")
	_ = sess.RecordIdentifier(contractx.IdentSpecialistID, "ps-301")
	_ = sess.RecordIdentifier(contractx.IdentAppointmentID, "APT-1001")

	dec := g.Evaluate(sess, contractx.ToolCall{Tool: "appointment.book"})
	if dec.Verdict != contractx.VerdictDeny || dec.Reason != contractx.DenyIdentifierConflict {
		t.Fatalf("unexpected decision: %+v", dec)
	}
}

func TestEvaluateNoPreconditionTool(t *testing.T) {
	t.Parallel()

	g := New(testDescriptors())
	dec := g.Evaluate(testSession(t), contractx.ToolCall{Tool: "casestudy.search"})
	if dec.Verdict != contractx.VerdictAllow {
		t.Fatalf("verdict = %s, want allow", dec.Verdict)
	}
}

func TestEvaluateDoesNotMutateSession(t *testing.T) {
	t.Parallel()

	g := New(testDescriptors())
	sess := testSession(t)
	before := sess.Clone()

	_ = g.Evaluate(sess, contractx.ToolCall{Tool: "customer.onboard"})
	_ = g.Evaluate(sess, contractx.ToolCall{Tool: "appointment.book"})

	if len(sess.Flags) != len(before.Flags) || len(sess.Identifiers) != len(before.Identifiers) {
		t.Fatal("evaluation mutated the session")
	}
	if sess.PendingTool != before.PendingTool {
		t.Fatal("evaluation set a pending tool")
	}
}
