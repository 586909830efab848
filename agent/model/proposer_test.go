package model

import (
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/contract"
	statex "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/state"
)

func toolCallMsg(name, args string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{
			{Function: schema.FunctionCall{Name: name, Arguments: args}},
		},
	}
}

func TestParseActionPlainReply(t *testing.T) {
	t.Parallel()

	action, err := parseAction(&schema.Message{Role: schema.Assistant, Content: "  Hello there.  "})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if action.Kind != contractx.ActionReply || action.Reply != "Hello there." {
		t.Fatalf("action = %+v", action)
	}
}

func TestParseActionEmptyMessage(t *testing.T) {
	t.Parallel()

	_, err := parseAction(&schema.Message{Role: schema.Assistant, Content: "   "})
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
}

func TestParseActionToolCall(t *testing.T) {
	t.Parallel()

	msg := toolCallMsg("specialist.match", `{"query":"cloud migration"}`)
	action, err := parseAction(msg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if action.Kind != contractx.ActionToolCall {
		t.Fatalf("kind = %s", action.Kind)
	}
	if action.ToolCall.Tool != "specialist.match" || action.ToolCall.Args["query"] != "cloud migration" {
		t.Fatalf("tool call = %+v", action.ToolCall)
	}
}

func TestParseActionTakesFirstToolCallOnly(t *testing.T) {
	t.Parallel()

	msg := &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{
			{Function: schema.FunctionCall{Name: "specialist.match", Arguments: `{"query":"erp"}`}},
			{Function: schema.FunctionCall{Name: "appointment.book", Arguments: `{}`}},
		},
	}
	action, err := parseAction(msg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if action.ToolCall.Tool != "specialist.match" {
		t.Fatalf("tool = %s, want the first call", action.ToolCall.Tool)
	}
}

func TestParseActionMalformedArgs(t *testing.T) {
	t.Parallel()

	_, err := parseAction(toolCallMsg("specialist.match", `{"query":`))
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}

	_, err = parseAction(toolCallMsg("  ", `{}`))
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation for empty name, got %v", err)
	}
}

func TestParseActionConsentRequest(t *testing.T) {
	t.Parallel()

	msg := toolCallMsg(ConsentRequestTool, `{"tool":"customer.onboard","prompt":"May I store your details?"}`)
	action, err := parseAction(msg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if action.Kind != contractx.ActionConsentRequest {
		t.Fatalf("kind = %s", action.Kind)
	}
	if action.ConsentPrompt != "May I store your details?" {
		t.Fatalf("prompt = %q", action.ConsentPrompt)
	}
	if action.ToolCall.Tool != "customer.onboard" {
		t.Fatalf("gated tool = %q", action.ToolCall.Tool)
	}
}

func TestParseActionConsentRequestNeedsToolAndPrompt(t *testing.T) {
	t.Parallel()

	for _, args := range []string{
		`{"tool":"customer.onboard"}`,
		`{"prompt":"May I?"}`,
		`{"tool":" ","prompt":" "}`,
	} {
		_, err := parseAction(toolCallMsg(ConsentRequestTool, args))
		if !errors.Is(err, contractx.ErrSchemaViolation) {
			t.Fatalf("args %s: expected ErrSchemaViolation, got %v", args, err)
		}
	}
}

func TestSummarizeTurnsBoundsHistory(t *testing.T) {
	t.Parallel()

	turns := make([]statex.TurnRecord, maxHistoryTurns+10)
	for i := range turns {
		turns[i] = statex.TurnRecord{Role: statex.RoleUser, Content: "msg"}
	}
	turns[len(turns)-1].Content = "latest"

	out := summarizeTurns(turns)
	if len(out) != maxHistoryTurns {
		t.Fatalf("history length = %d, want %d", len(out), maxHistoryTurns)
	}
	if out[len(out)-1]["content"] != "latest" {
		t.Fatal("history dropped the newest turn instead of the oldest")
	}
}

func TestToolInfosIncludeConsentPseudoTool(t *testing.T) {
	t.Parallel()

	infos := toolInfos([]contractx.ToolDescriptor{
		{
			Name: "casestudy.search",
			Desc: "search case studies",
			Params: map[string]contractx.ParamInfo{
				"query": {Type: contractx.ParamString, Desc: "query", Required: true},
				"top_k": {Type: contractx.ParamInteger, Desc: "hits"},
			},
		},
	})
	if len(infos) != 2 {
		t.Fatalf("infos = %d, want declared tool plus consent request", len(infos))
	}
	if infos[0].Name != "casestudy.search" {
		t.Fatalf("first tool = %q", infos[0].Name)
	}
	if infos[len(infos)-1].Name != ConsentRequestTool {
		t.Fatalf("last tool = %q, want %s", infos[len(infos)-1].Name, ConsentRequestTool)
	}
}
