// Package model holds the LLM-facing side of the agent: the proposer that
// suggests the next conversational action and the summarizer that distills
// the transcript into a lead record. Both treat the model as untrusted;
// anything that does not match the expected shape is a schema violation for
// the caller to absorb.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/contract"
	statex "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/state"
	openrouterx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/pkg/openrouter"
)

// ConsentRequestTool is a pseudo-tool bound alongside the journey tools. The
// model calls it to ask the customer for consent before a gated tool runs;
// it never executes anything.
const ConsentRequestTool = "consent.request"

// maxHistoryTurns bounds the transcript slice handed to the model.
const maxHistoryTurns = 40

type Proposer struct {
	runner compose.Runnable[map[string]any, *schema.Message]
}

func NewProposer(
	ctx context.Context,
	builder openrouterx.LLMBuilder,
	systemPrompt string,
	descriptors []contractx.ToolDescriptor,
) (*Proposer, error) {
	chatModel, err := builder.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create proposer model: %v", contractx.ErrModelInvoke, err)
	}

	toolModel, err := chatModel.WithTools(toolInfos(descriptors))
	if err != nil {
		return nil, fmt.Errorf("%w: bind journey tools: %v", contractx.ErrModelInvoke, err)
	}

	runner, err := compileToolPlanningGraph(ctx, toolModel, systemPrompt, "journey.propose_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile propose graph: %v", contractx.ErrModelInvoke, err)
	}
	return &Proposer{runner: runner}, nil
}

func (p *Proposer) Propose(ctx context.Context, req contractx.ProposeRequest) (contractx.Action, error) {
	payload := map[string]any{
		"conversation":         summarizeTurns(req.Turns),
		"flags":                req.Flags,
		"identifiers":          req.Identifiers,
		"pending_consent_tool": req.PendingConsentTool,
		"protocol_notes":       req.Notes,
		"now":                  req.Now.UTC().Format(time.RFC3339),
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return contractx.Action{}, fmt.Errorf("%w: marshal propose payload: %v", contractx.ErrValidation, err)
	}

	msg, err := p.runner.Invoke(ctx, map[string]any{"input": string(input)})
	if err != nil && ctx.Err() == nil {
		// One retry for transient transport failures.
		msg, err = p.runner.Invoke(ctx, map[string]any{"input": string(input)})
	}
	if err != nil {
		return contractx.Action{}, fmt.Errorf("%w: propose invoke: %v", contractx.ErrModelInvoke, err)
	}
	if msg == nil {
		return contractx.Action{}, fmt.Errorf("%w: empty propose response", contractx.ErrSchemaViolation)
	}

	return parseAction(msg)
}

func parseAction(msg *schema.Message) (contractx.Action, error) {
	if len(msg.ToolCalls) == 0 {
		reply := strings.TrimSpace(msg.Content)
		if reply == "" {
			return contractx.Action{}, fmt.Errorf("%w: propose response has no reply and no tool call", contractx.ErrSchemaViolation)
		}
		return contractx.Action{Kind: contractx.ActionReply, Reply: reply}, nil
	}

	// Only the first tool call counts; one action per cycle.
	call := msg.ToolCalls[0]
	name := strings.TrimSpace(call.Function.Name)
	if name == "" {
		return contractx.Action{}, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return contractx.Action{}, fmt.Errorf("%w: invalid tool args for tool=%s: %v", contractx.ErrSchemaViolation, name, err)
		}
	}

	if name == ConsentRequestTool {
		tool, _ := args["tool"].(string)
		prompt, _ := args["prompt"].(string)
		tool = strings.TrimSpace(tool)
		prompt = strings.TrimSpace(prompt)
		if tool == "" || prompt == "" {
			return contractx.Action{}, fmt.Errorf("%w: consent request needs tool and prompt", contractx.ErrSchemaViolation)
		}
		return contractx.Action{
			Kind:          contractx.ActionConsentRequest,
			ConsentPrompt: prompt,
			ToolCall:      &contractx.ToolCall{Tool: tool},
		}, nil
	}

	return contractx.Action{
		Kind:     contractx.ActionToolCall,
		ToolCall: &contractx.ToolCall{Tool: name, Args: args},
	}, nil
}

func summarizeTurns(turns []statex.TurnRecord) []map[string]any {
	if len(turns) > maxHistoryTurns {
		turns = turns[len(turns)-maxHistoryTurns:]
	}
	out := make([]map[string]any, 0, len(turns))
	for _, t := range turns {
		entry := map[string]any{
			"role":    string(t.Role),
			"content": t.Content,
		}
		if t.Tool != "" {
			entry["tool"] = t.Tool
		}
		out = append(out, entry)
	}
	return out
}

func toolInfos(descriptors []contractx.ToolDescriptor) []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(descriptors)+1)
	for _, desc := range descriptors {
		params := make(map[string]*schema.ParameterInfo, len(desc.Params))
		for name, info := range desc.Params {
			params[name] = &schema.ParameterInfo{
				Type:     schemaType(info.Type),
				Desc:     info.Desc,
				Required: info.Required,
			}
		}
		infos = append(infos, &schema.ToolInfo{
			Name:        desc.Name,
			Desc:        desc.Desc,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}

	infos = append(infos, &schema.ToolInfo{
		Name: ConsentRequestTool,
		Desc: "Ask the customer for explicit consent before a consent-gated tool runs. Use this instead of calling the gated tool when consent has not been given.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"tool":   {Type: schema.String, Desc: "Name of the consent-gated tool", Required: true},
			"prompt": {Type: schema.String, Desc: "Question asking the customer for consent", Required: true},
		}),
	})
	return infos
}

func schemaType(t contractx.ParamType) schema.DataType {
	switch t {
	case contractx.ParamInteger:
		return schema.Integer
	default:
		return schema.String
	}
}
