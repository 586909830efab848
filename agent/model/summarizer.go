package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"

	contractx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/contract"
	statex "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/state"
	openrouterx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/pkg/openrouter"
)

type summarizerLLMOutput struct {
	Summary           string            `json:"summary"`
	CustomerInfo      map[string]string `json:"customer_info,omitempty"`
	SpecialistInfo    map[string]string `json:"specialist_info,omitempty"`
	CustomerSentiment string            `json:"customer_sentiment,omitempty"`
	MinutesOfMeeting  string            `json:"minutes_of_meeting,omitempty"`
}

type Summarizer struct {
	runner compose.Runnable[map[string]any, summarizerLLMOutput]
}

func NewSummarizer(
	ctx context.Context,
	builder openrouterx.LLMBuilder,
	systemPrompt string,
) (*Summarizer, error) {
	chatModel, err := builder.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create summarizer model: %v", contractx.ErrModelInvoke, err)
	}

	runner, err := compileStructuredGraph[summarizerLLMOutput](ctx, chatModel, systemPrompt, "journey.summarize_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile summarize graph: %v", contractx.ErrModelInvoke, err)
	}
	return &Summarizer{runner: runner}, nil
}

func (s *Summarizer) Summarize(ctx context.Context, req contractx.SummarizeRequest) (statex.LeadSummary, error) {
	payload := map[string]any{
		"conversation": summarizeTurns(req.Turns),
		"identifiers":  req.Identifiers,
		"now":          req.Now.UTC().Format(time.RFC3339),
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return statex.LeadSummary{}, fmt.Errorf("%w: marshal summarize payload: %v", contractx.ErrValidation, err)
	}

	out, err := s.runner.Invoke(ctx, map[string]any{"input": string(input)})
	if err != nil {
		return statex.LeadSummary{}, fmt.Errorf("%w: summarize invoke: %v", contractx.ErrModelInvoke, err)
	}
	if strings.TrimSpace(out.Summary) == "" {
		return statex.LeadSummary{}, fmt.Errorf("%w: summary text is empty", contractx.ErrSchemaViolation)
	}

	leadKey := req.SessionID
	if id, ok := req.Identifiers[contractx.IdentCustomerID]; ok {
		leadKey = id
	}

	return statex.LeadSummary{
		Summary:    strings.TrimSpace(out.Summary),
		Customer:   out.CustomerInfo,
		Specialist: out.SpecialistInfo,
		Sentiment:  strings.TrimSpace(out.CustomerSentiment),
		Minutes:    strings.TrimSpace(out.MinutesOfMeeting),
		LeadKey:    leadKey,
		CapturedAt: req.Now.UTC(),
	}, nil
}
