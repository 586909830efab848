package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	journeynode "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/nodes"
)

func (o *Orchestrator) compileTurnGraph(
	ctx context.Context,
) (compose.Runnable[journeynode.GraphInput, journeynode.GraphOutput], error) {
	graph := compose.NewGraph[journeynode.GraphInput, journeynode.GraphOutput]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in journeynode.GraphInput) (*journeynode.GraphState, error) {
			return journeynode.ValidateRequest(in, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("load_session",
		compose.InvokableLambda(func(ctx context.Context, in *journeynode.GraphState) (*journeynode.GraphState, error) {
			return journeynode.LoadSession(ctx, in, o.store, o.cfg.SessionTTL)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_session: %w", err)
	}

	if err := graph.AddLambdaNode("append_user_turn",
		compose.InvokableLambda(func(ctx context.Context, in *journeynode.GraphState) (*journeynode.GraphState, error) {
			return journeynode.AppendUserTurn(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node append_user_turn: %w", err)
	}

	if err := graph.AddLambdaNode("resolve_action",
		compose.InvokableLambda(func(ctx context.Context, in *journeynode.GraphState) (*journeynode.GraphState, error) {
			return journeynode.ResolveAction(ctx, in, o.proposer, o.guard, o.registry, o.store, o.resolveConfig(), o.events)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node resolve_action: %w", err)
	}

	if err := graph.AddLambdaNode("summarization_check",
		compose.InvokableLambda(func(ctx context.Context, in *journeynode.GraphState) (*journeynode.GraphState, error) {
			return journeynode.SummarizationCheck(ctx, in, o.registry, o.cfg.SummaryTriggerKeywords, o.events)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node summarization_check: %w", err)
	}

	if err := graph.AddLambdaNode("checkpoint",
		compose.InvokableLambda(func(ctx context.Context, in *journeynode.GraphState) (*journeynode.GraphState, error) {
			return journeynode.Checkpoint(ctx, in, o.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node checkpoint: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_reply",
		compose.InvokableLambda(func(ctx context.Context, in *journeynode.GraphState) (journeynode.GraphOutput, error) {
			return journeynode.FinalizeReply(in, o.cfg.ResetNotice)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_reply: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "load_session"},
		{"load_session", "append_user_turn"},
		{"append_user_turn", "resolve_action"},
		{"resolve_action", "summarization_check"},
		{"summarization_check", "checkpoint"},
		{"checkpoint", "finalize_reply"},
		{"finalize_reply", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("journey.turn_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile turn graph: %w", err)
	}
	return runner, nil
}
