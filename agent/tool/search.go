package tool

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/contract"
)

const (
	defaultCaseStudyHits   = 3
	defaultTestimonialHits = 2
	maxSearchHits          = 10
)

func (r *Registry) execSearch(ctx context.Context, corpus string, defaultK int, args map[string]any) (contractx.ToolOutput, error) {
	query, err := stringArg(args, "query", true)
	if err != nil {
		return contractx.ToolOutput{}, err
	}
	k, err := intArg(args, "top_k", defaultK)
	if err != nil {
		return contractx.ToolOutput{}, err
	}
	if k <= 0 {
		k = defaultK
	}
	if k > maxSearchHits {
		k = maxSearchHits
	}

	hits, err := r.retriever.Search(ctx, query, corpus, k)
	if err != nil {
		return contractx.ToolOutput{}, fmt.Errorf("%w: search %s: %v", contractx.ErrExternalService, corpus, err)
	}

	return contractx.ToolOutput{
		Content: map[string]any{
			"corpus":  corpus,
			"query":   query,
			"results": hits,
		},
	}, nil
}
