package retrieval

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed data/case_studies.json
var caseStudyData []byte

//go:embed data/testimonials.json
var testimonialData []byte

const (
	CorpusCaseStudies  = "case_studies"
	CorpusTestimonials = "testimonials"
)

// BuildDefaultIndex loads the bundled case study and testimonial corpora
// into a fresh index. Called once at startup; embedding failures abort boot
// rather than degrade searches silently.
func BuildDefaultIndex(ctx context.Context, embedder Embedder) (*Index, error) {
	index := NewIndex(embedder)

	corpora := []struct {
		name string
		raw  []byte
	}{
		{CorpusCaseStudies, caseStudyData},
		{CorpusTestimonials, testimonialData},
	}
	for _, c := range corpora {
		var docs []Document
		if err := json.Unmarshal(c.raw, &docs); err != nil {
			return nil, fmt.Errorf("decode corpus %s: %w", c.name, err)
		}
		if err := index.AddCorpus(ctx, c.name, docs); err != nil {
			return nil, err
		}
	}
	return index, nil
}
