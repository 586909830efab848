// Package retrieval provides the in-memory vector index behind the case
// study and testimonial search tools. Corpora are embedded once at startup;
// queries are embedded per search and ranked by cosine similarity.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	contractx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/contract"
)

var ErrUnknownCorpus = errors.New("unknown retrieval corpus")

type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type indexedDoc struct {
	doc    Document
	vector []float64
	norm   float64
}

type Index struct {
	embedder Embedder

	mu      sync.RWMutex
	corpora map[string][]indexedDoc
}

func NewIndex(embedder Embedder) *Index {
	return &Index{
		embedder: embedder,
		corpora:  make(map[string][]indexedDoc),
	}
}

// AddCorpus embeds a document set under a corpus name, replacing any
// previous set of the same name.
func (i *Index) AddCorpus(ctx context.Context, name string, docs []Document) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("corpus name is empty")
	}

	texts := make([]string, len(docs))
	for n, doc := range docs {
		texts[n] = doc.Title + "\n" + doc.Content
	}
	vectors, err := i.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed corpus %s: %w", name, err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("corpus %s: %d vectors for %d documents", name, len(vectors), len(docs))
	}

	indexed := make([]indexedDoc, len(docs))
	for n, doc := range docs {
		indexed[n] = indexedDoc{
			doc:    doc,
			vector: vectors[n],
			norm:   vectorNorm(vectors[n]),
		}
	}

	i.mu.Lock()
	i.corpora[name] = indexed
	i.mu.Unlock()
	return nil
}

// Search returns the top k documents of a corpus ranked by cosine
// similarity against the query.
func (i *Index) Search(ctx context.Context, query, corpus string, k int) ([]contractx.Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is empty")
	}

	i.mu.RLock()
	docs, ok := i.corpora[corpus]
	i.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCorpus, corpus)
	}
	if len(docs) == 0 || k <= 0 {
		return nil, nil
	}

	vectors, err := i.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("query embedding returned %d vectors", len(vectors))
	}
	queryVec := vectors[0]
	queryNorm := vectorNorm(queryVec)

	hits := make([]contractx.Hit, 0, len(docs))
	for _, d := range docs {
		hits = append(hits, contractx.Hit{
			Content: d.doc.Title + "\n" + d.doc.Content,
			Score:   cosine(queryVec, queryNorm, d.vector, d.norm),
		})
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Score > hits[b].Score
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func cosine(a []float64, normA float64, b []float64, normB float64) float64 {
	if normA == 0 || normB == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for n := range a {
		dot += a[n] * b[n]
	}
	return dot / (normA * normB)
}

func vectorNorm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
