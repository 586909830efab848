package tool

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/contract"
)

//go:embed data/specialists.json
var specialistData []byte

type Specialist struct {
	SpecialistID string   `json:"specialist_id"`
	Name         string   `json:"name"`
	Title        string   `json:"title"`
	Products     []string `json:"products,omitempty"`
	Skills       []string `json:"skills,omitempty"`
	Industries   []string `json:"industries,omitempty"`
	Integrations []string `json:"integrations,omitempty"`
}

// Directory is the static product-specialist roster. Matching is a
// deterministic keyword score so the same query always selects the same
// specialist.
type Directory struct {
	specialists []Specialist
}

func LoadDirectory() (*Directory, error) {
	return NewDirectory(specialistData)
}

func NewDirectory(raw []byte) (*Directory, error) {
	var specialists []Specialist
	if err := json.Unmarshal(raw, &specialists); err != nil {
		return nil, fmt.Errorf("decode specialist roster: %w", err)
	}
	if len(specialists) == 0 {
		return nil, fmt.Errorf("specialist roster is empty")
	}
	for i, s := range specialists {
		if strings.TrimSpace(s.SpecialistID) == "" {
			return nil, fmt.Errorf("specialist %d has no id", i)
		}
	}
	return &Directory{specialists: specialists}, nil
}

// Match returns the highest-scoring specialist for a query. Ties resolve to
// roster order; a query that matches nothing falls back to the first entry
// so that the journey can always continue.
func (d *Directory) Match(query string) Specialist {
	tokens := tokenize(query)
	best := d.specialists[0]
	bestScore := -1
	for _, s := range d.specialists {
		score := s.score(tokens)
		if score > bestScore {
			best = s
			bestScore = score
		}
	}
	return best
}

func (s Specialist) score(tokens []string) int {
	haystack := strings.ToLower(strings.Join([]string{
		s.Name,
		s.Title,
		strings.Join(s.Products, " "),
		strings.Join(s.Skills, " "),
		strings.Join(s.Industries, " "),
		strings.Join(s.Integrations, " "),
	}, " "))

	score := 0
	for _, token := range tokens {
		if strings.Contains(haystack, token) {
			score++
		}
	}
	return score
}

func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()")
		if len(f) < 3 {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func (r *Registry) execMatch(_ context.Context, args map[string]any) (contractx.ToolOutput, error) {
	query, err := stringArg(args, "query", true)
	if err != nil {
		return contractx.ToolOutput{}, err
	}

	match := r.directory.Match(query)
	return contractx.ToolOutput{
		Content: match,
		Flags: map[string]any{
			contractx.FlagSpecialistSelected: true,
		},
		Identifiers: map[string]string{
			contractx.IdentSpecialistID: match.SpecialistID,
		},
	}, nil
}
