// Package prompt embeds and prepares the system prompt templates. Templates
// stay free of curly braces except the named placeholders, because the
// rendered text is compiled into an FString chat template downstream.
package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/journey.txt
	journeyRaw string

	//go:embed template/summarizer.txt
	summarizerRaw string
)

// PromptSet holds the rendered prompt content.
type PromptSet struct {
	Journey    string
	Summarizer string
}

// LoadPromptSet renders the templates with the configured company and
// assistant names. Safe to call concurrently.
func LoadPromptSet(company, assistant string) PromptSet {
	replacer := strings.NewReplacer(
		"{company}", strings.TrimSpace(company),
		"{assistant}", strings.TrimSpace(assistant),
	)
	return PromptSet{
		Journey:    strings.TrimSpace(replacer.Replace(journeyRaw)),
		Summarizer: strings.TrimSpace(replacer.Replace(summarizerRaw)),
	}
}
