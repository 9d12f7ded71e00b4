package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/brightline-labs/voicecore/internal/callmodel"
)

type searchDocumentsArgs struct {
	CustomerResponse string   `json:"customer_response"`
	Queries          []string `json:"queries"`
}

// searchDocumentsDescriptor ports search_document from llm_tools.py: run the
// given queries against the injected DocumentSearcher, dedupe by title, sort
// by score descending, and format as a "# Search results" block the prompt
// assembler appends as a system note on the next turn.
func (r *Registry) searchDocumentsDescriptor() Descriptor {
	return Descriptor{
		Name: "search_documents",
		Description: "Search for public information you don't already have — contract terms, " +
			"law, regulation, policy wording. Not for caller-specific claim data.",
		Parameters: objectSchema(map[string]any{
			"customer_response": stringProp(customerResponseDescription),
			"queries": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "One or more independent search queries to run in parallel.",
			},
		}, "customer_response", "queries"),
		Handler: func(ctx context.Context, _ *callmodel.Call, rawArgs json.RawMessage) (Result, error) {
			var args searchDocumentsArgs
			if err := json.Unmarshal(rawArgs, &args); err != nil {
				return Result{}, fmt.Errorf("tools: search_documents: %w", err)
			}
			if r.searcher == nil {
				return Result{Content: "Search is not available right now."}, nil
			}
			results, err := r.searcher.Search(ctx, args.Queries)
			if err != nil {
				return Result{}, fmt.Errorf("tools: search_documents: %w", err)
			}
			return Result{
				Content:   formatSearchResults(results),
				SpokenAck: args.CustomerResponse,
			}, nil
		},
	}
}

func formatSearchResults(results []SearchResult) string {
	seen := make(map[string]SearchResult, len(results))
	for _, res := range results {
		existing, ok := seen[res.Title]
		if !ok || res.Score > existing.Score {
			seen[res.Title] = res
		}
	}
	deduped := make([]SearchResult, 0, len(seen))
	for _, res := range seen {
		deduped = append(deduped, res)
	}
	sort.Slice(deduped, func(i, j int) bool { return deduped[i].Score > deduped[j].Score })

	var b strings.Builder
	b.WriteString("# Search results")
	for _, res := range deduped {
		b.WriteString("\n- ")
		b.WriteString(res.Title)
		b.WriteString(": ")
		b.WriteString(res.Content)
	}
	return b.String()
}
