package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brightline-labs/voicecore/internal/callmodel"
	"github.com/brightline-labs/voicecore/internal/llmdriver"
)

// Synthesizer is the slice of llmdriver.TieredClient the dispatcher needs to
// produce a post-call Synthesis, narrowed the same way orchestrator.LLMTiered
// narrows it for the call-scope's turn loop.
type Synthesizer interface {
	Complete(ctx context.Context, req llmdriver.LLMRequest, tier llmdriver.Tier) (llmdriver.LLMResponse, error)
}

const synthesisSystemPrompt = `You summarize a completed phone call transcript between a caller and an automated voice assistant. Respond with a single JSON object, no surrounding prose, with fields: "short" (one sentence, suitable for an SMS to the caller), "long" (a paragraph for an internal operator), "satisfaction" (one of "low", "medium", "high", "unknown"), and "improvement_suggestions" (optional, one sentence on what the assistant could have handled better, empty string if nothing stands out).`

// Synthesize asks the slow tier to produce a Synthesis from the call's
// transcript. A malformed or unparsable response degrades to a Synthesis
// built from the raw completion text rather than failing the job outright,
// since a best-effort report still beats none.
func Synthesize(ctx context.Context, llm Synthesizer, call *callmodel.Call) (*callmodel.Synthesis, error) {
	req := llmdriver.LLMRequest{
		System:    []string{synthesisSystemPrompt},
		Messages:  []llmdriver.ChatMessage{{Role: "user", Content: formatTranscript(call)}},
		MaxTokens: 512,
	}
	resp, err := llm.Complete(ctx, req, llmdriver.TierSlow)
	if err != nil {
		return nil, fmt.Errorf("dispatch: synthesis completion: %w", err)
	}

	var parsed struct {
		Short                  string `json:"short"`
		Long                   string `json:"long"`
		Satisfaction           string `json:"satisfaction"`
		ImprovementSuggestions string `json:"improvement_suggestions"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Text)), &parsed); err != nil {
		return &callmodel.Synthesis{
			Short:        "Call summary unavailable.",
			Long:         resp.Text,
			Satisfaction: callmodel.SatisfactionUnknown,
		}, nil
	}

	sat := callmodel.Satisfaction(parsed.Satisfaction)
	switch sat {
	case callmodel.SatisfactionLow, callmodel.SatisfactionMedium, callmodel.SatisfactionHigh:
	default:
		sat = callmodel.SatisfactionUnknown
	}
	return &callmodel.Synthesis{
		Short:                  parsed.Short,
		Long:                   parsed.Long,
		Satisfaction:           sat,
		ImprovementSuggestions: parsed.ImprovementSuggestions,
	}, nil
}

// formatTranscript renders the call's committed messages as plain
// speaker-labeled lines, skipping system-persona bookkeeping messages the
// same way prompt.Assemble excludes them from what the model sees as
// conversational turns.
func formatTranscript(call *callmodel.Call) string {
	var sb strings.Builder
	for _, m := range call.Messages {
		if m.Persona == callmodel.PersonaSystem {
			continue
		}
		speaker := "Caller"
		if m.Persona == callmodel.PersonaAssistant {
			speaker = "Assistant"
		}
		fmt.Fprintf(&sb, "%s: %s\n", speaker, m.Content)
	}
	return sb.String()
}

// stripCodeFence removes a leading/trailing ```json fence some models wrap
// structured output in, leaving plain JSON for json.Unmarshal.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// hasNewKnowledge reports whether the call produced anything worth a
// training job: more than a bare greeting exchange, or a non-empty claim.
func hasNewKnowledge(call *callmodel.Call) bool {
	if len(call.Claim) > 0 {
		return true
	}
	return len(call.Messages) > 2
}
