// Package llmdriver implements a tiered, streaming
// completion client with jittered-backoff retry, fast/slow fallback, and
// tool-call JSON repair. Grounded on the teacher's own
// internal/conversation/{llm_client,bedrock_clients,gemini_client,fallback_client}.go,
// generalized to carry tool-call deltas end to end (the teacher's versions
// of these clients never do tool-calling).
package llmdriver

import (
	"context"
)

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
	ChatRoleTool      = "tool"
)

// Tier names one of the two model tiers the driver can target.
type Tier string

const (
	TierFast Tier = "fast"
	TierSlow Tier = "slow"
)

// ChatMessage is the internal message representation handed to a Complete
// call; role "tool" carries a prior tool call's result back to the model,
// identified by ToolCallID.
type ChatMessage struct {
	Role       string
	Content    string
	ToolCallID string
}

// TokenUsage mirrors the teacher's llm_client.go TokenUsage verbatim.
type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// ToolSpec is a tool descriptor as the driver needs it: just enough to
// build a provider-specific tool-config block. internal/tools.Descriptor
// values convert to this directly (name, description, JSON-schema params).
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCallDelta is one fully-assembled tool call the model asked to invoke.
// The driver accumulates provider-specific deltas and emits this only once
// name and a complete argument JSON blob are available.
type ToolCallDelta struct {
	ID            string
	Name          string
	ArgumentsJSON string
	// Error is set when ArgumentsJSON was malformed and RepairToolCallJSON
	// could not fix it; still-invalid results after repair are reported as
	// tool-call errors rather than retried.
	Error string
}

// LLMRequest is a single completion request.
type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	Tools       []ToolSpec
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

// LLMResponse is a completed, non-streaming response.
type LLMResponse struct {
	Text       string
	ToolCalls  []ToolCallDelta
	Usage      TokenUsage
	StopReason string
}

// StreamChunk is one increment of a streaming completion. The teacher's
// bedrock_clients.go references this type in CompleteStream's signature but
// never defines it anywhere in the tree — defined here as the one place
// every provider's stream goroutine converges on.
type StreamChunk struct {
	Text          string
	ToolCallDelta *ToolCallDelta
	FinishReason  string
	Usage         TokenUsage
	Done          bool
	Error         error
}

// LLMClient is the contract every model-tier provider implements, extending
// the teacher's llm_client.go LLMClient with streaming and tool calls.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
	CompleteStream(ctx context.Context, req LLMRequest) (<-chan StreamChunk, error)
}
