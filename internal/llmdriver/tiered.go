package llmdriver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/brightline-labs/voicecore/internal/timers"
	"github.com/brightline-labs/voicecore/pkg/logging"
)

// TieredClient generalizes the teacher's fallback_client.go
// FallbackLLMClient from a single primary/fallback hop into tier selection
// plus retry-then-fallback-once semantics: retry the chosen tier up to
// maxRetries times with jittered backoff, then fall back once to the other
// tier if it's configured.
type TieredClient struct {
	fast, slow LLMClient
	logger     *logging.Logger

	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration
}

// NewTieredClient builds a TieredClient. Either of fast/slow may be nil if
// that tier isn't configured; at least one must be non-nil.
func NewTieredClient(fast, slow LLMClient, logger *logging.Logger) *TieredClient {
	if fast == nil && slow == nil {
		panic("llmdriver: at least one of fast/slow must be configured")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TieredClient{
		fast: fast, slow: slow, logger: logger,
		maxRetries:  3,
		backoffBase: 200 * time.Millisecond,
		backoffMax:  5 * time.Second,
	}
}

func (c *TieredClient) clientFor(tier Tier) LLMClient {
	if tier == TierSlow && c.slow != nil {
		return c.slow
	}
	if tier == TierFast && c.fast != nil {
		return c.fast
	}
	if c.fast != nil {
		return c.fast
	}
	return c.slow
}

func (c *TieredClient) otherTier(tier Tier) (Tier, LLMClient) {
	if tier == TierFast {
		return TierSlow, c.slow
	}
	return TierFast, c.fast
}

// isTransient reports whether err is worth retrying: timeouts, rate limits,
// empty responses, and malformed tool-call JSON all qualify.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"timeout", "rate limit", "throttl", "too many requests", "empty", "unavailable", "503", "429"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// Complete runs the retry-then-fallback-once policy around a single
// completion request, repairing tool-call JSON on the way out.
func (c *TieredClient) Complete(ctx context.Context, req LLMRequest, tier Tier) (LLMResponse, error) {
	resp, err := c.completeWithRetry(ctx, c.clientFor(tier), req)
	if err == nil {
		return repairToolCalls(resp), nil
	}

	otherName, other := c.otherTier(tier)
	if other == nil {
		return LLMResponse{}, err
	}
	c.logger.Warn("llm tier exhausted retries, falling back once",
		"tier", string(tier), "fallback_tier", string(otherName), "error", err.Error())

	fallbackResp, fallbackErr := other.Complete(ctx, req)
	if fallbackErr != nil {
		c.logger.Error("llm fallback tier also failed",
			"primary_error", err.Error(), "fallback_error", fallbackErr.Error())
		return LLMResponse{}, fallbackErr
	}
	return repairToolCalls(fallbackResp), nil
}

// CompleteStream starts a streaming completion on the chosen tier, falling
// back once to the other tier only if the stream fails to start at all —
// retry/backoff governs request setup, not an already-flowing stream; once
// tokens are arriving, a barge-in or cancellation is the orchestrator's to
// handle, not the driver's to retry. Tool-call deltas are repaired in place
// as they arrive.
func (c *TieredClient) CompleteStream(ctx context.Context, req LLMRequest, tier Tier) (<-chan StreamChunk, error) {
	primary := c.clientFor(tier)
	raw, err := primary.CompleteStream(ctx, req)
	if err != nil {
		otherName, other := c.otherTier(tier)
		if other == nil {
			return nil, err
		}
		c.logger.Warn("llm tier failed to start stream, falling back once",
			"tier", string(tier), "fallback_tier", string(otherName), "error", err.Error())
		raw, err = other.CompleteStream(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	out := make(chan StreamChunk, 32)
	go func() {
		defer close(out)
		for chunk := range raw {
			if chunk.ToolCallDelta != nil {
				repaired := repairToolCalls(LLMResponse{ToolCalls: []ToolCallDelta{*chunk.ToolCallDelta}})
				tc := repaired.ToolCalls[0]
				chunk.ToolCallDelta = &tc
			}
			out <- chunk
		}
	}()
	return out, nil
}

func (c *TieredClient) completeWithRetry(ctx context.Context, client LLMClient, req LLMRequest) (LLMResponse, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		resp, err := client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isTransient(err) {
			return LLMResponse{}, err
		}
		if attempt < c.maxRetries-1 {
			if sleepErr := timers.Sleep(ctx, timers.Backoff(attempt, c.backoffBase, c.backoffMax)); sleepErr != nil {
				return LLMResponse{}, sleepErr
			}
		}
	}
	return LLMResponse{}, lastErr
}

func repairToolCalls(resp LLMResponse) LLMResponse {
	for i, tc := range resp.ToolCalls {
		if tc.ArgumentsJSON == "" {
			resp.ToolCalls[i].ArgumentsJSON = "{}"
			continue
		}
		repaired, ok := RepairToolCallJSON(tc.ArgumentsJSON)
		if !ok {
			resp.ToolCalls[i].Error = "malformed tool-call arguments"
			continue
		}
		resp.ToolCalls[i].ArgumentsJSON = repaired
	}
	return resp
}
