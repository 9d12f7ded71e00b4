package llmdriver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type scriptedClient struct {
	responses []LLMResponse
	errs      []error
	calls     int
}

func (s *scriptedClient) Complete(_ context.Context, _ LLMRequest) (LLMResponse, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return LLMResponse{}, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return LLMResponse{}, errors.New("scriptedClient: ran out of script")
}

func (s *scriptedClient) CompleteStream(_ context.Context, _ LLMRequest) (<-chan StreamChunk, error) {
	return nil, errors.New("scriptedClient: streaming not scripted")
}

func TestTieredClient_SucceedsOnFirstAttempt(t *testing.T) {
	fast := &scriptedClient{responses: []LLMResponse{{Text: "hello"}}}
	c := NewTieredClient(fast, nil, nil)

	resp, err := c.Complete(context.Background(), LLMRequest{Model: "m"}, TierFast)
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Text)
	require.Equal(t, 1, fast.calls)
}

func TestTieredClient_RetriesTransientErrorThenSucceeds(t *testing.T) {
	fast := &scriptedClient{
		errs:      []error{errors.New("request timeout"), nil},
		responses: []LLMResponse{{}, {Text: "recovered"}},
	}
	c := NewTieredClient(fast, nil, nil)
	c.backoffBase = 0

	resp, err := c.Complete(context.Background(), LLMRequest{Model: "m"}, TierFast)
	require.NoError(t, err)
	require.Equal(t, "recovered", resp.Text)
	require.Equal(t, 2, fast.calls)
}

func TestTieredClient_NonTransientErrorSkipsRetryAndFallsBack(t *testing.T) {
	fast := &scriptedClient{errs: []error{errors.New("invalid request: bad model id")}}
	slow := &scriptedClient{responses: []LLMResponse{{Text: "from slow"}}}
	c := NewTieredClient(fast, slow, nil)

	resp, err := c.Complete(context.Background(), LLMRequest{Model: "m"}, TierFast)
	require.NoError(t, err)
	require.Equal(t, "from slow", resp.Text)
	require.Equal(t, 1, fast.calls)
}

func TestTieredClient_FallsBackAfterRetriesExhausted(t *testing.T) {
	fast := &scriptedClient{errs: []error{
		errors.New("timeout"), errors.New("timeout"), errors.New("timeout"),
	}}
	slow := &scriptedClient{responses: []LLMResponse{{Text: "slow tier saved it"}}}
	c := NewTieredClient(fast, slow, nil)
	c.backoffBase = 0

	resp, err := c.Complete(context.Background(), LLMRequest{Model: "m"}, TierFast)
	require.NoError(t, err)
	require.Equal(t, "slow tier saved it", resp.Text)
	require.Equal(t, 3, fast.calls)
}

func TestTieredClient_NoFallbackConfiguredReturnsError(t *testing.T) {
	fast := &scriptedClient{errs: []error{errors.New("timeout"), errors.New("timeout"), errors.New("timeout")}}
	c := NewTieredClient(fast, nil, nil)
	c.backoffBase = 0

	_, err := c.Complete(context.Background(), LLMRequest{Model: "m"}, TierFast)
	require.Error(t, err)
}

func TestTieredClient_RepairsToolCallArgumentsOnSuccess(t *testing.T) {
	fast := &scriptedClient{responses: []LLMResponse{{
		ToolCalls: []ToolCallDelta{{Name: "update_claim", ArgumentsJSON: `{"field":"email","value":"a@b.com",}`}},
	}}}
	c := NewTieredClient(fast, nil, nil)

	resp, err := c.Complete(context.Background(), LLMRequest{Model: "m"}, TierFast)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	require.Empty(t, resp.ToolCalls[0].Error)
	require.Equal(t, `{"field":"email","value":"a@b.com"}`, resp.ToolCalls[0].ArgumentsJSON)
}

func TestTieredClient_UnrepairableToolCallArgumentsMarkedError(t *testing.T) {
	fast := &scriptedClient{responses: []LLMResponse{{
		ToolCalls: []ToolCallDelta{{Name: "update_claim", ArgumentsJSON: "not json"}},
	}}}
	c := NewTieredClient(fast, nil, nil)

	resp, err := c.Complete(context.Background(), LLMRequest{Model: "m"}, TierFast)
	require.NoError(t, err)
	require.NotEmpty(t, resp.ToolCalls[0].Error)
}

func TestIsTransient(t *testing.T) {
	require.True(t, isTransient(errors.New("request timeout")))
	require.True(t, isTransient(errors.New("429 too many requests")))
	require.True(t, isTransient(errors.New("service unavailable")))
	require.False(t, isTransient(errors.New("invalid model id")))
	require.False(t, isTransient(nil))
}
