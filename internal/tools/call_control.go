package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/brightline-labs/voicecore/internal/callmodel"
)

type callControlArgs struct {
	CustomerResponse string `json:"customer_response"`
}

// endCallDescriptor ports end_call from llm_tools.py: the caller must have
// given explicit verbal confirmation before the LLM emits this, which the
// tool description states rather than the handler enforcing (the LLM owns
// that judgment call).
func (r *Registry) endCallDescriptor() Descriptor {
	return Descriptor{
		Name: "end_call",
		Description: "End the call. Requires explicit verbal confirmation from the caller first. " +
			"Never use directly after a callback reminder; that's a call_back disposition, not a hangup.",
		Parameters: objectSchema(map[string]any{
			"customer_response": stringProp(customerResponseDescription),
		}, "customer_response"),
		Handler: func(_ context.Context, _ *callmodel.Call, rawArgs json.RawMessage) (Result, error) {
			var args callControlArgs
			if err := json.Unmarshal(rawArgs, &args); err != nil {
				return Result{}, fmt.Errorf("tools: end_call: %w", err)
			}
			return Result{
				Content:   "Call ended.",
				SpokenAck: args.CustomerResponse,
				Effect:    EffectEndCall,
			}, nil
		},
	}
}

// talkToHumanDescriptor ports talk_to_human from llm_tools.py.
func (r *Registry) talkToHumanDescriptor() Descriptor {
	return Descriptor{
		Name: "talk_to_human",
		Description: "Transfer the caller to a human agent. Use only when the caller wants a " +
			"human and the assistant cannot help. Requires explicit verbal confirmation first.",
		Parameters: objectSchema(map[string]any{
			"customer_response": stringProp(customerResponseDescription),
		}, "customer_response"),
		Handler: func(_ context.Context, _ *callmodel.Call, rawArgs json.RawMessage) (Result, error) {
			var args callControlArgs
			if err := json.Unmarshal(rawArgs, &args); err != nil {
				return Result{}, fmt.Errorf("tools: talk_to_human: %w", err)
			}
			return Result{
				Content:   "Transferring to human agent.",
				SpokenAck: args.CustomerResponse,
				Effect:    EffectTransfer,
			}, nil
		},
	}
}
