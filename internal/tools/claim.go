package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/brightline-labs/voicecore/internal/callmodel"
)

type updateClaimArgs struct {
	CustomerResponse string `json:"customer_response"`
	Field            string `json:"field"`
	Value            string `json:"value"`
}

// updateClaimDescriptor ports updated_claim from llm_tools.py: validate the
// field is editable (declared in the call's claim schema) and type-check
// before mutating, so a bad value never reaches Call.Claim.
func (r *Registry) updateClaimDescriptor() Descriptor {
	return Descriptor{
		Name: "update_claim",
		Description: "Update a single claim field with a new value. It is OK to approximate " +
			"dates the caller gives loosely (e.g. 'last night' -> today at a plausible hour).",
		Parameters: objectSchema(map[string]any{
			"customer_response": stringProp(customerResponseDescription),
			"field":              stringProp("The claim field to update. Must be one of the declared claim_schema field names."),
			"value": stringProp("The new value. Dates use 'YYYY-MM-DD HH:MM'; phone numbers use E.164 (e.g. +33612345678)."),
		}, "customer_response", "field", "value"),
		Serializes: true,
		Handler: func(_ context.Context, call *callmodel.Call, rawArgs json.RawMessage) (Result, error) {
			var args updateClaimArgs
			if err := json.Unmarshal(rawArgs, &args); err != nil {
				return Result{}, fmt.Errorf("tools: update_claim: %w", err)
			}
			if err := call.UpdateClaim(args.Field, args.Value); err != nil {
				return Result{Content: fmt.Sprintf("Failed to update field %q: %v", args.Field, err)}, nil
			}
			return Result{
				Content:   fmt.Sprintf("Updated claim field %q with value %q.", args.Field, args.Value),
				SpokenAck: args.CustomerResponse,
			}, nil
		},
	}
}

type newClaimArgs struct {
	CustomerResponse string `json:"customer_response"`
}

// newClaimDescriptor signals the orchestrator to finalize the current Call
// and start a fresh one for the same caller. The handler itself cannot
// perform the swap — a new Call needs a new CallID and a fresh lease
// acquisition, both orchestrator responsibilities — so it only reports the
// Effect and leaves the current Call untouched.
func (r *Registry) newClaimDescriptor() Descriptor {
	return Descriptor{
		Name: "new_claim",
		Description: "Start a brand new claim for a totally different subject, resetting claim " +
			"and reminder data for this caller. Requires explicit verbal approval from the caller first.",
		Parameters: objectSchema(map[string]any{
			"customer_response": stringProp(customerResponseDescription),
		}, "customer_response"),
		Handler: func(_ context.Context, _ *callmodel.Call, rawArgs json.RawMessage) (Result, error) {
			var args newClaimArgs
			if err := json.Unmarshal(rawArgs, &args); err != nil {
				return Result{}, fmt.Errorf("tools: new_claim: %w", err)
			}
			return Result{
				Content:   "Claim, reminders and messages reset.",
				SpokenAck: args.CustomerResponse,
				Effect:    EffectNewClaim,
			}, nil
		},
	}
}
