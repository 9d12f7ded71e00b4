package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/brightline-labs/voicecore/internal/callmodel"
)

type sendSMSArgs struct {
	CustomerResponse string `json:"customer_response"`
	Text             string `json:"text"`
}

// sendSMSDescriptor enqueues an outbound SMS to the caller's number,
// resolved from Call.Initiate.CallerPhoneNumber, via the injected
// SMSEnqueuer rather than the handler reaching into queue internals
// directly — the tool layer stays a pure dispatch surface.
func (r *Registry) sendSMSDescriptor() Descriptor {
	return Descriptor{
		Name:        "send_sms",
		Description: "Send a text message to the caller's phone number.",
		Parameters: objectSchema(map[string]any{
			"customer_response": stringProp(customerResponseDescription),
			"text":               stringProp("The SMS body to send."),
		}, "customer_response", "text"),
		Handler: func(ctx context.Context, call *callmodel.Call, rawArgs json.RawMessage) (Result, error) {
			var args sendSMSArgs
			if err := json.Unmarshal(rawArgs, &args); err != nil {
				return Result{}, fmt.Errorf("tools: send_sms: %w", err)
			}
			if r.sms != nil {
				if err := r.sms.EnqueueSMS(ctx, call.Initiate.CallerPhoneNumber, args.Text); err != nil {
					return Result{}, fmt.Errorf("tools: send_sms: %w", err)
				}
			}
			return Result{
				Content:   "Text message sent.",
				SpokenAck: args.CustomerResponse,
				Effect:    EffectSendSMS,
				SMSBody:   args.Text,
			}, nil
		},
	}
}
