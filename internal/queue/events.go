package queue

import (
	"time"

	"github.com/brightline-labs/voicecore/internal/callmodel"
)

// IncomingCall triggers the orchestrator to start a new Call. CallID and the
// Initiate-block fields below are only populated for API-initiated outbound
// calls (POST /call); a purely inbound call arriving as a bare telephony
// webhook carries just CallerPhone/CalleePhone/CorrelationID, the way
// spec.md's "incoming_call { caller_phone, callee_phone, correlation_id }"
// describes it.
type IncomingCall struct {
	CallerPhone   string `json:"caller_phone"`
	CalleePhone   string `json:"callee_phone"`
	CorrelationID string `json:"correlation_id"`

	CallID             string              `json:"call_id,omitempty"`
	BotName            string              `json:"bot_name,omitempty"`
	BotCompany         string              `json:"bot_company,omitempty"`
	TaskDescription    string              `json:"task_description,omitempty"`
	ClaimSchema        []callmodel.ClaimField `json:"claim_schema,omitempty"`
	LanguageDefault    string              `json:"language_default,omitempty"`
}

// MediaEventKind names the telephony-side lifecycle events the core reacts
// to via the Media Bridge/Call Orchestrator.
type MediaEventKind string

const (
	MediaConnected        MediaEventKind = "connected"
	MediaHangup           MediaEventKind = "hangup"
	MediaTransferred      MediaEventKind = "transferred"
	MediaRecordingStarted MediaEventKind = "recording_started"
	MediaRecordingStopped MediaEventKind = "recording_stopped"
)

// MediaEvent drives the Media Bridge and Call Orchestrator.
type MediaEvent struct {
	CallID  string          `json:"call_id"`
	Kind    MediaEventKind  `json:"kind"`
	Payload map[string]any  `json:"payload,omitempty"`
}

// InboundSMS is appended to the active Call for From if one exists, else
// spawns a new SMS-only record.
type InboundSMS struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// Envelope wraps one of the three event families above with the fingerprint
// the orchestrator uses for idempotency. Exactly one of the payload fields
// is populated, matching the "kind" discriminator.
type Envelope struct {
	EventID string `json:"event_id"`
	CallID  string `json:"call_id,omitempty"`

	IncomingCall *IncomingCall `json:"incoming_call,omitempty"`
	MediaEvent   *MediaEvent   `json:"media_event,omitempty"`
	InboundSMS   *InboundSMS   `json:"inbound_sms,omitempty"`
}

// Fingerprint is the (call_id, event_id) idempotency key.
func (e Envelope) Fingerprint() string { return e.CallID + ":" + e.EventID }

// PostCallJob is the body shape enqueued onto the post_call/training queues
// when a Call reaches Closed. It carries only the call id; the Background
// Dispatcher reloads the authoritative record from the Call Store rather
// than trusting a possibly-stale copy riding along in the queue message.
type PostCallJob struct {
	CallID string `json:"call_id"`
}
