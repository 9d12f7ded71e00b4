// Package queue provides a typed pull interface over call/sms/post/training
// work items with visibility-timeout semantics.
package queue

import "context"

// Name identifies one of the four typed queues.
type Name string

const (
	CallEvents Name = "call_events"
	SMSEvents  Name = "sms_events"
	PostCall   Name = "post_call"
	Training   Name = "training"
)

// Message is one pulled item, opaque to the queue client beyond its body and
// the handle needed to ack/nack/extend it.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Queue is the Queue Interface contract. It does NOT guarantee exactly-once
// delivery; idempotency is the consumer's responsibility, keyed by
// (call_id, event fingerprint) — see callmodel.Call.HasProcessed.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, max int, waitSeconds int) ([]Message, error)
	Ack(ctx context.Context, msg Message) error
	Nack(ctx context.Context, msg Message) error
	// Extend raises the visibility timeout of msg by extra so a long-running
	// handler avoids redelivery; the orchestrator's extender sub-task calls
	// this periodically while a call is in flight.
	Extend(ctx context.Context, msg Message, extra int) error
}

// Set groups the four typed queues a worker needs.
type Set struct {
	CallEvents Queue
	SMSEvents  Queue
	PostCall   Queue
	Training   Queue
}

// Get returns the queue for name.
func (s Set) Get(name Name) Queue {
	switch name {
	case CallEvents:
		return s.CallEvents
	case SMSEvents:
		return s.SMSEvents
	case PostCall:
		return s.PostCall
	case Training:
		return s.Training
	default:
		return nil
	}
}
