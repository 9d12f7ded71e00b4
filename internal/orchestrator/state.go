// Package orchestrator implements the long-lived per-call state machine that
// owns a Call end to end: Idle, Greeting, Listening, Thinking, Speaking,
// Ending, Closed. Structurally this is the teacher's queue-backed dispatcher
// (internal/conversation/orchestrator.go's Orchestrator/runWorker/pending
// sync.Map idiom) generalized from "one request-shaped job per queue
// message" to "one durable state machine per call, fed by a mailbox of
// events" — the teacher's own workers are short-lived per-message handlers,
// so this package is authored fresh in the teacher's idiom (same logger,
// same functional-options construction, same error wrapping) rather than
// ported line for line from any one teacher file.
package orchestrator

// State names where a CallScope sits in its lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateGreeting  State = "greeting"
	StateListening State = "listening"
	StateThinking  State = "thinking"
	StateSpeaking  State = "speaking"
	StateEnding    State = "ending"
	StateClosed    State = "closed"
)
