// Package media abstracts speech-to-text ingestion and text-to-speech
// synthesis behind one small interface, with three implementations: a
// WebSocket-transported bridge to a remote STT/TTS engine (gorilla/websocket,
// unused in the teacher's own tree until now), an HTTP bridge to the Telnyx
// Call Control API (ported from the teacher's telnyx_voice_client.go), and
// an in-memory bridge for local development and tests.
package media

import "context"

// Kind names the recognition event the bridge observed, using the literal
// vocabulary named for this abstraction: partial, final, silence,
// recognition_complete.
type Kind string

const (
	KindPartial             Kind = "partial"
	KindFinal               Kind = "final"
	KindSilence             Kind = "silence"
	KindRecognitionComplete Kind = "recognition_complete"
)

// RecognitionEvent is one STT event the bridge surfaces on its Events channel.
type RecognitionEvent struct {
	Kind                      Kind
	Text                      string
	DetectedLanguageShortCode string
	Timestamp                 int64 // unix millis
}

// Handle identifies one in-flight synthesis or tone-playback request.
type Handle string

// SynthesizeRequest is a text-to-speech request.
type SynthesizeRequest struct {
	Text     string
	Style    string
	Language string
	Voice    string
}

// Bridge is the abstraction over STT input and TTS output.
// Implementations own their own transport lifetime (reconnects, HTTP retries)
// — callers never see a dropped connection, only a possibly-delayed event
// stream.
type Bridge interface {
	// Events returns the channel of recognition events. It is closed when
	// the bridge is closed.
	Events() <-chan RecognitionEvent

	// Synthesize enqueues a TTS request and returns a handle identifying it.
	// Concatenated synthesize calls must not have their audio overlap —
	// implementations queue rather than interrupt unless Cancel is called.
	Synthesize(ctx context.Context, req SynthesizeRequest) (Handle, error)

	// Cancel discards whatever audio for handle has not yet played. A
	// cancelled handle drops the next not-yet-played chunk immediately; it
	// does not wait for the chunk currently playing to finish.
	Cancel(ctx context.Context, handle Handle) error

	// PlayThinkingTone starts a loopable placeholder tone ("mmm") played
	// while the orchestrator is waiting on an LLM turn. Stop it with Cancel.
	PlayThinkingTone(ctx context.Context) (Handle, error)

	// PlayNoiseFloor starts a gentle ambient noise floor played while
	// otherwise silent. Stop it with Cancel.
	PlayNoiseFloor(ctx context.Context) (Handle, error)

	// Close tears down the bridge's transport.
	Close() error
}
