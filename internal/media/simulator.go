package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SpokenLine records one completed or cancelled Synthesize call, for test
// assertions and the local dev console.
type SpokenLine struct {
	Handle    Handle
	Text      string
	Style     string
	Language  string
	Voice     string
	Cancelled bool
}

// Simulator is an in-memory Bridge with no network or audio transport,
// driving the orchestrator's tests and a local `cmd/voice-worker` dev mode
// without a live telephony vendor. There is no teacher Go logic to port
// here — internal/conversation's phone_simulator.go and
// phone_simulator_enhanced.go serve a browser-based demo UI (plain HTML/JS),
// not call-scripting logic — so this is built fresh, in the style of the
// other small in-memory test doubles in this repo (queue.MemoryQueue,
// llmdriver's scriptedClient).
type Simulator struct {
	mu      sync.Mutex
	events  chan RecognitionEvent
	spoken  []SpokenLine
	pending map[Handle]int // handle -> index into spoken
	tones   map[Handle]string
	closed  bool
}

// NewSimulator creates an empty, unstarted simulated call.
func NewSimulator() *Simulator {
	return &Simulator{
		events:  make(chan RecognitionEvent, 32),
		pending: make(map[Handle]int),
		tones:   make(map[Handle]string),
	}
}

func (s *Simulator) Events() <-chan RecognitionEvent { return s.events }

// Say pushes a partial-then-final recognition pair for text, as if a caller
// spoke it. Tests needing only a bare final may call SayFinal instead.
func (s *Simulator) Say(ctx context.Context, text string) {
	s.push(ctx, RecognitionEvent{Kind: KindPartial, Text: text})
	s.push(ctx, RecognitionEvent{Kind: KindFinal, Text: text})
	s.push(ctx, RecognitionEvent{Kind: KindRecognitionComplete, Text: text})
}

// SayPartial pushes a single partial recognition, useful for scripting a
// barge-in mid-reply.
func (s *Simulator) SayPartial(ctx context.Context, text string) {
	s.push(ctx, RecognitionEvent{Kind: KindPartial, Text: text})
}

// Silence pushes a silence event, useful for scripting idle timeouts.
func (s *Simulator) Silence(ctx context.Context) {
	s.push(ctx, RecognitionEvent{Kind: KindSilence})
}

func (s *Simulator) push(ctx context.Context, e RecognitionEvent) {
	select {
	case s.events <- e:
	case <-ctx.Done():
	}
}

func (s *Simulator) Synthesize(_ context.Context, req SynthesizeRequest) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", fmt.Errorf("media: simulator is closed")
	}
	handle := Handle(uuid.New().String())
	s.spoken = append(s.spoken, SpokenLine{
		Handle:   handle,
		Text:     req.Text,
		Style:    req.Style,
		Language: req.Language,
		Voice:    req.Voice,
	})
	s.pending[handle] = len(s.spoken) - 1
	return handle, nil
}

func (s *Simulator) Cancel(_ context.Context, handle Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.pending[handle]; ok {
		s.spoken[idx].Cancelled = true
		delete(s.pending, handle)
		return nil
	}
	if _, ok := s.tones[handle]; ok {
		delete(s.tones, handle)
		return nil
	}
	return nil
}

func (s *Simulator) PlayThinkingTone(_ context.Context) (Handle, error) {
	return s.playTone("thinking")
}

func (s *Simulator) PlayNoiseFloor(_ context.Context) (Handle, error) {
	return s.playTone("noise_floor")
}

func (s *Simulator) playTone(tone string) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", fmt.Errorf("media: simulator is closed")
	}
	handle := Handle(uuid.New().String())
	s.tones[handle] = tone
	return handle, nil
}

// Transcript returns every Synthesize call made so far, in order, for test
// assertions.
func (s *Simulator) Transcript() []SpokenLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SpokenLine, len(s.spoken))
	copy(out, s.spoken)
	return out
}

// ActiveTones reports which loopable tones are currently playing (have not
// been Cancelled).
func (s *Simulator) ActiveTones() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tones))
	for _, tone := range s.tones {
		out = append(out, tone)
	}
	return out
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}
