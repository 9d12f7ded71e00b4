package pipeline

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brightline-labs/voicecore/internal/callmodel"
	"github.com/brightline-labs/voicecore/internal/llmdriver"
	"github.com/brightline-labs/voicecore/internal/media"
	"github.com/brightline-labs/voicecore/internal/tools"
)

type fakeInvoker struct {
	result tools.Result
	err    error
	calls  []string
}

func (f *fakeInvoker) Invoke(_ context.Context, _ *callmodel.Call, name string, _ json.RawMessage) (tools.Result, error) {
	f.calls = append(f.calls, name)
	return f.result, f.err
}

func (f *fakeInvoker) Serializes(string) bool { return false }

type blockAllFilter struct{}

func (blockAllFilter) Allow(context.Context, string) (bool, error) { return false, nil }

type upperTranslator struct{}

func (upperTranslator) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text + " [es]", nil
}

func newTestCall() *callmodel.Call {
	return callmodel.New(callmodel.Initiate{LanguageDefault: "en"})
}

func chunksOf(texts ...string) chan llmdriver.StreamChunk {
	ch := make(chan llmdriver.StreamChunk, len(texts)+1)
	for _, t := range texts {
		ch <- llmdriver.StreamChunk{Text: t}
	}
	ch <- llmdriver.StreamChunk{Done: true}
	close(ch)
	return ch
}

func TestPipeline_SpeaksCompletedSentencesAsTheyStream(t *testing.T) {
	sim := media.NewSimulator()
	p := New(sim, &fakeInvoker{}, nil, nil, Config{}, nil)
	call := newTestCall()

	res := p.RunTurn(context.Background(), call, chunksOf("Hello there. ", "How are you?"), nil)

	if res.Outcome != OutcomeComplete {
		t.Fatalf("outcome = %v", res.Outcome)
	}
	transcript := sim.Transcript()
	if len(transcript) != 2 {
		t.Fatalf("expected 2 spoken sentences, got %d: %+v", len(transcript), transcript)
	}
	if transcript[0].Text != "Hello there." || transcript[1].Text != "How are you?" {
		t.Errorf("unexpected transcript: %+v", transcript)
	}
	if res.Text != "Hello there. How are you?" {
		t.Errorf("full text = %q", res.Text)
	}
	if !call.Messages[len(call.Messages)-1].Committed {
		t.Error("expected trailing assistant message to be committed at turn end")
	}
}

func TestPipeline_DispatchesToolCallAndAppendsToolMessage(t *testing.T) {
	sim := media.NewSimulator()
	invoker := &fakeInvoker{result: tools.Result{Content: "claim updated", Effect: tools.EffectNewClaim}}
	p := New(sim, invoker, nil, nil, Config{}, nil)
	call := newTestCall()

	ch := make(chan llmdriver.StreamChunk, 2)
	ch <- llmdriver.StreamChunk{ToolCallDelta: &llmdriver.ToolCallDelta{ID: "tc-1", Name: "update_claim", ArgumentsJSON: `{"field":"policy_number"}`}}
	ch <- llmdriver.StreamChunk{Done: true}
	close(ch)

	res := p.RunTurn(context.Background(), call, ch, nil)

	if len(invoker.calls) != 1 || invoker.calls[0] != "update_claim" {
		t.Fatalf("expected update_claim dispatched once, got %v", invoker.calls)
	}
	if len(res.Effects) != 1 || res.Effects[0] != tools.EffectNewClaim {
		t.Fatalf("expected EffectNewClaim, got %v", res.Effects)
	}
	found := false
	for _, m := range call.Messages {
		if m.Persona == callmodel.PersonaTool && m.Content == "claim updated" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a tool-persona message carrying the result, got %+v", call.Messages)
	}
}

func TestPipeline_MalformedToolCallArgumentsMarksResultAndAppendsErrorMessage(t *testing.T) {
	sim := media.NewSimulator()
	invoker := &fakeInvoker{}
	p := New(sim, invoker, nil, nil, Config{}, nil)
	call := newTestCall()

	ch := make(chan llmdriver.StreamChunk, 2)
	ch <- llmdriver.StreamChunk{ToolCallDelta: &llmdriver.ToolCallDelta{
		ID: "tc-1", Name: "update_claim", Error: "malformed tool-call arguments",
	}}
	ch <- llmdriver.StreamChunk{Done: true}
	close(ch)

	res := p.RunTurn(context.Background(), call, ch, nil)

	if !res.ToolCallMalformed {
		t.Fatal("expected ToolCallMalformed to be true")
	}
	if len(invoker.calls) != 0 {
		t.Fatalf("expected the tool to never be invoked on malformed arguments, got %v", invoker.calls)
	}
	found := false
	for _, m := range call.Messages {
		if m.Persona == callmodel.PersonaTool && m.ToolCalls[0].Error != "" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a tool-persona message carrying the malformed-arguments error, got %+v", call.Messages)
	}
}

func TestPipeline_SafetyFilterBlocksSentenceButTurnContinues(t *testing.T) {
	sim := media.NewSimulator()
	p := New(sim, &fakeInvoker{}, blockAllFilter{}, nil, Config{}, nil)
	call := newTestCall()

	res := p.RunTurn(context.Background(), call, chunksOf("This should be blocked."), nil)

	if res.Outcome != OutcomeComplete {
		t.Fatalf("outcome = %v", res.Outcome)
	}
	if !res.Filtered {
		t.Error("expected Filtered to be true")
	}
	if len(sim.Transcript()) != 0 {
		t.Errorf("expected nothing spoken, got %+v", sim.Transcript())
	}
	if !call.Messages[len(call.Messages)-1].Filtered {
		t.Error("expected the assistant message to be marked Filtered")
	}
}

func TestPipeline_TranslatesNonDefaultLanguageBeforeSpeaking(t *testing.T) {
	sim := media.NewSimulator()
	p := New(sim, &fakeInvoker{}, nil, upperTranslator{}, Config{}, nil)
	call := newTestCall()
	call.LangCurrentShortCode = "es"

	p.RunTurn(context.Background(), call, chunksOf("Hola."), nil)

	transcript := sim.Transcript()
	if len(transcript) != 1 || transcript[0].Text != "Hola. [es]" {
		t.Errorf("expected translated text spoken, got %+v", transcript)
	}
}

func TestPipeline_BargeInCancelsInFlightSynthesisAndReturnsImmediately(t *testing.T) {
	sim := media.NewSimulator()
	p := New(sim, &fakeInvoker{}, nil, nil, Config{}, nil)
	call := newTestCall()

	ch := make(chan llmdriver.StreamChunk)
	bargeIn := make(chan struct{})

	go func() {
		ch <- llmdriver.StreamChunk{Text: "Let me check that."}
		time.Sleep(5 * time.Millisecond)
		close(bargeIn)
	}()

	res := p.RunTurn(context.Background(), call, ch, bargeIn)

	if res.Outcome != OutcomeBargeIn {
		t.Fatalf("outcome = %v", res.Outcome)
	}
	transcript := sim.Transcript()
	if len(transcript) != 1 || !transcript[0].Cancelled {
		t.Errorf("expected the in-flight utterance to be cancelled, got %+v", transcript)
	}
}

func TestPipeline_HardTimeoutAbortsAndSpeaksApology(t *testing.T) {
	sim := media.NewSimulator()
	p := New(sim, &fakeInvoker{}, nil, nil, Config{HardTimeout: 10 * time.Millisecond, SoftTimeout: 5 * time.Millisecond}, nil)
	call := newTestCall()

	ch := make(chan llmdriver.StreamChunk) // never sent to, never closed

	res := p.RunTurn(context.Background(), call, ch, nil)

	if res.Outcome != OutcomeHardTimeout {
		t.Fatalf("outcome = %v", res.Outcome)
	}
	if res.Err == nil {
		t.Error("expected a non-nil error on hard timeout")
	}
	transcript := sim.Transcript()
	if len(transcript) == 0 {
		t.Fatal("expected at least the apology cue to be spoken")
	}
	if transcript[len(transcript)-1].Text != hardTimeoutCue {
		t.Errorf("expected the apology cue last, got %+v", transcript)
	}
}

// serializingInvoker tracks how many of its own calls were in flight at
// once, so a test can catch a Serializes tool running concurrently with
// itself.
type serializingInvoker struct {
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (s *serializingInvoker) Invoke(_ context.Context, _ *callmodel.Call, _ string, _ json.RawMessage) (tools.Result, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		max := s.maxInFlight.Load()
		if n <= max || s.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	return tools.Result{Content: "ok"}, nil
}

func (s *serializingInvoker) Serializes(string) bool { return true }

func TestPipeline_OnToolResultFiresAsSoonAsEachCallCompletes(t *testing.T) {
	sim := media.NewSimulator()
	invoker := &fakeInvoker{result: tools.Result{Content: "done", SpokenAck: "Sure thing."}}
	var gotName string
	var gotAck string
	p := New(sim, invoker, nil, nil, Config{
		OnToolResult: func(name string, result tools.Result) {
			gotName = name
			gotAck = result.SpokenAck
		},
	}, nil)
	call := newTestCall()

	ch := make(chan llmdriver.StreamChunk, 2)
	ch <- llmdriver.StreamChunk{ToolCallDelta: &llmdriver.ToolCallDelta{ID: "tc-1", Name: "update_claim", ArgumentsJSON: "{}"}}
	ch <- llmdriver.StreamChunk{Done: true}
	close(ch)

	p.RunTurn(context.Background(), call, ch, nil)

	if gotName != "update_claim" {
		t.Errorf("OnToolResult name = %q", gotName)
	}
	if gotAck != "Sure thing." {
		t.Errorf("OnToolResult ack = %q", gotAck)
	}
}

func TestPipeline_SerializesToolCallsThatMutateCallState(t *testing.T) {
	sim := media.NewSimulator()
	invoker := &serializingInvoker{}
	p := New(sim, invoker, nil, nil, Config{}, nil)
	call := newTestCall()

	ch := make(chan llmdriver.StreamChunk, 3)
	ch <- llmdriver.StreamChunk{ToolCallDelta: &llmdriver.ToolCallDelta{ID: "tc-1", Name: "update_claim", ArgumentsJSON: "{}"}}
	ch <- llmdriver.StreamChunk{ToolCallDelta: &llmdriver.ToolCallDelta{ID: "tc-2", Name: "update_claim", ArgumentsJSON: "{}"}}
	ch <- llmdriver.StreamChunk{Done: true}
	close(ch)

	p.RunTurn(context.Background(), call, ch, nil)

	if invoker.maxInFlight.Load() > 1 {
		t.Errorf("expected Serializes tool calls to never overlap, saw %d in flight at once", invoker.maxInFlight.Load())
	}
}
