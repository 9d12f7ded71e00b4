package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brightline-labs/voicecore/internal/callmodel"
	"github.com/brightline-labs/voicecore/internal/lease"
	"github.com/brightline-labs/voicecore/internal/llmdriver"
	"github.com/brightline-labs/voicecore/internal/media"
	"github.com/brightline-labs/voicecore/internal/pipeline"
	"github.com/brightline-labs/voicecore/internal/queue"
	"github.com/brightline-labs/voicecore/internal/tools"
	"github.com/brightline-labs/voicecore/pkg/logging"
)

func newTestScope(call *callmodel.Call, bridge media.Bridge, deps *Dependencies) *CallScope {
	return newCallScope(call, bridge, &lease.Lease{Key: "call:test", HolderToken: "tok"}, deps, testScopeConfig(), logging.Default())
}

func TestCallScope_RunGreeting_NoToolCallSpeaksCannedGreetingThenListens(t *testing.T) {
	call := callmodel.New(callmodel.Initiate{BotName: "Nova", LanguageDefault: "en"})
	bridge := media.NewSimulator()
	llm := &fakeLLM{completeFn: func(llmdriver.Tier) (llmdriver.LLMResponse, error) {
		return llmdriver.LLMResponse{}, nil
	}}
	scope := newTestScope(call, bridge, newTestDeps(newFakeStore(), &fakeLeaseManager{}, llm, nil))

	next, err := scope.runGreeting(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateListening, next)

	transcript := bridge.Transcript()
	require.Len(t, transcript, 1)
	require.Equal(t, greetingFor(call), transcript[0].Text)

	last := call.LastMessage()
	require.Equal(t, callmodel.PersonaAssistant, last.Persona)
	require.Equal(t, greetingFor(call), last.Content)
	require.True(t, last.Committed)
}

func TestCallScope_RunGreeting_ToolCallRunsAsFirstTurnAndEndsCall(t *testing.T) {
	call := callmodel.New(callmodel.Initiate{BotName: "Nova", LanguageDefault: "en"})
	bridge := media.NewSimulator()
	llm := &fakeLLM{completeFn: func(llmdriver.Tier) (llmdriver.LLMResponse, error) {
		return llmdriver.LLMResponse{
			ToolCalls: []llmdriver.ToolCallDelta{{ID: "tc-1", Name: "end_call", ArgumentsJSON: `{"customer_response":"Understood, goodbye."}`}},
		}, nil
	}}
	scope := newTestScope(call, bridge, newTestDeps(newFakeStore(), &fakeLeaseManager{}, llm, nil))

	next, err := scope.runGreeting(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateEnding, next)

	// The tool's spoken acknowledgment is played immediately via
	// pipeline.Config.OnToolResult, independent of the probe's own (empty)
	// streamed text — so it's the only thing on the simulator's transcript.
	transcript := bridge.Transcript()
	require.Len(t, transcript, 1)
	require.Equal(t, "Understood, goodbye.", transcript[0].Text)
}

func TestCallScope_RunGreeting_ProbeErrorFallsBackToCannedGreeting(t *testing.T) {
	call := callmodel.New(callmodel.Initiate{BotName: "Nova", LanguageDefault: "en"})
	bridge := media.NewSimulator()
	llm := &fakeLLM{completeFn: func(llmdriver.Tier) (llmdriver.LLMResponse, error) {
		return llmdriver.LLMResponse{}, context.DeadlineExceeded
	}}
	scope := newTestScope(call, bridge, newTestDeps(newFakeStore(), &fakeLeaseManager{}, llm, nil))

	next, err := scope.runGreeting(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateListening, next)
	require.Equal(t, greetingFor(call), bridge.Transcript()[0].Text)
}

func TestCallScope_HandleHumanTurn_PersistsTranscriptAndReturnsToListening(t *testing.T) {
	call := callmodel.New(callmodel.Initiate{LanguageDefault: "en"})
	bridge := media.NewSimulator()
	store := newFakeStore()
	llm := &fakeLLM{streamFn: func(llmdriver.Tier) (<-chan llmdriver.StreamChunk, error) {
		ch := make(chan llmdriver.StreamChunk, 2)
		ch <- llmdriver.StreamChunk{Text: "Sure, I can help with that."}
		ch <- llmdriver.StreamChunk{Done: true}
		close(ch)
		return ch, nil
	}}
	scope := newTestScope(call, bridge, newTestDeps(store, &fakeLeaseManager{}, llm, nil))

	next := scope.handleHumanTurn(context.Background(), "I need help with my claim.")

	require.Equal(t, StateListening, next)
	require.GreaterOrEqual(t, store.saveCalls, 2)

	transcript := bridge.Transcript()
	require.Len(t, transcript, 1)
	require.Equal(t, "Sure, I can help with that.", transcript[0].Text)

	require.Len(t, call.Messages, 2)
	require.Equal(t, callmodel.PersonaHuman, call.Messages[0].Persona)
	require.Equal(t, callmodel.PersonaAssistant, call.Messages[1].Persona)
}

func TestCallScope_HandleHumanTurn_StreamErrorEndsCall(t *testing.T) {
	call := callmodel.New(callmodel.Initiate{LanguageDefault: "en"})
	bridge := media.NewSimulator()
	llm := &fakeLLM{streamFn: func(llmdriver.Tier) (<-chan llmdriver.StreamChunk, error) {
		return nil, context.DeadlineExceeded
	}}
	scope := newTestScope(call, bridge, newTestDeps(newFakeStore(), &fakeLeaseManager{}, llm, nil))

	next := scope.handleHumanTurn(context.Background(), "hello?")

	require.Equal(t, StateEnding, next)
}

func TestCallScope_HandleScopeEvent_DuplicateFingerprintIsIgnored(t *testing.T) {
	call := callmodel.New(callmodel.Initiate{LanguageDefault: "en"})
	call.MarkProcessed("call-1:evt-1")
	scope := newTestScope(call, media.NewSimulator(), newTestDeps(newFakeStore(), &fakeLeaseManager{}, &fakeLLM{}, nil))

	next, done := scope.handleScopeEvent(context.Background(), scopeEvent{
		fingerprint: "call-1:evt-1",
		media:       &queue.MediaEvent{Kind: queue.MediaHangup},
	})

	require.False(t, done)
	require.Equal(t, StateListening, next)
}

func TestCallScope_HandleScopeEvent_MediaHangupEndsCall(t *testing.T) {
	call := callmodel.New(callmodel.Initiate{LanguageDefault: "en"})
	scope := newTestScope(call, media.NewSimulator(), newTestDeps(newFakeStore(), &fakeLeaseManager{}, &fakeLLM{}, nil))

	next, done := scope.handleScopeEvent(context.Background(), scopeEvent{
		fingerprint: "call-1:evt-2",
		media:       &queue.MediaEvent{Kind: queue.MediaHangup},
	})

	require.True(t, done)
	require.Equal(t, StateEnding, next)
}

func TestCallScope_HandleScopeEvent_InboundSMSAppendsTranscriptAndSpeaksCue(t *testing.T) {
	call := callmodel.New(callmodel.Initiate{LanguageDefault: "en"})
	bridge := media.NewSimulator()
	scope := newTestScope(call, bridge, newTestDeps(newFakeStore(), &fakeLeaseManager{}, &fakeLLM{}, nil))

	next, done := scope.handleScopeEvent(context.Background(), scopeEvent{
		fingerprint: "call-1:evt-3",
		sms:         &queue.InboundSMS{From: "+15551234567", Body: "Can you also text me the address?", ReceivedAt: time.Now()},
	})

	require.False(t, done)
	require.Equal(t, StateListening, next)

	last := call.LastMessage()
	require.Equal(t, callmodel.ActionSMS, last.Action)
	require.Equal(t, callmodel.PersonaHuman, last.Persona)
	require.Equal(t, "Can you also text me the address?", last.Content)

	transcript := bridge.Transcript()
	require.Len(t, transcript, 1)
	require.Equal(t, smsReceivedCue, transcript[0].Text)
}

func TestCallScope_RenewLease_CancelsScopeOnRenewalFailure(t *testing.T) {
	leases := &fakeLeaseManager{renewErr: lease.ErrLost}
	call := callmodel.New(callmodel.Initiate{LanguageDefault: "en"})
	cfg := orchestratorConfig{leaseTTL: 20 * time.Millisecond, scopeMailboxSize: 4}
	scope := newCallScope(call, media.NewSimulator(), &lease.Lease{}, newTestDeps(newFakeStore(), leases, &fakeLLM{}, nil), cfg, logging.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		scope.renewLease(ctx, cancel)
		close(done)
	}()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected renewLease to cancel the scope after a failed renewal")
	}
	<-done
	require.GreaterOrEqual(t, leases.renewCalls, 1)
}

func TestCallScope_RunEnding_HangupSpeaksClosingCueAndCallsController(t *testing.T) {
	controller := &fakeController{}
	bridge := media.NewSimulator()
	call := callmodel.New(callmodel.Initiate{LanguageDefault: "en"})
	call.Messages = append(call.Messages, callmodel.Message{
		Action: callmodel.ActionTalk, Persona: callmodel.PersonaAssistant, Content: "Call ended.", Committed: true,
		ToolCalls: []callmodel.ToolCall{{ID: "tc-1", Name: "end_call"}},
	})
	scope := newTestScope(call, bridge, newTestDeps(newFakeStore(), &fakeLeaseManager{}, &fakeLLM{}, controller))

	scope.runEnding(context.Background())

	require.Equal(t, 1, controller.hangupCalls)
	require.Equal(t, 0, controller.transferCalls)
	require.NotNil(t, call.Next)
	require.Equal(t, callmodel.NextCaseClosed, call.Next.Action)

	transcript := bridge.Transcript()
	require.Equal(t, hangupClosingCue, transcript[len(transcript)-1].Text)
}

func TestCallScope_RunEnding_TransferUsesEscalatedDisposition(t *testing.T) {
	controller := &fakeController{}
	bridge := media.NewSimulator()
	call := callmodel.New(callmodel.Initiate{LanguageDefault: "en"})
	call.Messages = append(call.Messages, callmodel.Message{
		Action: callmodel.ActionTalk, Persona: callmodel.PersonaAssistant, Content: "Transferring.", Committed: true,
		ToolCalls: []callmodel.ToolCall{{ID: "tc-1", Name: "talk_to_human"}},
	})
	scope := newTestScope(call, bridge, newTestDeps(newFakeStore(), &fakeLeaseManager{}, &fakeLLM{}, controller))

	scope.runEnding(context.Background())

	require.Equal(t, 0, controller.hangupCalls)
	require.Equal(t, 1, controller.transferCalls)
	require.NotNil(t, call.Next)
	require.Equal(t, callmodel.NextCaseEscalated, call.Next.Action)

	transcript := bridge.Transcript()
	require.Equal(t, transferClosingCue, transcript[len(transcript)-1].Text)
}

func TestCallScope_CloseCall_EnqueuesPostCallJob(t *testing.T) {
	call := callmodel.New(callmodel.Initiate{LanguageDefault: "en"})
	call.InProgress = true
	deps := newTestDeps(newFakeStore(), &fakeLeaseManager{}, &fakeLLM{}, nil)
	postCall := queue.NewMemoryQueue(4)
	deps.Queues.PostCall = postCall
	scope := newTestScope(call, media.NewSimulator(), deps)

	scope.closeCall(context.Background())

	require.False(t, call.InProgress)
	require.Equal(t, StateClosed, scope.state)

	msgs, err := postCall.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Body, call.CallID.String())
}

func TestCallScope_HandleTurnResult_NewClaimEffectFinalizesAndStartsNewCall(t *testing.T) {
	call := callmodel.New(callmodel.Initiate{CallerPhoneNumber: "+15551234567", LanguageDefault: "en"})
	call.Claim["policy_number"] = "ABC123"
	store := newFakeStore()
	leases := &fakeLeaseManager{}
	scope := newTestScope(call, media.NewSimulator(), newTestDeps(store, leases, &fakeLLM{}, nil))

	oldCallID := call.CallID

	next, err := scope.handleTurnResult(context.Background(), pipeline.TurnResult{
		Outcome: pipeline.OutcomeComplete,
		Effects: []tools.Effect{tools.EffectNewClaim},
	}, nil)

	require.NoError(t, err)
	require.Equal(t, StateListening, next)

	require.NotEqual(t, oldCallID, scope.call.CallID, "expected a new Call to be started")
	require.Empty(t, scope.call.Claim)
	require.Empty(t, scope.call.Messages)
	require.Equal(t, "+15551234567", scope.call.Initiate.CallerPhoneNumber)

	old, err := store.GetByID(context.Background(), oldCallID)
	require.NoError(t, err)
	require.NotNil(t, old.Next)
	require.Equal(t, callmodel.NextCaseClosed, old.Next.Action)
	require.False(t, old.InProgress)

	require.GreaterOrEqual(t, leases.releaseCalls, 1)
}

func TestCallScope_HandleHumanTurn_MalformedToolCallSpeaksApologyAndRetriesOnce(t *testing.T) {
	call := callmodel.New(callmodel.Initiate{LanguageDefault: "en"})
	bridge := media.NewSimulator()
	streamCalls := 0
	llm := &fakeLLM{streamFn: func(llmdriver.Tier) (<-chan llmdriver.StreamChunk, error) {
		streamCalls++
		ch := make(chan llmdriver.StreamChunk, 2)
		if streamCalls == 1 {
			ch <- llmdriver.StreamChunk{ToolCallDelta: &llmdriver.ToolCallDelta{ID: "tc-1", Name: "update_claim", Error: "malformed tool-call arguments"}}
		} else {
			ch <- llmdriver.StreamChunk{Text: "Got it, updating now."}
		}
		ch <- llmdriver.StreamChunk{Done: true}
		close(ch)
		return ch, nil
	}}
	scope := newTestScope(call, bridge, newTestDeps(newFakeStore(), &fakeLeaseManager{}, llm, nil))

	next := scope.handleHumanTurn(context.Background(), "update my address please")

	require.Equal(t, StateListening, next)
	require.Equal(t, 2, streamCalls, "expected the turn's completion to be re-issued exactly once")

	transcript := bridge.Transcript()
	require.GreaterOrEqual(t, len(transcript), 1)
	require.Equal(t, toolCallRepairCue, transcript[0].Text)
}

func TestCallScope_RunTurn_BargeInCancelsSpeechAndReturnsBargeInOutcome(t *testing.T) {
	call := callmodel.New(callmodel.Initiate{LanguageDefault: "en"})
	bridge := media.NewSimulator()
	llm := &fakeLLM{streamFn: func(llmdriver.Tier) (<-chan llmdriver.StreamChunk, error) {
		ch := make(chan llmdriver.StreamChunk)
		go func() {
			ch <- llmdriver.StreamChunk{Text: "Let me look into that for you"}
			// deliberately never sent Done — the caller barges in first.
		}()
		return ch, nil
	}}
	scope := newTestScope(call, bridge, newTestDeps(newFakeStore(), &fakeLeaseManager{}, llm, nil))

	go func() {
		time.Sleep(20 * time.Millisecond)
		bridge.SayPartial(context.Background(), "wait, actually")
	}()

	result, err := scope.runTurn(context.Background())
	require.NoError(t, err)
	require.Equal(t, pipeline.OutcomeBargeIn, result.Outcome)
}
