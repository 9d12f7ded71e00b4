package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brightline-labs/voicecore/internal/callmodel"
	"github.com/brightline-labs/voicecore/internal/callstore"
	"github.com/brightline-labs/voicecore/internal/lease"
	"github.com/brightline-labs/voicecore/internal/llmdriver"
	"github.com/brightline-labs/voicecore/internal/media"
	"github.com/brightline-labs/voicecore/internal/pipeline"
	"github.com/brightline-labs/voicecore/internal/prompt"
	"github.com/brightline-labs/voicecore/internal/queue"
	"github.com/brightline-labs/voicecore/internal/tools"
	"github.com/brightline-labs/voicecore/internal/turndetect"
	"github.com/brightline-labs/voicecore/pkg/logging"
)

// Pre-authored utterances the caller hears instead of raw error text.
const (
	idleReengagementCue = "Are you still there? Take your time."
	transferClosingCue  = "One moment, I'm connecting you with someone who can help."
	hangupClosingCue    = "Thanks for calling. Goodbye."
	fatalApologyCue     = "I'm sorry, something went wrong on my end. Someone will follow up with you."
	smsReceivedCue      = "Got your text, one moment."
	toolCallRepairCue   = "Sorry, let me try that again."
)

func greetingFor(call *callmodel.Call) string {
	name := call.Initiate.BotName
	if name == "" {
		name = "the assistant"
	}
	company := call.Initiate.BotCompany
	if company != "" {
		return fmt.Sprintf("Hi, this is %s from %s. How can I help you today?", name, company)
	}
	return fmt.Sprintf("Hi, this is %s. How can I help you today?", name)
}

// scopeEvent is one item forwarded from the Orchestrator's queue consumers
// into a running CallScope's mailbox.
type scopeEvent struct {
	fingerprint string
	media       *queue.MediaEvent
	sms         *queue.InboundSMS
}

// CallScope is one Call's entire lifetime: a long-lived state machine
// running as a single goroutine that is the sole mutator of its Call, so no
// lock is needed on the Call itself.
type CallScope struct {
	call   *callmodel.Call
	bridge media.Bridge
	held   *lease.Lease

	deps   *Dependencies
	cfg    orchestratorConfig
	logger *logging.Logger

	detector *turndetect.Detector
	pipe     *pipeline.Pipeline

	events chan scopeEvent
	state  State

	lastSaved *callmodel.Call

	// rekey is set by the Orchestrator right after it registers this scope,
	// so a mid-call new_claim swap can move the scope to a new map key
	// without the scope needing to know about sync.Map itself. Left nil in
	// tests that exercise the scope directly.
	rekey func(oldCallID, newCallID string)
}

func newCallScope(call *callmodel.Call, bridge media.Bridge, held *lease.Lease, deps *Dependencies, cfg orchestratorConfig, logger *logging.Logger) *CallScope {
	snap := deps.ConfigSnap()
	thresholds := turndetect.Thresholds{
		VADSilenceTimeout:   time.Duration(snap.VADSilenceTimeoutMs) * time.Millisecond,
		VADCutoffTimeout:    time.Duration(snap.VADCutoffTimeoutMs) * time.Millisecond,
		PhoneSilenceTimeout: time.Duration(snap.PhoneSilenceTimeoutSec) * time.Second,
	}

	s := &CallScope{
		call: call, bridge: bridge, held: held,
		deps: deps, cfg: cfg, logger: logger,
		detector:  turndetect.NewDetector(thresholds),
		events:    make(chan scopeEvent, cfg.scopeMailboxSize),
		state:     StateIdle,
		lastSaved: cloneCall(call),
	}

	if bridge != nil {
		s.pipe = pipeline.New(bridge, deps.Tools, deps.Safety, deps.Translator, pipeline.Config{
			SoftTimeout:  time.Duration(snap.AnswerSoftTimeoutSec) * time.Second,
			HardTimeout:  time.Duration(snap.AnswerHardTimeoutSec) * time.Second,
			OnToolResult: s.speakToolAck,
		}, logger)
	}
	return s
}

// speakToolAck is pipeline.Config.OnToolResult: it plays a tool's SpokenAck
// cue immediately, independent of the turn's own sentence-by-sentence
// speech.
func (s *CallScope) speakToolAck(_ string, result tools.Result) {
	if result.SpokenAck == "" || s.bridge == nil {
		return
	}
	if _, err := s.bridge.Synthesize(context.Background(), media.SynthesizeRequest{
		Text: result.SpokenAck, Language: s.call.LangCurrentShortCode,
	}); err != nil {
		s.logger.Warn("orchestrator: failed to speak tool acknowledgment", "call_id", s.call.CallID, "error", err.Error())
	}
}

// run drives the state machine end to end: Idle is entered implicitly by
// the caller already having acquired the lease and saved the call, so run
// starts at Greeting and returns once the call reaches Closed or its scope
// is cancelled (context cancellation, lease loss, graceful shutdown).
func (s *CallScope) run(parentCtx context.Context) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()
	defer s.releaseLease(context.Background())

	go s.renewLease(ctx, cancel)

	s.state = StateGreeting
	next, err := s.runGreeting(ctx)
	if err != nil {
		s.logger.Error("orchestrator: greeting turn failed", "call_id", s.call.CallID, "error", err.Error())
		next = StateEnding
	}
	s.state = next

	for {
		if ctx.Err() != nil {
			s.logger.Warn("orchestrator: call scope cancelled before reaching Closed", "call_id", s.call.CallID, "state", string(s.state))
			return
		}
		switch s.state {
		case StateListening:
			s.state = s.runListening(ctx)
		case StateEnding:
			s.runEnding(ctx)
			s.closeCall(context.Background())
			return
		default:
			return
		}
	}
}

// abandon is called by Orchestrator.Shutdown on scopes still running past
// the drain deadline: it releases the lease without attempting any further
// TTS or persistence, so another worker resumes the call from last-saved
// state.
func (s *CallScope) abandon(ctx context.Context) {
	s.releaseLease(ctx)
}

func (s *CallScope) releaseLease(ctx context.Context) {
	if s.held == nil {
		return
	}
	if err := s.deps.Leases.Release(ctx, s.held); err != nil {
		s.logger.Warn("orchestrator: failed to release call lease", "call_id", s.call.CallID, "error", err.Error())
	}
}

func (s *CallScope) renewLease(ctx context.Context, cancel context.CancelFunc) {
	interval := s.cfg.leaseTTL / 2
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.deps.Leases.Renew(ctx, s.held, s.cfg.leaseTTL); err != nil {
				s.logger.Error("orchestrator: lease renewal failed, cancelling call scope", "call_id", s.call.CallID, "error", err.Error())
				cancel()
				return
			}
		}
	}
}

// runGreeting implements the Idle→Greeting transition plus the resolved
// Open Question (i): a short non-streaming probe turn decides whether the
// model wants to act immediately (a tool call) instead of hearing a canned
// hello. No tool call means speak the greeting verbatim and move to
// Listening; a tool call means the probe *is* the first real turn, replayed
// through the Response Pipeline exactly like any other turn.
func (s *CallScope) runGreeting(ctx context.Context) (State, error) {
	req := s.buildRequest()
	tier := llmdriver.TierFast
	resp, err := s.deps.LLM.Complete(ctx, req, tier)
	if err != nil || len(resp.ToolCalls) == 0 {
		if err != nil {
			s.logger.Warn("orchestrator: greeting probe failed, falling back to canned greeting", "call_id", s.call.CallID, "error", err.Error())
		}
		if s.bridge != nil {
			if _, serr := s.bridge.Synthesize(ctx, media.SynthesizeRequest{Text: greetingFor(s.call), Language: s.call.LangCurrentShortCode}); serr != nil {
				return StateEnding, serr
			}
		}
		s.call.Messages = append(s.call.Messages, callmodel.Message{
			CreatedAt: time.Now().UTC(), Action: callmodel.ActionTalk,
			Persona: callmodel.PersonaAssistant, Content: greetingFor(s.call), Committed: true,
		})
		if perr := s.persist(ctx); perr != nil {
			return StateEnding, perr
		}
		return StateListening, nil
	}

	result := s.pipe.RunTurn(ctx, s.call, chunksFromResponse(resp), nil)
	return s.handleTurnResult(ctx, result, nil)
}

// runListening implements the Listening state: it is the only place this
// scope reads from the Media Bridge's recognition stream while no turn is
// in flight (runTurn's own watcher takes over that channel once Thinking
// starts), feeding every event to the Turn Detector and reacting to its
// signals plus whatever media/sms events the Orchestrator forwards into the
// mailbox.
func (s *CallScope) runListening(ctx context.Context) State {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var events <-chan media.RecognitionEvent
	if s.bridge != nil {
		events = s.bridge.Events()
	}

	for {
		select {
		case <-ctx.Done():
			return StateEnding

		case evt, ok := <-events:
			if !ok {
				return StateEnding
			}
			for _, r := range s.detector.HandleEvent(turndetect.Event{
				Kind: turndetect.Kind(evt.Kind), Text: evt.Text,
				DetectedLanguage: evt.DetectedLanguageShortCode, At: time.Now(),
			}) {
				if next, done := s.handleDetectorSignal(ctx, r); done {
					return next
				}
			}

		case <-ticker.C:
			for _, r := range s.detector.Tick(time.Now()) {
				if next, done := s.handleDetectorSignal(ctx, r); done {
					return next
				}
			}

		case se := <-s.events:
			if next, done := s.handleScopeEvent(ctx, se); done {
				return next
			}
		}
	}
}

func (s *CallScope) handleDetectorSignal(ctx context.Context, r turndetect.Result) (State, bool) {
	switch r.Signal {
	case turndetect.SignalTurnEnded:
		next := s.handleHumanTurn(ctx, r.Text)
		return next, next != StateListening
	case turndetect.SignalIdleWarn:
		s.speakCue(ctx, idleReengagementCue)
	case turndetect.SignalSilenceTimeout:
		s.logger.Info("orchestrator: ending call after repeated unanswered re-engagement cues", "call_id", s.call.CallID)
		s.call.Next = &callmodel.Next{Action: callmodel.NextSilence, Justification: "caller did not respond after repeated re-engagement attempts"}
		return StateEnding, true
	}
	return StateListening, false
}

func (s *CallScope) handleScopeEvent(ctx context.Context, se scopeEvent) (State, bool) {
	if se.fingerprint != "" && s.call.HasProcessed(se.fingerprint) {
		return StateListening, false
	}
	switch {
	case se.media != nil:
		s.call.MarkProcessed(se.fingerprint)
		if se.media.Kind == queue.MediaHangup {
			return StateEnding, true
		}
		_ = s.persist(ctx)
	case se.sms != nil:
		// Open Question (ii) resolved: a mid-call inbound SMS is appended to
		// the transcript silently — the model sees it on its next turn — but
		// the caller still hears a short spoken cue so the interruption
		// isn't invisible.
		s.call.Messages = append(s.call.Messages, callmodel.Message{
			CreatedAt: se.sms.ReceivedAt, Action: callmodel.ActionSMS,
			Persona: callmodel.PersonaHuman, Content: se.sms.Body, Committed: true,
		})
		s.call.MarkProcessed(se.fingerprint)
		s.speakCue(ctx, smsReceivedCue)
		_ = s.persist(ctx)
	}
	return StateListening, false
}

func (s *CallScope) speakCue(ctx context.Context, text string) {
	if s.bridge == nil {
		return
	}
	if _, err := s.bridge.Synthesize(ctx, media.SynthesizeRequest{Text: text, Language: s.call.LangCurrentShortCode}); err != nil {
		s.logger.Warn("orchestrator: failed to speak cue", "call_id", s.call.CallID, "error", err.Error())
	}
}

// handleHumanTurn implements Listening→Thinking→(Speaking)→Listening|Ending:
// append the human turn, persist, run the LLM/TTS turn, then decide the next
// state from its outcome.
func (s *CallScope) handleHumanTurn(ctx context.Context, text string) State {
	s.call.Messages = append(s.call.Messages, callmodel.Message{
		CreatedAt: time.Now().UTC(), Action: callmodel.ActionTalk,
		Persona: callmodel.PersonaHuman, Content: text, Committed: true,
	})
	if err := s.persist(ctx); err != nil {
		s.logger.Error("orchestrator: failed to persist human turn, ending call", "call_id", s.call.CallID, "error", err.Error())
		return StateEnding
	}

	s.state = StateThinking
	result, err := s.runTurn(ctx)
	if err == nil && result.ToolCallMalformed {
		// The model's tool call was still malformed after llmdriver's repair
		// pass. Apologize and re-issue the completion for this turn once;
		// the failed attempt's tool-result error is already on the
		// transcript, so the retried completion sees it and can self-correct.
		s.speakCue(ctx, toolCallRepairCue)
		result, err = s.runTurn(ctx)
	}
	next, herr := s.handleTurnResult(ctx, result, err)
	if herr != nil {
		s.logger.Error("orchestrator: turn handling failed", "call_id", s.call.CallID, "error", herr.Error())
	}
	return next
}

// runTurn implements Thinking/Speaking: it starts a streaming completion and
// hands the stream to the Response Pipeline, running a dedicated watcher
// against the Media Bridge's recognition stream for the duration of the
// turn so a barge-in can be detected while the turn is speaking, without
// ever having two concurrent readers on the recognition stream.
func (s *CallScope) runTurn(ctx context.Context) (pipeline.TurnResult, error) {
	req := s.buildRequest()
	tier := llmdriver.TierFast
	if s.deps.ConfigSnap().SlowLLMForChat {
		tier = llmdriver.TierSlow
	}

	chunks, err := s.deps.LLM.CompleteStream(ctx, req, tier)
	if err != nil {
		return pipeline.TurnResult{}, err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	var bargeIn chan struct{}
	if s.bridge != nil {
		bargeIn = make(chan struct{})
		s.detector.SetSpeaking(true, time.Now())
		go s.watchForBargeIn(watchCtx, bargeIn)
	}

	result := s.pipe.RunTurn(ctx, s.call, chunks, bargeIn)
	if s.bridge != nil {
		s.detector.SetSpeaking(false, time.Now())
	}
	return result, nil
}

func (s *CallScope) watchForBargeIn(ctx context.Context, out chan<- struct{}) {
	fired := false
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.bridge.Events():
			if !ok {
				return
			}
			for _, r := range s.detector.HandleEvent(turndetect.Event{
				Kind: turndetect.Kind(evt.Kind), Text: evt.Text,
				DetectedLanguage: evt.DetectedLanguageShortCode, At: time.Now(),
			}) {
				if r.Signal == turndetect.SignalBargeIn && !fired {
					fired = true
					close(out)
				}
			}
		}
	}
}

// handleTurnResult implements the tool_call(end_call)/tool_call(talk_to_human)
// transitions out of Thinking, and the persistence discipline's point (a):
// Call is saved at the end of every assistant turn.
func (s *CallScope) handleTurnResult(ctx context.Context, result pipeline.TurnResult, turnErr error) (State, error) {
	if turnErr != nil {
		s.speakCue(ctx, fatalApologyCue)
		return StateEnding, turnErr
	}
	if err := s.persist(ctx); err != nil {
		return StateEnding, err
	}

	ending := false
	newClaim := false
	for _, eff := range result.Effects {
		switch eff {
		case tools.EffectEndCall, tools.EffectTransfer:
			ending = true
		case tools.EffectSendSMS:
			s.logger.Debug("orchestrator: turn sent an outbound sms", "call_id", s.call.CallID)
		case tools.EffectNewClaim:
			newClaim = true
		}
	}
	if newClaim {
		if err := s.startNewClaim(ctx); err != nil {
			s.logger.Error("orchestrator: failed to start new claim, ending call", "call_id", s.call.CallID, "error", err.Error())
			return StateEnding, err
		}
	}
	if ending || result.Outcome == pipeline.OutcomeHardTimeout || result.Outcome == pipeline.OutcomeStreamError {
		return StateEnding, nil
	}
	return StateListening, nil
}

// startNewClaim implements the new_claim tool's EffectNewClaim: finalize the
// current Call and begin a fresh one sharing the same caller identity,
// acquiring a new lease and persisting both — the same seeding the
// Orchestrator does for an incoming_call event in startCall, except this
// swap happens mid-call, on this scope's own goroutine, with the Media
// Bridge connection carrying straight through underneath it.
func (s *CallScope) startNewClaim(ctx context.Context) error {
	s.call.Next = &callmodel.Next{Action: callmodel.NextCaseClosed, Justification: "caller started a new claim for a different subject"}
	s.call.InProgress = false
	if err := s.persist(ctx); err != nil {
		return fmt.Errorf("orchestrator: failed to finalize call before starting new claim: %w", err)
	}

	oldCallID := s.call.CallID.String()
	oldHeld := s.held

	newCall := callmodel.New(s.call.Initiate)
	held, err := s.deps.Leases.Acquire(ctx, lease.CallKey(newCall.CallID.String()), s.cfg.leaseTTL)
	if err != nil {
		return fmt.Errorf("orchestrator: failed to acquire lease for new claim: %w", err)
	}
	if err := s.deps.Store.Save(ctx, newCall); err != nil {
		_ = s.deps.Leases.Release(ctx, held)
		return fmt.Errorf("orchestrator: failed to persist new claim's call: %w", err)
	}

	s.call = newCall
	s.held = held
	s.lastSaved = cloneCall(newCall)

	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveCallStarted(newCall.Initiate.LanguageDefault)
	}
	if s.rekey != nil {
		s.rekey(oldCallID, newCall.CallID.String())
	}
	if err := s.deps.Leases.Release(ctx, oldHeld); err != nil {
		s.logger.Warn("orchestrator: failed to release superseded call lease", "call_id", oldCallID, "error", err.Error())
	}
	return nil
}

// runEnding implements Ending: speak a closing line appropriate to why the
// call is ending, then schedule the hangup/transfer action via the Call
// Controller.
func (s *CallScope) runEnding(ctx context.Context) {
	last := s.call.LastMessage()
	transferring := last != nil && len(last.ToolCalls) > 0 && last.ToolCalls[len(last.ToolCalls)-1].Name == "talk_to_human"

	if transferring {
		s.speakCue(ctx, transferClosingCue)
		if s.deps.Controller != nil {
			if err := s.deps.Controller.Transfer(ctx, s.call); err != nil {
				s.logger.Error("orchestrator: transfer action failed", "call_id", s.call.CallID, "error", err.Error())
			}
		}
		s.call.Next = &callmodel.Next{Action: callmodel.NextCaseEscalated}
	} else {
		s.speakCue(ctx, hangupClosingCue)
		if s.deps.Controller != nil {
			if err := s.deps.Controller.Hangup(ctx, s.call); err != nil {
				s.logger.Error("orchestrator: hangup action failed", "call_id", s.call.CallID, "error", err.Error())
			}
		}
		if s.call.Next == nil {
			s.call.Next = &callmodel.Next{Action: callmodel.NextCaseClosed}
		}
	}
}

// closeCall implements the Ending→Closed transition: persist the final
// state and enqueue the post-call and training jobs.
func (s *CallScope) closeCall(ctx context.Context) {
	s.call.InProgress = false
	if err := s.persist(ctx); err != nil {
		s.logger.Error("orchestrator: failed to persist closed call", "call_id", s.call.CallID, "error", err.Error())
	}
	s.state = StateClosed
	s.enqueuePostCallJobs(ctx)
}

func (s *CallScope) enqueuePostCallJobs(ctx context.Context) {
	body, err := json.Marshal(queue.PostCallJob{CallID: s.call.CallID.String()})
	if err != nil {
		s.logger.Error("orchestrator: failed to encode post-call job", "call_id", s.call.CallID, "error", err.Error())
		return
	}
	if q := s.deps.Queues.Get(queue.PostCall); q != nil {
		if err := q.Send(ctx, string(body)); err != nil {
			s.logger.Error("orchestrator: failed to enqueue post-call job", "call_id", s.call.CallID, "error", err.Error())
		}
	}
	if q := s.deps.Queues.Get(queue.Training); q != nil && len(s.call.Messages) > 2 {
		if err := q.Send(ctx, string(body)); err != nil {
			s.logger.Error("orchestrator: failed to enqueue training job", "call_id", s.call.CallID, "error", err.Error())
		}
	}
}

// buildRequest assembles the current prompt and tool set into an LLM
// request, selecting the model id for whichever tier ends up serving it;
// TieredClient.Complete/CompleteStream pick the tier itself from the
// call site, so both model ids are always offered and the unused one is
// simply ignored by whichever provider doesn't receive the call.
func (s *CallScope) buildRequest() llmdriver.LLMRequest {
	messages := prompt.Assemble(s.call, prompt.TurnContext{})
	req := llmdriver.LLMRequest{
		Model:     s.deps.FastModelID,
		MaxTokens: 1024,
	}
	for _, m := range messages {
		switch m.Role {
		case prompt.RoleSystem:
			req.System = append(req.System, m.Content)
		default:
			req.Messages = append(req.Messages, llmdriver.ChatMessage{
				Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID,
			})
		}
	}
	for _, d := range toolDescriptors(s.deps.Tools) {
		req.Tools = append(req.Tools, d)
	}
	return req
}

// toolDescriptors narrows the ToolInvoker down to whatever optional
// descriptor lister it exposes; pipeline.ToolInvoker itself has no such
// method since the Response Pipeline never needs tool schemas, only
// dispatch, so this adapts at the one call site that does.
func toolDescriptors(invoker pipeline.ToolInvoker) []llmdriver.ToolSpec {
	lister, ok := invoker.(interface{ Descriptors() []tools.Descriptor })
	if !ok {
		return nil
	}
	descs := lister.Descriptors()
	out := make([]llmdriver.ToolSpec, 0, len(descs))
	for _, d := range descs {
		out = append(out, llmdriver.ToolSpec{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return out
}

// chunksFromResponse replays a non-streaming LLMResponse as a StreamChunk
// feed, so the greeting probe's tool-call path can run through the exact
// same Response Pipeline machinery as every other turn instead of
// duplicating its dispatch/speak/append logic.
func chunksFromResponse(resp llmdriver.LLMResponse) <-chan llmdriver.StreamChunk {
	ch := make(chan llmdriver.StreamChunk, len(resp.ToolCalls)+2)
	if resp.Text != "" {
		ch <- llmdriver.StreamChunk{Text: resp.Text}
	}
	for _, tc := range resp.ToolCalls {
		tc := tc
		ch <- llmdriver.StreamChunk{ToolCallDelta: &tc}
	}
	ch <- llmdriver.StreamChunk{Done: true}
	close(ch)
	return ch
}

// persist saves the call with conflict retry: up to three attempts,
// reloading on every conflict and structurally re-applying this scope's own
// delta onto the freshly reloaded record, since no other actor but this
// goroutine is allowed to have produced that delta. A fourth consecutive
// conflict is treated as an operator-visible incident: persist returns an
// error and the caller moves the call to Ending.
func (s *CallScope) persist(ctx context.Context) error {
	baseline := s.lastSaved
	for attempt := 0; attempt < 3; attempt++ {
		s.call.UpdatedAt = time.Now().UTC()
		err := s.deps.Store.Save(ctx, s.call)
		if err == nil {
			s.lastSaved = cloneCall(s.call)
			return nil
		}
		if !callstore.IsConflict(err) {
			return err
		}

		reloaded, rerr := s.deps.Store.GetByID(ctx, s.call.CallID)
		if rerr != nil {
			return rerr
		}
		d := diffCall(baseline, s.call)
		preDelta := cloneCall(reloaded)
		applyCallDelta(reloaded, d)
		s.call = reloaded
		baseline = preDelta
		s.logger.Warn("orchestrator: save conflict, reloaded and reapplied delta", "call_id", s.call.CallID, "attempt", attempt+1)
	}
	ferr := fmt.Errorf("orchestrator: call %s had 3 consecutive save conflicts, aborting", s.call.CallID)
	if s.deps.Incidents != nil {
		if nerr := s.deps.Incidents.NotifyIncident(ctx, "call save conflict storm",
			fmt.Sprintf("call %s had 3 consecutive save conflicts and was aborted", s.call.CallID)); nerr != nil {
			s.logger.Error("orchestrator: failed to raise incident for save conflict storm", "call_id", s.call.CallID, "error", nerr.Error())
		}
	}
	return ferr
}
