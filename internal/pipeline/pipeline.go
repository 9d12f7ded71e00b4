// Package pipeline implements the Response Pipeline: it consumes one
// LLM turn's StreamChunk feed, carves it into sentences as they complete,
// runs each sentence through translation and content-safety checks before
// handing it to the Media Bridge for synthesis, and concurrently dispatches
// any tool calls the model emitted back into the Call's transcript.
//
// A tool's SpokenAck is not this package's concern — tool results stay out
// of the spoken stream and are woven into the next LLM turn as transcript
// text instead; the orchestrator plays SpokenAck itself, immediately and
// independently of whatever sentence this pipeline happens to be
// synthesizing. This package only ever speaks the model's own streamed
// text, plus its own soft/hard-timeout cues.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/brightline-labs/voicecore/internal/callmodel"
	"github.com/brightline-labs/voicecore/internal/llmdriver"
	"github.com/brightline-labs/voicecore/internal/media"
	"github.com/brightline-labs/voicecore/internal/tools"
	"github.com/brightline-labs/voicecore/pkg/logging"
)

const (
	// maxSentenceBufferChars forces a cut even without a terminator, so a
	// run-on reply with no punctuation still reaches the caller's ear.
	maxSentenceBufferChars = 120

	defaultSoftTimeout = 4 * time.Second
	defaultHardTimeout = 15 * time.Second

	stillWorkingCue = "I'm still working on that, one moment."
	hardTimeoutCue  = "I'm sorry, I'm having trouble with that right now."
)

// Translator converts text from the LLM's pivot language to the caller's
// current language. Implementations are injected so this package stays
// decoupled from whichever translation provider is configured, matching the
// DocumentSearcher/SMSEnqueuer seams in internal/tools.
type Translator interface {
	Translate(ctx context.Context, text, fromLang, toLang string) (string, error)
}

// SafetyFilter is the external content-safety check run on each completed
// sentence before synthesis. A sentence it blocks is dropped from the
// spoken stream and the owning message is marked Filtered, but the turn
// continues.
type SafetyFilter interface {
	Allow(ctx context.Context, text string) (bool, error)
}

// ToolInvoker is the narrow slice of tools.Registry this package calls
// through, decoupled the same way for testability. Serializes reports
// whether a tool's handler mutates Call state and therefore must not run
// concurrently with another Serializes call for the same Call — RunTurn is
// the orchestrator referred to in tools.Handler's doc comment, and honors
// that by holding a per-turn lock around every Serializes dispatch.
type ToolInvoker interface {
	Invoke(ctx context.Context, call *callmodel.Call, name string, rawArgs json.RawMessage) (tools.Result, error)
	Serializes(name string) bool
}

// Config tunes the pipeline's timeouts; zero values fall back to package
// defaults.
type Config struct {
	SoftTimeout time.Duration
	HardTimeout time.Duration
	// MaxSentenceChars overrides maxSentenceBufferChars; 0 keeps the default.
	MaxSentenceChars int
	// OnToolResult, if set, is called synchronously the instant each
	// dispatched tool call's result is recorded — before the tool-result
	// message is appended, and regardless of whether the call errored. The
	// orchestrator uses this hook to play a tool's SpokenAck right away,
	// independent of whatever sentence the turn happens to be speaking.
	OnToolResult func(name string, result tools.Result)
}

// Pipeline turns one LLM stream into spoken sentences and dispatched tool
// calls. It holds no per-turn state; callers construct a new turn via
// RunTurn for each assistant reply.
type Pipeline struct {
	bridge media.Bridge
	tools  ToolInvoker
	safety SafetyFilter
	trans  Translator
	logger *logging.Logger
	cfg    Config
}

// New builds a Pipeline. safety and trans may be nil, in which case
// filtering and translation are skipped.
func New(bridge media.Bridge, invoker ToolInvoker, safety SafetyFilter, trans Translator, cfg Config, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.SoftTimeout <= 0 {
		cfg.SoftTimeout = defaultSoftTimeout
	}
	if cfg.HardTimeout <= 0 {
		cfg.HardTimeout = defaultHardTimeout
	}
	if cfg.MaxSentenceChars <= 0 {
		cfg.MaxSentenceChars = maxSentenceBufferChars
	}
	return &Pipeline{bridge: bridge, tools: invoker, safety: safety, trans: trans, logger: logger, cfg: cfg}
}

// Outcome is how a turn concluded.
type Outcome string

const (
	OutcomeComplete    Outcome = "complete"
	OutcomeBargeIn     Outcome = "barge_in"
	OutcomeHardTimeout Outcome = "hard_timeout"
	OutcomeStreamError Outcome = "stream_error"
)

// TurnResult summarizes one RunTurn call for the orchestrator.
type TurnResult struct {
	Outcome Outcome
	// Text is the full assistant text produced this turn, spoken sentences
	// included, in stream order.
	Text string
	// Filtered is true if any sentence was dropped by the safety filter.
	Filtered bool
	// Effects lists every tools.Effect a dispatched tool call asked for, in
	// dispatch-completion order.
	Effects []tools.Effect
	// ToolCallMalformed is true if any tool call dispatched this turn still
	// had malformed arguments JSON after llmdriver's repair pass. The
	// orchestrator uses this to speak an apology and retry the turn once.
	ToolCallMalformed bool
	Err               error
}

// RunTurn drives one assistant turn: it reads chunks until the stream signals
// Done, speaking completed sentences as they appear and dispatching tool
// calls concurrently as their deltas arrive. Tool-result messages land on
// call.Messages in dispatch-completion order as soon as each call returns;
// the assistant's own text is only appended once, at the very end, so the
// final transcript order for the turn is always
// (tool results in dispatch order, then the assistant's text) — never the
// reverse, and never interleaved with a half-written assistant entry.
//
// bargeIn, if non-nil, is a channel the orchestrator closes or sends on the
// moment caller speech is detected mid-reply; RunTurn reacts by cancelling
// the most recent in-flight synthesis and appending whatever text had
// accumulated so far as an uncommitted assistant message, so the next turn
// picks up the interrupted reply.
func (p *Pipeline) RunTurn(ctx context.Context, call *callmodel.Call, chunks <-chan llmdriver.StreamChunk, bargeIn <-chan struct{}) TurnResult {
	var (
		buf          strings.Builder
		full         strings.Builder
		filtered     bool
		lastHandle   media.Handle
		haveHandle   bool
		sawFirstWord bool
		style        callmodel.Style
	)

	var toolWG sync.WaitGroup
	var serialMu sync.Mutex
	toolResults := make(chan toolOutcome, 8)
	var effects []tools.Effect
	var toolCallMalformed bool

	recordToolResult := func(out toolOutcome) {
		if p.cfg.OnToolResult != nil {
			p.cfg.OnToolResult(out.name, out.result)
		}
		p.applyToolResult(call, out)
		if out.result.Effect != tools.EffectNone {
			effects = append(effects, out.result.Effect)
		}
		if out.malformed {
			toolCallMalformed = true
		}
	}

	softTimer := time.NewTimer(p.cfg.SoftTimeout)
	hardTimer := time.NewTimer(p.cfg.HardTimeout)
	defer softTimer.Stop()
	defer hardTimer.Stop()

	drainTools := func() {
		toolWG.Wait()
		close(toolResults)
		for out := range toolResults {
			recordToolResult(out)
		}
	}

	appendAssistantMessage := func(committed bool) {
		call.Messages = append(call.Messages, callmodel.Message{
			CreatedAt: time.Now().UTC(),
			Action:    callmodel.ActionTalk,
			Persona:   callmodel.PersonaAssistant,
			Content:   full.String(),
			Style:     style,
			Filtered:  filtered,
			Committed: committed,
		})
	}

	finish := func(outcome Outcome, err error) TurnResult {
		drainTools()
		appendAssistantMessage(true)
		return TurnResult{Outcome: outcome, Text: full.String(), Filtered: filtered, Effects: effects, ToolCallMalformed: toolCallMalformed, Err: err}
	}

	for {
		select {
		case <-bargeIn:
			if haveHandle {
				_ = p.bridge.Cancel(ctx, lastHandle)
			}
			drainTools()
			appendAssistantMessage(false)
			return TurnResult{Outcome: OutcomeBargeIn, Text: full.String(), Filtered: filtered, Effects: effects, ToolCallMalformed: toolCallMalformed}

		case <-hardTimer.C:
			if haveHandle {
				_ = p.bridge.Cancel(ctx, lastHandle)
			}
			if h, err := p.bridge.Synthesize(ctx, media.SynthesizeRequest{Text: hardTimeoutCue, Language: call.LangCurrentShortCode}); err == nil {
				lastHandle, haveHandle = h, true
			}
			p.logger.Error("pipeline: turn aborted on hard timeout", "call_id", call.CallID)
			full.WriteString(" " + hardTimeoutCue)
			return finish(OutcomeHardTimeout, fmt.Errorf("pipeline: hard timeout after %s", p.cfg.HardTimeout))

		case <-softTimer.C:
			if !sawFirstWord {
				h, err := p.bridge.Synthesize(ctx, media.SynthesizeRequest{Text: stillWorkingCue, Language: call.LangCurrentShortCode})
				if err == nil {
					lastHandle, haveHandle = h, true
				}
			}

		case out, ok := <-toolResults:
			if ok {
				recordToolResult(out)
			}

		case chunk, ok := <-chunks:
			if !ok {
				return finish(OutcomeComplete, nil)
			}
			if chunk.Error != nil {
				return finish(OutcomeStreamError, chunk.Error)
			}
			if chunk.Text != "" {
				sawFirstWord = true
				buf.WriteString(chunk.Text)
				full.WriteString(chunk.Text)

				sentences, rest := splitSentences(buf.String(), p.cfg.MaxSentenceChars)
				buf.Reset()
				buf.WriteString(rest)
				for _, s := range sentences {
					spoken, wasFiltered, err := p.prepareSentence(ctx, call, s)
					if err != nil {
						p.logger.Warn("pipeline: sentence preparation failed", "call_id", call.CallID, "error", err.Error())
						continue
					}
					if wasFiltered {
						filtered = true
						continue
					}
					h, err := p.bridge.Synthesize(ctx, media.SynthesizeRequest{
						Text:     spoken,
						Language: call.LangCurrentShortCode,
						Style:    string(style),
					})
					if err != nil {
						p.logger.Warn("pipeline: synthesize failed", "call_id", call.CallID, "error", err.Error())
						continue
					}
					lastHandle, haveHandle = h, true
				}
			}
			if chunk.ToolCallDelta != nil {
				delta := *chunk.ToolCallDelta
				toolWG.Add(1)
				go p.dispatchTool(ctx, call, delta, &toolWG, &serialMu, toolResults)
			}
			if chunk.Done {
				return finish(OutcomeComplete, nil)
			}
		}
	}
}

// prepareSentence runs one completed sentence through translation and the
// safety filter, returning the text to speak. ok is false if the sentence
// was blocked and must not be spoken.
func (p *Pipeline) prepareSentence(ctx context.Context, call *callmodel.Call, sentence string) (text string, blocked bool, err error) {
	text = sentence
	if p.trans != nil && call.LangCurrentShortCode != "" && call.LangCurrentShortCode != call.Initiate.LanguageDefault {
		translated, terr := p.trans.Translate(ctx, text, call.Initiate.LanguageDefault, call.LangCurrentShortCode)
		if terr != nil {
			return "", false, fmt.Errorf("pipeline: translate: %w", terr)
		}
		text = translated
	}
	if p.safety != nil {
		allowed, serr := p.safety.Allow(ctx, text)
		if serr != nil {
			return "", false, fmt.Errorf("pipeline: safety filter: %w", serr)
		}
		if !allowed {
			return "", true, nil
		}
	}
	// Second, always-on pass independent of whatever external filter ran
	// above.
	guard := scanOutputForLeaks(text)
	if guard.leaked {
		if guard.sanitized == "" {
			return "", true, nil
		}
		text = guard.sanitized
	}
	return text, false, nil
}

type toolOutcome struct {
	name      string
	id        string
	result    tools.Result
	err       error
	malformed bool
}

func (p *Pipeline) dispatchTool(ctx context.Context, call *callmodel.Call, delta llmdriver.ToolCallDelta, wg *sync.WaitGroup, serialMu *sync.Mutex, out chan<- toolOutcome) {
	defer wg.Done()
	if delta.Error != "" {
		out <- toolOutcome{name: delta.Name, id: delta.ID, err: fmt.Errorf("pipeline: malformed tool call arguments: %s", delta.Error), malformed: true}
		return
	}
	if p.tools.Serializes(delta.Name) {
		serialMu.Lock()
		defer serialMu.Unlock()
	}
	result, err := p.tools.Invoke(ctx, call, delta.Name, json.RawMessage(delta.ArgumentsJSON))
	out <- toolOutcome{name: delta.Name, id: delta.ID, result: result, err: err}
}

// applyToolResult appends the completed dispatch as a tool-persona message,
// so the next turn's history includes the result — the text is woven into
// the transcript, never spoken directly by this pipeline.
func (p *Pipeline) applyToolResult(call *callmodel.Call, out toolOutcome) {
	content := out.result.Content
	if out.err != nil {
		content = out.err.Error()
	}
	call.Messages = append(call.Messages, callmodel.Message{
		CreatedAt: time.Now().UTC(),
		Action:    callmodel.ActionNote,
		Persona:   callmodel.PersonaTool,
		Content:   content,
		Committed: true,
		ToolCalls: []callmodel.ToolCall{{ID: out.id, Name: out.name, Result: out.result.Content, Error: errString(out.err)}},
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
