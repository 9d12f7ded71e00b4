// Package turndetect implements the call's turn-taking state machine: it
// consumes a stream of speech-recognition events and emits TurnEnded,
// BargeIn, and IdleWarn signals. It is deliberately pure — no channels, no
// goroutines, no clock reads of its own — styled after the teacher's small
// single-purpose detector types (callback_detector.go, complaint_detector.go):
// one narrow struct, one deterministic transition function, heavily unit
// tested rather than exercised end to end.
package turndetect

import "time"

// Kind names the recognition event the bridge observed.
type Kind string

const (
	KindPartial             Kind = "partial"
	KindFinal               Kind = "final"
	KindSilence             Kind = "silence"
	KindRecognitionComplete Kind = "recognition_complete"
)

// Event is the detector's only input shape. It deliberately does not reuse
// media.RecognitionEvent — the detector stays decoupled from the transport
// package the same way internal/prompt stays decoupled from internal/llmdriver.
type Event struct {
	Kind             Kind
	Text             string
	DetectedLanguage string
	At               time.Time
}

// Signal names one of the three outputs the detector can emit.
type Signal string

const (
	SignalTurnEnded      Signal = "turn_ended"
	SignalBargeIn        Signal = "barge_in"
	SignalIdleWarn       Signal = "idle_warn"
	SignalSilenceTimeout Signal = "silence_timeout"
)

// maxIdleSilenceCycles is how many consecutive PhoneSilenceTimeout windows
// fire IdleWarn (speak the re-engagement cue and keep listening) before the
// detector gives up and fires SilenceTimeout instead.
const maxIdleSilenceCycles = 3

// Result is one emitted signal, timestamped at the moment its triggering
// condition became true (not necessarily "now" — Tick can surface a signal
// whose deadline passed earlier than the Tick call itself).
type Result struct {
	Signal Signal
	Text   string
	At     time.Time
}

// Thresholds are the three configurable knobs named for this package.
type Thresholds struct {
	// VADSilenceTimeout is the silence window required after a final
	// recognition before TurnEnded fires.
	VADSilenceTimeout time.Duration
	// VADCutoffTimeout bounds how quickly a barge-in must physically cut
	// audio once BargeIn fires; the detector threads it through for the
	// orchestrator/media bridge to enforce as a cancellation deadline — the
	// detector itself emits BargeIn without added delay, since the seed
	// scenario ("TTS cancelled within 250ms") describes a cancellation
	// latency bound, not a debounce window before recognizing the
	// interruption.
	VADCutoffTimeout time.Duration
	// PhoneSilenceTimeout is how long continuous silence (no partial or
	// final recognition) must persist before IdleWarn fires.
	PhoneSilenceTimeout time.Duration
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VADSilenceTimeout:   500 * time.Millisecond,
		VADCutoffTimeout:    250 * time.Millisecond,
		PhoneSilenceTimeout: 20 * time.Second,
	}
}

// Detector holds the { last_partial_at, last_final_at, speaking,
// collected_text } state named for this package and exposes the
// deterministic transition function over it.
type Detector struct {
	thresholds Thresholds

	lastEventAt   time.Time
	lastFinalAt   time.Time
	haveFinal     bool
	collectedText string

	speaking bool
	bargedIn bool

	// idleWarnCycles counts consecutive PhoneSilenceTimeout windows elapsed
	// since the last genuine speech (partial while not speaking, or final).
	// It resets to 0 on new speech and advances by one each time Tick's idle
	// deadline fires, re-arming from that deadline rather than from "now" so
	// repeated Tick calls within the same window don't double-fire.
	idleWarnCycles int
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(thresholds Thresholds) *Detector {
	return &Detector{thresholds: thresholds}
}

// SetSpeaking tells the detector whether the response pipeline is currently
// playing TTS audio. It must be called by the orchestrator on every
// play-start/play-stop transition; the detector has no other way to learn it.
func (d *Detector) SetSpeaking(speaking bool, now time.Time) {
	d.speaking = speaking
	if !speaking {
		d.bargedIn = false
	}
}

// HandleEvent applies one recognition event and returns zero or more
// signals it produced.
func (d *Detector) HandleEvent(e Event) []Result {
	switch e.Kind {
	case KindPartial:
		return d.handlePartial(e)
	case KindFinal:
		d.lastEventAt = e.At
		d.lastFinalAt = e.At
		d.haveFinal = true
		d.collectedText = e.Text
		d.idleWarnCycles = 0
		return nil
	case KindRecognitionComplete:
		return d.handleRecognitionComplete(e)
	case KindSilence:
		return nil
	default:
		return nil
	}
}

func (d *Detector) handlePartial(e Event) []Result {
	d.collectedText = e.Text

	if !d.speaking {
		d.lastEventAt = e.At
		d.idleWarnCycles = 0
		return nil
	}
	if d.bargedIn {
		// already interrupted for this speaking episode; later partials
		// just keep updating collected_text.
		return nil
	}

	if deadline, ok := d.turnEndedDeadline(); ok && !deadline.After(e.At) {
		// TurnEnded's trigger condition became true no later than this
		// partial arrived — it is the older trigger and wins the race.
		return d.fireTurnEnded(deadline)
	}

	d.bargedIn = true
	d.lastEventAt = e.At
	return []Result{{Signal: SignalBargeIn, Text: e.Text, At: e.At}}
}

func (d *Detector) handleRecognitionComplete(e Event) []Result {
	if d.collectedText == "" {
		return nil
	}
	return d.fireTurnEnded(e.At)
}

func (d *Detector) fireTurnEnded(at time.Time) []Result {
	text := d.collectedText
	d.collectedText = ""
	d.haveFinal = false
	d.idleWarnCycles = 0
	return []Result{{Signal: SignalTurnEnded, Text: text, At: at}}
}

// turnEndedDeadline reports when the silence-timeout condition becomes true
// given the last final recognition, if one is pending.
func (d *Detector) turnEndedDeadline() (time.Time, bool) {
	if !d.haveFinal {
		return time.Time{}, false
	}
	return d.lastFinalAt.Add(d.thresholds.VADSilenceTimeout), true
}

// Tick re-evaluates the detector's time-based conditions (silence elapsed,
// idle elapsed) against the given wall-clock time. The orchestrator should
// call this on every STT tick or on a short fixed interval — the detector
// has no timer of its own.
//
// Each elapsed PhoneSilenceTimeout window re-arms from its own deadline
// (rather than from "now"), so the caller speaking the re-engagement cue in
// response to IdleWarn doesn't need to call back in: the timer is already
// running for the next window. After maxIdleSilenceCycles consecutive
// windows with no intervening speech, Tick fires SilenceTimeout instead of
// another IdleWarn, telling the orchestrator to end the call.
func (d *Detector) Tick(now time.Time) []Result {
	var results []Result

	if deadline, ok := d.turnEndedDeadline(); ok && !deadline.After(now) {
		results = append(results, d.fireTurnEnded(deadline)...)
	}

	if !d.speaking && !d.lastEventAt.IsZero() {
		idleDeadline := d.lastEventAt.Add(d.thresholds.PhoneSilenceTimeout)
		if !idleDeadline.After(now) {
			d.lastEventAt = idleDeadline
			d.idleWarnCycles++
			if d.idleWarnCycles > maxIdleSilenceCycles {
				results = append(results, Result{Signal: SignalSilenceTimeout, At: idleDeadline})
			} else {
				results = append(results, Result{Signal: SignalIdleWarn, At: idleDeadline})
			}
		}
	}

	return results
}
