package orchestrator

import (
	"github.com/brightline-labs/voicecore/internal/callmodel"
)

// cloneCall makes a field-by-field deep copy of c. A JSON round-trip would
// silently drop ProcessedFingerprints (it carries json:"-"), so this clones
// by hand instead, the same way the teacher avoids marshal-based clones of
// its own Conversation struct in conversation/state.go.
func cloneCall(c *callmodel.Call) *callmodel.Call {
	clone := *c

	if c.Messages != nil {
		clone.Messages = make([]callmodel.Message, len(c.Messages))
		for i, m := range c.Messages {
			clone.Messages[i] = cloneMessage(m)
		}
	}
	if c.Claim != nil {
		clone.Claim = make(map[string]string, len(c.Claim))
		for k, v := range c.Claim {
			clone.Claim[k] = v
		}
	}
	if c.Reminders != nil {
		clone.Reminders = append([]callmodel.Reminder(nil), c.Reminders...)
	}
	if c.Next != nil {
		next := *c.Next
		clone.Next = &next
	}
	if c.Synthesis != nil {
		synth := *c.Synthesis
		clone.Synthesis = &synth
	}
	if c.ProcessedFingerprints != nil {
		clone.ProcessedFingerprints = append([]string(nil), c.ProcessedFingerprints...)
	}
	return &clone
}

func cloneMessage(m callmodel.Message) callmodel.Message {
	clone := m
	if m.ToolCalls != nil {
		clone.ToolCalls = make([]callmodel.ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			cloneTC := tc
			if tc.Arguments != nil {
				cloneTC.Arguments = make(map[string]any, len(tc.Arguments))
				for k, v := range tc.Arguments {
					cloneTC.Arguments[k] = v
				}
			}
			clone.ToolCalls[i] = cloneTC
		}
	}
	return clone
}

// callDelta is what this scope's own goroutine changed on a Call between two
// points in time. Save conflicts in callstore never originate from a second
// writer — the store's contract is single-writer per Call — so a conflict
// can only mean the in-memory copy and the stored copy diverged because an
// earlier attempt's Save silently landed before a network error was
// reported, or the row was seeded by a prior worker. Either way, the right
// fix is the same: reload the authoritative row and replay exactly the
// changes this goroutine itself produced onto it, rather than trusting
// either copy wholesale.
type callDelta struct {
	newMessages     []callmodel.Message
	claimChanges    map[string]string
	newReminders    []callmodel.Reminder
	newFingerprints []string
	next            *callmodel.Next
	synthesis       *callmodel.Synthesis
	langCurrent     string
	inProgress      bool
	recordingURI    string
}

// diffCall computes what changed on current relative to baseline, the two
// being snapshots of the same Call at different points in this scope's own
// timeline.
func diffCall(baseline, current *callmodel.Call) callDelta {
	d := callDelta{
		langCurrent:  current.LangCurrentShortCode,
		inProgress:   current.InProgress,
		recordingURI: current.RecordingURI,
	}

	if len(current.Messages) > len(baseline.Messages) {
		d.newMessages = append([]callmodel.Message(nil), current.Messages[len(baseline.Messages):]...)
	}
	if len(current.Reminders) > len(baseline.Reminders) {
		d.newReminders = append([]callmodel.Reminder(nil), current.Reminders[len(baseline.Reminders):]...)
	}
	if len(current.ProcessedFingerprints) > len(baseline.ProcessedFingerprints) {
		d.newFingerprints = append([]string(nil), current.ProcessedFingerprints[len(baseline.ProcessedFingerprints):]...)
	}

	for k, v := range current.Claim {
		if baseline.Claim[k] != v {
			if d.claimChanges == nil {
				d.claimChanges = make(map[string]string)
			}
			d.claimChanges[k] = v
		}
	}

	if current.Next != baseline.Next && current.Next != nil {
		next := *current.Next
		d.next = &next
	}
	if current.Synthesis != baseline.Synthesis && current.Synthesis != nil {
		synth := *current.Synthesis
		d.synthesis = &synth
	}
	return d
}

// applyCallDelta replays d onto target, a freshly reloaded copy of the same
// Call. target's own Version is left untouched — the caller's next Save
// carries the reload's Version forward so the store's optimistic check is
// against the latest known row.
func applyCallDelta(target *callmodel.Call, d callDelta) {
	target.Messages = append(target.Messages, d.newMessages...)
	target.Reminders = append(target.Reminders, d.newReminders...)
	for _, fp := range d.newFingerprints {
		target.MarkProcessed(fp)
	}
	if len(d.claimChanges) > 0 {
		if target.Claim == nil {
			target.Claim = make(map[string]string, len(d.claimChanges))
		}
		for k, v := range d.claimChanges {
			target.Claim[k] = v
		}
	}
	if d.next != nil {
		target.Next = d.next
	}
	if d.synthesis != nil {
		target.Synthesis = d.synthesis
	}
	target.LangCurrentShortCode = d.langCurrent
	target.InProgress = d.inProgress
	target.RecordingURI = d.recordingURI
}
