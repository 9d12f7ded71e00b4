// Package tools implements the Tool Registry: a declarative,
// explicit-map dispatch surface for the handful of functions the LLM driver
// may call mid-turn, grounded on the teacher's own explicit-map dispatch
// style (internal/conversation/supervisor.go's SupervisorAction switch)
// rather than a reflection-based scheme.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/brightline-labs/voicecore/internal/callmodel"
	"github.com/brightline-labs/voicecore/pkg/logging"
)

// Effect names a call-level side effect a tool invocation asks the
// orchestrator to carry out once the turn's tool calls have all completed.
type Effect string

const (
	EffectNone     Effect = ""
	EffectEndCall  Effect = "end_call"
	EffectTransfer Effect = "transfer"
	EffectNewClaim Effect = "new_claim"
	EffectSendSMS  Effect = "send_sms"
)

// Result is what a tool handler hands back to the orchestrator: the text to
// record as the tool message's content (what the LLM sees on its next
// turn), the spoken acknowledgment cue the orchestrator should play back to
// the caller immediately, and any call-level Effect to act on afterward.
type Result struct {
	Content   string
	SpokenAck string
	Effect    Effect
	SMSBody   string
}

// Handler executes one tool call against the live Call. It must not be
// called concurrently with another Handler whose Descriptor.Serializes is
// true for the same Call — the orchestrator is responsible for that
// serialization; Handler itself does not lock.
type Handler func(ctx context.Context, call *callmodel.Call, rawArgs json.RawMessage) (Result, error)

// Descriptor is one registered tool: its LLM-facing schema plus the handler
// that executes it.
type Descriptor struct {
	Name        string
	Description string
	// Parameters is a JSON-schema object ({"type":"object","properties":...})
	// handed to the LLM driver as-is; built by hand rather than reflected off
	// a struct, matching the teacher's preference for explicit declarations
	// over magic.
	Parameters map[string]any
	Handler    Handler
	// Serializes marks a tool whose Handler mutates Call state (claim,
	// reminders) and therefore must not run concurrently with another
	// Serializes tool within the same turn.
	Serializes bool
}

// DocumentSearcher is the RAG collaborator search_documents calls out to;
// injected so the registry stays a pure dispatch surface.
type DocumentSearcher interface {
	Search(ctx context.Context, queries []string) ([]SearchResult, error)
}

// SearchResult is one RAG hit, ordered by Score descending by convention.
type SearchResult struct {
	Title   string
	Content string
	Score   float64
}

// SMSEnqueuer is the collaborator send_sms hands outbound messages to; it is
// the Queue Interface's sms_events producer side (internal/queue), injected
// here rather than imported directly so tools stays decoupled from the
// queue package.
type SMSEnqueuer interface {
	EnqueueSMS(ctx context.Context, toPhone, body string) error
}

// Registry holds the built-in tool set plus whatever collaborators they
// need, and serves as the dispatch surface the orchestrator calls into.
type Registry struct {
	tools    map[string]Descriptor
	order    []string
	searcher DocumentSearcher
	sms      SMSEnqueuer
	logger   *logging.Logger
}

// NewRegistry builds the built-in tool set. searcher and sms may be nil;
// search_documents and send_sms then return a tool-call error instead of
// panicking.
func NewRegistry(searcher DocumentSearcher, sms SMSEnqueuer, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Default()
	}
	r := &Registry{
		tools:    make(map[string]Descriptor),
		searcher: searcher,
		sms:      sms,
		logger:   logger,
	}
	for _, d := range r.builtins() {
		r.register(d)
	}
	return r
}

func (r *Registry) register(d Descriptor) {
	r.tools[d.Name] = d
	r.order = append(r.order, d.Name)
}

// Descriptors returns the registered tools in registration order, the shape
// the LLM driver serializes into its tool-config blocks.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Has reports whether name is a registered tool.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Serializes reports whether name must be serialized against other
// Serializes tools for the same Call within a turn.
func (r *Registry) Serializes(name string) bool {
	return r.tools[name].Serializes
}

// Invoke dispatches a single tool call by name against call, following an
// `invoke(tool_name, args) -> result|error` contract.
func (r *Registry) Invoke(ctx context.Context, call *callmodel.Call, name string, rawArgs json.RawMessage) (Result, error) {
	d, ok := r.tools[name]
	if !ok {
		return Result{}, fmt.Errorf("tools: %q is not a registered tool", name)
	}
	res, err := d.Handler(ctx, call, rawArgs)
	if err != nil {
		r.logger.Warn("tool call failed", "tool", name, "call_id", call.CallID, "error", err.Error())
	}
	return res, err
}

func (r *Registry) builtins() []Descriptor {
	return []Descriptor{
		r.updateClaimDescriptor(),
		r.newClaimDescriptor(),
		r.talkToHumanDescriptor(),
		r.endCallDescriptor(),
		r.newReminderDescriptor(),
		r.updatedReminderDescriptor(),
		r.searchDocumentsDescriptor(),
		r.sendSMSDescriptor(),
	}
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

const customerResponseDescription = "Phrase confirming the action to the caller. Spoken verbatim before the action completes; keep it to one short sentence."
