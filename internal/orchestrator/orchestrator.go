package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brightline-labs/voicecore/internal/callmodel"
	"github.com/brightline-labs/voicecore/internal/callstore"
	"github.com/brightline-labs/voicecore/internal/config"
	"github.com/brightline-labs/voicecore/internal/lease"
	"github.com/brightline-labs/voicecore/internal/llmdriver"
	"github.com/brightline-labs/voicecore/internal/media"
	"github.com/brightline-labs/voicecore/internal/pipeline"
	"github.com/brightline-labs/voicecore/internal/queue"
	"github.com/brightline-labs/voicecore/pkg/logging"
)

// BridgeFactory builds the live Media Bridge for a newly accepted call.
// Decoupled from a concrete telephony vendor the same way
// tools.DocumentSearcher decouples the Tool Registry from a concrete RAG
// backend.
type BridgeFactory interface {
	NewBridge(ctx context.Context, call *callmodel.Call) (media.Bridge, error)
}

// CallController carries out the two call-control actions an Effect can ask
// for — hanging up and transferring to a human — which sit outside the
// Media Bridge's STT/TTS-only contract. May be left nil; a requested effect
// is then logged and dropped rather than panicking, matching the Tool
// Registry's nil-collaborator convention.
type CallController interface {
	Hangup(ctx context.Context, call *callmodel.Call) error
	Transfer(ctx context.Context, call *callmodel.Call) error
}

// LLMTiered is the slice of llmdriver.TieredClient the orchestrator needs,
// narrowed to an interface so tests can substitute a scripted double.
type LLMTiered interface {
	Complete(ctx context.Context, req llmdriver.LLMRequest, tier llmdriver.Tier) (llmdriver.LLMResponse, error)
	CompleteStream(ctx context.Context, req llmdriver.LLMRequest, tier llmdriver.Tier) (<-chan llmdriver.StreamChunk, error)
}

// IncidentNotifier raises an operator-visible incident outside the log
// stream. A FatalCall (three consecutive save conflicts) and a FatalWorker
// condition both report through this seam; may be left nil, in which case
// the incident is logged but nothing else is notified.
type IncidentNotifier interface {
	NotifyIncident(ctx context.Context, subject, detail string) error
}

// CallMetrics observes call-lifecycle events. May be left nil, in which case
// the orchestrator simply doesn't record anything.
type CallMetrics interface {
	ObserveCallStarted(language string)
	ObserveLeaseBusy()
}

// Dependencies bundles every collaborator a CallScope needs. None may be nil
// except Bridges/Controller/ConfigStore/Metrics, which have documented
// fallbacks.
type Dependencies struct {
	Store      callstore.Store
	Leases     lease.Manager
	Queues     queue.Set
	Bridges    BridgeFactory
	Controller CallController
	LLM        LLMTiered
	FastModelID string
	SlowModelID string
	Tools      pipeline.ToolInvoker
	Translator pipeline.Translator
	Safety     pipeline.SafetyFilter
	ConfigSnap func() config.Snapshot
	Incidents  IncidentNotifier
	Metrics    CallMetrics
	Logger     *logging.Logger
}

const (
	defaultWorkers        = 2
	defaultReceiveWait     = 2
	defaultReceiveBatch    = 5
	maxReceiveWaitSeconds  = 20
	maxReceiveBatch        = 10
	defaultScopeMailbox    = 16
	defaultLeaseTTL        = lease.DefaultCallTTL
	defaultDrainDeadline   = 60 * time.Second
)

type orchestratorConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	scopeMailboxSize int
	leaseTTL         time.Duration
	drainDeadline    time.Duration
}

// Option configures an Orchestrator.
type Option func(*orchestratorConfig)

// WithWorkerCount overrides the number of queue polling goroutines per typed
// queue.
func WithWorkerCount(n int) Option {
	return func(c *orchestratorConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait time for queue Receive calls.
func WithReceiveWaitSeconds(seconds int) Option {
	return func(c *orchestratorConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxReceiveWaitSeconds {
			seconds = maxReceiveWaitSeconds
		}
		c.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize overrides how many messages each poll should return.
func WithReceiveBatchSize(size int) Option {
	return func(c *orchestratorConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatch {
			size = maxReceiveBatch
		}
		c.receiveBatchSize = size
	}
}

// WithScopeMailboxSize overrides the bounded channel size used to forward
// media_event/inbound_sms messages to an already-running CallScope.
func WithScopeMailboxSize(size int) Option {
	return func(c *orchestratorConfig) {
		if size > 0 {
			c.scopeMailboxSize = size
		}
	}
}

// WithLeaseTTL overrides the per-call lease TTL (defaults to 60s).
func WithLeaseTTL(ttl time.Duration) Option {
	return func(c *orchestratorConfig) {
		if ttl > 0 {
			c.leaseTTL = ttl
		}
	}
}

// WithDrainDeadline overrides how long Shutdown waits for in-flight calls to
// reach Closed before releasing their leases unfinished.
func WithDrainDeadline(d time.Duration) Option {
	return func(c *orchestratorConfig) {
		if d > 0 {
			c.drainDeadline = d
		}
	}
}

// Orchestrator is the Call Orchestrator: a queue-backed dispatcher,
// ported in idiom from the teacher's Orchestrator/runWorker pattern, that
// routes inbound events to one long-lived CallScope goroutine per call
// rather than handling each queue message as an independent request.
type Orchestrator struct {
	deps   Dependencies
	cfg    orchestratorConfig
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	scopes sync.Map // callID string -> *CallScope
}

// New wires an Orchestrator around deps. Bridges/Controller/ConfigSnap may
// be nil; ConfigSnap then always reports config.DefaultSnapshot().
func New(deps Dependencies, opts ...Option) *Orchestrator {
	if deps.Store == nil || deps.Leases == nil || deps.LLM == nil || deps.Tools == nil {
		panic("orchestrator: Store, Leases, LLM, and Tools are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.ConfigSnap == nil {
		deps.ConfigSnap = config.DefaultSnapshot
	}

	cfg := orchestratorConfig{
		workers:          defaultWorkers,
		receiveWaitSecs:  defaultReceiveWait,
		receiveBatchSize: defaultReceiveBatch,
		scopeMailboxSize: defaultScopeMailbox,
		leaseTTL:         defaultLeaseTTL,
		drainDeadline:    defaultDrainDeadline,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{deps: deps, cfg: cfg, logger: deps.Logger, ctx: ctx, cancel: cancel}
	return o
}

// Start launches the queue polling workers for call_events and sms_events.
// Safe to call once; call Shutdown to stop them.
func (o *Orchestrator) Start() {
	if o.deps.Queues.CallEvents != nil {
		for i := 0; i < o.cfg.workers; i++ {
			o.wg.Add(1)
			go o.runWorker(queue.CallEvents, o.deps.Queues.CallEvents, i+1)
		}
	}
	if o.deps.Queues.SMSEvents != nil {
		for i := 0; i < o.cfg.workers; i++ {
			o.wg.Add(1)
			go o.runWorker(queue.SMSEvents, o.deps.Queues.SMSEvents, i+1)
		}
	}
}

// Shutdown stops polling and gives in-flight call scopes up to the
// configured drain deadline to reach Closed. Scopes still running past the
// deadline have their leases released so another worker can resume them
// from last-saved state.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	drainCtx, cancel := context.WithTimeout(ctx, o.cfg.drainDeadline)
	defer cancel()

	select {
	case <-drainCtx.Done():
	case <-done:
	}

	o.scopes.Range(func(key, value any) bool {
		scope, ok := value.(*CallScope)
		if ok {
			scope.abandon(context.Background())
		}
		o.scopes.Delete(key)
		return true
	})
	return nil
}

func (o *Orchestrator) runWorker(name queue.Name, q queue.Queue, workerID int) {
	defer o.wg.Done()
	o.logger.Debug("orchestrator worker started", "queue", string(name), "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-o.ctx.Done():
			return
		default:
		}

		messages, err := q.Receive(o.ctx, o.cfg.receiveBatchSize, o.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			o.logger.Error("orchestrator: queue receive failed", "queue", string(name), "error", err.Error())
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			o.handleMessage(q, msg)
		}
	}
}

func (o *Orchestrator) handleMessage(q queue.Queue, msg queue.Message) {
	var env queue.Envelope
	if err := json.Unmarshal([]byte(msg.Body), &env); err != nil {
		o.logger.Error("orchestrator: malformed queue message", "error", err.Error())
		_ = q.Ack(o.ctx, msg)
		return
	}

	switch {
	case env.IncomingCall != nil:
		o.startCall(*env.IncomingCall, env.EventID)
	case env.MediaEvent != nil:
		o.routeToScope(env.CallID, env.Fingerprint(), scopeEvent{media: env.MediaEvent})
	case env.InboundSMS != nil:
		o.handleInboundSMS(env)
	default:
		o.logger.Warn("orchestrator: envelope carries no recognized payload", "event_id", env.EventID)
	}
	_ = q.Ack(o.ctx, msg)
}

func (o *Orchestrator) startCall(req queue.IncomingCall, eventID string) {
	call := callmodel.New(callmodel.Initiate{
		BotName:           req.BotName,
		BotCompany:        req.BotCompany,
		CallerPhoneNumber: req.CallerPhone,
		AgentPhoneNumber:  req.CalleePhone,
		LanguageDefault:   req.LanguageDefault,
		TaskDescription:   req.TaskDescription,
		ClaimSchema:       req.ClaimSchema,
	})
	// An API-initiated outbound call (POST /call) assigns the call id up
	// front so the handler can hand it back to the caller before the
	// orchestrator has even dequeued the incoming_call message.
	if req.CallID != "" {
		if id, err := uuid.Parse(req.CallID); err == nil {
			call.CallID = id
		}
	}
	call.MarkProcessed(call.CallID.String() + ":" + eventID)

	leaseKey := lease.CallKey(call.CallID.String())
	held, err := o.deps.Leases.Acquire(o.ctx, leaseKey, o.cfg.leaseTTL)
	if err != nil {
		if errors.Is(err, lease.ErrBusy) && o.deps.Metrics != nil {
			o.deps.Metrics.ObserveLeaseBusy()
		}
		o.logger.Error("orchestrator: failed to acquire call lease", "call_id", call.CallID, "error", err.Error())
		return
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.ObserveCallStarted(call.Initiate.LanguageDefault)
	}

	var bridge media.Bridge
	if o.deps.Bridges != nil {
		bridge, err = o.deps.Bridges.NewBridge(o.ctx, call)
		if err != nil {
			o.logger.Error("orchestrator: failed to build media bridge", "call_id", call.CallID, "error", err.Error())
			_ = o.deps.Leases.Release(o.ctx, held)
			return
		}
	}

	if err := o.deps.Store.Save(o.ctx, call); err != nil {
		o.logger.Error("orchestrator: failed to persist new call", "call_id", call.CallID, "error", err.Error())
		_ = o.deps.Leases.Release(o.ctx, held)
		return
	}

	scope := newCallScope(call, bridge, held, &o.deps, o.cfg, o.logger)
	scope.rekey = func(oldID, newID string) {
		o.scopes.Delete(oldID)
		o.scopes.Store(newID, scope)
	}
	o.scopes.Store(call.CallID.String(), scope)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		scope.run(o.ctx)
		// Read scope.call only after run has returned: a mid-call new_claim
		// swap (startNewClaim) may have re-keyed this scope to a different
		// call id, and scope.call is only safe to read here because the
		// scope's own goroutines have all exited by this point.
		o.scopes.Delete(scope.call.CallID.String())
	}()
}

func (o *Orchestrator) routeToScope(callID, fingerprint string, evt scopeEvent) {
	value, ok := o.scopes.Load(callID)
	if !ok {
		o.logger.Debug("orchestrator: event for unknown or already-closed call dropped", "call_id", callID)
		return
	}
	scope := value.(*CallScope)
	evt.fingerprint = fingerprint
	select {
	case scope.events <- evt:
	case <-o.ctx.Done():
	}
}

func (o *Orchestrator) handleInboundSMS(env queue.Envelope) {
	value, ok := o.scopes.Load(env.CallID)
	if ok {
		scope := value.(*CallScope)
		select {
		case scope.events <- scopeEvent{fingerprint: env.Fingerprint(), sms: env.InboundSMS}:
		case <-o.ctx.Done():
		}
		return
	}

	existing, err := o.deps.Store.GetLast(o.ctx, env.InboundSMS.From)
	if err != nil && !callstore.IsNotFound(err) {
		o.logger.Error("orchestrator: failed to look up call for inbound sms", "from", env.InboundSMS.From, "error", err.Error())
		return
	}
	if err == nil && existing.InProgress {
		existing.Messages = append(existing.Messages, callmodel.Message{
			CreatedAt: env.InboundSMS.ReceivedAt, Action: callmodel.ActionSMS,
			Persona: callmodel.PersonaHuman, Content: env.InboundSMS.Body, Committed: true,
		})
		existing.MarkProcessed(env.Fingerprint())
		if err := o.deps.Store.Save(o.ctx, existing); err != nil {
			o.logger.Error("orchestrator: failed to append inbound sms to active call", "call_id", existing.CallID, "error", err.Error())
		}
		return
	}

	smsCall := callmodel.New(callmodel.Initiate{CallerPhoneNumber: env.InboundSMS.From, AgentPhoneNumber: env.InboundSMS.To})
	smsCall.InProgress = false
	smsCall.Messages = append(smsCall.Messages, callmodel.Message{
		CreatedAt: env.InboundSMS.ReceivedAt, Action: callmodel.ActionSMS,
		Persona: callmodel.PersonaHuman, Content: env.InboundSMS.Body, Committed: true,
	})
	smsCall.MarkProcessed(env.Fingerprint())
	if err := o.deps.Store.Save(o.ctx, smsCall); err != nil {
		o.logger.Error("orchestrator: failed to persist sms-only call record", "error", err.Error())
	}
}
