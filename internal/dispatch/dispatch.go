// Package dispatch implements the Background Dispatcher: on a Call reaching
// Closed, the orchestrator enqueues a post_call job (and, if the call
// produced new knowledge, a training job); this package consumes both,
// deduplicating redelivered jobs and producing the post-call synthesis and
// report.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brightline-labs/voicecore/internal/callstore"
	"github.com/brightline-labs/voicecore/internal/notify"
	"github.com/brightline-labs/voicecore/internal/queue"
	"github.com/brightline-labs/voicecore/pkg/logging"
)

const (
	jobKindPostCall = "post_call"
	jobKindTraining = "training"

	defaultReceiveWait  = 10
	defaultReceiveBatch = 5
)

// Deduplicator claims a (call_id, job_kind) pair, narrowed from *Marker so
// tests can substitute a scripted double.
type Deduplicator interface {
	Claim(ctx context.Context, callID, jobKind string, ttl time.Duration) (bool, error)
}

// CallMetrics observes post-call completion. May be left nil, in which case
// the dispatcher simply doesn't record anything.
type CallMetrics interface {
	ObserveCallCompleted(status string, duration time.Duration)
}

// Dependencies bundles Dispatcher's collaborators. Store, Queues, and LLM
// are required; Reports, Incidents, Marker, and Metrics degrade gracefully
// when nil.
type Dependencies struct {
	Store     callstore.Store
	Queues    queue.Set
	LLM       Synthesizer
	Reports   *notify.Service
	Incidents *notify.IncidentNotifier
	Marker    Deduplicator
	MarkerTTL time.Duration
	Metrics   CallMetrics
	Logger    *logging.Logger
}

// Dispatcher runs the post_call/training consumer loops. Grounded on
// orchestrator.Orchestrator's runWorker long-poll pattern, generalized from
// one queue per message-family to one queue per job-family.
type Dispatcher struct {
	deps   Dependencies
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Dispatcher. Panics if Store, Queues.PostCall, or LLM is nil —
// these have no safe degraded mode, unlike Reports/Incidents/Marker.
func New(deps Dependencies) *Dispatcher {
	if deps.Store == nil || deps.Queues.PostCall == nil || deps.LLM == nil {
		panic("dispatch: Store, Queues.PostCall, and LLM are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Marker == nil {
		deps.Marker = NewMarker(nil, deps.Logger)
	}
	if deps.MarkerTTL <= 0 {
		deps.MarkerTTL = DefaultMarkerTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{deps: deps, logger: deps.Logger, ctx: ctx, cancel: cancel}
}

// Start launches the post_call and (if configured) training consumer loops.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.runLoop(jobKindPostCall, d.deps.Queues.PostCall, d.handlePostCall)

	if d.deps.Queues.Training != nil {
		d.wg.Add(1)
		go d.runLoop(jobKindTraining, d.deps.Queues.Training, d.handleTraining)
	}
}

// Shutdown stops both consumer loops and waits for in-flight handling to
// finish, or for ctx to expire first.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) runLoop(jobKind string, q queue.Queue, handle func(context.Context, string)) {
	defer d.wg.Done()
	d.logger.Debug("dispatch: consumer loop started", "job_kind", jobKind)

	backoff := time.Second
	for {
		select {
		case <-d.ctx.Done():
			return
		default:
		}

		messages, err := q.Receive(d.ctx, defaultReceiveBatch, defaultReceiveWait)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.logger.Error("dispatch: queue receive failed", "job_kind", jobKind, "error", err.Error())
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			var job queue.PostCallJob
			if err := json.Unmarshal([]byte(msg.Body), &job); err != nil {
				d.logger.Error("dispatch: malformed job body", "job_kind", jobKind, "error", err.Error())
				_ = q.Ack(d.ctx, msg)
				continue
			}
			handle(d.ctx, job.CallID)
			_ = q.Ack(d.ctx, msg)
		}
	}
}

func (d *Dispatcher) handlePostCall(ctx context.Context, callID string) {
	claimed, err := d.deps.Marker.Claim(ctx, callID, jobKindPostCall, d.deps.MarkerTTL)
	if err != nil {
		d.logger.Error("dispatch: dedup marker check failed, processing anyway", "call_id", callID, "error", err.Error())
	} else if !claimed {
		return
	}

	id, err := uuid.Parse(callID)
	if err != nil {
		d.logger.Error("dispatch: malformed call id in post_call job", "call_id", callID, "error", err.Error())
		return
	}
	call, err := d.deps.Store.GetByID(ctx, id)
	if err != nil {
		d.logger.Error("dispatch: failed to load call for post_call job", "call_id", callID, "error", err.Error())
		return
	}

	synthesis, err := Synthesize(ctx, d.deps.LLM, call)
	if err != nil {
		d.logger.Error("dispatch: synthesis failed", "call_id", callID, "error", err.Error())
		if d.deps.Metrics != nil {
			d.deps.Metrics.ObserveCallCompleted("synthesis_failed", time.Since(call.CreatedAt))
		}
		return
	}
	call.Synthesis = synthesis

	if err := d.deps.Store.Save(ctx, call); err != nil {
		d.logger.Error("dispatch: failed to persist synthesis", "call_id", callID, "error", err.Error())
	}

	if d.deps.Metrics != nil {
		d.deps.Metrics.ObserveCallCompleted("ok", time.Since(call.CreatedAt))
	}

	if d.deps.Reports != nil {
		if err := d.deps.Reports.SendPostCallReport(ctx, call); err != nil {
			d.logger.Error("dispatch: failed to send post-call report", "call_id", callID, "error", err.Error())
		}
	}
}

func (d *Dispatcher) handleTraining(ctx context.Context, callID string) {
	claimed, err := d.deps.Marker.Claim(ctx, callID, jobKindTraining, d.deps.MarkerTTL)
	if err != nil {
		d.logger.Error("dispatch: dedup marker check failed, processing anyway", "call_id", callID, "error", err.Error())
	} else if !claimed {
		return
	}

	id, err := uuid.Parse(callID)
	if err != nil {
		d.logger.Error("dispatch: malformed call id in training job", "call_id", callID, "error", err.Error())
		return
	}
	call, err := d.deps.Store.GetByID(ctx, id)
	if err != nil {
		d.logger.Error("dispatch: failed to load call for training job", "call_id", callID, "error", err.Error())
		return
	}
	if !hasNewKnowledge(call) {
		d.logger.Debug("dispatch: training job carried no new knowledge, skipping", "call_id", callID)
		return
	}
	// Extracting Q/A pairs for the RAG index is the Document Searcher's
	// write path (tools.DocumentSearcher has no Index method yet); logging
	// the extraction point keeps the seam visible without inventing a
	// write contract this repo's read-only searcher doesn't expose.
	d.logger.Info("dispatch: call produced new knowledge for RAG extraction", "call_id", callID, "claim_fields", len(call.Claim))
}
