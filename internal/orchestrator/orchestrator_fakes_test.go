package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brightline-labs/voicecore/internal/callmodel"
	"github.com/brightline-labs/voicecore/internal/callstore"
	"github.com/brightline-labs/voicecore/internal/config"
	"github.com/brightline-labs/voicecore/internal/lease"
	"github.com/brightline-labs/voicecore/internal/llmdriver"
	"github.com/brightline-labs/voicecore/internal/tools"
	"github.com/brightline-labs/voicecore/pkg/logging"
)

// fakeStore is an in-memory callstore.Store double. It does not implement
// real optimistic-concurrency version checking — conflictsRemaining drives
// exactly the Save failures a test wants to see, the same way
// llmdriver's scriptedClient scripts errors by index rather than
// reimplementing a provider.
type fakeStore struct {
	mu                 sync.Mutex
	calls              map[uuid.UUID]*callmodel.Call
	saveCalls          int
	conflictsRemaining int
}

func newFakeStore() *fakeStore {
	return &fakeStore{calls: make(map[uuid.UUID]*callmodel.Call)}
}

func (f *fakeStore) GetLast(_ context.Context, phoneNumber string) (*callmodel.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *callmodel.Call
	for _, c := range f.calls {
		if c.Initiate.CallerPhoneNumber != phoneNumber {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, &callstore.Error{Kind: callstore.KindNotFound, Err: callstore.ErrNotFound}
	}
	return cloneCall(latest), nil
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*callmodel.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[id]
	if !ok {
		return nil, &callstore.Error{Kind: callstore.KindNotFound, Err: callstore.ErrNotFound}
	}
	return cloneCall(c), nil
}

func (f *fakeStore) Save(_ context.Context, call *callmodel.Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.conflictsRemaining > 0 {
		f.conflictsRemaining--
		return &callstore.Error{Kind: callstore.KindConflict, Err: callstore.ErrConflict}
	}
	call.Version++
	f.calls[call.CallID] = cloneCall(call)
	return nil
}

func (f *fakeStore) ListByPhone(_ context.Context, phoneNumber string, limit int) ([]*callmodel.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*callmodel.Call
	for _, c := range f.calls {
		if c.Initiate.CallerPhoneNumber == phoneNumber {
			out = append(out, cloneCall(c))
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeLeaseManager grants every Acquire unconditionally and scripts Renew's
// outcome via renewErr, so tests can force the loss-triggered cancellation
// path deterministically.
type fakeLeaseManager struct {
	mu           sync.Mutex
	renewErr     error
	renewCalls   int
	releaseCalls int
}

func (m *fakeLeaseManager) Acquire(_ context.Context, key string, ttl time.Duration) (*lease.Lease, error) {
	return &lease.Lease{Key: key, HolderToken: "test-token", ExpiresAt: time.Now().Add(ttl)}, nil
}

func (m *fakeLeaseManager) Renew(_ context.Context, _ *lease.Lease, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renewCalls++
	return m.renewErr
}

func (m *fakeLeaseManager) Release(_ context.Context, _ *lease.Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseCalls++
	return nil
}

// fakeCallMetrics records CallMetrics observations for assertion.
type fakeCallMetrics struct {
	mu           sync.Mutex
	started      []string
	leaseBusy    int
}

func (m *fakeCallMetrics) ObserveCallStarted(language string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, language)
}

func (m *fakeCallMetrics) ObserveLeaseBusy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaseBusy++
}

// fakeLLM scripts LLMTiered.Complete/CompleteStream by tier-aware callbacks;
// a nil callback falls back to a harmless empty response, so tests that
// don't care about one side of the interface can leave it unset.
type fakeLLM struct {
	completeFn func(tier llmdriver.Tier) (llmdriver.LLMResponse, error)
	streamFn   func(tier llmdriver.Tier) (<-chan llmdriver.StreamChunk, error)
}

func (f *fakeLLM) Complete(_ context.Context, _ llmdriver.LLMRequest, tier llmdriver.Tier) (llmdriver.LLMResponse, error) {
	if f.completeFn == nil {
		return llmdriver.LLMResponse{}, nil
	}
	return f.completeFn(tier)
}

func (f *fakeLLM) CompleteStream(_ context.Context, _ llmdriver.LLMRequest, tier llmdriver.Tier) (<-chan llmdriver.StreamChunk, error) {
	if f.streamFn == nil {
		ch := make(chan llmdriver.StreamChunk, 1)
		ch <- llmdriver.StreamChunk{Done: true}
		close(ch)
		return ch, nil
	}
	return f.streamFn(tier)
}

// fakeController counts Hangup/Transfer invocations so runEnding tests can
// assert the right call-control action fired without a live telephony vendor.
type fakeController struct {
	mu            sync.Mutex
	hangupCalls   int
	transferCalls int
}

func (f *fakeController) Hangup(_ context.Context, _ *callmodel.Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangupCalls++
	return nil
}

func (f *fakeController) Transfer(_ context.Context, _ *callmodel.Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferCalls++
	return nil
}

func newTestDeps(store callstore.Store, leases lease.Manager, llm LLMTiered, controller CallController) *Dependencies {
	return &Dependencies{
		Store:       store,
		Leases:      leases,
		LLM:         llm,
		FastModelID: "fast-model",
		SlowModelID: "slow-model",
		Tools:       tools.NewRegistry(nil, nil, logging.Default()),
		Controller:  controller,
		ConfigSnap:  config.DefaultSnapshot,
		Logger:      logging.Default(),
	}
}

func testScopeConfig() orchestratorConfig {
	return orchestratorConfig{leaseTTL: time.Minute, scopeMailboxSize: 4}
}
