package orchestrator

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/brightline-labs/voicecore/internal/callmodel"
	"github.com/brightline-labs/voicecore/internal/lease"
	"github.com/brightline-labs/voicecore/internal/media"
)

func TestCloneCall_DeepCopiesMutableFields(t *testing.T) {
	call := callmodel.New(callmodel.Initiate{LanguageDefault: "en"})
	call.Claim["policy_number"] = "ABC123"
	call.Messages = append(call.Messages, callmodel.Message{
		Content:   "hi",
		ToolCalls: []callmodel.ToolCall{{ID: "tc-1", Arguments: map[string]any{"k": "v"}}},
	})
	call.Reminders = append(call.Reminders, callmodel.Reminder{Title: "follow up"})
	call.MarkProcessed("call-1:evt-1")

	clone := cloneCall(call)
	clone.Claim["policy_number"] = "changed"
	clone.Messages[0].Content = "changed"
	clone.Messages[0].ToolCalls[0].Arguments["k"] = "changed"
	clone.Reminders[0].Title = "changed"
	clone.ProcessedFingerprints[0] = "changed"

	require.Equal(t, "ABC123", call.Claim["policy_number"])
	require.Equal(t, "hi", call.Messages[0].Content)
	require.Equal(t, "v", call.Messages[0].ToolCalls[0].Arguments["k"])
	require.Equal(t, "follow up", call.Reminders[0].Title)
	require.Equal(t, "call-1:evt-1", call.ProcessedFingerprints[0])
}

func TestDiffAndApplyCallDelta_ReplaysChangesOntoReloadedCopy(t *testing.T) {
	baseline := callmodel.New(callmodel.Initiate{LanguageDefault: "en"})
	baseline.Claim["email"] = "old@example.com"

	current := cloneCall(baseline)
	current.Messages = append(current.Messages, callmodel.Message{Content: "new message", Committed: true})
	current.Claim["email"] = "new@example.com"
	current.Reminders = append(current.Reminders, callmodel.Reminder{Title: "call back"})
	current.MarkProcessed("call-1:evt-2")
	current.LangCurrentShortCode = "es"
	current.InProgress = false

	// reloaded stands in for the authoritative row fetched after a save
	// conflict: it shares baseline's starting point, but its own Version has
	// moved on from whatever write actually landed.
	reloaded := cloneCall(baseline)
	reloaded.Version = 7

	delta := diffCall(baseline, current)
	applyCallDelta(reloaded, delta)

	require.Len(t, reloaded.Messages, 1)
	require.Equal(t, "new message", reloaded.Messages[0].Content)
	require.Equal(t, "new@example.com", reloaded.Claim["email"])
	require.Len(t, reloaded.Reminders, 1)
	require.True(t, reloaded.HasProcessed("call-1:evt-2"))
	require.Equal(t, "es", reloaded.LangCurrentShortCode)
	require.False(t, reloaded.InProgress)
	require.Equal(t, int64(7), reloaded.Version)
}

func TestDiffCall_NoChangesYieldsEmptyDelta(t *testing.T) {
	call := callmodel.New(callmodel.Initiate{LanguageDefault: "en"})
	baseline := cloneCall(call)

	delta := diffCall(baseline, call)

	require.Nil(t, delta.newMessages)
	require.Nil(t, delta.newReminders)
	require.Nil(t, delta.newFingerprints)
	require.Nil(t, delta.claimChanges)
	require.Nil(t, delta.next)
	require.Nil(t, delta.synthesis)
}

func TestCallScope_Persist_RetriesOnceOnConflictThenSucceeds(t *testing.T) {
	call := callmodel.New(callmodel.Initiate{LanguageDefault: "en"})
	store := newFakeStore()
	require.NoError(t, store.Save(context.Background(), call))
	store.conflictsRemaining = 1

	scope := newCallScope(call, media.NewSimulator(), &lease.Lease{}, newTestDeps(store, &fakeLeaseManager{}, &fakeLLM{}, nil), testScopeConfig(), nil)
	scope.call.Messages = append(scope.call.Messages, callmodel.Message{Content: "appended after lastSaved", Committed: true})

	err := scope.persist(context.Background())
	require.NoError(t, err)
	require.Len(t, scope.call.Messages, 1)
	// one seed Save plus persist's own conflict-then-success pair.
	require.Equal(t, 3, store.saveCalls)
}

func TestCallScope_Persist_AbortsAfterThreeConsecutiveConflicts(t *testing.T) {
	call := callmodel.New(callmodel.Initiate{LanguageDefault: "en"})
	store := newFakeStore()
	require.NoError(t, store.Save(context.Background(), call))
	store.conflictsRemaining = 99

	scope := newCallScope(call, media.NewSimulator(), &lease.Lease{}, newTestDeps(store, &fakeLeaseManager{}, &fakeLLM{}, nil), testScopeConfig(), nil)

	err := scope.persist(context.Background())
	require.Error(t, err)
	// one seed Save plus persist's own 3 conflicting attempts.
	require.Equal(t, 4, store.saveCalls)
}

func TestCallScope_Persist_NonConflictErrorAbortsImmediately(t *testing.T) {
	call := callmodel.New(callmodel.Initiate{LanguageDefault: "en"})
	failingStore := &alwaysFailStore{err: context.DeadlineExceeded}
	scope := newCallScope(call, media.NewSimulator(), &lease.Lease{}, newTestDeps(failingStore, &fakeLeaseManager{}, &fakeLLM{}, nil), testScopeConfig(), nil)

	err := scope.persist(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, failingStore.saveCalls)
}

// alwaysFailStore returns a plain (non-callstore.Error) error from Save, so
// persist's IsConflict check takes the non-conflict branch and aborts
// without retrying.
type alwaysFailStore struct {
	err       error
	saveCalls int
}

func (s *alwaysFailStore) GetLast(context.Context, string) (*callmodel.Call, error) { return nil, s.err }
func (s *alwaysFailStore) GetByID(context.Context, uuid.UUID) (*callmodel.Call, error) {
	return nil, s.err
}
func (s *alwaysFailStore) Save(context.Context, *callmodel.Call) error {
	s.saveCalls++
	return s.err
}
func (s *alwaysFailStore) ListByPhone(context.Context, string, int) ([]*callmodel.Call, error) {
	return nil, s.err
}
