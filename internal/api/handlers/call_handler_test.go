package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/brightline-labs/voicecore/internal/callmodel"
	"github.com/brightline-labs/voicecore/internal/callstore"
	"github.com/brightline-labs/voicecore/internal/queue"
)

type fakeCallStore struct {
	byPhone map[string][]*callmodel.Call
	listErr error
}

func (f *fakeCallStore) GetLast(context.Context, string) (*callmodel.Call, error) { return nil, callstore.ErrNotFound }
func (f *fakeCallStore) GetByID(context.Context, uuid.UUID) (*callmodel.Call, error) {
	return nil, callstore.ErrNotFound
}
func (f *fakeCallStore) Save(context.Context, *callmodel.Call) error { return nil }
func (f *fakeCallStore) ListByPhone(_ context.Context, phone string, _ int) ([]*callmodel.Call, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.byPhone[phone], nil
}

func TestCallHandler_CreateCall_EnqueuesIncomingCallAndReturnsID(t *testing.T) {
	q := queue.NewMemoryQueue(4)
	h := NewCallHandler(&fakeCallStore{}, q, nil)

	body := strings.NewReader(`{"phone_number":"+15551234567","bot_name":"Voicecore","claim":[{"name":"policy_number","type":"text"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/call", body)
	rec := httptest.NewRecorder()

	h.CreateCall(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp CreateCallResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.CallID)

	msgs, err := q.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var env queue.Envelope
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Body), &env))
	require.NotNil(t, env.IncomingCall)
	require.Equal(t, resp.CallID, env.IncomingCall.CallID)
	require.Equal(t, "+15551234567", env.IncomingCall.CallerPhone)
	require.Equal(t, "Voicecore", env.IncomingCall.BotName)
	require.Len(t, env.IncomingCall.ClaimSchema, 1)
}

func TestCallHandler_CreateCall_RejectsMissingPhoneNumber(t *testing.T) {
	h := NewCallHandler(&fakeCallStore{}, queue.NewMemoryQueue(1), nil)

	req := httptest.NewRequest(http.MethodPost, "/call", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.CreateCall(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallHandler_CreateCall_RejectsMalformedBody(t *testing.T) {
	h := NewCallHandler(&fakeCallStore{}, queue.NewMemoryQueue(1), nil)

	req := httptest.NewRequest(http.MethodPost, "/call", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()

	h.CreateCall(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallHandler_ListCalls_ReturnsCallsForPhoneNumber(t *testing.T) {
	call := callmodel.New(callmodel.Initiate{CallerPhoneNumber: "+15551234567"})
	store := &fakeCallStore{byPhone: map[string][]*callmodel.Call{"+15551234567": {call}}}
	h := NewCallHandler(store, queue.NewMemoryQueue(1), nil)

	req := httptest.NewRequest(http.MethodGet, "/call?phone_number=%2B15551234567", nil)
	rec := httptest.NewRecorder()

	h.ListCalls(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ListCallsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Calls, 1)
	require.Equal(t, call.CallID, resp.Calls[0].CallID)
}

func TestCallHandler_ListCalls_RejectsMissingPhoneNumber(t *testing.T) {
	h := NewCallHandler(&fakeCallStore{}, queue.NewMemoryQueue(1), nil)

	req := httptest.NewRequest(http.MethodGet, "/call", nil)
	rec := httptest.NewRecorder()

	h.ListCalls(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
