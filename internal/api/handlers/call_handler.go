// Package handlers implements the HTTP handlers behind the core's single
// API surface: creating an outbound call and listing recent calls for a
// phone number.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/brightline-labs/voicecore/internal/callmodel"
	"github.com/brightline-labs/voicecore/internal/callstore"
	"github.com/brightline-labs/voicecore/internal/queue"
	"github.com/brightline-labs/voicecore/pkg/logging"
)

// CreateCallRequest is the POST /call request body.
type CreateCallRequest struct {
	PhoneNumber      string                 `json:"phone_number"`
	BotCompany       string                 `json:"bot_company,omitempty"`
	BotName          string                 `json:"bot_name,omitempty"`
	Task             string                 `json:"task,omitempty"`
	AgentPhoneNumber string                 `json:"agent_phone_number,omitempty"`
	Claim            []callmodel.ClaimField `json:"claim,omitempty"`
	Lang             string                 `json:"lang,omitempty"`
}

// CreateCallResponse is the POST /call response body.
type CreateCallResponse struct {
	CallID string `json:"call_id"`
}

// CallHandler handles the POST /call and GET /call endpoints.
type CallHandler struct {
	store      callstore.Store
	callEvents queue.Queue
	logger     *logging.Logger
}

// NewCallHandler creates a new call handler.
func NewCallHandler(store callstore.Store, callEvents queue.Queue, logger *logging.Logger) *CallHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CallHandler{store: store, callEvents: callEvents, logger: logger}
}

// CreateCall handles POST /call: it assigns a call id, enqueues an
// incoming_call event carrying the full initiate block, and returns the id
// immediately. The orchestrator creates and persists the Call itself once it
// dequeues the event; this handler never writes to the Call Store.
func (h *CallHandler) CreateCall(w http.ResponseWriter, r *http.Request) {
	var req CreateCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode create-call request", "error", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PhoneNumber == "" {
		http.Error(w, "phone_number is required", http.StatusBadRequest)
		return
	}

	callID := uuid.New()
	env := queue.Envelope{
		EventID: uuid.New().String(),
		IncomingCall: &queue.IncomingCall{
			CallerPhone:     req.PhoneNumber,
			CalleePhone:     req.AgentPhoneNumber,
			CallID:          callID.String(),
			BotName:         req.BotName,
			BotCompany:      req.BotCompany,
			TaskDescription: req.Task,
			ClaimSchema:     req.Claim,
			LanguageDefault: req.Lang,
		},
	}

	body, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to marshal incoming_call envelope", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := h.callEvents.Send(r.Context(), string(body)); err != nil {
		h.logger.Error("failed to enqueue incoming_call", "error", err, "call_id", callID)
		http.Error(w, "failed to start call", http.StatusInternalServerError)
		return
	}

	h.logger.Info("call enqueued", "call_id", callID, "phone_number", req.PhoneNumber)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(CreateCallResponse{CallID: callID.String()})
}

// ListCallsResponse is the GET /call response body.
type ListCallsResponse struct {
	Calls []*callmodel.Call `json:"calls"`
}

const defaultListLimit = 20

// ListCalls handles GET /call?phone_number=E164: a thin, read-only path over
// the Call Store's ListByPhone, no mutation.
func (h *CallHandler) ListCalls(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone_number")
	if phone == "" {
		http.Error(w, "phone_number query parameter is required", http.StatusBadRequest)
		return
	}

	calls, err := h.store.ListByPhone(r.Context(), phone, defaultListLimit)
	if err != nil {
		h.logger.Error("failed to list calls", "error", err, "phone_number", phone)
		http.Error(w, "failed to list calls", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ListCallsResponse{Calls: calls})
}
