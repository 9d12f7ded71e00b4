package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brightline-labs/voicecore/pkg/logging"
)

const (
	defaultTelnyxCallControlBaseURL = "https://api.telnyx.com/v2/calls"
	telnyxActionTimeout             = 15 * time.Second
)

// TelnyxBridgeConfig configures a Bridge backed by one active Telnyx call leg.
type TelnyxBridgeConfig struct {
	APIKey        string
	CallControlID string
	// ThinkingToneURL and NoiseFloorURL point at short looping audio assets
	// played via Telnyx's playback_start action.
	ThinkingToneURL string
	NoiseFloorURL   string
	BaseURL         string
	HTTPClient      *http.Client
	Logger          *logging.Logger
}

// TelnyxBridge implements Bridge over the Telnyx Call Control API, ported
// near-verbatim from telnyx_voice_client.go's HTTP-POST-with-bearer-auth
// shape (typed request/response, masked-phone logging) and generalized
// from a single InitiateCallback method to the full speak/playback/stop
// surface this abstraction needs. Recognition events arrive as Telnyx
// webhook callbacks; a TelnyxBridge does not receive them directly — the
// caller feeds decoded webhook payloads in via PushEvent, the way the
// teacher's telnyx_webhooks.go handler decodes and routes webhook bodies.
type TelnyxBridge struct {
	apiKey        string
	callControlID string
	thinkingURL   string
	noiseFloorURL string
	baseURL       string
	httpClient    *http.Client
	logger        *logging.Logger

	events chan RecognitionEvent

	mu      sync.Mutex
	handles map[Handle]string // handle -> telnyx action name, for logging
	closed  bool
}

// NewTelnyxBridge creates a bridge bound to one active call leg.
func NewTelnyxBridge(cfg TelnyxBridgeConfig) (*TelnyxBridge, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("media: telnyx bridge requires an API key")
	}
	if strings.TrimSpace(cfg.CallControlID) == "" {
		return nil, fmt.Errorf("media: telnyx bridge requires a call control id")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultTelnyxCallControlBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: telnyxActionTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &TelnyxBridge{
		apiKey:        cfg.APIKey,
		callControlID: cfg.CallControlID,
		thinkingURL:   cfg.ThinkingToneURL,
		noiseFloorURL: cfg.NoiseFloorURL,
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    httpClient,
		logger:        logger,
		events:        make(chan RecognitionEvent, 32),
		handles:       make(map[Handle]string),
	}, nil
}

func (b *TelnyxBridge) Events() <-chan RecognitionEvent { return b.events }

// PushEvent feeds one decoded webhook payload into the bridge's event
// stream. The call orchestrator's webhook handler calls this after
// translating a `call.speak.ended`/`call.transcription` style Telnyx event
// into the bridge's own Kind vocabulary.
func (b *TelnyxBridge) PushEvent(ctx context.Context, e RecognitionEvent) {
	select {
	case b.events <- e:
	case <-ctx.Done():
	}
}

func (b *TelnyxBridge) Synthesize(ctx context.Context, req SynthesizeRequest) (Handle, error) {
	handle := Handle(uuid.New().String())
	payload := map[string]any{
		"payload":      req.Text,
		"voice":        req.Voice,
		"language":     req.Language,
		"payload_type": "text",
		"client_state": string(handle),
	}
	if err := b.post(ctx, "speak", payload); err != nil {
		return "", err
	}
	b.mu.Lock()
	b.handles[handle] = "speak"
	b.mu.Unlock()
	return handle, nil
}

func (b *TelnyxBridge) Cancel(ctx context.Context, handle Handle) error {
	b.mu.Lock()
	action, ok := b.handles[handle]
	delete(b.handles, handle)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	switch action {
	case "speak":
		return b.post(ctx, "speak_stop", map[string]any{})
	case "playback":
		return b.post(ctx, "playback_stop", map[string]any{"overlay": false})
	default:
		return nil
	}
}

func (b *TelnyxBridge) PlayThinkingTone(ctx context.Context) (Handle, error) {
	return b.playLoop(ctx, b.thinkingURL)
}

func (b *TelnyxBridge) PlayNoiseFloor(ctx context.Context) (Handle, error) {
	return b.playLoop(ctx, b.noiseFloorURL)
}

func (b *TelnyxBridge) playLoop(ctx context.Context, audioURL string) (Handle, error) {
	if audioURL == "" {
		return "", fmt.Errorf("media: telnyx bridge has no audio asset configured for this tone")
	}
	handle := Handle(uuid.New().String())
	payload := map[string]any{
		"audio_url":    audioURL,
		"loop":         "infinity",
		"overlay":      false,
		"client_state": string(handle),
	}
	if err := b.post(ctx, "playback_start", payload); err != nil {
		return "", err
	}
	b.mu.Lock()
	b.handles[handle] = "playback"
	b.mu.Unlock()
	return handle, nil
}

func (b *TelnyxBridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	close(b.events)
	return nil
}

func (b *TelnyxBridge) post(ctx context.Context, action string, payload map[string]any) error {
	url := fmt.Sprintf("%s/%s/actions/%s", b.baseURL, b.callControlID, action)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("media: telnyx bridge: marshal %s payload: %w", action, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("media: telnyx bridge: create %s request: %w", action, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("media: telnyx bridge: %s request: %w", action, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("media: telnyx bridge: read %s response: %w", action, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b.logger.Error("media: telnyx bridge action failed",
			"action", action,
			"status", resp.StatusCode,
			"body", string(respBody),
			"call_control_id", b.callControlID,
		)
		return fmt.Errorf("media: telnyx bridge: %s returned %d: %s", action, resp.StatusCode, string(respBody))
	}
	return nil
}
