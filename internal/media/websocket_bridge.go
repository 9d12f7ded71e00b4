package media

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/brightline-labs/voicecore/internal/timers"
	"github.com/brightline-labs/voicecore/pkg/logging"
)

// wireFrame is the JSON control protocol exchanged with the remote STT/TTS
// engine. Inbound frames (type in {partial,final,silence,
// recognition_complete}) carry recognition text; outbound frames (type in
// {synthesize,cancel,tone}) carry playback control.
type wireFrame struct {
	Type     string `json:"type"`
	Handle   string `json:"handle,omitempty"`
	Text     string `json:"text,omitempty"`
	Style    string `json:"style,omitempty"`
	Language string `json:"language,omitempty"`
	Voice    string `json:"voice,omitempty"`
	Tone     string `json:"tone,omitempty"`
	Loop     bool   `json:"loop,omitempty"`
}

// WebSocketBridgeConfig configures a connection to a remote STT/TTS engine.
type WebSocketBridgeConfig struct {
	URL                  string
	Header               http.Header
	Logger               *logging.Logger
	ReconnectBackoffBase time.Duration
	ReconnectBackoffMax  time.Duration
}

// WebSocketBridge is a Bridge transported over a gorilla/websocket
// connection, styled after internal/webchat's per-session goroutine pump
// (serveWS's registered-connection-plus-read-loop shape), generalized here
// from chat text to typed RecognitionEvents and given transparent reconnect,
// which the webchat handler never needed (a lost widget connection simply
// ends the session there).
type WebSocketBridge struct {
	cfg    WebSocketBridgeConfig
	logger *logging.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	pending map[Handle]struct{}

	events chan RecognitionEvent
	stop   context.CancelFunc
}

// DialWebSocketBridge connects to the remote engine and starts the read pump.
func DialWebSocketBridge(ctx context.Context, cfg WebSocketBridgeConfig) (*WebSocketBridge, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("media: websocket bridge requires a URL")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.ReconnectBackoffBase <= 0 {
		cfg.ReconnectBackoffBase = 200 * time.Millisecond
	}
	if cfg.ReconnectBackoffMax <= 0 {
		cfg.ReconnectBackoffMax = 5 * time.Second
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("media: dial websocket bridge: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	b := &WebSocketBridge{
		cfg:     cfg,
		logger:  logger,
		conn:    conn,
		pending: make(map[Handle]struct{}),
		events:  make(chan RecognitionEvent, 32),
		stop:    cancel,
	}
	go b.readPump(pumpCtx)
	return b, nil
}

func (b *WebSocketBridge) Events() <-chan RecognitionEvent { return b.events }

func (b *WebSocketBridge) readPump(ctx context.Context) {
	defer close(b.events)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		var frame wireFrame
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		if conn == nil {
			return
		}
		if err := conn.ReadJSON(&frame); err != nil {
			b.logger.Warn("media: websocket bridge read error, reconnecting", "error", err, "attempt", attempt)
			if !b.reconnect(ctx, &attempt) {
				return
			}
			continue
		}
		attempt = 0

		kind := Kind(frame.Type)
		switch kind {
		case KindPartial, KindFinal, KindSilence, KindRecognitionComplete:
		default:
			continue
		}
		select {
		case b.events <- RecognitionEvent{
			Kind:                      kind,
			Text:                      frame.Text,
			DetectedLanguageShortCode: frame.Language,
			Timestamp:                 time.Now().UnixMilli(),
		}:
		case <-ctx.Done():
			return
		}
	}
}

func (b *WebSocketBridge) reconnect(ctx context.Context, attempt *int) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.mu.Unlock()

	*attempt++
	if err := timers.Sleep(ctx, timers.Backoff(*attempt, b.cfg.ReconnectBackoffBase, b.cfg.ReconnectBackoffMax)); err != nil {
		return false
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.cfg.URL, b.cfg.Header)
	if err != nil {
		b.logger.Warn("media: websocket bridge reconnect failed", "error", err, "attempt", *attempt)
		return ctx.Err() == nil
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	b.logger.Info("media: websocket bridge reconnected", "attempt", *attempt)
	return true
}

func (b *WebSocketBridge) writeFrame(frame wireFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.conn == nil {
		return fmt.Errorf("media: websocket bridge is closed")
	}
	return b.conn.WriteJSON(frame)
}

func (b *WebSocketBridge) Synthesize(_ context.Context, req SynthesizeRequest) (Handle, error) {
	handle := Handle(uuid.New().String())
	if err := b.writeFrame(wireFrame{
		Type:     "synthesize",
		Handle:   string(handle),
		Text:     req.Text,
		Style:    req.Style,
		Language: req.Language,
		Voice:    req.Voice,
	}); err != nil {
		return "", err
	}
	b.mu.Lock()
	b.pending[handle] = struct{}{}
	b.mu.Unlock()
	return handle, nil
}

func (b *WebSocketBridge) Cancel(_ context.Context, handle Handle) error {
	b.mu.Lock()
	delete(b.pending, handle)
	b.mu.Unlock()
	return b.writeFrame(wireFrame{Type: "cancel", Handle: string(handle)})
}

func (b *WebSocketBridge) PlayThinkingTone(_ context.Context) (Handle, error) {
	return b.playTone("thinking")
}

func (b *WebSocketBridge) PlayNoiseFloor(_ context.Context) (Handle, error) {
	return b.playTone("noise_floor")
}

func (b *WebSocketBridge) playTone(tone string) (Handle, error) {
	handle := Handle(uuid.New().String())
	if err := b.writeFrame(wireFrame{Type: "tone", Handle: string(handle), Tone: tone, Loop: true}); err != nil {
		return "", err
	}
	return handle, nil
}

func (b *WebSocketBridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	conn := b.conn
	b.mu.Unlock()
	b.stop()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
