package config

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// pgxQuerier is the slice of *pgxpool.Pool that Store needs, narrowed to an
// interface so tests can substitute pgxmock's pool fake (the same pattern
// clinicdata.Purger uses for its own db field).
type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Snapshot is the immutable, process-wide view of the runtime-tunable feature
// flags. It is never mutated in place — a refresh builds a new Snapshot and
// swaps it in, and a live call scope keeps the Snapshot it started with
// until its next turn.
type Snapshot struct {
	AnswerHardTimeoutSec  int
	AnswerSoftTimeoutSec  int
	CallbackTimeoutHour   int
	PhoneSilenceTimeoutSec int
	RecognitionRetryMax   int
	RecordingEnabled      bool
	SlowLLMForChat        bool
	VADCutoffTimeoutMs    int
	VADSilenceTimeoutMs   int
	VADThreshold          float64
}

// DefaultSnapshot returns the baseline flag values, used when no flags store
// is reachable (e.g. local dev) or before the first refresh.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		AnswerHardTimeoutSec:   15,
		AnswerSoftTimeoutSec:   4,
		CallbackTimeoutHour:    3,
		PhoneSilenceTimeoutSec: 20,
		RecognitionRetryMax:    3,
		RecordingEnabled:       false,
		SlowLLMForChat:         false,
		VADCutoffTimeoutMs:     250,
		VADSilenceTimeoutMs:    500,
		VADThreshold:           0.5,
	}
}

// flagRow mirrors one row of the feature_flags table.
type flagRow struct {
	Key   string
	Value string
}

// Store serves Snapshot, refreshed at most every ttl, from a Postgres
// feature_flags table (key, value, updated_at), migrated by cmd/migrate the
// way the teacher's conversation_jobs table is.
type Store struct {
	db  pgxQuerier
	ttl time.Duration

	current atomic.Pointer[Snapshot]
}

// NewStore builds a Store. db may be nil, in which case Load always returns
// DefaultSnapshot() — used for local dev without a Postgres instance.
func NewStore(db pgxQuerier, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	s := &Store{db: db, ttl: ttl}
	snap := DefaultSnapshot()
	s.current.Store(&snap)
	return s
}

// Load returns the current snapshot without blocking on a refresh; call
// Refresh (typically from a time.Ticker loop in cmd/voice-worker) to pick up
// changes.
func (s *Store) Load() Snapshot {
	return *s.current.Load()
}

// TTL returns the configured refresh interval.
func (s *Store) TTL() time.Duration { return s.ttl }

// Refresh re-reads feature_flags from Postgres and atomically swaps in a new
// Snapshot built from DefaultSnapshot() overridden by whatever rows are
// present. A row with a value that fails to parse for its key's type is
// skipped, leaving the default in place, rather than failing the whole
// refresh.
func (s *Store) Refresh(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	rows, err := s.db.Query(ctx, `SELECT key, value FROM feature_flags`)
	if err != nil {
		return fmt.Errorf("config: query feature_flags: %w", err)
	}
	defer rows.Close()

	snap := DefaultSnapshot()
	for rows.Next() {
		var row flagRow
		if err := rows.Scan(&row.Key, &row.Value); err != nil {
			return fmt.Errorf("config: scan feature flag row: %w", err)
		}
		applyFlag(&snap, row)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("config: iterate feature_flags: %w", err)
	}

	s.current.Store(&snap)
	return nil
}

// RefreshLoop runs Refresh on a ticker until ctx is cancelled; errors are
// passed to onError (which may be nil) and do not stop the loop, since a
// transient Postgres blip should not wedge the whole snapshot at a stale
// value.
func (s *Store) RefreshLoop(ctx context.Context, onError func(error)) {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}

func applyFlag(snap *Snapshot, row flagRow) {
	switch row.Key {
	case "answer_hard_timeout_sec":
		setInt(&snap.AnswerHardTimeoutSec, row.Value)
	case "answer_soft_timeout_sec":
		setInt(&snap.AnswerSoftTimeoutSec, row.Value)
	case "callback_timeout_hour":
		setInt(&snap.CallbackTimeoutHour, row.Value)
	case "phone_silence_timeout_sec":
		setInt(&snap.PhoneSilenceTimeoutSec, row.Value)
	case "recognition_retry_max":
		setInt(&snap.RecognitionRetryMax, row.Value)
	case "recording_enabled":
		setBool(&snap.RecordingEnabled, row.Value)
	case "slow_llm_for_chat":
		setBool(&snap.SlowLLMForChat, row.Value)
	case "vad_cutoff_timeout_ms":
		setInt(&snap.VADCutoffTimeoutMs, row.Value)
	case "vad_silence_timeout_ms":
		setInt(&snap.VADSilenceTimeoutMs, row.Value)
	case "vad_threshold":
		setFloat(&snap.VADThreshold, row.Value)
	}
}

func setInt(dst *int, raw string) {
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err == nil {
		*dst = v
	}
}

func setBool(dst *bool, raw string) {
	*dst = raw == "true" || raw == "1"
}

func setFloat(dst *float64, raw string) {
	var v float64
	if _, err := fmt.Sscanf(raw, "%g", &v); err == nil {
		*dst = v
	}
}
