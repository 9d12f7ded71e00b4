package config

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestStore_LoadReturnsDefaultsBeforeAnyRefresh(t *testing.T) {
	s := NewStore(nil, 0)
	require.Equal(t, DefaultSnapshot(), s.Load())
	require.Equal(t, 60*time.Second, s.TTL())
}

func TestStore_RefreshAppliesOverridesAndKeepsDefaultsForMissingKeys(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"key", "value"}).
		AddRow("answer_hard_timeout_sec", "30").
		AddRow("recording_enabled", "true").
		AddRow("vad_threshold", "0.7")
	mock.ExpectQuery("SELECT key, value FROM feature_flags").WillReturnRows(rows)

	s := NewStore(mock, time.Minute)
	require.NoError(t, s.Refresh(context.Background()))

	snap := s.Load()
	require.Equal(t, 30, snap.AnswerHardTimeoutSec)
	require.True(t, snap.RecordingEnabled)
	require.Equal(t, 0.7, snap.VADThreshold)
	require.Equal(t, DefaultSnapshot().AnswerSoftTimeoutSec, snap.AnswerSoftTimeoutSec)
	require.Equal(t, DefaultSnapshot().RecognitionRetryMax, snap.RecognitionRetryMax)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RefreshSkipsUnparsableValueKeepingDefault(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"key", "value"}).
		AddRow("callback_timeout_hour", "not-a-number")
	mock.ExpectQuery("SELECT key, value FROM feature_flags").WillReturnRows(rows)

	s := NewStore(mock, time.Minute)
	require.NoError(t, s.Refresh(context.Background()))

	require.Equal(t, DefaultSnapshot().CallbackTimeoutHour, s.Load().CallbackTimeoutHour)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RefreshQueryErrorLeavesPriorSnapshotInPlace(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT key, value FROM feature_flags").WillReturnError(context.DeadlineExceeded)

	s := NewStore(mock, time.Minute)
	err = s.Refresh(context.Background())
	require.Error(t, err)
	require.Equal(t, DefaultSnapshot(), s.Load())
}

func TestStore_RefreshLoopStopsOnContextCancel(t *testing.T) {
	s := NewStore(nil, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.RefreshLoop(ctx, nil)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected RefreshLoop to return after context cancellation")
	}
}
