package lease

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryManager_AcquireThenBusy(t *testing.T) {
	m := NewMemoryManager()

	l, err := m.Acquire(context.Background(), "call:abc", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, l.HolderToken)

	_, err = m.Acquire(context.Background(), "call:abc", time.Minute)
	require.ErrorIs(t, err, ErrBusy)
}

func TestMemoryManager_ReleaseAllowsReacquire(t *testing.T) {
	m := NewMemoryManager()
	l, err := m.Acquire(context.Background(), "call:abc", time.Minute)
	require.NoError(t, err)

	require.NoError(t, m.Release(context.Background(), l))

	_, err = m.Acquire(context.Background(), "call:abc", time.Minute)
	require.NoError(t, err)
}

func TestMemoryManager_RenewExtendsExpiry(t *testing.T) {
	m := NewMemoryManager()
	l, err := m.Acquire(context.Background(), "call:abc", time.Minute)
	require.NoError(t, err)

	prevExpiry := l.ExpiresAt
	require.NoError(t, m.Renew(context.Background(), l, 2*time.Minute))
	require.True(t, l.ExpiresAt.After(prevExpiry))
}

func TestMemoryManager_RenewAfterReleaseReturnsErrLost(t *testing.T) {
	m := NewMemoryManager()
	l, err := m.Acquire(context.Background(), "call:abc", time.Minute)
	require.NoError(t, err)
	require.NoError(t, m.Release(context.Background(), l))

	err = m.Renew(context.Background(), l, time.Minute)
	require.ErrorIs(t, err, ErrLost)
}

func TestMemoryManager_AcquireAfterExpiryBecomesFree(t *testing.T) {
	m := NewMemoryManager()
	l, err := m.Acquire(context.Background(), "call:abc", time.Millisecond)
	require.NoError(t, err)
	_ = l

	time.Sleep(5 * time.Millisecond)

	_, err = m.Acquire(context.Background(), "call:abc", time.Minute)
	require.NoError(t, err)
}
