package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

func TestMemory_Lockout(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)
	l := NewMemory(Config{Window: time.Minute, MaxFails: 3, BlockFor: 5 * time.Minute})
	l.now = func() time.Time { return now }
	ip := HashIP("10.0.0.1")

	for i := 0; i < 2; i++ {
		blocked, _, err := l.Failure(ctx, "alice", ip)
		require.NoError(t, err)
		require.False(t, blocked)
	}
	blocked, dur, err := l.Failure(ctx, "alice", ip)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 5*time.Minute, dur)

	ok, retry, err := l.Allow(ctx, "alice", ip)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 5*time.Minute, retry)

	ok, _, err = l.Allow(ctx, "alice", HashIP("10.0.0.2"))
	require.NoError(t, err)
	require.True(t, ok, "other client is not blocked")

	now = now.Add(6 * time.Minute)
	ok, _, err = l.Allow(ctx, "alice", ip)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemory_WindowResetsAndSuccessClears(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)
	l := NewMemory(Config{Window: time.Minute, MaxFails: 2, BlockFor: time.Minute})
	l.now = func() time.Time { return now }
	ip := HashIP("10.0.0.1")

	_, _, _ = l.Failure(ctx, "bob", ip)
	now = now.Add(2 * time.Minute)
	blocked, _, err := l.Failure(ctx, "bob", ip)
	require.NoError(t, err)
	require.False(t, blocked, "failures outside the window start over")

	require.NoError(t, l.Success(ctx, "bob", ip))
	blocked, _, err = l.Failure(ctx, "bob", ip)
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestMessageRate(t *testing.T) {
	m := NewMessageRate(2, time.Minute)
	defer m.Stop()
	alice := uuid.Must(uuid.NewV4())
	bob := uuid.Must(uuid.NewV4())

	require.True(t, m.Allow(alice))
	require.True(t, m.Allow(alice))
	require.False(t, m.Allow(alice), "burst exhausted")
	require.True(t, m.Allow(bob), "buckets are per user")
	require.Equal(t, 2, m.Len())

	m.cleanup(time.Now().Add(2 * time.Minute))
	require.Equal(t, 0, m.Len())
}
