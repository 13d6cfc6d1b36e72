package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterGlobalWait(t *testing.T) {
	l := New(Config{GlobalRPS: 10, GlobalBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/1"))

	// 10 RPS means the next token arrives ~100ms later, whichever host asks.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/1"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	l := New(Config{HostRPS: 1, HostBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterHonorsContext(t *testing.T) {
	l := New(Config{GlobalRPS: 0.1, GlobalBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://a.example/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://a.example/"))
}

func TestUnlimitedByDefault(t *testing.T) {
	l := New(Config{})
	start := time.Now()
	for range 50 {
		require.NoError(t, l.Wait(context.Background(), "https://a.example/"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}
