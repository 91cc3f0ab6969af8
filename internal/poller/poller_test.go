package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/broker"
	"main/pkg/exception"
)

func testCache(t *testing.T) (*broker.Cache, broker.Config) {
	t.Helper()
	cfg := broker.Config{
		"broker":     broker.NameMock,
		"account_id": "ACC-1",
	}
	return broker.NewCache(nil), cfg
}

func TestTriggerNowRefreshesSnapshot(t *testing.T) {
	cache, cfg := testCache(t)
	p := New(cache, time.Hour, []broker.Config{cfg})

	_, ok := p.Latest("ACC-1")
	assert.False(t, ok, "no snapshot before first poll")

	require.NoError(t, p.TriggerNow(context.Background(), "ACC-1"))

	snap, ok := p.Latest("ACC-1")
	require.True(t, ok)
	assert.False(t, snap.PolledAt.IsZero())
	assert.True(t, snap.Account.Equity.IsPositive())
}

func TestTriggerNowUnknownAccount(t *testing.T) {
	cache, cfg := testCache(t)
	p := New(cache, time.Hour, []broker.Config{cfg})

	err := p.TriggerNow(context.Background(), "nope")
	assert.ErrorIs(t, err, exception.ErrPollerUnknownAccount)
}

func TestConcurrentTriggersSerialized(t *testing.T) {
	cache, cfg := testCache(t)
	p := New(cache, time.Hour, []broker.Config{cfg})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.TriggerNow(context.Background(), "ACC-1"))
		}()
	}
	wg.Wait()

	_, ok := p.Latest("ACC-1")
	assert.True(t, ok)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cache, cfg := testCache(t)
	p := New(cache, 10*time.Millisecond, []broker.Config{cfg})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	// Let at least the initial poll land.
	require.Eventually(t, func() bool {
		_, ok := p.Latest("ACC-1")
		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
