package events

import (
	"sync"
	"testing"
	"time"

	"whatsapp-connector/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func update(status types.Status) types.StateUpdate {
	return types.StateUpdate{Status: status, At: time.Now()}
}

func TestDeliversInPublishOrder(t *testing.T) {
	d := NewDispatcher(16, 2)

	var mu sync.Mutex
	var got []types.Status
	d.Subscribe(func(u types.StateUpdate) {
		mu.Lock()
		got = append(got, u.Status)
		mu.Unlock()
	})

	want := []types.Status{
		types.StatusInitiating,
		types.StatusQRReady,
		types.StatusConnected,
	}
	for _, s := range want {
		d.Publish(update(s))
	}
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, got)
}

func TestEachSubscriberGetsEveryUpdate(t *testing.T) {
	d := NewDispatcher(16, 2)

	var mu sync.Mutex
	counts := make(map[int]int)
	for i := 0; i < 2; i++ {
		i := i
		d.Subscribe(func(types.StateUpdate) {
			mu.Lock()
			counts[i]++
			mu.Unlock()
		})
	}

	for j := 0; j < 5; j++ {
		d.Publish(update(types.StatusConnected))
	}
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, counts[0])
	assert.Equal(t, 5, counts[1])
}

func TestSlowSubscriberDropsOldestNotNewest(t *testing.T) {
	d := NewDispatcher(1, 1)

	release := make(chan struct{})
	var mu sync.Mutex
	var got []types.Status
	d.Subscribe(func(u types.StateUpdate) {
		<-release
		mu.Lock()
		got = append(got, u.Status)
		mu.Unlock()
	})

	// None of these may block, however slow the subscriber is.
	done := make(chan struct{})
	go func() {
		d.Publish(update(types.StatusInitiating))
		d.Publish(update(types.StatusQRReady))
		d.Publish(update(types.StatusConnected))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	close(release)
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	assert.Equal(t, types.StatusConnected, got[len(got)-1],
		"the most recent update must survive the drops")
}

func TestZeroBufferStillDeliversLatest(t *testing.T) {
	d := NewDispatcher(0, 1)

	release := make(chan struct{})
	var mu sync.Mutex
	var got []types.Status
	d.Subscribe(func(u types.StateUpdate) {
		<-release
		mu.Lock()
		got = append(got, u.Status)
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.Publish(update(types.StatusInitiating))
		d.Publish(update(types.StatusConnected))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked with a zero buffer")
	}

	close(release)
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	assert.Equal(t, types.StatusConnected, got[len(got)-1])
}

func TestOverSubscriptionIsRefusedNotDeadlocked(t *testing.T) {
	d := NewDispatcher(4, 1)

	var mu sync.Mutex
	first, second := 0, 0
	d.Subscribe(func(types.StateUpdate) {
		mu.Lock()
		first++
		mu.Unlock()
	})
	// Exceeds the worker pool; must return immediately instead of blocking
	// with the dispatcher mutex held.
	d.Subscribe(func(types.StateUpdate) {
		mu.Lock()
		second++
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.Publish(update(types.StatusConnected))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish deadlocked after over-subscription")
	}
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, first)
	assert.Zero(t, second)
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	d := NewDispatcher(4, 1)

	var mu sync.Mutex
	n := 0
	d.Subscribe(func(types.StateUpdate) {
		mu.Lock()
		n++
		mu.Unlock()
	})

	d.Publish(update(types.StatusConnected))
	d.Close()
	d.Publish(update(types.StatusDisconnected))
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, n)
}

func TestSubscribeAfterCloseIsIgnored(t *testing.T) {
	d := NewDispatcher(4, 1)
	d.Close()

	called := false
	d.Subscribe(func(types.StateUpdate) { called = true })
	d.Publish(update(types.StatusConnected))
	assert.False(t, called)
}
