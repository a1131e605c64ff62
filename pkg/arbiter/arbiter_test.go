package arbiter

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGrantsImmediatelyWhenIdle(t *testing.T) {
	ch := NewChannel()
	granted := make(chan bool, 1)
	ch.Lock("a", 0, func(g bool) { granted <- g })
	require.True(t, <-granted)
	owner, ok := ch.Owner()
	require.True(t, ok)
	require.Equal(t, Owner("a"), owner)
}

func TestPriorityWinsOverArrivalOrder(t *testing.T) {
	ch := NewChannel()
	first := make(chan bool, 1)
	ch.Lock("owner", 0, func(g bool) { first <- g })
	require.True(t, <-first)

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	wg.Add(2)

	ch.Lock("low", 50, func(g bool) {
		mu.Lock()
		order = append(order, "low")
		mu.Unlock()
		wg.Done()
	})
	ch.Lock("high", 100, func(g bool) {
		mu.Lock()
		order = append(order, "high")
		mu.Unlock()
		wg.Done()
		ch.Unlock("high")
	})

	ch.Unlock("owner")
	wg.Wait()
	require.Equal(t, []string{"high"}, order[:1])
}

func TestSameOwnerRequestIsNoOp(t *testing.T) {
	ch := NewChannel()
	granted := make(chan bool, 2)
	ch.Lock("a", 0, func(g bool) { granted <- g })
	require.True(t, <-granted)
	ch.Lock("a", 0, func(g bool) { granted <- g })
	select {
	case <-granted:
		t.Fatal("second Lock from the current owner should be a no-op")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCancelledWaiterReceivesTimeoutOnce(t *testing.T) {
	ch := NewChannel()
	owner := make(chan bool, 1)
	ch.Lock("owner", 0, func(g bool) { owner <- g })
	require.True(t, <-owner)

	results := make(chan bool, 1)
	ch.Lock("waiter", 0, func(g bool) { results <- g })
	ch.Cancel("waiter")
	require.False(t, <-results)

	ch.Unlock("owner")
	select {
	case <-results:
		t.Fatal("cancelled waiter must not be granted after sweep")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestRegistryReusesChannelByName(t *testing.T) {
	r := NewRegistry()
	a := r.Channel("serial:/dev/ttyUSB0")
	b := r.Channel("serial:/dev/ttyUSB0")
	require.Same(t, a, b)
}
