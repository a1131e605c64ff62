package stimer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFiresOnce(t *testing.T) {
	var n int32
	var tm Timer
	tm.Start(10, func() { atomic.AddInt32(&n, 1) })
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&n))
}

func TestRestartReplacesPrior(t *testing.T) {
	var fired []int
	var tm Timer
	tm.Start(10, func() { fired = append(fired, 1) })
	tm.Start(30, func() { fired = append(fired, 2) })
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, []int{2}, fired)
}

func TestCancelPreventsFire(t *testing.T) {
	var n int32
	var tm Timer
	tm.Start(10, func() { atomic.AddInt32(&n, 1) })
	tm.Cancel()
	time.Sleep(30 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&n))
}

func TestCancelIsIdempotent(t *testing.T) {
	var tm Timer
	require.NotPanics(t, func() {
		tm.Cancel()
		tm.Cancel()
	})
}
