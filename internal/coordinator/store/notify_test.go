package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c3po-dev/c3po/internal/coordinator/store"
)

func TestNotifier_WakeUnblocksWaiter(t *testing.T) {
	n := store.NewNotifier()
	ch, cancel := n.Wait("alice/proj")
	defer cancel()

	assert.Equal(t, 1, n.WaitCount("alice/proj"))

	done := make(chan struct{})
	go func() {
		n.Wake("alice/proj")
		close(done)
	}()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
	<-done
}

func TestNotifier_WakeWithNoWaitersIsNoop(t *testing.T) {
	n := store.NewNotifier()
	assert.NotPanics(t, func() { n.Wake("nobody/home") })
}

func TestNotifier_WakeFansOutToAllWaiters(t *testing.T) {
	n := store.NewNotifier()
	ch1, cancel1 := n.Wait("alice/proj")
	defer cancel1()
	ch2, cancel2 := n.Wait("alice/proj")
	defer cancel2()

	require.Equal(t, 2, n.WaitCount("alice/proj"))
	n.Wake("alice/proj")

	for _, ch := range []<-chan struct{}{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("waiter was not woken")
		}
	}
	assert.Equal(t, 0, n.WaitCount("alice/proj"))
}

func TestNotifier_CancelRemovesWaiter(t *testing.T) {
	n := store.NewNotifier()
	_, cancel := n.Wait("alice/proj")
	require.Equal(t, 1, n.WaitCount("alice/proj"))

	cancel()
	assert.Equal(t, 0, n.WaitCount("alice/proj"))

	// Cancelling twice must not panic.
	assert.NotPanics(t, cancel)
}

func TestNotifier_WaitersForDifferentAgentsAreIndependent(t *testing.T) {
	n := store.NewNotifier()
	aliceCh, cancelAlice := n.Wait("alice/proj")
	defer cancelAlice()
	_, cancelBob := n.Wait("bob/proj")
	defer cancelBob()

	n.Wake("alice/proj")

	select {
	case <-aliceCh:
	case <-time.After(time.Second):
		t.Fatal("alice's waiter was not woken")
	}
	assert.Equal(t, 1, n.WaitCount("bob/proj"))
}
