package syncclient

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestMonitorBroadcastsToAllWaiters(t *testing.T) {
	m := NewMonitor()
	waiters := make([]chan struct{}, 8)
	for i := range waiters {
		waiters[i] = m.NotifyAll()
	}
	m.notifyAll()
	for _, w := range waiters {
		select {
		case <-w:
		default:
			t.Fatal("waiter was not notified")
		}
	}
	// a new waiter registered after notifyAll gets a fresh, unclosed channel
	fresh := m.NotifyAll()
	select {
	case <-fresh:
		t.Fatal("fresh waiter channel should not be closed")
	default:
	}
}

func TestCallbackListAddRemoveIsIdempotent(t *testing.T) {
	var list CallbackList[int]
	list.add(1)
	list.add(2)
	list.add(1) // duplicate, no-op
	assert.Equal(t, list.get(), []int{1, 2})

	list.remove(1)
	assert.Equal(t, list.get(), []int{2})

	list.remove(99) // not present, no-op
	assert.Equal(t, list.get(), []int{2})
}
