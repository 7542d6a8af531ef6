package syncclient

import (
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestNotifierAdvancesNewNotifierFromSourceToCurrent(t *testing.T) {
	history := NewMemHistory()
	coordinator := NewCoordinator("/tmp/notifier1", history)
	defer coordinator.Close()

	var mutex sync.Mutex
	var gotFrom, gotTo ClientVersion
	fired := make(chan struct{}, 1)

	coordinator.notifier.AdvanceTo(10)

	coordinator.notifier.Register(2, func(from, to ClientVersion) {
		mutex.Lock()
		gotFrom, gotTo = from, to
		mutex.Unlock()
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("notifier never advanced a newly registered collection notifier")
	}

	mutex.Lock()
	defer mutex.Unlock()
	assert.Equal(t, gotFrom, ClientVersion(2))
	assert.Equal(t, gotTo, ClientVersion(10))
}

// Open Question 2 decision: a registered notifier whose source version already matches or
// exceeds the current handover version is a deliberate no-op; onChange never fires for it.
func TestNotifierNoopWhenSourceAlreadyAtCurrent(t *testing.T) {
	history := NewMemHistory()
	coordinator := NewCoordinator("/tmp/notifier2", history)
	defer coordinator.Close()

	coordinator.notifier.AdvanceTo(5)

	fired := false
	coordinator.notifier.Register(5, func(from, to ClientVersion) {
		fired = true
	})

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, fired, false)
}

func TestNotifierSkipToSuppressesOwnWritePrefix(t *testing.T) {
	history := NewMemHistory()
	coordinator := NewCoordinator("/tmp/notifier3", history)
	defer coordinator.Close()

	var mutex sync.Mutex
	var gotFrom ClientVersion
	fired := make(chan struct{}, 1)

	coordinator.notifier.Register(0, func(from, to ClientVersion) {
		mutex.Lock()
		gotFrom = from
		mutex.Unlock()
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	coordinator.notifier.SkipTo(3)
	coordinator.notifier.AdvanceTo(10)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("notifier never fired after AdvanceTo")
	}

	mutex.Lock()
	defer mutex.Unlock()
	assert.Equal(t, gotFrom, ClientVersion(3))
}
