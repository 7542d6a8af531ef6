package syncclient

import (
	"slices"
	"sync"
)

// Monitor is a broadcast-once notification primitive: NotifyAll() returns a channel that is
// closed the next time notifyAll() is called, and a fresh channel is installed for subsequent
// waiters. Used by the Realm Coordinator's notifier worker (§4.4, "External commit helper")
// to stand in for the out-of-band wake-up mechanism, and by ControlSync (control_sync.go) to
// let a superseded retry loop observe that it has been replaced.
type Monitor struct {
	mutex  sync.Mutex
	update chan struct{}
}

func NewMonitor() *Monitor {
	return &Monitor{
		update: make(chan struct{}),
	}
}

// NotifyAll returns a channel that closes on the next call to notifyAll.
func (self *Monitor) NotifyAll() chan struct{} {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.update
}

func (self *Monitor) notifyAll() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	close(self.update)
	self.update = make(chan struct{})
}

// CallbackList is a copy-on-write list of callbacks, safe to range over (via get()) while a
// concurrent add/remove replaces the backing slice. The engine's own observer registrations do
// not use it: subscription observers and completion waits are kept in plain slices.
type CallbackList[T comparable] struct {
	mutex     sync.Mutex
	callbacks []T
}

func (self *CallbackList[T]) get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.callbacks
}

func (self *CallbackList[T]) add(callback T) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if slices.Index(self.callbacks, callback) >= 0 {
		return
	}
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = append(nextCallbacks, callback)
	self.callbacks = nextCallbacks
}

func (self *CallbackList[T]) remove(callback T) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := slices.Index(self.callbacks, callback)
	if i < 0 {
		return
	}
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = slices.Delete(nextCallbacks, i, i+1)
	self.callbacks = nextCallbacks
}
