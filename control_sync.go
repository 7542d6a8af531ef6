package syncclient

import (
	"context"
	"sync"

	"github.com/golang/glog"
)

// ControlSync retries a send until it is acknowledged, replacing any in-flight attempt with a
// newer one for the same scope rather than running both concurrently. It ensures:
//   - only the latest call's payload for a scope is ever in flight
//   - a send that fails (ack timeout, transport error, ...) is retried until acked or the
//     ControlSync (or its context) is closed
//
// Grounded on the teacher's transfer_control.go ControlSync, generalized from a Client+Frame
// transport to an arbitrary send function so it can drive the Session's MARK-retry loop
// (session.go) without depending on the wire layer directly.
type ControlSync struct {
	ctx    context.Context
	cancel context.CancelFunc

	scopeTag string

	monitor *Monitor

	sendLock  sync.Mutex
	syncCount uint64
}

// SendFunc attempts one send attempt, invoking ack(nil) on success and ack(err) on failure.
// It must not block past the attempt itself; retries are scheduled by ControlSync, not by the
// caller.
type SendFunc func(ctx context.Context, ack AckFunction) error

func NewControlSync(ctx context.Context, scopeTag string) *ControlSync {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &ControlSync{
		ctx:      cancelCtx,
		cancel:   cancel,
		scopeTag: scopeTag,
		monitor:  NewMonitor(),
	}
}

func (self *ControlSync) Send(send SendFunc, ackCallback AckFunction) {
	safeAckCallback := func(err error) {
		if ackCallback != nil {
			HandleError(func() {
				ackCallback(err)
			})
		}
	}

	self.sendLock.Lock()
	self.syncCount += 1
	syncIndex := self.syncCount
	// supersede any prior in-flight attempt for this scope
	self.monitor.notifyAll()
	notify := self.monitor.NotifyAll()
	self.sendLock.Unlock()

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	go func() {
		defer handleCancel()
		select {
		case <-notify:
		case <-handleCtx.Done():
		}
	}()

	var retryLoop func()
	retryLoop = func() {
		defer handleCancel()
		defer func() {
			self.sendLock.Lock()
			defer self.sendLock.Unlock()
			if self.syncCount == syncIndex {
				glog.V(2).Infof("[controlsync][%d]stop retry for scope=%s", syncIndex, self.scopeTag)
			} else {
				glog.V(2).Infof("[controlsync][%d]superseded for scope=%s", syncIndex, self.scopeTag)
			}
		}()

		for {
			select {
			case <-handleCtx.Done():
				return
			default:
			}

			done := make(chan struct{})
			var ackErr error
			attemptErr := send(handleCtx, func(err error) {
				if err == nil {
					safeAckCallback(nil)
				}
				ackErr = err
				close(done)
			})
			if attemptErr != nil {
				select {
				case <-handleCtx.Done():
					return
				default:
				}
				continue
			}

			select {
			case <-done:
				if ackErr != nil {
					continue
				}
				return
			case <-handleCtx.Done():
				return
			}
		}
	}

	go retryLoop()
}

func (self *ControlSync) Close() {
	self.cancel()
}
