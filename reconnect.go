package syncclient

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/golang/glog"
)

// TerminationReason names why a Connection's WebSocket went down (spec.md §4.1, §4.2). Each
// reason selects a delay class in the Controller below.
type TerminationReason int

const (
	ReasonUnknown TerminationReason = iota

	ReasonClosedVoluntarily
	ReasonReadOrWriteError
	ReasonPongTimeout

	ReasonConnectOperationFailed
	ReasonHttpResponseNonfatal
	ReasonSyncConnectTimeout

	ReasonServerSaidTryAgainLater

	ReasonSslCertificateRejected
	ReasonSslProtocolViolation
	ReasonWebsocketProtocolViolation
	ReasonHttpResponseFatal
	ReasonBadHeaders
	ReasonSyncProtocolViolation
	ReasonServerSaidDoNotReconnect
	ReasonMissingProtocolFeature
)

type delayClass int

const (
	delayClassMinimum delayClass = iota
	delayClassDoublingCapped
	delayClassServerDriven
	delayClassCoolOff
)

func (r TerminationReason) delayClass() delayClass {
	switch r {
	case ReasonClosedVoluntarily, ReasonReadOrWriteError, ReasonPongTimeout:
		return delayClassMinimum
	case ReasonConnectOperationFailed, ReasonHttpResponseNonfatal, ReasonSyncConnectTimeout:
		return delayClassDoublingCapped
	case ReasonServerSaidTryAgainLater:
		return delayClassServerDriven
	default:
		return delayClassCoolOff
	}
}

// ResumptionDelayInfo is the server-provided backoff schedule carried on an ERROR with
// `try_again=true` (spec.md §6.1).
type ResumptionDelayInfo struct {
	Initial    time.Duration
	Multiplier float64
	Cap        time.Duration
}

// ReconnectInfo is the per-endpoint state the Controller maintains (spec.md §3).
type ReconnectInfo struct {
	LastReason     TerminationReason
	LastDelay      time.Duration
	ExpiresAt      time.Time
	ResumptionInfo *ResumptionDelayInfo
	ScheduledReset bool
}

// Controller computes, per ServerEndpoint, the next earliest moment a connection attempt is
// permitted, as a function of the previous termination reason (spec.md §4.1). Grounded on
// original_source's client_impl_base.cpp reconnect-delay computation: four delay classes, 25%
// randomized deduction, and elapsed-time deduction since the last attempt.
type Controller struct {
	mode ReconnectMode

	minDelay     time.Duration
	maxDelay     time.Duration
	coolOffDelay time.Duration

	mutex sync.Mutex
	infos map[ServerEndpoint]*ReconnectInfo

	// only used in ReconnectModeTesting
	testingZeroDelay bool
}

func NewController(config *Config) *Controller {
	return &Controller{
		mode:         config.ReconnectMode,
		minDelay:     config.MinReconnectDelay,
		maxDelay:     config.MaxReconnectDelay,
		coolOffDelay: config.CoolOffReconnectDelay,
		infos:        map[ServerEndpoint]*ReconnectInfo{},
	}
}

// SetTestingZeroDelay forces every computed delay to zero. Only meaningful in
// ReconnectModeTesting (spec.md §4.1, "Testing mode permits 'zero' or 'infinite' delay").
func (self *Controller) SetTestingZeroDelay(zero bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.testingZeroDelay = zero
}

func (self *Controller) infoFor(endpoint ServerEndpoint) *ReconnectInfo {
	info, ok := self.infos[endpoint]
	if !ok {
		info = &ReconnectInfo{}
		self.infos[endpoint] = info
	}
	return info
}

// OnTerminated records a new termination and returns the delay before the next attempt is
// permitted, already randomized and with elapsed time (there is none yet; the clock starts now)
// accounted for. `errorReceivedAt` matters only for ReasonServerSaidTryAgainLater, whose timer
// starts at ERROR reception, not at the moment of the next connect attempt.
func (self *Controller) OnTerminated(
	endpoint ServerEndpoint,
	reason TerminationReason,
	resumptionInfo *ResumptionDelayInfo,
	errorReceivedAt time.Time,
) time.Duration {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	info := self.infoFor(endpoint)

	if self.mode == ReconnectModeTesting {
		delay := time.Duration(0)
		if !self.testingZeroDelay {
			delay = self.maxDelay
		}
		info.LastReason = reason
		info.LastDelay = delay
		info.ExpiresAt = time.Now().Add(delay)
		return delay
	}

	var base time.Duration
	switch reason.delayClass() {
	case delayClassMinimum:
		if info.LastReason == reason && 0 < info.LastDelay {
			base = min(info.LastDelay*2, self.maxDelay)
		} else {
			base = self.minDelay
		}
	case delayClassDoublingCapped:
		base = min(max(info.LastDelay*2, self.minDelay), self.maxDelay)
	case delayClassServerDriven:
		base = self.serverDrivenDelay(info, resumptionInfo)
	case delayClassCoolOff:
		base = self.coolOffDelay
	}

	delay := self.randomize(base)

	startFrom := time.Now()
	if reason == ReasonServerSaidTryAgainLater && !errorReceivedAt.IsZero() {
		startFrom = errorReceivedAt
	}
	elapsed := time.Since(startFrom)
	delay -= elapsed
	if delay < 0 {
		delay = 0
	}

	info.LastReason = reason
	info.LastDelay = base
	info.ExpiresAt = time.Now().Add(delay)
	info.ResumptionInfo = resumptionInfo

	glog.V(2).Infof("[reconnect]endpoint=%v reason=%d delay=%v", endpoint, reason, delay)

	return delay
}

func (self *Controller) serverDrivenDelay(info *ReconnectInfo, resumptionInfo *ResumptionDelayInfo) time.Duration {
	if resumptionInfo == nil {
		resumptionInfo = info.ResumptionInfo
	}
	if resumptionInfo == nil {
		return self.minDelay
	}
	if info.LastReason == ReasonServerSaidTryAgainLater && 0 < info.LastDelay {
		next := time.Duration(float64(info.LastDelay) * resumptionInfo.Multiplier)
		return min(next, resumptionInfo.Cap)
	}
	return min(resumptionInfo.Initial, resumptionInfo.Cap)
}

// randomize subtracts a uniform value in [0, 25%] of base, per spec.md §4.1.
func (self *Controller) randomize(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	deduction := time.Duration(rand.Float64() * 0.25 * float64(base))
	return base - deduction
}

// CancelReconnectDelay implements `cancel_reconnect_delay()` (spec.md §4.1). It only sets
// `scheduled_reset` and leaves the current delay in place; ConfirmReset clears the flag and the
// delay. Connection does not schedule a PING in response and never calls ConfirmReset, so the
// flag stays set until a caller invokes ConfirmReset directly.
func (self *Controller) CancelReconnectDelay(endpoint ServerEndpoint) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	info := self.infoFor(endpoint)
	info.ScheduledReset = true
}

// ConfirmReset clears `scheduled_reset` once the urgent PING's PONG has been observed.
func (self *Controller) ConfirmReset(endpoint ServerEndpoint) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	info := self.infoFor(endpoint)
	info.ScheduledReset = false
	info.LastDelay = 0
	info.LastReason = ReasonUnknown
}

// WaitUntilPermitted blocks until the endpoint's current delay has elapsed or ctx is done.
func (self *Controller) WaitUntilPermitted(ctx context.Context, endpoint ServerEndpoint) error {
	self.mutex.Lock()
	info := self.infoFor(endpoint)
	wait := time.Until(info.ExpiresAt)
	self.mutex.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Info returns a copy of the endpoint's current reconnect state, for tests and observability.
func (self *Controller) Info(endpoint ServerEndpoint) ReconnectInfo {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return *self.infoFor(endpoint)
}
