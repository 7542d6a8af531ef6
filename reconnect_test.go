package syncclient

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

var testEndpoint = ServerEndpoint{Envelope: EnvelopeTlsWs, Host: "sync.example.com", Port: 443}

// S3 — server-driven backoff doubles per ERROR and is capped. (A successful connect does not
// reset it; only ConfirmReset or a termination for another reason restarts it at Initial.)
func TestControllerServerDrivenBackoffDoublesAndCaps(t *testing.T) {
	config := DefaultConfig()
	controller := NewController(config)

	info := &ResumptionDelayInfo{
		Initial:    120 * time.Second,
		Multiplier: 2,
		Cap:        600 * time.Second,
	}

	errorReceivedAt := time.Now()
	delay1 := controller.OnTerminated(testEndpoint, ReasonServerSaidTryAgainLater, info, errorReceivedAt)
	assert.Equal(t, 90*time.Second <= delay1 && delay1 <= 120*time.Second, true)

	errorReceivedAt2 := time.Now()
	delay2 := controller.OnTerminated(testEndpoint, ReasonServerSaidTryAgainLater, info, errorReceivedAt2)
	assert.Equal(t, 180*time.Second <= delay2 && delay2 <= 240*time.Second, true)

	// drive it past the cap
	for i := 0; i < 5; i += 1 {
		controller.OnTerminated(testEndpoint, ReasonServerSaidTryAgainLater, info, time.Now())
	}
	final := controller.Info(testEndpoint)
	assert.Equal(t, final.LastDelay <= info.Cap, true)
}

// property 3 — minimum-delay class lies in [min_delay*0.75, min_delay] on first failure.
func TestControllerMinimumDelayClassRange(t *testing.T) {
	config := DefaultConfig()
	controller := NewController(config)

	delay := controller.OnTerminated(testEndpoint, ReasonPongTimeout, nil, time.Time{})
	assert.Equal(t, 750*time.Millisecond <= delay, true)
	assert.Equal(t, delay <= 1*time.Second, true)
}

// property 3 — doubling-capped class never exceeds the configured ceiling.
func TestControllerDoublingCappedSaturates(t *testing.T) {
	config := DefaultConfig()
	controller := NewController(config)

	var lastDelay time.Duration
	for i := 0; i < 20; i += 1 {
		lastDelay = controller.OnTerminated(testEndpoint, ReasonConnectOperationFailed, nil, time.Time{})
	}
	assert.Equal(t, lastDelay <= config.MaxReconnectDelay, true)
}

// property 4 — cancel_reconnect_delay() does not reset the delay immediately; only ConfirmReset does.
func TestControllerCancelReconnectDelayIsSticky(t *testing.T) {
	config := DefaultConfig()
	controller := NewController(config)

	controller.OnTerminated(testEndpoint, ReasonReadOrWriteError, nil, time.Time{})
	before := controller.Info(testEndpoint)

	controller.CancelReconnectDelay(testEndpoint)
	afterCancel := controller.Info(testEndpoint)
	assert.Equal(t, afterCancel.ScheduledReset, true)
	assert.Equal(t, afterCancel.LastDelay, before.LastDelay)

	controller.ConfirmReset(testEndpoint)
	afterConfirm := controller.Info(testEndpoint)
	assert.Equal(t, afterConfirm.ScheduledReset, false)
}

func TestControllerTestingModeZeroDelay(t *testing.T) {
	config := DefaultConfig()
	config.ReconnectMode = ReconnectModeTesting
	controller := NewController(config)
	controller.SetTestingZeroDelay(true)

	delay := controller.OnTerminated(testEndpoint, ReasonSslProtocolViolation, nil, time.Time{})
	assert.Equal(t, delay, time.Duration(0))
}

func TestControllerCoolOffClass(t *testing.T) {
	config := DefaultConfig()
	controller := NewController(config)

	delay := controller.OnTerminated(testEndpoint, ReasonWebsocketProtocolViolation, nil, time.Time{})
	assert.Equal(t, 0.75*float64(config.CoolOffReconnectDelay) <= float64(delay), true)
	assert.Equal(t, delay <= config.CoolOffReconnectDelay, true)
}
