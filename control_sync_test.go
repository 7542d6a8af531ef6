package syncclient

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestControlSyncRetriesUntilAcked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cs := NewControlSync(ctx, "mark")
	defer cs.Close()

	var attempts int32
	acked := make(chan struct{})

	cs.Send(func(ctx context.Context, ack AckFunction) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			// simulate a transport failure: the attempt itself could not be made
			return errors.New("transport not ready")
		}
		ack(nil)
		return nil
	}, func(err error) {
		assert.Equal(t, err, nil)
		close(acked)
	})

	select {
	case <-acked:
	case <-time.After(2 * time.Second):
		t.Fatal("control sync never acked")
	}
	assert.Equal(t, atomic.LoadInt32(&attempts) >= 3, true)
}

func TestControlSyncSupersedesInFlightAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cs := NewControlSync(ctx, "query")
	defer cs.Close()

	firstAckCalled := make(chan struct{})
	block := make(chan struct{})

	cs.Send(func(ctx context.Context, ack AckFunction) error {
		go func() {
			select {
			case <-block:
				ack(nil)
			case <-ctx.Done():
			}
		}()
		return nil
	}, func(err error) {
		close(firstAckCalled)
	})

	secondAcked := make(chan struct{})
	cs.Send(func(ctx context.Context, ack AckFunction) error {
		ack(nil)
		return nil
	}, func(err error) {
		assert.Equal(t, err, nil)
		close(secondAcked)
	})

	select {
	case <-secondAcked:
	case <-time.After(2 * time.Second):
		t.Fatal("second send never acked")
	}

	select {
	case <-firstAckCalled:
		t.Fatal("first send's ack callback should never fire; it was superseded")
	default:
	}
	close(block)
}
