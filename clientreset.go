package syncclient

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
)

// ClientResetObservers are the "before"/"after" notifications a caller receives around a
// client reset merge (spec.md §4.3, "Client reset orchestration" step 4): Before sees a frozen
// snapshot of the pre-reset progress, After sees the live post-reset progress.
type ClientResetObservers struct {
	Before func(snapshot SyncProgress)
	After  func(snapshot SyncProgress)
}

// ClientResetCoordinator runs spec.md §4.3's five-step client reset orchestration. One
// coordinator is shared by a SessionManager; each Run call is independent and keyed by the
// SessionWrapper it is resetting.
type ClientResetCoordinator struct {
	manager *SessionManager
}

func NewClientResetCoordinator(manager *SessionManager) *ClientResetCoordinator {
	return &ClientResetCoordinator{manager: manager}
}

// Run executes the reset. serverDemandedRecovery reports whether the triggering ERROR's action
// was ActionClientResetNoRecovery (recovery mode disallowed but the server demanded it); when
// true and the wrapper's ResyncMode forbids recovery, step 5 fires instead of the merge.
func (c *ClientResetCoordinator) Run(ctx context.Context, wrapper *SessionWrapper, endpoint ServerEndpoint, observers ClientResetObservers, serverDemandedRecovery bool) error {
	if serverDemandedRecovery && wrapper.config.ResyncMode == ResyncManual {
		glog.Warningf("[clientreset][%d]auto_client_reset_failure: recovery disallowed but server demanded it", wrapper.SessionIdent())
		return wrapper.QueueBackupThenDelete()
	}

	freshPath := fmt.Sprintf("%s.reset-%d", wrapper.path, time.Now().UnixNano())
	freshHistory := NewMemHistory()
	freshConfig := SessionConfig{
		Path:         freshPath,
		IsFlx:        wrapper.config.IsFlx,
		PartitionKey: wrapper.config.PartitionKey,
		StopPolicy:   StopLiveIndefinitely,
		ResyncMode:   ResyncManual,
	}

	connection := c.manager.connectionFor(ctx, endpoint)
	wrapper.mutex.Lock()
	accessToken := wrapper.accessToken
	wrapper.mutex.Unlock()

	freshSessionIdent := wrapper.SessionIdent() + (uint64(1) << 32)
	freshSession := NewSession(ctx, freshSessionIdent, freshConfig, freshHistory, connection)

	var activeSubscription *SubscriptionSet
	if freshConfig.IsFlx && wrapper.subscriptions != nil {
		if previouslyActive := wrapper.subscriptions.Active(); previouslyActive != nil {
			activeSubscription = freshSession.AddSubscription(previouslyActive.QueryVersion, previouslyActive.QueryBody)
			activeSubscription.Commit()
		}
	}

	done := make(chan struct{})
	closeDone := func() {
		select {
		case <-done:
		default:
			close(done)
		}
	}
	if activeSubscription != nil {
		activeSubscription.Observe(func(state SubscriptionState) {
			if state == SubscriptionComplete {
				closeDone()
			}
		})
	} else {
		freshSession.onChangesetsIntegrated = func(version ClientVersion, progress SyncProgress) {
			closeDone()
		}
	}

	claims, _ := ParseAccessTokenUnverified(accessToken)
	freshSession.Revive(claims, accessToken)

	select {
	case <-done:
	case <-ctx.Done():
		freshSession.ForceClose()
		return ctx.Err()
	}

	// step 3: close the fresh session
	freshSession.ForceClose()

	// step 4: deactivate the current session without canceling its completion callbacks (the
	// uploadWaits/downloadWaits slices are untouched by deactivate()), then merge and reactivate.
	before := wrapper.history.Progress()
	if observers.Before != nil {
		HandleError(func() { observers.Before(before) })
	}

	wrapper.deactivate()
	wrapper.history.AdoptFreshCopy(freshHistory)

	after := wrapper.history.Progress()
	if observers.After != nil {
		HandleError(func() { observers.After(after) })
	}

	wrapper.Revive(claims, accessToken)

	return nil
}
