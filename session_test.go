package syncclient

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/latticesync/syncclient/internal/wire"
)

func newTestSessionHarness(t *testing.T, isFlx bool) (*Session, *Connection) {
	t.Helper()
	config := DefaultConfig()
	controller := NewController(config)
	endpoint := ServerEndpoint{Envelope: EnvelopeTlsWs, Host: "example.test", Port: 443}
	connection := NewConnection(context.Background(), endpoint, config, controller)

	sessionConfig := SessionConfig{Path: "/tmp/db", IsFlx: isFlx, StopPolicy: StopImmediate, ResyncMode: ResyncManual}
	session := NewSession(context.Background(), 1, sessionConfig, NewMemHistory(), connection)
	// the harness drives NextOutbound/HandleMessage directly rather than through a live
	// Connection, so mark the session Active without going through Revive (which would also
	// arm the connection's dial loop against a host that does not exist).
	session.appState = AppActive
	return session, connection
}

// S1 — partition-based sync: BIND/IDENT, a local commit produces exactly one UPLOAD, and the
// matching DOWNLOAD resolves the upload-completion wait with a single integrated notification.
func TestSessionPartitionUploadThenDownloadResolvesWait(t *testing.T) {
	session, _ := newTestSessionHarness(t, false)

	msg, ok := session.NextOutbound()
	assert.Equal(t, ok, true)
	bind, isBind := msg.(*wire.Bind)
	assert.Equal(t, isBind, true)
	assert.Equal(t, bind.SessionIdent, uint64(1))

	err := session.handleIdentResponse(&wire.IdentResponse{SessionIdent: 1, ClientIdent: 77, ClientSalt: 9})
	assert.Equal(t, err, nil)

	session.history.CommitLocal([]byte("change-1"))

	msg, ok = session.NextOutbound()
	assert.Equal(t, ok, true)
	upload, isUpload := msg.(*wire.Upload)
	assert.Equal(t, isUpload, true)
	assert.Equal(t, len(upload.Changesets), 1)
	assert.Equal(t, upload.ProgressClientVersion, ClientVersion(1))

	integratedCount := 0
	session.onChangesetsIntegrated = func(version ClientVersion, progress SyncProgress) {
		integratedCount += 1
	}

	waitErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		waitErr <- session.WaitForUploadCompletion(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	err = session.handleDownload(&wire.Download{
		SessionIdent:          1,
		DownloadServerVersion: 5,
		UploadClientVersion:   1,
		LatestServerVersion:   wire.LatestServerVersion{Version: 5},
	})
	assert.Equal(t, err, nil)

	select {
	case err := <-waitErr:
		assert.Equal(t, err, nil)
	case <-time.After(time.Second):
		t.Fatal("upload completion wait never resolved")
	}
	assert.Equal(t, integratedCount, 1)
}

// property 2 — a changeset whose origin_file_ident matches the local ClientFileIdent, or is
// zero, is rejected as a fatal protocol violation instead of being integrated.
func TestSessionRejectsChangesetFromSelf(t *testing.T) {
	session, _ := newTestSessionHarness(t, false)
	err := session.handleIdentResponse(&wire.IdentResponse{SessionIdent: 1, ClientIdent: 42})
	assert.Equal(t, err, nil)

	fatalErr := make(chan *ProtocolError, 1)
	session.onFatalError = func(e *ProtocolError) { fatalErr <- e }

	err = session.handleDownload(&wire.Download{
		SessionIdent:          1,
		DownloadServerVersion: 1,
		LatestServerVersion:   wire.LatestServerVersion{Version: 1},
		Changesets:            []wire.Changeset{{OriginFileIdent: 42, ClientVersion: 1}},
	})
	assert.NotEqual(t, err, nil)

	select {
	case e := <-fatalErr:
		assert.Equal(t, e.Kind, KindBadOriginFileIdent)
	case <-time.After(time.Second):
		t.Fatal("expected a fatal callback for a self-originated changeset")
	}
}

// property 1 — a regressing progress cursor is rejected as bad_progress and is fatal.
func TestSessionRejectsRegressingProgress(t *testing.T) {
	session, _ := newTestSessionHarness(t, false)
	session.history.SetProgress(SyncProgress{DownloadServerVersion: 10, LatestServerVersion: LatestServerVersion{Version: 10}})

	fatalErr := make(chan *ProtocolError, 1)
	session.onFatalError = func(e *ProtocolError) { fatalErr <- e }

	err := session.handleDownload(&wire.Download{
		SessionIdent:          1,
		DownloadServerVersion: 5,
		LatestServerVersion:   wire.LatestServerVersion{Version: 10},
	})
	assert.NotEqual(t, err, nil)

	select {
	case e := <-fatalErr:
		assert.Equal(t, e.Kind, KindBadProgress)
	case <-time.After(time.Second):
		t.Fatal("expected a fatal callback for a regressing download.server_version")
	}
}

// S4 — flexible-sync bootstrap: MoreToCome/MoreToCome/LastInBatch are buffered and applied
// atomically only once the final batch arrives, transitioning through bootstrapping ->
// awaiting_mark -> complete with no intermediate integration notifications.
func TestSessionFlexibleBootstrapAppliesAtomicallyThenMarks(t *testing.T) {
	session, _ := newTestSessionHarness(t, true)
	err := session.handleIdentResponse(&wire.IdentResponse{SessionIdent: 1, ClientIdent: 99})
	assert.Equal(t, err, nil)

	subscription := session.AddSubscription(7, nil)
	subscription.Commit()

	var states []SubscriptionState
	subscription.Observe(func(state SubscriptionState) {
		states = append(states, state)
	})

	integratedCount := 0
	session.onChangesetsIntegrated = func(version ClientVersion, progress SyncProgress) {
		integratedCount += 1
	}

	err = session.handleDownload(&wire.Download{
		SessionIdent: 1, QueryVersion: 7, LastInBatch: false,
		DownloadServerVersion: 1, LatestServerVersion: wire.LatestServerVersion{Version: 3},
		Changesets: []wire.Changeset{{OriginFileIdent: 55, ClientVersion: 1}},
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, integratedCount, 0)

	err = session.handleDownload(&wire.Download{
		SessionIdent: 1, QueryVersion: 7, LastInBatch: false,
		DownloadServerVersion: 2, LatestServerVersion: wire.LatestServerVersion{Version: 3},
		Changesets: []wire.Changeset{{OriginFileIdent: 55, ClientVersion: 2}},
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, integratedCount, 0)

	err = session.handleDownload(&wire.Download{
		SessionIdent: 1, QueryVersion: 7, LastInBatch: true,
		DownloadServerVersion: 3, LatestServerVersion: wire.LatestServerVersion{Version: 3},
		Changesets: []wire.Changeset{{OriginFileIdent: 55, ClientVersion: 3}},
	})
	assert.Equal(t, err, nil)

	// bootstrap batches are integrated directly via history.IntegrateRemote, not through the
	// single-changeset path that fires onChangesetsIntegrated, so the count stays at zero.
	assert.Equal(t, integratedCount, 0)
	assert.Equal(t, subscription.State, SubscriptionAwaitingMark)

	// sendMark hands the pending MARK off to the ControlSync retry goroutine asynchronously, so
	// poll NextOutbound until it shows up rather than assuming it is set synchronously.
	var mark *wire.Mark
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		msg, ok := session.NextOutbound()
		if ok {
			if m, isMark := msg.(*wire.Mark); isMark {
				mark = m
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	if mark == nil {
		t.Fatal("expected a pending MARK after bootstrap completion")
	}

	err = session.handleMarkAck(&wire.MarkAck{SessionIdent: 1, RequestIdent: mark.RequestIdent})
	assert.Equal(t, err, nil)
	assert.Equal(t, subscription.State, SubscriptionComplete)
	assert.Equal(t, session.subscriptions.ActiveQueryVersion(), uint64(7))

	found := false
	for _, s := range states {
		if s == SubscriptionBootstrapping {
			found = true
		}
	}
	assert.Equal(t, found, true)
}

// property 8 — discarding a pending bootstrap (e.g. on restart after a crash mid-batch) leaves
// nothing applied: none of its buffered changesets reach History.
func TestPendingBootstrapDiscardAppliesNothing(t *testing.T) {
	bootstrap := NewPendingBootstrap(1)
	last := bootstrap.Add(wire.Download{QueryVersion: 1, LastInBatch: false, Changesets: []wire.Changeset{{ClientVersion: 1}}})
	assert.Equal(t, last, false)

	bootstrap.Discard()
	drained := bootstrap.Drain()
	assert.Equal(t, len(drained), 0)
}

// handleError routes a server-driven client-reset action to onClientResetRequired rather than
// treating it as fatal.
func TestSessionHandleErrorRoutesClientResetAction(t *testing.T) {
	session, _ := newTestSessionHarness(t, false)

	resetCh := make(chan ErrorAction, 1)
	session.onClientResetRequired = func(action ErrorAction) { resetCh <- action }

	err := session.handleError(&wire.Error{SessionIdent: 1, Action: wire.ErrorAction(ActionClientReset), Message: "reset required"})
	assert.Equal(t, err, nil)

	select {
	case action := <-resetCh:
		assert.Equal(t, action, ActionClientReset)
	case <-time.After(time.Second):
		t.Fatal("expected onClientResetRequired to fire")
	}
}
