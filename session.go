package syncclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/latticesync/syncclient/internal/wire"
)

// StopPolicy controls what Close() waits for before a Session actually deactivates (spec.md
// §6.3).
type StopPolicy int

const (
	StopImmediate StopPolicy = iota
	StopLiveIndefinitely
	StopAfterChangesUploaded
)

// ClientResyncMode selects the client-reset strategy (spec.md §6.3).
type ClientResyncMode int

const (
	ResyncManual ClientResyncMode = iota
	ResyncDiscardLocal
	ResyncRecover
	ResyncRecoverOrDiscard
)

// ApplicationState is the SessionWrapper-level lifecycle (spec.md §4.3).
type ApplicationState int

const (
	AppInactive ApplicationState = iota
	AppWaitingForAccessToken
	AppActive
	AppDying
	AppPaused
)

func (s ApplicationState) String() string {
	switch s {
	case AppWaitingForAccessToken:
		return "waiting_for_access_token"
	case AppActive:
		return "active"
	case AppDying:
		return "dying"
	case AppPaused:
		return "paused"
	default:
		return "inactive"
	}
}

// TransportState is the Connection-owned lifecycle (spec.md §4.3).
type TransportState int

const (
	TransportUnactivated TransportState = iota
	TransportActive
	TransportDeactivating
	TransportDeactivated
)

// SessionConfig carries the per-database options a caller supplies when creating a
// SessionWrapper (spec.md §6.3, subset relevant to Session rather than Connection).
type SessionConfig struct {
	Path             string
	IsFlx            bool
	PartitionKey     string
	StopPolicy       StopPolicy
	ResyncMode       ClientResyncMode
	UploadCapVersion ClientVersion
}

// completionWait is one outstanding wait_for_upload_completion / wait_for_download_completion
// call (spec.md §4.3). It survives across Inactive transitions by being re-registered when the
// session re-enters Active, per spec.md §4.3's lifecycle note.
type completionWait struct {
	targetVersion uint64
	done          chan error
}

// Session is the per-database protocol state machine (spec.md §4.3). It implements
// SessionHandler so a Connection can enlist it directly. Grounded on the teacher's stateful
// per-peer handling in transfer.go (now deleted) for the BIND/IDENT/UPLOAD/DOWNLOAD cadence, and
// on control_sync.go for the MARK retry loop.
type Session struct {
	ident  uint64
	config SessionConfig

	history    History
	connection *Connection

	accessToken string

	mutex          sync.Mutex
	appState       ApplicationState
	transportState TransportState

	clientIdent ClientFileIdent

	subscriptions     *SubscriptionManager
	pendingBootstraps map[uint64]*PendingBootstrap

	markRequestIdent        uint64
	markSync                *ControlSync
	pendingMark             *wire.Mark
	pendingMarkQueryVersion uint64
	markAck                 AckFunction

	uploadWaits   []*completionWait
	downloadWaits []*completionWait

	// compensating writes deferred until their server version's DOWNLOAD arrives (spec.md §4.3,
	// "Compensating writes"). deliverCompensatingWrites drains this map on every DOWNLOAD, but
	// handleError never adds to it, so no ERROR is deferred through it.
	compensatingWrites map[ServerVersion][]*ProtocolError

	onChangesetsIntegrated func(version ClientVersion, progress SyncProgress)
	onFatalError           func(err *ProtocolError)
	onClientResetRequired  func(action ErrorAction)

	ctx    context.Context
	cancel context.CancelFunc
}

func NewSession(ctx context.Context, ident uint64, config SessionConfig, history History, connection *Connection) *Session {
	cancelCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		ident:              ident,
		config:             config,
		history:            history,
		connection:         connection,
		appState:           AppInactive,
		transportState:     TransportUnactivated,
		pendingBootstraps:  map[uint64]*PendingBootstrap{},
		compensatingWrites: map[ServerVersion][]*ProtocolError{},
		markSync:           NewControlSync(cancelCtx, "mark"),
		ctx:                cancelCtx,
		cancel:             cancel,
	}
	if config.IsFlx {
		s.subscriptions = NewSubscriptionManager()
	}
	return s
}

func (s *Session) SessionIdent() uint64 { return s.ident }

// AddSubscription registers a new flexible-sync query version (spec.md §3, §4.3). The caller
// calls Commit on the returned set once the query body is finalized, which makes it eligible to
// be sent to the server as a QUERY.
func (s *Session) AddSubscription(queryVersion uint64, queryBody []byte) *SubscriptionSet {
	return s.subscriptions.AddSubscription(queryVersion, queryBody)
}

// Revive transitions Inactive/Dying -> Active, or -> WaitingForAccessToken if the supplied
// token is already expired (spec.md §4.3 lifecycle diagram). A Paused session is left as it is;
// Resume is the way out of Paused.
func (s *Session) Revive(claims *AccessTokenClaims, accessToken string) {
	s.mutex.Lock()
	if s.appState == AppPaused {
		s.mutex.Unlock()
		return
	}
	s.accessToken = accessToken
	if claims != nil && claims.IsExpired(time.Now()) {
		s.appState = AppWaitingForAccessToken
		s.mutex.Unlock()
		return
	}
	s.appState = AppActive
	s.mutex.Unlock()

	s.reregisterWaits()
	s.connection.Enlist(s)
	s.connection.Activate()
}

// SupplyAccessToken moves WaitingForAccessToken -> Active once a fresh token arrives.
func (s *Session) SupplyAccessToken(accessToken string) {
	s.mutex.Lock()
	s.accessToken = accessToken
	wasWaiting := s.appState == AppWaitingForAccessToken
	if wasWaiting {
		s.appState = AppActive
	}
	s.mutex.Unlock()

	if wasWaiting {
		s.connection.Enlist(s)
		s.connection.Activate()
	}
}

func (s *Session) reregisterWaits() {
	// no-op placeholder: waits are stored on the Session itself and survive Inactive
	// transitions for free since they are not cleared on deactivation (spec.md §4.3).
}

// Close deactivates the session according to the configured StopPolicy (spec.md §5,
// "Cancellation"). Deactivation only removes the session from its Connection; no UNBIND message
// is sent.
func (s *Session) Close() {
	s.mutex.Lock()
	policy := s.config.StopPolicy
	s.mutex.Unlock()

	switch policy {
	case StopImmediate:
		s.deactivate()
	case StopAfterChangesUploaded:
		s.mutex.Lock()
		s.appState = AppDying
		s.mutex.Unlock()
		go func() {
			s.WaitForUploadCompletion(s.ctx)
			s.deactivate()
		}()
	case StopLiveIndefinitely:
		// no-op: stays Active until the caller calls ForceClose.
	}
}

// ForceClose is synchronous: it cancels the session's context and removes the session from its
// Connection before the call returns (spec.md §5). The shared Connection itself keeps running,
// and outstanding upload/download completion waits are not resolved.
func (s *Session) ForceClose() {
	s.cancel()
	s.deactivate()
}

func (s *Session) deactivate() {
	s.mutex.Lock()
	s.appState = AppInactive
	s.transportState = TransportDeactivated
	s.mutex.Unlock()
	s.connection.Unlist(s.ident)
}

// Pause is sticky: only Resume can leave it (spec.md §5).
func (s *Session) Pause() {
	s.mutex.Lock()
	s.appState = AppPaused
	s.mutex.Unlock()
	s.connection.Unlist(s.ident)
}

func (s *Session) Resume(claims *AccessTokenClaims, accessToken string) {
	s.mutex.Lock()
	if s.appState == AppPaused {
		s.appState = AppInactive
	}
	s.mutex.Unlock()
	s.Revive(claims, accessToken)
}

// OnConnectionEstablished marks the transport Active and wakes the Connection's write loop; the
// BIND itself is produced by NextOutbound (spec.md §4.3, "Message sequence within Active").
func (s *Session) OnConnectionEstablished() {
	s.mutex.Lock()
	s.transportState = TransportActive
	ident := s.clientIdent
	s.mutex.Unlock()

	glog.V(2).Infof("[session][%d]bind path=%s", s.ident, s.config.Path)

	s.connection.notifyEnlisted()
	_ = ident
}

func (s *Session) OnConnectionTerminated(reason TerminationReason) {
	s.mutex.Lock()
	s.transportState = TransportUnactivated
	s.mutex.Unlock()
}

// NextOutbound implements the enlist-to-send cadence (spec.md §4.3, "Message sequence within
// Active"): a BIND while no ClientFileIdent is known; after the server's IDENT, a pending MARK,
// then a pending QUERY, then an UPLOAD. The client never sends an IDENT message of its own.
func (s *Session) NextOutbound() (any, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.appState != AppActive && s.appState != AppDying {
		return nil, false
	}

	if s.clientIdent.IsZero() {
		return &wire.Bind{
			SessionIdent:  s.ident,
			Path:          s.config.Path,
			AccessToken:   s.accessToken,
			IsFlx:         s.config.IsFlx,
			PartitionKey:  s.config.PartitionKey,
			ProtocolToken: "realm-sync#1",
		}, true
	}

	if s.pendingMark != nil {
		mark := s.pendingMark
		s.pendingMark = nil
		return mark, true
	}

	if s.subscriptions != nil {
		if query, ok := s.subscriptions.NextPending(); ok {
			query.SessionIdent = s.ident
			return query, true
		}
	}

	progress := s.history.Progress()
	lastLocal := s.history.LastLocalVersionAvailable()
	capVersion := lastLocal
	if 0 < s.config.UploadCapVersion && s.config.UploadCapVersion < capVersion {
		capVersion = s.config.UploadCapVersion
	}
	changesets := s.history.ChangesetsAfter(progress.UploadClientVersion, capVersion)
	if 0 < len(changesets) {
		wireChangesets := make([]wire.Changeset, 0, len(changesets))
		for _, c := range changesets {
			wireChangesets = append(wireChangesets, wire.Changeset{
				OriginFileIdent: s.clientIdent.Ident,
				ClientVersion:   c.ClientVersion,
				Data:            c.Data,
			})
		}
		return &wire.Upload{
			SessionIdent:          s.ident,
			ProgressClientVersion: changesets[len(changesets)-1].ClientVersion,
			ProgressServerVersion: progress.DownloadServerVersion,
			Changesets:            wireChangesets,
		}, true
	}

	return nil, false
}

// HandleMessage dispatches one decoded server->client message (spec.md §4.2, "Receive").
func (s *Session) HandleMessage(message any) error {
	switch m := message.(type) {
	case *wire.IdentResponse:
		return s.handleIdentResponse(m)
	case *wire.Download:
		return s.handleDownload(m)
	case *wire.MarkAck:
		return s.handleMarkAck(m)
	case *wire.Unbound:
		s.deactivate()
		return nil
	case *wire.Error:
		return s.handleError(m)
	case *wire.QueryError:
		return s.handleQueryError(m)
	default:
		return NewProtocolError(KindUnknownMessage, "session cannot handle this message type")
	}
}

func (s *Session) handleIdentResponse(m *wire.IdentResponse) error {
	s.mutex.Lock()
	s.clientIdent = ClientFileIdent{Ident: m.ClientIdent, Salt: m.ClientSalt}
	s.mutex.Unlock()
	s.history.SetClientFileIdent(s.clientIdent)
	s.connection.notifyEnlisted()
	return nil
}

// handleDownload implements spec.md §4.3 "Download integration".
func (s *Session) handleDownload(m *wire.Download) error {
	_, err := TraceWithReturnError(fmt.Sprintf("[session][%d]handleDownload", s.ident), func() (struct{}, error) {
		return struct{}{}, s.handleDownloadLocked(m)
	})
	return err
}

func (s *Session) handleDownloadLocked(m *wire.Download) error {
	next := SyncProgress{
		DownloadServerVersion:               m.DownloadServerVersion,
		DownloadLastIntegratedClientVersion: m.DownloadLastIntegratedClientVersion,
		UploadClientVersion:                 m.UploadClientVersion,
		UploadLastIntegratedServerVersion:   m.UploadLastIntegratedServerVersion,
		LatestServerVersion:                 LatestServerVersion(m.LatestServerVersion),
	}

	prev := s.history.Progress()
	lastLocal := s.history.LastLocalVersionAvailable()
	if err := next.Validate(prev, lastLocal); err != nil {
		protoErr, _ := err.(*ProtocolError)
		s.fatal(protoErr)
		return err
	}

	for _, c := range m.Changesets {
		if s.clientIdent.Ident != 0 && c.OriginFileIdent == s.clientIdent.Ident {
			err := NewProtocolError(KindBadOriginFileIdent, "changeset originated from self")
			s.fatal(err)
			return err
		}
		if c.OriginFileIdent == 0 {
			err := NewProtocolError(KindBadOriginFileIdent, "changeset has zero origin file ident")
			s.fatal(err)
			return err
		}
	}

	// a DOWNLOAD whose query_version is newer than the currently-Active subscription is still
	// being bootstrapped, however many prior subscription versions have already completed
	// (spec.md §4.3 step 3, §3); comparing only against the first subscription's state and the
	// session's very first upload, as an earlier revision did, stopped recognizing bootstraps
	// after the session's first QUERY ever completed.
	isBootstrap := s.subscriptions != nil && s.config.IsFlx && m.QueryVersion > 0 &&
		m.QueryVersion > s.subscriptions.ActiveQueryVersion()

	if isBootstrap {
		return s.handleBootstrapBatch(m)
	}

	for _, c := range m.Changesets {
		newVersion := s.history.IntegrateRemote(c)
		s.signalIntegrated(newVersion)
	}

	s.history.SetProgress(next)
	s.deliverCompensatingWrites(next.DownloadServerVersion)
	s.resolveWaits(&s.downloadWaits, uint64(next.DownloadServerVersion), nil)
	s.resolveWaits(&s.uploadWaits, uint64(next.UploadClientVersion), nil)

	if s.onChangesetsIntegrated != nil {
		HandleError(func() {
			s.onChangesetsIntegrated(next.UploadClientVersion, next)
		})
	}
	return nil
}

// handleBootstrapBatch buffers MoreToCome messages and drains on LastInBatch, atomically
// applying the whole batch (spec.md §4.3 step 3, §8 scenario S4).
func (s *Session) handleBootstrapBatch(m *wire.Download) error {
	s.mutex.Lock()
	bootstrap, alreadyStarted := s.pendingBootstraps[m.QueryVersion]
	if !alreadyStarted {
		bootstrap = NewPendingBootstrap(m.QueryVersion)
		s.pendingBootstraps[m.QueryVersion] = bootstrap
	}
	s.mutex.Unlock()

	if !alreadyStarted {
		if set, ok := s.subscriptions.Get(m.QueryVersion); ok {
			set.setState(SubscriptionBootstrapping)
		}
	}

	lastInBatch := bootstrap.Add(*m)
	if !lastInBatch {
		return nil
	}

	batches := bootstrap.Drain()
	for _, batch := range batches {
		for _, c := range batch.Changesets {
			newVersion := s.history.IntegrateRemote(c)
			s.signalIntegrated(newVersion)
		}
		s.history.SetProgress(SyncProgress{
			DownloadServerVersion:               batch.DownloadServerVersion,
			DownloadLastIntegratedClientVersion: batch.DownloadLastIntegratedClientVersion,
			UploadClientVersion:                 batch.UploadClientVersion,
			UploadLastIntegratedServerVersion:   batch.UploadLastIntegratedServerVersion,
			LatestServerVersion:                 LatestServerVersion(batch.LatestServerVersion),
		})
	}

	s.mutex.Lock()
	delete(s.pendingBootstraps, m.QueryVersion)
	s.pendingMarkQueryVersion = m.QueryVersion
	s.mutex.Unlock()

	if set, ok := s.subscriptions.Get(m.QueryVersion); ok {
		set.setState(SubscriptionAwaitingMark)
	}
	s.sendMark()
	return nil
}

func (s *Session) signalIntegrated(version ClientVersion) {
	// hook point for Coordinator notifier wiring (coordinator.go); left as a no-op default.
}

// sendMark issues a MARK round-trip probe (spec.md §9, "MARK") through ControlSync, whose
// attempt stays open until handleMarkAck receives a MarkAck and calls the ack stored in
// `markAck`.
func (s *Session) sendMark() {
	s.mutex.Lock()
	s.markRequestIdent += 1
	requestIdent := s.markRequestIdent
	s.mutex.Unlock()

	s.markSync.Send(func(ctx context.Context, ack AckFunction) error {
		s.mutex.Lock()
		s.pendingMark = &wire.Mark{SessionIdent: s.ident, RequestIdent: requestIdent}
		s.markAck = ack
		s.mutex.Unlock()
		s.connection.notifyEnlisted()
		return nil
	}, func(err error) {})
}

func (s *Session) handleMarkAck(m *wire.MarkAck) error {
	s.mutex.Lock()
	ack := s.markAck
	s.markAck = nil
	queryVersion := s.pendingMarkQueryVersion
	s.pendingMarkQueryVersion = 0
	s.mutex.Unlock()
	if ack != nil {
		ack(nil)
	}

	if s.subscriptions != nil && queryVersion != 0 {
		s.subscriptions.markActive(queryVersion)
	}
	return nil
}

func (s *Session) handleQueryError(m *wire.QueryError) error {
	if s.subscriptions != nil {
		if set, ok := s.subscriptions.Get(m.QueryVersion); ok {
			set.setState(SubscriptionError)
		}
	}
	return nil
}

func (s *Session) handleError(m *wire.Error) error {
	action := ErrorAction(m.Action)
	protoErr := &ProtocolError{
		Kind:                KindServerProtocolError,
		Message:             m.Message,
		TryAgain:            m.TryAgain,
		Action:              action,
		ResumptionDelayInfo: resumptionInfoFromWire(m.ResumptionDelay),
		SessionIdent:        m.SessionIdent,
	}

	switch action {
	case ActionClientReset, ActionClientResetNoRecovery:
		if s.onClientResetRequired != nil {
			HandleError(func() {
				s.onClientResetRequired(action)
			})
		}
		return nil
	case ActionDeleteRealm:
		s.fatal(protoErr)
		return protoErr
	default:
		if !m.TryAgain {
			s.fatal(protoErr)
		}
		return protoErr
	}
}

func (s *Session) deliverCompensatingWrites(upTo ServerVersion) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for version, errs := range s.compensatingWrites {
		if version <= upTo {
			for _, e := range errs {
				if s.onFatalError != nil {
					HandleError(func() {
						s.onFatalError(e)
					})
				}
			}
			delete(s.compensatingWrites, version)
		}
	}
}

func (s *Session) fatal(err *ProtocolError) {
	glog.Warningf("[session][%d]fatal: %s", s.ident, err)
	if s.onFatalError != nil {
		HandleError(func() {
			s.onFatalError(err)
		})
	}
	s.ForceClose()
}

// WaitForUploadCompletion blocks until upload.client_version reaches last_local_version_available
// as of the call, or ctx is done (spec.md §8, scenario S1).
func (s *Session) WaitForUploadCompletion(ctx context.Context) error {
	target := uint64(s.history.LastLocalVersionAvailable())
	if target <= uint64(s.history.Progress().UploadClientVersion) {
		return nil
	}
	return s.wait(ctx, &s.uploadWaits, target)
}

func (s *Session) WaitForDownloadCompletion(ctx context.Context, target ServerVersion) error {
	return s.wait(ctx, &s.downloadWaits, uint64(target))
}

func (s *Session) wait(ctx context.Context, waits *[]*completionWait, target uint64) error {
	s.mutex.Lock()
	w := &completionWait{targetVersion: target, done: make(chan error, 1)}
	*waits = append(*waits, w)
	s.mutex.Unlock()

	select {
	case err := <-w.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) resolveWaits(waits *[]*completionWait, reached uint64, err error) {
	s.mutex.Lock()
	remaining := (*waits)[:0]
	for _, w := range *waits {
		if w.targetVersion <= reached {
			w.done <- err
		} else {
			remaining = append(remaining, w)
		}
	}
	*waits = remaining
	s.mutex.Unlock()
}
