package syncclient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/latticesync/syncclient/internal/metadatastore"
)

// UserIdentity keys the Session Manager's registry, distinct from the connection-local ulid
// arena used for Id (spec.md §4.5, §3 "NEW" data model addition).
type UserIdentity = uuid.UUID

type registryKey struct {
	identity UserIdentity
	path     string
}

// SessionWrapper is the application-facing handle returned by SessionManager.GetSession. It is
// the "owned by the app" half of spec.md §4.3's two orthogonal state dimensions; the embedded
// *Session is the half owned by the network event loop. Kept as a thin wrapper rather than
// merging ApplicationState into Session's lifecycle methods, since the manager is the only
// caller that needs to observe termination and route file actions — documented as an Open
// Question resolution in DESIGN.md.
type SessionWrapper struct {
	*Session

	manager  *SessionManager
	identity UserIdentity
	path     string
}

// OnChangesetsIntegrated registers the application's callback for newly-integrated remote
// changesets (spec.md §4.3).
func (w *SessionWrapper) OnChangesetsIntegrated(callback func(version ClientVersion, progress SyncProgress)) {
	w.Session.onChangesetsIntegrated = callback
}

// OnFatalError registers the application's callback for an unrecoverable protocol error
// (spec.md §4.3).
func (w *SessionWrapper) OnFatalError(callback func(err *ProtocolError)) {
	w.Session.onFatalError = callback
}

// OnClientResetRequired registers the application's callback for ActionClientReset /
// ActionClientResetNoRecovery (spec.md §4.3, "Client reset orchestration").
func (w *SessionWrapper) OnClientResetRequired(callback func(action ErrorAction)) {
	w.Session.onClientResetRequired = callback
}

// QueueDelete durably marks this session's database path for deletion on next launch
// (spec.md §4.5).
func (w *SessionWrapper) QueueDelete() error {
	return w.manager.queueFileAction(w.path, metadatastore.ActionDelete)
}

// QueueBackupThenDelete durably marks this session's database path for a backup-then-delete,
// used when auto_client_reset_failure fires (spec.md §4.3 step 5, §4.5).
func (w *SessionWrapper) QueueBackupThenDelete() error {
	return w.manager.queueFileAction(w.path, metadatastore.ActionBackupThenDelete)
}

// SessionManager is C5: it maps (user_identity, database_path) to a live SessionWrapper, shares
// one Connection per ServerEndpoint across every Session bound to it, and persists user tokens
// and pending file actions through internal/metadatastore (spec.md §4.5).
type SessionManager struct {
	config     *Config
	controller *Controller
	store      *metadatastore.Store

	mutex       sync.Mutex
	wrappers    map[registryKey]*SessionWrapper
	connections map[ServerEndpoint]*Connection
	nextIdent   uint64
}

func NewSessionManager(config *Config, store *metadatastore.Store) *SessionManager {
	return &SessionManager{
		config:      config,
		controller:  NewController(config),
		store:       store,
		wrappers:    map[registryKey]*SessionWrapper{},
		connections: map[ServerEndpoint]*Connection{},
		nextIdent:   1,
	}
}

func (m *SessionManager) connectionFor(ctx context.Context, endpoint ServerEndpoint) *Connection {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if conn, ok := m.connections[endpoint]; ok {
		return conn
	}
	conn := NewConnection(ctx, endpoint, m.config, m.controller)
	m.connections[endpoint] = conn
	return conn
}

// GetSession implements spec.md §4.5's get_session: idempotent per (user, path). A second call
// for the same pair returns the already-registered wrapper rather than creating a duplicate
// Session.
func (m *SessionManager) GetSession(ctx context.Context, identity UserIdentity, accessToken string, endpoint ServerEndpoint, config SessionConfig, history History) (*SessionWrapper, error) {
	key := registryKey{identity: identity, path: config.Path}

	m.mutex.Lock()
	if existing, ok := m.wrappers[key]; ok {
		m.mutex.Unlock()
		return existing, nil
	}
	ident := m.nextIdent
	m.nextIdent += 1
	m.mutex.Unlock()

	connection := m.connectionFor(ctx, endpoint)
	session := NewSession(ctx, ident, config, history, connection)
	wrapper := &SessionWrapper{Session: session, manager: m, identity: identity, path: config.Path}

	m.mutex.Lock()
	m.wrappers[key] = wrapper
	m.mutex.Unlock()

	if m.store != nil {
		if err := m.store.PutUser(metadatastore.UserRecord{
			Identity:    identity.String(),
			AccessToken: accessToken,
		}); err != nil {
			return nil, err
		}
	}

	var claims *AccessTokenClaims
	if parsed, err := ParseAccessTokenUnverified(accessToken); err == nil {
		claims = parsed
	}
	session.Revive(claims, accessToken)

	return wrapper, nil
}

// Remove deregisters a session, e.g. once its ForceClose/Close has fully settled. It does not
// itself queue a file action; callers that need the database removed should call QueueDelete or
// QueueBackupThenDelete first.
func (m *SessionManager) Remove(identity UserIdentity, path string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.wrappers, registryKey{identity: identity, path: path})
}

func (m *SessionManager) queueFileAction(path string, action metadatastore.FileAction) error {
	if m.store == nil {
		return nil
	}
	return m.store.QueueFileAction(metadatastore.FileActionRecord{Path: path, Action: action, QueuedAt: time.Now()})
}

// DrainPendingFileActions applies every durably-queued file action from a prior run, in queue
// order, before any sync begins on this launch (spec.md §4.5). apply is called once per action;
// a returned error stops the drain and re-queues the remaining actions.
func (m *SessionManager) DrainPendingFileActions(apply func(path string, action metadatastore.FileAction) error) error {
	if m.store == nil {
		return nil
	}
	actions, err := m.store.DrainFileActions()
	if err != nil {
		return err
	}
	for i, action := range actions {
		if err := apply(action.Path, action.Action); err != nil {
			for _, remaining := range actions[i:] {
				m.store.QueueFileAction(remaining)
			}
			return err
		}
	}
	return nil
}
