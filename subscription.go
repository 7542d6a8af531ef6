package syncclient

import (
	"sync"

	"github.com/golang/glog"

	"github.com/latticesync/syncclient/internal/wire"
)

// SubscriptionState is the flexible-sync subscription lifecycle (spec.md §3, §8 scenario S4): a
// query version starts Uncommitted while the application is still building it up, becomes
// Pending once Commit is called, Bootstrapping/AwaitingMark/Complete as the server answers it,
// or Error if the server rejects it outright. Complete is superseded the moment a newer version
// reaches Complete in its place.
type SubscriptionState int

const (
	SubscriptionUncommitted SubscriptionState = iota
	SubscriptionPending
	SubscriptionBootstrapping
	SubscriptionAwaitingMark
	SubscriptionComplete
	SubscriptionError
	SubscriptionSuperseded
)

func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionPending:
		return "pending"
	case SubscriptionBootstrapping:
		return "bootstrapping"
	case SubscriptionAwaitingMark:
		return "awaiting_mark"
	case SubscriptionComplete:
		return "complete"
	case SubscriptionError:
		return "error"
	case SubscriptionSuperseded:
		return "superseded"
	default:
		return "uncommitted"
	}
}

// SubscriptionSet is one immutable, versioned flexible-sync query plus its lifecycle state
// (spec.md §3). A Session may have several of these alive at once — one Active (or on its way
// to becoming Active), and any number of older ones trailing behind in Superseded — which is why
// these live inside a SubscriptionManager rather than directly on Session.
//
// observers is a plain guarded slice rather than util.go's CallbackList, since a CallbackList's
// add/remove rely on comparing callbacks with ==, and function values are not comparable; the
// registrations here are also never individually removed, only ever replaced wholesale by a
// superseding version.
type SubscriptionSet struct {
	mutex sync.Mutex

	QueryVersion uint64
	QueryBody    []byte
	State        SubscriptionState
	sent         bool

	observersMutex sync.Mutex
	observers      []func(SubscriptionState)
}

// NewSubscriptionSet constructs one in SubscriptionUncommitted state. Prefer
// SubscriptionManager.AddSubscription, which also registers the set so NextPending/Get/markActive
// can find it; this constructor remains exported for tests that want a bare, unregistered set.
func NewSubscriptionSet(queryVersion uint64, queryBody []byte) *SubscriptionSet {
	return &SubscriptionSet{
		QueryVersion: queryVersion,
		QueryBody:    queryBody,
		State:        SubscriptionUncommitted,
	}
}

func (s *SubscriptionSet) Observe(callback func(SubscriptionState)) {
	glog.V(2).Infof("[subscription][%d]observe %s", s.QueryVersion, CallbackName(callback))

	s.observersMutex.Lock()
	defer s.observersMutex.Unlock()
	s.observers = append(s.observers, callback)
}

func (s *SubscriptionSet) setState(state SubscriptionState) {
	s.mutex.Lock()
	s.State = state
	s.mutex.Unlock()

	s.observersMutex.Lock()
	observers := append([]func(SubscriptionState){}, s.observers...)
	s.observersMutex.Unlock()

	for _, callback := range observers {
		HandleError(func() {
			callback(state)
		})
	}
}

// Commit finalizes the query body and moves Uncommitted -> Pending, making the set eligible for
// NextPending to send as a QUERY (spec.md §3).
func (s *SubscriptionSet) Commit() {
	s.mutex.Lock()
	if s.State != SubscriptionUncommitted {
		s.mutex.Unlock()
		return
	}
	s.mutex.Unlock()
	s.setState(SubscriptionPending)
}

// trySend returns this set's QUERY exactly once, the first time it is Pending; subsequent calls
// return ok=false so NextOutbound never resends an already-sent query (spec.md §4.3, "Message
// sequence within Active").
func (s *SubscriptionSet) trySend() (*wire.Query, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.State != SubscriptionPending || s.sent {
		return nil, false
	}
	s.sent = true
	return &wire.Query{QueryVersion: s.QueryVersion, QueryBody: s.QueryBody}, true
}

func (s *SubscriptionSet) markSuperseded() {
	s.mutex.Lock()
	state := s.State
	s.mutex.Unlock()
	if state == SubscriptionComplete {
		s.setState(SubscriptionSuperseded)
	}
}

// SubscriptionManager owns every flexible-sync query version a Session has registered (spec.md
// §3): only one version at a time may be Active (Complete); committing a newer version leaves it
// Pending until the server bootstraps and marks it, at which point it becomes Active and the
// previously-Active version transitions to Superseded. Grounded on the one-set-per-session model
// this engine started from, generalized here to hold the full version history the spec's
// SubscriptionSet lifecycle requires instead of silently reusing a single mutable struct across
// query versions.
type SubscriptionManager struct {
	mutex     sync.Mutex
	byVersion map[uint64]*SubscriptionSet
	order     []uint64
	active    uint64
}

func NewSubscriptionManager() *SubscriptionManager {
	return &SubscriptionManager{byVersion: map[uint64]*SubscriptionSet{}}
}

// AddSubscription registers a new query version in SubscriptionUncommitted state. The caller
// calls Commit on the returned set once the query body is finalized and ready to be sent.
func (m *SubscriptionManager) AddSubscription(queryVersion uint64, queryBody []byte) *SubscriptionSet {
	set := NewSubscriptionSet(queryVersion, queryBody)

	m.mutex.Lock()
	m.byVersion[queryVersion] = set
	m.order = append(m.order, queryVersion)
	m.mutex.Unlock()

	return set
}

func (m *SubscriptionManager) Get(queryVersion uint64) (*SubscriptionSet, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	set, ok := m.byVersion[queryVersion]
	return set, ok
}

// ActiveQueryVersion returns the query version currently Active, or 0 if none has completed yet.
// handleDownload uses this to recognize a bootstrap batch: any DOWNLOAD whose query_version is
// newer than the Active one is still being bootstrapped (spec.md §4.3 step 3).
func (m *SubscriptionManager) ActiveQueryVersion() uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.active
}

// Active returns the currently-Active subscription set, or nil if none has completed yet.
func (m *SubscriptionManager) Active() *SubscriptionSet {
	m.mutex.Lock()
	active := m.active
	m.mutex.Unlock()
	if active == 0 {
		return nil
	}
	set, _ := m.Get(active)
	return set
}

// markActive promotes queryVersion to Active once its MARK round trip completes, and supersedes
// whichever version was previously Active (spec.md §3).
func (m *SubscriptionManager) markActive(queryVersion uint64) {
	m.mutex.Lock()
	previous := m.active
	m.active = queryVersion
	m.mutex.Unlock()

	if set, ok := m.Get(queryVersion); ok {
		set.setState(SubscriptionComplete)
	}
	if previous != 0 && previous != queryVersion {
		if prevSet, ok := m.Get(previous); ok {
			prevSet.markSuperseded()
		}
	}
}

// NextPending returns the oldest committed-but-unsent query across every registered version, as
// a ready-to-send QUERY message (spec.md §4.3, "Message sequence within Active"). The caller is
// responsible for filling in SessionIdent.
func (m *SubscriptionManager) NextPending() (*wire.Query, bool) {
	m.mutex.Lock()
	order := append([]uint64{}, m.order...)
	m.mutex.Unlock()

	for _, version := range order {
		set, ok := m.Get(version)
		if !ok {
			continue
		}
		if query, ok := set.trySend(); ok {
			return query, true
		}
	}
	return nil, false
}

// bootstrapItem adapts one buffered Download batch message into the itemQueue shape (queue.go),
// ordered by arrival sequence so PendingBootstrap drains strictly in receipt order.
type bootstrapItem struct {
	genericQueueItem
	download wire.Download
}

// PendingBootstrap buffers the MoreToCome/LastInBatch messages of a query bootstrap (spec.md
// §4.3, "Download integration" step 3) so they can be applied atomically once complete, and so a
// crash mid-bootstrap leaves nothing partially applied (spec.md §8, testable property 8).
// Grounded on the teacher's transfer_queue.go ordering pattern (queue.go's itemQueue), reused
// here to hold Download batches instead of transfer packs.
type PendingBootstrap struct {
	mutex        sync.Mutex
	queryVersion uint64
	items        *itemQueue[*bootstrapItem]
	nextSequence uint64
}

func NewPendingBootstrap(queryVersion uint64) *PendingBootstrap {
	return &PendingBootstrap{
		queryVersion: queryVersion,
		items: newItemQueue[*bootstrapItem](func(a, b *bootstrapItem) int {
			if a.sequenceNumber < b.sequenceNumber {
				return -1
			} else if b.sequenceNumber < a.sequenceNumber {
				return 1
			}
			return 0
		}),
	}
}

// Add buffers one batch message, returning true once LastInBatch has been seen (the caller
// should then call Drain).
func (p *PendingBootstrap) Add(download wire.Download) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	sequence := p.nextSequence
	p.nextSequence += 1

	p.items.Add(&bootstrapItem{
		genericQueueItem: genericQueueItem{
			messageId:        NewId(),
			messageByteCount: ByteCount(len(download.Changesets)),
			sequenceNumber:   sequence,
		},
		download: download,
	})

	return download.LastInBatch
}

// Drain removes and returns every buffered batch in receipt order, emptying the store. The
// caller applies them in one atomic pass, per spec.md §4.3 step 3.
func (p *PendingBootstrap) Drain() []wire.Download {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	out := []wire.Download{}
	for {
		item := p.items.RemoveFirst()
		if item == nil {
			break
		}
		out = append(out, item.download)
	}
	return out
}

// Discard drops every buffered batch without applying it — the crash-recovery behavior spec.md
// §8 property 8 requires: a partially stored bootstrap is never applied after restart.
func (p *PendingBootstrap) Discard() {
	p.Drain()
}
