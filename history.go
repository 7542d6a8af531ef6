package syncclient

import (
	"sync"
	"time"

	"github.com/latticesync/syncclient/internal/wire"
)

// LocalChangeset is one committed local change, as the History stores and serves it for upload
// selection (spec.md §4.3, "Upload selection").
type LocalChangeset struct {
	ClientVersion ClientVersion
	Data          []byte
}

// History is the on-disk change log external collaborator (spec.md §1 non-goals: "the on-disk
// storage format" is out of scope). It stores committed changesets, the current
// ClientFileIdent, SyncProgress, and a pending client-reset marker. memHistory below is the
// in-memory reference implementation SPEC_FULL.md §6.2 calls for, sufficient to drive the engine
// end-to-end in tests without a real storage engine.
type History interface {
	ClientFileIdent() ClientFileIdent
	SetClientFileIdent(ClientFileIdent)

	Progress() SyncProgress
	SetProgress(SyncProgress)

	// LastLocalVersionAvailable is the highest locally committed client version.
	LastLocalVersionAvailable() ClientVersion

	// ChangesetsAfter returns changesets strictly after `after`, up to `capVersion` inclusive
	// (spec.md §4.3, "Upload selection").
	ChangesetsAfter(after ClientVersion, capVersion ClientVersion) []LocalChangeset

	// CommitLocal appends a new locally-authored changeset and returns its assigned version.
	CommitLocal(data []byte) ClientVersion

	// IntegrateRemote applies one inbound changeset in a single write transaction, producing a
	// new local client version (spec.md §4.3, "Download integration", step 4).
	IntegrateRemote(changeset wire.Changeset) ClientVersion

	// PendingResetMarker reports the last-reset marker without clearing it; SetResetMarker
	// replaces it, and nil clears it (spec.md §6.2).
	PendingResetMarker() *ClientResetMarker
	SetResetMarker(*ClientResetMarker)

	// AdoptFreshCopy replaces this History's client identity, progress, and local changeset log
	// with a freshly client-reset copy's (spec.md §4.3, "Client reset orchestration" step 4). The
	// actual merge algorithm between the stale local state and the fresh download is an on-disk
	// storage concern and out of scope (spec.md §1 non-goals); this only models the handoff.
	AdoptFreshCopy(fresh History)
}

type ClientResetMarker struct {
	Kind       string
	OccurredAt int64
}

type memHistory struct {
	mutex sync.Mutex

	ident    ClientFileIdent
	progress SyncProgress

	localChangesets []LocalChangeset
	nextLocal       ClientVersion

	resetMarker *ClientResetMarker
}

func NewMemHistory() History {
	return &memHistory{
		nextLocal: 1,
	}
}

func (h *memHistory) ClientFileIdent() ClientFileIdent {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.ident
}

func (h *memHistory) SetClientFileIdent(ident ClientFileIdent) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.ident = ident
}

func (h *memHistory) Progress() SyncProgress {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.progress
}

func (h *memHistory) SetProgress(progress SyncProgress) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.progress = progress
}

func (h *memHistory) LastLocalVersionAvailable() ClientVersion {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if len(h.localChangesets) == 0 {
		return 0
	}
	return h.localChangesets[len(h.localChangesets)-1].ClientVersion
}

func (h *memHistory) ChangesetsAfter(after ClientVersion, capVersion ClientVersion) []LocalChangeset {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	out := []LocalChangeset{}
	for _, c := range h.localChangesets {
		if after < c.ClientVersion && c.ClientVersion <= capVersion {
			out = append(out, c)
		}
	}
	return out
}

func (h *memHistory) CommitLocal(data []byte) ClientVersion {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	version := h.nextLocal
	h.nextLocal += 1
	h.localChangesets = append(h.localChangesets, LocalChangeset{ClientVersion: version, Data: data})
	return version
}

func (h *memHistory) IntegrateRemote(changeset wire.Changeset) ClientVersion {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	version := h.nextLocal
	h.nextLocal += 1
	h.localChangesets = append(h.localChangesets, LocalChangeset{ClientVersion: version, Data: changeset.Data})
	return version
}

func (h *memHistory) PendingResetMarker() *ClientResetMarker {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.resetMarker
}

func (h *memHistory) SetResetMarker(marker *ClientResetMarker) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.resetMarker = marker
}

func (h *memHistory) AdoptFreshCopy(fresh History) {
	freshMem, ok := fresh.(*memHistory)
	if !ok {
		return
	}
	freshMem.mutex.Lock()
	ident := freshMem.ident
	progress := freshMem.progress
	changesets := append([]LocalChangeset{}, freshMem.localChangesets...)
	nextLocal := freshMem.nextLocal
	freshMem.mutex.Unlock()

	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.ident = ident
	h.progress = progress
	h.localChangesets = changesets
	h.nextLocal = nextLocal
	h.resetMarker = &ClientResetMarker{Kind: "fresh_copy", OccurredAt: time.Now().UnixNano()}
}
