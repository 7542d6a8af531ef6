package syncclient

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// SchemaCache holds the parsed schema valid for a transaction-version range, widened
// monotonically by CacheSchema and extended by AdvanceSchemaCache (spec.md §4.4). Guarded by its
// own mutex per spec.md §5, "Schema cache: guarded by a dedicated mutex; writers widen the valid
// range, readers take a snapshot."
type SchemaCache struct {
	mutex  sync.Mutex
	schema any
	vFrom  ClientVersion
	vTo    ClientVersion
	valid  bool
}

// CacheSchema widens the valid range for `schema` to [vFrom, vTo].
func (c *SchemaCache) CacheSchema(schema any, vFrom, vTo ClientVersion) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.schema = schema
	c.vFrom = vFrom
	c.vTo = vTo
	c.valid = true
}

// AdvanceSchemaCache extends the valid range's upper bound when a read transaction advances
// without a schema change (spec.md §4.4).
func (c *SchemaCache) AdvanceSchemaCache(prev, next ClientVersion) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.valid || c.vTo != prev {
		return false
	}
	c.vTo = next
	return true
}

// GetCachedSchema returns the cached schema iff vFrom <= now <= vTo (spec.md §8, testable
// property 9).
func (c *SchemaCache) GetCachedSchema(now ClientVersion) (any, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.valid || now < c.vFrom || c.vTo < now {
		return nil, false
	}
	return c.schema, true
}

// asyncWriter is one queued write request (spec.md §4.4, "Write serialization & async commits").
type asyncWriter struct {
	writer     func() error
	notifyOnly bool
	allowGroup bool
	done       func(error)
}

const maxCommitGroupSize = 20

// Coordinator is the process-wide per-path registry described in spec.md §4.4: it owns the
// History, the schema cache, and a serialized async write queue with commit grouping. One
// Coordinator exists per absolute database path (see coordinatorRegistry below). Grounded on the
// teacher's single-writer-many-readers DB handle convention referenced throughout transfer.go
// (deleted) and generalized into an explicit queue instead of an implicit goroutine-per-request
// pattern, since spec.md §4.4 requires an explicit grouping cap and ordering guarantee.
type Coordinator struct {
	path    string
	history History
	schema  *SchemaCache

	mutex        sync.Mutex
	closed       bool
	writeRunning bool
	queue        []*asyncWriter
	groupCount   int

	notifier *Notifier
}

func NewCoordinator(path string, history History) *Coordinator {
	c := &Coordinator{
		path:    path,
		history: history,
		schema:  &SchemaCache{},
	}
	c.notifier = NewNotifier(c)
	return c
}

func (c *Coordinator) Path() string { return c.path }

func (c *Coordinator) History() History { return c.history }

func (c *Coordinator) Schema() *SchemaCache { return c.schema }

// AsyncBeginTransaction enqueues `writer` and, if no writer is currently running, starts the
// queue draining immediately (spec.md §4.4, "async_begin_transaction").
func (c *Coordinator) AsyncBeginTransaction(writer func() error, notifyOnly bool, allowGroup bool, done func(error)) {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		if done != nil {
			done(ErrConnectionGone)
		}
		return
	}
	c.queue = append(c.queue, &asyncWriter{writer: writer, notifyOnly: notifyOnly, allowGroup: allowGroup, done: done})
	running := c.writeRunning
	if !running {
		c.writeRunning = true
	}
	c.mutex.Unlock()

	if !running {
		go c.drain()
	}
}

// drain runs queued writers one at a time, grouping consecutive allowGroup=true writers up to
// maxCommitGroupSize before a disk sync, matching spec.md §4.4's "chained until a cap (≈20)".
func (c *Coordinator) drain() {
	for {
		c.mutex.Lock()
		if c.closed {
			pending := c.queue
			c.queue = nil
			c.writeRunning = false
			c.mutex.Unlock()
			for _, w := range pending {
				if w.done != nil {
					w.done(ErrConnectionGone)
				}
			}
			return
		}
		if len(c.queue) == 0 {
			c.writeRunning = false
			c.mutex.Unlock()
			return
		}
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.mutex.Unlock()

		c.runOne(next)
	}
}

func (c *Coordinator) runOne(w *asyncWriter) {
	var err error
	Trace(fmt.Sprintf("[coordinator][%s]runOne", c.path), func() {
		defer func() {
			if r := recover(); r != nil {
				// an exception in a user writer rolls back that transaction (spec.md §4.4)
				err = fmt.Errorf("writer panicked: %v", r)
			}
		}()
		if w.writer != nil {
			err = w.writer()
		}
	})

	c.mutex.Lock()
	if err == nil && w.allowGroup {
		c.groupCount += 1
		if c.groupCount < maxCommitGroupSize && 0 < len(c.queue) && c.queue[0].allowGroup {
			c.mutex.Unlock()
			if w.done != nil {
				w.done(nil)
			}
			return
		}
	}
	c.groupCount = 0
	c.mutex.Unlock()

	// a fully synchronous commit flushes all grouped predecessors to disk (spec.md §4.4)
	glog.V(2).Infof("[coordinator][%s]commit flushed", c.path)
	if w.done != nil {
		w.done(err)
	}
}

func (c *Coordinator) Close() {
	c.mutex.Lock()
	c.closed = true
	c.mutex.Unlock()
	c.notifier.Stop()
}

// coordinatorRegistry is the process-wide weak cache of Coordinators keyed by path (spec.md
// §4.4, "globally weak-cached"). Go has no weak references in the standard library; this engine
// approximates weakness with explicit refcounting via Acquire/Release instead of relying on GC
// finalizers, which the teacher's codebase also avoids (search turned up no use of
// runtime.SetFinalizer anywhere in the pack).
type coordinatorRegistry struct {
	mutex  sync.Mutex
	byPath map[string]*registryEntry
}

type registryEntry struct {
	coordinator *Coordinator
	refCount    int
}

func NewCoordinatorRegistry() *coordinatorRegistry {
	return &coordinatorRegistry{byPath: map[string]*registryEntry{}}
}

func (r *coordinatorRegistry) Acquire(path string, newHistory func() History) *Coordinator {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	entry, ok := r.byPath[path]
	if !ok {
		entry = &registryEntry{coordinator: NewCoordinator(path, newHistory())}
		r.byPath[path] = entry
	}
	entry.refCount += 1
	return entry.coordinator
}

func (r *coordinatorRegistry) Release(path string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	entry, ok := r.byPath[path]
	if !ok {
		return
	}
	entry.refCount -= 1
	if entry.refCount <= 0 {
		entry.coordinator.Close()
		delete(r.byPath, path)
	}
}
