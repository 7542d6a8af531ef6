package syncclient

import (
	"container/heap"
	"sync"
)

// itemQueue is a container/heap-backed ordered collection indexed three ways at once: by
// insertion order (min-heap, for FIFO drain), by message id (for ack/dedup lookups), and by a
// max-heap peek of the highest sequence number seen (for "what is the newest pending item").
// Used by the PendingBootstrap buffer (subscription.go) to hold buffered DOWNLOAD changesets in
// arrival order while still being able to look an item up by id. Grounded on the teacher's transfer_queue.go, which used the identical shape to order
// outbound transfer packs by sequence number.
type queueItem interface {
	MessageId() Id
	MessageByteCount() ByteCount
	SequenceNumber() uint64
	HeapIndex() int
	SetHeapIndex(int)
	MaxHeapIndex() int
	SetMaxHeapIndex(int)
}

type genericQueueItem struct {
	messageId        Id
	messageByteCount ByteCount
	sequenceNumber   uint64

	// the index of the item in the heap
	heapIndex int
	// the index of the item in the max heap
	maxHeapIndex int
}

// queueItem implementation

func (self *genericQueueItem) MessageId() Id {
	return self.messageId
}

func (self *genericQueueItem) MessageByteCount() ByteCount {
	return self.messageByteCount
}

func (self *genericQueueItem) SequenceNumber() uint64 {
	return self.sequenceNumber
}

func (self *genericQueueItem) HeapIndex() int {
	return self.heapIndex
}

func (self *genericQueueItem) SetHeapIndex(heapIndex int) {
	self.heapIndex = heapIndex
}

func (self *genericQueueItem) MaxHeapIndex() int {
	return self.maxHeapIndex
}

func (self *genericQueueItem) SetMaxHeapIndex(maxHeapIndex int) {
	self.maxHeapIndex = maxHeapIndex
}

type QueueCmpFunction[T queueItem] func(a T, b T) int

// ordered by sequenceNumber
type itemQueue[T queueItem] struct {
	orderedItems []T
	maxHeap      *itemQueueMaxHeap[T]
	// message_id -> item
	messageIdItems      map[Id]T
	sequenceNumberItems map[uint64]T
	byteCount           ByteCount
	stateLock           sync.Mutex

	cmp QueueCmpFunction[T]
}

func newItemQueue[T queueItem](cmp QueueCmpFunction[T]) *itemQueue[T] {
	itemQueue := &itemQueue[T]{
		orderedItems:        []T{},
		maxHeap:             newItemQueueMaxHeap[T](cmp),
		messageIdItems:      map[Id]T{},
		sequenceNumberItems: map[uint64]T{},
		byteCount:           0,
		cmp:                 cmp,
	}
	heap.Init(itemQueue)
	return itemQueue
}

func (self *itemQueue[T]) QueueSize() (int, ByteCount) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.orderedItems), self.byteCount
}

func (self *itemQueue[T]) Add(item T) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.messageIdItems[item.MessageId()] = item
	self.sequenceNumberItems[item.SequenceNumber()] = item
	heap.Push(self, item)
	heap.Push(self.maxHeap, item)
	self.byteCount += item.MessageByteCount()
}

func (self *itemQueue[T]) ContainsMessageId(messageId Id) (sequenceNumber uint64, ok bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	item, ok := self.messageIdItems[messageId]
	if !ok {
		return 0, false
	}
	return item.SequenceNumber(), true
}

func (self *itemQueue[T]) RemoveByMessageId(messageId Id) T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	item, ok := self.messageIdItems[messageId]
	if !ok {
		var empty T
		return empty
	}
	return self.remove(item)
}

func (self *itemQueue[T]) RemoveBySequenceNumber(sequenceNumber uint64) T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	item, ok := self.sequenceNumberItems[sequenceNumber]
	if !ok {
		var empty T
		return empty
	}
	return self.remove(item)
}

func (self *itemQueue[T]) GetByMessageId(messageId Id) T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	item, ok := self.messageIdItems[messageId]
	if !ok {
		var empty T
		return empty
	}
	return item
}

func (self *itemQueue[T]) GetBySequenceNumber(sequenceNumber uint64) T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	item, ok := self.sequenceNumberItems[sequenceNumber]
	if !ok {
		var empty T
		return empty
	}
	return item
}

func (self *itemQueue[T]) remove(item T) T {
	delete(self.messageIdItems, item.MessageId())
	delete(self.sequenceNumberItems, item.SequenceNumber())
	item_ := heap.Remove(self, item.HeapIndex())
	if any(item) != item_ {
		panic("Heap invariant broken.")
	}
	heap.Remove(self.maxHeap, item.MaxHeapIndex())
	self.byteCount -= item.MessageByteCount()
	return item
}

func (self *itemQueue[T]) RemoveFirst() T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if len(self.orderedItems) == 0 {
		var empty T
		return empty
	}

	item := heap.Remove(self, 0).(T)
	heap.Remove(self.maxHeap, item.MaxHeapIndex())
	delete(self.messageIdItems, item.MessageId())
	delete(self.sequenceNumberItems, item.SequenceNumber())
	self.byteCount -= item.MessageByteCount()
	return item
}

func (self *itemQueue[T]) PeekFirst() T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if len(self.orderedItems) == 0 {
		var empty T
		return empty
	}
	return self.orderedItems[0]
}

func (self *itemQueue[T]) PeekLast() T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.maxHeap.PeekFirst()
}

// heap.Interface

func (self *itemQueue[T]) Push(x any) {
	item := x.(T)
	item.SetHeapIndex(len(self.orderedItems))
	self.orderedItems = append(self.orderedItems, item)
}

func (self *itemQueue[T]) Pop() any {
	n := len(self.orderedItems)
	i := n - 1
	var empty T
	item := self.orderedItems[i]
	self.orderedItems[i] = empty
	self.orderedItems = self.orderedItems[:n-1]
	return item
}

// sort.Interface

func (self *itemQueue[T]) Len() int {
	return len(self.orderedItems)
}

func (self *itemQueue[T]) Less(i int, j int) bool {
	return self.cmp(self.orderedItems[i], self.orderedItems[j]) < 0
}

func (self *itemQueue[T]) Swap(i int, j int) {
	a := self.orderedItems[i]
	b := self.orderedItems[j]
	b.SetHeapIndex(i)
	self.orderedItems[i] = b
	a.SetHeapIndex(j)
	self.orderedItems[j] = a
}

// ordered by `sequenceNumber` descending
type itemQueueMaxHeap[T queueItem] struct {
	orderedItems []T

	cmp QueueCmpFunction[T]
}

func newItemQueueMaxHeap[T queueItem](cmp QueueCmpFunction[T]) *itemQueueMaxHeap[T] {
	itemQueueMaxHeap := &itemQueueMaxHeap[T]{
		orderedItems: []T{},
		cmp:          cmp,
	}
	heap.Init(itemQueueMaxHeap)
	return itemQueueMaxHeap
}

func (self *itemQueueMaxHeap[T]) PeekFirst() T {
	if len(self.orderedItems) == 0 {
		var empty T
		return empty
	}
	return self.orderedItems[0]
}

// heap.Interface

func (self *itemQueueMaxHeap[T]) Push(x any) {
	item := x.(T)
	item.SetMaxHeapIndex(len(self.orderedItems))
	self.orderedItems = append(self.orderedItems, item)
}

func (self *itemQueueMaxHeap[T]) Pop() any {
	n := len(self.orderedItems)
	i := n - 1
	var empty T
	item := self.orderedItems[i]
	self.orderedItems[i] = empty
	self.orderedItems = self.orderedItems[:n-1]
	return item
}

// `sort.Interface`

func (self *itemQueueMaxHeap[T]) Len() int {
	return len(self.orderedItems)
}

func (self *itemQueueMaxHeap[T]) Less(i int, j int) bool {
	return 0 <= self.cmp(self.orderedItems[i], self.orderedItems[j])
}

func (self *itemQueueMaxHeap[T]) Swap(i int, j int) {
	a := self.orderedItems[i]
	b := self.orderedItems[j]
	b.SetMaxHeapIndex(i)
	self.orderedItems[i] = b
	a.SetMaxHeapIndex(j)
	self.orderedItems[j] = a
}
