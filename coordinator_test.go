package syncclient

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestSchemaCacheValidRangeInclusive(t *testing.T) {
	cache := &SchemaCache{}
	cache.CacheSchema("schema-v1", 3, 7)

	_, ok := cache.GetCachedSchema(2)
	assert.Equal(t, ok, false)

	schema, ok := cache.GetCachedSchema(3)
	assert.Equal(t, ok, true)
	assert.Equal(t, schema, "schema-v1")

	schema, ok = cache.GetCachedSchema(7)
	assert.Equal(t, ok, true)
	assert.Equal(t, schema, "schema-v1")

	_, ok = cache.GetCachedSchema(8)
	assert.Equal(t, ok, false)
}

func TestSchemaCacheAdvanceExtendsRange(t *testing.T) {
	cache := &SchemaCache{}
	cache.CacheSchema("schema-v1", 1, 5)

	ok := cache.AdvanceSchemaCache(5, 9)
	assert.Equal(t, ok, true)

	schema, ok := cache.GetCachedSchema(9)
	assert.Equal(t, ok, true)
	assert.Equal(t, schema, "schema-v1")
}

func TestSchemaCacheAdvanceRejectsMismatchedPrev(t *testing.T) {
	cache := &SchemaCache{}
	cache.CacheSchema("schema-v1", 1, 5)

	ok := cache.AdvanceSchemaCache(4, 9)
	assert.Equal(t, ok, false)
}

// S6 — async commit grouping: 5 grouped writes run consecutively with one flushed commit, five
// completion handlers fire in FIFO.
func TestCoordinatorAsyncCommitGroupingFiresInFifoOrder(t *testing.T) {
	history := NewMemHistory()
	coordinator := NewCoordinator("/tmp/db1", history)
	defer coordinator.Close()

	var order []int
	doneCh := make(chan struct{})
	n := 5

	for i := 0; i < n; i += 1 {
		i := i
		coordinator.AsyncBeginTransaction(func() error {
			return nil
		}, false, true, func(err error) {
			order = append(order, i)
			if len(order) == n {
				close(doneCh)
			}
		})
	}

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("not all writers completed")
	}

	for i := 0; i < n; i += 1 {
		assert.Equal(t, order[i], i)
	}
}

// Open Question 1 decision: a writer that observes a closed coordinator gets its completion
// callback fired with an error, not silently dropped.
func TestCoordinatorClosedQueueErrorsPendingWriters(t *testing.T) {
	history := NewMemHistory()
	coordinator := NewCoordinator("/tmp/db2", history)
	coordinator.Close()

	done := make(chan error, 1)
	coordinator.AsyncBeginTransaction(func() error { return nil }, false, false, func(err error) {
		done <- err
	})

	select {
	case err := <-done:
		assert.NotEqual(t, err, nil)
	case <-time.After(time.Second):
		t.Fatal("completion callback never fired for closed coordinator")
	}
}

func TestCoordinatorWriterPanicRollsBackAndReportsError(t *testing.T) {
	history := NewMemHistory()
	coordinator := NewCoordinator("/tmp/db3", history)
	defer coordinator.Close()

	done := make(chan error, 1)
	coordinator.AsyncBeginTransaction(func() error {
		panic("writer exploded")
	}, false, false, func(err error) {
		done <- err
	})

	select {
	case err := <-done:
		assert.NotEqual(t, err, nil)
	case <-time.After(time.Second):
		t.Fatal("panicking writer never reported completion")
	}
}

func TestCoordinatorRegistryReusesCoordinatorUntilReleased(t *testing.T) {
	registry := NewCoordinatorRegistry()

	c1 := registry.Acquire("/tmp/shared", NewMemHistory)
	c2 := registry.Acquire("/tmp/shared", NewMemHistory)
	assert.Equal(t, c1 == c2, true)

	registry.Release("/tmp/shared")
	registry.Release("/tmp/shared")

	c3 := registry.Acquire("/tmp/shared", NewMemHistory)
	assert.Equal(t, c1 == c3, false)
	registry.Release("/tmp/shared")
}
