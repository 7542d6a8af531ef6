package metadatastore

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestStorePutAndGetUserRoundTripsPlaintext(t *testing.T) {
	store, err := Open(":memory:", nil)
	assert.Equal(t, err, nil)
	defer store.Close()

	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	err = store.PutUser(UserRecord{Identity: "user-1", RefreshToken: "refresh-1", AccessToken: "access-1", AccessTokenExpiry: expiry})
	assert.Equal(t, err, nil)

	got, err := store.GetUser("user-1")
	assert.Equal(t, err, nil)
	assert.NotEqual(t, got, nil)
	assert.Equal(t, got.RefreshToken, "refresh-1")
	assert.Equal(t, got.AccessToken, "access-1")
	assert.Equal(t, got.AccessTokenExpiry.Unix(), expiry.Unix())
}

func TestStoreGetUserMissingReturnsNil(t *testing.T) {
	store, err := Open(":memory:", nil)
	assert.Equal(t, err, nil)
	defer store.Close()

	got, err := store.GetUser("nobody")
	assert.Equal(t, err, nil)
	assert.Equal(t, got, (*UserRecord)(nil))
}

func TestStoreEncryptedModeSealsAndOpensTokens(t *testing.T) {
	var key SealKey
	for i := range key {
		key[i] = byte(i)
	}
	store, err := Open(":memory:", &key)
	assert.Equal(t, err, nil)
	defer store.Close()

	err = store.PutUser(UserRecord{Identity: "user-2", RefreshToken: "secret-refresh", AccessToken: "secret-access"})
	assert.Equal(t, err, nil)

	got, err := store.GetUser("user-2")
	assert.Equal(t, err, nil)
	assert.Equal(t, got.RefreshToken, "secret-refresh")
	assert.Equal(t, got.AccessToken, "secret-access")
}

func TestStoreDrainFileActionsOrdersByQueuedAtAndEmptiesQueue(t *testing.T) {
	store, err := Open(":memory:", nil)
	assert.Equal(t, err, nil)
	defer store.Close()

	base := time.Now()
	err = store.QueueFileAction(FileActionRecord{Path: "/db/a", Action: ActionDelete, QueuedAt: base})
	assert.Equal(t, err, nil)
	err = store.QueueFileAction(FileActionRecord{Path: "/db/b", Action: ActionBackupThenDelete, QueuedAt: base.Add(time.Second)})
	assert.Equal(t, err, nil)

	actions, err := store.DrainFileActions()
	assert.Equal(t, err, nil)
	assert.Equal(t, len(actions), 2)
	assert.Equal(t, actions[0].Path, "/db/a")
	assert.Equal(t, actions[1].Path, "/db/b")

	again, err := store.DrainFileActions()
	assert.Equal(t, err, nil)
	assert.Equal(t, len(again), 0)
}

func TestStoreQueueFileActionReplacesEarlierActionForSamePath(t *testing.T) {
	store, err := Open(":memory:", nil)
	assert.Equal(t, err, nil)
	defer store.Close()

	err = store.QueueFileAction(FileActionRecord{Path: "/db/a", Action: ActionDelete, QueuedAt: time.Now()})
	assert.Equal(t, err, nil)
	err = store.QueueFileAction(FileActionRecord{Path: "/db/a", Action: ActionBackupThenDelete, QueuedAt: time.Now()})
	assert.Equal(t, err, nil)

	actions, err := store.DrainFileActions()
	assert.Equal(t, err, nil)
	assert.Equal(t, len(actions), 1)
	assert.Equal(t, actions[0].Action, ActionBackupThenDelete)
}
