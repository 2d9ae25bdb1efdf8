//go:build unit

package credstore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang-wifiprov/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "nvs.db"), "wifi_config")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_LoadNeverWritten(t *testing.T) {
	store := openTestStore(t)

	record, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	t.Run("AllFields", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, types.CredentialRecord{SSID: "MyNet", Password: "Secr3t", APIKey: "sk-abc"}))

		record, err := store.Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, types.CredentialRecord{SSID: "MyNet", Password: "Secr3t", APIKey: "sk-abc"}, *record)
	})

	t.Run("EmptyKeyDropsStaleKey", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, types.CredentialRecord{SSID: "Home", Password: "pw123"}))

		record, err := store.Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, "Home", record.SSID)
		assert.Equal(t, "pw123", record.Password)
		assert.Empty(t, record.APIKey)
	})

	t.Run("OpenNetwork", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, types.CredentialRecord{SSID: "Cafe"}))

		record, err := store.Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, "Cafe", record.SSID)
		assert.Empty(t, record.Password)
	})
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nvs.db")

	store, err := Open(ctx, path, "wifi_config")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, types.CredentialRecord{SSID: "Home", Password: "pw123"}))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path, "wifi_config")
	require.NoError(t, err)
	defer reopened.Close()

	record, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "Home", record.SSID)
}

func TestStore_ClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	require.NoError(t, store.Save(ctx, types.CredentialRecord{SSID: "Home", Password: "pw123", APIKey: "sk-1"}))

	for i := 0; i < 2; i++ {
		require.NoError(t, store.Clear(ctx))
		record, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, record, "clear #%d should leave the store absent", i+1)
	}
}

func TestStore_AtomicSave(t *testing.T) {
	ctx := context.Background()

	t.Run("InterruptedOverwriteKeepsOldRecord", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.Save(ctx, types.CredentialRecord{SSID: "Old", Password: "old-pw", APIKey: "sk-old"}))

		store.beforeCommit = func() error { return errors.New("power lost") }
		err := store.Save(ctx, types.CredentialRecord{SSID: "New", Password: "new-pw"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrStoreWriteFailed))

		store.beforeCommit = nil
		record, err := store.Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, types.CredentialRecord{SSID: "Old", Password: "old-pw", APIKey: "sk-old"}, *record)
	})

	t.Run("InterruptedFirstWriteLeavesAbsent", func(t *testing.T) {
		store := openTestStore(t)

		store.beforeCommit = func() error { return errors.New("power lost") }
		err := store.Save(ctx, types.CredentialRecord{SSID: "New", Password: "new-pw"})
		require.Error(t, err)

		store.beforeCommit = nil
		record, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, record)
	})
}

func TestStore_SaveRejectsOversizedFields(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	err := store.Save(ctx, types.CredentialRecord{SSID: strings.Repeat("n", 128), Password: "pw"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrStoreWriteFailed))

	record, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestStore_Unavailable(t *testing.T) {
	t.Run("ParentIsAFile", func(t *testing.T) {
		dir := t.TempDir()
		blocker := filepath.Join(dir, "blocker")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

		_, err := Open(context.Background(), filepath.Join(blocker, "nvs.db"), "wifi_config")
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrStoreUnavailable))
	})

	t.Run("LoadAfterClose", func(t *testing.T) {
		store, err := Open(context.Background(), filepath.Join(t.TempDir(), "nvs.db"), "wifi_config")
		require.NoError(t, err)
		require.NoError(t, store.Close())

		_, err = store.Load(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrStoreUnavailable))
	})
}

func TestStore_OpenedOnFirstUse(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	blocker := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	store := New(filepath.Join(blocker, "nvs.db"), "wifi_config")
	defer store.Close()

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, types.ErrStoreUnavailable)
	err = store.Save(ctx, types.CredentialRecord{SSID: "Home", Password: "pw123"})
	assert.ErrorIs(t, err, types.ErrStoreWriteFailed)
	assert.ErrorIs(t, store.Clear(ctx), types.ErrStoreWriteFailed)

	// Once the storage is usable the next operation opens it.
	require.NoError(t, os.Remove(blocker))
	require.NoError(t, store.Save(ctx, types.CredentialRecord{SSID: "Home", Password: "pw123"}))

	record, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "Home", record.SSID)
}

func TestStore_CorruptFileIsRecreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nvs.db")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("garbage!"), 512), 0o600))

	store, err := Open(context.Background(), path, "wifi_config")
	require.NoError(t, err)
	defer store.Close()

	record, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestStore_NamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nvs.db")

	a, err := Open(ctx, path, "wifi_config")
	require.NoError(t, err)
	require.NoError(t, a.Save(ctx, types.CredentialRecord{SSID: "Home", Password: "pw"}))
	require.NoError(t, a.Close())

	b, err := Open(ctx, path, "other")
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.Clear(ctx))

	record, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, record)

	a, err = Open(ctx, path, "wifi_config")
	require.NoError(t, err)
	defer a.Close()
	record, err = a.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "Home", record.SSID)
}
