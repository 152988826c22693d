package identity

import (
	"context"
	"errors"
	"path/filepath"
	"purchase-sync/pkg/sdk/storage"
	"purchase-sync/pkg/sdk/verifier"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistrar struct {
	calls int
	id    string
	err   error
}

func (f *fakeRegistrar) Register(context.Context, verifier.Device) (string, error) {
	f.calls++
	return f.id, f.err
}

func openStore(t *testing.T) *storage.GormStore {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestResolveRegistersOnce(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	reg := &fakeRegistrar{id: "user-42"}

	id, err := Resolve(ctx, store, reg, verifier.Device{DeviceID: "dev-1", Platform: "ios"})
	require.NoError(t, err)
	assert.Equal(t, "user-42", id)

	id, err = Resolve(ctx, store, reg, verifier.Device{DeviceID: "dev-1", Platform: "ios"})
	require.NoError(t, err)
	assert.Equal(t, "user-42", id)
	assert.Equal(t, 1, reg.calls)
}

func TestResolveRegisterFailure(t *testing.T) {
	store := openStore(t)
	reg := &fakeRegistrar{err: errors.New("offline")}

	_, err := Resolve(context.Background(), store, reg, verifier.Device{DeviceID: "dev-1"})
	assert.Error(t, err)

	raw, err := store.Get(context.Background(), storage.KeyUserID)
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestForget(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	reg := &fakeRegistrar{id: "user-1"}

	_, err := Resolve(ctx, store, reg, verifier.Device{})
	require.NoError(t, err)
	require.NoError(t, Forget(ctx, store))

	reg.id = "user-2"
	id, err := Resolve(ctx, store, reg, verifier.Device{})
	require.NoError(t, err)
	assert.Equal(t, "user-2", id)
	assert.Equal(t, 2, reg.calls)
}
