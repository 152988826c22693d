package ledger

import (
	"context"
	"errors"
	"purchase-sync/pkg/sdk/storage"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory storage.Store with switchable failures.
type memStore struct {
	data   map[string][]byte
	getErr error
	setErr error
	sets   int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.data[key], nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte) error {
	m.sets++
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestInsertPersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	l := Load(ctx, store, storage.KeyProcessedTransactions)
	assert.False(t, l.Contains("txn-1"))

	l.Insert(ctx, "txn-1", "txn-2")
	assert.True(t, l.Contains("txn-1"))
	assert.JSONEq(t, `["txn-1","txn-2"]`, string(store.data[storage.KeyProcessedTransactions]))

	reloaded := Load(ctx, store, storage.KeyProcessedTransactions)
	assert.Equal(t, []string{"txn-1", "txn-2"}, reloaded.IDs())
}

func TestInsertExistingDoesNotRewrite(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := Load(ctx, store, "k")

	l.Insert(ctx, "a")
	l.Insert(ctx, "a", "")
	assert.Equal(t, 1, store.sets)
	assert.False(t, l.Contains(""))
}

func TestReadFailureStartsEmpty(t *testing.T) {
	store := newMemStore()
	store.data["k"] = []byte(`["a"]`)
	store.getErr = errors.New("disk gone")

	l := Load(context.Background(), store, "k")
	assert.Equal(t, 0, l.Len())
}

func TestCorruptValueStartsEmpty(t *testing.T) {
	store := newMemStore()
	store.data["k"] = []byte(`{not json`)

	l := Load(context.Background(), store, "k")
	assert.Equal(t, 0, l.Len())
}

func TestWriteFailureRetriedOnNextMutation(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := Load(ctx, store, "k")

	store.setErr = errors.New("readonly")
	l.Insert(ctx, "a")
	assert.True(t, l.Contains("a"), "memory keeps the id even if the write failed")
	assert.True(t, l.Dirty())
	assert.Nil(t, store.data["k"])

	store.setErr = nil
	l.Insert(ctx, "b")
	assert.False(t, l.Dirty())
	assert.JSONEq(t, `["a","b"]`, string(store.data["k"]))
}

func TestSnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	l := Load(ctx, newMemStore(), "k")
	l.Insert(ctx, "a")

	snap := l.Snapshot()
	snap["b"] = struct{}{}
	assert.False(t, l.Contains("b"))
}

func TestReplaceAndRemove(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := Load(ctx, store, "k")
	l.Insert(ctx, "a", "b")

	l.Replace(ctx, map[string]struct{}{"c": {}})
	assert.Equal(t, []string{"c"}, l.IDs())

	l.Remove(ctx, "c")
	assert.Equal(t, 0, l.Len())
	assert.JSONEq(t, `[]`, string(store.data["k"]))
}

func TestPutPersistsEntriesAndReloads(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := Load(ctx, store, storage.KeyUnverifiedTransactions)

	l.Insert(ctx, "a")
	l.Put(ctx, "b", Entry{ProductID: "com.app.monthly", OriginalID: "o1", Restored: true})
	assert.JSONEq(t,
		`{"a":{},"b":{"product_id":"com.app.monthly","original_id":"o1","restored":true}}`,
		string(store.data[storage.KeyUnverifiedTransactions]))

	reloaded := Load(ctx, store, storage.KeyUnverifiedTransactions)
	assert.Equal(t, []string{"a", "b"}, reloaded.IDs())
	e, ok := reloaded.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, "com.app.monthly", e.ProductID)
	assert.True(t, e.Restored)

	sets := store.sets
	reloaded.Put(ctx, "b", e)
	assert.Equal(t, sets, store.sets, "unchanged entry is not rewritten")

	reloaded.Remove(ctx, "b")
	assert.JSONEq(t, `["a"]`, string(store.data[storage.KeyUnverifiedTransactions]))
}
