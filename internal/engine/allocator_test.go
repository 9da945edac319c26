package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextSkipsNonNumericSuffixes(t *testing.T) {
	store := newFakeStore(
		pendingOrder("bt_5"),
		pendingOrder("bt_3"),
		pendingOrder("bt_notnum"),
	)
	alloc := NewIDAllocator(store)

	id, err := alloc.Next(context.Background(), "bt_")
	require.NoError(t, err)
	assert.Equal(t, "bt_6", id)
}

func TestNextEmptyNamespace(t *testing.T) {
	alloc := NewIDAllocator(newFakeStore())

	id, err := alloc.Next(context.Background(), "bt_")
	require.NoError(t, err)
	assert.Equal(t, "bt_1", id)
}

func TestNextIgnoresProvisionalIDs(t *testing.T) {
	store := newFakeStore(
		pendingOrder("bt_2"),
		pendingOrder("bt_pending_0c9f2d"),
	)
	alloc := NewIDAllocator(store)

	id, err := alloc.Next(context.Background(), "bt_")
	require.NoError(t, err)
	assert.Equal(t, "bt_3", id)
}

func TestNextStoreError(t *testing.T) {
	store := newFakeStore()
	store.listErr = assert.AnError
	alloc := NewIDAllocator(store)

	_, err := alloc.Next(context.Background(), "bt_")
	var storeErr *StoreError
	assert.ErrorAs(t, err, &storeErr)
}
