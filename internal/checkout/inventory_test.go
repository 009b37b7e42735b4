package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
)

type mapInventoryStore struct {
	values map[string]string
	err    error
}

func (m *mapInventoryStore) Get(_ context.Context, key string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	value, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (m *mapInventoryStore) InventoryKey(productID string) string { return "pf:inventory:" + productID }

func TestRedisInventorySnapshot(t *testing.T) {
	known := uuid.New()
	broken := uuid.New()
	store := &mapInventoryStore{values: map[string]string{
		"pf:inventory:" + known.String():  `{"stock":7,"price":"12.50"}`,
		"pf:inventory:" + broken.String(): `not-json`,
	}}
	inv, err := NewRedisInventory(store)
	require.NoError(t, err)

	snap, err := inv.Snapshot(context.Background(), known)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, known, snap.ProductID)
	assert.Equal(t, 7, snap.Stock)
	assert.True(t, snap.Price.Equal(d("12.50")))

	missing, err := inv.Snapshot(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = inv.Snapshot(context.Background(), broken)
	require.Error(t, err)
	assert.False(t, pkgerrors.As(err).Retryable())
}

func TestRedisInventoryDependencyFailure(t *testing.T) {
	inv, err := NewRedisInventory(&mapInventoryStore{err: errors.New("connection refused")})
	require.NoError(t, err)

	_, err = inv.Snapshot(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}
