package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
)

type inventoryStore interface {
	Get(ctx context.Context, key string) (string, error)
	InventoryKey(productID string) string
}

type cachedSnapshot struct {
	Stock int             `json:"stock"`
	Price decimal.Decimal `json:"price"`
}

// RedisInventory reads the product snapshots the catalog writes to Redis as
// {"stock":N,"price":"12.50"}.
type RedisInventory struct {
	store inventoryStore
}

func NewRedisInventory(store inventoryStore) (*RedisInventory, error) {
	if store == nil {
		return nil, fmt.Errorf("inventory store required")
	}
	return &RedisInventory{store: store}, nil
}

func (r *RedisInventory) Snapshot(ctx context.Context, productID uuid.UUID) (*InventorySnapshot, error) {
	raw, err := r.store.Get(ctx, r.store.InventoryKey(productID.String()))
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read inventory snapshot")
	}
	var cached cachedSnapshot
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode inventory snapshot").WithRetryable(false)
	}
	return &InventorySnapshot{ProductID: productID, Stock: cached.Stock, Price: cached.Price}, nil
}
