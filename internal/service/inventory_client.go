package service

import (
	"context"

	"order-lifecycle/internal/models"
	"order-lifecycle/internal/util"

	"go.uber.org/zap"
)

// InventoryClient mirrors committed restocks into the Redis stock cache
type InventoryClient struct {
	cache  StockCache
	logger *zap.Logger
}

// NewInventoryClient creates a new inventory client
func NewInventoryClient(cache StockCache) *InventoryClient {
	return &InventoryClient{
		cache:  cache,
		logger: util.ComponentLogger("InventoryClient"),
	}
}

// RestoreCachedStock adds the items' quantities back to cached counters.
// Failures are logged and skipped.
func (ic *InventoryClient) RestoreCachedStock(ctx context.Context, items []models.OrderItem) {
	ctx, span := util.StartSpan(ctx, "InventoryClient.RestoreCachedStock")
	defer span.End()

	for _, item := range items {
		cached, err := ic.cache.RestoreStock(ctx, item.ProductVariantID, item.Quantity)
		if err != nil {
			ic.logger.Error("Failed to restore stock in Redis",
				zap.Int64("product_variant_id", item.ProductVariantID),
				zap.Error(err))
			continue
		}
		if !cached {
			ic.logger.Debug("Variant not cached, skipping",
				zap.Int64("product_variant_id", item.ProductVariantID))
		}
	}
}
