package database

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedStoreSource 账户店铺归属的读穿缓存
type CachedStoreSource struct {
	source StoreSource
	cache  *expirable.LRU[string, []string]
}

func NewCachedStoreSource(source StoreSource, size int, ttl time.Duration) *CachedStoreSource {
	return &CachedStoreSource{
		source: source,
		cache:  expirable.NewLRU[string, []string](size, nil, ttl),
	}
}

func (cs *CachedStoreSource) StoresOf(ctx context.Context, accountID string) ([]string, error) {
	if stores, ok := cs.cache.Get(accountID); ok {
		return stores, nil
	}

	stores, err := cs.source.StoresOf(ctx, accountID)
	if err != nil {
		return nil, err
	}

	cs.cache.Add(accountID, stores)
	return stores, nil
}

// Invalidate 店铺归属变化时调用
func (cs *CachedStoreSource) Invalidate(accountID string) {
	cs.cache.Remove(accountID)
}
