package database

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jessmzp/btcpayserver/internal/logger"
)

const reservationCacheKey = "reservations"

// CachedReservations 在持久化占位之上加一层失效缓存
// 缓存单个条目保存完整的账户->设备映射，首次读取时整体加载，任何写操作使其失效
type CachedReservations struct {
	store ReservationStore
	cache *expirable.LRU[string, map[string]int64]
	mu    sync.Mutex // 串行化整体加载
}

func NewCachedReservations(store ReservationStore, ttl time.Duration) *CachedReservations {
	return &CachedReservations{
		store: store,
		cache: expirable.NewLRU[string, map[string]int64](1, nil, ttl),
	}
}

func (cr *CachedReservations) load(ctx context.Context) (map[string]int64, error) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	if all, ok := cr.cache.Get(reservationCacheKey); ok {
		return all, nil
	}

	startTime := time.Now()
	all, err := cr.store.GetAll(ctx)
	if err != nil {
		// 加载失败不写入缓存，下次重试
		return nil, err
	}
	logger.DebugF("reservation cache load cost: %v", time.Since(startTime))

	cr.cache.Add(reservationCacheKey, all)
	return all, nil
}

// Get 查询账户的占位设备
func (cr *CachedReservations) Get(ctx context.Context, accountID string) (int64, bool, error) {
	all, err := cr.load(ctx)
	if err != nil {
		return 0, false, err
	}
	deviceID, ok := all[accountID]
	return deviceID, ok, nil
}

// Set 写入占位，账户已有占位时不覆盖（先写者胜）
func (cr *CachedReservations) Set(ctx context.Context, accountID string, deviceID int64) (bool, error) {
	inserted, err := cr.store.Insert(ctx, accountID, deviceID)
	cr.cache.Remove(reservationCacheKey)
	return inserted, err
}

// Clear 删除占位
func (cr *CachedReservations) Clear(ctx context.Context, accountID string) error {
	_, err := cr.store.Delete(ctx, accountID)
	cr.cache.Remove(reservationCacheKey)
	return err
}
