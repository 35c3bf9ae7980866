package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// countingStore 包装MemoryStore并统计整体加载次数
type countingStore struct {
	*MemoryStore
	mu      sync.Mutex
	getAlls int
	fail    bool
}

func (cs *countingStore) GetAll(ctx context.Context) (map[string]int64, error) {
	cs.mu.Lock()
	cs.getAlls++
	fail := cs.fail
	cs.mu.Unlock()
	if fail {
		return nil, errors.New("storage unavailable")
	}
	return cs.MemoryStore.GetAll(ctx)
}

func TestCachedReservations(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: NewMemoryStore()}
	cached := NewCachedReservations(store, time.Minute)

	inserted, err := cached.Set(ctx, "account-1", 100)
	if err != nil || !inserted {
		t.Fatal("Except set to succeed")
	}

	deviceID, ok, err := cached.Get(ctx, "account-1")
	if err != nil || !ok || deviceID != 100 {
		t.Fatalf("Expected device 100, got %d (ok=%v, err=%v)", deviceID, ok, err)
	}

	// 第二次读走缓存
	_, _, _ = cached.Get(ctx, "account-1")
	if store.getAlls != 1 {
		t.Fatalf("Expected 1 full load, got %d", store.getAlls)
	}

	// 写操作使缓存失效
	if err := cached.Clear(ctx, "account-1"); err != nil {
		t.Fatal(err)
	}
	_, ok, _ = cached.Get(ctx, "account-1")
	if ok {
		t.Fatal("Except no reservation after clear")
	}
	if store.getAlls != 2 {
		t.Fatalf("Expected reload after clear, got %d loads", store.getAlls)
	}
}

func TestCachedReservationsLoadFailure(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: NewMemoryStore()}
	_, _ = store.Insert(ctx, "account-1", 100)
	cached := NewCachedReservations(store, time.Minute)

	store.fail = true
	_, _, err := cached.Get(ctx, "account-1")
	if err == nil {
		t.Fatal("Except error when storage unavailable")
	}

	// 失败不污染缓存，恢复后能读到数据
	store.fail = false
	deviceID, ok, err := cached.Get(ctx, "account-1")
	if err != nil || !ok || deviceID != 100 {
		t.Fatalf("Expected device 100 after recovery, got %d (ok=%v, err=%v)", deviceID, ok, err)
	}
}
