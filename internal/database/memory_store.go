package database

import (
	"context"
	"sync"
)

// MemoryStore 内存实现，用于测试和无数据库的单机运行
type MemoryStore struct {
	mu           sync.Mutex
	reservations map[string]int64
	stores       map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reservations: make(map[string]int64),
		stores:       make(map[string][]string),
	}
}

func (ms *MemoryStore) Get(_ context.Context, accountID string) (int64, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	deviceID, ok := ms.reservations[accountID]
	return deviceID, ok, nil
}

func (ms *MemoryStore) GetAll(_ context.Context) (map[string]int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	result := make(map[string]int64, len(ms.reservations))
	for accountID, deviceID := range ms.reservations {
		result[accountID] = deviceID
	}
	return result, nil
}

func (ms *MemoryStore) Insert(_ context.Context, accountID string, deviceID int64) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.reservations[accountID]; ok {
		return false, nil
	}
	ms.reservations[accountID] = deviceID
	return true, nil
}

func (ms *MemoryStore) Delete(_ context.Context, accountID string) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.reservations[accountID]; !ok {
		return false, nil
	}
	delete(ms.reservations, accountID)
	return true, nil
}

func (ms *MemoryStore) StoresOf(_ context.Context, accountID string) ([]string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.stores[accountID], nil
}

func (ms *MemoryStore) SetStores(accountID string, storeIDs []string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.stores[accountID] = storeIDs
}
