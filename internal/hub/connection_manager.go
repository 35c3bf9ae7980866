package hub

import (
	"context"
	"fmt"

	"github.com/jessmzp/btcpayserver/internal/logger"
)

// Connect 登记新连接并将其加入账户分组和账户名下每个店铺的分组
func (h *Hub) Connect(ctx context.Context, connID string, accountID string) error {
	al := h.lockAccount(accountID)
	defer h.unlockAccount(accountID, al)

	h.mu.Lock()
	if _, ok := h.conns[connID]; ok {
		h.mu.Unlock()
		return ConnectionExistsError
	}
	h.conns[connID] = &ConnectionRecord{
		ConnID:    connID,
		AccountID: accountID,
		Groups:    make(map[string]struct{}),
	}
	members, ok := h.accounts[accountID]
	if !ok {
		members = make(map[string]struct{})
		h.accounts[accountID] = members
	}
	members[connID] = struct{}{}
	h.mu.Unlock()

	if err := h.JoinGroup(ctx, accountID, connID); err != nil {
		h.teardown(ctx, connID)
		return err
	}

	stores, err := h.stores.StoresOf(ctx, accountID)
	if err != nil {
		h.teardown(ctx, connID)
		return fmt.Errorf("fail to resolve stores of account %s: %w", accountID, err)
	}
	for _, storeID := range stores {
		if err := h.JoinGroup(ctx, storeID, connID); err != nil {
			h.teardown(ctx, connID)
			return err
		}
	}

	logger.InfoF("Client %s connected, account=%s, stores=%d", connID, accountID, len(stores))
	return nil
}

// Disconnect 移除连接；连接是主设备时写入占位并通知本地监听者
// 未知连接ID是空操作
func (h *Hub) Disconnect(ctx context.Context, connID string) {
	h.mu.RLock()
	rec, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		logger.DebugF("Disconnect of unknown connection %s ignored", connID)
		return
	}
	accountID := rec.AccountID

	al := h.lockAccount(accountID)
	defer h.unlockAccount(accountID, al)

	h.mu.Lock()
	rec, ok = h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	rec = rec.clone()
	delete(h.conns, connID)
	delete(h.accounts[accountID], connID)
	if len(h.accounts[accountID]) == 0 {
		delete(h.accounts, accountID)
	}
	h.mu.Unlock()

	for group := range rec.Groups {
		if err := h.transport.LeaveGroup(ctx, group, connID); err != nil {
			logger.ErrorF("[%s] Fail to leave group %s, details: %v", connID, group, err)
		}
	}

	if rec.Master {
		// 断线宽限：为原主设备写入占位，其他设备在宽限期内不能抢占
		if _, err := h.reservations.Set(ctx, accountID, rec.DeviceID); err != nil {
			logger.ErrorF("Fail to save master reservation, account=%s, details: %v", accountID, err)
		}
		h.fireMasterLost(accountID)
		// 同账户的其余连接要得知主设备已离线
		if err := h.notifyMasterUpdated(ctx, accountID, 0, false); err != nil {
			logger.ErrorF("Fail to notify master loss, account=%s, details: %v", accountID, err)
		}
	}

	logger.InfoF("Client %s disconnected", connID)
}

// teardown 撤销未完成的Connect
func (h *Hub) teardown(ctx context.Context, connID string) {
	h.mu.Lock()
	rec, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	rec = rec.clone()
	delete(h.conns, connID)
	delete(h.accounts[rec.AccountID], connID)
	if len(h.accounts[rec.AccountID]) == 0 {
		delete(h.accounts, rec.AccountID)
	}
	h.mu.Unlock()

	for group := range rec.Groups {
		if err := h.transport.LeaveGroup(ctx, group, connID); err != nil {
			logger.ErrorF("[%s] Fail to leave group %s, details: %v", connID, group, err)
		}
	}
}

// Lookup 返回连接记录的副本
func (h *Hub) Lookup(connID string) (*ConnectionRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.conns[connID]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// ConnectionsOf 返回账户当前全部连接ID
func (h *Hub) ConnectionsOf(accountID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make([]string, 0, len(h.accounts[accountID]))
	for connID := range h.accounts[accountID] {
		result = append(result, connID)
	}
	return result
}
