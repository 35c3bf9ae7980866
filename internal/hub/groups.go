package hub

import (
	"context"
	"fmt"

	"github.com/jessmzp/btcpayserver/internal/logger"
)

// JoinGroup 将连接加入分组，幂等
// 先更新推送通道，成功后才更新本地镜像，失败时两边都保持原状
func (h *Hub) JoinGroup(ctx context.Context, group string, connIDs ...string) error {
	if err := h.transport.JoinGroup(ctx, group, connIDs...); err != nil {
		return fmt.Errorf("fail to join group %s: %w", group, err)
	}

	h.mu.Lock()
	for _, connID := range connIDs {
		if rec, ok := h.conns[connID]; ok {
			next := rec.clone()
			next.Groups[group] = struct{}{}
			h.conns[connID] = next
		}
	}
	h.mu.Unlock()

	logger.DebugF("Joined %d connection(s) to group %s", len(connIDs), group)
	return nil
}

// LeaveGroup 将连接移出分组，幂等
func (h *Hub) LeaveGroup(ctx context.Context, group string, connIDs ...string) error {
	if err := h.transport.LeaveGroup(ctx, group, connIDs...); err != nil {
		return fmt.Errorf("fail to leave group %s: %w", group, err)
	}

	h.mu.Lock()
	for _, connID := range connIDs {
		if rec, ok := h.conns[connID]; ok {
			next := rec.clone()
			delete(next.Groups, group)
			h.conns[connID] = next
		}
	}
	h.mu.Unlock()

	logger.DebugF("Removed %d connection(s) from group %s", len(connIDs), group)
	return nil
}
