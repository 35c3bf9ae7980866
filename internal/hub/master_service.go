package hub

import (
	"context"
	"fmt"

	"github.com/jessmzp/btcpayserver/internal/logger"
	"github.com/jessmzp/btcpayserver/internal/notify"
)

// RequestMaster 主设备仲裁入口
// active为true时申请成为主设备，为false时放弃主设备身份
// 同一账户的仲裁请求串行执行，两个并发请求不可能同时观察到"无主设备"而都成功
func (h *Hub) RequestMaster(ctx context.Context, connID string, deviceID int64, active bool) error {
	h.mu.RLock()
	rec, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return ConnectionNotFoundError
	}
	accountID := rec.AccountID

	al := h.lockAccount(accountID)
	defer h.unlockAccount(accountID, al)

	// 绑定设备标识：只允许从未绑定到绑定，不允许改绑
	err := h.commit(connID, func(next *ConnectionRecord) error {
		if next.DeviceID == 0 {
			next.DeviceID = deviceID
			return nil
		}
		if next.DeviceID != deviceID {
			return DeviceMismatchError
		}
		return nil
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	rec, ok = h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return ConnectionNotFoundError
	}

	// 幂等：状态已一致时直接成功，不重复通知
	if rec.Master == active {
		return nil
	}

	if active {
		h.mu.RLock()
		mastered := false
		for otherID := range h.accounts[accountID] {
			if other := h.conns[otherID]; other != nil && otherID != connID && other.Master {
				mastered = true
				break
			}
		}
		h.mu.RUnlock()
		if mastered {
			return AlreadyMasteredError
		}

		// 占位设备优先回收主设备身份
		reservedDevice, reserved, err := h.reservations.Get(ctx, accountID)
		if err != nil {
			return fmt.Errorf("fail to read master reservation: %w", err)
		}
		if reserved && reservedDevice != deviceID {
			return ReservationConflictError
		}

		if err := h.reservations.Clear(ctx, accountID); err != nil {
			return fmt.Errorf("fail to clear master reservation: %w", err)
		}

		if err := h.commit(connID, func(next *ConnectionRecord) error {
			next.Master = true
			return nil
		}); err != nil {
			return err
		}

		logger.InfoF("Device %d is now master of account %s", deviceID, accountID)
		return h.notifyMasterUpdated(ctx, accountID, deviceID, true)
	}

	if err := h.commit(connID, func(next *ConnectionRecord) error {
		next.Master = false
		return nil
	}); err != nil {
		return err
	}

	h.fireMasterLost(accountID)
	logger.InfoF("Device %d resigned as master of account %s", deviceID, accountID)
	return h.notifyMasterUpdated(ctx, accountID, 0, false)
}

// IsMaster 判断设备当前是否持有账户的主设备资格
// 在线主设备或占位设备都视为持有，后者覆盖断线重连的宽限窗口
func (h *Hub) IsMaster(ctx context.Context, accountID string, deviceID int64) (bool, error) {
	h.mu.RLock()
	for connID := range h.accounts[accountID] {
		if rec := h.conns[connID]; rec != nil && rec.Master && rec.DeviceID == deviceID {
			h.mu.RUnlock()
			return true, nil
		}
	}
	h.mu.RUnlock()

	reservedDevice, reserved, err := h.reservations.Get(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("fail to read master reservation: %w", err)
	}
	return reserved && reservedDevice == deviceID, nil
}

// CurrentMaster 连接是主设备时返回其设备标识
func (h *Hub) CurrentMaster(connID string) (int64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.conns[connID]
	if !ok || !rec.Master {
		return 0, false
	}
	return rec.DeviceID, true
}

// ExplicitRelease 设备主动签退时立即释放占位，让出主设备资格
func (h *Hub) ExplicitRelease(ctx context.Context, accountID string) error {
	al := h.lockAccount(accountID)
	defer h.unlockAccount(accountID, al)

	if err := h.reservations.Clear(ctx, accountID); err != nil {
		return fmt.Errorf("fail to clear master reservation: %w", err)
	}
	logger.InfoF("Master reservation of account %s released", accountID)
	return nil
}

func (h *Hub) notifyMasterUpdated(ctx context.Context, accountID string, deviceID int64, active bool) error {
	payload, err := notify.MasterUpdatedEnvelope(accountID, deviceID, active).Encode()
	if err != nil {
		return fmt.Errorf("fail to encode master-updated notification: %w", err)
	}
	if err := h.transport.SendToGroup(ctx, accountID, payload); err != nil {
		return fmt.Errorf("fail to deliver master-updated notification: %w", err)
	}
	return nil
}
