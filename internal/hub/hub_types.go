// Package hub 实现了多设备同步核心：连接登记、分组路由与主设备仲裁
package hub

import (
	"context"
	"errors"
)

var (
	ConnectionExistsError    = errors.New("connection already registered")
	ConnectionNotFoundError  = errors.New("connection not found")
	DeviceMismatchError      = errors.New("device identifier already bound to a different value")
	AlreadyMasteredError     = errors.New("another connection of this account is master")
	ReservationConflictError = errors.New("master reservation is held by a different device")
)

// ConnectionRecord 单个在线连接的状态
// 设备标识只能从0绑定一次，之后不可变；账户标识在连接生命周期内不变
type ConnectionRecord struct {
	ConnID    string
	AccountID string
	DeviceID  int64 // 0表示未绑定
	Master    bool
	Groups    map[string]struct{}
}

func (rec *ConnectionRecord) clone() *ConnectionRecord {
	groups := make(map[string]struct{}, len(rec.Groups))
	for group := range rec.Groups {
		groups[group] = struct{}{}
	}
	copied := *rec
	copied.Groups = groups
	return &copied
}

// TrackerClient 外部账本跟踪服务
type TrackerClient interface {
	// Validate 判断标识是否可跟踪，标识无法解析时返回错误
	Validate(ctx context.Context, identifier string) (bool, error)
	// Allocate 分配一个全新的跟踪标识
	Allocate(ctx context.Context) (string, error)
}

// DescriptorParser 从钱包描述符推导规范跟踪标识
type DescriptorParser interface {
	Derive(ctx context.Context, descriptor string) (string, error)
}

// MasterListener 主设备丢失的本地监听者
type MasterListener interface {
	MasterLost(accountID string)
}
