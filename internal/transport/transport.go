// Package transport 实现了通知下发通道：连接分组与消息推送
package transport

import "context"

// Transport 推送通道接口，分组成员关系以此为准
type Transport interface {
	// JoinGroup 将连接加入分组，重复加入不报错
	JoinGroup(ctx context.Context, group string, connIDs ...string) error
	// LeaveGroup 将连接移出分组，不在分组内不报错
	LeaveGroup(ctx context.Context, group string, connIDs ...string) error
	// SendToGroup 向分组内全部连接推送负载
	SendToGroup(ctx context.Context, group string, payload []byte) error
	// SendToConnection 向单个连接推送负载
	SendToConnection(ctx context.Context, connID string, payload []byte) error
	// Broadcast 向全部连接推送负载
	Broadcast(ctx context.Context, payload []byte) error
}
