package transport

import (
	"context"
	"sync"
)

// MemoryTransport 进程内推送通道，用于测试和单机运行
type MemoryTransport struct {
	mu       sync.Mutex
	conns    map[string]struct{}
	groups   map[string]map[string]struct{}
	received map[string][][]byte // 连接ID -> 收到的负载
	joinErr  error
	sendErr  error
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		conns:    make(map[string]struct{}),
		groups:   make(map[string]map[string]struct{}),
		received: make(map[string][][]byte),
	}
}

// FailJoins 令后续的加组调用返回指定错误
func (mt *MemoryTransport) FailJoins(err error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.joinErr = err
}

func (mt *MemoryTransport) JoinGroup(_ context.Context, group string, connIDs ...string) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.joinErr != nil {
		return mt.joinErr
	}
	members, ok := mt.groups[group]
	if !ok {
		members = make(map[string]struct{})
		mt.groups[group] = members
	}
	for _, connID := range connIDs {
		members[connID] = struct{}{}
		mt.conns[connID] = struct{}{}
	}
	return nil
}

func (mt *MemoryTransport) LeaveGroup(_ context.Context, group string, connIDs ...string) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	members, ok := mt.groups[group]
	if !ok {
		return nil
	}
	for _, connID := range connIDs {
		delete(members, connID)
	}
	if len(members) == 0 {
		delete(mt.groups, group)
	}
	return nil
}

func (mt *MemoryTransport) SendToGroup(_ context.Context, group string, payload []byte) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.sendErr != nil {
		return mt.sendErr
	}
	for connID := range mt.groups[group] {
		mt.received[connID] = append(mt.received[connID], payload)
	}
	return nil
}

func (mt *MemoryTransport) SendToConnection(_ context.Context, connID string, payload []byte) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.sendErr != nil {
		return mt.sendErr
	}
	mt.received[connID] = append(mt.received[connID], payload)
	return nil
}

func (mt *MemoryTransport) Broadcast(_ context.Context, payload []byte) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.sendErr != nil {
		return mt.sendErr
	}
	for connID := range mt.conns {
		mt.received[connID] = append(mt.received[connID], payload)
	}
	return nil
}

// Members 返回分组内的连接ID
func (mt *MemoryTransport) Members(group string) []string {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	members := make([]string, 0, len(mt.groups[group]))
	for connID := range mt.groups[group] {
		members = append(members, connID)
	}
	return members
}

// Received 返回连接收到的全部负载
func (mt *MemoryTransport) Received(connID string) [][]byte {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	result := make([][]byte, len(mt.received[connID]))
	copy(result, mt.received[connID])
	return result
}

// Track 登记连接，使Broadcast能够覆盖未加组的连接
func (mt *MemoryTransport) Track(connID string) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.conns[connID] = struct{}{}
}
