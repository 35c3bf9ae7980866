package notify

import (
	"context"
	"fmt"

	"github.com/jessmzp/btcpayserver/internal/logger"
	"github.com/jessmzp/btcpayserver/internal/transport"
)

// eventRoute 声明一种通知的路由目标和负载构造方式
type eventRoute struct {
	groups func(event Event) []string // 返回nil表示广播
	build  func(event Event) *transport.Envelope
}

// 路由表：每种通知一行，由Dispatch统一执行
var routes = map[EventType]eventRoute{
	NodeInfoChanged: {
		groups: func(Event) []string { return nil },
		build: func(event Event) *transport.Envelope {
			return transport.NewEnvelope(NodeInfoChanged.String(), map[string]interface{}{
				"addresses": event.Detail,
			})
		},
	},
	NewBlock: {
		groups: func(Event) []string { return nil },
		build: func(event Event) *transport.Envelope {
			return transport.NewEnvelope(NewBlock.String(), map[string]interface{}{
				"block": event.Detail,
			})
		},
	},
	TransactionDetected: {
		groups: func(event Event) []string { return []string{event.Group} },
		build: func(event Event) *transport.Envelope {
			return transport.NewEnvelope(TransactionDetected.String(), map[string]interface{}{
				"group":       event.Group,
				"transaction": event.Detail,
			})
		},
	},
	MasterUpdated: {
		groups: func(event Event) []string { return []string{event.AccountID} },
		build:  func(event Event) *transport.Envelope { return MasterUpdatedEnvelope(event.AccountID, event.DeviceID, event.Active) },
	},
	DomainEvent: {
		groups: func(event Event) []string {
			groups := []string{event.AccountID}
			if event.StoreID != "" {
				groups = append(groups, event.StoreID)
			}
			return groups
		},
		build: func(event Event) *transport.Envelope {
			return transport.NewEnvelope(DomainEvent.String(), map[string]interface{}{
				"name":    event.Name,
				"account": event.AccountID,
				"store":   event.StoreID,
				"detail":  event.Detail,
			})
		},
	},
}

// MasterUpdatedEnvelope 主设备变更通知，active为false表示当前无主设备
func MasterUpdatedEnvelope(accountID string, deviceID int64, active bool) *transport.Envelope {
	return transport.NewEnvelope(MasterUpdated.String(), map[string]interface{}{
		"account": accountID,
		"device":  deviceID,
		"active":  active,
	})
}

// Router 将领域事件按路由表分发到推送通道
type Router struct {
	transport transport.Transport
}

func NewRouter(t transport.Transport) *Router {
	return &Router{transport: t}
}

// Dispatch 路由单个事件，目标分组为空时广播
func (r *Router) Dispatch(ctx context.Context, event Event) error {
	route, ok := routes[event.Type]
	if !ok {
		return fmt.Errorf("unknown event type: %d", event.Type)
	}

	payload, err := route.build(event).Encode()
	if err != nil {
		return fmt.Errorf("fail to encode %s notification: %w", event.Type, err)
	}

	groups := route.groups(event)
	if groups == nil {
		return r.transport.Broadcast(ctx, payload)
	}

	for _, group := range groups {
		if group == "" {
			continue
		}
		if err := r.transport.SendToGroup(ctx, group, payload); err != nil {
			return fmt.Errorf("fail to deliver %s notification to group %s: %w", event.Type, group, err)
		}
		logger.DebugF("Delivered %s notification to group %s", event.Type, group)
	}
	return nil
}
