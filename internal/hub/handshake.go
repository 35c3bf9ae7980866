package hub

import (
	"context"
	"fmt"

	"github.com/jessmzp/btcpayserver/internal/logger"
)

// Handshake 将连接绑定到它关心的跟踪标识，返回确认的标识列表
// 任何一个标识解析失败都会使整次调用失败，不产生部分确认
func (h *Hub) Handshake(ctx context.Context, connID string, identifiers []string) ([]string, error) {
	if _, ok := h.Lookup(connID); !ok {
		return nil, ConnectionNotFoundError
	}

	// 先全部校验再加组，保证失败时没有加入任何分组
	tracked := make([]string, 0, len(identifiers))
	for _, identifier := range identifiers {
		ok, err := h.tracker.Validate(ctx, identifier)
		if err != nil {
			return nil, fmt.Errorf("fail to validate identifier %s: %w", identifier, err)
		}
		if ok {
			tracked = append(tracked, identifier)
		} else {
			logger.DebugF("[%s] Identifier %s is not trackable, skipped", connID, identifier)
		}
	}

	acknowledged := make([]string, 0, len(tracked))
	for _, identifier := range tracked {
		if err := h.JoinGroup(ctx, identifier, connID); err != nil {
			return nil, err
		}
		acknowledged = append(acknowledged, identifier)
	}

	logger.InfoF("[%s] Handshake acknowledged %d of %d identifier(s)", connID, len(acknowledged), len(identifiers))
	return acknowledged, nil
}

// Pair 为每个标签确定一个跟踪标识：无描述符时分配新标识，有描述符时推导规范标识
// 得到的标识集合随后走一次Handshake，失败语义与Handshake一致
func (h *Hub) Pair(ctx context.Context, connID string, derivations map[string]string) (map[string]string, error) {
	if _, ok := h.Lookup(connID); !ok {
		return nil, ConnectionNotFoundError
	}

	result := make(map[string]string, len(derivations))
	identifiers := make([]string, 0, len(derivations))
	for label, descriptor := range derivations {
		var identifier string
		var err error
		if descriptor == "" {
			identifier, err = h.tracker.Allocate(ctx)
		} else {
			identifier, err = h.parser.Derive(ctx, descriptor)
		}
		if err != nil {
			return nil, fmt.Errorf("fail to derive identifier for %s: %w", label, err)
		}
		result[label] = identifier
		identifiers = append(identifiers, identifier)
	}

	if _, err := h.Handshake(ctx, connID, identifiers); err != nil {
		return nil, err
	}
	return result, nil
}
