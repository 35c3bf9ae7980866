package hub

import (
	"context"

	"github.com/jessmzp/btcpayserver/internal/logger"
	"github.com/jessmzp/btcpayserver/internal/transport"
)

// Hub实现transport.Handler，把客户端帧转成核心调用

func (h *Hub) OnConnect(ctx context.Context, connID string, accountID string) error {
	return h.Connect(ctx, connID, accountID)
}

func (h *Hub) OnDisconnect(ctx context.Context, connID string) {
	h.Disconnect(ctx, connID)
}

func (h *Hub) OnEnvelope(ctx context.Context, connID string, env *transport.Envelope) *transport.Envelope {
	switch env.Type {
	case "master":
		err := h.RequestMaster(ctx, connID, env.Int64("device"), env.Bool("active"))
		return ackEnvelope("master_ack", err)
	case "handshake":
		acknowledged, err := h.Handshake(ctx, connID, env.Strings("identifiers"))
		if err != nil {
			return ackEnvelope("handshake_ack", err)
		}
		return transport.NewEnvelope("handshake_ack", map[string]interface{}{
			"ok":           true,
			"acknowledged": acknowledged,
		})
	case "pair":
		derivations := make(map[string]string)
		if raw, ok := env.Data["derivations"].(map[string]interface{}); ok {
			for label, descriptor := range raw {
				text, _ := descriptor.(string)
				derivations[label] = text
			}
		}
		result, err := h.Pair(ctx, connID, derivations)
		if err != nil {
			return ackEnvelope("pair_ack", err)
		}
		identifiers := make(map[string]interface{}, len(result))
		for label, identifier := range result {
			identifiers[label] = identifier
		}
		return transport.NewEnvelope("pair_ack", map[string]interface{}{
			"ok":          true,
			"identifiers": identifiers,
		})
	case "release":
		rec, ok := h.Lookup(connID)
		if !ok {
			return ackEnvelope("release_ack", ConnectionNotFoundError)
		}
		return ackEnvelope("release_ack", h.ExplicitRelease(ctx, rec.AccountID))
	default:
		logger.WarnF("[%s] %s frame has not been supported", connID, env.Type)
		return transport.NewEnvelope("error", map[string]interface{}{
			"message": "unsupported frame type: " + env.Type,
		})
	}
}

func ackEnvelope(ackType string, err error) *transport.Envelope {
	if err != nil {
		return transport.NewEnvelope(ackType, map[string]interface{}{
			"ok":    false,
			"error": err.Error(),
		})
	}
	return transport.NewEnvelope(ackType, map[string]interface{}{"ok": true})
}
