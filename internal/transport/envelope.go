package transport

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// 单帧上限，超过视为协议错误
const MaxFrameSize = 1 << 20

// Envelope 客户端与服务端之间的消息信封
type Envelope struct {
	Type string                 `msgpack:"type"`
	Data map[string]interface{} `msgpack:"data"`
}

func NewEnvelope(envelopeType string, data map[string]interface{}) *Envelope {
	if data == nil {
		data = map[string]interface{}{}
	}
	return &Envelope{Type: envelopeType, Data: data}
}

func (env *Envelope) Encode() ([]byte, error) {
	return msgpack.Marshal(env)
}

func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("fail to decode envelope: %w", err)
	}
	return &env, nil
}

// String 从信封数据中读取字符串字段
func (env *Envelope) String(key string) string {
	value, ok := env.Data[key].(string)
	if !ok {
		return ""
	}
	return value
}

// Int64 从信封数据中读取整数字段，msgpack解码的整数类型不固定
func (env *Envelope) Int64(key string) int64 {
	switch value := env.Data[key].(type) {
	case int64:
		return value
	case uint64:
		return int64(value)
	case int32:
		return int64(value)
	case uint32:
		return int64(value)
	case int16:
		return int64(value)
	case uint16:
		return int64(value)
	case int8:
		return int64(value)
	case uint8:
		return int64(value)
	case int:
		return int64(value)
	case float64:
		// 部分客户端的编码器会把整数编成浮点数
		return int64(value)
	case float32:
		return int64(value)
	default:
		return 0
	}
}

// Bool 从信封数据中读取布尔字段
func (env *Envelope) Bool(key string) bool {
	value, ok := env.Data[key].(bool)
	return ok && value
}

// Strings 从信封数据中读取字符串数组字段
func (env *Envelope) Strings(key string) []string {
	raw, ok := env.Data[key].([]interface{})
	if !ok {
		return nil
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

// WriteFrame 写入一帧：4字节大端长度前缀 + msgpack信封
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(payload))
	}
	header := []byte{
		byte(len(payload) >> 24),
		byte(len(payload) >> 16),
		byte(len(payload) >> 8),
		byte(len(payload)),
	}
	if _, err := w.Write(header); err != nil {
		return err
	}
	total := 0
	for total < len(payload) {
		n, err := w.Write(payload[total:])
		if err != nil {
			return err
		}
		total += n
	}
	return nil
}

// ReadFrame 读取一帧
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	length := int(header[0])<<24 | int(header[1])<<16 | int(header[2])<<8 | int(header[3])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
