package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Байт-префикс кадра: сжат или нет. Мелкие сообщения (ack, time sync)
// zstd не выигрывают, поэтому порог.
const (
	frameRaw  byte = 0x00
	frameZstd byte = 0x01
)

// compressThreshold — минимальный размер тела, при котором кадр сжимается
const compressThreshold = 256

// Codec кодирует сообщения протокола в кадры для передачи по сети:
// JSON-конверт, при достаточном размере — zstd поверх.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec создаёт кодек с переиспользуемыми zstd контекстами
func NewCodec() (*Codec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания zstd энкодера: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("ошибка создания zstd декодера: %w", err)
	}

	return &Codec{encoder: encoder, decoder: decoder}, nil
}

// Close освобождает zstd контексты
func (c *Codec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}

// Encode сериализует сообщение в кадр
func (c *Codec) Encode(msg *Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации сообщения %s: %w", msg.Type, err)
	}

	if len(body) < compressThreshold {
		frame := make([]byte, 0, len(body)+1)
		frame = append(frame, frameRaw)
		return append(frame, body...), nil
	}

	frame := []byte{frameZstd}
	return c.encoder.EncodeAll(body, frame), nil
}

// Decode разбирает кадр в сообщение
func (c *Codec) Decode(frame []byte) (*Message, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("кадр слишком короткий: %d байт", len(frame))
	}

	var body []byte
	switch frame[0] {
	case frameRaw:
		body = frame[1:]
	case frameZstd:
		decoded, err := c.decoder.DecodeAll(frame[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("ошибка распаковки кадра: %w", err)
		}
		body = decoded
	default:
		return nil, fmt.Errorf("неизвестный префикс кадра: 0x%02x", frame[0])
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("ошибка десериализации сообщения: %w", err)
	}
	return &msg, nil
}

// EncodePayload заворачивает полезную нагрузку в конверт и кодирует кадр
func (c *Codec) EncodePayload(msgType MessageType, payload interface{}) ([]byte, error) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	return c.Encode(msg)
}
