package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Кадр потокового транспорта (KCP):
// [uint32 LE длина тела][1 байт флагов][тело]. Длина включает байт флагов.
const (
	flagPlain byte = 0
	flagZstd  byte = 1

	// сообщения короче порога не сжимаются
	compressThreshold = 512
)

// FrameCodec упаковывает JSON-конверты в кадры со сжатием zstd.
// Безопасен для конкурентного использования.
type FrameCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewFrameCodec создаёт кодек кадров
func NewFrameCodec() (*FrameCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(4*MaxMessageSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &FrameCodec{enc: enc, dec: dec}, nil
}

// Close освобождает ресурсы zstd
func (c *FrameCodec) Close() {
	c.enc.Close()
	c.dec.Close()
}

// WriteFrame пишет один кадр
func (c *FrameCodec) WriteFrame(w io.Writer, payload []byte) error {
	flag := flagPlain
	body := payload
	if len(payload) >= compressThreshold {
		if packed := c.enc.EncodeAll(payload, nil); len(packed) < len(payload) {
			flag, body = flagZstd, packed
		}
	}

	buf := make([]byte, 5+len(body))
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(body)+1))
	buf[4] = flag
	copy(buf[5:], body)
	_, err := w.Write(buf)
	return err
}

// ReadFrame читает один кадр и возвращает распакованный JSON
func (c *FrameCodec) ReadFrame(r io.Reader) ([]byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(header[:4])
	if length == 0 || length > MaxMessageSize+1 {
		return nil, fmt.Errorf("protocol: недопустимая длина кадра %d", length)
	}
	body := make([]byte, length-1)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	switch header[4] {
	case flagPlain:
		return body, nil
	case flagZstd:
		out, err := c.dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("protocol: распаковка кадра: %w", err)
		}
		if len(out) > MaxMessageSize {
			return nil, fmt.Errorf("protocol: распакованный кадр %d байт больше предела", len(out))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("protocol: неизвестный флаг кадра %d", header[4])
	}
}
