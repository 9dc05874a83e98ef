package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxMessageSize - предел входящего сообщения
const MaxMessageSize = 64 * 1024

// ErrEmptyEvent - конверт без имени события
var ErrEmptyEvent = errors.New("protocol: пустое имя события")

// Envelope - конверт любого сообщения. Data разбирается обработчиком события.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Seq   *uint64         `json:"seq,omitempty"`
}

// Decode разбирает входящий кадр
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if len(raw) > MaxMessageSize {
		return env, fmt.Errorf("protocol: сообщение %d байт больше предела %d", len(raw), MaxMessageSize)
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("protocol: некорректный JSON: %w", err)
	}
	if env.Event == "" {
		return env, ErrEmptyEvent
	}
	return env, nil
}

// Encode собирает исходящий кадр
func Encode(event string, data interface{}, seq *uint64) ([]byte, error) {
	if event == "" {
		return nil, ErrEmptyEvent
	}
	env := Envelope{Event: event, Seq: seq}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: сериализация %s: %w", event, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// Bind разбирает Data в dst и вызывает Validate, если он есть.
// Отсутствующие данные разбираются как пустой объект.
func (e Envelope) Bind(dst interface{}) error {
	data := bytes.TrimSpace(e.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("некорректные данные %s: %w", e.Event, err)
	}
	if v, ok := dst.(interface{ Validate() error }); ok {
		return v.Validate()
	}
	return nil
}
