package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// SaveCalibration перезаписывает настройки калибровки клиента указанного типа
func (s *BadgerStore) SaveCalibration(ctx context.Context, kind string, data json.RawMessage) error {
	if kind == "" {
		return fmt.Errorf("тип калибровки не задан")
	}
	if !json.Valid(data) {
		return fmt.Errorf("калибровка %s: некорректный JSON", kind)
	}
	return s.Store(ctx, PrefixCalib+kind, data)
}

// LoadCalibration возвращает сохранённые настройки или nil, если их нет
func (s *BadgerStore) LoadCalibration(ctx context.Context, kind string) (json.RawMessage, error) {
	data, err := s.Load(ctx, PrefixCalib+kind)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, nil
	}
	return data, nil
}
