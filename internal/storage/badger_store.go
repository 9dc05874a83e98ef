package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/annel0/mmo-world/internal/logging"
	"github.com/dgraph-io/badger/v3"
)

// Префиксы ключей Badger
const (
	PrefixChunk = "chunk:"
	PrefixTree  = "tree:"
	PrefixRock  = "rock:"
	PrefixBlock = "block:"
	PrefixItem  = "item:"
	PrefixCalib = "calib:"
)

var (
	// ErrNotFound - записи нет в хранилище
	ErrNotFound = errors.New("запись не найдена")
	// ErrNotReady - хранилище закрыто
	ErrNotReady = errors.New("хранилище не готово")
)

// BadgerStore - постоянное хранилище мира: чанки, состояния деревьев и камней,
// построенные блоки и предметы. Также реализует cache.ColdStorage.
type BadgerStore struct {
	db      *badger.DB
	dbPath  string
	codec   *ChunkCodec
	log     *logging.Logger
	mutex   sync.RWMutex
	isReady bool
}

// badgerLog пишет сообщения Badger в логгер storage на уровень ниже
type badgerLog struct{ l *logging.Logger }

func (b badgerLog) Errorf(f string, args ...interface{})   { b.l.Error(strings.TrimSuffix(f, "\n"), args...) }
func (b badgerLog) Warningf(f string, args ...interface{}) { b.l.Warn(strings.TrimSuffix(f, "\n"), args...) }
func (b badgerLog) Infof(f string, args ...interface{})    { b.l.Debug(strings.TrimSuffix(f, "\n"), args...) }
func (b badgerLog) Debugf(f string, args ...interface{})   { b.l.Trace(strings.TrimSuffix(f, "\n"), args...) }

// NewBadgerStore открывает базу в dataPath/world. inMemory: база без диска (тесты, эфемерные миры).
func NewBadgerStore(dataPath string, inMemory bool, compress bool) (*BadgerStore, error) {
	dbPath := filepath.Join(dataPath, "world")
	opts := badger.DefaultOptions(dbPath)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
		dbPath = ""
	}
	log := logging.GetStorageLogger()
	opts.Logger = badgerLog{l: log}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	codec, err := NewChunkCodec(compress)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Info("💾 BadgerDB открыта (путь=%q, inMemory=%v, zstd=%v)", dbPath, inMemory, compress)
	return &BadgerStore{
		db:      db,
		dbPath:  dbPath,
		codec:   codec,
		log:     log,
		isReady: true,
	}, nil
}

// Codec возвращает кодек чанков хранилища
func (s *BadgerStore) Codec() *ChunkCodec { return s.codec }

// Close закрывает базу
func (s *BadgerStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isReady {
		return nil
	}
	s.isReady = false
	s.codec.Close()
	return s.db.Close()
}

// Load читает сырое значение ключа
func (s *BadgerStore) Load(ctx context.Context, key string) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения %s из BadgerDB: %w", key, err)
	}
	return data, nil
}

// Store записывает сырое значение
func (s *BadgerStore) Store(ctx context.Context, key string, value []byte) error {
	return s.BatchStore(ctx, map[string][]byte{key: value})
}

// BatchLoad читает несколько ключей; отсутствующие ключи пропускаются
func (s *BadgerStore) BatchLoad(ctx context.Context, keys []string) (map[string][]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, ErrNotReady
	}

	result := make(map[string][]byte, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				return err
			}
			item, err := txn.Get([]byte(key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			result[key] = val
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка пакетного чтения из BadgerDB: %w", err)
	}
	return result, nil
}

// BatchStore записывает несколько значений одной транзакцией
func (s *BadgerStore) BatchStore(ctx context.Context, items map[string][]byte) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for key, value := range items {
			if err := txn.Set([]byte(key), value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// Delete удаляет ключи; отсутствие ключа ошибкой не считается
func (s *BadgerStore) Delete(ctx context.Context, keys ...string) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления из BadgerDB: %w", err)
	}
	return nil
}

// scan вызывает fn для каждой записи с префиксом; ключ передаётся без префикса
func (s *BadgerStore) scan(ctx context.Context, prefix string, fn func(key string, val []byte) error) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrNotReady
	}

	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			key := strings.TrimPrefix(string(item.Key()), prefix)
			if err := fn(key, val); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count возвращает число записей с префиксом
func (s *BadgerStore) Count(ctx context.Context, prefix string) (int, error) {
	n := 0
	err := s.scan(ctx, prefix, func(string, []byte) error {
		n++
		return nil
	})
	return n, err
}
