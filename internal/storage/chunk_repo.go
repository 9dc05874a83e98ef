package storage

import (
	"context"
	"fmt"

	"github.com/annel0/mmo-world/internal/terrain"
)

// ChunkKey - ключ чанка в Badger и Redis
func ChunkKey(cx, cz int) string {
	return PrefixChunk + terrain.ChunkKey(cx, cz)
}

// LoadChunk читает чанк; ErrNotFound, если он ещё не сгенерирован
func (s *BadgerStore) LoadChunk(ctx context.Context, cx, cz int) (*terrain.Chunk, error) {
	data, err := s.Load(ctx, ChunkKey(cx, cz))
	if err != nil {
		return nil, err
	}
	chunk, err := s.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("чанк %d:%d: %w", cx, cz, err)
	}
	return chunk, nil
}

// SaveChunk записывает чанк целиком (upsert)
func (s *BadgerStore) SaveChunk(ctx context.Context, chunk *terrain.Chunk) error {
	return s.Store(ctx, ChunkKey(chunk.CX, chunk.CZ), s.codec.Encode(chunk))
}

// CountChunks - сколько чанков сохранено
func (s *BadgerStore) CountChunks(ctx context.Context) (int, error) {
	return s.Count(ctx, PrefixChunk)
}
