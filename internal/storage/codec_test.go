package storage

import (
	"math"
	"testing"

	"github.com/annel0/mmo-world/internal/terrain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecPreservesChunk(t *testing.T) {
	gen := terrain.NewGenerator(4242, terrain.DefaultOptions())

	for _, compress := range []bool{false, true} {
		codec, err := NewChunkCodec(compress)
		require.NoError(t, err)

		for _, c := range [][2]int{{0, 0}, {-5, 12}, {31, -8}} {
			chunk := gen.Generate(c[0], c[1])
			decoded, err := codec.Decode(codec.Encode(chunk))
			require.NoError(t, err)
			assert.Equal(t, chunk, decoded)
		}
		codec.Close()
	}
}

func TestCodecKeepsNegativeZeroAndExtremes(t *testing.T) {
	codec, err := NewChunkCodec(false)
	require.NoError(t, err)
	defer codec.Close()

	chunk := &terrain.Chunk{
		CX: math.MinInt32, CZ: math.MaxInt32, Size: 50, Resolution: 1,
		Heightmap: [][]float64{{math.Copysign(0, -1), 1e-300}, {-1e300, 42}},
		Trees:     []terrain.Object{{Type: "pine", X: 1, Y: 2, Z: 3, Scale: 4, Rotation: 5}},
		Rocks:     []terrain.Object{},
		Shrubs:    []terrain.Object{},
		HasWater:  true,
	}
	decoded, err := codec.Decode(codec.Encode(chunk))
	require.NoError(t, err)
	assert.True(t, math.Signbit(decoded.Heightmap[0][0]))
	assert.Equal(t, chunk, decoded)
}

func TestCodecRejectsGarbage(t *testing.T) {
	codec, err := NewChunkCodec(true)
	require.NoError(t, err)
	defer codec.Close()

	cases := map[string][]byte{
		"пусто":            nil,
		"неизвестный флаг": {9, 1, 2},
		"битый zstd":       {formatZstd, 0xde, 0xad},
		"без карты высот":  {formatRaw, 0x20, 0x0a},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Decode(data)
			assert.ErrorIs(t, err, ErrCorruptChunk)
		})
	}
}
