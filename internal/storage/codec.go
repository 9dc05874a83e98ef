package storage

import (
	"errors"
	"fmt"
	"math"

	"github.com/annel0/mmo-world/internal/terrain"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

// Бинарный формат чанка: первый байт задаёт формат, дальше protobuf-совместимое
// сообщение (вручную через protowire), при необходимости сжатое zstd.
//
//	Chunk:  1 cx sint, 2 cz sint, 3 size double, 4 resolution varint,
//	        5 biome varint, 6 heightmap packed double (построчно),
//	        7 trees, 8 rocks, 9 shrubs (Object), 10 has_water bool,
//	        11 water_level double, 12 is_steep bool
//	Object: 1 type string, 2 x, 3 y, 4 z, 5 scale, 6 rotation (double)
const (
	formatRaw  byte = 0
	formatZstd byte = 1
)

const (
	fieldCX protowire.Number = iota + 1
	fieldCZ
	fieldSize
	fieldResolution
	fieldBiome
	fieldHeightmap
	fieldTrees
	fieldRocks
	fieldShrubs
	fieldHasWater
	fieldWaterLevel
	fieldIsSteep
)

const (
	objType protowire.Number = iota + 1
	objX
	objY
	objZ
	objScale
	objRotation
)

// ErrCorruptChunk возвращается, если байты не разбираются как чанк
var ErrCorruptChunk = errors.New("повреждённые данные чанка")

// ChunkCodec кодирует чанки для Badger и Redis. Безопасен для конкурентного использования.
type ChunkCodec struct {
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// NewChunkCodec создаёт кодек; compress включает zstd для записи.
// Чтение понимает оба формата независимо от флага.
func NewChunkCodec(compress bool) (*ChunkCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("не удалось создать zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("не удалось создать zstd decoder: %w", err)
	}
	return &ChunkCodec{compress: compress, enc: enc, dec: dec}, nil
}

// Close освобождает ресурсы zstd
func (c *ChunkCodec) Close() {
	c.enc.Close()
	c.dec.Close()
}

// Encode сериализует чанк
func (c *ChunkCodec) Encode(ch *terrain.Chunk) []byte {
	raw := marshalChunk(ch)
	if !c.compress {
		return append([]byte{formatRaw}, raw...)
	}
	out := make([]byte, 1, len(raw)/2+16)
	out[0] = formatZstd
	return c.enc.EncodeAll(raw, out)
}

// Decode разбирает чанк из байтов Encode
func (c *ChunkCodec) Decode(data []byte) (*terrain.Chunk, error) {
	if len(data) == 0 {
		return nil, ErrCorruptChunk
	}
	payload := data[1:]
	switch data[0] {
	case formatRaw:
	case formatZstd:
		var err error
		payload, err = c.dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptChunk, err)
		}
	default:
		return nil, fmt.Errorf("%w: неизвестный формат %d", ErrCorruptChunk, data[0])
	}

	ch, err := unmarshalChunk(payload)
	if err != nil {
		return nil, err
	}
	if err := ch.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptChunk, err)
	}
	return ch, nil
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func marshalChunk(ch *terrain.Chunk) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldCX, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(ch.CX)))
	b = protowire.AppendTag(b, fieldCZ, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(ch.CZ)))
	b = appendDouble(b, fieldSize, ch.Size)
	b = protowire.AppendTag(b, fieldResolution, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ch.Resolution))
	b = protowire.AppendTag(b, fieldBiome, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ch.Biome))

	var packed []byte
	for _, row := range ch.Heightmap {
		for _, h := range row {
			packed = protowire.AppendFixed64(packed, math.Float64bits(h))
		}
	}
	b = protowire.AppendTag(b, fieldHeightmap, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)

	for _, group := range []struct {
		num  protowire.Number
		objs []terrain.Object
	}{{fieldTrees, ch.Trees}, {fieldRocks, ch.Rocks}, {fieldShrubs, ch.Shrubs}} {
		for _, o := range group.objs {
			b = protowire.AppendTag(b, group.num, protowire.BytesType)
			b = protowire.AppendBytes(b, marshalObject(o))
		}
	}

	b = appendBool(b, fieldHasWater, ch.HasWater)
	b = appendDouble(b, fieldWaterLevel, ch.WaterLevel)
	b = appendBool(b, fieldIsSteep, ch.IsSteep)
	return b
}

func marshalObject(o terrain.Object) []byte {
	var b []byte
	b = protowire.AppendTag(b, objType, protowire.BytesType)
	b = protowire.AppendString(b, o.Type)
	b = appendDouble(b, objX, o.X)
	b = appendDouble(b, objY, o.Y)
	b = appendDouble(b, objZ, o.Z)
	b = appendDouble(b, objScale, o.Scale)
	b = appendDouble(b, objRotation, o.Rotation)
	return b
}

func corrupt(n int) error {
	return fmt.Errorf("%w: %v", ErrCorruptChunk, protowire.ParseError(n))
}

func unmarshalChunk(b []byte) (*terrain.Chunk, error) {
	ch := &terrain.Chunk{
		Trees:  []terrain.Object{},
		Rocks:  []terrain.Object{},
		Shrubs: []terrain.Object{},
	}
	var heights []float64

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, corrupt(n)
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && (num == fieldCX || num == fieldCZ || num == fieldResolution ||
			num == fieldBiome || num == fieldHasWater || num == fieldIsSteep):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, corrupt(n)
			}
			b = b[n:]
			switch num {
			case fieldCX:
				ch.CX = int(protowire.DecodeZigZag(v))
			case fieldCZ:
				ch.CZ = int(protowire.DecodeZigZag(v))
			case fieldResolution:
				ch.Resolution = int(v)
			case fieldBiome:
				ch.Biome = terrain.Biome(v)
			case fieldHasWater:
				ch.HasWater = v != 0
			case fieldIsSteep:
				ch.IsSteep = v != 0
			}

		case typ == protowire.Fixed64Type && (num == fieldSize || num == fieldWaterLevel):
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, corrupt(n)
			}
			b = b[n:]
			if num == fieldSize {
				ch.Size = math.Float64frombits(v)
			} else {
				ch.WaterLevel = math.Float64frombits(v)
			}

		case typ == protowire.BytesType && num == fieldHeightmap:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, corrupt(n)
			}
			b = b[n:]
			for len(raw) > 0 {
				v, m := protowire.ConsumeFixed64(raw)
				if m < 0 {
					return nil, corrupt(m)
				}
				raw = raw[m:]
				heights = append(heights, math.Float64frombits(v))
			}

		case typ == protowire.BytesType && (num == fieldTrees || num == fieldRocks || num == fieldShrubs):
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, corrupt(n)
			}
			b = b[n:]
			o, err := unmarshalObject(raw)
			if err != nil {
				return nil, err
			}
			switch num {
			case fieldTrees:
				ch.Trees = append(ch.Trees, o)
			case fieldRocks:
				ch.Rocks = append(ch.Rocks, o)
			default:
				ch.Shrubs = append(ch.Shrubs, o)
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, corrupt(n)
			}
			b = b[n:]
		}
	}

	side := ch.Resolution + 1
	if ch.Resolution < 1 || len(heights) != side*side {
		return nil, fmt.Errorf("%w: %d высот при разрешении %d", ErrCorruptChunk, len(heights), ch.Resolution)
	}
	ch.Heightmap = make([][]float64, side)
	for i := range ch.Heightmap {
		ch.Heightmap[i] = heights[i*side : (i+1)*side : (i+1)*side]
	}
	return ch, nil
}

func unmarshalObject(b []byte) (terrain.Object, error) {
	var o terrain.Object
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return o, corrupt(n)
		}
		b = b[n:]

		if num == objType && typ == protowire.BytesType {
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return o, corrupt(n)
			}
			o.Type = s
			b = b[n:]
			continue
		}
		if typ == protowire.Fixed64Type && num >= objX && num <= objRotation {
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return o, corrupt(n)
			}
			f := math.Float64frombits(v)
			switch num {
			case objX:
				o.X = f
			case objY:
				o.Y = f
			case objZ:
				o.Z = f
			case objScale:
				o.Scale = f
			case objRotation:
				o.Rotation = f
			}
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return o, corrupt(n)
		}
		b = b[n:]
	}
	return o, nil
}
