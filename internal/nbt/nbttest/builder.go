// Package nbttest builds NBT byte streams for tests.
package nbttest

import (
	"bytes"
	"encoding/binary"

	"github.com/anvilprune/anvilprune/internal/nbt"
)

// Builder appends named tags to a compound. Methods return the builder so calls chain.
type Builder struct {
	buf bytes.Buffer
}

// Root starts a root compound with the given name.
func Root(name string) *Builder {
	b := &Builder{}
	b.head(nbt.TagCompound, name)
	return b
}

// Bytes closes the root compound and returns the encoded stream.
func (b *Builder) Bytes() []byte {
	b.buf.WriteByte(nbt.TagEnd)
	return b.buf.Bytes()
}

func (b *Builder) head(tag byte, name string) {
	b.buf.WriteByte(tag)
	b.str(name)
}

func (b *Builder) str(s string) {
	_ = binary.Write(&b.buf, binary.BigEndian, uint16(len(s)))
	b.buf.WriteString(s)
}

func (b *Builder) Byte(name string, v int8) *Builder {
	b.head(nbt.TagByte, name)
	b.buf.WriteByte(byte(v))
	return b
}

func (b *Builder) Short(name string, v int16) *Builder {
	b.head(nbt.TagShort, name)
	_ = binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

func (b *Builder) Int(name string, v int32) *Builder {
	b.head(nbt.TagInt, name)
	_ = binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

func (b *Builder) Long(name string, v int64) *Builder {
	b.head(nbt.TagLong, name)
	_ = binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

func (b *Builder) Double(name string, v float64) *Builder {
	b.head(nbt.TagDouble, name)
	_ = binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

func (b *Builder) String(name, v string) *Builder {
	b.head(nbt.TagString, name)
	b.str(v)
	return b
}

func (b *Builder) ByteArray(name string, v []byte) *Builder {
	b.head(nbt.TagByteArray, name)
	_ = binary.Write(&b.buf, binary.BigEndian, int32(len(v)))
	b.buf.Write(v)
	return b
}

func (b *Builder) LongArray(name string, v []int64) *Builder {
	b.head(nbt.TagLongArray, name)
	_ = binary.Write(&b.buf, binary.BigEndian, int32(len(v)))
	_ = binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// IntList writes a list of TAG_Int.
func (b *Builder) IntList(name string, v []int32) *Builder {
	b.head(nbt.TagList, name)
	b.buf.WriteByte(nbt.TagInt)
	_ = binary.Write(&b.buf, binary.BigEndian, int32(len(v)))
	_ = binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// Compound writes a nested compound whose entries are added by fn.
func (b *Builder) Compound(name string, fn func(*Builder)) *Builder {
	b.head(nbt.TagCompound, name)
	fn(b)
	b.buf.WriteByte(nbt.TagEnd)
	return b
}

// CompoundList writes a list of n compounds; fn fills element i.
func (b *Builder) CompoundList(name string, n int, fn func(i int, b *Builder)) *Builder {
	b.head(nbt.TagList, name)
	b.buf.WriteByte(nbt.TagCompound)
	_ = binary.Write(&b.buf, binary.BigEndian, int32(n))
	for i := 0; i < n; i++ {
		fn(i, b)
		b.buf.WriteByte(nbt.TagEnd)
	}
	return b
}

// Chunk returns a chunk in the flattened 1.18+ layout with the given InhabitedTime
// and enough surrounding tags to exercise skipping.
func Chunk(inhabited int64) []byte {
	return Root("").
		Int("DataVersion", 3465).
		Int("xPos", 4).
		Int("zPos", -2).
		Int("yPos", -4).
		String("Status", "minecraft:full").
		Long("LastUpdate", 982374).
		CompoundList("sections", 3, func(i int, s *Builder) {
			s.Byte("Y", int8(i-4))
			s.Compound("block_states", func(bs *Builder) {
				bs.CompoundList("palette", 1, func(_ int, p *Builder) {
					p.String("Name", "minecraft:stone")
				})
				bs.LongArray("data", make([]int64, 16))
			})
		}).
		Compound("Heightmaps", func(h *Builder) {
			h.LongArray("MOTION_BLOCKING", make([]int64, 37))
		}).
		Long("InhabitedTime", inhabited).
		IntList("PostProcessing", []int32{1, 2, 3}).
		Bytes()
}

// LegacyChunk returns a chunk in the pre-1.18 layout, with InhabitedTime nested
// under the Level compound.
func LegacyChunk(inhabited int64) []byte {
	return Root("").
		Int("DataVersion", 2586).
		Compound("Level", func(l *Builder) {
			l.Int("xPos", 1).
				Int("zPos", 1).
				Long("LastUpdate", 1200).
				ByteArray("Biomes", make([]byte, 256)).
				CompoundList("Sections", 2, func(i int, s *Builder) {
					s.Byte("Y", int8(i))
					s.ByteArray("BlockLight", make([]byte, 2048))
				}).
				Long("InhabitedTime", inhabited).
				String("Status", "full")
		}).
		Bytes()
}
