// Package region reads and compacts Anvil region containers (r.<x>.<z>.mca).
//
// A container starts with an 8192-byte header made of two 4096-byte tables, one
// entry per chunk slot on a 32x32 grid:
//
//	location table:  3-byte big-endian sector offset, 1-byte sector count
//	timestamp table: 4-byte big-endian modification time (epoch seconds)
//
// Payloads follow in 4096-byte sectors. Each payload is a 4-byte big-endian
// length, a 1-byte compression scheme and length-1 bytes of compressed NBT.
package region

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// SectorSize is the allocation granularity of a container.
	SectorSize = 4096

	// GridSize is the width of the chunk grid along each axis.
	GridSize = 32

	// SlotCount is the number of chunk slots in a container.
	SlotCount = GridSize * GridSize

	// HeaderSectors is the number of sectors taken by the two header tables.
	HeaderSectors = 2

	// HeaderSize is the fixed size of the header in bytes.
	HeaderSize = HeaderSectors * SectorSize

	// MaxSectorOffset is the largest offset the 3-byte location field can hold.
	MaxSectorOffset = 1<<24 - 1

	// MaxSectorCount is the largest sector count the 1-byte location field can hold.
	MaxSectorCount = 255

	// MaxChunkSize bounds the decompressed size of a single chunk.
	MaxChunkSize = 16 << 20

	payloadHeaderSize = 5
)

var (
	ErrCorruptHeader      = errors.New("region: header shorter than 8192 bytes")
	ErrChunkAbsent        = errors.New("region: chunk not present")
	ErrInvalidOffset      = errors.New("region: sector offset points into header")
	ErrInvalidLength      = errors.New("region: invalid payload length")
	ErrPayloadOverrun     = errors.New("region: payload length exceeds allocated sectors")
	ErrPayloadTruncated   = errors.New("region: payload truncated by end of file")
	ErrUnknownCompression = errors.New("region: unknown compression scheme")
	ErrChunkTooLarge      = errors.New("region: decompressed chunk exceeds size limit")
	ErrExternalMissing    = errors.New("region: external chunk file missing")
	ErrClosed             = errors.New("region: container is closed")
)

// DecodeError is a failure confined to one chunk slot. It never invalidates the
// rest of the container.
type DecodeError struct {
	Slot int
	Err  error
}

func (e *DecodeError) Error() string {
	x, z := SlotCoords(e.Slot)
	return fmt.Sprintf("region: chunk (%d,%d): %v", x, z, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Location is one slot of the header: where the payload lives and when it was written.
type Location struct {
	// Offset is the first sector of the payload; 0 means the slot is empty.
	Offset uint32
	// Sectors is the number of sectors allocated to the payload.
	Sectors uint8
	// Timestamp is the last modification time in epoch seconds.
	Timestamp uint32
}

// Empty reports whether the slot holds no chunk.
func (l Location) Empty() bool {
	return l.Offset == 0
}

// Header holds the decoded location and timestamp tables.
type Header struct {
	Slots [SlotCount]Location
}

// SlotIndex returns the slot index of local chunk coordinates.
func SlotIndex(x, z int) int {
	return (x & (GridSize - 1)) + (z&(GridSize-1))*GridSize
}

// SlotCoords returns the local chunk coordinates of a slot index.
func SlotCoords(slot int) (x, z int) {
	return slot % GridSize, slot / GridSize
}

// ReadHeader reads and decodes the header from the start of r.
func ReadHeader(r io.ReaderAt) (*Header, error) {
	buf := make([]byte, HeaderSize)
	n, err := r.ReadAt(buf, 0)
	if n < HeaderSize {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, ErrCorruptHeader
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	return DecodeHeader(buf)
}

// DecodeHeader decodes the two header tables from data.
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, ErrCorruptHeader
	}

	h := &Header{}
	for i := 0; i < SlotCount; i++ {
		loc := binary.BigEndian.Uint32(data[i*4:])
		h.Slots[i] = Location{
			Offset:    loc >> 8,
			Sectors:   uint8(loc),
			Timestamp: binary.BigEndian.Uint32(data[SectorSize+i*4:]),
		}
	}
	return h, nil
}

// Encode writes both tables into buf, which must hold at least HeaderSize bytes.
func (h *Header) Encode(buf []byte) {
	for i, s := range h.Slots {
		binary.BigEndian.PutUint32(buf[i*4:], s.Offset<<8|uint32(s.Sectors))
		binary.BigEndian.PutUint32(buf[SectorSize+i*4:], s.Timestamp)
	}
}

// Populated returns the indexes of non-empty slots in ascending order.
func (h *Header) Populated() []int {
	var slots []int
	for i, s := range h.Slots {
		if !s.Empty() {
			slots = append(slots, i)
		}
	}
	return slots
}

// sectorsFor returns the number of sectors needed to hold n bytes.
func sectorsFor(n int64) int64 {
	return (n + SectorSize - 1) / SectorSize
}
