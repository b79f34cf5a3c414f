package region

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// Container is an open region file. It is not safe for concurrent use; the
// scheduler gives each container to exactly one worker.
type Container struct {
	path     string
	f        *os.File
	size     int64
	mode     fs.FileMode
	readOnly bool
	header   *Header

	// sizes caches the on-disk payload size (length field + 4) of slots read so far.
	sizes [SlotCount]uint32
	// buf is reused for every payload read so one chunk is held at a time.
	buf []byte
}

// Payload is the raw, still-compressed content of one chunk slot.
type Payload struct {
	Slot     int
	Scheme   Scheme
	External bool
	// Size is the number of bytes the payload occupies in the container,
	// including its 4-byte length field.
	Size int
	// Data is the compressed chunk. It aliases the container's read buffer and
	// is only valid until the next read.
	Data []byte
}

// Open opens the container at path and decodes its header. The file is opened
// read-write unless readOnly is set. Open failures are returned as *fs.PathError;
// a file shorter than the header yields ErrCorruptHeader.
func Open(path string, readOnly bool) (*Container, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	header, err := ReadHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &Container{
		path:     path,
		f:        f,
		size:     st.Size(),
		mode:     st.Mode().Perm(),
		readOnly: readOnly,
		header:   header,
	}, nil
}

// Path returns the file path of the container.
func (c *Container) Path() string {
	return c.path
}

// Size returns the file size observed at open time.
func (c *Container) Size() int64 {
	return c.size
}

// Header returns the decoded header tables.
func (c *Container) Header() *Header {
	return c.header
}

// Close releases the file handle. It is safe to call more than once.
func (c *Container) Close() error {
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	return err
}

// ReadPayload reads the compressed payload of slot. Empty slots return
// ErrChunkAbsent; any other failure is a *DecodeError scoped to the slot.
// External payloads are loaded from their .mcc file.
func (c *Container) ReadPayload(slot int) (*Payload, error) {
	if c.f == nil {
		return nil, ErrClosed
	}
	loc := c.header.Slots[slot]
	if loc.Empty() {
		return nil, ErrChunkAbsent
	}

	raw, size, err := c.readRaw(slot, loc)
	if err != nil {
		return nil, &DecodeError{Slot: slot, Err: err}
	}
	c.sizes[slot] = uint32(size)

	p := &Payload{
		Slot:     slot,
		Scheme:   Scheme(raw[4] &^ externalFlag),
		External: raw[4]&externalFlag != 0,
		Size:     size,
		Data:     raw[payloadHeaderSize:size],
	}
	if p.External {
		data, err := c.readExternal(slot)
		if err != nil {
			return nil, &DecodeError{Slot: slot, Err: err}
		}
		p.Data = data
	}
	return p, nil
}

// ReadChunk returns the decompressed NBT of slot.
func (c *Container) ReadChunk(slot int) ([]byte, error) {
	p, err := c.ReadPayload(slot)
	if err != nil {
		return nil, err
	}
	data, err := Decompress(p.Scheme, p.Data)
	if err != nil {
		return nil, &DecodeError{Slot: slot, Err: err}
	}
	return data, nil
}

// readRaw reads the sectors allocated to a slot and validates the payload
// header. It returns the buffer and the payload size including the length field.
func (c *Container) readRaw(slot int, loc Location) ([]byte, int, error) {
	if loc.Offset < HeaderSectors {
		return nil, 0, fmt.Errorf("%w: sector %d", ErrInvalidOffset, loc.Offset)
	}
	allocated := int(loc.Sectors) * SectorSize
	if allocated < payloadHeaderSize {
		return nil, 0, fmt.Errorf("%w: %d sectors allocated", ErrPayloadOverrun, loc.Sectors)
	}

	if cap(c.buf) < allocated {
		c.buf = make([]byte, allocated)
	}
	buf := c.buf[:allocated]

	n, err := c.f.ReadAt(buf, int64(loc.Offset)*SectorSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, 0, err
	}
	if n < payloadHeaderSize {
		return nil, 0, ErrPayloadTruncated
	}

	length := int64(binary.BigEndian.Uint32(buf))
	if length == 0 {
		return nil, 0, ErrInvalidLength
	}
	size := length + 4
	if size > int64(allocated) {
		return nil, 0, fmt.Errorf("%w: %d bytes in %d sectors", ErrPayloadOverrun, size, loc.Sectors)
	}
	if size > int64(n) {
		return nil, 0, fmt.Errorf("%w: need %d bytes, read %d", ErrPayloadTruncated, size, n)
	}
	return buf, int(size), nil
}

func (c *Container) readExternal(slot int) ([]byte, error) {
	path, err := ExternalPath(c.path, slot)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrExternalMissing, path)
		}
		return nil, err
	}
	return data, nil
}

// payloadSize returns the on-disk size of a populated slot's payload, reading
// its length field if the slot has not been read yet.
func (c *Container) payloadSize(slot int) (int, error) {
	if s := c.sizes[slot]; s != 0 {
		return int(s), nil
	}
	if c.f == nil {
		return 0, ErrClosed
	}
	loc := c.header.Slots[slot]
	if loc.Empty() {
		return 0, ErrChunkAbsent
	}
	_, size, err := c.readRaw(slot, loc)
	if err != nil {
		return 0, &DecodeError{Slot: slot, Err: err}
	}
	c.sizes[slot] = uint32(size)
	return size, nil
}

// carrySize returns how many bytes of slot a compacted file copies. A payload
// whose length field is unusable is carried as its allocated sectors, clipped
// to the end of the file. Slots pointing into the header or past the end of
// the file cannot be carried.
func (c *Container) carrySize(slot int) (int, error) {
	size, err := c.payloadSize(slot)
	if err == nil {
		return size, nil
	}
	if !errors.Is(err, ErrInvalidLength) && !errors.Is(err, ErrPayloadOverrun) && !errors.Is(err, ErrPayloadTruncated) {
		return 0, err
	}
	loc := c.header.Slots[slot]
	start := int64(loc.Offset) * SectorSize
	end := min(start+int64(loc.Sectors)*SectorSize, c.size)
	if end <= start {
		return 0, err
	}
	return int(end - start), nil
}
