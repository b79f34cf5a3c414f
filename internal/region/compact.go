package region

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
)

var ErrLayoutOverflow = errors.New("region: compacted layout exceeds addressable sectors")

// Layout is the header of a compacted container: kept slots packed in ascending
// slot order from the first sector after the header, each rounded up to whole
// sectors.
type Layout struct {
	Header Header
	// Size is the total size of the compacted file in bytes.
	Size int64
	// Kept is the number of populated slots in the layout.
	Kept int

	sizes [SlotCount]uint32
}

// Plan computes the compacted layout that keeps only the given slots. Payload
// lengths are taken from slots already read, or read from disk otherwise; a
// slot with an unusable length field keeps its allocated sectors as they are.
// Nothing is written.
func (c *Container) Plan(keep []int) (*Layout, error) {
	slots := slices.Clone(keep)
	slices.Sort(slots)
	slots = slices.Compact(slots)

	l := &Layout{Kept: len(slots)}
	next := int64(HeaderSectors)
	for _, slot := range slots {
		if slot < 0 || slot >= SlotCount {
			return nil, fmt.Errorf("region: slot %d out of range", slot)
		}
		size, err := c.carrySize(slot)
		if err != nil {
			return nil, err
		}
		n := sectorsFor(int64(size))
		if n > MaxSectorCount || next+n-1 > MaxSectorOffset {
			return nil, ErrLayoutOverflow
		}
		l.Header.Slots[slot] = Location{
			Offset:    uint32(next),
			Sectors:   uint8(n),
			Timestamp: c.header.Slots[slot].Timestamp,
		}
		l.sizes[slot] = uint32(size)
		next += n
	}
	l.Size = next * SectorSize
	return l, nil
}

// PayloadSize returns the on-disk size of a slot's payload including its length
// field. It fails when the length field is unusable.
func (c *Container) PayloadSize(slot int) (int, error) {
	return c.payloadSize(slot)
}

// WriteCompacted replaces the container with the compacted image described by l.
//
// The image is streamed into a temporary file next to the container, fsynced and
// renamed over the original, so a crash at any point leaves either the untouched
// original or the complete replacement. Payloads are copied byte for byte from
// the original and zero padded to the sector boundary. The container is closed
// when WriteCompacted returns.
func (c *Container) WriteCompacted(l *Layout) error {
	if c.f == nil {
		return ErrClosed
	}
	if c.readOnly {
		return fmt.Errorf("region: %s opened read-only", c.path)
	}
	defer c.Close()

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(c.mode); err != nil {
		return err
	}

	written, err := c.writeImage(tmp, l)
	if err != nil {
		return fmt.Errorf("writing compacted image: %w", err)
	}
	if written != l.Size {
		return fmt.Errorf("region: wrote %d bytes, layout expects %d", written, l.Size)
	}

	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// The source handle must be released before the rename on platforms that
	// refuse to replace open files.
	if err := c.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		return err
	}
	success = true

	syncDir(dir)
	c.size = l.Size
	return nil
}

func (c *Container) writeImage(dst io.Writer, l *Layout) (int64, error) {
	w := bufio.NewWriterSize(dst, 64<<10)

	header := make([]byte, HeaderSize)
	l.Header.Encode(header)
	if _, err := w.Write(header); err != nil {
		return 0, err
	}
	written := int64(HeaderSize)

	var zero [SectorSize]byte
	for slot := 0; slot < SlotCount; slot++ {
		if l.Header.Slots[slot].Empty() {
			continue
		}
		size := int(l.sizes[slot])
		if cap(c.buf) < size {
			c.buf = make([]byte, size)
		}
		buf := c.buf[:size]
		src := int64(c.header.Slots[slot].Offset) * SectorSize
		if n, err := c.f.ReadAt(buf, src); err != nil && !(errors.Is(err, io.EOF) && n == size) {
			return written, &DecodeError{Slot: slot, Err: err}
		}
		if _, err := w.Write(buf); err != nil {
			return written, err
		}
		pad := int(l.Header.Slots[slot].Sectors)*SectorSize - size
		if _, err := w.Write(zero[:pad]); err != nil {
			return written, err
		}
		written += int64(size + pad)
	}

	return written, w.Flush()
}

// syncDir flushes a directory entry after a rename. Not every platform supports
// fsync on directories; the rename itself is already atomic.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
