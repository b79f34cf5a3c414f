// Package regiontest writes region containers for tests.
package regiontest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"

	"github.com/anvilprune/anvilprune/internal/region"
)

// Chunk describes one populated slot.
type Chunk struct {
	X, Z int
	// NBT is the uncompressed chunk data.
	NBT []byte
	// Scheme defaults to zlib.
	Scheme region.Scheme
	// External stores the compressed data in a c.<x>.<z>.mcc file.
	External bool
	Timestamp uint32
	// Raw, when set, replaces the compressed data verbatim.
	Raw []byte
	// Gap leaves unused sectors in front of the payload.
	Gap int
	// ExtraSectors over-allocates sectors behind the payload.
	ExtraSectors int
}

// Compress encodes data with scheme s the way the game writes it.
func Compress(s region.Scheme, data []byte) []byte {
	var buf bytes.Buffer
	switch s {
	case region.SchemeGzip:
		w := gzip.NewWriter(&buf)
		_, _ = w.Write(data)
		_ = w.Close()
	case region.SchemeZlib:
		w := zlib.NewWriter(&buf)
		_, _ = w.Write(data)
		_ = w.Close()
	case region.SchemeLZ4:
		return lz4Blocks(data)
	default:
		buf.Write(data)
	}
	return buf.Bytes()
}

func lz4Blocks(data []byte) []byte {
	var out bytes.Buffer
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)

	method, block := byte(0x20), dst[:n]
	if err != nil || n == 0 {
		method, block = 0x10, data
	}
	writeLZ4Header(&out, method, len(block), len(data))
	out.Write(block)
	writeLZ4Header(&out, 0x10, 0, 0)
	return out.Bytes()
}

func writeLZ4Header(buf *bytes.Buffer, method byte, compressed, decompressed int) {
	buf.WriteString("LZ4Block")
	buf.WriteByte(method)
	_ = binary.Write(buf, binary.LittleEndian, uint32(compressed))
	_ = binary.Write(buf, binary.LittleEndian, uint32(decompressed))
	_ = binary.Write(buf, binary.LittleEndian, uint32(0))
}

// Payload returns the region payload bytes (length, scheme, data) for c and the
// data destined for an external file, if any.
func Payload(c Chunk) (payload, external []byte) {
	scheme := c.Scheme
	if scheme == 0 {
		scheme = region.SchemeZlib
	}
	data := c.Raw
	if data == nil {
		data = Compress(scheme, c.NBT)
	}

	tag := byte(scheme)
	if c.External {
		tag |= 0x80
		external, data = data, nil
	}

	payload = make([]byte, 5+len(data))
	binary.BigEndian.PutUint32(payload, uint32(len(data)+1))
	payload[4] = tag
	copy(payload[5:], data)
	return payload, external
}

// Build encodes a container holding chunks, laid out in the order given.
// External data is not written; use WriteFile for that.
func Build(chunks ...Chunk) []byte {
	var h region.Header
	body := make([]byte, 0, len(chunks)*region.SectorSize)
	next := region.HeaderSectors

	for _, c := range chunks {
		payload, _ := Payload(c)
		next += c.Gap
		for len(body) < (next-region.HeaderSectors)*region.SectorSize {
			body = append(body, 0)
		}
		sectors := (len(payload)+region.SectorSize-1)/region.SectorSize + c.ExtraSectors
		h.Slots[region.SlotIndex(c.X, c.Z)] = region.Location{
			Offset:    uint32(next),
			Sectors:   uint8(sectors),
			Timestamp: c.Timestamp,
		}
		body = append(body, payload...)
		next += sectors
		for len(body) < (next-region.HeaderSectors)*region.SectorSize {
			body = append(body, 0)
		}
	}

	out := make([]byte, region.HeaderSize, region.HeaderSize+len(body))
	h.Encode(out)
	return append(out, body...)
}

// WriteFile writes a container named r.<rx>.<rz>.mca into dir together with any
// external chunk files and returns its path.
func WriteFile(tb testing.TB, dir string, rx, rz int, chunks ...Chunk) string {
	tb.Helper()

	path := filepath.Join(dir, FileName(rx, rz))
	if err := os.WriteFile(path, Build(chunks...), 0o644); err != nil {
		tb.Fatalf("writing container: %v", err)
	}
	for _, c := range chunks {
		if !c.External {
			continue
		}
		_, ext := Payload(c)
		extPath, err := region.ExternalPath(path, region.SlotIndex(c.X, c.Z))
		if err != nil {
			tb.Fatalf("external path: %v", err)
		}
		if err := os.WriteFile(extPath, ext, 0o644); err != nil {
			tb.Fatalf("writing external chunk: %v", err)
		}
	}
	return path
}

// FileName returns the container file name for region (rx, rz).
func FileName(rx, rz int) string {
	return fmt.Sprintf("r.%d.%d%s", rx, rz, region.Extension)
}
