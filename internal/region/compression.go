package region

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
)

// Scheme is the compression tag stored in the fifth byte of a payload.
type Scheme byte

const (
	SchemeGzip   Scheme = 1
	SchemeZlib   Scheme = 2
	SchemeNone   Scheme = 3
	SchemeLZ4    Scheme = 4
	SchemeCustom Scheme = 127

	// externalFlag marks a payload whose data lives in a c.<x>.<z>.mcc file.
	externalFlag = 0x80
)

func (s Scheme) String() string {
	switch s {
	case SchemeGzip:
		return "gzip"
	case SchemeZlib:
		return "zlib"
	case SchemeNone:
		return "none"
	case SchemeLZ4:
		return "lz4"
	case SchemeCustom:
		return "custom"
	default:
		return fmt.Sprintf("unknown(%d)", byte(s))
	}
}

// Decompress returns the NBT bytes held by data under scheme s.
func Decompress(s Scheme, data []byte) ([]byte, error) {
	switch s {
	case SchemeGzip:
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer reader.Close()
		return readLimited(reader)
	case SchemeZlib:
		reader, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zlib reader: %w", err)
		}
		defer reader.Close()
		return readLimited(reader)
	case SchemeNone:
		if len(data) > MaxChunkSize {
			return nil, ErrChunkTooLarge
		}
		return data, nil
	case SchemeLZ4:
		return decodeLZ4Blocks(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCompression, s)
	}
}

func readLimited(r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, MaxChunkSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > MaxChunkSize {
		return nil, ErrChunkTooLarge
	}
	return out, nil
}

// LZ4 payloads use the block stream framing of lz4-java's LZ4BlockOutputStream:
//
//	magic "LZ4Block" | token | compressed len (LE32) | decompressed len (LE32) | checksum (LE32) | data
//
// The high nibble of token selects raw or LZ4-compressed data. A block with both
// lengths zero ends the stream. Checksums are not verified.
const (
	lz4BlockMagic      = "LZ4Block"
	lz4BlockHeaderSize = len(lz4BlockMagic) + 1 + 4 + 4 + 4

	lz4MethodRaw = 0x10
	lz4MethodLZ4 = 0x20
)

func decodeLZ4Blocks(data []byte) ([]byte, error) {
	var out []byte
	for len(data) > 0 {
		if len(data) < lz4BlockHeaderSize || string(data[:len(lz4BlockMagic)]) != lz4BlockMagic {
			return nil, fmt.Errorf("lz4: bad block header")
		}
		token := data[len(lz4BlockMagic)]
		compressedLen := int(binary.LittleEndian.Uint32(data[9:13]))
		decompressedLen := int(binary.LittleEndian.Uint32(data[13:17]))
		data = data[lz4BlockHeaderSize:]

		if compressedLen == 0 && decompressedLen == 0 {
			return out, nil
		}
		if compressedLen < 0 || compressedLen > len(data) {
			return nil, fmt.Errorf("lz4: block length %d exceeds remaining %d bytes", compressedLen, len(data))
		}
		if decompressedLen < 0 || len(out)+decompressedLen > MaxChunkSize {
			return nil, ErrChunkTooLarge
		}

		block := data[:compressedLen]
		data = data[compressedLen:]

		switch token & 0xf0 {
		case lz4MethodRaw:
			if compressedLen != decompressedLen {
				return nil, fmt.Errorf("lz4: raw block lengths differ (%d != %d)", compressedLen, decompressedLen)
			}
			out = append(out, block...)
		case lz4MethodLZ4:
			start := len(out)
			out = append(out, make([]byte, decompressedLen)...)
			n, err := lz4.UncompressBlock(block, out[start:])
			if err != nil {
				return nil, fmt.Errorf("lz4: %w", err)
			}
			if n != decompressedLen {
				return nil, fmt.Errorf("lz4: block decoded to %d bytes, want %d", n, decompressedLen)
			}
		default:
			return nil, fmt.Errorf("lz4: unknown block method 0x%02x", token&0xf0)
		}
	}
	return out, nil
}
