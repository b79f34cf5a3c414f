// Package nbt extracts the InhabitedTime activity metric from uncompressed chunk NBT.
//
// The extractor walks the tag stream with a byte cursor and a tag-id dispatch table,
// skipping every tag that is not on the path to the metric. No tree is built, so the
// cost of a chunk is one linear scan over its bytes and no per-tag allocation.
//
// Two field locations are probed in the same pass:
//
//	root.InhabitedTime        (chunk format 1.18 and later)
//	root.Level.InhabitedTime  (chunk format 1.17 and earlier)
package nbt

import (
	"bytes"
	"errors"
	"fmt"
)

// Tag type identifiers.
const (
	TagEnd byte = iota
	TagByte
	TagShort
	TagInt
	TagLong
	TagFloat
	TagDouble
	TagByteArray
	TagString
	TagList
	TagCompound
	TagIntArray
	TagLongArray

	tagCount
)

// MaxDepth bounds compound and list nesting, matching the game's own limit.
const MaxDepth = 512

// ErrMalformed is matched by every ParseError.
var ErrMalformed = errors.New("nbt: malformed data")

// ParseError reports a structurally invalid tag stream.
type ParseError struct {
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("nbt: %s at offset %d", e.Reason, e.Offset)
}

func (e *ParseError) Unwrap() error {
	return ErrMalformed
}

var (
	inhabitedTimeName = []byte("InhabitedTime")
	levelName         = []byte("Level")
)

// InhabitedTime returns the cumulative player-presence ticks recorded in a chunk.
// found is false when neither location carries the field; the value is then 0.
// Negative stored values are reported as 0.
func InhabitedTime(data []byte) (value int64, found bool, err error) {
	c := &cursor{buf: data}

	tag, err := c.u8()
	if err != nil {
		return 0, false, err
	}
	if tag != TagCompound {
		return 0, false, c.fail(fmt.Sprintf("root tag is type %d, not a compound", tag))
	}
	if err := skipString(c); err != nil {
		return 0, false, err
	}

	value, found, err = search(c, true)
	if err != nil {
		return 0, false, err
	}
	if value < 0 {
		value = 0
	}
	return value, found, nil
}

// search scans the entries of the compound the cursor is positioned in. When
// descend is set, a nested "Level" compound is scanned as well.
func search(c *cursor, descend bool) (int64, bool, error) {
	for {
		tag, err := c.u8()
		if err != nil {
			return 0, false, err
		}
		if tag == TagEnd {
			return 0, false, nil
		}
		name, err := c.name()
		if err != nil {
			return 0, false, err
		}

		switch {
		case bytes.Equal(name, inhabitedTimeName):
			return readMetric(c, tag)
		case descend && tag == TagCompound && bytes.Equal(name, levelName):
			v, ok, err := search(c, false)
			if err != nil || ok {
				return v, ok, err
			}
		default:
			if err := skipValue(c, tag); err != nil {
				return 0, false, err
			}
		}
	}
}

func readMetric(c *cursor, tag byte) (int64, bool, error) {
	switch tag {
	case TagLong:
		v, err := c.i64()
		return v, err == nil, err
	case TagInt:
		v, err := c.i32()
		return int64(v), err == nil, err
	case TagShort:
		v, err := c.u16()
		return int64(int16(v)), err == nil, err
	case TagByte:
		v, err := c.u8()
		return int64(int8(v)), err == nil, err
	default:
		return 0, false, c.fail(fmt.Sprintf("InhabitedTime has unexpected type %d", tag))
	}
}
