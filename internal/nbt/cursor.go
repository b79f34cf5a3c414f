package nbt

import (
	"encoding/binary"
	"fmt"
)

// cursor is a forward-only reader over a tag stream. Every read is bounds
// checked and reports overruns as a ParseError.
type cursor struct {
	buf   []byte
	pos   int
	depth int
}

func (c *cursor) fail(reason string) error {
	return &ParseError{Offset: c.pos, Reason: reason}
}

func (c *cursor) need(n int64) error {
	if n < 0 {
		return c.fail(fmt.Sprintf("negative length %d", n))
	}
	if n > int64(len(c.buf)-c.pos) {
		return c.fail(fmt.Sprintf("length %d overruns buffer (%d bytes left)", n, len(c.buf)-c.pos))
	}
	return nil
}

func (c *cursor) skip(n int64) error {
	if err := c.need(n); err != nil {
		return err
	}
	c.pos += int(n)
	return nil
}

func (c *cursor) u8() (byte, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

func (c *cursor) u16() (uint16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, nil
}

func (c *cursor) i32() (int32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(c.buf[c.pos:]))
	c.pos += 4
	return v, nil
}

func (c *cursor) i64() (int64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(c.buf[c.pos:]))
	c.pos += 8
	return v, nil
}

// name returns the next length-prefixed string as a view into the buffer.
func (c *cursor) name() ([]byte, error) {
	n, err := c.u16()
	if err != nil {
		return nil, err
	}
	if err := c.need(int64(n)); err != nil {
		return nil, err
	}
	s := c.buf[c.pos : c.pos+int(n)]
	c.pos += int(n)
	return s, nil
}

func (c *cursor) enter() error {
	c.depth++
	if c.depth > MaxDepth {
		return c.fail(fmt.Sprintf("nesting deeper than %d", MaxDepth))
	}
	return nil
}

func (c *cursor) leave() {
	c.depth--
}

// skipFunc advances the cursor past one tag payload.
type skipFunc func(c *cursor) error

// elemWidth is the payload size of fixed-width tags; zero for variable-width tags.
var elemWidth = [tagCount]int64{
	TagByte:   1,
	TagShort:  2,
	TagInt:    4,
	TagLong:   8,
	TagFloat:  4,
	TagDouble: 8,
}

// skipTable dispatches on tag id. It is filled in init because the compound and
// list entries refer back to it.
var skipTable [tagCount]skipFunc

func init() {
	skipTable = [tagCount]skipFunc{
		TagByte:      skipFixed(1),
		TagShort:     skipFixed(2),
		TagInt:       skipFixed(4),
		TagLong:      skipFixed(8),
		TagFloat:     skipFixed(4),
		TagDouble:    skipFixed(8),
		TagByteArray: skipArray(1),
		TagString:    skipString,
		TagList:      skipList,
		TagCompound:  skipCompound,
		TagIntArray:  skipArray(4),
		TagLongArray: skipArray(8),
	}
}

func skipValue(c *cursor, tag byte) error {
	if int(tag) >= len(skipTable) || skipTable[tag] == nil {
		return c.fail(fmt.Sprintf("unknown tag type %d", tag))
	}
	return skipTable[tag](c)
}

func skipFixed(n int64) skipFunc {
	return func(c *cursor) error {
		return c.skip(n)
	}
}

func skipArray(width int64) skipFunc {
	return func(c *cursor) error {
		n, err := c.i32()
		if err != nil {
			return err
		}
		return c.skip(int64(n) * width)
	}
}

func skipString(c *cursor) error {
	n, err := c.u16()
	if err != nil {
		return err
	}
	return c.skip(int64(n))
}

func skipList(c *cursor) error {
	elem, err := c.u8()
	if err != nil {
		return err
	}
	n, err := c.i32()
	if err != nil {
		return err
	}
	if n < 0 {
		return c.fail(fmt.Sprintf("negative list length %d", n))
	}
	if n == 0 {
		return nil
	}
	if int(elem) >= len(skipTable) || skipTable[elem] == nil {
		return c.fail(fmt.Sprintf("list of unknown tag type %d", elem))
	}
	if w := elemWidth[elem]; w > 0 {
		return c.skip(int64(n) * w)
	}

	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	for i := int32(0); i < n; i++ {
		if err := skipTable[elem](c); err != nil {
			return err
		}
	}
	return nil
}

func skipCompound(c *cursor) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	for {
		tag, err := c.u8()
		if err != nil {
			return err
		}
		if tag == TagEnd {
			return nil
		}
		if err := skipString(c); err != nil {
			return err
		}
		if err := skipValue(c, tag); err != nil {
			return err
		}
	}
}
