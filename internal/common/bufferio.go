package common

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// BinaryBuffer is a fluent big-endian codec. Reads past the end of the
// buffer do not panic; they record io.ErrUnexpectedEOF, which Err returns,
// and every following read becomes a no-op.
type BinaryBuffer struct {
	buf     *[]byte
	offset  uint64
	managed bool // true if buffer is internally owned and resizable
	err     error
}

func NewBinaryBuffer(initialSize int) *BinaryBuffer {
	buf := make([]byte, 0, initialSize)
	return &BinaryBuffer{
		buf:     &buf,
		offset:  0,
		managed: true,
	}
}

func NewBinaryBufferFrom(buf *[]byte, offset uint64) *BinaryBuffer {
	return &BinaryBuffer{
		buf:     buf,
		offset:  offset,
		managed: false,
	}
}

func (b *BinaryBuffer) ensureCapacity(n uint64) {
	if !b.managed {
		return
	}
	required := b.offset + n
	if uint64(cap(*b.buf)) < required {
		newCap := max(uint64(cap(*b.buf))*2, required)
		newBuf := make([]byte, len(*b.buf), newCap)
		copy(newBuf, *b.buf)
		*b.buf = newBuf
	}
	if uint64(len(*b.buf)) < required {
		*b.buf = (*b.buf)[:required]
	}
}

// canRead marks the buffer failed when fewer than n bytes remain.
func (b *BinaryBuffer) canRead(n uint64) bool {
	if b.err != nil {
		return false
	}
	if b.offset+n > uint64(len(*b.buf)) {
		b.err = errors.Wrapf(io.ErrUnexpectedEOF, "need %d bytes at offset %d, have %d", n, b.offset, len(*b.buf))
		return false
	}
	return true
}

func (b *BinaryBuffer) Err() error {
	return b.err
}

func (b *BinaryBuffer) GetOffset() uint64 {
	return b.offset
}

func (b *BinaryBuffer) Remaining() int {
	return len(*b.buf) - int(b.offset)
}

func (b *BinaryBuffer) GetBuffer() []byte {
	return (*b.buf)[:b.offset]
}

func (b *BinaryBuffer) ResetOffset() *BinaryBuffer {
	b.offset = 0
	b.err = nil
	return b
}

func (b *BinaryBuffer) WriteUint8(value uint8) *BinaryBuffer {
	b.ensureCapacity(1)
	(*b.buf)[b.offset] = value
	b.offset += 1
	return b
}

func (b *BinaryBuffer) WriteUint32(value uint32) *BinaryBuffer {
	b.ensureCapacity(4)
	binary.BigEndian.PutUint32((*b.buf)[b.offset:], value)
	b.offset += 4
	return b
}

func (b *BinaryBuffer) WriteUint64(value uint64) *BinaryBuffer {
	b.ensureCapacity(8)
	binary.BigEndian.PutUint64((*b.buf)[b.offset:], value)
	b.offset += 8
	return b
}

func (b *BinaryBuffer) WriteInt64(value int64) *BinaryBuffer {
	return b.WriteUint64(uint64(value))
}

func (b *BinaryBuffer) WriteBool(value bool) *BinaryBuffer {
	if value {
		return b.WriteUint8(1)
	}
	return b.WriteUint8(0)
}

// WriteRaw appends value without a length prefix.
func (b *BinaryBuffer) WriteRaw(value []byte) *BinaryBuffer {
	b.ensureCapacity(uint64(len(value)))
	copy((*b.buf)[b.offset:], value)
	b.offset += uint64(len(value))
	return b
}

func (b *BinaryBuffer) WriteBytes(value []byte) *BinaryBuffer {
	b.WriteUint32(uint32(len(value)))
	return b.WriteRaw(value)
}

func (b *BinaryBuffer) WriteString(value string) *BinaryBuffer {
	return b.WriteBytes([]byte(value))
}

func (b *BinaryBuffer) ReadUint8(out *uint8) *BinaryBuffer {
	if !b.canRead(1) {
		return b
	}
	*out = (*b.buf)[b.offset]
	b.offset += 1
	return b
}

func (b *BinaryBuffer) ReadUint32(out *uint32) *BinaryBuffer {
	if !b.canRead(4) {
		return b
	}
	*out = binary.BigEndian.Uint32((*b.buf)[b.offset:])
	b.offset += 4
	return b
}

func (b *BinaryBuffer) ReadUint64(out *uint64) *BinaryBuffer {
	if !b.canRead(8) {
		return b
	}
	*out = binary.BigEndian.Uint64((*b.buf)[b.offset:])
	b.offset += 8
	return b
}

func (b *BinaryBuffer) ReadInt64(out *int64) *BinaryBuffer {
	var u uint64
	b.ReadUint64(&u)
	*out = int64(u)
	return b
}

func (b *BinaryBuffer) ReadBool(out *bool) *BinaryBuffer {
	var u uint8
	b.ReadUint8(&u)
	*out = u != 0
	return b
}

// ReadRest copies every remaining byte into out.
func (b *BinaryBuffer) ReadRest(out *[]byte) *BinaryBuffer {
	if b.err != nil {
		return b
	}
	*out = CloneBytes((*b.buf)[b.offset:])
	b.offset = uint64(len(*b.buf))
	return b
}

// ReadBytes copies the length-prefixed field into out, so the result never
// aliases the source buffer.
func (b *BinaryBuffer) ReadBytes(out *[]byte) *BinaryBuffer {
	var length uint32
	b.ReadUint32(&length)
	if !b.canRead(uint64(length)) {
		return b
	}
	start := b.offset
	end := start + uint64(length)
	*out = CloneBytes((*b.buf)[start:end])
	b.offset = end
	return b
}

func (b *BinaryBuffer) ReadString(out *string) *BinaryBuffer {
	var bytes []byte
	b.ReadBytes(&bytes)
	*out = string(bytes)
	return b
}
