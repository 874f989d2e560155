package common

import (
	"hash/crc32"
	"io"
	"os"

	"github.com/pkg/errors"
)

const frameHeaderSize = 8

type BinarySerializable interface {
	MarshalBinary() ([]byte, error)
	UnmarshalBinary([]byte) error
}

// ErrCorruptFrame is returned when a frame's checksum does not match its data.
var ErrCorruptFrame = errors.New("corrupt frame")

// WriteAtInFile writes data as one frame, len(4) | crc32(4) | data, and
// returns the offset just past it.
func WriteAtInFile(file *os.File, offset int64, data []byte) (int64, error) {
	header := NewBinaryBuffer(frameHeaderSize).
		WriteUint32(uint32(len(data))).
		WriteUint32(crc32.ChecksumIEEE(data)).
		GetBuffer()
	if _, err := file.WriteAt(header, offset); err != nil {
		return -1, errors.WithStack(err)
	}
	if _, err := file.WriteAt(data, offset+frameHeaderSize); err != nil {
		return -1, errors.WithStack(err)
	}
	return offset + frameHeaderSize + int64(len(data)), nil
}

// ReadAtInFile reads the frame at offset into payload. io.EOF means there is
// no frame at offset. A frame cut short by a crash is reported as
// io.ErrUnexpectedEOF so callers can truncate the tail.
func ReadAtInFile(file *os.File, offset int64, payload BinarySerializable) (int64, error) {
	header := make([]byte, frameHeaderSize)
	n, err := file.ReadAt(header, offset)
	if err == io.EOF && n == 0 {
		return -1, io.EOF
	}
	if err != nil && err != io.EOF {
		return -1, errors.WithStack(err)
	}
	if n < frameHeaderSize {
		return -1, io.ErrUnexpectedEOF
	}

	var dataSize, checksum uint32
	NewBinaryBufferFrom(&header, 0).ReadUint32(&dataSize).ReadUint32(&checksum)

	data := make([]byte, dataSize)
	n, err = file.ReadAt(data, offset+frameHeaderSize)
	if n < int(dataSize) {
		return -1, io.ErrUnexpectedEOF
	}
	if err != nil && err != io.EOF {
		return -1, errors.WithStack(err)
	}

	if crc32.ChecksumIEEE(data) != checksum {
		return -1, errors.Wrapf(ErrCorruptFrame, "offset %d", offset)
	}

	if err := payload.UnmarshalBinary(data); err != nil {
		return -1, err
	}

	return offset + frameHeaderSize + int64(dataSize), nil
}
