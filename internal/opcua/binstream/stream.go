// Package binstream implements the OPC UA binary encoding primitives
// (little-endian integers, String and ByteString) over a fixed byte slice.
package binstream

import (
	"encoding/binary"
	"fmt"
	"io"

	uaerrors "github.com/sanderd17/node-opcua/internal/errors"
)

// nullLength is the Int32 length used to encode a null String or ByteString.
const nullLength = -1

// Stream is a cursor over a caller-owned byte slice. It never grows the slice:
// writes past the end fail with an EncodingError wrapping io.ErrShortBuffer.
type Stream struct {
	buf    []byte
	length int // cursor
}

// New returns a stream positioned at the start of buf.
func New(buf []byte) *Stream { return &Stream{buf: buf} }

// Length returns the number of bytes written or read so far.
func (s *Stream) Length() int { return s.length }

// Remaining returns the number of bytes left before the end of the buffer.
func (s *Stream) Remaining() int { return len(s.buf) - s.length }

// Bytes returns the written (or consumed) prefix of the underlying buffer.
func (s *Stream) Bytes() []byte { return s.buf[:s.length] }

func (s *Stream) reserve(op string, n int) ([]byte, error) {
	if n < 0 || s.Remaining() < n {
		return nil, uaerrors.NewEncodingError(op, fmt.Errorf("need %d bytes, %d left: %w", n, s.Remaining(), io.ErrShortBuffer))
	}
	b := s.buf[s.length : s.length+n]
	s.length += n
	return b, nil
}

// WriteUInt8 writes a single byte.
func (s *Stream) WriteUInt8(v uint8) error {
	b, err := s.reserve("write.uint8", 1)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

// WriteUInt32 writes a little-endian uint32.
func (s *Stream) WriteUInt32(v uint32) error {
	b, err := s.reserve("write.uint32", 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

// WriteInt32 writes a little-endian int32.
func (s *Stream) WriteInt32(v int32) error {
	return s.WriteUInt32(uint32(v))
}

// WriteBytes copies p verbatim (no length prefix).
func (s *Stream) WriteBytes(p []byte) error {
	b, err := s.reserve("write.bytes", len(p))
	if err != nil {
		return err
	}
	copy(b, p)
	return nil
}

// WriteByteString writes an Int32 length followed by the bytes. A nil slice is
// encoded as the null ByteString (length -1); an empty non-nil slice as length 0.
func (s *Stream) WriteByteString(p []byte) error {
	if p == nil {
		return s.WriteInt32(nullLength)
	}
	if err := s.WriteInt32(int32(len(p))); err != nil {
		return err
	}
	return s.WriteBytes(p)
}

// WriteString writes an OPC UA String. The empty string is encoded as null.
func (s *Stream) WriteString(v string) error {
	if v == "" {
		return s.WriteInt32(nullLength)
	}
	if err := s.WriteInt32(int32(len(v))); err != nil {
		return err
	}
	b, err := s.reserve("write.string", len(v))
	if err != nil {
		return err
	}
	copy(b, v)
	return nil
}

// ReadUInt8 reads a single byte.
func (s *Stream) ReadUInt8() (uint8, error) {
	b, err := s.reserve("read.uint8", 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUInt32 reads a little-endian uint32.
func (s *Stream) ReadUInt32() (uint32, error) {
	b, err := s.reserve("read.uint32", 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadInt32 reads a little-endian int32.
func (s *Stream) ReadInt32() (int32, error) {
	v, err := s.ReadUInt32()
	return int32(v), err
}

// ReadBytes returns the next n bytes. The result aliases the underlying buffer.
func (s *Stream) ReadBytes(n int) ([]byte, error) {
	return s.reserve("read.bytes", n)
}

// ReadByteString reads a length-prefixed ByteString; null decodes to nil.
// The result is a copy.
func (s *Stream) ReadByteString() ([]byte, error) {
	n, err := s.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		if n != nullLength {
			return nil, uaerrors.NewEncodingError("read.bytestring.length", fmt.Errorf("negative length %d", n))
		}
		return nil, nil
	}
	b, err := s.reserve("read.bytestring", int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// ReadString reads an OPC UA String; null decodes to "".
func (s *Stream) ReadString() (string, error) {
	b, err := s.ReadByteString()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ByteStringSize returns the encoded size of a ByteString of the given payload.
func ByteStringSize(p []byte) int { return 4 + len(p) }

// StringSize returns the encoded size of a String.
func StringSize(v string) int { return 4 + len(v) }
