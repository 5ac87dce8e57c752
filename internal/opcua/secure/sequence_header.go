package secure

import (
	"encoding/binary"
	"fmt"

	uaerrors "github.com/sanderd17/node-opcua/internal/errors"
)

// SequenceHeaderSize is the encoded size of a sequence header.
const SequenceHeaderSize = 8

// SequenceHeader pairs the per-chunk sequence number with the request it belongs to.
// Wire order is SequenceNumber then RequestID.
type SequenceHeader struct {
	SequenceNumber uint32
	RequestID      uint32
}

// BinaryStoreSize always returns SequenceHeaderSize.
func (SequenceHeader) BinaryStoreSize() int { return SequenceHeaderSize }

// EncodeSequenceHeader writes the 8-byte header into dst, which must be exactly
// SequenceHeaderSize long.
func EncodeSequenceHeader(dst []byte, sequenceNumber, requestID uint32) error {
	if len(dst) != SequenceHeaderSize {
		return uaerrors.NewInvariantError("sequence_header.encode", fmt.Errorf("block is %d bytes, want %d", len(dst), SequenceHeaderSize))
	}
	binary.LittleEndian.PutUint32(dst[0:4], sequenceNumber)
	binary.LittleEndian.PutUint32(dst[4:8], requestID)
	return nil
}

// DecodeSequenceHeader parses the first SequenceHeaderSize bytes of b.
func DecodeSequenceHeader(b []byte) (SequenceHeader, error) {
	if len(b) < SequenceHeaderSize {
		return SequenceHeader{}, uaerrors.NewEncodingError("sequence_header.decode", fmt.Errorf("have %d bytes", len(b)))
	}
	return SequenceHeader{
		SequenceNumber: binary.LittleEndian.Uint32(b[0:4]),
		RequestID:      binary.LittleEndian.Uint32(b[4:8]),
	}, nil
}
