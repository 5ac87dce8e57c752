package chunk

// Chunk inspection.
// Parses the message header of framed chunks and, for unencrypted chunks,
// the security header, sequence header and body. Used by the inspect command
// and by tests to check what the Builder produced.

import (
	"encoding/binary"
	"fmt"
	"io"

	uaerrors "github.com/sanderd17/node-opcua/internal/errors"
	"github.com/sanderd17/node-opcua/internal/opcua/binstream"
	"github.com/sanderd17/node-opcua/internal/opcua/secure"
)

// MaxChunkSize bounds chunks accepted by ReadChunk (16 MiB).
const MaxChunkSize = 16 * 1024 * 1024

// MessageHeader is the fixed 12-byte prefix of every chunk.
type MessageHeader struct {
	MessageType     secure.MessageType
	ChunkType       secure.ChunkType
	MessageSize     uint32
	SecureChannelID uint32
}

// ParseMessageHeader decodes the first 12 bytes of b.
func ParseMessageHeader(b []byte) (MessageHeader, error) {
	if len(b) < secure.MessageHeaderSize {
		return MessageHeader{}, uaerrors.NewProtocolError("header.parse", fmt.Errorf("have %d bytes, need %d", len(b), secure.MessageHeaderSize))
	}
	h := MessageHeader{
		MessageType:     secure.MessageType(b[0:3]),
		ChunkType:       secure.ChunkType(b[3]),
		MessageSize:     binary.LittleEndian.Uint32(b[4:8]),
		SecureChannelID: binary.LittleEndian.Uint32(b[8:12]),
	}
	if !h.ChunkType.Valid() {
		return h, uaerrors.NewProtocolError("header.parse.chunk_type", fmt.Errorf("unexpected marker 0x%02x", b[3]))
	}
	if h.MessageSize < secure.MessageHeaderSize {
		return h, uaerrors.NewProtocolError("header.parse.size", fmt.Errorf("size %d smaller than header", h.MessageSize))
	}
	return h, nil
}

// ReadChunk reads exactly one chunk from r using its length field. A clean
// end of stream before the first byte returns io.EOF.
func ReadChunk(r io.Reader) ([]byte, error) {
	var hdr [secure.MessageHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, uaerrors.NewProtocolError("chunk.read.header", err)
	}
	h, err := ParseMessageHeader(hdr[:])
	if err != nil {
		return nil, err
	}
	if h.MessageSize > MaxChunkSize {
		return nil, uaerrors.NewProtocolError("chunk.read.size", fmt.Errorf("size %d exceeds %d", h.MessageSize, MaxChunkSize))
	}
	buf := make([]byte, h.MessageSize)
	copy(buf, hdr[:])
	if _, err := io.ReadFull(r, buf[secure.MessageHeaderSize:]); err != nil {
		return nil, uaerrors.NewProtocolError("chunk.read.body", err)
	}
	return buf, nil
}

// DecodeOptions tells Decode how much of the chunk is readable.
type DecodeOptions struct {
	Encrypted       bool // sequence header and body are ciphertext
	SignatureLength int  // trailing bytes to strip from the body
	Padded          bool // body ends with PaddingSize padding (decrypted chunks)
	ExtraPadding    bool // ExtraPaddingSize byte follows the padding
}

// Frame is a decoded chunk.
type Frame struct {
	Header         MessageHeader
	SecurityHeader secure.SecurityHeader
	Sequence       *secure.SequenceHeader // nil when encrypted
	Body           []byte                 // nil when encrypted; aliases the chunk
	Signature      []byte
}

// Decode parses chunk. With Encrypted set only the headers are returned.
func Decode(chunk []byte, opts DecodeOptions) (*Frame, error) {
	h, err := ParseMessageHeader(chunk)
	if err != nil {
		return nil, err
	}
	if int(h.MessageSize) != len(chunk) {
		return nil, uaerrors.NewProtocolError("chunk.decode.size", fmt.Errorf("header says %d bytes, chunk has %d", h.MessageSize, len(chunk)))
	}
	s := binstream.New(chunk[secure.MessageHeaderSize:])
	sh, err := secure.DecodeSecurityHeader(h.MessageType, s)
	if err != nil {
		return nil, uaerrors.NewProtocolError("chunk.decode.security_header", err)
	}
	f := &Frame{Header: h, SecurityHeader: sh}
	if opts.Encrypted {
		return f, nil
	}

	off := secure.MessageHeaderSize + s.Length()
	seq, err := secure.DecodeSequenceHeader(chunk[off:])
	if err != nil {
		return nil, uaerrors.NewProtocolError("chunk.decode.sequence_header", err)
	}
	f.Sequence = &seq
	off += secure.SequenceHeaderSize

	end := len(chunk) - opts.SignatureLength
	if end < off {
		return nil, uaerrors.NewProtocolError("chunk.decode.signature", fmt.Errorf("signature %d longer than body", opts.SignatureLength))
	}
	f.Signature = chunk[end:]
	if opts.Padded {
		end, err = stripPadding(chunk[off:end], opts.ExtraPadding)
		if err != nil {
			return nil, err
		}
		end += off
	}
	f.Body = chunk[off:end]
	return f, nil
}

// stripPadding returns the body length of b once padding is removed.
func stripPadding(b []byte, extra bool) (int, error) {
	n := len(b)
	if n == 0 {
		return 0, uaerrors.NewProtocolError("chunk.decode.padding", io.ErrUnexpectedEOF)
	}
	padding := 0
	if extra {
		if n < 2 {
			return 0, uaerrors.NewProtocolError("chunk.decode.padding", io.ErrUnexpectedEOF)
		}
		padding = int(b[n-1]) << 8
		n--
	}
	padding |= int(b[n-1])
	body := n - padding - 1
	if body < 0 {
		return 0, uaerrors.NewProtocolError("chunk.decode.padding", fmt.Errorf("padding %d exceeds body", padding))
	}
	for _, v := range b[body:n] {
		if v != byte(padding&0xFF) {
			return 0, uaerrors.NewProtocolError("chunk.decode.padding", fmt.Errorf("bad padding byte 0x%02x", v))
		}
	}
	return body, nil
}
