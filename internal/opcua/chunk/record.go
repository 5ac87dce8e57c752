package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Record dump framing: 4-byte big-endian length prefix followed by a msgpack
// encoded Record.
const (
	RecordLengthPrefixSize = 4
	MaxRecordSize          = MaxChunkSize + 1024
)

// Record is one framed chunk plus the metadata the framer knew when emitting it.
type Record struct {
	MessageID      string `msgpack:"message_id"`
	Index          int    `msgpack:"index"`
	MessageType    string `msgpack:"message_type"`
	ChunkType      string `msgpack:"chunk_type"`
	Final          bool   `msgpack:"final"`
	SequenceNumber uint32 `msgpack:"sequence_number,omitempty"`
	RequestID      uint32 `msgpack:"request_id"`
	Bytes          []byte `msgpack:"bytes"`
}

// RecordErrorKind classifies record decoding errors.
type RecordErrorKind int

const (
	// RecordErrorPartial indicates a truncated record.
	RecordErrorPartial RecordErrorKind = iota
	// RecordErrorTooLarge indicates a record exceeding MaxRecordSize.
	RecordErrorTooLarge
	// RecordErrorDecode indicates a msgpack decoding error.
	RecordErrorDecode
)

// RecordError represents a record decoding error.
type RecordError struct {
	Kind RecordErrorKind
	Msg  string
	Err  error
}

func (e *RecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *RecordError) Unwrap() error { return e.Err }

// IsFatalRecordError returns true for partial and oversized records.
func IsFatalRecordError(err error) bool {
	var re *RecordError
	if errors.As(err, &re) {
		return re.Kind == RecordErrorPartial || re.Kind == RecordErrorTooLarge
	}
	return false
}

// RecordEncoder writes length-prefixed msgpack records.
type RecordEncoder struct {
	w io.Writer
}

// NewRecordEncoder creates an encoder writing to w.
func NewRecordEncoder(w io.Writer) *RecordEncoder { return &RecordEncoder{w: w} }

// Encode writes rec as a single frame.
func (e *RecordEncoder) Encode(rec *Record) error {
	payload, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("record encode: %w", err)
	}
	if len(payload) > MaxRecordSize {
		return &RecordError{Kind: RecordErrorTooLarge, Msg: fmt.Sprintf("record size %d exceeds maximum %d", len(payload), MaxRecordSize)}
	}
	buf := make([]byte, RecordLengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[RecordLengthPrefixSize:], payload)
	_, err = e.w.Write(buf)
	return err
}

// RecordDecoder reads records written by RecordEncoder.
type RecordDecoder struct {
	r io.Reader
}

// NewRecordDecoder creates a decoder reading from r.
func NewRecordDecoder(r io.Reader) *RecordDecoder { return &RecordDecoder{r: r} }

// Decode reads the next record. io.EOF means the stream ended cleanly.
func (d *RecordDecoder) Decode() (*Record, error) {
	var lengthBuf [RecordLengthPrefixSize]byte
	if _, err := io.ReadFull(d.r, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &RecordError{Kind: RecordErrorPartial, Msg: "failed to read length prefix", Err: err}
	}
	size := binary.BigEndian.Uint32(lengthBuf[:])
	if size > MaxRecordSize {
		return nil, &RecordError{Kind: RecordErrorTooLarge, Msg: fmt.Sprintf("record size %d exceeds maximum %d", size, MaxRecordSize)}
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, &RecordError{Kind: RecordErrorPartial, Msg: "failed to read record", Err: err}
	}
	var rec Record
	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return nil, &RecordError{Kind: RecordErrorDecode, Msg: "failed to decode record", Err: err}
	}
	return &rec, nil
}

// RecordSink is a Sink that dumps every chunk of one message as a Record.
// Sequence numbers are read back from the chunk unless Encrypted is set.
type RecordSink struct {
	Enc       *RecordEncoder
	MessageID string
	RequestID uint32
	Encrypted bool

	index int
}

func (s *RecordSink) WriteChunk(chunk []byte, final bool) error {
	f, err := Decode(chunk, DecodeOptions{Encrypted: true})
	if err != nil {
		return err
	}
	rec := &Record{
		MessageID:   s.MessageID,
		Index:       s.index,
		MessageType: string(f.Header.MessageType),
		ChunkType:   string(rune(f.Header.ChunkType)),
		Final:       final,
		RequestID:   s.RequestID,
		Bytes:       chunk,
	}
	if !s.Encrypted {
		if full, err := Decode(chunk, DecodeOptions{}); err == nil {
			rec.SequenceNumber = full.Sequence.SequenceNumber
		}
	}
	s.index++
	return s.Enc.Encode(rec)
}

func (s *RecordSink) Finish() error { return nil }
