package chunk

import (
	"bytes"
	"encoding/binary"
	stdErrors "errors"
	"io"
	"testing"

	uaerrors "github.com/sanderd17/node-opcua/internal/errors"
	"github.com/sanderd17/node-opcua/internal/logger"
	"github.com/sanderd17/node-opcua/internal/metrics"
	"github.com/sanderd17/node-opcua/internal/opcua/binstream"
	"github.com/sanderd17/node-opcua/internal/opcua/secure"
)

// recordingSeq issues every third number so tests can tell generator values
// apart from a simple counter.
type recordingSeq struct {
	next   uint32
	issued []uint32
}

func (r *recordingSeq) Next() uint32 {
	r.next += 3
	r.issued = append(r.issued, r.next)
	return r.next
}

func newTestBuilder(t *testing.T, msgType secure.MessageType, opts Options, sink Sink) *Builder {
	t.Helper()
	if opts.SequenceNumbers == nil {
		opts.SequenceNumbers = secure.NewSequenceNumberGenerator()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	b, err := NewBuilder(msgType, opts, sink)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	return b
}

func payloadOf(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i)
	}
	return p
}

func mustWrite(t *testing.T, b *Builder, p []byte) {
	t.Helper()
	n, err := b.Write(p)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != len(p) {
		t.Fatalf("short write %d/%d", n, len(p))
	}
}

func TestBuilder_HeaderSize(t *testing.T) {
	cases := []struct {
		name    string
		msgType secure.MessageType
		header  secure.SecurityHeader
		want    int
	}{
		{"msg symmetric", secure.MessageTypeMessage, nil, 12 + 4},
		{"clo symmetric", secure.MessageTypeClose, nil, 12 + 4},
		{"opn asymmetric none", secure.MessageTypeOpen, nil, 12 + 59},
		{"default type is opn", "", nil, 12 + 59},
		{"explicit header", secure.MessageTypeOpen, &secure.AsymmetricSecurityHeader{
			SecurityPolicyURI: "urn:p", SenderCertificate: make([]byte, 100),
		}, 12 + (4 + 5) + (4 + 100) + 4},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b := newTestBuilder(t, c.msgType, Options{RequestID: 1, SecurityHeader: c.header}, &Collector{})
			if b.HeaderSize() != c.want {
				t.Fatalf("header size %d want %d", b.HeaderSize(), c.want)
			}
			if b.HeaderSize() != secure.MessageHeaderSize+b.SecurityHeader().BinaryStoreSize() {
				t.Fatalf("header size must be 12 + security header size")
			}
		})
	}
}

func TestBuilder_Defaults(t *testing.T) {
	b := newTestBuilder(t, "", Options{RequestID: 1}, &Collector{})
	if b.MessageType() != secure.MessageTypeOpen {
		t.Fatalf("default message type %q", b.MessageType())
	}
	if b.ChunkSize() != DefaultChunkSize || b.SecureChannelID() != 0 {
		t.Fatalf("unexpected defaults chunk=%d channel=%d", b.ChunkSize(), b.SecureChannelID())
	}
	if b.MessageID() == "" {
		t.Fatalf("expected generated message id")
	}
	if b.State() != StateActive {
		t.Fatalf("expected active state, got %s", b.State())
	}
}

// requestId=5, channel=10, chunkSize=64, MSG, 200 bytes, no security.
func TestBuilder_MultiChunkScenario(t *testing.T) {
	var col Collector
	seq := &recordingSeq{}
	b := newTestBuilder(t, secure.MessageTypeMessage, Options{
		ChunkSize: 64, SecureChannelID: 10, RequestID: 5, SequenceNumbers: seq,
	}, &col)

	if b.MaxBodySize() != 64-16-8 {
		t.Fatalf("max body %d", b.MaxBodySize())
	}
	payload := payloadOf(200)
	mustWrite(t, b, payload)
	if len(col.Chunks) != 4 {
		// the fifth full chunk is held back until End decides it is final
		t.Fatalf("expected 4 chunks emitted during write, got %d", len(col.Chunks))
	}
	if err := b.End(); err != nil {
		t.Fatalf("end: %v", err)
	}

	if len(col.Chunks) != 5 {
		t.Fatalf("expected 5 chunks, got %d", len(col.Chunks))
	}
	if col.Finished != 1 {
		t.Fatalf("finish called %d times", col.Finished)
	}
	var body []byte
	for i, c := range col.Chunks {
		f, err := Decode(c, DecodeOptions{})
		if err != nil {
			t.Fatalf("chunk %d decode: %v", i, err)
		}
		want := secure.ChunkIntermediate
		if i == len(col.Chunks)-1 {
			want = secure.ChunkFinal
		}
		if f.Header.ChunkType != want {
			t.Fatalf("chunk %d marker %c want %c", i, f.Header.ChunkType, want)
		}
		if col.Finals[i] != (i == len(col.Chunks)-1) {
			t.Fatalf("chunk %d final flag %v", i, col.Finals[i])
		}
		if f.Header.MessageType != secure.MessageTypeMessage || f.Header.SecureChannelID != 10 {
			t.Fatalf("chunk %d header %+v", i, f.Header)
		}
		if int(f.Header.MessageSize) != len(c) || len(c) != 64 {
			t.Fatalf("chunk %d size field %d len %d", i, f.Header.MessageSize, len(c))
		}
		if f.Sequence.RequestID != 5 || f.Sequence.SequenceNumber != seq.issued[i] {
			t.Fatalf("chunk %d sequence %+v want seq %d", i, f.Sequence, seq.issued[i])
		}
		body = append(body, f.Body...)
	}
	if !bytes.Equal(body, payload) {
		t.Fatalf("reassembled payload mismatch")
	}
	if b.State() != StateEnded {
		t.Fatalf("expected ended, got %s", b.State())
	}
}

func TestBuilder_WireLayout(t *testing.T) {
	var col Collector
	b := newTestBuilder(t, secure.MessageTypeMessage, Options{
		ChunkSize: 64, SecureChannelID: 0x0A0B0C0D, RequestID: 5,
		SecurityHeader: &secure.SymmetricSecurityHeader{TokenID: 2},
	}, &col)
	mustWrite(t, b, []byte("hi"))
	if err := b.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	want := []byte{
		'M', 'S', 'G', 'F',
		26, 0, 0, 0, // 12 + 4 + 8 + 2
		0x0D, 0x0C, 0x0B, 0x0A,
		2, 0, 0, 0, // token id
		1, 0, 0, 0, // sequence number
		5, 0, 0, 0, // request id
		'h', 'i',
	}
	if !bytes.Equal(col.Chunks[0], want) {
		t.Fatalf("wire mismatch\nexp=%x\ngot=%x", want, col.Chunks[0])
	}
}

func TestBuilder_AbortWithPendingBytes(t *testing.T) {
	var col Collector
	m := metrics.NewDefaultMetrics()
	b := newTestBuilder(t, secure.MessageTypeMessage, Options{
		ChunkSize: 64, SecureChannelID: 10, RequestID: 5, Metrics: m,
	}, &col)
	mustWrite(t, b, payloadOf(100))
	if err := b.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}

	markers := []secure.ChunkType{secure.ChunkIntermediate, secure.ChunkAbort, secure.ChunkAbort}
	finals := []bool{false, true, true}
	if len(col.Chunks) != len(markers) {
		t.Fatalf("expected %d chunks, got %d", len(markers), len(col.Chunks))
	}
	for i, c := range col.Chunks {
		h, err := ParseMessageHeader(c)
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		if h.ChunkType != markers[i] || col.Finals[i] != finals[i] {
			t.Fatalf("chunk %d marker %c final %v", i, h.ChunkType, col.Finals[i])
		}
	}
	if last := col.Chunks[2]; len(last) != 16+8+20 {
		t.Fatalf("last chunk len %d", len(last))
	}
	if col.Finished != 1 {
		t.Fatalf("finish called %d times", col.Finished)
	}
	if m.GetAbortCount() != 1 || m.GetChunkCount() != 3 || m.GetPayloadBytes() != 100 {
		t.Fatalf("metrics aborts=%d chunks=%d payload=%d", m.GetAbortCount(), m.GetChunkCount(), m.GetPayloadBytes())
	}
}

func TestBuilder_AbortWithoutWrites(t *testing.T) {
	var col Collector
	b := newTestBuilder(t, secure.MessageTypeClose, Options{RequestID: 9}, &col)
	if err := b.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if len(col.Chunks) != 1 || col.Chunks[0][3] != 'A' || !col.Finals[0] {
		t.Fatalf("expected a single abort chunk, got %d", len(col.Chunks))
	}
}

func TestBuilder_EndWithoutWrites(t *testing.T) {
	var col Collector
	var order []string
	sink := SinkFuncs{
		Chunk: func(c []byte, final bool) error {
			order = append(order, "chunk")
			return col.WriteChunk(c, final)
		},
		Finished: func() error {
			order = append(order, "finish")
			return nil
		},
	}
	b := newTestBuilder(t, secure.MessageTypeMessage, Options{RequestID: 1, SecureChannelID: 3}, sink)
	if err := b.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if len(order) != 2 || order[0] != "chunk" || order[1] != "finish" {
		t.Fatalf("unexpected event order %v", order)
	}
	f, err := Decode(col.Chunks[0], DecodeOptions{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Header.ChunkType != secure.ChunkFinal || len(f.Body) != 0 || f.Header.MessageSize != 24 {
		t.Fatalf("unexpected empty chunk %+v body=%d", f.Header, len(f.Body))
	}
}

func TestBuilder_ExactMultipleOfBody(t *testing.T) {
	var col Collector
	b := newTestBuilder(t, secure.MessageTypeMessage, Options{ChunkSize: 64, RequestID: 1}, &col)
	mustWrite(t, b, payloadOf(40))
	mustWrite(t, b, payloadOf(40))
	if err := b.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	// no trailing empty chunk: the second full chunk is the final one
	if len(col.Chunks) != 2 || col.Chunks[1][3] != 'F' || col.Chunks[0][3] != 'C' {
		t.Fatalf("expected C,F got %d chunks", len(col.Chunks))
	}
}

func TestBuilder_SmallWritesAccumulate(t *testing.T) {
	var col Collector
	b := newTestBuilder(t, secure.MessageTypeMessage, Options{ChunkSize: 64, RequestID: 1}, &col)
	payload := payloadOf(95)
	for i := range payload {
		mustWrite(t, b, payload[i:i+1])
	}
	mustWrite(t, b, nil)
	if err := b.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	var body []byte
	for _, c := range col.Chunks {
		f, err := Decode(c, DecodeOptions{})
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		body = append(body, f.Body...)
	}
	if len(col.Chunks) != 3 || !bytes.Equal(body, payload) {
		t.Fatalf("expected 3 chunks carrying the payload, got %d", len(col.Chunks))
	}
}

func TestBuilder_ConfigErrors(t *testing.T) {
	seq := secure.NewSequenceNumberGenerator()
	cases := []struct {
		name    string
		msgType secure.MessageType
		opts    Options
		sink    Sink
		field   string
	}{
		{"request id zero", secure.MessageTypeMessage, Options{RequestID: 0, SequenceNumbers: seq}, &Collector{}, "request_id"},
		{"no generator", secure.MessageTypeMessage, Options{RequestID: 1}, &Collector{}, "sequence_numbers"},
		{"bad message type", "MESSAGE", Options{RequestID: 1, SequenceNumbers: seq}, &Collector{}, "message_type"},
		{"nil sink", secure.MessageTypeMessage, Options{RequestID: 1, SequenceNumbers: seq}, nil, "sink"},
		{"negative chunk size", secure.MessageTypeMessage, Options{RequestID: 1, SequenceNumbers: seq, ChunkSize: -1}, &Collector{}, "chunk_size"},
		{"chunk too small", secure.MessageTypeMessage, Options{RequestID: 1, SequenceNumbers: seq, ChunkSize: 24}, &Collector{}, "chunk_size"},
		{"sign without func", secure.MessageTypeMessage, Options{RequestID: 1, SequenceNumbers: seq, SignatureLength: 32}, &Collector{}, "signing_func"},
		{"blocks without func", secure.MessageTypeMessage, Options{RequestID: 1, SequenceNumbers: seq, PlainBlockSize: 16, CipherBlockSize: 16}, &Collector{}, "encrypt_func"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b, err := NewBuilder(c.msgType, c.opts, c.sink)
			if b != nil {
				t.Fatalf("expected no builder on error")
			}
			var ce *uaerrors.ConfigError
			if !stdErrors.As(err, &ce) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if ce.Field != c.field {
				t.Fatalf("field %q want %q", ce.Field, c.field)
			}
		})
	}
}

func TestBuilder_LifecycleMisuse(t *testing.T) {
	var col Collector
	b := newTestBuilder(t, secure.MessageTypeMessage, Options{RequestID: 1}, &col)
	if err := b.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := b.Write([]byte{1}); !stdErrors.Is(err, uaerrors.ErrStreamEnded) || !uaerrors.IsStateError(err) {
		t.Fatalf("expected state error on write after end, got %v", err)
	}
	if err := b.End(); !uaerrors.IsStateError(err) {
		t.Fatalf("expected state error on second end, got %v", err)
	}
	if err := b.Abort(); !uaerrors.IsStateError(err) {
		t.Fatalf("expected state error on abort after end, got %v", err)
	}
	if len(col.Chunks) != 1 || col.Finished != 1 {
		t.Fatalf("misuse must not emit: chunks=%d finished=%d", len(col.Chunks), col.Finished)
	}
}

func TestBuilder_SharedGeneratorAcrossMessages(t *testing.T) {
	seq := secure.NewSequenceNumberGenerator()
	var a, b Collector
	ba := newTestBuilder(t, secure.MessageTypeMessage, Options{ChunkSize: 64, RequestID: 1, SequenceNumbers: seq}, &a)
	bb := newTestBuilder(t, secure.MessageTypeMessage, Options{ChunkSize: 64, RequestID: 2, SequenceNumbers: seq}, &b)

	mustWrite(t, ba, payloadOf(90))
	mustWrite(t, bb, payloadOf(90))
	if err := ba.End(); err != nil {
		t.Fatalf("end a: %v", err)
	}
	if err := bb.End(); err != nil {
		t.Fatalf("end b: %v", err)
	}

	seen := map[uint32]bool{}
	for _, col := range []*Collector{&a, &b} {
		var prev uint32
		for _, c := range col.Chunks {
			f, err := Decode(c, DecodeOptions{})
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			n := f.Sequence.SequenceNumber
			if n <= prev {
				t.Fatalf("sequence numbers not increasing: %d after %d", n, prev)
			}
			if seen[n] {
				t.Fatalf("sequence number %d reused across messages", n)
			}
			seen[n] = true
			prev = n
		}
	}
	if len(seen) != 6 || seq.Current() != 6 {
		t.Fatalf("expected 6 issued numbers, got %d (current %d)", len(seen), seq.Current())
	}
}

func TestBuilder_SinkErrorPropagates(t *testing.T) {
	boom := stdErrors.New("downstream closed")
	b := newTestBuilder(t, secure.MessageTypeMessage, Options{ChunkSize: 64, RequestID: 1}, SinkFuncs{
		Chunk: func([]byte, bool) error { return boom },
	})
	if _, err := b.Write(payloadOf(100)); !stdErrors.Is(err, boom) {
		t.Fatalf("expected sink error from write, got %v", err)
	}
}

func TestBuilder_FailedWriteEndsMessage(t *testing.T) {
	transient := stdErrors.New("transient")
	var delivered, finished int
	m := metrics.NewDefaultMetrics()
	b := newTestBuilder(t, secure.MessageTypeMessage, Options{ChunkSize: 64, RequestID: 1, Metrics: m}, SinkFuncs{
		Chunk: func([]byte, bool) error {
			delivered++
			if delivered == 1 {
				return transient
			}
			return nil
		},
		Finished: func() error { finished++; return nil },
	})

	// 40-byte bodies: the second seal pushes the first chunk into the failing sink
	n, err := b.Write(payloadOf(100))
	if !stdErrors.Is(err, transient) {
		t.Fatalf("expected sink error, got %v", err)
	}
	if n != 80 {
		t.Fatalf("n=%d want 80 bytes consumed before the failure", n)
	}
	if b.State() != StateEnded {
		t.Fatalf("expected ended after failure, got %s", b.State())
	}

	err = b.End()
	if !uaerrors.IsStateError(err) || !stdErrors.Is(err, uaerrors.ErrStreamEnded) || !stdErrors.Is(err, transient) {
		t.Fatalf("End after failed write: %v", err)
	}
	if _, err := b.Write([]byte{1}); !stdErrors.Is(err, transient) {
		t.Fatalf("Write after failed write: %v", err)
	}
	if err := b.Abort(); !uaerrors.IsStateError(err) {
		t.Fatalf("Abort after failed write: %v", err)
	}
	if delivered != 1 || finished != 0 {
		t.Fatalf("delivered=%d finished=%d, want 1 and 0", delivered, finished)
	}
	if m.GetMessageCount() != 0 || m.GetPayloadBytes() != 80 {
		t.Fatalf("messages=%d payload=%d", m.GetMessageCount(), m.GetPayloadBytes())
	}
}

// lyingHeader reports one size but encodes another.
type lyingHeader struct{}

func (lyingHeader) BinaryStoreSize() int             { return 6 }
func (lyingHeader) Encode(s *binstream.Stream) error { return s.WriteUInt32(1) }

func TestBuilder_HeaderInvariants(t *testing.T) {
	b := newTestBuilder(t, secure.MessageTypeMessage, Options{RequestID: 1}, &Collector{})
	if err := b.writeHeader(make([]byte, 10), true, 10); !uaerrors.IsInvariantError(err) {
		t.Fatalf("expected invariant error for short block, got %v", err)
	}

	lb := newTestBuilder(t, secure.MessageTypeMessage, Options{RequestID: 1, SecurityHeader: lyingHeader{}}, &Collector{})
	if err := lb.End(); !uaerrors.IsInvariantError(err) {
		t.Fatalf("expected invariant error for header size mismatch, got %v", err)
	}
}

func TestBuilder_IsIOWriter(t *testing.T) {
	var col Collector
	b := newTestBuilder(t, secure.MessageTypeMessage, Options{ChunkSize: 64, RequestID: 1}, &col)
	var w io.Writer = b
	if n, err := io.Copy(w, bytes.NewReader(payloadOf(130))); err != nil || n != 130 {
		t.Fatalf("copy: n=%d err=%v", n, err)
	}
	if err := b.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	total := 0
	for _, c := range col.Chunks {
		total += int(binary.LittleEndian.Uint32(c[4:8])) - 24
	}
	if total != 130 {
		t.Fatalf("payload bytes across chunks %d", total)
	}
}
