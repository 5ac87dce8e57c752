package chunk

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	uaerrors "github.com/sanderd17/node-opcua/internal/errors"
	"github.com/sanderd17/node-opcua/internal/logger"
	"github.com/sanderd17/node-opcua/internal/metrics"
	"github.com/sanderd17/node-opcua/internal/opcua/binstream"
	"github.com/sanderd17/node-opcua/internal/opcua/secure"
)

// DefaultChunkSize is used when Options.ChunkSize is zero.
const DefaultChunkSize = 131072

// Options configures a Builder.
//
// Defaults: ChunkSize 131072, SecureChannelID 0, SecurityHeader selected from
// the message type, no signing, no encryption, no metrics, the global logger,
// and a random MessageID.
type Options struct {
	ChunkSize       int
	SecureChannelID uint32
	RequestID       uint32 // required, > 0

	SignatureLength int
	Sign            func(data []byte) ([]byte, error)

	PlainBlockSize  int
	CipherBlockSize int
	Encrypt         func(plain []byte) ([]byte, error)

	SecurityHeader  secure.SecurityHeader
	SequenceNumbers secure.SequenceNumberGenerator // required, shared per channel

	Metrics   metrics.Metrics
	Logger    *slog.Logger
	MessageID string // correlation id for logs and dumps
}

// State is the lifecycle state of a Builder.
type State int

const (
	StateActive   State = iota // accepting writes
	StateAborting              // abort requested, final flush in progress
	StateEnded                 // terminated; every call fails
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateAborting:
		return "aborting"
	case StateEnded:
		return "ended"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Builder frames one outgoing message into secure conversation chunks.
// Not concurrency-safe: Write, Abort and End must be called from a single
// goroutine. Only the sequence number generator is shared between builders.
type Builder struct {
	msgType        secure.MessageType
	channelID      uint32
	requestID      uint32
	chunkSize      int
	headerSize     int
	securityHeader secure.SecurityHeader
	seq            secure.SequenceNumberGenerator

	engine *Manager
	sink   Sink
	state  State

	messageID string
	metrics   metrics.Metrics
	log       *slog.Logger

	// per-chunk bookkeeping filled by the header callbacks
	chunkType secure.ChunkType
	lastSeq   uint32
	emitted   int

	failed error // engine or sink error that ended the message early
}

// NewBuilder validates opts and wires the header callbacks into a new
// segmentation engine. An empty msgType means OPN. On error no builder is
// returned and nothing has been emitted.
func NewBuilder(msgType secure.MessageType, opts Options, sink Sink) (*Builder, error) {
	if msgType == "" {
		msgType = secure.MessageTypeOpen
	}
	if !msgType.Valid() {
		return nil, uaerrors.NewConfigError("message_type", fmt.Errorf("%q is not a 3-byte tag", string(msgType)))
	}
	if sink == nil {
		return nil, uaerrors.NewConfigError("sink", errors.New("nil sink"))
	}
	if opts.RequestID == 0 {
		return nil, uaerrors.NewConfigError("request_id", errors.New("must be > 0"))
	}
	if opts.SequenceNumbers == nil {
		return nil, uaerrors.NewConfigError("sequence_numbers", errors.New("nil sequence number generator"))
	}
	if opts.ChunkSize < 0 {
		return nil, uaerrors.NewConfigError("chunk_size", fmt.Errorf("must be >= 0, got %d", opts.ChunkSize))
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.SecurityHeader == nil {
		opts.SecurityHeader = secure.SelectSecurityHeader(msgType)
	}
	if n := (secure.SequenceHeader{}).BinaryStoreSize(); n != secure.SequenceHeaderSize {
		return nil, uaerrors.NewConfigError("sequence_header", fmt.Errorf("encodes to %d bytes, want %d", n, secure.SequenceHeaderSize))
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop()
	}
	if opts.MessageID == "" {
		opts.MessageID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Logger()
	}

	b := &Builder{
		msgType:        msgType,
		channelID:      opts.SecureChannelID,
		requestID:      opts.RequestID,
		chunkSize:      opts.ChunkSize,
		headerSize:     secure.MessageHeaderSize + opts.SecurityHeader.BinaryStoreSize(),
		securityHeader: opts.SecurityHeader,
		seq:            opts.SequenceNumbers,
		sink:           sink,
		messageID:      opts.MessageID,
		metrics:        opts.Metrics,
		log: logger.WithMessage(
			logger.WithChannel(opts.Logger, opts.SecureChannelID, opts.RequestID),
			opts.MessageID, string(msgType)),
	}

	engine, err := NewManager(ManagerOptions{
		ChunkSize:           opts.ChunkSize,
		HeaderSize:          b.headerSize,
		WriteHeader:         b.writeHeader,
		SequenceHeaderSize:  secure.SequenceHeaderSize,
		WriteSequenceHeader: b.writeSequenceHeader,
		SignatureLength:     opts.SignatureLength,
		ComputeSignature:    opts.Sign,
		PlainBlockSize:      opts.PlainBlockSize,
		CipherBlockSize:     opts.CipherBlockSize,
		EncryptBuffer:       opts.Encrypt,
	}, b.relay)
	if err != nil {
		return nil, err
	}
	b.engine = engine
	return b, nil
}

// HeaderSize returns the message header plus security header size.
func (b *Builder) HeaderSize() int { return b.headerSize }

// MaxBodySize returns the payload bytes carried by one full chunk.
func (b *Builder) MaxBodySize() int { return b.engine.MaxBodySize() }

func (b *Builder) MessageType() secure.MessageType       { return b.msgType }
func (b *Builder) ChunkSize() int                        { return b.chunkSize }
func (b *Builder) RequestID() uint32                     { return b.requestID }
func (b *Builder) SecureChannelID() uint32               { return b.channelID }
func (b *Builder) SecurityHeader() secure.SecurityHeader { return b.securityHeader }
func (b *Builder) MessageID() string                     { return b.messageID }
func (b *Builder) State() State                          { return b.state }

// Write feeds payload bytes. Zero or more chunks may be emitted before it
// returns. It implements io.Writer: n counts the bytes taken into chunks. A
// failed Write ends the builder, and later calls report the failure.
func (b *Builder) Write(p []byte) (int, error) {
	if b.state != StateActive {
		return 0, b.misuse("write")
	}
	n, err := b.engine.Write(p)
	b.metrics.IncrementPayloadBytes(int64(n))
	if err != nil {
		b.fail(err)
		return n, err
	}
	return n, nil
}

// Abort flushes what is buffered as the last chunk(s) tagged 'A' and ends
// the message.
func (b *Builder) Abort() error {
	if b.state != StateActive {
		return b.misuse("abort")
	}
	b.state = StateAborting
	b.metrics.IncrementAborts()
	b.log.Info("aborting message", "chunks_emitted", b.emitted)
	return b.end()
}

// End flushes the buffered payload as the final chunk and calls Finish on the
// sink. A message with no payload still produces one (empty) final chunk.
func (b *Builder) End() error {
	if b.state != StateActive {
		return b.misuse("end")
	}
	return b.end()
}

func (b *Builder) end() error {
	if err := b.engine.End(); err != nil {
		b.fail(err)
		return err
	}
	b.state = StateEnded
	b.metrics.IncrementMessages()
	b.log.Debug("message framed", "chunks", b.emitted)
	return b.sink.Finish()
}

// fail ends the builder without finishing the sink. The message is incomplete
// and must not be reported as framed.
func (b *Builder) fail(err error) {
	b.state = StateEnded
	b.failed = err
	b.log.Warn("message framing failed", "chunks_emitted", b.emitted, "error", err)
}

// misuse is the error for a call made after the builder ended.
func (b *Builder) misuse(op string) error {
	if b.failed != nil {
		return uaerrors.NewStateError(op, b.state.String(), fmt.Errorf("%w: %w", uaerrors.ErrStreamEnded, b.failed))
	}
	return uaerrors.NewStateError(op, b.state.String(), uaerrors.ErrStreamEnded)
}

// writeHeader is the engine's header callback: message type, chunk type,
// total length, channel id, then the security header.
func (b *Builder) writeHeader(block []byte, isLast bool, totalLength int) error {
	if len(block) != b.headerSize {
		return uaerrors.NewInvariantError("header.block", fmt.Errorf("block is %d bytes, want %d", len(block), b.headerSize))
	}
	b.chunkType = secure.ChunkTypeFor(isLast, b.state == StateAborting)

	s := binstream.New(block)
	if err := s.WriteBytes([]byte(b.msgType)); err != nil {
		return uaerrors.NewInvariantError("header.message_type", err)
	}
	if err := s.WriteUInt8(byte(b.chunkType)); err != nil {
		return uaerrors.NewInvariantError("header.chunk_type", err)
	}
	if err := s.WriteUInt32(uint32(totalLength)); err != nil {
		return uaerrors.NewInvariantError("header.length", err)
	}
	if err := s.WriteUInt32(b.channelID); err != nil {
		return uaerrors.NewInvariantError("header.channel_id", err)
	}
	if err := b.securityHeader.Encode(s); err != nil {
		return uaerrors.NewInvariantError("header.security", err)
	}
	if s.Length() != b.headerSize {
		return uaerrors.NewInvariantError("header.size", fmt.Errorf("wrote %d bytes, want %d", s.Length(), b.headerSize))
	}
	return nil
}

// writeSequenceHeader is the single place sequence numbers are drawn.
func (b *Builder) writeSequenceHeader(block []byte) error {
	b.lastSeq = b.seq.Next()
	return secure.EncodeSequenceHeader(block, b.lastSeq, b.requestID)
}

// relay forwards an engine chunk to the sink. After an abort every chunk is
// reported as final.
func (b *Builder) relay(chunk []byte, isLast bool) error {
	final := isLast || b.state == StateAborting
	b.metrics.IncrementChunks()
	b.metrics.IncrementBytesFramed(int64(len(chunk)))
	logger.WithChunk(b.log, b.emitted, byte(b.chunkType), b.lastSeq).Debug("chunk emitted", "size", len(chunk), "final", final)
	b.emitted++
	return b.sink.WriteChunk(chunk, final)
}
