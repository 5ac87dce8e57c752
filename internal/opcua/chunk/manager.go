package chunk

// Segmentation engine.
// Accumulates payload bytes into fixed-capacity chunk bodies and, per chunk,
// invokes the header / sequence header callbacks, pads, signs and encrypts.
// The last sealed chunk is held back until the next one is sealed (or End is
// called) so the final marker can be decided when the header is written.

import (
	"errors"
	"fmt"

	"github.com/sanderd17/node-opcua/internal/bufpool"
	uaerrors "github.com/sanderd17/node-opcua/internal/errors"
)

// ManagerOptions configures a Manager. Encryption is enabled when EncryptBuffer
// is set; signing when SignatureLength > 0.
type ManagerOptions struct {
	ChunkSize  int
	HeaderSize int
	// WriteHeader fills block (exactly HeaderSize bytes). totalLength is the
	// size of the finished chunk on the wire, header included.
	WriteHeader func(block []byte, isLast bool, totalLength int) error

	SequenceHeaderSize  int
	WriteSequenceHeader func(block []byte) error

	SignatureLength  int
	ComputeSignature func(data []byte) ([]byte, error)

	PlainBlockSize  int
	CipherBlockSize int
	EncryptBuffer   func(plain []byte) ([]byte, error)
}

// EmitFunc receives each finished chunk. The slice is owned by the receiver.
type EmitFunc func(chunk []byte, isLast bool) error

// Manager splits a byte stream into chunks. Not concurrency-safe; one producer
// per message.
type Manager struct {
	opts ManagerOptions
	emit EmitFunc

	dataOffset   int // HeaderSize + SequenceHeaderSize
	maxBodySize  int
	extraPadding int // 1 when the ExtraPaddingSize byte is present

	cur    []byte // chunk being filled
	cursor int    // body bytes in cur

	pending         []byte // sealed chunk not yet emitted
	pendingPlainLen int    // header+seq+body+padding of pending (signature excluded)

	ended bool
}

// NewManager validates opts and returns an engine that calls emit once per chunk.
func NewManager(opts ManagerOptions, emit EmitFunc) (*Manager, error) {
	if emit == nil {
		return nil, uaerrors.NewConfigError("emit", errors.New("nil emit callback"))
	}
	if opts.ChunkSize <= 0 {
		return nil, uaerrors.NewConfigError("chunk_size", fmt.Errorf("must be > 0, got %d", opts.ChunkSize))
	}
	if opts.HeaderSize < 0 || opts.SequenceHeaderSize < 0 || opts.SignatureLength < 0 {
		return nil, uaerrors.NewConfigError("sizes", errors.New("header, sequence header and signature sizes must be >= 0"))
	}
	if opts.HeaderSize > 0 && opts.WriteHeader == nil {
		return nil, uaerrors.NewConfigError("write_header", errors.New("header size set without callback"))
	}
	if opts.SequenceHeaderSize > 0 && opts.WriteSequenceHeader == nil {
		return nil, uaerrors.NewConfigError("write_sequence_header", errors.New("sequence header size set without callback"))
	}
	if opts.SignatureLength > 0 && opts.ComputeSignature == nil {
		return nil, uaerrors.NewConfigError("signing_func", errors.New("signature length set without signing function"))
	}
	if opts.EncryptBuffer != nil {
		if opts.PlainBlockSize <= 0 || opts.CipherBlockSize <= 0 {
			return nil, uaerrors.NewConfigError("block_size", errors.New("encryption requires plain and cipher block sizes"))
		}
		if opts.CipherBlockSize < opts.PlainBlockSize {
			return nil, uaerrors.NewConfigError("block_size", fmt.Errorf("cipher block %d smaller than plain block %d", opts.CipherBlockSize, opts.PlainBlockSize))
		}
	} else if opts.PlainBlockSize != 0 || opts.CipherBlockSize != 0 {
		return nil, uaerrors.NewConfigError("encrypt_func", errors.New("block sizes set without encryption function"))
	}

	m := &Manager{
		opts:       opts,
		emit:       emit,
		dataOffset: opts.HeaderSize + opts.SequenceHeaderSize,
	}
	if m.encrypts() {
		// ExtraPaddingSize is only sent for asymmetric keys larger than 2048 bits.
		if opts.CipherBlockSize > 256 {
			m.extraPadding = 1
		}
		blocks := (opts.ChunkSize - opts.HeaderSize) / opts.CipherBlockSize
		maxPlain := blocks * opts.PlainBlockSize
		m.maxBodySize = maxPlain - opts.SequenceHeaderSize - opts.SignatureLength - 1 - m.extraPadding
	} else {
		m.maxBodySize = opts.ChunkSize - m.dataOffset - opts.SignatureLength
	}
	if m.maxBodySize <= 0 {
		return nil, uaerrors.NewConfigError("chunk_size", fmt.Errorf("chunk size %d leaves no room for a body", opts.ChunkSize))
	}
	return m, nil
}

// MaxBodySize returns the number of payload bytes carried by a full chunk.
func (m *Manager) MaxBodySize() int { return m.maxBodySize }

func (m *Manager) encrypts() bool { return m.opts.EncryptBuffer != nil }

// Write appends p to the stream, emitting every chunk that becomes full
// except the most recent one. It returns the number of bytes taken into chunk
// bodies. After an error the engine is ended and the rest of p is dropped.
func (m *Manager) Write(p []byte) (int, error) {
	if m.ended {
		return 0, uaerrors.NewStateError("engine.write", "ended", uaerrors.ErrStreamEnded)
	}
	var consumed int
	for len(p) > 0 {
		if m.cur == nil {
			m.cur = bufpool.Get(m.opts.ChunkSize)
		}
		start := m.dataOffset + m.cursor
		n := copy(m.cur[start:m.dataOffset+m.maxBodySize], p)
		m.cursor += n
		consumed += n
		p = p[n:]
		if m.cursor == m.maxBodySize {
			if err := m.seal(); err != nil {
				m.ended = true
				return consumed, err
			}
		}
	}
	return consumed, nil
}

// End seals the partial chunk (or an empty one when nothing is pending) and
// emits it as the last chunk.
func (m *Manager) End() error {
	if m.ended {
		return uaerrors.NewStateError("engine.end", "ended", uaerrors.ErrStreamEnded)
	}
	m.ended = true
	if m.cursor > 0 || m.pending == nil {
		if m.cur == nil {
			m.cur = bufpool.Get(m.opts.ChunkSize)
		}
		if err := m.seal(); err != nil {
			return err
		}
	}
	return m.push(true)
}

// seal closes the current chunk body, adds padding and makes it the pending
// chunk, emitting the previously pending one as non-final.
func (m *Manager) seal() error {
	plainLen := m.dataOffset + m.cursor
	if m.encrypts() {
		plainLen = m.pad()
	}
	if err := m.push(false); err != nil {
		return err
	}
	m.pending, m.pendingPlainLen = m.cur, plainLen
	m.cur, m.cursor = nil, 0
	return nil
}

// pad writes PaddingSize, the padding bytes and (for large keys) ExtraPaddingSize
// after the body so that seq header + body + padding + signature fills whole
// plain blocks. It returns the plain length up to the signature.
func (m *Manager) pad() int {
	plain := m.opts.PlainBlockSize
	used := m.opts.SequenceHeaderSize + m.cursor + 1 + m.extraPadding + m.opts.SignatureLength
	padding := (plain - used%plain) % plain

	off := m.dataOffset + m.cursor
	b := byte(padding & 0xFF)
	for i := 0; i <= padding; i++ {
		m.cur[off+i] = b
	}
	off += padding + 1
	if m.extraPadding == 1 {
		m.cur[off] = byte(padding >> 8)
		off++
	}
	return off
}

func (m *Manager) totalLength(plainLen int) int {
	signed := plainLen + m.opts.SignatureLength
	if !m.encrypts() {
		return signed
	}
	blocks := (signed - m.opts.HeaderSize) / m.opts.PlainBlockSize
	return m.opts.HeaderSize + blocks*m.opts.CipherBlockSize
}

// push finalizes and emits the pending chunk, if any.
func (m *Manager) push(isLast bool) error {
	if m.pending == nil {
		return nil
	}
	buf, plainLen := m.pending, m.pendingPlainLen
	m.pending, m.pendingPlainLen = nil, 0
	defer bufpool.Put(buf)

	total := m.totalLength(plainLen)
	hs := m.opts.HeaderSize
	if hs > 0 {
		if err := m.opts.WriteHeader(buf[:hs], isLast, total); err != nil {
			return err
		}
	}
	if m.opts.SequenceHeaderSize > 0 {
		if err := m.opts.WriteSequenceHeader(buf[hs:m.dataOffset]); err != nil {
			return err
		}
	}

	signed := plainLen + m.opts.SignatureLength
	if m.opts.SignatureLength > 0 {
		sig, err := m.opts.ComputeSignature(buf[:plainLen])
		if err != nil {
			return uaerrors.NewChunkError("engine.sign", err)
		}
		if len(sig) != m.opts.SignatureLength {
			return uaerrors.NewInvariantError("engine.sign", fmt.Errorf("signature is %d bytes, want %d", len(sig), m.opts.SignatureLength))
		}
		copy(buf[plainLen:signed], sig)
	}

	out := make([]byte, total)
	copy(out, buf[:hs])
	if m.encrypts() {
		enc, err := m.opts.EncryptBuffer(buf[hs:signed])
		if err != nil {
			return uaerrors.NewChunkError("engine.encrypt", err)
		}
		if len(enc) != total-hs {
			return uaerrors.NewInvariantError("engine.encrypt", fmt.Errorf("encrypted %d bytes, want %d", len(enc), total-hs))
		}
		copy(out[hs:], enc)
	} else {
		copy(out[hs:], buf[hs:signed])
	}
	return m.emit(out, isLast)
}
