package secure

import "sync/atomic"

// MaxSequenceNumber is the largest value issued before wrapping (UInt32 max - 1024).
const MaxSequenceNumber uint32 = 4294966271

// SequenceNumberGenerator issues sequence numbers for one secure channel.
// Implementations must be safe for concurrent use: every message in flight on
// a channel draws from the same generator.
type SequenceNumberGenerator interface {
	Next() uint32
}

// Sequence is the default generator. It starts at 1 and, after issuing
// MaxSequenceNumber, restarts at 1.
type Sequence struct {
	last atomic.Uint32
}

// NewSequenceNumberGenerator returns a generator whose first value is 1.
func NewSequenceNumberGenerator() *Sequence { return &Sequence{} }

// NewSequenceNumberGeneratorFrom returns a generator whose first value follows start.
func NewSequenceNumberGeneratorFrom(start uint32) *Sequence {
	s := &Sequence{}
	s.last.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequence) Next() uint32 {
	for {
		cur := s.last.Load()
		next := cur + 1
		if cur >= MaxSequenceNumber {
			next = 1
		}
		if s.last.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// Current returns the last issued value (0 before the first call).
func (s *Sequence) Current() uint32 { return s.last.Load() }
