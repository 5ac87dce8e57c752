package metrics

import "sync/atomic"

// Metrics tracks chunk framing statistics.
// The chunk builder calls Increment* and collectors read via Get*.
type Metrics interface {
	IncrementMessages()
	IncrementChunks()
	IncrementAborts()
	IncrementPayloadBytes(n int64)
	IncrementBytesFramed(n int64)

	GetMessageCount() int64
	GetChunkCount() int64
	GetAbortCount() int64
	GetPayloadBytes() int64
	GetBytesFramed() int64
}

// DefaultMetrics implements the Metrics interface with atomic counters.
type DefaultMetrics struct {
	messages     int64
	chunks       int64
	aborts       int64
	payloadBytes int64
	bytesFramed  int64
}

// NewDefaultMetrics creates a new DefaultMetrics instance.
func NewDefaultMetrics() *DefaultMetrics { return &DefaultMetrics{} }

func (m *DefaultMetrics) IncrementMessages()            { atomic.AddInt64(&m.messages, 1) }
func (m *DefaultMetrics) IncrementChunks()              { atomic.AddInt64(&m.chunks, 1) }
func (m *DefaultMetrics) IncrementAborts()              { atomic.AddInt64(&m.aborts, 1) }
func (m *DefaultMetrics) IncrementPayloadBytes(n int64) { atomic.AddInt64(&m.payloadBytes, n) }
func (m *DefaultMetrics) IncrementBytesFramed(n int64)  { atomic.AddInt64(&m.bytesFramed, n) }

func (m *DefaultMetrics) GetMessageCount() int64 { return atomic.LoadInt64(&m.messages) }
func (m *DefaultMetrics) GetChunkCount() int64   { return atomic.LoadInt64(&m.chunks) }
func (m *DefaultMetrics) GetAbortCount() int64   { return atomic.LoadInt64(&m.aborts) }
func (m *DefaultMetrics) GetPayloadBytes() int64 { return atomic.LoadInt64(&m.payloadBytes) }
func (m *DefaultMetrics) GetBytesFramed() int64  { return atomic.LoadInt64(&m.bytesFramed) }

// Overhead returns the fraction of framed bytes that is not payload (headers,
// padding and signatures). It returns 0 before anything was framed.
func Overhead(m Metrics) float64 {
	framed := m.GetBytesFramed()
	if framed == 0 {
		return 0
	}
	return float64(framed-m.GetPayloadBytes()) / float64(framed)
}

// noop discards everything; used when the caller supplies no collector.
type noop struct{}

// Noop returns a Metrics implementation that records nothing.
func Noop() Metrics { return noop{} }

func (noop) IncrementMessages()          {}
func (noop) IncrementChunks()            {}
func (noop) IncrementAborts()            {}
func (noop) IncrementPayloadBytes(int64) {}
func (noop) IncrementBytesFramed(int64)  {}
func (noop) GetMessageCount() int64      { return 0 }
func (noop) GetChunkCount() int64        { return 0 }
func (noop) GetAbortCount() int64        { return 0 }
func (noop) GetPayloadBytes() int64      { return 0 }
func (noop) GetBytesFramed() int64       { return 0 }
