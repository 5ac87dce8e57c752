package chunk

import (
	"io"

	uaerrors "github.com/sanderd17/node-opcua/internal/errors"
)

// Sink receives the chunks of one message in emission order, then Finish once.
// Both methods are called synchronously from Builder.Write / End / Abort.
type Sink interface {
	WriteChunk(chunk []byte, final bool) error
	Finish() error
}

// SinkFuncs adapts plain functions to Sink. Nil fields are no-ops.
type SinkFuncs struct {
	Chunk    func(chunk []byte, final bool) error
	Finished func() error
}

func (s SinkFuncs) WriteChunk(chunk []byte, final bool) error {
	if s.Chunk == nil {
		return nil
	}
	return s.Chunk(chunk, final)
}

func (s SinkFuncs) Finish() error {
	if s.Finished == nil {
		return nil
	}
	return s.Finished()
}

// Collector keeps every chunk in memory.
type Collector struct {
	Chunks   [][]byte
	Finals   []bool
	Finished int // number of Finish calls
}

func (c *Collector) WriteChunk(chunk []byte, final bool) error {
	c.Chunks = append(c.Chunks, chunk)
	c.Finals = append(c.Finals, final)
	return nil
}

func (c *Collector) Finish() error {
	c.Finished++
	return nil
}

// WriterSink writes raw chunks back to back to an io.Writer, one Write per chunk.
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) WriteChunk(chunk []byte, _ bool) error {
	if _, err := s.W.Write(chunk); err != nil {
		return uaerrors.NewChunkError("sink.write", err)
	}
	return nil
}

func (s WriterSink) Finish() error { return nil }
