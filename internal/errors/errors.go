package errors

import (
	stdErrors "errors"
	"fmt"
)

// ErrStreamEnded is returned when a chunk stream is used after it was ended or aborted.
var ErrStreamEnded = stdErrors.New("chunk stream already ended")

// protocolMarker is implemented by all protocol-layer error types so we can classify them.
type protocolMarker interface {
	error
	isProtocol()
}

// ProtocolError is a generic secure conversation protocol error (validation, framing, etc).
type ProtocolError struct {
	Op  string // high-level operation (e.g. "chunk.parse", "header.decode")
	Err error  // underlying cause (may be nil)
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("protocol error: %s", e.Op)
	}
	return fmt.Sprintf("protocol error: %s: %v", e.Op, e.Err)
}
func (e *ProtocolError) Unwrap() error { return e.Err }
func (e *ProtocolError) isProtocol()   {}

// ChunkError indicates a chunk segmentation / serialization violation.
type ChunkError struct {
	Op  string
	Err error
}

func (e *ChunkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("chunk error: %s", e.Op)
	}
	return fmt.Sprintf("chunk error: %s: %v", e.Op, e.Err)
}
func (e *ChunkError) Unwrap() error { return e.Err }
func (e *ChunkError) isProtocol()   {}

// EncodingError indicates a failure in the binary encoding layer (buffer overflow, short read).
type EncodingError struct {
	Op  string
	Err error
}

func (e *EncodingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("encoding error: %s", e.Op)
	}
	return fmt.Sprintf("encoding error: %s: %v", e.Op, e.Err)
}
func (e *EncodingError) Unwrap() error { return e.Err }
func (e *EncodingError) isProtocol()   {}

// SecurityError indicates a signing, encryption or key derivation failure.
type SecurityError struct {
	Op  string
	Err error
}

func (e *SecurityError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("security error: %s", e.Op)
	}
	return fmt.Sprintf("security error: %s: %v", e.Op, e.Err)
}
func (e *SecurityError) Unwrap() error { return e.Err }
func (e *SecurityError) isProtocol()   {}

// ConfigError indicates invalid construction-time configuration. No partially
// built object is ever returned alongside it.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("config error: %s", e.Field)
	}
	return fmt.Sprintf("config error: %s: %v", e.Field, e.Err)
}
func (e *ConfigError) Unwrap() error { return e.Err }

// InvariantError reports an internal size-accounting defect (e.g. a header block
// of the wrong size). It is never expected in correct operation.
type InvariantError struct {
	Op  string
	Err error
}

func (e *InvariantError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invariant violated: %s", e.Op)
	}
	return fmt.Sprintf("invariant violated: %s: %v", e.Op, e.Err)
}
func (e *InvariantError) Unwrap() error { return e.Err }

// StateError indicates a lifecycle operation invoked in the wrong state.
type StateError struct {
	Op    string
	State string
	Err   error
}

func (e *StateError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("state error: %s in state %s", e.Op, e.State)
	}
	return fmt.Sprintf("state error: %s in state %s: %v", e.Op, e.State, e.Err)
}
func (e *StateError) Unwrap() error { return e.Err }

// IsProtocolError returns true if the error chain contains any protocol-layer
// error (ProtocolError, ChunkError, EncodingError, SecurityError).
func IsProtocolError(err error) bool {
	if err == nil {
		return false
	}
	var pm protocolMarker
	return stdErrors.As(err, &pm)
}

// IsConfigError returns true if err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return stdErrors.As(err, &ce)
}

// IsInvariantError returns true if err is (or wraps) an InvariantError.
func IsInvariantError(err error) bool {
	var ie *InvariantError
	return stdErrors.As(err, &ie)
}

// IsStateError returns true if err is (or wraps) a StateError.
func IsStateError(err error) bool {
	var se *StateError
	return stdErrors.As(err, &se)
}

// Constructors (encourage contextual wrapping with %w when used by callers).
func NewProtocolError(op string, cause error) error  { return &ProtocolError{Op: op, Err: cause} }
func NewChunkError(op string, cause error) error     { return &ChunkError{Op: op, Err: cause} }
func NewEncodingError(op string, cause error) error  { return &EncodingError{Op: op, Err: cause} }
func NewSecurityError(op string, cause error) error  { return &SecurityError{Op: op, Err: cause} }
func NewConfigError(field string, cause error) error { return &ConfigError{Field: field, Err: cause} }
func NewInvariantError(op string, cause error) error { return &InvariantError{Op: op, Err: cause} }
func NewStateError(op, state string, cause error) error {
	return &StateError{Op: op, State: state, Err: cause}
}

// Usage pattern example:
//  if err := s.WriteUInt32(v); err != nil {
//      return NewChunkError("header.write.length", err)
//  }
// Keep layering context with fmt.Errorf("...: %w", err).
