// Package secure holds the secure conversation header structures that sit
// between the 12-byte message header and the chunk body: the asymmetric and
// symmetric security headers and the sequence header, plus the sequence
// number generator shared by all messages of one channel.
package secure

// MessageType is the 3-byte ASCII tag at the start of every chunk.
type MessageType string

const (
	MessageTypeMessage MessageType = "MSG" // service request / response
	MessageTypeOpen    MessageType = "OPN" // OpenSecureChannel
	MessageTypeClose   MessageType = "CLO" // CloseSecureChannel
)

// MessageHeaderSize is the fixed size of type(3) + chunk type(1) + size(4) + channel id(4).
const MessageHeaderSize = 12

// Valid reports whether t is exactly three bytes long. Unknown tags are not
// rejected here; SelectSecurityHeader treats them as symmetric.
func (t MessageType) Valid() bool { return len(t) == 3 }

// IsOpen reports whether t opens a secure channel (asymmetric security).
func (t MessageType) IsOpen() bool { return t == MessageTypeOpen }

// ChunkType is the one-byte final marker at offset 3.
type ChunkType byte

const (
	ChunkIntermediate ChunkType = 'C'
	ChunkFinal        ChunkType = 'F'
	ChunkAbort        ChunkType = 'A'
)

// Valid reports whether c is one of C, F or A.
func (c ChunkType) Valid() bool {
	return c == ChunkIntermediate || c == ChunkFinal || c == ChunkAbort
}

// IsLast reports whether the chunk terminates its message.
func (c ChunkType) IsLast() bool { return c == ChunkFinal || c == ChunkAbort }

// ChunkTypeFor derives the marker for a chunk. Abort wins over the final flag.
func ChunkTypeFor(final, aborted bool) ChunkType {
	switch {
	case aborted:
		return ChunkAbort
	case final:
		return ChunkFinal
	default:
		return ChunkIntermediate
	}
}
