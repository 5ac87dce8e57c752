package secure

import (
	"github.com/sanderd17/node-opcua/internal/opcua/binstream"
)

// SecurityPolicyNone is the policy URI used when no security is applied.
const SecurityPolicyNone = "http://opcfoundation.org/UA/SecurityPolicy#None"

// SecurityHeader is the variant-specific block written right after the message
// header. Implementations report a fixed encoded size for their lifetime.
type SecurityHeader interface {
	BinaryStoreSize() int
	Encode(s *binstream.Stream) error
}

// AsymmetricSecurityHeader is used by OPN chunks.
type AsymmetricSecurityHeader struct {
	SecurityPolicyURI             string
	SenderCertificate             []byte
	ReceiverCertificateThumbprint []byte
}

// NewAsymmetricSecurityHeader returns a header for the None policy with null
// certificate and thumbprint.
func NewAsymmetricSecurityHeader() *AsymmetricSecurityHeader {
	return &AsymmetricSecurityHeader{SecurityPolicyURI: SecurityPolicyNone}
}

func (h *AsymmetricSecurityHeader) BinaryStoreSize() int {
	return binstream.StringSize(h.SecurityPolicyURI) +
		binstream.ByteStringSize(h.SenderCertificate) +
		binstream.ByteStringSize(h.ReceiverCertificateThumbprint)
}

func (h *AsymmetricSecurityHeader) Encode(s *binstream.Stream) error {
	if err := s.WriteString(h.SecurityPolicyURI); err != nil {
		return err
	}
	if err := s.WriteByteString(h.SenderCertificate); err != nil {
		return err
	}
	return s.WriteByteString(h.ReceiverCertificateThumbprint)
}

// DecodeAsymmetricSecurityHeader reads an asymmetric header from s.
func DecodeAsymmetricSecurityHeader(s *binstream.Stream) (*AsymmetricSecurityHeader, error) {
	uri, err := s.ReadString()
	if err != nil {
		return nil, err
	}
	cert, err := s.ReadByteString()
	if err != nil {
		return nil, err
	}
	thumb, err := s.ReadByteString()
	if err != nil {
		return nil, err
	}
	return &AsymmetricSecurityHeader{SecurityPolicyURI: uri, SenderCertificate: cert, ReceiverCertificateThumbprint: thumb}, nil
}

// SymmetricSecurityHeader is used by MSG and CLO chunks once a channel is open.
type SymmetricSecurityHeader struct {
	TokenID uint32
}

func (h *SymmetricSecurityHeader) BinaryStoreSize() int { return 4 }

func (h *SymmetricSecurityHeader) Encode(s *binstream.Stream) error {
	return s.WriteUInt32(h.TokenID)
}

// DecodeSymmetricSecurityHeader reads a symmetric header from s.
func DecodeSymmetricSecurityHeader(s *binstream.Stream) (*SymmetricSecurityHeader, error) {
	id, err := s.ReadUInt32()
	if err != nil {
		return nil, err
	}
	return &SymmetricSecurityHeader{TokenID: id}, nil
}

// SelectSecurityHeader returns a fresh header for the message type: asymmetric
// for OPN, symmetric for everything else (including unknown tags).
func SelectSecurityHeader(t MessageType) SecurityHeader {
	if t.IsOpen() {
		return NewAsymmetricSecurityHeader()
	}
	return &SymmetricSecurityHeader{}
}

// DecodeSecurityHeader reads the variant matching t.
func DecodeSecurityHeader(t MessageType, s *binstream.Stream) (SecurityHeader, error) {
	if t.IsOpen() {
		return DecodeAsymmetricSecurityHeader(s)
	}
	return DecodeSymmetricSecurityHeader(s)
}
