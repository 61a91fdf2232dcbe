package phy

import (
	"errors"
	"fmt"
)

// Frame wire format, header fields big-endian:
//
//	[Length:2] [CRC8:1] [Type:1] [Seq:1] [Src:1] [Dst:1] [Payload:0..128]
//
// The CRC8 covers the payload only.

const (
	// HeaderBytes is the fixed serialized header size.
	HeaderBytes = 7

	// MaxPayloadBytes is the acoustic MTU.
	MaxPayloadBytes = 128
)

// FrameType identifies the role of a frame on the air.
type FrameType uint8

const (
	FrameData FrameType = 0x01
	FrameAck  FrameType = 0x02
)

func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "data"
	case FrameAck:
		return "ack"
	default:
		return fmt.Sprintf("unknown(0x%02X)", uint8(t))
	}
}

// frameTypeFromByte validates a raw type field.
func frameTypeFromByte(b uint8) (FrameType, bool) {
	switch FrameType(b) {
	case FrameData, FrameAck:
		return FrameType(b), true
	default:
		return 0, false
	}
}

var (
	// ErrCRCMismatch reports a payload checksum failure. Frames failing the
	// check are dropped by the decoder and never delivered upward.
	ErrCRCMismatch = errors.New("phy: payload CRC mismatch")

	// ErrNotForUs reports a frame addressed to another node.
	ErrNotForUs = errors.New("phy: frame not addressed to this node")

	// ErrBadHeader reports a truncated or malformed header.
	ErrBadHeader = errors.New("phy: malformed frame header")

	// ErrPayloadTooLarge reports a payload above the acoustic MTU.
	ErrPayloadTooLarge = errors.New("phy: payload exceeds maximum frame size")
)

// Frame is the unit exchanged over the acoustic channel. A frame is built by
// the sender and treated as immutable once serialized.
type Frame struct {
	Type     FrameType
	Sequence uint8
	Src      uint8
	Dst      uint8
	Payload  []uint8
}

// NewDataFrame builds a data frame carrying payload.
func NewDataFrame(sequence, src, dst uint8, payload []uint8) Frame {
	return Frame{
		Type:     FrameData,
		Sequence: sequence,
		Src:      src,
		Dst:      dst,
		Payload:  payload,
	}
}

// NewAckFrame builds an acknowledgement for the given sequence number.
// Acks carry no payload.
func NewAckFrame(sequence, src, dst uint8) Frame {
	return Frame{
		Type:     FrameAck,
		Sequence: sequence,
		Src:      src,
		Dst:      dst,
	}
}

// ToBytes serializes the frame (without preamble).
func (f Frame) ToBytes() ([]uint8, error) {
	if len(f.Payload) > MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}

	out := make([]uint8, 0, HeaderBytes+len(f.Payload))
	length := uint16(len(f.Payload))
	out = append(out, uint8(length>>8), uint8(length&0xFF))
	out = append(out, CalculateCRC8(f.Payload))
	out = append(out, uint8(f.Type), f.Sequence, f.Src, f.Dst)
	out = append(out, f.Payload...)
	return out, nil
}

// ToBits serializes the frame to a bit vector, MSB first.
func (f Frame) ToBits() ([]uint8, error) {
	data, err := f.ToBytes()
	if err != nil {
		return nil, err
	}
	return BytesToBits(data), nil
}

// Header holds the parsed fixed header of a frame.
type Header struct {
	Length   uint16
	CRC8     uint8
	Type     FrameType
	Sequence uint8
	Src      uint8
	Dst      uint8
}

// TotalBits returns the serialized frame size in bits implied by the header.
func (h Header) TotalBits() int {
	return (HeaderBytes + int(h.Length)) * 8
}

// ParseHeader parses the fixed 7-byte header from raw bytes.
func ParseHeader(data []uint8) (Header, error) {
	if len(data) < HeaderBytes {
		return Header{}, ErrBadHeader
	}

	length := uint16(data[0])<<8 | uint16(data[1])
	if length > MaxPayloadBytes {
		return Header{}, ErrBadHeader
	}

	frameType, ok := frameTypeFromByte(data[3])
	if !ok {
		return Header{}, ErrBadHeader
	}

	return Header{
		Length:   length,
		CRC8:     data[2],
		Type:     frameType,
		Sequence: data[4],
		Src:      data[5],
		Dst:      data[6],
	}, nil
}

// ParseHeaderBits parses the fixed header from a bit vector.
func ParseHeaderBits(bits []uint8) (Header, error) {
	if len(bits) < HeaderBytes*8 {
		return Header{}, ErrBadHeader
	}
	return ParseHeader(BitsToBytes(bits[:HeaderBytes*8]))
}

// FromBytes deserializes a frame and verifies its payload CRC.
func FromBytes(data []uint8) (Frame, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return Frame{}, err
	}

	if len(data) < HeaderBytes+int(header.Length) {
		return Frame{}, ErrBadHeader
	}

	payload := make([]uint8, header.Length)
	copy(payload, data[HeaderBytes:HeaderBytes+int(header.Length)])

	if !CheckCRC8(payload, header.CRC8) {
		return Frame{}, ErrCRCMismatch
	}

	return Frame{
		Type:     header.Type,
		Sequence: header.Sequence,
		Src:      header.Src,
		Dst:      header.Dst,
		Payload:  payload,
	}, nil
}

// FromBits deserializes a frame from a bit vector and verifies its CRC.
func FromBits(bits []uint8) (Frame, error) {
	return FromBytes(BitsToBytes(bits))
}

// CheckDestination reports ErrNotForUs if the frame is addressed to another
// node. Filtering happens before any MAC duplicate tracking.
func (f Frame) CheckDestination(localAddr uint8) error {
	if f.Dst != localAddr {
		return ErrNotForUs
	}
	return nil
}
