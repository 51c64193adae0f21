package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// FrameHeaderSize is the length prefix in front of every frame.
	FrameHeaderSize = 4
	// MaxFrameSize bounds a declared payload length. Receivers must
	// reject and drop the session on anything larger; a corrupt or
	// hostile length field must not cause unbounded buffering.
	MaxFrameSize = 10 * 1024 * 1024

	// DefaultPort is the controller listen port.
	DefaultPort = 5555
)

// EncodeFrame prefixes the payload with its big-endian u32 length.
func EncodeFrame(payload []byte) []byte {
	packet := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(packet[:FrameHeaderSize], uint32(len(payload)))
	copy(packet[FrameHeaderSize:], payload)
	return packet
}

// DecodeFrameLength reads the payload length out of a 4-byte header.
func DecodeFrameLength(header []byte) (uint32, error) {
	if len(header) != FrameHeaderSize {
		return 0, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedHeader, FrameHeaderSize, len(header))
	}
	return binary.BigEndian.Uint32(header), nil
}
