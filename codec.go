package asnet

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Every packet travels as one frame:
//
//	[length: u32 big-endian][channel: u8][payload: length bytes]
//
// The length field counts payload bytes only. A declared length of zero, or
// one exceeding the configured maximum, is a protocol violation and fatal
// to the connection that produced it.
const frameHeaderLen = 5

// DefaultMaxFrameLength bounds the payload of a single frame unless
// overridden with WithMaxFrameLength.
const DefaultMaxFrameLength = 16 << 20

// appendFrameHeader appends the header for a payload of length bytes
// tagged with channel.
func appendFrameHeader(dst []byte, channel byte, length int) []byte {
	var hdr [frameHeaderLen]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(length))
	hdr[4] = channel
	return append(dst, hdr[:]...)
}

// appendFrame appends one complete frame.
func appendFrame(dst []byte, channel byte, payload []byte) []byte {
	dst = appendFrameHeader(dst, channel, len(payload))
	return append(dst, payload...)
}

// parseFrame decodes the first complete frame in buf. consumed == 0 with a
// nil error means more bytes are needed; a partial frame is never consumed.
// A non-nil error wraps ErrMalformedFrame and poisons the whole stream.
// The returned payload aliases buf; callers copy before retaining it.
func parseFrame(buf []byte, maxLength int) (channel byte, payload []byte, consumed int, err error) {
	if len(buf) < frameHeaderLen {
		return 0, nil, 0, nil
	}
	length := uint64(binary.BigEndian.Uint32(buf))
	if length == 0 || length > uint64(maxLength) {
		return 0, nil, 0, errors.Wrapf(ErrMalformedFrame, "declared payload length %d", length)
	}
	end := frameHeaderLen + int(length)
	if len(buf) < end {
		return 0, nil, 0, nil
	}
	return buf[4], buf[frameHeaderLen:end], end, nil
}
