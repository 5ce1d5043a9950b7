// Package wire implements the FL Bridge Core wire codec (spec.md §4.1, §6):
// a single framed message tunnelled through a MIDI System-Exclusive envelope.
//
// Layout (all fields single bytes except payload):
//
//	[startSentinel][manufacturerTag][origin][clientId][continuationFlag][messageKind][statusCode][payload...][endSentinel]
//
// The codec only ever handles one frame at a time; splitting a logical
// message into frames and reassembling them is the Chunk Assembler's job
// (internal/flbridge/chunking), not this package's.
package wire

import (
	"github.com/szichedelic/flbridge-core/internal/flbridge/flerr"
)

// Envelope sentinels (System-Exclusive begin/end), fixed and compatibility-critical.
const (
	StartSentinel byte = 0xF0
	EndSentinel   byte = 0xF7
)

// ManufacturerTag is a single non-commercial/educational byte in the 7-bit
// range, chosen to be distinguishable from assigned commercial manufacturer
// IDs on a shared MIDI bus.
const ManufacturerTag byte = 0x7D

// Origin identifies which side of the bridge emitted a frame.
type Origin byte

const (
	OriginClient Origin = 0x01
	OriginServer Origin = 0x02
)

func (o Origin) valid() bool { return o == OriginClient || o == OriginServer }

// MessageKind classifies the logical message a frame belongs to.
type MessageKind byte

const (
	KindCommand  MessageKind = 0x01
	KindResponse MessageKind = 0x02
	KindEvent    MessageKind = 0x03
)

func (k MessageKind) valid() bool { return k == KindCommand || k == KindResponse || k == KindEvent }

// Status is only meaningful for response frames.
type Status byte

const (
	StatusOK    Status = 0x00
	StatusError Status = 0x01
)

// Continuation flag values.
const (
	ContinuationFinal byte = 0x00
	ContinuationMore  byte = 0x01
)

// DefaultMaxPayloadPerFrame is the default per-frame base64 payload budget,
// chosen to leave headroom under a 2048-byte host MIDI receive buffer
// (spec.md §6).
const DefaultMaxPayloadPerFrame = 1800

// Frame is a single wire message: at most one chunk of one logical message.
type Frame struct {
	Origin           Origin
	ClientID         byte // 7-bit, assigned at connection init
	ContinuationFlag byte
	Kind             MessageKind
	Status           Status
	// PayloadBytes is the already base64-encoded, 7-bit-safe chunk payload.
	PayloadBytes []byte
}

// More reports whether additional chunks follow this frame.
func (f Frame) More() bool { return f.ContinuationFlag == ContinuationMore }

// minFrameLen covers sentinels + 5 fixed single-byte fields (manufacturer,
// origin, clientId, continuation, kind) + status, with zero-length payload.
const minFrameLen = 8

// Encode serializes a single chunk's payload bytes into a frame.
// chunkPayloadBytes MUST already be 7-bit-safe (the Chunk Assembler supplies
// a slice of the base64 encoding of the full logical message — see
// internal/flbridge/chunking); the Wire Codec's job is envelope framing, not
// text encoding, so it only validates the 7-bit-safety invariant and the
// per-frame size budget rather than re-encoding.
func Encode(clientID byte, kind MessageKind, chunkPayloadBytes []byte, continuationFlag byte, status Status) ([]byte, error) {
	if !kind.valid() {
		return nil, flerr.NewProtocolViolationError("wire.encode", nil)
	}
	if len(chunkPayloadBytes) > DefaultMaxPayloadPerFrame {
		return nil, flerr.NewPayloadTooLargeError("wire.encode", len(chunkPayloadBytes), DefaultMaxPayloadPerFrame, false, clientID)
	}
	if !sevenBitSafe(chunkPayloadBytes) {
		return nil, flerr.NewProtocolViolationError("wire.encode", nil)
	}

	out := make([]byte, 0, minFrameLen+len(chunkPayloadBytes))
	out = append(out, StartSentinel)
	out = append(out, ManufacturerTag)
	out = append(out, byte(OriginClient)) // overwritten below if caller is the server side
	out = append(out, clientID)
	out = append(out, continuationFlag)
	out = append(out, byte(kind))
	out = append(out, byte(status))
	out = append(out, chunkPayloadBytes...)
	out = append(out, EndSentinel)
	return out, nil
}

// sevenBitSafe reports whether every byte is within the 7-bit MIDI data
// range required inside a System-Exclusive envelope.
func sevenBitSafe(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

// EncodeFrom is like Encode but lets the caller specify the origin explicitly
// (Encode defaults to OriginClient for convenience in the common case where
// the caller is the agent-side engine).
func EncodeFrom(origin Origin, clientID byte, kind MessageKind, chunkPayloadBytes []byte, continuationFlag byte, status Status) ([]byte, error) {
	frameBytes, err := Encode(clientID, kind, chunkPayloadBytes, continuationFlag, status)
	if err != nil {
		return nil, err
	}
	frameBytes[2] = byte(origin)
	return frameBytes, nil
}

// Decode parses a single frame. It never returns an error for malformed
// input — per spec.md §4.1, a stray frame is indistinguishable from a
// foreign device sharing the MIDI bus, so unrecognised frames are simply
// absent (ok=false), not reported.
func Decode(frameBytes []byte) (f Frame, ok bool) {
	if len(frameBytes) < minFrameLen {
		return Frame{}, false
	}
	if frameBytes[0] != StartSentinel || frameBytes[len(frameBytes)-1] != EndSentinel {
		return Frame{}, false
	}
	if frameBytes[1] != ManufacturerTag {
		return Frame{}, false
	}
	origin := Origin(frameBytes[2])
	if !origin.valid() {
		return Frame{}, false
	}
	clientID := frameBytes[3]
	continuation := frameBytes[4]
	if continuation != ContinuationFinal && continuation != ContinuationMore {
		return Frame{}, false
	}
	kind := MessageKind(frameBytes[5])
	if !kind.valid() {
		return Frame{}, false
	}
	status := Status(frameBytes[6])
	if status != StatusOK && status != StatusError {
		return Frame{}, false
	}
	payload := frameBytes[7 : len(frameBytes)-1]

	f = Frame{
		Origin:           origin,
		ClientID:         clientID,
		ContinuationFlag: continuation,
		Kind:             kind,
		Status:           status,
		PayloadBytes:     payload,
	}
	return f, true
}
