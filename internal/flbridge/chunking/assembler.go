// Package chunking implements the FL Bridge Core Chunk Assembler (spec.md
// §4.2): it splits outbound envelopes into frame-sized pieces and reassembles
// inbound frames into complete LogicalMessages, keyed per clientId so
// concurrent senders never collide.
package chunking

import (
	"encoding/base64"
	"encoding/json"

	"github.com/szichedelic/flbridge-core/internal/bufpool"
	"github.com/szichedelic/flbridge-core/internal/flbridge/flerr"
	"github.com/szichedelic/flbridge-core/internal/flbridge/wire"
)

// DefaultMaxAccumulatorBytes bounds how large a single clientId's inbound
// accumulator may grow before PayloadTooLarge is raised and the accumulator
// discarded (spec.md §4.2 fails-closed invariant). 2 MiB of base64 text is
// comfortably larger than any realistic parameter dump.
const DefaultMaxAccumulatorBytes = 2 << 20

// Chunk is one outbound piece of a split envelope.
type Chunk struct {
	Payload []byte // 7-bit-safe base64 bytes, ready for wire.Encode
	Final   bool   // true on the last chunk (continuationFlag = final)
}

// Split marshals env to JSON, base64-encodes it, and splits the result into
// pieces no larger than maxPerFrame bytes. The order of the returned slice is
// the order frames MUST be emitted in, so reassembly sees them in order.
func Split(env Envelope, maxPerFrame int) ([]Chunk, error) {
	if maxPerFrame <= 0 {
		maxPerFrame = wire.DefaultMaxPayloadPerFrame
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, flerr.NewProtocolViolationError("chunking.split.marshal", err)
	}
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(encoded, raw)

	if len(encoded) == 0 {
		return []Chunk{{Payload: nil, Final: true}}, nil
	}

	chunks := make([]Chunk, 0, (len(encoded)/maxPerFrame)+1)
	for offset := 0; offset < len(encoded); offset += maxPerFrame {
		end := offset + maxPerFrame
		if end > len(encoded) {
			end = len(encoded)
		}
		piece := make([]byte, end-offset)
		copy(piece, encoded[offset:end])
		chunks = append(chunks, Chunk{Payload: piece, Final: end == len(encoded)})
	}
	return chunks, nil
}

// Reassembler maintains, per clientId, the in-flight accumulation of base64
// chunk bytes until a final frame completes a LogicalMessage. Not safe for
// concurrent use by multiple goroutines without external synchronization,
// matching the single-threaded-cooperative model of spec.md §5.
type Reassembler struct {
	accumulators map[byte][]byte
	maxBytes     int
}

// NewReassembler creates a Reassembler with the given accumulator cap (0 uses
// DefaultMaxAccumulatorBytes).
func NewReassembler(maxAccumulatorBytes int) *Reassembler {
	if maxAccumulatorBytes <= 0 {
		maxAccumulatorBytes = DefaultMaxAccumulatorBytes
	}
	return &Reassembler{
		accumulators: make(map[byte][]byte),
		maxBytes:     maxAccumulatorBytes,
	}
}

// Feed processes one inbound frame. It returns a non-nil *LogicalMessage only
// when f completes a logical message (continuationFlag == final); otherwise
// it returns (nil, nil) after appending to the per-clientId accumulator.
func (r *Reassembler) Feed(f wire.Frame) (*LogicalMessage, error) {
	if f.More() {
		acc := append(r.accumulators[f.ClientID], f.PayloadBytes...)
		if len(acc) > r.maxBytes {
			delete(r.accumulators, f.ClientID)
			return nil, flerr.NewPayloadTooLargeError("chunking.reassemble", len(acc), r.maxBytes, true, f.ClientID)
		}
		r.accumulators[f.ClientID] = acc
		return nil, nil
	}

	acc := r.accumulators[f.ClientID]
	full := append(acc, f.PayloadBytes...) //nolint:gocritic // acc is owned solely by this clientId's slot
	delete(r.accumulators, f.ClientID)

	if len(full) > r.maxBytes {
		return nil, flerr.NewPayloadTooLargeError("chunking.reassemble", len(full), r.maxBytes, true, f.ClientID)
	}

	raw := bufpool.Get(base64.StdEncoding.DecodedLen(len(full)))
	n, err := base64.StdEncoding.Decode(raw, full)
	if err != nil {
		bufpool.Put(raw)
		return nil, flerr.NewProtocolViolationError("chunking.reassemble.base64", err)
	}
	raw = raw[:n]
	defer bufpool.Put(raw)

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, flerr.NewProtocolViolationError("chunking.reassemble.unmarshal", err)
	}

	msg := &LogicalMessage{
		ClientID:      f.ClientID,
		Kind:          f.Kind,
		CorrelationID: env.ID,
		Status:        f.Status,
		Name:          env.Name,
		Params:        env.Params,
		Result:        env.Result,
		ErrorMessage:  env.Error,
		ErrorKind:     env.ErrorKind,
	}
	return msg, nil
}

// Reset clears all in-flight accumulators, used on connection teardown
// (spec.md §4.9 Connection Lifecycle teardown).
func (r *Reassembler) Reset() {
	r.accumulators = make(map[byte][]byte)
}

// Pending reports whether clientId currently has an in-flight (incomplete)
// accumulator; useful for diagnostics and tests.
func (r *Reassembler) Pending(clientID byte) bool {
	_, ok := r.accumulators[clientID]
	return ok
}
