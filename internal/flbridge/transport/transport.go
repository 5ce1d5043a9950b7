// Package transport implements the FL Bridge Core Transport (C3, spec.md
// §4.3): ownership of the MIDI in/out endpoint pair, delivery of raw frame
// bytes up to the Wire Codec, and detection of endpoint loss.
package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/szichedelic/flbridge-core/internal/flbridge/flerr"
	"github.com/szichedelic/flbridge-core/internal/logging"
)

// RawFrameFunc receives exactly one complete wire frame (already bounded by
// the 0xF0/0xF7 sentinels) as delivered by the MIDI driver's SysEx callback.
type RawFrameFunc func(frameBytes []byte)

// Transport owns one named input and one named output MIDI port and
// delivers SysEx frames between the host and the FL Bridge process.
type Transport struct {
	inPortName  string
	outPortName string

	mu        sync.Mutex
	in        drivers.In
	out       drivers.Out
	stop      func()
	connected atomic.Bool

	onRawFrame RawFrameFunc

	outbound chan []byte
	wg       sync.WaitGroup
}

// New creates a Transport bound to the named MIDI ports. Opening the ports
// happens in Open, not here, so callers can construct and wire callbacks
// first.
func New(inPortName, outPortName string, onRawFrame RawFrameFunc) *Transport {
	return &Transport{
		inPortName:  inPortName,
		outPortName: outPortName,
		onRawFrame:  onRawFrame,
		outbound:    make(chan []byte, 64),
	}
}

// Open resolves both named ports, opens them, and starts listening for
// incoming SysEx messages. Returns EndpointMissing if either named port is
// not currently present on the system.
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	in, err := midi.FindInPort(t.inPortName)
	if err != nil {
		return flerr.NewEndpointMissingError(t.inPortName, err)
	}
	out, err := midi.FindOutPort(t.outPortName)
	if err != nil {
		return flerr.NewEndpointMissingError(t.outPortName, err)
	}

	stop, err := midi.ListenTo(in, t.handleIncoming, midi.UseSysEx())
	if err != nil {
		return flerr.NewTransportLostError("transport.open.listen", err)
	}

	t.in = in
	t.out = out
	t.stop = stop
	t.connected.Store(true)

	t.wg.Add(1)
	go t.writeLoop(ctx)

	logging.Info("transport opened", "in", t.inPortName, "out", t.outPortName)
	return nil
}

// handleIncoming is invoked by the driver on its own goroutine for every
// incoming MIDI message; non-SysEx messages are ignored at this layer.
func (t *Transport) handleIncoming(msg midi.Message, timestampMs int32) {
	var raw []byte
	if !msg.GetSysEx(&raw) {
		return
	}
	if t.onRawFrame != nil {
		t.onRawFrame(raw)
	}
}

// writeLoop serialises all outbound sends through a single goroutine so
// frames belonging to one logical message stay contiguous on the wire
// (spec.md §5 shared-resource discipline).
func (t *Transport) writeLoop(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case frameBytes, ok := <-t.outbound:
			if !ok {
				return
			}
			t.mu.Lock()
			out := t.out
			t.mu.Unlock()
			if out == nil {
				continue
			}
			if err := out.Send(frameBytes); err != nil {
				t.connected.Store(false)
				logging.Error("transport send failed", "err", err)
			}
		}
	}
}

// Send enqueues a single already-framed wire message for outbound delivery.
// It never blocks indefinitely: a full queue after a short grace period
// means the endpoint is not draining, which is surfaced as TransportLost.
func (t *Transport) Send(ctx context.Context, frameBytes []byte) error {
	if !t.Connected() {
		return flerr.NewTransportLostError("transport.send", nil)
	}
	select {
	case t.outbound <- frameBytes:
		return nil
	case <-ctx.Done():
		return flerr.NewTransportLostError("transport.send", ctx.Err())
	case <-time.After(2 * time.Second):
		t.connected.Store(false)
		return flerr.NewTransportLostError("transport.send.queue_full", nil)
	}
}

// Connected reports whether the transport believes both endpoints are
// currently usable.
func (t *Transport) Connected() bool { return t.connected.Load() }

// Close stops listening and closes both MIDI ports. Safe to call more than
// once.
func (t *Transport) Close() error {
	t.mu.Lock()
	stop, in, out := t.stop, t.in, t.out
	t.stop, t.in, t.out = nil, nil, nil
	t.mu.Unlock()
	t.connected.Store(false)

	// A failed send clears connected without closing anything, so whether
	// the ports are still open is judged by stop, which Open sets together
	// with in and out.
	if stop == nil {
		return nil // never opened, or already closed
	}
	stop()
	var inErr, outErr error
	if in != nil {
		inErr = in.Close()
	}
	if out != nil {
		outErr = out.Close()
	}

	// outbound is closed and waited on without holding mu: writeLoop only
	// ever takes mu briefly to snapshot t.out, and must be free to do so
	// and return before wg.Wait() can complete.
	close(t.outbound)
	t.wg.Wait()

	if inErr != nil {
		return flerr.NewTransportLostError("transport.close.in", inErr)
	}
	if outErr != nil {
		return flerr.NewTransportLostError("transport.close.out", outErr)
	}
	return nil
}
