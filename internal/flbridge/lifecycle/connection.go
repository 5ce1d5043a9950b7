// Package lifecycle implements the FL Bridge Core Connection Lifecycle (C9,
// spec.md §4.9): startup handshake, heartbeat/liveness, graceful teardown,
// and ownership of the per-session components (Transport, Chunk Assembler,
// Request Engine, Parameter Directory, Shadow Store, Render Detector).
package lifecycle

import (
	"context"
	"crypto/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/szichedelic/flbridge-core/internal/flbridge/chunking"
	"github.com/szichedelic/flbridge-core/internal/flbridge/engine"
	"github.com/szichedelic/flbridge-core/internal/flbridge/executor"
	"github.com/szichedelic/flbridge-core/internal/flbridge/flerr"
	"github.com/szichedelic/flbridge-core/internal/flbridge/params"
	"github.com/szichedelic/flbridge-core/internal/flbridge/render"
	"github.com/szichedelic/flbridge-core/internal/flbridge/shadow"
	"github.com/szichedelic/flbridge-core/internal/flbridge/transport"
	"github.com/szichedelic/flbridge-core/internal/flbridge/wire"
	"github.com/szichedelic/flbridge-core/internal/logging"
)

// State is the connection's lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// DefaultHeartbeatInterval and DefaultHeartbeatTimeout implement
// SPEC_FULL.md §4.11: a liveness probe on a 10s cadence, three consecutive
// missed probes forcing teardown as if TransportLost had occurred.
const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultHeartbeatTimeout  = 5 * time.Second
	MaxMissedHeartbeats      = 3
)

// HandshakeTimeout bounds the startup handshake exchange.
const HandshakeTimeout = 5 * time.Second

// Config bundles the knobs an operator supplies when opening a connection.
type Config struct {
	InPortName  string
	OutPortName string

	Aliases params.AliasTable

	RenderDir       string
	RenderExtension string // e.g. ".wav"; empty disables the Render Detector

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// MaxPayloadPerFrame and MaxAccumulatorBytes tune the Chunk Assembler;
	// zero selects the component's own defaults.
	MaxPayloadPerFrame  int
	MaxAccumulatorBytes int

	// OnRenderArtifact, if set, is invoked whenever the Render Detector
	// stabilizes a new file — the Event Hook Registry's usual attachment
	// point (SPEC_FULL.md §4.10).
	OnRenderArtifact func(render.Artifact)

	// OnLifecycleEvent, if set, is invoked on heartbeat_miss and disconnect
	// (the handshake and reconnect kinds are the caller's own Open/Close
	// call sites, since those already know whether the attempt succeeded).
	OnLifecycleEvent func(kind string, fields map[string]interface{})
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
}

// Connection owns one session's worth of FL Bridge Core components and
// drives their startup, liveness, and teardown.
type Connection struct {
	cfg      Config
	clientID byte

	transport   *transport.Transport
	reassembler *chunking.Reassembler
	engine      *engine.Engine
	executor    *executor.Executor
	directory   *params.Directory
	shadowStore *shadow.Store
	renderDet   *render.Detector

	state          atomic.Int32
	missedBeats    atomic.Int32
	lastActivity   atomic.Int64 // unix nanos
	heartbeatStop  chan struct{}
	heartbeatDone  sync.WaitGroup
	teardownOnce   sync.Once
}

// New constructs a Connection in StateDisconnected; call Open to start it.
func New(cfg Config) *Connection {
	cfg.applyDefaults()
	c := &Connection{
		cfg:           cfg,
		reassembler:   chunking.NewReassembler(cfg.MaxAccumulatorBytes),
		shadowStore:   shadow.New(),
		heartbeatStop: make(chan struct{}),
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// Directory returns the Parameter Directory; valid once Open has succeeded.
func (c *Connection) Directory() *params.Directory { return c.directory }

// Shadow returns the Shadow Store; valid immediately (it predates Open so
// cached values survive reconnects).
func (c *Connection) Shadow() *shadow.Store { return c.shadowStore }

// RenderDetector returns the Render Detector, or nil if none was
// configured.
func (c *Connection) RenderDetector() *render.Detector { return c.renderDet }

// Executor returns the Command Executor Adapter facade; valid once Open has
// succeeded.
func (c *Connection) Executor() *executor.Executor { return c.executor }

// Open performs the startup sequence: opens both MIDI endpoints, assigns a
// clientId, exchanges a handshake, and — on success — starts the heartbeat
// loop and moves to StateConnected. On any failure the transport is closed
// and the connection returns to StateDisconnected.
func (c *Connection) Open(ctx context.Context) error {
	c.state.Store(int32(StateConnecting))

	clientID, err := randomClientID()
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return err
	}
	c.clientID = clientID

	c.transport = transport.New(c.cfg.InPortName, c.cfg.OutPortName, c.handleRawFrame)
	if err := c.transport.Open(ctx); err != nil {
		c.state.Store(int32(StateDisconnected))
		return err
	}

	c.engine = engine.New(c.clientID, c, executor.TimeoutFor)
	c.executor = executor.New(c.engine)
	c.directory = params.New(discovererAdapter{exec: c.executor, shadow: c.shadowStore}, c.cfg.Aliases)

	if c.cfg.RenderExtension != "" {
		c.renderDet = render.New(c.cfg.RenderDir, c.cfg.RenderExtension, c.cfg.OnRenderArtifact)
		if err := c.renderDet.Start(); err != nil {
			logging.Warn("render detector failed to start", "err", err)
			c.renderDet = nil
		}
	}

	handshakeCtx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()
	if _, err := c.executor.Execute(handshakeCtx, "transport.state", nil); err != nil {
		c.teardown(err)
		return flerr.NewEndpointMissingError("handshake", err)
	}

	c.lastActivity.Store(time.Now().UnixNano())
	c.state.Store(int32(StateConnected))
	c.heartbeatDone.Add(1)
	go c.heartbeatLoop()

	logging.Info("connection established", "client_id", c.clientID)
	return nil
}

func randomClientID() (byte, error) {
	buf := make([]byte, 1)
	if _, err := rand.Read(buf); err != nil {
		return 0, err
	}
	return buf[0] & 0x7f, nil // keep 7-bit safe per spec.md §3 PluginAddress/Frame clientId
}

// SetParam writes a plugin parameter through the executor and, on success,
// records a user-sourced ShadowEntry (spec.md §4.6: "every successful write
// made through the engine also writes a ShadowEntry with source=user").
func (c *Connection) SetParam(ctx context.Context, address params.PluginAddress, paramIndex int, value float64) (map[string]interface{}, error) {
	result, err := c.executor.Execute(ctx, "plugins.set_param", map[string]interface{}{
		"index": address.OwnerIndex, "slotIndex": address.SlotIndex, "paramIndex": paramIndex, "value": value,
	})
	if err != nil {
		return nil, err
	}
	c.shadowStore.RecordUserWrite(address, paramIndex, value)
	return result, nil
}

// Send implements engine.Sender: it splits env via the Chunk Assembler and
// frames each piece through the Wire Codec before handing it to Transport.
func (c *Connection) Send(ctx context.Context, clientID byte, env chunking.Envelope) error {
	maxPerFrame := c.cfg.MaxPayloadPerFrame
	if maxPerFrame <= 0 {
		maxPerFrame = wire.DefaultMaxPayloadPerFrame
	}
	chunks, err := chunking.Split(env, maxPerFrame)
	if err != nil {
		return err
	}
	kind := kindFor(env.Kind)
	for _, chunk := range chunks {
		flag := wire.ContinuationMore
		if chunk.Final {
			flag = wire.ContinuationFinal
		}
		frameBytes, err := wire.Encode(clientID, kind, chunk.Payload, flag, wire.StatusOK)
		if err != nil {
			return err
		}
		if err := c.transport.Send(ctx, frameBytes); err != nil {
			return err
		}
	}
	return nil
}

func kindFor(s string) wire.MessageKind {
	switch s {
	case "response":
		return wire.KindResponse
	case "event":
		return wire.KindEvent
	default:
		return wire.KindCommand
	}
}

// handleRawFrame is the Transport's onRawFrame callback: it decodes one
// wire frame, feeds it to the reassembler, and on a completed
// LogicalMessage routes it to the engine (responses) or hooks (events).
func (c *Connection) handleRawFrame(frameBytes []byte) {
	f, ok := wire.Decode(frameBytes)
	if !ok {
		return // malformed/foreign frame, silently dropped per spec.md §4.1
	}
	c.lastActivity.Store(time.Now().UnixNano())
	c.missedBeats.Store(0)

	msg, err := c.reassembler.Feed(f)
	if err != nil {
		logging.Warn("chunk reassembly failed", "err", err)
		return
	}
	if msg == nil {
		return // more chunks to come
	}
	switch msg.Kind {
	case wire.KindResponse:
		c.engine.HandleResponse(msg)
	case wire.KindEvent:
		logging.Debug("inbound event", "name", msg.Name)
	}
}

// heartbeatLoop sends a lightweight liveness probe on cfg.HeartbeatInterval
// when the connection has otherwise been idle; three consecutive missed
// probes force teardown (SPEC_FULL.md §4.11).
func (c *Connection) heartbeatLoop() {
	defer c.heartbeatDone.Done()
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.heartbeatStop:
			return
		case <-ticker.C:
			if time.Since(time.Unix(0, c.lastActivity.Load())) < c.cfg.HeartbeatInterval {
				continue // recent traffic already proves liveness
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HeartbeatTimeout)
			_, err := c.executor.Execute(ctx, "transport.state", nil)
			cancel()
			if err != nil {
				missed := c.missedBeats.Add(1)
				logging.Warn("heartbeat missed", "count", missed, "err", err)
				if c.cfg.OnLifecycleEvent != nil {
					c.cfg.OnLifecycleEvent("heartbeat_miss", map[string]interface{}{"count": missed})
				}
				if missed >= MaxMissedHeartbeats {
					c.teardown(flerr.NewTransportLostError("lifecycle.heartbeat", err))
					return
				}
				continue
			}
			c.missedBeats.Store(0)
		}
	}
}

// Close performs a graceful shutdown: teardown (failing PendingRequests,
// closing the transport) plus clearing the Shadow Store and Parameter
// Directory, which survive mere transport loss but not an explicit
// shutdown (spec.md §4.9).
func (c *Connection) Close() error {
	c.teardown(flerr.NewCancelledError("lifecycle.close"))
	if c.directory != nil {
		c.directory.InvalidateAll()
	}
	c.shadowStore = shadow.New()
	if c.renderDet != nil {
		c.renderDet.Stop()
	}
	return nil
}

// teardown fails outstanding requests, clears chunk accumulators, and
// closes the transport, moving to StateDisconnected. It does NOT clear the
// Shadow Store or Parameter Directory — those remain valid across
// reconnects to the same host session.
func (c *Connection) teardown(cause error) {
	c.teardownOnce.Do(func() {
		close(c.heartbeatStop)
	})
	c.heartbeatDone.Wait()

	if c.engine != nil {
		c.engine.FailAll(cause)
		c.engine.Stop()
	}
	c.reassembler.Reset()
	if c.transport != nil {
		_ = c.transport.Close()
	}
	c.state.Store(int32(StateDisconnected))
	logging.Info("connection torn down", "cause", cause)
	if c.cfg.OnLifecycleEvent != nil {
		c.cfg.OnLifecycleEvent("disconnect", map[string]interface{}{"cause": cause.Error()})
	}
}

// discovererAdapter bridges executor.Executor to params.Discoverer,
// translating a PluginAddress into the plugins.discover command and its
// structured response back into a ParameterDirectoryEntry.
type discovererAdapter struct {
	exec   *executor.Executor
	shadow *shadow.Store
}

func (d discovererAdapter) Discover(ctx context.Context, address params.PluginAddress) (params.ParameterDirectoryEntry, error) {
	reqParams := map[string]interface{}{"index": address.OwnerIndex, "slotIndex": address.SlotIndex}
	result, err := d.exec.Execute(ctx, "plugins.discover", reqParams)
	if err != nil {
		return params.ParameterDirectoryEntry{}, err
	}

	entry := params.ParameterDirectoryEntry{Address: address}
	if name, ok := result["pluginName"].(string); ok {
		entry.PluginDisplayName = name
	}
	rawParams, _ := result["parameters"].([]interface{})
	for _, rp := range rawParams {
		tuple, ok := rp.([]interface{})
		if !ok || len(tuple) != 3 {
			continue
		}
		idx, _ := tuple[0].(float64)
		name, _ := tuple[1].(string)
		val, _ := tuple[2].(float64)
		entry.Parameters = append(entry.Parameters, params.ParameterRecord{
			Address:         address,
			ParamIndex:      int(idx),
			DisplayName:     name,
			NormalisedValue: val,
		})
	}
	if d.shadow != nil {
		d.shadow.SeedDiscoveredEntry(entry)
	}
	return entry, nil
}
