// Package engine implements the FL Bridge Core Request Engine (C4, spec.md
// §4.4): correlated command submission, per-command timeout resolution, and
// out-of-order response delivery.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/szichedelic/flbridge-core/internal/flbridge/chunking"
	"github.com/szichedelic/flbridge-core/internal/flbridge/flerr"
	"github.com/szichedelic/flbridge-core/internal/flbridge/wire"
	"github.com/szichedelic/flbridge-core/internal/logging"
)

// DefaultInteractiveTimeout is the global default for ordinary commands.
const DefaultInteractiveTimeout = 5 * time.Second

// DefaultDiscoveryTimeout is the global default for discovery-class
// commands, an order of magnitude larger per spec.md §4.4.
const DefaultDiscoveryTimeout = 60 * time.Second

// Sender dispatches a single outbound Envelope for a given client id. The
// engine is deliberately decoupled from the Chunk Assembler / Transport
// concrete types so it can be tested without a live MIDI endpoint.
type Sender interface {
	Send(ctx context.Context, clientID byte, env chunking.Envelope) error
}

// TimeoutResolver supplies a per-command default timeout, typically backed
// by the executor's CommandDescriptor table. A zero duration means "no
// per-command override; fall back to the engine's global defaults".
type TimeoutResolver func(command string) time.Duration

type pendingRequest struct {
	command  string
	traceID  string
	start    time.Time
	deadline time.Time
	result   chan Result
	timer    *time.Timer
}

// Result is what Execute resolves with: either a successful response's
// fields or an error classified per spec.md §7.
type Result struct {
	Fields map[string]interface{}
	Err    error
}

// Engine assigns correlation ids, tracks PendingRequests, and completes them
// either from an inbound response, a per-request deadline timer, or a
// transport-loss fan-out. One Engine instance is scoped to a single
// connection.
type Engine struct {
	clientID byte
	sender   Sender
	resolve  TimeoutResolver

	nextID uint32 // atomic

	mu      sync.Mutex
	pending map[uint32]*pendingRequest
	closed  bool
}

// New creates an Engine bound to clientID, using sender for outbound
// dispatch. resolve may be nil (global defaults only).
func New(clientID byte, sender Sender, resolve TimeoutResolver) *Engine {
	return &Engine{
		clientID: clientID,
		sender:   sender,
		resolve:  resolve,
		pending:  make(map[uint32]*pendingRequest),
	}
}

// Execute submits a command and blocks until a matching response arrives,
// the effective timeout elapses, the transport is lost, or ctx is
// cancelled. timeout of 0 defers to the per-command / global default
// ordering (caller > per-command > global) described in spec.md §4.4.
func (e *Engine) Execute(ctx context.Context, command string, params map[string]interface{}, timeout time.Duration) (map[string]interface{}, error) {
	correlationID := atomic.AddUint32(&e.nextID, 1)
	effective := e.effectiveTimeout(command, timeout)
	start := time.Now()
	deadline := start.Add(effective)
	traceID := uuid.NewString()

	req := &pendingRequest{command: command, traceID: traceID, start: start, deadline: deadline, result: make(chan Result, 1)}
	req.timer = time.AfterFunc(effective, func() { e.expire(correlationID) })

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		req.timer.Stop()
		return nil, flerr.NewTransportLostError("engine."+command, nil)
	}
	e.pending[correlationID] = req
	e.mu.Unlock()

	logging.WithCorrelation(logging.Logger(), correlationID, command).Debugw("submitting command", "trace_id", traceID, "timeout", effective)

	env := chunking.Envelope{Kind: "command", ID: correlationID, Name: command, Params: params}
	if err := e.sender.Send(ctx, e.clientID, env); err != nil {
		e.removePending(correlationID)
		return nil, err
	}

	select {
	case res := <-req.result:
		return res.Fields, res.Err
	case <-ctx.Done():
		e.removePending(correlationID)
		return nil, flerr.NewCancelledError(command)
	}
}

func (e *Engine) effectiveTimeout(command string, callerTimeout time.Duration) time.Duration {
	if callerTimeout > 0 {
		return callerTimeout
	}
	if e.resolve != nil {
		if d := e.resolve(command); d > 0 {
			return d
		}
	}
	return DefaultInteractiveTimeout
}

func (e *Engine) removePending(correlationID uint32) {
	e.mu.Lock()
	req, ok := e.pending[correlationID]
	if ok {
		delete(e.pending, correlationID)
	}
	e.mu.Unlock()
	if ok {
		req.timer.Stop()
	}
}

// HandleResponse completes the PendingRequest matching msg.CorrelationID, if
// any. Responses with no matching PendingRequest (late, already timed out
// or cancelled) are discarded per spec.md §9 Open Question 1.
func (e *Engine) HandleResponse(msg *chunking.LogicalMessage) {
	e.mu.Lock()
	req, ok := e.pending[msg.CorrelationID]
	if ok {
		delete(e.pending, msg.CorrelationID)
	}
	e.mu.Unlock()
	if !ok {
		logging.Debug("discarding response with no pending request", "correlation_id", msg.CorrelationID)
		return
	}
	req.timer.Stop()

	if msg.Status == wire.StatusOK {
		req.result <- Result{Fields: msg.Result}
		return
	}
	if msg.ErrorKind == "host_unsafe" {
		req.result <- Result{Err: flerr.NewHostUnsafeError(req.command, msg.ErrorMessage)}
		return
	}
	req.result <- Result{Err: flerr.NewCommandFailedError(req.command, msg.ErrorMessage)}
}

// FailAll resolves every outstanding PendingRequest with a TransportLost
// error, used on transport teardown (spec.md §4.9).
func (e *Engine) FailAll(cause error) {
	e.mu.Lock()
	pending := e.pending
	e.pending = make(map[uint32]*pendingRequest)
	e.mu.Unlock()

	for _, req := range pending {
		req.timer.Stop()
		req.result <- Result{Err: flerr.NewTransportLostError("engine."+req.command, cause)}
	}
}

// expire fires from a PendingRequest's own timer (spec.md §5: "a single
// timer per request") once its deadline elapses. A request already resolved
// by HandleResponse/FailAll/removePending is no longer in the map, so this
// is a no-op in that race.
func (e *Engine) expire(correlationID uint32) {
	e.mu.Lock()
	req, ok := e.pending[correlationID]
	if ok {
		delete(e.pending, correlationID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	req.result <- Result{Err: flerr.NewTimeoutError(req.command, time.Since(req.start), nil)}
}

// Stop marks the engine closed and fails any PendingRequest submitted
// afterwards immediately; in-flight timers still fire and are stopped as
// their requests resolve. Call once the connection is torn down.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// Pending reports the number of outstanding PendingRequests, for tests and
// diagnostics.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
