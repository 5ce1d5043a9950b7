// Package integration exercises the six end-to-end scenarios of spec.md §8
// against the wired components directly, without a live MIDI transport.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/szichedelic/flbridge-core/internal/flbridge/chunking"
	"github.com/szichedelic/flbridge-core/internal/flbridge/engine"
	"github.com/szichedelic/flbridge-core/internal/flbridge/flerr"
	"github.com/szichedelic/flbridge-core/internal/flbridge/params"
	"github.com/szichedelic/flbridge-core/internal/flbridge/render"
	"github.com/szichedelic/flbridge-core/internal/flbridge/shadow"
	"github.com/szichedelic/flbridge-core/internal/flbridge/wire"
)

// fakeDiscoverer returns the scenario-1 fixture (Cutoff index 3, Resonance
// index 7) and counts invocations, standing in for a live plugins.discover
// round-trip.
type fakeDiscoverer struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeDiscoverer) Discover(ctx context.Context, address params.PluginAddress) (params.ParameterDirectoryEntry, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return params.ParameterDirectoryEntry{
		Address:           address,
		PluginDisplayName: "Fruity Filter",
		Parameters: []params.ParameterRecord{
			{Address: address, ParamIndex: 3, DisplayName: "Cutoff", NormalisedValue: 0.5},
			{Address: address, ParamIndex: 7, DisplayName: "Resonance", NormalisedValue: 0.2},
		},
	}, nil
}

func (f *fakeDiscoverer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// TestScenario1DiscoveryCaches matches spec.md §8 scenario 1.
func TestScenario1DiscoveryCaches(t *testing.T) {
	disc := &fakeDiscoverer{}
	dir := params.New(disc, nil)
	addr := params.PluginAddress{OwnerIndex: 0, SlotIndex: -1}

	rec, err := dir.Resolve(context.Background(), addr, "cutoff")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rec.ParamIndex != 3 || rec.DisplayName != "Cutoff" || rec.NormalisedValue != 0.5 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if disc.callCount() != 1 {
		t.Fatalf("expected exactly one discovery, got %d", disc.callCount())
	}

	if _, err := dir.Resolve(context.Background(), addr, "cutoff"); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if disc.callCount() != 1 {
		t.Fatalf("expected cache hit to avoid a second discovery, got %d calls", disc.callCount())
	}
}

// TestScenario2FuzzyResolution matches spec.md §8 scenario 2.
func TestScenario2FuzzyResolution(t *testing.T) {
	disc := &fakeDiscoverer{}
	dir := params.New(disc, nil)
	addr := params.PluginAddress{OwnerIndex: 0, SlotIndex: -1}

	if _, err := dir.Resolve(context.Background(), addr, "cutoff"); err != nil {
		t.Fatalf("seed resolve: %v", err)
	}

	rec, err := dir.Resolve(context.Background(), addr, "cut")
	if err != nil || rec.ParamIndex != 3 {
		t.Fatalf("expected prefix match to Cutoff, got %+v err=%v", rec, err)
	}
	rec, err = dir.Resolve(context.Background(), addr, "reso")
	if err != nil || rec.ParamIndex != 7 {
		t.Fatalf("expected prefix match to Resonance, got %+v err=%v", rec, err)
	}

	// The address above is already discovered, so a further miss on it
	// returns absence without a second discovery attempt. The retry tier
	// only fires the first time an address is queried, before anything has
	// been cached for it.
	callsBeforeMiss := disc.callCount()
	if _, err := dir.Resolve(context.Background(), addr, "gain"); err == nil {
		t.Fatal("expected absence for an unmatched query")
	}
	if disc.callCount() != callsBeforeMiss {
		t.Fatalf("expected no further discovery once the address is cached, got %d new calls", disc.callCount()-callsBeforeMiss)
	}

	// A fresh, never-discovered address retries discovery exactly once
	// before giving up.
	freshDisc := &fakeDiscoverer{}
	freshDir := params.New(freshDisc, nil)
	freshAddr := params.PluginAddress{OwnerIndex: 1, SlotIndex: 0}
	_, err = freshDir.Resolve(context.Background(), freshAddr, "gain")
	if err == nil {
		t.Fatal("expected absence for an unmatched query on a fresh address")
	}
	if _, ok := err.(*flerr.ParameterNotFoundError); !ok {
		t.Fatalf("expected *flerr.ParameterNotFoundError, got %T", err)
	}
	if freshDisc.callCount() != 1 {
		t.Fatalf("expected exactly one retry discovery on a fresh address, got %d", freshDisc.callCount())
	}
}

// TestScenario3ShadowPreservation matches spec.md §8 scenario 3.
func TestScenario3ShadowPreservation(t *testing.T) {
	addr := params.PluginAddress{OwnerIndex: 0, SlotIndex: -1}
	store := shadow.New()

	store.RecordUserWrite(addr, 3, 0.9)

	entry := params.ParameterDirectoryEntry{
		Address: addr,
		Parameters: []params.ParameterRecord{
			{Address: addr, ParamIndex: 3, DisplayName: "Cutoff", NormalisedValue: 0.5},
		},
	}
	store.SeedDiscoveredEntry(entry)

	got, ok := store.Get(addr, 3)
	if !ok {
		t.Fatal("expected an entry")
	}
	if got.Value != 0.9 || got.Source != shadow.SourceUser {
		t.Fatalf("expected the user write to survive discovery seeding unchanged, got %+v", got)
	}
}

// TestScenario4ChunkedResponse matches spec.md §8 scenario 4: a response
// whose base64 payload splits into several frames reassembles into exactly
// one LogicalMessage, emptying the per-client accumulator afterwards.
func TestScenario4ChunkedResponse(t *testing.T) {
	bigResult := map[string]interface{}{
		"dump": strings.Repeat("cutoff,resonance,drive,mix,feedback;", 150),
	}
	env := chunking.Envelope{Kind: "response", ID: 42, Status: "ok", Result: bigResult}

	chunks, err := chunking.Split(env, 120)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected the fixture to require multiple frames, got %d", len(chunks))
	}

	reassembler := chunking.NewReassembler(0)
	const clientID = byte(5)
	var msg *chunking.LogicalMessage
	for i, c := range chunks {
		flag := byte(wire.ContinuationMore)
		if c.Final {
			flag = wire.ContinuationFinal
		}
		frameBytes, err := wire.Encode(clientID, wire.KindResponse, c.Payload, flag, wire.StatusOK)
		if err != nil {
			t.Fatalf("encode frame %d: %v", i, err)
		}
		f, ok := wire.Decode(frameBytes)
		if !ok {
			t.Fatalf("decode frame %d failed", i)
		}
		msg, err = reassembler.Feed(f)
		if err != nil {
			t.Fatalf("feed frame %d: %v", i, err)
		}
		if i < len(chunks)-1 && msg != nil {
			t.Fatalf("expected nil LogicalMessage before the final chunk, frame %d", i)
		}
	}
	if msg == nil {
		t.Fatal("expected a LogicalMessage after the final chunk")
	}
	if msg.CorrelationID != 42 {
		t.Fatalf("expected correlation id 42, got %d", msg.CorrelationID)
	}
	if reassembler.Pending(clientID) {
		t.Fatal("expected the accumulator to be empty after reassembly")
	}
}

// TestScenario5Timeout matches spec.md §8 scenario 5: a 100ms deadline with
// no response yields a Timeout error, and a response delivered after the
// caller has already given up resolves nothing.
func TestScenario5Timeout(t *testing.T) {
	sender := &capturingSender{}
	e := engine.New(1, sender, nil)
	defer e.Stop()

	start := time.Now()
	_, err := e.Execute(context.Background(), "plugins.get_param", nil, 100*time.Millisecond)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if _, ok := err.(*flerr.TimeoutError); !ok {
		t.Fatalf("expected *flerr.TimeoutError, got %T: %v", err, err)
	}
	if elapsed < 100*time.Millisecond || elapsed > 150*time.Millisecond {
		t.Fatalf("expected the timeout to fire within 100-150ms, took %v", elapsed)
	}

	correlationID := sender.lastCorrelationID()
	// By now the deadline timer has already removed the PendingRequest, so
	// a late response resolves nothing.
	e.HandleResponse(&chunking.LogicalMessage{
		ClientID:      1,
		Kind:          wire.KindResponse,
		CorrelationID: correlationID,
		Status:        wire.StatusOK,
		Result:        map[string]interface{}{"value": 1.0},
	})
	if e.Pending() != 0 {
		t.Fatalf("expected no pending requests after the late response, got %d", e.Pending())
	}
}

type capturingSender struct {
	mu  sync.Mutex
	ids []uint32
}

func (s *capturingSender) Send(ctx context.Context, clientID byte, env chunking.Envelope) error {
	s.mu.Lock()
	s.ids = append(s.ids, env.ID)
	s.mu.Unlock()
	return nil // no response is ever delivered, simulating silence
}

func (s *capturingSender) lastCorrelationID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) == 0 {
		return 0
	}
	return s.ids[len(s.ids)-1]
}

// TestScenario6RenderDetection matches spec.md §8 scenario 6: a file
// written to over ~1.5s and then left alone is reported as an artifact
// roughly one stability threshold after the last write.
func TestScenario6RenderDetection(t *testing.T) {
	if testing.Short() {
		t.Skip("exercises the detector's real stability timers")
	}

	dir := t.TempDir()
	detected := make(chan render.Artifact, 1)
	det := render.New(dir, ".wav", func(a render.Artifact) {
		detected <- a
	})
	if err := det.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer det.Stop()

	path := filepath.Join(dir, "mix.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	deadline := time.Now().Add(1500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := f.Write([]byte("data")); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(200 * time.Millisecond)
	}
	f.Close()

	select {
	case a := <-detected:
		if a.FileName != "mix.wav" {
			t.Fatalf("expected fileName mix.wav, got %q", a.FileName)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected a render artifact within 5s of the last write")
	}

	found := false
	for _, a := range det.All() {
		if a.FileName == "mix.wav" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected mix.wav to be registered in the session registry")
	}
}
