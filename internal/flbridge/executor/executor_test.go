package executor

import (
	"context"
	"testing"
	"time"

	"github.com/szichedelic/flbridge-core/internal/flbridge/flerr"
)

type stubRunner struct {
	lastCommand string
	lastTimeout time.Duration
	result      map[string]interface{}
	err         error
}

func (s *stubRunner) Execute(ctx context.Context, command string, params map[string]interface{}, timeout time.Duration) (map[string]interface{}, error) {
	s.lastCommand = command
	s.lastTimeout = timeout
	return s.result, s.err
}

func TestUnknownCommandIsRejected(t *testing.T) {
	e := New(&stubRunner{})
	_, err := e.Execute(context.Background(), "nonsense.command", nil)
	if err == nil {
		t.Fatalf("expected UnknownCommand error")
	}
	if _, ok := err.(*flerr.UnknownCommandError); !ok {
		t.Fatalf("expected *flerr.UnknownCommandError, got %T: %v", err, err)
	}
}

func TestKnownCommandDelegatesToRunner(t *testing.T) {
	r := &stubRunner{result: map[string]interface{}{"ok": true}}
	e := New(r)
	result, err := e.Execute(context.Background(), "transport.start", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result["ok"] != true {
		t.Fatalf("unexpected result: %+v", result)
	}
	if r.lastCommand != "transport.start" {
		t.Fatalf("expected runner invoked with transport.start, got %q", r.lastCommand)
	}
	if r.lastTimeout != 0 {
		t.Fatalf("expected the executor to pass no caller override, leaving resolution to the engine's TimeoutResolver")
	}
}

func TestDiscoverIsLongTimeoutDefault(t *testing.T) {
	desc, ok := Describe("plugins.discover")
	if !ok {
		t.Fatalf("expected plugins.discover to be in the command set")
	}
	if desc.DefaultTimeout <= 0 {
		t.Fatalf("expected a positive default timeout")
	}
	if desc.DefaultTimeout != TimeoutFor("plugins.discover") {
		t.Fatalf("expected TimeoutFor to agree with the descriptor table")
	}
}

func TestTimeoutForUnknownCommandIsZero(t *testing.T) {
	if got := TimeoutFor("nonsense.command"); got != 0 {
		t.Fatalf("expected zero override for an unknown command, got %v", got)
	}
}

func TestGuardedCommandsAreClassified(t *testing.T) {
	desc, ok := Describe("pattern.create")
	if !ok {
		t.Fatalf("expected pattern.create to be in the command set")
	}
	if desc.Safety != SafetyGuarded {
		t.Fatalf("expected pattern.create to be SafetyGuarded, got %v", desc.Safety)
	}
}

func TestFullCommandSetIsRecognised(t *testing.T) {
	names := []string{
		"transport.start", "transport.stop", "transport.record", "transport.state",
		"state.channels", "state.mixer", "state.patterns",
		"pattern.select", "pattern.create", "pattern.rename",
		"pianoroll.addNotes", "pianoroll.clearNotes",
		"plugins.discover", "plugins.get_param", "plugins.set_param",
		"plugins.next_preset", "plugins.prev_preset",
		"mixer.volume", "mixer.pan", "mixer.mute", "mixer.solo",
		"mixer.name", "mixer.color", "mixer.routing", "mixer.sends", "mixer.eq",
		"playlist.mute", "playlist.solo", "playlist.name", "playlist.color", "playlist.get_tracks",
		"project.get_tempo", "project.set_tempo", "project.get_position", "project.set_position",
	}
	for _, n := range names {
		if _, ok := Describe(n); !ok {
			t.Errorf("expected %q to be part of the minimum command set", n)
		}
	}
}
