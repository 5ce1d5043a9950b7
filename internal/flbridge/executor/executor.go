// Package executor implements the FL Bridge Core Command Executor Adapter
// (C8, spec.md §4.8): the fixed vocabulary of named operations available
// over the wire, each with a default timeout and a safety classification.
package executor

import (
	"context"
	"time"

	"github.com/szichedelic/flbridge-core/internal/flbridge/engine"
	"github.com/szichedelic/flbridge-core/internal/flbridge/flerr"
)

// Safety expresses whether the host may refuse a command when its internal
// write guards are unset.
type Safety int

const (
	// SafetyReadOnly commands never mutate host state.
	SafetyReadOnly Safety = iota
	// SafetyWrite commands mutate host state and are never refused by guards.
	SafetyWrite
	// SafetyGuarded commands mutate host state and may be refused
	// (HostUnsafe) while internal guards are unset.
	SafetyGuarded
)

// CommandDescriptor describes one named operation in the fixed vocabulary.
type CommandDescriptor struct {
	Name           string
	Safety         Safety
	DefaultTimeout time.Duration
	Notes          string
}

// Runner submits a command through the Request Engine. Satisfied by
// *engine.Engine; an interface here keeps the executor testable without a
// live transport.
type Runner interface {
	Execute(ctx context.Context, command string, params map[string]interface{}, timeout time.Duration) (map[string]interface{}, error)
}

// commandSet is the complete minimum command set from spec.md §4.8.
// Commands not listed here are rejected as UnknownCommand.
var commandSet = buildCommandSet()

func buildCommandSet() map[string]CommandDescriptor {
	readOnly := []string{
		"transport.state",
		"state.channels", "state.mixer", "state.patterns",
		"plugins.get_param", "playlist.get_tracks",
		"project.get_tempo", "project.get_position",
	}
	write := []string{
		"transport.start", "transport.stop", "transport.record",
		"pianoroll.addNotes", "pianoroll.clearNotes",
		"plugins.set_param",
		"plugins.next_preset", "plugins.prev_preset",
		"mixer.volume", "mixer.pan", "mixer.mute", "mixer.solo",
		"mixer.name", "mixer.color", "mixer.routing", "mixer.sends", "mixer.eq",
		"playlist.mute", "playlist.solo", "playlist.name", "playlist.color",
		"project.set_tempo", "project.set_position",
	}
	guarded := []string{
		"pattern.select", "pattern.create", "pattern.rename",
	}
	longTimeout := map[string]bool{"plugins.discover": true}

	set := make(map[string]CommandDescriptor, len(readOnly)+len(write)+len(guarded)+1)
	add := func(names []string, safety Safety) {
		for _, n := range names {
			timeout := engine.DefaultInteractiveTimeout
			if longTimeout[n] {
				timeout = engine.DefaultDiscoveryTimeout
			}
			set[n] = CommandDescriptor{Name: n, Safety: safety, DefaultTimeout: timeout}
		}
	}
	add(readOnly, SafetyReadOnly)
	add(write, SafetyWrite)
	add(guarded, SafetyGuarded)
	set["plugins.discover"] = CommandDescriptor{
		Name:           "plugins.discover",
		Safety:         SafetyReadOnly,
		DefaultTimeout: engine.DefaultDiscoveryTimeout,
		Notes:          "long-timeout command; returns the filtered parameter table for one plugin address",
	}
	return set
}

// Executor rejects commands outside the fixed vocabulary and otherwise
// delegates to Runner without a caller timeout, so the Runner's own
// per-command resolution (TimeoutFor, in production) applies.
type Executor struct {
	runner Runner
}

// New creates an Executor over runner.
func New(runner Runner) *Executor {
	return &Executor{runner: runner}
}

// Describe returns the CommandDescriptor for name, if it is part of the
// fixed vocabulary.
func Describe(name string) (CommandDescriptor, bool) {
	d, ok := commandSet[name]
	return d, ok
}

// TimeoutFor implements engine.TimeoutResolver, resolving a command's
// configured default. Commands outside the vocabulary resolve to 0 (no
// override), letting the engine fall back to its own global default; such
// a submission is rejected by Execute before it ever reaches the engine.
func TimeoutFor(command string) time.Duration {
	if d, ok := commandSet[command]; ok {
		return d.DefaultTimeout
	}
	return 0
}

// Execute rejects name as UnknownCommand if it is not in the fixed
// vocabulary; otherwise submits it through the Runner with no caller
// override, letting the engine resolve the per-command default via
// TimeoutFor (see engine.TimeoutResolver).
func (e *Executor) Execute(ctx context.Context, name string, params map[string]interface{}) (map[string]interface{}, error) {
	if _, ok := commandSet[name]; !ok {
		return nil, flerr.NewUnknownCommandError(name)
	}
	return e.runner.Execute(ctx, name, params, 0)
}
