// Package hooks implements the FL Bridge Core event hook registry
// (SPEC_FULL.md §4.10): asynchronous subscribers notified of connection
// lifecycle and render-artifact events, independent of the request/response
// protocol itself.
package hooks

import "context"

// Hook represents a handler that can be executed when an event occurs.
type Hook interface {
	Execute(ctx context.Context, event Event) error
	Type() string
	ID() string
}

// Config configures the hook manager's execution pool and stdio output.
type Config struct {
	// Timeout for a single hook execution (default: 30s).
	Timeout string `json:"timeout"`
	// Concurrency is the maximum number of concurrent hook executions
	// (default: 10).
	Concurrency int `json:"concurrency"`
	// StdioFormat enables structured stdio output: "json", "env", or "".
	StdioFormat string `json:"stdio_format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     "30s",
		Concurrency: 10,
		StdioFormat: "",
	}
}
