// Package shadow implements the FL Bridge Core Shadow Store (C6, spec.md
// §4.6): a write ledger that masks an unreliable host parameter-read API.
package shadow

import (
	"sync"
	"time"

	"github.com/szichedelic/flbridge-core/internal/flbridge/params"
)

// Source tags where a ShadowEntry's value came from.
type Source int

const (
	SourceDiscovered Source = iota
	SourceUser
)

// Tolerance is the maximum absolute difference between a shadow value and a
// live read before a consumer should flag "external change or reporting
// lag" (spec.md §4.6). The store itself does not compare; it only records.
const Tolerance = 0.01

// Entry is one cached last-written parameter value.
type Entry struct {
	Address    params.PluginAddress
	ParamIndex int
	Value      float64
	WrittenAt  time.Time
	Source     Source
}

type key struct {
	address    params.PluginAddress
	paramIndex int
}

// Store holds the last-written value per (address, paramIndex), tagged by
// source, honoring the non-demotion invariant: once Source==SourceUser, a
// subsequent SourceDiscovered write for the same key is dropped.
type Store struct {
	mu      sync.RWMutex
	entries map[key]Entry
}

// New creates an empty Store.
func New() *Store {
	return &Store{entries: make(map[key]Entry)}
}

// RecordUserWrite records a successful write made through the engine. User
// writes always take effect, regardless of what was previously stored.
func (s *Store) RecordUserWrite(address params.PluginAddress, paramIndex int, value float64) {
	s.write(key{address, paramIndex}, Entry{
		Address:    address,
		ParamIndex: paramIndex,
		Value:      value,
		WrittenAt:  time.Now(),
		Source:     SourceUser,
	})
}

// SeedDiscovered records a discovery-time value for (address, paramIndex),
// but only if no user-sourced entry already exists there — discovery must
// never demote or overwrite a user write (spec.md §4.6 invariant, §3
// ShadowEntry invariant).
func (s *Store) SeedDiscovered(address params.PluginAddress, paramIndex int, value float64) {
	k := key{address, paramIndex}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[k]; ok && existing.Source == SourceUser {
		return
	}
	s.entries[k] = Entry{
		Address:    address,
		ParamIndex: paramIndex,
		Value:      value,
		WrittenAt:  time.Now(),
		Source:     SourceDiscovered,
	}
}

// SeedDiscoveredEntry seeds every parameter in a freshly discovered entry in
// one call, for use by the discovery path once a plugins.discover response
// has been parsed.
func (s *Store) SeedDiscoveredEntry(entry params.ParameterDirectoryEntry) {
	for _, p := range entry.Parameters {
		s.SeedDiscovered(p.Address, p.ParamIndex, p.NormalisedValue)
	}
}

func (s *Store) write(k key, e Entry) {
	s.mu.Lock()
	s.entries[k] = e
	s.mu.Unlock()
}

// Get returns the cached entry for (address, paramIndex), if any.
func (s *Store) Get(address params.PluginAddress, paramIndex int) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key{address, paramIndex}]
	return e, ok
}

// Diverges reports whether liveValue differs from the cached shadow value
// by more than Tolerance. Returns false if there is no cached entry to
// compare against.
func (s *Store) Diverges(address params.PluginAddress, paramIndex int, liveValue float64) bool {
	e, ok := s.Get(address, paramIndex)
	if !ok {
		return false
	}
	diff := e.Value - liveValue
	if diff < 0 {
		diff = -diff
	}
	return diff > Tolerance
}
