// Package params implements the FL Bridge Core Parameter Directory (C5,
// spec.md §4.5): discovery-backed name resolution over a host's fixed-size,
// mostly-unnamed parameter table.
package params

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/szichedelic/flbridge-core/internal/flbridge/flerr"
	"github.com/szichedelic/flbridge-core/internal/logging"
)

// PluginAddress identifies a plugin instance within the current host
// session. slotIndex == -1 denotes the generator position on ownerIndex;
// slotIndex in [0, maxEffectSlots) denotes an effect position. Addresses are
// not stable across host sessions.
type PluginAddress struct {
	OwnerIndex int
	SlotIndex  int
}

// ParameterRecord is one named, normalised-value parameter slot reported by
// discovery, after blank-name filtering.
type ParameterRecord struct {
	Address         PluginAddress
	ParamIndex      int
	DisplayName     string
	NormalisedValue float64
}

// ParameterDirectoryEntry is the cached discovery result for one address.
type ParameterDirectoryEntry struct {
	Address           PluginAddress
	PluginDisplayName string
	Parameters        []ParameterRecord // ordered: discovery/host order, never reordered
	byName            map[string]ParameterRecord
	DiscoveredAt      time.Time
}

// Discoverer issues the `plugins.discover` command and returns the filtered
// parameter table for address. Backed by the Request Engine in production.
type Discoverer interface {
	Discover(ctx context.Context, address PluginAddress) (ParameterDirectoryEntry, error)
}

// AliasTable maps a query string to a canonical display name before
// resolution begins. The directory consumes it opaquely; it does not care
// where aliases come from.
type AliasTable map[string]string

// Directory caches ParameterDirectoryEntry values per PluginAddress and
// resolves symbolic names through the alias/exact/prefix/substring tiers
// described in spec.md §4.5.
type Directory struct {
	discoverer Discoverer
	aliases    AliasTable

	mu      sync.RWMutex
	entries map[PluginAddress]*ParameterDirectoryEntry
}

// New creates a Directory. aliases may be nil (no alias layer).
func New(discoverer Discoverer, aliases AliasTable) *Directory {
	return &Directory{
		discoverer: discoverer,
		aliases:    aliases,
		entries:    make(map[PluginAddress]*ParameterDirectoryEntry),
	}
}

func normaliseKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Resolve looks up query against address's cached entry following the
// alias → exact → prefix → substring tiers, triggering discovery and
// retrying exactly once if the address has not yet been discovered.
func (d *Directory) Resolve(ctx context.Context, address PluginAddress, query string) (ParameterRecord, error) {
	canonical := query
	if d.aliases != nil {
		if mapped, ok := d.aliases[normaliseKey(query)]; ok {
			canonical = mapped
		}
	}

	rec, found := d.lookup(address, canonical)
	if found {
		return rec, nil
	}

	if !d.discovered(address) {
		if err := d.discover(ctx, address); err != nil {
			return ParameterRecord{}, err
		}
		rec, found = d.lookup(address, canonical)
		if found {
			return rec, nil
		}
	}

	return ParameterRecord{}, flerr.NewParameterNotFoundError(address.OwnerIndex, address.SlotIndex, query)
}

func (d *Directory) discovered(address PluginAddress) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.entries[address]
	return ok
}

func (d *Directory) discover(ctx context.Context, address PluginAddress) error {
	entry, err := d.discoverer.Discover(ctx, address)
	if err != nil {
		return err
	}
	d.store(entry)
	return nil
}

// Discover forces a fresh discovery for address, overwriting any cached
// entry, and returns the resulting table. Used outside the lazy
// resolve-on-miss path — e.g. by the CLI's one-shot `discover` subcommand.
func (d *Directory) Discover(ctx context.Context, address PluginAddress) (ParameterDirectoryEntry, error) {
	entry, err := d.discoverer.Discover(ctx, address)
	if err != nil {
		return ParameterDirectoryEntry{}, err
	}
	d.store(entry)
	return entry, nil
}

// store installs a freshly discovered entry, building its byName index.
// Both the lazy resolve-on-miss path and the forced Discover path use it.
func (d *Directory) store(entry ParameterDirectoryEntry) {
	byName := make(map[string]ParameterRecord, len(entry.Parameters))
	for _, p := range entry.Parameters {
		name := normaliseKey(p.DisplayName)
		if name == "" {
			continue // spec.md §3 ParameterRecord invariant: blank names never surface
		}
		if _, exists := byName[name]; !exists {
			byName[name] = p // first match wins in stored order on ties
		}
	}
	entry.byName = byName
	entry.DiscoveredAt = time.Now()

	d.mu.Lock()
	d.entries[entry.Address] = &entry
	d.mu.Unlock()

	logging.Debug("directory entry stored", "owner_index", entry.Address.OwnerIndex, "slot_index", entry.Address.SlotIndex, "params", len(entry.Parameters))
}

func (d *Directory) lookup(address PluginAddress, query string) (ParameterRecord, bool) {
	d.mu.RLock()
	entry, ok := d.entries[address]
	d.mu.RUnlock()
	if !ok {
		return ParameterRecord{}, false
	}

	q := normaliseKey(query)
	if q == "" {
		return ParameterRecord{}, false
	}

	if rec, ok := entry.byName[q]; ok {
		return rec, true
	}

	for _, p := range entry.Parameters {
		name := normaliseKey(p.DisplayName)
		if name == "" {
			continue // blank names never surface, not even through fuzzy tiers
		}
		if strings.HasPrefix(name, q) || strings.HasPrefix(q, name) {
			return p, true
		}
	}

	for _, p := range entry.Parameters {
		name := normaliseKey(p.DisplayName)
		if name == "" {
			continue
		}
		if strings.Contains(name, q) || strings.Contains(q, name) {
			return p, true
		}
	}

	return ParameterRecord{}, false
}

// Invalidate removes the cached entry for address. Invalidate with the zero
// PluginAddress value is NOT treated specially; use InvalidateAll to clear
// every entry.
func (d *Directory) Invalidate(address PluginAddress) {
	d.mu.Lock()
	delete(d.entries, address)
	d.mu.Unlock()
}

// InvalidateAll clears every cached entry.
func (d *Directory) InvalidateAll() {
	d.mu.Lock()
	d.entries = make(map[PluginAddress]*ParameterDirectoryEntry)
	d.mu.Unlock()
}

// Entry returns a copy of the cached entry for address, if any, for callers
// that need the full parameter list without triggering resolution.
func (d *Directory) Entry(address PluginAddress) (ParameterDirectoryEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.entries[address]
	if !ok {
		return ParameterDirectoryEntry{}, false
	}
	return *entry, true
}
