package shadow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/szichedelic/flbridge-core/internal/flbridge/params"
)

func TestUserWritePreservedAcrossDiscoverySeed(t *testing.T) {
	s := New()
	addr := params.PluginAddress{OwnerIndex: 0, SlotIndex: -1}

	s.RecordUserWrite(addr, 3, 0.9)
	s.SeedDiscovered(addr, 3, 0.5)

	entry, ok := s.Get(addr, 3)
	require.True(t, ok)
	assert.Equal(t, 0.9, entry.Value)
	assert.Equal(t, SourceUser, entry.Source)
}

func TestDiscoverySeedsOnlyWhenAbsent(t *testing.T) {
	s := New()
	addr := params.PluginAddress{OwnerIndex: 0, SlotIndex: -1}

	s.SeedDiscovered(addr, 7, 0.2)
	entry, ok := s.Get(addr, 7)
	require.True(t, ok)
	assert.Equal(t, 0.2, entry.Value)
	assert.Equal(t, SourceDiscovered, entry.Source)

	s.SeedDiscovered(addr, 7, 0.4)
	entry, _ = s.Get(addr, 7)
	assert.Equal(t, 0.4, entry.Value, "re-discovery may update a discovered-sourced entry")
}

func TestGetMissingEntryIsAbsent(t *testing.T) {
	s := New()
	_, ok := s.Get(params.PluginAddress{OwnerIndex: 9, SlotIndex: 9}, 0)
	assert.False(t, ok)
}

func TestDivergesFlagsLargeDifference(t *testing.T) {
	s := New()
	addr := params.PluginAddress{OwnerIndex: 0, SlotIndex: -1}
	s.RecordUserWrite(addr, 3, 0.5)

	assert.False(t, s.Diverges(addr, 3, 0.505))
	assert.True(t, s.Diverges(addr, 3, 0.9))
	assert.False(t, s.Diverges(addr, 99, 0.9), "no cached entry means no divergence claim")
}

func TestSeedDiscoveredEntryPopulatesAllParameters(t *testing.T) {
	s := New()
	addr := params.PluginAddress{OwnerIndex: 0, SlotIndex: -1}
	entry := params.ParameterDirectoryEntry{
		Address: addr,
		Parameters: []params.ParameterRecord{
			{Address: addr, ParamIndex: 3, DisplayName: "Cutoff", NormalisedValue: 0.5},
			{Address: addr, ParamIndex: 7, DisplayName: "Resonance", NormalisedValue: 0.2},
		},
	}
	s.SeedDiscoveredEntry(entry)

	cutoff, ok := s.Get(addr, 3)
	require.True(t, ok)
	assert.Equal(t, 0.5, cutoff.Value)

	reso, ok := s.Get(addr, 7)
	require.True(t, ok)
	assert.Equal(t, 0.2, reso.Value)
}
