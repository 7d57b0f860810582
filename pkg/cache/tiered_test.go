package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type structureInfo struct {
	Name     string  `json:"name"`
	Security float64 `json:"security"`
}

func newTestCache(t *testing.T, ttl time.Duration) *Tiered[structureInfo] {
	t.Helper()
	c, err := NewTiered[structureInfo](t.TempDir(), 8, ttl)
	require.NoError(t, err)
	return c
}

func TestTieredGetSetRoundTrip(t *testing.T) {
	c := newTestCache(t, time.Hour)

	_, ok := c.Get("1021975535893")
	assert.False(t, ok)

	require.NoError(t, c.Set("1021975535893", structureInfo{Name: "Fortizar", Security: -0.4}))

	got, ok := c.Get("1021975535893")
	require.True(t, ok)
	assert.Equal(t, "Fortizar", got.Name)
	assert.Equal(t, -0.4, got.Security)
}

func TestTieredTTLBoundary(t *testing.T) {
	c := newTestCache(t, 7*24*time.Hour)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	c.SetClock(func() time.Time { return now })

	require.NoError(t, c.Set("sta", structureInfo{Name: "Keepstar"}))

	// Just inside the TTL
	now = base.Add(6*24*time.Hour + 23*time.Hour)
	_, ok := c.Get("sta")
	assert.True(t, ok, "entry at 6d23h should still be served")

	// Just past the TTL
	now = base.Add(7*24*time.Hour + time.Hour)
	_, ok = c.Get("sta")
	assert.False(t, ok, "entry at 7d1h should be expired")
}

func TestTieredFileTierSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	c1, err := NewTiered[structureInfo](dir, 8, time.Hour)
	require.NoError(t, err)
	require.NoError(t, c1.Set("x", structureInfo{Name: "Astrahus"}))

	// A fresh instance has an empty memory tier but the same directory
	c2, err := NewTiered[structureInfo](dir, 8, time.Hour)
	require.NoError(t, err)

	got, ok := c2.Get("x")
	require.True(t, ok)
	assert.Equal(t, "Astrahus", got.Name)
	// The file hit must be promoted into memory
	assert.Equal(t, 1, c2.Len())
}

func TestTieredCorruptFileIsAMiss(t *testing.T) {
	dir := t.TempDir()
	c, err := NewTiered[structureInfo](dir, 8, time.Hour)
	require.NoError(t, err)

	require.NoError(t, c.Set("bad", structureInfo{Name: "Raitaru"}))

	// Corrupt the file on disk, then drop the memory tier by using a new
	// instance so the read has to go through the file
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	path := filepath.Join(dir, entries[0].Name())
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	c2, err := NewTiered[structureInfo](dir, 8, time.Hour)
	require.NoError(t, err)

	_, ok := c2.Get("bad")
	assert.False(t, ok)

	// Self-healing: the corrupt file is gone
	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTieredMemoryTierIsBounded(t *testing.T) {
	c, err := NewTiered[structureInfo](t.TempDir(), 2, time.Hour)
	require.NoError(t, err)

	require.NoError(t, c.Set("a", structureInfo{Name: "A"}))
	require.NoError(t, c.Set("b", structureInfo{Name: "B"}))
	require.NoError(t, c.Set("c", structureInfo{Name: "C"}))

	assert.Equal(t, 2, c.Len())

	// The evicted entry is still served from the file tier
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "A", got.Name)
}

func TestTieredClearAll(t *testing.T) {
	dir := t.TempDir()
	c, err := NewTiered[structureInfo](dir, 8, time.Hour)
	require.NoError(t, err)

	require.NoError(t, c.Set("a", structureInfo{Name: "A"}))
	require.NoError(t, c.Set("b", structureInfo{Name: "B"}))

	require.NoError(t, c.ClearAll())

	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTieredSweepExpired(t *testing.T) {
	dir := t.TempDir()
	c, err := NewTiered[structureInfo](dir, 8, time.Hour)
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	c.SetClock(func() time.Time { return now })

	require.NoError(t, c.Set("old", structureInfo{Name: "Old"}))

	now = base.Add(30 * time.Minute)
	require.NoError(t, c.Set("fresh", structureInfo{Name: "Fresh"}))

	now = base.Add(90 * time.Minute)
	assert.Equal(t, 1, c.SweepExpired())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, ok := c.Get("fresh")
	assert.True(t, ok)
}

func TestTieredDelete(t *testing.T) {
	c := newTestCache(t, time.Hour)

	require.NoError(t, c.Set("a", structureInfo{Name: "A"}))
	c.Delete("a")

	_, ok := c.Get("a")
	assert.False(t, ok)
}
