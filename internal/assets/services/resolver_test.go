package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-aura/internal/assets/models"
	"go-aura/pkg/cache"
	"go-aura/pkg/evegateway/structures"
	"go-aura/pkg/sde"
)

type fakeSDE struct {
	stations map[int64]sde.Station
	systems  map[int32]sde.SolarSystem
	regions  map[int32]string
	types    map[int32]sde.ItemType
}

func (f *fakeSDE) GetStation(_ context.Context, id int64) (*sde.Station, error) {
	if st, ok := f.stations[id]; ok {
		return &st, nil
	}
	return nil, sde.ErrNotFound
}

func (f *fakeSDE) GetSolarSystem(_ context.Context, id int32) (*sde.SolarSystem, error) {
	if sys, ok := f.systems[id]; ok {
		return &sys, nil
	}
	return nil, sde.ErrNotFound
}

func (f *fakeSDE) GetRegionName(_ context.Context, id int32) (string, error) {
	if name, ok := f.regions[id]; ok {
		return name, nil
	}
	return "", sde.ErrNotFound
}

func (f *fakeSDE) GetType(_ context.Context, id int32) (*sde.ItemType, error) {
	if it, ok := f.types[id]; ok {
		return &it, nil
	}
	return nil, sde.ErrNotFound
}

func (f *fakeSDE) Close() error { return nil }

type fakeStructures struct {
	calls     int
	responses map[int64]*structures.StructureResponse
	err       error
}

func (f *fakeStructures) GetStructure(_ context.Context, structureID int64, _ string) (*structures.StructureResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if resp, ok := f.responses[structureID]; ok {
		return resp, nil
	}
	return nil, errors.New("structure not found")
}

type fakeTokens struct{ err error }

func (f fakeTokens) GetAccessToken(_ context.Context, _ int32) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "token", nil
}

func testSDE() *fakeSDE {
	return &fakeSDE{
		stations: map[int64]sde.Station{
			60003760: {StationID: 60003760, Name: "Jita IV - Moon 4 - Caldari Navy Assembly Plant", SolarSystemID: 30000142, RegionID: 10000002},
		},
		systems: map[int32]sde.SolarSystem{
			30000142: {SolarSystemID: 30000142, Name: "Jita", RegionID: 10000002, Security: 0.9459},
			30002187: {SolarSystemID: 30002187, Name: "Amarr", RegionID: 10000043, Security: 1.0},
		},
		regions: map[int32]string{
			10000002: "The Forge",
			10000043: "Domain",
		},
		types: map[int32]sde.ItemType{
			587: {TypeID: 587, Name: "Rifter", GroupID: 25},
			34:  {TypeID: 34, Name: "Tritanium", GroupID: 18},
		},
	}
}

func newTestResolver(t *testing.T, structuresClient structures.Client, tokens fakeTokens) *LocationResolver {
	t.Helper()
	structureCache, err := cache.NewTiered[models.LocationInfoDetail](t.TempDir(), 16, StructureCacheTTL)
	require.NoError(t, err)
	return NewLocationResolver(testSDE(), structuresClient, tokens, structureCache)
}

func TestResolveStation(t *testing.T) {
	r := newTestResolver(t, &fakeStructures{}, fakeTokens{})

	info, err := r.Resolve(context.Background(), 60003760, models.LocationTypeStation, 1)
	require.NoError(t, err)

	assert.Equal(t, "Jita IV - Moon 4 - Caldari Navy Assembly Plant", info.DisplayName)
	assert.Equal(t, "Jita", info.SolarSystemName)
	assert.Equal(t, "The Forge", info.RegionName)
	assert.InDelta(t, 0.9459, info.Security, 1e-9)
}

func TestResolveSolarSystem(t *testing.T) {
	r := newTestResolver(t, &fakeStructures{}, fakeTokens{})

	info, err := r.Resolve(context.Background(), 30002187, models.LocationTypeSolarSystem, 1)
	require.NoError(t, err)

	assert.Equal(t, "Amarr", info.DisplayName)
	assert.Equal(t, "Domain", info.RegionName)
}

func TestResolveUnknownStation(t *testing.T) {
	r := newTestResolver(t, &fakeStructures{}, fakeTokens{})

	_, err := r.Resolve(context.Background(), 60099999, models.LocationTypeStation, 1)
	assert.Error(t, err)
}

func TestResolveUnknownLocationType(t *testing.T) {
	r := newTestResolver(t, &fakeStructures{}, fakeTokens{})

	_, err := r.Resolve(context.Background(), 999999, models.LocationTypeOther, 1)
	assert.Error(t, err)
}

func TestResolveStructureFetchesAndCaches(t *testing.T) {
	client := &fakeStructures{
		responses: map[int64]*structures.StructureResponse{
			1021975535893: {Name: "Perimeter - Tranquility Trading Tower", SolarSystemID: 30000142},
		},
	}
	r := newTestResolver(t, client, fakeTokens{})

	info, err := r.Resolve(context.Background(), 1021975535893, models.LocationTypeStructure, 1)
	require.NoError(t, err)
	assert.Equal(t, "Perimeter - Tranquility Trading Tower", info.DisplayName)
	assert.Equal(t, "Jita", info.SolarSystemName)
	assert.Equal(t, 1, client.calls)

	// Second resolve is served from cache
	_, err = r.Resolve(context.Background(), 1021975535893, models.LocationTypeStructure, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls)
}

func TestResolveStructureNoStaleFallback(t *testing.T) {
	structureCache, err := cache.NewTiered[models.LocationInfoDetail](t.TempDir(), 16, StructureCacheTTL)
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	now := base
	structureCache.SetClock(func() time.Time { return now })

	client := &fakeStructures{
		responses: map[int64]*structures.StructureResponse{
			42: {Name: "Old Name", SolarSystemID: 30000142},
		},
	}
	r := NewLocationResolver(testSDE(), client, fakeTokens{}, structureCache)

	_, err = r.Resolve(context.Background(), 42, models.LocationTypeStructure, 1)
	require.NoError(t, err)
	require.Equal(t, 1, client.calls)

	// Past the TTL the cached entry must not be reused; a failing fetch
	// surfaces as an error rather than stale data
	now = base.Add(StructureCacheTTL + time.Hour)
	client.err = errors.New("esi unreachable")

	_, err = r.Resolve(context.Background(), 42, models.LocationTypeStructure, 1)
	assert.Error(t, err)
	assert.Equal(t, 2, client.calls)
}

func TestResolveStructureTokenFailure(t *testing.T) {
	r := newTestResolver(t, &fakeStructures{}, fakeTokens{err: errors.New("no token")})

	_, err := r.Resolve(context.Background(), 42, models.LocationTypeStructure, 1)
	assert.Error(t, err)
}

func TestInvalidateStructureForcesRefetch(t *testing.T) {
	client := &fakeStructures{
		responses: map[int64]*structures.StructureResponse{
			42: {Name: "Astrahus", SolarSystemID: 30000142},
		},
	}
	r := newTestResolver(t, client, fakeTokens{})

	_, err := r.Resolve(context.Background(), 42, models.LocationTypeStructure, 1)
	require.NoError(t, err)

	r.InvalidateStructure(42)

	_, err = r.Resolve(context.Background(), 42, models.LocationTypeStructure, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
}
