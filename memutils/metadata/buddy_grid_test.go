package metadata_test

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/atlas/memutils"
	"github.com/vkngwrapper/atlas/memutils/metadata"
)

type regionSnapshot struct {
	Location metadata.Location
	Size     metadata.Size
	Free     bool
}

func snapshot(t *testing.T, grid *metadata.BuddyGrid[int]) []regionSnapshot {
	var regions []regionSnapshot
	err := grid.VisitAllRegions(func(index metadata.TileIndex, location metadata.Location, size metadata.Size, value int, free bool) error {
		regions = append(regions, regionSnapshot{Location: location, Size: size, Free: free})
		return nil
	})
	require.NoError(t, err)
	return regions
}

func newGrid(t *testing.T, widthExp, heightExp, layers, minExp int) *metadata.BuddyGrid[int] {
	grid, err := metadata.NewBuddyGrid[int](metadata.GridDescription{
		WidthExponent:   widthExp,
		HeightExponent:  heightExp,
		Layers:          layers,
		MinTileExponent: minExp,
	})
	require.NoError(t, err)
	require.NoError(t, grid.Validate())
	return grid
}

func TestBuddyGridBasicAcquire(t *testing.T) {
	// 16x16 pixels in 4x4 tiles
	grid := newGrid(t, 2, 2, 1, 2)

	var stats memutils.DetailedStatistics
	stats.Clear()
	grid.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			LayerCount: 1,
			LayerArea:  256,
		},
		FreeTileCount:   1,
		AllocationMin:   math.MaxInt,
		AllocationMax:   0,
		FreeTileAreaMin: 256,
		FreeTileAreaMax: 256,
	}, stats)

	index, ok := grid.Acquire(metadata.Size{Width: 4, Height: 4})
	require.True(t, ok)
	require.Equal(t, metadata.Location{Layer: 0, X: 0, Y: 0}, grid.TileLocation(index))
	require.Equal(t, metadata.Size{Width: 4, Height: 4}, grid.TileSize(index))
	require.False(t, grid.IsAvailable(index))
	require.NoError(t, grid.Validate())

	stats.Clear()
	grid.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			LayerCount:      1,
			AllocationCount: 1,
			LayerArea:       256,
			AllocationArea:  16,
		},
		FreeTileCount:   4,
		AllocationMin:   16,
		AllocationMax:   16,
		FreeTileAreaMin: 16,
		FreeTileAreaMax: 128,
	}, stats)

	require.Equal(t, []regionSnapshot{
		{Location: metadata.Location{X: 0, Y: 0}, Size: metadata.Size{Width: 4, Height: 4}},
		{Location: metadata.Location{X: 4, Y: 0}, Size: metadata.Size{Width: 4, Height: 4}, Free: true},
		{Location: metadata.Location{X: 0, Y: 4}, Size: metadata.Size{Width: 8, Height: 4}, Free: true},
		{Location: metadata.Location{X: 8, Y: 0}, Size: metadata.Size{Width: 8, Height: 8}, Free: true},
		{Location: metadata.Location{X: 0, Y: 8}, Size: metadata.Size{Width: 16, Height: 8}, Free: true},
	}, snapshot(t, grid))

	var simpleStats memutils.Statistics
	grid.AddStatistics(&simpleStats)
	require.Equal(t, memutils.Statistics{
		LayerCount:      1,
		AllocationCount: 1,
		LayerArea:       256,
		AllocationArea:  16,
	}, simpleStats)

	require.NoError(t, grid.Release(index))
	require.NoError(t, grid.Validate())
	require.True(t, grid.IsEmpty())
	require.Equal(t, 1, grid.FreeRegionsCount())
	require.Equal(t, 256, grid.SumFreeSize())
}

func TestBuddyGridRoundsUpToSizeClass(t *testing.T) {
	grid := newGrid(t, 4, 4, 1, 2)

	index, ok := grid.Acquire(metadata.Size{Width: 5, Height: 3})
	require.True(t, ok)
	require.Equal(t, metadata.Size{Width: 8, Height: 4}, grid.TileSize(index))

	index, ok = grid.Acquire(metadata.Size{Width: 1, Height: 17})
	require.True(t, ok)
	require.Equal(t, metadata.Size{Width: 4, Height: 32}, grid.TileSize(index))
	require.NoError(t, grid.Validate())
}

func TestBuddyGridInvalidSizes(t *testing.T) {
	grid := newGrid(t, 2, 1, 1, 2)

	for _, size := range []metadata.Size{
		{Width: 0, Height: 4},
		{Width: 4, Height: 0},
		{Width: -1, Height: 4},
		{Width: 17, Height: 4},
		{Width: 4, Height: 9},
	} {
		require.False(t, grid.Fits(size), "%+v", size)
		require.False(t, grid.HasSpace(size), "%+v", size)

		index, ok := grid.Acquire(size)
		require.False(t, ok, "%+v", size)
		require.Equal(t, metadata.NoTile, index)
	}

	require.True(t, grid.Fits(metadata.Size{Width: 16, Height: 8}))
	require.NoError(t, grid.Validate())
}

func TestBuddyGridInvalidDescription(t *testing.T) {
	_, err := metadata.NewBuddyGrid[int](metadata.GridDescription{WidthExponent: 17, HeightExponent: 2, Layers: 1})
	require.Error(t, err)

	_, err = metadata.NewBuddyGrid[int](metadata.GridDescription{WidthExponent: 2, HeightExponent: -1, Layers: 1})
	require.Error(t, err)

	_, err = metadata.NewBuddyGrid[int](metadata.GridDescription{WidthExponent: 2, HeightExponent: 2, Layers: 0})
	require.Error(t, err)

	_, err = metadata.NewBuddyGrid[int](metadata.GridDescription{WidthExponent: 2, HeightExponent: 2, Layers: 1, MinTileExponent: 15})
	require.Error(t, err)

	// Too many minimum tiles to index
	_, err = metadata.NewBuddyGrid[int](metadata.GridDescription{WidthExponent: 16, HeightExponent: 16, Layers: 1})
	require.Error(t, err)
	_, err = metadata.NewBuddyGrid[int](metadata.GridDescription{WidthExponent: 15, HeightExponent: 15, Layers: 3})
	require.Error(t, err)

	_, err = metadata.NewBuddyGrid[int](metadata.GridDescription{WidthExponent: 16, HeightExponent: 16, Layers: 8, MinTileExponent: 14})
	require.Error(t, err)

	// The largest accepted grid still measures its area without overflow
	grid, err := metadata.NewBuddyGrid[int](metadata.GridDescription{WidthExponent: 16, HeightExponent: 14, Layers: 2, MinTileExponent: 14})
	require.NoError(t, err)
	require.Equal(t, 1<<59, grid.Size())
	require.Equal(t, grid.Size(), grid.SumFreeSize())

	var stats memutils.Statistics
	grid.AddStatistics(&stats)
	require.Equal(t, 1<<59, stats.LayerArea)
	require.Equal(t, 0, stats.AllocationArea)
}

func TestBuddyGridReleaseErrors(t *testing.T) {
	grid := newGrid(t, 2, 2, 1, 0)

	require.Error(t, grid.Release(metadata.NoTile))
	require.Error(t, grid.Release(50))

	index, ok := grid.Acquire(metadata.Size{Width: 1, Height: 1})
	require.True(t, ok)

	require.NoError(t, grid.Release(index))
	// The tile was coalesced away or is available; either way it cannot be released again
	require.Error(t, grid.Release(index))
	require.NoError(t, grid.Validate())
}

func TestBuddyGridFullGrid(t *testing.T) {
	grid := newGrid(t, 1, 1, 1, 2)

	var indices []metadata.TileIndex
	for i := 0; i < 4; i++ {
		index, ok := grid.Acquire(metadata.Size{Width: 4, Height: 4})
		require.True(t, ok)
		indices = append(indices, index)
	}

	require.False(t, grid.HasSpace(metadata.Size{Width: 1, Height: 1}))
	_, ok := grid.Acquire(metadata.Size{Width: 4, Height: 4})
	require.False(t, ok)
	require.Equal(t, 0, grid.SumFreeSize())
	require.Equal(t, 0, grid.FreeRegionsCount())
	require.NoError(t, grid.Validate())

	locations := map[metadata.Location]bool{}
	for _, index := range indices {
		locations[grid.TileLocation(index)] = true
	}
	require.Equal(t, map[metadata.Location]bool{
		{X: 0, Y: 0}: true,
		{X: 4, Y: 0}: true,
		{X: 0, Y: 4}: true,
		{X: 4, Y: 4}: true,
	}, locations)

	for _, index := range indices {
		require.NoError(t, grid.Release(index))
		require.NoError(t, grid.Validate())
	}

	require.Equal(t, 1, grid.FreeRegionsCount())
	require.True(t, grid.HasSpace(metadata.Size{Width: 8, Height: 8}))
}

func TestBuddyGridAdjacentReleaseCoalesces(t *testing.T) {
	for _, reverse := range []bool{false, true} {
		grid := newGrid(t, 1, 1, 1, 2)

		var indices []metadata.TileIndex
		for i := 0; i < 4; i++ {
			index, ok := grid.Acquire(metadata.Size{Width: 4, Height: 4})
			require.True(t, ok)
			indices = append(indices, index)
		}

		// The first two tiles share the top row
		require.Equal(t, metadata.Location{X: 0, Y: 0}, grid.TileLocation(indices[0]))
		require.Equal(t, metadata.Location{X: 4, Y: 0}, grid.TileLocation(indices[1]))

		first, second := indices[0], indices[1]
		if reverse {
			first, second = second, first
		}

		require.False(t, grid.HasSpace(metadata.Size{Width: 8, Height: 4}))
		require.NoError(t, grid.Release(first))
		require.NoError(t, grid.Validate())
		require.False(t, grid.HasSpace(metadata.Size{Width: 8, Height: 4}))
		require.True(t, grid.HasSpace(metadata.Size{Width: 4, Height: 4}))

		require.NoError(t, grid.Release(second))
		require.NoError(t, grid.Validate())
		require.True(t, grid.HasSpace(metadata.Size{Width: 8, Height: 4}))
		require.False(t, grid.HasSpace(metadata.Size{Width: 8, Height: 8}))
		require.Equal(t, 1, grid.FreeRegionsCount())

		index, ok := grid.Acquire(metadata.Size{Width: 8, Height: 4})
		require.True(t, ok)
		require.Equal(t, metadata.Location{X: 0, Y: 0}, grid.TileLocation(index))
	}
}

func TestBuddyGridInverseOnFreshGrid(t *testing.T) {
	for _, size := range []metadata.Size{
		{Width: 4, Height: 4},
		{Width: 4, Height: 8},
		{Width: 8, Height: 4},
		{Width: 4, Height: 16},
		{Width: 16, Height: 4},
		{Width: 16, Height: 16},
		{Width: 32, Height: 8},
	} {
		grid := newGrid(t, 3, 2, 2, 2)
		before := snapshot(t, grid)

		index, ok := grid.Acquire(size)
		require.True(t, ok, "%+v", size)
		require.NoError(t, grid.Validate())

		require.NoError(t, grid.Release(index))
		require.NoError(t, grid.Validate())
		require.Equal(t, before, snapshot(t, grid), "%+v", size)
	}
}

func TestBuddyGridInverseAroundAllocation(t *testing.T) {
	grid := newGrid(t, 2, 2, 1, 2)

	fixed, ok := grid.Acquire(metadata.Size{Width: 4, Height: 4})
	require.True(t, ok)
	before := snapshot(t, grid)

	for _, size := range []metadata.Size{
		{Width: 4, Height: 4},
		{Width: 8, Height: 8},
		{Width: 4, Height: 8},
		{Width: 8, Height: 4},
		{Width: 16, Height: 8},
	} {
		index, ok := grid.Acquire(size)
		require.True(t, ok, "%+v", size)
		require.NoError(t, grid.Validate())

		require.NoError(t, grid.Release(index))
		require.NoError(t, grid.Validate())
		require.Equal(t, before, snapshot(t, grid), "%+v", size)
	}

	require.False(t, grid.HasSpace(metadata.Size{Width: 8, Height: 16}))
	require.NoError(t, grid.Release(fixed))
	require.True(t, grid.HasSpace(metadata.Size{Width: 16, Height: 16}))
}

func TestBuddyGridLayers(t *testing.T) {
	grid := newGrid(t, 1, 1, 2, 2)

	first, ok := grid.Acquire(metadata.Size{Width: 8, Height: 8})
	require.True(t, ok)
	second, ok := grid.Acquire(metadata.Size{Width: 8, Height: 8})
	require.True(t, ok)

	require.Equal(t, metadata.Location{Layer: 0}, grid.TileLocation(first))
	require.Equal(t, metadata.Location{Layer: 1}, grid.TileLocation(second))

	require.False(t, grid.HasSpace(metadata.Size{Width: 4, Height: 4}))
	require.NoError(t, grid.Validate())

	require.NoError(t, grid.Release(second))
	index, ok := grid.Acquire(metadata.Size{Width: 4, Height: 4})
	require.True(t, ok)
	require.Equal(t, metadata.Location{Layer: 1}, grid.TileLocation(index))

	grid.Clear()
	require.True(t, grid.IsEmpty())
	require.Equal(t, 2, grid.FreeRegionsCount())
	require.Equal(t, grid.Size(), grid.SumFreeSize())
	require.NoError(t, grid.Validate())
}

func TestBuddyGridValues(t *testing.T) {
	grid := newGrid(t, 2, 2, 1, 0)

	index, ok := grid.Acquire(metadata.Size{Width: 2, Height: 2})
	require.True(t, ok)
	require.Equal(t, 0, *grid.Value(index))

	*grid.Value(index) = 12

	other, ok := grid.Acquire(metadata.Size{Width: 1, Height: 1})
	require.True(t, ok)
	require.Equal(t, 12, *grid.Value(index))
	require.Equal(t, 0, *grid.Value(other))

	require.NoError(t, grid.Release(index))
	require.NoError(t, grid.Release(other))

	index, ok = grid.Acquire(metadata.Size{Width: 4, Height: 4})
	require.True(t, ok)
	require.Equal(t, 0, *grid.Value(index))
}

func TestBuddyGridRandomWorkload(t *testing.T) {
	grid := newGrid(t, 5, 4, 2, 0)
	rng := rand.New(rand.NewSource(7))

	type live struct {
		index metadata.TileIndex
		size  metadata.Size
	}
	var allocations []live

	for i := 0; i < 4000; i++ {
		if len(allocations) > 0 && rng.Intn(5) < 2 {
			victim := rng.Intn(len(allocations))
			require.NoError(t, grid.Release(allocations[victim].index))
			allocations[victim] = allocations[len(allocations)-1]
			allocations = allocations[:len(allocations)-1]
		} else {
			size := metadata.Size{Width: 1 + rng.Intn(12), Height: 1 + rng.Intn(12)}
			hasSpace := grid.HasSpace(size)
			index, ok := grid.Acquire(size)
			require.Equal(t, hasSpace, ok)
			if ok {
				tileSize := grid.TileSize(index)
				location := grid.TileLocation(index)
				require.GreaterOrEqual(t, tileSize.Width, size.Width)
				require.GreaterOrEqual(t, tileSize.Height, size.Height)
				require.Less(t, tileSize.Width, 2*size.Width)
				require.Less(t, tileSize.Height, 2*size.Height)
				require.Zero(t, location.X%tileSize.Width)
				require.Zero(t, location.Y%tileSize.Height)

				*grid.Value(index) = i
				allocations = append(allocations, live{index: index, size: size})
			}
		}

		require.NoError(t, grid.Validate())
		require.Equal(t, len(allocations), grid.AllocationCount())
	}

	for _, allocation := range allocations {
		require.NoError(t, grid.Release(allocation.index))
	}

	require.NoError(t, grid.Validate())
	require.True(t, grid.IsEmpty())
	require.Equal(t, 2, grid.FreeRegionsCount())
	require.Equal(t, grid.Size(), grid.SumFreeSize())
}

func TestBuddyGridPrintDetailedMap(t *testing.T) {
	grid := newGrid(t, 1, 1, 1, 2)

	index, ok := grid.Acquire(metadata.Size{Width: 4, Height: 4})
	require.True(t, ok)
	*grid.Value(index) = 99

	writer := jwriter.NewWriter()
	obj := writer.Object()
	obj.Name("Label").String("atlas")
	grid.PrintDetailedMap(&obj, func(value int, obj *jwriter.ObjectState) {
		obj.Name("Value").Int(value)
	})
	obj.Name("Complete").Bool(true)
	obj.End()

	var parsed struct {
		Label       string
		Complete    bool
		TotalArea   int
		UnusedArea  int
		Allocations int
		UnusedTiles int
		Tiles       []struct {
			X, Y, Width, Height int
			Type                string
			Value               int
		}
	}
	require.NoError(t, json.Unmarshal(writer.Bytes(), &parsed))

	require.Equal(t, "atlas", parsed.Label)
	require.True(t, parsed.Complete)
	require.Equal(t, 64, parsed.TotalArea)
	require.Equal(t, 48, parsed.UnusedArea)
	require.Equal(t, 1, parsed.Allocations)
	require.Equal(t, 2, parsed.UnusedTiles)
	require.Len(t, parsed.Tiles, 3)
	require.Equal(t, "ALLOCATED", parsed.Tiles[0].Type)
	require.Equal(t, 99, parsed.Tiles[0].Value)
	require.Equal(t, "FREE", parsed.Tiles[1].Type)
}

func TestLocationKeyOrdering(t *testing.T) {
	require.Less(t, metadata.LocationKey(0, 1, 1), metadata.LocationKey(0, 2, 0))
	require.Less(t, metadata.LocationKey(0, 1, 0), metadata.LocationKey(0, 0, 1))
	require.Less(t, metadata.LocationKey(0, 0xffff, 0xffff), metadata.LocationKey(1, 0, 0))
	require.Equal(t, uint64(3), metadata.LocationKey(0, 1, 1))
}
