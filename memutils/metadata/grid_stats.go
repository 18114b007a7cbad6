package metadata

import (
	"sort"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/atlas/memutils"
)

func (g *BuddyGrid[E]) AddStatistics(stats *memutils.Statistics) {
	stats.LayerCount += g.description.Layers
	stats.AllocationCount += g.allocationCount
	stats.LayerArea += g.Size()
	stats.AllocationArea += g.Size() - g.SumFreeSize()
}

func (g *BuddyGrid[E]) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.LayerCount += g.description.Layers
	stats.LayerArea += g.Size()

	for index := range g.tiles {
		t := &g.tiles[index]
		if !t.live {
			continue
		}

		area := g.tileArea(t)
		if t.available {
			stats.AddFreeTile(area)
		} else {
			stats.AddAllocation(area)
		}
	}
}

func (g *BuddyGrid[E]) tileArea(t *gridTile[E]) int {
	return 1 << (t.xClass + t.yClass + 2*g.description.MinTileExponent)
}

// VisitAllRegions calls handleTile once for each tile in the grid, allocated or available, in
// location key order. Iteration stops at the first error, which is returned. The grid must not
// be modified during the walk.
func (g *BuddyGrid[E]) VisitAllRegions(handleTile func(index TileIndex, location Location, size Size, value E, free bool) error) error {
	for _, index := range g.sortedTiles() {
		err := handleTile(index, g.TileLocation(index), g.TileSize(index), g.tiles[index].value, g.tiles[index].available)
		if err != nil {
			return err
		}
	}

	return nil
}

func (g *BuddyGrid[E]) sortedTiles() []TileIndex {
	indices := make([]TileIndex, 0, len(g.tiles)-len(g.freeSlots))
	for index := range g.tiles {
		if g.tiles[index].live {
			indices = append(indices, TileIndex(index))
		}
	}

	sort.Slice(indices, func(i, j int) bool {
		return g.tiles[indices[i]].key < g.tiles[indices[j]].key
	})
	return indices
}

// BlockJsonData populates a json object with summary information about this grid
func (g *BuddyGrid[E]) BlockJsonData(json *jwriter.ObjectState) {
	extent := g.description.Extent()
	json.Name("Width").Int(extent.Width)
	json.Name("Height").Int(extent.Height)
	json.Name("Layers").Int(g.description.Layers)
	json.Name("MinTile").Int(1 << g.description.MinTileExponent)
	json.Name("TotalArea").Int(g.Size())
	json.Name("UnusedArea").Int(g.SumFreeSize())
	json.Name("Allocations").Int(g.allocationCount)
	json.Name("UnusedTiles").Int(g.freeCount)
}

// PrintDetailedMap writes the summary of BlockJsonData followed by a "Tiles" array listing
// every tile in location order. printValue, if not nil, is called for each allocated tile to
// add the payload's fields to the tile's object.
func (g *BuddyGrid[E]) PrintDetailedMap(json *jwriter.ObjectState, printValue func(value E, obj *jwriter.ObjectState)) {
	g.BlockJsonData(json)

	tileArray := json.Name("Tiles").Array()
	defer tileArray.End()

	for _, index := range g.sortedTiles() {
		t := &g.tiles[index]
		location := g.TileLocation(index)
		size := g.TileSize(index)

		obj := tileArray.Object()
		obj.Name("Layer").Int(location.Layer)
		obj.Name("X").Int(location.X)
		obj.Name("Y").Int(location.Y)
		obj.Name("Width").Int(size.Width)
		obj.Name("Height").Int(size.Height)

		if t.available {
			obj.Name("Type").String("FREE")
		} else {
			obj.Name("Type").String("ALLOCATED")
			if printValue != nil {
				printValue(t.value, &obj)
			}
		}
		obj.End()
	}
}
