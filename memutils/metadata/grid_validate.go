package metadata

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/atlas/memutils"
	"github.com/vkngwrapper/atlas/memutils/heap"
)

// Grids with more minimum units per layer than this skip the per-unit overlap check in
// Validate. The remaining checks still catch any overlap that changes the total area.
const maxOccupancyCheckUnits = 1 << 20

// Validate performs consistency checks over every tile, heap, mask and adjacency link in the
// grid. It is expensive and intended for tests and debug builds.
func (g *BuddyGrid[E]) Validate() error {
	liveCount := 0
	allocCount := 0
	freeCount := 0
	freeUnits := 0
	totalUnits := 0

	keys := swiss.NewMap[uint64, TileIndex](uint32(len(g.tiles)))

	for i := range g.tiles {
		index := TileIndex(i)
		t := &g.tiles[i]
		if !t.live {
			if t.heapIndex != heap.NotInHeap {
				return errors.AssertionFailedf("retired tile %d still claims heap position %d", index, t.heapIndex)
			}
			continue
		}

		liveCount++
		if t.layer < 0 || t.layer >= g.description.Layers {
			return errors.AssertionFailedf("tile %d is on layer %d, but the grid has %d layers", index, t.layer, g.description.Layers)
		}
		if t.xClass < 0 || t.xClass > g.description.WidthExponent || t.yClass < 0 || t.yClass > g.description.HeightExponent {
			return errors.AssertionFailedf("tile %d has size classes (%d, %d), outside the grid's range", index, t.xClass, t.yClass)
		}
		if memutils.AlignDown(t.x, uint(t.width())) != t.x || memutils.AlignDown(t.y, uint(t.height())) != t.y {
			return errors.AssertionFailedf("tile %d at (%d, %d) is not aligned to its size (%d, %d)", index, t.x, t.y, t.width(), t.height())
		}
		if t.right() > 1<<g.description.WidthExponent || t.bottom() > 1<<g.description.HeightExponent {
			return errors.AssertionFailedf("tile %d at (%d, %d) extends past the edge of the layer", index, t.x, t.y)
		}
		if t.key != LocationKey(t.layer, t.x, t.y) {
			return errors.AssertionFailedf("tile %d has a stale location key", index)
		}

		other, duplicate := keys.Get(t.key)
		if duplicate {
			return errors.AssertionFailedf("tiles %d and %d share the origin (%d, %d) on layer %d", other, index, t.x, t.y, t.layer)
		}
		keys.Put(t.key, index)

		totalUnits += t.width() * t.height()

		if t.available {
			freeCount++
			freeUnits += t.width() * t.height()

			h := &g.heaps[g.heapSlot(t.xClass, t.yClass)]
			if t.heapIndex < 0 || t.heapIndex >= h.Len() || h.At(t.heapIndex) != index {
				return errors.AssertionFailedf("available tile %d is not at its reported position %d in heap (%d, %d)", index, t.heapIndex, t.xClass, t.yClass)
			}
		} else {
			allocCount++
			if t.heapIndex != heap.NotInHeap {
				return errors.AssertionFailedf("allocated tile %d claims heap position %d", index, t.heapIndex)
			}
		}

		err := g.validateLinks(index)
		if err != nil {
			return err
		}
	}

	if liveCount+len(g.freeSlots) != len(g.tiles) {
		return errors.AssertionFailedf("grid has %d tile slots, but %d are live and %d are recycled", len(g.tiles), liveCount, len(g.freeSlots))
	}
	if allocCount != g.allocationCount {
		return errors.AssertionFailedf("grid reports %d allocations, but %d tiles are allocated", g.allocationCount, allocCount)
	}
	if freeCount != g.freeCount {
		return errors.AssertionFailedf("grid reports %d available tiles, but %d tiles are available", g.freeCount, freeCount)
	}
	if freeUnits != g.freeUnits {
		return errors.AssertionFailedf("grid reports %d free units, but available tiles cover %d", g.freeUnits, freeUnits)
	}

	layerUnits := 1 << (g.description.WidthExponent + g.description.HeightExponent)
	if totalUnits != layerUnits*g.description.Layers {
		return errors.AssertionFailedf("tiles cover %d units, but the grid holds %d", totalUnits, layerUnits*g.description.Layers)
	}

	heapTotal := 0
	for xClass := 0; xClass <= g.description.WidthExponent; xClass++ {
		for yClass := 0; yClass <= g.description.HeightExponent; yClass++ {
			h := &g.heaps[g.heapSlot(xClass, yClass)]
			heapTotal += h.Len()

			hasBit := g.masks[xClass]&(1<<yClass) != 0
			if hasBit != (h.Len() > 0) {
				return errors.AssertionFailedf("mask bit for size (%d, %d) is %t, but the heap holds %d tiles", xClass, yClass, hasBit, h.Len())
			}

			err := h.Validate()
			if err != nil {
				return errors.Wrapf(err, "heap (%d, %d)", xClass, yClass)
			}

			for position := 0; position < h.Len(); position++ {
				index := h.At(position)
				t := &g.tiles[index]
				if !t.live || !t.available || t.xClass != xClass || t.yClass != yClass {
					return errors.AssertionFailedf("heap (%d, %d) holds tile %d, which is not an available tile of that size", xClass, yClass, index)
				}
			}
		}
	}

	if heapTotal != freeCount {
		return errors.AssertionFailedf("heaps hold %d tiles, but %d tiles are available", heapTotal, freeCount)
	}

	if layerUnits*g.description.Layers <= maxOccupancyCheckUnits {
		return g.validateOccupancy()
	}

	return nil
}

func (g *BuddyGrid[E]) validateLinks(index TileIndex) error {
	t := &g.tiles[index]
	width := 1 << g.description.WidthExponent
	height := 1 << g.description.HeightExponent

	links := []struct {
		name string
		link TileIndex
		x, y int
	}{
		{"startLeft", t.startLeft, t.x - 1, t.y},
		{"startUp", t.startUp, t.x, t.y - 1},
		{"endRight", t.endRight, t.right(), t.bottom() - 1},
		{"endDown", t.endDown, t.right() - 1, t.bottom()},
	}

	for _, l := range links {
		outside := l.x < 0 || l.y < 0 || l.x >= width || l.y >= height
		if outside {
			if l.link != NoTile {
				return errors.AssertionFailedf("tile %d links %s to tile %d across the edge of the layer", index, l.name, l.link)
			}
			continue
		}

		if l.link == NoTile || int(l.link) >= len(g.tiles) || !g.tiles[l.link].live {
			return errors.AssertionFailedf("tile %d links %s to missing tile %d", index, l.name, l.link)
		}

		target := &g.tiles[l.link]
		if target.layer != t.layer || !target.contains(l.x, l.y) {
			return errors.AssertionFailedf("tile %d links %s to tile %d, which does not contain (%d, %d)", index, l.name, l.link, l.x, l.y)
		}
	}

	return nil
}

func (g *BuddyGrid[E]) validateOccupancy() error {
	width := 1 << g.description.WidthExponent
	layerUnits := width << g.description.HeightExponent
	owners := make([]TileIndex, layerUnits*g.description.Layers)
	for i := range owners {
		owners[i] = NoTile
	}

	for i := range g.tiles {
		t := &g.tiles[i]
		if !t.live {
			continue
		}

		for y := t.y; y < t.bottom(); y++ {
			for x := t.x; x < t.right(); x++ {
				unit := t.layer*layerUnits + y*width + x
				if owners[unit] != NoTile {
					return errors.AssertionFailedf("tiles %d and %d overlap at (%d, %d) on layer %d", owners[unit], i, x, y, t.layer)
				}
				owners[unit] = TileIndex(i)
			}
		}
	}

	return nil
}
