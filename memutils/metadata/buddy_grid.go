package metadata

import (
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/atlas/memutils"
	"github.com/vkngwrapper/atlas/memutils/heap"
)

const (
	// MaxGridExponent is the largest supported WidthExponent/HeightExponent. Tile origins are
	// interleaved into 32 bits of the location key, so each axis gets 16.
	MaxGridExponent = 16
	// MaxMinTileExponent is the largest supported MinTileExponent
	MaxMinTileExponent = 14
	// MaxTileUnitsExponent is log2 of the largest number of minimum tiles across all layers.
	// Every minimum tile may need its own TileIndex, and the top TileIndex values are reserved.
	MaxTileUnitsExponent = 31
)

// Total pixel area, summed over layers, must fit in an int
const maxAreaExponent = bits.UintSize - 2

// GridDescription fixes the dimensions of a BuddyGrid for its whole lifetime
type GridDescription struct {
	// WidthExponent is log2 of the width of each layer, in minimum tiles
	WidthExponent int
	// HeightExponent is log2 of the height of each layer, in minimum tiles
	HeightExponent int
	// Layers is the number of array layers, each an independent WidthxHeight region
	Layers int
	// MinTileExponent is log2 of the edge of the smallest tile, in pixels
	MinTileExponent int
}

func (d GridDescription) Validate() error {
	err := memutils.CheckExponent(d.WidthExponent, 0, MaxGridExponent, "WidthExponent")
	if err != nil {
		return err
	}
	err = memutils.CheckExponent(d.HeightExponent, 0, MaxGridExponent, "HeightExponent")
	if err != nil {
		return err
	}
	err = memutils.CheckExponent(d.MinTileExponent, 0, MaxMinTileExponent, "MinTileExponent")
	if err != nil {
		return err
	}
	if d.Layers < 1 {
		return errors.Newf("grid must have at least one layer, but Layers is %d", d.Layers)
	}

	layerExponent := memutils.CeilLog2(uint(d.Layers))
	unitsExponent := d.WidthExponent + d.HeightExponent + layerExponent
	if unitsExponent > MaxTileUnitsExponent {
		return errors.Newf("grid of %d layers at 2^%dx2^%d minimum tiles holds up to 2^%d tiles, more than the supported 2^%d",
			d.Layers, d.WidthExponent, d.HeightExponent, unitsExponent, MaxTileUnitsExponent)
	}
	if unitsExponent+2*d.MinTileExponent > maxAreaExponent {
		return errors.Newf("grid of %d layers at %dx%d pixels is too large to measure in pixels",
			d.Layers, 1<<(d.WidthExponent+d.MinTileExponent), 1<<(d.HeightExponent+d.MinTileExponent))
	}
	return nil
}

// Extent returns the pixel size of a single layer
func (d GridDescription) Extent() Size {
	return Size{
		Width:  1 << (d.WidthExponent + d.MinTileExponent),
		Height: 1 << (d.HeightExponent + d.MinTileExponent),
	}
}

type gridTile[E any] struct {
	layer  int
	x, y   int
	xClass int
	yClass int

	// Corner-stitched adjacency; y grows downward.
	// startLeft holds (x-1, y), startUp holds (x, y-1),
	// endRight holds (right, bottom-1), endDown holds (right-1, bottom).
	startLeft TileIndex
	startUp   TileIndex
	endRight  TileIndex
	endDown   TileIndex

	key       uint64
	heapIndex int
	available bool
	live      bool

	value E
}

func (t *gridTile[E]) width() int  { return 1 << t.xClass }
func (t *gridTile[E]) height() int { return 1 << t.yClass }
func (t *gridTile[E]) right() int  { return t.x + t.width() }
func (t *gridTile[E]) bottom() int { return t.y + t.height() }

func (t *gridTile[E]) contains(x, y int) bool {
	return x >= t.x && x < t.right() && y >= t.y && y < t.bottom()
}

// BuddyGrid manages power-of-two rectangular tiles within a fixed multi-layer grid.
// Free space is split on demand into aligned buddies and coalesced back when both
// buddies are free. Every tile knows its four corner neighbors, so a split or coalesce
// only visits tiles that touch the changed edges.
//
// Each tile carries a caller payload of type E, reachable through Value while the tile
// is allocated. BuddyGrid is not safe for concurrent use.
type BuddyGrid[E any] struct {
	description GridDescription

	tiles     []gridTile[E]
	freeSlots []TileIndex

	// heaps[xClass*(HeightExponent+1)+yClass] holds available tiles of that size, ordered by location key
	heaps []heap.Heap[TileIndex]
	// masks[xClass] has bit yClass set while heaps for that size are non-empty
	masks []uint32

	allocationCount int
	freeCount       int
	freeUnits       int
}

var _ memutils.Validatable = &BuddyGrid[int]{}

// NewBuddyGrid creates a grid with one available whole-layer tile per layer
func NewBuddyGrid[E any](description GridDescription) (*BuddyGrid[E], error) {
	err := description.Validate()
	if err != nil {
		return nil, err
	}

	g := &BuddyGrid[E]{
		description: description,
		masks:       make([]uint32, description.WidthExponent+1),
	}

	heapCount := (description.WidthExponent + 1) * (description.HeightExponent + 1)
	g.heaps = make([]heap.Heap[TileIndex], heapCount)
	for i := range g.heaps {
		g.heaps[i] = heap.New[TileIndex](g.tileLess, g.setHeapIndex)
	}

	g.reset()
	return g, nil
}

func (g *BuddyGrid[E]) tileLess(left, right TileIndex) bool {
	return g.tiles[left].key < g.tiles[right].key
}

func (g *BuddyGrid[E]) setHeapIndex(index TileIndex, heapIndex int) {
	g.tiles[index].heapIndex = heapIndex
}

func (g *BuddyGrid[E]) reset() {
	for i := range g.heaps {
		g.heaps[i].Clear()
	}
	for i := range g.masks {
		g.masks[i] = 0
	}

	g.tiles = g.tiles[:0]
	g.freeSlots = g.freeSlots[:0]
	g.allocationCount = 0
	g.freeCount = 0
	g.freeUnits = 0

	for layer := 0; layer < g.description.Layers; layer++ {
		index := g.newSlot()
		t := &g.tiles[index]
		t.layer = layer
		t.xClass = g.description.WidthExponent
		t.yClass = g.description.HeightExponent
		t.key = LocationKey(layer, 0, 0)
		g.pushAvailable(index)
	}
}

// Description returns the dimensions the grid was created with
func (g *BuddyGrid[E]) Description() GridDescription { return g.description }

// Size returns the total pixel area of all layers
func (g *BuddyGrid[E]) Size() int {
	extent := g.description.Extent()
	return extent.Width * extent.Height * g.description.Layers
}

// AllocationCount returns the number of acquired tiles
func (g *BuddyGrid[E]) AllocationCount() int { return g.allocationCount }

// FreeRegionsCount returns the number of available tiles
func (g *BuddyGrid[E]) FreeRegionsCount() int { return g.freeCount }

// SumFreeSize returns the pixel area of all available tiles
func (g *BuddyGrid[E]) SumFreeSize() int {
	return g.freeUnits << (2 * g.description.MinTileExponent)
}

// IsEmpty returns true if no tile is currently acquired
func (g *BuddyGrid[E]) IsEmpty() bool { return g.allocationCount == 0 }

// IsLive returns true if index names an existing tile, available or not
func (g *BuddyGrid[E]) IsLive(index TileIndex) bool {
	return int(index) < len(g.tiles) && g.tiles[index].live
}

// IsAvailable returns true if index names an existing tile that is not acquired
func (g *BuddyGrid[E]) IsAvailable(index TileIndex) bool {
	return g.IsLive(index) && g.tiles[index].available
}

// TileLocation returns the layer and pixel offset of a live tile
func (g *BuddyGrid[E]) TileLocation(index TileIndex) Location {
	t := &g.tiles[index]
	shift := g.description.MinTileExponent
	return Location{Layer: t.layer, X: t.x << shift, Y: t.y << shift}
}

// TileSize returns the pixel extent of a live tile
func (g *BuddyGrid[E]) TileSize(index TileIndex) Size {
	t := &g.tiles[index]
	shift := g.description.MinTileExponent
	return Size{Width: t.width() << shift, Height: t.height() << shift}
}

// TileClasses returns the x and y size classes of a live tile
func (g *BuddyGrid[E]) TileClasses(index TileIndex) (int, int) {
	t := &g.tiles[index]
	return t.xClass, t.yClass
}

// Value returns the payload of a live tile. The pointer is invalidated by the next
// Acquire, Release or Clear.
func (g *BuddyGrid[E]) Value(index TileIndex) *E {
	return &g.tiles[index].value
}

// Classes computes the size classes that a region of the provided size would occupy.
// It returns false if the size is not positive or does not fit within a single layer.
func (g *BuddyGrid[E]) Classes(size Size) (int, int, bool) {
	if size.Width <= 0 || size.Height <= 0 {
		return 0, 0, false
	}

	xClass := memutils.SizeClass(size.Width, g.description.MinTileExponent)
	yClass := memutils.SizeClass(size.Height, g.description.MinTileExponent)
	if xClass > g.description.WidthExponent || yClass > g.description.HeightExponent {
		return 0, 0, false
	}

	return xClass, yClass, true
}

// Fits returns true if a region of the provided size could ever be acquired from this grid
func (g *BuddyGrid[E]) Fits(size Size) bool {
	_, _, ok := g.Classes(size)
	return ok
}

// HasSpace returns true if Acquire would currently succeed for the provided size
func (g *BuddyGrid[E]) HasSpace(size Size) bool {
	xReq, yReq, ok := g.Classes(size)
	if !ok {
		return false
	}

	_, _, found := g.findCandidate(xReq, yReq)
	return found
}

// Acquire reserves a tile large enough for size, splitting a larger available tile if
// necessary. It returns false if no available tile is large enough.
func (g *BuddyGrid[E]) Acquire(size Size) (TileIndex, bool) {
	xReq, yReq, ok := g.Classes(size)
	if !ok {
		return NoTile, false
	}

	xClass, yClass, found := g.findCandidate(xReq, yReq)
	if !found {
		return NoTile, false
	}

	index, _ := g.heaps[g.heapSlot(xClass, yClass)].Peek()
	g.removeAvailable(index)
	g.tiles[index].available = false

	for {
		t := &g.tiles[index]
		if t.xClass == xReq && t.yClass == yReq {
			break
		}

		var buddy TileIndex
		if t.yClass > yReq && (t.yClass >= t.xClass || t.xClass == xReq) {
			buddy = g.split(index, AxisVertical)
		} else {
			buddy = g.split(index, AxisHorizontal)
		}
		g.pushAvailable(buddy)
	}

	g.allocationCount++
	memutils.DebugValidate(g)

	return index, true
}

// Release returns an acquired tile to the grid and coalesces it with its buddies for as
// long as they are available.
func (g *BuddyGrid[E]) Release(index TileIndex) error {
	if !g.IsLive(index) {
		return errors.Newf("tile %d does not exist in this grid", index)
	}
	if g.tiles[index].available {
		return errors.Newf("tile %d is already available", index)
	}

	var zero E
	g.tiles[index].value = zero
	g.tiles[index].available = true
	g.allocationCount--

	for {
		t := &g.tiles[index]
		order := [2]Axis{AxisHorizontal, AxisVertical}
		if t.xClass < t.yClass {
			order = [2]Axis{AxisVertical, AxisHorizontal}
		}

		merged := false
		for _, axis := range order {
			buddy := g.buddy(index, axis)
			if buddy == NoTile || !g.tiles[buddy].available {
				continue
			}

			g.removeAvailable(buddy)
			if g.isLowerBuddy(buddy, index, axis) {
				index, buddy = buddy, index
			}
			g.coalesce(index, buddy, axis)
			merged = true
			break
		}

		if !merged {
			break
		}
	}

	g.pushAvailable(index)
	memutils.DebugValidate(g)

	return nil
}

// Clear releases every tile at once, returning the grid to one whole tile per layer
func (g *BuddyGrid[E]) Clear() {
	g.reset()
}

func (g *BuddyGrid[E]) heapSlot(xClass, yClass int) int {
	return xClass*(g.description.HeightExponent+1) + yClass
}

// findCandidate locates the available size class that satisfies the request with the
// fewest splits, approximated by the smallest xClass+yClass
func (g *BuddyGrid[E]) findCandidate(xReq, yReq int) (int, int, bool) {
	bestX, bestY := -1, -1

	for xClass := xReq; xClass <= g.description.WidthExponent; xClass++ {
		mask := g.masks[xClass] >> yReq
		if mask == 0 {
			continue
		}

		yClass := yReq + bits.TrailingZeros32(mask)
		if bestX < 0 || xClass+yClass < bestX+bestY {
			bestX, bestY = xClass, yClass
		}
	}

	return bestX, bestY, bestX >= 0
}

func (g *BuddyGrid[E]) newSlot() TileIndex {
	var index TileIndex
	if count := len(g.freeSlots); count > 0 {
		index = g.freeSlots[count-1]
		g.freeSlots = g.freeSlots[:count-1]
		g.tiles[index] = gridTile[E]{}
	} else {
		index = TileIndex(len(g.tiles))
		g.tiles = append(g.tiles, gridTile[E]{})
	}

	t := &g.tiles[index]
	t.live = true
	t.heapIndex = heap.NotInHeap
	t.startLeft = NoTile
	t.startUp = NoTile
	t.endRight = NoTile
	t.endDown = NoTile
	return index
}

func (g *BuddyGrid[E]) retireSlot(index TileIndex) {
	g.tiles[index] = gridTile[E]{heapIndex: heap.NotInHeap}
	g.freeSlots = append(g.freeSlots, index)
}

func (g *BuddyGrid[E]) pushAvailable(index TileIndex) {
	t := &g.tiles[index]
	t.available = true
	g.masks[t.xClass] |= 1 << t.yClass
	g.freeCount++
	g.freeUnits += 1 << (t.xClass + t.yClass)

	g.heaps[g.heapSlot(t.xClass, t.yClass)].Push(index)
}

func (g *BuddyGrid[E]) removeAvailable(index TileIndex) {
	t := &g.tiles[index]
	xClass, yClass := t.xClass, t.yClass
	h := &g.heaps[g.heapSlot(xClass, yClass)]
	h.Remove(t.heapIndex)
	if h.Len() == 0 {
		g.masks[xClass] &^= 1 << yClass
	}

	g.freeCount--
	g.freeUnits -= 1 << (xClass + yClass)
}

// buddy returns the address-aligned sibling of index along axis if it currently exists
// as a single tile of the same size
func (g *BuddyGrid[E]) buddy(index TileIndex, axis Axis) TileIndex {
	t := &g.tiles[index]

	var candidate TileIndex
	x, y := t.x, t.y
	if axis == AxisVertical {
		if t.yClass >= g.description.HeightExponent {
			return NoTile
		}
		if (t.y>>t.yClass)&1 == 0 {
			candidate = t.endDown
			y += t.height()
		} else {
			candidate = t.startUp
			y -= t.height()
		}
	} else {
		if t.xClass >= g.description.WidthExponent {
			return NoTile
		}
		if (t.x>>t.xClass)&1 == 0 {
			candidate = t.endRight
			x += t.width()
		} else {
			candidate = t.startLeft
			x -= t.width()
		}
	}

	if candidate == NoTile {
		return NoTile
	}

	c := &g.tiles[candidate]
	if c.x != x || c.y != y || c.xClass != t.xClass || c.yClass != t.yClass {
		return NoTile
	}

	return candidate
}

// isLowerBuddy reports whether first sits closer to the grid origin than second along axis
func (g *BuddyGrid[E]) isLowerBuddy(first, second TileIndex, axis Axis) bool {
	if axis == AxisVertical {
		return g.tiles[first].y < g.tiles[second].y
	}
	return g.tiles[first].x < g.tiles[second].x
}

// split halves the tile at index along axis. The tile keeps the half nearest the origin
// and the returned buddy takes the other half. Neither half is placed in a heap.
func (g *BuddyGrid[E]) split(index TileIndex, axis Axis) TileIndex {
	buddy := g.newSlot()
	t := &g.tiles[index]
	b := &g.tiles[buddy]

	x0, y0 := t.x, t.y
	x1, y1 := t.right(), t.bottom()
	oldRight, oldDown := t.endRight, t.endDown

	b.layer = t.layer

	if axis == AxisVertical {
		t.yClass--
		mid := y0 + t.height()

		b.x, b.y = x0, mid
		b.xClass, b.yClass = t.xClass, t.yClass

		// The right neighbor holding (x1, mid-1) becomes the top half's endRight
		newRight := oldRight
		for newRight != NoTile && g.tiles[newRight].y >= mid {
			newRight = g.tiles[newRight].startUp
		}

		// The left neighbor holding (x0-1, mid) becomes the bottom half's startLeft
		newLeft := t.startLeft
		for newLeft != NoTile && g.tiles[newLeft].bottom() <= mid {
			newLeft = g.tiles[newLeft].endDown
		}

		// Right neighbors starting below mid now see the bottom half on their left
		for n := oldRight; n != NoTile; {
			neighbor := &g.tiles[n]
			if neighbor.startLeft == index && neighbor.y >= mid {
				neighbor.startLeft = buddy
			}
			if neighbor.y <= y0 {
				break
			}
			n = neighbor.startUp
		}

		// Everything along the bottom edge now sees the bottom half above it
		for n := oldDown; n != NoTile; {
			neighbor := &g.tiles[n]
			if neighbor.startUp == index {
				neighbor.startUp = buddy
			}
			if neighbor.x <= x0 {
				break
			}
			n = neighbor.startLeft
		}

		// Left neighbors ending below mid now see the bottom half on their right
		for n := t.startLeft; n != NoTile; {
			neighbor := &g.tiles[n]
			if neighbor.endRight == index && neighbor.bottom() > mid {
				neighbor.endRight = buddy
			}
			if neighbor.bottom() >= y1 {
				break
			}
			n = neighbor.endDown
		}

		b.startLeft = newLeft
		b.startUp = index
		b.endRight = oldRight
		b.endDown = oldDown

		t.endRight = newRight
		t.endDown = buddy
	} else {
		t.xClass--
		mid := x0 + t.width()

		b.x, b.y = mid, y0
		b.xClass, b.yClass = t.xClass, t.yClass

		// The bottom neighbor holding (mid-1, y1) becomes the left half's endDown
		newDown := oldDown
		for newDown != NoTile && g.tiles[newDown].x >= mid {
			newDown = g.tiles[newDown].startLeft
		}

		// The top neighbor holding (mid, y0-1) becomes the right half's startUp
		newUp := t.startUp
		for newUp != NoTile && g.tiles[newUp].right() <= mid {
			newUp = g.tiles[newUp].endRight
		}

		// Everything along the right edge now sees the right half on its left
		for n := oldRight; n != NoTile; {
			neighbor := &g.tiles[n]
			if neighbor.startLeft == index {
				neighbor.startLeft = buddy
			}
			if neighbor.y <= y0 {
				break
			}
			n = neighbor.startUp
		}

		// Bottom neighbors starting right of mid now see the right half above them
		for n := oldDown; n != NoTile; {
			neighbor := &g.tiles[n]
			if neighbor.startUp == index && neighbor.x >= mid {
				neighbor.startUp = buddy
			}
			if neighbor.x <= x0 {
				break
			}
			n = neighbor.startLeft
		}

		// Top neighbors ending right of mid now see the right half below them
		for n := t.startUp; n != NoTile; {
			neighbor := &g.tiles[n]
			if neighbor.endDown == index && neighbor.right() > mid {
				neighbor.endDown = buddy
			}
			if neighbor.right() >= x1 {
				break
			}
			n = neighbor.endRight
		}

		b.startLeft = index
		b.startUp = newUp
		b.endRight = oldRight
		b.endDown = oldDown

		t.endRight = buddy
		t.endDown = newDown
	}

	t.key = LocationKey(t.layer, t.x, t.y)
	b.key = LocationKey(b.layer, b.x, b.y)

	return buddy
}

// coalesce merges upper into lower, which must be same-sized buddies along axis. lower
// survives with its index and location key unchanged; upper is retired.
func (g *BuddyGrid[E]) coalesce(lower, upper TileIndex, axis Axis) {
	l := &g.tiles[lower]
	u := &g.tiles[upper]

	x0, y0 := u.x, u.y
	x1, y1 := u.right(), u.bottom()

	// Right neighbors of the upper tile
	for n := u.endRight; n != NoTile; {
		neighbor := &g.tiles[n]
		if neighbor.startLeft == upper {
			neighbor.startLeft = lower
		}
		if neighbor.y <= y0 {
			break
		}
		n = neighbor.startUp
	}

	// Bottom neighbors of the upper tile
	for n := u.endDown; n != NoTile; {
		neighbor := &g.tiles[n]
		if neighbor.startUp == upper {
			neighbor.startUp = lower
		}
		if neighbor.x <= x0 {
			break
		}
		n = neighbor.startLeft
	}

	if axis == AxisVertical {
		// Left neighbors of the bottom tile
		for n := u.startLeft; n != NoTile; {
			neighbor := &g.tiles[n]
			if neighbor.endRight == upper {
				neighbor.endRight = lower
			}
			if neighbor.bottom() >= y1 {
				break
			}
			n = neighbor.endDown
		}

		l.yClass++
	} else {
		// Top neighbors of the right tile
		for n := u.startUp; n != NoTile; {
			neighbor := &g.tiles[n]
			if neighbor.endDown == upper {
				neighbor.endDown = lower
			}
			if neighbor.right() >= x1 {
				break
			}
			n = neighbor.endRight
		}

		l.xClass++
	}

	l.endRight = u.endRight
	l.endDown = u.endDown

	g.retireSlot(upper)
}
