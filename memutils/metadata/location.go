package metadata

import "math"

// TileIndex is a stable handle to a tile within a BuddyGrid. A tile keeps its index
// across splits; only coalescing retires an index, after which it may be reused.
type TileIndex uint32

const (
	// NoTile marks an absent tile: a link across the grid border, or a failed acquire
	NoTile TileIndex = math.MaxUint32
)

// Size is the extent of a requested or allocated region, in pixels
type Size struct {
	Width  int
	Height int
}

// Location is the position of a tile: the array layer it lives in and the pixel offset
// of its top-left corner within that layer
type Location struct {
	Layer int
	X     int
	Y     int
}

// Axis names the direction in which a tile is split or coalesced
type Axis uint32

const (
	// AxisHorizontal splits a tile into left and right halves, halving its x size class
	AxisHorizontal Axis = iota
	// AxisVertical splits a tile into top and bottom halves, halving its y size class
	AxisVertical
)

var axisMapping = map[Axis]string{
	AxisHorizontal: "AxisHorizontal",
	AxisVertical:   "AxisVertical",
}

func (a Axis) String() string {
	return axisMapping[a]
}

// spreadBits moves the low 16 bits of v into the even bit positions of the result
func spreadBits(v uint32) uint64 {
	x := uint64(v & 0xffff)
	x = (x | x<<8) & 0x00ff00ff
	x = (x | x<<4) & 0x0f0f0f0f
	x = (x | x<<2) & 0x33333333
	x = (x | x<<1) & 0x55555555
	return x
}

// LocationKey packs a tile origin (in minimum units) into a single ordering key: layer
// first, then the z-order interleave of x and y. Tiles that are close together in the
// grid are close together in key order, so always taking the smallest key keeps
// allocations packed toward the origin of the lowest layer.
func LocationKey(layer int, x, y int) uint64 {
	return uint64(layer)<<32 | spreadBits(uint32(x)) | spreadBits(uint32(y))<<1
}
