package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/atlas/memutils"
)

// TileMetadata represents the space bookkeeping for a fixed multi-layer 2D region. It manages
// rectangular tiles within the region, allowing them to be acquired and released, as well as
// enumerated and queried. BuddyGrid is the implementation used by the atlas.
type TileMetadata[E any] interface {
	// Description returns the dimensions of the managed region
	Description() GridDescription
	// Size returns the total area of the region in pixels, across all layers
	Size() int

	// Validate performs internal consistency checks on the metadata. These checks may be expensive, depending
	// on the implementation. When the implementation is functioning correctly, it should not be possible
	// for this method to return an error, but this may assist in diagnosing issues with the implementation.
	Validate() error
	// AllocationCount returns the number of tiles currently acquired. This number should generally be the
	// number of successful acquires minus the number of successful releases.
	AllocationCount() int
	// FreeRegionsCount returns the number of available tiles. Available buddies are always coalesced,
	// so two available tiles never form a larger aligned tile.
	FreeRegionsCount() int
	// SumFreeSize returns the available area of the region in pixels.
	SumFreeSize() int
	// IsEmpty will return true if no tiles are currently acquired
	IsEmpty() bool

	// Fits returns true if a tile of the provided size could be acquired from an empty region
	Fits(size Size) bool
	// HasSpace returns true if Acquire would currently succeed for the provided size. It never
	// modifies the region.
	HasSpace(size Size) bool
	// Acquire reserves a tile at least as large as size. It returns false rather than an error when
	// no space is available, since that is an expected outcome for a full region.
	Acquire(size Size) (TileIndex, bool)
	// Release returns a tile acquired from this region. Releasing a tile that is not currently
	// acquired is a programming error and is reported as an error.
	Release(index TileIndex) error
	// Clear instantly releases all tiles
	Clear()

	// TileLocation returns the layer and pixel offset of a live tile
	TileLocation(index TileIndex) Location
	// TileSize returns the pixel extent of a live tile
	TileSize(index TileIndex) Size
	// Value returns a pointer to the consumer payload attached to a live tile
	Value(index TileIndex) *E

	// VisitAllRegions will call the provided callback once for each acquired and available tile in
	// the region. This is slow and should generally not be done except for diagnostic purposes.
	VisitAllRegions(handleTile func(index TileIndex, location Location, size Size, value E, free bool) error) error

	// AddDetailedStatistics sums this region's statistics into the statistics currently present
	// in the provided memutils.DetailedStatistics object.
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this region's statistics into the statistics currently present in the
	// provided memutils.Statistics object.
	AddStatistics(stats *memutils.Statistics)

	// BlockJsonData populates a json object with summary information about this region
	BlockJsonData(json *jwriter.ObjectState)
	// PrintDetailedMap populates a json object with the summary and a list of every tile
	PrintDetailedMap(json *jwriter.ObjectState, printValue func(value E, obj *jwriter.ObjectState))
}

var _ TileMetadata[int] = &BuddyGrid[int]{}
