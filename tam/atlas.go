// Package tam implements a texture atlas manager: a least-recently-used cache of rectangular
// regions within a fixed multi-layer image, keyed by 64-bit content identifiers.
//
// Consumers bracket each batch of work with BeginAccess and EndAccess. Every region found or
// inserted between the two calls is protected from eviction until EndAccess, so locations
// handed out during a batch stay valid for the whole batch. The moment passed to EndAccess
// (a frame number, fence value, or anything else) is stored and can be read back with
// LastUsage, but the atlas never interprets it.
package tam

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/atlas/internal/utils"
	"github.com/vkngwrapper/atlas/memutils"
	"github.com/vkngwrapper/atlas/memutils/idmap"
	"github.com/vkngwrapper/atlas/memutils/metadata"
	"golang.org/x/exp/slog"
)

type Atlas[M any] struct {
	logger      *slog.Logger
	createFlags CreateFlags
	mutex       utils.OptionalMutex

	grid  *metadata.BuddyGrid[entry]
	ids   *idmap.Map[metadata.TileIndex]
	queue recencyQueue

	rangeActive bool
	rangeID     uint64

	lastUsage    M
	hasLastUsage bool

	identifierState uint64

	hits      int
	misses    int
	inserts   int
	evictions int
}

// BeginAccess opens an access range. Entries found or inserted until the matching EndAccess
// will not be evicted.
func (a *Atlas[M]) BeginAccess() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Atlas::BeginAccess", slog.Uint64("Range", a.rangeID+1))

	if a.rangeActive {
		return errors.Wrapf(ErrAccessRangeActive, "cannot begin range %d", a.rangeID+1)
	}

	a.rangeActive = true
	a.rangeID++
	a.queue.linkThreshold()

	return nil
}

// EndAccess closes the active access range and records moment as the most recent usage of
// the atlas. All entries become eviction candidates again, oldest first.
func (a *Atlas[M]) EndAccess(moment M) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Atlas::EndAccess", slog.Uint64("Range", a.rangeID))

	if !a.rangeActive {
		return ErrAccessRangeIdle
	}

	a.queue.unlinkThreshold()
	a.rangeActive = false
	a.lastUsage = moment
	a.hasLastUsage = true

	return nil
}

// InAccessRange returns true between BeginAccess and EndAccess
func (a *Atlas[M]) InAccessRange() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.rangeActive
}

// LastUsage returns the moment passed to the most recent EndAccess, if any
func (a *Atlas[M]) LastUsage() (M, bool) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.lastUsage, a.hasLastUsage
}

// Find returns the location of the region assigned to identifier, if any, and marks it as
// most recently used.
func (a *Atlas[M]) Find(identifier uint64) (metadata.Location, bool) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Atlas::Find", slog.Uint64("Identifier", identifier))

	index, found := a.ids.Find(identifier)
	if !found {
		a.misses++
		return metadata.Location{}, false
	}

	a.hits++
	a.use(index)
	return a.grid.TileLocation(index), true
}

// Obtain returns the location of the region assigned to identifier, assigning a new region of
// at least the requested size if there is none. Least recently used entries outside the active
// access range are evicted as needed to make room.
//
// An existing region whose size class differs from the request is discarded and replaced,
// unless it was used in the active access range, in which case ErrSizeChangeInRange is
// returned. Failures to make room are reported through both the ObtainResult and an error
// wrapping ErrImageFull or ErrMapFull.
func (a *Atlas[M]) Obtain(identifier uint64, size metadata.Size) (metadata.Location, ObtainResult, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Atlas::Obtain",
		slog.Uint64("Identifier", identifier),
		slog.Int("Width", size.Width),
		slog.Int("Height", size.Height),
	)

	xClass, yClass, fits := a.grid.Classes(size)
	if !fits {
		return metadata.Location{}, ObtainFailImageFull, errors.Wrapf(ErrImageFull, "a region of %dx%d can never fit in the atlas", size.Width, size.Height)
	}

	index, found := a.ids.Find(identifier)
	if found {
		tileX, tileY := a.grid.TileClasses(index)
		if tileX == xClass && tileY == yClass {
			a.hits++
			a.use(index)
			return a.grid.TileLocation(index), ObtainFound, nil
		}

		if a.usedInRange(index) {
			return metadata.Location{}, ObtainFailSizeChange, errors.Wrapf(ErrSizeChangeInRange,
				"identifier %d was obtained at %dx%d and requested again at %dx%d",
				identifier, a.grid.TileSize(index).Width, a.grid.TileSize(index).Height, size.Width, size.Height)
		}

		err := a.evict(index)
		if err != nil {
			return metadata.Location{}, ObtainFailImageFull, err
		}
	}

	a.misses++
	return a.insert(identifier, size)
}

func (a *Atlas[M]) insert(identifier uint64, size metadata.Size) (metadata.Location, ObtainResult, error) {
	var index metadata.TileIndex
	for {
		var acquired bool
		index, acquired = a.grid.Acquire(size)
		if acquired {
			break
		}

		evicted, err := a.evictOldest()
		if err != nil {
			return metadata.Location{}, ObtainFailImageFull, err
		}
		if !evicted {
			return metadata.Location{}, ObtainFailImageFull, errors.Wrapf(ErrImageFull,
				"no room for %dx%d with %d entries protected by the access range", size.Width, size.Height, a.queue.length)
		}
	}

	for {
		slot, status := a.ids.Obtain(identifier)
		if status != idmap.ObtainFull {
			*slot = index
			break
		}

		evicted, err := a.evictOldest()
		if err != nil {
			return metadata.Location{}, ObtainFailMapFull, err
		}
		if !evicted {
			releaseErr := a.grid.Release(index)
			if releaseErr != nil {
				a.logger.Error("Atlas::Obtain failed to return a tile after the identifier map filled up",
					slog.Uint64("Identifier", identifier),
					slog.Any("Error", releaseErr),
				)
				return metadata.Location{}, ObtainFailMapFull, errors.CombineErrors(
					errors.Wrapf(ErrMapFull, "identifier %d", identifier), releaseErr)
			}

			return metadata.Location{}, ObtainFailMapFull, errors.Wrapf(ErrMapFull,
				"identifier %d with %d entries protected by the access range", identifier, a.queue.length)
		}
	}

	value := a.grid.Value(index)
	value.identifier = identifier
	value.rangeID = a.rangeID
	a.queue.push(index)
	a.inserts++

	memutils.DebugValidate(validatorFunc(a.validate))

	return a.grid.TileLocation(index), ObtainInserted, nil
}

// Remove discards the region assigned to identifier. It returns false if the identifier has no
// region, and ErrEntryInUse if the region was used in the active access range.
func (a *Atlas[M]) Remove(identifier uint64) (bool, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Atlas::Remove", slog.Uint64("Identifier", identifier))

	index, found := a.ids.Find(identifier)
	if !found {
		return false, nil
	}

	if a.usedInRange(index) {
		return false, errors.Wrapf(ErrEntryInUse, "cannot remove identifier %d", identifier)
	}

	err := a.evict(index)
	if err != nil {
		return false, err
	}

	return true, nil
}

// Clear discards every region at once. It cannot be called during an access range.
func (a *Atlas[M]) Clear() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Atlas::Clear")

	if a.rangeActive {
		return errors.Wrap(ErrAccessRangeActive, "cannot clear the atlas")
	}

	a.evictions += a.queue.length
	a.ids.Clear()
	a.grid.Clear()
	a.queue.clear()

	return nil
}

// HasSpace returns true if a region of the provided size could be inserted without evicting
// anything
func (a *Atlas[M]) HasSpace(size metadata.Size) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.grid.HasSpace(size)
}

// Fits returns true if a region of the provided size could be inserted into an empty atlas
func (a *Atlas[M]) Fits(size metadata.Size) bool {
	return a.grid.Fits(size)
}

// Len returns the number of identifiers with an assigned region
func (a *Atlas[M]) Len() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.queue.length
}

// Description returns the dimensions of the atlas image
func (a *Atlas[M]) Description() metadata.GridDescription {
	return a.grid.Description()
}

// use marks a live entry as most recently used
func (a *Atlas[M]) use(index metadata.TileIndex) {
	a.grid.Value(index).rangeID = a.rangeID
	a.queue.touch(index)
}

func (a *Atlas[M]) usedInRange(index metadata.TileIndex) bool {
	return a.rangeActive && a.grid.Value(index).rangeID == a.rangeID
}

func (a *Atlas[M]) evictOldest() (bool, error) {
	index, ok := a.queue.oldest()
	if !ok {
		return false, nil
	}

	return true, a.evict(index)
}

// evict removes an entry from the map, then the queue, then the grid, so that no structure
// ever refers to a tile another has already dropped
func (a *Atlas[M]) evict(index metadata.TileIndex) error {
	identifier := a.grid.Value(index).identifier

	a.logger.Debug("Atlas::evict",
		slog.Uint64("Identifier", identifier),
		slog.Int("Tile", int(index)),
	)

	_, removed := a.ids.Remove(identifier)
	if !removed {
		return errors.AssertionFailedf("tile %d holds identifier %d, which is missing from the identifier map", index, identifier)
	}

	a.queue.remove(index)

	err := a.grid.Release(index)
	if err != nil {
		return errors.Wrapf(err, "failed to release tile for identifier %d", identifier)
	}

	a.evictions++
	return nil
}
