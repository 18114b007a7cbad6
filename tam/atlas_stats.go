package tam

import (
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/atlas/memutils"
	"github.com/vkngwrapper/atlas/memutils/metadata"
)

// Statistics summarizes the atlas' cache behavior since creation along with the current state of
// its image
type Statistics struct {
	// Entries is the number of identifiers that currently have a region
	Entries int
	// Hits counts Find and Obtain calls that returned an existing region
	Hits int
	// Misses counts Find calls for unknown identifiers and Obtain calls that needed a new region
	Misses int
	// Inserts counts regions successfully assigned by Obtain
	Inserts int
	// Evictions counts regions discarded to make room, replaced after a size change, or
	// discarded by Remove and Clear
	Evictions int

	// Image describes how the atlas image is currently divided
	Image memutils.DetailedStatistics
}

type validatorFunc func() error

func (f validatorFunc) Validate() error { return f() }

// Statistics retrieves the atlas' current statistics
func (a *Atlas[M]) Statistics() Statistics {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.statistics()
}

func (a *Atlas[M]) statistics() Statistics {
	stats := Statistics{
		Entries:   a.queue.length,
		Hits:      a.hits,
		Misses:    a.misses,
		Inserts:   a.inserts,
		Evictions: a.evictions,
	}
	stats.Image.Clear()
	a.grid.AddDetailedStatistics(&stats.Image)

	return stats
}

// BuildStatsString produces a JSON document describing the atlas. When detailed is true, the
// document includes every tile of the image along with the identifier occupying it.
func (a *Atlas[M]) BuildStatsString(detailed bool) string {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	stats := a.statistics()

	writer := jwriter.NewWriter()
	obj := writer.Object()

	cacheObj := obj.Name("Cache").Object()
	cacheObj.Name("Flags").String(a.createFlags.String())
	cacheObj.Name("Entries").Int(stats.Entries)
	cacheObj.Name("Hits").Int(stats.Hits)
	cacheObj.Name("Misses").Int(stats.Misses)
	cacheObj.Name("Inserts").Int(stats.Inserts)
	cacheObj.Name("Evictions").Int(stats.Evictions)
	cacheObj.Name("AccessRangeActive").Bool(a.rangeActive)
	cacheObj.Name("AccessRange").Int(int(a.rangeID))
	cacheObj.End()

	totalObj := obj.Name("Total").Object()
	totalObj.Name("Layers").Int(stats.Image.LayerCount)
	totalObj.Name("Allocations").Int(stats.Image.AllocationCount)
	totalObj.Name("LayerArea").Int(stats.Image.LayerArea)
	totalObj.Name("AllocationArea").Int(stats.Image.AllocationArea)
	totalObj.Name("UnusedTiles").Int(stats.Image.FreeTileCount)
	if stats.Image.AllocationCount > 0 {
		totalObj.Name("AllocationAreaMin").Int(stats.Image.AllocationMin)
		totalObj.Name("AllocationAreaMax").Int(stats.Image.AllocationMax)
	}
	if stats.Image.FreeTileCount > 0 {
		totalObj.Name("UnusedTileAreaMin").Int(stats.Image.FreeTileAreaMin)
		totalObj.Name("UnusedTileAreaMax").Int(stats.Image.FreeTileAreaMax)
	}
	totalObj.End()

	imageObj := obj.Name("Image").Object()
	if detailed {
		a.grid.PrintDetailedMap(&imageObj, func(value entry, entryObj *jwriter.ObjectState) {
			entryObj.Name("Identifier").String(strconv.FormatUint(value.identifier, 16))
			entryObj.Name("AccessRange").Int(int(value.rangeID))
		})
	} else {
		a.grid.BlockJsonData(&imageObj)
	}
	imageObj.End()

	obj.End()

	return string(writer.Bytes())
}

// Validate performs consistency checks across the atlas' grid, identifier map, and recency
// queue. It is expensive and intended for tests and debug builds.
func (a *Atlas[M]) Validate() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.validate()
}

func (a *Atlas[M]) validate() error {
	err := a.grid.Validate()
	if err != nil {
		return errors.Wrap(err, "atlas grid")
	}

	err = a.ids.Validate()
	if err != nil {
		return errors.Wrap(err, "atlas identifier map")
	}

	if a.queue.thresholdLinked() != a.rangeActive {
		return errors.AssertionFailedf("access range active is %t, but the threshold linked is %t", a.rangeActive, a.queue.thresholdLinked())
	}

	count := 0
	var walkErr error
	a.queue.walk(func(node metadata.TileIndex, afterThreshold bool) bool {
		count++
		if count > a.queue.length {
			walkErr = errors.AssertionFailedf("recency queue holds more than the %d entries it reports", a.queue.length)
			return false
		}

		if !a.grid.IsLive(node) || a.grid.IsAvailable(node) {
			walkErr = errors.AssertionFailedf("recency queue holds tile %d, which is not allocated", node)
			return false
		}

		links := a.queue.links(node)
		if a.queue.links(links.next).prev != node || a.queue.links(links.prev).next != node {
			walkErr = errors.AssertionFailedf("recency queue links around tile %d are not symmetric", node)
			return false
		}

		value := a.grid.Value(node)
		index, found := a.ids.Find(value.identifier)
		if !found || index != node {
			walkErr = errors.AssertionFailedf("tile %d holds identifier %d, but the identifier map does not point back to it", node, value.identifier)
			return false
		}

		if a.rangeActive && afterThreshold != (value.rangeID == a.rangeID) {
			walkErr = errors.AssertionFailedf("tile %d was last used in range %d, but sits on the wrong side of the threshold for range %d", node, value.rangeID, a.rangeID)
			return false
		}

		return true
	})
	if walkErr != nil {
		return walkErr
	}

	if count != a.queue.length {
		return errors.AssertionFailedf("recency queue reports %d entries, but %d are linked", a.queue.length, count)
	}
	if count != a.ids.Len() {
		return errors.AssertionFailedf("recency queue holds %d entries, but the identifier map holds %d", count, a.ids.Len())
	}
	if count != a.grid.AllocationCount() {
		return errors.AssertionFailedf("recency queue holds %d entries, but the grid has %d allocations", count, a.grid.AllocationCount())
	}

	return nil
}
