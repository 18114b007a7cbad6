package tam

import (
	"github.com/vkngwrapper/atlas/memutils/metadata"
)

const (
	// headerNode and thresholdNode are the queue's sentinels. They live outside the grid, at
	// indices the grid can never hand out.
	headerNode    metadata.TileIndex = metadata.NoTile - 1
	thresholdNode metadata.TileIndex = metadata.NoTile - 2
)

type queueLinks struct {
	prev metadata.TileIndex
	next metadata.TileIndex
}

// entry is the payload the atlas keeps in every allocated grid tile
type entry struct {
	identifier uint64
	// rangeID is the access range in which the entry was last used
	rangeID uint64
	links   queueLinks
}

// recencyQueue is a circular doubly-linked list threaded through the grid's tile payloads.
// The entry after the header is the least recently used, the entry before it the most
// recently used. While an access range is active, the threshold sentinel separates entries
// used in the range (after it) from eviction candidates (before it).
type recencyQueue struct {
	grid      *metadata.BuddyGrid[entry]
	header    queueLinks
	threshold queueLinks
	length    int
}

func (q *recencyQueue) init(grid *metadata.BuddyGrid[entry]) {
	q.grid = grid
	q.clear()
}

func (q *recencyQueue) clear() {
	q.header = queueLinks{prev: headerNode, next: headerNode}
	q.threshold = queueLinks{prev: metadata.NoTile, next: metadata.NoTile}
	q.length = 0
}

// links returns the link pair for node. The pointer is invalidated by the next grid Acquire.
func (q *recencyQueue) links(node metadata.TileIndex) *queueLinks {
	switch node {
	case headerNode:
		return &q.header
	case thresholdNode:
		return &q.threshold
	default:
		return &q.grid.Value(node).links
	}
}

func (q *recencyQueue) insertBefore(node, at metadata.TileIndex) {
	atLinks := q.links(at)
	prev := atLinks.prev

	nodeLinks := q.links(node)
	nodeLinks.prev = prev
	nodeLinks.next = at

	q.links(prev).next = node
	atLinks.prev = node
}

func (q *recencyQueue) unlink(node metadata.TileIndex) {
	nodeLinks := q.links(node)
	prev, next := nodeLinks.prev, nodeLinks.next

	q.links(prev).next = next
	q.links(next).prev = prev

	nodeLinks.prev = metadata.NoTile
	nodeLinks.next = metadata.NoTile
}

// push links a new entry at the most recent end
func (q *recencyQueue) push(node metadata.TileIndex) {
	q.insertBefore(node, headerNode)
	q.length++
}

// remove unlinks an entry
func (q *recencyQueue) remove(node metadata.TileIndex) {
	q.unlink(node)
	q.length--
}

// touch moves a linked entry to the most recent end
func (q *recencyQueue) touch(node metadata.TileIndex) {
	if q.header.prev == node {
		return
	}

	q.unlink(node)
	q.insertBefore(node, headerNode)
}

// oldest returns the least recently used entry that may be evicted, if any
func (q *recencyQueue) oldest() (metadata.TileIndex, bool) {
	next := q.header.next
	if next == headerNode || next == thresholdNode {
		return metadata.NoTile, false
	}

	return next, true
}

func (q *recencyQueue) thresholdLinked() bool {
	return q.threshold.next != metadata.NoTile
}

func (q *recencyQueue) linkThreshold() {
	q.insertBefore(thresholdNode, headerNode)
}

func (q *recencyQueue) unlinkThreshold() {
	q.unlink(thresholdNode)
}

// walk visits every entry from least to most recent, reporting whether it follows the
// threshold. It stops early when visit returns false.
func (q *recencyQueue) walk(visit func(node metadata.TileIndex, afterThreshold bool) bool) {
	afterThreshold := false
	for node := q.header.next; node != headerNode; node = q.links(node).next {
		if node == thresholdNode {
			afterThreshold = true
			continue
		}

		if !visit(node, afterThreshold) {
			return
		}
	}
}
