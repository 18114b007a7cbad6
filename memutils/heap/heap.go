// Package heap provides a binary min-heap whose items are told their current position,
// allowing removal from the middle of the heap in O(log n). Items are usually small integer
// handles into some arena owned by the consumer, so the heap never copies anything larger
// than a handle.
package heap

import (
	"github.com/cockroachdb/errors"
)

// NotInHeap is the position reported to SetIndex for an item that has left the heap
const NotInHeap = -1

// Heap is a binary min-heap ordered by Less. SetIndex is called every time an item
// changes position, including NotInHeap when the item is popped or removed.
type Heap[T any] struct {
	items    []T
	less     func(left, right T) bool
	setIndex func(item T, index int)
}

// New creates an empty heap. setIndex may be nil if the consumer never needs Remove or Fix.
func New[T any](less func(left, right T) bool, setIndex func(item T, index int)) Heap[T] {
	if setIndex == nil {
		setIndex = func(T, int) {}
	}

	return Heap[T]{
		less:     less,
		setIndex: setIndex,
	}
}

func (h *Heap[T]) Len() int { return len(h.items) }

// At returns the item stored at the provided heap position
func (h *Heap[T]) At(index int) T { return h.items[index] }

func (h *Heap[T]) Push(item T) {
	h.items = append(h.items, item)
	index := len(h.items) - 1
	h.setIndex(item, index)
	h.up(index)
}

// Peek returns the minimum item without removing it
func (h *Heap[T]) Peek() (T, bool) {
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}

	return h.items[0], true
}

// Pop removes and returns the minimum item
func (h *Heap[T]) Pop() (T, bool) {
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}

	return h.Remove(0), true
}

// Remove removes the item at the provided heap position and returns it
func (h *Heap[T]) Remove(index int) T {
	last := len(h.items) - 1
	item := h.items[index]

	if index != last {
		h.swap(index, last)
	}

	var zero T
	h.items[last] = zero
	h.items = h.items[:last]
	h.setIndex(item, NotInHeap)

	if index != last {
		if !h.down(index) {
			h.up(index)
		}
	}

	return item
}

// Fix restores heap order after the ordering key of the item at index has changed
func (h *Heap[T]) Fix(index int) {
	if !h.down(index) {
		h.up(index)
	}
}

// Clear removes every item, reporting NotInHeap for each
func (h *Heap[T]) Clear() {
	var zero T
	for i, item := range h.items {
		h.setIndex(item, NotInHeap)
		h.items[i] = zero
	}
	h.items = h.items[:0]
}

// Validate verifies the heap ordering property
func (h *Heap[T]) Validate() error {
	for i := 1; i < len(h.items); i++ {
		parent := (i - 1) / 2
		if h.less(h.items[i], h.items[parent]) {
			return errors.Newf("heap item at position %d orders before its parent at position %d", i, parent)
		}
	}

	return nil
}

func (h *Heap[T]) swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.setIndex(h.items[i], i)
	h.setIndex(h.items[j], j)
}

func (h *Heap[T]) up(index int) {
	for index > 0 {
		parent := (index - 1) / 2
		if !h.less(h.items[index], h.items[parent]) {
			break
		}
		h.swap(index, parent)
		index = parent
	}
}

func (h *Heap[T]) down(index int) bool {
	start := index
	count := len(h.items)

	for {
		left := 2*index + 1
		if left >= count {
			break
		}

		smallest := left
		if right := left + 1; right < count && h.less(h.items[right], h.items[left]) {
			smallest = right
		}

		if !h.less(h.items[smallest], h.items[index]) {
			break
		}

		h.swap(index, smallest)
		index = smallest
	}

	return index > start
}
