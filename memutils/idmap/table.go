package idmap

import "github.com/vkngwrapper/atlas/memutils"

type table[V any] struct {
	exponent        int
	mask            uint64
	distanceMask    uint64
	maxDisplacement int

	tags   []uint16
	keys   []uint64
	values []V
	count  int
}

func newTable[V any](exponent int, maxDisplacement int) table[V] {
	size := uint64(1) << exponent
	memutils.DebugCheckPow2(uint(size), "table size")
	mask := size - 1

	// An entry can never sit further from home than the table is long
	if uint64(maxDisplacement) > mask {
		maxDisplacement = int(mask)
	}

	return table[V]{
		exponent:        exponent,
		mask:            mask,
		distanceMask:    mask & uint64(tagHomeMask),
		maxDisplacement: maxDisplacement,
		tags:            make([]uint16, size),
		keys:            make([]uint64, size),
		values:          make([]V, size),
	}
}

func (t *table[V]) home(hash uint64) uint64 {
	return hash >> (64 - t.exponent)
}

func (t *table[V]) tagFor(hash uint64) uint16 {
	home := uint16(t.home(hash)) & tagHomeMask
	return tagExists | home<<tagHomeShift | uint16(hash)&tagFragmentMask
}

// displacement decodes how far the entry in slot sits from its home bucket
func (t *table[V]) displacement(slot uint64) int {
	home := uint64(t.tags[slot]>>tagHomeShift) & uint64(tagHomeMask)
	return int((slot - home) & t.distanceMask)
}

// locate probes for key. When the key is absent, the returned slot and displacement
// describe where it would be inserted; a displacement past maxDisplacement means it
// cannot be inserted at this size.
func (t *table[V]) locate(key uint64, hash uint64) (uint64, int, bool) {
	home := t.home(hash)
	tag := t.tagFor(hash)

	for displacement := 0; displacement <= t.maxDisplacement; displacement++ {
		slot := (home + uint64(displacement)) & t.mask
		slotTag := t.tags[slot]
		if slotTag&tagExists == 0 {
			return slot, displacement, false
		}

		slotDisplacement := t.displacement(slot)
		if slotDisplacement < displacement {
			return slot, displacement, false
		}

		if slotDisplacement == displacement && slotTag == tag && t.keys[slot] == key {
			return slot, displacement, true
		}
	}

	return 0, t.maxDisplacement + 1, false
}

// canInsertAt reports whether an entry can be placed at slot with the provided
// displacement, shifting the rest of the run one bucket forward
func (t *table[V]) canInsertAt(slot uint64, displacement int) bool {
	if displacement > t.maxDisplacement || t.count >= len(t.tags) {
		return false
	}

	for current := slot; t.tags[current]&tagExists != 0; current = (current + 1) & t.mask {
		if t.displacement(current)+1 > t.maxDisplacement {
			return false
		}
	}

	return true
}

func (t *table[V]) insertAt(slot uint64, key uint64, tag uint16) {
	end := slot
	for t.tags[end]&tagExists != 0 {
		end = (end + 1) & t.mask
	}

	for current := end; current != slot; {
		prev := (current - 1) & t.mask
		t.tags[current] = t.tags[prev]
		t.keys[current] = t.keys[prev]
		t.values[current] = t.values[prev]
		current = prev
	}

	var zero V
	t.tags[slot] = tag
	t.keys[slot] = key
	t.values[slot] = zero
	t.count++
}

// removeAt clears slot and pulls the rest of its run back toward home
func (t *table[V]) removeAt(slot uint64) {
	current := slot
	for {
		next := (current + 1) & t.mask
		if t.tags[next]&tagExists == 0 || t.displacement(next) == 0 {
			break
		}

		t.tags[current] = t.tags[next]
		t.keys[current] = t.keys[next]
		t.values[current] = t.values[next]
		current = next
	}

	var zero V
	t.tags[current] = 0
	t.keys[current] = 0
	t.values[current] = zero
	t.count--
}
