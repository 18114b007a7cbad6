// Package idmap provides an open-addressed map from 64-bit identifiers to small values
// (usually indices into an arena owned by the consumer).
//
// Entries are kept in Robin Hood order: along any run of occupied slots, entries appear
// sorted by home bucket. Each slot carries a 16-bit tag:
//
//	bit 15     - the slot is occupied
//	bits 14..8 - the low 7 bits of the entry's home bucket
//	bits 7..0  - a fragment of the entry's hash
//
// Subtracting the home bits from the slot position (modulo 128) recovers an entry's
// displacement without touching the key array, which lets lookups stop as soon as they
// meet an entry that is closer to home than the probe, and lets deletion shift the
// following run back one slot instead of leaving tombstones. Displacement is bounded by
// Config.MaxDisplacement; an insert that would exceed the bound grows the table instead.
package idmap

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/atlas/memutils"
)

const (
	tagExists       uint16 = 1 << 15
	tagHomeShift           = 8
	tagHomeMask     uint16 = 0x7f
	tagFragmentMask uint16 = 0xff

	// MaxDisplacementLimit is the largest probe displacement the tag encoding can represent
	MaxDisplacementLimit = int(tagHomeMask)

	MinSizeExponent = 3
	MaxSizeExponent = 32

	defaultInitialSizeExponent = 6
	defaultMaxSizeExponent     = 24
	defaultResizeFillPercent   = 75
	defaultLimitFillPercent    = 90
	defaultMaxDisplacement     = 32
)

// ObtainStatus reports the outcome of Map.Obtain and Map.Insert
type ObtainStatus uint32

const (
	// ObtainFound indicates that the key was already present
	ObtainFound ObtainStatus = iota
	// ObtainInserted indicates that a new slot was created for the key
	ObtainInserted
	// ObtainFull indicates that the key is absent and the table could not make room for it
	ObtainFull
)

var obtainStatusMapping = map[ObtainStatus]string{
	ObtainFound:    "ObtainFound",
	ObtainInserted: "ObtainInserted",
	ObtainFull:     "ObtainFull",
}

func (s ObtainStatus) String() string {
	return obtainStatusMapping[s]
}

// Config controls the table's size limits. Zero fields take defaults.
type Config struct {
	// InitialSizeExponent is log2 of the starting bucket count
	InitialSizeExponent int
	// MaxSizeExponent is log2 of the largest bucket count the table may grow to
	MaxSizeExponent int
	// ResizeFillPercent is the fill factor past which the table doubles, while it is
	// below MaxSizeExponent
	ResizeFillPercent int
	// LimitFillPercent is the fill factor past which a table at MaxSizeExponent refuses
	// new keys. It must be at least ResizeFillPercent and below 100.
	LimitFillPercent int
	// MaxDisplacement bounds how far from its home bucket any entry may be stored
	MaxDisplacement int
	// Hasher defaults to an unseeded XXH3Hasher
	Hasher Hasher
}

func (c Config) withDefaults() Config {
	if c.InitialSizeExponent == 0 {
		c.InitialSizeExponent = defaultInitialSizeExponent
	}
	if c.MaxSizeExponent == 0 {
		c.MaxSizeExponent = defaultMaxSizeExponent
		if c.MaxSizeExponent < c.InitialSizeExponent {
			c.MaxSizeExponent = c.InitialSizeExponent
		}
	}
	if c.ResizeFillPercent == 0 {
		c.ResizeFillPercent = defaultResizeFillPercent
	}
	if c.LimitFillPercent == 0 {
		c.LimitFillPercent = defaultLimitFillPercent
		if c.LimitFillPercent < c.ResizeFillPercent {
			c.LimitFillPercent = c.ResizeFillPercent
		}
	}
	if c.MaxDisplacement == 0 {
		c.MaxDisplacement = defaultMaxDisplacement
	}
	if c.Hasher == nil {
		c.Hasher = NewXXH3Hasher(0)
	}
	return c
}

func (c Config) validate() error {
	err := memutils.CheckExponent(c.InitialSizeExponent, MinSizeExponent, MaxSizeExponent, "InitialSizeExponent")
	if err != nil {
		return err
	}
	err = memutils.CheckExponent(c.MaxSizeExponent, c.InitialSizeExponent, MaxSizeExponent, "MaxSizeExponent")
	if err != nil {
		return err
	}
	if c.ResizeFillPercent < 1 || c.ResizeFillPercent > 99 {
		return errors.Newf("ResizeFillPercent is %d, must be between 1 and 99", c.ResizeFillPercent)
	}
	if c.LimitFillPercent < c.ResizeFillPercent || c.LimitFillPercent > 99 {
		return errors.Newf("LimitFillPercent is %d, must be between ResizeFillPercent (%d) and 99", c.LimitFillPercent, c.ResizeFillPercent)
	}
	if c.MaxDisplacement < 1 || c.MaxDisplacement > MaxDisplacementLimit {
		return errors.Newf("MaxDisplacement is %d, must be between 1 and %d", c.MaxDisplacement, MaxDisplacementLimit)
	}
	return nil
}

// Map is an open-addressed map from uint64 identifiers to values of type V. It is not
// safe for concurrent use.
type Map[V any] struct {
	config Config
	table  table[V]
}

// New creates an empty map from the provided configuration
func New[V any](config Config) (*Map[V], error) {
	config = config.withDefaults()
	err := config.validate()
	if err != nil {
		return nil, err
	}

	return &Map[V]{
		config: config,
		table:  newTable[V](config.InitialSizeExponent, config.MaxDisplacement),
	}, nil
}

// Len returns the number of live entries
func (m *Map[V]) Len() int { return m.table.count }

// Capacity returns the current number of buckets
func (m *Map[V]) Capacity() int { return len(m.table.tags) }

// SizeExponent returns log2 of the current number of buckets
func (m *Map[V]) SizeExponent() int { return m.table.exponent }

// Find returns the value stored for key, if any
func (m *Map[V]) Find(key uint64) (V, bool) {
	slot, _, found := m.table.locate(key, m.config.Hasher.Hash64(key))
	if !found {
		var zero V
		return zero, false
	}

	return m.table.values[slot], true
}

// Obtain finds the slot for key, creating it if necessary. On ObtainFound the returned
// pointer addresses the existing value; on ObtainInserted it addresses a zero value the
// caller is expected to fill; on ObtainFull it is nil. The pointer is only valid until
// the next call that mutates the map.
func (m *Map[V]) Obtain(key uint64) (*V, ObtainStatus) {
	hash := m.config.Hasher.Hash64(key)

	for {
		slot, displacement, found := m.table.locate(key, hash)
		if found {
			return &m.table.values[slot], ObtainFound
		}

		capacity := len(m.table.tags)
		if m.table.exponent < m.config.MaxSizeExponent {
			if (m.table.count+1)*100 > capacity*m.config.ResizeFillPercent {
				if !m.grow() {
					return nil, ObtainFull
				}
				continue
			}
		} else if (m.table.count+1)*100 > capacity*m.config.LimitFillPercent {
			return nil, ObtainFull
		}

		if m.table.canInsertAt(slot, displacement) {
			m.table.insertAt(slot, key, m.table.tagFor(hash))
			return &m.table.values[slot], ObtainInserted
		}

		if !m.grow() {
			return nil, ObtainFull
		}
	}
}

// Insert stores value for key, replacing any existing value
func (m *Map[V]) Insert(key uint64, value V) ObtainStatus {
	slot, status := m.Obtain(key)
	if status == ObtainFull {
		return status
	}

	*slot = value
	return status
}

// Remove deletes key from the map, returning the value it held
func (m *Map[V]) Remove(key uint64) (V, bool) {
	slot, _, found := m.table.locate(key, m.config.Hasher.Hash64(key))
	if !found {
		var zero V
		return zero, false
	}

	value := m.table.values[slot]
	m.table.removeAt(slot)
	return value, true
}

// Range calls visit for every entry, in bucket order, until visit returns false. The map
// must not be mutated during the walk.
func (m *Map[V]) Range(visit func(key uint64, value V) bool) {
	for slot, tag := range m.table.tags {
		if tag&tagExists == 0 {
			continue
		}

		if !visit(m.table.keys[slot], m.table.values[slot]) {
			return
		}
	}
}

// Clear removes every entry without shrinking the table
func (m *Map[V]) Clear() {
	var zero V
	for slot := range m.table.tags {
		m.table.tags[slot] = 0
		m.table.keys[slot] = 0
		m.table.values[slot] = zero
	}
	m.table.count = 0
}

// Validate checks every tag against its key's hash and verifies the probe ordering
// invariant.
func (m *Map[V]) Validate() error {
	t := &m.table
	count := 0

	for slot := range t.tags {
		tag := t.tags[slot]
		if tag&tagExists == 0 {
			if t.keys[slot] != 0 {
				return errors.Newf("empty bucket %d still holds key %d", slot, t.keys[slot])
			}
			continue
		}

		count++
		key := t.keys[slot]
		hash := m.config.Hasher.Hash64(key)
		if tag != t.tagFor(hash) {
			return errors.Newf("bucket %d holds key %d with tag %#04x, but the key hashes to tag %#04x", slot, key, tag, t.tagFor(hash))
		}

		displacement := t.displacement(uint64(slot))
		actual := int((uint64(slot) - t.home(hash)) & t.mask)
		if displacement != actual {
			return errors.Newf("bucket %d holds key %d at displacement %d, but its tag decodes to %d", slot, key, actual, displacement)
		}
		if displacement > t.maxDisplacement {
			return errors.Newf("bucket %d holds key %d at displacement %d, past the limit of %d", slot, key, displacement, t.maxDisplacement)
		}

		if displacement > 0 {
			prev := (uint64(slot) - 1) & t.mask
			if t.tags[prev]&tagExists == 0 {
				return errors.Newf("bucket %d holds a displaced key, but the bucket before it is empty", slot)
			}
			if t.displacement(prev)+1 < displacement {
				return errors.Newf("bucket %d is displaced by %d, more than one past bucket %d (%d)", slot, displacement, prev, t.displacement(prev))
			}
		}
	}

	if count != t.count {
		return errors.Newf("map reports %d entries, but %d buckets are occupied", t.count, count)
	}

	return nil
}

func (m *Map[V]) grow() bool {
	for exponent := m.table.exponent + 1; exponent <= m.config.MaxSizeExponent; exponent++ {
		next, ok := m.rehash(exponent)
		if ok {
			m.table = next
			return true
		}
	}

	return false
}

func (m *Map[V]) rehash(exponent int) (table[V], bool) {
	next := newTable[V](exponent, m.config.MaxDisplacement)

	for slot, tag := range m.table.tags {
		if tag&tagExists == 0 {
			continue
		}

		key := m.table.keys[slot]
		hash := m.config.Hasher.Hash64(key)
		target, displacement, _ := next.locate(key, hash)
		if !next.canInsertAt(target, displacement) {
			return next, false
		}

		next.insertAt(target, key, next.tagFor(hash))
		next.values[target] = m.table.values[slot]
	}

	return next, true
}
