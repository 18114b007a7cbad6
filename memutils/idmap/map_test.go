package idmap_test

import (
	"math/rand"
	"testing"

	"github.com/dolthub/swiss"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/atlas/memutils/idmap"
)

func TestMapBasicRoundTrip(t *testing.T) {
	m, err := idmap.New[uint32](idmap.Config{})
	require.NoError(t, err)

	_, ok := m.Find(12)
	require.False(t, ok)

	require.Equal(t, idmap.ObtainInserted, m.Insert(12, 5))
	require.Equal(t, idmap.ObtainInserted, m.Insert(0, 9))
	require.Equal(t, 2, m.Len())

	value, ok := m.Find(12)
	require.True(t, ok)
	require.Equal(t, uint32(5), value)

	value, ok = m.Find(0)
	require.True(t, ok)
	require.Equal(t, uint32(9), value)

	slot, status := m.Obtain(12)
	require.Equal(t, idmap.ObtainFound, status)
	require.Equal(t, uint32(5), *slot)
	*slot = 6

	value, ok = m.Find(12)
	require.True(t, ok)
	require.Equal(t, uint32(6), value)

	removed, ok := m.Remove(12)
	require.True(t, ok)
	require.Equal(t, uint32(6), removed)

	_, ok = m.Find(12)
	require.False(t, ok)

	_, ok = m.Remove(12)
	require.False(t, ok)
	require.Equal(t, 1, m.Len())
	require.NoError(t, m.Validate())
}

func TestMapObtainInsertedIsZero(t *testing.T) {
	m, err := idmap.New[int](idmap.Config{})
	require.NoError(t, err)

	slot, status := m.Obtain(77)
	require.Equal(t, idmap.ObtainInserted, status)
	require.Equal(t, 0, *slot)
	*slot = 42

	value, ok := m.Find(77)
	require.True(t, ok)
	require.Equal(t, 42, value)
}

func TestMapRandomAgainstReference(t *testing.T) {
	m, err := idmap.New[uint32](idmap.Config{
		InitialSizeExponent: 3,
		MaxSizeExponent:     16,
	})
	require.NoError(t, err)

	reference := swiss.NewMap[uint64, uint32](64)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 20000; i++ {
		key := uint64(rng.Intn(3000))
		switch rng.Intn(3) {
		case 0, 1:
			value := uint32(rng.Int31())
			_, existed := reference.Get(key)
			status := m.Insert(key, value)
			if existed {
				require.Equal(t, idmap.ObtainFound, status)
			} else {
				require.Equal(t, idmap.ObtainInserted, status)
			}
			reference.Put(key, value)
		case 2:
			expected, existed := reference.Get(key)
			value, ok := m.Remove(key)
			require.Equal(t, existed, ok)
			if existed {
				require.Equal(t, expected, value)
				reference.Delete(key)
			}
		}

		if i%1000 == 0 {
			require.NoError(t, m.Validate())
		}
	}

	require.NoError(t, m.Validate())
	require.Equal(t, reference.Count(), m.Len())

	reference.Iter(func(key uint64, expected uint32) bool {
		value, ok := m.Find(key)
		require.True(t, ok)
		require.Equal(t, expected, value)
		return false
	})

	visited := 0
	m.Range(func(key uint64, value uint32) bool {
		expected, ok := reference.Get(key)
		require.True(t, ok)
		require.Equal(t, expected, value)
		visited++
		return true
	})
	require.Equal(t, reference.Count(), visited)
}

func TestMapResizeKeepsMappings(t *testing.T) {
	m, err := idmap.New[uint64](idmap.Config{
		InitialSizeExponent: 3,
		MaxSizeExponent:     12,
	})
	require.NoError(t, err)
	require.Equal(t, 8, m.Capacity())

	for key := uint64(1); key <= 1000; key++ {
		require.Equal(t, idmap.ObtainInserted, m.Insert(key, key*3))
	}

	require.Greater(t, m.Capacity(), 1000)
	require.NoError(t, m.Validate())

	for key := uint64(1); key <= 1000; key++ {
		value, ok := m.Find(key)
		require.True(t, ok)
		require.Equal(t, key*3, value)
	}
}

func TestMapFullAtLimitFill(t *testing.T) {
	m, err := idmap.New[uint32](idmap.Config{
		InitialSizeExponent: 4,
		MaxSizeExponent:     4,
		ResizeFillPercent:   50,
		LimitFillPercent:    50,
		MaxDisplacement:     15,
	})
	require.NoError(t, err)

	for key := uint64(1); key <= 8; key++ {
		require.Equal(t, idmap.ObtainInserted, m.Insert(key, uint32(key)))
	}

	slot, status := m.Obtain(9)
	require.Equal(t, idmap.ObtainFull, status)
	require.Nil(t, slot)
	require.Equal(t, 8, m.Len())

	// Existing keys are still reachable through Obtain when the table is full
	slot, status = m.Obtain(3)
	require.Equal(t, idmap.ObtainFound, status)
	require.Equal(t, uint32(3), *slot)

	_, ok := m.Remove(1)
	require.True(t, ok)
	require.Equal(t, idmap.ObtainInserted, m.Insert(9, 9))
	require.NoError(t, m.Validate())
}

func TestMapDisplacementForcesFull(t *testing.T) {
	// Every key lands in bucket zero regardless of table size
	m, err := idmap.New[uint32](idmap.Config{
		InitialSizeExponent: 3,
		MaxSizeExponent:     5,
		MaxDisplacement:     4,
		Hasher:              idmap.HasherFunc(func(key uint64) uint64 { return key & 0xff }),
	})
	require.NoError(t, err)

	for key := uint64(1); key <= 5; key++ {
		require.Equal(t, idmap.ObtainInserted, m.Insert(key, uint32(key)))
	}
	require.NoError(t, m.Validate())

	require.Equal(t, idmap.ObtainFull, m.Insert(6, 6))
	require.Equal(t, 5, m.Len())
	require.Equal(t, 5, m.SizeExponent())
	require.NoError(t, m.Validate())

	for key := uint64(1); key <= 5; key++ {
		value, ok := m.Find(key)
		require.True(t, ok)
		require.Equal(t, uint32(key), value)
	}
}

func TestMapBackwardShiftDelete(t *testing.T) {
	// Keys 1..4 share home bucket zero, key 5 lives in bucket one
	hasher := idmap.HasherFunc(func(key uint64) uint64 {
		if key == 5 {
			return 1 << 61
		}
		return key
	})

	m, err := idmap.New[uint32](idmap.Config{
		InitialSizeExponent: 3,
		MaxSizeExponent:     3,
		LimitFillPercent:    90,
		Hasher:              hasher,
	})
	require.NoError(t, err)

	for key := uint64(1); key <= 5; key++ {
		require.Equal(t, idmap.ObtainInserted, m.Insert(key, uint32(key*10)))
	}
	require.NoError(t, m.Validate())

	_, ok := m.Remove(1)
	require.True(t, ok)
	require.NoError(t, m.Validate())

	_, ok = m.Remove(3)
	require.True(t, ok)
	require.NoError(t, m.Validate())

	for _, key := range []uint64{2, 4, 5} {
		value, ok := m.Find(key)
		require.True(t, ok)
		require.Equal(t, uint32(key*10), value)
	}

	m.Clear()
	require.Equal(t, 0, m.Len())
	_, ok = m.Find(5)
	require.False(t, ok)
	require.NoError(t, m.Validate())
}

func TestMapConfigValidation(t *testing.T) {
	_, err := idmap.New[uint32](idmap.Config{InitialSizeExponent: 2})
	require.Error(t, err)

	_, err = idmap.New[uint32](idmap.Config{InitialSizeExponent: 8, MaxSizeExponent: 6})
	require.Error(t, err)

	_, err = idmap.New[uint32](idmap.Config{ResizeFillPercent: 80, LimitFillPercent: 70})
	require.Error(t, err)

	_, err = idmap.New[uint32](idmap.Config{MaxDisplacement: 200})
	require.Error(t, err)
}
