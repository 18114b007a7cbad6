package memutils

import "math"

// Statistics sums the space managed by one or more grids. Areas are measured in pixels.
type Statistics struct {
	LayerCount      int
	AllocationCount int
	LayerArea       int
	AllocationArea  int
}

func (s *Statistics) Clear() {
	s.LayerCount = 0
	s.AllocationCount = 0
	s.LayerArea = 0
	s.AllocationArea = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.LayerCount += other.LayerCount
	s.AllocationCount += other.AllocationCount
	s.LayerArea += other.LayerArea
	s.AllocationArea += other.AllocationArea
}

// DetailedStatistics extends Statistics with the shape of the free space: how many free tiles
// exist and the smallest and largest allocated and free tile areas.
type DetailedStatistics struct {
	Statistics
	FreeTileCount   int
	AllocationMin   int
	AllocationMax   int
	FreeTileAreaMin int
	FreeTileAreaMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeTileCount = 0
	s.AllocationMin = math.MaxInt
	s.AllocationMax = 0
	s.FreeTileAreaMin = math.MaxInt
	s.FreeTileAreaMax = 0
}

func (s *DetailedStatistics) AddFreeTile(area int) {
	s.FreeTileCount++

	if area < s.FreeTileAreaMin {
		s.FreeTileAreaMin = area
	}

	if area > s.FreeTileAreaMax {
		s.FreeTileAreaMax = area
	}
}

func (s *DetailedStatistics) AddAllocation(area int) {
	s.AllocationCount++
	s.AllocationArea += area

	if area < s.AllocationMin {
		s.AllocationMin = area
	}

	if area > s.AllocationMax {
		s.AllocationMax = area
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeTileCount += other.FreeTileCount

	if other.FreeTileAreaMin < s.FreeTileAreaMin {
		s.FreeTileAreaMin = other.FreeTileAreaMin
	}

	if other.FreeTileAreaMax > s.FreeTileAreaMax {
		s.FreeTileAreaMax = other.FreeTileAreaMax
	}

	if other.AllocationMin < s.AllocationMin {
		s.AllocationMin = other.AllocationMin
	}

	if other.AllocationMax > s.AllocationMax {
		s.AllocationMax = other.AllocationMax
	}
}
