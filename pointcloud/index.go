package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

type cellKey struct {
	x, y, z int64
}

// SpatialIndex answers fixed-radius neighbor queries over a set of points using a regular grid.
// The cell size should match the query radius so that a query only visits the 27 cells around a
// point.
type SpatialIndex struct {
	cellSize float64
	points   []r3.Vector
	grid     map[cellKey][]int
}

// NewSpatialIndex creates a spatial index over pts with the given cell size.
func NewSpatialIndex(pts []r3.Vector, cellSize float64) *SpatialIndex {
	const estimatedPointsPerCell = 4
	si := &SpatialIndex{
		cellSize: cellSize,
		points:   pts,
		grid:     make(map[cellKey][]int, len(pts)/estimatedPointsPerCell+1),
	}
	for i, p := range pts {
		k := si.cell(p)
		si.grid[k] = append(si.grid[k], i)
	}
	return si
}

func (si *SpatialIndex) cell(p r3.Vector) cellKey {
	return cellKey{
		x: int64(math.Floor(p.X / si.cellSize)),
		y: int64(math.Floor(p.Y / si.cellSize)),
		z: int64(math.Floor(p.Z / si.cellSize)),
	}
}

// RadiusQuery appends to dst the indices of all points within radius of p and returns it.
// radius must not exceed the cell size.
func (si *SpatialIndex) RadiusQuery(dst []int, p r3.Vector, radius float64) []int {
	r2 := radius * radius
	base := si.cell(p)
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for dz := int64(-1); dz <= 1; dz++ {
				for _, idx := range si.grid[cellKey{base.x + dx, base.y + dy, base.z + dz}] {
					if si.points[idx].Sub(p).Norm2() <= r2 {
						dst = append(dst, idx)
					}
				}
			}
		}
	}
	return dst
}

