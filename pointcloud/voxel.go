package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/obstacles/utils"
)

// coarseMask clears the lowest bit of a voxel coordinate, merging pairs of cells along each axis.
const coarseMask = int32(-2) // 0xFFFFFFFE

// VoxelKey stores voxel coordinates in grid axes. Coordinates are the point coordinates scaled by
// the grid resolution and truncated toward zero.
type VoxelKey struct {
	I, J, K int32
}

// NewVoxelKey returns the key of the cell holding p for a grid of `resolution` cells per unit.
func NewVoxelKey(p r3.Vector, resolution float64) VoxelKey {
	return VoxelKey{
		I: int32(p.X * resolution),
		J: int32(p.Y * resolution),
		K: int32(p.Z * resolution),
	}
}

// Coarsen returns the key of the enclosing cell of a grid twice as large.
func (k VoxelKey) Coarsen() VoxelKey {
	return VoxelKey{I: k.I & coarseMask, J: k.J & coarseMask, K: k.K & coarseMask}
}

// Position converts the key back to a point for a grid of `resolution` cells per unit. The
// result is the cell corner closest to the origin along each axis.
func (k VoxelKey) Position(resolution float64) r3.Vector {
	return r3.Vector{
		X: float64(k.I) / resolution,
		Y: float64(k.J) / resolution,
		Z: float64(k.K) / resolution,
	}
}

// VoxelBounds is an axis aligned box over voxel coordinates.
type VoxelBounds struct {
	Min, Max VoxelKey
	set      bool
}

// Merge expands the bounds to hold k.
func (b *VoxelBounds) Merge(k VoxelKey) {
	if !b.set {
		b.Min, b.Max, b.set = k, k, true
		return
	}
	b.Min = VoxelKey{I: min(b.Min.I, k.I), J: min(b.Min.J, k.J), K: min(b.Min.K, k.K)}
	b.Max = VoxelKey{I: max(b.Max.I, k.I), J: max(b.Max.J, k.J), K: max(b.Max.K, k.K)}
}

// Empty reports whether no key has been merged.
func (b VoxelBounds) Empty() bool {
	return !b.set
}

// Expand returns a copy of the bounds grown by margin cells on every side.
func (b VoxelBounds) Expand(margin int32) VoxelBounds {
	if !b.set {
		return b
	}
	return VoxelBounds{
		Min: VoxelKey{I: b.Min.I - margin, J: b.Min.J - margin, K: b.Min.K - margin},
		Max: VoxelKey{I: b.Max.I + margin, J: b.Max.J + margin, K: b.Max.K + margin},
		set: true,
	}
}

// Contains reports whether k lies in the bounds, boundaries included. Empty bounds hold nothing.
func (b VoxelBounds) Contains(k VoxelKey) bool {
	return b.set &&
		k.I >= b.Min.I && k.I <= b.Max.I &&
		k.J >= b.Min.J && k.J <= b.Max.J &&
		k.K >= b.Min.K && k.K <= b.Max.K
}

// Plane structure to store normal vector and offset of plane equation, with
// Normal·p + Offset = 0 for every point p of the plane.
type Plane struct {
	Normal r3.Vector
	Offset float64
}

// NewPlaneFromEquation builds a plane from ax+by+cz+d=0, normalizing the normal.
func NewPlaneFromEquation(eq [4]float64) Plane {
	n := r3.Vector{X: eq[0], Y: eq[1], Z: eq[2]}
	norm := n.Norm()
	if norm == 0 {
		return Plane{}
	}
	return Plane{Normal: n.Mul(1 / norm), Offset: eq[3] / norm}
}

// NewPlaneFromPointNormal returns the plane through p with the given normal.
func NewPlaneFromPointNormal(p, normal r3.Vector) Plane {
	n := normal.Normalize()
	return Plane{Normal: n, Offset: -n.Dot(p)}
}

// Equation return the coefficients of the plane equation as a 4-array of floats.
func (p Plane) Equation() [4]float64 {
	return [4]float64{p.Normal.X, p.Normal.Y, p.Normal.Z, p.Offset}
}

// Distance returns the signed distance of pt from the plane.
func (p Plane) Distance(pt r3.Vector) float64 {
	return p.Normal.Dot(pt) + p.Offset
}

// AngleDeg returns the angle in degrees between the normals of two planes, in [0, 180].
func (p Plane) AngleDeg(other Plane) float64 {
	return utils.RadToDeg(math.Acos(utils.Clamp(p.Normal.Dot(other.Normal), -1, 1)))
}
