package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Geometry is a closed volume fitted around an obstacle. Implementations are swept sphere
// volumes: a sphere, or a capsule made of a line segment and a radius.
type Geometry interface {
	// Center returns the center of the volume.
	Center() r3.Vector
	// Radius returns the sweep radius.
	Radius() float64
	// Volume returns the enclosed volume.
	Volume() float64
	// DistanceFrom returns the signed distance from pt to the surface, negative inside.
	DistanceFrom(pt r3.Vector) float64
	// Encompasses reports whether pt lies inside the volume, within epsilon.
	Encompasses(pt r3.Vector, epsilon float64) bool
	// Transform returns the same volume moved by pose.
	Transform(pose Pose) Geometry
	String() string
}

func newBadGeometryDimensionsError(kind string) error {
	return errors.Errorf("invalid dimensions for %s, dimensions must be positive and finite", kind)
}

// DistToLineSegment takes a line segment defined by pt1 and pt2, plus some query point, and returns the cartesian
// distance from the query point to the closest point on the line segment.
func DistToLineSegment(pt1, pt2, query r3.Vector) float64 {
	return query.Sub(ClosestPointSegmentPoint(pt1, pt2, query)).Norm()
}

// ClosestPointSegmentPoint takes a line segment defined by pt1 and pt2, plus some query point, and returns the
// point on the segment closest to the query point.
func ClosestPointSegmentPoint(pt1, pt2, query r3.Vector) r3.Vector {
	seg := pt2.Sub(pt1)
	segLen2 := seg.Norm2()
	if segLen2 == 0 {
		return pt1
	}
	t := query.Sub(pt1).Dot(seg) / segLen2
	t = math.Max(0, math.Min(1, t))
	return pt1.Add(seg.Mul(t))
}

func validDimension(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
