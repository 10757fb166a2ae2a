package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// capsule is a swept sphere volume around the segment segA-segB.
//
// ....___________________
// .../                   \
// .x|  A---------------B  |x
// ...\___________________/
type capsule struct {
	segA, segB r3.Vector
	radius     float64
}

// NewCapsule instantiates a new capsule Geometry around the segment a-b. Coincident endpoints
// yield a sphere.
func NewCapsule(a, b r3.Vector, radius float64) (Geometry, error) {
	if !validDimension(radius) {
		return nil, newBadGeometryDimensionsError("capsule")
	}
	if a.Sub(b).Norm() == 0 {
		return NewSphere(a, radius)
	}
	return &capsule{segA: a, segB: b, radius: radius}, nil
}

// CapsuleEndpoints returns the segment of g if it is a capsule.
func CapsuleEndpoints(g Geometry) (r3.Vector, r3.Vector, bool) {
	c, ok := g.(*capsule)
	if !ok {
		return r3.Vector{}, r3.Vector{}, false
	}
	return c.segA, c.segB, true
}

func (c *capsule) Center() r3.Vector {
	return c.segA.Add(c.segB).Mul(0.5)
}

func (c *capsule) Radius() float64 {
	return c.radius
}

// Length is the distance tip to tip, segment length plus both caps.
func (c *capsule) Length() float64 {
	return c.segB.Sub(c.segA).Norm() + 2*c.radius
}

func (c *capsule) Volume() float64 {
	r := c.radius
	return math.Pi*r*r*c.segB.Sub(c.segA).Norm() + 4./3.*math.Pi*r*r*r
}

func (c *capsule) DistanceFrom(pt r3.Vector) float64 {
	return DistToLineSegment(c.segA, c.segB, pt) - c.radius
}

func (c *capsule) Encompasses(pt r3.Vector, epsilon float64) bool {
	return c.DistanceFrom(pt) <= epsilon
}

func (c *capsule) Transform(pose Pose) Geometry {
	return &capsule{segA: pose.Transform(c.segA), segB: pose.Transform(c.segB), radius: c.radius}
}

// String returns a human readable string that represents the capsule.
func (c *capsule) String() string {
	return fmt.Sprintf("Type: Capsule, Radius: %.3f, Length: %.3f", c.radius, c.Length())
}
