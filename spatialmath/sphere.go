package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

type sphere struct {
	center r3.Vector
	radius float64
}

// NewSphere instantiates a new sphere Geometry.
func NewSphere(center r3.Vector, radius float64) (Geometry, error) {
	if !validDimension(radius) {
		return nil, newBadGeometryDimensionsError("sphere")
	}
	return &sphere{center: center, radius: radius}, nil
}

func (s *sphere) Center() r3.Vector {
	return s.center
}

func (s *sphere) Radius() float64 {
	return s.radius
}

func (s *sphere) Volume() float64 {
	return 4. / 3. * math.Pi * s.radius * s.radius * s.radius
}

func (s *sphere) DistanceFrom(pt r3.Vector) float64 {
	return pt.Sub(s.center).Norm() - s.radius
}

func (s *sphere) Encompasses(pt r3.Vector, epsilon float64) bool {
	return s.DistanceFrom(pt) <= epsilon
}

func (s *sphere) Transform(pose Pose) Geometry {
	return &sphere{center: pose.Transform(s.center), radius: s.radius}
}

// String returns a human readable string that represents the sphere.
func (s *sphere) String() string {
	return fmt.Sprintf("Type: Sphere, Center: (%.3f, %.3f, %.3f), Radius: %.3f",
		s.center.X, s.center.Y, s.center.Z, s.radius)
}
