// Package spatialmath defines the rigid transforms and bounding geometries used by the obstacle
// pipeline.
package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a rotation, stored as a unit quaternion, followed by a translation.
type Pose struct {
	point       r3.Vector
	orientation quat.Number
}

// NewZeroPose returns the identity transform.
func NewZeroPose() Pose {
	return Pose{orientation: quat.Number{Real: 1}}
}

// NewPoseFromPoint returns a pure translation.
func NewPoseFromPoint(point r3.Vector) Pose {
	return Pose{point: point, orientation: quat.Number{Real: 1}}
}

// NewPose returns a pose from a translation and a rotation quaternion. The quaternion is
// normalized; a zero quaternion is treated as no rotation.
func NewPose(point r3.Vector, orientation quat.Number) Pose {
	norm := quat.Abs(orientation)
	if norm == 0 {
		return NewPoseFromPoint(point)
	}
	return Pose{point: point, orientation: quat.Scale(1/norm, orientation)}
}

// NewPoseFromAxisAngle returns a pose rotating by theta radians about axis, then translating.
func NewPoseFromAxisAngle(point, axis r3.Vector, theta float64) Pose {
	if axis.Norm() == 0 {
		return NewPoseFromPoint(point)
	}
	axis = axis.Normalize()
	s := math.Sin(theta / 2)
	return Pose{
		point:       point,
		orientation: quat.Number{Real: math.Cos(theta / 2), Imag: axis.X * s, Jmag: axis.Y * s, Kmag: axis.Z * s},
	}
}

// Point returns the translation of the pose.
func (p Pose) Point() r3.Vector {
	return p.point
}

// Orientation returns the rotation quaternion of the pose.
func (p Pose) Orientation() quat.Number {
	return p.orientation
}

// Rotate applies only the rotation of the pose to v.
func (p Pose) Rotate(v r3.Vector) r3.Vector {
	q := p.orientation
	if q == (quat.Number{}) {
		return v
	}
	rotated := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}
}

// Transform maps v from the pose's local frame into the parent frame.
func (p Pose) Transform(v r3.Vector) r3.Vector {
	return p.Rotate(v).Add(p.point)
}

func (p Pose) String() string {
	return fmt.Sprintf("{X:%.3f Y:%.3f Z:%.3f Q:[%.3f %.3f %.3f %.3f]}",
		p.point.X, p.point.Y, p.point.Z,
		p.orientation.Real, p.orientation.Imag, p.orientation.Jmag, p.orientation.Kmag)
}
