// Package approximation fits swept sphere volumes to obstacle clusters.
package approximation

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	pc "go.viam.com/obstacles/pointcloud"
	"go.viam.com/obstacles/spatialmath"
)

// minRadius keeps single point and perfectly flat clusters representable.
const minRadius = 1e-3

// Approximator turns a cluster into a geometric model.
type Approximator interface {
	Approximate(ctx context.Context, cloud pc.PointCloud) (spatialmath.Geometry, error)
}

// SSVData is the result of a sphere and capsule fit. Capsule extents are projections onto the
// dominant principal axis, relative to the centroid.
type SSVData struct {
	Centroid      r3.Vector
	Axis          r3.Vector
	RadiusSphere  float64
	RadiusCapsule float64
	CapsuleMin    float64
	CapsuleMax    float64
	IsCapsule     bool
	Initialized   bool
}

// FitSSV fits both a sphere and a capsule to pts and returns the one with the smaller volume.
// The sphere is centred on the centroid and reaches the farthest point. The capsule segment lies
// on the dominant principal axis between the extreme projections; in tight mode its endpoints
// are pulled inward by the radius so the caps end at the extremes.
func FitSSV(pts []r3.Vector, tight bool) (spatialmath.Geometry, SSVData, error) {
	var data SSVData
	if len(pts) == 0 {
		return nil, data, errors.New("cannot fit a volume to zero points")
	}
	data.Centroid = pc.Centroid(pts)
	for _, p := range pts {
		data.RadiusSphere = math.Max(data.RadiusSphere, p.Sub(data.Centroid).Norm())
	}
	data.RadiusSphere = math.Max(data.RadiusSphere, minRadius)
	sphere, err := spatialmath.NewSphere(data.Centroid, data.RadiusSphere)
	if err != nil {
		return nil, data, err
	}
	data.Initialized = true

	_, axes, err := pc.PrincipalAxes(pts)
	if err != nil {
		//nolint:nilerr
		return sphere, data, nil
	}
	data.Axis = axes[2]
	data.CapsuleMin, data.CapsuleMax = math.Inf(1), math.Inf(-1)
	for _, p := range pts {
		d := p.Sub(data.Centroid)
		t := d.Dot(data.Axis)
		data.CapsuleMin = math.Min(data.CapsuleMin, t)
		data.CapsuleMax = math.Max(data.CapsuleMax, t)
		data.RadiusCapsule = math.Max(data.RadiusCapsule, d.Sub(data.Axis.Mul(t)).Norm())
	}
	data.RadiusCapsule = math.Max(data.RadiusCapsule, minRadius)

	lo, hi := data.CapsuleMin, data.CapsuleMax
	if tight {
		lo += data.RadiusCapsule
		hi -= data.RadiusCapsule
		if lo > hi {
			mid := (data.CapsuleMin + data.CapsuleMax) / 2
			lo, hi = mid, mid
		}
	}
	capsule, err := spatialmath.NewCapsule(
		data.Centroid.Add(data.Axis.Mul(lo)),
		data.Centroid.Add(data.Axis.Mul(hi)),
		data.RadiusCapsule,
	)
	if err != nil {
		return nil, data, err
	}
	if capsule.Volume() < sphere.Volume() {
		data.IsCapsule = true
		return capsule, data, nil
	}
	return sphere, data, nil
}

// PCAApproximator approximates clusters with FitSSV.
type PCAApproximator struct {
	Tight bool
}

// NewPCAApproximator returns an approximator fitting tight or loose capsules.
func NewPCAApproximator(tight bool) *PCAApproximator {
	return &PCAApproximator{Tight: tight}
}

// Approximate fits a swept sphere volume to cloud.
func (a *PCAApproximator) Approximate(ctx context.Context, cloud pc.PointCloud) (spatialmath.Geometry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g, _, err := FitSSV(cloud.Points(), a.Tight)
	return g, err
}
