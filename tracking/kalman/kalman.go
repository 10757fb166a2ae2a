// Package kalman implements a constant velocity Kalman filter over 3D position measurements.
package kalman

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	// stateSize is [x y z vx vy vz].
	stateSize = 6
	// measSize is [x y z].
	measSize = 3
)

// State is the estimate of the filter.
type State struct {
	Position r3.Vector
	Velocity r3.Vector
}

// SystemModel describes one prediction step. The noises are variances added to the diagonal of
// the state covariance.
type SystemModel struct {
	NoisePos float64
	NoiseVel float64
	Dt       float64
}

// MeasurementModel describes a position measurement with isotropic variance Noise.
type MeasurementModel struct {
	Noise float64
}

// InitModel holds the variances of a fresh estimate. A large VelVariance lets the first
// measurements set the velocity instead of fighting the assumed initial one.
type InitModel struct {
	PosVariance float64
	VelVariance float64
}

// Filter estimates position and velocity from position measurements.
type Filter struct {
	x *mat.VecDense
	p *mat.Dense
}

// NewFilter returns a filter initialized at s.
func NewFilter(s State, init InitModel) *Filter {
	f := &Filter{}
	f.Init(s, init)
	return f
}

// Init resets the estimate to s with a diagonal covariance taken from init.
func (f *Filter) Init(s State, init InitModel) {
	f.x = mat.NewVecDense(stateSize, []float64{
		s.Position.X, s.Position.Y, s.Position.Z,
		s.Velocity.X, s.Velocity.Y, s.Velocity.Z,
	})
	f.p = mat.NewDense(stateSize, stateSize, nil)
	for i := 0; i < measSize; i++ {
		f.p.Set(i, i, init.PosVariance)
		f.p.Set(i+measSize, i+measSize, init.VelVariance)
	}
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func transition(dt float64) *mat.Dense {
	t := identity(stateSize)
	for i := 0; i < measSize; i++ {
		t.Set(i, i+measSize, dt)
	}
	return t
}

func observation() *mat.Dense {
	h := mat.NewDense(measSize, stateSize, nil)
	for i := 0; i < measSize; i++ {
		h.Set(i, i, 1)
	}
	return h
}

// Predict advances the estimate by sys.Dt under constant velocity.
func (f *Filter) Predict(sys SystemModel) State {
	t := transition(sys.Dt)
	var x mat.VecDense
	x.MulVec(t, f.x)
	f.x = &x

	var tp, p mat.Dense
	tp.Mul(t, f.p)
	p.Mul(&tp, t.T())
	for i := 0; i < measSize; i++ {
		p.Set(i, i, p.At(i, i)+sys.NoisePos)
		p.Set(i+measSize, i+measSize, p.At(i+measSize, i+measSize)+sys.NoiseVel)
	}
	f.p = &p
	return f.State()
}

// Update corrects the estimate with a position measurement.
func (f *Filter) Update(mm MeasurementModel, pos r3.Vector) (State, error) {
	h := observation()

	var ph, s mat.Dense
	ph.Mul(f.p, h.T())
	s.Mul(h, &ph)
	for i := 0; i < measSize; i++ {
		s.Set(i, i, s.At(i, i)+mm.Noise)
	}
	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return f.State(), errors.Wrap(err, "innovation covariance is singular")
	}
	var gain mat.Dense
	gain.Mul(&ph, &sInv)

	var predicted mat.VecDense
	predicted.MulVec(h, f.x)
	innovation := mat.NewVecDense(measSize, []float64{pos.X, pos.Y, pos.Z})
	innovation.SubVec(innovation, &predicted)

	var correction mat.VecDense
	correction.MulVec(&gain, innovation)
	f.x.AddVec(f.x, &correction)

	var kh mat.Dense
	kh.Mul(&gain, h)
	var ikh mat.Dense
	ikh.Sub(identity(stateSize), &kh)
	var p mat.Dense
	p.Mul(&ikh, f.p)
	f.p = &p
	return f.State(), nil
}

// State returns the current estimate.
func (f *Filter) State() State {
	return State{
		Position: r3.Vector{X: f.x.AtVec(0), Y: f.x.AtVec(1), Z: f.x.AtVec(2)},
		Velocity: r3.Vector{X: f.x.AtVec(3), Y: f.x.AtVec(4), Z: f.x.AtVec(5)},
	}
}

// Covariance returns a copy of the 6x6 state covariance.
func (f *Filter) Covariance() *mat.Dense {
	return mat.DenseCopyOf(f.p)
}
