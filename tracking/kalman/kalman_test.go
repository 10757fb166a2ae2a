package kalman

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

const dt = 1. / 30

var (
	unit  = InitModel{PosVariance: 1, VelVariance: 1}
	fresh = InitModel{PosVariance: 0.1, VelVariance: 1e4}
	sys   = SystemModel{NoisePos: 0.01, NoiseVel: 0.15, Dt: dt}
	mm    = MeasurementModel{Noise: 0.10}
)

func TestPredict(t *testing.T) {
	f := NewFilter(State{Position: r3.Vector{X: 1}, Velocity: r3.Vector{Y: 2}}, unit)
	s := f.Predict(SystemModel{NoisePos: 0.01, NoiseVel: 0.15, Dt: 0.5})
	test.That(t, s.Position.X, test.ShouldAlmostEqual, 1)
	test.That(t, s.Position.Y, test.ShouldAlmostEqual, 1)
	test.That(t, s.Velocity.Y, test.ShouldAlmostEqual, 2)

	cov := f.Covariance()
	// 1 + dt^2 + noise
	test.That(t, cov.At(0, 0), test.ShouldAlmostEqual, 1.26)
	test.That(t, cov.At(0, 3), test.ShouldAlmostEqual, 0.5)
	test.That(t, cov.At(3, 3), test.ShouldAlmostEqual, 1.15)
	// the copy does not alias the filter
	cov.Set(0, 0, 100)
	test.That(t, f.Covariance().At(0, 0), test.ShouldAlmostEqual, 1.26)
}

func TestUpdatePullsTowardMeasurement(t *testing.T) {
	f := NewFilter(State{}, unit)
	s, err := f.Update(MeasurementModel{Noise: 1}, r3.Vector{X: 2})
	test.That(t, err, test.ShouldBeNil)
	// equal prior and measurement variance splits the difference
	test.That(t, s.Position.X, test.ShouldAlmostEqual, 1)
	test.That(t, f.Covariance().At(0, 0), test.ShouldAlmostEqual, 0.5)
}

func TestConstantVelocityConvergence(t *testing.T) {
	velocity := r3.Vector{X: 0.5, Y: -0.2, Z: 0.1}
	pos := r3.Vector{X: 1, Y: 2}
	f := NewFilter(State{Position: pos}, fresh)

	var s State
	for i := 0; i < 600; i++ {
		pos = pos.Add(velocity.Mul(dt))
		f.Predict(sys)
		var err error
		s, err = f.Update(mm, pos)
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, s.Velocity.X, test.ShouldAlmostEqual, velocity.X, 0.01)
	test.That(t, s.Velocity.Y, test.ShouldAlmostEqual, velocity.Y, 0.01)
	test.That(t, s.Velocity.Z, test.ShouldAlmostEqual, velocity.Z, 0.01)
	test.That(t, s.Position.Sub(pos).Norm(), test.ShouldBeLessThan, 0.01)
}

func TestFirstUpdatesRecoverVelocity(t *testing.T) {
	f := NewFilter(State{}, fresh)
	f.Predict(sys)
	s, err := f.Update(mm, r3.Vector{X: 0.02})
	test.That(t, err, test.ShouldBeNil)
	// 0.02 m in one 1/30 s frame
	test.That(t, s.Velocity.X, test.ShouldAlmostEqual, 0.6, 0.02)
}

func TestConstantVelocityErrorShrinks(t *testing.T) {
	velocity := r3.Vector{X: 0.5, Y: -0.2, Z: 0.1}
	pos := r3.Vector{X: 1, Y: 2}
	f := NewFilter(State{Position: pos}, fresh)

	prev := math.Inf(1)
	for i := 0; i < 10; i++ {
		pos = pos.Add(velocity.Mul(dt))
		f.Predict(sys)
		s, err := f.Update(mm, pos)
		test.That(t, err, test.ShouldBeNil)
		e := s.Position.Sub(pos).Norm()
		test.That(t, e, test.ShouldBeLessThan, prev)
		prev = e
	}
}

func TestStationaryVelocityConverges(t *testing.T) {
	pos := r3.Vector{X: 0.05}
	f := NewFilter(State{Position: pos, Velocity: r3.Vector{X: 1}}, fresh)

	prev := math.Inf(1)
	var s State
	for i := 0; i < 50; i++ {
		f.Predict(sys)
		var err error
		s, err = f.Update(mm, pos)
		test.That(t, err, test.ShouldBeNil)
		v := s.Velocity.Norm()
		test.That(t, v, test.ShouldBeLessThanOrEqualTo, prev)
		prev = v
	}
	test.That(t, s.Velocity.Norm(), test.ShouldBeLessThan, 1e-3)
	test.That(t, s.Position.Sub(pos).Norm(), test.ShouldBeLessThan, 1e-3)
}
