package tracking

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/obstacles/logging"
	"go.viam.com/obstacles/obstacles"
	pc "go.viam.com/obstacles/pointcloud"
	"go.viam.com/obstacles/tracking/kalman"
	"go.viam.com/obstacles/vision"
)

const frameStep = time.Second / 30

func boxPoints(origin r3.Vector, n int, step float64) []r3.Vector {
	pts := make([]r3.Vector, 0, n*n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				pts = append(pts, origin.Add(r3.Vector{X: float64(i) * step, Y: float64(j) * step, Z: float64(k) * step}))
			}
		}
	}
	return pts
}

func newObject(t *testing.T, pts ...[]r3.Vector) *vision.Object {
	t.Helper()
	var all []r3.Vector
	for _, p := range pts {
		all = append(all, p...)
	}
	obj, err := vision.NewObject(pc.NewFromPoints(all), nil)
	test.That(t, err, test.ShouldBeNil)
	return obj
}

type recordingAggregator struct {
	frames  []int64
	objects [][]*vision.Object
}

func (ra *recordingAggregator) UpdateObstacles(_ context.Context, frameIndex int64, objects []*vision.Object) {
	ra.frames = append(ra.frames, frameIndex)
	ra.objects = append(ra.objects, objects)
}

func (ra *recordingAggregator) last() []*vision.Object {
	return ra.objects[len(ra.objects)-1]
}

// recordingTracker is a Tracker that records the lifecycle calls it receives.
type recordingTracker struct {
	obstacles.Aggregators
	recordingAggregator
	resets []int
	closed bool
}

func (rt *recordingTracker) Reset(id int) {
	rt.resets = append(rt.resets, id)
}

func (rt *recordingTracker) Close() {
	rt.closed = true
}

func TestFrameClock(t *testing.T) {
	mock := clock.NewMock()
	fc := newFrameClock(mock)
	test.That(t, fc.tick(), test.ShouldAlmostEqual, defaultDt)
	mock.Add(100 * time.Millisecond)
	test.That(t, fc.tick(), test.ShouldAlmostEqual, 0.1)
	mock.Add(time.Second)
	fc.reset()
	test.That(t, fc.tick(), test.ShouldAlmostEqual, defaultDt)
}

func TestNew(t *testing.T) {
	logger := logging.NewTestLogger(t)

	tr, err := New(DefaultConfig(), clock.NewMock(), logger)
	test.That(t, err, test.ShouldBeNil)
	_, ok := tr.(*GMMTracker)
	test.That(t, ok, test.ShouldBeTrue)

	cfg := DefaultConfig()
	cfg.Kind = KindKalman
	tr, err = New(cfg, clock.NewMock(), logger)
	test.That(t, err, test.ShouldBeNil)
	assigner, ok := tr.(*IDAssigner)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, assigner.chain, test.ShouldHaveLength, 1)

	cfg.Kind = "particle"
	_, err = New(cfg, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown tracker kind")

	cfg = DefaultConfig()
	cfg.GMM.SplitFrames = 0
	cfg.GMM.Kalman.NoiseMeas = 0
	_, err = New(cfg, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "split_frames")
	test.That(t, err.Error(), test.ShouldContainSubstring, "noise_measurement")
}

func TestStateCovariance(t *testing.T) {
	kc := DefaultKalmanConfig()
	s := NewState(3, kc.filter(kalman.State{Position: r3.Vector{X: 1}}), nil, 0.25)
	test.That(t, s.Pos, test.ShouldResemble, r3.Vector{X: 1})
	test.That(t, s.ValidObsCovar, test.ShouldBeFalse)
	test.That(t, math.IsInf(s.LogPdfConstant, -1), test.ShouldBeTrue)
	test.That(t, math.IsInf(s.LogPdf(r3.Vector{X: 1}), -1), test.ShouldBeTrue)
	test.That(t, math.IsInf(s.MahalanobisSq(r3.Vector{}), 1), test.ShouldBeTrue)

	// rank deficient
	flat := mat.NewSymDense(3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 0})
	s.SetObsCovar(flat)
	test.That(t, s.ValidObsCovar, test.ShouldBeFalse)

	diag := mat.NewSymDense(3, []float64{0.01, 0, 0, 0, 0.04, 0, 0, 0, 0.09})
	s.SetObsCovar(diag)
	test.That(t, s.ValidObsCovar, test.ShouldBeTrue)
	det := 0.01 * 0.04 * 0.09
	test.That(t, s.LogPdfConstant, test.ShouldAlmostEqual, -(1.5*math.Log(2*math.Pi) + 0.5*math.Log(det)))
	test.That(t, s.LogPdf(r3.Vector{X: 1}), test.ShouldAlmostEqual, s.LogPdfConstant)
	// one standard deviation along each axis
	test.That(t, s.MahalanobisSq(r3.Vector{X: 1.1, Y: 0.2, Z: 0.3}), test.ShouldAlmostEqual, 3)
	test.That(t, s.LogPdf(r3.Vector{X: 1.1}), test.ShouldAlmostEqual, s.LogPdfConstant-0.5)

	// the stored covariance is a copy
	diag.SetSym(0, 0, 5)
	test.That(t, s.ObsCovar.At(0, 0), test.ShouldAlmostEqual, 0.01)
}

func TestStateTrajectory(t *testing.T) {
	kc := DefaultKalmanConfig()
	s := NewState(0, kc.filter(kalman.State{}), nil, 0.25)
	for i := 0; i < 5; i++ {
		s.appendTrajectory(r3.Vector{X: float64(i)}, 3)
	}
	test.That(t, s.Trajectory, test.ShouldResemble, []r3.Vector{{X: 2}, {X: 3}, {X: 4}})
	s.appendTrajectory(r3.Vector{X: 5}, 0)
	test.That(t, s.Trajectory, test.ShouldHaveLength, 4)
}
