package tracking

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/samber/lo"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/obstacles/logging"
	"go.viam.com/obstacles/vision"
)

type recordingStateObserver struct {
	inits, updates, deletes []int
}

func (o *recordingStateObserver) InitState(s *State)   { o.inits = append(o.inits, s.ID) }
func (o *recordingStateObserver) UpdateState(s *State) { o.updates = append(o.updates, s.ID) }
func (o *recordingStateObserver) DeleteState(s *State) { o.deletes = append(o.deletes, s.ID) }

func newGMM(t *testing.T, cfg GMMConfig) (*GMMTracker, *clock.Mock, *recordingAggregator, *recordingStateObserver) {
	t.Helper()
	mock := clock.NewMock()
	gt, err := NewGMMTracker(cfg, mock, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	agg := &recordingAggregator{}
	gt.AttachAggregator(agg)
	obs := &recordingStateObserver{}
	gt.AttachStateObserver(obs)
	return gt, mock, agg, obs
}

func TestGMMConfigValidation(t *testing.T) {
	cfg := DefaultGMMConfig()
	test.That(t, cfg.CheckValid(), test.ShouldBeNil)

	cfg.HystSplitVal = 0.7
	cfg.SplitSeparation = 0
	cfg.TrajectoryLength = -1
	err := cfg.CheckValid()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "hyst_split_val")
	test.That(t, err.Error(), test.ShouldContainSubstring, "split_separation")
	test.That(t, err.Error(), test.ShouldContainSubstring, "trajectory_length")

	_, err = NewGMMTracker(cfg, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "gmm tracker config error")
}

func TestGMMTrackerFollowsMovingBox(t *testing.T) {
	ctx := context.Background()
	gt, mock, agg, obs := newGMM(t, DefaultGMMConfig())

	const speed = 0.3
	for i := 0; i < 90; i++ {
		if i > 0 {
			mock.Add(frameStep)
		}
		origin := r3.Vector{X: 1 + speed*float64(i)*frameStep.Seconds(), Y: -0.5}
		gt.UpdateObstacles(ctx, int64(i), []*vision.Object{newObject(t, boxPoints(origin, 5, 0.05))})
		test.That(t, agg.last(), test.ShouldHaveLength, 1)
		test.That(t, agg.last()[0].ID, test.ShouldEqual, 0)
	}
	test.That(t, agg.frames, test.ShouldHaveLength, 90)
	test.That(t, agg.frames[89], test.ShouldEqual, int64(89))
	test.That(t, obs.inits, test.ShouldResemble, []int{0})
	test.That(t, obs.updates, test.ShouldHaveLength, 89)

	obj := agg.last()[0]
	test.That(t, obj.Velocity.X, test.ShouldAlmostEqual, speed, 0.05)
	test.That(t, obj.Velocity.Y, test.ShouldAlmostEqual, 0, 0.05)
	test.That(t, obj.Position.Distance(obj.Center), test.ShouldBeLessThan, 0.05)

	states := gt.States()
	test.That(t, states, test.ShouldHaveLength, 1)
	s := states[0]
	test.That(t, s.LifeTime, test.ShouldEqual, 90)
	test.That(t, s.UnmatchedFrames, test.ShouldEqual, 0)
	test.That(t, s.ValidObsCovar, test.ShouldBeTrue)
	test.That(t, s.Pi, test.ShouldAlmostEqual, 1)
	test.That(t, s.Trajectory, test.ShouldHaveLength, 90)
	test.That(t, s.SSV.Initialized, test.ShouldBeTrue)
	test.That(t, s.Geometry, test.ShouldNotBeNil)
	test.That(t, s.Cluster.Size(), test.ShouldEqual, 125)
	test.That(t, s.SplitCounter, test.ShouldEqual, 0)
}

func TestGMMTrackerKeepsIdentities(t *testing.T) {
	ctx := context.Background()
	gt, mock, agg, _ := newGMM(t, DefaultGMMConfig())

	a := r3.Vector{X: 1}
	b := r3.Vector{X: -1, Y: 2}
	gt.UpdateObstacles(ctx, 0, []*vision.Object{newObject(t, boxPoints(a, 5, 0.05)), newObject(t, boxPoints(b, 5, 0.05))})
	test.That(t, agg.last()[0].ID, test.ShouldEqual, 0)
	test.That(t, agg.last()[1].ID, test.ShouldEqual, 1)

	// reversed order, small motion
	mock.Add(frameStep)
	step := r3.Vector{X: 0.01}
	gt.UpdateObstacles(ctx, 1, []*vision.Object{
		newObject(t, boxPoints(b.Add(step), 5, 0.05)),
		newObject(t, boxPoints(a.Add(step), 5, 0.05)),
	})
	test.That(t, agg.last()[0].ID, test.ShouldEqual, 1)
	test.That(t, agg.last()[1].ID, test.ShouldEqual, 0)
	test.That(t, gt.States(), test.ShouldHaveLength, 2)

	// a far observation starts a third track
	mock.Add(frameStep)
	gt.UpdateObstacles(ctx, 2, []*vision.Object{
		newObject(t, boxPoints(a.Add(step.Mul(2)), 5, 0.05)),
		newObject(t, boxPoints(r3.Vector{X: 5, Y: 5}, 5, 0.05)),
	})
	test.That(t, agg.last()[0].ID, test.ShouldEqual, 0)
	test.That(t, agg.last()[1].ID, test.ShouldEqual, 2)
	s, ok := gt.State(1)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, s.UnmatchedFrames, test.ShouldEqual, 1)
}

func TestGMMTrackerRetiresUnmatched(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultGMMConfig()
	cfg.MaxUnmatchedFrames = 2
	gt, mock, agg, obs := newGMM(t, cfg)

	gt.UpdateObstacles(ctx, 0, []*vision.Object{newObject(t, boxPoints(r3.Vector{}, 5, 0.05))})
	for i := 1; i <= 2; i++ {
		mock.Add(frameStep)
		gt.UpdateObstacles(ctx, int64(i), nil)
		test.That(t, gt.States(), test.ShouldHaveLength, 1)
		test.That(t, agg.last(), test.ShouldBeEmpty)
	}
	mock.Add(frameStep)
	gt.UpdateObstacles(ctx, 3, nil)
	test.That(t, gt.States(), test.ShouldBeEmpty)
	test.That(t, obs.deletes, test.ShouldResemble, []int{0})

	// ids are not reused
	mock.Add(frameStep)
	gt.UpdateObstacles(ctx, 4, []*vision.Object{newObject(t, boxPoints(r3.Vector{}, 5, 0.05))})
	test.That(t, agg.last()[0].ID, test.ShouldEqual, 1)
}

func TestGMMTrackerFallbackAssociation(t *testing.T) {
	ctx := context.Background()
	gt, mock, agg, _ := newGMM(t, DefaultGMMConfig())

	// a single point has no valid covariance
	gt.UpdateObstacles(ctx, 0, []*vision.Object{newObject(t, []r3.Vector{{X: 1}})})
	s, ok := gt.State(0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, s.ValidObsCovar, test.ShouldBeFalse)

	mock.Add(frameStep)
	gt.UpdateObstacles(ctx, 1, []*vision.Object{newObject(t, []r3.Vector{{X: 1.1}})})
	test.That(t, agg.last()[0].ID, test.ShouldEqual, 0)

	mock.Add(frameStep)
	gt.UpdateObstacles(ctx, 2, []*vision.Object{newObject(t, []r3.Vector{{X: 3}})})
	test.That(t, agg.last()[0].ID, test.ShouldEqual, 1)
	test.That(t, s.UnmatchedFrames, test.ShouldEqual, 1)
}

func TestGMMTrackerIncompleteObservations(t *testing.T) {
	ctx := context.Background()
	gt, mock, agg, _ := newGMM(t, DefaultGMMConfig())

	frame := func(offset float64) []*vision.Object {
		bare := &vision.Object{ID: vision.UnassignedID, Center: r3.Vector{X: offset}}
		noCovariance := newObject(t, boxPoints(r3.Vector{X: 2 + offset}, 5, 0.05))
		noCovariance.Covariance = nil
		noCloud := &vision.Object{
			ID:         vision.UnassignedID,
			Center:     r3.Vector{X: 4 + offset},
			Covariance: mat.NewSymDense(3, []float64{0.01, 0, 0, 0, 0.01, 0, 0, 0, 0.01}),
		}
		return []*vision.Object{bare, noCovariance, noCloud}
	}

	gt.UpdateObstacles(ctx, 0, frame(0))
	test.That(t, gt.States(), test.ShouldHaveLength, 3)
	for id, valid := range []bool{false, false, true} {
		s, ok := gt.State(id)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, s.ValidObsCovar, test.ShouldEqual, valid)
	}
	s, _ := gt.State(0)
	test.That(t, s.Geometry, test.ShouldBeNil)
	s, _ = gt.State(1)
	test.That(t, s.Geometry, test.ShouldNotBeNil)

	for i := 1; i < 4; i++ {
		mock.Add(frameStep)
		gt.UpdateObstacles(ctx, int64(i), frame(0.05*float64(i)))
		ids := lo.Map(agg.last(), func(o *vision.Object, _ int) int { return o.ID })
		test.That(t, ids, test.ShouldResemble, []int{0, 1, 2})
		test.That(t, gt.States(), test.ShouldHaveLength, 3)
	}
}

func TestGMMTrackerSplitsBimodalCluster(t *testing.T) {
	ctx := context.Background()
	gt, mock, agg, obs := newGMM(t, DefaultGMMConfig())

	left := boxPoints(r3.Vector{X: 0}, 5, 0.05)
	right := boxPoints(r3.Vector{X: 1}, 5, 0.05)
	gt.UpdateObstacles(ctx, 0, []*vision.Object{newObject(t, left, right)})
	for i := 1; i <= 2; i++ {
		mock.Add(frameStep)
		gt.UpdateObstacles(ctx, int64(i), []*vision.Object{newObject(t, left, right)})
		test.That(t, agg.last(), test.ShouldHaveLength, 1)
		s, _ := gt.State(0)
		test.That(t, s.SplitCounter, test.ShouldEqual, i)
	}

	mock.Add(frameStep)
	gt.UpdateObstacles(ctx, 3, []*vision.Object{newObject(t, left, right)})
	forwarded := agg.last()
	test.That(t, forwarded, test.ShouldHaveLength, 2)
	test.That(t, forwarded[0].ID, test.ShouldEqual, 0)
	test.That(t, forwarded[1].ID, test.ShouldEqual, 1)
	test.That(t, forwarded[0].Cloud.Size()+forwarded[1].Cloud.Size(), test.ShouldEqual, 250)
	test.That(t, forwarded[1].Cloud.Size(), test.ShouldBeGreaterThan, 100)
	test.That(t, forwarded[0].Center.Distance(forwarded[1].Center), test.ShouldAlmostEqual, 1, 0.05)
	test.That(t, obs.inits, test.ShouldResemble, []int{0, 1})

	parent, _ := gt.State(0)
	test.That(t, parent.SplitCounter, test.ShouldEqual, 0)
	test.That(t, parent.Position().Distance(forwarded[0].Center), test.ShouldBeLessThan, 1e-9)

	// both halves are followed separately afterwards
	mock.Add(frameStep)
	gt.UpdateObstacles(ctx, 4, []*vision.Object{newObject(t, left), newObject(t, right)})
	ids := map[int]bool{}
	for _, obj := range agg.last() {
		ids[obj.ID] = true
	}
	test.That(t, ids, test.ShouldResemble, map[int]bool{0: true, 1: true})
	test.That(t, gt.States(), test.ShouldHaveLength, 2)
}

func TestGMMTrackerSplitEvidenceResets(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultGMMConfig()
	cfg.SplitFrames = 10
	cfg.SplitResetFrames = 2
	gt, mock, _, _ := newGMM(t, cfg)

	left := boxPoints(r3.Vector{X: 0}, 5, 0.05)
	right := boxPoints(r3.Vector{X: 1}, 5, 0.05)
	whole := boxPoints(r3.Vector{X: 0.4}, 5, 0.05)
	gt.UpdateObstacles(ctx, 0, []*vision.Object{newObject(t, left, right)})
	mock.Add(frameStep)
	gt.UpdateObstacles(ctx, 1, []*vision.Object{newObject(t, left, right)})
	s, _ := gt.State(0)
	test.That(t, s.SplitCounter, test.ShouldEqual, 1)

	mock.Add(frameStep)
	gt.UpdateObstacles(ctx, 2, []*vision.Object{newObject(t, whole)})
	test.That(t, s.UnmatchedFrames, test.ShouldEqual, 0)
	test.That(t, s.SplitCounter, test.ShouldEqual, 1)
	test.That(t, s.ResetNonSplitCounter, test.ShouldEqual, 1)

	mock.Add(frameStep)
	gt.UpdateObstacles(ctx, 3, []*vision.Object{newObject(t, whole)})
	test.That(t, s.SplitCounter, test.ShouldEqual, 0)
	test.That(t, s.ResetNonSplitCounter, test.ShouldEqual, 2)
	test.That(t, gt.States(), test.ShouldHaveLength, 1)
}

func TestGMMTrackerResetAndClose(t *testing.T) {
	ctx := context.Background()
	gt, _, _, obs := newGMM(t, DefaultGMMConfig())
	gt.UpdateObstacles(ctx, 0, []*vision.Object{
		newObject(t, boxPoints(r3.Vector{}, 5, 0.05)),
		newObject(t, boxPoints(r3.Vector{X: 2}, 5, 0.05)),
		newObject(t, boxPoints(r3.Vector{X: 4}, 5, 0.05)),
	})
	test.That(t, gt.States(), test.ShouldHaveLength, 3)

	gt.Reset(1)
	gt.Reset(42)
	test.That(t, obs.deletes, test.ShouldResemble, []int{1})
	_, ok := gt.State(1)
	test.That(t, ok, test.ShouldBeFalse)

	gt.DetachStateObserver(obs)
	other := &recordingStateObserver{}
	gt.AttachStateObserver(other)
	gt.Close()
	test.That(t, other.deletes, test.ShouldResemble, []int{0, 2})
	test.That(t, obs.deletes, test.ShouldResemble, []int{1})
	test.That(t, gt.States(), test.ShouldBeEmpty)
}
