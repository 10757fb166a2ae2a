package tracking

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"

	pc "go.viam.com/obstacles/pointcloud"
	"go.viam.com/obstacles/tracking/kalman"
	"go.viam.com/obstacles/vision"
)

// splitPoint lets kmeans partition cluster points in Euclidean space.
type splitPoint r3.Vector

func (sp splitPoint) Coordinates() clusters.Coordinates {
	return clusters.Coordinates{sp.X, sp.Y, sp.Z}
}

func (sp splitPoint) Distance(c clusters.Coordinates) float64 {
	return r3.Vector(sp).Distance(r3.Vector{X: c[0], Y: c[1], Z: c[2]})
}

// bimodal partitions pts into two modes, the larger one first. ok is false when the points do not
// separate into two sufficiently large and distant modes.
func (gt *GMMTracker) bimodal(pts []r3.Vector, minFraction float64) (primary, secondary []r3.Vector, ok bool) {
	if len(pts) < 2*gt.cfg.MinSplitPoints {
		return nil, nil, false
	}
	observations := make(clusters.Observations, 0, len(pts))
	for _, p := range pts {
		observations = append(observations, splitPoint(p))
	}
	parts, err := kmeans.New().Partition(observations, 2)
	if err != nil || len(parts) != 2 {
		gt.logger.Debugw("bimodal partition failed", "points", len(pts), "error", err)
		return nil, nil, false
	}
	modes := [2][]r3.Vector{}
	for i, part := range parts {
		for _, o := range part.Observations {
			modes[i] = append(modes[i], r3.Vector(o.(splitPoint)))
		}
	}
	if len(modes[0]) < len(modes[1]) {
		modes[0], modes[1] = modes[1], modes[0]
	}
	primary, secondary = modes[0], modes[1]
	if len(secondary) < gt.cfg.MinSplitPoints {
		return nil, nil, false
	}
	if float64(len(secondary))/float64(len(pts)) < minFraction {
		return nil, nil, false
	}
	if pc.Centroid(primary).Distance(pc.Centroid(secondary)) <= gt.cfg.SplitSeparation {
		return nil, nil, false
	}
	return primary, secondary, true
}

// splitTest accumulates evidence that the cluster of s holds two obstacles. Once enough evidence
// is seen the track is re-centred on the larger mode, obj is reduced to its points, and a new
// track is born from the smaller mode. The observation of the new track is returned.
func (gt *GMMTracker) splitTest(ctx context.Context, frameIndex int64, s *State, obj *vision.Object) *vision.Object {
	primary, secondary, evidence := gt.bimodal(clusterPoints(obj), s.HystSplitVal)
	if !evidence {
		s.ResetNonSplitCounter++
		if s.ResetNonSplitCounter >= gt.cfg.SplitResetFrames {
			s.SplitCounter = 0
		}
		return nil
	}
	s.SplitCounter++
	s.ResetNonSplitCounter = 0
	if s.SplitCounter < gt.cfg.SplitFrames {
		return nil
	}

	velocity := s.Velocity()
	s.SplitCounter, s.ResetNonSplitCounter = 0, 0

	primaryObj, err := vision.NewObject(pc.NewFromPoints(primary), nil)
	if err != nil {
		return nil
	}
	secondaryObj, err := vision.NewObject(pc.NewFromPoints(secondary), nil)
	if err != nil {
		return nil
	}
	obj.Cloud, obj.Center, obj.Covariance = primaryObj.Cloud, primaryObj.Center, primaryObj.Covariance
	s.Pos = obj.Center
	s.SetObsCovar(obj.Covariance)
	s.Filter = gt.cfg.Kalman.filter(kalman.State{Position: obj.Center, Velocity: velocity})
	gt.fit(s, obj)
	obj.Geometry = s.Geometry

	childFilter := gt.cfg.Kalman.filter(kalman.State{Position: secondaryObj.Center, Velocity: velocity})
	child := NewState(gt.nextID, childFilter, secondaryObj.Covariance, gt.cfg.HystSplitVal)
	gt.nextID++
	child.LifeTime = 1
	child.Pi = s.Pi * float64(len(secondary)) / float64(len(primary)+len(secondary))
	s.Pi = math.Max(s.Pi-child.Pi, 0)
	gt.fit(child, secondaryObj)
	secondaryObj.Geometry = child.Geometry
	gt.annotate(child, secondaryObj)
	child.appendTrajectory(child.Position(), gt.cfg.TrajectoryLength)
	gt.states[child.ID] = child
	for _, o := range gt.observers {
		o.InitState(child)
	}
	gt.logger.CDebugw(ctx, "split track", "frame", frameIndex, "id", s.ID, "new_id", child.ID,
		"primary", len(primary), "secondary", len(secondary))
	return secondaryObj
}
