package tracking

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	pc "go.viam.com/obstacles/pointcloud"
	"go.viam.com/obstacles/spatialmath"
	"go.viam.com/obstacles/tracking/kalman"
	"go.viam.com/obstacles/vision/approximation"
)

// log((2π)^(3/2)), the normalizer of a trivariate normal density.
var logTwoPiThreeHalves = 1.5 * math.Log(2*math.Pi)

// State is one track of the Gaussian mixture tracker.
type State struct {
	ID int
	// Pos is the mean of the last associated observation, or the prediction between observations.
	Pos r3.Vector

	// ObsCovar is the 3x3 covariance of the last associated observation. Set it with SetObsCovar.
	ObsCovar    *mat.SymDense
	obsCovarInv *mat.SymDense
	// LogPdfConstant caches -log((2π)^(3/2) sqrt(det(ObsCovar))).
	LogPdfConstant float64
	// ValidObsCovar is false when ObsCovar is not positive definite. Density based association
	// skips such tracks.
	ValidObsCovar bool

	// Pi is the mixing weight of the track.
	Pi float64

	LifeTime             int
	SplitCounter         int
	ResetNonSplitCounter int
	UnmatchedFrames      int
	HystSplitVal         float64

	Filter   *kalman.Filter
	SSV      approximation.SSVData
	Geometry spatialmath.Geometry
	// Cluster is the last associated point cluster.
	Cluster    pc.PointCloud
	Trajectory []r3.Vector
}

// NewState returns a track driven by filter, positioned at the filter's estimate. A nil cov
// leaves the track without a valid covariance.
func NewState(id int, filter *kalman.Filter, cov *mat.SymDense, hystSplitVal float64) *State {
	s := &State{
		ID:           id,
		Pos:          filter.State().Position,
		HystSplitVal: hystSplitVal,
		Filter:       filter,
	}
	s.SetObsCovar(cov)
	return s
}

// SetObsCovar stores cov and caches its inverse and the log density constant. The covariance is
// valid iff it is non-nil, its Cholesky factorization succeeds and its determinant is positive.
func (s *State) SetObsCovar(cov *mat.SymDense) {
	s.ObsCovar = mat.NewSymDense(3, nil)
	if cov != nil {
		s.ObsCovar.CopySym(cov)
	}
	s.ValidObsCovar = false
	s.obsCovarInv = nil
	s.LogPdfConstant = math.Inf(-1)

	var chol mat.Cholesky
	if ok := chol.Factorize(s.ObsCovar); !ok {
		return
	}
	if det := chol.Det(); det <= 0 || math.IsInf(det, 0) || math.IsNaN(det) {
		return
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return
	}
	s.obsCovarInv = &inv
	s.LogPdfConstant = -(logTwoPiThreeHalves + 0.5*chol.LogDet())
	s.ValidObsCovar = true
}

// MahalanobisSq returns the squared Mahalanobis distance of x from the track, or +Inf if the
// covariance is not valid.
func (s *State) MahalanobisSq(x r3.Vector) float64 {
	if !s.ValidObsCovar {
		return math.Inf(1)
	}
	d := x.Sub(s.Pos)
	v := mat.NewVecDense(3, []float64{d.X, d.Y, d.Z})
	return mat.Inner(v, s.obsCovarInv, v)
}

// LogPdf returns the log density of x under the track's normal distribution, or -Inf if the
// covariance is not valid.
func (s *State) LogPdf(x r3.Vector) float64 {
	if !s.ValidObsCovar {
		return math.Inf(-1)
	}
	return s.LogPdfConstant - 0.5*s.MahalanobisSq(x)
}

// Position returns the filtered position.
func (s *State) Position() r3.Vector {
	return s.Filter.State().Position
}

// Velocity returns the filtered velocity.
func (s *State) Velocity() r3.Vector {
	return s.Filter.State().Velocity
}

func (s *State) appendTrajectory(p r3.Vector, maxLen int) {
	s.Trajectory = append(s.Trajectory, p)
	if maxLen > 0 && len(s.Trajectory) > maxLen {
		s.Trajectory = append(s.Trajectory[:0], s.Trajectory[len(s.Trajectory)-maxLen:]...)
	}
}

func (s *State) String() string {
	return fmt.Sprintf("track %d: pos=%v v=%v pi=%.3f life=%d split=%d valid=%t",
		s.ID, s.Position(), s.Velocity(), s.Pi, s.LifeTime, s.SplitCounter, s.ValidObsCovar)
}
