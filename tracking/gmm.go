package tracking

import (
	"context"
	"math"
	"sort"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"

	"go.viam.com/obstacles/logging"
	"go.viam.com/obstacles/obstacles"
	"go.viam.com/obstacles/tracking/kalman"
	"go.viam.com/obstacles/vision"
	"go.viam.com/obstacles/vision/approximation"
)

// minPi keeps the mixing weight of a track that lost its support from vanishing.
const minPi = 1e-3

// GMMConfig parameterizes the Gaussian mixture tracker.
type GMMConfig struct {
	Kalman KalmanConfig `json:"kalman"`

	// HystSplitVal is the smallest share of a cluster the secondary mode must hold to count as split evidence.
	HystSplitVal float64 `json:"hyst_split_val"`
	// SplitFrames is the amount of split evidence needed before a track splits.
	SplitFrames int `json:"split_frames"`
	// SplitResetFrames is the number of consecutive frames without evidence that clear the evidence.
	SplitResetFrames int `json:"split_reset_frames"`
	// SplitSeparation is the smallest distance between the two modes of a bimodal cluster, in metres.
	SplitSeparation float64 `json:"split_separation"`
	// MinSplitPoints is the smallest mode size considered for a split.
	MinSplitPoints int `json:"min_split_points"`
	// MaxUnmatchedFrames is the number of consecutive unmatched frames after which a track is deleted.
	MaxUnmatchedFrames int `json:"max_unmatched_frames"`
	// GateLogPdf is the smallest log density of an associated observation.
	GateLogPdf float64 `json:"gate_log_pdf"`
	// FallbackGate is the largest centroid distance for tracks with an invalid covariance, in metres.
	FallbackGate     float64 `json:"fallback_gate"`
	EnableTightFit   bool    `json:"enable_tight_fit"`
	TrajectoryLength int     `json:"trajectory_length"`
}

// DefaultGMMConfig returns the nominal mixture tracker parameters.
func DefaultGMMConfig() GMMConfig {
	return GMMConfig{
		Kalman:             DefaultKalmanConfig(),
		HystSplitVal:       0.25,
		SplitFrames:        3,
		SplitResetFrames:   5,
		SplitSeparation:    0.25,
		MinSplitPoints:     10,
		MaxUnmatchedFrames: 10,
		GateLogPdf:         -20,
		FallbackGate:       0.5,
		EnableTightFit:     true,
		TrajectoryLength:   128,
	}
}

// CheckValid validates the config.
func (cfg *GMMConfig) CheckValid() error {
	err := cfg.Kalman.CheckValid()
	if cfg.HystSplitVal <= 0 || cfg.HystSplitVal > 0.5 {
		err = multierr.Append(err, errors.Errorf("hyst_split_val must be in (0, 0.5], got %v", cfg.HystSplitVal))
	}
	if cfg.SplitFrames < 1 {
		err = multierr.Append(err, errors.Errorf("split_frames must be at least 1, got %d", cfg.SplitFrames))
	}
	if cfg.SplitResetFrames < 1 {
		err = multierr.Append(err, errors.Errorf("split_reset_frames must be at least 1, got %d", cfg.SplitResetFrames))
	}
	if cfg.SplitSeparation <= 0 {
		err = multierr.Append(err, errors.Errorf("split_separation must be positive, got %v", cfg.SplitSeparation))
	}
	if cfg.MinSplitPoints < 1 {
		err = multierr.Append(err, errors.Errorf("min_split_points must be at least 1, got %d", cfg.MinSplitPoints))
	}
	if cfg.MaxUnmatchedFrames < 0 {
		err = multierr.Append(err, errors.Errorf("max_unmatched_frames must not be negative, got %d", cfg.MaxUnmatchedFrames))
	}
	if cfg.FallbackGate < 0 {
		err = multierr.Append(err, errors.Errorf("fallback_gate must not be negative, got %v", cfg.FallbackGate))
	}
	if cfg.TrajectoryLength < 0 {
		err = multierr.Append(err, errors.Errorf("trajectory_length must not be negative, got %d", cfg.TrajectoryLength))
	}
	return err
}

// A StateObserver holds resources, such as visualization handles, tied to the lifetime of tracks.
// DeleteState is called on every removal path.
type StateObserver interface {
	InitState(s *State)
	UpdateState(s *State)
	DeleteState(s *State)
}

// GMMTracker models the obstacles as a mixture of Gaussians, one per track, and associates every
// frame's observations to the mixture components.
type GMMTracker struct {
	obstacles.Aggregators

	cfg       GMMConfig
	clock     frameClock
	states    map[int]*State
	nextID    int
	observers []StateObserver
	logger    logging.Logger
}

// NewGMMTracker returns an empty tracker timed by clk.
func NewGMMTracker(cfg GMMConfig, clk clock.Clock, logger logging.Logger) (*GMMTracker, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "gmm tracker config error")
	}
	return &GMMTracker{
		cfg:    cfg,
		clock:  newFrameClock(clk),
		states: map[int]*State{},
		logger: logger,
	}, nil
}

// AttachStateObserver registers o. It is told about tracks created from now on.
func (gt *GMMTracker) AttachStateObserver(o StateObserver) {
	gt.observers = append(gt.observers, o)
}

// DetachStateObserver removes the first registration of o.
func (gt *GMMTracker) DetachStateObserver(o StateObserver) {
	for i, existing := range gt.observers {
		if existing == o {
			gt.observers = append(gt.observers[:i], gt.observers[i+1:]...)
			return
		}
	}
}

func (gt *GMMTracker) sortedIDs() []int {
	ids := lo.Keys(gt.states)
	sort.Ints(ids)
	return ids
}

// States returns the live tracks ordered by id.
func (gt *GMMTracker) States() []*State {
	return lo.Map(gt.sortedIDs(), func(id int, _ int) *State { return gt.states[id] })
}

// State returns the track with the given id.
func (gt *GMMTracker) State(id int) (*State, bool) {
	s, ok := gt.states[id]
	return s, ok
}

// UpdateObstacles runs one frame of the tracker: prediction, association, update, split,
// retirement and birth. Every observation leaves annotated with its track id, filtered position
// and velocity. Observations split off a track are appended before forwarding.
func (gt *GMMTracker) UpdateObstacles(ctx context.Context, frameIndex int64, objects []*vision.Object) {
	ctx, span := trace.StartSpan(ctx, "tracking::GMMTracker::UpdateObstacles")
	defer span.End()

	dt := gt.clock.tick()
	ids := gt.sortedIDs()
	for _, id := range ids {
		s := gt.states[id]
		s.Pos = s.Filter.Predict(gt.cfg.Kalman.system(dt)).Position
	}

	logp := make([][]float64, len(ids))
	for ti, id := range ids {
		s := gt.states[id]
		logp[ti] = make([]float64, len(objects))
		for oi, obj := range objects {
			logp[ti][oi] = s.LogPdf(obj.Center)
		}
	}
	gt.updateWeights(ids, logp, len(objects))
	matches := gt.associate(ids, logp, objects)

	forwarded := append(make([]*vision.Object, 0, len(objects)), objects...)
	matchedTrack := make(map[int]bool, len(matches))
	matchedObs := make([]bool, len(objects))
	for oi := range objects {
		id, ok := matches[oi]
		if !ok {
			continue
		}
		matchedTrack[id] = true
		matchedObs[oi] = true
		if spawned := gt.updateMatched(ctx, frameIndex, gt.states[id], objects[oi]); spawned != nil {
			forwarded = append(forwarded, spawned)
		}
	}

	for _, id := range ids {
		if matchedTrack[id] {
			continue
		}
		s := gt.states[id]
		s.LifeTime++
		s.UnmatchedFrames++
		if s.UnmatchedFrames > gt.cfg.MaxUnmatchedFrames {
			gt.logger.CDebugw(ctx, "retiring track", "frame", frameIndex, "id", id, "lifetime", s.LifeTime)
			gt.Reset(id)
			continue
		}
		for _, o := range gt.observers {
			o.UpdateState(s)
		}
	}

	for oi, obj := range objects {
		if !matchedObs[oi] {
			gt.birth(obj, len(objects))
		}
	}

	gt.logger.CDebugw(ctx, "gmm tracker updated",
		"frame", frameIndex, "dt", dt, "observations", len(objects), "matched", len(matches), "tracks", len(gt.states))
	gt.NotifyObstacles(ctx, frameIndex, forwarded)
}

// updateWeights sets every valid track's mixing weight to its mean soft responsibility over the
// observations. Invalid tracks have no density and keep no weight.
func (gt *GMMTracker) updateWeights(ids []int, logp [][]float64, numObs int) {
	if numObs == 0 {
		return
	}
	sums := make([]float64, len(ids))
	for oi := 0; oi < numObs; oi++ {
		maxTerm := math.Inf(-1)
		terms := make([]float64, len(ids))
		for ti, id := range ids {
			s := gt.states[id]
			terms[ti] = math.Inf(-1)
			if s.ValidObsCovar {
				terms[ti] = math.Log(math.Max(s.Pi, minPi)) + logp[ti][oi]
			}
			maxTerm = math.Max(maxTerm, terms[ti])
		}
		if math.IsInf(maxTerm, -1) {
			continue
		}
		total := 0.
		for ti := range ids {
			total += math.Exp(terms[ti] - maxTerm)
		}
		for ti := range ids {
			sums[ti] += math.Exp(terms[ti]-maxTerm) / total
		}
	}
	for ti, id := range ids {
		s := gt.states[id]
		if s.ValidObsCovar {
			s.Pi = sums[ti] / float64(numObs)
		} else {
			s.Pi = 0
		}
	}
}

type association struct {
	track, obs int
	score      float64
}

// associate hard assigns observations to tracks, at most one per track. Valid tracks are matched
// by descending log density above the gate; tracks with an invalid covariance then take the
// closest free observation within the fallback gate. It returns the track id of every matched
// observation index.
func (gt *GMMTracker) associate(ids []int, logp [][]float64, objects []*vision.Object) map[int]int {
	var byDensity []association
	for ti, id := range ids {
		if !gt.states[id].ValidObsCovar {
			continue
		}
		for oi := range objects {
			if logp[ti][oi] >= gt.cfg.GateLogPdf {
				byDensity = append(byDensity, association{track: ti, obs: oi, score: logp[ti][oi]})
			}
		}
	}
	sort.SliceStable(byDensity, func(i, j int) bool { return byDensity[i].score > byDensity[j].score })

	matches := map[int]int{}
	trackUsed := make([]bool, len(ids))
	take := func(as []association) {
		for _, a := range as {
			if trackUsed[a.track] {
				continue
			}
			if _, taken := matches[a.obs]; taken {
				continue
			}
			trackUsed[a.track] = true
			matches[a.obs] = ids[a.track]
		}
	}
	take(byDensity)

	var byDistance []association
	for ti, id := range ids {
		s := gt.states[id]
		if s.ValidObsCovar || trackUsed[ti] {
			continue
		}
		for oi, obj := range objects {
			if _, taken := matches[oi]; taken {
				continue
			}
			if d := s.Pos.Distance(obj.Center); d <= gt.cfg.FallbackGate {
				byDistance = append(byDistance, association{track: ti, obs: oi, score: d})
			}
		}
	}
	sort.SliceStable(byDistance, func(i, j int) bool { return byDistance[i].score < byDistance[j].score })
	take(byDistance)
	return matches
}

func (gt *GMMTracker) annotate(s *State, obj *vision.Object) {
	obj.ID = s.ID
	obj.Position = s.Position()
	obj.Velocity = s.Velocity()
}

// clusterPoints returns the points of obj, or nil when it carries no cloud.
func clusterPoints(obj *vision.Object) []r3.Vector {
	if obj.Cloud == nil {
		return nil
	}
	return obj.Cloud.Points()
}

// fit approximates the cluster of obj with a swept sphere volume. Observations without points
// keep the previous shape.
func (gt *GMMTracker) fit(s *State, obj *vision.Object) {
	pts := clusterPoints(obj)
	if len(pts) == 0 {
		return
	}
	s.Cluster = obj.Cloud
	geometry, ssv, err := approximation.FitSSV(pts, gt.cfg.EnableTightFit)
	if err != nil {
		gt.logger.Debugw("shape fit failed", "id", s.ID, "error", err)
		return
	}
	s.Geometry, s.SSV = geometry, ssv
}

func (gt *GMMTracker) updateMatched(ctx context.Context, frameIndex int64, s *State, obj *vision.Object) *vision.Object {
	if _, err := s.Filter.Update(gt.cfg.Kalman.measurement(), obj.Center); err != nil {
		gt.logger.Warnw("kalman update failed", "frame", frameIndex, "id", s.ID, "error", err)
	}
	s.Pos = obj.Center
	s.SetObsCovar(obj.Covariance)
	s.LifeTime++
	s.UnmatchedFrames = 0
	gt.fit(s, obj)
	spawned := gt.splitTest(ctx, frameIndex, s, obj)
	gt.annotate(s, obj)
	s.appendTrajectory(s.Position(), gt.cfg.TrajectoryLength)
	for _, o := range gt.observers {
		o.UpdateState(s)
	}
	return spawned
}

// birth starts a track at an unmatched observation.
func (gt *GMMTracker) birth(obj *vision.Object, numObs int) *State {
	s := NewState(gt.nextID, gt.cfg.Kalman.filter(kalman.State{Position: obj.Center}), obj.Covariance, gt.cfg.HystSplitVal)
	gt.nextID++
	s.LifeTime = 1
	s.Pi = 1 / float64(numObs)
	gt.fit(s, obj)
	gt.annotate(s, obj)
	s.appendTrajectory(s.Position(), gt.cfg.TrajectoryLength)
	gt.states[s.ID] = s
	for _, o := range gt.observers {
		o.InitState(s)
	}
	return s
}

// Reset deletes the track with the given id, releasing its observer resources. Unknown ids are
// ignored. Ids are never reused.
func (gt *GMMTracker) Reset(id int) {
	s, ok := gt.states[id]
	if !ok {
		return
	}
	delete(gt.states, id)
	for _, o := range gt.observers {
		o.DeleteState(s)
	}
}

// Close deletes every track.
func (gt *GMMTracker) Close() {
	for _, id := range gt.sortedIDs() {
		gt.Reset(id)
	}
	gt.clock.reset()
}
