package tracking

import (
	"context"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.opencensus.io/trace"

	"go.viam.com/obstacles/logging"
	"go.viam.com/obstacles/obstacles"
	"go.viam.com/obstacles/vision"
)

// AssignerConfig parameterizes nearest centroid identity assignment.
type AssignerConfig struct {
	// MaxDistance is the farthest, in metres, an obstacle may move between frames and keep its ID.
	MaxDistance float64 `json:"max_distance"`
	// MaxMissingFrames is the number of consecutive frames an ID survives without observation.
	MaxMissingFrames int `json:"max_missing_frames"`
}

// DefaultAssignerConfig returns a 30cm gate kept for 10 missing frames.
func DefaultAssignerConfig() AssignerConfig {
	return AssignerConfig{MaxDistance: 0.3, MaxMissingFrames: 10}
}

// CheckValid validates the config.
func (cfg *AssignerConfig) CheckValid() error {
	if cfg.MaxDistance <= 0 {
		return errors.Errorf("max_distance must be positive, got %v", cfg.MaxDistance)
	}
	if cfg.MaxMissingFrames < 0 {
		return errors.Errorf("max_missing_frames must not be negative, got %d", cfg.MaxMissingFrames)
	}
	return nil
}

type assignedTrack struct {
	id      int
	center  r3.Vector
	missing int
}

type candidate struct {
	track, obs int
	dist       float64
}

// IDAssigner gives per-frame observations persistent IDs by greedy nearest centroid
// correspondence with the previous frame, then forwards them.
type IDAssigner struct {
	obstacles.Aggregators

	cfg    AssignerConfig
	tracks []*assignedTrack
	nextID int
	chain  []Tracker
	logger logging.Logger
}

// NewIDAssigner returns an assigner with no known obstacles.
func NewIDAssigner(cfg AssignerConfig, logger logging.Logger) (*IDAssigner, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "id assigner config error")
	}
	return &IDAssigner{cfg: cfg, logger: logger}, nil
}

// Chain attaches next as an aggregator whose tracks follow the lifetime of the assigned IDs:
// next is reset when an ID is dropped and closed with the assigner.
func (ia *IDAssigner) Chain(next Tracker) {
	ia.AttachAggregator(next)
	ia.chain = append(ia.chain, next)
}

// UpdateObstacles assigns an ID to every observation and forwards them. Pairs are matched
// closest first; an observation farther than MaxDistance from every free track gets a new ID.
func (ia *IDAssigner) UpdateObstacles(ctx context.Context, frameIndex int64, objects []*vision.Object) {
	ctx, span := trace.StartSpan(ctx, "tracking::IDAssigner::UpdateObstacles")
	defer span.End()

	var candidates []candidate
	for ti, track := range ia.tracks {
		for oi, obj := range objects {
			if d := track.center.Distance(obj.Center); d <= ia.cfg.MaxDistance {
				candidates = append(candidates, candidate{track: ti, obs: oi, dist: d})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].dist < candidates[j].dist
	})

	trackUsed := make([]bool, len(ia.tracks))
	obsUsed := make([]bool, len(objects))
	for _, c := range candidates {
		if trackUsed[c.track] || obsUsed[c.obs] {
			continue
		}
		trackUsed[c.track], obsUsed[c.obs] = true, true
		track := ia.tracks[c.track]
		track.center = objects[c.obs].Center
		track.missing = 0
		objects[c.obs].ID = track.id
	}

	var lost []int
	for ti, track := range ia.tracks {
		if !trackUsed[ti] {
			track.missing++
			if track.missing > ia.cfg.MaxMissingFrames {
				lost = append(lost, track.id)
			}
		}
	}
	for oi, obj := range objects {
		if obsUsed[oi] {
			continue
		}
		obj.ID = ia.nextID
		ia.nextID++
		ia.tracks = append(ia.tracks, &assignedTrack{id: obj.ID, center: obj.Center})
	}
	for _, id := range lost {
		ia.Reset(id)
	}
	ia.logger.CDebugw(ctx, "assigned ids", "frame", frameIndex, "tracks", len(ia.tracks), "lost", lost)
	ia.NotifyObstacles(ctx, frameIndex, objects)
}

// IDs returns the live IDs in ascending order.
func (ia *IDAssigner) IDs() []int {
	ids := lo.Map(ia.tracks, func(t *assignedTrack, _ int) int { return t.id })
	sort.Ints(ids)
	return ids
}

// Reset drops id and resets it in the chained trackers. Unknown ids are ignored.
func (ia *IDAssigner) Reset(id int) {
	_, idx, found := lo.FindIndexOf(ia.tracks, func(t *assignedTrack) bool { return t.id == id })
	if !found {
		return
	}
	ia.tracks = append(ia.tracks[:idx], ia.tracks[idx+1:]...)
	for _, next := range ia.chain {
		next.Reset(id)
	}
}

// Close drops every ID and closes the chained trackers. IDs are never reused.
func (ia *IDAssigner) Close() {
	ia.tracks = nil
	for _, next := range ia.chain {
		next.Close()
	}
}
