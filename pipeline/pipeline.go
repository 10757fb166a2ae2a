package pipeline

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/obstacles/config"
	"go.viam.com/obstacles/logging"
	"go.viam.com/obstacles/obstacles"
	"go.viam.com/obstacles/pointcloud/aggregation"
	"go.viam.com/obstacles/pointcloud/filter"
	"go.viam.com/obstacles/source"
	"go.viam.com/obstacles/tracking"
	"go.viam.com/obstacles/vision/segmentation"
)

// Option customizes a Pipeline.
type Option func(*options)

type options struct {
	clock clock.Clock
	poses filter.PoseProvider
}

// WithClock times the tracker with clk instead of the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		o.clock = clk
	}
}

// WithPoseProvider reads robot poses from p instead of the pipeline's own PoseStore.
func WithPoseProvider(p filter.PoseProvider) Option {
	return func(o *options) {
		o.poses = p
	}
}

// Pipeline owns every stage, from the filtered source down to the tracker.
type Pipeline struct {
	filtered *source.FilteredSource
	surfaces *SurfaceDetector
	stage    *obstacleStage
	detector *obstacles.Detector
	tracker  tracking.Tracker
	poses    *filter.PoseStore

	frames    atomic.Int64
	lastFrame atomic.Int64
	logger    logging.Logger
}

// New builds the stages described by cfg on top of src and wires them together:
// src -> filtered source -> surface detector -> obstacle detector -> tracker.
func New(cfg *config.Config, src source.Source, logger logging.Logger, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "pipeline config error")
	}
	if src == nil {
		return nil, errors.New("pipeline needs a frame source")
	}
	p := &Pipeline{poses: filter.NewPoseStore(), logger: logger}
	p.lastFrame.Store(-1)
	o := options{poses: p.poses}
	for _, opt := range opts {
		opt(&o)
	}

	chain, err := cfg.Filters.Chain(o.poses)
	if err != nil {
		return nil, errors.Wrap(err, "cannot build filter chain")
	}
	cloudFilter, err := aggregation.New(cfg.Aggregation)
	if err != nil {
		return nil, errors.Wrap(err, "cannot build cloud filter")
	}
	segmenter, err := segmentation.NewSurfaceSegmenter(cfg.Surfaces, logger.Sublogger("surfaces"))
	if err != nil {
		return nil, err
	}
	p.detector, err = obstacles.NewDetectorFromConfig(cfg.Obstacles, logger.Sublogger("obstacles"))
	if err != nil {
		return nil, err
	}
	p.tracker, err = tracking.New(cfg.Tracker, o.clock, logger.Sublogger("tracker"))
	if err != nil {
		return nil, err
	}

	p.filtered = source.NewFilteredSource(src, chain, cloudFilter, logger.Sublogger("filter"))
	p.surfaces = NewSurfaceDetector(segmenter, logger.Sublogger("surfaces"))
	p.stage = &obstacleStage{detector: p.detector}
	p.detector.AttachAggregator(p.tracker)
	p.surfaces.AttachFrameDataObserver(p.stage)
	p.surfaces.AttachFrameDataObserver(p)
	p.filtered.AttachObserver(p.surfaces)
	return p, nil
}

// UpdateFrame counts processed frames.
func (p *Pipeline) UpdateFrame(ctx context.Context, fd *FrameData) {
	p.frames.Inc()
	p.lastFrame.Store(fd.Index)
	p.logger.CDebugw(ctx, "frame done", "frame", fd.Index, "surfaces", len(fd.Surfaces), "obstacles", len(fd.Obstacles))
}

// AttachFrameDataObserver registers o for the FrameData of every frame. It sees the frame after
// obstacle detection and tracking.
func (p *Pipeline) AttachFrameDataObserver(o FrameDataObserver) {
	p.surfaces.AttachFrameDataObserver(o)
}

// DetachFrameDataObserver removes the first registration of o.
func (p *Pipeline) DetachFrameDataObserver(o FrameDataObserver) {
	p.surfaces.DetachFrameDataObserver(o)
}

// Open runs the source until it is exhausted or ctx is cancelled.
func (p *Pipeline) Open(ctx context.Context) error {
	return p.filtered.Open(ctx)
}

// Close detaches every stage from its upstream and closes the tracker, releasing all tracks.
func (p *Pipeline) Close() {
	p.filtered.DetachObserver(p.surfaces)
	p.filtered.Close()
	p.surfaces.DetachFrameDataObserver(p.stage)
	p.surfaces.DetachFrameDataObserver(p)
	p.detector.DetachAggregator(p.tracker)
	p.tracker.Close()
}

// Detector returns the obstacle detector, to which further aggregators may be attached.
func (p *Pipeline) Detector() *obstacles.Detector {
	return p.detector
}

// Tracker returns the tracking engine. Its own aggregators receive the tracked obstacles.
func (p *Pipeline) Tracker() tracking.Tracker {
	return p.tracker
}

// Filtered returns the filtered source.
func (p *Pipeline) Filtered() *source.FilteredSource {
	return p.filtered
}

// Poses returns the pose store read by the pose transform unless WithPoseProvider replaced it.
func (p *Pipeline) Poses() *filter.PoseStore {
	return p.poses
}

// Frames returns the number of frames processed and the index of the last one, or -1.
func (p *Pipeline) Frames() (int64, int64) {
	return p.frames.Load(), p.lastFrame.Load()
}
