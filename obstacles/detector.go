// Package obstacles turns the non-surface points of a frame into obstacle observations and
// publishes them to aggregators.
package obstacles

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"

	"go.viam.com/obstacles/logging"
	pc "go.viam.com/obstacles/pointcloud"
	"go.viam.com/obstacles/vision"
	"go.viam.com/obstacles/vision/approximation"
	"go.viam.com/obstacles/vision/segmentation"
)

// An Aggregator consumes the obstacles detected in every frame. Aggregators are called
// synchronously, in registration order, and may annotate the observations they receive.
type Aggregator interface {
	UpdateObstacles(ctx context.Context, frameIndex int64, obstacles []*vision.Object)
}

// Aggregators is an ordered registry of aggregators. It is meant to be embedded by stages that
// publish obstacles.
type Aggregators struct {
	list []Aggregator
}

// AttachAggregator registers a consumer of obstacles. An aggregator attached twice is called twice.
func (as *Aggregators) AttachAggregator(a Aggregator) {
	as.list = append(as.list, a)
}

// DetachAggregator removes the first registration of a.
func (as *Aggregators) DetachAggregator(a Aggregator) {
	for i, existing := range as.list {
		if existing == a {
			as.list = append(as.list[:i], as.list[i+1:]...)
			return
		}
	}
}

// NotifyObstacles calls every aggregator in registration order.
func (as *Aggregators) NotifyObstacles(ctx context.Context, frameIndex int64, obstacles []*vision.Object) {
	for _, a := range as.list {
		a.UpdateObstacles(ctx, frameIndex, obstacles)
	}
}

// Config parameterizes obstacle detection.
type Config struct {
	Clustering segmentation.EuclideanConfig `json:"clustering"`
	// TightFit pulls capsule endpoints in by the capsule radius.
	TightFit bool `json:"tight_fit"`
}

// DefaultConfig returns Euclidean clustering with the default parameters and tight fitting.
func DefaultConfig() Config {
	return Config{Clustering: segmentation.DefaultEuclideanConfig(), TightFit: true}
}

// CheckValid validates the config.
func (cfg *Config) CheckValid() error {
	return cfg.Clustering.CheckValid()
}

// Detector clusters residual clouds and approximates every cluster.
type Detector struct {
	Aggregators

	segmenter    segmentation.Segmenter
	approximator approximation.Approximator
	logger       logging.Logger

	failures atomic.Uint64
}

// NewDetector returns a detector using the given clustering and approximation strategies.
func NewDetector(
	segmenter segmentation.Segmenter,
	approximator approximation.Approximator,
	logger logging.Logger,
) (*Detector, error) {
	if segmenter == nil {
		return nil, errors.New("obstacle detector needs a segmenter")
	}
	if approximator == nil {
		return nil, errors.New("obstacle detector needs an approximator")
	}
	return &Detector{segmenter: segmenter, approximator: approximator, logger: logger}, nil
}

// NewDetectorFromConfig builds the Euclidean clustering and PCA approximation strategies of cfg.
func NewDetectorFromConfig(cfg Config, logger logging.Logger) (*Detector, error) {
	seg, err := segmentation.NewEuclideanSegmenter(cfg.Clustering)
	if err != nil {
		return nil, err
	}
	return NewDetector(seg, approximation.NewPCAApproximator(cfg.TightFit), logger)
}

// Failures returns the number of frames whose detection failed.
func (d *Detector) Failures() uint64 {
	return d.failures.Load()
}

// Detect finds the obstacles of the residual cloud of a frame and pushes them to every
// aggregator. A failure of clustering or approximation, including a panic, is logged and yields
// zero obstacles for this frame only. A panicking aggregator is logged and counted the same way.
func (d *Detector) Detect(ctx context.Context, frameIndex int64, residual pc.PointCloud) []*vision.Object {
	ctx, span := trace.StartSpan(ctx, "obstacles::detector::Detect")
	defer span.End()

	objects, err := d.detect(ctx, residual)
	if err != nil {
		d.failures.Inc()
		d.logger.Errorw("obstacle detection failed", "frame", frameIndex, "error", err)
		objects = []*vision.Object{}
	}
	d.logger.CDebugw(ctx, "detected obstacles", "frame", frameIndex, "count", len(objects))
	if err := d.notify(ctx, frameIndex, objects); err != nil {
		d.failures.Inc()
		d.logger.Errorw("obstacle notification failed", "frame", frameIndex, "error", err)
	}
	return objects
}

func (d *Detector) notify(ctx context.Context, frameIndex int64, objects []*vision.Object) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrap(errors.Errorf("%v", r), "panic during notification")
		}
	}()
	d.NotifyObstacles(ctx, frameIndex, objects)
	return nil
}

func (d *Detector) detect(ctx context.Context, residual pc.PointCloud) (objects []*vision.Object, err error) {
	defer func() {
		if r := recover(); r != nil {
			objects, err = nil, errors.Wrap(errors.Errorf("%v", r), "panic during detection")
		}
	}()
	if residual == nil || residual.Size() == 0 {
		return []*vision.Object{}, nil
	}
	clusters, err := d.segmenter.Segment(ctx, residual)
	if err != nil {
		return nil, errors.Wrap(err, "segmenting residual cloud")
	}
	objects = make([]*vision.Object, 0, len(clusters))
	for i, cluster := range clusters {
		geometry, err := d.approximator.Approximate(ctx, cluster)
		if err != nil {
			return nil, errors.Wrapf(err, "approximating cluster %d", i)
		}
		obj, err := vision.NewObject(cluster, geometry)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, nil
}
