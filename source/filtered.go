package source

import (
	"context"

	"github.com/golang/geo/r3"
	"go.opencensus.io/trace"

	"go.viam.com/obstacles/logging"
	"go.viam.com/obstacles/pointcloud"
	"go.viam.com/obstacles/pointcloud/aggregation"
	"go.viam.com/obstacles/pointcloud/filter"
)

// FilteredSource wraps a source, runs every valid point of each frame through a filter chain and
// a temporal cloud filter, and republishes the filtered frame. It is the single owner of the
// wrapped source.
type FilteredSource struct {
	Subject

	upstream Source
	chain    *filter.Chain
	cloud    aggregation.CloudFilter
	logger   logging.Logger
}

// NewFilteredSource attaches a new FilteredSource to upstream.
func NewFilteredSource(
	upstream Source,
	chain *filter.Chain,
	cloudFilter aggregation.CloudFilter,
	logger logging.Logger,
) *FilteredSource {
	if chain == nil {
		chain = filter.NewChain()
	}
	if cloudFilter == nil {
		cloudFilter = aggregation.NewPassthrough()
	}
	fs := &FilteredSource{upstream: upstream, chain: chain, cloud: cloudFilter, logger: logger}
	upstream.AttachObserver(fs)
	return fs
}

// Chain returns the point-wise filter chain, which may be modified between frames.
func (fs *FilteredSource) Chain() *filter.Chain {
	return fs.chain
}

// NotifyNewFrame filters frame and pushes the result to the observers.
func (fs *FilteredSource) NotifyNewFrame(ctx context.Context, frame *Frame) {
	ctx, span := trace.StartSpan(ctx, "source::filtered::NotifyNewFrame")
	defer span.End()

	fs.chain.Reset()
	fs.cloud.NewFrame()
	accepted, dropped := 0, 0
	if frame.Cloud != nil {
		frame.Cloud.Iterate(0, 0, func(_ int, p r3.Vector) bool {
			if !pointcloud.IsValid(p) {
				dropped++
				return true
			}
			if fs.chain.Apply(&p) {
				accepted++
				fs.cloud.AddPoint(p)
			}
			return true
		})
	}
	filtered := fs.cloud.Filtered()
	fs.logger.CDebugw(ctx, "filtered frame",
		"frame", frame.Index, "accepted", accepted, "invalid", dropped, "emitted", filtered.Size(), "voxels", fs.cloud.Len())

	fs.Notify(ctx, &Frame{Index: frame.Index, Cloud: filtered, SensorOrigin: frame.SensorOrigin})
}

// Open opens the wrapped source.
func (fs *FilteredSource) Open(ctx context.Context) error {
	return fs.upstream.Open(ctx)
}

// Close detaches from the wrapped source.
func (fs *FilteredSource) Close() {
	fs.upstream.DetachObserver(fs)
}
