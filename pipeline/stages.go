package pipeline

import (
	"context"

	"go.opencensus.io/trace"

	"go.viam.com/obstacles/logging"
	"go.viam.com/obstacles/obstacles"
	pc "go.viam.com/obstacles/pointcloud"
	"go.viam.com/obstacles/source"
	"go.viam.com/obstacles/vision/segmentation"
)

// SurfaceDetector extracts the surfaces of every filtered frame and publishes the resulting
// FrameData.
type SurfaceDetector struct {
	frameDataSubject

	segmenter *segmentation.SurfaceSegmenter
	logger    logging.Logger
}

// NewSurfaceDetector returns a detector running segmenter on every frame.
func NewSurfaceDetector(segmenter *segmentation.SurfaceSegmenter, logger logging.Logger) *SurfaceDetector {
	return &SurfaceDetector{segmenter: segmenter, logger: logger}
}

// NotifyNewFrame segments frame. When segmentation fails the frame is forwarded with no surfaces
// and the whole cloud as residual.
func (sd *SurfaceDetector) NotifyNewFrame(ctx context.Context, frame *source.Frame) {
	ctx, span := trace.StartSpan(ctx, "pipeline::SurfaceDetector::NotifyNewFrame")
	defer span.End()

	cloud := frame.Cloud
	if cloud == nil {
		cloud = pc.New()
	}
	fd := &FrameData{Index: frame.Index, Cloud: cloud, CloudMinusSurfaces: cloud}
	result, err := sd.segmenter.Segment(ctx, cloud)
	if err != nil {
		sd.logger.Errorw("surface segmentation failed", "frame", frame.Index, "error", err)
	} else {
		fd.CloudMinusSurfaces = result.CloudMinusSurfaces
		fd.Surfaces = result.Surfaces
		fd.SurfaceGroup = result.SurfaceGroup
		fd.Coefficients = result.Coefficients
	}
	sd.logger.CDebugw(ctx, "surfaces", "frame", frame.Index,
		"points", cloud.Size(), "residual", fd.CloudMinusSurfaces.Size(), "surfaces", len(fd.Surfaces), "groups", len(fd.Coefficients))
	sd.notifyFrame(ctx, fd)
}

// obstacleStage runs the obstacle detector on the residual of every frame and records the
// obstacles on the FrameData.
type obstacleStage struct {
	detector *obstacles.Detector
}

func (st *obstacleStage) UpdateFrame(ctx context.Context, fd *FrameData) {
	fd.Obstacles = st.detector.Detect(ctx, fd.Index, fd.CloudMinusSurfaces)
}
