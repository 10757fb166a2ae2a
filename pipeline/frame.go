// Package pipeline wires the frame source, the filter stages, surface segmentation, obstacle
// detection and tracking into a single push based pipeline.
package pipeline

import (
	"context"

	pc "go.viam.com/obstacles/pointcloud"
	"go.viam.com/obstacles/vision"
)

// FrameData is the per frame record passed between stages. Stages fill in their results and the
// record is handed on to the next observer.
type FrameData struct {
	Index int64
	// Cloud is the filtered cloud of the frame.
	Cloud pc.PointCloud
	// CloudMinusSurfaces is Cloud without the points of the extracted planes.
	CloudMinusSurfaces pc.PointCloud
	// Surfaces holds the surface pieces. SurfaceGroup[i] is the group of Surfaces[i] and
	// Coefficients is indexed by group.
	Surfaces     []pc.PointCloud
	SurfaceGroup []int
	Coefficients []pc.Plane
	Obstacles    []*vision.Object
}

// FrameDataObserver receives the FrameData of every frame.
type FrameDataObserver interface {
	UpdateFrame(ctx context.Context, fd *FrameData)
}

// frameDataSubject is a non-owning registry of FrameDataObservers.
type frameDataSubject struct {
	observers []FrameDataObserver
}

// AttachFrameDataObserver registers o. Observers are called in registration order.
func (s *frameDataSubject) AttachFrameDataObserver(o FrameDataObserver) {
	s.observers = append(s.observers, o)
}

// DetachFrameDataObserver removes the first registration of o.
func (s *frameDataSubject) DetachFrameDataObserver(o FrameDataObserver) {
	for i, existing := range s.observers {
		if existing == o {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

func (s *frameDataSubject) notifyFrame(ctx context.Context, fd *FrameData) {
	for _, o := range s.observers {
		o.UpdateFrame(ctx, fd)
	}
}
