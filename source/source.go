// Package source delivers point cloud frames to the pipeline. Delivery is push based: a Source
// calls NotifyNewFrame on each attached observer, synchronously and in registration order, and
// blocks until every observer returns.
package source

import (
	"context"

	"github.com/golang/geo/r3"

	"go.viam.com/obstacles/pointcloud"
)

// Frame is one sensor capture. Index increases monotonically along a stream.
type Frame struct {
	Index        int64
	Cloud        pointcloud.PointCloud
	SensorOrigin *r3.Vector
}

// FrameObserver receives frames.
type FrameObserver interface {
	NotifyNewFrame(ctx context.Context, frame *Frame)
}

// Source produces frames for its observers. Open starts delivery and returns once the source is
// exhausted, ctx is cancelled, or reading fails.
type Source interface {
	AttachObserver(o FrameObserver)
	DetachObserver(o FrameObserver)
	Open(ctx context.Context) error
}

// Subject is a non-owning registry of frame observers. It is meant to be embedded by sources.
type Subject struct {
	observers []FrameObserver
}

// AttachObserver registers o. An observer attached twice is notified twice.
func (s *Subject) AttachObserver(o FrameObserver) {
	s.observers = append(s.observers, o)
}

// DetachObserver removes the first registration of o. Detaching an unknown observer is a no-op.
func (s *Subject) DetachObserver(o FrameObserver) {
	for i, existing := range s.observers {
		if existing == o {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

// NumObservers returns the number of registrations.
func (s *Subject) NumObservers() int {
	return len(s.observers)
}

// Notify pushes frame to every observer in registration order.
func (s *Subject) Notify(ctx context.Context, frame *Frame) {
	for _, o := range s.observers {
		o.NotifyNewFrame(ctx, frame)
	}
}
