package filter

import (
	"github.com/golang/geo/r3"
	"go.uber.org/atomic"

	"go.viam.com/obstacles/spatialmath"
)

// PoseProvider returns the most recently published robot pose, or nil if none has been
// published. It must never block.
type PoseProvider interface {
	Latest() *spatialmath.Pose
}

// PoseStore holds the latest robot pose. An external service calls Publish from its own
// goroutine; readers always see a complete pose.
type PoseStore struct {
	latest atomic.Pointer[spatialmath.Pose]
}

// NewPoseStore returns an empty store.
func NewPoseStore() *PoseStore {
	return &PoseStore{}
}

// Publish replaces the latest pose.
func (s *PoseStore) Publish(pose spatialmath.Pose) {
	s.latest.Store(&pose)
}

// Latest returns the last published pose, or nil.
func (s *PoseStore) Latest() *spatialmath.Pose {
	return s.latest.Load()
}

// PoseTransformer maps points from the sensor frame into the odometry frame using the latest
// robot pose. The pose is sampled once per frame in Reset so every point of a frame sees the
// same transform.
type PoseTransformer struct {
	provider PoseProvider
	current  *spatialmath.Pose
}

// NewPoseTransformer returns a transformer reading poses from provider.
func NewPoseTransformer(provider PoseProvider) *PoseTransformer {
	return &PoseTransformer{provider: provider}
}

// Reset samples the latest pose.
func (f *PoseTransformer) Reset() {
	f.current = f.provider.Latest()
}

// Apply transforms p in place. Without a pose points pass through unchanged.
func (f *PoseTransformer) Apply(p *r3.Vector) bool {
	if f.current != nil {
		*p = f.current.Transform(*p)
	}
	return true
}
