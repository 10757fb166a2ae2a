// Package aggregation implements temporal voxel filters that separate persistent structure from
// single frame sensor noise. A filter receives every point of a frame that survived the point-wise
// chain and materializes a new cloud of voxel positions once the frame is complete.
package aggregation

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/obstacles/pointcloud"
)

// Kinds of cloud filter understood by New.
const (
	KindNone       = "none"
	KindBitHistory = "bit_history"
	KindPT1        = "pt1"
)

// CloudFilter accumulates the points of one frame at a time.
type CloudFilter interface {
	// NewFrame starts a new frame.
	NewFrame()
	// AddPoint records a point of the current frame.
	AddPoint(p r3.Vector)
	// Filtered closes the current frame and returns the filtered cloud. Calling it again before
	// the next NewFrame returns the same cloud.
	Filtered() pointcloud.PointCloud
	// Len returns the number of voxels currently held.
	Len() int
}

// Config selects and parameterizes a cloud filter.
type Config struct {
	Kind       string           `json:"kind"`
	BitHistory BitHistoryConfig `json:"bit_history"`
	PT1        PT1Config        `json:"pt1"`
}

// DefaultConfig returns the bit history filter with nominal parameters.
func DefaultConfig() Config {
	return Config{
		Kind:       KindBitHistory,
		BitHistory: DefaultBitHistoryConfig(),
		PT1:        DefaultPT1Config(),
	}
}

// CheckValid validates the section of the config selected by Kind.
func (cfg *Config) CheckValid() error {
	switch cfg.Kind {
	case KindNone:
		return nil
	case KindBitHistory:
		return cfg.BitHistory.CheckValid()
	case KindPT1:
		return cfg.PT1.CheckValid()
	default:
		return errors.Errorf("unknown aggregation kind %q", cfg.Kind)
	}
}

// New returns the cloud filter selected by cfg.Kind.
func New(cfg Config) (CloudFilter, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindBitHistory:
		return NewBitHistory(cfg.BitHistory)
	case KindPT1:
		return NewPT1(cfg.PT1)
	default:
		return NewPassthrough(), nil
	}
}

// Passthrough emits the points of the frame unchanged.
type Passthrough struct {
	cloud pointcloud.PointCloud
}

// NewPassthrough returns a filter without temporal state.
func NewPassthrough() *Passthrough {
	return &Passthrough{cloud: pointcloud.New()}
}

// NewFrame drops the points of the previous frame.
func (f *Passthrough) NewFrame() {
	f.cloud = pointcloud.NewWithPrealloc(f.cloud.Size())
}

// AddPoint stores p.
func (f *Passthrough) AddPoint(p r3.Vector) {
	//nolint:errcheck
	f.cloud.Set(p)
}

// Filtered returns the points of the frame.
func (f *Passthrough) Filtered() pointcloud.PointCloud {
	return f.cloud
}

// Len returns the number of points of the frame.
func (f *Passthrough) Len() int {
	return f.cloud.Size()
}
