package aggregation

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/obstacles/pointcloud"
)

// PT1Config parameterizes the first order decay filter.
type PT1Config struct {
	// Resolution is the number of voxels per metre along each axis.
	Resolution float64 `json:"resolution"`
	// Blend is the fraction of the previous value retained every frame.
	Blend float64 `json:"blend"`
	// Target is the value an always observed voxel converges to.
	Target float64 `json:"target"`
	// Threshold is the value a voxel must reach to be emitted.
	Threshold float64 `json:"threshold"`
	// PruneBelow drops voxels whose value decayed below it. Zero keeps every voxel.
	PruneBelow float64 `json:"prune_below"`
}

// DefaultPT1Config returns 1cm voxels blended 0.9/0.1 toward 10 and emitted from 4.
func DefaultPT1Config() PT1Config {
	return PT1Config{Resolution: 100, Blend: 0.9, Target: 10, Threshold: 4}
}

// CheckValid validates the config.
func (cfg *PT1Config) CheckValid() error {
	if cfg.Resolution <= 0 {
		return errors.Errorf("pt1 resolution must be positive, got %v", cfg.Resolution)
	}
	if cfg.Blend <= 0 || cfg.Blend >= 1 {
		return errors.Errorf("pt1 blend must be in (0, 1), got %v", cfg.Blend)
	}
	if cfg.Threshold <= 0 || cfg.Threshold > cfg.Target {
		return errors.Errorf("pt1 threshold must be in (0, target=%v], got %v", cfg.Target, cfg.Threshold)
	}
	if cfg.PruneBelow < 0 || cfg.PruneBelow >= cfg.Threshold {
		return errors.Errorf("pt1 prune_below must be in [0, threshold), got %v", cfg.PruneBelow)
	}
	return nil
}

type pt1Entry struct {
	key       pointcloud.VoxelKey
	value     float64
	lastFrame uint64
}

// PT1 low-pass filters the occupancy of every voxel. Observed voxels move toward Target and
// unobserved voxels decay toward zero, both by the same Blend factor. Unless PruneBelow is set,
// voxels are never evicted and the dictionary grows with every cell ever observed.
type PT1 struct {
	cfg PT1Config

	entries []pt1Entry
	index   map[pointcloud.VoxelKey]int

	frame     uint64
	finalized bool
	filtered  pointcloud.PointCloud
}

// NewPT1 returns an empty first order decay filter.
func NewPT1(cfg PT1Config) (*PT1, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	return &PT1{
		cfg:      cfg,
		index:    map[pointcloud.VoxelKey]int{},
		filtered: pointcloud.New(),
	}, nil
}

// NewFrame starts a new frame.
func (f *PT1) NewFrame() {
	f.frame++
	f.finalized = false
}

// AddPoint marks the voxel of p as observed in this frame.
func (f *PT1) AddPoint(p r3.Vector) {
	key := pointcloud.NewVoxelKey(p, f.cfg.Resolution)
	if idx, ok := f.index[key]; ok {
		f.entries[idx].lastFrame = f.frame
		return
	}
	f.index[key] = len(f.entries)
	f.entries = append(f.entries, pt1Entry{key: key, lastFrame: f.frame})
}

// Filtered blends every voxel value and emits those at or above the threshold.
func (f *PT1) Filtered() pointcloud.PointCloud {
	if f.finalized {
		return f.filtered
	}
	f.finalized = true

	out := pointcloud.New()
	pruned := false
	for i := range f.entries {
		e := &f.entries[i]
		e.value *= f.cfg.Blend
		if e.lastFrame == f.frame {
			e.value += (1 - f.cfg.Blend) * f.cfg.Target
		}
		if e.value >= f.cfg.Threshold {
			//nolint:errcheck
			out.Set(e.key.Position(f.cfg.Resolution))
		}
		if e.value < f.cfg.PruneBelow {
			pruned = true
		}
	}
	if pruned {
		f.prune()
	}
	f.filtered = out
	return out
}

func (f *PT1) prune() {
	kept := f.entries[:0]
	for _, e := range f.entries {
		if e.value >= f.cfg.PruneBelow {
			kept = append(kept, e)
		} else {
			delete(f.index, e.key)
		}
	}
	for i, e := range kept {
		f.index[e.key] = i
	}
	f.entries = kept
}

// Len returns the number of voxels held.
func (f *PT1) Len() int {
	return len(f.entries)
}

// Value returns the filtered occupancy of the voxel holding p, and whether the voxel is known.
func (f *PT1) Value(p r3.Vector) (float64, bool) {
	idx, ok := f.index[pointcloud.NewVoxelKey(p, f.cfg.Resolution)]
	if !ok {
		return 0, false
	}
	return f.entries[idx].value, true
}
