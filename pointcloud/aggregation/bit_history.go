package aggregation

import (
	"math/bits"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/obstacles/pointcloud"
)

// historyBits is the width of the per voxel occupancy word.
const historyBits = 32

// BitHistoryConfig parameterizes the bit history filter.
type BitHistoryConfig struct {
	// Resolution is the number of voxels per metre along each axis.
	Resolution float64 `json:"resolution"`
	// Threshold is the number of frames out of the last 32 a voxel must be observed in to be emitted.
	Threshold int `json:"threshold"`
	// Margin, in voxels, grows the box of the current frame's voxels before eviction.
	Margin int `json:"margin"`
	// Coarsen doubles the voxel size by clearing the low bit of every key.
	Coarsen bool `json:"coarsen"`
}

// DefaultBitHistoryConfig returns 1cm voxels emitted when seen in 10 of the last 32 frames, with a
// 10cm eviction margin.
func DefaultBitHistoryConfig() BitHistoryConfig {
	return BitHistoryConfig{Resolution: 100, Threshold: 10, Margin: 10}
}

// CheckValid validates the config.
func (cfg *BitHistoryConfig) CheckValid() error {
	if cfg.Resolution <= 0 {
		return errors.Errorf("bit history resolution must be positive, got %v", cfg.Resolution)
	}
	if cfg.Threshold < 1 || cfg.Threshold > historyBits {
		return errors.Errorf("bit history threshold must be in [1, %d], got %d", historyBits, cfg.Threshold)
	}
	if cfg.Margin < 0 {
		return errors.Errorf("bit history margin must not be negative, got %d", cfg.Margin)
	}
	return nil
}

type historyEntry struct {
	key       pointcloud.VoxelKey
	word      uint32
	lastFrame uint64
}

// BitHistory keeps a 32 frame occupancy word per voxel. Every frame shifts each word left and
// sets the low bit for voxels observed in that frame; a voxel is emitted when at least Threshold
// bits are set. Voxels outside the box of the current frame's voxels, grown by Margin, are
// evicted so the dictionary stays bounded by the sensor's field of view.
type BitHistory struct {
	cfg BitHistoryConfig

	entries []historyEntry
	index   map[pointcloud.VoxelKey]int

	frame     uint64
	bounds    pointcloud.VoxelBounds
	finalized bool
	filtered  pointcloud.PointCloud
}

// NewBitHistory returns an empty bit history filter.
func NewBitHistory(cfg BitHistoryConfig) (*BitHistory, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	return &BitHistory{
		cfg:      cfg,
		index:    map[pointcloud.VoxelKey]int{},
		filtered: pointcloud.New(),
	}, nil
}

// NewFrame starts a new frame.
func (f *BitHistory) NewFrame() {
	f.frame++
	f.bounds = pointcloud.VoxelBounds{}
	f.finalized = false
}

func (f *BitHistory) key(p r3.Vector) pointcloud.VoxelKey {
	key := pointcloud.NewVoxelKey(p, f.cfg.Resolution)
	if f.cfg.Coarsen {
		key = key.Coarsen()
	}
	return key
}

// AddPoint marks the voxel of p as observed in this frame. A voxel counts once per frame however
// many points fall into it.
func (f *BitHistory) AddPoint(p r3.Vector) {
	key := f.key(p)
	idx, ok := f.index[key]
	if !ok {
		f.index[key] = len(f.entries)
		f.entries = append(f.entries, historyEntry{key: key, lastFrame: f.frame})
	} else {
		if f.entries[idx].lastFrame == f.frame {
			return
		}
		f.entries[idx].lastFrame = f.frame
	}
	f.bounds.Merge(key)
}

// Filtered shifts every history word, emits the voxels that pass the threshold and evicts the
// voxels outside the grown frame box.
func (f *BitHistory) Filtered() pointcloud.PointCloud {
	if f.finalized {
		return f.filtered
	}
	f.finalized = true

	out := pointcloud.New()
	for i := range f.entries {
		e := &f.entries[i]
		e.word <<= 1
		if e.lastFrame == f.frame {
			e.word |= 1
		}
		if bits.OnesCount32(e.word) >= f.cfg.Threshold {
			//nolint:errcheck
			out.Set(e.key.Position(f.cfg.Resolution))
		}
	}
	f.evict()
	f.filtered = out
	return out
}

// evict drops voxels outside the frame box grown by the margin. The box is grown exactly once
// per frame. A frame without observations has no box and evicts nothing.
func (f *BitHistory) evict() {
	if f.bounds.Empty() {
		return
	}
	keep := f.bounds.Expand(int32(f.cfg.Margin))
	kept := f.entries[:0]
	for _, e := range f.entries {
		if keep.Contains(e.key) {
			kept = append(kept, e)
		} else {
			delete(f.index, e.key)
		}
	}
	if len(kept) != len(f.entries) {
		for i, e := range kept {
			f.index[e.key] = i
		}
	}
	f.entries = kept
}

// Len returns the number of voxels with a history.
func (f *BitHistory) Len() int {
	return len(f.entries)
}

// History returns the occupancy word of the voxel holding p, and whether the voxel is known.
func (f *BitHistory) History(p r3.Vector) (uint32, bool) {
	idx, ok := f.index[f.key(p)]
	if !ok {
		return 0, false
	}
	return f.entries[idx].word, true
}
