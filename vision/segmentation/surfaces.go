package segmentation

import (
	"context"
	"math/rand"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"

	"go.viam.com/obstacles/logging"
	pc "go.viam.com/obstacles/pointcloud"
	"go.viam.com/obstacles/utils"
)

// SurfaceConfig parameterizes surface extraction.
type SurfaceConfig struct {
	// MaxIterations bounds the RANSAC iterations of every plane fit.
	MaxIterations int `json:"max_iterations"`
	// DistanceThreshold is the largest distance of a plane inlier, in metres.
	DistanceThreshold float64 `json:"distance_threshold"`
	// AngleToleranceDeg is the largest normal angle, either way, of planes in the same group.
	AngleToleranceDeg float64 `json:"angle_tolerance_deg"`
	// MinFilterPercentage stops plane removal once the cloud shrinks to this share of its size.
	MinFilterPercentage float64 `json:"min_filter_percentage"`
	// MinPlaneInliers is the smallest plane that counts as a surface.
	MinPlaneInliers int `json:"min_plane_inliers"`
	// ClusterTolerance is the neighbor distance for splitting a group into pieces.
	ClusterTolerance float64 `json:"cluster_tolerance"`
	MinClusterSize   int     `json:"min_cluster_size"`
	// MaxClusterSize of 0 allows clusters as large as their group.
	MaxClusterSize int   `json:"max_cluster_size"`
	Seed           int64 `json:"seed"`
}

// DefaultSurfaceConfig returns the nominal surface extraction parameters.
func DefaultSurfaceConfig() SurfaceConfig {
	return SurfaceConfig{
		MaxIterations:       200,
		DistanceThreshold:   0.02,
		AngleToleranceDeg:   3,
		MinFilterPercentage: 0.1,
		MinPlaneInliers:     1000,
		ClusterTolerance:    0.03,
		MinClusterSize:      2300,
		MaxClusterSize:      0,
		Seed:                1,
	}
}

// CheckValid validates the config.
func (cfg *SurfaceConfig) CheckValid() error {
	var err error
	if cfg.MaxIterations < 1 {
		err = multierr.Append(err, errors.Errorf("max_iterations must be at least 1, got %d", cfg.MaxIterations))
	}
	if cfg.DistanceThreshold <= 0 {
		err = multierr.Append(err, errors.Errorf("distance_threshold must be positive, got %v", cfg.DistanceThreshold))
	}
	if cfg.AngleToleranceDeg < 0 || cfg.AngleToleranceDeg > 90 {
		err = multierr.Append(err, errors.Errorf("angle_tolerance_deg must be in [0, 90], got %v", cfg.AngleToleranceDeg))
	}
	if cfg.MinFilterPercentage < 0 || cfg.MinFilterPercentage >= 1 {
		err = multierr.Append(err, errors.Errorf("min_filter_percentage must be in [0, 1), got %v", cfg.MinFilterPercentage))
	}
	if cfg.MinPlaneInliers < 3 {
		err = multierr.Append(err, errors.Errorf("min_plane_inliers must be at least 3, got %d", cfg.MinPlaneInliers))
	}
	if cfg.ClusterTolerance <= 0 {
		err = multierr.Append(err, errors.Errorf("cluster_tolerance must be positive, got %v", cfg.ClusterTolerance))
	}
	if cfg.MinClusterSize < 1 {
		err = multierr.Append(err, errors.Errorf("min_cluster_size must be at least 1, got %d", cfg.MinClusterSize))
	}
	if cfg.MaxClusterSize != 0 && cfg.MaxClusterSize < cfg.MinClusterSize {
		err = multierr.Append(err, errors.Errorf("max_cluster_size must be 0 or at least min_cluster_size, got %d", cfg.MaxClusterSize))
	}
	return err
}

// SurfaceGroup is the union of all extracted planes sharing an orientation. Plane is the first
// plane that opened the group.
type SurfaceGroup struct {
	Cloud pc.PointCloud
	Plane pc.Plane
}

// SurfaceGroups accumulates extracted planes into groups of similar orientation.
type SurfaceGroups struct {
	toleranceDeg float64
	groups       []*SurfaceGroup
}

// NewSurfaceGroups returns an empty classifier merging planes whose normals are closer than
// toleranceDeg to parallel or antiparallel.
func NewSurfaceGroups(toleranceDeg float64) *SurfaceGroups {
	return &SurfaceGroups{toleranceDeg: toleranceDeg}
}

// Classify adds cloud to the first group whose plane is within tolerance of plane, or opens a
// new group. It returns the index of the group.
func (sg *SurfaceGroups) Classify(cloud pc.PointCloud, plane pc.Plane) int {
	for i, g := range sg.groups {
		angle := g.Plane.AngleDeg(plane)
		if angle < sg.toleranceDeg || angle > 180-sg.toleranceDeg {
			pc.AppendCloud(g.Cloud, cloud)
			return i
		}
	}
	group := &SurfaceGroup{Cloud: pc.NewWithPrealloc(cloud.Size()), Plane: plane}
	pc.AppendCloud(group.Cloud, cloud)
	sg.groups = append(sg.groups, group)
	return len(sg.groups) - 1
}

// Len returns the number of groups.
func (sg *SurfaceGroups) Len() int {
	return len(sg.groups)
}

// Groups returns the groups in creation order.
func (sg *SurfaceGroups) Groups() []*SurfaceGroup {
	return sg.groups
}

// SurfaceSegmentation is the result of surface extraction on one cloud.
type SurfaceSegmentation struct {
	// CloudMinusSurfaces holds the points that belong to no extracted plane.
	CloudMinusSurfaces pc.PointCloud
	// Surfaces are the spatially connected pieces of every surface group.
	Surfaces []pc.PointCloud
	// SurfaceGroup maps each entry of Surfaces to its group in Coefficients.
	SurfaceGroup []int
	// Coefficients holds the plane of every surface group.
	Coefficients []pc.Plane
	// AllSurfaces is the union of all extracted plane inliers.
	AllSurfaces pc.PointCloud
}

// SurfaceSegmenter removes planar surfaces from clouds.
type SurfaceSegmenter struct {
	cfg    SurfaceConfig
	logger logging.Logger
}

// NewSurfaceSegmenter returns a segmenter for cfg.
func NewSurfaceSegmenter(cfg SurfaceConfig, logger logging.Logger) (*SurfaceSegmenter, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "surface segmenter config error")
	}
	return &SurfaceSegmenter{cfg: cfg, logger: logger}, nil
}

// Segment extracts planes from cloud until no plane of at least MinPlaneInliers points is left or
// the remaining cloud dips to MinFilterPercentage of the valid input. Planes are grouped by
// orientation and every group is split into Euclidean clusters. Finding nothing is not an error.
// The random source is reseeded on every call so a cloud always segments the same way.
func (s *SurfaceSegmenter) Segment(ctx context.Context, cloud pc.PointCloud) (*SurfaceSegmentation, error) {
	ctx, span := trace.StartSpan(ctx, "segmentation::SurfaceSegmenter::Segment")
	defer span.End()

	var working []r3.Vector
	if cloud != nil {
		working = make([]r3.Vector, 0, cloud.Size())
		cloud.Iterate(0, 0, func(_ int, p r3.Vector) bool {
			if pc.IsValid(p) {
				working = append(working, p)
			}
			return true
		})
	}
	stopAt := utils.ScaleByPct(len(working), s.cfg.MinFilterPercentage)
	rng := rand.New(rand.NewSource(s.cfg.Seed)) //nolint:gosec

	groups := NewSurfaceGroups(s.cfg.AngleToleranceDeg)
	all := pc.New()
	for len(working) > stopAt {
		plane, inliers, err := SegmentPlane(ctx, working, s.cfg.MaxIterations, s.cfg.DistanceThreshold, rng)
		if err != nil {
			return nil, err
		}
		if len(inliers) == 0 || len(inliers) < s.cfg.MinPlaneInliers {
			break
		}
		mask := make([]bool, len(working))
		for _, i := range inliers {
			mask[i] = true
		}
		planeCloud := pc.NewWithPrealloc(len(inliers))
		rest := working[:0]
		for i, p := range working {
			if mask[i] {
				//nolint:errcheck
				planeCloud.Set(p)
			} else {
				rest = append(rest, p)
			}
		}
		working = rest
		pc.AppendCloud(all, planeCloud)
		group := groups.Classify(planeCloud, plane)
		s.logger.CDebugw(ctx, "extracted plane", "inliers", len(inliers), "group", group, "remaining", len(working))
	}

	out := &SurfaceSegmentation{
		CloudMinusSurfaces: pc.NewFromPoints(working),
		AllSurfaces:        all,
	}
	for i, g := range groups.Groups() {
		maxSize := s.cfg.MaxClusterSize
		if maxSize == 0 {
			maxSize = g.Cloud.Size()
		}
		for _, c := range EuclideanClusters(g.Cloud, s.cfg.ClusterTolerance, s.cfg.MinClusterSize, maxSize) {
			out.Surfaces = append(out.Surfaces, c)
			out.SurfaceGroup = append(out.SurfaceGroup, i)
		}
		out.Coefficients = append(out.Coefficients, g.Plane)
	}
	return out, nil
}
