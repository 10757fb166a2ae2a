package segmentation

import (
	"context"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	pc "go.viam.com/obstacles/pointcloud"
)

// EuclideanClusterIndices partitions pts into groups of points connected by chains of neighbors
// closer than tolerance. Groups with fewer than minSize or, if maxSize is positive, more than
// maxSize points are dropped. Groups are ordered by their lowest point index and each group's
// indices are sorted.
func EuclideanClusterIndices(pts []r3.Vector, tolerance float64, minSize, maxSize int) [][]int {
	if len(pts) == 0 {
		return nil
	}
	index := pc.NewSpatialIndex(pts, tolerance)
	visited := make([]bool, len(pts))
	var clusters [][]int
	var queue, neighbors []int
	for seed := range pts {
		if visited[seed] {
			continue
		}
		visited[seed] = true
		queue = append(queue[:0], seed)
		for head := 0; head < len(queue); head++ {
			neighbors = index.RadiusQuery(neighbors[:0], pts[queue[head]], tolerance)
			for _, n := range neighbors {
				if !visited[n] {
					visited[n] = true
					queue = append(queue, n)
				}
			}
		}
		if len(queue) < minSize || (maxSize > 0 && len(queue) > maxSize) {
			continue
		}
		cluster := append([]int(nil), queue...)
		sort.Ints(cluster)
		clusters = append(clusters, cluster)
	}
	return clusters
}

// EuclideanClusters returns the clusters of cloud found by EuclideanClusterIndices.
func EuclideanClusters(cloud pc.PointCloud, tolerance float64, minSize, maxSize int) []pc.PointCloud {
	indices := EuclideanClusterIndices(cloud.Points(), tolerance, minSize, maxSize)
	clusters := make([]pc.PointCloud, 0, len(indices))
	for _, idx := range indices {
		clusters = append(clusters, pc.Subset(cloud, idx))
	}
	return clusters
}

// A Segmenter splits a cloud into disjoint object clusters.
type Segmenter interface {
	Segment(ctx context.Context, cloud pc.PointCloud) ([]pc.PointCloud, error)
}

// EuclideanConfig parameterizes Euclidean clustering of obstacle points.
type EuclideanConfig struct {
	Tolerance float64 `json:"tolerance"`
	MinSize   int     `json:"min_size"`
	MaxSize   int     `json:"max_size"`
}

// DefaultEuclideanConfig returns 5cm neighbor clustering keeping clusters of 50 to 25000 points.
func DefaultEuclideanConfig() EuclideanConfig {
	return EuclideanConfig{Tolerance: 0.05, MinSize: 50, MaxSize: 25000}
}

// CheckValid validates the config.
func (cfg *EuclideanConfig) CheckValid() error {
	if cfg.Tolerance <= 0 {
		return errors.Errorf("tolerance must be positive, got %v", cfg.Tolerance)
	}
	if cfg.MinSize < 1 {
		return errors.Errorf("min_size must be at least 1, got %d", cfg.MinSize)
	}
	if cfg.MaxSize != 0 && cfg.MaxSize < cfg.MinSize {
		return errors.Errorf("max_size must be 0 or at least min_size=%d, got %d", cfg.MinSize, cfg.MaxSize)
	}
	return nil
}

// EuclideanSegmenter segments obstacle clouds with Euclidean clustering.
type EuclideanSegmenter struct {
	cfg EuclideanConfig
}

// NewEuclideanSegmenter returns a segmenter for cfg.
func NewEuclideanSegmenter(cfg EuclideanConfig) (*EuclideanSegmenter, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "euclidean segmenter config error")
	}
	return &EuclideanSegmenter{cfg: cfg}, nil
}

// Segment returns the clusters of the valid points of cloud.
func (s *EuclideanSegmenter) Segment(ctx context.Context, cloud pc.PointCloud) ([]pc.PointCloud, error) {
	_, span := trace.StartSpan(ctx, "segmentation::EuclideanSegmenter::Segment")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cloud == nil {
		return nil, nil
	}
	valid := pc.NewFromPoints(cloud.Points())
	return EuclideanClusters(valid, s.cfg.Tolerance, s.cfg.MinSize, s.cfg.MaxSize), nil
}
