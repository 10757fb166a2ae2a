// Package segmentation implements plane extraction, surface classification and Euclidean
// clustering of point clouds.
package segmentation

import (
	"context"
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"go.opencensus.io/trace"

	pc "go.viam.com/obstacles/pointcloud"
)

// degenerateSampleNorm is the smallest cross product norm of a usable three point sample.
const degenerateSampleNorm = 1e-12

// countInliers returns the number of points within threshold of plane.
func countInliers(pts []r3.Vector, plane pc.Plane, threshold float64) int {
	n := 0
	for _, p := range pts {
		if math.Abs(plane.Distance(p)) <= threshold {
			n++
		}
	}
	return n
}

func inlierIndices(pts []r3.Vector, plane pc.Plane, threshold float64) []int {
	var idx []int
	for i, p := range pts {
		if math.Abs(plane.Distance(p)) <= threshold {
			idx = append(idx, i)
		}
	}
	return idx
}

// sampleThree draws three distinct indices below n.
func sampleThree(n int, rng *rand.Rand) (int, int, int) {
	i := rng.Intn(n)
	j := rng.Intn(n - 1)
	if j >= i {
		j++
	}
	k := rng.Intn(n - 2)
	for _, taken := range sortedPair(i, j) {
		if k >= taken {
			k++
		}
	}
	return i, j, k
}

func sortedPair(a, b int) [2]int {
	if a < b {
		return [2]int{a, b}
	}
	return [2]int{b, a}
}

// SegmentPlane finds the plane supported by the most points of pts with RANSAC.
// Each of the nIterations draws three distinct points; collinear samples are skipped. A point
// belongs to a plane if it lies within threshold of it. The best model is refined by a least
// squares fit of its inliers, the normal being the least principal axis of their covariance,
// and the inliers are recomputed. It returns the plane and the indices of its inliers, which are
// empty if no plane could be fit.
func SegmentPlane(
	ctx context.Context,
	pts []r3.Vector,
	nIterations int,
	threshold float64,
	rng *rand.Rand,
) (pc.Plane, []int, error) {
	_, span := trace.StartSpan(ctx, "segmentation::SegmentPlane")
	defer span.End()

	if len(pts) < 3 {
		return pc.Plane{}, nil, nil
	}

	var best pc.Plane
	bestInliers := 0
	for i := 0; i < nIterations; i++ {
		if i%50 == 0 {
			if err := ctx.Err(); err != nil {
				return pc.Plane{}, nil, err
			}
		}
		n1, n2, n3 := sampleThree(len(pts), rng)
		p1, p2, p3 := pts[n1], pts[n2], pts[n3]
		cross := p2.Sub(p1).Cross(p3.Sub(p1))
		if cross.Norm() < degenerateSampleNorm {
			continue
		}
		candidate := pc.NewPlaneFromPointNormal(p1, cross)
		if n := countInliers(pts, candidate, threshold); n > bestInliers {
			best, bestInliers = candidate, n
		}
	}
	if bestInliers == 0 {
		return pc.Plane{}, nil, nil
	}

	inliers := inlierIndices(pts, best, threshold)
	if refined, ok := refinePlane(pts, inliers); ok {
		if refinedInliers := inlierIndices(pts, refined, threshold); len(refinedInliers) >= len(inliers) {
			best, inliers = refined, refinedInliers
		}
	}
	return best, inliers, nil
}

// refinePlane fits a plane through the centroid of the given points, normal to their least
// principal axis.
func refinePlane(pts []r3.Vector, indices []int) (pc.Plane, bool) {
	support := make([]r3.Vector, len(indices))
	for i, idx := range indices {
		support[i] = pts[idx]
	}
	_, axes, err := pc.PrincipalAxes(support)
	if err != nil {
		return pc.Plane{}, false
	}
	return pc.NewPlaneFromPointNormal(pc.Centroid(support), axes[0]), true
}
