package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// CloudCentroid returns the mean of the points of the cloud. An empty cloud has a zero centroid.
func CloudCentroid(cloud PointCloud) r3.Vector {
	return Centroid(cloud.Points())
}

// Centroid returns the mean of pts.
func Centroid(pts []r3.Vector) r3.Vector {
	if len(pts) == 0 {
		return r3.Vector{}
	}
	var sum r3.Vector
	for _, p := range pts {
		sum = sum.Add(p)
	}
	return sum.Mul(1. / float64(len(pts)))
}

// Covariance returns the 3x3 sample covariance matrix of pts. Fewer than two points yield a
// zero matrix.
func Covariance(pts []r3.Vector) *mat.SymDense {
	cov := mat.NewSymDense(3, nil)
	if len(pts) < 2 {
		return cov
	}
	data := mat.NewDense(len(pts), 3, nil)
	for i, p := range pts {
		data.SetRow(i, []float64{p.X, p.Y, p.Z})
	}
	stat.CovarianceMatrix(cov, data, nil)
	return cov
}

// CloudCovariance returns the covariance matrix of the points of the cloud.
func CloudCovariance(cloud PointCloud) *mat.SymDense {
	return Covariance(cloud.Points())
}

// PrincipalAxes returns the eigenvalues of the covariance of pts in ascending order together with
// their unit eigenvectors. The first axis approximates the normal of a planar patch, the last one
// the dominant direction of an elongated cluster.
func PrincipalAxes(pts []r3.Vector) ([3]float64, [3]r3.Vector, error) {
	var values [3]float64
	var axes [3]r3.Vector
	if len(pts) < 3 {
		return values, axes, errors.Errorf("need at least 3 points for principal axes, got %d", len(pts))
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(Covariance(pts), true); !ok {
		return values, axes, errors.New("eigen decomposition of covariance failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	for i := 0; i < 3; i++ {
		values[i] = vals[i]
		axes[i] = r3.Vector{X: vecs.At(0, i), Y: vecs.At(1, i), Z: vecs.At(2, i)}.Normalize()
	}
	return values, axes, nil
}
