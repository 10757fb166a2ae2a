// Package vision holds the obstacle observation type shared by the detector and the trackers.
package vision

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	pc "go.viam.com/obstacles/pointcloud"
	"go.viam.com/obstacles/spatialmath"
)

// UnassignedID is the ID of an object no tracker has claimed yet.
const UnassignedID = -1

// Object is one obstacle observation: a cluster of points with its fitted geometry. Trackers
// annotate it with an identity and a filtered position and velocity.
type Object struct {
	ID       int
	Cloud    pc.PointCloud
	Geometry spatialmath.Geometry

	// Center is the centroid of Cloud and Covariance its 3x3 point covariance.
	Center     r3.Vector
	Covariance *mat.SymDense

	Position r3.Vector
	Velocity r3.Vector
}

// NewObject computes the statistics of cloud. Position starts at the centroid.
func NewObject(cloud pc.PointCloud, geometry spatialmath.Geometry) (*Object, error) {
	if cloud == nil || cloud.Size() == 0 {
		return nil, errors.New("cannot create an object from an empty cloud")
	}
	center := pc.CloudCentroid(cloud)
	return &Object{
		ID:         UnassignedID,
		Cloud:      cloud,
		Geometry:   geometry,
		Center:     center,
		Covariance: pc.CloudCovariance(cloud),
		Position:   center,
	}, nil
}

// Tracked reports whether a tracker assigned an ID.
func (o *Object) Tracked() bool {
	return o.ID != UnassignedID
}

func (o *Object) String() string {
	size := 0
	if o.Cloud != nil {
		size = o.Cloud.Size()
	}
	return fmt.Sprintf("object %d: %d points at %v, v=%v, %v", o.ID, size, o.Position, o.Velocity, o.Geometry)
}
