// Package pointcloud defines the ordered point cloud passed between pipeline stages, plus the voxel,
// plane and neighbor-index primitives the filtering and segmentation stages are built on.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData returns an empty bounding box that any merged point will expand.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge expands the bounding box to hold v.
func (meta *MetaData) Merge(v r3.Vector) {
	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)
	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)
}

// Empty reports whether no point has been merged.
func (meta MetaData) Empty() bool {
	return meta.MinX > meta.MaxX
}

// Center returns the center of the bounding box.
func (meta MetaData) Center() r3.Vector {
	return r3.Vector{
		X: (meta.MinX + meta.MaxX) / 2,
		Y: (meta.MinY + meta.MaxY) / 2,
		Z: (meta.MinZ + meta.MaxZ) / 2,
	}
}

// Contains reports whether v lies inside the bounding box, boundaries included.
func (meta MetaData) Contains(v r3.Vector) bool {
	return v.X >= meta.MinX && v.X <= meta.MaxX &&
		v.Y >= meta.MinY && v.Y <= meta.MaxY &&
		v.Z >= meta.MinZ && v.Z <= meta.MaxZ
}

// PointCloud is an ordered collection of points. Points keep their insertion order and
// duplicates are allowed, so an index into the cloud is stable for the lifetime of the cloud.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data
	MetaData() MetaData

	// Set appends the given point to the cloud. Non-finite points are rejected.
	Set(p r3.Vector) error

	// At returns the point at index i.
	At(i int) r3.Vector

	// Points returns the backing points. Callers must not modify the returned slice.
	Points() []r3.Vector

	// Iterate iterates over all points in the cloud and calls the given
	// function for each point. If the supplied function returns false,
	// iteration will stop after the function returns.
	// numBatches lets you divide up the work. 0 means don't divide
	// myBatch is used iff numBatches > 0 and is which batch you want
	Iterate(numBatches, myBatch int, fn func(i int, p r3.Vector) bool)
}

// basicPointCloud is the basic implementation of the PointCloud interface backed by a slice.
type basicPointCloud struct {
	points []r3.Vector
	meta   MetaData
}

// New returns an empty PointCloud backed by a basicPointCloud.
func New() PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty, preallocated PointCloud backed by a basicPointCloud.
func NewWithPrealloc(size int) PointCloud {
	return &basicPointCloud{
		points: make([]r3.Vector, 0, size),
		meta:   NewMetaData(),
	}
}

// NewFromPoints returns a PointCloud holding every valid point of pts, in order.
func NewFromPoints(pts []r3.Vector) PointCloud {
	cloud := &basicPointCloud{points: make([]r3.Vector, 0, len(pts)), meta: NewMetaData()}
	for _, p := range pts {
		if IsValid(p) {
			cloud.points = append(cloud.points, p)
			cloud.meta.Merge(p)
		}
	}
	return cloud
}

func (cloud *basicPointCloud) Size() int {
	return len(cloud.points)
}

func (cloud *basicPointCloud) MetaData() MetaData {
	return cloud.meta
}

func (cloud *basicPointCloud) Set(p r3.Vector) error {
	if !IsValid(p) {
		return newInvalidPointError(p)
	}
	cloud.points = append(cloud.points, p)
	cloud.meta.Merge(p)
	return nil
}

func (cloud *basicPointCloud) At(i int) r3.Vector {
	return cloud.points[i]
}

func (cloud *basicPointCloud) Points() []r3.Vector {
	return cloud.points
}

func (cloud *basicPointCloud) Iterate(numBatches, myBatch int, fn func(i int, p r3.Vector) bool) {
	lo, hi := 0, len(cloud.points)
	if numBatches > 0 {
		batchSize := (len(cloud.points) + numBatches - 1) / numBatches
		lo = myBatch * batchSize
		hi = lo + batchSize
		if hi > len(cloud.points) {
			hi = len(cloud.points)
		}
	}
	for i := lo; i < hi; i++ {
		if !fn(i, cloud.points[i]) {
			return
		}
	}
}

// Subset returns a new cloud holding the points of cloud at the given indices, in index order.
func Subset(cloud PointCloud, indices []int) PointCloud {
	out := NewWithPrealloc(len(indices))
	for _, i := range indices {
		//nolint:errcheck
		out.Set(cloud.At(i))
	}
	return out
}

// AppendCloud appends every point of src to dst.
func AppendCloud(dst, src PointCloud) {
	src.Iterate(0, 0, func(_ int, p r3.Vector) bool {
		//nolint:errcheck
		dst.Set(p)
		return true
	})
}
