package pointcloud

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestPointCloudBasic(t *testing.T) {
	pc := New()
	test.That(t, pc.Size(), test.ShouldEqual, 0)
	test.That(t, pc.MetaData().Empty(), test.ShouldBeTrue)

	p0 := NewVector(0, 0, 0)
	p1 := NewVector(1, 0, 1)
	p2 := NewVector(-1, -2, 1)
	test.That(t, pc.Set(p0), test.ShouldBeNil)
	test.That(t, pc.Set(p1), test.ShouldBeNil)
	test.That(t, pc.Set(p2), test.ShouldBeNil)
	// duplicates keep their own slot
	test.That(t, pc.Set(p1), test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 4)
	test.That(t, pc.At(1), test.ShouldResemble, p1)
	test.That(t, pc.At(3), test.ShouldResemble, p1)

	test.That(t, pc.Set(NewVector(math.NaN(), 0, 0)), test.ShouldNotBeNil)
	test.That(t, pc.Set(NewVector(0, math.Inf(1), 0)), test.ShouldNotBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 4)

	meta := pc.MetaData()
	test.That(t, meta.MinX, test.ShouldEqual, -1.)
	test.That(t, meta.MaxX, test.ShouldEqual, 1.)
	test.That(t, meta.MinY, test.ShouldEqual, -2.)
	test.That(t, meta.MaxZ, test.ShouldEqual, 1.)
	test.That(t, meta.Contains(NewVector(0, -1, 0.5)), test.ShouldBeTrue)
	test.That(t, meta.Contains(NewVector(0, 1, 0.5)), test.ShouldBeFalse)
	test.That(t, meta.Center(), test.ShouldResemble, NewVector(0, -1, 0.5))

	count := 0
	pc.Iterate(0, 0, func(i int, p r3.Vector) bool {
		test.That(t, p, test.ShouldResemble, pc.At(i))
		count++
		return count < 2
	})
	test.That(t, count, test.ShouldEqual, 2)
}

func TestIterateBatches(t *testing.T) {
	pc := NewWithPrealloc(10)
	for i := 0; i < 10; i++ {
		test.That(t, pc.Set(NewVector(float64(i), 0, 0)), test.ShouldBeNil)
	}
	seen := map[int]bool{}
	for batch := 0; batch < 3; batch++ {
		pc.Iterate(3, batch, func(i int, p r3.Vector) bool {
			test.That(t, seen[i], test.ShouldBeFalse)
			seen[i] = true
			return true
		})
	}
	test.That(t, len(seen), test.ShouldEqual, 10)
}

func TestSubsetAppend(t *testing.T) {
	pts := []r3.Vector{{X: 0}, {X: 1}, {X: math.NaN()}, {X: 2}, {X: 3}}
	pc := NewFromPoints(pts)
	test.That(t, pc.Size(), test.ShouldEqual, 4)

	sub := Subset(pc, []int{3, 1})
	test.That(t, sub.Points(), test.ShouldResemble, []r3.Vector{{X: 3}, {X: 1}})

	merged := NewWithPrealloc(6)
	AppendCloud(merged, pc)
	test.That(t, merged.Size(), test.ShouldEqual, 4)
	AppendCloud(merged, sub)
	test.That(t, merged.Size(), test.ShouldEqual, 6)
	test.That(t, merged.At(0), test.ShouldResemble, r3.Vector{X: 0})
	test.That(t, merged.At(5), test.ShouldResemble, r3.Vector{X: 1})
	test.That(t, merged.MetaData().MaxX, test.ShouldEqual, 3.)
}

func TestCentroidCovariance(t *testing.T) {
	pts := []r3.Vector{{X: -1}, {X: 1}, {Y: -2}, {Y: 2}}
	test.That(t, Centroid(pts), test.ShouldResemble, r3.Vector{})
	test.That(t, Centroid(nil), test.ShouldResemble, r3.Vector{})

	cov := Covariance(pts)
	// sample covariance with n-1 normalization
	test.That(t, cov.At(0, 0), test.ShouldAlmostEqual, 2./3.)
	test.That(t, cov.At(1, 1), test.ShouldAlmostEqual, 8./3.)
	test.That(t, cov.At(2, 2), test.ShouldAlmostEqual, 0.)
	test.That(t, cov.At(0, 1), test.ShouldAlmostEqual, 0.)

	single := Covariance([]r3.Vector{{X: 4}})
	test.That(t, single.At(0, 0), test.ShouldEqual, 0.)
}

func TestPrincipalAxes(t *testing.T) {
	var pts []r3.Vector
	for i := 0; i < 20; i++ {
		for j := 0; j < 4; j++ {
			pts = append(pts, NewVector(float64(i)*0.1, float64(j)*0.02, 0.5))
		}
	}
	values, axes, err := PrincipalAxes(pts)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, values[0], test.ShouldBeLessThanOrEqualTo, values[1])
	test.That(t, values[1], test.ShouldBeLessThanOrEqualTo, values[2])
	// flat in z, elongated in x
	test.That(t, math.Abs(axes[0].Z), test.ShouldAlmostEqual, 1, 1e-6)
	test.That(t, math.Abs(axes[2].X), test.ShouldAlmostEqual, 1, 1e-6)

	_, _, err = PrincipalAxes(pts[:2])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSpatialIndex(t *testing.T) {
	pts := []r3.Vector{{}, {X: 0.01}, {X: 0.05}, {X: -0.02, Y: 0.02}, {Z: 1}}
	si := NewSpatialIndex(pts, 0.03)
	got := si.RadiusQuery(nil, r3.Vector{}, 0.03)
	sort.Ints(got)
	test.That(t, got, test.ShouldResemble, []int{0, 1, 3})

	test.That(t, si.RadiusQuery(nil, r3.Vector{Z: 0.5}, 0.03), test.ShouldBeEmpty)
	got = si.RadiusQuery(got[:0], r3.Vector{X: 0.045}, 0.01)
	test.That(t, got, test.ShouldResemble, []int{2})
}

func TestPCDRoundTrip(t *testing.T) {
	pc := NewFromPoints([]r3.Vector{{X: 0.5, Y: -1.25, Z: 2}, {X: 1, Y: 2, Z: 3}})
	for _, pcdType := range []PCDType{PCDAscii, PCDBinary} {
		var buf bytes.Buffer
		test.That(t, ToPCD(pc, &buf, pcdType), test.ShouldBeNil)
		read, err := ReadPCD(&buf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, read.Size(), test.ShouldEqual, 2)
		test.That(t, read.At(0).X, test.ShouldAlmostEqual, 0.5)
		test.That(t, read.At(0).Y, test.ShouldAlmostEqual, -1.25)
		test.That(t, read.At(1).Z, test.ShouldAlmostEqual, 3)
	}
	test.That(t, ToPCD(pc, &bytes.Buffer{}, PCDCompressed), test.ShouldNotBeNil)
}

func TestReadPCDExtraFields(t *testing.T) {
	data := `# .PCD v0.7
VERSION .7
FIELDS x y z intensity
SIZE 4 4 4 4
TYPE F F F F
COUNT 1 1 1 1
WIDTH 3
HEIGHT 1
VIEWPOINT 0 0 0 1 0 0 0
POINTS 3
DATA ascii
1 2 3 0.5
nan 0 0 0.5
4 5 6 0.1
`
	cloud, err := ReadPCD(bytes.NewBufferString(data))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Points(), test.ShouldResemble, []r3.Vector{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}})

	_, err = ReadPCD(bytes.NewBufferString("VERSION .7\nFIELDS a b c\n"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNewFromFile(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "frame.pcd")
	f, err := os.Create(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ToPCD(NewFromPoints([]r3.Vector{{X: 1}}), f, PCDBinary), test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)

	cloud, err := NewFromFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 1)

	_, err = NewFromFile(filepath.Join(dir, "frame.las"))
	test.That(t, err, test.ShouldNotBeNil)
}
