package filter

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/obstacles/utils"
)

// SensorCalibration corrects the depth reading of a sensor with z' = A*z + B.
type SensorCalibration struct {
	A, B float64
}

// Nominal depth correction of the reference depth sensor.
const (
	DefaultCalibrationA = 1.0117
	DefaultCalibrationB = -0.0100851
)

// Reset is a no-op.
func (f *SensorCalibration) Reset() {}

// Apply corrects the depth of p.
func (f *SensorCalibration) Apply(p *r3.Vector) bool {
	p.Z = f.A*p.Z + f.B
	return true
}

// Crop rejects points outside an axis aligned window in the xy plane, bounds included.
type Crop struct {
	XMin, XMax float64
	YMin, YMax float64
}

// NewCrop returns a crop filter, checking that the window is not inverted.
func NewCrop(xMin, xMax, yMin, yMax float64) (*Crop, error) {
	if xMin > xMax || yMin > yMax {
		return nil, errors.Errorf("invalid crop window x [%v, %v] y [%v, %v]", xMin, xMax, yMin, yMax)
	}
	return &Crop{XMin: xMin, XMax: xMax, YMin: yMin, YMax: yMax}, nil
}

// Reset is a no-op.
func (f *Crop) Reset() {}

// Apply keeps p iff it lies in the window.
func (f *Crop) Apply(p *r3.Vector) bool {
	return p.X >= f.XMin && p.X <= f.XMax && p.Y >= f.YMin && p.Y <= f.YMax
}

// Truncate rounds every coordinate to a fixed number of decimals.
type Truncate struct {
	Decimals int
}

// Reset is a no-op.
func (f *Truncate) Reset() {}

// Apply rounds p in place.
func (f *Truncate) Apply(p *r3.Vector) bool {
	p.X = utils.RoundTo(p.X, f.Decimals)
	p.Y = utils.RoundTo(p.Y, f.Decimals)
	p.Z = utils.RoundTo(p.Z, f.Decimals)
	return true
}
