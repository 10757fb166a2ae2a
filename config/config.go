// Package config assembles the configuration of every pipeline stage and decodes it from
// attribute maps and JSON5 files.
package config

import (
	"bytes"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"
	"go.uber.org/multierr"

	"go.viam.com/obstacles/obstacles"
	"go.viam.com/obstacles/pointcloud/aggregation"
	"go.viam.com/obstacles/pointcloud/filter"
	"go.viam.com/obstacles/tracking"
	"go.viam.com/obstacles/utils"
	"go.viam.com/obstacles/vision/segmentation"
)

// CalibrationConfig configures the depth correction z' = A*z + B.
type CalibrationConfig struct {
	Enabled bool    `json:"enabled"`
	A       float64 `json:"a"`
	B       float64 `json:"b"`
}

// CropConfig configures the xy window points must lie in.
type CropConfig struct {
	Enabled bool    `json:"enabled"`
	XMin    float64 `json:"x_min"`
	XMax    float64 `json:"x_max"`
	YMin    float64 `json:"y_min"`
	YMax    float64 `json:"y_max"`
}

// TruncateConfig configures coordinate rounding.
type TruncateConfig struct {
	Enabled  bool `json:"enabled"`
	Decimals int  `json:"decimals"`
}

// FiltersConfig configures the point-wise filter chain. Enabled filters run in the order
// calibration, pose transform, crop, truncate.
type FiltersConfig struct {
	Calibration CalibrationConfig `json:"calibration"`
	// PoseTransform maps points into the odometry frame with the latest published robot pose.
	PoseTransform bool           `json:"pose_transform"`
	Crop          CropConfig     `json:"crop"`
	Truncate      TruncateConfig `json:"truncate"`
}

// DefaultFiltersConfig returns the nominal chain of the reference depth sensor.
func DefaultFiltersConfig() FiltersConfig {
	return FiltersConfig{
		Calibration:   CalibrationConfig{Enabled: true, A: filter.DefaultCalibrationA, B: filter.DefaultCalibrationB},
		PoseTransform: true,
		Crop:          CropConfig{Enabled: true, XMin: -1, XMax: 4, YMin: -1.5, YMax: 1.5},
		Truncate:      TruncateConfig{Enabled: true, Decimals: 2},
	}
}

// CheckValid validates the enabled filters.
func (cfg *FiltersConfig) CheckValid() error {
	var err error
	if cfg.Crop.Enabled && (cfg.Crop.XMin > cfg.Crop.XMax || cfg.Crop.YMin > cfg.Crop.YMax) {
		err = multierr.Append(err, errors.Errorf("crop window x [%v, %v] y [%v, %v] is inverted",
			cfg.Crop.XMin, cfg.Crop.XMax, cfg.Crop.YMin, cfg.Crop.YMax))
	}
	if cfg.Truncate.Enabled && cfg.Truncate.Decimals < 0 {
		err = multierr.Append(err, errors.Errorf("truncate decimals must not be negative, got %d", cfg.Truncate.Decimals))
	}
	if cfg.Calibration.Enabled && cfg.Calibration.A == 0 {
		err = multierr.Append(err, errors.New("calibration scale a must not be zero"))
	}
	return err
}

// Chain builds the filter chain. poses feeds the pose transform and may be nil when it is
// disabled.
func (cfg *FiltersConfig) Chain(poses filter.PoseProvider) (*filter.Chain, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	chain := filter.NewChain()
	if cfg.Calibration.Enabled {
		chain.Add(&filter.SensorCalibration{A: cfg.Calibration.A, B: cfg.Calibration.B})
	}
	if cfg.PoseTransform {
		if poses == nil {
			return nil, errors.New("pose transform enabled without a pose provider")
		}
		chain.Add(filter.NewPoseTransformer(poses))
	}
	if cfg.Crop.Enabled {
		crop, err := filter.NewCrop(cfg.Crop.XMin, cfg.Crop.XMax, cfg.Crop.YMin, cfg.Crop.YMax)
		if err != nil {
			return nil, err
		}
		chain.Add(crop)
	}
	if cfg.Truncate.Enabled {
		chain.Add(&filter.Truncate{Decimals: cfg.Truncate.Decimals})
	}
	return chain, nil
}

// Config is the configuration of the whole pipeline.
type Config struct {
	Filters     FiltersConfig              `json:"filters"`
	Aggregation aggregation.Config         `json:"aggregation"`
	Surfaces    segmentation.SurfaceConfig `json:"surfaces"`
	Obstacles   obstacles.Config           `json:"obstacles"`
	Tracker     tracking.Config            `json:"tracker"`
}

// Default returns the nominal configuration.
func Default() *Config {
	return &Config{
		Filters:     DefaultFiltersConfig(),
		Aggregation: aggregation.DefaultConfig(),
		Surfaces:    segmentation.DefaultSurfaceConfig(),
		Obstacles:   obstacles.DefaultConfig(),
		Tracker:     tracking.DefaultConfig(),
	}
}

// CheckValid validates every section, reporting all problems at once.
func (cfg *Config) CheckValid() error {
	return multierr.Combine(
		errors.Wrap(cfg.Filters.CheckValid(), "filters"),
		errors.Wrap(cfg.Aggregation.CheckValid(), "aggregation"),
		errors.Wrap(cfg.Surfaces.CheckValid(), "surfaces"),
		errors.Wrap(cfg.Obstacles.CheckValid(), "obstacles"),
		errors.Wrap(cfg.Tracker.CheckValid(), "tracker"),
	)
}

// FromAttributes decodes attributes on top of the defaults and validates the result. Keys the
// configuration does not know are rejected.
func FromAttributes(attributes utils.AttributeMap) (*Config, error) {
	cfg := Default()
	if err := utils.DecodeAttributes(attributes, cfg); err != nil {
		return nil, errors.Wrap(err, "cannot decode pipeline config")
	}
	if err := cfg.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "pipeline config error")
	}
	return cfg, nil
}

// FromReader decodes a JSON5 document, so config files may carry comments and trailing commas.
func FromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read pipeline config")
	}
	var attributes utils.AttributeMap
	if err := json5.Unmarshal(data, &attributes); err != nil {
		return nil, errors.Wrap(err, "cannot parse pipeline config")
	}
	return FromAttributes(attributes)
}

// Read reads a JSON5 config file. Environment variable references in the file are expanded
// first.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(bytes.NewReader(buf))
}
