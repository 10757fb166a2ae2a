package tracking

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"

	"go.viam.com/obstacles/logging"
	"go.viam.com/obstacles/obstacles"
	"go.viam.com/obstacles/tracking/kalman"
	"go.viam.com/obstacles/vision"
)

// KalmanConfig holds the noise variances of the constant velocity model and the variances a new
// track starts with.
type KalmanConfig struct {
	NoisePos  float64 `json:"noise_position"`
	NoiseVel  float64 `json:"noise_velocity"`
	NoiseMeas float64 `json:"noise_measurement"`
	InitPos   float64 `json:"init_position_variance"`
	InitVel   float64 `json:"init_velocity_variance"`
}

// DefaultKalmanConfig returns the nominal noise variances. The initial velocity is unknown, so its
// variance is large enough for the first update to take the velocity from the measurements.
func DefaultKalmanConfig() KalmanConfig {
	return KalmanConfig{NoisePos: 0.01, NoiseVel: 0.15, NoiseMeas: 0.10, InitPos: 0.1, InitVel: 1e4}
}

// CheckValid validates the config.
func (cfg *KalmanConfig) CheckValid() error {
	var err error
	if cfg.NoisePos < 0 {
		err = multierr.Append(err, errors.Errorf("noise_position must not be negative, got %v", cfg.NoisePos))
	}
	if cfg.NoiseVel < 0 {
		err = multierr.Append(err, errors.Errorf("noise_velocity must not be negative, got %v", cfg.NoiseVel))
	}
	if cfg.NoiseMeas <= 0 {
		err = multierr.Append(err, errors.Errorf("noise_measurement must be positive, got %v", cfg.NoiseMeas))
	}
	if cfg.InitPos <= 0 {
		err = multierr.Append(err, errors.Errorf("init_position_variance must be positive, got %v", cfg.InitPos))
	}
	if cfg.InitVel <= 0 {
		err = multierr.Append(err, errors.Errorf("init_velocity_variance must be positive, got %v", cfg.InitVel))
	}
	return err
}

func (cfg *KalmanConfig) filter(s kalman.State) *kalman.Filter {
	return kalman.NewFilter(s, kalman.InitModel{PosVariance: cfg.InitPos, VelVariance: cfg.InitVel})
}

func (cfg *KalmanConfig) system(dt float64) kalman.SystemModel {
	return kalman.SystemModel{NoisePos: cfg.NoisePos, NoiseVel: cfg.NoiseVel, Dt: dt}
}

func (cfg *KalmanConfig) measurement() kalman.MeasurementModel {
	return kalman.MeasurementModel{Noise: cfg.NoiseMeas}
}

// KalmanTracker smooths the motion of observations that already carry persistent IDs, keeping one
// filter per ID.
type KalmanTracker struct {
	obstacles.Aggregators

	cfg     KalmanConfig
	clock   frameClock
	filters map[int]*kalman.Filter
	logger  logging.Logger
}

// NewKalmanTracker returns an empty tracker timed by clk.
func NewKalmanTracker(cfg KalmanConfig, clk clock.Clock, logger logging.Logger) (*KalmanTracker, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "kalman tracker config error")
	}
	return &KalmanTracker{
		cfg:     cfg,
		clock:   newFrameClock(clk),
		filters: map[int]*kalman.Filter{},
		logger:  logger,
	}, nil
}

// UpdateObstacles filters every identified observation and overwrites its position and velocity.
// A new ID starts a filter at the observed center with zero velocity. Observations without an
// ID are passed on untouched.
func (kt *KalmanTracker) UpdateObstacles(ctx context.Context, frameIndex int64, objects []*vision.Object) {
	ctx, span := trace.StartSpan(ctx, "tracking::KalmanTracker::UpdateObstacles")
	defer span.End()

	dt := kt.clock.tick()
	for _, obj := range objects {
		if !obj.Tracked() {
			continue
		}
		f, ok := kt.filters[obj.ID]
		if !ok {
			kt.filters[obj.ID] = kt.cfg.filter(kalman.State{Position: obj.Center})
			obj.Position = obj.Center
			obj.Velocity = r3.Vector{}
			continue
		}
		f.Predict(kt.cfg.system(dt))
		state, err := f.Update(kt.cfg.measurement(), obj.Center)
		if err != nil {
			kt.logger.Warnw("kalman update failed", "frame", frameIndex, "id", obj.ID, "error", err)
			continue
		}
		obj.Position = state.Position
		obj.Velocity = state.Velocity
	}
	kt.logger.CDebugw(ctx, "kalman tracker updated", "frame", frameIndex, "dt", dt, "tracks", len(kt.filters))
	kt.NotifyObstacles(ctx, frameIndex, objects)
}

// State returns the estimate for id.
func (kt *KalmanTracker) State(id int) (kalman.State, bool) {
	f, ok := kt.filters[id]
	if !ok {
		return kalman.State{}, false
	}
	return f.State(), true
}

// Len returns the number of filters held.
func (kt *KalmanTracker) Len() int {
	return len(kt.filters)
}

// Reset discards the filter of id. Unknown ids are ignored.
func (kt *KalmanTracker) Reset(id int) {
	delete(kt.filters, id)
}

// Close discards every filter and restarts the frame clock.
func (kt *KalmanTracker) Close() {
	kt.filters = map[int]*kalman.Filter{}
	kt.clock.reset()
}
