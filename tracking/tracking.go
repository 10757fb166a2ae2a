// Package tracking gives obstacle observations persistent identities and filtered motion
// estimates. Two engines are provided: a constant velocity Kalman tracker fed by a nearest
// centroid ID assigner, and a Gaussian mixture tracker that associates, splits and retires tracks
// itself.
package tracking

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/obstacles/logging"
	"go.viam.com/obstacles/obstacles"
)

// Kind names a tracking engine.
type Kind string

// The tracking engines.
const (
	KindKalman Kind = "kalman"
	KindGMM    Kind = "gmm"
)

// defaultDt is the time step assumed on the first update, a 30Hz sensor.
const defaultDt = 1. / 30

// A Tracker consumes detected obstacles, annotates them and forwards them to its own aggregators.
type Tracker interface {
	obstacles.Aggregator
	AttachAggregator(a obstacles.Aggregator)
	DetachAggregator(a obstacles.Aggregator)
	// Reset forgets the track with the given id. Unknown ids are ignored.
	Reset(id int)
	// Close forgets every track.
	Close()
}

// Config selects and parameterizes a tracking engine.
type Config struct {
	Kind     Kind           `json:"kind"`
	Kalman   KalmanConfig   `json:"kalman"`
	Assigner AssignerConfig `json:"assigner"`
	GMM      GMMConfig      `json:"gmm"`
}

// DefaultConfig returns the Gaussian mixture tracker with default parameters.
func DefaultConfig() Config {
	return Config{
		Kind:     KindGMM,
		Kalman:   DefaultKalmanConfig(),
		Assigner: DefaultAssignerConfig(),
		GMM:      DefaultGMMConfig(),
	}
}

// CheckValid validates the section of the selected engine.
func (cfg *Config) CheckValid() error {
	switch cfg.Kind {
	case KindKalman:
		return multierr.Combine(cfg.Kalman.CheckValid(), cfg.Assigner.CheckValid())
	case KindGMM:
		return cfg.GMM.CheckValid()
	default:
		return errors.Errorf("unknown tracker kind %q", cfg.Kind)
	}
}

// New builds the engine selected by cfg. The Kalman engine is returned behind its ID assigner.
func New(cfg Config, clk clock.Clock, logger logging.Logger) (Tracker, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "tracker config error")
	}
	switch cfg.Kind {
	case KindKalman:
		kt, err := NewKalmanTracker(cfg.Kalman, clk, logger)
		if err != nil {
			return nil, err
		}
		assigner, err := NewIDAssigner(cfg.Assigner, logger)
		if err != nil {
			return nil, err
		}
		assigner.Chain(kt)
		return assigner, nil
	default:
		gt, err := NewGMMTracker(cfg.GMM, clk, logger)
		if err != nil {
			return nil, err
		}
		return gt, nil
	}
}

// frameClock measures the time between consecutive updates.
type frameClock struct {
	clk     clock.Clock
	last    time.Time
	started bool
}

func newFrameClock(clk clock.Clock) frameClock {
	if clk == nil {
		clk = clock.New()
	}
	return frameClock{clk: clk}
}

// tick returns the seconds since the previous tick, or the default step on the first tick.
func (fc *frameClock) tick() float64 {
	now := fc.clk.Now()
	dt := defaultDt
	if fc.started {
		dt = now.Sub(fc.last).Seconds()
	}
	fc.last, fc.started = now, true
	return dt
}

func (fc *frameClock) reset() {
	fc.started = false
}
