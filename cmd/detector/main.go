// Package main replays recorded point cloud frames through the obstacle pipeline and logs the
// obstacles and tracks it finds.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/obstacles/config"
	"go.viam.com/obstacles/logging"
	"go.viam.com/obstacles/pipeline"
	"go.viam.com/obstacles/source"
	"go.viam.com/obstacles/tracking"
	"go.viam.com/obstacles/vision"
)

const (
	flagConfig = "config"
	flagPCD    = "pcd"
	flagRate   = "rate"
	flagDebug  = "debug"
	flagLevel  = "log-level"
)

func main() {
	app := &cli.App{
		Name:  "detector",
		Usage: "detect and track obstacles in recorded point clouds",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load pipeline configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:     flagPCD,
				Usage:    "replay the .pcd files of `DIR` in lexical order",
				Required: true,
			},
			&cli.Float64Flag{
				Name:  flagRate,
				Usage: "replay at `HZ` frames per second, 0 for as fast as possible",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "log the debug messages of every stage regardless of level",
			},
			&cli.StringFlag{
				Name:  flagLevel,
				Usage: "minimum `LEVEL` logged (debug, info, warn, error)",
				Value: "info",
			},
		},
		Action: runAction,
	}
	if err := app.Run(os.Args); err != nil {
		logging.Global().Error(err)
		os.Exit(1)
	}
}

func runAction(c *cli.Context) error {
	level, err := logging.LevelFromString(c.String(flagLevel))
	if err != nil {
		return err
	}
	logger := logging.NewLogger("detector")
	logger.SetLevel(level)
	logging.ReplaceGlobal(logger)
	defer utils.UncheckedErrorFunc(logger.Sync)

	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		if cfg, err = config.Read(path); err != nil {
			return errors.Wrapf(err, "cannot read config %q", path)
		}
	}
	src, err := source.NewPCDSource(c.String(flagPCD), c.Float64(flagRate), logger.Sublogger("source"))
	if err != nil {
		return err
	}
	p, err := pipeline.New(cfg, src, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	report := &reporter{logger: logger}
	p.Tracker().AttachAggregator(report)
	if gt, ok := p.Tracker().(*tracking.GMMTracker); ok {
		gt.AttachStateObserver(report)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if c.Bool(flagDebug) {
		ctx = logging.EnableDebugMode(ctx, "")
	}
	if err := p.Open(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	frames, last := p.Frames()
	logger.Infow("replay done", "frames", frames, "last_frame", last, "detection_failures", p.Detector().Failures())
	report.summarize()
	return nil
}

// reporter logs the tracked obstacles of every frame and the lifecycle of mixture tracks.
type reporter struct {
	logger logging.Logger
	counts stats.Float64Data
}

func (r *reporter) UpdateObstacles(_ context.Context, frameIndex int64, objects []*vision.Object) {
	r.counts = append(r.counts, float64(len(objects)))
	r.logger.Infow("frame", "index", frameIndex, "obstacles", len(objects))
	for _, obj := range objects {
		r.logger.Infow("obstacle",
			"frame", frameIndex,
			"id", obj.ID,
			"points", obj.Cloud.Size(),
			"position", obj.Position,
			"velocity", obj.Velocity,
			"geometry", obj.Geometry,
		)
	}
}

func (r *reporter) InitState(s *tracking.State) {
	r.logger.Infow("track created", "id", s.ID, "position", s.Position())
}

func (r *reporter) UpdateState(s *tracking.State) {
	r.logger.Debugw("track updated", "track", s.String())
}

func (r *reporter) DeleteState(s *tracking.State) {
	r.logger.Infow("track deleted", "id", s.ID, "lifetime", s.LifeTime)
}

// summarize logs the distribution of obstacle counts over the replayed frames.
func (r *reporter) summarize() {
	if len(r.counts) == 0 {
		return
	}
	mean, errMean := stats.Mean(r.counts)
	median, errMedian := stats.Median(r.counts)
	most, errMax := stats.Max(r.counts)
	if err := multierr.Combine(errMean, errMedian, errMax); err != nil {
		r.logger.Warnw("cannot summarize obstacle counts", "error", err)
		return
	}
	r.logger.Infow("obstacles per frame", "mean", mean, "median", median, "max", most)
}
