package source

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/obstacles/logging"
	"go.viam.com/obstacles/pointcloud"
)

// PCDSource replays the .pcd files of a directory as frames, in lexical file name order.
type PCDSource struct {
	Subject

	files  []string
	rate   float64
	clk    clock.Clock
	logger logging.Logger
}

// NewPCDSource lists the .pcd files of dir. A positive rate paces delivery to that many frames
// per second; zero delivers as fast as the observers return.
func NewPCDSource(dir string, rate float64, logger logging.Logger) (*PCDSource, error) {
	if rate < 0 {
		return nil, errors.Errorf("rate must not be negative, got %v", rate)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %q", dir)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pcd") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no .pcd files in %q", dir)
	}
	sort.Strings(files)
	return &PCDSource{files: files, rate: rate, clk: clock.New(), logger: logger}, nil
}

// SetClock replaces the clock used for pacing.
func (s *PCDSource) SetClock(clk clock.Clock) {
	s.clk = clk
}

// Files returns the files that will be replayed.
func (s *PCDSource) Files() []string {
	return s.files
}

// Open reads and delivers every file. A file that can not be read stops the replay.
func (s *PCDSource) Open(ctx context.Context) error {
	var ticker *clock.Ticker
	if s.rate > 0 {
		ticker = s.clk.Ticker(time.Duration(float64(time.Second) / s.rate))
		defer ticker.Stop()
	}
	for i, fn := range s.files {
		if err := ctx.Err(); err != nil {
			return err
		}
		cloud, err := pointcloud.NewFromFile(fn)
		if err != nil {
			return err
		}
		s.logger.Debugw("replaying frame", "frame", i, "file", filepath.Base(fn), "points", cloud.Size())
		s.Notify(ctx, &Frame{Index: int64(i), Cloud: cloud})
		if ticker != nil && i < len(s.files)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
	return nil
}
