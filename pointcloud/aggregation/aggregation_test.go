package aggregation

import (
	"math"
	"math/bits"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func runFrame(f CloudFilter, pts ...r3.Vector) int {
	f.NewFrame()
	for _, p := range pts {
		f.AddPoint(p)
	}
	return f.Filtered().Size()
}

func TestBitHistoryEmission(t *testing.T) {
	f, err := NewBitHistory(DefaultBitHistoryConfig())
	test.That(t, err, test.ShouldBeNil)

	p := r3.Vector{X: 0.123, Y: 0.5, Z: 1}
	for frame := 1; frame < 10; frame++ {
		// several points in the same voxel count once
		test.That(t, runFrame(f, p, p, r3.Vector{X: 0.1239, Y: 0.5, Z: 1}), test.ShouldEqual, 0)
	}
	word, ok := f.History(p)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, word, test.ShouldEqual, uint32(0x1FF))

	f.NewFrame()
	f.AddPoint(p)
	out := f.Filtered()
	test.That(t, out.Size(), test.ShouldEqual, 1)
	test.That(t, out.At(0).X, test.ShouldAlmostEqual, 0.12)
	test.That(t, out.At(0).Y, test.ShouldAlmostEqual, 0.5)
	// closing the same frame twice does not shift again
	test.That(t, f.Filtered(), test.ShouldEqual, out)
	word, _ = f.History(p)
	test.That(t, word, test.ShouldEqual, uint32(0x3FF))
	test.That(t, f.Len(), test.ShouldEqual, 1)
}

func TestBitHistoryDecayAndEviction(t *testing.T) {
	f, err := NewBitHistory(DefaultBitHistoryConfig())
	test.That(t, err, test.ShouldBeNil)

	target := r3.Vector{}
	// 5cm away: inside the 10 voxel margin around the other voxel
	near := r3.Vector{X: 0.05}
	for frame := 0; frame < historyBits; frame++ {
		runFrame(f, target, near)
	}
	word, _ := f.History(target)
	test.That(t, word, test.ShouldEqual, uint32(math.MaxUint32))

	// unseen for 22 frames the voxel still holds 10 set bits
	for frame := 0; frame < 22; frame++ {
		test.That(t, runFrame(f, near), test.ShouldEqual, 2)
	}
	word, _ = f.History(target)
	test.That(t, bits.OnesCount32(word), test.ShouldEqual, 10)

	// the 23rd unseen frame drops it below the threshold, it is still held inside the margin
	test.That(t, runFrame(f, near), test.ShouldEqual, 1)
	_, ok := f.History(target)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, f.Len(), test.ShouldEqual, 2)

	// a frame without observations decays everything but evicts nothing
	test.That(t, runFrame(f), test.ShouldEqual, 1)
	test.That(t, f.Len(), test.ShouldEqual, 2)

	// once the scene moves away both voxels fall outside the grown frame box
	far := r3.Vector{X: 1}
	runFrame(f, far)
	test.That(t, f.Len(), test.ShouldEqual, 1)
	_, ok = f.History(target)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = f.History(far)
	test.That(t, ok, test.ShouldBeTrue)
}

func TestBitHistoryMarginAppliedOnce(t *testing.T) {
	cfg := DefaultBitHistoryConfig()
	f, err := NewBitHistory(cfg)
	test.That(t, err, test.ShouldBeNil)

	runFrame(f, r3.Vector{}, r3.Vector{X: 0.10}, r3.Vector{X: 0.11}, r3.Vector{X: 0.21})
	test.That(t, f.Len(), test.ShouldEqual, 4)

	// frame box is [0, 0] in x; grown by 10 voxels it holds x=0.10 but neither 0.11 nor 0.21
	runFrame(f, r3.Vector{})
	test.That(t, f.Len(), test.ShouldEqual, 2)
	_, ok := f.History(r3.Vector{X: 0.105})
	test.That(t, ok, test.ShouldBeTrue)
	_, ok = f.History(r3.Vector{X: 0.11})
	test.That(t, ok, test.ShouldBeFalse)
}

func TestBitHistoryCoarsen(t *testing.T) {
	cfg := DefaultBitHistoryConfig()
	cfg.Coarsen = true
	cfg.Threshold = 1
	f, err := NewBitHistory(cfg)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, runFrame(f, r3.Vector{X: 0.005}, r3.Vector{X: 0.012}, r3.Vector{X: 0.025}), test.ShouldEqual, 2)
	test.That(t, f.Len(), test.ShouldEqual, 2)
}

func TestPT1ConvergenceAndDecay(t *testing.T) {
	f, err := NewPT1(DefaultPT1Config())
	test.That(t, err, test.ShouldBeNil)

	p := r3.Vector{X: 1, Y: 1, Z: 1}
	prev := 0.
	for frame := 1; frame <= 4; frame++ {
		test.That(t, runFrame(f, p), test.ShouldEqual, 0)
		value, _ := f.Value(p)
		test.That(t, value, test.ShouldBeGreaterThan, prev)
		test.That(t, value, test.ShouldAlmostEqual, 10*(1-math.Pow(0.9, float64(frame))))
		prev = value
	}
	test.That(t, runFrame(f, p), test.ShouldEqual, 1)
	value, _ := f.Value(p)
	test.That(t, value, test.ShouldAlmostEqual, 10*(1-math.Pow(0.9, 5)))

	for frame := 0; frame < 50; frame++ {
		runFrame(f, p)
	}
	value, _ = f.Value(p)
	test.That(t, value, test.ShouldBeLessThan, 10)
	test.That(t, value, test.ShouldAlmostEqual, 10, 0.05)

	// occlusion: geometric decay at the blend factor
	for frame := 1; frame <= 5; frame++ {
		runFrame(f)
		decayed, _ := f.Value(p)
		test.That(t, decayed, test.ShouldAlmostEqual, value*math.Pow(0.9, float64(frame)))
	}
	for frame := 0; frame < 5; frame++ {
		runFrame(f)
	}
	test.That(t, f.Filtered().Size(), test.ShouldEqual, 0)
	// no eviction without pruning
	test.That(t, f.Len(), test.ShouldEqual, 1)
}

func TestPT1Prune(t *testing.T) {
	cfg := DefaultPT1Config()
	cfg.PruneBelow = 0.5
	f, err := NewPT1(cfg)
	test.That(t, err, test.ShouldBeNil)

	runFrame(f, r3.Vector{}, r3.Vector{X: 1})
	test.That(t, f.Len(), test.ShouldEqual, 2)
	// 1.0 then 0.9, 0.81, ... falls below 0.5 after 7 unobserved frames
	for frame := 0; frame < 7; frame++ {
		runFrame(f, r3.Vector{X: 1})
	}
	test.That(t, f.Len(), test.ShouldEqual, 1)
	_, ok := f.Value(r3.Vector{})
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = f.Value(r3.Vector{X: 1})
	test.That(t, ok, test.ShouldBeTrue)
}

func TestPassthrough(t *testing.T) {
	f := NewPassthrough()
	test.That(t, runFrame(f, r3.Vector{X: 0.1234}, r3.Vector{X: 0.1234}), test.ShouldEqual, 2)
	test.That(t, f.Filtered().At(0).X, test.ShouldEqual, 0.1234)
	test.That(t, runFrame(f), test.ShouldEqual, 0)
}

func TestNew(t *testing.T) {
	cfg := DefaultConfig()
	f, err := New(cfg)
	test.That(t, err, test.ShouldBeNil)
	_, ok := f.(*BitHistory)
	test.That(t, ok, test.ShouldBeTrue)

	cfg.Kind = KindPT1
	f, err = New(cfg)
	test.That(t, err, test.ShouldBeNil)
	_, ok = f.(*PT1)
	test.That(t, ok, test.ShouldBeTrue)

	cfg.Kind = KindNone
	f, err = New(cfg)
	test.That(t, err, test.ShouldBeNil)
	_, ok = f.(*Passthrough)
	test.That(t, ok, test.ShouldBeTrue)

	cfg.Kind = "median"
	_, err = New(cfg)
	test.That(t, err, test.ShouldNotBeNil)

	bad := DefaultBitHistoryConfig()
	bad.Threshold = 33
	_, err = NewBitHistory(bad)
	test.That(t, err, test.ShouldNotBeNil)

	badPT1 := DefaultPT1Config()
	badPT1.Blend = 1
	_, err = NewPT1(badPT1)
	test.That(t, err, test.ShouldNotBeNil)
}
