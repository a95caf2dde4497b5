package detector

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"gocv.io/x/gocv"
)

func TestFilterGoodMatches(t *testing.T) {
	pair := func(d0, d1 float64) []gocv.DMatch {
		return []gocv.DMatch{{QueryIdx: 0, TrainIdx: 0, Distance: d0}, {QueryIdx: 0, TrainIdx: 1, Distance: d1}}
	}

	tests := []struct {
		name  string
		pairs [][]gocv.DMatch
		ratio float64
		want  int
	}{
		{"well_separated_kept", [][]gocv.DMatch{pair(10, 100)}, 0.67, 1},
		{"ambiguous_dropped", [][]gocv.DMatch{pair(90, 100)}, 0.67, 0},
		{"boundary_excluded", [][]gocv.DMatch{pair(67, 100)}, 0.67, 0},
		{"just_below_boundary_kept", [][]gocv.DMatch{pair(66.999, 100)}, 0.67, 1},
		{"incomplete_pair_dropped", [][]gocv.DMatch{{{Distance: 1}}}, 0.67, 0},
		{"empty_input", nil, 0.67, 0},
		{"mixed", [][]gocv.DMatch{pair(10, 100), pair(90, 100), pair(5, 100)}, 0.67, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filterGoodMatches(tt.pairs, tt.ratio)
			if len(got) != tt.want {
				t.Errorf("filterGoodMatches = %d good, want %d", len(got), tt.want)
			}
		})
	}
}

func TestFilterGoodMatches_keeps_nearest(t *testing.T) {
	pairs := [][]gocv.DMatch{{
		{QueryIdx: 3, TrainIdx: 7, Distance: 10},
		{QueryIdx: 3, TrainIdx: 9, Distance: 100},
	}}
	good := filterGoodMatches(pairs, 0.67)
	if len(good) != 1 || good[0].TrainIdx != 7 {
		t.Errorf("expected the nearest neighbor to be kept, got %+v", good)
	}
}

// noiseMat builds a deterministic pseudo-random RGB image. Noise gives SIFT
// plenty of distinctive, unambiguous features, which makes the identity and
// no-match scenarios reliable.
func noiseMat(t *testing.T, seed int64, w, h int) gocv.Mat {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		t.Fatalf("ImageToMatRGB: %v", err)
	}
	t.Cleanup(func() { mat.Close() })
	return mat
}

func newSIFTReferenceSet(t *testing.T, slots ...SlotID) *ReferenceSet {
	t.Helper()
	ex := NewSIFTExtractor()
	t.Cleanup(func() { ex.Close() })
	return NewReferenceSet(slots, ex)
}

func newSIFTMatcher(t *testing.T) *Matcher {
	t.Helper()
	m := NewMatcher(NewSIFTExtractor(), DefaultRatioThresh, DefaultGoodMatchThresh)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestMatcher_identity_frame_detected(t *testing.T) {
	refs := newSIFTReferenceSet(t, "logo1")
	tplImg := noiseMat(t, 1, 320, 240)
	if err := refs.Load("logo1", tplImg); err != nil {
		t.Fatalf("Load: %v", err)
	}

	m := newSIFTMatcher(t)
	frame := Frame{Image: tplImg, Seq: 1}

	outcome, err := m.Match(frame, refs.Snapshot())
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(outcome.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(outcome.Results))
	}
	res := outcome.Results[0]
	if res.Count < DefaultGoodMatchThresh {
		t.Errorf("identity frame should exceed the detection threshold, got %d", res.Count)
	}
	if !res.Detected {
		t.Error("identity frame should be detected")
	}
}

func TestMatcher_unrelated_frame_below_threshold(t *testing.T) {
	refs := newSIFTReferenceSet(t, "logo1", "logo2")
	if err := refs.Load("logo1", noiseMat(t, 1, 320, 240)); err != nil {
		t.Fatalf("Load logo1: %v", err)
	}
	if err := refs.Load("logo2", noiseMat(t, 2, 320, 240)); err != nil {
		t.Fatalf("Load logo2: %v", err)
	}

	m := newSIFTMatcher(t)
	frame := Frame{Image: noiseMat(t, 3, 320, 240), Seq: 1}

	outcome, err := m.Match(frame, refs.Snapshot())
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	for _, res := range outcome.Results {
		if res.Count >= DefaultGoodMatchThresh {
			t.Errorf("slot %s: unrelated frame matched %d times, threshold %d", res.Template.Slot, res.Count, DefaultGoodMatchThresh)
		}
		if res.Detected {
			t.Errorf("slot %s should not be detected in an unrelated frame", res.Template.Slot)
		}
	}
}

func TestMatcher_featureless_frame_zero_counts(t *testing.T) {
	refs := newSIFTReferenceSet(t, "logo1")
	if err := refs.Load("logo1", noiseMat(t, 1, 320, 240)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	m := newSIFTMatcher(t)
	blank := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	defer blank.Close()

	outcome, err := m.Match(Frame{Image: blank, Seq: 1}, refs.Snapshot())
	if err != nil {
		t.Fatalf("a featureless frame is not an error: %v", err)
	}
	if got := outcome.Results[0].Count; got != 0 {
		t.Errorf("expected zero matches for a featureless frame, got %d", got)
	}
}

func TestMatcher_featureless_template_zero_counts(t *testing.T) {
	refs := newSIFTReferenceSet(t, "logo1")
	blank := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	defer blank.Close()
	if err := refs.Load("logo1", blank); err != nil {
		t.Fatalf("a featureless template still loads: %v", err)
	}

	m := newSIFTMatcher(t)
	outcome, err := m.Match(Frame{Image: noiseMat(t, 1, 320, 240), Seq: 1}, refs.Snapshot())
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if got := outcome.Results[0].Count; got != 0 {
		t.Errorf("expected zero matches against a featureless template, got %d", got)
	}
}

func TestMatcher_deterministic_for_fixed_snapshot(t *testing.T) {
	refs := newSIFTReferenceSet(t, "logo1")
	if err := refs.Load("logo1", noiseMat(t, 1, 320, 240)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	m := newSIFTMatcher(t)
	frame := Frame{Image: noiseMat(t, 4, 320, 240), Seq: 1}
	snap := refs.Snapshot()

	first, err := m.Match(frame, snap)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	second, err := m.Match(frame, snap)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if first.Results[0].Count != second.Results[0].Count {
		t.Errorf("repeated match on identical inputs differs: %d vs %d",
			first.Results[0].Count, second.Results[0].Count)
	}
}
