package detector

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Default matching parameters.
const (
	DefaultRatioThresh     = 0.67
	DefaultGoodMatchThresh = 20
)

// Matcher extracts features from a frame and counts, per reference slot, the
// descriptor pairs that survive the nearest-neighbor ratio test. Matching is
// read-only against the snapshot it is given. A Matcher owns its extractor
// and brute-force matcher and is not safe for concurrent use; the processing
// loop is its only caller.
type Matcher struct {
	extractor Extractor
	bf        gocv.BFMatcher
	ratio     float64
	minGood   int
}

// NewMatcher creates a Matcher with the given extractor and parameters.
// Non-positive parameters fall back to the defaults.
func NewMatcher(extractor Extractor, ratio float64, minGood int) *Matcher {
	if ratio <= 0 {
		ratio = DefaultRatioThresh
	}
	if minGood <= 0 {
		minGood = DefaultGoodMatchThresh
	}
	return &Matcher{
		extractor: extractor,
		bf:        gocv.NewBFMatcher(),
		ratio:     ratio,
		minGood:   minGood,
	}
}

// Match computes one MatchResult per template in refs, in snapshot order.
// A frame or template yielding zero descriptors produces a zero count, not an
// error. Deterministic for fixed inputs and parameters.
func (m *Matcher) Match(frame Frame, refs []*ReferenceTemplate) (MatchOutcome, error) {
	fs, err := m.extractor.Extract(frame.Image)
	if err != nil {
		return MatchOutcome{}, fmt.Errorf("frame %d: %w", frame.Seq, err)
	}
	defer fs.Descriptors.Close()

	outcome := MatchOutcome{
		FrameKeypoints: fs.Keypoints,
		Results:        make([]MatchResult, 0, len(refs)),
	}

	for _, tpl := range refs {
		res := MatchResult{Template: tpl}
		// KnnMatch needs at least k train descriptors to produce full pairs.
		if !tpl.Descriptors.Empty() && !fs.Descriptors.Empty() && fs.Descriptors.Rows() >= 2 {
			pairs := m.bf.KnnMatch(tpl.Descriptors, fs.Descriptors, 2)
			res.Good = filterGoodMatches(pairs, m.ratio)
			res.Count = len(res.Good)
		}
		res.Detected = res.Count >= m.minGood
		outcome.Results = append(outcome.Results, res)
	}

	return outcome, nil
}

// Close releases the matcher's native resources.
func (m *Matcher) Close() error {
	m.bf.Close()
	return m.extractor.Close()
}

// filterGoodMatches applies the ratio test to k=2 nearest-neighbor pairs:
// a match is good iff the best distance is strictly below ratio times the
// second-best distance. Incomplete pairs are ambiguous and dropped.
func filterGoodMatches(pairs [][]gocv.DMatch, ratio float64) []gocv.DMatch {
	good := make([]gocv.DMatch, 0, len(pairs))
	for _, p := range pairs {
		if len(p) < 2 {
			continue
		}
		if p[0].Distance < ratio*p[1].Distance {
			good = append(good, p[0])
		}
	}
	return good
}
