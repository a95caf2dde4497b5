package detector

import (
	"errors"
	"time"

	"gocv.io/x/gocv"
)

// SlotID identifies a reference template slot (e.g. "logo1", "logo2").
type SlotID string

// Frame is a single decoded video frame. Image is owned by the pipeline and
// must be closed exactly once after processing.
type Frame struct {
	Image gocv.Mat
	// Seq is a monotonically increasing capture sequence number.
	Seq int64
	// Timestamp records when the frame was read from the source.
	Timestamp time.Time
}

// Close releases the frame's pixel buffer.
func (f *Frame) Close() {
	f.Image.Close()
}

// ReferenceTemplate is an immutable reference image together with its
// precomputed features. Templates are replaced wholesale on reload, never
// mutated, so the descriptors always correspond to the stored pixel buffer.
type ReferenceTemplate struct {
	Slot        SlotID
	Image       gocv.Mat
	Keypoints   []gocv.KeyPoint
	Descriptors gocv.Mat
}

// MatchResult holds the outcome of matching one reference template against a
// frame: the descriptor pairs that passed the ratio test, their count, and
// whether the count reached the detection threshold. Recomputed every
// processed frame.
type MatchResult struct {
	Template *ReferenceTemplate
	Good     []gocv.DMatch
	Count    int
	Detected bool
}

// MatchOutcome is the result of one full matching cycle: the frame's
// keypoints plus one MatchResult per reference slot, in slot order.
type MatchOutcome struct {
	FrameKeypoints []gocv.KeyPoint
	Results        []MatchResult
}

// Statistics is the aggregate snapshot served to clients. Counts are
// per-frame (latest only), not cumulative.
type Statistics struct {
	FPS        float64         `json:"fps"`
	Matches    map[SlotID]int  `json:"matches"`
	Detected   map[SlotID]bool `json:"detected"`
	LastUpdate float64         `json:"last_update"`
	MemMB      *float64        `json:"mem_mb,omitempty"`
	State      string          `json:"state"`
	LastError  string          `json:"last_error,omitempty"`
}

// clone returns a deep copy so readers and the writer never share maps.
func (s Statistics) clone() Statistics {
	out := s
	if s.Matches != nil {
		out.Matches = make(map[SlotID]int, len(s.Matches))
		for k, v := range s.Matches {
			out.Matches[k] = v
		}
	}
	if s.Detected != nil {
		out.Detected = make(map[SlotID]bool, len(s.Detected))
		for k, v := range s.Detected {
			out.Detected[k] = v
		}
	}
	if s.MemMB != nil {
		mem := *s.MemMB
		out.MemMB = &mem
	}
	return out
}

var (
	// ErrSourceUnavailable is returned when the capture source cannot be
	// opened or reopened. Fatal after the bounded recovery attempt.
	ErrSourceUnavailable = errors.New("capture source unavailable")

	// ErrReadTimeout is returned when no frame arrives within the source's
	// read timeout. Transient; the pipeline decides whether to retry.
	ErrReadTimeout = errors.New("frame read timed out")

	// ErrEndOfStream is returned when the source has no more frames.
	ErrEndOfStream = errors.New("end of stream")

	// ErrInvalidImage is returned when reference image bytes cannot be
	// decoded. The previous template for the slot stays active.
	ErrInvalidImage = errors.New("invalid image")

	// ErrFeatureExtraction is returned when feature extraction fails hard on
	// a reference image. A frame yielding zero descriptors is not an error.
	ErrFeatureExtraction = errors.New("feature extraction failed")

	// ErrEncodingFailed is returned when an annotated frame cannot be
	// encoded for transport. The cycle's publish is skipped.
	ErrEncodingFailed = errors.New("frame encoding failed")

	// ErrUnknownSlot is returned when a reload targets a slot that was not
	// configured at startup.
	ErrUnknownSlot = errors.New("unknown reference slot")
)
