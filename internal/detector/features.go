package detector

import (
	"fmt"

	"gocv.io/x/gocv"
)

// FeatureSet holds the keypoints and descriptors extracted from one image.
// Descriptors is a row-per-keypoint matrix; it may be empty when the image
// has no distinctive features, which is not an error.
type FeatureSet struct {
	Keypoints   []gocv.KeyPoint
	Descriptors gocv.Mat
}

// Extractor computes scale/rotation-invariant features from an image.
// Implementations are not safe for concurrent use; each owner (reference set,
// matcher) constructs its own instance.
type Extractor interface {
	Extract(img gocv.Mat) (FeatureSet, error)
	Close() error
}

// SIFTExtractor extracts SIFT keypoints and 128-dimensional float
// descriptors, the same capability used for both templates and live frames.
type SIFTExtractor struct {
	sift gocv.SIFT
}

// NewSIFTExtractor creates a SIFT feature extractor.
func NewSIFTExtractor() *SIFTExtractor {
	return &SIFTExtractor{sift: gocv.NewSIFT()}
}

// Extract implements Extractor.
func (e *SIFTExtractor) Extract(img gocv.Mat) (FeatureSet, error) {
	if img.Empty() {
		return FeatureSet{}, fmt.Errorf("%w: empty image", ErrFeatureExtraction)
	}

	mask := gocv.NewMat()
	defer mask.Close()

	kp, desc := e.sift.DetectAndCompute(img, mask)
	return FeatureSet{Keypoints: kp, Descriptors: desc}, nil
}

// Close releases the underlying detector.
func (e *SIFTExtractor) Close() error {
	return e.sift.Close()
}
