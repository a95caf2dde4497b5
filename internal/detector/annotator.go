package detector

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	matchColor    = color.RGBA{G: 255}
	keypointColor = color.RGBA{R: 255}
	overlayColor  = color.RGBA{G: 255}
)

// Annotator renders match results onto a copy of the frame and encodes the
// result as a JPEG. It is stateless and never mutates the input frame.
type Annotator struct {
	view    image.Point // size of each per-slot panel
	quality int
}

// NewAnnotator creates an Annotator producing view-sized panels encoded at
// the given JPEG quality (1-100).
func NewAnnotator(view image.Point, quality int) *Annotator {
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	return &Annotator{view: view, quality: quality}
}

// Annotate draws one side-by-side match panel per reference slot (template
// on the left, frame on the right, matched keypoint pairs connected),
// concatenates the panels horizontally, overlays per-slot match counts, and
// encodes the composite. With no reference slots it falls back to the frame
// with its keypoints drawn.
func (a *Annotator) Annotate(frame Frame, outcome MatchOutcome) ([]byte, error) {
	canvas, err := a.compose(frame, outcome)
	if err != nil {
		return nil, err
	}
	defer canvas.Close()

	for i, res := range outcome.Results {
		label := fmt.Sprintf("%s: %d", res.Template.Slot, res.Count)
		org := image.Pt(i*a.view.X+10, 20)
		gocv.PutText(&canvas, label, org, gocv.FontHersheySimplex, 0.6, overlayColor, 2)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, canvas, []int{gocv.IMWriteJpegQuality, a.quality})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	defer buf.Close()

	// The native buffer is released on return; hand back a Go-owned copy.
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

func (a *Annotator) compose(frame Frame, outcome MatchOutcome) (gocv.Mat, error) {
	if len(outcome.Results) == 0 {
		canvas := gocv.NewMat()
		gocv.DrawKeyPoints(frame.Image, outcome.FrameKeypoints, &canvas, keypointColor, gocv.DrawDefault)
		scaled := gocv.NewMat()
		gocv.Resize(canvas, &scaled, a.view, 0, 0, gocv.InterpolationLinear)
		canvas.Close()
		return scaled, nil
	}

	var canvas gocv.Mat
	for i, res := range outcome.Results {
		panel := gocv.NewMat()
		gocv.DrawMatches(
			res.Template.Image, res.Template.Keypoints,
			frame.Image, outcome.FrameKeypoints,
			res.Good, &panel,
			matchColor, keypointColor, nil, gocv.NotDrawSinglePoints,
		)
		scaled := gocv.NewMat()
		gocv.Resize(panel, &scaled, a.view, 0, 0, gocv.InterpolationLinear)
		panel.Close()

		if i == 0 {
			canvas = scaled
			continue
		}
		merged := gocv.NewMat()
		gocv.Hconcat(canvas, scaled, &merged)
		canvas.Close()
		scaled.Close()
		canvas = merged
	}
	return canvas, nil
}
