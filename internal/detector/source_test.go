package detector

import (
	"errors"
	"image"
	"testing"
	"time"
)

func TestOpenCapture_missing_file(t *testing.T) {
	_, err := OpenCapture("testdata/does-not-exist.mjpeg", image.Pt(320, 240), time.Second)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
}
