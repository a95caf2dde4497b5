package detector

import (
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"
)

// readRetryDelay is the pause between failed capture reads while waiting out
// the read timeout budget.
const readRetryDelay = 20 * time.Millisecond

// Source abstracts a sequential video feed. Read blocks for at most the
// source's configured timeout and never retries beyond it; recovery policy
// belongs to the caller. Implementations are not safe for concurrent use:
// the processing loop is the only reader.
type Source interface {
	Read() (Frame, error)
	Reopen() error
	Close() error
}

// CaptureSource reads frames from a network stream URL or a local capture
// device index via OpenCV. Frames are resized to the configured processing
// size before being returned.
type CaptureSource struct {
	locator string
	size    image.Point
	timeout time.Duration

	cap    *gocv.VideoCapture
	buf    gocv.Mat // reusable read buffer
	seq    int64
	closed bool
}

// OpenCapture opens the given locator (device index or URL) and verifies the
// handle is live. The caller must Close the returned source on every exit
// path; it holds an exclusive OS-level handle.
func OpenCapture(locator string, size image.Point, timeout time.Duration) (*CaptureSource, error) {
	cap, err := gocv.OpenVideoCapture(locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, locator, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, locator)
	}

	return &CaptureSource{
		locator: locator,
		size:    size,
		timeout: timeout,
		cap:     cap,
		buf:     gocv.NewMat(),
	}, nil
}

// Read returns the next frame, resized to the processing size. If no frame
// can be decoded within the timeout budget, ErrReadTimeout is returned and
// the handle is left open for the caller to retry or recover.
func (s *CaptureSource) Read() (Frame, error) {
	deadline := time.Now().Add(s.timeout)
	for {
		if s.cap != nil && s.cap.Read(&s.buf) && !s.buf.Empty() {
			var img gocv.Mat
			if s.size.X > 0 && s.size.Y > 0 {
				img = gocv.NewMat()
				gocv.Resize(s.buf, &img, s.size, 0, 0, gocv.InterpolationLinear)
			} else {
				img = s.buf.Clone()
			}
			s.seq++
			return Frame{Image: img, Seq: s.seq, Timestamp: time.Now()}, nil
		}
		if !time.Now().Before(deadline) {
			return Frame{}, ErrReadTimeout
		}
		time.Sleep(readRetryDelay)
	}
}

// Reopen performs a single close-and-open cycle against the original locator.
// The sequence counter keeps counting across reconnects.
func (s *CaptureSource) Reopen() error {
	if s.cap != nil {
		s.cap.Close()
		s.cap = nil
	}

	cap, err := gocv.OpenVideoCapture(s.locator)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, s.locator, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("%w: %s", ErrSourceUnavailable, s.locator)
	}

	s.cap = cap
	return nil
}

// Close releases the capture handle and the read buffer. Safe to call more
// than once.
func (s *CaptureSource) Close() error {
	if s.cap != nil {
		if err := s.cap.Close(); err != nil {
			return err
		}
		s.cap = nil
	}
	if !s.closed {
		s.closed = true
		s.buf.Close()
	}
	return nil
}
