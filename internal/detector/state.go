package detector

import "sync"

// SharedState is the single point of truth for the latest annotated frame and
// statistics. One producer overwrites it (no queue, no backlog); any number
// of readers copy the latest value out under a short read lock, so a slow
// reader never blocks the producer and never observes a torn tuple.
type SharedState struct {
	mu    sync.RWMutex
	frame []byte
	stats Statistics
	seq   uint64
}

// NewSharedState returns an empty SharedState.
func NewSharedState() *SharedState {
	return &SharedState{}
}

// Publish installs a new encoded frame and statistics snapshot, advancing the
// frame sequence. The caller hands over ownership of frame and must not
// modify it afterwards; stats maps are deep-copied.
func (s *SharedState) Publish(frame []byte, stats Statistics) {
	s.mu.Lock()
	s.frame = frame
	s.stats = stats.clone()
	s.seq++
	s.mu.Unlock()
}

// PublishStats overwrites the statistics while keeping the last frame and
// sequence. Used when the pipeline stops and only the state/error fields
// change.
func (s *SharedState) PublishStats(stats Statistics) {
	s.mu.Lock()
	s.stats = stats.clone()
	s.mu.Unlock()
}

// Frame returns a copy of the latest encoded frame and its sequence number.
// The frame is nil and the sequence zero until the first publish.
func (s *SharedState) Frame() ([]byte, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.frame == nil {
		return nil, s.seq
	}
	out := make([]byte, len(s.frame))
	copy(out, s.frame)
	return out, s.seq
}

// Stats returns a deep copy of the latest statistics.
func (s *SharedState) Stats() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats.clone()
}
