package detector

import (
	"bytes"
	"sync"
	"testing"
)

func TestSharedState_empty_until_first_publish(t *testing.T) {
	s := NewSharedState()
	frame, seq := s.Frame()
	if frame != nil || seq != 0 {
		t.Errorf("expected no frame before publish, got frame=%v seq=%d", frame, seq)
	}
	if stats := s.Stats(); stats.State != "" || stats.Matches != nil {
		t.Errorf("expected zero stats before publish, got %+v", stats)
	}
}

func TestSharedState_Publish_advances_sequence(t *testing.T) {
	s := NewSharedState()
	s.Publish([]byte("one"), Statistics{State: "running"})
	s.Publish([]byte("two"), Statistics{State: "running"})

	frame, seq := s.Frame()
	if !bytes.Equal(frame, []byte("two")) {
		t.Errorf("expected latest frame, got %q", frame)
	}
	if seq != 2 {
		t.Errorf("expected seq 2 after two publishes, got %d", seq)
	}
}

func TestSharedState_Frame_returns_copy(t *testing.T) {
	s := NewSharedState()
	s.Publish([]byte("frame"), Statistics{})

	first, _ := s.Frame()
	first[0] = 'X'

	second, _ := s.Frame()
	if !bytes.Equal(second, []byte("frame")) {
		t.Errorf("mutating a returned frame leaked into shared state: %q", second)
	}
}

func TestSharedState_Stats_deep_copy(t *testing.T) {
	s := NewSharedState()
	in := Statistics{
		Matches:  map[SlotID]int{"logo1": 5},
		Detected: map[SlotID]bool{"logo1": false},
	}
	s.Publish([]byte("frame"), in)

	// Neither the caller's map nor a reader's map aliases the stored one.
	in.Matches["logo1"] = 999
	out := s.Stats()
	if out.Matches["logo1"] != 5 {
		t.Errorf("publish must copy stats maps, got %d", out.Matches["logo1"])
	}

	out.Matches["logo1"] = 123
	out.Detected["logo1"] = true
	again := s.Stats()
	if again.Matches["logo1"] != 5 || again.Detected["logo1"] {
		t.Errorf("reader mutation leaked into shared state: %+v", again)
	}
}

func TestSharedState_PublishStats_keeps_frame_and_seq(t *testing.T) {
	s := NewSharedState()
	s.Publish([]byte("frame"), Statistics{State: "running"})

	s.PublishStats(Statistics{State: "stopped", LastError: "source gone"})

	frame, seq := s.Frame()
	if !bytes.Equal(frame, []byte("frame")) || seq != 1 {
		t.Errorf("stats-only publish must keep frame and seq, got frame=%q seq=%d", frame, seq)
	}
	stats := s.Stats()
	if stats.State != "stopped" || stats.LastError != "source gone" {
		t.Errorf("stats not replaced: %+v", stats)
	}
}

func TestSharedState_concurrent_readers_never_see_torn_values(t *testing.T) {
	s := NewSharedState()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			b := byte(i % 256)
			frame := bytes.Repeat([]byte{b}, 32)
			s.Publish(frame, Statistics{Matches: map[SlotID]int{"logo1": i}})
		}
	}()

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				frame, _ := s.Frame()
				for _, b := range frame {
					if b != frame[0] {
						t.Error("torn frame observed")
						return
					}
				}
				_ = s.Stats()
			}
		}()
	}

	wg.Wait()
	<-done
}
