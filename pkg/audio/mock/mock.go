// Package mock provides test doubles for the audio package interfaces.
//
// Use Source to script a sequence of Frames for the capture loop and to
// inspect how many times it was drained.
package mock

import (
	"sync"

	"github.com/auditory-labs/earshot/pkg/audio"
)

// Source is a mock implementation of audio.Source. Frames are returned one per
// Read call in order; once exhausted, Read reports ok == false.
type Source struct {
	mu sync.Mutex

	// Frames is the scripted sequence returned by successive Read calls.
	Frames []audio.Frame

	// ReadCallCount is the number of times Read was called.
	ReadCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	next   int
	closed bool
}

// Read returns the next scripted frame, or ok == false when the script is
// exhausted or the source is closed.
func (s *Source) Read() (audio.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReadCallCount++
	if s.closed || s.next >= len(s.Frames) {
		return audio.Frame{}, false
	}
	f := s.Frames[s.next]
	s.next++
	return f, true
}

// Close records the call and returns CloseErr.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.CloseCallCount++
	return s.CloseErr
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)
