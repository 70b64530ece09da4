// Package audio defines the capture-side types shared by the Earshot pipeline:
// the Frame unit of transport, the Source interface implemented by capture
// backends, and sample-level helpers (RMS, mono mixdown, decimation, WAV
// encoding).
//
// The capture device layer itself is out of scope — a Source is expected to be
// backed by an OS capture API, a file reader, or a test double. Earshot only
// consumes the resulting Frames.
package audio

import "time"

// Frame represents a single window of captured audio flowing through the
// pipeline. Frames are the atomic unit handed to the speech detector once per
// capture tick.
type Frame struct {
	// Samples is mono float32 PCM in the range [-1, 1].
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for analysis upload).
	SampleRate int

	// Timestamp marks when this frame was captured.
	Timestamp time.Time
}

// Duration returns the wall time covered by the frame's samples.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Source is implemented by capture backends. Read returns the samples
// accumulated since the previous call, or ok == false when the source has no
// new audio this tick. A closed source returns ok == false forever.
//
// Read is called from a single goroutine at the capture poll cadence; a Source
// does not need to be safe for concurrent Read calls.
type Source interface {
	// Read drains buffered capture data into a Frame.
	Read() (frame Frame, ok bool)

	// Close stops the capture stream and releases device resources. Calling
	// Close more than once is safe and returns nil.
	Close() error
}
