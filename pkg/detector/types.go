package detector

import (
	"time"

	"github.com/google/uuid"
)

// Config holds the timing policy for the speech activity detector. It is
// immutable per session; Configure replaces fields through a Patch and
// persists the result immediately.
type Config struct {
	// MinSpeechDuration is the accumulated speech required before an
	// end-of-utterance silence can close a chunk.
	MinSpeechDuration time.Duration `json:"min_speech_duration"`

	// SilenceDuration is the trailing silence that marks end of utterance.
	SilenceDuration time.Duration `json:"silence_duration"`

	// MinChunkDuration rejects spans shorter than this outright; no chunk
	// below this length is ever emitted.
	MinChunkDuration time.Duration `json:"min_chunk_duration"`

	// MaxChunkDuration forces a flush regardless of silence. Zero disables
	// the forced flush.
	MaxChunkDuration time.Duration `json:"max_chunk_duration"`

	// SilenceThreshold is the RMS amplitude at or below which a sample window
	// is classified as silence.
	SilenceThreshold float64 `json:"silence_threshold"`

	// FillerWords are removed from transcripts by CleanFillerWords. They play
	// no part in the timing state machine.
	FillerWords []string `json:"filler_words"`
}

// DefaultConfig returns the timing policy used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MinSpeechDuration: 1 * time.Second,
		SilenceDuration:   2 * time.Second,
		MinChunkDuration:  1 * time.Second,
		MaxChunkDuration:  30 * time.Second,
		SilenceThreshold:  0.01,
		FillerWords:       []string{"um", "uh", "hmm", "like", "you know"},
	}
}

// Patch carries a partial configuration update. Nil fields leave the current
// value untouched.
type Patch struct {
	MinSpeechDuration *time.Duration `json:"min_speech_duration,omitempty"`
	SilenceDuration   *time.Duration `json:"silence_duration,omitempty"`
	MinChunkDuration  *time.Duration `json:"min_chunk_duration,omitempty"`
	MaxChunkDuration  *time.Duration `json:"max_chunk_duration,omitempty"`
	SilenceThreshold  *float64       `json:"silence_threshold,omitempty"`
	FillerWords       []string       `json:"filler_words,omitempty"`
}

// Apply returns a copy of c with p merged in.
func (c Config) Apply(p Patch) Config {
	c.apply(p)
	return c
}

// apply merges p into c.
func (c *Config) apply(p Patch) {
	if p.MinSpeechDuration != nil {
		c.MinSpeechDuration = *p.MinSpeechDuration
	}
	if p.SilenceDuration != nil {
		c.SilenceDuration = *p.SilenceDuration
	}
	if p.MinChunkDuration != nil {
		c.MinChunkDuration = *p.MinChunkDuration
	}
	if p.MaxChunkDuration != nil {
		c.MaxChunkDuration = *p.MaxChunkDuration
	}
	if p.SilenceThreshold != nil {
		c.SilenceThreshold = *p.SilenceThreshold
	}
	if p.FillerWords != nil {
		c.FillerWords = append([]string(nil), p.FillerWords...)
	}
}

// State is the detector's mutable per-session state. Subscribers always
// receive copies; the detector never hands out a live reference.
type State struct {
	// Speaking is the classification of the most recent sample window.
	Speaking bool

	// SpeechDuration is accumulated speech time since the buffer opened.
	SpeechDuration time.Duration

	// SilenceDuration is accumulated silence since speech last paused. It
	// resets to zero whenever speech resumes.
	SilenceDuration time.Duration

	// BufferDuration is the total span of the open buffer. Zero iff no chunk
	// is currently accumulating. SpeechDuration never exceeds it.
	BufferDuration time.Duration

	// ChunksSent counts emitted chunks. Reset only by Reset.
	ChunksSent int

	// TotalSpeech and TotalSilence accumulate across chunks. Reset only by
	// Reset.
	TotalSpeech  time.Duration
	TotalSilence time.Duration

	// Confidence is min(1, amplitude / (threshold * 3)) for the most recent
	// sample window.
	Confidence float64
}

// Chunk is a contiguous span of buffered audio judged ready to send.
// Constructed at emission time and immutable thereafter; ownership passes to
// the consumer.
type Chunk struct {
	ID    uuid.UUID
	Start time.Time
	End   time.Time

	// Duration is End.Sub(Start).
	Duration time.Duration

	// SpeechRatio is the fraction of the chunk classified as speech, computed
	// from the pre-reset accumulators.
	SpeechRatio float64

	// Samples is the raw mono PCM payload. Empty when the detector was fed
	// pre-reduced scalar levels instead of raw windows.
	Samples []float32

	// SampleRate of Samples in Hz. Zero when Samples is empty.
	SampleRate int
}

// Stats aggregates detector activity for display and diagnostics.
type Stats struct {
	// ChunksSent counts emitted chunks since the last Reset.
	ChunksSent int

	// SpeechRatio is TotalSpeech / (TotalSpeech + TotalSilence), or zero when
	// nothing has been processed.
	SpeechRatio float64

	// AvgChunkDuration is the mean duration of emitted chunks.
	AvgChunkDuration time.Duration
}
