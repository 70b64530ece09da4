// Package detector implements the adaptive speech buffering engine: it turns
// a raw volume/sample stream into discrete chunk emissions that justify a
// metered network request.
//
// A Detector classifies each incoming sample window as speech or silence by
// RMS amplitude, accumulates timing state, and emits a Chunk when either an
// end-of-utterance is detected (enough speech followed by enough silence) or
// the buffer reaches its maximum length. Spans shorter than the configured
// minimum are never emitted.
//
// Process calls must be applied in arrival order from a single goroutine:
// durations are derived from wall-clock deltas between calls, so out-of-order
// or batched delivery would corrupt the accounting. The internal mutex guards
// against concurrent observers, not concurrent producers.
package detector

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auditory-labs/earshot/internal/kvstore"
	"github.com/auditory-labs/earshot/pkg/audio"
)

// configKey is the kvstore key under which the merged config is persisted.
const configKey = "detector/config"

// Detector is the adaptive speech buffering engine. Create one per recording
// session source with New.
type Detector struct {
	mu    sync.Mutex
	cfg   Config
	state State

	now   func() time.Time
	store kvstore.Store

	running     bool
	lastTick    time.Time
	bufferStart time.Time
	samples     []float32
	sampleRate  int

	totalChunkDur time.Duration

	subs      map[int]func(State)
	chunkSubs map[int]func(Chunk)
	nextSubID int
}

// Option configures a Detector at construction.
type Option func(*Detector)

// WithClock injects the time source. Tests use this to simulate arbitrary
// tick spacing without real sleeps.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithStore injects the persistence capability. When set, Configure writes
// the merged config immediately and New restores any previously persisted
// config over the supplied defaults.
func WithStore(s kvstore.Store) Option {
	return func(d *Detector) { d.store = s }
}

// New creates a Detector with the given timing policy. If a store is attached
// and holds a previously persisted config, the persisted values win over cfg.
func New(cfg Config, opts ...Option) *Detector {
	d := &Detector{
		cfg:       cfg,
		now:       time.Now,
		subs:      make(map[int]func(State)),
		chunkSubs: make(map[int]func(Chunk)),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.store != nil {
		if raw, err := d.store.Get(context.Background(), configKey); err == nil {
			var saved Config
			if err := json.Unmarshal(raw, &saved); err == nil {
				d.cfg = saved
			} else {
				slog.Warn("detector: ignoring corrupt persisted config", "err", err)
			}
		}
	}
	return d
}

// Config returns a copy of the current configuration.
func (d *Detector) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	cfg := d.cfg
	cfg.FillerWords = append([]string(nil), d.cfg.FillerWords...)
	return cfg
}

// Configure merges the patch into the current config and persists the result
// immediately when a store is attached.
func (d *Detector) Configure(p Patch) error {
	d.mu.Lock()
	d.cfg.apply(p)
	cfg := d.cfg
	store := d.store
	d.mu.Unlock()

	if store == nil {
		return nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return store.Set(context.Background(), configKey, raw)
}

// Start clears all per-buffer accumulators and begins a session. Counters
// (ChunksSent, totals) survive; use Reset to clear those.
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = true
	// Anchor the tick clock so the first Process call carries a real delta.
	d.lastTick = d.now()
	d.clearBufferLocked()
	d.state.Speaking = false
	d.state.Confidence = 0
}

// Stop flushes any in-progress buffer whose length satisfies the minimum
// chunk duration as one final chunk, then idles. Buffered speech is never
// silently discarded while it is long enough to matter.
func (d *Detector) Stop() {
	d.mu.Lock()
	d.running = false
	chunk, emitted := d.flushLocked()
	snapshot := d.state
	d.mu.Unlock()

	if emitted {
		d.notifyChunk(chunk)
	}
	d.notifyState(snapshot)
}

// ForceFlush performs the same flush as Stop without ending the session.
func (d *Detector) ForceFlush() {
	d.mu.Lock()
	chunk, emitted := d.flushLocked()
	snapshot := d.state
	d.mu.Unlock()

	if emitted {
		d.notifyChunk(chunk)
	}
	d.notifyState(snapshot)
}

// Reset clears the monotonic counters in addition to the buffer state.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearBufferLocked()
	d.state = State{}
	d.totalChunkDur = 0
	d.lastTick = d.now()
}

// Process classifies a raw sample window by its RMS amplitude and advances
// the buffering state machine. It reports whether the window was classified
// as speech.
func (d *Detector) Process(frame audio.Frame) bool {
	return d.step(audio.RMS(frame.Samples), frame.Samples, frame.SampleRate)
}

// ProcessLevel is the scalar entry point for capture layers that pre-reduce
// each window to a single RMS-like volume. No raw payload is accumulated.
func (d *Detector) ProcessLevel(level float64) bool {
	return d.step(level, nil, 0)
}

// Subscribe registers a listener that receives a state snapshot synchronously
// after every Process call (and after flushes). The returned function removes
// the listener.
func (d *Detector) Subscribe(fn func(State)) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSubID
	d.nextSubID++
	d.subs[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs, id)
	}
}

// OnChunk registers a listener invoked once per emitted Chunk. The returned
// function removes the listener.
func (d *Detector) OnChunk(fn func(Chunk)) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSubID
	d.nextSubID++
	d.chunkSubs[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.chunkSubs, id)
	}
}

// State returns a snapshot of the current detector state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stats returns aggregate session statistics.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Stats{ChunksSent: d.state.ChunksSent}
	total := d.state.TotalSpeech + d.state.TotalSilence
	if total > 0 {
		s.SpeechRatio = float64(d.state.TotalSpeech) / float64(total)
	}
	if d.state.ChunksSent > 0 {
		s.AvgChunkDuration = d.totalChunkDur / time.Duration(d.state.ChunksSent)
	}
	return s
}

// step is the single state-machine transition executed per capture tick.
func (d *Detector) step(level float64, samples []float32, sampleRate int) bool {
	d.mu.Lock()

	if !d.running {
		speaking := level > d.cfg.SilenceThreshold
		d.mu.Unlock()
		return speaking
	}

	// Malformed input must never crash a live recording session: treat it as
	// silence instead.
	if math.IsNaN(level) || level < 0 {
		level = 0
	}

	now := d.now()
	var dt time.Duration
	if !d.lastTick.IsZero() {
		dt = now.Sub(d.lastTick)
		if dt < 0 {
			dt = 0
		}
	}
	d.lastTick = now

	speaking := level > d.cfg.SilenceThreshold
	d.state.Speaking = speaking
	d.state.Confidence = confidence(level, d.cfg.SilenceThreshold)

	if speaking {
		d.state.SpeechDuration += dt
		d.state.SilenceDuration = 0
		d.state.TotalSpeech += dt
		if d.bufferStart.IsZero() {
			// Open the span at the point the previous tick observed, so the
			// delta that produced this first speech classification is counted
			// in both SpeechDuration and BufferDuration.
			d.bufferStart = now.Add(-dt)
		}
		d.appendLocked(samples, sampleRate)
		d.state.BufferDuration = now.Sub(d.bufferStart)
	} else {
		d.state.SilenceDuration += dt
		d.state.TotalSilence += dt
		if !d.bufferStart.IsZero() {
			// Trailing silence still counts toward chunk length so the
			// end-of-utterance test below can complete the span.
			d.appendLocked(samples, sampleRate)
			d.state.BufferDuration = now.Sub(d.bufferStart)
		}
	}

	chunk, emitted := d.maybeEmitLocked(now)
	snapshot := d.state
	d.mu.Unlock()

	if emitted {
		d.notifyChunk(chunk)
	}
	d.notifyState(snapshot)
	return speaking
}

// maybeEmitLocked applies the completion test and, when it passes, builds the
// chunk and atomically clears the buffer. Must be called with d.mu held.
func (d *Detector) maybeEmitLocked(now time.Time) (Chunk, bool) {
	if d.bufferStart.IsZero() || d.state.BufferDuration < d.cfg.MinChunkDuration {
		return Chunk{}, false
	}

	utteranceEnd := d.state.SpeechDuration >= d.cfg.MinSpeechDuration &&
		d.state.SilenceDuration >= d.cfg.SilenceDuration
	forced := d.cfg.MaxChunkDuration > 0 && d.state.BufferDuration >= d.cfg.MaxChunkDuration

	if !utteranceEnd && !forced {
		return Chunk{}, false
	}
	return d.emitLocked(now), true
}

// flushLocked emits the open buffer if it satisfies the minimum length test.
// Must be called with d.mu held.
func (d *Detector) flushLocked() (Chunk, bool) {
	if d.bufferStart.IsZero() || d.state.BufferDuration < d.cfg.MinChunkDuration {
		d.clearBufferLocked()
		return Chunk{}, false
	}
	end := d.bufferStart.Add(d.state.BufferDuration)
	return d.emitLocked(end), true
}

// emitLocked constructs the chunk from the pre-reset accumulators, then
// clears them. Must be called with d.mu held.
func (d *Detector) emitLocked(end time.Time) Chunk {
	duration := end.Sub(d.bufferStart)
	var ratio float64
	if duration > 0 {
		ratio = float64(d.state.SpeechDuration) / float64(duration)
		if ratio > 1 {
			ratio = 1
		}
	}

	chunk := Chunk{
		ID:          uuid.New(),
		Start:       d.bufferStart,
		End:         end,
		Duration:    duration,
		SpeechRatio: ratio,
		Samples:     d.samples,
		SampleRate:  d.sampleRate,
	}

	d.state.ChunksSent++
	d.totalChunkDur += duration
	d.clearBufferLocked()
	return chunk
}

// clearBufferLocked resets the per-span accumulators so a new span starts
// from a clean state on the next speaking sample. Must be called with d.mu
// held.
func (d *Detector) clearBufferLocked() {
	d.state.SpeechDuration = 0
	d.state.SilenceDuration = 0
	d.state.BufferDuration = 0
	d.bufferStart = time.Time{}
	d.samples = nil
	d.sampleRate = 0
}

// appendLocked accumulates the raw payload. Must be called with d.mu held.
func (d *Detector) appendLocked(samples []float32, sampleRate int) {
	if len(samples) == 0 {
		return
	}
	d.samples = append(d.samples, samples...)
	if sampleRate > 0 {
		d.sampleRate = sampleRate
	}
}

func (d *Detector) notifyState(s State) {
	d.mu.Lock()
	fns := make([]func(State), 0, len(d.subs))
	for _, fn := range d.subs {
		fns = append(fns, fn)
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (d *Detector) notifyChunk(c Chunk) {
	d.mu.Lock()
	fns := make([]func(Chunk), 0, len(d.chunkSubs))
	for _, fn := range d.chunkSubs {
		fns = append(fns, fn)
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

// confidence maps an amplitude to [0, 1] relative to three times the silence
// threshold. A non-positive threshold saturates for any audible level.
func confidence(level, threshold float64) float64 {
	if level <= 0 {
		return 0
	}
	if threshold <= 0 {
		return 1
	}
	c := level / (threshold * 3)
	if c > 1 {
		return 1
	}
	return c
}
