package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/auditory-labs/earshot/internal/intel"
	"github.com/auditory-labs/earshot/internal/session"
)

// Recorder accumulates validated analysis output into the active session and
// keeps the knowledge graph current. All exported methods are safe for
// concurrent use.
//
// The recorder writes through the session store lazily: Record only marks the
// session dirty, and Autosave/Flush perform the actual disk writes so the
// analysis worker never blocks on I/O.
type Recorder struct {
	mu    sync.Mutex
	store *session.Store
	sess  *session.Session
	graph *intel.Graph
	dirty bool
}

// NewRecorder creates a recorder with a fresh session of the given title.
func NewRecorder(store *session.Store, title string) *Recorder {
	return &Recorder{
		store: store,
		sess:  session.New(title),
		graph: intel.NewGraph(),
	}
}

// Record appends one analysis output as a transcript entry recorded at the
// given time and applies its graph updates.
func (r *Recorder) Record(out *intel.Output, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sess.AddTranscript(session.TranscriptEntry{
		Timestamp:  at,
		Speaker:    out.Speaker,
		Text:       out.Transcript,
		Tone:       out.Tone,
		Category:   out.Category,
		Confidence: out.Confidence,
	})

	if len(out.GraphUpdates) > 0 {
		r.graph.ApplyAll(out.GraphUpdates)
		nodes, edges := r.graph.Snapshot()
		r.sess.SetGraph(nodes, edges)
	}

	r.dirty = true
}

// Flush persists the session if anything changed since the last save.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.dirty {
		return nil
	}
	if _, err := r.store.Save(r.sess); err != nil {
		return err
	}
	r.dirty = false
	return nil
}

// Autosave persists the session at the given interval until ctx is cancelled.
// The final save on shutdown is the caller's responsibility (Flush).
func (r *Recorder) Autosave(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				slog.Warn("session autosave failed", "err", err)
			}
		}
	}
}

// Session returns the active session. Callers must not mutate it.
func (r *Recorder) Session() *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess
}

// Graph returns the live knowledge graph.
func (r *Recorder) Graph() *intel.Graph {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.graph
}
