// Package session persists recorded meeting sessions and renders them into
// exportable formats.
//
// A session is the durable record of one capture run: every validated
// transcript entry plus the knowledge-graph state at save time. Sessions are
// stored as one JSON file each under a sessions directory; writes go through
// a temp-file rename so a crash never leaves a truncated session on disk.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/auditory-labs/earshot/internal/intel"
)

// TranscriptEntry is one analyzed speech chunk within a session.
type TranscriptEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Speaker    string    `json:"speaker_id"`
	Text       string    `json:"text"`
	Tone       string    `json:"tone,omitempty"`
	Category   []string  `json:"category,omitempty"`
	Confidence float64   `json:"confidence"`
}

// Metadata summarizes a session for listings.
type Metadata struct {
	Title            string   `json:"title"`
	DurationSeconds  int64    `json:"duration_seconds"`
	TotalTranscripts int      `json:"total_transcripts"`
	TotalSpeakers    int      `json:"total_speakers"`
	Tags             []string `json:"tags"`
}

// Session is the complete record of one capture run.
type Session struct {
	ID          string            `json:"id"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Transcripts []TranscriptEntry `json:"transcripts"`
	Nodes       []intel.Node      `json:"graph_nodes"`
	Edges       []intel.Edge      `json:"graph_edges"`
	Metadata    Metadata          `json:"metadata"`
}

// New creates an empty session with the given title.
func New(title string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  Metadata{Title: title, Tags: []string{}},
	}
}

// AddTranscript appends an entry and refreshes the derived metadata.
func (s *Session) AddTranscript(e TranscriptEntry) {
	s.Transcripts = append(s.Transcripts, e)
	s.Metadata.TotalTranscripts = len(s.Transcripts)
	speakers := map[string]bool{}
	for _, t := range s.Transcripts {
		speakers[t.Speaker] = true
	}
	s.Metadata.TotalSpeakers = len(speakers)
	s.UpdatedAt = time.Now().UTC()
}

// SetGraph replaces the stored graph state.
func (s *Session) SetGraph(nodes []intel.Node, edges []intel.Edge) {
	s.Nodes = nodes
	s.Edges = edges
	s.UpdatedAt = time.Now().UTC()
}

// Store reads and writes sessions under a directory, one JSON file per
// session.
type Store struct {
	dir string
}

// NewStore opens (and if needed creates) the sessions directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the session atomically and returns the file path.
func (st *Store) Save(s *Session) (string, error) {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("session: marshal: %w", err)
	}
	path := st.path(s.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return "", fmt.Errorf("session: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("session: rename: %w", err)
	}
	return path, nil
}

// Load reads one session by ID.
func (st *Store) Load(id string) (*Session, error) {
	raw, err := os.ReadFile(st.path(id))
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", id, err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", id, err)
	}
	return &s, nil
}

// List returns every readable session, newest update first. Unreadable or
// corrupt files are skipped.
func (st *Store) List() ([]*Session, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return nil, fmt.Errorf("session: read dir: %w", err)
	}
	var sessions []*Session
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(st.dir, e.Name()))
		if err != nil {
			continue
		}
		var s Session
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		sessions = append(sessions, &s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// Delete removes one session by ID.
func (st *Store) Delete(id string) error {
	if err := os.Remove(st.path(id)); err != nil {
		return fmt.Errorf("session: delete %s: %w", id, err)
	}
	return nil
}

func (st *Store) path(id string) string {
	// IDs are UUIDs we generate, but never trust them as path components.
	return filepath.Join(st.dir, filepath.Base(id)+".json")
}
