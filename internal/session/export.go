package session

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
)

// ExportJSON renders the session as indented JSON.
func ExportJSON(s *Session) (string, error) {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("session: export json: %w", err)
	}
	return string(raw), nil
}

// ExportCSV renders the transcript table as CSV with a header row.
func ExportCSV(s *Session) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Timestamp", "Speaker", "Text", "Tone", "Categories", "Confidence"}); err != nil {
		return "", fmt.Errorf("session: export csv: %w", err)
	}
	for _, t := range s.Transcripts {
		rec := []string{
			t.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			t.Speaker,
			t.Text,
			t.Tone,
			strings.Join(t.Category, ";"),
			fmt.Sprintf("%.2f", t.Confidence),
		}
		if err := w.Write(rec); err != nil {
			return "", fmt.Errorf("session: export csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("session: export csv: %w", err)
	}
	return buf.String(), nil
}

// ExportMarkdown renders the session as a human-readable report.
func ExportMarkdown(s *Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.Metadata.Title)
	fmt.Fprintf(&b, "**Session ID**: %s\n", s.ID)
	fmt.Fprintf(&b, "**Created**: %s\n", s.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "**Duration**: %d seconds\n", s.Metadata.DurationSeconds)
	fmt.Fprintf(&b, "**Total Transcripts**: %d\n\n", s.Metadata.TotalTranscripts)

	b.WriteString("## Transcripts\n\n")
	for _, t := range s.Transcripts {
		fmt.Fprintf(&b, "### %s - %s\n", t.Timestamp.Format("15:04:05"), t.Speaker)
		if t.Tone != "" {
			fmt.Fprintf(&b, "**Tone**: %s\n", t.Tone)
		}
		if len(t.Category) > 0 {
			fmt.Fprintf(&b, "**Categories**: %s\n", strings.Join(t.Category, ", "))
		}
		fmt.Fprintf(&b, "\n%s\n\n", t.Text)
	}

	b.WriteString("## Knowledge Graph\n\n")
	fmt.Fprintf(&b, "**Nodes**: %d\n", len(s.Nodes))
	fmt.Fprintf(&b, "**Edges**: %d\n\n", len(s.Edges))
	return b.String()
}
