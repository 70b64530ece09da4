// Package intel validates and applies the structured intelligence payloads
// produced by the analysis backends.
//
// The backends are instructed to answer with a single JSON object; this
// package is the trust boundary that turns that untrusted text into a typed
// Output. Responses that do not parse as JSON are treated as a bare
// transcript, which covers transcription-only backends.
package intel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrSilence marks a response in which the model heard nothing usable.
// Callers drop the chunk instead of recording an empty entry.
var ErrSilence = errors.New("intel: model reported silence")

// validTones is the closed tone vocabulary the prompt allows.
var validTones = map[string]bool{
	"URGENT": true, "FRUSTRATED": true, "EXCITED": true,
	"POSITIVE": true, "NEGATIVE": true, "HESITANT": true,
	"DOMINANT": true, "EMPATHETIC": true, "NEUTRAL": true,
}

// validCategories is the closed category vocabulary the prompt allows.
var validCategories = map[string]bool{
	"TASK": true, "DECISION": true, "DEADLINE": true, "QUERY": true,
	"ACTION_ITEM": true, "RISK": true, "INFO": true,
	"SENTIMENT": true, "URGENCY": true, "INTERRUPTION": true,
	"AGREEMENT": true, "DISAGREEMENT": true, "OFF_TOPIC": true,
	"EMOTION_SHIFT": true, "DOMINANCE_SHIFT": true, "EMPATHY_GAP": true,
	"TOPIC_DRIFT": true,
}

// Entity is a named entity the model located in the transcript.
type Entity struct {
	Text       string   `json:"text"`
	Type       string   `json:"type"`
	StartMs    *int64   `json:"start_ms,omitempty"`
	EndMs      *int64   `json:"end_ms,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// GraphUpdate is one relation the model asserts between two entities.
type GraphUpdate struct {
	NodeA        string   `json:"node_a"`
	Relation     string   `json:"relation"`
	NodeB        string   `json:"node_b"`
	Weight       *float64 `json:"weight,omitempty"`
	Directional  *bool    `json:"directional,omitempty"`
	ToneModifier *float64 `json:"tone_modifier,omitempty"`
}

// Output is one validated analysis result.
type Output struct {
	Transcript   string        `json:"transcript"`
	Speaker      string        `json:"speaker"`
	Tone         string        `json:"tone,omitempty"`
	Category     []string      `json:"category,omitempty"`
	Confidence   float64       `json:"confidence"`
	Entities     []Entity      `json:"entities,omitempty"`
	GraphUpdates []GraphUpdate `json:"graph_updates,omitempty"`
}

// rawOutput is the wire shape, including the alternate silence form.
type rawOutput struct {
	Status string `json:"status"`
	Output
}

// ParseOutput validates raw model text into an Output.
//
// Returns ErrSilence when the model reported silence. Non-JSON responses are
// accepted as a plain transcript with neutral defaults. JSON responses with
// out-of-vocabulary tone or category values are rejected.
func ParseOutput(raw string) (*Output, error) {
	text := stripFences(raw)
	if text == "" {
		return nil, ErrSilence
	}

	var parsed rawOutput
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		// Transcription-only backends answer with the spoken text itself.
		if strings.HasPrefix(text, "{") {
			return nil, fmt.Errorf("intel: malformed response: %w", err)
		}
		return &Output{Transcript: text, Speaker: "Speaker 1", Confidence: 0.5}, nil
	}

	if strings.EqualFold(parsed.Status, "silence") {
		return nil, ErrSilence
	}
	if strings.TrimSpace(parsed.Transcript) == "" {
		return nil, ErrSilence
	}

	out := parsed.Output
	if out.Tone != "" && !validTones[out.Tone] {
		return nil, fmt.Errorf("intel: invalid tone %q", out.Tone)
	}
	for _, c := range out.Category {
		if !validCategories[c] {
			return nil, fmt.Errorf("intel: invalid category %q", c)
		}
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return nil, fmt.Errorf("intel: confidence %v out of range", out.Confidence)
	}
	if out.Speaker == "" {
		out.Speaker = "Speaker 1"
	}
	return &out, nil
}

// stripFences removes a surrounding markdown code fence that models emit
// despite instructions, then trims whitespace.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.HasPrefix(s, "\n") {
		// Drop a language tag like "json" on the fence line.
		first := s[:i]
		if len(first) <= 10 && !strings.ContainsAny(first, "{}") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
