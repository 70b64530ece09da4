package detector

import "strings"

// CleanFillerWords removes the configured filler words from a transcript.
// Matching is case-insensitive and whole-word; multi-word fillers ("you
// know") match as phrases. Surrounding whitespace is collapsed. The timing
// state machine never consults this list — it exists purely for post-hoc text
// cleanup.
func (d *Detector) CleanFillerWords(text string) string {
	d.mu.Lock()
	fillers := append([]string(nil), d.cfg.FillerWords...)
	d.mu.Unlock()

	if len(fillers) == 0 || text == "" {
		return text
	}

	single := make(map[string]struct{})
	var phrases [][]string
	for _, f := range fillers {
		parts := strings.Fields(strings.ToLower(f))
		switch len(parts) {
		case 0:
		case 1:
			single[parts[0]] = struct{}{}
		default:
			phrases = append(phrases, parts)
		}
	}

	words := strings.Fields(text)
	var kept []string
	for i := 0; i < len(words); i++ {
		if n := matchPhrase(words, i, phrases); n > 0 {
			i += n - 1
			continue
		}
		if _, ok := single[normalizeWord(words[i])]; ok {
			continue
		}
		kept = append(kept, words[i])
	}
	return strings.Join(kept, " ")
}

// matchPhrase reports the length of the first phrase matching words[i:], or 0.
func matchPhrase(words []string, i int, phrases [][]string) int {
	for _, p := range phrases {
		if i+len(p) > len(words) {
			continue
		}
		matched := true
		for j, part := range p {
			if normalizeWord(words[i+j]) != part {
				matched = false
				break
			}
		}
		if matched {
			return len(p)
		}
	}
	return 0
}

// normalizeWord lowercases and strips trailing punctuation for comparison.
func normalizeWord(w string) string {
	return strings.ToLower(strings.Trim(w, ".,!?;:"))
}
