package gemini

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"

	"github.com/auditory-labs/earshot/pkg/provider/intel"
)

// TestFirstText_PicksFirstTextPart checks that the first non-empty text part
// is extracted.
func TestFirstText_PicksFirstTextPart(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Parts: []*genai.Part{
					{Text: ""},
					{Text: `{"status":"silence"}`},
				},
			},
		}},
	}
	got, err := firstText(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"status":"silence"}` {
		t.Errorf("firstText = %q", got)
	}
}

// TestFirstText_NoCandidates checks the empty-response error path.
func TestFirstText_NoCandidates(t *testing.T) {
	if _, err := firstText(&genai.GenerateContentResponse{}); err == nil {
		t.Fatal("expected error for empty response")
	}
}

// TestWrapErr_APIError checks that SDK API errors are converted into
// *intel.APIError with the upstream status.
func TestWrapErr_APIError(t *testing.T) {
	err := wrapErr(genai.APIError{Code: 429, Message: "rate limit exceeded"})
	var apiErr *intel.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("wrapErr returned %T, want *intel.APIError", err)
	}
	if apiErr.StatusCode != 429 {
		t.Errorf("StatusCode = %d, want 429", apiErr.StatusCode)
	}
}

// TestWrapErr_PassesContextErrors checks that cancellation errors are not
// wrapped, so probe loops can match them with errors.Is.
func TestWrapErr_PassesContextErrors(t *testing.T) {
	if err := wrapErr(context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("deadline error was wrapped: %v", err)
	}
	if err := wrapErr(context.Canceled); !errors.Is(err, context.Canceled) {
		t.Errorf("cancel error was wrapped: %v", err)
	}
}
