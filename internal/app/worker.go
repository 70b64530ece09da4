package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/auditory-labs/earshot/internal/intel"
	"github.com/auditory-labs/earshot/internal/observe"
	"github.com/auditory-labs/earshot/pkg/detector"
	"github.com/auditory-labs/earshot/pkg/keyring"
	intelprov "github.com/auditory-labs/earshot/pkg/provider/intel"
)

// analyzeTimeout bounds a single analysis request, including the retry after
// a key switch.
const analyzeTimeout = 60 * time.Second

// chunkWorker drains the chunk queue until the capture side closes it. A
// fatal key-pool condition (no keys, pool exhausted) stops the run; transient
// analysis failures only drop the affected chunk.
func (a *App) chunkWorker(ctx context.Context) error {
	for c := range a.chunks {
		if err := a.handleChunk(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// handleChunk runs one chunk through key selection, analysis, rotation on
// failure, and recording. Analysis calls are detached from ctx so the final
// flushed chunk survives run cancellation; the per-call timeout still bounds
// them.
func (a *App) handleChunk(ctx context.Context, c detector.Chunk) error {
	a.metrics.RecordChunk(ctx, c.Duration)

	if len(c.Samples) == 0 {
		a.metrics.RecordDiscard(ctx, "empty")
		return nil
	}

	key, ok := a.keys.NextKey()
	if !ok {
		a.metrics.RecordDiscard(ctx, "no_keys")
		return fmt.Errorf("app: %w", keyring.ErrPoolExhausted)
	}

	res, err := a.analyze(ctx, key.Secret, c)
	if err != nil {
		res, err = a.retryAfterFailure(ctx, c, err)
		if err != nil {
			return err
		}
		if res == nil {
			return nil // chunk dropped, session continues
		}
	}

	a.keys.ReportSuccess()
	a.metrics.RecordProviderRequest(ctx, a.providerName, "ok")

	if res == nil {
		a.metrics.RecordDiscard(ctx, "invalid")
		return nil
	}

	out, parseErr := intel.ParseOutput(res.Raw)
	switch {
	case errors.Is(parseErr, intel.ErrSilence):
		a.metrics.RecordDiscard(ctx, "silence")
		return nil
	case parseErr != nil:
		slog.Warn("discarding unparseable analysis output", "chunk_id", c.ID, "err", parseErr)
		a.metrics.RecordDiscard(ctx, "invalid")
		return nil
	}

	out.Transcript = a.det.CleanFillerWords(out.Transcript)
	if out.Transcript == "" {
		a.metrics.RecordDiscard(ctx, "silence")
		return nil
	}

	a.recorder.Record(out, c.End)
	slog.Debug("chunk recorded",
		"chunk_id", c.ID,
		"duration", c.Duration,
		"speaker", out.Speaker,
		"tone", out.Tone,
	)
	return nil
}

// retryAfterFailure classifies an analysis error, rotates the key pool, and
// retries exactly once on whichever key the rotation selected. A nil, nil
// return means the chunk is dropped but the session continues.
func (a *App) retryAfterFailure(ctx context.Context, c detector.Chunk, err error) (*intelprov.Result, error) {
	status, msg, class := classifyAnalyzeError(err)
	a.metrics.RecordProviderError(ctx, a.providerName, class)
	a.metrics.RecordProviderRequest(ctx, a.providerName, "error")

	rot := a.keys.HandleError(status, msg)
	if rot.NewKey.ID == "" {
		return nil, fmt.Errorf("app: %s: %w", rot.Message, keyring.ErrPoolExhausted)
	}
	if rot.Switched {
		a.metrics.RecordKeyRotation(ctx, class)
	}
	slog.Info("analysis failed, rotating", "chunk_id", c.ID, "class", class, "rotation", rot.Message)

	res, retryErr := a.analyze(ctx, rot.NewKey.Secret, c)
	if retryErr == nil {
		return res, nil
	}

	status, msg, class = classifyAnalyzeError(retryErr)
	a.metrics.RecordProviderError(ctx, a.providerName, class)
	a.metrics.RecordProviderRequest(ctx, a.providerName, "error")
	rot = a.keys.HandleError(status, msg)
	if rot.NewKey.ID == "" {
		return nil, fmt.Errorf("app: %s: %w", rot.Message, keyring.ErrPoolExhausted)
	}

	slog.Warn("dropping chunk after retry failure", "chunk_id", c.ID, "class", class, "err", retryErr)
	a.metrics.RecordDiscard(ctx, "failed")
	return nil, nil
}

// analyze submits one chunk to the provider with a detached timeout and
// records the request latency. Each call gets its own client span carrying
// the provider name and audio length.
func (a *App) analyze(ctx context.Context, secret string, c detector.Chunk) (*intelprov.Result, error) {
	ctx, span := observe.StartAnalysisSpan(ctx, a.providerName, c.Duration)
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), analyzeTimeout)
	defer cancel()

	start := time.Now()
	res, err := a.providers.Intel.Analyze(callCtx, secret, intelprov.Request{
		Samples:    c.Samples,
		SampleRate: c.SampleRate,
	})
	a.metrics.AnalyzeDuration.Record(ctx, time.Since(start).Seconds())
	observe.EndSpan(span, err)
	return res, err
}

// classifyAnalyzeError maps an analysis error onto the rotation taxonomy: an
// HTTP status plus message for HandleError, and a short class label for
// metrics. Timeouts and transport failures count as server-side so they feed
// the disable threshold without stamping a cooldown.
func classifyAnalyzeError(err error) (status int, msg string, class string) {
	var apiErr *intelprov.APIError
	switch {
	case errors.As(err, &apiErr):
		switch {
		case apiErr.StatusCode == 429:
			class = "rate_limit"
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			class = "auth"
		case apiErr.StatusCode >= 500:
			class = "server"
		default:
			class = "api"
		}
		return apiErr.StatusCode, apiErr.Message, class
	case errors.Is(err, context.DeadlineExceeded):
		return 504, "request timed out", "timeout"
	default:
		return 503, "network: " + err.Error(), "network"
	}
}
