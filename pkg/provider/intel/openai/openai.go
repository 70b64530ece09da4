// Package openai provides an intel provider backed by the OpenAI API.
//
// Unlike the Gemini backend it performs plain speech-to-text: the raw result
// is the transcript itself, and the downstream parser falls back to its
// transcript-only handling.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/auditory-labs/earshot/pkg/audio"
	"github.com/auditory-labs/earshot/pkg/provider/intel"
)

// DefaultModel is the transcription model used when none is configured.
const DefaultModel = "whisper-1"

// Provider implements intel.Provider using OpenAI audio transcription.
type Provider struct {
	model   string
	baseURL string
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]oai.Client
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithModel overrides the default transcription model.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// New constructs an OpenAI intel Provider. Credentials are supplied per
// call; clients are cached per secret.
func New(opts ...Option) *Provider {
	p := &Provider{
		model:   DefaultModel,
		clients: make(map[string]oai.Client),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Analyze implements intel.Provider by transcribing the chunk.
func (p *Provider) Analyze(ctx context.Context, secret string, req intel.Request) (*intel.Result, error) {
	if len(req.Samples) == 0 {
		return nil, fmt.Errorf("openai: empty audio chunk")
	}
	client, err := p.client(secret)
	if err != nil {
		return nil, err
	}

	wav := audio.EncodeWAV(req.Samples, req.SampleRate)
	resp, err := client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(p.model),
		File:  oai.File(bytes.NewReader(wav), "chunk.wav", "audio/wav"),
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	return &intel.Result{Raw: resp.Text}, nil
}

// Probe implements intel.Provider by listing models, the cheapest
// authenticated endpoint.
func (p *Provider) Probe(ctx context.Context, secret string) error {
	client, err := p.client(secret)
	if err != nil {
		return err
	}
	if _, err := client.Models.List(ctx); err != nil {
		return wrapErr(err)
	}
	return nil
}

func (p *Provider) client(secret string) (oai.Client, error) {
	if secret == "" {
		return oai.Client{}, fmt.Errorf("openai: secret must not be empty")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[secret]; ok {
		return c, nil
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(secret),
	}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	if p.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: p.timeout,
		}))
	}
	c := oai.NewClient(reqOpts...)
	p.clients[secret] = c
	return c, nil
}

// wrapErr converts SDK errors into *intel.APIError where an upstream status
// is available, leaving context errors untouched.
func wrapErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apierr *oai.Error
	if errors.As(err, &apierr) {
		return &intel.APIError{StatusCode: apierr.StatusCode, Message: apierr.Message}
	}
	return fmt.Errorf("openai: %w", err)
}
