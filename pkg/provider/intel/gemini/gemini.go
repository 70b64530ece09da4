// Package gemini provides an intel provider backed by the Google Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/auditory-labs/earshot/pkg/audio"
	"github.com/auditory-labs/earshot/pkg/provider/intel"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "gemini-2.5-flash-preview-09-2025"

// systemPrompt constrains the model to passive analysis with a strict JSON
// output contract. The downstream parser depends on the field names and the
// tone/category vocabularies listed here.
const systemPrompt = `You are a PASSIVE MEETING INTELLIGENCE ENGINE.

OUTPUT FORMAT - JSON ONLY:
{"transcript":"exact text","speaker":"Speaker 1","tone":"NEUTRAL","category":["INFO"],"confidence":0.85}

RULES:
- JSON only, no markdown
- Transcribe accurately (English/Urdu/Hindi)
- tone: NEUTRAL|URGENT|FRUSTRATED|EXCITED|POSITIVE|NEGATIVE
- category: TASK|DECISION|DEADLINE|QUERY|ACTION_ITEM|RISK|INFO
- If silence/unclear: {"status":"silence"}`

// Provider implements intel.Provider using the Gemini generateContent API.
type Provider struct {
	model string

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// New constructs a Gemini intel Provider. Credentials are supplied per call;
// clients are cached per secret.
func New(opts ...Option) *Provider {
	p := &Provider{
		model:   DefaultModel,
		clients: make(map[string]*genai.Client),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Analyze implements intel.Provider.
func (p *Provider) Analyze(ctx context.Context, secret string, req intel.Request) (*intel.Result, error) {
	if len(req.Samples) == 0 {
		return nil, fmt.Errorf("gemini: empty audio chunk")
	}
	client, err := p.client(ctx, secret)
	if err != nil {
		return nil, err
	}

	wav := audio.EncodeWAV(req.Samples, req.SampleRate)
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			genai.NewPartFromText("Analyze this audio:"),
			genai.NewPartFromBytes(wav, "audio/wav"),
		},
	}}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(systemPrompt)},
		},
		Temperature:     genai.Ptr[float32](0.1),
		MaxOutputTokens: 512,
	}

	resp, err := client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return nil, wrapErr(err)
	}
	text, err := firstText(resp)
	if err != nil {
		return nil, err
	}
	return &intel.Result{Raw: text}, nil
}

// Probe implements intel.Provider with a minimal text-only generateContent
// round trip.
func (p *Provider) Probe(ctx context.Context, secret string) error {
	client, err := p.client(ctx, secret)
	if err != nil {
		return err
	}
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{genai.NewPartFromText("ping")},
	}}
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: 8,
	}
	if _, err := client.Models.GenerateContent(ctx, p.model, contents, cfg); err != nil {
		return wrapErr(err)
	}
	return nil
}

func (p *Provider) client(ctx context.Context, secret string) (*genai.Client, error) {
	if secret == "" {
		return nil, fmt.Errorf("gemini: secret must not be empty")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[secret]; ok {
		return c, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: secret})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	p.clients[secret] = c
	return c, nil
}

func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini: no candidates in response")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return "", fmt.Errorf("gemini: candidate has no content")
	}
	for _, part := range cand.Content.Parts {
		if part.Text != "" {
			return part.Text, nil
		}
	}
	return "", fmt.Errorf("gemini: candidate has no text part")
}

// wrapErr converts SDK errors into *intel.APIError where an upstream status
// is available, leaving context errors untouched.
func wrapErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &intel.APIError{StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	return fmt.Errorf("gemini: %w", err)
}
