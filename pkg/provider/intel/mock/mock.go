// Package mock provides a test double for the intel.Provider interface.
//
// Use Provider in unit tests to verify that the pipeline submits correct
// requests and to feed controlled responses without a live analysis backend.
// All fields are safe to set before calling any method; mutating them during
// a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    AnalyzeResult: &intel.Result{Raw: `{"status":"silence"}`},
//	}
//	res, err := p.Analyze(ctx, "sk-test", req)
package mock

import (
	"context"
	"sync"

	"github.com/auditory-labs/earshot/pkg/provider/intel"
)

// AnalyzeCall records a single invocation of Analyze.
type AnalyzeCall struct {
	// Ctx is the context passed to Analyze.
	Ctx context.Context
	// Secret is the credential passed to Analyze.
	Secret string
	// Req is the Request passed to Analyze.
	Req intel.Request
}

// ProbeCall records a single invocation of Probe.
type ProbeCall struct {
	// Ctx is the context passed to Probe.
	Ctx context.Context
	// Secret is the credential passed to Probe.
	Secret string
}

// Provider is a mock implementation of intel.Provider.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// AnalyzeResult is returned by Analyze. May be nil (returns nil, nil).
	AnalyzeResult *intel.Result

	// AnalyzeErr, if non-nil, is returned as the error from Analyze.
	AnalyzeErr error

	// AnalyzeFunc, if non-nil, overrides AnalyzeResult/AnalyzeErr entirely.
	AnalyzeFunc func(ctx context.Context, secret string, req intel.Request) (*intel.Result, error)

	// ProbeErr, if non-nil, is returned as the error from Probe.
	ProbeErr error

	// ProbeFunc, if non-nil, overrides ProbeErr entirely.
	ProbeFunc func(ctx context.Context, secret string) error

	// --- Call records (read after test) ---

	// AnalyzeCalls records every invocation of Analyze in order.
	AnalyzeCalls []AnalyzeCall

	// ProbeCalls records every invocation of Probe in order.
	ProbeCalls []ProbeCall
}

var _ intel.Provider = (*Provider)(nil)

// Analyze implements intel.Provider.
func (p *Provider) Analyze(ctx context.Context, secret string, req intel.Request) (*intel.Result, error) {
	p.mu.Lock()
	p.AnalyzeCalls = append(p.AnalyzeCalls, AnalyzeCall{Ctx: ctx, Secret: secret, Req: req})
	fn := p.AnalyzeFunc
	res, err := p.AnalyzeResult, p.AnalyzeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, secret, req)
	}
	return res, err
}

// Probe implements intel.Provider.
func (p *Provider) Probe(ctx context.Context, secret string) error {
	p.mu.Lock()
	p.ProbeCalls = append(p.ProbeCalls, ProbeCall{Ctx: ctx, Secret: secret})
	fn := p.ProbeFunc
	err := p.ProbeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, secret)
	}
	return err
}
