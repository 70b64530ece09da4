// Package app wires all Earshot subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the capture/analysis loop, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithSource, WithKeyManager, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/auditory-labs/earshot/internal/config"
	"github.com/auditory-labs/earshot/internal/health"
	"github.com/auditory-labs/earshot/internal/kvstore"
	"github.com/auditory-labs/earshot/internal/observe"
	"github.com/auditory-labs/earshot/internal/session"
	"github.com/auditory-labs/earshot/pkg/audio"
	"github.com/auditory-labs/earshot/pkg/detector"
	"github.com/auditory-labs/earshot/pkg/keyring"
	intel "github.com/auditory-labs/earshot/pkg/provider/intel"
)

const (
	// capturePollInterval is the cadence at which the capture loop drains the
	// audio source.
	capturePollInterval = 100 * time.Millisecond

	// chunkQueueSize bounds the emitted-chunk queue between the detector and
	// the analysis worker.
	chunkQueueSize = 16

	// autosaveInterval is how often the recorder persists the session while a
	// run is in progress.
	autosaveInterval = 30 * time.Second

	// httpShutdownTimeout bounds the graceful HTTP server stop.
	httpShutdownTimeout = 5 * time.Second
)

// Providers holds the external collaborators constructed by main.go via the
// config registry. Nil Intel means analysis is not configured and Run fails
// fast.
type Providers struct {
	Intel intel.Provider

	// Source is the audio capture backend. Nil means no capture loop; chunks
	// can still be injected for testing via the detector.
	Source audio.Source
}

// App owns all subsystem lifetimes and orchestrates the capture pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	store    kvstore.Store
	det      *detector.Detector
	keys     *keyring.Manager
	recorder *Recorder
	metrics  *observe.Metrics
	server   *http.Server

	providerName string

	chunks      chan detector.Chunk
	unsubscribe func()

	// keyGaugeLast is the last eligible-key count pushed to the gauge; the
	// pool observer records deltas against it.
	keyGaugeMu   sync.Mutex
	keyGaugeLast int64

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a key-value store instead of opening one from config.
func WithStore(s kvstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithDetector injects a speech detector instead of creating one from config.
func WithDetector(d *detector.Detector) Option {
	return func(a *App) { a.det = d }
}

// WithKeyManager injects a key rotation manager instead of creating one from
// config.
func WithKeyManager(m *keyring.Manager) Option {
	return func(a *App) { a.keys = m }
}

// WithRecorder injects a session recorder instead of creating one from config.
func WithRecorder(r *Recorder) Option {
	return func(a *App) { a.recorder = r }
}

// WithMetrics injects a metrics bundle instead of using the default one.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:          cfg,
		providers:    providers,
		providerName: cfg.Provider.Name,
		chunks:       make(chan detector.Chunk, chunkQueueSize),
	}
	for _, o := range opts {
		o(a)
	}

	if a.providers == nil || a.providers.Intel == nil {
		return nil, errors.New("app: an intel provider is required")
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Key-value store ───────────────────────────────────────────────
	if err := a.initStore(); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Speech detector ───────────────────────────────────────────────
	if a.det == nil {
		a.det = detector.New(cfg.Detector.ToDetector(), detector.WithStore(a.store))
	}

	// ── 3. Key rotation manager ──────────────────────────────────────────
	if err := a.initKeys(); err != nil {
		return nil, fmt.Errorf("app: init keys: %w", err)
	}

	// ── 4. Session recorder ──────────────────────────────────────────────
	if err := a.initRecorder(); err != nil {
		return nil, fmt.Errorf("app: init recorder: %w", err)
	}

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	a.initServer()

	// ── 6. Chunk subscription ────────────────────────────────────────────
	a.unsubscribe = a.det.OnChunk(a.enqueueChunk)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initStore() error {
	if a.store != nil {
		return nil
	}
	if a.cfg.Storage.InMemory {
		a.store = kvstore.NewMemory()
		return nil
	}
	s, err := kvstore.NewBadger(kvstore.BadgerOptions{Dir: a.cfg.Storage.Dir})
	if err != nil {
		return err
	}
	a.store = s
	a.closers = append(a.closers, s.Close)
	return nil
}

func (a *App) initKeys() error {
	if a.keys != nil {
		return nil
	}

	var opts []keyring.Option
	kc := a.cfg.Keys
	if kc.RateLimitCooldown > 0 || kc.QuotaCooldown > 0 {
		rate := kc.RateLimitCooldown.Std()
		if rate == 0 {
			rate = keyring.DefaultRateLimitCooldown
		}
		quota := kc.QuotaCooldown.Std()
		if quota == 0 {
			quota = keyring.DefaultQuotaCooldown
		}
		opts = append(opts, keyring.WithCooldowns(rate, quota))
	}
	if kc.DisableThreshold > 0 {
		opts = append(opts, keyring.WithDisableThreshold(kc.DisableThreshold))
	}

	a.keys = keyring.NewManager(a.store, opts...)

	unsub := a.keys.Subscribe(a.trackEligibleKeys)
	a.closers = append(a.closers, func() error { unsub(); return nil })

	registered := len(a.keys.Keys())
	for _, entry := range kc.Entries {
		secret := entry.ResolveSecret()
		if secret == "" {
			slog.Warn("skipping key with empty secret", "name", entry.Name)
			continue
		}
		if hasSecret(a.keys.Keys(), secret) {
			continue // restored from the store on a previous run
		}
		k := a.keys.AddKey(secret, entry.Name)
		slog.Info("registered API key", "name", k.DisplayName, "primary", k.Primary)
	}
	if registered == 0 && len(a.keys.Keys()) == 0 {
		slog.Warn("no API keys configured; analysis will fail until keys are added")
	}

	a.keys.SetShuffleMode(kc.Shuffle)
	a.trackEligibleKeys(a.keys.Keys()) // keys restored from the store never notify
	return nil
}

// trackEligibleKeys keeps the eligible-keys gauge in step with the pool. The
// manager calls it with a snapshot after every state change; only the delta
// from the previous count is recorded.
func (a *App) trackEligibleKeys(keys []keyring.Key) {
	var eligible int64
	for _, k := range keys {
		if !k.Disabled && !k.RateLimited {
			eligible++
		}
	}

	a.keyGaugeMu.Lock()
	delta := eligible - a.keyGaugeLast
	a.keyGaugeLast = eligible
	a.keyGaugeMu.Unlock()

	if delta != 0 {
		a.metrics.EligibleKeys.Add(context.Background(), delta)
	}
}

func (a *App) initRecorder() error {
	if a.recorder != nil {
		return nil
	}
	store, err := session.NewStore(a.cfg.Sessions.Dir)
	if err != nil {
		return err
	}
	a.recorder = NewRecorder(store, a.cfg.Sessions.Title)
	return nil
}

// initServer builds the HTTP surface: Prometheus metrics plus liveness and
// readiness probes, all behind the request-duration middleware.
func (a *App) initServer() {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(
		health.StorageChecker(a.store),
		health.KeyPoolChecker(a.keys),
	).Register(mux)

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// enqueueChunk hands an emitted chunk to the analysis worker. The queue is
// bounded so a stalled upstream can never block the capture tick; overflow is
// counted as a discard rather than silently lost.
func (a *App) enqueueChunk(c detector.Chunk) {
	select {
	case a.chunks <- c:
	default:
		slog.Warn("chunk queue full, dropping chunk", "chunk_id", c.ID, "duration", c.Duration)
		a.metrics.RecordDiscard(context.Background(), "queue_full")
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run executes the pipeline until ctx is cancelled or a fatal key-pool error
// occurs. It probes for a working key, starts the detector, and runs the
// capture loop, analysis worker, and HTTP server concurrently. The stop path
// flushes the detector so buffered speech from the final utterance is still
// analyzed and recorded.
func (a *App) Run(ctx context.Context) error {
	// ── Pre-flight key probe ─────────────────────────────────────────────
	if err := a.preflight(ctx); err != nil {
		return err
	}

	a.det.Start()

	g, runCtx := errgroup.WithContext(ctx)

	// Capture loop: drain the source once per tick and feed the detector.
	if a.providers.Source != nil {
		g.Go(func() error {
			a.captureLoop(runCtx)
			return nil
		})
	} else {
		g.Go(func() error {
			<-runCtx.Done()
			a.finishCapture()
			return nil
		})
	}

	// Analysis worker: drains the chunk queue until the capture side closes
	// it. Analysis of the final flushed chunk must survive ctx cancellation,
	// so calls inside use a detached per-call timeout.
	g.Go(func() error {
		return a.chunkWorker(runCtx)
	})

	// HTTP surface.
	g.Go(func() error {
		return a.serve(runCtx)
	})

	// Session autosave.
	g.Go(func() error {
		a.recorder.Autosave(runCtx, autosaveInterval)
		return nil
	})

	slog.Info("earshot running",
		"listen_addr", a.cfg.Server.ListenAddr,
		"provider", a.providerName,
		"keys", len(a.keys.Keys()),
	)

	err := g.Wait()

	if saveErr := a.recorder.Flush(); saveErr != nil {
		slog.Warn("final session save failed", "err", saveErr)
	}

	if err != nil {
		return err
	}
	return ctx.Err()
}

// preflight sweeps the key pool for a working key before capture starts.
func (a *App) preflight(ctx context.Context) error {
	outcome := a.keys.FirstWorkingKey(ctx, keyring.ProberFunc(a.providers.Intel.Probe))
	switch outcome.Status {
	case keyring.ProbeOK:
		slog.Info("key probe succeeded", "key", outcome.Key.DisplayName, "tried", outcome.Tried)
		return nil
	case keyring.ProbeNoKeys:
		return errors.New("app: no API keys configured; add at least one key before starting a session")
	case keyring.ProbeAllRateLimited:
		// Cooldowns expire on their own; start anyway and let the worker
		// pick up the first key that recovers.
		slog.Warn("all keys rate limited at startup, proceeding with cooldowns pending", "tried", outcome.Tried)
		return nil
	case keyring.ProbeCancelled:
		return fmt.Errorf("app: startup aborted during key probe: %w", ctx.Err())
	default:
		return fmt.Errorf("app: no working API key found (%d probed); check key validity and network access", outcome.Tried)
	}
}

// captureLoop polls the source at the capture cadence and feeds every frame
// to the detector. On ctx cancellation it flushes the detector and closes the
// chunk queue so the worker can drain the final chunk.
func (a *App) captureLoop(ctx context.Context) {
	ticker := time.NewTicker(capturePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.finishCapture()
			return
		case <-ticker.C:
			frame, ok := a.providers.Source.Read()
			if !ok {
				continue
			}
			a.det.Process(frame)
		}
	}
}

// finishCapture stops the detector (flushing any buffered speech through the
// chunk callback) and closes the queue.
func (a *App) finishCapture() {
	a.det.Stop()
	a.unsubscribe()
	close(a.chunks)
}

// serve runs the HTTP server and shuts it down when ctx is cancelled.
func (a *App) serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
		return nil
	}
}

// Detector exposes the speech detector for runtime tuning (config hot reload).
func (a *App) Detector() *detector.Detector { return a.det }

// KeyManager exposes the rotation manager for runtime key administration.
func (a *App) KeyManager() *keyring.Manager { return a.keys }

// Recorder exposes the session recorder for export access.
func (a *App) Recorder() *Recorder { return a.recorder }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.providers.Source != nil {
			if err := a.providers.Source.Close(); err != nil {
				slog.Warn("audio source close error", "err", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// hasSecret reports whether any key in the slice carries this secret.
func hasSecret(keys []keyring.Key, secret string) bool {
	for _, k := range keys {
		if k.Secret == secret {
			return true
		}
	}
	return false
}
