// Command earshot is the passive meeting intelligence daemon: it captures
// audio, buffers speech into chunks, and submits them for analysis with
// multi-key rotation and failover.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/auditory-labs/earshot/internal/app"
	"github.com/auditory-labs/earshot/internal/config"
	"github.com/auditory-labs/earshot/internal/observe"
	"github.com/auditory-labs/earshot/pkg/provider/intel"
	geminiintel "github.com/auditory-labs/earshot/pkg/provider/intel/gemini"
	openaiintel "github.com/auditory-labs/earshot/pkg/provider/intel/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("earshot starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"provider", cfg.Provider.Name,
		"keys", len(cfg.Keys.Entries),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialize telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Analysis provider ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, err := reg.Create(cfg.Provider)
	if err != nil {
		slog.Error("failed to create analysis provider", "name", cfg.Provider.Name, "err", err)
		return 1
	}
	slog.Info("provider created", "name", cfg.Provider.Name, "model", cfg.Provider.Model)

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(cfg, &app.Providers{Intel: provider})
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyConfigChange(application, levelVar, old, new)
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires the analysis backends that ship with Earshot
// into reg. Each factory receives a config.ProviderEntry and constructs the
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	reg.Register("gemini", func(entry config.ProviderEntry) (intel.Provider, error) {
		var opts []geminiintel.Option
		if entry.Model != "" {
			opts = append(opts, geminiintel.WithModel(entry.Model))
		}
		return geminiintel.New(opts...), nil
	})

	reg.Register("openai", func(entry config.ProviderEntry) (intel.Provider, error) {
		var opts []openaiintel.Option
		if entry.Model != "" {
			opts = append(opts, openaiintel.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openaiintel.WithBaseURL(entry.BaseURL))
		}
		return openaiintel.New(opts...), nil
	})
}

// applyConfigChange reacts to a validated config file update. Detector tuning
// and the log level apply immediately; anything structural only logs that a
// restart is needed.
func applyConfigChange(application *app.App, levelVar *slog.LevelVar, old, new *config.Config) {
	diff := config.Diff(old, new)
	if diff.Empty() {
		return
	}

	if diff.LogLevelChanged {
		levelVar.Set(slogLevel(diff.NewLogLevel))
		slog.Info("log level updated", "level", diff.NewLogLevel)
	}

	if diff.DetectorChanged {
		if err := application.Detector().Configure(new.Detector.ToPatch()); err != nil {
			slog.Warn("failed to apply detector config", "err", err)
		} else {
			slog.Info("detector config updated")
		}
	}

	if diff.KeysChanged {
		slog.Info("key configuration changed; keys registered at startup stay active",
			"entries", len(new.Keys.Entries))
	}

	if diff.RestartRequired {
		slog.Warn("config change requires a restart to take effect")
	}
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
