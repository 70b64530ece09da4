package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known analysis provider names.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = []string{"gemini", "openai", "mock"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Storage
	if !cfg.Storage.InMemory && cfg.Storage.Dir == "" {
		errs = append(errs, errors.New("storage.dir is required unless storage.in_memory is set"))
	}

	// Detector
	d := cfg.Detector
	if d.SilenceThreshold < 0 || d.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("detector.silence_threshold %v is out of range [0, 1]", d.SilenceThreshold))
	}
	for name, v := range map[string]Duration{
		"min_speech_duration": d.MinSpeechDuration,
		"silence_duration":    d.SilenceDuration,
		"min_chunk_duration":  d.MinChunkDuration,
		"max_chunk_duration":  d.MaxChunkDuration,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("detector.%s must not be negative", name))
		}
	}
	if d.MinChunkDuration > 0 && d.MaxChunkDuration > 0 && d.MaxChunkDuration < d.MinChunkDuration {
		errs = append(errs, fmt.Errorf("detector.max_chunk_duration %v is shorter than min_chunk_duration %v",
			d.MaxChunkDuration.Std(), d.MinChunkDuration.Std()))
	}

	// Provider
	if cfg.Provider.Name != "" && !slices.Contains(ValidProviderNames, cfg.Provider.Name) {
		slog.Warn("unknown provider name — may be a typo or third-party provider",
			"name", cfg.Provider.Name,
			"known", ValidProviderNames,
		)
	}

	// Keys
	if len(cfg.Keys.Entries) == 0 {
		slog.Warn("keys.entries is empty; analysis requests cannot be made until a key is added")
	}
	for i, k := range cfg.Keys.Entries {
		prefix := fmt.Sprintf("keys.entries[%d]", i)
		switch {
		case k.Secret == "" && k.SecretEnv == "":
			errs = append(errs, fmt.Errorf("%s: one of secret or secret_env is required", prefix))
		case k.Secret != "" && k.SecretEnv != "":
			errs = append(errs, fmt.Errorf("%s: secret and secret_env are mutually exclusive", prefix))
		case k.SecretEnv != "" && os.Getenv(k.SecretEnv) == "":
			slog.Warn("key secret environment variable is empty", "entry", i, "env", k.SecretEnv)
		}
	}
	if cfg.Keys.DisableThreshold < 0 {
		errs = append(errs, errors.New("keys.disable_threshold must not be negative"))
	}
	if cfg.Keys.RateLimitCooldown < 0 || cfg.Keys.QuotaCooldown < 0 {
		errs = append(errs, errors.New("keys cooldowns must not be negative"))
	}

	return errors.Join(errs...)
}

// ResolveSecret returns the entry's literal secret or the value of its
// environment variable.
func (k KeyEntry) ResolveSecret() string {
	if k.Secret != "" {
		return k.Secret
	}
	return os.Getenv(k.SecretEnv)
}
