// Package config provides the configuration schema, loader, provider
// registry, and hot-reload watcher for the earshot capture daemon.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/auditory-labs/earshot/pkg/detector"
)

// LogLevel controls log verbosity for the daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration is a time.Duration that unmarshals from YAML either as a Go
// duration string ("750ms", "1.5s") or as a bare integer millisecond count.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ms int64
	if err := value.Decode(&ms); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string or millisecond count: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for earshot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Sessions SessionsConfig `yaml:"sessions"`
	Detector DetectorConfig `yaml:"detector"`
	Provider ProviderEntry  `yaml:"provider"`
	Keys     KeysConfig     `yaml:"keys"`
}

// ServerConfig holds network and logging settings for the daemon's
// metrics/health HTTP endpoint.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":9090").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// StorageConfig configures the embedded key-value store that holds detector
// tuning and key-pool state across restarts.
type StorageConfig struct {
	// Dir is the on-disk database directory. Ignored when InMemory is set.
	Dir string `yaml:"dir"`

	// InMemory keeps all state in memory. Intended for tests and dry runs.
	InMemory bool `yaml:"in_memory"`
}

// SessionsConfig configures where recorded sessions are written.
type SessionsConfig struct {
	// Dir is the directory holding one JSON file per session.
	Dir string `yaml:"dir"`

	// Title is the display title given to newly started sessions.
	Title string `yaml:"title"`
}

// DetectorConfig holds the speech-detection tuning knobs. Zero values fall
// back to the built-in defaults; see ToDetector.
type DetectorConfig struct {
	// SilenceThreshold is the RMS amplitude below which a tick counts as
	// silence, in [0, 1].
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// MinSpeechDuration is the least accumulated speech before a chunk may
	// complete.
	MinSpeechDuration Duration `yaml:"min_speech_duration"`

	// SilenceDuration is the trailing silence that finalizes an utterance.
	SilenceDuration Duration `yaml:"silence_duration"`

	// MinChunkDuration discards buffers shorter than this.
	MinChunkDuration Duration `yaml:"min_chunk_duration"`

	// MaxChunkDuration force-flushes buffers longer than this.
	MaxChunkDuration Duration `yaml:"max_chunk_duration"`

	// FillerWords overrides the built-in transcript cleanup list.
	FillerWords []string `yaml:"filler_words"`
}

// ToDetector converts the block into a detector.Config, applying the
// detector's defaults for unset fields.
func (dc DetectorConfig) ToDetector() detector.Config {
	cfg := detector.DefaultConfig()
	p := dc.ToPatch()
	return cfg.Apply(p)
}

// ToPatch converts the block into a detector.Patch carrying only the fields
// that are explicitly set.
func (dc DetectorConfig) ToPatch() detector.Patch {
	var p detector.Patch
	if dc.SilenceThreshold > 0 {
		v := dc.SilenceThreshold
		p.SilenceThreshold = &v
	}
	if dc.MinSpeechDuration > 0 {
		v := dc.MinSpeechDuration.Std()
		p.MinSpeechDuration = &v
	}
	if dc.SilenceDuration > 0 {
		v := dc.SilenceDuration.Std()
		p.SilenceDuration = &v
	}
	if dc.MinChunkDuration > 0 {
		v := dc.MinChunkDuration.Std()
		p.MinChunkDuration = &v
	}
	if dc.MaxChunkDuration > 0 {
		v := dc.MaxChunkDuration.Std()
		p.MaxChunkDuration = &v
	}
	if dc.FillerWords != nil {
		p.FillerWords = dc.FillerWords
	}
	return p
}

// ProviderEntry selects and configures the analysis backend.
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini").
	Name string `yaml:"name"`

	// Model selects a specific model within the provider. Empty uses the
	// provider's default.
	Model string `yaml:"model"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// KeysConfig configures the API key pool and its failover policy.
type KeysConfig struct {
	// Entries lists the credentials in priority order; the first entry is
	// the primary key.
	Entries []KeyEntry `yaml:"entries"`

	// Shuffle selects randomized instead of round-robin key rotation.
	Shuffle bool `yaml:"shuffle"`

	// RateLimitCooldown overrides the cooldown applied after a 429.
	RateLimitCooldown Duration `yaml:"rate_limit_cooldown"`

	// QuotaCooldown overrides the cooldown applied after quota exhaustion.
	QuotaCooldown Duration `yaml:"quota_cooldown"`

	// DisableThreshold overrides the consecutive-failure disable threshold.
	DisableThreshold int `yaml:"disable_threshold"`
}

// KeyEntry is one credential in the pool. Exactly one of Secret and
// SecretEnv must be set.
type KeyEntry struct {
	// Secret is the literal API key.
	Secret string `yaml:"secret"`

	// SecretEnv names an environment variable holding the API key, for
	// configs that must not contain credentials.
	SecretEnv string `yaml:"secret_env"`

	// Name is the display name used in logs and status output.
	Name string `yaml:"name"`
}
