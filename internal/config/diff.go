package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider and
// storage changes require a restart and are reported as such.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DetectorChanged is true when any detector tuning knob changed. The
	// new values are applied live through the detector's Configure.
	DetectorChanged bool

	// KeysChanged is true when the key entries or rotation policy changed.
	KeysChanged bool

	// RestartRequired is true when a change cannot be applied live
	// (provider selection, storage location, listen address, TLS).
	RestartRequired bool
}

// Empty reports whether the diff carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.DetectorChanged && !d.KeysChanged && !d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.DetectorChanged = !detectorEqual(old.Detector, new.Detector)
	d.KeysChanged = !keysEqual(old.Keys, new.Keys)

	if providerIdent(old.Provider) != providerIdent(new.Provider) ||
		old.Server.ListenAddr != new.Server.ListenAddr ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) ||
		old.Storage != new.Storage ||
		old.Sessions != new.Sessions {
		d.RestartRequired = true
	}

	return d
}

func detectorEqual(a, b DetectorConfig) bool {
	return a.SilenceThreshold == b.SilenceThreshold &&
		a.MinSpeechDuration == b.MinSpeechDuration &&
		a.SilenceDuration == b.SilenceDuration &&
		a.MinChunkDuration == b.MinChunkDuration &&
		a.MaxChunkDuration == b.MaxChunkDuration &&
		slices.Equal(a.FillerWords, b.FillerWords)
}

func keysEqual(a, b KeysConfig) bool {
	return a.Shuffle == b.Shuffle &&
		a.RateLimitCooldown == b.RateLimitCooldown &&
		a.QuotaCooldown == b.QuotaCooldown &&
		a.DisableThreshold == b.DisableThreshold &&
		slices.Equal(a.Entries, b.Entries)
}

// providerIdent projects the comparable provider fields; Options is
// intentionally excluded since it is only read at construction time.
func providerIdent(p ProviderEntry) [3]string {
	return [3]string{p.Name, p.Model, p.BaseURL}
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
