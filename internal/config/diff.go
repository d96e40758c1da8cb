package config

// Diff describes what changed between two configs. Only fields that can be
// safely hot-reloaded are tracked; everything else needs a restart.
type Diff struct {
	// LogLevelChanged is true when server.log_level differs.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is true when the synthesis voice or TTS model differs.
	// Cached reference audio becomes stale and should be dropped.
	VoiceChanged bool

	// FallbackChanged is true when the fallback provider selection differs.
	FallbackChanged bool
}

// Any reports whether the diff contains at least one tracked change.
func (d Diff) Any() bool {
	return d.LogLevelChanged || d.VoiceChanged || d.FallbackChanged
}

// Compare returns what changed between old and new.
func Compare(old, new *Config) Diff {
	d := Diff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Providers.Transcriber.Voice != new.Providers.Transcriber.Voice ||
		old.Providers.Transcriber.TTSModel != new.Providers.Transcriber.TTSModel {
		d.VoiceChanged = true
	}

	if old.Providers.Fallback != new.Providers.Fallback {
		d.FallbackChanged = true
	}

	return d
}
