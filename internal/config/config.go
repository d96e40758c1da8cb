// Package config provides the configuration schema, loader, and file watcher
// for the LingoLoop server.
package config

// LogLevel controls log verbosity for the LingoLoop server.
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

// Config is the root configuration structure for LingoLoop.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
// API credentials are NOT part of the file; they come from the environment
// via [LoadCredentials].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds network, upload, and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MaxUploadBytes caps the size of an uploaded audio file.
	// 0 means the default of 25 MiB.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

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

// ProvidersConfig configures the generative AI backends.
type ProvidersConfig struct {
	// Transcriber configures the primary, audio-capable provider. It serves
	// transcription, speech synthesis, pronunciation scoring, and word
	// definitions.
	Transcriber TranscriberConfig `yaml:"transcriber"`

	// Fallback configures the optional text-only secondary used when the
	// primary fails a word-definition request. Leave the name empty to run
	// without a fallback.
	Fallback FallbackConfig `yaml:"fallback"`
}

// TranscriberConfig selects models for the primary provider.
// Empty fields use the provider's built-in defaults.
type TranscriberConfig struct {
	// Model is the multimodal model used for transcription, scoring,
	// and definitions (e.g., "gemini-2.5-flash").
	Model string `yaml:"model"`

	// TTSModel is the audio-modality model used for speech synthesis.
	TTSModel string `yaml:"tts_model"`

	// Voice is the prebuilt synthesis voice name.
	Voice string `yaml:"voice"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`
}

// FallbackConfig selects the secondary word-definition provider.
type FallbackConfig struct {
	// Name selects the fallback implementation: "openai" for the native
	// OpenAI chat client, or any backend supported by the universal
	// adapter ("anthropic", "gemini", "ollama", "deepseek", "mistral",
	// "groq"). Empty disables the fallback.
	Name string `yaml:"name"`

	// Model is the chat model used for definitions (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// BaseURL overrides the fallback provider's default API endpoint.
	BaseURL string `yaml:"base_url"`
}
