package config

import "os"

// Environment variable names for API credentials. Credentials never live in
// the config file; they are read from the environment exactly once at
// startup.
const (
	// EnvPrimaryAPIKey authenticates the primary audio-capable provider.
	EnvPrimaryAPIKey = "GEMINI_API_KEY"

	// EnvFallbackAPIKey authenticates the optional definition fallback.
	EnvFallbackAPIKey = "FALLBACK_API_KEY"

	// EnvOpenAIAPIKey is consulted for the fallback key when
	// [EnvFallbackAPIKey] is unset and the fallback provider is "openai".
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Credentials holds the API keys read from the environment at startup.
// A missing primary key is fatal at provider construction; a missing
// fallback key merely disables the fallback path.
type Credentials struct {
	Primary  string
	Fallback string
}

// LoadCredentials reads API keys from the environment. fallbackName is the
// configured fallback provider name, used to pick a provider-specific
// environment variable when the generic one is unset.
func LoadCredentials(fallbackName string) Credentials {
	creds := Credentials{
		Primary:  os.Getenv(EnvPrimaryAPIKey),
		Fallback: os.Getenv(EnvFallbackAPIKey),
	}
	if creds.Fallback == "" && fallbackName == "openai" {
		creds.Fallback = os.Getenv(EnvOpenAIAPIKey)
	}
	return creds
}
