// Package config loads the gateway's environment configuration (spec §6)
// and, optionally, a hot-reloaded YAML policy overlay (SPEC_FULL §2.1).
package config

import (
	"os"
	"strconv"
	"strings"
)

// AuthMode selects how /api/user/.login issues tokens.
type AuthMode string

const (
	AuthModeKey      AuthMode = "key"
	AuthModePassword AuthMode = "password"
)

// Config is the gateway's environment-derived configuration, mirroring
// ollama_x/config.py's field list and defaults.
type Config struct {
	LogLevel string

	MongoURI string

	ServerCheckInterval int

	EnforceModel string

	AnonymousAllowed bool
	AnonymousModel   string

	DefaultEmbeddingsModel  string
	DefaultCompletionsModel string
	DefaultChatModel        string

	UserRegistrationEnabled bool

	JWTSecretKey          string
	JWTTokenExpireMinutes int

	SentryDSN     string
	LangfuseHost  string
	LangfusePub   string
	LangfuseKey   string

	AuthMode AuthMode

	// PolicyFile optionally names a YAML file hot-reloaded into Policy
	// (SPEC_FULL §2.1). Empty disables the watcher.
	PolicyFile string
}

func getenvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

// Load reads the process environment into a Config, applying the same
// defaults as ollama_x/config.py.
func Load() *Config {
	authMode := AuthModeKey
	if strings.EqualFold(getenv("GATEWAY_AUTH_MODE", "key"), "password") {
		authMode = AuthModePassword
	}

	return &Config{
		LogLevel:                getenv("LOG_LEVEL", "info"),
		MongoURI:                getenv("MONGO_URI", "mongodb://mongo"),
		ServerCheckInterval:     getenvInt("SERVER_CHECK_INTERVAL", 10),
		EnforceModel:            getenv("ENFORCE_MODEL", ""),
		AnonymousAllowed:        getenvBool("ANONYMOUS_ALLOWED", false),
		AnonymousModel:          getenv("ANONYMOUS_MODEL", ""),
		DefaultEmbeddingsModel:  getenv("DEFAULT_EMBEDDINGS_MODEL", "nomic-embed-text:latest"),
		DefaultCompletionsModel: getenv("DEFAULT_COMPLETIONS_MODEL", "deepseek-coder-v2:latest"),
		DefaultChatModel:        getenv("DEFAULT_CHAT_MODEL", "deepseek-coder-v2:latest"),
		UserRegistrationEnabled: getenvBool("USER_REGISTRATION_ENABLED", false),
		JWTSecretKey:            getenv("JWT_SECRET_KEY", "jwt-token-please-redefine"),
		JWTTokenExpireMinutes:   getenvInt("JWT_TOKEN_EXPIRE_MINUTES", 30),
		SentryDSN:               getenv("SENTRY_DSN", ""),
		LangfuseHost:            getenv("LANGFUSE_HOST", ""),
		LangfusePub:             getenv("LANGFUSE_PUBLIC_KEY", ""),
		LangfuseKey:             getenv("LANGFUSE_SECRET_KEY", ""),
		AuthMode:                authMode,
		PolicyFile:              getenv("GATEWAY_POLICY_FILE", ""),
	}
}
