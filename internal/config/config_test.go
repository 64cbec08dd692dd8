package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "mongodb://mongo", cfg.MongoURI)
	assert.Equal(t, 10, cfg.ServerCheckInterval)
	assert.False(t, cfg.AnonymousAllowed)
	assert.Equal(t, AuthModeKey, cfg.AuthMode)
	assert.Equal(t, "", cfg.PolicyFile)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MONGO_URI", "mongodb://custom:27017")
	t.Setenv("ANONYMOUS_ALLOWED", "true")
	t.Setenv("SERVER_CHECK_INTERVAL", "5")
	t.Setenv("GATEWAY_AUTH_MODE", "password")

	cfg := Load()
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "mongodb://custom:27017", cfg.MongoURI)
	assert.True(t, cfg.AnonymousAllowed)
	assert.Equal(t, 5, cfg.ServerCheckInterval)
	assert.Equal(t, AuthModePassword, cfg.AuthMode)
}

func TestLoad_InvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("SERVER_CHECK_INTERVAL", "not-a-number")
	cfg := Load()
	assert.Equal(t, 10, cfg.ServerCheckInterval)
}

func TestLoad_InvalidBoolFallsBackToDefault(t *testing.T) {
	t.Setenv("ANONYMOUS_ALLOWED", "not-a-bool")
	cfg := Load()
	assert.False(t, cfg.AnonymousAllowed)
}
