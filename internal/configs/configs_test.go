package configs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{"ENVIRONMENT", "PORT", "ALLOWED_ORIGINS", "JWT_SECRET", "DATABASE_URL"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_DevelopmentDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "development", cfg.Environment)
	require.Equal(t, 8080, cfg.Port)
	require.Empty(t, cfg.AllowedOrigins)
	require.NotEmpty(t, cfg.JWTSecret)
	require.NotEmpty(t, cfg.DatabaseDSN)
}

func TestLoadConfig_InvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "not-a-number")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_PrivilegedPortRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "80")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_ProductionRequiresSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "production")

	_, err := LoadConfig()
	require.Error(t, err)
	require.Contains(t, err.Error(), "JWT_SECRET")

	t.Setenv("JWT_SECRET", "prod-secret")
	_, err = LoadConfig()
	require.Error(t, err)
	require.Contains(t, err.Error(), "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://relay:secret@db:5432/chatrelay")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "production", cfg.Environment)
}

func TestLoadConfig_AllowedOriginsParsing(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALLOWED_ORIGINS", " https://app.example.com , https://admin.example.com ,")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.AllowedOrigins)
}
