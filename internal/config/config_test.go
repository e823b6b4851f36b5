package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORTAL_MODE", "")
	t.Setenv("PORTAL_API_URL", "")
	t.Setenv("PORTAL_STORAGE", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ModeProduction, cfg.Mode)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, ":5173", cfg.ListenAddr)
	assert.Equal(t, StorageMemory, cfg.StorageBackend)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTTL)
	assert.Equal(t, "@every 5m", cfg.SweepSchedule)
	assert.Equal(t, "http://localhost:8001", cfg.DevProxyTarget)
}

func TestLoad_FromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "PORTAL_MODE=development\nPORTAL_API_URL=https://api.example.com\nPORTAL_SESSION_IDLE_TTL=10m\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

	// t.Setenv registers cleanup for variables godotenv will set.
	t.Setenv("PORTAL_MODE", "")
	t.Setenv("PORTAL_API_URL", "")
	t.Setenv("PORTAL_SESSION_IDLE_TTL", "")
	os.Unsetenv("PORTAL_MODE")
	os.Unsetenv("PORTAL_API_URL")
	os.Unsetenv("PORTAL_SESSION_IDLE_TTL")

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "https://api.example.com", cfg.APIURL)
	assert.Equal(t, 10*time.Minute, cfg.SessionIdleTTL)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoad_RejectsUnknownStorage(t *testing.T) {
	t.Setenv("PORTAL_STORAGE", "sqlite")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownMode(t *testing.T) {
	t.Setenv("PORTAL_MODE", "staging")

	_, err := Load("")
	assert.Error(t, err)
}

func TestConfig_CookieKeys(t *testing.T) {
	hashKey := strings.Repeat("ab", 32)
	blockKey := strings.Repeat("cd", 32)

	cfg := &Config{CookieHashKey: hashKey, CookieBlockKey: blockKey}
	h, b, generated, err := cfg.CookieKeys()
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Len(t, h, 32)
	assert.Len(t, b, 32)

	h, b, generated, err = (&Config{}).CookieKeys()
	require.NoError(t, err)
	assert.True(t, generated)
	assert.Len(t, h, 64)
	assert.Len(t, b, 32)
}

func TestLoad_RejectsBadCookieKeys(t *testing.T) {
	t.Setenv("PORTAL_COOKIE_HASH_KEY", "abcd")
	_, err := Load("")
	assert.Error(t, err)

	t.Setenv("PORTAL_COOKIE_HASH_KEY", strings.Repeat("ab", 32))
	t.Setenv("PORTAL_COOKIE_BLOCK_KEY", strings.Repeat("cd", 20))
	_, err = Load("")
	assert.Error(t, err)

	t.Setenv("PORTAL_COOKIE_BLOCK_KEY", strings.Repeat("cd", 16))
	_, err = Load("")
	assert.NoError(t, err)
}

func TestLoadDevAPI_Defaults(t *testing.T) {
	t.Setenv("DEVAPI_ADDR", "")
	t.Setenv("DEVAPI_TOKEN_TTL", "")

	cfg, err := LoadDevAPI("")
	require.NoError(t, err)

	assert.Equal(t, ":8001", cfg.Addr)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORSOrigins)
}
