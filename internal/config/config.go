// Package config loads runtime configuration for the portal and the dev API.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"

	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// RedisConfig configures the redis token storage backend.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
}

// Config is the portal configuration.
type Config struct {
	Mode           string `env:"PORTAL_MODE,default=production"`
	APIURL         string `env:"PORTAL_API_URL"`
	DevProxyFile   string `env:"PORTAL_DEV_PROXY_FILE,default=config/devproxy.yaml"`
	DevProxyTarget string `env:"PORTAL_DEV_PROXY_TARGET,default=http://localhost:8001"`

	ListenAddr string `env:"PORTAL_LISTEN_ADDR,default=:5173"`
	OpsAddr    string `env:"PORTAL_OPS_ADDR,default=:9090"`

	StorageBackend string        `env:"PORTAL_STORAGE,default=memory"`
	TokenTTL       time.Duration `env:"PORTAL_TOKEN_TTL,default=0s"`
	Redis          RedisConfig

	CookieSecure   bool          `env:"PORTAL_COOKIE_SECURE,default=false"`
	CookieHashKey  string        `env:"PORTAL_COOKIE_HASH_KEY"`
	CookieBlockKey string        `env:"PORTAL_COOKIE_BLOCK_KEY"`
	SessionIdleTTL time.Duration `env:"PORTAL_SESSION_IDLE_TTL,default=30m"`
	SweepSchedule  string        `env:"PORTAL_SWEEP_SCHEDULE,default=@every 5m"`

	LoginRPS   int `env:"PORTAL_LOGIN_RPS,default=5"`
	LoginBurst int `env:"PORTAL_LOGIN_BURST,default=10"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`
}

// IsDevelopment reports whether the portal runs in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Mode, ModeDevelopment)
}

// Validate checks values envdecode cannot.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case ModeDevelopment, ModeProduction:
	default:
		return fmt.Errorf("PORTAL_MODE must be %q or %q, got %q", ModeDevelopment, ModeProduction, c.Mode)
	}

	switch c.StorageBackend {
	case StorageMemory, StorageRedis:
	default:
		return fmt.Errorf("PORTAL_STORAGE must be %q or %q, got %q", StorageMemory, StorageRedis, c.StorageBackend)
	}

	if _, _, err := c.decodeCookieKeys(); err != nil {
		return err
	}

	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("PORTAL_SESSION_IDLE_TTL must be positive")
	}
	if c.LoginRPS <= 0 || c.LoginBurst <= 0 {
		return fmt.Errorf("PORTAL_LOGIN_RPS and PORTAL_LOGIN_BURST must be positive")
	}
	return nil
}

// CookieKeys returns the keys signing and encrypting the browser cookie.
// Unset keys are generated, in which case generated is true and cookies
// issued before a restart stop decoding.
func (c *Config) CookieKeys() (hashKey, blockKey []byte, generated bool, err error) {
	hashKey, blockKey, err = c.decodeCookieKeys()
	if err != nil {
		return nil, nil, false, err
	}
	if hashKey == nil {
		hashKey = securecookie.GenerateRandomKey(64)
		generated = true
	}
	if blockKey == nil {
		blockKey = securecookie.GenerateRandomKey(32)
		generated = true
	}
	if hashKey == nil || blockKey == nil {
		return nil, nil, false, fmt.Errorf("generate cookie keys")
	}
	return hashKey, blockKey, generated, nil
}

func (c *Config) decodeCookieKeys() (hashKey, blockKey []byte, err error) {
	if c.CookieHashKey != "" {
		hashKey, err = hex.DecodeString(c.CookieHashKey)
		if err != nil || len(hashKey) < 32 {
			return nil, nil, fmt.Errorf("PORTAL_COOKIE_HASH_KEY must be at least 32 hex-encoded bytes")
		}
	}
	if c.CookieBlockKey != "" {
		blockKey, err = hex.DecodeString(c.CookieBlockKey)
		if err != nil {
			return nil, nil, fmt.Errorf("PORTAL_COOKIE_BLOCK_KEY must be hex-encoded")
		}
		switch len(blockKey) {
		case 16, 24, 32:
		default:
			return nil, nil, fmt.Errorf("PORTAL_COOKIE_BLOCK_KEY must be 16, 24 or 32 bytes, got %d", len(blockKey))
		}
	}
	return hashKey, blockKey, nil
}

// Load reads envFile (when it exists) into the environment and decodes Config.
func Load(envFile string) (*Config, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	var cfg Config
	if err := decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode portal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DevAPIConfig is the configuration of the local patient API stub.
type DevAPIConfig struct {
	Addr          string        `env:"DEVAPI_ADDR,default=:8001"`
	JWTSecret     string        `env:"DEVAPI_JWT_SECRET,default=dev-secret-change-me"`
	TokenTTL      time.Duration `env:"DEVAPI_TOKEN_TTL,default=30m"`
	AdminUser     string        `env:"DEVAPI_ADMIN_USER"`
	AdminPassword string        `env:"DEVAPI_ADMIN_PASSWORD"`
	CORSOrigins   []string      `env:"DEVAPI_CORS_ORIGINS,default=http://localhost:5173"`
	DatabaseURL   string        `env:"DEVAPI_DATABASE_URL"`
	LogLevel      string        `env:"LOG_LEVEL,default=info"`
}

// LoadDevAPI reads envFile (when it exists) and decodes DevAPIConfig.
func LoadDevAPI(envFile string) (*DevAPIConfig, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	var cfg DevAPIConfig
	if err := decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode dev api config: %w", err)
	}
	if cfg.TokenTTL <= 0 {
		return nil, fmt.Errorf("DEVAPI_TOKEN_TTL must be positive")
	}
	return &cfg, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func decode(target interface{}) error {
	err := envdecode.Decode(target)
	if err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return err
	}
	return nil
}
