// Package config loads process configuration once at startup: environment
// variables (highest priority after explicit overrides), an optional .env
// file, and an optional YAML file for local-development overrides of
// non-secret values (worker pool size, pairing code TTL, log level).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// scalars is the subset of Config whose defaults and env-var names are
// declarative enough for envdecode to populate directly. Fields needing
// cross-field defaulting (timeouts, provider credential maps) are resolved
// separately in Load.
type scalars struct {
	DatabaseURL    string `env:"DATABASE_URL"`
	HTTPBindAddr   string `env:"HTTP_BIND_ADDR,default=0.0.0.0:8000"`
	LogLevel       string `env:"LOG_LEVEL,default=info"`
	LogFormat      string `env:"LOG_FORMAT,default=json"`
	WorkerPoolSize int    `env:"WORKER_POOL_SIZE,default=6"`
	RedisURL       string `env:"REDIS_URL"`
	JWTSigningKey  string `env:"JWT_SIGNING_KEY"`

	ObjectStoreEndpoint  string `env:"OBJECT_STORE_ENDPOINT"`
	ObjectStoreBucket    string `env:"OBJECT_STORE_BUCKET"`
	ObjectStoreAccessKey string `env:"OBJECT_STORE_ACCESS_KEY"`
	ObjectStoreSecretKey string `env:"OBJECT_STORE_SECRET_KEY"`
}

// Config is the fully-resolved process configuration.
type Config struct {
	DatabaseURL string

	ObjectStoreEndpoint  string
	ObjectStoreBucket    string
	ObjectStoreAccessKey string
	ObjectStoreSecretKey string

	HTTPBindAddr     string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration

	LogLevel  string
	LogFormat string

	WorkerPoolSize int
	PairingCodeTTL time.Duration

	RedisURL string

	JWTSigningKey string

	ProviderCredentials map[string]ProviderCredential
}

// ProviderCredential is the OAuth client id/secret pair for one source kind,
// e.g. "GOOGLE_CLIENT_ID"/"GOOGLE_CLIENT_SECRET".
type ProviderCredential struct {
	ClientID     string
	ClientSecret string
}

// fileOverrides is the shape of the optional YAML file (its path is the
// yamlPath argument to Load; cmd/dayline reads it from DAYLINE_CONFIG). Only
// non-secret knobs are overridable this way.
type fileOverrides struct {
	WorkerPoolSize *int    `yaml:"worker_pool_size"`
	PairingCodeTTL *string `yaml:"pairing_code_ttl"`
	LogLevel       *string `yaml:"log_level"`
}

// Load resolves configuration from (lowest to highest priority): defaults,
// YAML file, .env file, process environment.
func Load(yamlPath string) (Config, error) {
	if envPath := strings.TrimSpace(os.Getenv("DOTENV_PATH")); envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // best-effort; absence of .env is not an error
	}

	var s scalars
	if err := envdecode.Decode(&s); err != nil {
		// envdecode errors when none of the tagged fields were present in the
		// environment; treat that as "defaults only" so local runs work
		// without exporting every variable.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return Config{}, err
		}
	}

	cfg := Config{
		DatabaseURL: s.DatabaseURL,

		ObjectStoreEndpoint:  s.ObjectStoreEndpoint,
		ObjectStoreBucket:    s.ObjectStoreBucket,
		ObjectStoreAccessKey: s.ObjectStoreAccessKey,
		ObjectStoreSecretKey: s.ObjectStoreSecretKey,

		HTTPBindAddr:     s.HTTPBindAddr,
		HTTPReadTimeout:  GetEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second),
		HTTPWriteTimeout: GetEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),

		LogLevel:  s.LogLevel,
		LogFormat: s.LogFormat,

		WorkerPoolSize: s.WorkerPoolSize,
		PairingCodeTTL: GetEnvDuration("PAIRING_CODE_TTL", 10*time.Minute),

		RedisURL:      s.RedisURL,
		JWTSigningKey: s.JWTSigningKey,

		ProviderCredentials: map[string]ProviderCredential{},
	}

	if yamlPath != "" {
		if err := applyYAML(&cfg, yamlPath); err != nil {
			return Config{}, err
		}
	}

	for _, provider := range []string{"GOOGLE", "NOTION"} {
		cred := ProviderCredential{
			ClientID:     GetEnv(provider+"_CLIENT_ID", ""),
			ClientSecret: GetEnv(provider+"_CLIENT_SECRET", ""),
		}
		if cred.ClientID != "" || cred.ClientSecret != "" {
			cfg.ProviderCredentials[strings.ToLower(provider)] = cred
		}
	}

	return cfg, nil
}

func applyYAML(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var overrides fileOverrides
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return err
	}
	if overrides.WorkerPoolSize != nil && os.Getenv("WORKER_POOL_SIZE") == "" {
		cfg.WorkerPoolSize = *overrides.WorkerPoolSize
	}
	if overrides.PairingCodeTTL != nil && os.Getenv("PAIRING_CODE_TTL") == "" {
		if d, err := time.ParseDuration(*overrides.PairingCodeTTL); err == nil {
			cfg.PairingCodeTTL = d
		}
	}
	if overrides.LogLevel != nil && os.Getenv("LOG_LEVEL") == "" {
		cfg.LogLevel = *overrides.LogLevel
	}
	return nil
}

// Validate checks the fields required to run the server.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errRequired("DATABASE_URL")
	}
	return nil
}

func errRequired(name string) error {
	return &requiredError{name: name}
}

type requiredError struct{ name string }

func (e *requiredError) Error() string { return e.name + " is required" }

// GetEnv retrieves an environment variable with a default fallback.
func GetEnv(key, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvInt retrieves an integer environment variable with a default
// fallback; an unparsable value also falls back to the default.
func GetEnvInt(key string, defaultValue int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// GetEnvBool retrieves a boolean environment variable. Accepts true/1/yes/y
// case-insensitively as true.
func GetEnvBool(key string, defaultValue bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	lower := strings.ToLower(v)
	return lower == "true" || lower == "1" || lower == "yes" || lower == "y"
}

// GetEnvDuration retrieves a duration environment variable (e.g. "30s").
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return parsed
}
