package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config aggregates runtime configuration for the todo application.
type Config struct {
	Environment string
	LogLevel    string
	LogFormat   string
	LogFile     string

	DataStore   string
	DataDir     string
	DatabaseURL string

	IdentityProvider     string
	Cognito              CognitoConfig
	MinPasswordLength    int
	RequireVerifiedEmail bool
	SessionTTL           time.Duration
	CodeResendInterval   time.Duration
	CredentialsFile      string

	MetricsFile string
}

// CognitoConfig identifies the user pool used when IdentityProvider is cognito.
type CognitoConfig struct {
	Region       string
	UserPoolID   string
	ClientID     string
	ClientSecret string
}

// Load reads configuration from an optional TOML file (TODOAPP_CONFIG) and
// environment variables, with environment variables taking precedence.
func Load() (Config, error) {
	file, err := loadFile(os.Getenv("TODOAPP_CONFIG"))
	if err != nil {
		return Config{}, err
	}
	get := func(key, fallback string) string {
		return getEnv(key, file.get(key, fallback))
	}

	databaseURL, err := getEnvOrFile("DATABASE_URL", "/run/secrets/todoapp_database_url")
	if err != nil {
		return Config{}, err
	}
	if databaseURL == "" {
		databaseURL = file.get("DATABASE_URL", "")
	}

	clientSecret, err := getEnvOrFile("COGNITO_CLIENT_SECRET", "/run/secrets/todoapp_cognito_client_secret")
	if err != nil {
		return Config{}, err
	}
	if clientSecret == "" {
		clientSecret = file.get("COGNITO_CLIENT_SECRET", "")
	}

	dataDir := get("DATA_DIR", defaultDataDir())

	cfg := Config{
		Environment:      get("APP_ENV", "development"),
		LogLevel:         strings.ToLower(get("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(get("LOG_FORMAT", "text")),
		LogFile:          get("LOG_FILE", filepath.Join(dataDir, "todoapp.log")),
		DataStore:        strings.ToLower(get("DATA_STORE", "file")),
		DataDir:          dataDir,
		DatabaseURL:      strings.TrimSpace(databaseURL),
		IdentityProvider: strings.ToLower(get("IDENTITY_PROVIDER", "local")),
		Cognito: CognitoConfig{
			Region:       get("COGNITO_REGION", ""),
			UserPoolID:   get("COGNITO_USER_POOL_ID", ""),
			ClientID:     get("COGNITO_CLIENT_ID", ""),
			ClientSecret: strings.TrimSpace(clientSecret),
		},
		CredentialsFile: get("CREDENTIALS_FILE", filepath.Join(dataDir, "credentials.json")),
		MetricsFile:     get("METRICS_FILE", ""),
	}

	minValue := get("MIN_PASSWORD_LENGTH", "6")
	minLength, err := strconv.Atoi(minValue)
	if err != nil || minLength < 1 {
		return Config{}, fmt.Errorf("invalid MIN_PASSWORD_LENGTH %q", minValue)
	}
	cfg.MinPasswordLength = minLength

	verifiedValue := get("REQUIRE_VERIFIED_EMAIL", "true")
	cfg.RequireVerifiedEmail, err = strconv.ParseBool(verifiedValue)
	if err != nil {
		return Config{}, fmt.Errorf("invalid REQUIRE_VERIFIED_EMAIL %q: %w", verifiedValue, err)
	}

	if cfg.SessionTTL, err = parseDuration("SESSION_TTL", get("SESSION_TTL", "12h")); err != nil {
		return Config{}, err
	}
	if cfg.CodeResendInterval, err = parseDuration("CODE_RESEND_INTERVAL", get("CODE_RESEND_INTERVAL", "30s")); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.DataStore {
	case "memory", "file":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATA_STORE is postgres but DATABASE_URL is not set")
		}
	default:
		return fmt.Errorf("unsupported DATA_STORE %q", c.DataStore)
	}

	switch c.IdentityProvider {
	case "local":
	case "cognito":
		var missing []string
		if c.Cognito.Region == "" {
			missing = append(missing, "COGNITO_REGION")
		}
		if c.Cognito.UserPoolID == "" {
			missing = append(missing, "COGNITO_USER_POOL_ID")
		}
		if c.Cognito.ClientID == "" {
			missing = append(missing, "COGNITO_CLIENT_ID")
		}
		if len(missing) > 0 {
			return fmt.Errorf("IDENTITY_PROVIDER is cognito but %s not set", strings.Join(missing, ", "))
		}
	default:
		return fmt.Errorf("unsupported IDENTITY_PROVIDER %q", c.IdentityProvider)
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.CodeResendInterval < 0 {
		return fmt.Errorf("CODE_RESEND_INTERVAL must not be negative")
	}
	return nil
}

// UseInMemoryStore returns true if nothing should outlive the process.
func (c Config) UseInMemoryStore() bool {
	return c.DataStore == "memory"
}

// UsePostgres returns true if todos and local accounts live in postgres.
func (c Config) UsePostgres() bool {
	return c.DataStore == "postgres"
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "todoapp")
	}
	return ".todoapp"
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvOrFile(key, defaultPath string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}

	fileKey := key + "_FILE"
	if path := os.Getenv(fileKey); path != "" {
		return readSecret(path, fileKey)
	}

	if defaultPath != "" {
		return readSecret(defaultPath, key)
	}

	return "", nil
}

func readSecret(path, name string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: reading %s (%s): %w", name, path, err)
	}

	value := strings.TrimSpace(string(contents))
	if value == "" {
		return "", fmt.Errorf("config: %s (%s) is empty", name, path)
	}
	return value, nil
}
