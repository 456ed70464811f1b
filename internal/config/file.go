package config

import (
	"fmt"
	"strconv"

	"github.com/BurntSushi/toml"
)

// fileConfig is the layout of the optional TOML config file.
type fileConfig struct {
	Environment string `toml:"environment"`

	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
		File   string `toml:"file"`
	} `toml:"log"`

	Storage struct {
		Driver      string `toml:"driver"`
		Dir         string `toml:"dir"`
		DatabaseURL string `toml:"database_url"`
	} `toml:"storage"`

	Identity struct {
		Provider             string `toml:"provider"`
		MinPasswordLength    int    `toml:"min_password_length"`
		RequireVerifiedEmail *bool  `toml:"require_verified_email"`
		SessionTTL           string `toml:"session_ttl"`
		CodeResendInterval   string `toml:"code_resend_interval"`
		CredentialsFile      string `toml:"credentials_file"`

		Cognito struct {
			Region       string `toml:"region"`
			UserPoolID   string `toml:"user_pool_id"`
			ClientID     string `toml:"client_id"`
			ClientSecret string `toml:"client_secret"`
		} `toml:"cognito"`
	} `toml:"identity"`

	Metrics struct {
		File string `toml:"file"`
	} `toml:"metrics"`
}

// fileValues holds file settings under their environment variable names.
type fileValues map[string]string

func (v fileValues) get(key, fallback string) string {
	if value, ok := v[key]; ok && value != "" {
		return value
	}
	return fallback
}

func loadFile(path string) (fileValues, error) {
	if path == "" {
		return fileValues{}, nil
	}

	var fc fileConfig
	meta, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
	}

	values := fileValues{
		"APP_ENV":               fc.Environment,
		"LOG_LEVEL":             fc.Log.Level,
		"LOG_FORMAT":            fc.Log.Format,
		"LOG_FILE":              fc.Log.File,
		"DATA_STORE":            fc.Storage.Driver,
		"DATA_DIR":              fc.Storage.Dir,
		"DATABASE_URL":          fc.Storage.DatabaseURL,
		"IDENTITY_PROVIDER":     fc.Identity.Provider,
		"SESSION_TTL":           fc.Identity.SessionTTL,
		"CODE_RESEND_INTERVAL":  fc.Identity.CodeResendInterval,
		"CREDENTIALS_FILE":      fc.Identity.CredentialsFile,
		"COGNITO_REGION":        fc.Identity.Cognito.Region,
		"COGNITO_USER_POOL_ID":  fc.Identity.Cognito.UserPoolID,
		"COGNITO_CLIENT_ID":     fc.Identity.Cognito.ClientID,
		"COGNITO_CLIENT_SECRET": fc.Identity.Cognito.ClientSecret,
		"METRICS_FILE":          fc.Metrics.File,
	}
	if fc.Identity.MinPasswordLength != 0 {
		values["MIN_PASSWORD_LENGTH"] = strconv.Itoa(fc.Identity.MinPasswordLength)
	}
	if fc.Identity.RequireVerifiedEmail != nil {
		values["REQUIRE_VERIFIED_EMAIL"] = strconv.FormatBool(*fc.Identity.RequireVerifiedEmail)
	}
	return values, nil
}
