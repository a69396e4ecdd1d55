// Package config resolves run settings from, highest first: command-line
// flags, INPUT_* and RETAIN_* environment variables, a .env file, the
// project YAML file, and defaults. Resolution never touches the network.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/davidahmann/retain/core/descriptor"
	coreerrors "github.com/davidahmann/retain/core/errors"
	"github.com/davidahmann/retain/core/github"
	"github.com/davidahmann/retain/core/retry"
	"github.com/davidahmann/retain/core/sign"
)

// Input names, shared by flags, action inputs and the YAML file.
const (
	KeyToken           = "github_token"
	KeyReleaseTag      = "release_tag"
	KeyReleaseName     = "release_name"
	KeyReleaseBody     = "release_body"
	KeyPrerelease      = "prerelease"
	KeyRetentionDays   = "artifact_retention_days"
	KeyConcurrency     = "concurrency"
	KeyMaxAttempts     = "max_attempts"
	KeyRequestTimeout  = "request_timeout"
	KeyTransferTimeout = "transfer_timeout"
	KeyAPIURL          = "api_url"
	KeyManifest        = "manifest"
	KeySigningKeyPath  = "signing_key_path"
	KeySigningKeyEnv   = "signing_key_env"

	DefaultEnvFile = ".env"

	maxConcurrency = 32
	maxAttempts    = 10
)

var keys = []string{
	KeyToken, KeyReleaseTag, KeyReleaseName, KeyReleaseBody, KeyPrerelease,
	KeyRetentionDays, KeyConcurrency, KeyMaxAttempts, KeyRequestTimeout,
	KeyTransferTimeout, KeyAPIURL, KeyManifest, KeySigningKeyPath, KeySigningKeyEnv,
}

// Keys lists every recognised input name.
func Keys() []string {
	return append([]string(nil), keys...)
}

type Settings struct {
	Token           string        `json:"-"`
	APIURL          string        `json:"api_url"`
	ReleaseTag      string        `json:"release_tag,omitempty"`
	ReleaseName     string        `json:"release_name,omitempty"`
	ReleaseBody     string        `json:"release_body,omitempty"`
	Prerelease      bool          `json:"prerelease"`
	RetentionDays   int           `json:"artifact_retention_days"`
	Concurrency     int           `json:"concurrency"`
	MaxAttempts     int           `json:"max_attempts"`
	RequestTimeout  time.Duration `json:"request_timeout"`
	TransferTimeout time.Duration `json:"transfer_timeout"`
	Manifest        bool          `json:"manifest"`
	SigningKeyPath  string        `json:"signing_key_path,omitempty"`
	SigningKeyEnv   string        `json:"signing_key_env,omitempty"`
}

func Defaults() Settings {
	return Settings{
		APIURL:          github.DefaultAPIURL,
		Concurrency:     4,
		MaxAttempts:     retry.DefaultMaxAttempts,
		RequestTimeout:  github.DefaultRequestTimeout,
		TransferTimeout: github.DefaultTransferTimeout,
		Manifest:        true,
	}
}

type Sources struct {
	// ConfigPath is the project YAML file. Empty means DefaultPath, which
	// may be absent; an explicit path must exist.
	ConfigPath string
	// EnvFile is read with godotenv. Empty means DefaultEnvFile, which may
	// be absent; an explicit path must exist.
	EnvFile string
	// Lookup reads the process environment; nil means os.LookupEnv.
	Lookup func(string) (string, bool)
	// Flags holds only the flags set on the command line, by input name.
	Flags map[string]string
}

// Resolve layers every source over the defaults and parses the result.
// It does not validate; call Settings.Validate.
func Resolve(sources Sources) (Settings, error) {
	lookup := sources.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	configPath, allowMissing := sources.ConfigPath, false
	if strings.TrimSpace(configPath) == "" {
		configPath, allowMissing = DefaultPath, true
	}
	file, err := LoadFile(configPath, allowMissing)
	if err != nil {
		return Settings{}, err
	}
	values := file.values()

	envFile, err := readEnvFile(sources.EnvFile)
	if err != nil {
		return Settings{}, err
	}
	fromMap := func(key string) (string, bool) {
		value, ok := envFile[key]
		return value, ok
	}
	for _, key := range keys {
		if value, ok := envValue(fromMap, key); ok {
			values[key] = value
		}
	}
	for _, key := range keys {
		if value, ok := envValue(lookup, key); ok {
			values[key] = value
		}
	}
	for key, value := range sources.Flags {
		values[key] = value
	}
	return parse(values)
}

func readEnvFile(path string) (map[string]string, error) {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultEnvFile
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return map[string]string{}, nil
		}
		return nil, coreerrors.Configuration("read env file %s: %v", path, err)
	}
	return values, nil
}

// envValue reads key as an action input, then as a RETAIN_ variable, then
// from the runner variables that name the same setting. Empty values are
// treated as unset because the runner passes every declared input.
func envValue(lookup func(string) (string, bool), key string) (string, bool) {
	upper := strings.ToUpper(key)
	candidates := []string{"INPUT_" + upper, "RETAIN_" + upper}
	switch key {
	case KeyToken:
		candidates = append(candidates, "GITHUB_TOKEN")
	case KeyAPIURL:
		candidates = append(candidates, "GITHUB_API_URL")
	}
	for _, name := range candidates {
		if value, ok := lookup(name); ok && strings.TrimSpace(value) != "" {
			return value, true
		}
	}
	return "", false
}

func parse(values map[string]string) (Settings, error) {
	settings := Defaults()
	text := func(key string, target *string) {
		if value, ok := values[key]; ok {
			*target = strings.TrimSpace(value)
		}
	}
	text(KeyToken, &settings.Token)
	text(KeyAPIURL, &settings.APIURL)
	text(KeyReleaseTag, &settings.ReleaseTag)
	text(KeyReleaseName, &settings.ReleaseName)
	text(KeySigningKeyPath, &settings.SigningKeyPath)
	text(KeySigningKeyEnv, &settings.SigningKeyEnv)
	if value, ok := values[KeyReleaseBody]; ok {
		settings.ReleaseBody = value
	}

	var err error
	if settings.Prerelease, err = parseBool(values, KeyPrerelease, settings.Prerelease); err != nil {
		return Settings{}, err
	}
	if settings.Manifest, err = parseBool(values, KeyManifest, settings.Manifest); err != nil {
		return Settings{}, err
	}
	if settings.RetentionDays, err = parseInt(values, KeyRetentionDays, settings.RetentionDays); err != nil {
		return Settings{}, err
	}
	if settings.Concurrency, err = parseInt(values, KeyConcurrency, settings.Concurrency); err != nil {
		return Settings{}, err
	}
	if settings.MaxAttempts, err = parseInt(values, KeyMaxAttempts, settings.MaxAttempts); err != nil {
		return Settings{}, err
	}
	if settings.RequestTimeout, err = parseDuration(values, KeyRequestTimeout, settings.RequestTimeout); err != nil {
		return Settings{}, err
	}
	if settings.TransferTimeout, err = parseDuration(values, KeyTransferTimeout, settings.TransferTimeout); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func parseBool(values map[string]string, key string, fallback bool) (bool, error) {
	raw, ok := values[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, coreerrors.Configuration("%s must be true or false, got %q", key, raw)
	}
	return parsed, nil
}

func parseInt(values map[string]string, key string, fallback int) (int, error) {
	raw, ok := values[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, coreerrors.Configuration("%s must be an integer, got %q", key, raw)
	}
	return parsed, nil
}

// parseDuration accepts Go durations ("90s", "5m") and bare seconds.
func parseDuration(values map[string]string, key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := values[key]
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return fallback, nil
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, coreerrors.Configuration("%s must be a duration such as 60s or 30m, got %q", key, raw)
	}
	return parsed, nil
}

// Validate reports the first setting that would make a run fail before any
// network call.
func (s Settings) Validate() error {
	if s.Token == "" {
		return coreerrors.Configuration("%s is required", KeyToken)
	}
	if s.ReleaseTag != "" {
		if err := descriptor.ValidateTag(s.ReleaseTag); err != nil {
			return err
		}
	}
	if s.RetentionDays < 0 {
		return coreerrors.Configuration("%s must be >= 0, got %d", KeyRetentionDays, s.RetentionDays)
	}
	if s.Concurrency < 1 || s.Concurrency > maxConcurrency {
		return coreerrors.Configuration("%s must be between 1 and %d, got %d", KeyConcurrency, maxConcurrency, s.Concurrency)
	}
	if s.MaxAttempts < 1 || s.MaxAttempts > maxAttempts {
		return coreerrors.Configuration("%s must be between 1 and %d, got %d", KeyMaxAttempts, maxAttempts, s.MaxAttempts)
	}
	if s.RequestTimeout <= 0 {
		return coreerrors.Configuration("%s must be positive", KeyRequestTimeout)
	}
	if s.TransferTimeout <= 0 {
		return coreerrors.Configuration("%s must be positive", KeyTransferTimeout)
	}
	if s.SigningKeyPath != "" && s.SigningKeyEnv != "" {
		return coreerrors.Configuration("set only one of %s and %s", KeySigningKeyPath, KeySigningKeyEnv)
	}
	if (s.SigningKeyPath != "" || s.SigningKeyEnv != "") && !s.Manifest {
		return coreerrors.Configuration("a signing key requires %s to be enabled", KeyManifest)
	}
	return nil
}

// Overrides returns the release descriptor overrides. Prerelease is always
// explicit because it has a default.
func (s Settings) Overrides() descriptor.Overrides {
	prerelease := s.Prerelease
	return descriptor.Overrides{
		Tag:        s.ReleaseTag,
		Title:      s.ReleaseName,
		Body:       s.ReleaseBody,
		Prerelease: &prerelease,
	}
}

func (s Settings) RetryPolicy() retry.Policy {
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = s.MaxAttempts
	return policy
}

func (s Settings) KeyConfig(lookup func(string) (string, bool)) sign.KeyConfig {
	return sign.KeyConfig{
		PrivateKeyPath: s.SigningKeyPath,
		PrivateKeyEnv:  s.SigningKeyEnv,
		Lookup:         lookup,
	}
}

func (s Settings) SigningEnabled() bool {
	return s.SigningKeyPath != "" || s.SigningKeyEnv != ""
}
