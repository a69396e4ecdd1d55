package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	coreerrors "github.com/davidahmann/retain/core/errors"
	"github.com/davidahmann/retain/core/github"
)

func envLookup(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadFileAllowMissing(t *testing.T) {
	file, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), true)
	if err != nil {
		t.Fatalf("LoadFile allow missing: %v", err)
	}
	if len(file.values()) != 0 {
		t.Fatalf("expected empty file, got %+v", file)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), false); err == nil {
		t.Fatalf("expected missing required config error")
	}
}

func TestLoadFileParsesAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
release:
  tag: " nightly "
  prerelease: true
  artifact_retention_days: 30
transfer:
  concurrency: 8
  request_timeout: " 90s "
manifest:
  enabled: false
api:
  url: " https://ghe.example.com/api/v3 "
`)
	file, err := LoadFile(path, false)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	values := file.values()
	want := map[string]string{
		KeyReleaseTag:     "nightly",
		KeyPrerelease:     "true",
		KeyRetentionDays:  "30",
		KeyConcurrency:    "8",
		KeyRequestTimeout: "90s",
		KeyManifest:       "false",
		KeyAPIURL:         "https://ghe.example.com/api/v3",
	}
	for key, value := range want {
		if values[key] != value {
			t.Fatalf("%s = %q, want %q", key, values[key], value)
		}
	}
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "release:\n  tags: nightly\n")
	_, err := LoadFile(path, false)
	if coreerrors.CategoryOf(err) != coreerrors.CategoryConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestResolveDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	settings, err := Resolve(Sources{Lookup: envLookup(map[string]string{"GITHUB_TOKEN": "tok"})})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if settings.Token != "tok" || settings.APIURL != github.DefaultAPIURL || settings.Concurrency != 4 || !settings.Manifest || settings.Prerelease {
		t.Fatalf("unexpected defaults: %+v", settings)
	}
	if settings.RequestTimeout != 60*time.Second || settings.TransferTimeout != 30*time.Minute {
		t.Fatalf("unexpected timeouts: %+v", settings)
	}
	if err := settings.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestResolvePrecedence(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "retain.yaml")
	writeFile(t, configPath, `
release:
  tag: from-yaml
  name: yaml name
  artifact_retention_days: 10
transfer:
  concurrency: 2
  max_attempts: 2
`)
	envPath := filepath.Join(dir, "ci.env")
	writeFile(t, envPath, "INPUT_RELEASE_NAME=dotenv name\nRETAIN_CONCURRENCY=3\nGITHUB_TOKEN=dotenv-token\n")

	settings, err := Resolve(Sources{
		ConfigPath: configPath,
		EnvFile:    envPath,
		Lookup: envLookup(map[string]string{
			"INPUT_GITHUB_TOKEN":  "input-token",
			"INPUT_CONCURRENCY":   "6",
			"INPUT_RELEASE_BODY":  "",
			"RETAIN_MAX_ATTEMPTS": "5",
		}),
		Flags: map[string]string{KeyMaxAttempts: "7"},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"tag from yaml", settings.ReleaseTag, "from-yaml"},
		{"name from .env over yaml", settings.ReleaseName, "dotenv name"},
		{"retention from yaml", settings.RetentionDays, 10},
		{"concurrency from env over .env", settings.Concurrency, 6},
		{"attempts from flag over env", settings.MaxAttempts, 7},
		{"token from input over .env", settings.Token, "input-token"},
		{"empty input ignored", settings.ReleaseBody, ""},
	}
	for _, check := range checks {
		if check.got != check.want {
			t.Fatalf("%s: got %v, want %v", check.name, check.got, check.want)
		}
	}
}

func TestResolveExplicitSourcesMustExist(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	if _, err := Resolve(Sources{ConfigPath: missing, Lookup: envLookup(nil)}); coreerrors.CategoryOf(err) != coreerrors.CategoryConfiguration {
		t.Fatalf("expected configuration error for missing config, got %v", err)
	}
	t.Chdir(t.TempDir())
	if _, err := Resolve(Sources{EnvFile: missing, Lookup: envLookup(nil)}); coreerrors.CategoryOf(err) != coreerrors.CategoryConfiguration {
		t.Fatalf("expected configuration error for missing env file, got %v", err)
	}
}

func TestResolveParseErrors(t *testing.T) {
	t.Chdir(t.TempDir())
	cases := map[string]string{
		KeyPrerelease:      "maybe",
		KeyConcurrency:     "four",
		KeyRequestTimeout:  "soon",
		KeyRetentionDays:   "1.5",
		KeyTransferTimeout: "-",
	}
	for key, value := range cases {
		_, err := Resolve(Sources{Lookup: envLookup(nil), Flags: map[string]string{key: value}})
		if coreerrors.CategoryOf(err) != coreerrors.CategoryConfiguration {
			t.Fatalf("%s=%q: expected configuration error, got %v", key, value, err)
		}
	}
}

func TestParseDurationAcceptsSeconds(t *testing.T) {
	got, err := parseDuration(map[string]string{KeyRequestTimeout: "45"}, KeyRequestTimeout, time.Second)
	if err != nil || got != 45*time.Second {
		t.Fatalf("expected 45s, got %v (%v)", got, err)
	}
}

func TestValidate(t *testing.T) {
	valid := Defaults()
	valid.Token = "tok"
	cases := map[string]func(*Settings){
		"missing token":        func(s *Settings) { s.Token = "" },
		"bad tag":              func(s *Settings) { s.ReleaseTag = "a b" },
		"negative retention":   func(s *Settings) { s.RetentionDays = -1 },
		"zero concurrency":     func(s *Settings) { s.Concurrency = 0 },
		"huge concurrency":     func(s *Settings) { s.Concurrency = 100 },
		"zero attempts":        func(s *Settings) { s.MaxAttempts = 0 },
		"zero timeout":         func(s *Settings) { s.RequestTimeout = 0 },
		"two key sources":      func(s *Settings) { s.SigningKeyPath, s.SigningKeyEnv = "k", "K" },
		"key without manifest": func(s *Settings) { s.SigningKeyEnv, s.Manifest = "K", false },
	}
	for name, mutate := range cases {
		settings := valid
		mutate(&settings)
		if err := settings.Validate(); coreerrors.CategoryOf(err) != coreerrors.CategoryConfiguration {
			t.Fatalf("%s: expected configuration error, got %v", name, err)
		}
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid settings: %v", err)
	}
}

func TestOverridesAndPolicy(t *testing.T) {
	settings := Defaults()
	settings.ReleaseName = "custom"
	settings.MaxAttempts = 2
	overrides := settings.Overrides()
	if overrides.Title != "custom" || overrides.Prerelease == nil || *overrides.Prerelease {
		t.Fatalf("unexpected overrides: %+v", overrides)
	}
	if policy := settings.RetryPolicy(); policy.MaxAttempts != 2 {
		t.Fatalf("unexpected policy: %+v", policy)
	}
	if settings.SigningEnabled() {
		t.Fatalf("signing should be off by default")
	}
}
