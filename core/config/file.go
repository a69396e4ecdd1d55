package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"

	coreerrors "github.com/davidahmann/retain/core/errors"
)

const DefaultPath = ".retain/config.yaml"

// File is the optional project config committed next to the workflow.
type File struct {
	Release  ReleaseDefaults  `yaml:"release"`
	Transfer TransferDefaults `yaml:"transfer"`
	Manifest ManifestDefaults `yaml:"manifest"`
	API      APIDefaults      `yaml:"api"`
}

type ReleaseDefaults struct {
	Tag           string `yaml:"tag"`
	Name          string `yaml:"name"`
	Body          string `yaml:"body"`
	Prerelease    *bool  `yaml:"prerelease"`
	RetentionDays *int   `yaml:"artifact_retention_days"`
}

type TransferDefaults struct {
	Concurrency     *int   `yaml:"concurrency"`
	MaxAttempts     *int   `yaml:"max_attempts"`
	RequestTimeout  string `yaml:"request_timeout"`
	TransferTimeout string `yaml:"transfer_timeout"`
}

type ManifestDefaults struct {
	Enabled        *bool  `yaml:"enabled"`
	SigningKeyPath string `yaml:"signing_key_path"`
	SigningKeyEnv  string `yaml:"signing_key_env"`
}

type APIDefaults struct {
	URL string `yaml:"url"`
}

func LoadFile(path string, allowMissing bool) (File, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return File{}, coreerrors.Configuration("project config path is required")
	}

	// #nosec G304 -- project config path is explicit local user input.
	content, err := os.ReadFile(trimmedPath)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return File{}, nil
		}
		return File{}, coreerrors.Configuration("read project config: %v", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return File{}, nil
	}

	var file File
	if err := yaml.UnmarshalWithOptions(content, &file, yaml.DisallowUnknownField()); err != nil {
		return File{}, coreerrors.Configuration("parse project config %s: %v", trimmedPath, err)
	}
	file.normalize()
	return file, nil
}

func (file *File) normalize() {
	file.Release.Tag = strings.TrimSpace(file.Release.Tag)
	file.Release.Name = strings.TrimSpace(file.Release.Name)
	file.Transfer.RequestTimeout = strings.TrimSpace(file.Transfer.RequestTimeout)
	file.Transfer.TransferTimeout = strings.TrimSpace(file.Transfer.TransferTimeout)
	file.Manifest.SigningKeyPath = strings.TrimSpace(file.Manifest.SigningKeyPath)
	file.Manifest.SigningKeyEnv = strings.TrimSpace(file.Manifest.SigningKeyEnv)
	file.API.URL = strings.TrimSpace(file.API.URL)
}

// values flattens the file into input-name keyed strings, the lowest
// non-default layer of resolution.
func (file File) values() map[string]string {
	values := map[string]string{}
	set := func(key, value string) {
		if value != "" {
			values[key] = value
		}
	}
	set(KeyReleaseTag, file.Release.Tag)
	set(KeyReleaseName, file.Release.Name)
	set(KeyReleaseBody, file.Release.Body)
	if file.Release.Prerelease != nil {
		set(KeyPrerelease, strconv.FormatBool(*file.Release.Prerelease))
	}
	if file.Release.RetentionDays != nil {
		set(KeyRetentionDays, strconv.Itoa(*file.Release.RetentionDays))
	}
	if file.Transfer.Concurrency != nil {
		set(KeyConcurrency, strconv.Itoa(*file.Transfer.Concurrency))
	}
	if file.Transfer.MaxAttempts != nil {
		set(KeyMaxAttempts, strconv.Itoa(*file.Transfer.MaxAttempts))
	}
	set(KeyRequestTimeout, file.Transfer.RequestTimeout)
	set(KeyTransferTimeout, file.Transfer.TransferTimeout)
	if file.Manifest.Enabled != nil {
		set(KeyManifest, strconv.FormatBool(*file.Manifest.Enabled))
	}
	set(KeySigningKeyPath, file.Manifest.SigningKeyPath)
	set(KeySigningKeyEnv, file.Manifest.SigningKeyEnv)
	set(KeyAPIURL, file.API.URL)
	return values
}
