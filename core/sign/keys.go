package sign

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// KeyConfig names where keys come from: a file path or an environment
// variable holding base64 key bytes, never both for the same key.
type KeyConfig struct {
	PrivateKeyPath string
	PrivateKeyEnv  string
	PublicKeyPath  string
	PublicKeyEnv   string
	// Lookup resolves environment variables; nil means os.LookupEnv.
	Lookup func(string) (string, bool)
}

func (cfg KeyConfig) HasPrivateKey() bool {
	return cfg.PrivateKeyPath != "" || cfg.PrivateKeyEnv != ""
}

func (cfg KeyConfig) HasPublicKey() bool {
	return cfg.PublicKeyPath != "" || cfg.PublicKeyEnv != ""
}

// LoadSigningKey loads the private key and, when configured, checks that the
// public key belongs to it.
func LoadSigningKey(cfg KeyConfig) (KeyPair, error) {
	raw, err := cfg.read("private", cfg.PrivateKeyPath, cfg.PrivateKeyEnv)
	if err != nil {
		return KeyPair{}, err
	}
	priv, err := ParsePrivateKey(raw)
	if err != nil {
		return KeyPair{}, err
	}
	pub := priv.Public().(ed25519.PublicKey)
	if cfg.HasPublicKey() {
		loaded, err := LoadVerifyKey(KeyConfig{PublicKeyPath: cfg.PublicKeyPath, PublicKeyEnv: cfg.PublicKeyEnv, Lookup: cfg.Lookup})
		if err != nil {
			return KeyPair{}, err
		}
		if !loaded.Equal(pub) {
			return KeyPair{}, fmt.Errorf("public key does not match private key")
		}
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// LoadVerifyKey prefers the public key source and falls back to deriving it
// from the private key.
func LoadVerifyKey(cfg KeyConfig) (ed25519.PublicKey, error) {
	if cfg.HasPublicKey() {
		raw, err := cfg.read("public", cfg.PublicKeyPath, cfg.PublicKeyEnv)
		if err != nil {
			return nil, err
		}
		return ParsePublicKey(raw)
	}
	if cfg.HasPrivateKey() {
		pair, err := LoadSigningKey(KeyConfig{PrivateKeyPath: cfg.PrivateKeyPath, PrivateKeyEnv: cfg.PrivateKeyEnv, Lookup: cfg.Lookup})
		if err != nil {
			return nil, err
		}
		return pair.Public, nil
	}
	return nil, fmt.Errorf("public key not configured")
}

func (cfg KeyConfig) read(kind, path, env string) (string, error) {
	switch {
	case path != "" && env != "":
		return "", fmt.Errorf("%s key source: set either path or env", kind)
	case path != "":
		// #nosec G304 -- the key path is operator-supplied configuration.
		content, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s key: %w", kind, err)
		}
		return strings.TrimSpace(string(content)), nil
	case env != "":
		lookup := cfg.Lookup
		if lookup == nil {
			lookup = os.LookupEnv
		}
		value, ok := lookup(env)
		value = strings.TrimSpace(value)
		if !ok || value == "" {
			return "", fmt.Errorf("%s key env not set: %s", kind, env)
		}
		return value, nil
	default:
		return "", fmt.Errorf("%s key not configured", kind)
	}
}

func ParsePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("invalid private key length: %d", len(raw))
	}
}

func ParsePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key length: %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

func EncodePublicKey(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}

func EncodePrivateKey(priv ed25519.PrivateKey) string {
	return base64.StdEncoding.EncodeToString(priv)
}
