// Package sign holds the ed25519 primitives used to sign retention
// manifests. Signatures cover the sha256 digest of a canonical document.
package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

const AlgEd25519 = "ed25519"

var ErrSignatureMismatch = errors.New("signature does not verify")

type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

type Signature struct {
	Alg          string `json:"alg"`
	KeyID        string `json:"key_id"`
	Sig          string `json:"sig"`
	SignedDigest string `json:"signed_digest"`
}

func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// KeyID is the hex sha256 of the raw public key.
func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// SignDigest signs the raw bytes of a hex sha256 digest.
func SignDigest(priv ed25519.PrivateKey, digestHex string) (Signature, error) {
	digest, err := decodeDigest(digestHex)
	if err != nil {
		return Signature{}, err
	}
	return Signature{
		Alg:          AlgEd25519,
		KeyID:        KeyID(priv.Public().(ed25519.PublicKey)),
		Sig:          base64.StdEncoding.EncodeToString(ed25519.Sign(priv, digest)),
		SignedDigest: digestHex,
	}, nil
}

// VerifyDigest checks sig against pub. It does not compare SignedDigest with
// any document; callers that hold the document use VerifyJSON.
func VerifyDigest(pub ed25519.PublicKey, sig Signature) error {
	if sig.Alg != AlgEd25519 {
		return fmt.Errorf("unsupported alg: %q", sig.Alg)
	}
	if sig.KeyID != "" && sig.KeyID != KeyID(pub) {
		return fmt.Errorf("key id mismatch: signature %s, key %s", sig.KeyID, KeyID(pub))
	}
	digest, err := decodeDigest(sig.SignedDigest)
	if err != nil {
		return err
	}
	raw, err := base64.StdEncoding.DecodeString(sig.Sig)
	if err != nil {
		return fmt.Errorf("decode sig: %w", err)
	}
	if len(raw) != ed25519.SignatureSize {
		return fmt.Errorf("invalid signature length: %d", len(raw))
	}
	if !ed25519.Verify(pub, digest, raw) {
		return ErrSignatureMismatch
	}
	return nil
}

func decodeDigest(digestHex string) ([]byte, error) {
	if digestHex == "" {
		return nil, errors.New("missing signed_digest")
	}
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return nil, fmt.Errorf("decode digest: %w", err)
	}
	if len(digest) != sha256.Size {
		return nil, fmt.Errorf("invalid digest length: %d", len(digest))
	}
	return digest, nil
}
