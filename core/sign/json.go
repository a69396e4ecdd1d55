package sign

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Canonicalize returns the RFC 8785 form of a JSON document.
func Canonicalize(input []byte) ([]byte, error) {
	return jcs.Transform(input)
}

// DigestJSON is the hex sha256 of the canonical form of input.
func DigestJSON(input []byte) (string, error) {
	canonical, err := Canonicalize(input)
	if err != nil {
		return "", fmt.Errorf("canonicalize json: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func SignJSON(priv ed25519.PrivateKey, input []byte) (Signature, error) {
	digest, err := DigestJSON(input)
	if err != nil {
		return Signature{}, err
	}
	return SignDigest(priv, digest)
}

// VerifyJSON checks that sig was made over input's canonical digest.
func VerifyJSON(pub ed25519.PublicKey, sig Signature, input []byte) error {
	digest, err := DigestJSON(input)
	if err != nil {
		return err
	}
	if sig.SignedDigest != digest {
		return fmt.Errorf("signed_digest mismatch: signature covers %s, document is %s", sig.SignedDigest, digest)
	}
	return VerifyDigest(pub, sig)
}
