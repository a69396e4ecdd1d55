// Package manifest builds, signs and verifies the retention manifest: a JSON
// record of what a run retained, attached to the release next to the
// artifacts. Digests are taken over the RFC 8785 canonical form with the
// digest and signatures cleared.
package manifest

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"github.com/davidahmann/retain/core/capability"
	coreerrors "github.com/davidahmann/retain/core/errors"
	"github.com/davidahmann/retain/core/publish"
	"github.com/davidahmann/retain/core/runenv"
	"github.com/davidahmann/retain/core/schema/v1/retention"
	"github.com/davidahmann/retain/core/sign"
	"github.com/davidahmann/retain/core/transfer"
)

const (
	AssetName   = "retention-manifest.json"
	ContentType = "application/json"

	codeInvalid = "manifest_invalid"
)

type Input struct {
	Run             runenv.Context
	Release         publish.Release
	Assessment      capability.Assessment
	Outcomes        []transfer.Outcome
	CreatedAt       time.Time
	ProducerVersion string
}

// Build assembles the manifest and sets its digest.
func Build(input Input) (retention.Manifest, error) {
	reasons := append([]string{}, input.Assessment.Reasons...)
	level := input.Assessment.Level
	if level == "" {
		level = capability.LevelUnsupported
	}
	artifacts := make([]retention.ArtifactEntry, 0, len(input.Outcomes))
	for _, outcome := range input.Outcomes {
		artifacts = append(artifacts, retention.ArtifactEntry{
			ArtifactID: outcome.ArtifactID,
			Name:       outcome.ArtifactName,
			AssetName:  outcome.AssetName,
			Status:     string(outcome.Status),
			SizeBytes:  outcome.SizeBytes,
			SHA256:     outcome.SHA256,
			ErrorKind:  outcome.ErrorKind,
		})
	}
	producer := input.ProducerVersion
	if producer == "" {
		producer = "0.0.0-dev"
	}
	manifest := retention.Manifest{
		SchemaID:        retention.ManifestSchemaID,
		SchemaVersion:   retention.ManifestSchemaVersion,
		CreatedAt:       input.CreatedAt.UTC(),
		ProducerVersion: producer,
		Repository:      input.Run.Repository,
		Run: retention.Run{
			ID:        input.Run.RunID,
			Attempt:   input.Run.RunAttempt,
			SHA:       input.Run.SHA,
			RefName:   input.Run.RefName,
			Workflow:  input.Run.Workflow,
			EventName: input.Run.EventName,
			Actor:     input.Run.Actor,
			URL:       input.Run.RunURL(),
		},
		Release: retention.Release{
			ID:  input.Release.ID,
			Tag: input.Release.Tag,
			URL: input.Release.URL,
		},
		Capability: retention.Capability{Level: string(level), Reasons: reasons},
		Artifacts:  artifacts,
	}
	digest, err := Digest(manifest)
	if err != nil {
		return retention.Manifest{}, err
	}
	manifest.ManifestDigest = digest
	return manifest, nil
}

func Digest(manifest retention.Manifest) (string, error) {
	manifest.ManifestDigest = ""
	manifest.Signatures = nil
	raw, err := json.Marshal(manifest)
	if err != nil {
		return "", coreerrors.Wrap(fmt.Errorf("encode manifest: %w", err), coreerrors.CategoryInternalFailure, "encode_failed", "", false)
	}
	digest, err := sign.DigestJSON(raw)
	if err != nil {
		return "", coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "encode_failed", "", false)
	}
	return digest, nil
}

// Sign appends a signature over the manifest digest.
func Sign(manifest retention.Manifest, key sign.KeyPair) (retention.Manifest, error) {
	if manifest.ManifestDigest == "" {
		return retention.Manifest{}, coreerrors.Wrap(fmt.Errorf("manifest has no digest"), coreerrors.CategoryInternalFailure, codeInvalid, "", false)
	}
	signature, err := sign.SignDigest(key.Private, manifest.ManifestDigest)
	if err != nil {
		return retention.Manifest{}, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "sign_failed", "", false)
	}
	manifest.Signatures = append(append([]retention.Signature(nil), manifest.Signatures...), retention.Signature(signature))
	return manifest, nil
}

// Encode renders the manifest as indented JSON and checks it against the
// manifest schema.
func Encode(manifest retention.Manifest) ([]byte, error) {
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("encode manifest: %w", err), coreerrors.CategoryInternalFailure, "encode_failed", "", false)
	}
	if err := retention.ManifestSchema.Validate(raw); err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, codeInvalid, "", false)
	}
	return append(raw, '\n'), nil
}

type Verification struct {
	Digest     string   `json:"digest"`
	Signed     bool     `json:"signed"`
	Verified   bool     `json:"signature_verified"`
	KeyIDs     []string `json:"key_ids,omitempty"`
	Artifacts  int      `json:"artifacts"`
	Attached   int      `json:"attached"`
	ReleaseTag string   `json:"release_tag"`
}

// Verify checks raw against the schema and its recorded digest. When pub is
// non-nil at least one signature must verify with it.
func Verify(raw []byte, pub ed25519.PublicKey) (Verification, error) {
	if err := retention.ManifestSchema.Validate(raw); err != nil {
		return Verification{}, invalid(err)
	}
	var manifest retention.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return Verification{}, invalid(fmt.Errorf("decode manifest: %w", err))
	}
	digest, err := Digest(manifest)
	if err != nil {
		return Verification{}, err
	}
	if digest != manifest.ManifestDigest {
		return Verification{}, invalid(fmt.Errorf("manifest_digest mismatch: recorded %s, computed %s", manifest.ManifestDigest, digest))
	}
	result := Verification{
		Digest:     digest,
		Signed:     len(manifest.Signatures) > 0,
		Artifacts:  len(manifest.Artifacts),
		ReleaseTag: manifest.Release.Tag,
	}
	for _, artifact := range manifest.Artifacts {
		if artifact.Status == string(transfer.StatusAttached) {
			result.Attached++
		}
	}
	for _, signature := range manifest.Signatures {
		result.KeyIDs = append(result.KeyIDs, signature.KeyID)
	}
	if pub == nil {
		return result, nil
	}
	if !result.Signed {
		return result, invalid(fmt.Errorf("manifest is not signed"))
	}
	var lastErr error
	for _, signature := range manifest.Signatures {
		if signature.SignedDigest != digest {
			lastErr = fmt.Errorf("signature %s covers %s, not the manifest digest", signature.KeyID, signature.SignedDigest)
			continue
		}
		if err := sign.VerifyDigest(pub, sign.Signature(signature)); err != nil {
			lastErr = err
			continue
		}
		result.Verified = true
		return result, nil
	}
	return result, invalid(fmt.Errorf("no signature verifies with key %s: %w", sign.KeyID(pub), lastErr))
}

func invalid(err error) error {
	return coreerrors.Wrap(err, coreerrors.CategoryDiscovery, codeInvalid, "the manifest was modified or is not a retention manifest", false)
}
