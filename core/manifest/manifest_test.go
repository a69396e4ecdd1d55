package manifest

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/davidahmann/retain/core/capability"
	coreerrors "github.com/davidahmann/retain/core/errors"
	"github.com/davidahmann/retain/core/publish"
	"github.com/davidahmann/retain/core/runenv"
	"github.com/davidahmann/retain/core/sign"
	"github.com/davidahmann/retain/core/transfer"
)

func testInput() Input {
	return Input{
		Run:     runenv.Context{Repository: "acme/widgets", RunID: "42", RunAttempt: 1, SHA: "abc", Workflow: "build"},
		Release: publish.Release{ID: 7, Tag: "pipeline-42-20261019-090000", URL: "https://github.com/acme/widgets/releases/tag/pipeline-42-20261019-090000"},
		Assessment: capability.Assessment{
			Level:   capability.LevelSupported,
			Reasons: []string{capability.ReasonOrganization},
		},
		Outcomes: []transfer.Outcome{
			{ArtifactID: 1, ArtifactName: "logs", AssetName: "logs.zip", Status: transfer.StatusAttached, SizeBytes: 10, SHA256: strings.Repeat("a", 64)},
			{ArtifactID: 2, ArtifactName: "old", AssetName: "old.zip", Status: transfer.StatusSkipped, ErrorKind: transfer.KindExpired},
		},
		CreatedAt:       time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
		ProducerVersion: "1.0.0",
	}
}

func TestBuildDigestIsStable(t *testing.T) {
	first, err := Build(testInput())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	second, err := Build(testInput())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if first.ManifestDigest == "" || first.ManifestDigest != second.ManifestDigest {
		t.Fatalf("expected stable digest, got %q / %q", first.ManifestDigest, second.ManifestDigest)
	}
	changed := testInput()
	changed.Outcomes[0].SizeBytes = 11
	third, err := Build(changed)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if third.ManifestDigest == first.ManifestDigest {
		t.Fatalf("expected digest to change with content")
	}
}

func TestEncodeVerifyRoundTrip(t *testing.T) {
	built, err := Build(testInput())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	raw, err := Encode(built)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	result, err := Verify(raw, nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Digest != built.ManifestDigest || result.Signed || result.Artifacts != 2 || result.Attached != 1 {
		t.Fatalf("unexpected verification: %+v", result)
	}

	tampered := bytes.Replace(raw, []byte(`"size_bytes": 10`), []byte(`"size_bytes": 12`), 1)
	if _, err := Verify(tampered, nil); coreerrors.CodeOf(err) != codeInvalid {
		t.Fatalf("expected tampered manifest to fail, got %v", err)
	}
	if _, err := Verify([]byte(`{"schema_id":"other"}`), nil); coreerrors.CategoryOf(err) != coreerrors.CategoryDiscovery {
		t.Fatalf("expected schema failure, got %v", err)
	}
}

func TestSignedManifest(t *testing.T) {
	key, err := sign.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	built, err := Build(testInput())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	signed, err := Sign(built, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if signed.ManifestDigest != built.ManifestDigest || len(built.Signatures) != 0 {
		t.Fatalf("signing must not change the digest or the input manifest")
	}
	raw, err := Encode(signed)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	result, err := Verify(raw, key.Public)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Signed || !result.Verified || len(result.KeyIDs) != 1 || result.KeyIDs[0] != sign.KeyID(key.Public) {
		t.Fatalf("unexpected verification: %+v", result)
	}

	other, err := sign.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if _, err := Verify(raw, other.Public); err == nil {
		t.Fatalf("expected verification with another key to fail")
	}
	unsigned, err := Encode(built)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Verify(unsigned, key.Public); err == nil {
		t.Fatalf("expected unsigned manifest to fail when a key is required")
	}
}

func TestBuildEmptyOutcomes(t *testing.T) {
	input := testInput()
	input.Outcomes = nil
	input.Assessment = capability.Assessment{}
	built, err := Build(input)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	raw, err := Encode(built)
	if err != nil {
		t.Fatalf("encode empty manifest: %v", err)
	}
	if !bytes.Contains(raw, []byte(`"artifacts": []`)) || !bytes.Contains(raw, []byte(`"level": "unsupported"`)) {
		t.Fatalf("unexpected manifest:\n%s", raw)
	}
}
