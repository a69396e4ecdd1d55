package retention

import "time"

const (
	ManifestSchemaID      = "retain.manifest"
	ManifestSchemaVersion = "1.0.0"
)

// Manifest is the audit record attached to a retention release.
type Manifest struct {
	SchemaID        string          `json:"schema_id"`
	SchemaVersion   string          `json:"schema_version"`
	CreatedAt       time.Time       `json:"created_at"`
	ProducerVersion string          `json:"producer_version"`
	Repository      string          `json:"repository"`
	Run             Run             `json:"run"`
	Release         Release         `json:"release"`
	Capability      Capability      `json:"capability"`
	Artifacts       []ArtifactEntry `json:"artifacts"`
	ManifestDigest  string          `json:"manifest_digest"`
	Signatures      []Signature     `json:"signatures,omitempty"`
}

type Run struct {
	ID        string `json:"id"`
	Attempt   int    `json:"attempt,omitempty"`
	SHA       string `json:"sha,omitempty"`
	RefName   string `json:"ref_name,omitempty"`
	Workflow  string `json:"workflow,omitempty"`
	EventName string `json:"event_name,omitempty"`
	Actor     string `json:"actor,omitempty"`
	URL       string `json:"url"`
}

type Release struct {
	ID  int64  `json:"id"`
	Tag string `json:"tag"`
	URL string `json:"url"`
}

type Capability struct {
	Level   string   `json:"level"`
	Reasons []string `json:"reasons"`
}

type ArtifactEntry struct {
	ArtifactID int64  `json:"artifact_id"`
	Name       string `json:"name"`
	AssetName  string `json:"asset_name"`
	Status     string `json:"status"`
	SizeBytes  int64  `json:"size_bytes"`
	SHA256     string `json:"sha256,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
}

type Signature struct {
	Alg          string `json:"alg"`
	KeyID        string `json:"key_id"`
	Sig          string `json:"sig"`
	SignedDigest string `json:"signed_digest"`
}
