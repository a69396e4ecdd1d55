package upstream

import "time"

type Repository struct {
	ID                  int64                `json:"id"`
	Name                string               `json:"name"`
	FullName            string               `json:"full_name"`
	Private             bool                 `json:"private"`
	Visibility          string               `json:"visibility,omitempty"`
	Owner               Owner                `json:"owner"`
	SecurityAndAnalysis *SecurityAndAnalysis `json:"security_and_analysis,omitempty"`
}

type Owner struct {
	Login string `json:"login"`
	Type  string `json:"type"`
}

type SecurityAndAnalysis struct {
	AdvancedSecurity             *FeatureStatus `json:"advanced_security,omitempty"`
	SecretScanning               *FeatureStatus `json:"secret_scanning,omitempty"`
	SecretScanningPushProtection *FeatureStatus `json:"secret_scanning_push_protection,omitempty"`
	DependabotSecurityUpdates    *FeatureStatus `json:"dependabot_security_updates,omitempty"`
}

type FeatureStatus struct {
	Status string `json:"status"`
}

func (f *FeatureStatus) Enabled() bool {
	return f != nil && f.Status == "enabled"
}

type ArtifactList struct {
	TotalCount int        `json:"total_count"`
	Artifacts  []Artifact `json:"artifacts"`
}

type Artifact struct {
	ID                 int64      `json:"id"`
	NodeID             string     `json:"node_id,omitempty"`
	Name               string     `json:"name"`
	SizeInBytes        int64      `json:"size_in_bytes"`
	URL                string     `json:"url,omitempty"`
	ArchiveDownloadURL string     `json:"archive_download_url,omitempty"`
	Expired            bool       `json:"expired"`
	CreatedAt          *time.Time `json:"created_at,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	Digest             string     `json:"digest,omitempty"`
}

type CreateReleaseRequest struct {
	TagName         string `json:"tag_name"`
	TargetCommitish string `json:"target_commitish,omitempty"`
	Name            string `json:"name,omitempty"`
	Body            string `json:"body,omitempty"`
	Draft           bool   `json:"draft"`
	Prerelease      bool   `json:"prerelease"`
	MakeLatest      string `json:"make_latest,omitempty"`
}

type Release struct {
	ID         int64  `json:"id"`
	TagName    string `json:"tag_name"`
	Name       string `json:"name"`
	HTMLURL    string `json:"html_url"`
	UploadURL  string `json:"upload_url"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
	Immutable  bool   `json:"immutable,omitempty"`
}

type ReleaseAsset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Label              string `json:"label,omitempty"`
	State              string `json:"state"`
	ContentType        string `json:"content_type,omitempty"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url,omitempty"`
}

const AssetStateUploaded = "uploaded"

// ErrorResponse is the error document returned with 4xx responses.
type ErrorResponse struct {
	Message          string        `json:"message"`
	DocumentationURL string        `json:"documentation_url,omitempty"`
	Errors           []ErrorDetail `json:"errors,omitempty"`
}

type ErrorDetail struct {
	Resource string `json:"resource,omitempty"`
	Field    string `json:"field,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

// GitRef is a reference in the repository's git database, e.g. refs/tags/v1.
type GitRef struct {
	Ref    string       `json:"ref"`
	NodeID string       `json:"node_id,omitempty"`
	URL    string       `json:"url,omitempty"`
	Object GitRefObject `json:"object"`
}

type GitRefObject struct {
	Type string `json:"type"`
	SHA  string `json:"sha"`
}
