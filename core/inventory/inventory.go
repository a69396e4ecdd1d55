package inventory

import (
	"time"

	coreerrors "github.com/davidahmann/retain/core/errors"
	"github.com/davidahmann/retain/core/schema/v1/upstream"
)

// Artifact is one run artifact as the store reported it.
type Artifact struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
	Expired     bool      `json:"expired,omitempty"`
	DownloadURL string    `json:"-"`
	Digest      string    `json:"digest,omitempty"`
}

// Inventory keeps the store's listing order. TotalCount and TotalSizeBytes
// always match Artifacts.
type Inventory struct {
	Artifacts      []Artifact `json:"artifacts"`
	TotalCount     int        `json:"total_count"`
	TotalSizeBytes int64      `json:"total_size_bytes"`
}

func NewInventory(artifacts []Artifact) Inventory {
	copied := make([]Artifact, len(artifacts))
	copy(copied, artifacts)
	var total int64
	for _, artifact := range copied {
		total += artifact.SizeBytes
	}
	return Inventory{Artifacts: copied, TotalCount: len(copied), TotalSizeBytes: total}
}

func (i Inventory) Empty() bool {
	return len(i.Artifacts) == 0
}

// FromUpstream converts and validates one listed artifact.
func FromUpstream(raw upstream.Artifact) (Artifact, error) {
	if raw.ID <= 0 {
		return Artifact{}, coreerrors.Discovery("malformed_listing", "artifact %q has invalid id %d", raw.Name, raw.ID)
	}
	if raw.Name == "" {
		return Artifact{}, coreerrors.Discovery("malformed_listing", "artifact %d has an empty name", raw.ID)
	}
	if raw.SizeInBytes < 0 {
		return Artifact{}, coreerrors.Discovery("malformed_listing", "artifact %q has negative size %d", raw.Name, raw.SizeInBytes)
	}
	artifact := Artifact{
		ID:          raw.ID,
		Name:        raw.Name,
		SizeBytes:   raw.SizeInBytes,
		Expired:     raw.Expired,
		DownloadURL: raw.ArchiveDownloadURL,
		Digest:      raw.Digest,
	}
	if raw.CreatedAt != nil {
		artifact.CreatedAt = raw.CreatedAt.UTC()
	}
	if raw.ExpiresAt != nil {
		artifact.ExpiresAt = raw.ExpiresAt.UTC()
	}
	return artifact, nil
}
