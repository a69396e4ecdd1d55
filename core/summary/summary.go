// Package summary folds the results of every pipeline stage into the record
// reported to the caller. Summarize accepts whatever stages completed.
package summary

import (
	"sort"
	"strconv"

	"github.com/davidahmann/retain/core/capability"
	coreerrors "github.com/davidahmann/retain/core/errors"
	"github.com/davidahmann/retain/core/inventory"
	"github.com/davidahmann/retain/core/publish"
	"github.com/davidahmann/retain/core/transfer"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Input carries stage results; nil means the stage did not complete.
type Input struct {
	Assessment     *capability.Assessment
	Inventory      *inventory.Inventory
	Release        *publish.Release
	Outcomes       []transfer.Outcome
	Err            error
	ManifestDigest string
	ManifestErr    error
}

type RunSummary struct {
	Status                   Status             `json:"status"`
	CapabilityLevel          capability.Level   `json:"capability_level"`
	CapabilityReasons        []string           `json:"capability_reasons,omitempty"`
	ImmutableReleasesEnabled bool               `json:"immutable_releases_enabled"`
	Release                  *publish.Release   `json:"release,omitempty"`
	ArtifactsCount           int                `json:"artifacts_count"`
	TotalSizeBytes           int64              `json:"total_size_bytes"`
	Attached                 int                `json:"attached_count"`
	Skipped                  int                `json:"skipped_count"`
	Failed                   int                `json:"failed_count"`
	Outcomes                 []transfer.Outcome `json:"outcomes"`
	ManifestDigest           string             `json:"manifest_digest,omitempty"`
	ManifestError            string             `json:"manifest_error,omitempty"`
	Error                    string             `json:"error,omitempty"`
	ErrorStage               string             `json:"error_stage,omitempty"`
	ErrorCategory            string             `json:"error_category,omitempty"`
	ErrorCode                string             `json:"error_code,omitempty"`
}

func Summarize(input Input) RunSummary {
	result := RunSummary{
		CapabilityLevel: capability.LevelUnsupported,
		Outcomes:        orderOutcomes(input.Inventory, input.Outcomes),
		ManifestDigest:  input.ManifestDigest,
	}
	if input.Assessment != nil {
		if input.Assessment.Level != "" {
			result.CapabilityLevel = input.Assessment.Level
		}
		result.CapabilityReasons = input.Assessment.Reasons
	}
	result.ImmutableReleasesEnabled = result.CapabilityLevel.ImmutableReleasesEnabled()
	if input.Inventory != nil {
		result.ArtifactsCount = input.Inventory.TotalCount
		result.TotalSizeBytes = input.Inventory.TotalSizeBytes
	}
	if input.Release != nil {
		release := *input.Release
		result.Release = &release
	}
	for _, outcome := range result.Outcomes {
		switch outcome.Status {
		case transfer.StatusAttached:
			result.Attached++
		case transfer.StatusSkipped:
			result.Skipped++
		default:
			result.Failed++
		}
	}
	if input.Err != nil {
		result.Error = input.Err.Error()
		result.ErrorStage = coreerrors.StageOf(input.Err)
		result.ErrorCategory = string(coreerrors.CategoryOf(input.Err))
		result.ErrorCode = coreerrors.CodeOf(input.Err)
	}
	if input.ManifestErr != nil {
		result.ManifestError = input.ManifestErr.Error()
	}
	result.Status = status(input, result)
	return result
}

func status(input Input, result RunSummary) Status {
	if input.Release == nil {
		return StatusFailed
	}
	if input.Assessment == nil || input.Inventory == nil || input.Err != nil {
		return StatusPartial
	}
	if len(result.Outcomes) != input.Inventory.TotalCount || result.Attached != len(result.Outcomes) {
		return StatusPartial
	}
	return StatusSuccess
}

// orderOutcomes reports outcomes in inventory order regardless of the order
// transfers finished in. Outcomes for unknown artifacts sort last.
func orderOutcomes(inv *inventory.Inventory, outcomes []transfer.Outcome) []transfer.Outcome {
	ordered := append([]transfer.Outcome{}, outcomes...)
	if inv == nil {
		return ordered
	}
	position := make(map[int64]int, len(inv.Artifacts))
	for index, artifact := range inv.Artifacts {
		position[artifact.ID] = index
	}
	rank := func(outcome transfer.Outcome) int {
		if index, ok := position[outcome.ArtifactID]; ok {
			return index
		}
		return len(inv.Artifacts)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return rank(ordered[i]) < rank(ordered[j])
	})
	return ordered
}

type Output struct {
	Key   string
	Value string
}

// Outputs are the step outputs in a fixed order.
func (s RunSummary) Outputs() []Output {
	var releaseID, releaseURL, releaseTag string
	if s.Release != nil {
		releaseID = strconv.FormatInt(s.Release.ID, 10)
		releaseURL = s.Release.URL
		releaseTag = s.Release.Tag
	}
	return []Output{
		{Key: "release_id", Value: releaseID},
		{Key: "release_url", Value: releaseURL},
		{Key: "release_tag", Value: releaseTag},
		{Key: "immutable_releases_enabled", Value: strconv.FormatBool(s.ImmutableReleasesEnabled)},
		{Key: "artifacts_count", Value: strconv.Itoa(s.ArtifactsCount)},
		{Key: "status", Value: string(s.Status)},
		{Key: "capability_level", Value: string(s.CapabilityLevel)},
		{Key: "attached_count", Value: strconv.Itoa(s.Attached)},
		{Key: "failed_count", Value: strconv.Itoa(s.Failed)},
		{Key: "skipped_count", Value: strconv.Itoa(s.Skipped)},
		{Key: "manifest_digest", Value: s.ManifestDigest},
	}
}
