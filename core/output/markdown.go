package output

import (
	"fmt"
	"strings"

	"github.com/davidahmann/retain/core/descriptor"
	"github.com/davidahmann/retain/core/summary"
	"github.com/davidahmann/retain/core/transfer"
)

// StepSummary renders the job summary Markdown for a run.
func StepSummary(result summary.RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Artifact retention: %s\n\n", result.Status)
	b.WriteString("| | |\n|---|---|\n")
	if result.Release != nil {
		fmt.Fprintf(&b, "| Release | [%s](%s) |\n", cell(result.Release.Tag), result.Release.URL)
	} else {
		b.WriteString("| Release | not published |\n")
	}
	capability := string(result.CapabilityLevel)
	if result.ImmutableReleasesEnabled {
		capability += " (immutable releases enabled)"
	}
	fmt.Fprintf(&b, "| Immutable releases | %s |\n", capability)
	fmt.Fprintf(&b, "| Artifacts | %d listed, %s |\n", result.ArtifactsCount, descriptor.FormatSize(result.TotalSizeBytes))
	fmt.Fprintf(&b, "| Attached | %d |\n", result.Attached)
	if result.Failed > 0 {
		fmt.Fprintf(&b, "| Failed | %d |\n", result.Failed)
	}
	if result.Skipped > 0 {
		fmt.Fprintf(&b, "| Skipped | %d |\n", result.Skipped)
	}
	if result.ManifestDigest != "" {
		fmt.Fprintf(&b, "| Manifest | `sha256:%s` |\n", result.ManifestDigest)
	}
	if result.ManifestError != "" {
		fmt.Fprintf(&b, "| Manifest | not attached: %s |\n", cell(result.ManifestError))
	}
	if result.Error != "" {
		fmt.Fprintf(&b, "\n**Stopped in stage `%s`:** %s\n", result.ErrorStage, cell(result.Error))
	}

	if len(result.Outcomes) > 0 {
		b.WriteString("\n| Artifact | Asset | Status | Size | Detail |\n|---|---|---|---|---|\n")
		for _, outcome := range result.Outcomes {
			detail := outcome.ErrorKind
			if outcome.Status == transfer.StatusAttached {
				detail = shortDigest(outcome.SHA256)
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				cell(outcome.ArtifactName), cell(outcome.AssetName), outcome.Status,
				descriptor.FormatSize(outcome.SizeBytes), cell(detail))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func cell(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	return strings.Join(strings.Fields(value), " ")
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return "sha256:" + digest[:12]
	}
	return digest
}
