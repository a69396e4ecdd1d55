// Package descriptor derives the release tag, title and audit body for a
// pipeline run. Build is pure: the clock value is an input.
package descriptor

import (
	"fmt"
	"strings"
	"time"

	"github.com/davidahmann/retain/core/capability"
	coreerrors "github.com/davidahmann/retain/core/errors"
	"github.com/davidahmann/retain/core/inventory"
	"github.com/davidahmann/retain/core/runenv"
)

const (
	tagPrefix    = "pipeline-"
	tagTimestamp = "20060102-150405"
	bodyTime     = "2006-01-02 15:04:05 UTC"
)

type Descriptor struct {
	Tag        string `json:"tag"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	Prerelease bool   `json:"prerelease"`
}

// Overrides replace derived values wholesale. Empty strings and a nil
// Prerelease mean "derive".
type Overrides struct {
	Tag        string
	Title      string
	Body       string
	Prerelease *bool
}

type Input struct {
	Run           runenv.Context
	Assessment    capability.Assessment
	Inventory     inventory.Inventory
	Overrides     Overrides
	GeneratedAt   time.Time
	RetentionDays int
}

func Build(input Input) Descriptor {
	generated := input.GeneratedAt.UTC()
	descriptor := Descriptor{
		Tag:   Tag(input.Run.RunID, generated),
		Title: Title(input.Run),
	}
	if tag := strings.TrimSpace(input.Overrides.Tag); tag != "" {
		descriptor.Tag = tag
	}
	if title := strings.TrimSpace(input.Overrides.Title); title != "" {
		descriptor.Title = title
	}
	if input.Overrides.Body != "" {
		descriptor.Body = input.Overrides.Body
	} else {
		descriptor.Body = Body(input.Run, input.Assessment, input.Inventory, generated, input.RetentionDays)
	}
	if input.Overrides.Prerelease != nil {
		descriptor.Prerelease = *input.Overrides.Prerelease
	}
	return descriptor
}

// Tag is pipeline-{runId}-{YYYYMMDD-HHMMSS} in UTC.
func Tag(runID string, at time.Time) string {
	return tagPrefix + runID + "-" + at.UTC().Format(tagTimestamp)
}

func Title(run runenv.Context) string {
	if run.Workflow == "" {
		return "Pipeline Run " + run.RunID
	}
	return "Pipeline Run " + run.RunID + " - " + run.Workflow
}

// Body renders the audit trail sections in fixed order. The artifact
// section is omitted for an empty inventory.
func Body(run runenv.Context, assessment capability.Assessment, inv inventory.Inventory, generated time.Time, retentionDays int) string {
	var b strings.Builder

	b.WriteString("## Pipeline Run Information\n\n")
	fmt.Fprintf(&b, "- **Run ID:** [%s](%s)\n", run.RunID, run.RunURL())
	if run.RunAttempt > 1 {
		fmt.Fprintf(&b, "- **Run Attempt:** %d\n", run.RunAttempt)
	}
	if commit := run.CommitURL(); commit != "" {
		fmt.Fprintf(&b, "- **Commit:** [%s](%s)\n", run.ShortSHA(), commit)
	}
	writeField(&b, "Branch", run.RefName)
	writeField(&b, "Workflow", run.Workflow)
	writeField(&b, "Trigger", run.EventName)
	writeField(&b, "Actor", run.Actor)
	fmt.Fprintf(&b, "- **Generated:** %s\n", generated.UTC().Format(bodyTime))

	if !inv.Empty() {
		b.WriteString("\n## Artifacts\n\n")
		fmt.Fprintf(&b, "**Count:** %d  \n", inv.TotalCount)
		fmt.Fprintf(&b, "**Total Size:** %s\n\n", FormatSize(inv.TotalSizeBytes))
		for _, artifact := range inv.Artifacts {
			b.WriteString(ArtifactLine(artifact))
			b.WriteString("\n")
		}
	}

	if retentionDays > 0 {
		b.WriteString("\n## Retention\n\n")
		fmt.Fprintf(&b, "Workflow artifacts expire after %d days; the copies attached to this release do not.\n", retentionDays)
	}

	b.WriteString("\n## Immutable Releases\n\n")
	level := assessment.Level
	if level == "" {
		level = capability.LevelUnsupported
	}
	fmt.Fprintf(&b, "**Status:** %s\n", level)
	if len(assessment.Reasons) > 0 {
		b.WriteString("\nDetection:\n\n")
		for _, reason := range assessment.Reasons {
			fmt.Fprintf(&b, "- %s\n", reason)
		}
	}
	return b.String()
}

// ArtifactLine is the body bullet for one artifact.
func ArtifactLine(artifact inventory.Artifact) string {
	name := strings.ReplaceAll(artifact.Name, "`", "'")
	if artifact.Expired {
		return fmt.Sprintf("- `%s` (%s, expired)", name, FormatSize(artifact.SizeBytes))
	}
	return fmt.Sprintf("- `%s` (%s)", name, FormatSize(artifact.SizeBytes))
}

func writeField(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "- **%s:** %s\n", label, value)
}

// ValidateTag rejects tags that cannot name a git ref.
func ValidateTag(tag string) error {
	if tag == "" {
		return coreerrors.Configuration("release tag is empty")
	}
	if strings.HasPrefix(tag, "-") || strings.HasPrefix(tag, "/") || strings.HasSuffix(tag, "/") ||
		strings.HasSuffix(tag, ".") || strings.HasSuffix(tag, ".lock") ||
		strings.Contains(tag, "..") || strings.Contains(tag, "@{") || strings.Contains(tag, "//") {
		return coreerrors.Configuration("release tag %q is not a valid git ref name", tag)
	}
	for _, r := range tag {
		if r <= ' ' || r == 0x7f || strings.ContainsRune("~^:?*[\\", r) {
			return coreerrors.Configuration("release tag %q contains %q", tag, r)
		}
	}
	return nil
}
