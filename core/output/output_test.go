package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/davidahmann/retain/core/capability"
	"github.com/davidahmann/retain/core/publish"
	"github.com/davidahmann/retain/core/summary"
	"github.com/davidahmann/retain/core/transfer"
)

func partialSummary() summary.RunSummary {
	return summary.RunSummary{
		Status:                   summary.StatusPartial,
		CapabilityLevel:          capability.LevelSupported,
		ImmutableReleasesEnabled: true,
		Release:                  &publish.Release{ID: 9, Tag: "pipeline-1-20261019-090000", URL: "https://github.com/acme/widgets/releases/tag/pipeline-1-20261019-090000"},
		ArtifactsCount:           2,
		TotalSizeBytes:           3072,
		Attached:                 1,
		Failed:                   1,
		Outcomes: []transfer.Outcome{
			{ArtifactName: "logs", AssetName: "logs.zip", Status: transfer.StatusAttached, SizeBytes: 1024, SHA256: strings.Repeat("ab", 32)},
			{ArtifactName: "cov|erage", AssetName: "cov.erage.zip", Status: transfer.StatusFailed, SizeBytes: 2048, ErrorKind: "upload_failed"},
		},
		ManifestDigest: "deadbeef",
	}
}

func TestFormatOutput(t *testing.T) {
	if got := FormatOutput("status", "success", nil); got != "status=success" {
		t.Fatalf("unexpected single-line output: %q", got)
	}
	calls := 0
	delimiter := func() string {
		calls++
		if calls == 1 {
			return "EOF"
		}
		return "EOF2"
	}
	got := FormatOutput("body", "line one\nEOF\nline three", delimiter)
	want := "body<<EOF2\nline one\nEOF\nline three\nEOF2"
	if got != want {
		t.Fatalf("unexpected heredoc output:\n%s", got)
	}
	generated := FormatOutput("body", "a\nb", nil)
	if !strings.HasPrefix(generated, "body<<retain_") {
		t.Fatalf("expected generated delimiter, got %q", generated)
	}
}

func TestWriteOutputs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output")
	if err := WriteOutputs(path, partialSummary().Outputs()); err != nil {
		t.Fatalf("write outputs: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read outputs: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 11 {
		t.Fatalf("expected 11 output lines, got %d:\n%s", len(lines), raw)
	}
	for _, want := range []string{"release_id=9", "status=partial", "immutable_releases_enabled=true", "failed_count=1", "manifest_digest=deadbeef"} {
		if !strings.Contains(string(raw), want+"\n") {
			t.Fatalf("missing %q in:\n%s", want, raw)
		}
	}
}

func TestStepSummary(t *testing.T) {
	markdown := StepSummary(partialSummary())
	for _, want := range []string{
		"## Artifact retention: partial",
		"[pipeline-1-20261019-090000](https://github.com/acme/widgets/releases/tag/pipeline-1-20261019-090000)",
		"supported (immutable releases enabled)",
		"| Artifacts | 2 listed, 3.0 KiB |",
		"| Failed | 1 |",
		"`sha256:deadbeef`",
		"| logs | logs.zip | attached | 1.0 KiB | sha256:abababababab |",
		"| cov\\|erage | cov.erage.zip | failed | 2.0 KiB | upload_failed |",
	} {
		if !strings.Contains(markdown, want) {
			t.Fatalf("missing %q in:\n%s", want, markdown)
		}
	}
	failed := StepSummary(summary.Summarize(summary.Input{}))
	if !strings.Contains(failed, "| Release | not published |") || strings.Contains(failed, "| Artifact | Asset |") {
		t.Fatalf("unexpected summary for failed run:\n%s", failed)
	}
}

func TestWriteStepSummaryAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.md")
	if err := os.WriteFile(path, []byte("# earlier step\n"), 0o600); err != nil {
		t.Fatalf("seed summary: %v", err)
	}
	if err := WriteStepSummary(path, partialSummary()); err != nil {
		t.Fatalf("write summary: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if !strings.HasPrefix(string(raw), "# earlier step\n## Artifact retention") {
		t.Fatalf("expected appended summary, got:\n%s", raw)
	}
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	if err := WriteJSON(path, partialSummary()); err != nil {
		t.Fatalf("write json: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read json: %v", err)
	}
	var decoded summary.RunSummary
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if decoded.Status != summary.StatusPartial || len(decoded.Outcomes) != 2 {
		t.Fatalf("unexpected decoded summary: %+v", decoded)
	}
	if err := WriteJSON(filepath.Join(t.TempDir(), "missing", "x.json"), 1); err == nil {
		t.Fatalf("expected write into a missing directory to fail")
	}
}
