// Package output writes run results where the CI runner picks them up: step
// outputs, the job summary, and an optional JSON record on disk.
package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	coreerrors "github.com/davidahmann/retain/core/errors"
	"github.com/davidahmann/retain/core/fsx"
	"github.com/davidahmann/retain/core/summary"
)

const (
	EnvOutput      = "GITHUB_OUTPUT"
	EnvStepSummary = "GITHUB_STEP_SUMMARY"
)

// FormatOutput renders one step output. Multi-line values use the runner's
// heredoc form with a delimiter that cannot occur in the value.
func FormatOutput(key, value string, delimiter func() string) string {
	if !strings.ContainsAny(value, "\r\n") {
		return key + "=" + value
	}
	if delimiter == nil {
		delimiter = func() string { return "retain_" + uuid.NewString() }
	}
	marker := delimiter()
	for strings.Contains(value, marker) {
		marker = delimiter()
	}
	return key + "<<" + marker + "\n" + value + "\n" + marker
}

// WriteOutputs appends every output to the file named by path as one block.
func WriteOutputs(path string, outputs []summary.Output) error {
	records := make([]string, 0, len(outputs))
	for _, out := range outputs {
		records = append(records, FormatOutput(out.Key, out.Value, nil))
	}
	if err := fsx.AppendLocked(path, []byte(strings.Join(records, "\n")), 0o600); err != nil {
		return writeError(EnvOutput, err)
	}
	return nil
}

func WriteStepSummary(path string, result summary.RunSummary) error {
	if err := fsx.AppendLocked(path, []byte(StepSummary(result)), 0o600); err != nil {
		return writeError(EnvStepSummary, err)
	}
	return nil
}

// WriteJSON replaces path with the indented JSON encoding of value.
func WriteJSON(path string, value any) error {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return coreerrors.Wrap(fmt.Errorf("encode %s: %w", path, err), coreerrors.CategoryInternalFailure, "encode_failed", "", false)
	}
	if err := fsx.WriteFileAtomic(path, append(raw, '\n'), 0o600); err != nil {
		return writeError(path, err)
	}
	return nil
}

func writeError(target string, err error) error {
	return coreerrors.Wrap(fmt.Errorf("write %s: %w", target, err), coreerrors.CategoryInternalFailure, "output_write_failed", "check that the runner file is writable", false)
}
