package main

import (
	"encoding/json"
	"fmt"
	"strings"

	coreerrors "github.com/davidahmann/retain/core/errors"
	"github.com/davidahmann/retain/core/summary"
)

const (
	exitOK              = 0
	exitInternalFailure = 1
	exitInvalidInput    = 2
	exitPartial         = 3
	exitPermission      = 4
	exitDiscovery       = 5
	exitTagConflict     = 6
)

func writeJSONOutput(output any, exitCode int) int {
	encoded, err := marshalOutputWithErrorEnvelope(output, exitCode)
	if err != nil {
		_, _ = fmt.Fprintln(stdout, `{"ok":false,"error":"failed to encode output","error_code":"encode_failed","error_category":"internal_failure","retryable":false}`)
		return exitInternalFailure
	}
	_, _ = fmt.Fprintln(stdout, string(encoded))
	return exitCode
}

// marshalOutputWithErrorEnvelope fills the error envelope fields a failing
// command did not set itself.
func marshalOutputWithErrorEnvelope(output any, exitCode int) ([]byte, error) {
	encoded, err := json.Marshal(output)
	if err != nil {
		return nil, err
	}
	result := map[string]any{}
	if err := json.Unmarshal(encoded, &result); err != nil {
		return nil, err
	}
	if strings.TrimSpace(asString(result["error"])) == "" {
		return json.Marshal(result)
	}
	if strings.TrimSpace(asString(result["error_code"])) == "" {
		result["error_code"] = defaultErrorCode(exitCode)
	}
	if strings.TrimSpace(asString(result["error_category"])) == "" {
		result["error_category"] = string(defaultErrorCategory(exitCode))
	}
	if _, exists := result["retryable"]; !exists {
		result["retryable"] = defaultRetryable(coreerrors.Category(asString(result["error_category"])))
	}
	if strings.TrimSpace(asString(result["hint"])) == "" {
		result["hint"] = defaultHint(exitCode)
	}
	return json.Marshal(result)
}

type errorFields struct {
	Error         string `json:"error,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorCategory string `json:"error_category,omitempty"`
	ErrorStage    string `json:"error_stage,omitempty"`
	Hint          string `json:"hint,omitempty"`
}

func fieldsForError(err error) errorFields {
	if err == nil {
		return errorFields{}
	}
	return errorFields{
		Error:         err.Error(),
		ErrorCode:     coreerrors.CodeOf(err),
		ErrorCategory: string(coreerrors.CategoryOf(err)),
		ErrorStage:    coreerrors.StageOf(err),
		Hint:          coreerrors.HintOf(err),
	}
}

func exitCodeForError(err error, fallbackExit int) int {
	if err == nil {
		return exitOK
	}
	switch coreerrors.CategoryOf(err) {
	case coreerrors.CategoryConfiguration:
		return exitInvalidInput
	case coreerrors.CategoryPermission:
		return exitPermission
	case coreerrors.CategoryDiscovery:
		return exitDiscovery
	case coreerrors.CategoryTagConflict:
		return exitTagConflict
	case coreerrors.CategoryTransfer, coreerrors.CategoryNetworkTransient, coreerrors.CategoryNetworkPermanent, coreerrors.CategoryInternalFailure:
		return exitInternalFailure
	}
	return fallbackExit
}

// exitCodeForRun maps a finished run to its exit code. A stage-fatal error
// outranks the partial status it may have left behind.
func exitCodeForRun(result summary.RunSummary, err error) int {
	if err != nil {
		return exitCodeForError(err, exitInternalFailure)
	}
	switch result.Status {
	case summary.StatusSuccess:
		return exitOK
	case summary.StatusPartial:
		return exitPartial
	default:
		return exitInternalFailure
	}
}

func defaultErrorCategory(exitCode int) coreerrors.Category {
	switch exitCode {
	case exitInvalidInput:
		return coreerrors.CategoryConfiguration
	case exitPermission:
		return coreerrors.CategoryPermission
	case exitDiscovery:
		return coreerrors.CategoryDiscovery
	case exitTagConflict:
		return coreerrors.CategoryTagConflict
	case exitPartial:
		return coreerrors.CategoryTransfer
	default:
		return coreerrors.CategoryInternalFailure
	}
}

func defaultErrorCode(exitCode int) string {
	switch exitCode {
	case exitInvalidInput:
		return "invalid_configuration"
	case exitPermission:
		return "permission_denied"
	case exitDiscovery:
		return "discovery_failed"
	case exitTagConflict:
		return "tag_exists"
	case exitPartial:
		return "partial_transfer"
	default:
		return "internal_failure"
	}
}

func defaultHint(exitCode int) string {
	switch exitCode {
	case exitInvalidInput:
		return "check action inputs, flags and environment"
	case exitPermission:
		return "grant the token contents: write and actions: read"
	case exitDiscovery:
		return "inspect the run's artifacts and repository metadata"
	case exitTagConflict:
		return "choose a different release_tag; existing releases are never modified"
	case exitPartial:
		return "inspect failed outcomes; the release keeps every attached asset"
	default:
		return "retry after checking the runner logs"
	}
}

func defaultRetryable(category coreerrors.Category) bool {
	return category == coreerrors.CategoryNetworkTransient
}

func asString(value any) string {
	text, _ := value.(string)
	return text
}
