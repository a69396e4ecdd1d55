package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Category string

const (
	CategoryConfiguration    Category = "configuration"
	CategoryPermission       Category = "permission"
	CategoryDiscovery        Category = "discovery"
	CategoryTagConflict      Category = "tag_conflict"
	CategoryTransfer         Category = "transfer"
	CategoryNetworkTransient Category = "network_transient"
	CategoryNetworkPermanent Category = "network_permanent"
	CategoryInternalFailure  Category = "internal_failure"
)

// Transfer error codes recorded on failed transfer outcomes.
const (
	CodeDownloadFailed = "download_failed"
	CodeUploadFailed   = "upload_failed"
	CodeVerifyFailed   = "verify_failed"
	CodeAborted        = "aborted"
	CodeCanceled       = "canceled"
)

type classifiedError struct {
	category  Category
	code      string
	hint      string
	retryable bool
	cause     error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return "unknown error"
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

func (e *classifiedError) Category() Category {
	return e.category
}

func (e *classifiedError) Code() string {
	return e.code
}

func (e *classifiedError) Hint() string {
	return e.hint
}

func (e *classifiedError) Retryable() bool {
	return e.retryable
}

func Wrap(cause error, category Category, code, hint string, retryable bool) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{
		category:  category,
		code:      code,
		hint:      hint,
		retryable: retryable,
		cause:     cause,
	}
}

// Reclassify keeps the cause chain of err but replaces its outermost
// classification. Retryability is dropped: the new category is terminal.
func Reclassify(err error, category Category, code, hint string) error {
	if err == nil {
		return nil
	}
	if hint == "" {
		hint = HintOf(err)
	}
	return Wrap(err, category, code, hint, false)
}

func CategoryOf(err error) Category {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.category
	}
	return ""
}

func CodeOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.code
	}
	return ""
}

func HintOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.hint
	}
	return ""
}

func RetryableOf(err error) bool {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.retryable
	}
	return false
}

// StageError records where in the pipeline a fatal error surfaced.
type StageError struct {
	Stage      string
	Identifier string
	Err        error
}

func (e *StageError) Error() string {
	var builder strings.Builder
	builder.WriteString("stage ")
	builder.WriteString(e.Stage)
	if e.Identifier != "" {
		builder.WriteString(" (")
		builder.WriteString(e.Identifier)
		builder.WriteString(")")
	}
	if e.Err != nil {
		builder.WriteString(": ")
		builder.WriteString(e.Err.Error())
	}
	return builder.String()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func WithStage(err error, stage, identifier string) error {
	if err == nil {
		return nil
	}
	var existing *StageError
	if errors.As(err, &existing) {
		return err
	}
	return &StageError{Stage: stage, Identifier: identifier, Err: err}
}

func StageOf(err error) string {
	var staged *StageError
	if errors.As(err, &staged) {
		return staged.Stage
	}
	return ""
}

// Configuration reports a missing or invalid input before any network call.
func Configuration(format string, args ...any) error {
	return Wrap(fmt.Errorf(format, args...), CategoryConfiguration, "invalid_configuration", "check action inputs and environment", false)
}

// Discovery reports metadata or inventory that cannot be used to build a release.
func Discovery(code string, format string, args ...any) error {
	return Wrap(fmt.Errorf(format, args...), CategoryDiscovery, code, "inspect the run's artifacts and repository metadata", false)
}

// Canceled marks err as the caller abandoning the run. It is never retried.
func Canceled(err error) error {
	if err == nil {
		return nil
	}
	if CodeOf(err) == CodeCanceled {
		return err
	}
	return Wrap(err, CategoryInternalFailure, CodeCanceled, "the run was canceled", false)
}

func IsCanceled(err error) bool {
	return CodeOf(err) == CodeCanceled || errors.Is(err, context.Canceled)
}
