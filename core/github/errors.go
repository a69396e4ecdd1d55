package github

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	coreerrors "github.com/davidahmann/retain/core/errors"
	"github.com/davidahmann/retain/core/schema/v1/upstream"
)

const (
	CodeAlreadyExists = "already_exists"

	hintToken       = "check that github_token is set and not expired"
	hintPermissions = "grant the token contents: write and actions: read"
)

// StatusError is a non-2xx answer from the upstream API.
type StatusError struct {
	StatusCode  int
	Method      string
	Path        string
	Message     string
	Details     []upstream.ErrorDetail
	RateLimited bool
	Wait        time.Duration
}

func (e *StatusError) Error() string {
	message := strings.TrimSpace(e.Message)
	if message == "" {
		message = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, message)
}

func (e *StatusError) RetryAfter() time.Duration {
	return e.Wait
}

func (e *StatusError) hasDetailCode(code string) bool {
	for _, detail := range e.Details {
		if detail.Code == code {
			return true
		}
	}
	return false
}

func StatusCodeOf(err error) int {
	var statusErr *StatusError
	if stderrors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

func IsNotFound(err error) bool {
	return StatusCodeOf(err) == http.StatusNotFound
}

// HasErrorCode reports whether a validation failure carries the given detail
// code, for example already_exists.
func HasErrorCode(err error, code string) bool {
	var statusErr *StatusError
	if !stderrors.As(err, &statusErr) {
		return false
	}
	return statusErr.hasDetailCode(code)
}

func (c *Client) statusError(method, path string, response *http.Response) error {
	statusErr := &StatusError{
		StatusCode: response.StatusCode,
		Method:     method,
		Path:       path,
	}
	raw, _ := io.ReadAll(io.LimitReader(response.Body, 64*1024))
	var payload upstream.ErrorResponse
	if err := json.Unmarshal(raw, &payload); err == nil {
		statusErr.Message = payload.Message
		statusErr.Details = payload.Errors
	} else {
		statusErr.Message = strings.TrimSpace(string(raw))
	}
	statusErr.Wait, statusErr.RateLimited = c.rateLimitWait(response, statusErr.Message)
	return classifyStatus(statusErr)
}

func classifyStatus(statusErr *StatusError) error {
	switch code := statusErr.StatusCode; {
	case code == http.StatusUnauthorized:
		return coreerrors.Wrap(statusErr, coreerrors.CategoryPermission, "unauthorized", hintToken, false)
	case code == http.StatusForbidden && statusErr.RateLimited:
		return coreerrors.Wrap(statusErr, coreerrors.CategoryNetworkTransient, "rate_limited", "wait for the rate limit window to reset", true)
	case code == http.StatusForbidden:
		return coreerrors.Wrap(statusErr, coreerrors.CategoryPermission, "forbidden", hintPermissions, false)
	case code == http.StatusTooManyRequests:
		return coreerrors.Wrap(statusErr, coreerrors.CategoryNetworkTransient, "rate_limited", "wait for the rate limit window to reset", true)
	case code == http.StatusRequestTimeout:
		return coreerrors.Wrap(statusErr, coreerrors.CategoryNetworkTransient, "timeout", "", true)
	case code == http.StatusNotFound:
		return coreerrors.Wrap(statusErr, coreerrors.CategoryNetworkPermanent, "not_found", "check the repository, run id and token visibility", false)
	case code == http.StatusUnprocessableEntity:
		return coreerrors.Wrap(statusErr, coreerrors.CategoryNetworkPermanent, "validation_failed", "", false)
	case code >= 500:
		return coreerrors.Wrap(statusErr, coreerrors.CategoryNetworkTransient, "server_error", "upstream is degraded; retry later", true)
	default:
		return coreerrors.Wrap(statusErr, coreerrors.CategoryNetworkPermanent, "http_"+strconv.Itoa(code), "", false)
	}
}

func (c *Client) rateLimitWait(response *http.Response, message string) (time.Duration, bool) {
	limited := strings.Contains(strings.ToLower(message), "rate limit")
	if retryAfter := strings.TrimSpace(response.Header.Get("Retry-After")); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second, true
		}
	}
	if strings.TrimSpace(response.Header.Get("X-RateLimit-Remaining")) == "0" {
		limited = true
		if reset, err := strconv.ParseInt(strings.TrimSpace(response.Header.Get("X-RateLimit-Reset")), 10, 64); err == nil {
			if wait := time.Unix(reset, 0).Sub(c.now()); wait > 0 {
				return wait, true
			}
		}
	}
	return 0, limited
}

// classifyTransport maps failures below HTTP. A per-call timeout is transient;
// cancellation of the caller's context is not.
func classifyTransport(parent context.Context, err error) error {
	if parent.Err() != nil {
		return coreerrors.Canceled(err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return coreerrors.Wrap(err, coreerrors.CategoryNetworkTransient, "timeout", "", true)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return coreerrors.Wrap(err, coreerrors.CategoryNetworkTransient, "timeout", "", true)
	}
	if stderrors.Is(err, syscall.ECONNRESET) || stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, io.ErrUnexpectedEOF) || stderrors.Is(err, io.EOF) {
		return coreerrors.Wrap(err, coreerrors.CategoryNetworkTransient, "connection", "", true)
	}
	return coreerrors.Wrap(err, coreerrors.CategoryNetworkTransient, "unreachable", "check network access to the API", true)
}

func malformed(what string, err error) error {
	return coreerrors.Wrap(fmt.Errorf("malformed %s response: %w", what, err), coreerrors.CategoryDiscovery, "malformed_response", "", false)
}
