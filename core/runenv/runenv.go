// Package runenv captures the pipeline run the retention job belongs to.
// The context is read once at process start and then passed by value.
package runenv

import (
	"strconv"
	"strings"

	coreerrors "github.com/davidahmann/retain/core/errors"
)

const DefaultServerURL = "https://github.com"

type Context struct {
	Repository string `json:"repository"`
	RunID      string `json:"run_id"`
	RunAttempt int    `json:"run_attempt,omitempty"`
	SHA        string `json:"sha,omitempty"`
	RefName    string `json:"ref_name,omitempty"`
	Workflow   string `json:"workflow,omitempty"`
	EventName  string `json:"event_name,omitempty"`
	Actor      string `json:"actor,omitempty"`
	ServerURL  string `json:"server_url,omitempty"`
	APIURL     string `json:"-"`
}

// FromEnv reads the runner-provided variables through lookup, which is
// usually os.LookupEnv.
func FromEnv(lookup func(string) (string, bool)) Context {
	read := func(key string) string {
		value, _ := lookup(key)
		return strings.TrimSpace(value)
	}
	attempt, _ := strconv.Atoi(read("GITHUB_RUN_ATTEMPT"))
	return Context{
		Repository: read("GITHUB_REPOSITORY"),
		RunID:      read("GITHUB_RUN_ID"),
		RunAttempt: attempt,
		SHA:        read("GITHUB_SHA"),
		RefName:    read("GITHUB_REF_NAME"),
		Workflow:   read("GITHUB_WORKFLOW"),
		EventName:  read("GITHUB_EVENT_NAME"),
		Actor:      read("GITHUB_ACTOR"),
		ServerURL:  read("GITHUB_SERVER_URL"),
		APIURL:     read("GITHUB_API_URL"),
	}
}

// Validate checks the fields every stage depends on.
func (c Context) Validate() error {
	owner, name, ok := strings.Cut(c.Repository, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return coreerrors.Configuration("GITHUB_REPOSITORY must be owner/name, got %q", c.Repository)
	}
	if _, err := ParseRunID(c.RunID); err != nil {
		return coreerrors.Configuration("GITHUB_RUN_ID: %v", err)
	}
	return nil
}

// ParseRunID accepts a positive decimal run identifier.
func ParseRunID(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, coreerrors.Discovery("invalid_run_id", "run id is empty")
	}
	value, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || value <= 0 {
		return 0, coreerrors.Discovery("invalid_run_id", "run id %q is not a positive integer", raw)
	}
	return value, nil
}

func (c Context) Server() string {
	if c.ServerURL == "" {
		return DefaultServerURL
	}
	return strings.TrimRight(c.ServerURL, "/")
}

func (c Context) RunURL() string {
	return c.Server() + "/" + c.Repository + "/actions/runs/" + c.RunID
}

func (c Context) CommitURL() string {
	if c.SHA == "" {
		return ""
	}
	return c.Server() + "/" + c.Repository + "/commit/" + c.SHA
}

func (c Context) ShortSHA() string {
	if len(c.SHA) > 7 {
		return c.SHA[:7]
	}
	return c.SHA
}
