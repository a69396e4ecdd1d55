package runenv

import (
	"testing"

	coreerrors "github.com/davidahmann/retain/core/errors"
)

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestFromEnv(t *testing.T) {
	ctx := FromEnv(lookupFrom(map[string]string{
		"GITHUB_REPOSITORY":  "acme/widgets",
		"GITHUB_RUN_ID":      " 123456 ",
		"GITHUB_RUN_ATTEMPT": "2",
		"GITHUB_SHA":         "0123456789abcdef",
		"GITHUB_REF_NAME":    "main",
		"GITHUB_WORKFLOW":    "build",
		"GITHUB_EVENT_NAME":  "push",
		"GITHUB_ACTOR":       "octocat",
		"GITHUB_SERVER_URL":  "https://git.example.com/",
	}))
	if ctx.RunID != "123456" || ctx.RunAttempt != 2 || ctx.Workflow != "build" {
		t.Fatalf("unexpected context: %+v", ctx)
	}
	if err := ctx.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ctx.RunURL() != "https://git.example.com/acme/widgets/actions/runs/123456" {
		t.Fatalf("unexpected run url: %s", ctx.RunURL())
	}
	if ctx.CommitURL() != "https://git.example.com/acme/widgets/commit/0123456789abcdef" {
		t.Fatalf("unexpected commit url: %s", ctx.CommitURL())
	}
	if ctx.ShortSHA() != "0123456" {
		t.Fatalf("unexpected short sha: %s", ctx.ShortSHA())
	}
}

func TestDefaultServer(t *testing.T) {
	ctx := Context{Repository: "acme/widgets", RunID: "9"}
	if ctx.RunURL() != "https://github.com/acme/widgets/actions/runs/9" {
		t.Fatalf("unexpected run url: %s", ctx.RunURL())
	}
	if ctx.CommitURL() != "" {
		t.Fatalf("expected empty commit url without sha")
	}
}

func TestValidate(t *testing.T) {
	cases := []Context{
		{Repository: "", RunID: "1"},
		{Repository: "acme", RunID: "1"},
		{Repository: "acme/widgets", RunID: ""},
		{Repository: "acme/widgets", RunID: "abc"},
		{Repository: "acme/widgets", RunID: "0"},
		{Repository: "acme/widgets", RunID: "-4"},
	}
	for _, ctx := range cases {
		err := ctx.Validate()
		if err == nil {
			t.Fatalf("expected error for %+v", ctx)
		}
		if coreerrors.CategoryOf(err) != coreerrors.CategoryConfiguration {
			t.Fatalf("expected configuration error for %+v, got %s", ctx, coreerrors.CategoryOf(err))
		}
	}
}

func TestParseRunID(t *testing.T) {
	value, err := ParseRunID("42")
	if err != nil || value != 42 {
		t.Fatalf("unexpected parse: %d %v", value, err)
	}
	if _, err := ParseRunID("4x"); coreerrors.CategoryOf(err) != coreerrors.CategoryDiscovery {
		t.Fatalf("expected discovery error, got %v", err)
	}
}
