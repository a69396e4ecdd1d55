package github

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	coreerrors "github.com/davidahmann/retain/core/errors"
	"github.com/davidahmann/retain/core/schema/v1/upstream"
	"github.com/davidahmann/retain/internal/fakehub"
)

func newFakeClient(t *testing.T, hub *fakehub.Server) *Client {
	t.Helper()
	client, err := NewClient(Options{
		APIURL:     hub.URL,
		Token:      fakehub.Token,
		Repository: hub.Owner + "/" + hub.Repo,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientValidation(t *testing.T) {
	cases := []Options{
		{Token: "", Repository: "acme/widgets"},
		{Token: "x", Repository: "widgets"},
		{Token: "x", Repository: "acme/"},
		{Token: "x", Repository: "acme/widgets/extra"},
		{Token: "x", Repository: "acme/widgets", APIURL: "not a url"},
	}
	for _, options := range cases {
		_, err := NewClient(options)
		if err == nil {
			t.Fatalf("expected configuration error for %+v", options)
		}
		if coreerrors.CategoryOf(err) != coreerrors.CategoryConfiguration {
			t.Fatalf("expected configuration category for %+v, got %s", options, coreerrors.CategoryOf(err))
		}
	}
	client, err := NewClient(Options{Token: "x", Repository: " acme/widgets "})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.Repository() != "acme/widgets" {
		t.Fatalf("unexpected repository: %s", client.Repository())
	}
}

func TestRequestHeaders(t *testing.T) {
	var seen http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		_, _ = w.Write([]byte(`{"id":1,"full_name":"acme/widgets","private":false,"owner":{"login":"acme","type":"User"}}`))
	}))
	defer server.Close()

	client, err := NewClient(Options{APIURL: server.URL, Token: "secret", Repository: "acme/widgets", UserAgent: "retain-test"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.GetRepository(context.Background()); err != nil {
		t.Fatalf("get repository: %v", err)
	}
	if seen.Get("Authorization") != "Bearer secret" {
		t.Fatalf("unexpected authorization header: %q", seen.Get("Authorization"))
	}
	if seen.Get("Accept") != "application/vnd.github+json" {
		t.Fatalf("unexpected accept header: %q", seen.Get("Accept"))
	}
	if seen.Get("User-Agent") != "retain-test" || seen.Get("X-GitHub-Api-Version") != apiVersion {
		t.Fatalf("unexpected headers: %v", seen)
	}
}

func TestGetRepositoryFromFake(t *testing.T) {
	hub := fakehub.New(t, "acme", "widgets")
	hub.SetRepository(func(repository *upstream.Repository) {
		repository.Private = false
		repository.Visibility = "public"
		repository.Owner.Type = "User"
	})
	repository, err := newFakeClient(t, hub).GetRepository(context.Background())
	if err != nil {
		t.Fatalf("get repository: %v", err)
	}
	if repository.FullName != "acme/widgets" || repository.Private || repository.Owner.Type != "User" {
		t.Fatalf("unexpected repository: %+v", repository)
	}
}

func TestListRunArtifactsPagination(t *testing.T) {
	hub := fakehub.New(t, "acme", "widgets")
	for index := 0; index < 3; index++ {
		hub.AddArtifact(42, "artifact-"+strconv.Itoa(index), []byte("content"))
	}
	client := newFakeClient(t, hub)

	first, err := client.ListRunArtifacts(context.Background(), 42, 1, 2)
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if first.TotalCount != 3 || len(first.Artifacts) != 2 {
		t.Fatalf("unexpected first page: %+v", first)
	}
	second, err := client.ListRunArtifacts(context.Background(), 42, 2, 2)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(second.Artifacts) != 1 || second.Artifacts[0].Name != "artifact-2" {
		t.Fatalf("unexpected second page: %+v", second)
	}
}

func TestPageQueryBounds(t *testing.T) {
	query := pageQuery(0, 500)
	if query.Get("page") != "1" || query.Get("per_page") != strconv.Itoa(DefaultPerPage) {
		t.Fatalf("unexpected query: %v", query)
	}
}

func TestDownloadArtifactFollowsRedirect(t *testing.T) {
	hub := fakehub.New(t, "acme", "widgets")
	artifact := hub.AddArtifact(7, "logs", []byte("zip-bytes"))
	reader, err := newFakeClient(t, hub).DownloadArtifact(context.Background(), artifact.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer func() {
		_ = reader.Close()
	}()
	content, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if string(content) != "zip-bytes" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestDownloadExpiredArtifact(t *testing.T) {
	hub := fakehub.New(t, "acme", "widgets")
	artifact := hub.AddExpiredArtifact(7, "old", 10)
	_, err := newFakeClient(t, hub).DownloadArtifact(context.Background(), artifact.ID)
	if err == nil {
		t.Fatalf("expected expired download to fail")
	}
	if StatusCodeOf(err) != http.StatusGone || coreerrors.RetryableOf(err) {
		t.Fatalf("unexpected error: %v (status %d)", err, StatusCodeOf(err))
	}
}

func TestReleaseLifecycle(t *testing.T) {
	hub := fakehub.New(t, "acme", "widgets")
	client := newFakeClient(t, hub)
	ctx := context.Background()

	if _, err := client.GetReleaseByTag(ctx, "pipeline-1"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	release, err := client.CreateRelease(ctx, upstream.CreateReleaseRequest{TagName: "pipeline-1", Name: "Pipeline Run 1"})
	if err != nil {
		t.Fatalf("create release: %v", err)
	}
	_, err = client.CreateRelease(ctx, upstream.CreateReleaseRequest{TagName: "pipeline-1"})
	if !HasErrorCode(err, CodeAlreadyExists) {
		t.Fatalf("expected already_exists, got %v", err)
	}
	found, err := client.GetReleaseByTag(ctx, "pipeline-1")
	if err != nil || found.ID != release.ID {
		t.Fatalf("unexpected lookup: %+v %v", found, err)
	}

	payload := []byte("packaged")
	asset, err := client.UploadReleaseAsset(ctx, release.UploadURL, "logs.zip", "application/zip", bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if asset.Name != "logs.zip" || asset.Size != int64(len(payload)) || asset.State != upstream.AssetStateUploaded {
		t.Fatalf("unexpected asset: %+v", asset)
	}
	assets, err := client.ListReleaseAssets(ctx, release.ID, 1, 100)
	if err != nil || len(assets) != 1 {
		t.Fatalf("unexpected asset list: %+v %v", assets, err)
	}
	if got := hub.AssetContent(release.ID, "logs.zip"); !bytes.Equal(got, payload) {
		t.Fatalf("unexpected stored content: %q", got)
	}
}

func TestUploadRejectsBadURL(t *testing.T) {
	hub := fakehub.New(t, "acme", "widgets")
	_, err := newFakeClient(t, hub).UploadReleaseAsset(context.Background(), "::", "a.zip", "", strings.NewReader("x"), 1)
	if coreerrors.CategoryOf(err) != coreerrors.CategoryDiscovery {
		t.Fatalf("expected discovery category, got %v", err)
	}
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		headers   map[string]string
		body      string
		category  coreerrors.Category
		retryable bool
	}{
		{status: 401, body: `{"message":"Bad credentials"}`, category: coreerrors.CategoryPermission},
		{status: 403, body: `{"message":"Resource not accessible by integration"}`, category: coreerrors.CategoryPermission},
		{status: 403, body: `{"message":"API rate limit exceeded"}`, category: coreerrors.CategoryNetworkTransient, retryable: true},
		{status: 403, headers: map[string]string{"X-RateLimit-Remaining": "0"}, body: `{}`, category: coreerrors.CategoryNetworkTransient, retryable: true},
		{status: 429, body: `{}`, category: coreerrors.CategoryNetworkTransient, retryable: true},
		{status: 404, body: `{"message":"Not Found"}`, category: coreerrors.CategoryNetworkPermanent},
		{status: 422, body: `{"message":"Validation Failed"}`, category: coreerrors.CategoryNetworkPermanent},
		{status: 502, body: `bad gateway`, category: coreerrors.CategoryNetworkTransient, retryable: true},
		{status: 410, body: `{}`, category: coreerrors.CategoryNetworkPermanent},
	}
	for _, testCase := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			for key, value := range testCase.headers {
				w.Header().Set(key, value)
			}
			w.WriteHeader(testCase.status)
			_, _ = w.Write([]byte(testCase.body))
		}))
		client, err := NewClient(Options{APIURL: server.URL, Token: "x", Repository: "acme/widgets"})
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		_, err = client.GetRepository(context.Background())
		server.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", testCase.status)
		}
		if coreerrors.CategoryOf(err) != testCase.category || coreerrors.RetryableOf(err) != testCase.retryable {
			t.Fatalf("status %d: got category=%s retryable=%t (%v)", testCase.status, coreerrors.CategoryOf(err), coreerrors.RetryableOf(err), err)
		}
		if StatusCodeOf(err) != testCase.status {
			t.Fatalf("status %d: StatusCodeOf=%d", testCase.status, StatusCodeOf(err))
		}
	}
}

func TestRateLimitWait(t *testing.T) {
	now := time.Unix(1_000, 0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repos/acme/widgets" {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", "1030")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()
	client, err := NewClient(Options{APIURL: server.URL, Token: "x", Repository: "acme/widgets", Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.GetRepository(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.RetryAfter() != 7*time.Second {
		t.Fatalf("expected 7s retry-after, got %v", err)
	}
	_, err = client.GetReleaseByTag(context.Background(), "x")
	if !errors.As(err, &statusErr) || statusErr.RetryAfter() != 30*time.Second || !statusErr.RateLimited {
		t.Fatalf("expected 30s reset wait, got %v", err)
	}
}

func TestMalformedResponseIsDiscoveryFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"total_count":"many"}`))
	}))
	defer server.Close()
	client, err := NewClient(Options{APIURL: server.URL, Token: "x", Repository: "acme/widgets"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.ListRunArtifacts(context.Background(), 1, 1, 10)
	if coreerrors.CategoryOf(err) != coreerrors.CategoryDiscovery || coreerrors.CodeOf(err) != "malformed_response" {
		t.Fatalf("expected malformed_response, got %v", err)
	}
}

func TestCanceledContextIsNotRetryable(t *testing.T) {
	hub := fakehub.New(t, "acme", "widgets")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newFakeClient(t, hub).GetRepository(ctx)
	if err == nil || coreerrors.RetryableOf(err) {
		t.Fatalf("expected non-retryable cancellation, got %v", err)
	}
	if coreerrors.CodeOf(err) != "canceled" {
		t.Fatalf("unexpected code: %s", coreerrors.CodeOf(err))
	}
}

func TestUnreachableIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	target := server.URL
	server.Close()
	client, err := NewClient(Options{APIURL: target, Token: "x", Repository: "acme/widgets"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.GetRepository(context.Background())
	if coreerrors.CategoryOf(err) != coreerrors.CategoryNetworkTransient || !coreerrors.RetryableOf(err) {
		t.Fatalf("expected transient failure, got %v", err)
	}
}

func TestGetTagRef(t *testing.T) {
	hub := fakehub.New(t, "acme", "widgets")
	client := newFakeClient(t, hub)
	ctx := context.Background()

	if _, err := client.GetTagRef(ctx, "v1.2.3"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	hub.AddTag("release/v1.2.3", "5e1f00d")
	ref, err := client.GetTagRef(ctx, "release/v1.2.3")
	if err != nil {
		t.Fatalf("get tag ref: %v", err)
	}
	if ref.Ref != "refs/tags/release/v1.2.3" || ref.Object.SHA != "5e1f00d" {
		t.Fatalf("unexpected ref: %+v", ref)
	}
	if _, err := client.CreateRelease(ctx, upstream.CreateReleaseRequest{TagName: "pipeline-1", TargetCommitish: "abc123"}); err != nil {
		t.Fatalf("create release: %v", err)
	}
	ref, err = client.GetTagRef(ctx, "pipeline-1")
	if err != nil || ref.Object.SHA != "abc123" {
		t.Fatalf("expected release tag at abc123, got %+v %v", ref, err)
	}
}

func TestRequestTimeoutIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()
	client, err := NewClient(Options{APIURL: server.URL, Token: "x", Repository: "acme/widgets", RequestTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	started := time.Now()
	_, err = client.GetRepository(context.Background())
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("request outlived its timeout: %s", elapsed)
	}
	if coreerrors.CategoryOf(err) != coreerrors.CategoryNetworkTransient || coreerrors.CodeOf(err) != "timeout" || !coreerrors.RetryableOf(err) {
		t.Fatalf("expected retryable timeout, got %v (code %s)", err, coreerrors.CodeOf(err))
	}
	if coreerrors.IsCanceled(err) {
		t.Fatalf("a per-call timeout is not a cancellation: %v", err)
	}
}

func TestTransferTimeoutInterruptsDownloadBody(t *testing.T) {
	hub := fakehub.New(t, "acme", "widgets")
	artifact := hub.AddArtifact(7, "logs", bytes.Repeat([]byte("z"), 4096))
	hub.StallDownloads(artifact.ID, 1)
	client, err := NewClient(Options{
		APIURL:          hub.URL,
		Token:           fakehub.Token,
		Repository:      "acme/widgets",
		TransferTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	body, err := client.DownloadArtifact(context.Background(), artifact.ID)
	if err != nil {
		t.Fatalf("open download: %v", err)
	}
	started := time.Now()
	_, err = io.ReadAll(body)
	_ = body.Close()
	if err == nil {
		t.Fatalf("expected stalled body to fail")
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("stalled read outlived the transfer timeout: %s", elapsed)
	}

	body, err = client.DownloadArtifact(context.Background(), artifact.ID)
	if err != nil {
		t.Fatalf("reopen download: %v", err)
	}
	defer func() {
		_ = body.Close()
	}()
	content, err := io.ReadAll(body)
	if err != nil || len(content) != 4096 {
		t.Fatalf("expected full body on second read, got %d bytes (%v)", len(content), err)
	}
}
