// Package github is the transport for the upstream calls the retention
// pipeline needs. Responses are schema-checked and decoded into the typed
// records of core/schema/v1/upstream before they leave this package.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	coreerrors "github.com/davidahmann/retain/core/errors"
	"github.com/davidahmann/retain/core/schema/v1/upstream"
	"github.com/davidahmann/retain/core/schema/validate"
)

const (
	DefaultAPIURL          = "https://api.github.com"
	DefaultRequestTimeout  = 60 * time.Second
	DefaultTransferTimeout = 30 * time.Minute
	DefaultPerPage         = 100

	apiVersion       = "2022-11-28"
	maxResponseBytes = 32 * 1024 * 1024
)

type Options struct {
	APIURL          string
	Token           string
	Repository      string
	UserAgent       string
	RequestTimeout  time.Duration
	TransferTimeout time.Duration
	HTTPClient      *http.Client
	Now             func() time.Time
}

type Client struct {
	apiURL          *url.URL
	token           string
	owner           string
	name            string
	userAgent       string
	requestTimeout  time.Duration
	transferTimeout time.Duration
	httpClient      *http.Client
	now             func() time.Time
}

func NewClient(options Options) (*Client, error) {
	token := strings.TrimSpace(options.Token)
	if token == "" {
		return nil, coreerrors.Configuration("github token is required")
	}
	owner, name, ok := strings.Cut(strings.TrimSpace(options.Repository), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, coreerrors.Configuration("repository must be owner/name, got %q", options.Repository)
	}
	rawURL := strings.TrimSpace(options.APIURL)
	if rawURL == "" {
		rawURL = DefaultAPIURL
	}
	apiURL, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil || apiURL.Scheme == "" || apiURL.Host == "" {
		return nil, coreerrors.Configuration("invalid api url %q", rawURL)
	}
	client := &Client{
		apiURL:          apiURL,
		token:           token,
		owner:           owner,
		name:            name,
		userAgent:       options.UserAgent,
		requestTimeout:  options.RequestTimeout,
		transferTimeout: options.TransferTimeout,
		httpClient:      options.HTTPClient,
		now:             options.Now,
	}
	if client.userAgent == "" {
		client.userAgent = "retain"
	}
	if client.requestTimeout <= 0 {
		client.requestTimeout = DefaultRequestTimeout
	}
	if client.transferTimeout <= 0 {
		client.transferTimeout = DefaultTransferTimeout
	}
	if client.httpClient == nil {
		// Per-call deadlines come from contexts; the client itself carries no
		// timeout so streamed bodies are not cut short.
		client.httpClient = &http.Client{}
	}
	if client.now == nil {
		client.now = time.Now
	}
	return client, nil
}

func (c *Client) Repository() string {
	return c.owner + "/" + c.name
}

func (c *Client) GetRepository(ctx context.Context) (upstream.Repository, error) {
	var repository upstream.Repository
	err := c.getJSON(ctx, c.repoPath(), nil, upstream.RepositorySchema, &repository)
	return repository, err
}

func (c *Client) ListRunArtifacts(ctx context.Context, runID int64, page, perPage int) (upstream.ArtifactList, error) {
	var list upstream.ArtifactList
	path := c.repoPath("actions", "runs", strconv.FormatInt(runID, 10), "artifacts")
	err := c.getJSON(ctx, path, pageQuery(page, perPage), upstream.ArtifactListSchema, &list)
	return list, err
}

// DownloadArtifact opens the packaged (zip) content of an artifact. The API
// answers with a redirect to blob storage; net/http drops the Authorization
// header when the redirect leaves the API host. The transfer deadline covers
// reading the body, so callers must Close the reader.
func (c *Client) DownloadArtifact(ctx context.Context, artifactID int64) (io.ReadCloser, error) {
	path := c.repoPath("actions", "artifacts", strconv.FormatInt(artifactID, 10), "zip")
	callCtx, cancel := context.WithTimeout(ctx, c.transferTimeout)
	request, err := c.newRequest(callCtx, http.MethodGet, c.endpoint(path, nil), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	// #nosec G704 -- endpoint is derived from the configured API URL.
	response, err := c.httpClient.Do(request)
	if err != nil {
		cancel()
		return nil, classifyTransport(ctx, err)
	}
	if response.StatusCode != http.StatusOK {
		defer cancel()
		defer func() {
			_ = response.Body.Close()
		}()
		return nil, c.statusError(http.MethodGet, path, response)
	}
	return &cancelOnClose{ReadCloser: response.Body, cancel: cancel}, nil
}

func (c *Client) GetReleaseByTag(ctx context.Context, tag string) (upstream.Release, error) {
	var release upstream.Release
	err := c.getJSON(ctx, c.repoPath("releases", "tags", tag), nil, upstream.ReleaseSchema, &release)
	return release, err
}

// GetTagRef looks up refs/tags/{tag} exactly. A tag may exist in git
// without any release pointing at it.
func (c *Client) GetTagRef(ctx context.Context, tag string) (upstream.GitRef, error) {
	var ref upstream.GitRef
	segments := append([]string{"git", "ref", "tags"}, strings.Split(tag, "/")...)
	err := c.getJSON(ctx, c.repoPath(segments...), nil, upstream.GitRefSchema, &ref)
	return ref, err
}

func (c *Client) CreateRelease(ctx context.Context, request upstream.CreateReleaseRequest) (upstream.Release, error) {
	var release upstream.Release
	err := c.sendJSON(ctx, http.MethodPost, c.repoPath("releases"), request, upstream.ReleaseSchema, &release)
	return release, err
}

func (c *Client) ListReleaseAssets(ctx context.Context, releaseID int64, page, perPage int) ([]upstream.ReleaseAsset, error) {
	var assets []upstream.ReleaseAsset
	path := c.repoPath("releases", strconv.FormatInt(releaseID, 10), "assets")
	err := c.getJSON(ctx, path, pageQuery(page, perPage), upstream.ReleaseAssetListSchema, &assets)
	return assets, err
}

// UploadReleaseAsset streams size bytes from content to the release's upload
// endpoint. uploadURL is the release's upload_url, hypermedia template included.
func (c *Client) UploadReleaseAsset(ctx context.Context, uploadURL, name, contentType string, content io.Reader, size int64) (upstream.ReleaseAsset, error) {
	base, _, _ := strings.Cut(uploadURL, "{")
	target, err := url.Parse(base)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return upstream.ReleaseAsset{}, malformed("upload url", fmt.Errorf("invalid upload url %q", uploadURL))
	}
	query := target.Query()
	query.Set("name", name)
	target.RawQuery = query.Encode()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if size == 0 || content == nil {
		content = http.NoBody
	}

	callCtx, cancel := context.WithTimeout(ctx, c.transferTimeout)
	defer cancel()
	request, err := c.newRequest(callCtx, http.MethodPost, target.String(), content)
	if err != nil {
		return upstream.ReleaseAsset{}, err
	}
	request.ContentLength = size
	request.Header.Set("Content-Type", contentType)

	var asset upstream.ReleaseAsset
	if err := c.exchange(ctx, request, target.Path, upstream.ReleaseAssetSchema, &asset); err != nil {
		return upstream.ReleaseAsset{}, err
	}
	return asset, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, schema *validate.Schema, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	request, err := c.newRequest(callCtx, http.MethodGet, c.endpoint(path, query), nil)
	if err != nil {
		return err
	}
	return c.exchange(ctx, request, path, schema, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body any, schema *validate.Schema, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return coreerrors.Wrap(fmt.Errorf("encode request: %w", err), coreerrors.CategoryInternalFailure, "encode_failed", "", false)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	request, err := c.newRequest(callCtx, method, c.endpoint(path, nil), bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	return c.exchange(ctx, request, path, schema, out)
}

// exchange performs one request and decodes a validated 2xx body into out.
// parent is the caller's context, used to tell cancellation from timeouts.
func (c *Client) exchange(parent context.Context, request *http.Request, path string, schema *validate.Schema, out any) error {
	// #nosec G704 -- request targets the configured API or its upload host.
	response, err := c.httpClient.Do(request)
	if err != nil {
		return classifyTransport(parent, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return c.statusError(request.Method, path, response)
	}
	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes+1))
	if err != nil {
		return classifyTransport(parent, err)
	}
	if len(raw) > maxResponseBytes {
		return malformed(schema.Name(), fmt.Errorf("response exceeds %d bytes", maxResponseBytes))
	}
	if err := schema.Validate(raw); err != nil {
		return malformed(schema.Name(), err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return malformed(schema.Name(), err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	request, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("build request: %w", err), coreerrors.CategoryInternalFailure, "request_build_failed", "", false)
	}
	request.Header.Set("Accept", "application/vnd.github+json")
	request.Header.Set("Authorization", "Bearer "+c.token)
	request.Header.Set("User-Agent", c.userAgent)
	request.Header.Set("X-GitHub-Api-Version", apiVersion)
	return request, nil
}

func (c *Client) repoPath(segments ...string) string {
	parts := []string{"repos", url.PathEscape(c.owner), url.PathEscape(c.name)}
	for _, segment := range segments {
		parts = append(parts, url.PathEscape(segment))
	}
	return "/" + strings.Join(parts, "/")
}

func (c *Client) endpoint(path string, query url.Values) string {
	target := strings.TrimRight(c.apiURL.String(), "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target
}

func pageQuery(page, perPage int) url.Values {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > DefaultPerPage {
		perPage = DefaultPerPage
	}
	return url.Values{
		"page":     []string{strconv.Itoa(page)},
		"per_page": []string{strconv.Itoa(perPage)},
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelOnClose) Close() error {
	err := r.ReadCloser.Close()
	r.cancel()
	return err
}
