// Package fakehub is an in-memory stand-in for the upstream API used by tests.
package fakehub

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/davidahmann/retain/core/schema/v1/upstream"
)

const Token = "test-token"

const defaultBranchSHA = "d1e2f3a4b5c6d7e8f9a0b1c2d3e4f5a6b7c8d9e0"

type release struct {
	meta    upstream.Release
	request upstream.CreateReleaseRequest
	assets  []upstream.ReleaseAsset
	content map[string][]byte
}

type Server struct {
	*httptest.Server

	Owner string
	Repo  string

	mu         sync.Mutex
	repository upstream.Repository
	artifacts  map[int64][]upstream.Artifact
	contents   map[int64][]byte
	releases   []*release
	tags       map[string]string
	nextID     int64
	calls      map[string]int

	uploadFailures   map[string]int
	droppedUploads   map[string]int
	downloadFailures map[int64]int
	stalledBlobs     map[int64]int
	createStatus     int
	tagRewrite       func(string) string
	repoStatus       int
}

// New starts a fake for owner/repo. The server is closed when t finishes.
func New(t testing.TB, owner, repo string) *Server {
	t.Helper()
	server := &Server{
		Owner: owner,
		Repo:  repo,
		repository: upstream.Repository{
			ID:         1,
			Name:       repo,
			FullName:   owner + "/" + repo,
			Private:    true,
			Visibility: "private",
			Owner:      upstream.Owner{Login: owner, Type: "Organization"},
		},
		artifacts:        map[int64][]upstream.Artifact{},
		contents:         map[int64][]byte{},
		tags:             map[string]string{},
		nextID:           100,
		calls:            map[string]int{},
		uploadFailures:   map[string]int{},
		droppedUploads:   map[string]int{},
		downloadFailures: map[int64]int{},
		stalledBlobs:     map[int64]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}", server.authorized(server.handleRepository))
	mux.HandleFunc("GET /repos/{owner}/{repo}/actions/runs/{run}/artifacts", server.authorized(server.handleListArtifacts))
	mux.HandleFunc("GET /repos/{owner}/{repo}/actions/artifacts/{id}/zip", server.authorized(server.handleDownloadRedirect))
	mux.HandleFunc("GET /blob/{id}", server.handleBlob)
	mux.HandleFunc("GET /repos/{owner}/{repo}/releases/tags/{tag}", server.authorized(server.handleReleaseByTag))
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/ref/tags/{tag...}", server.authorized(server.handleTagRef))
	mux.HandleFunc("POST /repos/{owner}/{repo}/releases", server.authorized(server.handleCreateRelease))
	mux.HandleFunc("GET /repos/{owner}/{repo}/releases/{id}/assets", server.authorized(server.handleListAssets))
	mux.HandleFunc("POST /uploads/repos/{owner}/{repo}/releases/{id}/assets", server.authorized(server.handleUpload))
	server.Server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func (s *Server) SetRepository(mutate func(*upstream.Repository)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.repository)
}

// AddArtifact registers an artifact for runID whose packaged content is content.
func (s *Server) AddArtifact(runID int64, name string, content []byte) upstream.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addArtifactLocked(runID, name, content, false)
}

func (s *Server) AddExpiredArtifact(runID int64, name string, size int64) upstream.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	artifact := s.addArtifactLocked(runID, name, nil, true)
	s.setSizeLocked(runID, artifact.ID, size)
	artifact.SizeInBytes = size
	return artifact
}

func (s *Server) addArtifactLocked(runID int64, name string, content []byte, expired bool) upstream.Artifact {
	s.nextID++
	created := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	expires := created.Add(90 * 24 * time.Hour)
	artifact := upstream.Artifact{
		ID:                 s.nextID,
		Name:               name,
		SizeInBytes:        int64(len(content)),
		ArchiveDownloadURL: fmt.Sprintf("%s/repos/%s/%s/actions/artifacts/%d/zip", s.URL, s.Owner, s.Repo, s.nextID),
		Expired:            expired,
		CreatedAt:          &created,
		ExpiresAt:          &expires,
	}
	s.artifacts[runID] = append(s.artifacts[runID], artifact)
	if !expired {
		s.contents[artifact.ID] = append([]byte(nil), content...)
	}
	return artifact
}

func (s *Server) setSizeLocked(runID, artifactID, size int64) {
	for index := range s.artifacts[runID] {
		if s.artifacts[runID][index].ID == artifactID {
			s.artifacts[runID][index].SizeInBytes = size
		}
	}
}

// AddRelease seeds an existing release with the given tag.
func (s *Server) AddRelease(tag string) upstream.Release {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createReleaseLocked(upstream.CreateReleaseRequest{TagName: tag, Name: tag}).meta
}

// AddTag seeds a git tag at sha with no release pointing at it.
func (s *Server) AddTag(tag, sha string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[tag] = sha
}

// TagSHA reports the commit a git tag points at.
func (s *Server) TagSHA(tag string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sha, ok := s.tags[tag]
	return sha, ok
}

// FailUploads makes the next times uploads of name answer 502; -1 fails forever.
func (s *Server) FailUploads(name string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadFailures[name] = times
}

// DropUploadResponses stores the next times uploads of name but answers 502,
// as if the response was lost after the asset landed.
func (s *Server) DropUploadResponses(name string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.droppedUploads[name] = times
}

// FailDownloads makes the next times downloads of artifactID answer 503; -1 fails forever.
func (s *Server) FailDownloads(artifactID int64, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloadFailures[artifactID] = times
}

// StallDownloads makes the next times blob reads of artifactID send half the
// content and then hang until the client gives up.
func (s *Server) StallDownloads(artifactID int64, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stalledBlobs[artifactID] = times
}

func (s *Server) SetCreateReleaseStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createStatus = status
}

func (s *Server) SetRepositoryStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repoStatus = status
}

// RewriteTags makes release creation store a different tag than requested.
func (s *Server) RewriteTags(rewrite func(string) string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tagRewrite = rewrite
}

func (s *Server) Calls(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[kind]
}

func (s *Server) Releases() []upstream.Release {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]upstream.Release, 0, len(s.releases))
	for _, entry := range s.releases {
		out = append(out, entry.meta)
	}
	return out
}

// CreateRequest returns the request that created the release tagged tag.
func (s *Server) CreateRequest(tag string) (upstream.CreateReleaseRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.releases {
		if entry.meta.TagName == tag {
			return entry.request, true
		}
	}
	return upstream.CreateReleaseRequest{}, false
}

func (s *Server) Assets(releaseID int64) []upstream.ReleaseAsset {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.findReleaseLocked(releaseID)
	if entry == nil {
		return nil
	}
	out := append([]upstream.ReleaseAsset(nil), entry.assets...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Server) AssetContent(releaseID int64, name string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.findReleaseLocked(releaseID)
	if entry == nil {
		return nil
	}
	return append([]byte(nil), entry.content[name]...)
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+Token {
			writeError(w, http.StatusUnauthorized, "Bad credentials", nil)
			return
		}
		if r.PathValue("owner") != s.Owner || r.PathValue("repo") != s.Repo {
			writeError(w, http.StatusNotFound, "Not Found", nil)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleRepository(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.calls["repository"]++
	status := s.repoStatus
	repository := s.repository
	s.mu.Unlock()
	if status != 0 {
		writeError(w, status, http.StatusText(status), nil)
		return
	}
	writeJSON(w, http.StatusOK, repository)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	runID, err := strconv.ParseInt(r.PathValue("run"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "Not Found", nil)
		return
	}
	s.mu.Lock()
	s.calls["list_artifacts"]++
	all := append([]upstream.Artifact(nil), s.artifacts[runID]...)
	s.mu.Unlock()
	page, perPage := pagination(r)
	writeJSON(w, http.StatusOK, upstream.ArtifactList{
		TotalCount: len(all),
		Artifacts:  slicePage(all, page, perPage),
	})
}

func (s *Server) handleDownloadRedirect(w http.ResponseWriter, r *http.Request) {
	artifactID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "Not Found", nil)
		return
	}
	s.mu.Lock()
	s.calls["download"]++
	_, exists := s.contents[artifactID]
	failures := s.downloadFailures[artifactID]
	if failures > 0 {
		s.downloadFailures[artifactID] = failures - 1
	}
	s.mu.Unlock()
	if failures != 0 {
		writeError(w, http.StatusServiceUnavailable, "Service Unavailable", nil)
		return
	}
	if !exists {
		writeError(w, http.StatusGone, "Artifact has expired", nil)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/blob/%d", artifactID), http.StatusFound)
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	artifactID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	s.mu.Lock()
	s.calls["blob"]++
	content, ok := s.contents[artifactID]
	stalls := s.stalledBlobs[artifactID]
	if stalls > 0 {
		s.stalledBlobs[artifactID] = stalls - 1
	}
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	if stalls != 0 {
		_, _ = w.Write(content[:len(content)/2])
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
		return
	}
	_, _ = w.Write(content)
}

func (s *Server) handleReleaseByTag(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	s.mu.Lock()
	s.calls["release_by_tag"]++
	var found *release
	for _, entry := range s.releases {
		if entry.meta.TagName == tag {
			found = entry
		}
	}
	s.mu.Unlock()
	if found == nil {
		writeError(w, http.StatusNotFound, "Not Found", nil)
		return
	}
	writeJSON(w, http.StatusOK, found.meta)
}

func (s *Server) handleTagRef(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	s.mu.Lock()
	s.calls["tag_ref"]++
	sha, ok := s.tags[tag]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found", nil)
		return
	}
	writeJSON(w, http.StatusOK, upstream.GitRef{
		Ref:    "refs/tags/" + tag,
		URL:    fmt.Sprintf("%s/repos/%s/%s/git/refs/tags/%s", s.URL, s.Owner, s.Repo, tag),
		Object: upstream.GitRefObject{Type: "commit", SHA: sha},
	})
}

func (s *Server) handleCreateRelease(w http.ResponseWriter, r *http.Request) {
	var request upstream.CreateReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON", nil)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["create_release"]++
	if s.createStatus != 0 {
		writeError(w, s.createStatus, http.StatusText(s.createStatus), nil)
		return
	}
	for _, entry := range s.releases {
		if entry.meta.TagName == request.TagName {
			writeError(w, http.StatusUnprocessableEntity, "Validation Failed", []upstream.ErrorDetail{{Resource: "Release", Code: "already_exists", Field: "tag_name"}})
			return
		}
	}
	if s.tagRewrite != nil {
		request.TagName = s.tagRewrite(request.TagName)
	}
	writeJSON(w, http.StatusCreated, s.createReleaseLocked(request).meta)
}

// createReleaseLocked creates the release and, like the real API, its tag at
// target_commitish unless the tag already exists.
func (s *Server) createReleaseLocked(request upstream.CreateReleaseRequest) *release {
	if _, ok := s.tags[request.TagName]; !ok {
		target := request.TargetCommitish
		if target == "" {
			target = defaultBranchSHA
		}
		s.tags[request.TagName] = target
	}
	s.nextID++
	entry := &release{
		meta: upstream.Release{
			ID:         s.nextID,
			TagName:    request.TagName,
			Name:       request.Name,
			HTMLURL:    fmt.Sprintf("%s/%s/%s/releases/tag/%s", s.URL, s.Owner, s.Repo, request.TagName),
			UploadURL:  fmt.Sprintf("%s/uploads/repos/%s/%s/releases/%d/assets{?name,label}", s.URL, s.Owner, s.Repo, s.nextID),
			Draft:      request.Draft,
			Prerelease: request.Prerelease,
		},
		request: request,
		content: map[string][]byte{},
	}
	s.releases = append(s.releases, entry)
	return entry
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	releaseID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "Not Found", nil)
		return
	}
	s.mu.Lock()
	s.calls["list_assets"]++
	entry := s.findReleaseLocked(releaseID)
	var assets []upstream.ReleaseAsset
	if entry != nil {
		assets = append(assets, entry.assets...)
	}
	s.mu.Unlock()
	if entry == nil {
		writeError(w, http.StatusNotFound, "Not Found", nil)
		return
	}
	page, perPage := pagination(r)
	writeJSON(w, http.StatusOK, slicePage(assets, page, perPage))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	releaseID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "Not Found", nil)
		return
	}
	name := r.URL.Query().Get("name")
	content, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body", nil)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["upload"]++
	if failures := s.uploadFailures[name]; failures != 0 {
		if failures > 0 {
			s.uploadFailures[name] = failures - 1
		}
		writeError(w, http.StatusBadGateway, "Bad Gateway", nil)
		return
	}
	entry := s.findReleaseLocked(releaseID)
	if entry == nil {
		writeError(w, http.StatusNotFound, "Not Found", nil)
		return
	}
	if name == "" || r.ContentLength != int64(len(content)) {
		writeError(w, http.StatusBadRequest, "name and exact content length are required", nil)
		return
	}
	for _, asset := range entry.assets {
		if asset.Name == name {
			writeError(w, http.StatusUnprocessableEntity, "Validation Failed", []upstream.ErrorDetail{{Resource: "ReleaseAsset", Code: "already_exists", Field: "name"}})
			return
		}
	}
	s.nextID++
	asset := upstream.ReleaseAsset{
		ID:          s.nextID,
		Name:        name,
		State:       upstream.AssetStateUploaded,
		ContentType: r.Header.Get("Content-Type"),
		Size:        int64(len(content)),
	}
	entry.assets = append(entry.assets, asset)
	entry.content[name] = content
	if dropped := s.droppedUploads[name]; dropped != 0 {
		if dropped > 0 {
			s.droppedUploads[name] = dropped - 1
		}
		writeError(w, http.StatusBadGateway, "Bad Gateway", nil)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

func (s *Server) findReleaseLocked(releaseID int64) *release {
	for _, entry := range s.releases {
		if entry.meta.ID == releaseID {
			return entry
		}
	}
	return nil
}

func pagination(r *http.Request) (int, int) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	perPage, err := strconv.Atoi(r.URL.Query().Get("per_page"))
	if err != nil || perPage < 1 {
		perPage = 30
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}

func slicePage[T any](items []T, page, perPage int) []T {
	start := (page - 1) * perPage
	if start >= len(items) {
		return []T{}
	}
	end := start + perPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string, details []upstream.ErrorDetail) {
	writeJSON(w, status, upstream.ErrorResponse{Message: strings.TrimSpace(message), Errors: details})
}
