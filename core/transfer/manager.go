// Package transfer moves run artifacts onto a published release. Each
// artifact is streamed through a spool file, uploaded, and verified against
// the release's asset list. Failures are isolated per artifact.
package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	coreerrors "github.com/davidahmann/retain/core/errors"
	"github.com/davidahmann/retain/core/github"
	"github.com/davidahmann/retain/core/inventory"
	"github.com/davidahmann/retain/core/publish"
	"github.com/davidahmann/retain/core/retry"
	"github.com/davidahmann/retain/core/schema/v1/upstream"
)

const (
	DefaultConcurrency = 4
	ContentType        = "application/zip"

	KindExpired = "expired"
)

type Status string

const (
	StatusAttached Status = "attached"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

type Outcome struct {
	ArtifactID   int64  `json:"artifact_id"`
	ArtifactName string `json:"artifact_name"`
	AssetName    string `json:"asset_name"`
	Status       Status `json:"status"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Error        string `json:"error,omitempty"`
	SHA256       string `json:"sha256,omitempty"`
	SizeBytes    int64  `json:"size_bytes"`
	AssetID      int64  `json:"asset_id,omitempty"`
	Attempts     int    `json:"attempts"`
}

type API interface {
	DownloadArtifact(ctx context.Context, artifactID int64) (io.ReadCloser, error)
	UploadReleaseAsset(ctx context.Context, uploadURL, name, contentType string, content io.Reader, size int64) (upstream.ReleaseAsset, error)
	ListReleaseAssets(ctx context.Context, releaseID int64, page, perPage int) ([]upstream.ReleaseAsset, error)
}

type Manager struct {
	API         API
	Retry       retry.Policy
	Concurrency int
	// SpoolDir is the parent of the per-run spool directory; empty means
	// the system temp dir.
	SpoolDir string
	// Reserved asset names that artifacts may not map to.
	Reserved []string
	Logger   zerolog.Logger
}

// Transfer attaches every artifact of inv to release and returns one outcome
// per artifact, in inventory order. A fatal condition (permission loss or
// cancellation) stops scheduling; artifacts not finished by then are failed
// with kind aborted and the fatal error is returned with the outcomes.
func (m Manager) Transfer(ctx context.Context, inv inventory.Inventory, release publish.Release) ([]Outcome, error) {
	names, err := PlanAssets(inv, m.Reserved...)
	if err != nil {
		return nil, err
	}
	outcomes := make([]Outcome, len(inv.Artifacts))
	for index, artifact := range inv.Artifacts {
		outcomes[index] = Outcome{ArtifactID: artifact.ID, ArtifactName: artifact.Name, AssetName: names[index]}
	}
	if len(outcomes) == 0 {
		return outcomes, nil
	}

	spoolDir, err := os.MkdirTemp(m.SpoolDir, "retain-spool-*")
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("create spool dir: %w", err), coreerrors.CategoryInternalFailure, "spool_unavailable", "check free space in the runner temp dir", false)
	}
	defer func() {
		_ = os.RemoveAll(spoolDir)
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		fatalOnce sync.Once
		fatal     error
	)
	group := new(errgroup.Group)
	group.SetLimit(m.concurrency())
	for index := range inv.Artifacts {
		if runCtx.Err() != nil {
			break
		}
		group.Go(func() error {
			if runCtx.Err() != nil {
				return nil
			}
			outcome, err := m.transferOne(runCtx, spoolDir, release, inv.Artifacts[index], outcomes[index])
			outcomes[index] = outcome
			if isFatal(err) {
				fatalOnce.Do(func() {
					fatal = err
					cancel()
				})
			}
			return nil
		})
	}
	_ = group.Wait()

	if fatal == nil && ctx.Err() != nil {
		fatal = coreerrors.Canceled(ctx.Err())
	}
	for index := range outcomes {
		if outcomes[index].Status == "" {
			outcomes[index] = aborted(outcomes[index], fatal)
		}
	}
	return outcomes, fatal
}

func (m Manager) concurrency() int {
	if m.Concurrency < 1 {
		return DefaultConcurrency
	}
	return m.Concurrency
}

func isFatal(err error) bool {
	return err != nil && (coreerrors.CategoryOf(err) == coreerrors.CategoryPermission || coreerrors.IsCanceled(err))
}

func aborted(outcome Outcome, cause error) Outcome {
	outcome.Status = StatusFailed
	outcome.ErrorKind = coreerrors.CodeAborted
	outcome.Error = "transfer aborted"
	if cause != nil {
		outcome.Error = "transfer aborted: " + cause.Error()
	}
	return outcome
}

// transferOne runs the state machine for one artifact. The returned error is
// the unwrapped cause of a failure, for fatal-condition checks.
func (m Manager) transferOne(ctx context.Context, spoolDir string, release publish.Release, artifact inventory.Artifact, outcome Outcome) (Outcome, error) {
	log := m.Logger.With().Int64("artifact_id", artifact.ID).Str("artifact", artifact.Name).Logger()
	sm := newMachine(artifact.Name)
	fail := func(kind string, err error) (Outcome, error) {
		if transitionErr := sm.to(StateFailed); transitionErr != nil {
			err = transitionErr
		}
		if ctx.Err() != nil {
			err = coreerrors.Canceled(err)
			kind = coreerrors.CodeAborted
		}
		outcome.Status = StatusFailed
		outcome.ErrorKind = kind
		outcome.Error = err.Error()
		log.Warn().Str("kind", kind).Err(err).Msg("artifact transfer failed")
		return outcome, err
	}

	if artifact.Expired {
		if err := sm.to(StateSkipped); err != nil {
			return fail("invalid_transition", err)
		}
		outcome.Status = StatusSkipped
		outcome.ErrorKind = KindExpired
		outcome.Error = "artifact expired before it could be retained"
		outcome.SizeBytes = artifact.SizeBytes
		log.Info().Msg("artifact skipped: expired")
		return outcome, nil
	}

	if err := sm.to(StateDownloading); err != nil {
		return fail("invalid_transition", err)
	}
	log.Debug().Str("state", string(sm.state)).Send()
	spool, err := m.download(ctx, spoolDir, artifact)
	outcome.Attempts += spool.attempts
	if err != nil {
		return fail(coreerrors.CodeDownloadFailed, err)
	}
	defer func() {
		_ = os.Remove(spool.path)
	}()
	outcome.SHA256 = spool.digest
	outcome.SizeBytes = spool.size
	if err := sm.to(StateDownloaded); err != nil {
		return fail("invalid_transition", err)
	}
	if artifact.SizeBytes != spool.size {
		log.Debug().Int64("listed_size", artifact.SizeBytes).Int64("downloaded_size", spool.size).Msg("downloaded size differs from listing")
	}

	if err := sm.to(StateUploading); err != nil {
		return fail("invalid_transition", err)
	}
	log.Debug().Str("state", string(sm.state)).Str("asset", outcome.AssetName).Send()
	uploaded, attempts, err := m.upload(ctx, release, spool, outcome.AssetName)
	outcome.Attempts += attempts
	if err != nil {
		return fail(coreerrors.CodeUploadFailed, err)
	}
	asset, err := m.verify(ctx, release, uploaded.ID, outcome.AssetName, spool.size)
	if err != nil {
		return fail(coreerrors.CodeVerifyFailed, err)
	}
	if err := sm.to(StateAttached); err != nil {
		return fail("invalid_transition", err)
	}
	outcome.Status = StatusAttached
	outcome.AssetID = asset.ID
	log.Info().Str("asset", outcome.AssetName).Int64("size", spool.size).Int("attempts", outcome.Attempts).Msg("artifact attached")
	return outcome, nil
}

type spooled struct {
	path     string
	digest   string
	size     int64
	attempts int
}

// download streams the artifact into a spool file while hashing it. Each
// attempt starts the file over.
func (m Manager) download(ctx context.Context, spoolDir string, artifact inventory.Artifact) (spooled, error) {
	file, err := os.CreateTemp(spoolDir, fmt.Sprintf("artifact-%d-*.zip", artifact.ID))
	if err != nil {
		return spooled{}, coreerrors.Wrap(fmt.Errorf("create spool file: %w", err), coreerrors.CategoryInternalFailure, "spool_unavailable", "", false)
	}
	result := spooled{path: file.Name()}
	attempts, err := m.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			m.Logger.Warn().Int64("artifact_id", artifact.ID).Int("attempt", attempt).Msg("retrying artifact download")
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return spoolError(err)
		}
		if err := file.Truncate(0); err != nil {
			return spoolError(err)
		}
		body, err := m.API.DownloadArtifact(ctx, artifact.ID)
		if err != nil {
			return err
		}
		defer func() {
			_ = body.Close()
		}()
		hash := sha256.New()
		written, err := io.Copy(io.MultiWriter(spoolWriter{file}, hash), body)
		if err != nil {
			return readError(ctx, err)
		}
		result.size = written
		result.digest = hex.EncodeToString(hash.Sum(nil))
		return nil
	})
	result.attempts = attempts
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = spoolError(closeErr)
	}
	if err != nil {
		_ = os.Remove(result.path)
		return result, err
	}
	return result, nil
}

// upload streams the spool file to the release. An already_exists answer
// means an earlier attempt landed; verification decides.
func (m Manager) upload(ctx context.Context, release publish.Release, spool spooled, name string) (upstream.ReleaseAsset, int, error) {
	var asset upstream.ReleaseAsset
	attempts, err := m.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			m.Logger.Warn().Str("asset", name).Int("attempt", attempt).Msg("retrying asset upload")
		}
		file, err := os.Open(spool.path)
		if err != nil {
			return spoolError(err)
		}
		defer func() {
			_ = file.Close()
		}()
		asset, err = m.API.UploadReleaseAsset(ctx, release.UploadURL, name, ContentType, file, spool.size)
		if err != nil && github.HasErrorCode(err, github.CodeAlreadyExists) {
			m.Logger.Debug().Str("asset", name).Msg("asset already exists; verifying")
			asset = upstream.ReleaseAsset{}
			return nil
		}
		return err
	})
	return asset, attempts, err
}

// verify finds the asset on the release by id, or by name when the id is
// unknown, and requires it to be fully uploaded with the expected size.
func (m Manager) verify(ctx context.Context, release publish.Release, assetID int64, name string, size int64) (upstream.ReleaseAsset, error) {
	var found upstream.ReleaseAsset
	_, err := m.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		asset, ok, err := m.findAsset(ctx, release.ID, assetID, name)
		if err != nil {
			return err
		}
		if !ok {
			return coreerrors.Wrap(fmt.Errorf("asset %q is not listed on release %d", name, release.ID), coreerrors.CategoryNetworkTransient, "asset_not_listed", "", true)
		}
		if asset.State != upstream.AssetStateUploaded {
			return coreerrors.Wrap(fmt.Errorf("asset %q is in state %q", name, asset.State), coreerrors.CategoryNetworkTransient, "asset_pending", "", true)
		}
		if asset.Size != size {
			return coreerrors.Wrap(fmt.Errorf("asset %q has size %d, expected %d", name, asset.Size, size), coreerrors.CategoryTransfer, coreerrors.CodeVerifyFailed, "", false)
		}
		found = asset
		return nil
	})
	return found, err
}

func (m Manager) findAsset(ctx context.Context, releaseID, assetID int64, name string) (upstream.ReleaseAsset, bool, error) {
	for page := 1; page <= 100; page++ {
		assets, err := m.API.ListReleaseAssets(ctx, releaseID, page, github.DefaultPerPage)
		if err != nil {
			return upstream.ReleaseAsset{}, false, err
		}
		for _, asset := range assets {
			if assetID != 0 && asset.ID == assetID {
				return asset, true, nil
			}
			if assetID == 0 && strings.EqualFold(asset.Name, name) {
				return asset, true, nil
			}
		}
		if len(assets) < github.DefaultPerPage {
			break
		}
	}
	return upstream.ReleaseAsset{}, false, nil
}

// spoolWriter classifies local write failures so they are not mistaken for
// an interrupted download.
type spoolWriter struct {
	file *os.File
}

func (w spoolWriter) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	if err != nil {
		return n, spoolError(err)
	}
	return n, nil
}

func spoolError(err error) error {
	return coreerrors.Wrap(fmt.Errorf("spool file: %w", err), coreerrors.CategoryInternalFailure, "spool_io", "", false)
}

// readError classifies a failure while streaming a download body.
func readError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return coreerrors.Canceled(err)
	}
	if coreerrors.CategoryOf(err) != "" {
		return err
	}
	return coreerrors.Wrap(fmt.Errorf("read artifact body: %w", err), coreerrors.CategoryNetworkTransient, "body_interrupted", "", true)
}
