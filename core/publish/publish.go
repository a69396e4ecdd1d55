// Package publish creates the tagged release that artifacts are attached to.
// Tags are append-once: an existing tag is always a conflict, never reused.
package publish

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/davidahmann/retain/core/descriptor"
	coreerrors "github.com/davidahmann/retain/core/errors"
	"github.com/davidahmann/retain/core/github"
	"github.com/davidahmann/retain/core/retry"
	"github.com/davidahmann/retain/core/schema/v1/upstream"
)

const (
	CodeTagExists     = "tag_exists"
	CodeTagNormalized = "tag_normalized"

	hintTagConflict = "choose a different release_tag; existing releases are never modified"
)

type ReleaseAPI interface {
	GetReleaseByTag(ctx context.Context, tag string) (upstream.Release, error)
	GetTagRef(ctx context.Context, tag string) (upstream.GitRef, error)
	CreateRelease(ctx context.Context, request upstream.CreateReleaseRequest) (upstream.Release, error)
	ListReleaseAssets(ctx context.Context, releaseID int64, page, perPage int) ([]upstream.ReleaseAsset, error)
}

type Release struct {
	ID        int64  `json:"id"`
	URL       string `json:"url"`
	UploadURL string `json:"-"`
	Tag       string `json:"tag"`
	Name      string `json:"name"`
	Immutable bool   `json:"immutable,omitempty"`
}

type Publisher struct {
	API    ReleaseAPI
	Retry  retry.Policy
	Logger zerolog.Logger
	// TargetCommitish pins the tag to the run's commit when set.
	TargetCommitish string
}

// Publish creates the release for d and returns once its asset list is
// queryable, so attachments can start.
func (p Publisher) Publish(ctx context.Context, d descriptor.Descriptor) (Release, error) {
	if err := p.ensureTagFree(ctx, d.Tag); err != nil {
		return Release{}, err
	}
	created, err := p.create(ctx, d)
	if err != nil {
		return Release{}, err
	}
	if created.TagName != d.Tag {
		return Release{}, coreerrors.Wrap(
			fmt.Errorf("release %d was tagged %q, requested %q", created.ID, created.TagName, d.Tag),
			coreerrors.CategoryTagConflict, CodeTagNormalized, hintTagConflict, false)
	}
	if err := p.awaitAssetList(ctx, created.ID); err != nil {
		return Release{}, err
	}
	p.Logger.Info().Int64("release_id", created.ID).Str("tag", created.TagName).Str("url", created.HTMLURL).Msg("release published")
	return Release{
		ID:        created.ID,
		URL:       created.HTMLURL,
		UploadURL: created.UploadURL,
		Tag:       created.TagName,
		Name:      created.Name,
		Immutable: created.Immutable,
	}, nil
}

// ensureTagFree fails when tag names a release or a bare git tag. Creating a
// release on an existing tag would bind it to that tag's commit instead of
// the run's.
func (p Publisher) ensureTagFree(ctx context.Context, tag string) error {
	var existing upstream.Release
	_, err := p.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		p.logRetry(attempt, "release lookup")
		var err error
		existing, err = p.API.GetReleaseByTag(ctx, tag)
		return err
	})
	switch {
	case err == nil:
		return coreerrors.Wrap(fmt.Errorf("release tag %q already exists (release %d)", tag, existing.ID),
			coreerrors.CategoryTagConflict, CodeTagExists, hintTagConflict, false)
	case !github.IsNotFound(err):
		return lookupError(ctx, err)
	}

	var ref upstream.GitRef
	_, err = p.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		p.logRetry(attempt, "tag ref lookup")
		var err error
		ref, err = p.API.GetTagRef(ctx, tag)
		return err
	})
	switch {
	case err == nil:
		return coreerrors.Wrap(fmt.Errorf("git tag %q already exists at %s %s", tag, ref.Object.Type, ref.Object.SHA),
			coreerrors.CategoryTagConflict, CodeTagExists, hintTagConflict, false)
	case github.IsNotFound(err):
		return nil
	default:
		return lookupError(ctx, err)
	}
}

func lookupError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return coreerrors.Canceled(err)
	}
	return err
}

func (p Publisher) create(ctx context.Context, d descriptor.Descriptor) (upstream.Release, error) {
	request := upstream.CreateReleaseRequest{
		TagName:         d.Tag,
		TargetCommitish: p.TargetCommitish,
		Name:            d.Title,
		Body:            d.Body,
		Prerelease:      d.Prerelease,
		MakeLatest:      "false",
	}
	var created upstream.Release
	_, err := p.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		p.logRetry(attempt, "release create")
		var err error
		created, err = p.API.CreateRelease(ctx, request)
		if err != nil && attempt > 1 && github.HasErrorCode(err, github.CodeAlreadyExists) {
			// The tag was free before the first attempt, so a conflict on a
			// retry means that attempt landed without a response.
			landed, lookupErr := p.API.GetReleaseByTag(ctx, d.Tag)
			if lookupErr == nil {
				p.Logger.Warn().Str("tag", d.Tag).Int64("release_id", landed.ID).Msg("adopting release created by an earlier attempt")
				created = landed
				return nil
			}
		}
		return err
	})
	if err == nil {
		return created, nil
	}
	if ctx.Err() != nil {
		return upstream.Release{}, coreerrors.Canceled(err)
	}
	if github.HasErrorCode(err, github.CodeAlreadyExists) {
		return upstream.Release{}, coreerrors.Reclassify(err, coreerrors.CategoryTagConflict, CodeTagExists, hintTagConflict)
	}
	return upstream.Release{}, err
}

func (p Publisher) awaitAssetList(ctx context.Context, releaseID int64) error {
	_, err := p.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		p.logRetry(attempt, "release asset list")
		_, err := p.API.ListReleaseAssets(ctx, releaseID, 1, 1)
		if github.IsNotFound(err) {
			return coreerrors.Wrap(err, coreerrors.CategoryNetworkTransient, "release_not_visible", "", true)
		}
		return err
	})
	if err != nil && ctx.Err() != nil {
		return coreerrors.Canceled(err)
	}
	return err
}

func (p Publisher) logRetry(attempt int, call string) {
	if attempt > 1 {
		p.Logger.Warn().Str("call", call).Int("attempt", attempt).Msg("retrying")
	}
}
