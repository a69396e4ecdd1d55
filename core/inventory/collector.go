// Package inventory lists the artifacts of a pipeline run.
package inventory

import (
	"context"

	"github.com/rs/zerolog"

	coreerrors "github.com/davidahmann/retain/core/errors"
	"github.com/davidahmann/retain/core/github"
	"github.com/davidahmann/retain/core/retry"
	"github.com/davidahmann/retain/core/runenv"
	"github.com/davidahmann/retain/core/schema/v1/upstream"
)

const maxPages = 1000

type ArtifactLister interface {
	ListRunArtifacts(ctx context.Context, runID int64, page, perPage int) (upstream.ArtifactList, error)
}

type Collector struct {
	Lister  ArtifactLister
	Retry   retry.Policy
	PerPage int
	Logger  zerolog.Logger
}

// Collect returns every artifact of runID across all listing pages.
func (c Collector) Collect(ctx context.Context, runID string) (Inventory, error) {
	id, err := runenv.ParseRunID(runID)
	if err != nil {
		return Inventory{}, err
	}
	perPage := c.PerPage
	if perPage <= 0 || perPage > github.DefaultPerPage {
		perPage = github.DefaultPerPage
	}

	var artifacts []Artifact
	seen := map[string]int64{}
	reported := -1
	for page := 1; ; page++ {
		if page > maxPages {
			return Inventory{}, coreerrors.Discovery("listing_unbounded", "artifact listing for run %d exceeded %d pages", id, maxPages)
		}
		list, err := c.fetchPage(ctx, id, page, perPage)
		if err != nil {
			return Inventory{}, err
		}
		if reported < 0 {
			reported = list.TotalCount
		}
		for _, raw := range list.Artifacts {
			artifact, err := FromUpstream(raw)
			if err != nil {
				return Inventory{}, err
			}
			if previous, ok := seen[artifact.Name]; ok {
				if previous == artifact.ID {
					continue
				}
				return Inventory{}, coreerrors.Discovery("duplicate_artifact_name", "run %d has two artifacts named %q", id, artifact.Name)
			}
			seen[artifact.Name] = artifact.ID
			artifacts = append(artifacts, artifact)
		}
		c.Logger.Debug().Int64("run_id", id).Int("page", page).Int("listed", len(list.Artifacts)).Int("total_count", reported).Msg("artifact page")
		if len(list.Artifacts) < perPage || len(artifacts) >= reported {
			break
		}
	}
	if len(artifacts) < reported {
		return Inventory{}, coreerrors.Discovery("incomplete_listing", "run %d reported %d artifacts but listing returned %d", id, reported, len(artifacts))
	}
	return NewInventory(artifacts), nil
}

func (c Collector) fetchPage(ctx context.Context, runID int64, page, perPage int) (upstream.ArtifactList, error) {
	var list upstream.ArtifactList
	_, err := c.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			c.Logger.Warn().Int64("run_id", runID).Int("page", page).Int("attempt", attempt).Msg("retrying artifact listing")
		}
		var err error
		list, err = c.Lister.ListRunArtifacts(ctx, runID, page, perPage)
		return err
	})
	if err == nil {
		return list, nil
	}
	if ctx.Err() != nil || coreerrors.IsCanceled(err) {
		return upstream.ArtifactList{}, coreerrors.Canceled(err)
	}
	switch coreerrors.CategoryOf(err) {
	case coreerrors.CategoryPermission, coreerrors.CategoryDiscovery:
		return upstream.ArtifactList{}, err
	}
	if github.IsNotFound(err) {
		return upstream.ArtifactList{}, coreerrors.Reclassify(err, coreerrors.CategoryDiscovery, "run_not_found", "check GITHUB_RUN_ID and that the token can read actions")
	}
	return upstream.ArtifactList{}, coreerrors.Reclassify(err, coreerrors.CategoryDiscovery, "listing_unavailable", "")
}
