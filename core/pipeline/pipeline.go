// Package pipeline runs the retention stages in order: assess, collect,
// describe, publish, transfer, summarize. Every stage reads the same
// immutable run context; a stage-fatal error stops the run and is reported
// with the stage it came from.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/davidahmann/retain/core/capability"
	"github.com/davidahmann/retain/core/descriptor"
	coreerrors "github.com/davidahmann/retain/core/errors"
	"github.com/davidahmann/retain/core/github"
	"github.com/davidahmann/retain/core/inventory"
	"github.com/davidahmann/retain/core/manifest"
	"github.com/davidahmann/retain/core/publish"
	"github.com/davidahmann/retain/core/retry"
	"github.com/davidahmann/retain/core/runenv"
	"github.com/davidahmann/retain/core/schema/v1/upstream"
	"github.com/davidahmann/retain/core/sign"
	"github.com/davidahmann/retain/core/summary"
	"github.com/davidahmann/retain/core/transfer"
)

const (
	StageContext  = "context"
	StageAssess   = "assess"
	StageCollect  = "collect"
	StageDescribe = "describe"
	StagePublish  = "publish"
	StageTransfer = "transfer"
)

// Client is the upstream surface the pipeline needs. *github.Client
// implements it.
type Client interface {
	GetRepository(ctx context.Context) (upstream.Repository, error)
	inventory.ArtifactLister
	publish.ReleaseAPI
	transfer.API
}

type Options struct {
	Overrides     descriptor.Overrides
	RetentionDays int
	Concurrency   int
	Retry         retry.Policy
	// SpoolDir is where artifact bodies are staged between download and
	// upload; empty means the system temp dir.
	SpoolDir string
	// Manifest attaches retention-manifest.json after the transfers.
	Manifest bool
	// SigningKey signs the manifest when set.
	SigningKey      *sign.KeyPair
	ProducerVersion string
	Now             func() time.Time
	Logger          zerolog.Logger
}

type Pipeline struct {
	client  Client
	options Options
}

func New(client Client, options Options) *Pipeline {
	if options.Now == nil {
		options.Now = time.Now
	}
	return &Pipeline{client: client, options: options}
}

// Assess reads repository metadata and derives the capability level.
func (p *Pipeline) Assess(ctx context.Context) (capability.Assessment, capability.RepositoryContext, error) {
	var repository upstream.Repository
	_, err := p.options.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			p.options.Logger.Warn().Int("attempt", attempt).Msg("retrying repository metadata")
		}
		var err error
		repository, err = p.client.GetRepository(ctx)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return capability.Assessment{}, capability.RepositoryContext{}, coreerrors.Canceled(err)
		}
		if github.IsNotFound(err) {
			err = coreerrors.Reclassify(err, coreerrors.CategoryPermission, "repository_not_visible", "the token cannot see this repository")
		}
		return capability.Assessment{}, capability.RepositoryContext{}, err
	}
	repoContext := capability.FromRepository(repository)
	assessment := capability.Assess(repoContext)
	p.options.Logger.Info().
		Str("repository", repository.FullName).
		Str("level", string(assessment.Level)).
		Strs("reasons", assessment.Reasons).
		Msg("capability assessed")
	return assessment, repoContext, nil
}

// Run executes every stage for run. The summary is always populated; the
// error is the stage-fatal error, if any. A run whose release was published
// but whose transfers were cut short reports both.
func (p *Pipeline) Run(ctx context.Context, run runenv.Context) (summary.RunSummary, error) {
	log := p.options.Logger.With().Str("repository", run.Repository).Str("run_id", run.RunID).Logger()
	var input summary.Input
	finish := func(err error) (summary.RunSummary, error) {
		input.Err = err
		result := summary.Summarize(input)
		event := log.Info()
		if err != nil {
			event = log.Error().Err(err).Str("stage", coreerrors.StageOf(err))
		}
		event.Str("status", string(result.Status)).
			Int("attached", result.Attached).
			Int("failed", result.Failed).
			Int("skipped", result.Skipped).
			Msg("run finished")
		return result, err
	}

	if err := run.Validate(); err != nil {
		return finish(coreerrors.WithStage(err, StageContext, run.Repository))
	}

	assessment, _, err := p.Assess(ctx)
	if err != nil {
		return finish(coreerrors.WithStage(err, StageAssess, run.Repository))
	}
	input.Assessment = &assessment

	collector := inventory.Collector{Lister: p.client, Retry: p.options.Retry, Logger: log}
	inv, err := collector.Collect(ctx, run.RunID)
	if err != nil {
		return finish(coreerrors.WithStage(err, StageCollect, "run "+run.RunID))
	}
	input.Inventory = &inv
	log.Info().Int("count", inv.TotalCount).Int64("total_size_bytes", inv.TotalSizeBytes).Msg("artifacts collected")

	reserved := p.reserved()
	if _, err := transfer.PlanAssets(inv, reserved...); err != nil {
		return finish(coreerrors.WithStage(err, StageDescribe, "run "+run.RunID))
	}
	described := descriptor.Build(descriptor.Input{
		Run:           run,
		Assessment:    assessment,
		Inventory:     inv,
		Overrides:     p.options.Overrides,
		GeneratedAt:   p.options.Now(),
		RetentionDays: p.options.RetentionDays,
	})
	if err := descriptor.ValidateTag(described.Tag); err != nil {
		return finish(coreerrors.WithStage(err, StageDescribe, described.Tag))
	}
	log.Debug().Str("tag", described.Tag).Str("title", described.Title).Msg("release described")

	publisher := publish.Publisher{API: p.client, Retry: p.options.Retry, Logger: log, TargetCommitish: run.SHA}
	release, err := publisher.Publish(ctx, described)
	if err != nil {
		return finish(coreerrors.WithStage(err, StagePublish, described.Tag))
	}
	input.Release = &release

	manager := transfer.Manager{
		API:         p.client,
		Retry:       p.options.Retry,
		Concurrency: p.options.Concurrency,
		SpoolDir:    p.options.SpoolDir,
		Reserved:    reserved,
		Logger:      log,
	}
	outcomes, err := manager.Transfer(ctx, inv, release)
	input.Outcomes = outcomes
	if err != nil {
		return finish(coreerrors.WithStage(err, StageTransfer, fmt.Sprintf("release %d", release.ID)))
	}

	if p.options.Manifest {
		digest, err := p.attachManifest(ctx, run, release, assessment, outcomes)
		if err != nil {
			log.Warn().Err(err).Msg("retention manifest not attached")
			input.ManifestErr = err
		} else {
			input.ManifestDigest = digest
		}
	}
	return finish(nil)
}

func (p *Pipeline) reserved() []string {
	if !p.options.Manifest {
		return nil
	}
	return []string{manifest.AssetName}
}

// attachManifest uploads the retention manifest and returns its digest.
func (p *Pipeline) attachManifest(ctx context.Context, run runenv.Context, release publish.Release, assessment capability.Assessment, outcomes []transfer.Outcome) (string, error) {
	built, err := manifest.Build(manifest.Input{
		Run:             run,
		Release:         release,
		Assessment:      assessment,
		Outcomes:        outcomes,
		CreatedAt:       p.options.Now(),
		ProducerVersion: p.options.ProducerVersion,
	})
	if err != nil {
		return "", err
	}
	if p.options.SigningKey != nil {
		built, err = manifest.Sign(built, *p.options.SigningKey)
		if err != nil {
			return "", err
		}
	}
	raw, err := manifest.Encode(built)
	if err != nil {
		return "", err
	}
	_, err = p.options.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		_, err := p.client.UploadReleaseAsset(ctx, release.UploadURL, manifest.AssetName, manifest.ContentType, bytes.NewReader(raw), int64(len(raw)))
		if err != nil && attempt > 1 && github.HasErrorCode(err, github.CodeAlreadyExists) {
			return nil
		}
		return err
	})
	if err != nil {
		return "", err
	}
	p.options.Logger.Info().Str("asset", manifest.AssetName).Str("digest", built.ManifestDigest).Bool("signed", len(built.Signatures) > 0).Msg("retention manifest attached")
	return built.ManifestDigest, nil
}
